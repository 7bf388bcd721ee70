package analysis

import (
	"context"
	"math"

	"github.com/dygy/piano-grep/internal/audio"
	"github.com/dygy/piano-grep/internal/midi"
)

// DefaultTempo is used when tempo estimation has too little material
const DefaultTempo = 120.0

// Analyzer turns audio into the features and raw notes the structure and
// arrangement stages work on
type Analyzer interface {
	// Analyze returns a non-empty feature matrix with an energy profile
	// normalized to [0, 1]. Failures wrap ErrAnalysis.
	Analyze(ctx context.Context, track *audio.Track) (*FeatureSet, error)
	// ExtractNotes returns raw notes without hand assignment. Silent audio
	// yields an empty slice, not an error.
	ExtractNotes(ctx context.Context, track *audio.Track, r FreqRange) ([]midi.Note, error)
	// EstimateTempo returns the tempo in BPM
	EstimateTempo(ctx context.Context, track *audio.Track) (float64, error)
}

// Checker is implemented by analyzers with external requirements that can
// be verified before any audio is processed
type Checker interface {
	Check(ctx context.Context) error
}

// FreqRange bounds note detection, in Hz
type FreqRange struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// DefaultFreqRange covers bass to upper melody
func DefaultFreqRange() FreqRange {
	return FreqRange{Min: 50, Max: 1000}
}

// Contains reports whether hz falls inside the range
func (r FreqRange) Contains(hz float64) bool {
	return hz >= r.Min && hz <= r.Max
}

// ContainsPitch reports whether a MIDI pitch's fundamental falls inside the range
func (r FreqRange) ContainsPitch(pitch int) bool {
	return r.Contains(MIDIToHz(float64(pitch)))
}

// FrameClock maps analysis frames to seconds
type FrameClock struct {
	SampleRate int `json:"sample_rate"`
	HopLength  int `json:"hop_length"`
}

// Time returns the time in seconds of frame i
func (c FrameClock) Time(i int) float64 {
	return float64(i*c.HopLength) / float64(c.SampleRate)
}

// Frame returns the frame containing time t
func (c FrameClock) Frame(t float64) int {
	return int(math.Floor(t*float64(c.SampleRate)/float64(c.HopLength) + 1e-9))
}

// FeatureSet holds per-frame features of one analysis call
type FeatureSet struct {
	// Matrix is frame x coefficient
	Matrix [][]float64
	// Energy is one value per frame in [0, 1]
	Energy []float64
	Clock  FrameClock
	// Tempo is filled by backends that estimate it alongside features
	Tempo float64
}

// Frames returns the number of frames
func (f *FeatureSet) Frames() int {
	if f == nil {
		return 0
	}
	return len(f.Matrix)
}

// Duration returns the time of the last frame
func (f *FeatureSet) Duration() float64 {
	if f.Frames() == 0 {
		return 0
	}
	return f.Clock.Time(f.Frames() - 1)
}

// NormalizeEnergy min-max scales values into [0, 1]. A flat profile maps to zeros.
func NormalizeEnergy(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	span := hi - lo + 1e-10
	for i, v := range values {
		out[i] = math.Min(math.Max((v-lo)/span, 0), 1)
	}
	return out
}

// HzToMIDI converts a frequency to a fractional MIDI pitch
func HzToMIDI(hz float64) float64 {
	return 69 + 12*math.Log2(hz/440)
}

// MIDIToHz converts a MIDI pitch to its fundamental frequency
func MIDIToHz(pitch float64) float64 {
	return 440 * math.Exp2((pitch-69)/12)
}
