package analysis

import (
	"context"
	"fmt"
	"math"

	"github.com/dygy/piano-grep/internal/audio"
	apperrors "github.com/dygy/piano-grep/internal/errors"
	"github.com/dygy/piano-grep/internal/midi"
)

// NativeConfig configures the pure Go analyzer
type NativeConfig struct {
	FrameLength int
	HopLength   int
	NumMFCC     int
	NumMels     int
	// OnsetThreshold is the minimum onset strength relative to the strongest onset
	OnsetThreshold float64
}

// DefaultNativeConfig returns the standard analysis settings
func DefaultNativeConfig() NativeConfig {
	return NativeConfig{
		FrameLength:    2048,
		HopLength:      512,
		NumMFCC:        13,
		NumMels:        40,
		OnsetThreshold: 0.3,
	}
}

// NativeAnalyzer extracts features, notes and tempo in process
type NativeAnalyzer struct {
	cfg NativeConfig
}

// NewNativeAnalyzer creates an analyzer. Zero fields take defaults.
func NewNativeAnalyzer(cfg NativeConfig) *NativeAnalyzer {
	def := DefaultNativeConfig()
	if cfg.FrameLength <= 0 {
		cfg.FrameLength = def.FrameLength
	}
	if cfg.HopLength <= 0 {
		cfg.HopLength = def.HopLength
	}
	if cfg.NumMFCC <= 0 {
		cfg.NumMFCC = def.NumMFCC
	}
	if cfg.NumMels <= 0 {
		cfg.NumMels = def.NumMels
	}
	if cfg.NumMFCC > cfg.NumMels {
		cfg.NumMFCC = cfg.NumMels
	}
	if cfg.OnsetThreshold <= 0 {
		cfg.OnsetThreshold = def.OnsetThreshold
	}
	return &NativeAnalyzer{cfg: cfg}
}

// Analyze computes MFCCs as the feature matrix and normalized RMS as the
// energy profile
func (a *NativeAnalyzer) Analyze(ctx context.Context, track *audio.Track) (*FeatureSet, error) {
	if err := checkTrack(track); err != nil {
		return nil, err
	}
	if track.Peak() == 0 {
		return nil, apperrors.NewStageError("analyze", fmt.Errorf("%w: silent audio", apperrors.ErrAnalysis))
	}

	sg, err := a.spectrogram(ctx, track)
	if err != nil {
		return nil, err
	}

	return &FeatureSet{
		Matrix: mfcc(sg, a.cfg.NumMels, a.cfg.NumMFCC),
		Energy: NormalizeEnergy(rmsFrames(track.Samples, a.cfg.FrameLength, a.cfg.HopLength)),
		Clock:  FrameClock{SampleRate: track.SampleRate, HopLength: a.cfg.HopLength},
	}, nil
}

// ExtractNotes detects onsets by spectral flux and assigns each the
// strongest pitch inside r. A note lasts until the next onset or the end
// of the track. Confidence is its peak magnitude relative to the loudest note.
func (a *NativeAnalyzer) ExtractNotes(ctx context.Context, track *audio.Track, r FreqRange) ([]midi.Note, error) {
	if err := checkTrack(track); err != nil {
		return nil, err
	}
	if r.Max <= r.Min {
		r = DefaultFreqRange()
	}

	sg, err := a.spectrogram(ctx, track)
	if err != nil {
		return nil, err
	}

	clock := FrameClock{SampleRate: track.SampleRate, HopLength: a.cfg.HopLength}
	onsets := pickPeaks(spectralFlux(sg), 3, a.cfg.OnsetThreshold)

	type candidate struct {
		pitch int
		start float64
		mag   float64
	}
	var found []candidate
	for _, f := range onsets {
		// let the attack settle before reading the pitch
		probe := min(f+2, len(sg.mags)-1)
		hz, mag := strongestPitch(sg, sg.mags[probe], r)
		if hz <= 0 || mag < 1e-6 {
			continue
		}
		pitch := int(math.Round(HzToMIDI(hz)))
		if pitch < 0 || pitch > 127 {
			continue
		}
		found = append(found, candidate{pitch: pitch, start: clock.Time(f), mag: mag})
	}

	var loudest float64
	for _, c := range found {
		loudest = math.Max(loudest, c.mag)
	}

	notes := make([]midi.Note, 0, len(found))
	end := track.Duration()
	for i, c := range found {
		next := end
		if i+1 < len(found) {
			next = found[i+1].start
		}
		if next <= c.start {
			continue
		}
		conf := c.mag / loudest
		notes = append(notes, midi.Note{
			Pitch:      c.pitch,
			Start:      c.start,
			Duration:   next - c.start,
			Velocity:   40 + int(math.Round(60*conf)),
			Confidence: conf,
		})
	}
	return notes, nil
}

// EstimateTempo autocorrelates the spectral flux envelope
func (a *NativeAnalyzer) EstimateTempo(ctx context.Context, track *audio.Track) (float64, error) {
	if err := checkTrack(track); err != nil {
		return 0, err
	}
	sg, err := a.spectrogram(ctx, track)
	if err != nil {
		return 0, err
	}
	return estimateBPM(spectralFlux(sg), track.SampleRate, a.cfg.HopLength), nil
}

func (a *NativeAnalyzer) spectrogram(ctx context.Context, track *audio.Track) (*spectrogram, error) {
	sg, err := stft(ctx, track.Samples, track.SampleRate, a.cfg.FrameLength, a.cfg.HopLength)
	if err != nil {
		return nil, fmt.Errorf("stft: %w", err)
	}
	return sg, nil
}

func checkTrack(track *audio.Track) error {
	if track == nil || track.Len() == 0 {
		return apperrors.NewStageError("analyze", fmt.Errorf("%w: empty audio", apperrors.ErrAnalysis))
	}
	if track.SampleRate <= 0 {
		return apperrors.NewStageError("analyze", fmt.Errorf("%w: invalid sample rate %d", apperrors.ErrAnalysis, track.SampleRate))
	}
	return nil
}
