package structure

import (
	"context"
	"errors"
	"math"

	"github.com/dygy/piano-grep/internal/analysis"
	"github.com/dygy/piano-grep/internal/audio"
	apperrors "github.com/dygy/piano-grep/internal/errors"
)

// Window is the selected chorus section of a track
type Window struct {
	Start      float64 `json:"start_time"`
	End        float64 `json:"end_time"`
	Confidence float64 `json:"confidence"`
	// Fallback is set when the fixed middle window was used
	Fallback bool `json:"fallback"`
}

// Duration returns the window length in seconds
func (w Window) Duration() float64 {
	return w.End - w.Start
}

// DetectorConfig bounds the accepted chorus length and the fallback window
type DetectorConfig struct {
	MinDuration   float64
	MaxDuration   float64
	FallbackStart float64 // fraction of track length
	FallbackEnd   float64
}

// DefaultDetectorConfig accepts 10-45 second choruses and falls back to 40%-60%
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		MinDuration:   10,
		MaxDuration:   45,
		FallbackStart: 0.4,
		FallbackEnd:   0.6,
	}
}

// Detector finds the chorus: analyze, segment, score and select, falling
// back to a fixed window when no segment can be chosen
type Detector struct {
	analyzer  analysis.Analyzer
	segmenter *Segmenter
	scorer    *Scorer
	cfg       DetectorConfig
}

// NewDetector wires a detector
func NewDetector(a analysis.Analyzer, seg *Segmenter, sc *Scorer, cfg DetectorConfig) *Detector {
	if seg == nil {
		seg = NewSegmenter(DefaultSegments)
	}
	if sc == nil {
		sc = NewScorer()
	}
	return &Detector{analyzer: a, segmenter: seg, scorer: sc, cfg: cfg}
}

// Detect returns the chorus window of track, clamped to the track. Analysis
// failures are returned; segmentation and selection failures use the
// fallback window instead.
func (d *Detector) Detect(ctx context.Context, track *audio.Track) (Window, error) {
	w, err := d.detect(ctx, track)
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrSegmentation), errors.Is(err, apperrors.ErrChorusNotFound):
		w = FallbackWindow(track.Duration(), d.cfg.FallbackStart, d.cfg.FallbackEnd)
	default:
		return Window{}, err
	}
	return clampWindow(w, track.Duration()), nil
}

func (d *Detector) detect(ctx context.Context, track *audio.Track) (Window, error) {
	fs, err := d.analyzer.Analyze(ctx, track)
	if err != nil {
		return Window{}, err
	}

	segments, err := d.segmenter.Segment(fs)
	if err != nil {
		return Window{}, err
	}

	scored := d.scorer.Score(segments, fs.Energy, fs.Clock)
	best, err := SelectBest(scored, d.cfg.MinDuration, d.cfg.MaxDuration)
	if err != nil {
		return Window{}, err
	}

	return Window{Start: best.Start, End: best.End, Confidence: best.Confidence}, nil
}

// FallbackWindow returns the [startFrac, endFrac] share of a track of the
// given duration with zero confidence
func FallbackWindow(duration, startFrac, endFrac float64) Window {
	if endFrac <= startFrac {
		startFrac, endFrac = 0.4, 0.6
	}
	return Window{
		Start:    duration * startFrac,
		End:      duration * endFrac,
		Fallback: true,
	}
}

func clampWindow(w Window, duration float64) Window {
	w.Start = math.Max(0, math.Min(w.Start, duration))
	w.End = math.Max(w.Start, math.Min(w.End, duration))
	return w
}
