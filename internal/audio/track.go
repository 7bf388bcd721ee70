package audio

import "math"

// Track is a mono sample buffer in [-1, 1]. Tracks are never mutated after
// loading; Slice returns views that share the underlying buffer.
type Track struct {
	Samples    []float64
	SampleRate int
}

// NewTrack wraps samples recorded at sampleRate
func NewTrack(samples []float64, sampleRate int) *Track {
	return &Track{Samples: samples, SampleRate: sampleRate}
}

// Duration returns the track length in seconds
func (t *Track) Duration() float64 {
	if t == nil || t.SampleRate <= 0 {
		return 0
	}
	return float64(len(t.Samples)) / float64(t.SampleRate)
}

// Len returns the number of samples
func (t *Track) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Samples)
}

// Slice returns the [start, end) window in seconds as a read-only view.
// Bounds are clamped to the track; an inverted window yields an empty track.
func (t *Track) Slice(start, end float64) *Track {
	lo := t.sampleAt(start)
	hi := t.sampleAt(end)
	if hi < lo {
		hi = lo
	}
	return &Track{
		Samples:    t.Samples[lo:hi:hi],
		SampleRate: t.SampleRate,
	}
}

func (t *Track) sampleAt(sec float64) int {
	i := int(math.Round(sec * float64(t.SampleRate)))
	return min(max(i, 0), len(t.Samples))
}

// Peak returns the largest absolute sample value
func (t *Track) Peak() float64 {
	var peak float64
	for _, s := range t.Samples {
		peak = math.Max(peak, math.Abs(s))
	}
	return peak
}
