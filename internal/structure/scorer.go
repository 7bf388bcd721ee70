package structure

import (
	"fmt"
	"math"
	"slices"

	"github.com/dygy/piano-grep/internal/analysis"
	apperrors "github.com/dygy/piano-grep/internal/errors"
)

// ScoredSegment is a segment with its chorus likelihood
type ScoredSegment struct {
	Segment
	Confidence    float64 `json:"confidence"`
	Duration      float64 `json:"duration"`
	AvgEnergy     float64 `json:"avg_energy"`
	DurationScore float64 `json:"duration_score"`
}

// Scorer rates segments by average energy and closeness to a target length
type Scorer struct {
	EnergyWeight   float64
	DurationWeight float64
	// TargetDuration is where the duration score peaks, in seconds.
	// The score falls linearly to zero TargetDuration away from it.
	TargetDuration float64
}

// NewScorer returns a scorer with the standard weights (0.7 energy, 0.3 duration, 30s target)
func NewScorer() *Scorer {
	return &Scorer{
		EnergyWeight:   0.7,
		DurationWeight: 0.3,
		TargetDuration: 30,
	}
}

// DurationScore is 1 at TargetDuration and 0 at or beyond twice that
// distance on either side
func (s *Scorer) DurationScore(d float64) float64 {
	if s.TargetDuration <= 0 {
		return 0
	}
	return 1 - math.Min(math.Abs(d-s.TargetDuration)/s.TargetDuration, 1)
}

// Score rates every segment against the energy profile and returns them by
// descending confidence; equal confidences keep segment order. Segments
// whose frame range is empty after clamping are skipped.
func (s *Scorer) Score(segments []Segment, energy []float64, clock analysis.FrameClock) []ScoredSegment {
	scored := make([]ScoredSegment, 0, len(segments))
	for _, seg := range segments {
		startFrame := max(clock.Frame(seg.Start), 0)
		endFrame := min(clock.Frame(seg.End), len(energy))
		if startFrame >= endFrame {
			continue
		}

		var sum float64
		for _, e := range energy[startFrame:endFrame] {
			sum += e
		}
		avg := sum / float64(endFrame-startFrame)

		d := seg.Duration()
		ds := s.DurationScore(d)
		scored = append(scored, ScoredSegment{
			Segment:       seg,
			Confidence:    s.EnergyWeight*avg + s.DurationWeight*ds,
			Duration:      d,
			AvgEnergy:     avg,
			DurationScore: ds,
		})
	}

	slices.SortStableFunc(scored, func(a, b ScoredSegment) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		}
		return 0
	})
	return scored
}

// SelectBest picks the most confident segment whose duration lies in
// [minDur, maxDur]. Without such a segment the most confident one overall
// is taken and, when longer than maxDur, recentered on its midpoint at
// exactly maxDur. Ties go to the earlier segment.
func SelectBest(scored []ScoredSegment, minDur, maxDur float64) (ScoredSegment, error) {
	if len(scored) == 0 {
		return ScoredSegment{}, apperrors.NewStageError("score", fmt.Errorf("%w: no scorable segments", apperrors.ErrChorusNotFound))
	}

	best := -1
	for i, s := range scored {
		if s.Duration < minDur || s.Duration > maxDur {
			continue
		}
		if best < 0 || s.Confidence > scored[best].Confidence {
			best = i
		}
	}
	if best >= 0 {
		return scored[best], nil
	}

	best = 0
	for i, s := range scored {
		if s.Confidence > scored[best].Confidence {
			best = i
		}
	}
	chosen := scored[best]
	if chosen.Duration > maxDur {
		mid := (chosen.Start + chosen.End) / 2
		chosen.Start = mid - maxDur/2
		chosen.End = mid + maxDur/2
		chosen.Duration = maxDur
	}
	return chosen, nil
}
