package structure

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dygy/piano-grep/internal/analysis"
	"github.com/dygy/piano-grep/internal/audio"
	apperrors "github.com/dygy/piano-grep/internal/errors"
	"github.com/dygy/piano-grep/internal/midi"
)

var clock = analysis.FrameClock{SampleRate: 100, HopLength: 100} // one frame per second

// blocks builds a matrix of constant rows, one block per value
func blocks(lengths []int, values []float64) [][]float64 {
	var m [][]float64
	for i, n := range lengths {
		for j := 0; j < n; j++ {
			m = append(m, []float64{values[i], -values[i]})
		}
	}
	return m
}

func TestSegmentContiguousCover(t *testing.T) {
	for _, frames := range []int{2, 3, 5, 9, 40, 333} {
		t.Run(fmt.Sprintf("%d frames", frames), func(t *testing.T) {
			m := make([][]float64, frames)
			for i := range m {
				m[i] = []float64{float64((i * 7919) % 13), float64(i % 5)}
			}
			fs := &analysis.FeatureSet{Matrix: m, Energy: make([]float64, frames), Clock: clock}

			segs, err := NewSegmenter(8).Segment(fs)

			require.NoError(t, err)
			require.NotEmpty(t, segs)
			assert.LessOrEqual(t, len(segs), min(8, frames-1))
			assert.Equal(t, clock.Time(0), segs[0].Start)
			assert.Equal(t, clock.Time(frames-1), segs[len(segs)-1].End)
			for i, s := range segs {
				assert.Greater(t, s.End, s.Start)
				if i > 0 {
					assert.Equal(t, segs[i-1].End, s.Start)
				}
			}
		})
	}
}

func TestSegmentNoFrames(t *testing.T) {
	_, err := NewSegmenter(8).Segment(&analysis.FeatureSet{Clock: clock})

	assert.True(t, errors.Is(err, apperrors.ErrSegmentation))
	var se *apperrors.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "segment", se.Stage)
}

func TestSegmentSingleFrame(t *testing.T) {
	fs := &analysis.FeatureSet{Matrix: [][]float64{{1}}, Energy: []float64{1}, Clock: clock}

	segs, err := NewSegmenter(8).Segment(fs)

	require.NoError(t, err)
	assert.Empty(t, segs)
}

func TestBoundariesFindBlocks(t *testing.T) {
	m := blocks([]int{10, 6, 14, 5}, []float64{0, 5, 1, 9})

	got := NewSegmenter(4).Boundaries(m)

	assert.Equal(t, []int{0, 10, 16, 30, 34}, got)
}

func TestBoundariesClampK(t *testing.T) {
	m := blocks([]int{1, 1, 1}, []float64{0, 3, 9})

	got := NewSegmenter(8).Boundaries(m)

	// k clamps to 2 clusters; the last boundary is frame 2
	assert.Equal(t, 0, got[0])
	assert.Equal(t, 2, got[len(got)-1])
	assert.LessOrEqual(t, len(got)-1, 2)
}

func TestDurationScore(t *testing.T) {
	s := NewScorer()

	tests := []struct {
		d    float64
		want float64
	}{
		{30, 1},
		{15, 0.5},
		{45, 0.5},
		{0, 0},
		{60, 0},
		{90, 0},
		{-5, 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, s.DurationScore(tt.d), 1e-12, "duration %v", tt.d)
	}
}

func TestScore(t *testing.T) {
	energy := make([]float64, 100)
	for i := 40; i < 70; i++ {
		energy[i] = 1
	}
	segs := []Segment{{0, 40}, {40, 70}, {70, 99}, {99, 99.5}}

	scored := NewScorer().Score(segs, energy, clock)

	// the last segment has an empty frame range after flooring
	require.Len(t, scored, 3)
	assert.Equal(t, Segment{40, 70}, scored[0].Segment)
	assert.InDelta(t, 1.0, scored[0].AvgEnergy, 1e-12)
	assert.InDelta(t, 1.0, scored[0].Confidence, 1e-12)
	for i := range scored {
		assert.GreaterOrEqual(t, scored[i].Confidence, 0.0)
		assert.LessOrEqual(t, scored[i].Confidence, 1.0)
		if i > 0 {
			assert.GreaterOrEqual(t, scored[i-1].Confidence, scored[i].Confidence)
		}
	}
}

func TestScoreClampsToProfile(t *testing.T) {
	energy := []float64{0.5, 0.5, 0.5}

	scored := NewScorer().Score([]Segment{{-3, 30}}, energy, clock)

	require.Len(t, scored, 1)
	assert.InDelta(t, 0.5, scored[0].AvgEnergy, 1e-12)
	assert.InDelta(t, 33.0, scored[0].Duration, 1e-12)
}

func scoredSeg(start, end, conf float64) ScoredSegment {
	return ScoredSegment{Segment: Segment{start, end}, Duration: end - start, Confidence: conf}
}

func TestSelectBest(t *testing.T) {
	tests := []struct {
		name   string
		scored []ScoredSegment
		want   ScoredSegment
	}{
		{
			name:   "highest confidence within bounds",
			scored: []ScoredSegment{scoredSeg(45, 60, 0.9), scoredSeg(10, 40, 0.95)},
			want:   scoredSeg(10, 40, 0.95),
		},
		{
			name:   "max bound is inclusive",
			scored: []ScoredSegment{scoredSeg(0, 45, 0.6), scoredSeg(50, 55, 0.99)},
			want:   scoredSeg(0, 45, 0.6),
		},
		{
			name:   "tie keeps first",
			scored: []ScoredSegment{scoredSeg(0, 20, 0.5), scoredSeg(20, 40, 0.5)},
			want:   scoredSeg(0, 20, 0.5),
		},
		{
			name:   "none in bounds, short best kept",
			scored: []ScoredSegment{scoredSeg(0, 5, 0.4), scoredSeg(5, 8, 0.7)},
			want:   scoredSeg(5, 8, 0.7),
		},
		{
			name:   "none in bounds, long best recentered",
			scored: []ScoredSegment{scoredSeg(10, 110, 0.8), scoredSeg(110, 112, 0.3)},
			want:   scoredSeg(37.5, 82.5, 0.8),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectBest(tt.scored, 10, 45)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			again, err := SelectBest(tt.scored, 10, 45)
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestSelectBestEmpty(t *testing.T) {
	_, err := SelectBest(nil, 10, 45)

	assert.True(t, errors.Is(err, apperrors.ErrChorusNotFound))
}

// fakeAnalyzer returns canned features
type fakeAnalyzer struct {
	fs  *analysis.FeatureSet
	err error
}

func (f *fakeAnalyzer) Analyze(context.Context, *audio.Track) (*analysis.FeatureSet, error) {
	return f.fs, f.err
}

func (f *fakeAnalyzer) ExtractNotes(context.Context, *audio.Track, analysis.FreqRange) ([]midi.Note, error) {
	return nil, nil
}

func (f *fakeAnalyzer) EstimateTempo(context.Context, *audio.Track) (float64, error) {
	return analysis.DefaultTempo, nil
}

func silentTrack(seconds int) *audio.Track {
	return audio.NewTrack(make([]float64, seconds*100), 100)
}

func TestDetectFindsLoudSection(t *testing.T) {
	// quiet verse, loud 25s chorus, quiet outro
	m := blocks([]int{60, 25, 36}, []float64{0, 4, 1})
	energy := make([]float64, len(m))
	for i := 60; i < 85; i++ {
		energy[i] = 1
	}
	fake := &fakeAnalyzer{fs: &analysis.FeatureSet{Matrix: m, Energy: energy, Clock: clock}}
	d := NewDetector(fake, NewSegmenter(3), nil, DefaultDetectorConfig())

	w, err := d.Detect(context.Background(), silentTrack(121))

	require.NoError(t, err)
	assert.False(t, w.Fallback)
	assert.Equal(t, 60.0, w.Start)
	assert.Equal(t, 85.0, w.End)
	assert.Greater(t, w.Confidence, 0.9)
}

func TestDetectFallsBack(t *testing.T) {
	tests := []struct {
		name string
		fs   *analysis.FeatureSet
	}{
		{"no frames", &analysis.FeatureSet{Clock: clock}},
		{"single frame", &analysis.FeatureSet{Matrix: [][]float64{{1}}, Energy: []float64{1}, Clock: clock}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(&fakeAnalyzer{fs: tt.fs}, nil, nil, DefaultDetectorConfig())

			w, err := d.Detect(context.Background(), silentTrack(100))

			require.NoError(t, err)
			assert.Equal(t, Window{Start: 40, End: 60, Fallback: true}, w)
		})
	}
}

func TestDetectPropagatesAnalysisError(t *testing.T) {
	fake := &fakeAnalyzer{err: apperrors.NewStageError("analyze", apperrors.ErrAnalysis)}
	d := NewDetector(fake, nil, nil, DefaultDetectorConfig())

	_, err := d.Detect(context.Background(), silentTrack(10))

	assert.True(t, errors.Is(err, apperrors.ErrAnalysis))
}

func TestDetectClampsToTrack(t *testing.T) {
	// one 100s high-energy segment is recentered to 45s, features longer than audio
	m := blocks([]int{101}, []float64{1})
	energy := make([]float64, len(m))
	for i := range energy {
		energy[i] = 1
	}
	fake := &fakeAnalyzer{fs: &analysis.FeatureSet{Matrix: m, Energy: energy, Clock: clock}}
	d := NewDetector(fake, NewSegmenter(1), nil, DefaultDetectorConfig())

	w, err := d.Detect(context.Background(), silentTrack(60))

	require.NoError(t, err)
	assert.Equal(t, 27.5, w.Start)
	assert.Equal(t, 60.0, w.End)
}
