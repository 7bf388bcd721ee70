package arrange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dygy/piano-grep/internal/midi"
)

func n(pitch int, start, dur float64) midi.Note {
	return midi.Note{Pitch: pitch, Start: start, Duration: dur}
}

func pitches(notes []midi.Note) []int {
	out := make([]int, len(notes))
	for i, note := range notes {
		out[i] = note.Pitch
	}
	return out
}

func triad() []midi.Note {
	return []midi.Note{n(60, 0, 1), n(64, 0, 1), n(67, 0, 1)}
}

func TestReduceAdvancedUnderCap(t *testing.T) {
	r := NewReducer(Config{MaxPolyRight: 3})

	arr := r.Reduce(triad(), Advanced)

	assert.Equal(t, []int{60, 64, 67}, pitches(arr.Right))
	assert.Empty(t, arr.Left)
	for _, note := range arr.Right {
		assert.Equal(t, midi.HandRight, note.Hand)
	}
}

func TestReduceAdvancedCapKeepsHighest(t *testing.T) {
	r := NewReducer(Config{MaxPolyRight: 2})

	arr := r.Reduce(triad(), Advanced)

	assert.Equal(t, []int{64, 67}, pitches(arr.Right))
}

func TestReduceLeftCapKeepsLowest(t *testing.T) {
	r := NewReducer(Config{MaxPolyLeft: 2})
	notes := []midi.Note{n(48, 0, 1), n(40, 0, 1), n(43, 0, 1), n(36, 0, 1)}

	arr := r.Reduce(notes, Advanced)

	// survivors keep input order
	assert.Equal(t, []int{40, 36}, pitches(arr.Left))
	for _, note := range arr.Left {
		assert.Equal(t, midi.HandLeft, note.Hand)
	}
}

func TestReduceEmpty(t *testing.T) {
	r := NewReducer(DefaultConfig())

	for _, d := range Difficulties {
		t.Run(string(d), func(t *testing.T) {
			arr := r.Reduce(nil, d)
			assert.NotNil(t, arr.Right)
			assert.NotNil(t, arr.Left)
			assert.True(t, arr.Empty())
		})
	}
}

func TestSplitHands(t *testing.T) {
	r := NewReducer(DefaultConfig())
	notes := []midi.Note{n(59, 1, 1), n(60, 0.5, 1), n(72, 0, 1), n(30, 0, 1), n(61, 0, 0)}

	right, left := r.SplitHands(notes)

	assert.Equal(t, []int{72, 60}, pitches(right))
	assert.Equal(t, []int{30, 59}, pitches(left))
}

func TestMelody(t *testing.T) {
	r := NewReducer(DefaultConfig())

	tests := []struct {
		name  string
		notes []midi.Note
		want  []int
	}{
		{
			name:  "highest wins within bucket",
			notes: []midi.Note{n(64, 1.0, 0.5), n(72, 1.002, 0.5), n(67, 0.998, 0.5)},
			want:  []int{72},
		},
		{
			name:  "later higher note replaces",
			notes: []midi.Note{n(60, 0, 0.5), n(62, 0, 0.5)},
			want:  []int{62},
		},
		{
			name:  "separate buckets kept",
			notes: []midi.Note{n(60, 0, 0.5), n(62, 0.5, 0.5), n(64, 1, 0.5)},
			want:  []int{60, 62, 64},
		},
		{
			name:  "unsorted input",
			notes: []midi.Note{n(64, 1, 0.5), n(60, 0, 0.5)},
			want:  []int{60, 64},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pitches(r.Melody(tt.notes)))
		})
	}
}

func TestMelodyIdempotent(t *testing.T) {
	r := NewReducer(DefaultConfig())
	notes := []midi.Note{
		n(60, 0, 0.5), n(67, 0.004, 0.5), n(64, 0.25, 0.5),
		n(72, 0.25, 0.5), n(65, 0.5, 0.5), n(62, 0.503, 0.5),
	}

	once := r.Melody(notes)
	twice := r.Melody(once)

	assert.Equal(t, once, twice)
	assert.Equal(t, []int{67, 72, 65}, pitches(once))
}

func TestBassLine(t *testing.T) {
	r := NewReducer(DefaultConfig())
	notes := []midi.Note{
		n(48, 0, 0.5), n(36, 0.1, 0.5), // bucket 0
		n(43, 0.2, 0.5), n(41, 0.3, 0.5), // bucket 1 (nearest quarter)
		n(40, 1.0, 0.5),
	}

	got := r.BassLine(notes)

	assert.Equal(t, []int{36, 41, 40}, pitches(got))
}

func TestBassLineIdempotent(t *testing.T) {
	r := NewReducer(DefaultConfig())
	notes := []midi.Note{n(48, 0, 0.5), n(45, 0.05, 0.5), n(50, 0.5, 0.5), n(38, 0.55, 0.5)}

	once := r.BassLine(notes)

	assert.Equal(t, once, r.BassLine(once))
}

func TestMelodyWithHarmony(t *testing.T) {
	r := NewReducer(DefaultConfig())
	notes := []midi.Note{
		n(72, 0, 1),     // melody
		n(68, 0, 1),     // major third below
		n(66, 0, 1),     // tritone, dropped
		n(64, 0.003, 1), // minor sixth below
		n(76, 0.5, 1),   // melody
		n(70, 0.5, 1),   // tritone, dropped
		n(67, 0.5, 1),   // major sixth below
	}

	got := r.MelodyWithHarmony(notes)

	assert.Equal(t, []int{72, 68, 64, 76, 67}, pitches(got))
}

func TestMelodyWithHarmonyWindowIsStrict(t *testing.T) {
	r := NewReducer(Config{MelodyBucket: 1})
	notes := []midi.Note{n(72, 0, 1), n(69, 0.09, 1), n(68, 0.1, 1)}

	got := r.MelodyWithHarmony(notes)

	assert.Equal(t, []int{72, 69}, pitches(got))
}

func TestChordPattern(t *testing.T) {
	r := NewReducer(DefaultConfig())
	notes := []midi.Note{
		n(43, 0, 1), n(36, 0, 1), n(55, 0, 1), n(40, 0, 1), // root 36, fifth 43
		n(45, 0.5, 1), n(48, 0.5, 1), // root 45, no fifth
		n(38, 1, 1), n(57, 1, 1), n(45, 1, 1), // root 38, first fifth by pitch 45
	}

	got := r.ChordPattern(notes)

	assert.Equal(t, []int{36, 43, 45, 38, 45}, pitches(got))
}

func TestReduceBeginner(t *testing.T) {
	r := NewReducer(DefaultConfig())
	notes := []midi.Note{
		n(60, 0, 1), n(64, 0, 1), n(67, 0, 1),
		n(48, 0, 1), n(43, 0.05, 1),
		n(72, 1, 0.5),
	}

	arr := r.Reduce(notes, Beginner)

	assert.Equal(t, []int{67, 72}, pitches(arr.Right))
	assert.Equal(t, []int{43}, pitches(arr.Left))
}

func TestReduceIntermediate(t *testing.T) {
	r := NewReducer(DefaultConfig())
	notes := []midi.Note{
		n(76, 0, 1), n(72, 0, 1), n(67, 0, 1), // 72 is a third under 76, 67 a sixth
		n(36, 0, 1), n(43, 0, 1), n(48, 0, 1),
	}

	arr := r.Reduce(notes, Intermediate)

	assert.Equal(t, []int{76, 72, 67}, pitches(arr.Right))
	assert.Equal(t, []int{36, 43}, pitches(arr.Left))
}

func TestReducePolyphonyProperty(t *testing.T) {
	r := NewReducer(Config{MaxPolyRight: 2, MaxPolyLeft: 1})
	var notes []midi.Note
	for i := 0; i < 8; i++ {
		start := float64(i%3) * 0.5
		notes = append(notes, n(50+i*3, start, 0.5))
	}

	for _, d := range Difficulties {
		t.Run(string(d), func(t *testing.T) {
			arr := r.Reduce(notes, d)
			assert.LessOrEqual(t, maxSameOnset(arr.Right), 2)
			assert.LessOrEqual(t, maxSameOnset(arr.Left), 1)
		})
	}
}

func maxSameOnset(notes []midi.Note) int {
	counts := map[float64]int{}
	best := 0
	for _, note := range notes {
		counts[note.Start]++
		best = max(best, counts[note.Start])
	}
	return best
}

func TestParseDifficulty(t *testing.T) {
	d, err := ParseDifficulty(" Intermediate ")
	require.NoError(t, err)
	assert.Equal(t, Intermediate, d)

	d, err = ParseDifficulty("")
	require.NoError(t, err)
	assert.Equal(t, Beginner, d)

	_, err = ParseDifficulty("expert")
	assert.Error(t, err)
}
