package midi

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDeltas(t *testing.T) {
	arr := Arrangement{
		Right: []Note{
			{Pitch: 60, Start: 0, Duration: 0.5},
			{Pitch: 64, Start: 1.0, Duration: 0.25},
		},
	}

	s := Encode(arr, 120, 480)

	require.Len(t, s.Right, 4)
	assert.Empty(t, s.Left)
	assert.Equal(t, 480, s.TicksPerBeat)

	// 120 bpm at 480 tpb is 960 ticks per second
	want := []TickEvent{
		{Kind: NoteOn, Pitch: 60, Velocity: DefaultVelocity, Delta: 0, Track: HandRight},
		{Kind: NoteOff, Pitch: 60, Velocity: DefaultVelocity, Delta: 480, Track: HandRight},
		{Kind: NoteOn, Pitch: 64, Velocity: DefaultVelocity, Delta: 480, Track: HandRight},
		{Kind: NoteOff, Pitch: 64, Velocity: DefaultVelocity, Delta: 240, Track: HandRight},
	}
	assert.Equal(t, want, s.Right)
}

func TestEncodeRoundTripsTiming(t *testing.T) {
	notes := []Note{
		{Pitch: 48, Start: 0.013, Duration: 0.4},
		{Pitch: 52, Start: 0.777, Duration: 0.123},
		{Pitch: 55, Start: 1.5, Duration: 1.01},
		{Pitch: 43, Start: 3.333, Duration: 0.3},
	}
	tempos := []float64{60, 97.5, 120, 143}

	for _, tempo := range tempos {
		s := Encode(Arrangement{Left: notes}, tempo, 480)
		tps := 480 * tempo / 60

		tick := 0
		for i, n := range notes {
			on, off := s.Left[2*i], s.Left[2*i+1]
			require.Equal(t, NoteOn, on.Kind)
			require.Equal(t, NoteOff, off.Kind)

			tick += on.Delta
			assert.InDelta(t, n.Start*tps, float64(tick), 1)
			tick += off.Delta
			assert.InDelta(t, n.End()*tps, float64(tick), 1)
		}
	}
}

func TestEncodeSortsAndTagsTrack(t *testing.T) {
	arr := Arrangement{
		Left: []Note{
			{Pitch: 40, Start: 2, Duration: 1},
			{Pitch: 36, Start: 0, Duration: 1},
		},
	}

	s := Encode(arr, 120, 480)

	require.Len(t, s.Left, 4)
	assert.Equal(t, 36, s.Left[0].Pitch)
	assert.Equal(t, 40, s.Left[2].Pitch)
	for _, ev := range s.Left {
		assert.Equal(t, HandLeft, ev.Track)
	}
}

func TestEncodeOverlapKeepsInsertionOrder(t *testing.T) {
	arr := Arrangement{
		Right: []Note{
			{Pitch: 60, Start: 0, Duration: 1},
			{Pitch: 67, Start: 0.5, Duration: 1},
		},
	}

	s := Encode(arr, 120, 480)

	require.Len(t, s.Right, 4)
	assert.Equal(t, []EventKind{NoteOn, NoteOff, NoteOn, NoteOff},
		[]EventKind{s.Right[0].Kind, s.Right[1].Kind, s.Right[2].Kind, s.Right[3].Kind})
	assert.Equal(t, 960, s.Right[1].Delta)
	assert.Equal(t, -480, s.Right[2].Delta)

	abs := Absolute(s.Right)
	ticks := make([]int, len(abs))
	for i, ev := range abs {
		ticks[i] = ev.Tick
	}
	assert.Equal(t, []int{0, 480, 960, 1440}, ticks)
	assert.Equal(t, 67, abs[1].Pitch)
	assert.Equal(t, NoteOff, abs[2].Kind)
}

func TestAbsoluteNoteOffFirst(t *testing.T) {
	events := []TickEvent{
		{Kind: NoteOn, Pitch: 60, Delta: 0},
		{Kind: NoteOff, Pitch: 60, Delta: 100},
		{Kind: NoteOn, Pitch: 62, Delta: 0},
		{Kind: NoteOff, Pitch: 62, Delta: 100},
	}

	abs := Absolute(events)

	require.Len(t, abs, 4)
	assert.Equal(t, NoteOff, abs[1].Kind)
	assert.Equal(t, 100, abs[1].Tick)
	assert.Equal(t, NoteOn, abs[2].Kind)
}

func TestEncodeEmpty(t *testing.T) {
	s := Encode(Arrangement{}, 0, 0)

	assert.Empty(t, s.Right)
	assert.Empty(t, s.Left)
	assert.Equal(t, DefaultTicksPerBeat, s.TicksPerBeat)
	assert.Equal(t, 120.0, s.TempoBPM)
}

func TestSMFRoundTrip(t *testing.T) {
	arr := Arrangement{
		Right: []Note{
			{Pitch: 72, Start: 0, Duration: 0.5, Velocity: 90},
			{Pitch: 76, Start: 0.25, Duration: 0.5},
		},
		Left: []Note{
			{Pitch: 48, Start: 0, Duration: 1},
		},
	}
	path := filepath.Join(t.TempDir(), "out.mid")

	require.NoError(t, WriteSMFFile(path, Encode(arr, 100, 480)))

	notes, tempo, err := ReadNotes(path)
	require.NoError(t, err)
	assert.InDelta(t, 100, tempo, 0.01)
	require.Len(t, notes, 3)

	byPitch := map[int]Note{}
	for _, n := range notes {
		byPitch[n.Pitch] = n
	}
	assert.InDelta(t, 0.25, byPitch[76].Start, 0.005)
	assert.InDelta(t, 0.5, byPitch[76].Duration, 0.005)
	assert.InDelta(t, 1.0, byPitch[48].Duration, 0.005)
	assert.Equal(t, 90, byPitch[72].Velocity)
	assert.False(t, math.IsNaN(byPitch[72].Start))
}

func TestReadNotesMissingFile(t *testing.T) {
	_, _, err := ReadNotes(filepath.Join(t.TempDir(), "nope.mid"))
	assert.Error(t, err)
}

func TestNotesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.json")
	in := []Note{{Pitch: 60, Start: 0.5, Duration: 0.25, Confidence: 0.8}}

	require.NoError(t, WriteNotesJSON(path, in))
	out, err := ReadNotesJSON(path)

	require.NoError(t, err)
	assert.Equal(t, in, out)
}
