package midi

import (
	"cmp"
	"math"
	"slices"
)

// DefaultTicksPerBeat is the standard MIDI resolution used for output files
const DefaultTicksPerBeat = 480

// EventKind distinguishes note_on from note_off events
type EventKind string

const (
	NoteOn  EventKind = "note_on"
	NoteOff EventKind = "note_off"
)

// TickEvent is a delta-encoded note event on one hand's track.
// Delta is relative to the previous event on the same track.
type TickEvent struct {
	Kind     EventKind `json:"kind"`
	Pitch    int       `json:"pitch"`
	Velocity int       `json:"velocity"`
	Delta    int       `json:"delta_ticks"`
	Track    Hand      `json:"track"`
}

// Stream is the dual-track event stream produced by Encode
type Stream struct {
	TicksPerBeat int         `json:"ticks_per_beat"`
	TempoBPM     float64     `json:"tempo_bpm"`
	Right        []TickEvent `json:"right"`
	Left         []TickEvent `json:"left"`
}

// Encode converts an arrangement into tick-stamped events, one track per hand.
// Each note yields a note_on delta from the track cursor and a note_off delta
// equal to the note length. Events keep insertion order, so a note that starts
// before the previous note ended produces a negative note_on delta.
func Encode(arr Arrangement, tempoBPM float64, ticksPerBeat int) Stream {
	if ticksPerBeat <= 0 {
		ticksPerBeat = DefaultTicksPerBeat
	}
	if tempoBPM <= 0 {
		tempoBPM = 120
	}
	ticksPerSecond := float64(ticksPerBeat) * tempoBPM / 60

	return Stream{
		TicksPerBeat: ticksPerBeat,
		TempoBPM:     tempoBPM,
		Right:        encodeTrack(arr.Right, HandRight, ticksPerSecond),
		Left:         encodeTrack(arr.Left, HandLeft, ticksPerSecond),
	}
}

func encodeTrack(notes []Note, hand Hand, ticksPerSecond float64) []TickEvent {
	sorted := slices.Clone(notes)
	SortByStart(sorted)

	events := make([]TickEvent, 0, len(sorted)*2)
	cursor := 0
	for _, n := range sorted {
		startTicks := int(math.Round(n.Start * ticksPerSecond))
		endTicks := int(math.Round(n.End() * ticksPerSecond))
		vel := n.Velocity
		if vel <= 0 {
			vel = DefaultVelocity
		}

		events = append(events, TickEvent{
			Kind:     NoteOn,
			Pitch:    n.Pitch,
			Velocity: vel,
			Delta:    startTicks - cursor,
			Track:    hand,
		})
		cursor = startTicks

		events = append(events, TickEvent{
			Kind:     NoteOff,
			Pitch:    n.Pitch,
			Velocity: vel,
			Delta:    endTicks - startTicks,
			Track:    hand,
		})
		cursor = endTicks
	}
	return events
}

// AbsoluteEvent is a TickEvent resolved to an absolute tick position
type AbsoluteEvent struct {
	TickEvent
	Tick int
}

// Absolute resolves delta-encoded events to absolute ticks, ordered by time
// with note_off before note_on at the same tick. Negative positions clamp to 0.
func Absolute(events []TickEvent) []AbsoluteEvent {
	out := make([]AbsoluteEvent, 0, len(events))
	tick := 0
	for _, ev := range events {
		tick += ev.Delta
		out = append(out, AbsoluteEvent{TickEvent: ev, Tick: max(tick, 0)})
	}

	slices.SortStableFunc(out, func(a, b AbsoluteEvent) int {
		if c := cmp.Compare(a.Tick, b.Tick); c != 0 {
			return c
		}
		return cmp.Compare(kindOrder(a.Kind), kindOrder(b.Kind))
	})
	return out
}

func kindOrder(k EventKind) int {
	if k == NoteOff {
		return 0
	}
	return 1
}
