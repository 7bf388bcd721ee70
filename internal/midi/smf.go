package midi

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

const (
	rightChannel = 0
	leftChannel  = 1
)

// WriteSMF serializes a stream as a format 1 Standard MIDI File with
// one track per hand. Tempo and meter go on the right-hand track.
func WriteSMF(w io.Writer, s Stream) error {
	file := smf.New()
	file.TimeFormat = smf.MetricTicks(uint16(s.TicksPerBeat))

	var right smf.Track
	right.Add(0, smf.MetaTrackSequenceName("Right Hand"))
	right.Add(0, smf.MetaTempo(s.TempoBPM))
	right.Add(0, smf.MetaMeter(4, 4))
	addEvents(&right, s.Right, rightChannel)
	right.Close(0)

	var left smf.Track
	left.Add(0, smf.MetaTrackSequenceName("Left Hand"))
	addEvents(&left, s.Left, leftChannel)
	left.Close(0)

	if err := file.Add(right); err != nil {
		return fmt.Errorf("add right track: %w", err)
	}
	if err := file.Add(left); err != nil {
		return fmt.Errorf("add left track: %w", err)
	}

	if _, err := file.WriteTo(w); err != nil {
		return fmt.Errorf("write midi: %w", err)
	}
	return nil
}

// WriteSMFFile writes the stream to path
func WriteSMFFile(path string, s Stream) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create midi file: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if err := WriteSMF(bw, s); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush midi file: %w", err)
	}
	return f.Close()
}

// addEvents appends events to a track. SMF deltas cannot be negative,
// so overlapping notes are laid out in absolute time first.
func addEvents(tr *smf.Track, events []TickEvent, channel uint8) {
	prev := 0
	for _, ev := range Absolute(events) {
		delta := uint32(ev.Tick - prev)
		prev = ev.Tick

		key := uint8(clamp(ev.Pitch, 0, 127))
		switch ev.Kind {
		case NoteOn:
			tr.Add(delta, gomidi.NoteOn(channel, key, uint8(clamp(ev.Velocity, 1, 127))))
		case NoteOff:
			tr.Add(delta, gomidi.NoteOff(channel, key))
		}
	}
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

// ReadNotes loads every note of a MIDI file as seconds-based notes sorted by
// start time. The first tempo event found is returned, or 0 when none is set.
func ReadNotes(path string) ([]Note, float64, error) {
	file, err := smf.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read midi %s: %w", path, err)
	}
	if _, ok := file.TimeFormat.(smf.MetricTicks); !ok {
		return nil, 0, fmt.Errorf("read midi %s: unsupported time format %v", path, file.TimeFormat)
	}

	type held struct {
		start    int64
		velocity uint8
	}

	var (
		notes []Note
		tempo float64
	)
	for _, track := range file.Tracks {
		var absTicks int64
		open := make(map[[2]uint8][]held)

		for _, ev := range track {
			absTicks += int64(ev.Delta)

			var bpm float64
			if tempo == 0 && ev.Message.GetMetaTempo(&bpm) {
				tempo = bpm
				continue
			}

			var ch, key, vel uint8
			msg := gomidi.Message(ev.Message)
			switch {
			case msg.GetNoteStart(&ch, &key, &vel):
				id := [2]uint8{ch, key}
				open[id] = append(open[id], held{start: file.TimeAt(absTicks), velocity: vel})
			case msg.GetNoteEnd(&ch, &key):
				id := [2]uint8{ch, key}
				stack := open[id]
				if len(stack) == 0 {
					continue
				}
				h := stack[0]
				open[id] = stack[1:]

				end := file.TimeAt(absTicks)
				if end <= h.start {
					continue
				}
				notes = append(notes, Note{
					Pitch:    int(key),
					Start:    float64(h.start) / 1e6,
					Duration: float64(end-h.start) / 1e6,
					Velocity: int(h.velocity),
				})
			}
		}
	}

	sort.SliceStable(notes, func(i, j int) bool {
		return notes[i].Start < notes[j].Start
	})
	return notes, tempo, nil
}
