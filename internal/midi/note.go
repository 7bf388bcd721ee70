package midi

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
)

// DefaultVelocity is used for notes that carry no velocity of their own
const DefaultVelocity = 64

// Hand identifies the piano voice a note belongs to
type Hand string

const (
	HandNone  Hand = ""
	HandRight Hand = "right"
	HandLeft  Hand = "left"
)

// Note represents a single MIDI note. Times are in seconds.
type Note struct {
	Pitch      int     `json:"pitch"`
	Start      float64 `json:"start"`
	Duration   float64 `json:"duration"`
	Velocity   int     `json:"velocity,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Hand       Hand    `json:"hand,omitempty"`
}

// End returns the note's end time in seconds
func (n Note) End() float64 {
	return n.Start + n.Duration
}

// Valid reports whether the note has a MIDI pitch and a positive duration
func (n Note) Valid() bool {
	return n.Pitch >= 0 && n.Pitch <= 127 && n.Start >= 0 && n.Duration > 0
}

// WithHand returns a copy of the note tagged with h
func (n Note) WithHand(h Hand) Note {
	n.Hand = h
	return n
}

// Arrangement is a two-hand piano reduction. Each hand is ordered by start time.
type Arrangement struct {
	Right []Note `json:"right_hand"`
	Left  []Note `json:"left_hand"`
}

// Empty reports whether neither hand has notes
func (a Arrangement) Empty() bool {
	return len(a.Right) == 0 && len(a.Left) == 0
}

// NoteCount returns the total number of notes in both hands
func (a Arrangement) NoteCount() int {
	return len(a.Right) + len(a.Left)
}

// SortByStart sorts notes by start time, keeping the input order for equal starts
func SortByStart(notes []Note) {
	slices.SortStableFunc(notes, func(a, b Note) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})
}

// notesFile is the on-disk JSON shape accepted by ReadNotesJSON
type notesFile struct {
	Notes []Note `json:"notes"`
}

// ReadNotesJSON loads notes from a JSON file. Both a bare array and
// an object with a "notes" field are accepted.
func ReadNotesJSON(path string) ([]Note, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read notes: %w", err)
	}

	var notes []Note
	if err := json.Unmarshal(data, &notes); err == nil {
		return notes, nil
	}

	var wrapped notesFile
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parse notes: %w", err)
	}
	return wrapped.Notes, nil
}

// WriteNotesJSON saves notes as an object with a "notes" field
func WriteNotesJSON(path string, notes []Note) error {
	data, err := json.MarshalIndent(notesFile{Notes: notes}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode notes: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write notes: %w", err)
	}
	return nil
}
