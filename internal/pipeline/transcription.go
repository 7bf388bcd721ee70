package pipeline

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dygy/piano-grep/internal/midi"
	"github.com/dygy/piano-grep/internal/structure"
)

// Transcription is the JSON document written next to the MIDI file
type Transcription struct {
	Source     string           `json:"source"`
	Difficulty string           `json:"difficulty"`
	Tempo      float64          `json:"tempo"`
	Duration   float64          `json:"duration"`
	Chorus     structure.Window `json:"chorus"`
	midi.Arrangement
}

// NewTranscription collects the document fields from a run result
func NewTranscription(r *Result, source string) *Transcription {
	arr := r.Arrangement
	if arr.Right == nil {
		arr.Right = []midi.Note{}
	}
	if arr.Left == nil {
		arr.Left = []midi.Note{}
	}
	return &Transcription{
		Source:      source,
		Difficulty:  string(r.Difficulty),
		Tempo:       r.Tempo,
		Duration:    r.Duration,
		Chorus:      r.Chorus,
		Arrangement: arr,
	}
}

// WriteTranscription writes t as indented JSON
func WriteTranscription(path string, t *Transcription) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal transcription: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write transcription: %w", err)
	}
	return nil
}

// ReadTranscription loads a document written by WriteTranscription
func ReadTranscription(path string) (*Transcription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transcription: %w", err)
	}
	var t Transcription
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse transcription: %w", err)
	}
	return &t, nil
}
