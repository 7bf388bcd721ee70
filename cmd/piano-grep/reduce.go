package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dygy/piano-grep/internal/arrange"
	"github.com/dygy/piano-grep/internal/midi"
	"github.com/dygy/piano-grep/internal/pipeline"
)

type reduceFlags struct {
	notes      string
	midiIn     string
	output     string
	difficulty string
	tempo      float64
}

func newReduceCmd(g *globalFlags) *cobra.Command {
	f := &reduceFlags{}

	cmd := &cobra.Command{
		Use:   "reduce",
		Short: "Arrange existing notes without audio analysis",
		Long: `Split notes between the hands, reduce them for a difficulty and write MIDI.

Input is either a notes JSON file (an array of {pitch,start,duration,velocity}
objects or {"notes": [...]}) or a MIDI file.

Examples:
  piano-grep reduce --notes notes.json -o beginner.mid
  piano-grep reduce --midi full.mid --difficulty intermediate -o out.mid`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReduce(cmd, g, f)
		},
	}

	cmd.Flags().StringVar(&f.notes, "notes", "", "Notes JSON file")
	cmd.Flags().StringVar(&f.midiIn, "midi", "", "MIDI file to reduce")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Output MIDI file")
	cmd.Flags().StringVarP(&f.difficulty, "difficulty", "d", "", "beginner, intermediate or advanced (default from config)")
	cmd.Flags().Float64Var(&f.tempo, "tempo", 0, "Tempo in BPM (default: from the MIDI input or config)")
	cmd.MarkFlagsMutuallyExclusive("notes", "midi")
	cmd.MarkFlagsOneRequired("notes", "midi")
	cmd.MarkFlagRequired("output")
	return cmd
}

func runReduce(cmd *cobra.Command, g *globalFlags, f *reduceFlags) error {
	settings, err := loadSettings(g)
	if err != nil {
		return err
	}

	diff := f.difficulty
	if diff == "" {
		diff = settings.Arrangement.Difficulty
	}
	d, err := arrange.ParseDifficulty(diff)
	if err != nil {
		return err
	}

	var (
		notes []midi.Note
		tempo = f.tempo
	)
	if f.notes != "" {
		notes, err = midi.ReadNotesJSON(f.notes)
	} else {
		var fileTempo float64
		notes, fileTempo, err = midi.ReadNotes(f.midiIn)
		if tempo <= 0 {
			tempo = fileTempo
		}
	}
	if err != nil {
		return err
	}

	orch := pipeline.NewOrchestrator(settings, cmd.ErrOrStderr(), g.verbose, pipeline.WithCache(nil))
	arr, err := orch.Arrange(notes, d, tempo, f.output)
	if pipeline.IsWarning(err) {
		orch.Reporter().Warning("%v", err)
	} else if err != nil {
		return err
	}

	printf(cmd, "%s: %d right hand, %d left hand notes -> %s\n", d, len(arr.Right), len(arr.Left), f.output)
	if g.verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "read %d notes\n", len(notes))
	}
	return nil
}
