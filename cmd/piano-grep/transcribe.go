package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dygy/piano-grep/internal/arrange"
	"github.com/dygy/piano-grep/internal/audio"
	"github.com/dygy/piano-grep/internal/pipeline"
)

type transcribeFlags struct {
	input      string
	url        string
	output     string
	difficulty string
	noChorus   bool
	tempo      float64
	pdf        bool
	backend    string
	noCache    bool
}

func newTranscribeCmd(g *globalFlags) *cobra.Command {
	f := &transcribeFlags{}

	cmd := &cobra.Command{
		Use:   "transcribe",
		Short: "Arrange the chorus of an audio file or YouTube URL for piano",
		Long: `Locate the chorus, transcribe it and write a two-hand piano arrangement.

Writes arrangement.mid, transcription.json and chorus.wav to the output
directory (and arrangement.pdf with --pdf).

Examples:
  piano-grep transcribe --input song.mp3
  piano-grep transcribe -i song.wav -o out/song --difficulty intermediate
  piano-grep transcribe --url "https://youtube.com/watch?v=..." --pdf`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranscribe(cmd, g, f)
		},
	}

	cmd.Flags().StringVarP(&f.input, "input", "i", "", "Input audio file ("+strings.Join(audio.SupportedExtensions, ", ")+")")
	cmd.Flags().StringVarP(&f.url, "url", "u", "", "YouTube URL to download")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Output directory (default: output/<input name>)")
	cmd.Flags().StringVarP(&f.difficulty, "difficulty", "d", "", "beginner, intermediate or advanced (default from config)")
	cmd.Flags().BoolVar(&f.noChorus, "no-chorus", false, "Transcribe the whole track instead of the chorus")
	cmd.Flags().Float64Var(&f.tempo, "tempo", 0, "Tempo in BPM for the MIDI file (default: estimated)")
	cmd.Flags().BoolVar(&f.pdf, "pdf", false, "Render a PDF score with LilyPond")
	cmd.Flags().StringVar(&f.backend, "backend", "", "Analysis backend: native or script (default from config)")
	cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "Ignore cached analyses")
	cmd.MarkFlagsMutuallyExclusive("input", "url")
	return cmd
}

func runTranscribe(cmd *cobra.Command, g *globalFlags, f *transcribeFlags) error {
	if f.input == "" && f.url == "" {
		return fmt.Errorf("either --input or --url is required")
	}
	if f.url != "" && !audio.IsYouTubeURL(f.url) {
		return fmt.Errorf("invalid YouTube URL: %s", f.url)
	}

	settings, err := loadSettings(g)
	if err != nil {
		return err
	}
	if f.backend != "" {
		settings.Analysis.Backend = f.backend
		if err := settings.Validate(); err != nil {
			return err
		}
	}

	cfg := pipeline.DefaultConfig(settings)
	cfg.InputPath = f.input
	cfg.InputURL = f.url
	cfg.Tempo = f.tempo
	cfg.UseCache = !f.noCache
	if f.difficulty != "" {
		if cfg.Difficulty, err = arrange.ParseDifficulty(f.difficulty); err != nil {
			return err
		}
	}
	if f.noChorus {
		cfg.DetectChorus = false
	}
	if f.pdf {
		cfg.RenderPDF = true
	}
	cfg.OutputDir = f.output
	if cfg.OutputDir == "" {
		cfg.OutputDir = filepath.Join("output", outputName(f))
	}

	var opts []pipeline.Option
	if f.noCache {
		opts = append(opts, pipeline.WithCache(nil))
	}
	orch := pipeline.NewOrchestrator(settings, cmd.ErrOrStderr(), g.verbose, opts...)
	res, err := orch.Execute(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	chorus := "detected"
	if res.Chorus.Fallback {
		chorus = "fallback"
	}
	printf(cmd, "Chorus:       %.1fs - %.1fs (%s)\n", res.Chorus.Start, res.Chorus.End, chorus)
	printf(cmd, "Tempo:        %.0f BPM\n", res.Tempo)
	printf(cmd, "Difficulty:   %s\n", res.Difficulty)
	printf(cmd, "Right hand:   %d notes\n", len(res.Arrangement.Right))
	printf(cmd, "Left hand:    %d notes\n", len(res.Arrangement.Left))
	printf(cmd, "MIDI:         %s\n", res.MIDIPath)
	if res.PDFPath != "" {
		printf(cmd, "Score:        %s\n", res.PDFPath)
	}
	return nil
}

func outputName(f *transcribeFlags) string {
	if f.input != "" {
		return strings.TrimSuffix(filepath.Base(f.input), filepath.Ext(f.input))
	}
	return "youtube"
}
