// Package score renders an arrangement MIDI file as sheet music through
// LilyPond's command line tools.
package score

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	apperrors "github.com/dygy/piano-grep/internal/errors"
	"github.com/dygy/piano-grep/internal/exec"
)

// Renderer wraps midi2ly and lilypond
type Renderer struct {
	runner *exec.Runner
}

// NewRenderer creates a new score renderer
func NewRenderer(runner *exec.Runner) *Renderer {
	return &Renderer{runner: runner}
}

// Available reports ErrToolNotInstalled when either tool is missing
func (r *Renderer) Available() error {
	for _, tool := range []string{"midi2ly", "lilypond"} {
		if err := r.runner.LookPath(tool); err != nil {
			return err
		}
	}
	return nil
}

// Render converts midiPath to LilyPond source at lyPath and engraves it
// to pdfPath.
func (r *Renderer) Render(ctx context.Context, midiPath, lyPath, pdfPath string) error {
	if err := r.Available(); err != nil {
		return err
	}

	result, err := r.runner.Run(ctx, "midi2ly", "-o", lyPath, midiPath)
	if err != nil {
		return toolError("midi2ly", result, err)
	}

	// lilypond appends .pdf to the output base itself
	base := strings.TrimSuffix(pdfPath, ".pdf")
	result, err = r.runner.Run(ctx, "lilypond", "--pdf", "-o", base, lyPath)
	if err != nil {
		return toolError("lilypond", result, err)
	}

	if _, err := os.Stat(pdfPath); err != nil {
		return fmt.Errorf("lilypond produced no pdf: %w", err)
	}
	return nil
}

func toolError(tool string, result *exec.Result, err error) error {
	if errors.Is(err, apperrors.ErrTimeout) {
		return err
	}
	code, stderr := -1, ""
	if result != nil {
		code, stderr = result.ExitCode, result.Stderr
	}
	return apperrors.NewProcessError(tool, "render", code, stderr, err)
}
