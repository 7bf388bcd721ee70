package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	apperrors "github.com/dygy/piano-grep/internal/errors"
	"github.com/dygy/piano-grep/internal/exec"
)

// Converter turns any supported input into mono PCM WAV using ffmpeg
type Converter struct {
	runner *exec.Runner
}

// NewConverter creates a new converter
func NewConverter(runner *exec.Runner) *Converter {
	return &Converter{runner: runner}
}

// ToWAV converts inputPath to a mono WAV at sampleRate written to outputPath.
// When ffmpeg is missing a WAV input is copied through unchanged, since
// LoadWAV can downmix and resample it itself.
func (c *Converter) ToWAV(ctx context.Context, inputPath, outputPath string, format Format, sampleRate int) error {
	if err := c.runner.LookPath("ffmpeg"); err != nil {
		if format == FormatWAV {
			return copyFile(inputPath, outputPath)
		}
		return fmt.Errorf("%w (needed to decode %s input)", err, format)
	}

	result, err := c.runner.Run(ctx, "ffmpeg",
		"-y",
		"-loglevel", "error",
		"-i", inputPath,
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-sample_fmt", "s16",
		outputPath,
	)
	if err != nil {
		if errors.Is(err, apperrors.ErrTimeout) {
			return err
		}
		pe := apperrors.NewProcessError("ffmpeg", "convert", result.ExitCode, result.Stderr, err)
		if pe.IsRecoverable() && format == FormatWAV {
			return copyFile(inputPath, outputPath)
		}
		return pe
	}

	if _, err := os.Stat(outputPath); err != nil {
		return fmt.Errorf("ffmpeg produced no output: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	return os.WriteFile(dst, data, 0644)
}
