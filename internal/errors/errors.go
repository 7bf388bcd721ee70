package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for expected failure modes
var (
	ErrFileNotFound      = errors.New("file not found")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrCorruptedFile     = errors.New("file corrupted or unreadable")
	ErrFileTooLarge      = errors.New("file exceeds size limit")
	ErrTimeout           = errors.New("operation timed out")
	ErrToolNotInstalled  = errors.New("required tool not installed")
)

// Sentinel errors raised by the analysis core
var (
	ErrSegmentation     = errors.New("no usable frames for segmentation")
	ErrChorusNotFound   = errors.New("no scorable segment")
	ErrAnalysis         = errors.New("feature extraction failed")
	ErrEmptyArrangement = errors.New("arrangement has no notes")
)

// StageError names the pipeline stage that failed and, once known,
// the job or track the stage was working on.
type StageError struct {
	Stage string // "segment", "score", "analyze", "transcribe", ...
	Input string // job id, track id or file name
	Err   error
}

func (e *StageError) Error() string {
	if e.Input != "" {
		return fmt.Sprintf("%s [%s]: %v", e.Stage, e.Input, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError creates a StageError without an input identifier
func NewStageError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

// WithInput attaches an input identifier to err. Errors that already
// carry a StageError get the identifier filled in; anything else is
// wrapped in a StageError for the given stage.
func WithInput(err error, stage, input string) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		if se.Input == "" {
			se.Input = input
		}
		return err
	}
	return &StageError{Stage: stage, Input: input, Err: err}
}

// ProcessError represents a failure in an external process
type ProcessError struct {
	Tool     string // "ffmpeg", "yt-dlp", "python", "lilypond"
	Stage    string // "convert", "download", "analyze", "render"
	ExitCode int
	Stderr   string
	Cause    error
}

func (e *ProcessError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s failed at %s (exit %d): %s", e.Tool, e.Stage, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%s failed at %s (exit %d)", e.Tool, e.Stage, e.ExitCode)
}

func (e *ProcessError) Unwrap() error {
	return e.Cause
}

// IsRecoverable returns true if fallback strategy exists
func (e *ProcessError) IsRecoverable() bool {
	return e.Tool == "ffmpeg" && e.Stage == "convert"
}

// NewProcessError creates a ProcessError
func NewProcessError(tool, stage string, exitCode int, stderr string, cause error) *ProcessError {
	return &ProcessError{
		Tool:     tool,
		Stage:    stage,
		ExitCode: exitCode,
		Stderr:   stderr,
		Cause:    cause,
	}
}
