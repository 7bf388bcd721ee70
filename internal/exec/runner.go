package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	apperrors "github.com/dygy/piano-grep/internal/errors"
)

// Result holds command execution output
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner executes external tools (python helpers, ffmpeg, yt-dlp, lilypond)
// with context support
type Runner struct {
	PythonPath string
	ScriptsDir string
}

// NewRunner creates a new command runner
func NewRunner(pythonPath, scriptsDir string) *Runner {
	if pythonPath == "" {
		// Prefer the scripts virtualenv when present
		venvPython := filepath.Join(scriptsDir, ".venv", "bin", "python")
		if _, err := os.Stat(venvPython); err == nil {
			pythonPath = venvPython
		} else {
			pythonPath = "python3"
		}
	}
	return &Runner{
		PythonPath: pythonPath,
		ScriptsDir: scriptsDir,
	}
}

// RunScript executes a Python script from the scripts directory
func (r *Runner) RunScript(ctx context.Context, script string, args ...string) (*Result, error) {
	scriptPath := filepath.Join(r.ScriptsDir, script)
	fullArgs := append([]string{scriptPath}, args...)
	return r.execute(ctx, r.PythonPath, fullArgs...)
}

// Run executes an arbitrary tool found on PATH
func (r *Runner) Run(ctx context.Context, tool string, args ...string) (*Result, error) {
	if err := r.LookPath(tool); err != nil {
		return &Result{ExitCode: -1}, err
	}
	return r.execute(ctx, tool, args...)
}

// LookPath reports ErrToolNotInstalled when tool is not on PATH
func (r *Runner) LookPath(tool string) error {
	if _, err := exec.LookPath(tool); err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrToolNotInstalled, tool)
	}
	return nil
}

// execute runs a command and captures output
func (r *Runner) execute(ctx context.Context, name string, args ...string) (*Result, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	}

	if ctx.Err() == context.DeadlineExceeded {
		return result, fmt.Errorf("%s: %w", name, apperrors.ErrTimeout)
	}
	if err != nil {
		return result, fmt.Errorf("command failed: %w", err)
	}

	return result, nil
}

// CheckPythonDependency verifies a Python package is installed
func (r *Runner) CheckPythonDependency(ctx context.Context, packageName string) error {
	result, err := r.execute(ctx, r.PythonPath, "-c", fmt.Sprintf("import %s", packageName))
	if err != nil {
		return fmt.Errorf("%s not installed: %s", packageName, result.Stderr)
	}
	return nil
}
