package score

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/dygy/piano-grep/internal/errors"
	"github.com/dygy/piano-grep/internal/exec"
)

func TestRenderWithoutTools(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	dir := t.TempDir()
	r := NewRenderer(exec.NewRunner("", dir))

	assert.ErrorIs(t, r.Available(), apperrors.ErrToolNotInstalled)

	err := r.Render(context.Background(),
		filepath.Join(dir, "arrangement.mid"),
		filepath.Join(dir, "arrangement.ly"),
		filepath.Join(dir, "arrangement.pdf"))
	assert.ErrorIs(t, err, apperrors.ErrToolNotInstalled)
}

func TestToolError(t *testing.T) {
	cause := errors.New("exit status 1")
	err := toolError("lilypond", &exec.Result{ExitCode: 1, Stderr: "syntax error"}, cause)

	var pe *apperrors.ProcessError
	assert.True(t, errors.As(err, &pe))
	assert.Equal(t, "render", pe.Stage)
	assert.Equal(t, 1, pe.ExitCode)
	assert.Contains(t, err.Error(), "syntax error")

	timeout := toolError("midi2ly", nil, apperrors.ErrTimeout)
	assert.ErrorIs(t, timeout, apperrors.ErrTimeout)
}
