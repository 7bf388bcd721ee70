package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndCleanup(t *testing.T) {
	ws, err := Create()
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(ws.Dir), "piano-grep-")

	require.NoError(t, os.WriteFile(ws.NotesJSON(), []byte("[]"), 0644))
	require.NoError(t, ws.Cleanup())

	_, err = os.Stat(ws.Dir)
	assert.True(t, os.IsNotExist(err))
}

func TestRemoveScratchKeepsOutputs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "job")
	ws, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, ws.Dir)

	for _, p := range []string{ws.ArrangementMIDI(), ws.TranscriptionJSON(), ws.ChorusWAV(), ws.InputWAV(), ws.ScoreLY()} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
	}
	require.NoError(t, ws.RemoveScratch())
	require.NoError(t, ws.RemoveScratch())

	assert.True(t, Exists(ws.ArrangementMIDI()))
	assert.True(t, Exists(ws.TranscriptionJSON()))
	assert.True(t, Exists(ws.ChorusWAV()))
	assert.False(t, Exists(ws.InputWAV()))
	assert.False(t, Exists(ws.ScoreLY()))
}

func TestOpenEmptyIsTemporary(t *testing.T) {
	ws, err := Open("")
	require.NoError(t, err)
	defer ws.Cleanup()
	assert.Contains(t, filepath.Base(ws.Dir), "piano-grep-")
}

func TestInputCopy(t *testing.T) {
	ws := &Workspace{Dir: "/w"}
	assert.Equal(t, filepath.Join("/w", "input.mp3"), ws.InputCopy(".mp3"))
	assert.Equal(t, filepath.Join("/w", "input.wav"), ws.InputCopy("wav"))
	assert.Equal(t, filepath.Join("/w", "input"), ws.InputCopy(""))
}

func TestCopyFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "song.wav")
	require.NoError(t, os.WriteFile(src, []byte("RIFF"), 0644))

	ws, err := Open(t.TempDir())
	require.NoError(t, err)

	dst, err := ws.CopyFile(src, "input.wav")
	require.NoError(t, err)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data))

	_, err = ws.CopyFile(filepath.Join(t.TempDir(), "missing.wav"), "x.wav")
	assert.Error(t, err)
}
