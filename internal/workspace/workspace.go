package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Workspace holds the files produced for a single job
type Workspace struct {
	Dir       string
	CreatedAt time.Time
}

// Create creates a new isolated workspace in the system temp directory
func Create() (*Workspace, error) {
	dir, err := os.MkdirTemp("", "piano-grep-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	return &Workspace{
		Dir:       dir,
		CreatedAt: time.Now(),
	}, nil
}

// Open uses dir as the workspace, creating it when missing. An empty dir
// creates a temporary workspace.
func Open(dir string) (*Workspace, error) {
	if dir == "" {
		return Create()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{Dir: dir, CreatedAt: time.Now()}, nil
}

// Path helpers for workspace files
func (w *Workspace) InputCopy(ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return filepath.Join(w.Dir, "input"+ext)
}
func (w *Workspace) InputWAV() string          { return filepath.Join(w.Dir, "input.mono.wav") }
func (w *Workspace) ChorusWAV() string         { return filepath.Join(w.Dir, "chorus.wav") }
func (w *Workspace) NotesJSON() string         { return filepath.Join(w.Dir, "notes.json") }
func (w *Workspace) TranscriptionJSON() string { return filepath.Join(w.Dir, "transcription.json") }
func (w *Workspace) ArrangementMIDI() string   { return filepath.Join(w.Dir, "arrangement.mid") }
func (w *Workspace) ScoreLY() string           { return filepath.Join(w.Dir, "arrangement.ly") }
func (w *Workspace) ScorePDF() string          { return filepath.Join(w.Dir, "arrangement.pdf") }

// Scratch lists intermediate files that are not part of the job output
func (w *Workspace) Scratch() []string {
	return []string{w.InputWAV(), w.ScoreLY()}
}

// RemoveScratch deletes the intermediate files and keeps the outputs
func (w *Workspace) RemoveScratch() error {
	for _, p := range w.Scratch() {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Cleanup removes the workspace directory and all contents
func (w *Workspace) Cleanup() error {
	return os.RemoveAll(w.Dir)
}

// CopyFile copies a file into the workspace
func (w *Workspace) CopyFile(src, dstName string) (string, error) {
	dst := filepath.Join(w.Dir, dstName)
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("read source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("write destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", fmt.Errorf("write destination: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("write destination: %w", err)
	}
	return dst, nil
}

// Exists reports whether path exists and is a regular file
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
