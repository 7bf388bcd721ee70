package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dygy/piano-grep/internal/midi"
	"github.com/dygy/piano-grep/internal/structure"
)

// scriptsToHash are the helpers whose output ends up in cached analyses
var scriptsToHash = []string{
	"features.py",
	"transcribe.py",
}

var youtubeIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`youtube\.com/watch\?v=([\w-]+)`),
	regexp.MustCompile(`youtube\.com/shorts/([\w-]+)`),
	regexp.MustCompile(`youtu\.be/([\w-]+)`),
	regexp.MustCompile(`music\.youtube\.com/watch\?v=([\w-]+)`),
}

// ResultCache stores analysis results per input so a track can be
// re-arranged without analyzing it again
type ResultCache struct {
	dir     string
	version string

	// serializes output version numbering within this process
	mu sync.Mutex
}

// Analysis is the cached outcome of chorus detection and transcription
type Analysis struct {
	Key    string           `json:"key"`
	Source string           `json:"source"`
	Chorus structure.Window `json:"chorus"`
	// ChorusDetected is false when Chorus spans the whole track
	ChorusDetected bool        `json:"chorus_detected"`
	Notes          []midi.Note `json:"notes"`
	Tempo          float64     `json:"tempo"`
	Duration       float64     `json:"duration"`
	CachedAt       time.Time   `json:"cached_at"`
}

// Output records one arrangement produced from a cached analysis
type Output struct {
	Difficulty string    `json:"difficulty"`
	RightNotes int       `json:"right_notes"`
	LeftNotes  int       `json:"left_notes"`
	Tempo      float64   `json:"tempo"`
	MIDIPath   string    `json:"midi_path"`
	Version    int       `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
}

// New opens a cache rooted at dir. An empty dir uses .cache/analysis in
// the repository root. fingerprint describes the analysis settings; it is
// hashed together with the helper scripts in scriptsDir so changing either
// invalidates old entries.
func New(dir, scriptsDir, fingerprint string) (*ResultCache, error) {
	if dir == "" {
		var err error
		if dir, err = findRepoCacheDir(); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	return &ResultCache{
		dir:     dir,
		version: computeVersion(scriptsDir, fingerprint),
	}, nil
}

// computeVersion hashes the settings fingerprint and the helper scripts
func computeVersion(scriptsDir, fingerprint string) string {
	hasher := sha256.New()
	hasher.Write([]byte(fingerprint))

	for _, script := range scriptsToHash {
		data, err := os.ReadFile(filepath.Join(scriptsDir, script))
		if err != nil {
			// Script not found - use filename as fallback
			hasher.Write([]byte(script))
			continue
		}
		hasher.Write(data)
	}

	return hex.EncodeToString(hasher.Sum(nil))[:12]
}

// Version returns the cache version (based on settings and script hashes)
func (c *ResultCache) Version() string {
	return c.version
}

// findRepoCacheDir finds .cache/analysis in the repository root
func findRepoCacheDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working dir: %w", err)
	}
	cwd := dir

	// Walk up looking for go.mod (repo root marker)
	for {
		if fileExists(filepath.Join(dir, "go.mod")) {
			return filepath.Join(dir, ".cache", "analysis"), nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return filepath.Join(cwd, ".cache", "analysis"), nil
		}
		dir = parent
	}
}

// KeyForURL generates a cache key from a YouTube URL
func KeyForURL(url string) string {
	videoID := extractYouTubeID(url)
	if videoID == "" {
		return "url_" + hashString(url)
	}
	return "yt_" + videoID
}

// KeyForFile generates a cache key from a file's content hash
func KeyForFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}

	return "file_" + hex.EncodeToString(hash.Sum(nil))[:16], nil
}

// Get retrieves the cached analysis for key. Entries written by another
// version are treated as missing.
func (c *ResultCache) Get(key string) (*Analysis, bool) {
	subdir := filepath.Join(c.dir, key)

	versionData, err := os.ReadFile(filepath.Join(subdir, ".version"))
	if err != nil || strings.TrimSpace(string(versionData)) != c.version {
		return nil, false
	}

	data, err := os.ReadFile(filepath.Join(subdir, "analysis.json"))
	if err != nil {
		return nil, false
	}

	var entry Analysis
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false
	}
	return &entry, true
}

// Put stores an analysis under key
func (c *ResultCache) Put(key string, entry *Analysis) error {
	subdir := filepath.Join(c.dir, key)
	if err := os.MkdirAll(subdir, 0755); err != nil {
		return fmt.Errorf("create cache subdir: %w", err)
	}

	entry.Key = key
	entry.CachedAt = time.Now()
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}
	if err := os.WriteFile(filepath.Join(subdir, "analysis.json"), data, 0644); err != nil {
		return fmt.Errorf("write analysis: %w", err)
	}

	if err := os.WriteFile(filepath.Join(subdir, ".version"), []byte(c.version), 0644); err != nil {
		return fmt.Errorf("write cache version: %w", err)
	}
	return nil
}

// SaveOutput appends an arrangement record to the key's history and copies
// the MIDI file next to it
func (c *ResultCache) SaveOutput(key string, output *Output) error {
	subdir := filepath.Join(c.dir, key)
	if err := os.MkdirAll(subdir, 0755); err != nil {
		return fmt.Errorf("create cache subdir: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	outputs, _ := c.GetOutputHistory(key)
	f, version, err := claimOutput(subdir, len(outputs)+1)
	if err != nil {
		return err
	}
	defer f.Close()

	output.Version = version
	output.CreatedAt = time.Now()

	if output.MIDIPath != "" && fileExists(output.MIDIPath) {
		dst := filepath.Join(subdir, fmt.Sprintf("output_v%03d_%s.mid", output.Version, output.Difficulty))
		if err := copyFile(output.MIDIPath, dst); err != nil {
			return fmt.Errorf("cache midi: %w", err)
		}
		output.MIDIPath = dst
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return f.Close()
}

// claimOutput creates the first free output_vNNN.json at or after version.
// O_EXCL keeps concurrent writers, including other processes, from sharing
// a version.
func claimOutput(subdir string, version int) (*os.File, int, error) {
	for ; ; version++ {
		path := filepath.Join(subdir, fmt.Sprintf("output_v%03d.json", version))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return f, version, nil
		}
		if !os.IsExist(err) {
			return nil, 0, fmt.Errorf("create output record: %w", err)
		}
	}
}

// GetOutputHistory retrieves all outputs for a cache key, sorted by version
func (c *ResultCache) GetOutputHistory(key string) ([]*Output, error) {
	subdir := filepath.Join(c.dir, key)

	entries, err := os.ReadDir(subdir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cache dir: %w", err)
	}

	var outputs []*Output
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "output_v") || !strings.HasSuffix(name, ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(subdir, name))
		if err != nil {
			continue
		}

		var output Output
		if err := json.Unmarshal(data, &output); err != nil {
			continue
		}
		outputs = append(outputs, &output)
	}

	sort.Slice(outputs, func(i, j int) bool {
		return outputs[i].Version < outputs[j].Version
	})
	return outputs, nil
}

// Clear removes all cached results
func (c *ResultCache) Clear() error {
	return os.RemoveAll(c.dir)
}

// Size returns the total size in bytes and the number of cached inputs
func (c *ResultCache) Size() (int64, int, error) {
	var totalSize int64
	var count int

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		count++

		files, _ := os.ReadDir(filepath.Join(c.dir, entry.Name()))
		for _, f := range files {
			if info, err := f.Info(); err == nil {
				totalSize += info.Size()
			}
		}
	}

	return totalSize, count, nil
}

// Dir returns the cache root
func (c *ResultCache) Dir() string {
	return c.dir
}

// extractYouTubeID extracts video ID from various YouTube URL formats
func extractYouTubeID(url string) string {
	for _, re := range youtubeIDPatterns {
		if m := re.FindStringSubmatch(url); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}

func hashString(s string) string {
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:])[:16]
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0644)
}
