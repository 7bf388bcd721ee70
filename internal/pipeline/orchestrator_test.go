package pipeline

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dygy/piano-grep/internal/analysis"
	"github.com/dygy/piano-grep/internal/arrange"
	"github.com/dygy/piano-grep/internal/audio"
	"github.com/dygy/piano-grep/internal/cache"
	"github.com/dygy/piano-grep/internal/config"
	apperrors "github.com/dygy/piano-grep/internal/errors"
	"github.com/dygy/piano-grep/internal/midi"
)

// fakeAnalyzer yields no frames, so chorus detection always falls back
type fakeAnalyzer struct {
	notes       []midi.Note
	tempo       float64
	analyzeErr  error
	calls       int
	sectionSecs float64
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, track *audio.Track) (*analysis.FeatureSet, error) {
	if f.analyzeErr != nil {
		return nil, f.analyzeErr
	}
	return &analysis.FeatureSet{Clock: analysis.FrameClock{SampleRate: track.SampleRate, HopLength: 512}}, nil
}

func (f *fakeAnalyzer) ExtractNotes(ctx context.Context, track *audio.Track, r analysis.FreqRange) ([]midi.Note, error) {
	f.calls++
	f.sectionSecs = track.Duration()
	return f.notes, nil
}

func (f *fakeAnalyzer) EstimateTempo(ctx context.Context, track *audio.Track) (float64, error) {
	return f.tempo, nil
}

func pianoNotes() []midi.Note {
	return []midi.Note{
		{Pitch: 60, Start: 0, Duration: 0.5, Velocity: 80},
		{Pitch: 64, Start: 0, Duration: 0.5, Velocity: 80},
		{Pitch: 67, Start: 0, Duration: 0.5, Velocity: 80},
		{Pitch: 72, Start: 0.5, Duration: 0.5, Velocity: 80},
		{Pitch: 48, Start: 0, Duration: 1, Velocity: 70},
		{Pitch: 43, Start: 1, Duration: 1, Velocity: 70},
	}
}

// writeSong writes a ten second sine to a WAV file and hides external
// tools so conversion copies it through
func writeSong(t *testing.T) string {
	t.Helper()
	t.Setenv("PATH", t.TempDir())

	const rate = 22050
	samples := make([]float64, 10*rate)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*220*float64(i)/rate)
	}
	path := filepath.Join(t.TempDir(), "song.wav")
	require.NoError(t, audio.WriteWAV(path, audio.NewTrack(samples, rate)))
	return path
}

func newTestOrchestrator(fa *fakeAnalyzer, c *cache.ResultCache) (*Orchestrator, *bytes.Buffer) {
	var out bytes.Buffer
	o := NewOrchestrator(config.Default(), &out, true, WithAnalyzer(fa), WithCache(c))
	return o, &out
}

func TestExecuteWritesArrangement(t *testing.T) {
	song := writeSong(t)
	fa := &fakeAnalyzer{notes: pianoNotes(), tempo: 100}
	o, out := newTestOrchestrator(fa, nil)

	res, err := o.Execute(context.Background(), Config{
		InputPath:    song,
		OutputDir:    t.TempDir(),
		Difficulty:   arrange.Beginner,
		DetectChorus: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "song", res.JobID)
	assert.True(t, res.Chorus.Fallback)
	assert.InDelta(t, 4.0, res.Chorus.Start, 1e-9)
	assert.InDelta(t, 6.0, res.Chorus.End, 1e-9)
	assert.InDelta(t, 2.0, fa.sectionSecs, 1e-3)
	assert.Equal(t, 100.0, res.Tempo)
	assert.Equal(t, 6, res.RawNotes)
	assert.Empty(t, res.PDFPath)
	assert.FileExists(t, res.ChorusPath)
	assert.NoFileExists(t, filepath.Join(res.OutputDir, "input.mono.wav"))

	tr, err := ReadTranscription(res.TranscriptionPath)
	require.NoError(t, err)
	assert.Equal(t, "beginner", tr.Difficulty)
	assert.Equal(t, 100.0, tr.Tempo)
	require.Len(t, tr.Right, 2)
	assert.Equal(t, 67, tr.Right[0].Pitch)
	assert.Equal(t, 72, tr.Right[1].Pitch)
	require.Len(t, tr.Left, 2)
	assert.Equal(t, midi.HandLeft, tr.Left[0].Hand)

	notes, tempo, err := midi.ReadNotes(res.MIDIPath)
	require.NoError(t, err)
	assert.Len(t, notes, 4)
	assert.InDelta(t, 100, tempo, 0.01)

	assert.Contains(t, out.String(), "[3/7] Locating the chorus...")
	assert.Contains(t, out.String(), "render skipped (disabled)")
}

func TestExecuteTempoOverride(t *testing.T) {
	song := writeSong(t)
	o, _ := newTestOrchestrator(&fakeAnalyzer{notes: pianoNotes(), tempo: 100}, nil)

	res, err := o.Execute(context.Background(), Config{
		InputPath: song,
		OutputDir: t.TempDir(),
		Tempo:     90,
	})
	require.NoError(t, err)

	_, tempo, err := midi.ReadNotes(res.MIDIPath)
	require.NoError(t, err)
	assert.InDelta(t, 90, tempo, 0.01)
	assert.Equal(t, arrange.Beginner, res.Difficulty)
}

func TestExecuteWholeTrackWithoutChorus(t *testing.T) {
	song := writeSong(t)
	fa := &fakeAnalyzer{notes: pianoNotes(), tempo: 120}
	o, out := newTestOrchestrator(fa, nil)

	res, err := o.Execute(context.Background(), Config{InputPath: song, OutputDir: t.TempDir()})
	require.NoError(t, err)

	assert.False(t, res.Chorus.Fallback)
	assert.Equal(t, 0.0, res.Chorus.Start)
	assert.InDelta(t, 10.0, res.Chorus.End, 1e-9)
	assert.InDelta(t, 10.0, fa.sectionSecs, 1e-3)
	assert.Contains(t, out.String(), "chorus skipped (disabled)")
}

func TestExecuteReusesCachedAnalysis(t *testing.T) {
	song := writeSong(t)
	c, err := cache.New(t.TempDir(), "", "test")
	require.NoError(t, err)
	fa := &fakeAnalyzer{notes: pianoNotes(), tempo: 100}
	o, _ := newTestOrchestrator(fa, c)

	cfg := Config{InputPath: song, OutputDir: t.TempDir(), DetectChorus: true, UseCache: true}
	first, err := o.Execute(context.Background(), cfg)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	cfg.Difficulty = arrange.Advanced
	cfg.OutputDir = t.TempDir()
	second, err := o.Execute(context.Background(), cfg)
	require.NoError(t, err)

	assert.True(t, second.FromCache)
	assert.Equal(t, 1, fa.calls)
	assert.Equal(t, first.Chorus, second.Chorus)
	assert.Equal(t, first.CacheKey, second.CacheKey)
	assert.Len(t, second.Arrangement.Right, 4)

	history, err := c.GetOutputHistory(first.CacheKey)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "advanced", history[1].Difficulty)

	// a different chorus setting is a cache miss
	cfg.DetectChorus = false
	third, err := o.Execute(context.Background(), cfg)
	require.NoError(t, err)
	assert.False(t, third.FromCache)
	assert.Equal(t, 2, fa.calls)
}

func TestExecuteEmptyArrangementIsWarning(t *testing.T) {
	song := writeSong(t)
	o, out := newTestOrchestrator(&fakeAnalyzer{tempo: 120}, nil)

	res, err := o.Execute(context.Background(), Config{InputPath: song, OutputDir: t.TempDir()})
	require.NoError(t, err)

	assert.True(t, res.Arrangement.Empty())
	assert.Contains(t, res.Warnings, apperrors.ErrEmptyArrangement.Error())
	assert.Contains(t, out.String(), "Warning: arrangement has no notes")
	assert.FileExists(t, res.MIDIPath)
}

func TestExecuteRenderWithoutTools(t *testing.T) {
	song := writeSong(t)
	o, out := newTestOrchestrator(&fakeAnalyzer{notes: pianoNotes(), tempo: 120}, nil)

	res, err := o.Execute(context.Background(), Config{InputPath: song, OutputDir: t.TempDir(), RenderPDF: true})
	require.NoError(t, err)

	assert.Empty(t, res.PDFPath)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "required tool not installed")
	assert.Contains(t, out.String(), "Score not rendered")
}

func TestExecuteMissingInput(t *testing.T) {
	o, _ := newTestOrchestrator(&fakeAnalyzer{}, nil)

	_, err := o.Execute(context.Background(), Config{
		InputPath: filepath.Join(t.TempDir(), "missing.wav"),
		OutputDir: t.TempDir(),
		JobID:     "job-1",
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrFileNotFound))
	var se *apperrors.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "validate", se.Stage)
	assert.Equal(t, "job-1", se.Input)
}

func TestExecuteAnalysisErrorPropagates(t *testing.T) {
	song := writeSong(t)
	failure := apperrors.NewStageError("analyze", apperrors.ErrAnalysis)
	o, _ := newTestOrchestrator(&fakeAnalyzer{analyzeErr: failure}, nil)

	_, err := o.Execute(context.Background(), Config{
		InputPath:    song,
		OutputDir:    t.TempDir(),
		JobID:        "job-2",
		DetectChorus: true,
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrAnalysis))
	var se *apperrors.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "job-2", se.Input)
}

func TestDetectChorus(t *testing.T) {
	song := writeSong(t)
	o, _ := newTestOrchestrator(&fakeAnalyzer{}, nil)

	w, err := o.DetectChorus(context.Background(), song)
	require.NoError(t, err)
	assert.True(t, w.Fallback)
	assert.InDelta(t, 4.0, w.Start, 1e-9)
}

func TestArrange(t *testing.T) {
	o, _ := newTestOrchestrator(&fakeAnalyzer{}, nil)
	path := filepath.Join(t.TempDir(), "out.mid")

	arr, err := o.Arrange(pianoNotes(), arrange.Intermediate, 0, path)
	require.NoError(t, err)
	assert.False(t, arr.Empty())

	notes, tempo, err := midi.ReadNotes(path)
	require.NoError(t, err)
	assert.Len(t, notes, arr.NoteCount())
	assert.InDelta(t, 120, tempo, 0.01)

	empty := filepath.Join(t.TempDir(), "empty.mid")
	_, err = o.Arrange(nil, arrange.Beginner, 100, empty)
	assert.True(t, IsWarning(err))
	_, statErr := os.Stat(empty)
	assert.NoError(t, statErr)
}

func TestExecuteCachedURLSkipsDownload(t *testing.T) {
	// no yt-dlp on PATH: any download attempt fails
	t.Setenv("PATH", t.TempDir())
	const url = "https://www.youtube.com/watch?v=abc123"

	rc, err := cache.New(t.TempDir(), t.TempDir(), Fingerprint(config.Default()))
	require.NoError(t, err)
	require.NoError(t, rc.Put(cache.KeyForURL(url), &cache.Analysis{
		Source:         "Some Song",
		ChorusDetected: true,
		Notes:          pianoNotes(),
		Tempo:          110,
		Duration:       180,
	}))

	fa := &fakeAnalyzer{}
	o, out := newTestOrchestrator(fa, rc)

	res, err := o.Execute(context.Background(), Config{
		InputURL:     url,
		OutputDir:    t.TempDir(),
		Difficulty:   arrange.Advanced,
		DetectChorus: true,
		UseCache:     true,
	})
	require.NoError(t, err)

	assert.True(t, res.FromCache)
	assert.Equal(t, 0, fa.calls)
	assert.Equal(t, 110.0, res.Tempo)
	assert.FileExists(t, res.MIDIPath)
	assert.Contains(t, out.String(), "download skipped")
	assert.NotContains(t, out.String(), "Downloading")

	t.Run("uncached url still downloads", func(t *testing.T) {
		_, err := o.Execute(context.Background(), Config{
			InputURL:     "https://youtu.be/other",
			OutputDir:    t.TempDir(),
			DetectChorus: true,
			UseCache:     true,
		})
		var se *apperrors.StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "download", se.Stage)
		assert.ErrorIs(t, err, apperrors.ErrToolNotInstalled)
	})
}
