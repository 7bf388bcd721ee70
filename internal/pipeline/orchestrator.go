package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dygy/piano-grep/internal/analysis"
	"github.com/dygy/piano-grep/internal/arrange"
	"github.com/dygy/piano-grep/internal/audio"
	"github.com/dygy/piano-grep/internal/cache"
	"github.com/dygy/piano-grep/internal/config"
	apperrors "github.com/dygy/piano-grep/internal/errors"
	"github.com/dygy/piano-grep/internal/exec"
	"github.com/dygy/piano-grep/internal/midi"
	"github.com/dygy/piano-grep/internal/progress"
	"github.com/dygy/piano-grep/internal/score"
	"github.com/dygy/piano-grep/internal/structure"
	"github.com/dygy/piano-grep/internal/workspace"
)

// Config holds the per-run options
type Config struct {
	InputPath    string
	InputURL     string // YouTube URL, downloaded into the output dir
	JobID        string // attached to stage errors; defaults to the input name
	OutputDir    string // empty writes into a fresh temp directory
	Difficulty   arrange.Difficulty
	DetectChorus bool
	RenderPDF    bool
	Tempo        float64 // overrides the estimate when > 0
	UseCache     bool
}

// DefaultConfig returns the run options implied by settings
func DefaultConfig(settings *config.Config) Config {
	d, err := arrange.ParseDifficulty(settings.Arrangement.Difficulty)
	if err != nil {
		d = arrange.Beginner
	}
	return Config{
		Difficulty:   d,
		DetectChorus: settings.Chorus.Enabled,
		RenderPDF:    settings.Output.RenderPDF,
		UseCache:     true,
	}
}

// Result contains all pipeline outputs
type Result struct {
	JobID       string
	CacheKey    string
	FromCache   bool
	Duration    float64 // input length in seconds
	Chorus      structure.Window
	Tempo       float64
	Difficulty  arrange.Difficulty
	RawNotes    int
	Arrangement midi.Arrangement
	Warnings    []string

	OutputDir         string
	MIDIPath          string
	TranscriptionPath string
	ChorusPath        string
	PDFPath           string
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithAnalyzer replaces the analyzer chosen by the settings
func WithAnalyzer(a analysis.Analyzer) Option {
	return func(o *Orchestrator) { o.analyzer = a }
}

// WithCache uses c for analysis results. A nil cache disables caching.
func WithCache(c *cache.ResultCache) Option {
	return func(o *Orchestrator) {
		o.cache = c
		o.cacheSet = true
	}
}

// WithReporter sends progress to r instead of a fresh reporter
func WithReporter(r *progress.Reporter) Option {
	return func(o *Orchestrator) { o.progress = r }
}

// Orchestrator coordinates the full processing pipeline
type Orchestrator struct {
	settings   *config.Config
	runner     *exec.Runner
	converter  *audio.Converter
	downloader *audio.YouTubeDownloader
	analyzer   analysis.Analyzer
	detector   *structure.Detector
	reducer    *arrange.Reducer
	renderer   *score.Renderer
	cache      *cache.ResultCache
	cacheSet   bool
	progress   *progress.Reporter
}

// NewOrchestrator creates a new pipeline orchestrator
func NewOrchestrator(settings *config.Config, out io.Writer, verbose bool, opts ...Option) *Orchestrator {
	if settings == nil {
		settings = config.Default()
	}
	runner := exec.NewRunner(settings.Analysis.PythonPath, settings.Analysis.ScriptsDir)

	o := &Orchestrator{
		settings:   settings,
		runner:     runner,
		converter:  audio.NewConverter(runner),
		downloader: audio.NewYouTubeDownloader(runner),
		reducer:    arrange.NewReducer(settings.ReducerConfig()),
		renderer:   score.NewRenderer(runner),
		progress:   progress.NewReporter(out, verbose),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.analyzer == nil {
		o.analyzer = newAnalyzer(settings, runner)
	}
	if !o.cacheSet {
		// A cache that cannot be opened only costs re-analysis
		o.cache, _ = cache.New("", settings.Analysis.ScriptsDir, Fingerprint(settings))
	}

	ch := settings.Chorus
	o.detector = structure.NewDetector(
		o.analyzer,
		structure.NewSegmenter(settings.Analysis.Segments),
		&structure.Scorer{
			EnergyWeight:   ch.EnergyWeight,
			DurationWeight: ch.DurationWeight,
			TargetDuration: ch.TargetDuration,
		},
		structure.DetectorConfig{
			MinDuration:   ch.MinDuration,
			MaxDuration:   ch.MaxDuration,
			FallbackStart: ch.FallbackStart,
			FallbackEnd:   ch.FallbackEnd,
		},
	)
	return o
}

func newAnalyzer(settings *config.Config, runner *exec.Runner) analysis.Analyzer {
	if settings.Analysis.Backend == "script" {
		return analysis.NewScriptAnalyzer(runner)
	}
	return analysis.NewNativeAnalyzer(settings.NativeConfig())
}

// Fingerprint covers every setting that changes cached chorus windows or notes
func Fingerprint(s *config.Config) string {
	return fmt.Sprintf("%s|%+v|%+v", s.Analysis.Backend, s.Analysis, s.Chorus)
}

// Reporter returns the progress reporter
func (o *Orchestrator) Reporter() *progress.Reporter {
	return o.progress
}

// Execute runs the full pipeline
func (o *Orchestrator) Execute(ctx context.Context, cfg Config) (*Result, error) {
	ws, err := workspace.Open(cfg.OutputDir)
	if err != nil {
		return nil, err
	}
	defer ws.RemoveScratch()

	id := cfg.JobID
	if id == "" {
		id = inputName(cfg)
	}
	if cfg.Difficulty == "" {
		cfg.Difficulty = arrange.Beginner
	}

	result := &Result{
		JobID:      id,
		Difficulty: cfg.Difficulty,
		OutputDir:  ws.Dir,
	}

	// Stage 1: Validate (downloading first for URLs). A cached URL is
	// never downloaded again.
	o.progress.StartStage(progress.StageValidate)
	var analyzed *cache.Analysis
	if cfg.InputURL != "" {
		analyzed = o.lookupCache(cfg)
	}

	var format audio.Format
	if analyzed != nil {
		o.progress.StageComplete("Cached analysis for %s, download skipped", cfg.InputURL)
	} else {
		if cfg.InputURL != "" {
			o.progress.Update("Downloading %s", cfg.InputURL)
			path, err := o.downloader.Download(ctx, cfg.InputURL, ws.Dir)
			if err != nil {
				return nil, apperrors.WithInput(err, "download", id)
			}
			cfg.InputPath = path
		}
		format, err = audio.ValidateInput(cfg.InputPath, o.settings.MaxUploadBytes())
		if err != nil {
			return nil, apperrors.WithInput(err, "validate", id)
		}
		o.progress.StageComplete("Valid %s file", format)

		if cfg.InputURL == "" {
			analyzed = o.lookupCache(cfg)
		}
	}

	if analyzed != nil {
		result.FromCache = true
		o.progress.Skip(progress.StageConvert, "cached")
		o.progress.Skip(progress.StageChorus, "cached")
		o.progress.Skip(progress.StageTranscribe, "cached")
	} else {
		analyzed, err = o.analyze(ctx, cfg, ws, format, result)
		if err != nil {
			return nil, apperrors.WithInput(err, "analyze", id)
		}
	}
	result.CacheKey = analyzed.Key
	result.Duration = analyzed.Duration
	result.Chorus = analyzed.Chorus
	result.RawNotes = len(analyzed.Notes)

	result.Tempo = analyzed.Tempo
	if cfg.Tempo > 0 {
		result.Tempo = cfg.Tempo
	}

	// Stage 5: Arrange
	o.progress.StartStage(progress.StageArrange)
	arr := o.reducer.Reduce(analyzed.Notes, cfg.Difficulty)
	result.Arrangement = arr
	if arr.Empty() {
		result.Warnings = append(result.Warnings, apperrors.ErrEmptyArrangement.Error())
		o.progress.Warning("%v: writing an empty MIDI file", apperrors.ErrEmptyArrangement)
	}
	o.progress.StageComplete("%s: %d right hand, %d left hand notes",
		cfg.Difficulty, len(arr.Right), len(arr.Left))

	// Stage 6: Encode and write
	o.progress.StartStage(progress.StageEncode)
	stream := midi.Encode(arr, result.Tempo, o.settings.Output.TicksPerBeat)
	if err := midi.WriteSMFFile(ws.ArrangementMIDI(), stream); err != nil {
		return nil, apperrors.WithInput(err, "encode", id)
	}
	result.MIDIPath = ws.ArrangementMIDI()

	tr := NewTranscription(result, analyzed.Source)
	if err := WriteTranscription(ws.TranscriptionJSON(), tr); err != nil {
		return nil, apperrors.WithInput(err, "encode", id)
	}
	result.TranscriptionPath = ws.TranscriptionJSON()
	if workspace.Exists(ws.ChorusWAV()) {
		result.ChorusPath = ws.ChorusWAV()
	}
	o.progress.StageComplete("MIDI written (%d ticks per beat, %.0f BPM)", stream.TicksPerBeat, stream.TempoBPM)

	if o.cache != nil && result.CacheKey != "" {
		out := &cache.Output{
			Difficulty: string(cfg.Difficulty),
			RightNotes: len(arr.Right),
			LeftNotes:  len(arr.Left),
			Tempo:      result.Tempo,
			MIDIPath:   result.MIDIPath,
		}
		if err := o.cache.SaveOutput(result.CacheKey, out); err != nil {
			o.progress.Warning("Cache save failed: %v", err)
		}
	}

	// Stage 7: Render
	if !cfg.RenderPDF {
		o.progress.Skip(progress.StageRender, "disabled")
	} else {
		o.progress.StartStage(progress.StageRender)
		if err := o.renderer.Render(ctx, ws.ArrangementMIDI(), ws.ScoreLY(), ws.ScorePDF()); err != nil {
			if ctx.Err() != nil {
				return nil, apperrors.WithInput(ctx.Err(), "render", id)
			}
			result.Warnings = append(result.Warnings, err.Error())
			o.progress.Warning("Score not rendered: %v", err)
		} else {
			result.PDFPath = ws.ScorePDF()
			o.progress.StageComplete("Score rendered")
		}
	}

	o.progress.Done(result.MIDIPath)
	return result, nil
}

// cachedAnalysis looks up a previous analysis of the same input
// lookupCache returns the cached analysis for cfg, or nil on a miss. Key
// failures only warn.
func (o *Orchestrator) lookupCache(cfg Config) *cache.Analysis {
	analyzed, err := o.cachedAnalysis(cfg)
	if err != nil {
		o.progress.Warning("Cache key failed: %v", err)
	}
	return analyzed
}

func (o *Orchestrator) cachedAnalysis(cfg Config) (*cache.Analysis, error) {
	if !cfg.UseCache || o.cache == nil {
		return nil, nil
	}
	key, err := inputKey(cfg)
	if err != nil {
		return nil, err
	}
	entry, ok := o.cache.Get(key)
	if !ok {
		return nil, nil
	}
	if entry.ChorusDetected != cfg.DetectChorus {
		return nil, nil
	}
	o.progress.Update("Using cached analysis (key: %s)", key)
	return entry, nil
}

// analyze runs convert, chorus and transcribe and caches the outcome
func (o *Orchestrator) analyze(ctx context.Context, cfg Config, ws *workspace.Workspace, format audio.Format, result *Result) (*cache.Analysis, error) {
	if t := o.settings.Analysis.Timeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	// Stage 2: Convert
	o.progress.StartStage(progress.StageConvert)
	if c, ok := o.analyzer.(analysis.Checker); ok {
		if err := c.Check(ctx); err != nil {
			return nil, err
		}
	}
	track, err := o.load(ctx, cfg.InputPath, ws, format)
	if err != nil {
		return nil, err
	}
	o.progress.StageComplete("%.1f seconds at %d Hz", track.Duration(), track.SampleRate)

	// Stage 3: Chorus
	var window structure.Window
	if cfg.DetectChorus {
		o.progress.StartStage(progress.StageChorus)
		window, err = o.detector.Detect(ctx, track)
		if err != nil {
			return nil, apperrors.WithInput(err, "chorus", result.JobID)
		}
		if window.Fallback {
			o.progress.Warning("No chorus segment found, using %.0f%%-%.0f%% of the track",
				o.settings.Chorus.FallbackStart*100, o.settings.Chorus.FallbackEnd*100)
		}
		o.progress.StageComplete("Chorus %.1fs-%.1fs (confidence %.2f)", window.Start, window.End, window.Confidence)
	} else {
		window = structure.Window{End: track.Duration(), Confidence: 1}
		o.progress.Skip(progress.StageChorus, "disabled")
	}

	section := track.Slice(window.Start, window.End)
	if err := audio.WriteWAV(ws.ChorusWAV(), section); err != nil {
		o.progress.Warning("Chorus audio not saved: %v", err)
	}

	// Stage 4: Transcribe
	o.progress.StartStage(progress.StageTranscribe)
	notes, err := o.analyzer.ExtractNotes(ctx, section, o.settings.Analysis.FreqRange)
	if err != nil {
		return nil, apperrors.WithInput(err, "transcribe", result.JobID)
	}

	// The estimate is cached even when overridden so later runs can use it
	tempo, err := o.analyzer.EstimateTempo(ctx, section)
	if err != nil || tempo <= 0 {
		if ctx.Err() != nil {
			return nil, apperrors.WithInput(ctx.Err(), "transcribe", result.JobID)
		}
		tempo = o.settings.Output.DefaultTempo
		o.progress.Warning("Tempo estimate failed, using %.0f BPM", tempo)
	}
	o.progress.StageComplete("%d notes, %.0f BPM", len(notes), tempo)

	source := inputName(cfg)
	if cfg.InputURL != "" {
		if title, err := o.downloader.GetVideoTitle(ctx, cfg.InputURL); err == nil {
			source = title
		}
	}

	entry := &cache.Analysis{
		Source:         source,
		Chorus:         window,
		ChorusDetected: cfg.DetectChorus,
		Notes:          notes,
		Tempo:          tempo,
		Duration:       track.Duration(),
	}

	if cfg.UseCache && o.cache != nil {
		key, err := inputKey(cfg)
		if err == nil {
			err = o.cache.Put(key, entry)
		}
		if err != nil {
			o.progress.Warning("Cache save failed: %v", err)
		}
	}
	return entry, nil
}

// load converts the input to mono WAV and decodes it at the analysis rate
func (o *Orchestrator) load(ctx context.Context, path string, ws *workspace.Workspace, format audio.Format) (*audio.Track, error) {
	rate := o.settings.Analysis.SampleRate
	if err := o.converter.ToWAV(ctx, path, ws.InputWAV(), format, rate); err != nil {
		return nil, apperrors.NewStageError("convert", err)
	}
	track, err := audio.LoadWAV(ws.InputWAV(), rate)
	if err != nil {
		return nil, apperrors.NewStageError("convert", err)
	}
	return track, nil
}

// DetectChorus validates and converts path and returns its chorus window
func (o *Orchestrator) DetectChorus(ctx context.Context, path string) (structure.Window, error) {
	format, err := audio.ValidateInput(path, o.settings.MaxUploadBytes())
	if err != nil {
		return structure.Window{}, apperrors.WithInput(err, "validate", filepath.Base(path))
	}

	ws, err := workspace.Create()
	if err != nil {
		return structure.Window{}, err
	}
	defer ws.Cleanup()

	track, err := o.load(ctx, path, ws, format)
	if err != nil {
		return structure.Window{}, apperrors.WithInput(err, "convert", filepath.Base(path))
	}
	w, err := o.detector.Detect(ctx, track)
	if err != nil {
		return structure.Window{}, apperrors.WithInput(err, "chorus", filepath.Base(path))
	}
	return w, nil
}

// Arrange reduces notes for difficulty and writes the two-hand MIDI file
// to midiPath. Tempo <= 0 uses the configured default.
func (o *Orchestrator) Arrange(notes []midi.Note, d arrange.Difficulty, tempo float64, midiPath string) (midi.Arrangement, error) {
	if tempo <= 0 {
		tempo = o.settings.Output.DefaultTempo
	}
	arr := o.reducer.Reduce(notes, d)
	stream := midi.Encode(arr, tempo, o.settings.Output.TicksPerBeat)
	if err := midi.WriteSMFFile(midiPath, stream); err != nil {
		return arr, apperrors.WithInput(err, "encode", filepath.Base(midiPath))
	}
	if arr.Empty() {
		return arr, apperrors.ErrEmptyArrangement
	}
	return arr, nil
}

func inputKey(cfg Config) (string, error) {
	if cfg.InputURL != "" {
		return cache.KeyForURL(cfg.InputURL), nil
	}
	return cache.KeyForFile(cfg.InputPath)
}

func inputName(cfg Config) string {
	if cfg.InputURL != "" {
		return cfg.InputURL
	}
	return strings.TrimSuffix(filepath.Base(cfg.InputPath), filepath.Ext(cfg.InputPath))
}

// IsWarning reports whether err only signals a degraded result
func IsWarning(err error) bool {
	return errors.Is(err, apperrors.ErrEmptyArrangement)
}
