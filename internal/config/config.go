package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dygy/piano-grep/internal/analysis"
	"github.com/dygy/piano-grep/internal/arrange"
)

// DefaultFile is looked up in the working directory when no path is given
const DefaultFile = "piano-grep.yaml"

type Server struct {
	Port        int           `yaml:"port"`
	ResultsDir  string        `yaml:"results_dir"`
	MaxUploadMB int64         `yaml:"max_upload_mb"`
	JobTTL      time.Duration `yaml:"job_ttl"`
	CORSOrigins []string      `yaml:"cors_origins"`
}

type Analysis struct {
	// Backend is "native" (in-process) or "script" (python helpers)
	Backend     string             `yaml:"backend"`
	SampleRate  int                `yaml:"sample_rate"`
	FrameLength int                `yaml:"frame_length"`
	HopLength   int                `yaml:"hop_length"`
	NumMFCC     int                `yaml:"n_mfcc"`
	NumMels     int                `yaml:"n_mels"`
	Segments    int                `yaml:"segments"`
	FreqRange   analysis.FreqRange `yaml:"freq_range"`
	PythonPath  string             `yaml:"python_path"`
	ScriptsDir  string             `yaml:"scripts_dir"`
	Timeout     time.Duration      `yaml:"timeout"`
}

type Chorus struct {
	Enabled        bool    `yaml:"enabled"`
	MinDuration    float64 `yaml:"min_duration"`
	MaxDuration    float64 `yaml:"max_duration"`
	TargetDuration float64 `yaml:"target_duration"`
	EnergyWeight   float64 `yaml:"energy_weight"`
	DurationWeight float64 `yaml:"duration_weight"`
	FallbackStart  float64 `yaml:"fallback_start"`
	FallbackEnd    float64 `yaml:"fallback_end"`
}

type Arrangement struct {
	Difficulty   string `yaml:"difficulty"`
	SplitPitch   int    `yaml:"split_pitch"`
	MaxPolyRight int    `yaml:"max_poly_right"`
	MaxPolyLeft  int    `yaml:"max_poly_left"`
}

type Output struct {
	TicksPerBeat int     `yaml:"ticks_per_beat"`
	DefaultTempo float64 `yaml:"default_tempo"`
	RenderPDF    bool    `yaml:"render_pdf"`
}

type Log struct {
	Level string `yaml:"level"`
}

// Config is the full application configuration
type Config struct {
	Server      Server      `yaml:"server"`
	Analysis    Analysis    `yaml:"analysis"`
	Chorus      Chorus      `yaml:"chorus"`
	Arrangement Arrangement `yaml:"arrangement"`
	Output      Output      `yaml:"output"`
	Log         Log         `yaml:"log"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: Server{
			Port:        8080,
			ResultsDir:  filepath.Join(os.TempDir(), "piano-grep"),
			MaxUploadMB: 100,
			JobTTL:      time.Hour,
			CORSOrigins: []string{"*"},
		},
		Analysis: Analysis{
			Backend:     "native",
			SampleRate:  22050,
			FrameLength: 2048,
			HopLength:   512,
			NumMFCC:     13,
			NumMels:     40,
			Segments:    8,
			FreqRange:   analysis.DefaultFreqRange(),
			ScriptsDir:  "scripts/python",
			Timeout:     10 * time.Minute,
		},
		Chorus: Chorus{
			Enabled:        true,
			MinDuration:    10,
			MaxDuration:    45,
			TargetDuration: 30,
			EnergyWeight:   0.7,
			DurationWeight: 0.3,
			FallbackStart:  0.4,
			FallbackEnd:    0.6,
		},
		Arrangement: Arrangement{
			Difficulty:   string(arrange.Beginner),
			SplitPitch:   60,
			MaxPolyRight: 3,
			MaxPolyLeft:  2,
		},
		Output: Output{
			TicksPerBeat: 480,
			DefaultTempo: 120,
		},
		Log: Log{Level: "info"},
	}
}

// Load reads path on top of Default. An empty path tries DefaultFile and
// falls back to the defaults when it does not exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	f, err := os.Open(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.MaxUploadMB <= 0 {
		errs = append(errs, errors.New("server.max_upload_mb must be positive"))
	}
	switch c.Analysis.Backend {
	case "native", "script":
	default:
		errs = append(errs, fmt.Errorf("analysis.backend %q must be native or script", c.Analysis.Backend))
	}
	if c.Analysis.SampleRate <= 0 || c.Analysis.HopLength <= 0 || c.Analysis.FrameLength < c.Analysis.HopLength {
		errs = append(errs, errors.New("analysis: sample_rate and hop_length must be positive and frame_length >= hop_length"))
	}
	if c.Analysis.FreqRange.Max <= c.Analysis.FreqRange.Min {
		errs = append(errs, errors.New("analysis.freq_range: max must exceed min"))
	}
	if c.Chorus.MinDuration < 0 || c.Chorus.MaxDuration < c.Chorus.MinDuration {
		errs = append(errs, errors.New("chorus: need 0 <= min_duration <= max_duration"))
	}
	if c.Chorus.TargetDuration <= 0 {
		errs = append(errs, errors.New("chorus.target_duration must be positive"))
	}
	if c.Chorus.EnergyWeight < 0 || c.Chorus.DurationWeight < 0 || c.Chorus.EnergyWeight+c.Chorus.DurationWeight > 1+1e-9 {
		errs = append(errs, errors.New("chorus: energy_weight and duration_weight must be non-negative and sum to at most 1"))
	}
	if c.Chorus.FallbackStart < 0 || c.Chorus.FallbackEnd > 1 || c.Chorus.FallbackEnd <= c.Chorus.FallbackStart {
		errs = append(errs, errors.New("chorus: fallback window must satisfy 0 <= start < end <= 1"))
	}
	if _, err := arrange.ParseDifficulty(c.Arrangement.Difficulty); err != nil {
		errs = append(errs, fmt.Errorf("arrangement.difficulty: %w", err))
	}
	if c.Arrangement.MaxPolyRight <= 0 || c.Arrangement.MaxPolyLeft <= 0 {
		errs = append(errs, errors.New("arrangement: polyphony caps must be positive"))
	}
	if c.Arrangement.SplitPitch < 1 || c.Arrangement.SplitPitch > 127 {
		errs = append(errs, errors.New("arrangement.split_pitch must be a MIDI pitch between 1 and 127"))
	}
	if c.Output.TicksPerBeat <= 0 || c.Output.TicksPerBeat > 0x7FFF {
		errs = append(errs, errors.New("output.ticks_per_beat out of range"))
	}
	if c.Output.DefaultTempo <= 0 {
		errs = append(errs, errors.New("output.default_tempo must be positive"))
	}

	return errors.Join(errs...)
}

// MaxUploadBytes returns the upload limit in bytes
func (c *Config) MaxUploadBytes() int64 {
	return c.Server.MaxUploadMB * 1024 * 1024
}

// ReducerConfig maps the arrangement section onto the reducer settings
func (c *Config) ReducerConfig() arrange.Config {
	rc := arrange.DefaultConfig()
	rc.SplitPitch = c.Arrangement.SplitPitch
	rc.MaxPolyRight = c.Arrangement.MaxPolyRight
	rc.MaxPolyLeft = c.Arrangement.MaxPolyLeft
	return rc
}

// NativeConfig maps the analysis section onto the in-process analyzer settings
func (c *Config) NativeConfig() analysis.NativeConfig {
	return analysis.NativeConfig{
		FrameLength: c.Analysis.FrameLength,
		HopLength:   c.Analysis.HopLength,
		NumMFCC:     c.Analysis.NumMFCC,
		NumMels:     c.Analysis.NumMels,
	}
}
