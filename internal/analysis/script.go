package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dygy/piano-grep/internal/audio"
	apperrors "github.com/dygy/piano-grep/internal/errors"
	"github.com/dygy/piano-grep/internal/exec"
	"github.com/dygy/piano-grep/internal/midi"
)

// scriptFeatures is the JSON written by features.py
type scriptFeatures struct {
	SampleRate int         `json:"sample_rate"`
	HopLength  int         `json:"hop_length"`
	MFCC       [][]float64 `json:"mfcc"`
	Energy     []float64   `json:"energy"`
	Tempo      float64     `json:"tempo"`
}

// ScriptAnalyzer delegates analysis to the Python helpers (librosa for
// features and tempo, basic-pitch for notes)
type ScriptAnalyzer struct {
	runner *exec.Runner
}

// NewScriptAnalyzer creates a script-backed analyzer
func NewScriptAnalyzer(runner *exec.Runner) *ScriptAnalyzer {
	return &ScriptAnalyzer{runner: runner}
}

// scriptPackages are the Python modules the helper scripts import
var scriptPackages = []string{"librosa", "numpy", "basic_pitch"}

// Check verifies the interpreter can import every helper dependency
func (a *ScriptAnalyzer) Check(ctx context.Context) error {
	for _, pkg := range scriptPackages {
		if err := a.runner.CheckPythonDependency(ctx, pkg); err != nil {
			return apperrors.NewStageError("analyze", fmt.Errorf("%w: %v", apperrors.ErrToolNotInstalled, err))
		}
	}
	return nil
}

// Analyze runs features.py and decodes its JSON output
func (a *ScriptAnalyzer) Analyze(ctx context.Context, track *audio.Track) (*FeatureSet, error) {
	feats, err := a.features(ctx, track)
	if err != nil {
		return nil, err
	}
	if len(feats.MFCC) == 0 {
		return nil, apperrors.NewStageError("analyze", fmt.Errorf("%w: no frames", apperrors.ErrAnalysis))
	}

	energy := feats.Energy
	if len(energy) != len(feats.MFCC) {
		energy = make([]float64, len(feats.MFCC))
		copy(energy, feats.Energy)
	}

	return &FeatureSet{
		Matrix: feats.MFCC,
		Energy: NormalizeEnergy(energy),
		Clock:  FrameClock{SampleRate: feats.SampleRate, HopLength: feats.HopLength},
		Tempo:  feats.Tempo,
	}, nil
}

// ExtractNotes runs transcribe.py and keeps the notes whose pitch lies in r
func (a *ScriptAnalyzer) ExtractNotes(ctx context.Context, track *audio.Track, r FreqRange) ([]midi.Note, error) {
	dir, wavPath, err := a.stage(track)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	midiPath := filepath.Join(dir, "notes.mid")
	result, err := a.runner.RunScript(ctx, "transcribe.py", wavPath, midiPath)
	if err != nil {
		return nil, scriptError("transcribe", result, err)
	}

	raw, _, err := midi.ReadNotes(midiPath)
	if err != nil {
		return nil, apperrors.NewStageError("transcribe", fmt.Errorf("%w: %v", apperrors.ErrAnalysis, err))
	}

	if r.Max <= r.Min {
		r = DefaultFreqRange()
	}
	notes := make([]midi.Note, 0, len(raw))
	for _, n := range raw {
		if r.ContainsPitch(n.Pitch) && n.Duration > 0 {
			notes = append(notes, n)
		}
	}
	return notes, nil
}

// EstimateTempo reuses the librosa beat tracker output of features.py
func (a *ScriptAnalyzer) EstimateTempo(ctx context.Context, track *audio.Track) (float64, error) {
	feats, err := a.features(ctx, track)
	if err != nil {
		return 0, err
	}
	if feats.Tempo <= 0 {
		return DefaultTempo, nil
	}
	return feats.Tempo, nil
}

func (a *ScriptAnalyzer) features(ctx context.Context, track *audio.Track) (*scriptFeatures, error) {
	dir, wavPath, err := a.stage(track)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	outPath := filepath.Join(dir, "features.json")
	result, err := a.runner.RunScript(ctx, "features.py", wavPath, outPath)
	if err != nil {
		return nil, scriptError("analyze", result, err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, apperrors.NewStageError("analyze", fmt.Errorf("%w: read features: %v", apperrors.ErrAnalysis, err))
	}

	var feats scriptFeatures
	if err := json.Unmarshal(data, &feats); err != nil {
		return nil, apperrors.NewStageError("analyze", fmt.Errorf("%w: parse features: %v", apperrors.ErrAnalysis, err))
	}
	if feats.SampleRate <= 0 || feats.HopLength <= 0 {
		return nil, apperrors.NewStageError("analyze", fmt.Errorf("%w: features without frame clock", apperrors.ErrAnalysis))
	}
	return &feats, nil
}

// stage writes the track to a temporary WAV for the helper scripts
func (a *ScriptAnalyzer) stage(track *audio.Track) (string, string, error) {
	if err := checkTrack(track); err != nil {
		return "", "", err
	}
	dir, err := os.MkdirTemp("", "piano-grep-analysis-*")
	if err != nil {
		return "", "", fmt.Errorf("create temp dir: %w", err)
	}
	wavPath := filepath.Join(dir, "input.wav")
	if err := audio.WriteWAV(wavPath, track); err != nil {
		os.RemoveAll(dir)
		return "", "", err
	}
	return dir, wavPath, nil
}

func scriptError(stage string, result *exec.Result, err error) error {
	var stderr string
	var code int
	if result != nil {
		stderr, code = result.Stderr, result.ExitCode
	}
	perr := apperrors.NewProcessError("python", stage, code, stderr, err)
	return apperrors.NewStageError(stage, fmt.Errorf("%w: %w", apperrors.ErrAnalysis, perr))
}
