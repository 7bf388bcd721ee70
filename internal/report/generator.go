// Package report renders a self-contained HTML page for one arrangement:
// summary, chorus audio, MIDI download and a piano roll of both hands.
package report

import (
	"encoding/base64"
	"fmt"
	"html"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dygy/piano-grep/internal/midi"
	"github.com/dygy/piano-grep/internal/pipeline"
	"github.com/dygy/piano-grep/internal/workspace"
)

// ReportData holds all data needed to generate a report
type ReportData struct {
	TrackName  string
	Difficulty string
	Tempo      float64
	Duration   float64
	ChorusFrom float64
	ChorusTo   float64
	Fallback   bool
	Confidence float64
	Right      []midi.Note
	Left       []midi.Note
	CreatedAt  time.Time

	// Files embedded as data URIs
	ChorusPath string
	MIDIPath   string
}

// Generator creates HTML reports from a job output directory
type Generator struct {
	outputDir string
}

// NewGenerator creates a new report generator
func NewGenerator(outputDir string) *Generator {
	return &Generator{outputDir: outputDir}
}

// LoadData loads all data needed for the report from disk
func (g *Generator) LoadData() (*ReportData, error) {
	ws := &workspace.Workspace{Dir: g.outputDir}

	tr, err := pipeline.ReadTranscription(ws.TranscriptionJSON())
	if err != nil {
		return nil, err
	}

	data := &ReportData{
		TrackName:  tr.Source,
		Difficulty: tr.Difficulty,
		Tempo:      tr.Tempo,
		Duration:   tr.Duration,
		ChorusFrom: tr.Chorus.Start,
		ChorusTo:   tr.Chorus.End,
		Fallback:   tr.Chorus.Fallback,
		Confidence: tr.Chorus.Confidence,
		Right:      tr.Right,
		Left:       tr.Left,
		CreatedAt:  time.Now(),
	}
	if workspace.Exists(ws.ChorusWAV()) {
		data.ChorusPath = ws.ChorusWAV()
	}
	if workspace.Exists(ws.ArrangementMIDI()) {
		data.MIDIPath = ws.ArrangementMIDI()
	}

	// Fallback track name from directory
	if data.TrackName == "" {
		data.TrackName = filepath.Base(g.outputDir)
	}
	return data, nil
}

// Generate writes the HTML report, by default as report.html in the output dir
func (g *Generator) Generate(outputPath string) (string, error) {
	data, err := g.LoadData()
	if err != nil {
		return "", fmt.Errorf("failed to load data: %w", err)
	}

	if outputPath == "" {
		outputPath = filepath.Join(g.outputDir, "report.html")
	}

	if err := os.WriteFile(outputPath, []byte(generateHTML(data)), 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return outputPath, nil
}

// GenerateFromData creates HTML from pre-loaded data
func GenerateFromData(data *ReportData) string {
	return generateHTML(data)
}

// Helper functions

func encodeBase64(path, mime string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))
}

func formatTime(sec float64) string {
	m := int(sec) / 60
	return fmt.Sprintf("%d:%04.1f", m, sec-float64(m*60))
}

var pitchNames = []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// noteName spells a MIDI pitch with sharps, middle C as C4
func noteName(pitch int) string {
	if pitch < 0 {
		return "?"
	}
	return fmt.Sprintf("%s%d", pitchNames[pitch%12], pitch/12-1)
}

const (
	rollPxPerSecond = 80.0
	rollPxPerPitch  = 6.0
)

// pianoRoll draws both hands as an SVG, right hand in blue and left in orange
func pianoRoll(right, left []midi.Note) string {
	all := append(append([]midi.Note{}, right...), left...)
	if len(all) == 0 {
		return `<div class="no-data">No notes in this arrangement</div>`
	}

	lo, hi, end := 127, 0, 0.0
	for _, n := range all {
		lo = min(lo, n.Pitch)
		hi = max(hi, n.Pitch)
		end = math.Max(end, n.End())
	}
	lo, hi = max(lo-2, 0), min(hi+2, 127)

	width := math.Max(end*rollPxPerSecond, 200)
	height := float64(hi-lo+1) * rollPxPerPitch

	var b strings.Builder
	fmt.Fprintf(&b, `<svg class="roll" viewBox="0 0 %.0f %.0f" width="%.0f" height="%.0f">`, width, height, width, height)
	// C lines
	for p := lo; p <= hi; p++ {
		if p%12 == 0 {
			y := float64(hi-p) * rollPxPerPitch
			fmt.Fprintf(&b, `<line x1="0" x2="%.0f" y1="%.1f" y2="%.1f" class="c-line"/><text x="2" y="%.1f">%s</text>`,
				width, y+rollPxPerPitch, y+rollPxPerPitch, y+rollPxPerPitch-1, noteName(p))
		}
	}
	draw := func(notes []midi.Note, class string) {
		for _, n := range notes {
			fmt.Fprintf(&b, `<rect class="%s" x="%.1f" y="%.1f" width="%.1f" height="%.1f"><title>%s %s-%s</title></rect>`,
				class,
				n.Start*rollPxPerSecond,
				float64(hi-n.Pitch)*rollPxPerPitch,
				math.Max(n.Duration*rollPxPerSecond, 1),
				rollPxPerPitch-1,
				noteName(n.Pitch), formatTime(n.Start), formatTime(n.End()))
		}
	}
	draw(left, "left")
	draw(right, "right")
	b.WriteString(`</svg>`)
	return b.String()
}

func generateHTML(data *ReportData) string {
	chorusData := encodeBase64(data.ChorusPath, "audio/wav")
	midiData := encodeBase64(data.MIDIPath, "audio/midi")

	trackName := html.EscapeString(data.TrackName)

	chorusKind := "detected"
	if data.Fallback {
		chorusKind = "fallback window"
	}

	audioPlayer := `<div class="no-data">Chorus audio not available</div>`
	if chorusData != "" {
		audioPlayer = fmt.Sprintf(`<audio controls src="%s"></audio>`, chorusData)
	}
	download := ""
	if midiData != "" {
		download = fmt.Sprintf(`<a class="button" download="arrangement.mid" href="%s">Download MIDI</a>`, midiData)
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>piano-grep: %s</title>
    <style>
        :root {
            --bg-primary: #0d1117;
            --bg-secondary: #161b22;
            --text-primary: #c9d1d9;
            --text-secondary: #8b949e;
            --accent: #58a6ff;
            --accent-orange: #d29922;
            --border: #30363d;
        }
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Helvetica, Arial, sans-serif;
            background: var(--bg-primary);
            color: var(--text-primary);
            line-height: 1.6;
            padding: 2rem;
        }
        h1 { font-size: 1.5rem; margin-bottom: 1rem; }
        .card {
            background: var(--bg-secondary);
            border: 1px solid var(--border);
            border-radius: 6px;
            padding: 1rem;
            margin-bottom: 1rem;
        }
        .stats { display: grid; grid-template-columns: repeat(auto-fit, minmax(140px, 1fr)); gap: 1rem; }
        .stat-label { color: var(--text-secondary); font-size: 0.8rem; text-transform: uppercase; }
        .stat-value { font-size: 1.25rem; }
        .no-data { color: var(--text-secondary); font-style: italic; }
        .button { color: var(--accent); text-decoration: none; border: 1px solid var(--border); padding: 0.3rem 0.8rem; border-radius: 6px; }
        .roll-wrap { overflow-x: auto; }
        .roll text { fill: var(--text-secondary); font-size: 6px; }
        .roll .c-line { stroke: var(--border); stroke-width: 0.5; }
        .roll .right { fill: var(--accent); }
        .roll .left { fill: var(--accent-orange); }
        audio { width: 100%%; margin-bottom: 0.5rem; }
        footer { color: var(--text-secondary); font-size: 0.8rem; }
    </style>
</head>
<body>
    <h1>%s</h1>
    <div class="card stats">
        <div><div class="stat-label">Difficulty</div><div class="stat-value">%s</div></div>
        <div><div class="stat-label">Tempo</div><div class="stat-value">%.0f BPM</div></div>
        <div><div class="stat-label">Chorus</div><div class="stat-value">%s - %s</div><div class="stat-label">%s, confidence %.2f</div></div>
        <div><div class="stat-label">Right hand</div><div class="stat-value">%d notes</div></div>
        <div><div class="stat-label">Left hand</div><div class="stat-value">%d notes</div></div>
        <div><div class="stat-label">Track length</div><div class="stat-value">%s</div></div>
    </div>
    <div class="card">
        %s
        %s
    </div>
    <div class="card roll-wrap">
        %s
    </div>
    <footer>Generated %s</footer>
</body>
</html>
`,
		trackName,
		trackName,
		html.EscapeString(data.Difficulty),
		data.Tempo,
		formatTime(data.ChorusFrom), formatTime(data.ChorusTo), chorusKind, data.Confidence,
		len(data.Right),
		len(data.Left),
		formatTime(data.Duration),
		audioPlayer,
		download,
		pianoRoll(data.Right, data.Left),
		data.CreatedAt.Format("2006-01-02 15:04"),
	)
}
