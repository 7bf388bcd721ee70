package progress

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Stage represents a processing stage
type Stage struct {
	Number      int
	Total       int
	Name        string
	Description string
}

// Predefined stages of a transcription run
var (
	StageValidate   = Stage{1, 7, "validate", "Validating input file..."}
	StageConvert    = Stage{2, 7, "convert", "Converting to mono WAV..."}
	StageChorus     = Stage{3, 7, "chorus", "Locating the chorus..."}
	StageTranscribe = Stage{4, 7, "transcribe", "Transcribing notes..."}
	StageArrange    = Stage{5, 7, "arrange", "Arranging for piano..."}
	StageEncode     = Stage{6, 7, "encode", "Writing MIDI..."}
	StageRender     = Stage{7, 7, "render", "Rendering score..."}
)

// Stages lists the predefined stages in execution order
var Stages = []Stage{
	StageValidate, StageConvert, StageChorus, StageTranscribe,
	StageArrange, StageEncode, StageRender,
}

// EventKind classifies a reporter event
type EventKind string

const (
	EventStage    EventKind = "stage"
	EventUpdate   EventKind = "update"
	EventComplete EventKind = "complete"
	EventWarning  EventKind = "warning"
	EventError    EventKind = "error"
	EventDone     EventKind = "done"
)

// Event is what listeners receive for every line the reporter prints
type Event struct {
	Kind    EventKind `json:"kind"`
	Stage   string    `json:"stage,omitempty"`
	Number  int       `json:"number,omitempty"`
	Total   int       `json:"total,omitempty"`
	Message string    `json:"message"`
}

// Reporter handles CLI progress output
type Reporter struct {
	out       io.Writer
	startTime time.Time
	verbose   bool

	mu       sync.Mutex
	current  Stage
	listener func(Event)
}

// NewReporter creates a new progress reporter
func NewReporter(out io.Writer, verbose bool) *Reporter {
	if out == nil {
		out = io.Discard
	}
	return &Reporter{
		out:       out,
		startTime: time.Now(),
		verbose:   verbose,
	}
}

// OnEvent registers fn to receive every event. Listeners see verbose
// updates even when the reporter is not verbose.
func (r *Reporter) OnEvent(fn func(Event)) *Reporter {
	r.mu.Lock()
	r.listener = fn
	r.mu.Unlock()
	return r
}

func (r *Reporter) emit(kind EventKind, msg string) {
	r.mu.Lock()
	fn, st := r.listener, r.current
	r.mu.Unlock()
	if fn != nil {
		fn(Event{Kind: kind, Stage: st.Name, Number: st.Number, Total: st.Total, Message: msg})
	}
}

// StartStage announces the beginning of a processing stage
func (r *Reporter) StartStage(stage Stage) {
	r.mu.Lock()
	r.current = stage
	r.mu.Unlock()
	fmt.Fprintf(r.out, "[%d/%d] %s\n", stage.Number, stage.Total, stage.Description)
	r.emit(EventStage, stage.Description)
}

// Update shows a sub-progress message within a stage
func (r *Reporter) Update(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if r.verbose {
		fmt.Fprintf(r.out, "       %s\n", msg)
	}
	r.emit(EventUpdate, msg)
}

// StageComplete shows completion message for a stage
func (r *Reporter) StageComplete(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(r.out, "       %s\n", msg)
	r.emit(EventComplete, msg)
}

// Skip marks a stage as skipped
func (r *Reporter) Skip(stage Stage, reason string) {
	r.mu.Lock()
	r.current = stage
	r.mu.Unlock()
	fmt.Fprintf(r.out, "[%d/%d] %s skipped (%s)\n", stage.Number, stage.Total, stage.Name, reason)
	r.emit(EventComplete, "skipped: "+reason)
}

// Done announces successful completion
func (r *Reporter) Done(outputPath string) {
	elapsed := time.Since(r.startTime)
	fmt.Fprintln(r.out, "Done! Piano arrangement written.")
	if outputPath != "" {
		fmt.Fprintf(r.out, "Output saved to: %s\n", outputPath)
	}
	fmt.Fprintf(r.out, "Completed in %.1f seconds\n", elapsed.Seconds())
	r.emit(EventDone, outputPath)
}

// Error announces an error
func (r *Reporter) Error(err error) {
	fmt.Fprintf(r.out, "Error: %s\n", err)
	r.emit(EventError, err.Error())
}

// Warning announces a non-fatal warning
func (r *Reporter) Warning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(r.out, "Warning: %s\n", msg)
	r.emit(EventWarning, msg)
}
