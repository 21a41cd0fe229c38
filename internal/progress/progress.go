// Package progress carries sync-cycle progress to terminals, JSON consumers and callbacks.
//
// Implementations include:
// - CLIReporter: pretty-printed terminal output using pterm
// - JSONReporter: one structured JSON event per line
// - Func: adapts a plain callback
package progress

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pterm/pterm"
)

// Stage names a point in the sync state machine.
type Stage string

const (
	StageInitialized Stage = "initialized"
	StageExtracting  Stage = "extracting"
	StageExtracted   Stage = "extracted"
	StageCacheHit    Stage = "cache-hit"
	StageGenerating  Stage = "generating"
	StageGenerator   Stage = "generator"
	StageGenerated   Stage = "generated"
	StageCached      Stage = "cached"
	StageFailed      Stage = "failed"
)

// Update is one progress notification.
type Update struct {
	Stage     Stage          `json:"stage"`
	Message   string         `json:"message"`
	Percent   int            `json:"percent"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Reporter receives progress updates. Reporters must not block for long;
// the orchestrator calls them inline.
type Reporter interface {
	Report(Update)
}

// Func adapts a function to Reporter.
type Func func(Update)

func (f Func) Report(u Update) { f(u) }

// Nop discards updates.
type Nop struct{}

func (Nop) Report(Update) {}

// Multi fans an update out to several reporters.
type Multi []Reporter

func (m Multi) Report(u Update) {
	for _, r := range m {
		if r != nil {
			r.Report(u)
		}
	}
}

// CLIReporter outputs pretty-printed progress to the terminal using pterm.
type CLIReporter struct {
	verbose bool
}

// NewCLIReporter creates a terminal reporter. Non-verbose mode prints only
// the outcome stages.
func NewCLIReporter(verbose bool) *CLIReporter {
	return &CLIReporter{verbose: verbose}
}

func (r *CLIReporter) Report(u Update) {
	switch u.Stage {
	case StageFailed:
		pterm.Error.Println(u.Message)
	case StageCacheHit:
		pterm.Info.Printf("%s\n", u.Message)
	case StageCached, StageGenerated:
		pterm.Success.Printf("%s\n", u.Message)
	case StageGenerator:
		pterm.Printf("  📝 %s %s\n", u.Message, pterm.Gray(fmt.Sprintf("(%v)", u.Details["path"])))
	default:
		if r.verbose {
			pterm.Printf("🔄 %s %s %s\n", pterm.LightCyan(string(u.Stage)), u.Message, pterm.Gray(fmt.Sprintf("%d%%", u.Percent)))
		}
	}
}

// Event is the JSON envelope written by JSONReporter.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      Update    `json:"data"`
}

// JSONReporter writes one JSON event per update.
type JSONReporter struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

// NewJSONReporter writes to w, or stdout when w is nil.
func NewJSONReporter(w io.Writer) *JSONReporter {
	if w == nil {
		w = os.Stdout
	}
	return &JSONReporter{encoder: json.NewEncoder(w)}
}

func (r *JSONReporter) Report(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.encoder.Encode(Event{Type: "progress", Timestamp: u.Timestamp, Data: u})
}

// Recorder keeps every update; useful in tests and for summaries.
type Recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *Recorder) Report(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

// Updates returns a copy of what has been recorded.
func (r *Recorder) Updates() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

// Stages returns the recorded stage sequence.
func (r *Recorder) Stages() []Stage {
	var out []Stage
	for _, u := range r.Updates() {
		out = append(out, u.Stage)
	}
	return out
}
