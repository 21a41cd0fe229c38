package watch

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/farm-stack/farm/internal/logger"
)

// EventType names a watch session event.
type EventType string

const (
	EventRegenerationStart    EventType = "regeneration-start"
	EventRegenerationComplete EventType = "regeneration-complete"
	EventError                EventType = "error"
	EventFrontendUpdate       EventType = "frontend-update"
	EventAIReload             EventType = "ai-reload"
	EventAIReloadFailed       EventType = "ai-reload-failed"
)

// Event is delivered to session listeners and reload clients.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Files     []string  `json:"files,omitempty"`
	Outcome   *Outcome  `json:"outcome,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Outcome summarises one sync cycle.
type Outcome struct {
	FilesGenerated int      `json:"files_generated"`
	FromCache      bool     `json:"from_cache"`
	Artifacts      []string `json:"artifacts,omitempty"`
}

// Syncer runs one sync cycle for a batch of changed files.
type Syncer interface {
	Sync(ctx context.Context, changed []string) (Outcome, error)
}

// SyncFunc adapts a function to Syncer.
type SyncFunc func(ctx context.Context, changed []string) (Outcome, error)

func (f SyncFunc) Sync(ctx context.Context, changed []string) (Outcome, error) {
	return f(ctx, changed)
}

// Coordinator serialises sync cycles. While a cycle runs, further triggers are
// merged into a single pending batch that runs once the current cycle ends.
type Coordinator struct {
	ctx      context.Context
	syncer   Syncer
	emit     func(Event)
	notifier Notifier
	aiPaths  []string
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	running bool
	pending map[string]struct{}
	queued  bool
	cycles  int
	idle    *sync.Cond
}

// CoordinatorConfig wires a Coordinator.
type CoordinatorConfig struct {
	Syncer   Syncer
	Emit     func(Event)
	Notifier Notifier
	AIPaths  []string
	Logger   *zap.SugaredLogger
}

func NewCoordinator(ctx context.Context, config CoordinatorConfig) *Coordinator {
	c := &Coordinator{
		ctx:      ctx,
		syncer:   config.Syncer,
		emit:     config.Emit,
		notifier: config.Notifier,
		aiPaths:  config.AIPaths,
		logger:   logger.OrNop(config.Logger),
		pending:  make(map[string]struct{}),
	}
	if c.emit == nil {
		c.emit = func(Event) {}
	}
	c.idle = sync.NewCond(&c.mu)
	return c
}

// Trigger requests a cycle for files. It never blocks on the cycle itself.
func (c *Coordinator) Trigger(files []string) {
	if c.ctx.Err() != nil {
		return
	}

	c.mu.Lock()
	if c.running {
		for _, f := range files {
			c.pending[f] = struct{}{}
		}
		c.queued = true
		c.mu.Unlock()
		c.logger.Debugw("Cycle in progress, queued changes", "files", len(files))
		return
	}
	c.running = true
	c.mu.Unlock()

	go c.loop(files)
}

func (c *Coordinator) loop(batch []string) {
	for {
		c.run(batch)

		c.mu.Lock()
		c.cycles++
		if !c.queued || c.ctx.Err() != nil {
			c.running = false
			c.queued = false
			c.pending = make(map[string]struct{})
			c.idle.Broadcast()
			c.mu.Unlock()
			return
		}
		batch = sortedKeys(c.pending)
		c.pending = make(map[string]struct{})
		c.queued = false
		c.mu.Unlock()
	}
}

func (c *Coordinator) run(files []string) {
	c.emit(Event{Type: EventRegenerationStart, Timestamp: time.Now(), Files: files})

	outcome, err := c.syncer.Sync(c.ctx, files)
	if err != nil {
		c.logger.Errorw("Sync cycle failed", "error", err)
		c.emit(Event{Type: EventError, Timestamp: time.Now(), Files: files, Error: err.Error()})
		return
	}

	c.emit(Event{Type: EventRegenerationComplete, Timestamp: time.Now(), Files: files, Outcome: &outcome})

	if !outcome.FromCache {
		c.emit(Event{Type: EventFrontendUpdate, Timestamp: time.Now(), Files: outcome.Artifacts, Outcome: &outcome})
	}

	if c.notifier != nil && MatchesAny(files, c.aiPaths) {
		c.emit(Event{Type: EventAIReload, Timestamp: time.Now(), Files: files})
		go c.notifyAI(files)
	}
}

// notifyAI is best effort; failures never reach the sync pipeline.
func (c *Coordinator) notifyAI(files []string) {
	if err := c.notifier.Notify(c.ctx, files); err != nil {
		c.logger.Warnw("AI reload failed", "error", err)
		c.emit(Event{Type: EventAIReloadFailed, Timestamp: time.Now(), Files: files, Error: err.Error()})
	}
}

// Wait blocks until no cycle is running or pending.
func (c *Coordinator) Wait() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.running {
		c.idle.Wait()
	}
}

// Cycles returns the number of completed cycles.
func (c *Coordinator) Cycles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cycles
}

// MatchesAny reports whether any file lies under one of roots, or matches it as a glob.
func MatchesAny(files, roots []string) bool {
	for _, f := range files {
		clean := filepath.Clean(f)
		for _, root := range roots {
			r := filepath.Clean(root)
			if clean == r || strings.HasPrefix(clean, r+string(filepath.Separator)) {
				return true
			}
			if ok, _ := filepath.Match(root, clean); ok {
				return true
			}
			if ok, _ := filepath.Match(root, filepath.Base(clean)); ok {
				return true
			}
		}
	}
	return false
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
