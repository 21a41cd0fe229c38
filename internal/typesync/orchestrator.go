// Package typesync runs type synchronisation cycles: extract the schema, consult
// the cache, generate artifacts and record the result.
package typesync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/farm-stack/farm/internal/cache"
	"github.com/farm-stack/farm/internal/differ"
	"github.com/farm-stack/farm/internal/extractor"
	"github.com/farm-stack/farm/internal/logger"
	"github.com/farm-stack/farm/internal/progress"
	"github.com/farm-stack/farm/internal/schema"
	"github.com/farm-stack/farm/internal/typegen"
)

// ErrNotInitialized is returned by SyncOnce before Initialize.
var ErrNotInitialized = errors.New("orchestrator not initialized")

// Source produces the current schema.
type Source interface {
	Extract(ctx context.Context) (*schema.Document, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (*schema.Document, error)

func (f SourceFunc) Extract(ctx context.Context) (*schema.Document, error) { return f(ctx) }

// Config is the sync configuration, fixed for the lifetime of a watch session.
type Config struct {
	Extractor extractor.Config
	OutputDir string
	Features  typegen.Features
	APIPrefix string
}

// SyncOptions override the configuration for one cycle.
type SyncOptions struct {
	OutputDir string
	Features  *typegen.Features
	// Force regenerates even when the cache holds a matching entry.
	Force bool
}

// Result describes one completed cycle. FilesGenerated is zero exactly when FromCache is set.
type Result struct {
	CycleID        string             `json:"cycle_id"`
	SchemaHash     string             `json:"schema_hash"`
	FilesGenerated int                `json:"files_generated"`
	FromCache      bool               `json:"from_cache"`
	Artifacts      []string           `json:"artifacts"`
	Metrics        []typegen.Artifact `json:"metrics,omitempty"`
	Changes        []differ.Change    `json:"changes,omitempty"`
	Duration       time.Duration      `json:"duration"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSource replaces the extractor built from Config.Extractor.
func WithSource(s Source) Option {
	return func(o *Orchestrator) { o.source = s }
}

func WithCache(c *cache.Cache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

func WithRegistry(r *typegen.Registry) Option {
	return func(o *Orchestrator) { o.registry = r }
}

func WithReporter(r progress.Reporter) Option {
	return func(o *Orchestrator) { o.reporter = r }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *Orchestrator) { o.logger = logger.OrNop(l) }
}

// Orchestrator runs sync cycles one at a time.
type Orchestrator struct {
	mu          sync.Mutex
	config      Config
	initialized bool
	source      Source
	cache       *cache.Cache
	registry    *typegen.Registry
	reporter    progress.Reporter
	logger      *zap.SugaredLogger
	last        *schema.Document
	// ownSource is set when the source is built from Config.Extractor.
	ownSource bool
}

func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: typegen.DefaultRegistry(),
		reporter: progress.Nop{},
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cache == nil {
		o.cache, _ = cache.New(cache.NewMemoryStore(), cache.WithLogger(o.logger))
	}
	o.ownSource = o.source == nil
	return o
}

// Initialize stores cfg and creates the output directory. Calling it again
// replaces the configuration, including the extractor unless one was given
// with WithSource.
func (o *Orchestrator) Initialize(cfg Config) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if cfg.OutputDir == "" {
		return errors.WithHint(errors.New("output directory is required"), "set types.output_dir in farm.yaml")
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create output directory %s", cfg.OutputDir)
	}
	if o.ownSource {
		o.source = extractor.New(cfg.Extractor, extractor.WithLogger(o.logger))
	}

	o.config = cfg
	o.initialized = true
	o.report(progress.StageInitialized, "Type sync initialized", 0, map[string]any{
		"output_dir": cfg.OutputDir,
		"features":   cfg.Features,
	})
	o.logger.Debugw("Type sync initialized", "output_dir", cfg.OutputDir, "features", cfg.Features)
	return nil
}

// SyncOnce runs one cycle. Concurrent calls are serialised.
func (o *Orchestrator) SyncOnce(ctx context.Context, opts SyncOptions) (*Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.initialized {
		return nil, errors.WithHint(ErrNotInitialized, "call Initialize before SyncOnce")
	}

	start := time.Now()
	cycleID := uuid.NewString()
	log := o.logger.With("cycle", cycleID)

	genOpts := typegen.Options{
		OutputDir: o.config.OutputDir,
		Features:  o.config.Features,
		APIPrefix: o.config.APIPrefix,
	}
	if opts.OutputDir != "" {
		genOpts.OutputDir = opts.OutputDir
	}
	if opts.Features != nil {
		genOpts.Features = *opts.Features
	}

	o.report(progress.StageExtracting, "Extracting schema", 10, map[string]any{"cycle": cycleID})
	doc, err := o.source.Extract(ctx)
	if err != nil {
		o.report(progress.StageFailed, fmt.Sprintf("Schema extraction failed: %v", err), 100, map[string]any{"cycle": cycleID})
		log.Errorw("Schema extraction failed", "error", err)
		return nil, err
	}

	// The cycle runs to completion once the schema is in hand.
	ctx = context.WithoutCancel(ctx)

	hash := cache.Hash(doc)
	o.report(progress.StageExtracted, fmt.Sprintf("Schema extracted (%d routes)", doc.RouteCount()), 30, map[string]any{
		"cycle":  cycleID,
		"hash":   hash,
		"routes": doc.RouteCount(),
	})

	prev := o.last
	if prev == nil {
		if entry, ok := o.cache.Latest(ctx); ok {
			prev = entry.Schema
		}
	}
	var changes []differ.Change
	if prev != nil && !prev.Equal(doc) {
		changes = differ.Changes(prev, doc)
	}

	fp := fingerprint(genOpts)
	if !opts.Force {
		if entry, ok := o.cache.Get(ctx, hash); ok && o.usable(entry, doc, fp) {
			o.last = doc
			o.cache.MarkLatest(ctx, hash)
			o.report(progress.StageCacheHit, "Schema unchanged, using cached types", 100, map[string]any{
				"cycle":     cycleID,
				"hash":      hash,
				"artifacts": len(entry.Artifacts),
			})
			log.Debugw("Cache hit", "hash", hash)
			return &Result{
				CycleID:    cycleID,
				SchemaHash: hash,
				FromCache:  true,
				Artifacts:  entry.Artifacts,
				Changes:    changes,
				Duration:   time.Since(start),
			}, nil
		}
	}

	plan := o.registry.Plan(genOpts.Features)
	if len(plan) == 0 {
		err := errors.WithHint(errors.New("no generators enabled"), "register a types generator")
		o.report(progress.StageFailed, err.Error(), 100, map[string]any{"cycle": cycleID})
		return nil, err
	}

	o.report(progress.StageGenerating, fmt.Sprintf("Generating %d artifact(s)", len(plan)), 40, map[string]any{
		"cycle":      cycleID,
		"generators": len(plan),
	})

	done := 0
	artifacts, err := o.registry.Run(ctx, doc, genOpts, func(a typegen.Artifact) {
		done++
		o.report(progress.StageGenerator, a.Kind.String(), 40+50*done/len(plan), map[string]any{
			"cycle":    cycleID,
			"kind":     a.Kind.String(),
			"path":     a.Path,
			"bytes":    a.Bytes,
			"duration": a.Duration.String(),
		})
	})
	if err != nil {
		o.report(progress.StageFailed, err.Error(), 100, map[string]any{"cycle": cycleID, "written": len(artifacts)})
		log.Errorw("Generation failed", "error", err, "written", len(artifacts))
		return nil, err
	}

	paths := make([]string, len(artifacts))
	for i, a := range artifacts {
		paths[i] = a.Path
	}
	o.report(progress.StageGenerated, fmt.Sprintf("Generated %d file(s)", len(artifacts)), 90, map[string]any{
		"cycle": cycleID,
		"files": paths,
	})

	o.cache.Set(ctx, hash, &cache.Entry{Schema: doc, Artifacts: paths, Fingerprint: fp})
	o.cache.MarkLatest(ctx, hash)
	o.last = doc
	o.report(progress.StageCached, "Types synced", 100, map[string]any{"cycle": cycleID, "hash": hash})
	log.Infow("Types regenerated", "files", len(artifacts), "hash", hash, "changes", len(changes))

	return &Result{
		CycleID:        cycleID,
		SchemaHash:     hash,
		FilesGenerated: len(artifacts),
		Artifacts:      paths,
		Metrics:        artifacts,
		Changes:        changes,
		Duration:       time.Since(start),
	}, nil
}

// usable reports whether a cache entry can stand in for generation.
func (o *Orchestrator) usable(entry *cache.Entry, doc *schema.Document, fp string) bool {
	if entry.Fingerprint != fp {
		o.logger.Debugw("Cached entry produced with different options", "hash", entry.Hash)
		return false
	}
	if differ.HasSchemaChanges(entry.Schema, doc) {
		return false
	}
	if len(entry.Artifacts) == 0 {
		return false
	}
	for _, p := range entry.Artifacts {
		if _, err := os.Stat(p); err != nil {
			o.logger.Debugw("Cached artifact missing", "path", p)
			return false
		}
	}
	return true
}

// report never lets a reporter failure affect the cycle.
func (o *Orchestrator) report(stage progress.Stage, message string, percent int, details map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Warnw("Progress reporter panicked", "stage", stage, "panic", r)
		}
	}()
	o.reporter.Report(progress.Update{
		Stage:     stage,
		Message:   message,
		Percent:   percent,
		Details:   details,
		Timestamp: time.Now(),
	})
}

// Close releases the cache store.
func (o *Orchestrator) Close() error {
	return o.cache.Close()
}

// fingerprint identifies the options that shape generated output.
func fingerprint(opts typegen.Options) string {
	dir, err := filepath.Abs(opts.OutputDir)
	if err != nil {
		dir = opts.OutputDir
	}
	data, _ := json.Marshal(struct {
		OutputDir string           `json:"output_dir"`
		Features  typegen.Features `json:"features"`
		APIPrefix string           `json:"api_prefix"`
	}{dir, opts.Features, opts.APIPrefix})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
