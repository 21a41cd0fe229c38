// Package typegen turns an API schema into TypeScript artifacts.
//
// Generators are pluggable but the set of kinds is closed and ordered:
// types, client, hooks, ai-hooks. The Registry owns one generator per kind.
package typegen

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/farm-stack/farm/internal/schema"
)

// Kind identifies a generator.
type Kind int

const (
	KindTypes Kind = iota
	KindClient
	KindHooks
	KindAIHooks
)

// Kinds is the fixed generation order.
var Kinds = []Kind{KindTypes, KindClient, KindHooks, KindAIHooks}

func (k Kind) String() string {
	switch k {
	case KindTypes:
		return "types"
	case KindClient:
		return "client"
	case KindHooks:
		return "hooks"
	case KindAIHooks:
		return "ai-hooks"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText renders the kind by name in JSON output.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// FileName is the artifact written by the kind into the output directory.
func (k Kind) FileName() string {
	return k.String() + ".ts"
}

// Features is the generation feature matrix.
type Features struct {
	Client    bool `json:"client"`
	Hooks     bool `json:"hooks"`
	Streaming bool `json:"streaming"`
	AI        bool `json:"ai"`
}

// Enabled applies the gating rules: types always run, the client needs Client,
// hooks need Hooks, and AI hooks need both Hooks and AI.
func Enabled(k Kind, f Features) bool {
	switch k {
	case KindTypes:
		return true
	case KindClient:
		return f.Client
	case KindHooks:
		return f.Hooks
	case KindAIHooks:
		return f.Hooks && f.AI
	default:
		return false
	}
}

// Options is passed to every generator in a cycle.
type Options struct {
	OutputDir string
	Features  Features
	// APIPrefix is prepended to request paths by the client.
	APIPrefix string
}

// Artifact describes a written file.
type Artifact struct {
	Kind     Kind          `json:"kind"`
	Path     string        `json:"path"`
	Bytes    int           `json:"bytes"`
	Duration time.Duration `json:"duration"`
}

// Generator produces one artifact from a schema.
type Generator interface {
	Kind() Kind
	// Generate writes the artifact, creating the output directory if needed.
	Generate(ctx context.Context, doc *schema.Document, opts Options) (Artifact, error)
}

// GenerationError wraps a failing generator. Artifacts written earlier in the
// cycle are left in place.
type GenerationError struct {
	Kind Kind
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generator failed: %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Registry maps each kind to its generator.
type Registry struct {
	generators map[Kind]Generator
}

// NewRegistry builds a registry. A later generator replaces an earlier one of the same kind.
func NewRegistry(gens ...Generator) (*Registry, error) {
	r := &Registry{generators: make(map[Kind]Generator, len(Kinds))}
	for _, g := range gens {
		if err := r.Register(g); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRegistry returns the built-in generators.
func DefaultRegistry() *Registry {
	r, _ := NewRegistry(
		NewTypesGenerator(),
		NewClientGenerator(),
		NewHooksGenerator(),
		NewAIHooksGenerator(),
	)
	return r
}

// Register installs g for its kind.
func (r *Registry) Register(g Generator) error {
	if g == nil {
		return errors.New("nil generator")
	}
	k := g.Kind()
	if k < KindTypes || k > KindAIHooks {
		return errors.Newf("unknown generator kind %d", int(k))
	}
	r.generators[k] = g
	return nil
}

// Get returns the generator for k.
func (r *Registry) Get(k Kind) (Generator, bool) {
	g, ok := r.generators[k]
	return g, ok
}

// Plan returns the generators that run for f, in generation order.
func (r *Registry) Plan(f Features) []Generator {
	var out []Generator
	for _, k := range Kinds {
		if !Enabled(k, f) {
			continue
		}
		if g, ok := r.Get(k); ok {
			out = append(out, g)
		}
	}
	return out
}

// Run executes the plan for opts, stopping at the first failure. The artifacts
// written before the failure are returned alongside the error.
func (r *Registry) Run(ctx context.Context, doc *schema.Document, opts Options, onArtifact func(Artifact)) ([]Artifact, error) {
	var artifacts []Artifact
	for _, g := range r.Plan(opts.Features) {
		if err := ctx.Err(); err != nil {
			return artifacts, &GenerationError{Kind: g.Kind(), Err: err}
		}
		a, err := g.Generate(ctx, doc, opts)
		if err != nil {
			return artifacts, &GenerationError{Kind: g.Kind(), Err: err}
		}
		artifacts = append(artifacts, a)
		if onArtifact != nil {
			onArtifact(a)
		}
	}
	return artifacts, nil
}
