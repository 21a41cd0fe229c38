package typegen

import (
	"bytes"
	"context"
	"embed"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/farm-stack/farm/internal/schema"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("typegen").Funcs(template.FuncMap{
	"join":  strings.Join,
	"quote": quote,
}).ParseFS(templateFS, "templates/*.tmpl"))

var blankLines = regexp.MustCompile(`\n{3,}`)

type templateData struct {
	*Analysis
	Features Features
}

// TemplateGenerator renders one embedded template into the output directory.
type TemplateGenerator struct {
	kind     Kind
	template string
}

// NewTypesGenerator emits interfaces and aliases for component schemas.
func NewTypesGenerator() *TemplateGenerator {
	return &TemplateGenerator{kind: KindTypes, template: "types.ts.tmpl"}
}

// NewClientGenerator emits a fetch-based API client.
func NewClientGenerator() *TemplateGenerator {
	return &TemplateGenerator{kind: KindClient, template: "client.ts.tmpl"}
}

// NewHooksGenerator emits React Query hooks, plus streaming hooks when enabled.
func NewHooksGenerator() *TemplateGenerator {
	return &TemplateGenerator{kind: KindHooks, template: "hooks.ts.tmpl"}
}

// NewAIHooksGenerator emits hooks for AI routes.
func NewAIHooksGenerator() *TemplateGenerator {
	return &TemplateGenerator{kind: KindAIHooks, template: "ai-hooks.ts.tmpl"}
}

func (g *TemplateGenerator) Kind() Kind { return g.kind }

// Render produces the artifact content without touching the filesystem.
func (g *TemplateGenerator) Render(doc *schema.Document, opts Options) ([]byte, error) {
	analysis, err := Analyze(doc)
	if err != nil {
		return nil, errors.Wrap(err, "analyzing schema")
	}
	analysis.APIPrefix = strings.TrimRight(opts.APIPrefix, "/")

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, g.template, templateData{Analysis: analysis, Features: opts.Features}); err != nil {
		return nil, errors.Wrapf(err, "failed to execute template %s", g.template)
	}

	out := blankLines.ReplaceAll(buf.Bytes(), []byte("\n\n"))
	out = append(bytes.TrimRight(out, "\n"), '\n')
	return out, nil
}

func (g *TemplateGenerator) Generate(ctx context.Context, doc *schema.Document, opts Options) (Artifact, error) {
	start := time.Now()

	content, err := g.Render(doc, opts)
	if err != nil {
		return Artifact{}, err
	}
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}

	path := filepath.Join(opts.OutputDir, g.kind.FileName())
	if err := writeFile(path, content); err != nil {
		return Artifact{}, err
	}

	return Artifact{
		Kind:     g.kind,
		Path:     path,
		Bytes:    len(content),
		Duration: time.Since(start),
	}, nil
}

func writeFile(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", path)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}
