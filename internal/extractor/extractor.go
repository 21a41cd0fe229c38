// Package extractor obtains the API schema from a running backend, or from one it
// launches temporarily for the duration of the call.
package extractor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/farm-stack/farm/internal/logger"
	"github.com/farm-stack/farm/internal/schema"
)

const maxSchemaBytes = 32 << 20

// LaunchConfig describes how to start a temporary backend.
type LaunchConfig struct {
	// Command is split like a shell would; {{port}} and {{host}} are substituted.
	Command string
	Dir     string
	Env     map[string]string
	UsePTY  bool
}

// Config controls extraction.
type Config struct {
	URL            string
	SchemaPath     string
	FetchTimeout   time.Duration
	StartupTimeout time.Duration
	PollInterval   time.Duration
	KillTimeout    time.Duration
	Launch         LaunchConfig
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = "http://localhost:8000"
	}
	if c.SchemaPath == "" {
		c.SchemaPath = "/openapi.json"
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.KillTimeout <= 0 {
		c.KillTimeout = 5 * time.Second
	}
	return c
}

// Endpoint is the full schema URL.
func (c Config) Endpoint() string {
	return strings.TrimRight(c.URL, "/") + "/" + strings.TrimLeft(c.SchemaPath, "/")
}

// ExtractionError reports that neither the live backend nor the fallback
// produced a schema.
type ExtractionError struct {
	URL       string
	LiveErr   error
	LaunchErr error
}

func (e *ExtractionError) Error() string {
	if e.LaunchErr == nil {
		return fmt.Sprintf("failed to extract schema from %s: %v", e.URL, e.LiveErr)
	}
	return fmt.Sprintf("failed to extract schema from %s: live fetch: %v; fallback backend: %v", e.URL, e.LiveErr, e.LaunchErr)
}

func (e *ExtractionError) Unwrap() []error {
	var errs []error
	for _, err := range []error{e.LiveErr, e.LaunchErr} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Option configures an Extractor.
type Option func(*Extractor)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Extractor) { e.logger = logger.OrNop(l) }
}

func WithHTTPClient(c *http.Client) Option {
	return func(e *Extractor) { e.client = c }
}

// WithLaunchHook is called with the PID of every launched backend.
func WithLaunchHook(fn func(pid int)) Option {
	return func(e *Extractor) { e.launchHook = fn }
}

// Extractor fetches schemas. It performs no filesystem writes.
type Extractor struct {
	config     Config
	client     *http.Client
	logger     *zap.SugaredLogger
	launchHook func(pid int)
}

func New(config Config, opts ...Option) *Extractor {
	e := &Extractor{
		config: config.withDefaults(),
		client: &http.Client{},
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Extractor) Config() Config { return e.config }

// Extract fetches the schema from the live backend. If that fails and a launch
// command is configured, it starts the backend, polls until the schema is
// served, and terminates the process before returning.
func (e *Extractor) Extract(ctx context.Context) (*schema.Document, error) {
	endpoint := e.config.Endpoint()

	doc, liveErr := e.Fetch(ctx)
	if liveErr == nil {
		e.logger.Debugw("Fetched schema from live backend", "url", endpoint)
		return doc, nil
	}

	if strings.TrimSpace(e.config.Launch.Command) == "" {
		return nil, errors.WithHint(
			&ExtractionError{URL: endpoint, LiveErr: liveErr},
			"start the backend or set backend.launch_cmd so it can be launched temporarily",
		)
	}
	if ctx.Err() != nil {
		return nil, &ExtractionError{URL: endpoint, LiveErr: liveErr, LaunchErr: ctx.Err()}
	}

	e.logger.Infow("Live backend unavailable, launching temporary backend", "url", endpoint, "error", liveErr)
	doc, launchErr := e.extractWithBackend(ctx)
	if launchErr != nil {
		return nil, &ExtractionError{URL: endpoint, LiveErr: liveErr, LaunchErr: launchErr}
	}
	return doc, nil
}

// Fetch performs a single GET of the schema endpoint.
func (e *Extractor) Fetch(ctx context.Context) (*schema.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.FetchTimeout)
	defer cancel()

	endpoint := e.config.Endpoint()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid schema URL %q", endpoint)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, errors.Newf("unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSchemaBytes))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}
	doc, err := schema.Parse(body)
	if err != nil {
		return nil, errors.Wrap(err, "invalid schema document")
	}
	return doc, nil
}

// hostPort returns the host and port the launched backend is expected to bind.
func (c Config) hostPort() (string, string) {
	u, err := url.Parse(c.URL)
	if err != nil || u.Hostname() == "" {
		return "localhost", "8000"
	}
	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return u.Hostname(), port
}
