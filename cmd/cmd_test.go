package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farm-stack/farm/config"
	"github.com/farm-stack/farm/internal/differ"
	"github.com/farm-stack/farm/internal/fixture"
)

type project struct {
	dir     string
	config  string
	output  string
	backend *httptest.Server
	handler atomic.Pointer[http.Handler]
}

func newProject(t *testing.T) *project {
	t.Helper()
	p := &project{dir: t.TempDir()}
	p.config = filepath.Join(p.dir, config.DefaultConfigFile)
	p.output = filepath.Join(p.dir, "generated")
	p.serve(fixture.Options{})
	p.backend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		(*p.handler.Load()).ServeHTTP(w, r)
	}))
	t.Cleanup(p.backend.Close)
	return p
}

func (p *project) serve(opts fixture.Options) {
	p.setHandler(fixture.Handler(opts))
}

func (p *project) setHandler(h http.Handler) {
	p.handler.Store(&h)
}

func (p *project) writeConfig(t *testing.T, mutate func(*config.ProjectConfig)) {
	t.Helper()
	cfg := config.Default()
	cfg.Name = "demo"
	cfg.Backend.URL = p.backend.URL
	cfg.Types.OutputDir = p.output
	cfg.Cache.Backend = "file"
	cfg.Cache.Dir = filepath.Join(p.dir, "cache")
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, config.Save(cfg, p.config))
}

func (p *project) run(args ...string) (string, error) {
	root := NewRootCmd("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", p.config, "--env-file", "", "--quiet"}, args...))
	err := root.Execute()
	return out.String(), err
}

// jsonLines decodes every line of JSON output with the given envelope type.
func jsonLines(t *testing.T, out, kind string) []json.RawMessage {
	t.Helper()
	var data []json.RawMessage
	sc := bufio.NewScanner(bytes.NewBufferString(out))
	for sc.Scan() {
		var env struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if json.Unmarshal(sc.Bytes(), &env) == nil && env.Type == kind {
			data = append(data, env.Data)
		}
	}
	return data
}

type syncResult struct {
	FilesGenerated int      `json:"files_generated"`
	FromCache      bool     `json:"from_cache"`
	Artifacts      []string `json:"artifacts"`
	Changes        []struct {
		Summary string `json:"summary"`
	} `json:"changes"`
}

func lastResult(t *testing.T, out string) syncResult {
	t.Helper()
	results := jsonLines(t, out, "result")
	require.NotEmpty(t, results, out)
	var res syncResult
	require.NoError(t, json.Unmarshal(results[len(results)-1], &res))
	return res
}

func TestSyncThenCached(t *testing.T) {
	p := newProject(t)
	p.writeConfig(t, nil)

	out, err := p.run("sync", "--json")
	require.NoError(t, err)
	res := lastResult(t, out)
	assert.Equal(t, 3, res.FilesGenerated)
	assert.False(t, res.FromCache)
	assert.NotEmpty(t, jsonLines(t, out, "progress"))

	for _, name := range []string{"types.ts", "client.ts", "hooks.ts"} {
		assert.FileExists(t, filepath.Join(p.output, name))
	}

	out, err = p.run("sync", "--json")
	require.NoError(t, err)
	res = lastResult(t, out)
	assert.True(t, res.FromCache)
	assert.Zero(t, res.FilesGenerated)

	out, err = p.run("sync", "--json", "--force")
	require.NoError(t, err)
	assert.Equal(t, 3, lastResult(t, out).FilesGenerated)
}

func TestSyncReportsChangesSincePreviousRun(t *testing.T) {
	p := newProject(t)
	p.writeConfig(t, nil)

	out, err := p.run("sync", "--json")
	require.NoError(t, err)
	assert.Empty(t, lastResult(t, out).Changes)

	p.serve(fixture.Options{Posts: true})
	out, err = p.run("sync", "--json")
	require.NoError(t, err)
	res := lastResult(t, out)
	var summaries []string
	for _, c := range res.Changes {
		summaries = append(summaries, c.Summary)
	}
	assert.Contains(t, strings.Join(summaries, "\n"), "/api/posts")
}

func TestSyncFlagOverrides(t *testing.T) {
	p := newProject(t)
	p.writeConfig(t, func(c *config.ProjectConfig) { c.Backend.URL = "http://127.0.0.1:1" })

	other := filepath.Join(p.dir, "elsewhere")
	out, err := p.run("sync", "--json", "--backend-url", p.backend.URL, "--output-dir", other, "--cache-backend", "memory")
	require.NoError(t, err)
	assert.Equal(t, 3, lastResult(t, out).FilesGenerated)
	assert.FileExists(t, filepath.Join(other, "types.ts"))
	assert.NoDirExists(t, filepath.Join(p.dir, "cache"))
}

func TestSyncEnvOverride(t *testing.T) {
	p := newProject(t)
	p.writeConfig(t, func(c *config.ProjectConfig) { c.Backend.URL = "http://127.0.0.1:1" })
	t.Setenv("FARM_BACKEND_URL", p.backend.URL)

	out, err := p.run("sync", "--json")
	require.NoError(t, err)
	assert.Equal(t, 3, lastResult(t, out).FilesGenerated)
}

func TestSyncUnreachableCacheDegrades(t *testing.T) {
	p := newProject(t)
	p.writeConfig(t, func(c *config.ProjectConfig) {
		c.Cache.Backend = "redis"
		c.Cache.Redis.Addr = "127.0.0.1:1"
	})

	out, err := p.run("sync", "--json")
	require.NoError(t, err)
	assert.Equal(t, 3, lastResult(t, out).FilesGenerated)
}

func TestSyncBackendDown(t *testing.T) {
	p := newProject(t)
	p.writeConfig(t, func(c *config.ProjectConfig) { c.Backend.URL = "http://127.0.0.1:1" })

	_, err := p.run("sync")
	require.Error(t, err)
	assert.NotEmpty(t, errors.GetAllHints(err))
	assert.NoFileExists(t, filepath.Join(p.output, "types.ts"))
}

func TestCheck(t *testing.T) {
	p := newProject(t)
	p.writeConfig(t, nil)

	_, err := p.run("check")
	var mismatch *differ.MismatchError
	require.True(t, errors.As(err, &mismatch), "expected mismatch, got %v", err)
	assert.Len(t, mismatch.Diffs, 3)

	_, err = p.run("sync")
	require.NoError(t, err)

	out, err := p.run("check")
	require.NoError(t, err)
	assert.Contains(t, out, "up to date")

	p.serve(fixture.Options{Posts: true})
	out, err = p.run("check", "--json")
	require.True(t, errors.As(err, &mismatch))
	for _, d := range mismatch.Diffs {
		assert.Equal(t, differ.FileModified, d.Status)
	}
	assert.Len(t, jsonLines(t, out, "check"), 1)

	// check never touches the committed output
	b, err := os.ReadFile(filepath.Join(p.output, "client.ts"))
	require.NoError(t, err)
	assert.NotContains(t, string(b), "listPosts")
}

func TestCheckRejectsInvalidSchema(t *testing.T) {
	p := newProject(t)
	p.writeConfig(t, nil)
	p.setHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"openapi":"2.0","info":{},"paths":{}}`))
	}))

	_, err := p.run("check")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported openapi version")
}

func TestConfigInitNonInteractive(t *testing.T) {
	p := newProject(t)

	out, err := p.run("config", "init", "--yes", "--name", "shop", "--url", p.backend.URL, "--ai")
	require.NoError(t, err)
	assert.Contains(t, out, "Created configuration file")

	cfg, err := config.NewConfigManager(config.ConfigLoadOptions{Path: p.config, ApplyDefaults: true, ValidateStructure: true, Quiet: true}).LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "shop", cfg.Name)
	assert.True(t, cfg.AI.Enabled)
	assert.True(t, cfg.Types.Features.AI)

	_, err = p.run("config", "init", "--yes")
	require.Error(t, err)
	assert.Contains(t, errors.FlattenHints(err), "--force")

	out, err = p.run("config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")
}

func TestConfigValidateStrict(t *testing.T) {
	p := newProject(t)
	p.writeConfig(t, func(c *config.ProjectConfig) { c.Cache.Backend = "memory" })

	out, err := p.run("config", "validate", "--strict")
	require.Error(t, err)
	assert.Contains(t, out, "memory cache does not persist")
}

func TestCacheStatsAndClear(t *testing.T) {
	p := newProject(t)
	p.writeConfig(t, nil)

	_, err := p.run("sync")
	require.NoError(t, err)

	out, err := p.run("cache", "stats", "--json")
	require.NoError(t, err)
	stats := jsonLines(t, out, "cache-stats")
	require.Len(t, stats, 1)
	assert.Contains(t, string(stats[0]), `"Entries":1`)

	out, err = p.run("cache", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 cache entry")
}
