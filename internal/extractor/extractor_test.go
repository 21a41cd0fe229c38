package extractor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/kballard/go-shellquote"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/farm-stack/farm/internal/fixture"
)

// TestMain lets the test binary double as a launchable backend.
func TestMain(m *testing.M) {
	switch os.Getenv("FARM_FIXTURE_BACKEND") {
	case "serve":
		s, err := fixture.New("stdlib", fixture.Options{})
		if err != nil {
			os.Exit(2)
		}
		if err := s.ListenAndServe(context.Background(), "127.0.0.1:"+os.Getenv("PORT")); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		os.Exit(0)
	case "crash":
		fmt.Println("starting backend")
		fmt.Fprintln(os.Stderr, "ImportError: no module named main")
		os.Exit(3)
	case "hang":
		time.Sleep(time.Hour)
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func helperConfig(t *testing.T, mode string) Config {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process-group fixture requires unix")
	}
	return Config{
		URL:            fmt.Sprintf("http://127.0.0.1:%d", freePort(t)),
		SchemaPath:     "/openapi.json",
		FetchTimeout:   time.Second,
		StartupTimeout: 10 * time.Second,
		PollInterval:   50 * time.Millisecond,
		KillTimeout:    2 * time.Second,
		Launch: LaunchConfig{
			Command: shellquote.Join(os.Args[0]) + " -test.run=^$",
			Env:     map[string]string{"FARM_FIXTURE_BACKEND": mode},
		},
	}
}

func assertDead(t *testing.T, pid int) {
	t.Helper()
	require.NotZero(t, pid, "launch hook was not called")
	alive, err := process.PidExists(int32(pid))
	require.NoError(t, err)
	assert.False(t, alive, "backend process %d is still running", pid)
}

func TestExtractLive(t *testing.T) {
	srv := httptest.NewServer(fixture.Handler(fixture.Options{}))
	defer srv.Close()

	e := New(Config{URL: srv.URL})
	doc, err := e.Extract(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, doc.RouteCount())
}

func TestFetchRejectsBadResponses(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"not found", func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}},
		{"array body", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `[1,2,3]`)
		}},
		{"garbage", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<html>`)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := New(Config{URL: srv.URL}).Extract(context.Background())
			var extractErr *ExtractionError
			require.True(t, errors.As(err, &extractErr))
			assert.Equal(t, srv.URL+"/openapi.json", extractErr.URL)
			assert.Nil(t, extractErr.LaunchErr)
		})
	}
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := New(Config{URL: srv.URL, FetchTimeout: 100 * time.Millisecond}).Extract(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExtractFallsBackToLaunchedBackend(t *testing.T) {
	var pid int
	e := New(helperConfig(t, "serve"), WithLaunchHook(func(p int) { pid = p }))

	doc, err := e.Extract(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, doc.RouteCount())

	assertDead(t, pid)
}

func TestExtractBackendExitsEarly(t *testing.T) {
	var pid int
	cfg := helperConfig(t, "crash")
	start := time.Now()

	_, err := New(cfg, WithLaunchHook(func(p int) { pid = p })).Extract(context.Background())

	var extractErr *ExtractionError
	require.True(t, errors.As(err, &extractErr))
	require.Error(t, extractErr.LaunchErr)
	assert.Contains(t, extractErr.LaunchErr.Error(), "exited before serving the schema")
	assert.Contains(t, strings.Join(errors.GetAllDetails(extractErr.LaunchErr), "\n"), "ImportError")
	assert.Less(t, time.Since(start), cfg.StartupTimeout)

	assertDead(t, pid)
}

func TestExtractStartupTimeoutKillsBackend(t *testing.T) {
	var pid int
	cfg := helperConfig(t, "hang")
	cfg.StartupTimeout = 300 * time.Millisecond

	_, err := New(cfg, WithLaunchHook(func(p int) { pid = p })).Extract(context.Background())

	var extractErr *ExtractionError
	require.True(t, errors.As(err, &extractErr))
	assert.Contains(t, extractErr.LaunchErr.Error(), "did not serve the schema within")
	assert.NotEmpty(t, errors.GetAllHints(extractErr.LaunchErr))

	assertDead(t, pid)
}

func TestExtractKillsChildThatLeftTheGroup(t *testing.T) {
	cfg := helperConfig(t, "hang")
	if _, err := exec.LookPath("setsid"); err != nil {
		t.Skip("setsid not installed")
	}
	cfg.Launch = LaunchConfig{Command: `sh -c "setsid sleep 8 & exec sleep 30"`}
	cfg.StartupTimeout = 500 * time.Millisecond
	cfg.KillTimeout = 500 * time.Millisecond

	var pid int
	start := time.Now()
	_, err := New(cfg, WithLaunchHook(func(p int) { pid = p })).Extract(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)

	assertDead(t, pid)
}

func TestExtractCancelledContextKillsBackend(t *testing.T) {
	var pid int
	cfg := helperConfig(t, "hang")
	ctx, cancel := context.WithCancel(context.Background())

	e := New(cfg, WithLaunchHook(func(p int) {
		pid = p
		time.AfterFunc(100*time.Millisecond, cancel)
	}))
	_, err := e.Extract(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	assertDead(t, pid)
}

func TestExtractWithoutLaunchCommand(t *testing.T) {
	cfg := Config{URL: fmt.Sprintf("http://127.0.0.1:%d", freePort(t)), FetchTimeout: time.Second}

	_, err := New(cfg).Extract(context.Background())
	var extractErr *ExtractionError
	require.True(t, errors.As(err, &extractErr))
	assert.Nil(t, extractErr.LaunchErr)
	assert.NotEmpty(t, errors.GetAllHints(err))
}

func TestInvalidLaunchCommand(t *testing.T) {
	cfg := Config{
		URL:          fmt.Sprintf("http://127.0.0.1:%d", freePort(t)),
		FetchTimeout: time.Second,
		Launch:       LaunchConfig{Command: `uvicorn "main:app`},
	}
	_, err := New(cfg).Extract(context.Background())
	var extractErr *ExtractionError
	require.True(t, errors.As(err, &extractErr))
	assert.Contains(t, extractErr.LaunchErr.Error(), "invalid launch command")
}

func TestHostPortSubstitution(t *testing.T) {
	host, port := Config{URL: "http://api.local:9123"}.hostPort()
	assert.Equal(t, "api.local", host)
	assert.Equal(t, "9123", port)

	_, port = Config{URL: "https://api.local"}.hostPort()
	assert.Equal(t, "443", port)

	assert.Equal(t, "http://x:1/openapi.json", Config{URL: "http://x:1/", SchemaPath: "openapi.json"}.Endpoint())
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{max: 8}
	fmt.Fprint(tb, "0123456789abc")
	assert.Contains(t, tb.String(), "56789abc")
	assert.NotContains(t, tb.String(), "01234")
}

func TestPortInUseIsNotRelaunched(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	var launched bool
	cfg := Config{
		URL:          srv.URL,
		FetchTimeout: time.Second,
		Launch:       LaunchConfig{Command: "never-run {{port}}"},
	}
	_, err := New(cfg, WithLaunchHook(func(int) { launched = true })).Extract(context.Background())

	var extractErr *ExtractionError
	require.True(t, errors.As(err, &extractErr))
	assert.Contains(t, extractErr.LaunchErr.Error(), "is in use")
	assert.False(t, launched)
}

func TestLineLoggerForwardsCompleteLines(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &lineLogger{log: zap.New(core).Sugar()}

	fmt.Fprint(l, "INFO: started\n\nINFO: part")
	assert.Equal(t, 1, logs.Len())
	fmt.Fprint(l, "ial\n")
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "INFO: partial", logs.All()[1].ContextMap()["line"])
}
