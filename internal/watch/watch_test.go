package watch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) types() []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []EventType
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

func (l *eventLog) count(t EventType) int {
	n := 0
	for _, et := range l.types() {
		if et == t {
			n++
		}
	}
	return n
}

// blockingSyncer holds each cycle until released.
type blockingSyncer struct {
	started chan []string
	release chan struct{}
	calls   atomic.Int32
}

func newBlockingSyncer() *blockingSyncer {
	return &blockingSyncer{started: make(chan []string, 10), release: make(chan struct{})}
}

func (b *blockingSyncer) Sync(ctx context.Context, changed []string) (Outcome, error) {
	b.calls.Add(1)
	b.started <- changed
	<-b.release
	return Outcome{FilesGenerated: 2, Artifacts: []string{"types.ts", "client.ts"}}, nil
}

func TestCoordinatorCoalescesTriggersDuringCycle(t *testing.T) {
	s := newBlockingSyncer()
	c := NewCoordinator(context.Background(), CoordinatorConfig{Syncer: s})

	c.Trigger([]string{"a.py"})
	first := <-s.started
	assert.Equal(t, []string{"a.py"}, first)

	c.Trigger([]string{"b.py"})
	c.Trigger([]string{"c.py", "b.py"})
	c.Trigger([]string{"d.py"})

	s.release <- struct{}{}
	second := <-s.started
	assert.Equal(t, []string{"b.py", "c.py", "d.py"}, second)
	s.release <- struct{}{}

	c.Wait()
	assert.EqualValues(t, 2, s.calls.Load())
	assert.Equal(t, 2, c.Cycles())

	select {
	case extra := <-s.started:
		t.Fatalf("unexpected extra cycle for %v", extra)
	default:
	}
}

func TestCoordinatorErrorDoesNotStopWatching(t *testing.T) {
	var calls atomic.Int32
	syncer := SyncFunc(func(ctx context.Context, changed []string) (Outcome, error) {
		if calls.Add(1) == 1 {
			return Outcome{}, errors.New("backend unreachable")
		}
		return Outcome{FromCache: true}, nil
	})

	log := &eventLog{}
	c := NewCoordinator(context.Background(), CoordinatorConfig{Syncer: syncer, Emit: log.add})

	c.Trigger([]string{"a.py"})
	c.Wait()
	c.Trigger([]string{"a.py"})
	c.Wait()

	assert.Equal(t, []EventType{
		EventRegenerationStart, EventError,
		EventRegenerationStart, EventRegenerationComplete,
	}, log.types())
	assert.Equal(t, "backend unreachable", log.events[1].Error)
}

func TestCoordinatorFrontendUpdateOnlyWhenRegenerated(t *testing.T) {
	outcomes := []Outcome{{FilesGenerated: 3, Artifacts: []string{"x"}}, {FromCache: true}}
	var i atomic.Int32
	syncer := SyncFunc(func(ctx context.Context, changed []string) (Outcome, error) {
		return outcomes[i.Add(1)-1], nil
	})

	log := &eventLog{}
	c := NewCoordinator(context.Background(), CoordinatorConfig{Syncer: syncer, Emit: log.add})
	c.Trigger([]string{"a.py"})
	c.Wait()
	c.Trigger([]string{"a.py"})
	c.Wait()

	assert.Equal(t, 1, log.count(EventFrontendUpdate))
	assert.Equal(t, 2, log.count(EventRegenerationComplete))
}

type failingNotifier struct {
	calls atomic.Int32
}

func (f *failingNotifier) Notify(context.Context, []string) error {
	f.calls.Add(1)
	return errors.New("provider offline")
}

func TestAIReloadFailureIsIsolated(t *testing.T) {
	syncer := SyncFunc(func(ctx context.Context, changed []string) (Outcome, error) {
		return Outcome{FilesGenerated: 1}, nil
	})
	notifier := &failingNotifier{}
	log := &eventLog{}
	c := NewCoordinator(context.Background(), CoordinatorConfig{
		Syncer:   syncer,
		Emit:     log.add,
		Notifier: notifier,
		AIPaths:  []string{"src/ai"},
	})

	c.Trigger([]string{"src/users.py"})
	c.Wait()
	assert.Zero(t, notifier.calls.Load())
	assert.Zero(t, log.count(EventAIReload))

	c.Trigger([]string{"src/ai/chat.py"})
	c.Wait()
	require.Eventually(t, func() bool { return log.count(EventAIReloadFailed) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, log.count(EventAIReload))
	assert.Zero(t, log.count(EventError))
	assert.EqualValues(t, 1, notifier.calls.Load())
}

func TestAINotifier(t *testing.T) {
	var got reloadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewAINotifier(srv.URL, time.Second, time.Hour)
	require.NoError(t, n.Notify(context.Background(), []string{"src/ai/chat.py"}))
	assert.Equal(t, []string{"src/ai/chat.py"}, got.Files)

	require.NoError(t, n.Notify(context.Background(), nil))
	err := n.Notify(context.Background(), nil)
	assert.ErrorContains(t, err, "rate limit")
}

func TestAINotifierNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewAINotifier(srv.URL, time.Second, time.Millisecond).Notify(context.Background(), nil)
	assert.ErrorContains(t, err, "503")
}

func TestMatchesAny(t *testing.T) {
	assert.True(t, MatchesAny([]string{"apps/api/src/ai/openai.py"}, []string{"apps/api/src/ai"}))
	assert.True(t, MatchesAny([]string{"apps/api/src/ai"}, []string{"apps/api/src/ai/"}))
	assert.True(t, MatchesAny([]string{"apps/api/prompts.yaml"}, []string{"prompts.yaml"}))
	assert.False(t, MatchesAny([]string{"apps/api/src/aix/x.py"}, []string{"apps/api/src/ai"}))
	assert.False(t, MatchesAny(nil, []string{"x"}))
}

func TestDebouncerBatches(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	batches := make(chan []string, 4)
	d.SetCallback(func(files []string) { batches <- files })

	d.Add("b.py")
	d.Add("a.py")
	d.Add("b.py")

	select {
	case got := <-batches:
		assert.Equal(t, []string{"a.py", "b.py"}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("debouncer never fired")
	}

	d.Add("c.py")
	d.Stop()
	select {
	case got := <-batches:
		t.Fatalf("stopped debouncer fired with %v", got)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestFileWatcherFilters(t *testing.T) {
	fw := &FileWatcher{patterns: []string{"*.py", "*.yaml"}, ignored: []string{"*.pyc", "*~"}}

	assert.True(t, fw.matchesPattern("src/app.py"))
	assert.False(t, fw.matchesPattern("src/app.ts"))
	assert.True(t, fw.shouldIgnore("src/app.pyc"))
	assert.True(t, fw.shouldIgnore("src/.app.py.swp"))
	assert.True(t, fw.shouldIgnore("src/__pycache__/app.py"))
	assert.True(t, fw.shouldIgnore("node_modules/x/app.py"))
	assert.False(t, fw.shouldIgnore("src/app.py"))
}

func TestSessionRegeneratesOnFileChange(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(nested, 0755))

	var mu sync.Mutex
	var batches [][]string
	syncer := SyncFunc(func(ctx context.Context, changed []string) (Outcome, error) {
		mu.Lock()
		batches = append(batches, changed)
		mu.Unlock()
		return Outcome{FilesGenerated: 1}, nil
	})

	log := &eventLog{}
	s := NewSession(syncer, SessionConfig{Files: FileWatcherConfig{
		Paths:    []string{dir},
		Patterns: []string{"*.py"},
		Debounce: 50 * time.Millisecond,
	}})
	s.OnEvent(log.add)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Give the watcher time to register directories.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(nested, "models.py"), []byte("x = 1\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "notes.txt"), []byte("ignored"), 0644))

	require.Eventually(t, func() bool { return log.count(EventFrontendUpdate) >= 1 }, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	for _, b := range batches {
		for _, f := range b {
			assert.True(t, strings.HasSuffix(f, ".py"), f)
		}
	}
}

func TestReloadServerBroadcasts(t *testing.T) {
	rs := NewReloadServer(nil)
	defer rs.Close()

	server := httptest.NewServer(rs.Handler())
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return rs.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	rs.Publish(Event{Type: EventFrontendUpdate, Files: []string{"types.ts"}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, EventFrontendUpdate, got.Type)
	assert.Equal(t, []string{"types.ts"}, got.Files)

	resp, err := http.Get(server.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var status statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, 1, status.Connections)
	require.NotNil(t, status.LastEvent)
	assert.Equal(t, EventFrontendUpdate, status.LastEvent.Type)
}
