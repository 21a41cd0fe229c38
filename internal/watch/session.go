package watch

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/farm-stack/farm/internal/logger"
)

// SessionConfig configures a watch session.
type SessionConfig struct {
	Files    FileWatcherConfig
	AIPaths  []string
	Notifier Notifier
	// Reload, when set, receives every session event.
	Reload *ReloadServer
	Logger *zap.SugaredLogger
}

// Session couples a FileWatcher to a Coordinator and fans events out to listeners.
type Session struct {
	config    SessionConfig
	syncer    Syncer
	logger    *zap.SugaredLogger
	mu        sync.RWMutex
	listeners []func(Event)
}

func NewSession(syncer Syncer, config SessionConfig) *Session {
	return &Session{
		config: config,
		syncer: syncer,
		logger: logger.OrNop(config.Logger),
	}
}

// OnEvent registers a listener. Listeners run on the cycle goroutine and must not block.
func (s *Session) OnEvent(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Session) dispatch(e Event) {
	s.mu.RLock()
	listeners := append([]func(Event){}, s.listeners...)
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(e)
	}
	if s.config.Reload != nil {
		s.config.Reload.Publish(e)
	}
}

// Run watches until ctx is cancelled, then waits for the in-flight cycle.
func (s *Session) Run(ctx context.Context) error {
	coord := NewCoordinator(ctx, CoordinatorConfig{
		Syncer:   s.syncer,
		Emit:     s.dispatch,
		Notifier: s.config.Notifier,
		AIPaths:  s.config.AIPaths,
		Logger:   s.logger,
	})

	fw, err := NewFileWatcher(s.config.Files, coord.Trigger, s.logger)
	if err != nil {
		return err
	}
	fw.Start()
	s.logger.Infow("Watching for changes", "paths", s.config.Files.Paths, "debounce", s.config.Files.Debounce)

	<-ctx.Done()

	if err := fw.Stop(); err != nil {
		s.logger.Debugw("Error closing file watcher", "error", err)
	}
	coord.Wait()
	return nil
}
