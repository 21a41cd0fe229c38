package typesync

import (
	"context"
	"time"

	"github.com/farm-stack/farm/internal/watch"
)

// WatchConfig configures Orchestrator.Watch.
type WatchConfig struct {
	Files    watch.FileWatcherConfig
	AIPaths  []string
	Notifier watch.Notifier
	Reload   *watch.ReloadServer
	OnEvent  func(watch.Event)
	Sync     SyncOptions
}

// Syncer adapts the orchestrator to the watch coordinator.
func (o *Orchestrator) Syncer(opts SyncOptions) watch.Syncer {
	return watch.SyncFunc(func(ctx context.Context, changed []string) (watch.Outcome, error) {
		res, err := o.SyncOnce(ctx, opts)
		if err != nil {
			return watch.Outcome{}, err
		}
		return watch.Outcome{
			FilesGenerated: res.FilesGenerated,
			FromCache:      res.FromCache,
			Artifacts:      res.Artifacts,
		}, nil
	})
}

// Watch runs an initial cycle, then regenerates on file changes until ctx is
// cancelled. Cycle failures are reported as events and do not end the session.
func (o *Orchestrator) Watch(ctx context.Context, cfg WatchConfig) error {
	session := watch.NewSession(o.Syncer(cfg.Sync), watch.SessionConfig{
		Files:    cfg.Files,
		AIPaths:  cfg.AIPaths,
		Notifier: cfg.Notifier,
		Reload:   cfg.Reload,
		Logger:   o.logger,
	})
	if cfg.OnEvent != nil {
		session.OnEvent(cfg.OnEvent)
	}

	emit := func(e watch.Event) {
		if cfg.OnEvent != nil {
			cfg.OnEvent(e)
		}
		if cfg.Reload != nil {
			cfg.Reload.Publish(e)
		}
	}

	res, err := o.SyncOnce(ctx, cfg.Sync)
	if err != nil {
		o.logger.Warnw("Initial sync failed, watching anyway", "error", err)
		emit(watch.Event{Type: watch.EventError, Timestamp: time.Now(), Error: err.Error()})
	} else {
		outcome := watch.Outcome{FilesGenerated: res.FilesGenerated, FromCache: res.FromCache, Artifacts: res.Artifacts}
		emit(watch.Event{Type: watch.EventRegenerationComplete, Timestamp: time.Now(), Outcome: &outcome})
		if !res.FromCache {
			emit(watch.Event{Type: watch.EventFrontendUpdate, Timestamp: time.Now(), Files: res.Artifacts, Outcome: &outcome})
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	return session.Run(ctx)
}
