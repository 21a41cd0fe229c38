package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/farm-stack/farm/internal/typesync"
	"github.com/farm-stack/farm/internal/watch"
)

func (a *app) watchCmd() *cobra.Command {
	var reloadAddr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Regenerate TypeScript artifacts whenever backend sources change",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadProject()
			if err != nil {
				return err
			}
			if reloadAddr == "" {
				reloadAddr = cfg.Dev.ReloadAddr
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			o, err := a.newOrchestrator(ctx, cfg)
			if err != nil {
				return err
			}
			defer o.Close()

			wcfg := typesync.WatchConfig{
				Files: watch.FileWatcherConfig{
					Paths:    cfg.Watch.Paths,
					Patterns: cfg.Watch.Patterns,
					Ignore:   cfg.Watch.Ignore,
					Debounce: cfg.Watch.Debounce,
				},
				AIPaths: cfg.Watch.AIPaths,
				OnEvent: a.eventPrinter(),
			}
			if cfg.AI.Enabled {
				wcfg.Notifier = watch.NewAINotifier(cfg.AI.ReloadURL, cfg.AI.ReloadTimeout, time.Second)
			}

			if reloadAddr != "" {
				rs := watch.NewReloadServer(a.logger)
				defer rs.Close()
				wcfg.Reload = rs
				go func() {
					if err := rs.ListenAndServe(ctx, reloadAddr); err != nil {
						a.logger.Warnw("Reload server stopped", "error", err)
					}
				}()
			}

			if !a.v.GetBool("json") && !a.v.GetBool("quiet") {
				fmt.Fprintf(a.stdout, "👀 Watching %s\n", strings.Join(cfg.Watch.Paths, ", "))
				fmt.Fprintln(a.stdout, "   Press Ctrl+C to stop")
			}
			return o.Watch(ctx, wcfg)
		},
	}

	cmd.Flags().StringVar(&reloadAddr, "reload-addr", "", "Serve frontend reload events over WebSocket on this address (overrides dev.reload_addr)")
	return cmd
}

// eventPrinter renders watch events as coloured lines or JSON.
func (a *app) eventPrinter() func(watch.Event) {
	if a.v.GetBool("json") {
		enc := json.NewEncoder(a.stdout)
		return func(e watch.Event) {
			_ = enc.Encode(map[string]any{"type": "watch", "data": e})
		}
	}
	quiet := a.v.GetBool("quiet")
	return func(e watch.Event) { printEvent(a.stdout, e, quiet) }
}

func printEvent(w io.Writer, e watch.Event, quiet bool) {
	ts := e.Timestamp.Format("15:04:05")
	switch e.Type {
	case watch.EventError:
		color.New(color.FgRed).Fprintf(w, "[%s] ❌ Sync failed: %s\n", ts, e.Error)
	case watch.EventAIReloadFailed:
		color.New(color.FgYellow).Fprintf(w, "[%s] ⚠️  AI reload failed: %s\n", ts, e.Error)
	case watch.EventRegenerationStart:
		if !quiet {
			color.New(color.FgCyan).Fprintf(w, "[%s] 🔄 Changes in %s\n", ts, strings.Join(e.Files, ", "))
		}
	case watch.EventRegenerationComplete:
		if quiet || e.Outcome == nil {
			return
		}
		if e.Outcome.FromCache {
			fmt.Fprintf(w, "[%s] ✅ Types up to date\n", ts)
		} else {
			color.New(color.FgGreen).Fprintf(w, "[%s] ✅ Regenerated %d file(s)\n", ts, e.Outcome.FilesGenerated)
		}
	case watch.EventFrontendUpdate:
		if !quiet {
			fmt.Fprintf(w, "[%s] 📡 Frontend notified\n", ts)
		}
	case watch.EventAIReload:
		if !quiet {
			fmt.Fprintf(w, "[%s] 🤖 Reloading AI providers\n", ts)
		}
	}
}
