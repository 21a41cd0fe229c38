package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/farm-stack/farm/internal/cache"
)

func (a *app) cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the schema cache",
	}
	cmd.AddCommand(a.cacheStatsCmd(), a.cacheClearCmd())
	return cmd
}

// openStoreStrict connects the configured store without falling back to memory.
func (a *app) openStoreStrict(ctx context.Context) (*cache.Cache, error) {
	cfg, err := a.loadProject()
	if err != nil {
		return nil, err
	}
	store, err := cache.OpenStore(ctx, cacheConfig(cfg))
	if err != nil {
		return nil, errors.WithHintf(errors.Wrap(err, "failed to open cache"), "check the cache.%s settings in farm.yaml", cfg.Cache.Backend)
	}
	c, err := cache.New(store, cache.WithLogger(a.logger), cache.WithMemoryEntries(0))
	if err != nil {
		store.Close()
		return nil, err
	}
	return c, nil
}

func (a *app) cacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache backend and entry count",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openStoreStrict(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			stats, err := c.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if a.v.GetBool("json") {
				return json.NewEncoder(a.stdout).Encode(map[string]any{"type": "cache-stats", "data": stats})
			}
			return pterm.DefaultTable.WithHasHeader().WithWriter(a.stdout).WithData(pterm.TableData{
				{"Backend", "Entries"},
				{stats.Backend, fmt.Sprint(stats.Entries)},
			}).Render()
		},
	}
}

func (a *app) cacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached schema entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openStoreStrict(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			n, err := c.Clear(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "🧹 Removed %d cache entr%s\n", n, plural(n, "y", "ies"))
			return nil
		},
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
