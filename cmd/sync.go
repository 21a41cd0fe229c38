package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/farm-stack/farm/internal/differ"
	"github.com/farm-stack/farm/internal/typesync"
)

func (a *app) syncCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Extract the schema and regenerate TypeScript artifacts once",
		Long: `Extract the OpenAPI schema from the backend (launching it temporarily if it is
not running), reuse cached output when the schema is unchanged, and otherwise
regenerate types, client and hooks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadProject()
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			o, err := a.newOrchestrator(ctx, cfg)
			if err != nil {
				return err
			}
			defer o.Close()

			res, err := o.SyncOnce(ctx, typesync.SyncOptions{Force: force})
			if err != nil {
				return err
			}
			if a.v.GetBool("json") {
				return json.NewEncoder(a.stdout).Encode(map[string]any{"type": "result", "data": res})
			}
			if !a.v.GetBool("quiet") {
				printResult(res)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Regenerate even when the cache is up to date")
	return cmd
}

func printResult(res *typesync.Result) {
	if res.FromCache {
		pterm.Info.Printfln("Types up to date (schema %s, %d artifact(s), %s)", short(res.SchemaHash), len(res.Artifacts), res.Duration.Round(time.Millisecond))
		return
	}
	pterm.Success.Printfln("Generated %d file(s) in %s (schema %s)", res.FilesGenerated, res.Duration.Round(time.Millisecond), short(res.SchemaHash))
	printChanges(res.Changes)
}

func printChanges(changes []differ.Change) {
	if len(changes) == 0 {
		return
	}
	fmt.Println("📋 Schema changes:")
	for _, c := range changes {
		switch c.Kind {
		case differ.Added:
			color.Green("   + %s", c.Summary)
		case differ.Removed:
			color.Red("   - %s", c.Summary)
		default:
			color.Yellow("   ~ %s", c.Summary)
		}
	}
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
