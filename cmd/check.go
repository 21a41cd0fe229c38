package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/farm-stack/farm/config"
	"github.com/farm-stack/farm/internal/differ"
	"github.com/farm-stack/farm/internal/extractor"
	"github.com/farm-stack/farm/internal/schema"
	"github.com/farm-stack/farm/internal/typesync"
)

func (a *app) checkCmd() *cobra.Command {
	var noPatch bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify that committed generated types match the current schema",
		Long: `Extract and validate the schema, generate into a temporary directory and
compare the result with types.output_dir. Exits non-zero when anything differs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadProject()
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			ex := extractor.New(extractorConfig(cfg.Backend), extractor.WithLogger(a.logger))
			diffs, err := a.check(ctx, cfg, ex)
			if err != nil {
				return err
			}

			if a.v.GetBool("json") {
				if err := json.NewEncoder(a.stdout).Encode(map[string]any{"type": "check", "data": diffs}); err != nil {
					return err
				}
			} else {
				printDiffs(a.stdout, cfg.Types.OutputDir, diffs, !noPatch)
			}
			if len(diffs) > 0 {
				return errors.WithHint(&differ.MismatchError{Diffs: diffs}, "run 'farm sync' and commit the result")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noPatch, "no-patch", false, "Only list differing files")
	return cmd
}

// check extracts and validates the schema, then diffs freshly generated output
// against the committed output directory.
func (a *app) check(ctx context.Context, cfg *config.ProjectConfig, src typesync.Source) ([]differ.FileDiff, error) {
	doc, err := src.Extract(ctx)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(doc); err != nil {
		return nil, err
	}

	tmp, err := os.MkdirTemp("", "farm-check-")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create temporary directory")
	}
	defer os.RemoveAll(tmp)

	sc := syncConfig(cfg)
	sc.OutputDir = tmp
	o := typesync.New(
		typesync.WithSource(typesync.SourceFunc(func(context.Context) (*schema.Document, error) { return doc, nil })),
		typesync.WithLogger(a.logger),
	)
	defer o.Close()
	if err := o.Initialize(sc); err != nil {
		return nil, err
	}
	if _, err := o.SyncOnce(ctx, typesync.SyncOptions{Force: true}); err != nil {
		return nil, err
	}

	return differ.CompareDirectories(cfg.Types.OutputDir, tmp)
}

func printDiffs(w io.Writer, dir string, diffs []differ.FileDiff, patches bool) {
	if len(diffs) == 0 {
		fmt.Fprintf(w, "✅ Generated types in %s are up to date\n", dir)
		return
	}

	data := pterm.TableData{{"File", "Status", "Message"}}
	for _, d := range diffs {
		data = append(data, []string{d.File, string(d.Status), d.Message})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		for _, d := range diffs {
			fmt.Fprintf(w, "%s\t%s\t%s\n", d.File, d.Status, d.Message)
		}
	} else {
		fmt.Fprintln(w, table)
	}

	if !patches {
		return
	}
	for _, d := range diffs {
		fmt.Fprintln(w)
		for _, line := range strings.Split(strings.TrimRight(d.Patch, "\n"), "\n") {
			switch {
			case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
				color.New(color.Bold).Fprintln(w, line)
			case strings.HasPrefix(line, "+"):
				color.New(color.FgGreen).Fprintln(w, line)
			case strings.HasPrefix(line, "-"):
				color.New(color.FgRed).Fprintln(w, line)
			case strings.HasPrefix(line, "@@"):
				color.New(color.FgCyan).Fprintln(w, line)
			default:
				fmt.Fprintln(w, line)
			}
		}
	}
}
