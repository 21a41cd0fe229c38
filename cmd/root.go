package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/farm-stack/farm/config"
	"github.com/farm-stack/farm/internal/logger"
)

// app carries state shared by every command.
type app struct {
	v      *viper.Viper
	logger *zap.SugaredLogger
	stdout io.Writer
}

func newApp() *app {
	v := viper.New()
	v.SetEnvPrefix("FARM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	return &app{
		v:      v,
		logger: logger.Nop(),
		stdout: os.Stdout,
	}
}

// NewRootCmd builds the farm command tree.
func NewRootCmd(version string) *cobra.Command {
	a := newApp()

	root := &cobra.Command{
		Use:           "farm",
		Short:         "FARM type sync - keep generated TypeScript in step with your API",
		Long:          `farm extracts the backend's OpenAPI schema, caches it by content hash and generates TypeScript types, an API client and React hooks.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringP("config", "c", config.DefaultConfigFile, "Path to farm.yaml")
	flags.String("env-file", ".env", "Environment file loaded before configuration")
	flags.Bool("debug", false, "Enable debug logging")
	flags.Bool("log-json", false, "Write logs as JSON")
	flags.BoolP("quiet", "q", false, "Only print warnings and errors")
	flags.Bool("json", false, "Write progress and results as JSON lines on stdout")
	flags.String("backend-url", "", "Override backend.url")
	flags.String("output-dir", "", "Override types.output_dir")
	flags.String("cache-backend", "", "Override cache.backend (file, redis, postgres, memory)")

	root.AddCommand(
		a.syncCmd(),
		a.watchCmd(),
		a.checkCmd(),
		a.configCmd(),
		a.cacheCmd(),
		a.demoAPICmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	a.stdout = cmd.OutOrStdout()

	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return errors.Wrap(err, "failed to bind flags")
	}

	if envFile := a.v.GetString("env-file"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to load %s", envFile)
		}
	}

	l, err := logger.New(logger.Options{
		Debug: a.v.GetBool("debug"),
		JSON:  a.v.GetBool("log-json"),
		Quiet: a.v.GetBool("quiet"),
	})
	if err != nil {
		return errors.Wrap(err, "failed to build logger")
	}
	a.logger = l
	return nil
}

// signalContext is cancelled on interrupt or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Execute runs the CLI and returns the process exit code.
func Execute(version string) int {
	root := NewRootCmd(version)
	if err := root.Execute(); err != nil {
		printError(os.Stderr, err)
		return 1
	}
	return 0
}

func printError(w io.Writer, err error) {
	color.New(color.FgRed).Fprintf(w, "❌ %v\n", err)
	if hints := errors.FlattenHints(err); hints != "" {
		color.New(color.FgCyan).Fprintf(w, "💡 %s\n", hints)
	}
	if details := errors.FlattenDetails(err); details != "" {
		fmt.Fprintln(w, details)
	}
}
