package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/AlecAivazis/survey/v2"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/farm-stack/farm/config"
)

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage project configuration",
		Long:  "Validate, view, and create the farm.yaml project configuration",
	}

	cmd.AddCommand(a.configValidateCmd())
	cmd.AddCommand(a.configShowCmd())
	cmd.AddCommand(a.configInitCmd())
	cmd.AddCommand(a.configUpgradeCmd())

	return cmd
}

func (a *app) configValidateCmd() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate [config-file]",
		Short: "Validate configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := a.configPath(args)
			fmt.Fprintf(a.stdout, "🔍 Validating configuration file: %s\n", configPath)

			cm := config.NewConfigManager(config.ConfigLoadOptions{
				Path:              configPath,
				ValidateStructure: true,
				ApplyDefaults:     true,
				Quiet:             true,
			})
			cfg, err := cm.LoadConfig()
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "✅ Configuration is valid!")

			if info, err := config.GetConfigInfo(configPath); err == nil {
				fmt.Fprintf(a.stdout, "\n%s\n", info.String())
			}

			issues := configIssues(cfg)
			if len(issues) == 0 {
				return nil
			}
			fmt.Fprintln(a.stdout, "\n⚠️  Potential issues found:")
			for i, issue := range issues {
				fmt.Fprintf(a.stdout, "  %d. %s\n", i+1, issue)
			}
			if strict {
				return errors.Newf("strict validation failed due to %d issue(s)", len(issues))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Fail on warnings")
	return cmd
}

func (a *app) configShowCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "show [config-file]",
		Short: "Show configuration information",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := a.configPath(args)
			info, err := config.GetConfigInfo(configPath)
			if err != nil {
				return errors.Wrap(err, "failed to load configuration")
			}
			fmt.Fprintln(a.stdout, info.String())

			if !verbose {
				return nil
			}
			opts := config.DefaultLoadOptions()
			opts.Path = configPath
			opts.Quiet = true
			cfg, err := config.NewConfigManager(opts).LoadConfig()
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return errors.Wrap(err, "failed to marshal configuration")
			}
			fmt.Fprintf(a.stdout, "\n📝 Detailed Configuration:\n```yaml\n%s```\n", data)
			return nil
		},
	}

	cmd.Flags().BoolVar(&verbose, "verbose", false, "Show the full configuration with defaults applied")
	return cmd
}

type initAnswers struct {
	Name       string `survey:"name"`
	BackendURL string `survey:"backend_url"`
	LaunchCmd  string `survey:"launch_cmd"`
	AI         bool   `survey:"ai"`
	Cache      string `survey:"cache"`
}

func (a *app) configInitCmd() *cobra.Command {
	var (
		force bool
		yes   bool
		ans   initAnswers
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a farm.yaml configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := a.v.GetString("config")
			if !force {
				if _, err := os.Stat(configPath); err == nil {
					return errors.WithHint(
						errors.Newf("configuration file already exists: %s", configPath),
						"Use --force to overwrite",
					)
				}
			}

			if ans.Name == "" {
				wd, err := os.Getwd()
				if err != nil {
					return errors.Wrap(err, "failed to get working directory")
				}
				ans.Name = filepath.Base(wd)
			}
			if !yes {
				if err := askInit(&ans); err != nil {
					return err
				}
			}

			cfg := initConfig(ans)
			if errs := config.Validate(cfg); errs.HasErrors() {
				return errs
			}
			if err := config.Save(cfg, configPath); err != nil {
				return err
			}

			fmt.Fprintf(a.stdout, "✅ Created configuration file: %s\n", configPath)
			fmt.Fprintf(a.stdout, "   Project: %s\n", cfg.Name)
			fmt.Fprintf(a.stdout, "   Backend: %s\n", cfg.Backend.URL)
			fmt.Fprintf(a.stdout, "   Cache: %s\n", cfg.Cache.Backend)
			return nil
		},
	}

	def := config.Default()
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration file")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Accept flag values without prompting")
	cmd.Flags().StringVar(&ans.Name, "name", "", "Project name (default: current directory name)")
	cmd.Flags().StringVar(&ans.BackendURL, "url", def.Backend.URL, "Backend base URL")
	cmd.Flags().StringVar(&ans.LaunchCmd, "launch-cmd", "", "Command that starts the backend when it is not running")
	cmd.Flags().BoolVar(&ans.AI, "ai", false, "Enable AI hooks and provider hot reload")
	cmd.Flags().StringVar(&ans.Cache, "cache", def.Cache.Backend, "Cache backend (file, redis, postgres, memory)")
	return cmd
}

func askInit(ans *initAnswers) error {
	qs := []*survey.Question{
		{
			Name:     "name",
			Prompt:   &survey.Input{Message: "Project name:", Default: ans.Name},
			Validate: survey.Required,
		},
		{
			Name:     "backend_url",
			Prompt:   &survey.Input{Message: "Backend URL:", Default: ans.BackendURL},
			Validate: survey.Required,
		},
		{
			Name: "launch_cmd",
			Prompt: &survey.Input{
				Message: "Backend launch command (optional):",
				Default: ans.LaunchCmd,
				Help:    "Used when the backend is not running, e.g. uvicorn main:app --port {{port}}",
			},
		},
		{
			Name:   "ai",
			Prompt: &survey.Confirm{Message: "Enable AI hooks?", Default: ans.AI},
		},
		{
			Name: "cache",
			Prompt: &survey.Select{
				Message: "Cache backend:",
				Options: []string{"file", "redis", "postgres", "memory"},
				Default: ans.Cache,
			},
		},
	}
	return errors.Wrap(survey.Ask(qs, ans), "prompt failed")
}

func initConfig(ans initAnswers) *config.ProjectConfig {
	cfg := config.Default()
	cfg.Name = ans.Name
	cfg.Backend.URL = ans.BackendURL
	cfg.Backend.LaunchCmd = ans.LaunchCmd
	cfg.Cache.Backend = ans.Cache
	if ans.Cache == "postgres" && cfg.Cache.Postgres.DSN == "" {
		cfg.Cache.Postgres.DSN = "postgres://localhost:5432/farm?sslmode=disable"
	}
	if ans.AI {
		cfg.AI.Enabled = true
		cfg.Types.Features.AI = true
	}
	return cfg
}

func (a *app) configUpgradeCmd() *cobra.Command {
	var backup bool

	cmd := &cobra.Command{
		Use:   "upgrade [config-file]",
		Short: "Rewrite configuration with missing defaults filled in",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := a.configPath(args)
			fmt.Fprintf(a.stdout, "🔄 Upgrading configuration file: %s\n", configPath)

			if backup {
				data, err := os.ReadFile(configPath)
				if err != nil {
					return errors.Wrap(err, "failed to create backup")
				}
				if err := os.WriteFile(configPath+".backup", data, 0644); err != nil {
					return errors.Wrap(err, "failed to create backup")
				}
				fmt.Fprintf(a.stdout, "📋 Created backup: %s.backup\n", configPath)
			}

			cfg, err := config.NewConfigManager(config.ConfigLoadOptions{
				Path:          configPath,
				ApplyDefaults: true,
				Quiet:         true,
			}).LoadConfig()
			if err != nil {
				return err
			}
			if err := config.Save(cfg, configPath); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "✅ Configuration upgraded successfully")

			if err := config.ValidateConfigFile(configPath); err != nil {
				fmt.Fprintf(a.stdout, "⚠️  Warning: upgraded configuration has validation issues:\n%v\n", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&backup, "backup", true, "Create backup of original file")
	return cmd
}

func (a *app) configPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return a.v.GetString("config")
}

func configIssues(cfg *config.ProjectConfig) []string {
	var issues []string
	if cfg.Backend.LaunchCmd == "" {
		issues = append(issues, "backend.launch_cmd is empty - sync fails when the backend is not running")
	}
	if cfg.Cache.Backend == "memory" {
		issues = append(issues, "memory cache does not persist between runs")
	}
	if cfg.AI.Enabled && len(cfg.Watch.AIPaths) == 0 {
		issues = append(issues, "ai.enabled is set but watch.ai_paths is empty - providers will never reload")
	}
	if cfg.Types.Features != nil && cfg.Types.Features.AI && !cfg.Types.Features.Hooks {
		issues = append(issues, "types.features.ai has no effect while hooks are disabled")
	}
	return issues
}
