package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the project configuration file looked up in the working directory.
const DefaultConfigFile = "farm.yaml"

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error in field '%s': %s (value: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	if len(errs) == 0 {
		return "no validation errors"
	}

	var messages []string
	for _, err := range errs {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

func (errs ValidationErrors) HasErrors() bool {
	return len(errs) > 0
}

// ConfigLoadOptions provides options for loading configuration
type ConfigLoadOptions struct {
	Path              string
	AllowMissing      bool
	ValidateStructure bool
	ApplyDefaults     bool
	Quiet             bool
}

// DefaultLoadOptions returns sensible defaults for config loading
func DefaultLoadOptions() ConfigLoadOptions {
	return ConfigLoadOptions{
		Path:              DefaultConfigFile,
		AllowMissing:      true,
		ValidateStructure: true,
		ApplyDefaults:     true,
		Quiet:             false,
	}
}

// ConfigManager handles configuration loading, validation, and management
type ConfigManager struct {
	options ConfigLoadOptions
}

// NewConfigManager creates a new configuration manager
func NewConfigManager(options ConfigLoadOptions) *ConfigManager {
	return &ConfigManager{
		options: options,
	}
}

// LoadConfig loads and validates the configuration at the configured path
func (cm *ConfigManager) LoadConfig() (*ProjectConfig, error) {
	return cm.LoadConfigFromPath(cm.options.Path)
}

// LoadConfigFromPath loads configuration from a specific path
func (cm *ConfigManager) LoadConfigFromPath(path string) (*ProjectConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if cm.options.AllowMissing {
			if !cm.options.Quiet {
				fmt.Printf("⚠️  Configuration file not found at %s, using defaults\n", path)
			}
			return Default(), nil
		}
		return nil, errors.WithHint(
			errors.Newf("configuration file not found: %s", path),
			"Run 'farm config init' to create one",
		)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read configuration file %s", path)
	}

	config, err := cm.Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "configuration file %s", path)
	}
	return config, nil
}

// Parse decodes YAML configuration and applies the manager's default and validation options.
func (cm *ConfigManager) Parse(data []byte) (*ProjectConfig, error) {
	var config ProjectConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.WithHint(errors.Wrap(err, "failed to parse YAML"), "Please check your YAML syntax")
	}

	if cm.options.ApplyDefaults {
		applyDefaults(&config)
	}

	if cm.options.ValidateStructure {
		if errs := Validate(&config); errs.HasErrors() {
			return nil, errors.Newf("configuration validation failed:\n%s", formatValidationErrors(errs))
		}
	}

	return &config, nil
}

// Validate performs structural validation on the configuration
func Validate(config *ProjectConfig) ValidationErrors {
	var errs ValidationErrors

	if config.Name == "" {
		errs = append(errs, ValidationError{
			Field:   "name",
			Value:   config.Name,
			Message: "project name cannot be empty",
		})
	}

	if u, err := url.Parse(config.Backend.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "backend.url",
			Value:   config.Backend.URL,
			Message: "backend url must be an absolute http(s) URL",
		})
	}

	if !strings.HasPrefix(config.Backend.SchemaPath, "/") {
		errs = append(errs, ValidationError{
			Field:   "backend.schema_path",
			Value:   config.Backend.SchemaPath,
			Message: "schema path must start with '/'",
		})
	}

	for field, d := range map[string]time.Duration{
		"backend.fetch_timeout":   config.Backend.FetchTimeout,
		"backend.startup_timeout": config.Backend.StartupTimeout,
		"backend.poll_interval":   config.Backend.PollInterval,
		"backend.kill_timeout":    config.Backend.KillTimeout,
	} {
		if d <= 0 {
			errs = append(errs, ValidationError{Field: field, Value: d, Message: "duration must be positive"})
		}
	}

	if config.Types.OutputDir == "" {
		errs = append(errs, ValidationError{
			Field:   "types.output_dir",
			Value:   config.Types.OutputDir,
			Message: "output directory cannot be empty",
		})
	}

	validBackends := []string{"file", "redis", "postgres", "memory"}
	if !contains(validBackends, config.Cache.Backend) {
		errs = append(errs, ValidationError{
			Field:   "cache.backend",
			Value:   config.Cache.Backend,
			Message: fmt.Sprintf("unsupported cache backend '%s', valid options are: %s", config.Cache.Backend, strings.Join(validBackends, ", ")),
		})
	}
	switch config.Cache.Backend {
	case "file":
		if config.Cache.Dir == "" {
			errs = append(errs, ValidationError{Field: "cache.dir", Value: config.Cache.Dir, Message: "file cache requires a directory"})
		}
	case "redis":
		if config.Cache.Redis.Addr == "" {
			errs = append(errs, ValidationError{Field: "cache.redis.addr", Value: config.Cache.Redis.Addr, Message: "redis cache requires an address"})
		}
	case "postgres":
		if config.Cache.Postgres.DSN == "" {
			errs = append(errs, ValidationError{Field: "cache.postgres.dsn", Value: config.Cache.Postgres.DSN, Message: "postgres cache requires a dsn"})
		}
	}

	if config.Watch.Debounce < 0 {
		errs = append(errs, ValidationError{Field: "watch.debounce", Value: config.Watch.Debounce, Message: "debounce cannot be negative"})
	}

	if config.Types.Features.AI && !config.AI.Enabled {
		errs = append(errs, ValidationError{
			Field:   "types.features.ai",
			Value:   config.Types.Features.AI,
			Message: "AI hooks require ai.enabled",
		})
	}

	if config.AI.Enabled && config.AI.ReloadURL != "" {
		if u, err := url.Parse(config.AI.ReloadURL); err != nil || u.Scheme == "" {
			errs = append(errs, ValidationError{Field: "ai.reload_url", Value: config.AI.ReloadURL, Message: "reload url must be absolute"})
		}
	}

	return errs
}

// applyDefaults sets default values for missing configuration fields
func applyDefaults(config *ProjectConfig) {
	def := Default()

	if config.Name == "" {
		config.Name = def.Name
	}

	b := &config.Backend
	if b.URL == "" {
		b.URL = def.Backend.URL
	}
	if b.SchemaPath == "" {
		b.SchemaPath = def.Backend.SchemaPath
	}
	if b.FetchTimeout == 0 {
		b.FetchTimeout = def.Backend.FetchTimeout
	}
	if b.StartupTimeout == 0 {
		b.StartupTimeout = def.Backend.StartupTimeout
	}
	if b.PollInterval == 0 {
		b.PollInterval = def.Backend.PollInterval
	}
	if b.KillTimeout == 0 {
		b.KillTimeout = def.Backend.KillTimeout
	}

	if config.Types.OutputDir == "" {
		config.Types.OutputDir = def.Types.OutputDir
	}
	if config.Types.Features == nil {
		config.Types.Features = def.Types.Features
	}

	c := &config.Cache
	if c.Backend == "" {
		c.Backend = def.Cache.Backend
	}
	if c.Dir == "" {
		c.Dir = def.Cache.Dir
	}
	if c.MemoryEntries == 0 {
		c.MemoryEntries = def.Cache.MemoryEntries
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = def.Cache.Redis.Prefix
	}
	if c.Postgres.Table == "" {
		c.Postgres.Table = def.Cache.Postgres.Table
	}

	w := &config.Watch
	if len(w.Paths) == 0 {
		w.Paths = def.Watch.Paths
	}
	if len(w.Patterns) == 0 {
		w.Patterns = def.Watch.Patterns
	}
	if len(w.Ignore) == 0 {
		w.Ignore = def.Watch.Ignore
	}
	if w.Debounce == 0 {
		w.Debounce = def.Watch.Debounce
	}
	if len(w.AIPaths) == 0 {
		w.AIPaths = def.Watch.AIPaths
	}

	if config.AI.ReloadURL == "" {
		config.AI.ReloadURL = def.AI.ReloadURL
	}
	if config.AI.ReloadTimeout == 0 {
		config.AI.ReloadTimeout = def.AI.ReloadTimeout
	}
}

// Default returns the configuration used when no farm.yaml exists
func Default() *ProjectConfig {
	return &ProjectConfig{
		Name: "my-farm-app",
		Backend: BackendConfig{
			URL:            "http://localhost:8000",
			SchemaPath:     "/openapi.json",
			FetchTimeout:   10 * time.Second,
			StartupTimeout: 30 * time.Second,
			PollInterval:   500 * time.Millisecond,
			KillTimeout:    5 * time.Second,
		},
		Types: TypesConfig{
			OutputDir: ".farm/types/generated",
			Features: &FeaturesConfig{
				Client:    true,
				Hooks:     true,
				Streaming: true,
				AI:        false,
			},
		},
		Cache: CacheConfig{
			Backend:       "file",
			Dir:           ".farm/cache/types",
			MemoryEntries: 128,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "farm:types:",
			},
			Postgres: PostgresConfig{
				Table: "farm_type_cache",
			},
		},
		Watch: WatchConfig{
			Paths:    []string{"apps/api/src", DefaultConfigFile},
			Patterns: []string{"*.py", "*.yaml", "*.yml", "*.json"},
			Ignore:   []string{"*.pyc", "__pycache__", "*.swp", "*~", "node_modules", ".farm"},
			Debounce: 300 * time.Millisecond,
			AIPaths:  []string{"apps/api/src/ai"},
		},
		AI: AIConfig{
			ReloadURL:     "http://localhost:8000/api/ai/reload",
			ReloadTimeout: 5 * time.Second,
		},
	}
}

// Save writes the configuration as YAML
func Save(config *ProjectConfig, path string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal configuration")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create directory %s", dir)
		}
	}
	return errors.Wrapf(os.WriteFile(path, data, 0644), "failed to write %s", path)
}

func formatValidationErrors(errs ValidationErrors) string {
	var lines []string
	for i, err := range errs {
		lines = append(lines, fmt.Sprintf("  %d. %s", i+1, err.Error()))
	}
	return strings.Join(lines, "\n")
}

// ValidateConfigFile validates a configuration file without applying defaults
func ValidateConfigFile(path string) error {
	cm := NewConfigManager(ConfigLoadOptions{
		Path:              path,
		AllowMissing:      false,
		ValidateStructure: true,
		ApplyDefaults:     false,
		Quiet:             true,
	})

	_, err := cm.LoadConfigFromPath(path)
	return err
}

// GetConfigInfo returns information about the configuration at path
func GetConfigInfo(path string) (*ConfigInfo, error) {
	opts := DefaultLoadOptions()
	opts.AllowMissing = false
	opts.Quiet = true
	config, err := NewConfigManager(opts).LoadConfigFromPath(path)
	if err != nil {
		return nil, err
	}

	absPath, _ := filepath.Abs(path)

	return &ConfigInfo{
		Path:        absPath,
		ProjectName: config.Name,
		SchemaURL:   config.Backend.SchemaURL(),
		LaunchCmd:   config.Backend.LaunchCmd,
		OutputDir:   config.Types.OutputDir,
		Features:    *config.Types.Features,
		Cache:       config.Cache.Backend,
		WatchPaths:  config.Watch.Paths,
		AIEnabled:   config.AI.Enabled,
	}, nil
}

// ConfigInfo contains summary information about a configuration
type ConfigInfo struct {
	Path        string
	ProjectName string
	SchemaURL   string
	LaunchCmd   string
	OutputDir   string
	Features    FeaturesConfig
	Cache       string
	WatchPaths  []string
	AIEnabled   bool
}

// String returns a formatted string representation of config info
func (info *ConfigInfo) String() string {
	var lines []string
	lines = append(lines, "📋 Configuration Summary")
	lines = append(lines, fmt.Sprintf("   Path: %s", info.Path))
	lines = append(lines, fmt.Sprintf("   Project: %s", info.ProjectName))
	lines = append(lines, fmt.Sprintf("   Schema: %s", info.SchemaURL))
	if info.LaunchCmd != "" {
		lines = append(lines, fmt.Sprintf("   Launch: %s", info.LaunchCmd))
	}
	lines = append(lines, fmt.Sprintf("   Output: %s", info.OutputDir))
	lines = append(lines, fmt.Sprintf("   Features: client=%t hooks=%t streaming=%t ai=%t",
		info.Features.Client, info.Features.Hooks, info.Features.Streaming, info.Features.AI))
	lines = append(lines, fmt.Sprintf("   Cache: %s", info.Cache))
	lines = append(lines, fmt.Sprintf("   Watch: %s", strings.Join(info.WatchPaths, ", ")))
	if info.AIEnabled {
		lines = append(lines, "   AI hot reload: enabled")
	}

	return strings.Join(lines, "\n")
}

// LoadConfig loads farm.yaml using default options, falling back to defaults when missing
func LoadConfig() (*ProjectConfig, error) {
	return NewConfigManager(DefaultLoadOptions()).LoadConfig()
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

type ProjectConfig struct {
	Name    string        `yaml:"name"`
	Backend BackendConfig `yaml:"backend"`
	Types   TypesConfig   `yaml:"types"`
	Cache   CacheConfig   `yaml:"cache"`
	Watch   WatchConfig   `yaml:"watch"`
	AI      AIConfig      `yaml:"ai"`
	Dev     DevConfig     `yaml:"dev"`
}

type BackendConfig struct {
	URL            string            `yaml:"url"`
	SchemaPath     string            `yaml:"schema_path"`
	LaunchCmd      string            `yaml:"launch_cmd,omitempty"` // {{port}} and {{host}} are substituted
	LaunchDir      string            `yaml:"launch_dir,omitempty"`
	Env            map[string]string `yaml:"env,omitempty"`
	UsePTY         bool              `yaml:"use_pty"`
	FetchTimeout   time.Duration     `yaml:"fetch_timeout"`
	StartupTimeout time.Duration     `yaml:"startup_timeout"`
	PollInterval   time.Duration     `yaml:"poll_interval"`
	KillTimeout    time.Duration     `yaml:"kill_timeout"`
}

// SchemaURL joins the backend url and schema path
func (b BackendConfig) SchemaURL() string {
	return strings.TrimRight(b.URL, "/") + b.SchemaPath
}

type TypesConfig struct {
	OutputDir string          `yaml:"output_dir"`
	APIPrefix string          `yaml:"api_prefix,omitempty"`
	Features  *FeaturesConfig `yaml:"features"`
}

type FeaturesConfig struct {
	Client    bool `yaml:"client"`
	Hooks     bool `yaml:"hooks"`
	Streaming bool `yaml:"streaming"`
	AI        bool `yaml:"ai"`
}

type CacheConfig struct {
	Backend       string         `yaml:"backend"` // "file", "redis", "postgres", "memory"
	Dir           string         `yaml:"dir"`
	MemoryEntries int            `yaml:"memory_entries"`
	Redis         RedisConfig    `yaml:"redis"`
	Postgres      PostgresConfig `yaml:"postgres"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

type WatchConfig struct {
	Paths    []string      `yaml:"paths"`
	Patterns []string      `yaml:"patterns"`
	Ignore   []string      `yaml:"ignore"`
	Debounce time.Duration `yaml:"debounce"`
	AIPaths  []string      `yaml:"ai_paths"`
}

type AIConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ReloadURL     string        `yaml:"reload_url"`
	ReloadTimeout time.Duration `yaml:"reload_timeout"`
}

type DevConfig struct {
	ReloadAddr string `yaml:"reload_addr,omitempty"`
}
