package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/artpar/deployer/internal/core/outcome"
	"github.com/artpar/deployer/internal/core/source"
	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        LogConfig        `mapstructure:"log"`
	DeployTool DeployToolConfig `mapstructure:"deploy_tool"`
	Repository RepositoryConfig `mapstructure:"repository"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Platform   PlatformConfig   `mapstructure:"platform"`
	Security   SecurityConfig   `mapstructure:"security"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DeployToolConfig configures the external deploy tool.
type DeployToolConfig struct {
	Binary string `mapstructure:"binary"`

	// Timeout bounds one whole pipeline run, clone included.
	Timeout time.Duration `mapstructure:"timeout"`

	// StderrPolicy is "fail" (any stderr output fails the deploy) or "ignore".
	StderrPolicy string `mapstructure:"stderr_policy"`

	ConfirmInput string `mapstructure:"confirm_input"`
}

// TemplateDirConfig is one bundled-template root.
type TemplateDirConfig struct {
	Dir    string `mapstructure:"dir"`
	Layout string `mapstructure:"layout"`
}

// RepositoryConfig configures repository resolution.
type RepositoryConfig struct {
	ScratchDir   string              `mapstructure:"scratch_dir"`
	TemplateDirs []TemplateDirConfig `mapstructure:"template_dirs"`
	CloneDepth   int                 `mapstructure:"clone_depth"` // negative clones full history
}

// TemplateRoots converts the configured template dirs.
func (c RepositoryConfig) TemplateRoots() []source.TemplateRoot {
	roots := make([]source.TemplateRoot, 0, len(c.TemplateDirs))
	for _, d := range c.TemplateDirs {
		roots = append(roots, source.TemplateRoot{Dir: d.Dir, Layout: source.Layout(d.Layout)})
	}
	return roots
}

// WorkerConfig holds queued activation worker configuration.
type WorkerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Interval      time.Duration `mapstructure:"interval"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	BatchSize     int           `mapstructure:"batch_size"`
}

// PlatformConfig holds the platform defaults used when invocation params omit them.
// Each key also reads the matching __OW_* variable.
type PlatformConfig struct {
	APIHost      string `mapstructure:"api_host"`
	APIKey       string `mapstructure:"api_key"`
	ActivationID string `mapstructure:"activation_id"`
}

// SecurityConfig holds secrets.
type SecurityConfig struct {
	// EncryptionKey seals credentials of queued activations. When empty a random
	// key is generated and queued credentials do not survive a restart.
	EncryptionKey string `mapstructure:"encryption_key"`
}

// MetricsConfig holds Prometheus configuration.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "15m") // web deploys block for the whole pipeline
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("database.dsn", "./data/deployer.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("deploy_tool.binary", "wskdeploy")
	v.SetDefault("deploy_tool.timeout", "10m")
	v.SetDefault("deploy_tool.stderr_policy", string(outcome.StderrFail))
	v.SetDefault("deploy_tool.confirm_input", "y\n")

	v.SetDefault("repository.scratch_dir", "")
	v.SetDefault("repository.template_dirs", []map[string]any{
		{"dir": "./preInstalled", "layout": string(source.LayoutOrgRepo)},
	})
	v.SetDefault("repository.clone_depth", 1)

	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.interval", "2s")
	v.SetDefault("worker.max_concurrent", 2)
	v.SetDefault("worker.batch_size", 10)

	v.SetDefault("platform.api_host", "")
	v.SetDefault("platform.api_key", "")
	v.SetDefault("platform.activation_id", "")

	v.SetDefault("security.encryption_key", "") // Must be set via environment

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "deployer")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("DEPLOYER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Platform-provided action environment
	for key, env := range map[string]string{
		"platform.api_host":      "__OW_API_HOST",
		"platform.api_key":       "__OW_API_KEY",
		"platform.activation_id": "__OW_ACTIVATION_ID",
	} {
		if err := v.BindEnv(key, "DEPLOYER_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	if _, err := outcome.ParseStderrPolicy(c.DeployTool.StderrPolicy); err != nil {
		return fmt.Errorf("deploy_tool.stderr_policy: %w", err)
	}
	for i, d := range c.Repository.TemplateDirs {
		switch source.Layout(d.Layout) {
		case source.LayoutOrgRepo, source.LayoutRepo:
		default:
			return fmt.Errorf("repository.template_dirs[%d]: unknown layout %q", i, d.Layout)
		}
	}
	if c.DeployTool.Timeout < 0 {
		return fmt.Errorf("deploy_tool.timeout must not be negative")
	}
	return nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	// Logs go to stderr so `deployer invoke` keeps stdout for the envelope.
	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
