package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/ppline/internal/logging"
)

// Config represents the complete ppline configuration
type Config struct {
	Preprocessing PreprocessingConfig `mapstructure:"preprocessing"`
	Items         ItemsConfig         `mapstructure:"items"`
	Export        ExportConfig        `mapstructure:"export"`
	Diag          DiagConfig          `mapstructure:"diag"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// PreprocessingConfig controls the worker pool and the manager loop
type PreprocessingConfig struct {
	// Workers is the number of preprocessing workers (default: 3, max: 1000)
	Workers int `mapstructure:"workers"`
	// StartupTimeout is how long to wait for every worker to register (default: 10s)
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	// FinishedBatchSize caps the finished tasks handled per manager pass (default: 100)
	FinishedBatchSize int `mapstructure:"finished_batch_size"`
	// ManagerDelay is the longest the manager sleeps between passes (default: 500ms)
	ManagerDelay time.Duration `mapstructure:"manager_delay"`
	// StatInterval is how often throughput is logged and published (default: 5s)
	StatInterval time.Duration `mapstructure:"stat_interval"`
}

// ItemsConfig controls where item preprocessing configuration comes from
type ItemsConfig struct {
	// File is a YAML or TOML item file. Relative paths are resolved against
	// the config directory. Supports ~ for home directory expansion.
	File string `mapstructure:"file"`
	// Watch reapplies the file when it changes (default: true)
	Watch bool `mapstructure:"watch"`
	// Debounce is how long a changed file must settle before reloading (default: 250ms)
	Debounce time.Duration `mapstructure:"debounce"`
}

// ExportConfig controls where preprocessed values are written
type ExportConfig struct {
	// Output is a JSON-lines file path, or "-" for stdout (default: "-")
	Output string `mapstructure:"output"`
}

// DiagConfig controls the diagnostics HTTP server
type DiagConfig struct {
	// Enabled starts the server with the run command (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Listen is the host:port the server binds (default: "127.0.0.1:10055")
	Listen string `mapstructure:"listen"`
	// Metrics serves Prometheus metrics on /metrics (default: true)
	Metrics bool `mapstructure:"metrics"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	// Level is the log level: "TRACE", "DEBUG", "INFO", "WARN", "ERROR" (default: "INFO")
	Level string `mapstructure:"level"`
	// File is the log file path. Empty logs to stderr.
	File string `mapstructure:"file"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated log files (default: false)
	Compress bool `mapstructure:"compress"`
}

// LoggerConfig converts the section to a logging.Config.
func (c *LoggingConfig) LoggerConfig() logging.Config {
	return logging.Config{
		Level: c.Level,
		File:  c.File,
		Rotation: logging.RotationConfig{
			MaxSizeMB:  c.MaxSizeMB,
			MaxBackups: c.MaxBackups,
			Compress:   c.Compress,
		},
	}
}

// ResolveItemsFile returns the item file path, or "" when none is set.
// A leading ~ is expanded to the user's home directory and relative paths
// are resolved against baseDir.
func (c *ItemsConfig) ResolveItemsFile(baseDir string) string {
	if c.File == "" {
		return ""
	}
	return resolvePath(c.File, baseDir)
}

// ResolveOutput returns the export path; "-" is returned unchanged.
func (c *ExportConfig) ResolveOutput(baseDir string) string {
	if c.Output == "" || c.Output == "-" {
		return "-"
	}
	return resolvePath(c.Output, baseDir)
}

func resolvePath(path, baseDir string) string {
	// Expand ~ to home directory
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return path
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Preprocessing: PreprocessingConfig{
			Workers:           3,
			StartupTimeout:    10 * time.Second,
			FinishedBatchSize: 100,
			ManagerDelay:      500 * time.Millisecond,
			StatInterval:      5 * time.Second,
		},
		Items: ItemsConfig{
			File:     "items.yaml",
			Watch:    true,
			Debounce: 250 * time.Millisecond,
		},
		Export: ExportConfig{
			Output: "-",
		},
		Diag: DiagConfig{
			Enabled: true,
			Listen:  "127.0.0.1:10055",
			Metrics: true,
		},
		Logging: LoggingConfig{
			Level:      logging.LevelInfo,
			File:       "",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Preprocessing defaults
	viper.SetDefault("preprocessing.workers", defaults.Preprocessing.Workers)
	viper.SetDefault("preprocessing.startup_timeout", defaults.Preprocessing.StartupTimeout)
	viper.SetDefault("preprocessing.finished_batch_size", defaults.Preprocessing.FinishedBatchSize)
	viper.SetDefault("preprocessing.manager_delay", defaults.Preprocessing.ManagerDelay)
	viper.SetDefault("preprocessing.stat_interval", defaults.Preprocessing.StatInterval)

	// Items defaults
	viper.SetDefault("items.file", defaults.Items.File)
	viper.SetDefault("items.watch", defaults.Items.Watch)
	viper.SetDefault("items.debounce", defaults.Items.Debounce)

	// Export defaults
	viper.SetDefault("export.output", defaults.Export.Output)

	// Diag defaults
	viper.SetDefault("diag.enabled", defaults.Diag.Enabled)
	viper.SetDefault("diag.listen", defaults.Diag.Listen)
	viper.SetDefault("diag.metrics", defaults.Diag.Metrics)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.file", defaults.Logging.File)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ppline")
	}
	// Fall back to ~/.config/ppline
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ppline"
	}
	return filepath.Join(home, ".config", "ppline")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "ppline.yaml")
}
