package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/ppline/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View ppline configuration",
	Long: `View ppline configuration.

Without arguments, displays the current configuration.
Use subcommands to locate or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/ppline/ppline.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

// configView is the YAML form of a Config as shown to users.
type configView struct {
	Preprocessing struct {
		Workers           int    `yaml:"workers"`
		StartupTimeout    string `yaml:"startup_timeout"`
		FinishedBatchSize int    `yaml:"finished_batch_size"`
		ManagerDelay      string `yaml:"manager_delay"`
		StatInterval      string `yaml:"stat_interval"`
	} `yaml:"preprocessing"`
	Items struct {
		File     string `yaml:"file"`
		Watch    bool   `yaml:"watch"`
		Debounce string `yaml:"debounce"`
	} `yaml:"items"`
	Export struct {
		Output string `yaml:"output"`
	} `yaml:"export"`
	Diag struct {
		Enabled bool   `yaml:"enabled"`
		Listen  string `yaml:"listen"`
		Metrics bool   `yaml:"metrics"`
	} `yaml:"diag"`
	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`
}

func newConfigView(cfg *config.Config) configView {
	var v configView
	v.Preprocessing.Workers = cfg.Preprocessing.Workers
	v.Preprocessing.StartupTimeout = cfg.Preprocessing.StartupTimeout.String()
	v.Preprocessing.FinishedBatchSize = cfg.Preprocessing.FinishedBatchSize
	v.Preprocessing.ManagerDelay = cfg.Preprocessing.ManagerDelay.String()
	v.Preprocessing.StatInterval = cfg.Preprocessing.StatInterval.String()
	v.Items.File = cfg.Items.File
	v.Items.Watch = cfg.Items.Watch
	v.Items.Debounce = cfg.Items.Debounce.String()
	v.Export.Output = cfg.Export.Output
	v.Diag.Enabled = cfg.Diag.Enabled
	v.Diag.Listen = cfg.Diag.Listen
	v.Diag.Metrics = cfg.Diag.Metrics
	v.Logging.Level = cfg.Logging.Level
	v.Logging.File = cfg.Logging.File
	v.Logging.MaxSizeMB = cfg.Logging.MaxSizeMB
	v.Logging.MaxBackups = cfg.Logging.MaxBackups
	v.Logging.Compress = cfg.Logging.Compress
	return v
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, "Current configuration:")
	fmt.Fprintln(w)

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(w, "Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(w, "Config file: (none - using defaults)\n")
	}
	fmt.Fprintln(w)

	data, err := yaml.Marshal(newConfigView(cfg))
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}
	_, err = w.Write(data)
	return err
}

const defaultConfigContent = `# ppline configuration

# Worker pool and manager loop
preprocessing:
  # Number of preprocessing workers
  workers: 3
  # How long to wait for every worker to start
  startup_timeout: 10s
  # Finished tasks handled per manager pass
  finished_batch_size: 100
  # Longest sleep between manager passes
  manager_delay: 500ms
  # How often throughput statistics are logged
  stat_interval: 5s

# Item preprocessing configuration (YAML or TOML)
items:
  # Relative paths are resolved against this directory
  file: items.yaml
  # Reload the file when it changes
  watch: true
  # How long a changed file must settle before it is reloaded
  debounce: 250ms

# Where preprocessed values are written as JSON lines ("-" for stdout)
export:
  output: "-"

# Diagnostics HTTP server
diag:
  enabled: true
  listen: 127.0.0.1:10055
  # Serve Prometheus metrics on /metrics
  metrics: true

logging:
  # TRACE, DEBUG, INFO, WARN or ERROR
  level: INFO
  # Log file path, empty for stderr
  file: ""
  max_size_mb: 10
  max_backups: 3
  compress: false
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s", configFile)
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configFile, []byte(defaultConfigContent), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	configFile := config.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(w, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(w, "Default path: %s (not created)\n", configFile)
	}

	fmt.Fprintln(w, "\nSearch paths:")
	fmt.Fprintf(w, "  1. %s\n", filepath.Join(config.ConfigDir(), "ppline.yaml"))
	fmt.Fprintf(w, "  2. $HOME/.config/ppline/ppline.yaml\n")
	fmt.Fprintf(w, "  3. ./ppline.yaml (current directory)\n")
	fmt.Fprintln(w, "\nEnvironment variables: PPLINE_* (e.g., PPLINE_PREPROCESSING_WORKERS)")

	return nil
}
