package cmd

import (
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/ppline/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "ppline",
	Short: "Item value preprocessing pipeline",
	Long: `ppline runs collected item values through per-item preprocessing steps
on a pool of workers, keeping values of serial items in order and fanning
master values out to their dependent items.

Values are read as JSON lines, preprocessed according to an item
configuration file and written out as JSON lines. A local diagnostics
server exposes queue statistics and Prometheus metrics while it runs.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/ppline/ppline.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("ppline")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/ppline")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("PPLINE")
	// Replace dots with underscores for nested keys in env vars
	// e.g., PPLINE_PREPROCESSING_WORKERS for preprocessing.workers
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// baseDir is the directory relative paths in the configuration are resolved
// against: the directory of the config file in use, or the default config
// directory.
func baseDir() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return filepath.Dir(used)
	}
	return config.ConfigDir()
}
