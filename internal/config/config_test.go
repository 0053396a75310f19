package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/ppline/internal/logging"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	// Verify default preprocessing config
	if cfg.Preprocessing.Workers != 3 {
		t.Errorf("Preprocessing.Workers = %d, want 3", cfg.Preprocessing.Workers)
	}
	if cfg.Preprocessing.StartupTimeout != 10*time.Second {
		t.Errorf("Preprocessing.StartupTimeout = %v, want 10s", cfg.Preprocessing.StartupTimeout)
	}
	if cfg.Preprocessing.FinishedBatchSize != 100 {
		t.Errorf("Preprocessing.FinishedBatchSize = %d, want 100", cfg.Preprocessing.FinishedBatchSize)
	}
	if cfg.Preprocessing.ManagerDelay != 500*time.Millisecond {
		t.Errorf("Preprocessing.ManagerDelay = %v, want 500ms", cfg.Preprocessing.ManagerDelay)
	}
	if cfg.Preprocessing.StatInterval != 5*time.Second {
		t.Errorf("Preprocessing.StatInterval = %v, want 5s", cfg.Preprocessing.StatInterval)
	}

	// Verify default items config
	if cfg.Items.File != "items.yaml" {
		t.Errorf("Items.File = %q, want %q", cfg.Items.File, "items.yaml")
	}
	if !cfg.Items.Watch {
		t.Error("Items.Watch should be true by default")
	}

	// Verify default export and diag config
	if cfg.Export.Output != "-" {
		t.Errorf("Export.Output = %q, want %q", cfg.Export.Output, "-")
	}
	if !cfg.Diag.Enabled || !cfg.Diag.Metrics {
		t.Error("Diag server and metrics should be enabled by default")
	}
	if cfg.Diag.Listen != "127.0.0.1:10055" {
		t.Errorf("Diag.Listen = %q", cfg.Diag.Listen)
	}

	// Verify default logging config
	if cfg.Logging.Level != logging.LevelInfo {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, logging.LevelInfo)
	}
	if cfg.Logging.MaxSizeMB != 10 || cfg.Logging.MaxBackups != 3 {
		t.Errorf("Logging rotation = %d MB x %d", cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups)
	}
}

func TestLoggingConfig_LoggerConfig(t *testing.T) {
	lc := LoggingConfig{Level: "DEBUG", File: "/var/log/ppline.log", MaxSizeMB: 5, MaxBackups: 2, Compress: true}
	got := lc.LoggerConfig()

	if got.Level != "DEBUG" || got.File != "/var/log/ppline.log" {
		t.Errorf("LoggerConfig() = %+v", got)
	}
	if got.Rotation.MaxSizeMB != 5 || got.Rotation.MaxBackups != 2 || !got.Rotation.Compress {
		t.Errorf("LoggerConfig().Rotation = %+v", got.Rotation)
	}
}

func TestItemsConfig_ResolveItemsFile(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		name string
		file string
		want string
	}{
		{"empty", "", ""},
		{"relative", "items.yaml", filepath.Join("/etc/ppline", "items.yaml")},
		{"nested relative", "conf/items.toml", filepath.Join("/etc/ppline", "conf", "items.toml")},
		{"absolute", "/srv/items.yaml", "/srv/items.yaml"},
		{"home", "~/items.yaml", filepath.Join(home, "items.yaml")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ic := ItemsConfig{File: tt.file}
			if got := ic.ResolveItemsFile("/etc/ppline"); got != tt.want {
				t.Errorf("ResolveItemsFile() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExportConfig_ResolveOutput(t *testing.T) {
	tests := []struct {
		output string
		want   string
	}{
		{"", "-"},
		{"-", "-"},
		{"values.jsonl", "/data/values.jsonl"},
		{"/tmp/out.jsonl", "/tmp/out.jsonl"},
	}
	for _, tt := range tests {
		ec := ExportConfig{Output: tt.output}
		if got := ec.ResolveOutput("/data"); got != tt.want {
			t.Errorf("ResolveOutput(%q) = %q, want %q", tt.output, got, tt.want)
		}
	}
}

func TestConfigDir(t *testing.T) {
	// Test with XDG_CONFIG_HOME set
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		result := ConfigDir()
		expected := "/custom/config/ppline"
		if result != expected {
			t.Errorf("ConfigDir() = %q, want %q", result, expected)
		}
	})

	// Test without XDG_CONFIG_HOME
	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		result := ConfigDir()

		// Should be based on home directory
		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, ".config", "ppline")
		if result != expected {
			t.Errorf("ConfigDir() = %q, want %q", result, expected)
		}
	})
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	result := ConfigFile()
	expected := "/custom/config/ppline/ppline.yaml"
	if result != expected {
		t.Errorf("ConfigFile() = %q, want %q", result, expected)
	}
}

func TestGet(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	// Set defaults in viper first (normally done by cmd init)
	SetDefaults()

	// Get() should return defaults when no config file exists
	cfg := Get()
	if cfg == nil {
		t.Fatal("Get() returned nil")
	}
	if cfg.Preprocessing.Workers != 3 {
		t.Errorf("Get().Preprocessing.Workers = %d, want 3", cfg.Preprocessing.Workers)
	}
}

func TestLoadFromFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	path := filepath.Join(t.TempDir(), "ppline.yaml")
	content := `
preprocessing:
  workers: 8
  manager_delay: 250ms
  stat_interval: 1m
items:
  file: /srv/items.toml
  debounce: 1s
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Preprocessing.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Preprocessing.Workers)
	}
	if cfg.Preprocessing.ManagerDelay != 250*time.Millisecond || cfg.Preprocessing.StatInterval != time.Minute {
		t.Errorf("durations = %v / %v", cfg.Preprocessing.ManagerDelay, cfg.Preprocessing.StatInterval)
	}
	if cfg.Items.File != "/srv/items.toml" || cfg.Items.Debounce != time.Second {
		t.Errorf("Items = %+v", cfg.Items)
	}
	// Unset keys keep their defaults
	if cfg.Preprocessing.StartupTimeout != 10*time.Second || cfg.Export.Output != "-" {
		t.Errorf("defaults lost: %+v %+v", cfg.Preprocessing, cfg.Export)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()
	viper.Set("preprocessing.workers", 0)
	viper.Set("logging.level", "chatty")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() accepted an invalid configuration")
	}
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("Load() error type = %T, want ValidationErrors", err)
	}
	if len(verrs) != 2 {
		t.Errorf("got %d errors, want 2: %v", len(verrs), verrs)
	}
	if !strings.Contains(err.Error(), "preprocessing.workers") || !strings.Contains(err.Error(), "logging.level") {
		t.Errorf("Load() error = %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()
	viper.SetEnvPrefix("PPLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	t.Setenv("PPLINE_PREPROCESSING_WORKERS", "12")
	t.Setenv("PPLINE_DIAG_LISTEN", "0.0.0.0:9000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Preprocessing.Workers != 12 || cfg.Diag.Listen != "0.0.0.0:9000" {
		t.Errorf("env overrides not applied: workers=%d listen=%q", cfg.Preprocessing.Workers, cfg.Diag.Listen)
	}
}
