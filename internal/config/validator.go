package config

import (
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Iron-Ham/ppline/internal/logging"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "preprocessing.workers")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

const (
	maxWorkers           = 1000
	maxFinishedBatchSize = 100000
	maxManagerDelay      = time.Minute
	maxDebounce          = time.Minute
)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return logging.ValidLevels()
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validatePreprocessing()...)
	errors = append(errors, c.validateItems()...)
	errors = append(errors, c.validateExport()...)
	errors = append(errors, c.validateDiag()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validatePreprocessing validates the PreprocessingConfig
func (c *Config) validatePreprocessing() []ValidationError {
	var errors []ValidationError
	p := c.Preprocessing

	if p.Workers < 1 || p.Workers > maxWorkers {
		errors = append(errors, ValidationError{
			Field:   "preprocessing.workers",
			Value:   p.Workers,
			Message: fmt.Sprintf("must be between 1 and %d", maxWorkers),
		})
	}

	if p.StartupTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "preprocessing.startup_timeout",
			Value:   p.StartupTimeout,
			Message: "must be positive",
		})
	}

	if p.FinishedBatchSize < 1 || p.FinishedBatchSize > maxFinishedBatchSize {
		errors = append(errors, ValidationError{
			Field:   "preprocessing.finished_batch_size",
			Value:   p.FinishedBatchSize,
			Message: fmt.Sprintf("must be between 1 and %d", maxFinishedBatchSize),
		})
	}

	if p.ManagerDelay <= 0 || p.ManagerDelay > maxManagerDelay {
		errors = append(errors, ValidationError{
			Field:   "preprocessing.manager_delay",
			Value:   p.ManagerDelay,
			Message: fmt.Sprintf("must be positive and at most %s", maxManagerDelay),
		})
	}

	// Statistics are reported from the manager loop, so they cannot be more
	// frequent than its passes.
	if p.StatInterval < p.ManagerDelay {
		errors = append(errors, ValidationError{
			Field:   "preprocessing.stat_interval",
			Value:   p.StatInterval,
			Message: "must not be shorter than preprocessing.manager_delay",
		})
	}

	return errors
}

// validateItems validates the ItemsConfig
func (c *Config) validateItems() []ValidationError {
	var errors []ValidationError

	if c.Items.Watch && c.Items.File == "" {
		errors = append(errors, ValidationError{
			Field:   "items.file",
			Value:   c.Items.File,
			Message: "is required when items.watch is enabled",
		})
	}

	if c.Items.File != "" {
		ext := strings.ToLower(c.Items.File)
		if !strings.HasSuffix(ext, ".yaml") && !strings.HasSuffix(ext, ".yml") && !strings.HasSuffix(ext, ".toml") {
			errors = append(errors, ValidationError{
				Field:   "items.file",
				Value:   c.Items.File,
				Message: "must be a .yaml, .yml or .toml file",
			})
		}
	}

	if c.Items.Debounce < 0 || c.Items.Debounce > maxDebounce {
		errors = append(errors, ValidationError{
			Field:   "items.debounce",
			Value:   c.Items.Debounce,
			Message: fmt.Sprintf("must be between 0 and %s", maxDebounce),
		})
	}

	return errors
}

// validateExport validates the ExportConfig
func (c *Config) validateExport() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Export.Output) == "" {
		errors = append(errors, ValidationError{
			Field:   "export.output",
			Value:   c.Export.Output,
			Message: `must be a file path or "-"`,
		})
	}

	return errors
}

// validateDiag validates the DiagConfig
func (c *Config) validateDiag() []ValidationError {
	var errors []ValidationError

	if !c.Diag.Enabled {
		return errors
	}

	_, port, err := net.SplitHostPort(c.Diag.Listen)
	if err != nil {
		errors = append(errors, ValidationError{
			Field:   "diag.listen",
			Value:   c.Diag.Listen,
			Message: "must be host:port",
		})
		return errors
	}

	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		errors = append(errors, ValidationError{
			Field:   "diag.listen",
			Value:   c.Diag.Listen,
			Message: "port must be between 0 and 65535",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToUpper(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Max size must be positive
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	// Max backups must be non-negative
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
