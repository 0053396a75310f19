// Package itemconfig loads item preprocessing configuration from YAML or TOML
// files and keeps a pipeline item table in sync with them.
//
// A file lists items with their value type, processing mode, preprocessing
// steps and master item:
//
//	items:
//	  - itemid: 10
//	    value_type: text
//	  - itemid: 11
//	    master: 10
//	    value_type: float
//	    steps:
//	      - type: jsonpath
//	        params: $.temperature
//	      - type: multiplier
//	        params: 0.1
//
// Dependent lists are derived from the master fields.
package itemconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/ppline/internal/errors"
)

// File is the decoded content of an item configuration file.
type File struct {
	Items []ItemConfig `mapstructure:"items" json:"items" validate:"unique=ItemID,dive"`
}

// ItemConfig configures one item.
type ItemConfig struct {
	ItemID    uint64       `mapstructure:"itemid" json:"itemid" validate:"required"`
	HostID    uint64       `mapstructure:"hostid" json:"hostid,omitempty"`
	Name      string       `mapstructure:"name" json:"name,omitempty"`
	ValueType string       `mapstructure:"value_type" json:"value_type" validate:"required,oneof=float str log uint64 text"`
	Mode      string       `mapstructure:"mode" json:"mode,omitempty" validate:"omitempty,oneof=auto parallel serial"`
	Master    uint64       `mapstructure:"master" json:"master,omitempty" validate:"nefield=ItemID"`
	Discovery bool         `mapstructure:"discovery" json:"discovery,omitempty"`
	Steps     []StepConfig `mapstructure:"steps" json:"steps,omitempty" validate:"dive"`
}

// StepConfig configures one preprocessing step.
type StepConfig struct {
	Type               string `mapstructure:"type" json:"type" validate:"required"`
	Params             string `mapstructure:"params" json:"params,omitempty"`
	ErrorHandler       string `mapstructure:"error_handler" json:"error_handler,omitempty" validate:"omitempty,oneof=default discard set_value set_error"`
	ErrorHandlerParams string `mapstructure:"error_handler_params" json:"error_handler_params,omitempty"`
}

// Format is an item file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatOf picks the encoding from the file extension. Unknown extensions are
// read as YAML.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML
	default:
		return FormatYAML
	}
}

// Load reads, decodes and validates the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigError(path, fmt.Errorf("failed to read file: %w", err))
	}

	f, err := Parse(data, FormatOf(path))
	if err != nil {
		return nil, errors.NewConfigError(path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, withPath(err, path)
	}
	return f, nil
}

// Parse decodes data without validating it. Scalars are converted to the
// field types where possible, so `params: 2` reads as the string "2".
func Parse(data []byte, format Format) (*File, error) {
	raw := map[string]any{}
	switch format {
	case FormatTOML:
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	var f File
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &f,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to decode items: %w", err)
	}
	return &f, nil
}

func withPath(err error, path string) error {
	var cerr *errors.ConfigError
	if errors.As(err, &cerr) {
		cerr.Path = path
		return cerr
	}
	var verrs ValidationErrors
	if errors.As(err, &verrs) {
		return errors.NewConfigError(path, verrs)
	}
	return errors.NewConfigError(path, err)
}
