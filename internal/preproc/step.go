package preproc

import (
	"fmt"
	"strings"
)

// StepType identifies a preprocessing step.
type StepType uint8

// Supported step types.
const (
	StepMultiplier StepType = iota + 1
	StepRTrim
	StepLTrim
	StepTrim
	StepRegsub
	StepBoolToDecimal
	StepOctalToDecimal
	StepHexToDecimal
	StepDeltaValue
	StepDeltaSpeed
	StepJSONPath
	StepValidateRange
	StepValidateRegex
	StepValidateNotRegex
	StepErrorFieldJSON
	StepThrottleValue
	StepThrottleTimedValue
	StepPrometheusPattern
	StepPrometheusToJSON
	StepStrReplace
	StepValidateNotSupported
)

var stepNames = map[StepType]string{
	StepMultiplier:           "multiplier",
	StepRTrim:                "rtrim",
	StepLTrim:                "ltrim",
	StepTrim:                 "trim",
	StepRegsub:               "regsub",
	StepBoolToDecimal:        "bool_to_decimal",
	StepOctalToDecimal:       "octal_to_decimal",
	StepHexToDecimal:         "hex_to_decimal",
	StepDeltaValue:           "delta_value",
	StepDeltaSpeed:           "delta_speed",
	StepJSONPath:             "jsonpath",
	StepValidateRange:        "validate_range",
	StepValidateRegex:        "validate_regex",
	StepValidateNotRegex:     "validate_not_regex",
	StepErrorFieldJSON:       "error_field_json",
	StepThrottleValue:        "throttle_value",
	StepThrottleTimedValue:   "throttle_timed_value",
	StepPrometheusPattern:    "prometheus_pattern",
	StepPrometheusToJSON:     "prometheus_to_json",
	StepStrReplace:           "str_replace",
	StepValidateNotSupported: "validate_not_supported",
}

// String returns the configuration name of the step type.
func (t StepType) String() string {
	if name, ok := stepNames[t]; ok {
		return name
	}
	return fmt.Sprintf("step(%d)", uint8(t))
}

// ParseStepType resolves a configuration name to a step type.
func ParseStepType(name string) (StepType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for t, n := range stepNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown preprocessing step type %q", name)
}

// StepTypeNames returns all configuration names.
func StepTypeNames() []string {
	names := make([]string, 0, len(stepNames))
	for t := StepMultiplier; t <= StepValidateNotSupported; t++ {
		names = append(names, stepNames[t])
	}
	return names
}

// NeedsHistory reports whether the step keeps a previous value between runs.
func (t StepType) NeedsHistory() bool {
	switch t {
	case StepDeltaValue, StepDeltaSpeed, StepThrottleValue, StepThrottleTimedValue:
		return true
	default:
		return false
	}
}

// Cacheable reports whether a parsed form of the input can be shared between
// sibling dependent items when the step runs first.
func (t StepType) Cacheable() bool {
	switch t {
	case StepJSONPath, StepPrometheusPattern, StepPrometheusToJSON:
		return true
	default:
		return false
	}
}

// ErrorHandler selects what happens when a step fails.
type ErrorHandler uint8

const (
	// ErrorHandlerDefault keeps the step error as the result.
	ErrorHandlerDefault ErrorHandler = iota
	// ErrorHandlerDiscard drops the value.
	ErrorHandlerDiscard
	// ErrorHandlerSetValue replaces the error with the handler parameter.
	ErrorHandlerSetValue
	// ErrorHandlerSetError replaces the error message with the handler parameter.
	ErrorHandlerSetError
)

var handlerNames = map[ErrorHandler]string{
	ErrorHandlerDefault:  "default",
	ErrorHandlerDiscard:  "discard",
	ErrorHandlerSetValue: "set_value",
	ErrorHandlerSetError: "set_error",
}

func (h ErrorHandler) String() string {
	if name, ok := handlerNames[h]; ok {
		return name
	}
	return fmt.Sprintf("handler(%d)", uint8(h))
}

// ParseErrorHandler resolves a configuration name; an empty name is default.
func ParseErrorHandler(name string) (ErrorHandler, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ErrorHandlerDefault, nil
	}
	for h, n := range handlerNames {
		if n == name {
			return h, nil
		}
	}
	return 0, fmt.Errorf("unknown error handler %q", name)
}

// Step is one transformation in an item's preprocessing chain.
type Step struct {
	Type               StepType
	Params             string
	ErrorHandler       ErrorHandler
	ErrorHandlerParams string
}
