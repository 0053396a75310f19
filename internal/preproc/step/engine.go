// Package step implements the preprocessing step engine: the library of
// transformations an item's definition chains together. The pipeline core
// only sees it through preproc.Engine.
package step

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/ppline/internal/logging"
	"github.com/Iron-Ham/ppline/internal/preproc"
	"github.com/Iron-Ham/ppline/internal/util"
	"github.com/Iron-Ham/ppline/internal/variant"
)

// maxErrorValueLen bounds the input value quoted in a failure message.
const maxErrorValueLen = 255

// Engine runs preprocessing steps. It is safe for concurrent use; compiled
// regular expressions are shared between runs.
type Engine struct {
	logger *logging.Logger

	mu      sync.RWMutex
	regexps map[string]*regexp.Regexp
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for step failures at DEBUG level.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{regexps: make(map[string]*regexp.Regexp)}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.NopLogger()
	}
	return e
}

var _ preproc.Engine = (*Engine)(nil)

// input is what a single step sees.
type input struct {
	value   variant.Value
	ts      time.Time
	cache   *preproc.Cache
	history preproc.HistoryEntry
	hasHist bool
}

// output is what a single step produces. hist is recorded for history steps
// when keepHist is set.
type output struct {
	value    variant.Value
	hist     variant.Value
	histTS   time.Time
	keepHist bool
}

// Execute applies def's steps to value.
func (e *Engine) Execute(def *preproc.Definition, cache *preproc.Cache, value variant.Value, ts time.Time,
	history *preproc.History, withResults bool) preproc.Outcome {
	if value.IsNone() && cache != nil {
		value = cache.Value()
	}

	steps := def.Steps()
	if len(steps) == 0 {
		return preproc.Outcome{Value: value}
	}

	var (
		results []preproc.StepResult
		action  = preproc.ErrorHandlerDefault
		histOut = preproc.NewHistory(def.HistoryNum())
		failed  string
		current = value
	)
	if withResults {
		results = make([]preproc.StepResult, 0, len(steps))
	}

	for i, st := range steps {
		if current.IsError() && st.Type != preproc.StepValidateNotSupported {
			break
		}

		in := input{value: current, ts: ts}
		if i == 0 {
			in.cache = cache
		}
		if st.Type.NeedsHistory() {
			in.history, in.hasHist = history.Get(i)
		}

		out, err := e.runStep(st, in)
		raw := out.value
		action = preproc.ErrorHandlerDefault
		if err != nil {
			raw = variant.Error(err.Error())
			failed = fmt.Sprintf("%d. Failed: %s", i+1, err.Error())
			out.value, action = applyErrorHandler(st, err)
			e.logger.Debug("preprocessing step failed",
				"itemid", def.ItemID(), "step", i+1, "type", st.Type.String(), "error", err.Error())
		}

		if withResults {
			results = append(results, preproc.StepResult{Value: out.value, Action: action, ValueRaw: raw})
		}
		if out.keepHist && !out.value.IsError() {
			histOut.Add(i, out.hist, out.histTS)
		}

		current = out.value
		if current.IsNone() {
			break
		}
	}

	if current.IsError() {
		histOut = nil
		if action != preproc.ErrorHandlerSetError && failed != "" {
			current = variant.Error(fmt.Sprintf("Preprocessing failed for: %s\n%s",
				util.TruncateString(value.String(), maxErrorValueLen), failed))
		}
	}

	return preproc.Outcome{Value: current, Results: results, History: histOut}
}

func applyErrorHandler(st preproc.Step, err error) (variant.Value, preproc.ErrorHandler) {
	switch st.ErrorHandler {
	case preproc.ErrorHandlerDiscard:
		return variant.None(), st.ErrorHandler
	case preproc.ErrorHandlerSetValue:
		return variant.Str(st.ErrorHandlerParams), st.ErrorHandler
	case preproc.ErrorHandlerSetError:
		return variant.Error(st.ErrorHandlerParams), st.ErrorHandler
	default:
		return variant.Error(err.Error()), preproc.ErrorHandlerDefault
	}
}

func (e *Engine) runStep(st preproc.Step, in input) (output, error) {
	var (
		v   variant.Value
		err error
	)

	switch st.Type {
	case preproc.StepMultiplier:
		v, err = multiply(in.value, st.Params)
	case preproc.StepTrim:
		v, err = trim(in.value, st.Params, strings.Trim)
	case preproc.StepRTrim:
		v, err = trim(in.value, st.Params, strings.TrimRight)
	case preproc.StepLTrim:
		v, err = trim(in.value, st.Params, strings.TrimLeft)
	case preproc.StepRegsub:
		v, err = e.regsub(in.value, st.Params)
	case preproc.StepStrReplace:
		v, err = strReplace(in.value, st.Params)
	case preproc.StepBoolToDecimal:
		v, err = boolToDecimal(in.value)
	case preproc.StepOctalToDecimal:
		v, err = baseToDecimal(in.value, 8)
	case preproc.StepHexToDecimal:
		v, err = baseToDecimal(in.value, 16)
	case preproc.StepValidateRange:
		v, err = validateRange(in.value, st.Params)
	case preproc.StepValidateRegex:
		v, err = e.validateRegex(in.value, st.Params, true)
	case preproc.StepValidateNotRegex:
		v, err = e.validateRegex(in.value, st.Params, false)
	case preproc.StepValidateNotSupported:
		v, err = e.validateNotSupported(in.value, st.Params)
	case preproc.StepErrorFieldJSON:
		v, err = errorFieldJSON(in.value, st.Params)
	case preproc.StepJSONPath:
		v, err = jsonPathStep(in.value, in.cache, st.Params)
	case preproc.StepPrometheusPattern:
		v, err = prometheusPattern(in.value, in.cache, st.Params)
	case preproc.StepPrometheusToJSON:
		v, err = prometheusToJSON(in.value, in.cache, st.Params)
	case preproc.StepDeltaValue, preproc.StepDeltaSpeed:
		return delta(st.Type, in)
	case preproc.StepThrottleValue:
		return throttle(in, 0)
	case preproc.StepThrottleTimedValue:
		return throttleTimed(in, st.Params)
	default:
		err = fmt.Errorf("unknown preprocessing step type %s", st.Type)
	}

	return output{value: v}, err
}

// regexp returns a compiled expression, compiling it once per pattern.
func (e *Engine) regexp(pattern string) (*regexp.Regexp, error) {
	e.mu.RLock()
	re, ok := e.regexps[pattern]
	e.mu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regular expression %q: %w", pattern, err)
	}

	e.mu.Lock()
	e.regexps[pattern] = re
	e.mu.Unlock()
	return re, nil
}

// splitParams splits newline-separated step parameters into exactly n parts,
// padding missing ones with "".
func splitParams(params string, n int) []string {
	parts := strings.SplitN(params, "\n", n)
	for len(parts) < n {
		parts = append(parts, "")
	}
	return parts
}
