package preproc

import (
	"time"

	"github.com/Iron-Ham/ppline/internal/variant"
)

// Value option flags mark which ValueOpt fields are set.
const (
	OptLogSource uint32 = 1 << iota
	OptLogEventID
	OptLogSeverity
	OptLogTimestamp
	OptLastLogSize
	OptMtime
)

// ValueOpt is optional metadata collected together with a value.
type ValueOpt struct {
	Flags       uint32 `json:"flags,omitempty"`
	Source      string `json:"source,omitempty"`
	LogEventID  int    `json:"logeventid,omitempty"`
	Severity    int    `json:"severity,omitempty"`
	LogTime     int64  `json:"timestamp,omitempty"`
	LastLogSize uint64 `json:"lastlogsize,omitempty"`
	Mtime       int64  `json:"mtime,omitempty"`
}

// Has reports whether all of the given flags are set.
func (o *ValueOpt) Has(flags uint32) bool {
	return o != nil && o.Flags&flags == flags
}

// ItemValue is a collected value addressed to an item.
type ItemValue struct {
	ItemID uint64
	Value  variant.Value
	TS     time.Time
	Opt    *ValueOpt
}

// StepResult is the outcome of one step, reported to test callers.
type StepResult struct {
	Value    variant.Value
	Action   ErrorHandler
	ValueRaw variant.Value
}

// Outcome is the result of running a definition's steps over a value.
type Outcome struct {
	Value   variant.Value
	Results []StepResult
	History *History
}

// Engine applies preprocessing steps. Step failures are reported in the
// outcome value as error values; Execute never fails the caller.
//
// history is the history left by the previous run and may be nil. cache,
// when set, carries the master value shared with sibling dependents; value is
// None in that case and the engine reads the cached value instead.
type Engine interface {
	Execute(def *Definition, cache *Cache, value variant.Value, ts time.Time,
		history *History, withResults bool) Outcome
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(def *Definition, cache *Cache, value variant.Value, ts time.Time,
	history *History, withResults bool) Outcome

// Execute calls f.
func (f EngineFunc) Execute(def *Definition, cache *Cache, value variant.Value, ts time.Time,
	history *History, withResults bool) Outcome {
	return f(def, cache, value, ts, history, withResults)
}
