// Package export delivers preprocessed item values to their destination.
//
// A [Sink] receives one [ItemResult] per finished value. [JSONLines] writes
// them as newline-delimited JSON; [Memory] keeps them in memory for tests and
// the test command.
package export

import (
	"fmt"
	"time"

	"github.com/Iron-Ham/ppline/internal/preproc"
	"github.com/Iron-Ham/ppline/internal/variant"
)

// ItemResult is a value ready to be stored.
type ItemResult struct {
	ItemID    uint64
	ValueType preproc.ValueType
	Flags     uint8
	Value     variant.Value
	TS        time.Time
	Opt       *preproc.ValueOpt
}

// Sink stores item values.
type Sink interface {
	Flush(ItemResult) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ItemResult) error

// Flush calls f.
func (f SinkFunc) Flush(r ItemResult) error { return f(r) }

var valueTypeLabels = map[preproc.ValueType]string{
	preproc.ValueTypeFloat:  "Numeric (float)",
	preproc.ValueTypeStr:    "Character",
	preproc.ValueTypeLog:    "Log",
	preproc.ValueTypeUint64: "Numeric (unsigned)",
	preproc.ValueTypeText:   "Text",
}

// Prepare converts v to the kind stored by items of type vt. A value that
// cannot be converted becomes an error value describing why. Empty and error
// values are returned unchanged.
func Prepare(vt preproc.ValueType, v variant.Value) variant.Value {
	if v.IsNone() || v.IsError() {
		return v
	}
	conv, err := v.Convert(vt.Kind())
	if err != nil {
		return variant.Error(fmt.Sprintf("Value of type %q is not suitable for value type %q. Value %q",
			v.Kind().String(), valueTypeLabels[vt], v.String()))
	}
	return conv
}

// HasMeta reports whether opt carries log metadata that must be stored even
// without a value.
func HasMeta(opt *preproc.ValueOpt) bool {
	return opt != nil && opt.Flags&(preproc.OptLastLogSize|preproc.OptMtime) != 0
}
