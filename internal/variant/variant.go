// Package variant implements the tagged value that flows through the
// preprocessing pipeline: collected values, intermediate step outputs and
// step failures all travel as a Value.
package variant

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind discriminates the payload held by a Value.
type Kind uint8

const (
	// KindNone marks an empty value (nothing collected, or discarded by a step).
	KindNone Kind = iota
	// KindStr holds text.
	KindStr
	// KindUint64 holds an unsigned integer.
	KindUint64
	// KindFloat64 holds a floating point number.
	KindFloat64
	// KindError holds an error message; step failures are data, not Go errors.
	KindError
)

// String returns the kind name used in logs and diagnostics.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindStr:
		return "str"
	case KindUint64:
		return "uint64"
	case KindFloat64:
		return "double"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is an immutable tagged value. The zero Value is None.
type Value struct {
	kind Kind
	str  string
	ui   uint64
	dbl  float64
}

// None returns the empty value.
func None() Value { return Value{} }

// Str returns a text value.
func Str(s string) Value { return Value{kind: KindStr, str: s} }

// Uint64 returns an unsigned integer value.
func Uint64(u uint64) Value { return Value{kind: KindUint64, ui: u} }

// Float64 returns a floating point value.
func Float64(f float64) Value { return Value{kind: KindFloat64, dbl: f} }

// Error returns an error value carrying msg.
func Error(msg string) Value { return Value{kind: KindError, str: msg} }

// Errorf formats an error value.
func Errorf(format string, args ...any) Value {
	return Error(fmt.Sprintf(format, args...))
}

// Kind returns the value kind.
func (v Value) Kind() Kind { return v.kind }

// IsNone reports whether the value is empty.
func (v Value) IsNone() bool { return v.kind == KindNone }

// IsError reports whether the value carries an error.
func (v Value) IsError() bool { return v.kind == KindError }

// Uint returns the payload of an unsigned integer value.
func (v Value) Uint() (uint64, bool) {
	return v.ui, v.kind == KindUint64
}

// Float returns the numeric payload as a float for numeric values.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindFloat64:
		return v.dbl, true
	case KindUint64:
		return float64(v.ui), true
	default:
		return 0, false
	}
}

// Err returns the error message of an error value, or "" for other kinds.
func (v Value) Err() string {
	if v.kind != KindError {
		return ""
	}
	return v.str
}

// String renders the value as text. Floats use the shortest representation
// that round-trips.
func (v Value) String() string {
	switch v.kind {
	case KindStr, KindError:
		return v.str
	case KindUint64:
		return strconv.FormatUint(v.ui, 10)
	case KindFloat64:
		return strconv.FormatFloat(v.dbl, 'f', -1, 64)
	default:
		return ""
	}
}

// Describe renders the value with its kind for logs, e.g. `str:"5"`.
func (v Value) Describe() string {
	switch v.kind {
	case KindNone:
		return "none"
	case KindStr:
		return fmt.Sprintf("str:%q", v.str)
	case KindError:
		return fmt.Sprintf("error:%q", v.str)
	default:
		return v.kind.String() + ":" + v.String()
	}
}

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNone:
		return true
	case KindStr, KindError:
		return v.str == o.str
	case KindUint64:
		return v.ui == o.ui
	case KindFloat64:
		return v.dbl == o.dbl
	}
	return false
}

// ToStr converts the value to text.
func (v Value) ToStr() (Value, error) {
	switch v.kind {
	case KindStr:
		return v, nil
	case KindUint64, KindFloat64:
		return Str(v.String()), nil
	default:
		return v, fmt.Errorf("cannot convert %s value to string", v.kind)
	}
}

// ToFloat64 converts the value to a float, parsing text when needed.
func (v Value) ToFloat64() (Value, error) {
	switch v.kind {
	case KindFloat64:
		return v, nil
	case KindUint64:
		return Float64(float64(v.ui)), nil
	case KindStr:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return v, fmt.Errorf("cannot convert value %q to numeric (float)", v.str)
		}
		return Float64(f), nil
	default:
		return v, fmt.Errorf("cannot convert %s value to float", v.kind)
	}
}

// ToUint64 converts the value to an unsigned integer. Floats are truncated;
// negative or overflowing values fail.
func (v Value) ToUint64() (Value, error) {
	switch v.kind {
	case KindUint64:
		return v, nil
	case KindFloat64:
		if v.dbl < 0 || v.dbl >= math.MaxUint64 || math.IsNaN(v.dbl) {
			return v, fmt.Errorf("value %s is out of range for unsigned integer", v.String())
		}
		return Uint64(uint64(v.dbl)), nil
	case KindStr:
		s := strings.TrimSpace(v.str)
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return Uint64(u), nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return v, fmt.Errorf("cannot convert value %q to numeric (unsigned)", v.str)
		}
		return Float64(f).ToUint64()
	default:
		return v, fmt.Errorf("cannot convert %s value to unsigned integer", v.kind)
	}
}

// Convert converts the value to the requested kind.
func (v Value) Convert(k Kind) (Value, error) {
	switch k {
	case KindStr:
		return v.ToStr()
	case KindFloat64:
		return v.ToFloat64()
	case KindUint64:
		return v.ToUint64()
	case KindNone:
		return None(), nil
	default:
		return v, fmt.Errorf("unsupported conversion to %s", k)
	}
}

// ToNumeric converts text to the narrowest numeric kind: unsigned integer when
// it parses as one, float otherwise. Numeric values are returned unchanged.
func (v Value) ToNumeric() (Value, error) {
	switch v.kind {
	case KindUint64, KindFloat64:
		return v, nil
	case KindStr:
		if u, err := strconv.ParseUint(strings.TrimSpace(v.str), 10, 64); err == nil {
			return Uint64(u), nil
		}
		return v.ToFloat64()
	default:
		return v, fmt.Errorf("cannot convert %s value to numeric", v.kind)
	}
}
