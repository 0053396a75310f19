package step

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Iron-Ham/ppline/internal/preproc"
	"github.com/Iron-Ham/ppline/internal/variant"
)

func multiply(v variant.Value, params string) (variant.Value, error) {
	num, err := v.ToNumeric()
	if err != nil {
		return v, fmt.Errorf("cannot apply multiplier %q to value %q: %w", params, v.String(), err)
	}

	p := strings.TrimSpace(params)
	if a, ok := num.Uint(); ok {
		if m, err := strconv.ParseUint(p, 10, 64); err == nil {
			if m == 0 || a <= math.MaxUint64/m {
				return variant.Uint64(a * m), nil
			}
		}
	}

	m, err := strconv.ParseFloat(p, 64)
	if err != nil {
		return v, fmt.Errorf("invalid multiplier %q", params)
	}
	x, _ := num.Float()
	res := x * m
	if math.IsInf(res, 0) || math.IsNaN(res) {
		return v, errors.New("multiplication result is out of range")
	}
	return variant.Float64(res), nil
}

var boolWords = map[string]uint64{
	"true": 1, "t": 1, "yes": 1, "y": 1, "on": 1, "up": 1, "running": 1, "enabled": 1, "available": 1, "ok": 1, "master": 1,
	"false": 0, "f": 0, "no": 0, "n": 0, "off": 0, "down": 0, "unused": 0, "disabled": 0, "unavailable": 0, "err": 0, "slave": 0,
}

func boolToDecimal(v variant.Value) (variant.Value, error) {
	s := strings.ToLower(strings.TrimSpace(v.String()))
	if n, ok := boolWords[s]; ok {
		return variant.Uint64(n), nil
	}
	if num, err := variant.Str(s).ToNumeric(); err == nil {
		if f, _ := num.Float(); f == 0 {
			return variant.Uint64(0), nil
		}
		return variant.Uint64(1), nil
	}
	return v, fmt.Errorf("cannot convert value %q to decimal", v.String())
}

func baseToDecimal(v variant.Value, base int) (variant.Value, error) {
	s := strings.TrimSpace(v.String())
	if base == 16 {
		s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
		s = strings.ReplaceAll(s, " ", "")
	}
	u, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		name := "octal"
		if base == 16 {
			name = "hexadecimal"
		}
		return v, fmt.Errorf("cannot convert %s value %q to decimal", name, v.String())
	}
	return variant.Uint64(u), nil
}

func validateRange(v variant.Value, params string) (variant.Value, error) {
	num, err := v.ToFloat64()
	if err != nil {
		return v, fmt.Errorf("cannot validate range of non-numeric value %q", v.String())
	}
	f, _ := num.Float()

	p := splitParams(params, 2)
	minS, maxS := strings.TrimSpace(p[0]), strings.TrimSpace(p[1])

	if minS != "" {
		lo, err := strconv.ParseFloat(minS, 64)
		if err != nil {
			return v, fmt.Errorf("invalid minimum %q", minS)
		}
		if f < lo {
			return v, rangeError(v, minS, maxS)
		}
	}
	if maxS != "" {
		hi, err := strconv.ParseFloat(maxS, 64)
		if err != nil {
			return v, fmt.Errorf("invalid maximum %q", maxS)
		}
		if f > hi {
			return v, rangeError(v, minS, maxS)
		}
	}
	return v, nil
}

func rangeError(v variant.Value, lo, hi string) error {
	switch {
	case lo == "":
		return fmt.Errorf("value %s must be less than or equal to %s", v.String(), hi)
	case hi == "":
		return fmt.Errorf("value %s must be greater than or equal to %s", v.String(), lo)
	default:
		return fmt.Errorf("value %s must be between %s and %s", v.String(), lo, hi)
	}
}

// delta computes the change (or rate of change) against the previous value.
// The first value, and any value lower than its predecessor, only seeds the
// history and produces no result.
func delta(t preproc.StepType, in input) (output, error) {
	cur, err := in.value.ToNumeric()
	if err != nil {
		return output{value: in.value}, fmt.Errorf("cannot calculate delta of non-numeric value %q", in.value.String())
	}
	out := output{value: variant.None(), hist: cur, histTS: in.ts, keepHist: true}
	if !in.hasHist {
		return out, nil
	}

	prev := in.history.Value
	if t == preproc.StepDeltaValue {
		a, aok := cur.Uint()
		b, bok := prev.Uint()
		if aok && bok {
			if a >= b {
				out.value = variant.Uint64(a - b)
			}
			return out, nil
		}
	}

	a, _ := cur.Float()
	b, _ := prev.Float()
	if a < b {
		return out, nil
	}

	switch t {
	case preproc.StepDeltaValue:
		out.value = variant.Float64(a - b)
	case preproc.StepDeltaSpeed:
		elapsed := in.ts.Sub(in.history.Timestamp).Seconds()
		if elapsed <= 0 {
			return out, nil
		}
		out.value = variant.Float64((a - b) / elapsed)
	}
	return out, nil
}

// throttle discards a value equal to the previous one. A non-zero period
// still lets an unchanged value through once the period has elapsed since
// the last value passed.
func throttle(in input, period time.Duration) (output, error) {
	if in.hasHist && in.history.Value.Equal(in.value) {
		if period == 0 || in.ts.Sub(in.history.Timestamp) < period {
			return output{
				value:    variant.None(),
				hist:     in.history.Value,
				histTS:   in.history.Timestamp,
				keepHist: true,
			}, nil
		}
	}
	return output{value: in.value, hist: in.value, histTS: in.ts, keepHist: true}, nil
}

func throttleTimed(in input, params string) (output, error) {
	period, err := parsePeriod(params)
	if err != nil {
		return output{value: in.value}, err
	}
	return throttle(in, period)
}

// parsePeriod accepts plain seconds or a suffixed duration (30s, 5m, 1h, 1d).
func parsePeriod(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("missing throttling period")
	}
	mult := time.Second
	switch s[len(s)-1] {
	case 's':
		s = s[:len(s)-1]
	case 'm':
		mult, s = time.Minute, s[:len(s)-1]
	case 'h':
		mult, s = time.Hour, s[:len(s)-1]
	case 'd':
		mult, s = 24*time.Hour, s[:len(s)-1]
	case 'w':
		mult, s = 7*24*time.Hour, s[:len(s)-1]
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid throttling period %q", s)
	}
	return time.Duration(n) * mult, nil
}
