// Package ingest decodes collected item values from JSON lines.
//
// Each line is one object:
//
//	{"itemid": 10, "value": "{\"temperature\": 215}", "ts": 1700000000.5}
//	{"itemid": 11, "value": 42, "type": "uint64"}
//	{"itemid": 12, "error": "connection refused"}
//	{"itemid": 13, "value": "disk full", "source": "syslog", "severity": 4, "lastlogsize": 1024, "mtime": 1700000000}
//
// A value without "value" and "error" is empty (a None value). Numbers are
// read as unsigned integers when they fit and as floating point otherwise,
// unless "type" says otherwise. "ts" is either Unix seconds or an RFC 3339
// string; a missing timestamp is the time of decoding.
package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/Iron-Ham/ppline/internal/preproc"
	"github.com/Iron-Ham/ppline/internal/variant"
)

// Record is the JSON form of a collected value.
type Record struct {
	ItemID      uint64          `json:"itemid"`
	Value       json.RawMessage `json:"value,omitempty"`
	Type        string          `json:"type,omitempty"`
	Error       *string         `json:"error,omitempty"`
	TS          json.RawMessage `json:"ts,omitempty"`
	Source      *string         `json:"source,omitempty"`
	Severity    *int            `json:"severity,omitempty"`
	LogEventID  *int            `json:"logeventid,omitempty"`
	Timestamp   *int64          `json:"timestamp,omitempty"`
	LastLogSize *uint64         `json:"lastlogsize,omitempty"`
	Mtime       *int64          `json:"mtime,omitempty"`
}

// Decode parses one line. now is used when the line has no timestamp.
func Decode(line []byte, now time.Time) (preproc.ItemValue, error) {
	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return preproc.ItemValue{}, fmt.Errorf("failed to decode value: %w", err)
	}
	return rec.ItemValue(now)
}

// ItemValue converts the record. now is used when the record has no
// timestamp.
func (r Record) ItemValue(now time.Time) (preproc.ItemValue, error) {
	if r.ItemID == 0 {
		return preproc.ItemValue{}, fmt.Errorf("missing itemid")
	}

	v, err := r.value()
	if err != nil {
		return preproc.ItemValue{}, fmt.Errorf("item %d: %w", r.ItemID, err)
	}
	ts, err := parseTimestamp(r.TS, now)
	if err != nil {
		return preproc.ItemValue{}, fmt.Errorf("item %d: %w", r.ItemID, err)
	}

	return preproc.ItemValue{
		ItemID: r.ItemID,
		Value:  v,
		TS:     ts,
		Opt:    r.opt(),
	}, nil
}

func (r Record) value() (variant.Value, error) {
	if r.Error != nil {
		return variant.Error(*r.Error), nil
	}

	raw := strings.TrimSpace(string(r.Value))
	if raw == "" || raw == "null" {
		return variant.None(), nil
	}

	var v variant.Value
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(r.Value, &s); err != nil {
			return variant.Value{}, fmt.Errorf("invalid value: %w", err)
		}
		v = variant.Str(s)
	} else {
		n, err := parseNumber(raw)
		if err != nil {
			return variant.Value{}, err
		}
		v = n
	}

	switch strings.ToLower(r.Type) {
	case "":
		return v, nil
	case "none":
		return variant.None(), nil
	case "str", "string":
		return v.ToStr()
	case "uint64", "unsigned":
		return v.ToUint64()
	case "double", "float":
		return v.ToFloat64()
	}
	return variant.Value{}, fmt.Errorf("unknown value type %q", r.Type)
}

func parseNumber(raw string) (variant.Value, error) {
	v, err := variant.Str(raw).ToNumeric()
	if err != nil {
		return variant.Value{}, fmt.Errorf("invalid value %s", raw)
	}
	return v, nil
}

func parseTimestamp(raw json.RawMessage, now time.Time) (time.Time, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return now, nil
	}

	if s[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, text)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", text, err)
		}
		return ts, nil
	}

	secs, err := strconv.ParseFloat(s, 64)
	if err != nil || secs < 0 {
		return time.Time{}, fmt.Errorf("invalid timestamp %s", s)
	}
	whole := int64(secs)
	nsec := int64((secs - float64(whole)) * float64(time.Second))
	return time.Unix(whole, nsec), nil
}

func (r Record) opt() *preproc.ValueOpt {
	var o preproc.ValueOpt
	if r.Source != nil {
		o.Flags |= preproc.OptLogSource
		o.Source = *r.Source
	}
	if r.LogEventID != nil {
		o.Flags |= preproc.OptLogEventID
		o.LogEventID = *r.LogEventID
	}
	if r.Severity != nil {
		o.Flags |= preproc.OptLogSeverity
		o.Severity = *r.Severity
	}
	if r.Timestamp != nil {
		o.Flags |= preproc.OptLogTimestamp
		o.LogTime = *r.Timestamp
	}
	if r.LastLogSize != nil {
		o.Flags |= preproc.OptLastLogSize
		o.LastLogSize = *r.LastLogSize
	}
	if r.Mtime != nil {
		o.Flags |= preproc.OptMtime
		o.Mtime = *r.Mtime
	}
	if o.Flags == 0 {
		return nil
	}
	return &o
}
