package preproc

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Iron-Ham/ppline/internal/variant"
)

// Mode is the per-item concurrency policy.
type Mode uint8

const (
	// ModeAuto selects Serial when any step keeps history, Parallel otherwise.
	ModeAuto Mode = iota
	// ModeParallel lets values of the item run concurrently.
	ModeParallel
	// ModeSerial runs values of the item one at a time in submission order.
	ModeSerial
)

func (m Mode) String() string {
	switch m {
	case ModeParallel:
		return "parallel"
	case ModeSerial:
		return "serial"
	default:
		return "auto"
	}
}

// ParseMode resolves a configuration name; an empty name is ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ModeAuto, nil
	case "parallel":
		return ModeParallel, nil
	case "serial":
		return ModeSerial, nil
	}
	return ModeAuto, fmt.Errorf("unknown processing mode %q", s)
}

// ValueType is the storage type of an item's final value.
type ValueType uint8

const (
	ValueTypeFloat ValueType = iota
	ValueTypeStr
	ValueTypeLog
	ValueTypeUint64
	ValueTypeText
)

var valueTypeNames = map[ValueType]string{
	ValueTypeFloat:  "float",
	ValueTypeStr:    "str",
	ValueTypeLog:    "log",
	ValueTypeUint64: "uint64",
	ValueTypeText:   "text",
}

func (t ValueType) String() string {
	if n, ok := valueTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("value_type(%d)", uint8(t))
}

// ParseValueType resolves a configuration name.
func ParseValueType(s string) (ValueType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, n := range valueTypeNames {
		if n == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown value type %q", s)
}

// Kind returns the value kind an item of this type stores.
func (t ValueType) Kind() variant.Kind {
	switch t {
	case ValueTypeFloat:
		return variant.KindFloat64
	case ValueTypeUint64:
		return variant.KindUint64
	default:
		return variant.KindStr
	}
}

// Item flags.
const (
	FlagDiscovery uint8 = 1 << iota
	FlagDiscovered
)

// DefinitionConfig describes a definition before publication.
type DefinitionConfig struct {
	ItemID     uint64
	HostID     uint64
	ValueType  ValueType
	Flags      uint8
	Mode       Mode
	Steps      []Step
	Dependents []uint64
}

// Definition is an item's published preprocessing configuration. It is
// immutable apart from its reference count and history cache.
type Definition struct {
	itemID     uint64
	hostID     uint64
	valueType  ValueType
	flags      uint8
	mode       Mode
	steps      []Step
	dependents []uint64
	historyNum int

	refs atomic.Int32
	peak atomic.Int32

	histMu  sync.Mutex
	history *History
}

// NewDefinition publishes cfg as a definition holding one reference, owned
// by the caller.
func NewDefinition(cfg DefinitionConfig) *Definition {
	d := &Definition{
		itemID:     cfg.ItemID,
		hostID:     cfg.HostID,
		valueType:  cfg.ValueType,
		flags:      cfg.Flags,
		mode:       cfg.Mode,
		steps:      append([]Step(nil), cfg.Steps...),
		dependents: append([]uint64(nil), cfg.Dependents...),
	}
	for _, s := range d.steps {
		if s.Type.NeedsHistory() {
			d.historyNum++
		}
	}
	if d.mode == ModeAuto {
		d.mode = ModeParallel
		if d.historyNum > 0 {
			d.mode = ModeSerial
		}
	}
	d.refs.Store(1)
	d.peak.Store(1)
	return d
}

func (d *Definition) ItemID() uint64       { return d.itemID }
func (d *Definition) HostID() uint64       { return d.hostID }
func (d *Definition) ValueType() ValueType { return d.valueType }
func (d *Definition) Flags() uint8         { return d.flags }
func (d *Definition) Mode() Mode           { return d.mode }

// Steps returns the step chain. Callers must not modify it.
func (d *Definition) Steps() []Step { return d.steps }

// Dependents returns the dependent item identifiers. Callers must not modify it.
func (d *Definition) Dependents() []uint64 { return d.dependents }

// HistoryNum returns the number of steps that keep history.
func (d *Definition) HistoryNum() int { return d.historyNum }

// Cacheable reports whether sibling dependents of this definition can share
// a parsed form of the master value.
func (d *Definition) Cacheable() bool {
	return len(d.steps) > 0 && d.steps[0].Type.Cacheable()
}

// Acquire takes a reference and returns the definition.
func (d *Definition) Acquire() *Definition {
	n := d.refs.Add(1)
	for {
		p := d.peak.Load()
		if n <= p || d.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return d
}

// Release drops a reference. It reports true when the last reference was
// dropped.
func (d *Definition) Release() bool {
	n := d.refs.Add(-1)
	if n < 0 {
		panic(fmt.Sprintf("preproc: definition of item %d released too many times", d.itemID))
	}
	return n == 0
}

// Refs returns the current reference count.
func (d *Definition) Refs() int32 { return d.refs.Load() }

// Peak returns the highest reference count since the last ResetPeak.
func (d *Definition) Peak() int32 { return d.peak.Load() }

// ResetPeak sets the peak to the current reference count.
func (d *Definition) ResetPeak() { d.peak.Store(d.refs.Load()) }

// AcquireHistory returns a copy of the history left by the previous run, or
// nil when there is none.
func (d *Definition) AcquireHistory() *History {
	d.histMu.Lock()
	defer d.histMu.Unlock()
	return d.history.Clone()
}

// SetHistory publishes the history produced by a run. Definitions without
// history steps ignore it.
func (d *Definition) SetHistory(h *History) {
	if d.historyNum == 0 {
		return
	}
	d.histMu.Lock()
	d.history = h
	d.histMu.Unlock()
}
