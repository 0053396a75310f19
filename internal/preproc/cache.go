package preproc

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Iron-Ham/ppline/internal/variant"
)

// CacheTracker observes cache lifetimes. Implementations must be safe for
// concurrent use.
type CacheTracker interface {
	CacheCreated()
	CacheFreed()
}

// Parser converts a cached value into the document the first step of the
// consuming definitions works on.
type Parser func(StepType, variant.Value) (any, error)

// Cache is a reference-counted snapshot of a master item's computed value,
// shared by the tasks of its dependent items. The value never changes after
// creation; the parsed document is built at most once by the first reader.
type Cache struct {
	value    variant.Value
	stepType StepType
	tracker  CacheTracker

	refs  atomic.Int32
	freed atomic.Bool

	once   sync.Once
	doc    any
	docErr error
}

// NewCache creates a cache over value holding one reference. The parse mode
// follows the first step of def, the definition that will consume the cache.
func NewCache(def *Definition, value variant.Value, tracker CacheTracker) *Cache {
	c := &Cache{value: value, tracker: tracker}
	if def != nil && len(def.steps) > 0 {
		c.stepType = def.steps[0].Type
	}
	c.refs.Store(1)
	if tracker != nil {
		tracker.CacheCreated()
	}
	return c
}

// Copy takes another reference to the same cache. Copying nil returns nil.
func (c *Cache) Copy() *Cache {
	if c == nil {
		return nil
	}
	if c.refs.Add(1) <= 1 {
		panic("preproc: copy of released cache")
	}
	return c
}

// Release drops a reference and reports whether it freed the cache.
// Releasing nil is a no-op.
func (c *Cache) Release() bool {
	if c == nil {
		return false
	}
	n := c.refs.Add(-1)
	switch {
	case n > 0:
		return false
	case n < 0:
		panic(fmt.Sprintf("preproc: cache released %d times too many", -n))
	}
	if !c.freed.CompareAndSwap(false, true) {
		return false
	}
	c.doc = nil
	if c.tracker != nil {
		c.tracker.CacheFreed()
	}
	return true
}

// Value returns the cached value.
func (c *Cache) Value() variant.Value { return c.value }

// StepType returns the step type the document is parsed for.
func (c *Cache) StepType() StepType { return c.stepType }

// Refs returns the current reference count.
func (c *Cache) Refs() int32 { return c.refs.Load() }

// Document returns the parsed form of the cached value for step type t,
// parsing on first use. Callers whose step type differs from the cache's
// parse mode get ok=false and must parse the value themselves.
func (c *Cache) Document(t StepType, parse Parser) (doc any, ok bool, err error) {
	if c == nil || t != c.stepType {
		return nil, false, nil
	}
	c.once.Do(func() {
		c.doc, c.docErr = parse(t, c.value)
	})
	return c.doc, true, c.docErr
}
