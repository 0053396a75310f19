package preproc

import (
	"sort"
	"sync"
)

// Item is a monitored metric known to the pipeline.
type Item struct {
	ID       uint64
	Revision uint64
	Def      *Definition
}

// ItemTable is the pipeline's view of item configuration. Configuration sync
// writes it; the manager reads it while holding the queue lock.
type ItemTable struct {
	mu       sync.RWMutex
	items    map[uint64]*Item
	revision uint64
}

// NewItemTable returns an empty table.
func NewItemTable() *ItemTable {
	return &ItemTable{items: make(map[uint64]*Item)}
}

// Get returns the item with the given identifier.
func (t *ItemTable) Get(id uint64) (*Item, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	item, ok := t.items[id]
	return item, ok
}

// Set adds or replaces an item. The replaced item's definition reference is
// released; tasks holding their own references keep it alive.
func (t *ItemTable) Set(item *Item) {
	t.mu.Lock()
	old := t.items[item.ID]
	t.items[item.ID] = item
	t.mu.Unlock()

	if old != nil && old.Def != item.Def {
		old.Def.Release()
	}
}

// Delete removes an item and reports whether it was present.
func (t *ItemTable) Delete(id uint64) bool {
	t.mu.Lock()
	old, ok := t.items[id]
	delete(t.items, id)
	t.mu.Unlock()

	if ok {
		old.Def.Release()
	}
	return ok
}

// Len returns the number of items.
func (t *ItemTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// Range calls fn for every item in identifier order until fn returns false.
// fn must not modify the table.
func (t *ItemTable) Range(fn func(*Item) bool) {
	t.mu.RLock()
	items := make([]*Item, 0, len(t.items))
	for _, item := range t.items {
		items = append(items, item)
	}
	t.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	for _, item := range items {
		if !fn(item) {
			return
		}
	}
}

// Revision returns the last configuration revision applied.
func (t *ItemTable) Revision() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.revision
}

// SetRevision records the configuration revision.
func (t *ItemTable) SetRevision(rev uint64) {
	t.mu.Lock()
	t.revision = rev
	t.mu.Unlock()
}

// SyncResult counts the changes made by Sync.
type SyncResult struct {
	Added   int
	Updated int
	Removed int
}

// Sync replaces the table contents with items and records revision. Items
// whose revision did not change keep their current definition.
func (t *ItemTable) Sync(items []*Item, revision uint64) SyncResult {
	var (
		res      SyncResult
		released []*Definition
	)

	t.mu.Lock()
	seen := make(map[uint64]struct{}, len(items))
	for _, item := range items {
		seen[item.ID] = struct{}{}
		old, ok := t.items[item.ID]
		switch {
		case !ok:
			t.items[item.ID] = item
			res.Added++
		case old.Revision != item.Revision:
			t.items[item.ID] = item
			released = append(released, old.Def)
			res.Updated++
		default:
			released = append(released, item.Def)
		}
	}
	for id, old := range t.items {
		if _, ok := seen[id]; !ok {
			delete(t.items, id)
			released = append(released, old.Def)
			res.Removed++
		}
	}
	t.revision = revision
	t.mu.Unlock()

	for _, def := range released {
		def.Release()
	}
	return res
}
