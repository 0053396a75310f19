package itemconfig

import (
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/goccy/go-json"
	"github.com/tiendc/go-deepcopy"

	"github.com/Iron-Ham/ppline/internal/errors"
	"github.com/Iron-Ham/ppline/internal/preproc"
)

// Build converts a validated file into items ready for an ItemTable. Each
// item's revision is a hash of its configuration and dependents, so Sync
// keeps the definitions of unchanged items.
func Build(f *File) ([]*preproc.Item, error) {
	dependents := make(map[uint64][]uint64)
	for _, item := range f.Items {
		if item.Master != 0 {
			dependents[item.Master] = append(dependents[item.Master], item.ItemID)
		}
	}
	for _, deps := range dependents {
		sort.Slice(deps, func(i, j int) bool { return deps[i] < deps[j] })
	}

	items := make([]*preproc.Item, 0, len(f.Items))
	for _, ic := range f.Items {
		cfg, err := ic.definitionConfig(dependents[ic.ItemID])
		if err != nil {
			for _, built := range items {
				built.Def.Release()
			}
			return nil, errors.NewConfigError("", err).WithItem(ic.ItemID)
		}
		items = append(items, &preproc.Item{
			ID:       ic.ItemID,
			Revision: revisionOf(ic, cfg.Dependents),
			Def:      preproc.NewDefinition(cfg),
		})
	}
	return items, nil
}

func (ic ItemConfig) definitionConfig(dependents []uint64) (preproc.DefinitionConfig, error) {
	vt, err := preproc.ParseValueType(ic.ValueType)
	if err != nil {
		return preproc.DefinitionConfig{}, err
	}
	mode, err := preproc.ParseMode(ic.Mode)
	if err != nil {
		return preproc.DefinitionConfig{}, err
	}

	cfg := preproc.DefinitionConfig{
		ItemID:     ic.ItemID,
		HostID:     ic.HostID,
		ValueType:  vt,
		Mode:       mode,
		Dependents: dependents,
	}
	if ic.Discovery {
		cfg.Flags |= preproc.FlagDiscovery
	}

	for i, sc := range ic.Steps {
		st, err := preproc.ParseStepType(sc.Type)
		if err != nil {
			return preproc.DefinitionConfig{}, fmt.Errorf("step %d: %w", i+1, err)
		}
		eh, err := preproc.ParseErrorHandler(sc.ErrorHandler)
		if err != nil {
			return preproc.DefinitionConfig{}, fmt.Errorf("step %d: %w", i+1, err)
		}
		cfg.Steps = append(cfg.Steps, preproc.Step{
			Type:               st,
			Params:             sc.Params,
			ErrorHandler:       eh,
			ErrorHandlerParams: sc.ErrorHandlerParams,
		})
	}
	return cfg, nil
}

func revisionOf(ic ItemConfig, dependents []uint64) uint64 {
	data, err := json.Marshal(struct {
		Item       ItemConfig `json:"item"`
		Dependents []uint64   `json:"dependents"`
	}{ic, dependents})
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(data)
	// Zero is kept for "never configured".
	return h.Sum64() | 1
}

// Snapshot returns a deep copy of f that callers may modify freely.
func (f *File) Snapshot() (*File, error) {
	var out File
	if err := deepcopy.Copy(&out, f); err != nil {
		return nil, fmt.Errorf("failed to copy item configuration: %w", err)
	}
	return &out, nil
}

// Find returns the configuration of one item.
func (f *File) Find(itemID uint64) (ItemConfig, bool) {
	for _, item := range f.Items {
		if item.ItemID == itemID {
			return item, true
		}
	}
	return ItemConfig{}, false
}

// Apply loads the file at path and syncs table with it. The table revision
// is bumped on every successful apply.
func Apply(table *preproc.ItemTable, path string) (*File, preproc.SyncResult, error) {
	f, err := Load(path)
	if err != nil {
		return nil, preproc.SyncResult{}, err
	}
	items, err := Build(f)
	if err != nil {
		return nil, preproc.SyncResult{}, withPath(err, path)
	}
	return f, table.Sync(items, table.Revision()+1), nil
}
