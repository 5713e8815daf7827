package workbook

import (
	"regexp"
	"sync"

	"github.com/r7-consult/wasm-sqlite-database/internal/werr"
)

// nameRe is the valid-identifier pattern for both default and renamed
// dataset names, per spec §9.
var nameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidName reports whether name is an acceptable dataset technical name.
func ValidName(name string) bool {
	return nameRe.MatchString(name)
}

// registry is the per-workbook dataset table: technical name -> Dataset,
// with insertion order preserved for listDatasets. Grounded on the
// teacher's storage.CatalogManager (internal/storage/catalog.go), generalized
// from SQL catalog entries to workbook datasets. Spec §4.3.
type registry struct {
	mu    sync.RWMutex
	order []string
	byKey map[string]*Dataset
}

func newRegistry() *registry {
	return &registry{byKey: make(map[string]*Dataset)}
}

// register adds a new dataset under defaultName. Fails DuplicateDataset if
// that name is already taken by another dataset in this workbook.
func (r *registry) register(sourcePath, originObjectName, defaultName string, approxBytes int64) (*Dataset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byKey[defaultName]; exists {
		return nil, werr.New(werr.DuplicateDataset, "dataset %q already exists", defaultName)
	}
	ds := &Dataset{
		TechnicalName:    defaultName,
		DefaultName:      defaultName,
		OriginSource:     sourcePath,
		OriginObjectName: originObjectName,
		ApproxBytes:      approxBytes,
	}
	r.byKey[defaultName] = ds
	r.order = append(r.order, defaultName)
	return ds, nil
}

// rename moves a dataset from oldName to newName. The underlying table
// rename (in the embedded store) is the caller's responsibility; this
// method only validates and updates the registry's own bookkeeping, so the
// caller can perform both under one workbook-level lock for atomicity.
func (r *registry) rename(oldName, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !ValidName(newName) {
		return werr.New(werr.InvalidName, "invalid dataset name %q", newName)
	}
	ds, ok := r.byKey[oldName]
	if !ok {
		return werr.New(werr.UnknownDataset, "dataset %q does not exist", oldName)
	}
	if newName == oldName {
		return nil
	}
	if _, exists := r.byKey[newName]; exists {
		return werr.New(werr.DuplicateDataset, "dataset %q already exists", newName)
	}
	delete(r.byKey, oldName)
	ds.TechnicalName = newName
	r.byKey[newName] = ds
	for i, k := range r.order {
		if k == oldName {
			r.order[i] = newName
			break
		}
	}
	return nil
}

// removeMany drops the given technical names (used for cascade-detach) and
// returns the ones that actually existed, in registry order.
func (r *registry) removeMany(keys []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	var removed []string
	kept := r.order[:0:0]
	for _, k := range r.order {
		if want[k] {
			if _, ok := r.byKey[k]; ok {
				removed = append(removed, k)
				delete(r.byKey, k)
			}
			continue
		}
		kept = append(kept, k)
	}
	r.order = kept
	return removed
}

// get returns the Dataset for name, if it exists.
func (r *registry) get(name string) (*Dataset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ds, ok := r.byKey[name]
	return ds, ok
}

// names returns every technical name in registration order.
func (r *registry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string{}, r.order...)
}

// list returns every Dataset in registration order.
func (r *registry) list() []*Dataset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Dataset, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.byKey[k])
	}
	return out
}

// totalApproxBytes sums every dataset's approximate size.
func (r *registry) totalApproxBytes() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total int64
	for _, ds := range r.byKey {
		total += ds.ApproxBytes
	}
	return total
}
