package workbook

import (
	"sync"

	"github.com/r7-consult/wasm-sqlite-database/internal/werr"
)

// sourceTable is the per-workbook registry of attached files, grounded on
// the teacher's storage.CatalogManager: a name-keyed map guarded by its own
// mutex, with insertion order preserved for deterministic listing. Spec
// §4.2.
type sourceTable struct {
	mu    sync.RWMutex
	order []string
	byKey map[string]*Source
}

func newSourceTable() *sourceTable {
	return &sourceTable{byKey: make(map[string]*Source)}
}

// attach records a newly opened source. Fails DuplicateSource if path was
// already attached to this workbook.
func (t *sourceTable) attach(path string, format Format, opts OpenOptions, approxBytes int64) (*Source, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.byKey[path]; exists {
		return nil, werr.New(werr.DuplicateSource, "source %q is already attached", path)
	}
	src := &Source{Path: path, Format: format, Options: opts, ApproxBytes: approxBytes}
	t.byKey[path] = src
	t.order = append(t.order, path)
	return src, nil
}

// detach removes path from the table and returns the dataset keys it
// owned, in registration order, for the caller to cascade-drop from the
// dataset registry. Fails UnknownSource if path was never attached.
func (t *sourceTable) detach(path string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	src, ok := t.byKey[path]
	if !ok {
		return nil, werr.New(werr.UnknownSource, "source %q is not attached", path)
	}
	delete(t.byKey, path)
	for i, p := range t.order {
		if p == path {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return append([]string{}, src.DatasetKeys...), nil
}

// addDatasetKey records that a newly registered dataset belongs to path.
func (t *sourceTable) addDatasetKey(path, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if src, ok := t.byKey[path]; ok {
		src.DatasetKeys = append(src.DatasetKeys, key)
	}
}

// paths returns every attached path, in attach order.
func (t *sourceTable) paths() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string{}, t.order...)
}

// get returns the Source for path, if attached.
func (t *sourceTable) get(path string) (*Source, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	src, ok := t.byKey[path]
	return src, ok
}

// totalApproxBytes sums every attached source's approximate size.
func (t *sourceTable) totalApproxBytes() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var total int64
	for _, src := range t.byKey {
		total += src.ApproxBytes
	}
	return total
}
