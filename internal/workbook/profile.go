package workbook

import (
	"fmt"
	"strings"
	"time"

	"github.com/r7-consult/wasm-sqlite-database/internal/werr"
)

// ColumnProfile summarizes one column's observed shape: how much of it is
// present, how varied it is, and which coarse data-quality flags apply.
// Grounded on vinodismyname-mcpxcel's internal/insights.ColumnProfile,
// adapted from a sampled spreadsheet range to a full in-memory table.
type ColumnProfile struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Sampled     int      `json:"sampled"`
	MissingPct  float64  `json:"missingPct"`
	UniqueRatio float64  `json:"uniqueRatio"`
	Flags       []string `json:"flags,omitempty"`
}

type profileJSON struct {
	Name     string          `json:"name"`
	RowCount int             `json:"rowCount"`
	Columns  []ColumnProfile `json:"columns"`
}

func cellIsMissing(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// cellKey renders v into a string suitable for de-duplication. Exact
// numeric/string identity matters here, not a canonical representation.
func cellKey(v any) string {
	return fmt.Sprintf("%v", v)
}

// profileColumn computes a ColumnProfile for one column's values.
func profileColumn(name, typ string, values []any) ColumnProfile {
	sampled := len(values)
	missing := 0
	seen := make(map[string]bool, sampled)
	for _, v := range values {
		if cellIsMissing(v) {
			missing++
			continue
		}
		seen[cellKey(v)] = true
	}
	present := sampled - missing
	prof := ColumnProfile{Name: name, Type: typ, Sampled: sampled}
	if sampled > 0 {
		prof.MissingPct = float64(missing) / float64(sampled)
	}
	if present > 0 {
		prof.UniqueRatio = float64(len(seen)) / float64(present)
	}
	switch {
	case sampled == 0 || missing == sampled:
		prof.Flags = append(prof.Flags, "allMissing")
	case present > 0 && len(seen) == 1:
		prof.Flags = append(prof.Flags, "constant")
	case prof.UniqueRatio >= 0.98 && present > 1:
		prof.Flags = append(prof.Flags, "highCardinality")
	}
	if prof.MissingPct >= 0.5 && prof.MissingPct < 1 {
		prof.Flags = append(prof.Flags, "mostlyMissing")
	}
	return prof
}

// ProfileDataset computes per-column presence/uniqueness statistics and
// coarse quality flags for a registered dataset. Fails UnknownDataset if
// name is not registered.
func (e *EngineContext) ProfileDataset(name string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastUsedAt = time.Now()

	ds, ok := e.registry.get(name)
	if !ok {
		return "", e.fail(werr.New(werr.UnknownDataset, "dataset %q does not exist", name))
	}
	tbl, err := e.db.Get(tenant, ds.TechnicalName)
	if err != nil {
		return "", e.fail(werr.Wrap(werr.InternalError, err, "load dataset %q", name))
	}

	cols := make([]ColumnProfile, len(tbl.Cols))
	for i, c := range tbl.Cols {
		values := make([]any, len(tbl.Rows))
		for r, row := range tbl.Rows {
			values[r] = row[i]
		}
		cols[i] = profileColumn(c.Name, c.Type.String(), values)
	}

	return e.succeedJSON(profileJSON{Name: ds.TechnicalName, RowCount: len(tbl.Rows), Columns: cols})
}
