package workbook

import (
	"fmt"
	"path/filepath"
	"strings"
)

// sanitize lowercases s, replaces runs of non-alphanumeric characters with
// a single underscore, and trims leading/trailing underscores. Grounded on
// the teacher's internal/importer/formats.go:sanitizeTableName, generalized
// here to also collapse runs (the teacher's version maps each bad rune to
// its own underscore without collapsing).
func sanitize(s string) string {
	var b strings.Builder
	prevUnderscore := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevUnderscore = false
		default:
			if !prevUnderscore {
				b.WriteByte('_')
				prevUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}

// fileStem returns path's base name without its extension (and without a
// trailing .gz, since compressed files are still named after their inner
// format for default-naming purposes).
func fileStem(path string) string {
	base := filepath.Base(path)
	if strings.EqualFold(filepath.Ext(base), ".gz") {
		base = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// defaultDatasetName computes defaultName = sanitize(fileStem) + "__" +
// sanitize(objectName), per spec §4.1. objectName may be empty for
// single-table sources (CSV, JSON), in which case the stem alone is used.
func defaultDatasetName(sourcePath, objectName string) string {
	stem := sanitize(fileStem(sourcePath))
	if stem == "" {
		stem = "dataset"
	}
	if objectName == "" {
		return stem
	}
	obj := sanitize(objectName)
	if obj == "" {
		return stem
	}
	return stem + "__" + obj
}

// resolveCollisions appends _2, _3, … to any name in names that repeats an
// earlier one, in enumeration order, per spec §4.1's single-import
// collision rule.
func resolveCollisions(names []string) []string {
	seen := make(map[string]int, len(names))
	out := make([]string, len(names))
	for i, n := range names {
		count := seen[n]
		seen[n] = count + 1
		if count == 0 {
			out[i] = n
			continue
		}
		out[i] = fmt.Sprintf("%s_%d", n, count+1)
	}
	return out
}
