package workbook

import (
	"encoding/json"
	"regexp"
	"time"

	"github.com/r7-consult/wasm-sqlite-database/internal/werr"
)

// qualityRule is one caller-supplied check against a single column. The
// rule vocabulary is intentionally small and closed, mirroring werr.Code's
// closed-enum style rather than an open plugin mechanism.
type qualityRule struct {
	Column string `json:"column"`
	Rule   string `json:"rule"`
	Value  any    `json:"value,omitempty"`
}

// qualityResult is one rule's outcome against the dataset's current rows.
type qualityResult struct {
	Column     string `json:"column"`
	Rule       string `json:"rule"`
	Passed     bool   `json:"passed"`
	Checked    int    `json:"checked"`
	Violations int    `json:"violations"`
	Error      string `json:"error,omitempty"`
}

type qualityJSON struct {
	DatasetName string          `json:"datasetName"`
	Results     []qualityResult `json:"results"`
}

func numericValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

// evaluateRule runs one rule over colIdx's values, counting violations.
func evaluateRule(r qualityRule, colIdx int, rows [][]any) qualityResult {
	res := qualityResult{Column: r.Column, Rule: r.Rule, Checked: len(rows)}

	switch r.Rule {
	case "notNull":
		for _, row := range rows {
			if cellIsMissing(row[colIdx]) {
				res.Violations++
			}
		}
	case "unique":
		seen := make(map[string]int, len(rows))
		for _, row := range rows {
			v := row[colIdx]
			if cellIsMissing(v) {
				continue
			}
			seen[cellKey(v)]++
		}
		for _, count := range seen {
			if count > 1 {
				res.Violations += count - 1
			}
		}
	case "min", "max":
		bound, ok := numericValue(r.Value)
		if !ok {
			res.Error = "rule requires a numeric value"
			break
		}
		for _, row := range rows {
			n, ok := numericValue(row[colIdx])
			if !ok {
				continue
			}
			if r.Rule == "min" && n < bound {
				res.Violations++
			}
			if r.Rule == "max" && n > bound {
				res.Violations++
			}
		}
	case "regex":
		pattern, _ := r.Value.(string)
		re, err := regexp.Compile(pattern)
		if err != nil {
			res.Error = "invalid regex pattern"
			break
		}
		for _, row := range rows {
			v := row[colIdx]
			if cellIsMissing(v) {
				continue
			}
			s, ok := v.(string)
			if !ok {
				s = cellKey(v)
			}
			if !re.MatchString(s) {
				res.Violations++
			}
		}
	default:
		res.Error = "unrecognized rule kind"
	}

	res.Passed = res.Error == "" && res.Violations == 0
	return res
}

// EvaluateQualityRules runs a caller-supplied set of rules (notNull,
// unique, min, max, regex) against name's current rows. Fails
// UnknownDataset if name is not registered, MalformedInput if rulesJSON
// does not parse. A rule that names a column the dataset does not have
// does not fail the call: its own result entry carries an error.
func (e *EngineContext) EvaluateQualityRules(name, rulesJSON string) (string, error) {
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

	var rules []qualityRule
	if err := json.Unmarshal([]byte(rulesJSON), &rules); err != nil {
		return "", e.fail(werr.Wrap(werr.MalformedInput, err, "parse quality rules"))
	}

	colIdx := make(map[string]int, len(tbl.Cols))
	for i, c := range tbl.Cols {
		colIdx[c.Name] = i
	}

	results := make([]qualityResult, 0, len(rules))
	for _, r := range rules {
		idx, ok := colIdx[r.Column]
		if !ok {
			results = append(results, qualityResult{
				Column: r.Column,
				Rule:   r.Rule,
				Error:  "dataset has no such column",
			})
			continue
		}
		results = append(results, evaluateRule(r, idx, tbl.Rows))
	}

	return e.succeedJSON(qualityJSON{DatasetName: ds.TechnicalName, Results: results})
}
