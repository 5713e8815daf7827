package workbook

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/r7-consult/wasm-sqlite-database/internal/werr"
)

const profileCSV = "id,name,score\n1,alice,10\n2,,20\n3,bob,20\n4,,\n"

// TestProfileDatasetFlagsMissing checks the row count, the missing ratios of
// two columns and the mostlyMissing flag.
func TestProfileDatasetFlagsMissing(t *testing.T) {
	eng := NewEngineContext()
	defer eng.Close()
	openCSV(t, eng, "profile.csv", profileCSV, false)

	raw, err := eng.ProfileDataset("profile")
	if err != nil {
		t.Fatalf("ProfileDataset: %v", err)
	}

	var decoded struct {
		RowCount int `json:"rowCount"`
		Columns  []struct {
			Name        string   `json:"name"`
			MissingPct  float64  `json:"missingPct"`
			UniqueRatio float64  `json:"uniqueRatio"`
			Flags       []string `json:"flags"`
		} `json:"columns"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatalf("unmarshal profile: %v\npayload: %s", err, raw)
	}
	if decoded.RowCount != 4 {
		t.Fatalf("rowCount = %d, want 4", decoded.RowCount)
	}

	var nameCol, scoreCol *struct {
		Name        string   `json:"name"`
		MissingPct  float64  `json:"missingPct"`
		UniqueRatio float64  `json:"uniqueRatio"`
		Flags       []string `json:"flags"`
	}
	for i := range decoded.Columns {
		switch decoded.Columns[i].Name {
		case "name":
			nameCol = &decoded.Columns[i]
		case "score":
			scoreCol = &decoded.Columns[i]
		}
	}
	if nameCol == nil || scoreCol == nil {
		t.Fatalf("expected name and score columns in %+v", decoded.Columns)
	}
	if nameCol.MissingPct != 0.5 {
		t.Errorf("name.missingPct = %v, want 0.5", nameCol.MissingPct)
	}
	if scoreCol.MissingPct != 0.25 {
		t.Errorf("score.missingPct = %v, want 0.25", scoreCol.MissingPct)
	}
	if !contains(nameCol.Flags, "mostlyMissing") {
		t.Errorf("name.flags = %v, want mostlyMissing", nameCol.Flags)
	}
}

func contains(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}

const qualityCSV = "id,email,age\n1,a@x.com,30\n2,,40\n3,a@x.com,5\n"

func TestEvaluateQualityRules(t *testing.T) {
	eng := NewEngineContext()
	defer eng.Close()
	openCSV(t, eng, "quality.csv", qualityCSV, false)

	rules := `[
		{"column":"email","rule":"notNull"},
		{"column":"email","rule":"unique"},
		{"column":"age","rule":"min","value":18},
		{"column":"email","rule":"regex","value":"^[^@]+@[^@]+$"},
		{"column":"missing","rule":"notNull"}
	]`
	raw, err := eng.EvaluateQualityRules("quality", rules)
	if err != nil {
		t.Fatalf("EvaluateQualityRules: %v", err)
	}

	var decoded struct {
		Results []struct {
			Column     string `json:"column"`
			Rule       string `json:"rule"`
			Passed     bool   `json:"passed"`
			Violations int    `json:"violations"`
			Error      string `json:"error"`
		} `json:"results"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatalf("unmarshal quality result: %v\npayload: %s", err, raw)
	}
	if len(decoded.Results) != 5 {
		t.Fatalf("results = %d, want 5", len(decoded.Results))
	}

	notNull, unique, min, regex, unknownCol := decoded.Results[0], decoded.Results[1], decoded.Results[2], decoded.Results[3], decoded.Results[4]

	if notNull.Passed || notNull.Violations != 1 {
		t.Errorf("notNull: passed=%v violations=%d, want passed=false violations=1", notNull.Passed, notNull.Violations)
	}
	if unique.Passed || unique.Violations != 1 {
		t.Errorf("unique: passed=%v violations=%d, want passed=false violations=1 (duplicate a@x.com)", unique.Passed, unique.Violations)
	}
	if min.Passed || min.Violations != 1 {
		t.Errorf("min: passed=%v violations=%d, want passed=false violations=1 (age 5 < 18)", min.Passed, min.Violations)
	}
	if !regex.Passed {
		t.Errorf("regex: passed=%v, want true (blank email is skipped, not invalid)", regex.Passed)
	}
	if unknownCol.Error == "" {
		t.Errorf("expected an error for a rule against an unknown column")
	}
}

func TestEvaluateQualityRulesMalformedJSON(t *testing.T) {
	eng := NewEngineContext()
	defer eng.Close()
	openCSV(t, eng, "quality.csv", qualityCSV, false)

	if _, err := eng.EvaluateQualityRules("quality", "not json"); err == nil {
		t.Errorf("expected an error for malformed rules JSON")
	}
}

func TestDescribeDatasetUnknown(t *testing.T) {
	eng := NewEngineContext()
	defer eng.Close()
	openCSV(t, eng, "sales.csv", salesCSV, false)

	if _, err := eng.DescribeDataset("nope"); err == nil {
		t.Errorf("expected an error describing an unknown dataset")
	}
}

func TestQueryAgainstUnregisteredTableFails(t *testing.T) {
	eng := NewEngineContext()
	defer eng.Close()
	openCSV(t, eng, "sales.csv", salesCSV, false)

	if _, err := eng.Query(context.Background(), "SELECT * FROM does_not_exist"); err == nil {
		t.Errorf("expected a SQL error querying an unregistered table")
	}
}

// TestAttachSameDefaultNameFromDifferentSourceFails exercises the
// cross-source DuplicateDataset invariant: two distinct sources whose
// default dataset name collides cannot both be attached.
func TestAttachSameDefaultNameFromDifferentSourceFails(t *testing.T) {
	eng := NewEngineContext()
	defer eng.Close()
	openCSV(t, eng, "sales.csv", salesCSV, false)

	r := strings.NewReader(salesCSV)
	_, err := eng.AttachFile(context.Background(), "subdir/sales.csv", r, Auto, int64(len(salesCSV)), DefaultOpenOptions())
	if werr.CodeOf(err) != werr.DuplicateDataset {
		t.Errorf("attaching a colliding default name: got %v, want DuplicateDataset", err)
	}
	// The failed attach must not have left a partially attached source behind.
	if _, ok := eng.sources.get("subdir/sales.csv"); ok {
		t.Errorf("source was left attached after a rolled-back import")
	}
}
