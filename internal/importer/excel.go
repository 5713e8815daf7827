package importer

import (
	"context"
	"fmt"
	"io"
	"strings"

	excelize "github.com/xuri/excelize/v2"

	"github.com/r7-consult/wasm-sqlite-database/internal/storage"
)

// ExcelObjectKind narrows which objects inside a workbook ImportExcel
// surfaces as tables: whole sheets, named ranges, or Excel Tables.
type ExcelObjectKind int

const (
	AnyExcelObject ExcelObjectKind = iota
	SheetExcelObject
	NamedRangeExcelObject
	TableExcelObject
)

// ExcelImportResult pairs one imported object's name with its ImportResult.
type ExcelImportResult struct {
	ObjectName string
	Result     *ImportResult
}

// ImportExcel imports an XLSX/XLSM/XLTX workbook read from r, producing one
// table per matched object. kind selects which kind of object to surface;
// names, if non-empty, filters to only those object names (case-sensitive,
// matching the workbook's own naming). An empty names list with kind ==
// AnyExcelObject or SheetExcelObject imports every sheet.
func ImportExcel(
	ctx context.Context,
	db *storage.DB,
	tenant string,
	r io.Reader,
	kind ExcelObjectKind,
	names []string,
	opts *ImportOptions,
) ([]ExcelImportResult, error) {
	if opts == nil {
		opts = &ImportOptions{}
	}
	applyDefaults(opts)

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open excel workbook: %w", err)
	}
	defer f.Close()

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	var objects []excelObject
	switch kind {
	case NamedRangeExcelObject:
		objects, err = excelNamedRanges(f, wanted)
	case TableExcelObject:
		objects, err = excelTables(f, wanted)
	default:
		objects = excelSheets(f, wanted)
	}
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("no matching excel objects found")
	}

	results := make([]ExcelImportResult, 0, len(objects))
	for _, obj := range objects {
		res, err := importExcelRows(ctx, db, tenant, obj, opts)
		if err != nil {
			return nil, fmt.Errorf("import excel object %q: %w", obj.name, err)
		}
		results = append(results, ExcelImportResult{ObjectName: obj.name, Result: res})
	}
	return results, nil
}

// excelObject is one sheet- or range-scoped table candidate within a
// workbook, resolved down to the raw string rows it covers.
type excelObject struct {
	name string
	rows [][]string
}

func excelSheets(f *excelize.File, wanted map[string]bool) []excelObject {
	var out []excelObject
	for _, sheet := range f.GetSheetList() {
		if len(wanted) > 0 && !wanted[sheet] {
			continue
		}
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		out = append(out, excelObject{name: sheet, rows: rows})
	}
	return out
}

func excelNamedRanges(f *excelize.File, wanted map[string]bool) ([]excelObject, error) {
	var out []excelObject
	for _, dn := range f.GetDefinedName() {
		if len(wanted) > 0 && !wanted[dn.Name] {
			continue
		}
		sheet, rows, err := resolveExcelRange(f, dn.RefersTo)
		if err != nil || len(rows) == 0 {
			continue
		}
		_ = sheet
		out = append(out, excelObject{name: dn.Name, rows: rows})
	}
	return out, nil
}

func excelTables(f *excelize.File, wanted map[string]bool) ([]excelObject, error) {
	var out []excelObject
	for _, sheet := range f.GetSheetList() {
		tables, err := f.GetTables(sheet)
		if err != nil {
			continue
		}
		for _, tbl := range tables {
			if len(wanted) > 0 && !wanted[tbl.Name] {
				continue
			}
			_, rows, err := resolveExcelRange(f, sheet+"!"+tbl.Range)
			if err != nil || len(rows) == 0 {
				continue
			}
			out = append(out, excelObject{name: tbl.Name, rows: rows})
		}
	}
	return out, nil
}

// resolveExcelRange parses a "Sheet!$A$1:$C$10"-shaped reference and
// returns the sheet name plus the enclosed cell values as string rows.
func resolveExcelRange(f *excelize.File, ref string) (string, [][]string, error) {
	ref = strings.TrimPrefix(ref, "=")
	bang := strings.LastIndex(ref, "!")
	if bang < 0 {
		return "", nil, fmt.Errorf("malformed range reference %q", ref)
	}
	sheet := strings.Trim(ref[:bang], "'")
	cellRange := strings.ReplaceAll(ref[bang+1:], "$", "")
	parts := strings.Split(cellRange, ":")
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("malformed cell range %q", cellRange)
	}
	c1, r1, err := excelize.CellNameToCoordinates(parts[0])
	if err != nil {
		return "", nil, err
	}
	c2, r2, err := excelize.CellNameToCoordinates(parts[1])
	if err != nil {
		return "", nil, err
	}
	all, err := f.GetRows(sheet)
	if err != nil {
		return "", nil, err
	}
	var rows [][]string
	for r := r1; r <= r2 && r <= len(all); r++ {
		line := all[r-1]
		var out []string
		for c := c1; c <= c2; c++ {
			if c-1 < len(line) {
				out = append(out, line[c-1])
			} else {
				out = append(out, "")
			}
		}
		rows = append(rows, out)
	}
	return sheet, rows, nil
}

func importExcelRows(ctx context.Context, db *storage.DB, tenant string, obj excelObject, opts *ImportOptions) (*ImportResult, error) {
	rows := obj.rows
	tableName := opts.TableName
	if tableName == "" {
		tableName = sanitizeTableName(obj.name)
	}

	var header []string
	var body [][]string
	hasHeader := opts.HeaderMode != "absent"
	if hasHeader && len(rows) > 0 {
		header = rows[0]
		body = rows[1:]
	} else {
		body = rows
		if len(body) > 0 {
			header = make([]string, len(body[0]))
			for i := range header {
				header[i] = fmt.Sprintf("col_%d", i+1)
			}
		}
	}
	width := len(header)
	for i, row := range body {
		body[i] = padOrTrim(row, width)
	}

	colNames := sanitizeColumnNames(header)
	var colTypes []storage.ColType
	if opts.TypeInference {
		colTypes = inferColumnTypes(body, width, opts)
	} else {
		colTypes = make([]storage.ColType, width)
		for i := range colTypes {
			colTypes[i] = storage.TextType
		}
	}

	result := &ImportResult{
		Encoding:    "utf-8",
		Errors:      make([]string, 0),
		ColumnNames: colNames,
		ColumnTypes: colTypes,
		HadHeader:   hasHeader,
	}

	if opts.CreateTable {
		if err := createTable(ctx, db, tenant, tableName, colNames, colTypes); err != nil {
			return nil, err
		}
	}
	if opts.Truncate {
		if err := truncateTable(ctx, db, tenant, tableName); err != nil {
			return nil, err
		}
	}

	inserted, skipped, errs := insertAllRecords(ctx, db, tenant, tableName, colNames, colTypes, body, opts)
	result.RowsInserted = inserted
	result.RowsSkipped = skipped
	result.Errors = append(result.Errors, errs...)
	return result, nil
}

func padOrTrim(row []string, width int) []string {
	if len(row) == width {
		return row
	}
	out := make([]string, width)
	copy(out, row)
	return out
}
