package workbook

import (
	"context"
	"io"

	ximporter "github.com/r7-consult/wasm-sqlite-database/internal/importer"
	"github.com/r7-consult/wasm-sqlite-database/internal/storage"
	"github.com/r7-consult/wasm-sqlite-database/internal/werr"
)

// ImportedObject is one table a format-specific importer produced, before
// default-name collision resolution has picked its final dataset name.
type ImportedObject struct {
	ObjectName   string // "" for single-object sources (csv, json, dbf, ...)
	StorageTable string // the table name the importer actually created
	Columns      []ColumnInfo
	RowCount     int
}

func objectFromResult(objectName, storageTable string, res *ximporter.ImportResult) ImportedObject {
	cols := make([]ColumnInfo, len(res.ColumnNames))
	for i, n := range res.ColumnNames {
		cols[i] = ColumnInfo{Name: n, Type: res.ColumnTypes[i].String()}
	}
	return ImportedObject{
		ObjectName:   objectName,
		StorageTable: storageTable,
		Columns:      cols,
		RowCount:     int(res.RowsInserted),
	}
}

func headerMode(opts OpenOptions) string {
	if opts.HasHeaderRow {
		return "auto"
	}
	return "absent"
}

func toExcelKind(kind ExcelObjectKind) ximporter.ExcelObjectKind {
	switch kind {
	case SheetObject:
		return ximporter.SheetExcelObject
	case NamedRangeObject:
		return ximporter.NamedRangeExcelObject
	case TableObject:
		return ximporter.TableExcelObject
	default:
		return ximporter.AnyExcelObject
	}
}

// runImport dispatches to the format-specific importer and returns one
// ImportedObject per table it created in db. Spec §4.1.
func runImport(ctx context.Context, db *storage.DB, tenant, path string, format Format, r io.Reader, opts OpenOptions) ([]ImportedObject, error) {
	if !format.Implemented() {
		return nil, werr.New(werr.UnsupportedFormat, "format %s has no importer", format)
	}

	stem := sanitize(fileStem(path))
	if stem == "" {
		stem = "dataset"
	}

	switch format {
	case Csv, Tsv, Txt:
		iOpts := &ximporter.ImportOptions{HeaderMode: headerMode(opts)}
		if opts.Delimiter != 0 {
			iOpts.DelimiterCandidates = []rune{opts.Delimiter}
		} else if format == Tsv {
			iOpts.DelimiterCandidates = []rune{'\t'}
		}
		res, err := ximporter.ImportCSV(ctx, db, tenant, stem, r, iOpts)
		if err != nil {
			return nil, werr.Wrap(werr.ImportFailed, err, "import %q", path)
		}
		return []ImportedObject{objectFromResult("", stem, res)}, nil

	case Json, Jsonl:
		iOpts := &ximporter.ImportOptions{HeaderMode: headerMode(opts)}
		res, err := ximporter.ImportJSON(ctx, db, tenant, stem, r, iOpts)
		if err != nil {
			return nil, werr.Wrap(werr.ImportFailed, err, "import %q", path)
		}
		return []ImportedObject{objectFromResult("", stem, res)}, nil

	case Xml:
		iOpts := &ximporter.ImportOptions{HeaderMode: headerMode(opts)}
		res, err := ximporter.ImportXML(ctx, db, tenant, stem, r, iOpts)
		if err != nil {
			return nil, werr.Wrap(werr.ImportFailed, err, "import %q", path)
		}
		return []ImportedObject{objectFromResult("", stem, res)}, nil

	case Dbf:
		res, err := ximporter.ImportDBF(ctx, db, tenant, stem, r, &ximporter.ImportOptions{})
		if err != nil {
			return nil, werr.Wrap(werr.ImportFailed, err, "import %q", path)
		}
		return []ImportedObject{objectFromResult("", stem, res)}, nil

	case Xlsx, Xlsm, Xltx:
		kind := toExcelKind(opts.ExcelObjectKind)
		iOpts := &ximporter.ImportOptions{HeaderMode: headerMode(opts)}
		results, err := ximporter.ImportExcel(ctx, db, tenant, r, kind, opts.ExcelObjectNames, iOpts)
		if err != nil {
			return nil, werr.Wrap(werr.ImportFailed, err, "import %q", path)
		}
		out := make([]ImportedObject, len(results))
		for i, rr := range results {
			storageName := ximporter.SanitizeTableName(rr.ObjectName)
			out[i] = objectFromResult(rr.ObjectName, storageName, rr.Result)
		}
		return out, nil

	case Sqlite:
		results, err := ximporter.ImportSqliteDB(ctx, db, tenant, r, &ximporter.ImportOptions{})
		if err != nil {
			return nil, werr.Wrap(werr.ImportFailed, err, "import %q", path)
		}
		out := make([]ImportedObject, len(results))
		for i, rr := range results {
			out[i] = objectFromResult(rr.TableName, rr.TableName, rr.Result)
		}
		return out, nil

	default:
		return nil, werr.New(werr.UnsupportedFormat, "format %s has no importer", format)
	}
}
