package importer

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	_ "modernc.org/sqlite"

	"github.com/r7-consult/wasm-sqlite-database/internal/storage"
)

// SqliteImportResult pairs one imported table's name with its ImportResult.
type SqliteImportResult struct {
	TableName string
	Result    *ImportResult
}

// ImportSqliteDB imports every user table of a SQLite database file read
// from r into db, one table per SQLite table. SQLite only exposes a file-
// based driver, so the content is staged to a temp file; the temp file is
// removed before this function returns.
func ImportSqliteDB(
	ctx context.Context,
	db *storage.DB,
	tenant string,
	r io.Reader,
	opts *ImportOptions,
) ([]SqliteImportResult, error) {
	if opts == nil {
		opts = &ImportOptions{}
	}
	applyDefaults(opts)

	tmp, err := os.CreateTemp("", "workbook-import-*.sqlite")
	if err != nil {
		return nil, fmt.Errorf("stage sqlite file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("stage sqlite file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("stage sqlite file: %w", err)
	}

	src, err := sql.Open("sqlite", tmpPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite file: %w", err)
	}
	defer src.Close()

	tableRows, err := src.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, fmt.Errorf("list sqlite tables: %w", err)
	}
	var tableNames []string
	for tableRows.Next() {
		var name string
		if err := tableRows.Scan(&name); err != nil {
			tableRows.Close()
			return nil, fmt.Errorf("list sqlite tables: %w", err)
		}
		tableNames = append(tableNames, name)
	}
	tableRows.Close()
	if len(tableNames) == 0 {
		return nil, fmt.Errorf("no tables found in sqlite database")
	}

	results := make([]SqliteImportResult, 0, len(tableNames))
	for _, name := range tableNames {
		res, err := importSqliteTable(ctx, db, tenant, src, name, opts)
		if err != nil {
			return nil, fmt.Errorf("import sqlite table %q: %w", name, err)
		}
		results = append(results, SqliteImportResult{TableName: sanitizeTableName(name), Result: res})
	}
	return results, nil
}

func importSqliteTable(ctx context.Context, db *storage.DB, tenant string, src *sql.DB, name string, opts *ImportOptions) (*ImportResult, error) {
	rows, err := src.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %q`, name))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	width := len(cols)

	var body [][]string
	scanBuf := make([]any, width)
	scanPtrs := make([]any, width)
	for i := range scanBuf {
		scanPtrs[i] = &scanBuf[i]
	}
	for rows.Next() {
		if err := rows.Scan(scanPtrs...); err != nil {
			return nil, err
		}
		row := make([]string, width)
		for i, v := range scanBuf {
			if v == nil {
				continue
			}
			switch tv := v.(type) {
			case []byte:
				row[i] = string(tv)
			default:
				row[i] = fmt.Sprintf("%v", tv)
			}
		}
		body = append(body, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tableName := sanitizeTableName(name)
	colNames := sanitizeColumnNames(append([]string{}, cols...))
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
		HadHeader:   true,
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
