package importer

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/r7-consult/wasm-sqlite-database/internal/storage"
)

// dbfField is one column descriptor from a dBASE file header.
type dbfField struct {
	Name   string
	Length byte
}

// ImportDBF imports a standalone .dbf attribute table (not paired with a
// .shp file) read from r into a table. The dBASE III/IV header and record
// layout is fixed and well documented; jonas-p/go-shp's DBF support is not
// separable from its shapefile Reader (it always derives the .dbf path
// from an accompanying .shp file), so the fixed-width header/record
// layout is decoded directly here instead.
func ImportDBF(
	ctx context.Context,
	db *storage.DB,
	tenant string,
	tableName string,
	r io.Reader,
	opts *ImportOptions,
) (*ImportResult, error) {
	if opts == nil {
		opts = &ImportOptions{}
	}
	applyDefaults(opts)
	if tableName == "" {
		tableName = "dataset"
	}

	br := bufio.NewReader(r)
	header := make([]byte, 32)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, fmt.Errorf("read dbf header: %w", err)
	}
	numRecords := binary.LittleEndian.Uint32(header[4:8])
	headerLen := binary.LittleEndian.Uint16(header[8:10])
	recordLen := binary.LittleEndian.Uint16(header[10:12])

	fieldBytes := int(headerLen) - 32 - 1
	if fieldBytes <= 0 {
		return nil, fmt.Errorf("malformed dbf header")
	}
	fieldData := make([]byte, fieldBytes)
	if _, err := io.ReadFull(br, fieldData); err != nil {
		return nil, fmt.Errorf("read dbf field descriptors: %w", err)
	}
	if _, err := br.Discard(1); err != nil { // field-array terminator (0x0D)
		return nil, fmt.Errorf("read dbf terminator: %w", err)
	}

	var fields []dbfField
	for i := 0; i+32 <= len(fieldData); i += 32 {
		raw := fieldData[i : i+32]
		name := strings.TrimRight(string(raw[0:11]), "\x00")
		if name == "" {
			continue
		}
		fields = append(fields, dbfField{Name: name, Length: raw[16]})
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("no fields found in dbf")
	}

	colNames := make([]string, len(fields))
	for i, f := range fields {
		colNames[i] = f.Name
	}
	colNames = sanitizeColumnNames(colNames)

	body := make([][]string, 0, numRecords)
	recordBuf := make([]byte, recordLen)
	for i := 0; i < int(numRecords); i++ {
		if _, err := io.ReadFull(br, recordBuf); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, fmt.Errorf("read dbf record %d: %w", i, err)
		}
		if len(recordBuf) > 0 && recordBuf[0] == '*' {
			continue // soft-deleted record
		}
		row := make([]string, len(fields))
		offset := 1
		for fi, f := range fields {
			end := offset + int(f.Length)
			if end > len(recordBuf) {
				end = len(recordBuf)
			}
			if offset < end {
				row[fi] = strings.TrimSpace(string(recordBuf[offset:end]))
			}
			offset = end
		}
		body = append(body, row)
	}

	var colTypes []storage.ColType
	if opts.TypeInference {
		colTypes = inferColumnTypes(body, len(fields), opts)
	} else {
		colTypes = make([]storage.ColType, len(fields))
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
