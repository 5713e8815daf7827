package workbook

import (
	"path/filepath"
	"strings"

	"github.com/r7-consult/wasm-sqlite-database/internal/werr"
)

// Format is the stable integer encoding of a source file's format, per the
// ABI's Format enum.
type Format int

const (
	Auto Format = iota
	Csv
	Tsv
	Xlsx
	Xlsm
	Xltx
	Xls
	Xlsb
	Ods
	Sqlite
	Dbf
	Mdb
	Accdb
	Parquet
	DuckDb
	Jsonl
	Json
	Xml
	Html
	Txt
)

func (f Format) String() string {
	switch f {
	case Auto:
		return "auto"
	case Csv:
		return "csv"
	case Tsv:
		return "tsv"
	case Xlsx:
		return "xlsx"
	case Xlsm:
		return "xlsm"
	case Xltx:
		return "xltx"
	case Xls:
		return "xls"
	case Xlsb:
		return "xlsb"
	case Ods:
		return "ods"
	case Sqlite:
		return "sqlite"
	case Dbf:
		return "dbf"
	case Mdb:
		return "mdb"
	case Accdb:
		return "accdb"
	case Parquet:
		return "parquet"
	case DuckDb:
		return "duckdb"
	case Jsonl:
		return "jsonl"
	case Json:
		return "json"
	case Xml:
		return "xml"
	case Html:
		return "html"
	case Txt:
		return "txt"
	default:
		return "unknown"
	}
}

var suffixToFormat = map[string]Format{
	".csv":     Csv,
	".tsv":     Tsv,
	".tab":     Tsv,
	".xlsx":    Xlsx,
	".xlsm":    Xlsm,
	".xltx":    Xltx,
	".xltm":    Xltx,
	".xls":     Xls,
	".xlsb":    Xlsb,
	".ods":     Ods,
	".sqlite":  Sqlite,
	".sqlite3": Sqlite,
	".db":      Sqlite,
	".dbf":     Dbf,
	".mdb":     Mdb,
	".accdb":   Accdb,
	".parquet": Parquet,
	".duckdb":  DuckDb,
	".jsonl":   Jsonl,
	".ndjson":  Jsonl,
	".json":    Json,
	".xml":     Xml,
	".html":    Html,
	".htm":     Html,
	".txt":     Txt,
}

// ParseFormat maps a format name (as carried in open-options or a manifest
// "format" field, case-insensitive, "auto" included) to a Format. Returns
// UnsupportedFormat for anything unrecognized.
func ParseFormat(name string) (Format, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "auto" {
		return Auto, nil
	}
	for suffix, f := range suffixToFormat {
		if strings.TrimPrefix(suffix, ".") == name {
			return f, nil
		}
	}
	return Auto, werr.New(werr.UnsupportedFormat, "unrecognized format name %q", name)
}

// ResolveFormat returns declared when it is not Auto; otherwise it infers
// the format from fileName's suffix using a fixed mapping. An unrecognized
// suffix under Auto fails with UnsupportedFormat, per spec §4.1.
func ResolveFormat(fileName string, declared Format) (Format, error) {
	if declared != Auto {
		return declared, nil
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == ".gz" {
		ext = strings.ToLower(filepath.Ext(strings.TrimSuffix(fileName, filepath.Ext(fileName))))
	}
	f, ok := suffixToFormat[ext]
	if !ok {
		return Auto, werr.New(werr.UnsupportedFormat, "cannot infer format from file name %q", fileName)
	}
	return f, nil
}

// Implemented reports whether this format has a working importer. Formats
// recognized by suffix but not decoded (legacy Excel, ODS, Access, Parquet,
// DuckDB, HTML tables) resolve successfully but fail import with
// UnsupportedFormat — no pure-Go decoder for them exists anywhere in the
// example pack this engine was grounded on.
func (f Format) Implemented() bool {
	switch f {
	case Csv, Tsv, Txt, Json, Jsonl, Xml, Xlsx, Xlsm, Xltx, Sqlite, Dbf:
		return true
	default:
		return false
	}
}
