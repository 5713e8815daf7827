package workbook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/r7-consult/wasm-sqlite-database/internal/werr"
)

// manifestSchemaVersion is the only schemaVersion this codec accepts.
const manifestSchemaVersion = 1

// manifestExcel carries the Excel-specific open options for one source
// entry, omitted entirely for non-spreadsheet sources.
type manifestExcel struct {
	Kind  string   `json:"kind,omitempty"`
	Names []string `json:"names,omitempty"`
}

// manifestSource is one attached file, recorded with enough of its open
// options to reopen it identically.
type manifestSource struct {
	Path         string         `json:"path"`
	Format       string         `json:"format,omitempty"`
	Delimiter    string         `json:"delimiter,omitempty"`
	HasHeaderRow *bool          `json:"hasHeaderRow,omitempty"`
	Excel        *manifestExcel `json:"excel,omitempty"`
}

// manifestRename records that a dataset's current technical name differs
// from the default name its source/object would otherwise produce.
type manifestRename struct {
	DefaultName   string `json:"defaultName"`
	TechnicalName string `json:"technicalName"`
}

// manifest is the on-disk project file shape. Spec §4.6, §6.
type manifest struct {
	SchemaVersion int               `json:"schemaVersion"`
	ProjectName   string            `json:"projectName,omitempty"`
	BaseFile      string            `json:"baseFile"`
	Sources       []manifestSource  `json:"sources"`
	Renames       []manifestRename  `json:"renames,omitempty"`
}

func sourceToManifestEntry(src *Source) manifestSource {
	entry := manifestSource{Path: src.Path, Format: src.Format.String()}
	if src.Options.Delimiter != 0 {
		entry.Delimiter = string(src.Options.Delimiter)
	}
	hasHeader := src.Options.HasHeaderRow
	entry.HasHeaderRow = &hasHeader
	if src.Format == Xlsx || src.Format == Xlsm || src.Format == Xltx {
		entry.Excel = &manifestExcel{Names: src.Options.ExcelObjectNames}
		switch src.Options.ExcelObjectKind {
		case SheetObject:
			entry.Excel.Kind = "sheet"
		case NamedRangeObject:
			entry.Excel.Kind = "namedRange"
		case TableObject:
			entry.Excel.Kind = "table"
		default:
			entry.Excel.Kind = "any"
		}
	}
	return entry
}

func manifestEntryToOptions(entry manifestSource) OpenOptions {
	opts := DefaultOpenOptions()
	if entry.Delimiter != "" {
		opts.Delimiter = []rune(entry.Delimiter)[0]
	}
	if entry.HasHeaderRow != nil {
		opts.HasHeaderRow = *entry.HasHeaderRow
	}
	if entry.Excel != nil {
		opts.ExcelObjectNames = entry.Excel.Names
		switch entry.Excel.Kind {
		case "sheet":
			opts.ExcelObjectKind = SheetObject
		case "namedRange":
			opts.ExcelObjectKind = NamedRangeObject
		case "table":
			opts.ExcelObjectKind = TableObject
		default:
			opts.ExcelObjectKind = AnyObject
		}
	}
	return opts
}

// ExportProjectManifest serializes the workbook's attached sources and any
// dataset renames into the project manifest JSON shape. projectName
// overrides the default (the base file's stem) when non-empty. Spec §4.6.
func (e *EngineContext) ExportProjectManifest(projectName string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	paths := e.sources.paths()
	if len(paths) == 0 {
		return "", e.fail(werr.New(werr.ExportFailed, "workbook has no attached sources"))
	}

	m := manifest{SchemaVersion: manifestSchemaVersion, BaseFile: paths[0]}
	if projectName != "" {
		m.ProjectName = projectName
	} else {
		m.ProjectName = sanitize(fileStem(paths[0]))
	}
	for _, p := range paths {
		src, ok := e.sources.get(p)
		if !ok {
			continue
		}
		m.Sources = append(m.Sources, sourceToManifestEntry(src))
	}
	for _, ds := range e.registry.list() {
		def := defaultDatasetName(ds.OriginSource, ds.OriginObjectName)
		if def != ds.TechnicalName {
			m.Renames = append(m.Renames, manifestRename{DefaultName: def, TechnicalName: ds.TechnicalName})
		}
	}

	b, err := json.Marshal(m)
	if err != nil {
		return "", e.fail(werr.Wrap(werr.ExportFailed, err, "marshal project manifest"))
	}
	e.lastError = ""
	e.lastJSON = string(b)
	return e.lastJSON, nil
}

// FileOpener resolves a source path recorded in a manifest to its content
// and an approximate byte size, so the workbook engine never touches the
// filesystem directly; every host (CLI, WASM, cgo ABI) supplies its own.
type FileOpener func(path string) (io.Reader, int64, error)

// LoadProjectManifest parses manifestJSON, opens baseFile followed by every
// other listed source in manifest order, and applies the recorded renames,
// returning a fully populated EngineContext. The whole import is strict:
// the first failure (malformed manifest, missing baseFile, any open or
// import error) aborts and returns that error without a partially built
// workbook. Spec §4.6.
func LoadProjectManifest(ctx context.Context, manifestJSON []byte, open FileOpener) (*EngineContext, error) {
	var m manifest
	if err := json.Unmarshal(manifestJSON, &m); err != nil {
		return nil, werr.Wrap(werr.MalformedInput, err, "parse project manifest")
	}
	if m.SchemaVersion != manifestSchemaVersion {
		return nil, werr.New(werr.MalformedInput, "unsupported manifest schemaVersion %d", m.SchemaVersion)
	}
	if m.BaseFile == "" {
		return nil, werr.New(werr.MalformedInput, "manifest is missing baseFile")
	}
	if len(m.Sources) == 0 {
		return nil, werr.New(werr.MalformedInput, "manifest lists no sources")
	}
	baseIdx := -1
	for i, s := range m.Sources {
		if s.Path == m.BaseFile {
			baseIdx = i
			break
		}
	}
	if baseIdx < 0 {
		return nil, werr.New(werr.MalformedInput, "manifest sources does not include baseFile %q", m.BaseFile)
	}

	eng := NewEngineContext()

	attach := func(entry manifestSource) error {
		format, err := ParseFormat(entry.Format)
		if err != nil {
			return err
		}
		r, size, err := open(entry.Path)
		if err != nil {
			return werr.Wrap(werr.OpenFailed, err, "open %q", entry.Path)
		}
		_, err = eng.AttachFile(ctx, entry.Path, r, format, size, manifestEntryToOptions(entry))
		return err
	}

	if err := attach(m.Sources[baseIdx]); err != nil {
		return nil, fmt.Errorf("open base file: %w", err)
	}
	for i, s := range m.Sources {
		if i == baseIdx {
			continue
		}
		if err := attach(s); err != nil {
			return nil, fmt.Errorf("attach %q: %w", s.Path, err)
		}
	}

	for _, ren := range m.Renames {
		if err := eng.RenameDataset(ren.DefaultName, ren.TechnicalName); err != nil {
			return nil, fmt.Errorf("apply rename %q -> %q: %w", ren.DefaultName, ren.TechnicalName, err)
		}
	}

	return eng, nil
}
