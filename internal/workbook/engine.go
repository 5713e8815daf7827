// Package workbook implements the data model and operations of a single
// workbook session: attached sources, the datasets they expose, and query
// access to an embedded relational store. Grounded on the teacher's
// internal/storage.DB + internal/engine, generalized from a SQL driver
// backend into a spreadsheet/file workbook engine.
package workbook

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/r7-consult/wasm-sqlite-database/internal/engine"
	"github.com/r7-consult/wasm-sqlite-database/internal/storage"
	"github.com/r7-consult/wasm-sqlite-database/internal/wconfig"
	"github.com/r7-consult/wasm-sqlite-database/internal/werr"
	"github.com/r7-consult/wasm-sqlite-database/internal/wlog"
)

// tenant is the fixed single-tenant key every workbook's embedded store
// uses. Workbooks are already isolated at the *storage.DB level (one DB
// per EngineContext), so tenanting within that DB adds nothing.
const tenant = "default"

// EngineContext is one open workbook: its embedded relational store, the
// sources attached to it, the datasets those sources expose, and the
// last-error/last-json string slots the ABI surface reads after a call.
// Spec §4.4.
type EngineContext struct {
	mu sync.Mutex

	db       *storage.DB
	cache    *engine.QueryCache
	sources  *sourceTable
	registry *registry

	createdAt  time.Time
	lastUsedAt time.Time

	lastError string
	lastJSON  string
}

// NewEngineContext creates an empty workbook with no sources attached.
func NewEngineContext() *EngineContext {
	now := time.Now()
	return &EngineContext{
		db:         storage.NewDB(),
		cache:      engine.NewQueryCache(wconfig.QueryCacheSize),
		sources:    newSourceTable(),
		registry:   newRegistry(),
		createdAt:  now,
		lastUsedAt: now,
	}
}

// LastError returns the message from the most recently failed operation,
// or "" if the last operation succeeded.
func (e *EngineContext) LastError() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastError
}

// LastJSON returns the most recently produced JSON payload, for ABI
// functions whose C signature can only return a handle or an error code.
func (e *EngineContext) LastJSON() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastJSON
}

func (e *EngineContext) fail(err error) error {
	e.lastError = err.Error()
	e.lastJSON = "{}"
	wlog.L.Debug().Err(err).Msg("workbook operation failed")
	return err
}

func (e *EngineContext) succeedJSON(payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", e.fail(werr.Wrap(werr.InternalError, err, "marshal result"))
	}
	e.lastError = ""
	e.lastJSON = string(b)
	return e.lastJSON, nil
}

// OpenFile attaches path as the workbook's first source. It behaves like
// AttachFile on an otherwise-empty workbook; kept distinct because the ABI
// surface exposes ff_openFile and ff_attachFile as separate entry points.
func (e *EngineContext) OpenFile(ctx context.Context, path string, r io.Reader, declared Format, approxBytes int64, opts OpenOptions) ([]string, error) {
	return e.AttachFile(ctx, path, r, declared, approxBytes, opts)
}

// AttachFile imports path's content into the embedded store, registering
// one dataset per object the importer produced, and returns their final
// technical names. Fails DuplicateSource if path is already attached, and
// DuplicateDataset (rolling back every table and registry entry created by
// this call) if any resolved name collides with an existing dataset from a
// different source. Spec §4.1, §4.2, §4.3.
func (e *EngineContext) AttachFile(ctx context.Context, path string, r io.Reader, declared Format, approxBytes int64, opts OpenOptions) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastUsedAt = time.Now()

	if _, exists := e.sources.get(path); exists {
		return nil, e.fail(werr.New(werr.DuplicateSource, "source %q is already attached", path))
	}

	format, err := ResolveFormat(path, declared)
	if err != nil {
		return nil, e.fail(err)
	}

	objects, err := runImport(ctx, e.db, tenant, path, format, r, opts)
	if err != nil {
		return nil, e.fail(werr.Wrap(werr.ImportFailed, err, "import %q", path))
	}

	objectNames := make([]string, len(objects))
	for i, obj := range objects {
		objectNames[i] = obj.ObjectName
	}
	finalNames := resolveCollisions(defaultNamesFor(path, objectNames))

	var createdTables []string
	var registered []string
	rollback := func() {
		for _, t := range createdTables {
			_ = e.db.Drop(tenant, t)
		}
		e.registry.removeMany(registered)
	}

	for i, obj := range objects {
		finalName := finalNames[i]
		if finalName != obj.StorageTable {
			if err := renameStorageTable(e.db, tenant, obj.StorageTable, finalName); err != nil {
				rollback()
				return nil, e.fail(werr.Wrap(werr.InternalError, err, "rename staged table %q", obj.StorageTable))
			}
		}
		createdTables = append(createdTables, finalName)

		approx := approxBytes / int64(len(objects))
		if _, err := e.registry.register(path, obj.ObjectName, finalName, approx); err != nil {
			rollback()
			return nil, e.fail(err)
		}
		registered = append(registered, finalName)
	}

	if _, err := e.sources.attach(path, format, opts, approxBytes); err != nil {
		rollback()
		return nil, e.fail(err)
	}
	for _, name := range registered {
		e.sources.addDatasetKey(path, name)
	}

	e.lastError = ""
	return registered, nil
}

func defaultNamesFor(path string, objectNames []string) []string {
	out := make([]string, len(objectNames))
	for i, obj := range objectNames {
		out[i] = defaultDatasetName(path, obj)
	}
	return out
}

func renameStorageTable(db *storage.DB, tn, oldName, newName string) error {
	if oldName == newName {
		return nil
	}
	tbl, err := db.Get(tn, oldName)
	if err != nil {
		return err
	}
	newTbl := storage.NewTable(newName, tbl.Cols, tbl.IsTemp)
	newTbl.Rows = tbl.Rows
	if err := db.Put(tn, newTbl); err != nil {
		return err
	}
	return db.Drop(tn, oldName)
}

// DetachSource removes path and cascades the drop to every dataset it
// owns. Best-effort: the source and every dataset it owns are removed
// even if dropping an individual storage table fails, and the source is
// always removed from the source table. Spec §4.4.
func (e *EngineContext) DetachSource(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastUsedAt = time.Now()

	keys, err := e.sources.detach(path)
	if err != nil {
		return e.fail(err)
	}
	removed := e.registry.removeMany(keys)
	for _, name := range removed {
		if err := e.db.Drop(tenant, name); err != nil {
			wlog.L.Warn().Err(err).Str("dataset", name).Msg("drop storage table during detach")
		}
	}
	e.lastError = ""
	return nil
}

// RenameDataset renames a dataset, atomically updating both the registry
// and the underlying storage table. Spec §4.4, §9 (rename validation).
func (e *EngineContext) RenameDataset(oldName, newName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastUsedAt = time.Now()

	if !ValidName(newName) {
		return e.fail(werr.New(werr.InvalidName, "invalid dataset name %q", newName))
	}
	if _, ok := e.registry.get(oldName); !ok {
		return e.fail(werr.New(werr.UnknownDataset, "dataset %q does not exist", oldName))
	}
	if oldName == newName {
		e.lastError = ""
		return nil
	}
	if err := renameStorageTable(e.db, tenant, oldName, newName); err != nil {
		return e.fail(werr.Wrap(werr.InternalError, err, "rename storage table %q", oldName))
	}
	if err := e.registry.rename(oldName, newName); err != nil {
		_ = renameStorageTable(e.db, tenant, newName, oldName)
		return e.fail(err)
	}
	e.lastError = ""
	return nil
}

// datasetSummaryJSON is the wire shape of one dataset entry in
// listDatasets, per spec §6's canonical "sheets" payload.
type datasetSummaryJSON struct {
	Name        string       `json:"name"`
	RowCount    int          `json:"rowCount"`
	ColumnCount int          `json:"columnCount"`
	Columns     []ColumnInfo `json:"columns"`
}

type listDatasetsJSON struct {
	Sheets []datasetSummaryJSON `json:"sheets"`
}

// ListDatasets returns the JSON array of every dataset currently
// registered, in registration order. Spec §6.
func (e *EngineContext) ListDatasets() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastUsedAt = time.Now()

	list := e.registry.list()
	out := make([]datasetSummaryJSON, 0, len(list))
	for _, ds := range list {
		row, err := e.summarizeLocked(ds)
		if err != nil {
			return "", e.fail(err)
		}
		out = append(out, row)
	}
	return e.succeedJSON(listDatasetsJSON{Sheets: out})
}

func (e *EngineContext) summarizeLocked(ds *Dataset) (datasetSummaryJSON, error) {
	tbl, err := e.db.Get(tenant, ds.TechnicalName)
	if err != nil {
		return datasetSummaryJSON{}, werr.Wrap(werr.InternalError, err, "load dataset %q", ds.TechnicalName)
	}
	cols := make([]ColumnInfo, len(tbl.Cols))
	for i, c := range tbl.Cols {
		cols[i] = ColumnInfo{Name: c.Name, Type: c.Type.String()}
	}
	return datasetSummaryJSON{
		Name:        ds.TechnicalName,
		RowCount:    len(tbl.Rows),
		ColumnCount: len(tbl.Cols),
		Columns:     cols,
	}, nil
}

// DescribeDataset returns the JSON description of one dataset (the same
// shape as one listDatasets entry). Fails UnknownDataset if name is not
// registered.
func (e *EngineContext) DescribeDataset(name string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastUsedAt = time.Now()

	ds, ok := e.registry.get(name)
	if !ok {
		return "", e.fail(werr.New(werr.UnknownDataset, "dataset %q does not exist", name))
	}
	row, err := e.summarizeLocked(ds)
	if err != nil {
		return "", e.fail(err)
	}
	return e.succeedJSON(row)
}

// queryMeta is always {"runtimeViewName": null}: the embedded store never
// materializes a named view per query, so there is nothing truthful to
// report here. Spec §9's open question on this field is resolved that way.
type queryMeta struct {
	RuntimeViewName *string `json:"runtimeViewName"`
}

type queryResultJSON struct {
	Columns []ColumnInfo `json:"columns"`
	Rows    [][]any      `json:"rows"`
	Meta    queryMeta    `json:"meta"`
}

// cellTypeName classifies a result cell's dynamic Go type into the coarse
// vocabulary query results report per column, since a projection's static
// type isn't tracked through arbitrary expressions.
func cellTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "int"
	case float32, float64:
		return "float"
	default:
		return "string"
	}
}

// Query compiles and executes sql against the workbook's embedded store
// and returns the JSON result payload. Compiled statements are cached by
// source text. Spec §4.4, §6.
func (e *EngineContext) Query(ctx context.Context, sql string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastUsedAt = time.Now()

	compiled, err := e.cache.Compile(sql)
	if err != nil {
		return "", e.fail(werr.Wrap(werr.SqlError, err, "parse query"))
	}
	rs, err := compiled.Execute(ctx, e.db, tenant)
	if err != nil {
		return "", e.fail(werr.Wrap(werr.SqlError, err, "execute query"))
	}
	if len(rs.Rows) > wconfig.MaxCellsPerOp/max(1, len(rs.Cols)) {
		return "", e.fail(werr.New(werr.InternalError, "result exceeds per-operation cell limit"))
	}

	cols := make([]ColumnInfo, len(rs.Cols))
	for i, name := range rs.Cols {
		typ := "null"
		for _, r := range rs.Rows {
			if v, ok := r[name]; ok && v != nil {
				typ = cellTypeName(v)
				break
			}
		}
		cols[i] = ColumnInfo{Name: name, Type: typ}
	}

	rows := make([][]any, len(rs.Rows))
	for i, r := range rs.Rows {
		row := make([]any, len(rs.Cols))
		for j, name := range rs.Cols {
			row[j] = r[name]
		}
		rows[i] = row
	}
	return e.succeedJSON(queryResultJSON{Columns: cols, Rows: rows, Meta: queryMeta{}})
}

// datasetSourceJSON is one entry in listDatasetSources' array.
type datasetSourceJSON struct {
	TechnicalName    string  `json:"technicalName"`
	SourceFilePath   string  `json:"sourceFilePath"`
	SourceObjectName *string `json:"sourceObjectName"`
}

// ListDatasetSources returns, for each registered dataset, the source path
// and origin object name that produced it. Spec §4.3, §4.4.
func (e *EngineContext) ListDatasetSources() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastUsedAt = time.Now()

	list := e.registry.list()
	out := make([]datasetSourceJSON, len(list))
	for i, ds := range list {
		var objName *string
		if ds.OriginObjectName != "" {
			v := ds.OriginObjectName
			objName = &v
		}
		out[i] = datasetSourceJSON{
			TechnicalName:    ds.TechnicalName,
			SourceFilePath:   ds.OriginSource,
			SourceObjectName: objName,
		}
	}
	return e.succeedJSON(out)
}

type workbookSourcePathsJSON struct {
	Paths []string `json:"paths"`
}

// GetWorkbookSourcePaths returns every attached source path, in attach
// order. Spec §4.4, §6.
func (e *EngineContext) GetWorkbookSourcePaths() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastUsedAt = time.Now()
	return e.succeedJSON(workbookSourcePathsJSON{Paths: e.sources.paths()})
}

// workbookSourceStatJSON is one entry in workbookMemoryStats' "sources"
// array.
type workbookSourceStatJSON struct {
	SourceFilePath   string  `json:"sourceFilePath"`
	SourceObjectName *string `json:"sourceObjectName"`
	ApproxBytes      int64   `json:"approxBytes"`
}

type workbookMemoryStatsJSON struct {
	ApproxDbBytes         int64                    `json:"approxDbBytes"`
	ApproxFileBufferBytes int64                    `json:"approxFileBufferBytes"`
	ApproxTotalBytes      int64                    `json:"approxTotalBytes"`
	Sources               []workbookSourceStatJSON `json:"sources"`
}

// GetWorkbookMemoryStats reports the workbook's approximate resident-byte
// footprint, broken down by source. Spec §4.5, §6.
func (e *EngineContext) GetWorkbookMemoryStats() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastUsedAt = time.Now()

	sources := make([]workbookSourceStatJSON, 0, len(e.sources.paths()))
	for _, p := range e.sources.paths() {
		src, ok := e.sources.get(p)
		if !ok {
			continue
		}
		sources = append(sources, workbookSourceStatJSON{
			SourceFilePath:   p,
			SourceObjectName: nil,
			ApproxBytes:      src.ApproxBytes,
		})
	}
	dbBytes := e.registry.totalApproxBytes()
	fileBytes := e.sources.totalApproxBytes()
	return e.succeedJSON(workbookMemoryStatsJSON{
		ApproxDbBytes:         dbBytes,
		ApproxFileBufferBytes: fileBytes,
		ApproxTotalBytes:      dbBytes + fileBytes,
		Sources:               sources,
	})
}

// datasetStatJSON is one entry in datasetMemoryStats' "datasets" array.
type datasetStatJSON struct {
	TechnicalName    string  `json:"technicalName"`
	SourceFilePath   string  `json:"sourceFilePath"`
	SourceObjectName *string `json:"sourceObjectName"`
	ApproxBytes      int64   `json:"approxBytes"`
}

type datasetMemoryStatsJSON struct {
	Datasets []datasetStatJSON `json:"datasets"`
}

// ListDatasetMemoryStats reports the workbook's approximate resident-byte
// footprint, broken down by dataset.
func (e *EngineContext) ListDatasetMemoryStats() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastUsedAt = time.Now()

	out := make([]datasetStatJSON, 0, len(e.registry.list()))
	for _, ds := range e.registry.list() {
		var objName *string
		if ds.OriginObjectName != "" {
			v := ds.OriginObjectName
			objName = &v
		}
		out = append(out, datasetStatJSON{
			TechnicalName:    ds.TechnicalName,
			SourceFilePath:   ds.OriginSource,
			SourceObjectName: objName,
			ApproxBytes:      ds.ApproxBytes,
		})
	}
	return e.succeedJSON(datasetMemoryStatsJSON{Datasets: out})
}

// ApproxResidentBytes is the handle manager's LRU weight for this
// workbook: the larger of its attached-source bytes and its registered-
// dataset bytes, since both are held in memory simultaneously but may
// diverge (e.g. a CSV re-exported with fewer columns).
func (e *EngineContext) ApproxResidentBytes() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, b := e.sources.totalApproxBytes(), e.registry.totalApproxBytes()
	if a > b {
		return a
	}
	return b
}

// Close releases the workbook's embedded store.
func (e *EngineContext) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.db.Close()
}
