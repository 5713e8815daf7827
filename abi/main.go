// Command abi builds the workbook engine's stable, language-neutral ABI:
// a flat set of ff_* C functions, built with `go build -buildmode=c-shared`,
// that both native hosts and a WebAssembly host can link against. It owns
// the single process-wide handle.Manager and the process-wide last-error /
// last-json string slots the ABI's error- and payload-retrieval functions
// read from.
//
// Grounded on the teacher's bindings/python/main.go (cgo export of a single
// global *tsql.DB behind one mutex, C strings built with C.CString), scaled
// up from one global database to many handle-addressed workbooks and from
// caller-freed strings to a reused, engine-owned pair of C string buffers,
// matching spec §6's "valid until the next call on any handle" pointer
// lifetime.
package main

/*
#include <stdlib.h>
*/
import "C"

import (
	"bytes"
	"context"
	"sync"
	"unsafe"

	"github.com/r7-consult/wasm-sqlite-database/internal/handle"
	"github.com/r7-consult/wasm-sqlite-database/internal/wconfig"
	"github.com/r7-consult/wasm-sqlite-database/internal/werr"
	"github.com/r7-consult/wasm-sqlite-database/internal/workbook"
)

var (
	abiMu sync.Mutex
	mgr   *handle.Manager

	lastErrorStr string
	lastJSONStr  = "{}"

	lastErrorC *C.char
	lastJSONC  *C.char
)

func init() {
	mgr = handle.NewManager(wconfig.EnvMaxActiveWorkbooks(), wconfig.EnvMaxResidentBytes())
}

// refreshCString frees *slot's previous allocation (if any) and replaces it
// with a fresh C string holding s, per the ABI's single-owner string arena.
func refreshCString(slot **C.char, s string) *C.char {
	if *slot != nil {
		C.free(unsafe.Pointer(*slot))
	}
	*slot = C.CString(s)
	return *slot
}

// recordJSON stores the outcome of a JSON-returning operation into the
// process-wide last-error/last-json slots and returns the json cstr.
func recordJSON(payload string, err error) *C.char {
	abiMu.Lock()
	defer abiMu.Unlock()
	if err != nil {
		lastErrorStr = err.Error()
		lastJSONStr = "{}"
	} else {
		lastErrorStr = ""
		lastJSONStr = payload
	}
	return refreshCString(&lastJSONC, lastJSONStr)
}

// recordStatus stores the outcome of a status-only operation into the
// process-wide last-error slot and returns 0 (success) or 1 (failure).
func recordStatus(err error) C.int {
	abiMu.Lock()
	defer abiMu.Unlock()
	if err != nil {
		lastErrorStr = err.Error()
		return 1
	}
	lastErrorStr = ""
	return 0
}

func currentManager() *handle.Manager {
	abiMu.Lock()
	defer abiMu.Unlock()
	return mgr
}

func engineFor(h C.longlong) (*workbook.EngineContext, error) {
	wb, err := currentManager().Get(handle.Handle(int64(h)))
	if err != nil {
		return nil, err
	}
	eng, ok := wb.(*workbook.EngineContext)
	if !ok {
		return nil, werr.New(werr.InternalError, "handle %d is not a workbook", int64(h))
	}
	return eng, nil
}

func openOptionsFrom(delimByte C.char, hasHeaderFlag C.int) workbook.OpenOptions {
	opts := workbook.DefaultOpenOptions()
	opts.HasHeaderRow = hasHeaderFlag != 0
	if delimByte != 0 {
		opts.Delimiter = rune(byte(delimByte))
	}
	return opts
}

//export ff_init
func ff_init() {
	abiMu.Lock()
	defer abiMu.Unlock()
	mgr = handle.NewManager(wconfig.EnvMaxActiveWorkbooks(), wconfig.EnvMaxResidentBytes())
	lastErrorStr = ""
	lastJSONStr = "{}"
}

//export ff_openFile
func ff_openFile(buf *C.char, size C.longlong, name *C.char, fmtEnum C.int, delimByte C.char, hasHeaderFlag C.int) C.longlong {
	path := C.GoString(name)
	data := C.GoBytes(unsafe.Pointer(buf), C.int(size))
	opts := openOptionsFrom(delimByte, hasHeaderFlag)

	eng := workbook.NewEngineContext()
	_, err := eng.OpenFile(context.Background(), path, bytes.NewReader(data), workbook.Format(fmtEnum), int64(len(data)), opts)
	if err != nil {
		recordStatus(err)
		return 0
	}

	h, err := currentManager().Open(eng)
	if err != nil {
		_ = eng.Close()
		recordStatus(err)
		return 0
	}
	recordStatus(nil)
	return C.longlong(int64(h))
}

//export ff_attachFile
func ff_attachFile(h C.longlong, buf *C.char, size C.longlong, name *C.char, fmtEnum C.int, delimByte C.char, hasHeaderFlag C.int) C.int {
	eng, err := engineFor(h)
	if err != nil {
		return recordStatus(err)
	}
	path := C.GoString(name)
	data := C.GoBytes(unsafe.Pointer(buf), C.int(size))
	opts := openOptionsFrom(delimByte, hasHeaderFlag)
	_, err = eng.AttachFile(context.Background(), path, bytes.NewReader(data), workbook.Format(fmtEnum), int64(len(data)), opts)
	return recordStatus(err)
}

//export ff_detachSource
func ff_detachSource(h C.longlong, path *C.char) C.int {
	eng, err := engineFor(h)
	if err != nil {
		return recordStatus(err)
	}
	return recordStatus(eng.DetachSource(C.GoString(path)))
}

//export ff_renameDataset
func ff_renameDataset(h C.longlong, oldName, newName *C.char) C.int {
	eng, err := engineFor(h)
	if err != nil {
		return recordStatus(err)
	}
	return recordStatus(eng.RenameDataset(C.GoString(oldName), C.GoString(newName)))
}

//export ff_listDatasets
func ff_listDatasets(h C.longlong) *C.char {
	eng, err := engineFor(h)
	if err != nil {
		return recordJSON("", err)
	}
	payload, err := eng.ListDatasets()
	return recordJSON(payload, err)
}

//export ff_describeDataset
func ff_describeDataset(h C.longlong, name *C.char) *C.char {
	eng, err := engineFor(h)
	if err != nil {
		return recordJSON("", err)
	}
	payload, err := eng.DescribeDataset(C.GoString(name))
	return recordJSON(payload, err)
}

//export ff_query
func ff_query(h C.longlong, sql *C.char) *C.char {
	eng, err := engineFor(h)
	if err != nil {
		return recordJSON("", err)
	}
	payload, err := eng.Query(context.Background(), C.GoString(sql))
	return recordJSON(payload, err)
}

//export ff_profileDataset
func ff_profileDataset(h C.longlong, name *C.char) *C.char {
	eng, err := engineFor(h)
	if err != nil {
		return recordJSON("", err)
	}
	payload, err := eng.ProfileDataset(C.GoString(name))
	return recordJSON(payload, err)
}

//export ff_evaluateQualityRules
func ff_evaluateQualityRules(h C.longlong, name, rulesJSON *C.char) *C.char {
	eng, err := engineFor(h)
	if err != nil {
		return recordJSON("", err)
	}
	payload, err := eng.EvaluateQualityRules(C.GoString(name), C.GoString(rulesJSON))
	return recordJSON(payload, err)
}

//export ff_listDatasetSources
func ff_listDatasetSources(h C.longlong) *C.char {
	eng, err := engineFor(h)
	if err != nil {
		return recordJSON("", err)
	}
	payload, err := eng.ListDatasetSources()
	return recordJSON(payload, err)
}

//export ff_getWorkbookSourcePaths
func ff_getWorkbookSourcePaths(h C.longlong) *C.char {
	eng, err := engineFor(h)
	if err != nil {
		return recordJSON("", err)
	}
	payload, err := eng.GetWorkbookSourcePaths()
	return recordJSON(payload, err)
}

//export ff_getWorkbookMemoryStats
func ff_getWorkbookMemoryStats(h C.longlong) *C.char {
	eng, err := engineFor(h)
	if err != nil {
		return recordJSON("", err)
	}
	payload, err := eng.GetWorkbookMemoryStats()
	return recordJSON(payload, err)
}

//export ff_listDatasetMemoryStats
func ff_listDatasetMemoryStats(h C.longlong) *C.char {
	eng, err := engineFor(h)
	if err != nil {
		return recordJSON("", err)
	}
	payload, err := eng.ListDatasetMemoryStats()
	return recordJSON(payload, err)
}

//export ff_exportProjectManifest
func ff_exportProjectManifest(h C.longlong, projectName *C.char) *C.char {
	eng, err := engineFor(h)
	if err != nil {
		return recordJSON("", err)
	}
	payload, err := eng.ExportProjectManifest(C.GoString(projectName))
	return recordJSON(payload, err)
}

//export ff_getLastError
func ff_getLastError() *C.char {
	abiMu.Lock()
	defer abiMu.Unlock()
	return refreshCString(&lastErrorC, lastErrorStr)
}

//export ff_getLastJson
func ff_getLastJson() *C.char {
	abiMu.Lock()
	defer abiMu.Unlock()
	return refreshCString(&lastJSONC, lastJSONStr)
}

//export ff_closeFile
func ff_closeFile(h C.longlong) {
	_ = currentManager().Close(handle.Handle(int64(h)))
}

func main() {}
