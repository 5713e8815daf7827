//go:build js && wasm

// Command workbook_wasm is the WebAssembly host for the workbook engine:
// it exposes the same handle-addressed operation set as the cgo ABI
// surface (abi/main.go) through syscall/js globals instead of C exports,
// so a browser or other JS host drives the identical handle.Manager and
// workbook.EngineContext, reached here through the root tinysql package's
// workbook SDK since this command is its own Go module. Grounded on
// cmd/query_files_wasm's js.FuncOf registration style and
// success/data/error response shape, generalized from one package-level
// *tinysql.DB to many handle-addressed workbooks.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"syscall/js"

	tinysql "github.com/r7-consult/wasm-sqlite-database"
)

var mgr *tinysql.HandleManager

func main() {
	c := make(chan struct{})

	mgr = tinysql.NewDefaultHandleManager()

	js.Global().Set("openWorkbook", js.FuncOf(openWorkbook))
	js.Global().Set("attachSource", js.FuncOf(attachSource))
	js.Global().Set("detachSource", js.FuncOf(detachSource))
	js.Global().Set("renameDataset", js.FuncOf(renameDataset))
	js.Global().Set("listDatasets", js.FuncOf(listDatasets))
	js.Global().Set("describeDataset", js.FuncOf(describeDataset))
	js.Global().Set("queryWorkbook", js.FuncOf(queryWorkbook))
	js.Global().Set("profileDataset", js.FuncOf(profileDataset))
	js.Global().Set("evaluateQualityRules", js.FuncOf(evaluateQualityRules))
	js.Global().Set("listDatasetSources", js.FuncOf(listDatasetSources))
	js.Global().Set("getWorkbookSourcePaths", js.FuncOf(getWorkbookSourcePaths))
	js.Global().Set("getWorkbookMemoryStats", js.FuncOf(getWorkbookMemoryStats))
	js.Global().Set("listDatasetMemoryStats", js.FuncOf(listDatasetMemoryStats))
	js.Global().Set("exportProjectManifest", js.FuncOf(exportProjectManifest))
	js.Global().Set("closeWorkbook", js.FuncOf(closeWorkbook))

	println("workbook engine WASM host initialized")
	<-c
}

func fail(err error) map[string]interface{} {
	return map[string]interface{}{"success": false, "error": err.Error()}
}

// payload decodes a JSON string returned by an EngineContext method back
// into JS-friendly generic values (map/slice/float64/string/bool/nil),
// which js.ValueOf accepts directly.
func payload(raw string, err error) map[string]interface{} {
	if err != nil {
		return fail(err)
	}
	var data interface{}
	if jsonErr := json.Unmarshal([]byte(raw), &data); jsonErr != nil {
		return fail(jsonErr)
	}
	return map[string]interface{}{"success": true, "data": data}
}

func engineFor(h int) (*tinysql.Engine, error) {
	wb, err := mgr.Get(tinysql.Handle(int64(h)))
	if err != nil {
		return nil, err
	}
	eng, ok := wb.(*tinysql.Engine)
	if !ok {
		return nil, fmt.Errorf("handle %d is not a workbook", h)
	}
	return eng, nil
}

func openOptionsFromArgs(format string, delimiter string, hasHeader bool) (tinysql.Format, tinysql.OpenOptions, error) {
	f, err := tinysql.ParseWorkbookFormat(format)
	if err != nil {
		return 0, tinysql.OpenOptions{}, err
	}
	opts := tinysql.DefaultWorkbookOpenOptions()
	opts.HasHeaderRow = hasHeader
	if delimiter != "" {
		opts.Delimiter = []rune(delimiter)[0]
	}
	return f, opts, nil
}

// openWorkbook(fileName, fileContent, format, delimiter, hasHeaderRow) -> {success, handle, error}
func openWorkbook(this js.Value, args []js.Value) interface{} {
	if len(args) < 5 {
		return fail(fmt.Errorf("usage: openWorkbook(fileName, fileContent, format, delimiter, hasHeaderRow)"))
	}
	fileName, content := args[0].String(), args[1].String()
	format, opts, err := openOptionsFromArgs(args[2].String(), args[3].String(), args[4].Bool())
	if err != nil {
		return fail(err)
	}

	eng := tinysql.NewWorkbookEngine()
	data := []byte(content)
	if _, err := eng.OpenFile(context.Background(), fileName, bytes.NewReader(data), format, int64(len(data)), opts); err != nil {
		_ = eng.Close()
		return fail(err)
	}
	h, err := mgr.Open(eng)
	if err != nil {
		_ = eng.Close()
		return fail(err)
	}
	return map[string]interface{}{"success": true, "handle": int(h)}
}

// attachSource(handle, fileName, fileContent, format, delimiter, hasHeaderRow) -> {success, error}
func attachSource(this js.Value, args []js.Value) interface{} {
	if len(args) < 6 {
		return fail(fmt.Errorf("usage: attachSource(handle, fileName, fileContent, format, delimiter, hasHeaderRow)"))
	}
	eng, err := engineFor(args[0].Int())
	if err != nil {
		return fail(err)
	}
	fileName, content := args[1].String(), args[2].String()
	format, opts, err := openOptionsFromArgs(args[3].String(), args[4].String(), args[5].Bool())
	if err != nil {
		return fail(err)
	}
	data := []byte(content)
	if _, err := eng.AttachFile(context.Background(), fileName, bytes.NewReader(data), format, int64(len(data)), opts); err != nil {
		return fail(err)
	}
	return map[string]interface{}{"success": true}
}

// detachSource(handle, path) -> {success, error}
func detachSource(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return fail(fmt.Errorf("usage: detachSource(handle, path)"))
	}
	eng, err := engineFor(args[0].Int())
	if err != nil {
		return fail(err)
	}
	if err := eng.DetachSource(args[1].String()); err != nil {
		return fail(err)
	}
	return map[string]interface{}{"success": true}
}

// renameDataset(handle, oldName, newName) -> {success, error}
func renameDataset(this js.Value, args []js.Value) interface{} {
	if len(args) < 3 {
		return fail(fmt.Errorf("usage: renameDataset(handle, oldName, newName)"))
	}
	eng, err := engineFor(args[0].Int())
	if err != nil {
		return fail(err)
	}
	if err := eng.RenameDataset(args[1].String(), args[2].String()); err != nil {
		return fail(err)
	}
	return map[string]interface{}{"success": true}
}

func listDatasets(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return fail(fmt.Errorf("usage: listDatasets(handle)"))
	}
	eng, err := engineFor(args[0].Int())
	if err != nil {
		return fail(err)
	}
	return payload(eng.ListDatasets())
}

func describeDataset(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return fail(fmt.Errorf("usage: describeDataset(handle, name)"))
	}
	eng, err := engineFor(args[0].Int())
	if err != nil {
		return fail(err)
	}
	return payload(eng.DescribeDataset(args[1].String()))
}

func queryWorkbook(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return fail(fmt.Errorf("usage: queryWorkbook(handle, sql)"))
	}
	eng, err := engineFor(args[0].Int())
	if err != nil {
		return fail(err)
	}
	return payload(eng.Query(context.Background(), args[1].String()))
}

func profileDataset(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return fail(fmt.Errorf("usage: profileDataset(handle, name)"))
	}
	eng, err := engineFor(args[0].Int())
	if err != nil {
		return fail(err)
	}
	return payload(eng.ProfileDataset(args[1].String()))
}

func evaluateQualityRules(this js.Value, args []js.Value) interface{} {
	if len(args) < 3 {
		return fail(fmt.Errorf("usage: evaluateQualityRules(handle, name, rulesJson)"))
	}
	eng, err := engineFor(args[0].Int())
	if err != nil {
		return fail(err)
	}
	return payload(eng.EvaluateQualityRules(args[1].String(), args[2].String()))
}

func listDatasetSources(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return fail(fmt.Errorf("usage: listDatasetSources(handle)"))
	}
	eng, err := engineFor(args[0].Int())
	if err != nil {
		return fail(err)
	}
	return payload(eng.ListDatasetSources())
}

func getWorkbookSourcePaths(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return fail(fmt.Errorf("usage: getWorkbookSourcePaths(handle)"))
	}
	eng, err := engineFor(args[0].Int())
	if err != nil {
		return fail(err)
	}
	return payload(eng.GetWorkbookSourcePaths())
}

func getWorkbookMemoryStats(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return fail(fmt.Errorf("usage: getWorkbookMemoryStats(handle)"))
	}
	eng, err := engineFor(args[0].Int())
	if err != nil {
		return fail(err)
	}
	return payload(eng.GetWorkbookMemoryStats())
}

func listDatasetMemoryStats(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return fail(fmt.Errorf("usage: listDatasetMemoryStats(handle)"))
	}
	eng, err := engineFor(args[0].Int())
	if err != nil {
		return fail(err)
	}
	return payload(eng.ListDatasetMemoryStats())
}

func exportProjectManifest(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return fail(fmt.Errorf("usage: exportProjectManifest(handle, [projectName])"))
	}
	eng, err := engineFor(args[0].Int())
	if err != nil {
		return fail(err)
	}
	projectName := ""
	if len(args) > 1 {
		projectName = args[1].String()
	}
	return payload(eng.ExportProjectManifest(projectName))
}

// closeWorkbook(handle) -> {success, error}
func closeWorkbook(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return fail(fmt.Errorf("usage: closeWorkbook(handle)"))
	}
	if err := mgr.Close(tinysql.Handle(int64(args[0].Int()))); err != nil {
		return fail(err)
	}
	return map[string]interface{}{"success": true}
}
