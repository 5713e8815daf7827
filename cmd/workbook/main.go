// Command workbook is the native CLI host for the workbook engine: it
// opens a base file, optionally attaches more, runs a single operation
// against the resulting workbook, and prints the operation's JSON payload
// to stdout. Grounded on cmd/query_files's flag-based Config struct and
// usage-example style, generalized from "load files, run one SQL query"
// to "open a workbook, run one of the engine's named operations" so the
// same workbook.EngineContext and handle.Manager the cgo ABI surface uses
// is exercised from the command line too. Built as its own Go module (see
// go.mod), it reaches the engine through the root tinysql package's
// workbook SDK rather than importing internal/workbook or internal/handle
// directly, since those are not importable outside the main module's
// import-path tree.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	tinysql "github.com/r7-consult/wasm-sqlite-database"
)

// stringList collects repeated -attach flags in order.
type stringList []string

func (s *stringList) String() string     { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

// Config mirrors cmd/query_files's flat flag.Var-populated struct.
type Config struct {
	Base         string
	Attach       stringList
	Op           string
	Name         string
	SQL          string
	RulesJSON    string
	OldName      string
	NewName      string
	DetachPath   string
	ProjectName  string
	Format       string
	Delimiter    string
	HasHeaderRow bool
	Verbose      bool
}

func parseFlags() Config {
	var config Config

	flag.StringVar(&config.Base, "base", "", "base file to open (required)")
	flag.Var(&config.Attach, "attach", "additional file to attach (repeatable)")
	flag.StringVar(&config.Op, "op", "list", "operation: list, describe, query, profile, quality, sources, paths, stats, dataset-stats, rename, detach, export-manifest")
	flag.StringVar(&config.Name, "name", "", "dataset name, for describe/profile/quality")
	flag.StringVar(&config.SQL, "sql", "", "SQL text, for -op query")
	flag.StringVar(&config.RulesJSON, "rules", "", "JSON array of quality rules, for -op quality")
	flag.StringVar(&config.OldName, "old", "", "current dataset name, for -op rename")
	flag.StringVar(&config.NewName, "new", "", "new dataset name, for -op rename")
	flag.StringVar(&config.DetachPath, "detach-path", "", "source path to detach, for -op detach")
	flag.StringVar(&config.ProjectName, "project", "", "project name, for -op export-manifest")
	flag.StringVar(&config.Format, "format", "auto", "declared format for -base and -attach (auto, csv, tsv, json, jsonl, xlsx, ...)")
	flag.StringVar(&config.Delimiter, "delimiter", "", "field delimiter override for delimited formats")
	flag.BoolVar(&config.HasHeaderRow, "header", true, "treat the first row as a header row")
	flag.BoolVar(&config.Verbose, "verbose", false, "log engine activity to stderr")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "workbook: open a spreadsheet/CSV/JSON workbook and run one engine operation\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n  %s -base FILE [-attach FILE ...] -op OPERATION [operation flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  %s -base sales.csv -op list\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -base sales.csv -attach regions.csv -op query -sql \"SELECT * FROM sales LIMIT 10\"\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -base book.xlsx -op profile -name book__sheet1\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -base sales.csv -op export-manifest -project q3-report\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()
	return config
}

func main() {
	config := parseFlags()
	if config.Base == "" {
		fmt.Fprintln(os.Stderr, "Error: -base is required")
		flag.Usage()
		os.Exit(1)
	}

	payload, err := run(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(payload)
}

func openOptions(config Config) tinysql.OpenOptions {
	opts := tinysql.DefaultWorkbookOpenOptions()
	opts.HasHeaderRow = config.HasHeaderRow
	if config.Delimiter != "" {
		opts.Delimiter = []rune(config.Delimiter)[0]
	}
	return opts
}

func openPath(ctx context.Context, eng *tinysql.Engine, path string, config Config, isBase bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %q: %w", path, err)
	}
	format, err := tinysql.ParseWorkbookFormat(config.Format)
	if err != nil {
		return err
	}
	opts := openOptions(config)
	if config.Verbose {
		fmt.Fprintf(os.Stderr, "opening %s (format=%s)...\n", path, format)
	}
	if isBase {
		_, err = eng.OpenFile(ctx, path, f, format, info.Size(), opts)
	} else {
		_, err = eng.AttachFile(ctx, path, f, format, info.Size(), opts)
	}
	return err
}

// run builds the workbook, routes it through a HandleManager exactly like
// the ABI surface does, executes the requested operation, and returns its
// JSON payload.
func run(config Config) (string, error) {
	ctx := context.Background()
	eng := tinysql.NewWorkbookEngine()

	if err := openPath(ctx, eng, config.Base, config, true); err != nil {
		_ = eng.Close()
		return "", err
	}
	for _, path := range config.Attach {
		if err := openPath(ctx, eng, path, config, false); err != nil {
			_ = eng.Close()
			return "", err
		}
	}

	mgr := tinysql.NewDefaultHandleManager()
	h, err := mgr.Open(eng)
	if err != nil {
		_ = eng.Close()
		return "", err
	}
	defer mgr.Close(h)

	if config.Verbose {
		fmt.Fprintf(os.Stderr, "running -op %s on handle %d\n", config.Op, h)
	}

	switch config.Op {
	case "list":
		return eng.ListDatasets()
	case "describe":
		return eng.DescribeDataset(config.Name)
	case "query":
		return eng.Query(ctx, config.SQL)
	case "profile":
		return eng.ProfileDataset(config.Name)
	case "quality":
		return eng.EvaluateQualityRules(config.Name, config.RulesJSON)
	case "sources":
		return eng.ListDatasetSources()
	case "paths":
		return eng.GetWorkbookSourcePaths()
	case "stats":
		return eng.GetWorkbookMemoryStats()
	case "dataset-stats":
		return eng.ListDatasetMemoryStats()
	case "rename":
		if err := eng.RenameDataset(config.OldName, config.NewName); err != nil {
			return "", err
		}
		return eng.ListDatasets()
	case "detach":
		if err := eng.DetachSource(config.DetachPath); err != nil {
			return "", err
		}
		return eng.ListDatasets()
	case "export-manifest":
		return eng.ExportProjectManifest(config.ProjectName)
	default:
		return "", fmt.Errorf("unrecognized -op %q", config.Op)
	}
}
