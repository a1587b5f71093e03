// Command enrichd enriches rows of contact and company data from the
// command line: a single row from inline JSON, or a batch from a JSONL
// file. Configuration comes from the environment (see pkg/config).
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rowforge/enrich/pkg/config"
	"github.com/rowforge/enrich/pkg/engine"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}
	switch args[1] {
	case "row":
		return runRow(args[2:], stdout, stderr)
	case "batch":
		return runBatch(args[2:], stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, "enrichd", version)
		return 0
	default:
		usage(stderr)
		return 2
	}
}

var version = "dev"

func usage(w io.Writer) {
	fmt.Fprintln(w, `usage:
  enrichd row   -fields <f1,f2,...> -data '<json object>' [-table id] [-row id]
  enrichd batch -fields <f1,f2,...> -input <rows.jsonl> [-table id]
  enrichd version`)
}

func runRow(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("row", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fields := fs.String("fields", "", "comma-separated fields to enrich")
	data := fs.String("data", "", "row columns as a JSON object")
	tableID := fs.String("table", "cli", "table id for provenance")
	rowID := fs.String("row", "row-1", "row id for provenance")
	budget := fs.Int64("budget", 0, "row budget in cents (0 = config default)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	raw, err := parseRow(*data)
	if err != nil {
		fmt.Fprintln(stderr, "invalid -data:", err)
		return 2
	}
	wanted := parseFields(*fields)
	if len(wanted) == 0 {
		fmt.Fprintln(stderr, "missing -fields")
		return 2
	}

	ctx, eng, closeEngine, code := setup(stderr)
	if code != 0 {
		return code
	}
	defer closeEngine()

	res, err := eng.Enrich(ctx, *tableID, *rowID, raw, wanted, engine.Options{BudgetCents: *budget})
	if err != nil {
		fmt.Fprintln(stderr, "enrich:", err)
		return 1
	}
	return emit(stdout, stderr, res)
}

func runBatch(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fields := fs.String("fields", "", "comma-separated fields to enrich")
	input := fs.String("input", "", "JSONL file of row objects (- for stdin)")
	tableID := fs.String("table", "cli", "table id for provenance")
	budget := fs.Int64("budget", 0, "per-row budget in cents (0 = config default)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	wanted := parseFields(*fields)
	if len(wanted) == 0 {
		fmt.Fprintln(stderr, "missing -fields")
		return 2
	}

	var src io.Reader = os.Stdin
	if *input != "" && *input != "-" {
		f, err := os.Open(*input)
		if err != nil {
			fmt.Fprintln(stderr, "open input:", err)
			return 2
		}
		defer func() { _ = f.Close() }()
		src = f
	}
	rows, err := readRows(src, wanted)
	if err != nil {
		fmt.Fprintln(stderr, "read input:", err)
		return 2
	}
	if len(rows) == 0 {
		fmt.Fprintln(stderr, "no rows in input")
		return 2
	}

	ctx, eng, closeEngine, code := setup(stderr)
	if code != 0 {
		return code
	}
	defer closeEngine()

	out, err := eng.EnrichBatch(ctx, *tableID, rows, engine.Options{BudgetCents: *budget})
	if err != nil {
		fmt.Fprintln(stderr, "batch interrupted:", err)
	}

	enc := json.NewEncoder(stdout)
	for _, row := range rows {
		if res, ok := out[row.RowID]; ok {
			if encErr := enc.Encode(res); encErr != nil {
				fmt.Fprintln(stderr, "write result:", encErr)
				return 1
			}
		}
	}
	if err != nil {
		return 1
	}
	return 0
}

func setup(stderr io.Writer) (context.Context, *engine.Engine, func(), int) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return nil, nil, nil, 2
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))

	eng, closeEngine, err := engine.FromConfig(cfg, logger)
	if err != nil {
		fmt.Fprintln(stderr, "assemble engine:", err)
		return nil, nil, nil, 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	closeAll := func() {
		stop()
		closeEngine()
	}
	return ctx, eng, closeAll, 0
}

func logLevel(name string) slog.Level {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseFields(raw string) []string {
	var out []string
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func parseRow(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("empty object")
	}
	var row map[string]any
	if err := json.Unmarshal([]byte(raw), &row); err != nil {
		return nil, err
	}
	return row, nil
}

// readRows parses one JSON object per line. A "_row_id" key names the
// row; otherwise rows are numbered in file order.
func readRows(r io.Reader, fields []string) ([]engine.RowRequest, error) {
	var rows []engine.RowRequest
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var raw map[string]any
		if err := json.Unmarshal([]byte(text), &raw); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rowID := fmt.Sprintf("row-%d", len(rows)+1)
		if id, ok := raw["_row_id"].(string); ok && id != "" {
			rowID = id
			delete(raw, "_row_id")
		}
		rows = append(rows, engine.RowRequest{RowID: rowID, Raw: raw, Fields: fields})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

func emit(stdout, stderr io.Writer, res *engine.Result) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fmt.Fprintln(stderr, "write result:", err)
		return 1
	}
	if res.Status == engine.StatusFailed {
		return 1
	}
	return 0
}
