// Command scanbridge-trace is a tool for viewing and analyzing scanbridge
// protocol trace files.
//
// Trace files are created when running scanbridge or scanbridge-worker
// with the -trace flag.
//
// Usage:
//
//	scanbridge-trace <command> [flags] <file.trace>
//
// Commands:
//
//	view     View trace file in human-readable format
//	export   Export trace file to JSON or CSV format
//	filter   Filter trace file and write to new file
//	stats    Show statistics about the trace file
//
// Examples:
//
//	# View all events
//	scanbridge-trace view session.trace
//
//	# View only native library calls
//	scanbridge-trace view -layer native session.trace
//
//	# Export to JSONL
//	scanbridge-trace export -format jsonl session.trace
//
//	# Filter by worker channel and save to new file
//	scanbridge-trace filter -conn-id abc12345 -o filtered.trace session.trace
//
//	# Show statistics
//	scanbridge-trace stats session.trace
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/scanbridge-protocol/scanbridge-go/cmd/scanbridge-trace/commands"
)

const usage = `scanbridge-trace - Scan Protocol Trace Analyzer

Usage:
  scanbridge-trace <command> [flags] <file.trace>

Commands:
  view     View trace file in human-readable format
  export   Export trace file to JSON or CSV format
  filter   Filter trace file and write to new file
  stats    Show statistics about the trace file

Use "scanbridge-trace <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `scanbridge-trace view - View trace file in human-readable format

Usage:
  scanbridge-trace view [flags] <file.trace>

Flags:
`)
		fs.PrintDefaults()
	}

	layer := fs.String("layer", "", "Filter by layer (native, scan, transport, worker)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, native, state, property, error)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: trace file path required")
		fs.Usage()
		os.Exit(1)
	}

	path := fs.Arg(0)

	var filter commands.ViewFilter

	if *layer != "" {
		l, err := commands.ParseLayerFlag(*layer)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		filter.Layer = &l
	}

	if *direction != "" {
		d, err := commands.ParseDirectionFlag(*direction)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		filter.Direction = &d
	}

	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		filter.Category = &c
	}

	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `scanbridge-trace export - Export trace file to JSON or CSV format

Usage:
  scanbridge-trace export [flags] <file.trace>

Flags:
`)
		fs.PrintDefaults()
	}

	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: trace file path required")
		fs.Usage()
		os.Exit(1)
	}

	path := fs.Arg(0)

	if err := commands.RunExport(path, *format, *output); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runFilter(args []string) {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `scanbridge-trace filter - Filter trace file and write to new file

Usage:
  scanbridge-trace filter [flags] <file.trace>

Flags:
`)
		fs.PrintDefaults()
	}

	output := fs.String("o", "", "Output file (required)")
	connID := fs.String("conn-id", "", "Filter by worker channel ID")
	deviceID := fs.String("device-id", "", "Filter by device ID")
	profile := fs.String("worker-profile", "", "Filter by worker execution profile name")
	timeStart := fs.String("time-start", "", "Filter by start time (RFC3339)")
	timeEnd := fs.String("time-end", "", "Filter by end time (RFC3339)")
	layer := fs.String("layer", "", "Filter by layer (native, scan, transport, worker)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, native, state, property, error)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: trace file path required")
		fs.Usage()
		os.Exit(1)
	}

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	path := fs.Arg(0)

	opts := commands.FilterOptions{
		Output:        *output,
		ConnID:        *connID,
		DeviceID:      *deviceID,
		WorkerProfile: *profile,
		TimeStart:     *timeStart,
		TimeEnd:       *timeEnd,
		Layer:         *layer,
		Direction:     *direction,
		Category:      *category,
	}

	if err := commands.RunFilter(path, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `scanbridge-trace stats - Show statistics about the trace file

Usage:
  scanbridge-trace stats <file.trace>

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: trace file path required")
		fs.Usage()
		os.Exit(1)
	}

	path := fs.Arg(0)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
