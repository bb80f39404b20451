// Command uhost-log views and analyzes gateway protocol trace files.
//
// Trace files are written by uhost when trace.file (or UHOST_TRACE_FILE) is
// set.
//
// Usage:
//
//	uhost-log <command> [flags] <file.ulog>
//
// Commands:
//
//	view     View trace file in human-readable format
//	export   Export trace file to JSON lines or CSV
//	stats    Show statistics about the trace file
//
// Examples:
//
//	# View all events
//	uhost-log view uhost.ulog
//
//	# Follow one device through its handshake
//	uhost-log view -device 0a0b0c0d0e0f101112131415 uhost.ulog
//
//	# Show only dropped messages
//	uhost-log view -category error uhost.ulog
//
//	# Show statistics
//	uhost-log stats uhost.ulog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/connax-utim/uhost-go/cmd/uhost-log/commands"
)

const usage = `uhost-log - Utim Host Trace Analyzer

Usage:
  uhost-log <command> [flags] <file.ulog>

Commands:
  view     View trace file in human-readable format
  export   Export trace file to JSON lines or CSV
  stats    Show statistics about the trace file

Use "uhost-log <command> -help" for more information about a command.
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

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// pathArg parses args with fs and returns the single trace file argument.
func pathArg(fs *flag.FlagSet, args []string) string {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: trace file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `uhost-log view - View trace file in human-readable format

Usage:
  uhost-log view [flags] <file.ulog>

Flags:
`)
		fs.PrintDefaults()
	}

	var opts commands.ViewOptions
	fs.StringVar(&opts.Layer, "layer", "", "Filter by layer (transport, envelope, dispatch, lifecycle)")
	fs.StringVar(&opts.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&opts.Category, "category", "", "Filter by category (message, control, state, error)")
	fs.StringVar(&opts.DeviceID, "device", "", "Filter by device id")
	fs.StringVar(&opts.TraceID, "trace", "", "Filter by trace id")
	fs.StringVar(&opts.Command, "command", "", "Filter by command name, e.g. HELLO")

	path := pathArg(fs, args)
	if err := commands.RunView(path, opts, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `uhost-log export - Export trace file to JSON lines or CSV

Usage:
  uhost-log export [flags] <file.ulog>

Flags:
`)
		fs.PrintDefaults()
	}

	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")

	path := pathArg(fs, args)
	if err := commands.RunExport(path, *format, *output); err != nil {
		fail(err)
	}
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `uhost-log stats - Show statistics about the trace file

Usage:
  uhost-log stats <file.ulog>

`)
	}

	path := pathArg(fs, args)
	if err := commands.RunStats(path, os.Stdout); err != nil {
		fail(err)
	}
}
