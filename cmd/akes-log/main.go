// Command akes-log reads the CBOR protocol logs that akes-node and
// akes-controller write with -protocol-log.
//
//	akes-log view [filters] node.cbor        human-readable events
//	akes-log view -entity revocation node.cbor
//	akes-log export [filters] -o out.jsonl node.cbor
//	akes-log stats node.cbor
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/akes-protocol/akes-go/cmd/akes-log/commands"
	"github.com/akes-protocol/akes-go/pkg/log"
)

type command struct {
	summary string
	filters bool
	run     func(fs *flag.FlagSet) func(path string, filter log.Filter, w io.Writer) error
}

var commandList = []string{"view", "export", "stats"}

var commandTable = map[string]command{
	"view": {
		summary: "print events in human-readable form",
		filters: true,
		run: func(*flag.FlagSet) func(string, log.Filter, io.Writer) error {
			return commands.RunView
		},
	},
	"export": {
		summary: "write events as JSON lines",
		filters: true,
		run: func(fs *flag.FlagSet) func(string, log.Filter, io.Writer) error {
			output := fs.String("o", "", "output file (default stdout)")
			return func(path string, filter log.Filter, w io.Writer) error {
				return commands.RunExport(path, filter, *output, w)
			}
		},
	},
	"stats": {
		summary: "summarize exchanges, statuses and errors",
		run: func(*flag.FlagSet) func(string, log.Filter, io.Writer) error {
			return func(path string, _ log.Filter, w io.Writer) error {
				return commands.RunStats(path, w)
			}
		},
	},
}

func usage(w io.Writer) {
	fmt.Fprint(w, "Usage: akes-log <command> [flags] <file.cbor>\n\nCommands:\n")
	for _, name := range commandList {
		fmt.Fprintf(w, "  %-8s %s\n", name, commandTable[name].summary)
	}
	fmt.Fprint(w, "\nRun \"akes-log <command> -help\" for the flags of a command.\n")
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}
	switch args[0] {
	case "help", "-h", "-help", "--help":
		usage(stdout)
		return 0
	}

	cmd, ok := commandTable[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "akes-log: unknown command %q\n\n", args[0])
		usage(stderr)
		return 2
	}

	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts commands.FilterOptions
	if cmd.filters {
		opts.Register(fs)
	}
	runner := cmd.run(fs)
	if err := fs.Parse(args[1:]); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "akes-log: exactly one log file expected")
		return 2
	}

	filter, err := opts.Filter()
	if err == nil {
		err = runner(fs.Arg(0), filter, stdout)
	}
	if err != nil {
		fmt.Fprintf(stderr, "akes-log: %v\n", err)
		return 1
	}
	return 0
}
