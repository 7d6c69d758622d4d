package main

// ---------------------------------------------------------------------------
// main.go: command dispatcher for the adaptivefw CLI
//
// Command implementations live in cmd_*.go. Shared helpers are in
// helpers.go, http.go, output.go and banner.go.
// ---------------------------------------------------------------------------

import (
	"fmt"
	"os"
)

var (
	version   = "0.3.0"
	commit    = "dev"
	buildDate = "unknown"
)

var commands = []string{"up", "status", "simulate", "cycle", "sweep", "rules", "audit",
	"export", "apply", "logs", "config", "completions", "version", "help"}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(0)
	}

	switch os.Args[1] {
	case "--version", "-V", "version":
		printVersion(os.Stdout)
		os.Exit(0)
	case "--help", "-h", "help":
		if len(os.Args) >= 3 {
			cmdHelp(os.Args[2])
		} else {
			printUsage(os.Stdout)
		}
		os.Exit(0)
	}

	subcmd := os.Args[1]
	args := os.Args[2:]

	switch subcmd {
	case "up":
		cmdUp(args)
	case "status":
		cmdStatus(args)
	case "simulate":
		cmdSimulate(args)
	case "cycle":
		cmdCycle(args)
	case "sweep":
		cmdSweep(args)
	case "rules":
		cmdRules(args)
	case "audit":
		cmdAudit(args)
	case "export":
		cmdExport(args)
	case "apply":
		cmdApply(args)
	case "logs":
		cmdLogs(args)
	case "config":
		cmdConfig(args)
	case "completions":
		cmdCompletions(args)
	default:
		fmt.Fprintf(os.Stderr, red("error: ")+"unknown command %q\n\n", subcmd)
		if s := suggest(subcmd); s != "" {
			fmt.Fprintf(os.Stderr, "       Did you mean %s?\n\n", bold(s))
		}
		printUsage(os.Stderr)
		os.Exit(1)
	}
}
