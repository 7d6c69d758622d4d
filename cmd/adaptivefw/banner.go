package main

// ---------------------------------------------------------------------------
// banner.go: banner, version and usage printing
// ---------------------------------------------------------------------------

import (
	"fmt"
	"io"
	"os"
	goruntime "runtime"
	"runtime/debug"
)

func bannerText() string {
	text := `
    ┌──────────────────────────────────────────────┐
    │   adaptivefw                                 │
    │   alert-driven firewall rules with expiry    │
    └──────────────────────────────────────────────┘
`
	return cyan(text)
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "adaptivefw v%s", version)
	if commit != "dev" {
		fmt.Fprintf(w, " (%s)", commit[:min(7, len(commit))])
	}
	if buildDate != "unknown" {
		fmt.Fprintf(w, " built %s", buildDate)
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		fmt.Fprintf(w, " %s", bi.GoVersion)
	}
	fmt.Fprintf(w, " %s/%s\n", goruntime.GOOS, goruntime.GOARCH)
}

var commandHelp = map[string]string{
	"up":          "Start the engine, intake sources and API server",
	"status":      "Show live counters of a running instance",
	"simulate":    "Generate a traffic batch and run it through detection (remote or --local)",
	"cycle":       "Submit an alert batch as one intake cycle (API, --kafka or --nats)",
	"sweep":       "Run an alert-less cycle to evict expired rules",
	"rules":       "List, show, add or remove firewall rules",
	"audit":       "Show the audit log or follow it live",
	"export":      "Export rules, audit, alerts or traffic as JSON or CSV",
	"apply":       "Push active rules through the cloud apply mock",
	"logs":        "Fetch recent logs from a running instance",
	"config":      "Show, validate or initialize configuration",
	"completions": "Print a shell completion script (bash, zsh, fish)",
	"version":     "Print version and build info",
	"help":        "Show help for a command",
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, bannerText())
	fmt.Fprintf(w, "  %s\n\n", dim("v"+version))
	fmt.Fprintf(w, "%s\n\n", bold("USAGE"))
	fmt.Fprintf(w, "  adaptivefw <command> [flags]\n\n")
	fmt.Fprintf(w, "%s\n\n", bold("COMMANDS"))
	for _, c := range commands {
		fmt.Fprintf(w, "  %-11s  %s\n", bold(c), commandHelp[c])
	}
	fmt.Fprintf(w, "\n%s\n\n", bold("ENVIRONMENT VARIABLES"))
	fmt.Fprintf(w, "  %-20s  %s\n", "ADAPTIVEFW_CONFIG", "Default config file path")
	fmt.Fprintf(w, "  %-20s  %s\n", "ADAPTIVEFW_HOST", "API host override")
	fmt.Fprintf(w, "  %-20s  %s\n", "ADAPTIVEFW_PORT", "API port override")
	fmt.Fprintf(w, "  %-20s  %s\n", "ADAPTIVEFW_API_KEY", "API key for authentication")
	fmt.Fprintf(w, "\n%s\n\n", bold("EXAMPLES"))
	fmt.Fprintf(w, "  %s\n", dim("# Start with defaults (in-memory rules)"))
	fmt.Fprintf(w, "  adaptivefw up\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Simulate a DDoS against the running instance"))
	fmt.Fprintf(w, "  adaptivefw simulate --scenario ddos\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Feed alerts from a file"))
	fmt.Fprintf(w, "  adaptivefw cycle --file alerts.json\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Block a source by hand for 15 minutes"))
	fmt.Fprintf(w, "  adaptivefw rules add 203.0.113.7 --action block --expire 15\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Follow rule changes live"))
	fmt.Fprintf(w, "  adaptivefw audit --follow\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Export rules as CSV"))
	fmt.Fprintf(w, "  adaptivefw export rules --format csv --output rules.csv\n\n")
	fmt.Fprintf(w, "Run %s for detailed help on any command.\n\n", bold("adaptivefw help <command>"))
}

func cmdHelp(cmd string) {
	desc, ok := commandHelp[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, red("error: ")+"unknown command %q\n", cmd)
		if s := suggest(cmd); s != "" {
			fmt.Fprintf(os.Stderr, "       Did you mean %s?\n", bold(s))
		}
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "%s  %s\n\n", bold("adaptivefw "+cmd), desc)
	switch cmd {
	case "rules":
		fmt.Fprintln(os.Stdout, "  adaptivefw rules [list] [--action block]")
		fmt.Fprintln(os.Stdout, "  adaptivefw rules get <source>")
		fmt.Fprintln(os.Stdout, "  adaptivefw rules add <source> --action block|rate_limit|allow [--expire N] [--reason R]")
		fmt.Fprintln(os.Stdout, "  adaptivefw rules rm <source>")
	case "config":
		fmt.Fprintln(os.Stdout, "  adaptivefw config [--format yaml|json]")
		fmt.Fprintln(os.Stdout, "  adaptivefw config validate")
		fmt.Fprintln(os.Stdout, "  adaptivefw config init [--output path]")
	case "completions":
		fmt.Fprintln(os.Stdout, "  source <(adaptivefw completions bash)")
		fmt.Fprintln(os.Stdout, "  adaptivefw completions fish > ~/.config/fish/completions/adaptivefw.fish")
	case "export":
		fmt.Fprintln(os.Stdout, "  adaptivefw export rules|audit|alerts|traffic [--format json|csv] [--output file]")
	default:
		fmt.Fprintf(os.Stdout, "  adaptivefw %s [flags]\n", cmd)
	}
	fmt.Fprintf(os.Stdout, "\nRun %s to list flags.\n", bold("adaptivefw "+cmd+" -h"))
}
