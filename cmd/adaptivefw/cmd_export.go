package main

// ---------------------------------------------------------------------------
// cmd_export.go: download rules, audit, alerts or traffic as JSON/CSV
// ---------------------------------------------------------------------------

import (
	"flag"
	"fmt"
	"os"

	"github.com/adaptivefw/adaptivefw/internal/export"
)

func cmdExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	rf := addRemoteFlags(fs, "json")
	kind := "rules"
	if pos := parseArgs(fs, args); len(pos) > 0 {
		kind = pos[0]
	}

	k, err := export.ParseKind(kind)
	if err != nil {
		errorf("%v", err)
	}
	format, err := export.ParseFormat(*rf.format)
	if err != nil {
		errorf("%v", err)
	}
	r := rf.resolve()
	body := r.get(fmt.Sprintf("/api/v1/export/%s?format=%s", k, format))

	w, cleanup := outputWriter(*rf.output)
	defer cleanup()
	w.Write(body)
	if *rf.output != "" && *rf.output != "-" {
		fmt.Fprintf(os.Stderr, "%s Wrote %s %s to %s (%d bytes)\n", green("✓"), k, format, *rf.output, len(body))
	}
}
