package main

// ---------------------------------------------------------------------------
// cmd_apply.go: record an apply of the active rules to the cloud provider
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/adaptivefw/adaptivefw/internal/core"
)

func cmdApply(args []string) {
	fs := flag.NewFlagSet("apply", flag.ExitOnError)
	rf := addRemoteFlags(fs, "table")
	last := fs.Bool("last", false, "Show the most recent apply instead of issuing a new one")
	fs.Parse(args)
	r := rf.resolve()

	var body []byte
	if *last {
		body = r.get("/api/v1/cloud/last")
	} else {
		body = r.post("/api/v1/cloud/apply", []byte("{}"))
	}

	w, cleanup := outputWriter(*rf.output)
	defer cleanup()
	if r.format == FormatJSON {
		fmt.Fprintln(w, string(body))
		return
	}

	var rec core.CloudApplyRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		errorf("parsing response: %v", err)
	}
	if r.format == FormatTable {
		fmt.Fprintf(w, "%s %s to %s: %s, %d rule(s) at %s\n",
			green("✓"), rec.Action, rec.Provider, rec.Status, len(rec.Rules), rec.Time.UTC().Format(time.RFC3339))
		if len(rec.Rules) == 0 {
			return
		}
	}
	writeRows(w, r.format, ruleHeaders, ruleRows(rec.Rules))
}
