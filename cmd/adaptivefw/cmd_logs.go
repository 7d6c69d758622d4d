package main

// ---------------------------------------------------------------------------
// cmd_logs.go: recent log lines from the running instance
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/adaptivefw/adaptivefw/internal/core"
)

func cmdLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	rf := addRemoteFlags(fs, "table")
	limit := fs.Int("limit", 50, "Number of log lines")
	level := fs.String("level", "", "Only show lines at this level")
	fs.Parse(args)
	r := rf.resolve()

	body := r.get(fmt.Sprintf("/api/v1/logs?limit=%d", *limit))
	w, cleanup := outputWriter(*rf.output)
	defer cleanup()
	if r.format == FormatJSON && *level == "" {
		fmt.Fprintln(w, string(body))
		return
	}

	var resp struct {
		Logs []core.LogEntry `json:"logs"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		errorf("parsing response: %v", err)
	}
	logs := filterLogs(resp.Logs, *level)

	switch r.format {
	case FormatJSON:
		printJSON(w, logs)
	case FormatCSV:
		writeCSV(w, []string{"TIME", "LEVEL", "COMPONENT", "MESSAGE"}, logRows(logs))
	default:
		for _, e := range logs {
			fmt.Fprintf(w, "%s %s %s %s\n", dim(e.Timestamp.Format(time.TimeOnly)), levelTag(e.Level), dim(e.Component), e.Message)
		}
	}
}

func filterLogs(logs []core.LogEntry, level string) []core.LogEntry {
	if level == "" {
		return logs
	}
	var out []core.LogEntry
	for _, e := range logs {
		if strings.EqualFold(e.Level, level) {
			out = append(out, e)
		}
	}
	return out
}

func logRows(logs []core.LogEntry) [][]string {
	rows := make([][]string, 0, len(logs))
	for _, e := range logs {
		rows = append(rows, []string{e.Timestamp.UTC().Format(time.RFC3339), e.Level, e.Component, e.Message})
	}
	return rows
}

func levelTag(level string) string {
	tag := fmt.Sprintf("%-5s", strings.ToUpper(level))
	switch strings.ToLower(level) {
	case "error", "fatal", "panic":
		return red(tag)
	case "warn":
		return yellow(tag)
	case "debug", "trace":
		return dim(tag)
	default:
		return green(tag)
	}
}
