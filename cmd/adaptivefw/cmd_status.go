package main

// ---------------------------------------------------------------------------
// cmd_status.go: live counters of a running instance
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"sort"

	"github.com/adaptivefw/adaptivefw/internal/core"
)

type statusResponse struct {
	Version           string            `json:"version"`
	Status            string            `json:"status"`
	Engine            core.EngineStatus `json:"engine"`
	StreamSubscribers int               `json:"stream_subscribers"`
}

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	rf := addRemoteFlags(fs, "table")
	fs.Parse(args)
	r := rf.resolve()

	body := r.get("/api/v1/status")
	w, cleanup := outputWriter(*rf.output)
	defer cleanup()

	if r.format == FormatJSON {
		fmt.Fprintln(w, string(body))
		return
	}

	var st statusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		errorf("parsing response: %v", err)
	}
	writeRows(w, r.format, []string{"FIELD", "VALUE"}, statusRows(st))
}

func statusRows(st statusResponse) [][]string {
	e := st.Engine
	rows := [][]string{
		{"version", st.Version},
		{"status", st.Status},
		{"active_rules", fmt.Sprint(e.ActiveRules)},
		{"blocked_sources", fmt.Sprint(e.BlockedSources)},
		{"last_simulation_packets", fmt.Sprint(e.LastPackets)},
		{"audit_entries", fmt.Sprint(e.AuditEntries)},
		{"storage_driver", e.StorageDriver},
		{"detector", e.Detector},
		{"bus_connected", fmt.Sprint(e.BusConnected)},
		{"cloud_provider", e.CloudProvider},
		{"stream_subscribers", fmt.Sprint(st.StreamSubscribers)},
		{"uptime_seconds", fmt.Sprintf("%.0f", e.UptimeSeconds)},
	}
	kinds := make([]string, 0, len(e.ChangeCounts))
	for k := range e.ChangeCounts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		rows = append(rows, []string{"changes." + k, fmt.Sprint(e.ChangeCounts[core.ChangeKind(k)])})
	}
	return rows
}
