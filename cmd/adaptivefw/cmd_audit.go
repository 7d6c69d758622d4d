package main

// ---------------------------------------------------------------------------
// cmd_audit.go: audit history, optionally followed live over websocket
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/adaptivefw/adaptivefw/internal/core"
	"github.com/gorilla/websocket"
)

type auditResponse struct {
	Entries []core.AuditEntry       `json:"entries"`
	Total   int                     `json:"total"`
	Counts  map[core.ChangeKind]int `json:"counts"`
}

func cmdAudit(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	rf := addRemoteFlags(fs, "table")
	limit := fs.Int("limit", 20, "Number of entries (newest first)")
	follow := fs.Bool("follow", false, "Stream new entries as cycles commit")
	fs.BoolVar(follow, "f", false, "Shorthand for --follow")
	fs.Parse(args)
	r := rf.resolve()

	if *follow {
		followAudit(r)
		return
	}

	body := r.get(fmt.Sprintf("/api/v1/audit?limit=%d", *limit))
	w, cleanup := outputWriter(*rf.output)
	defer cleanup()
	if r.format == FormatJSON {
		fmt.Fprintln(w, string(body))
		return
	}

	var resp auditResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		errorf("parsing response: %v", err)
	}
	writeRows(w, r.format, auditHeaders, auditRows(resp.Entries))
	if r.format == FormatTable {
		fmt.Fprintf(w, "%s %d of %d entries  %s\n", dim("▸"), len(resp.Entries), resp.Total, formatCounts(resp.Counts))
	}
}

func formatCounts(counts map[core.ChangeKind]int) string {
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[core.ChangeKind(k)]))
	}
	return strings.Join(parts, " ")
}

// streamURL maps the HTTP API base onto the websocket endpoint.
func streamURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/api/v1/audit/stream"
}

func followAudit(r remote) {
	header := http.Header{}
	if r.apiKey != "" {
		header.Set("Authorization", "Bearer "+r.apiKey)
	}
	dialer := websocket.Dialer{HandshakeTimeout: r.timeout}
	conn, resp, err := dialer.Dial(streamURL(r.base), header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			errorf("authentication failed (HTTP %d): provide --api-key or set ADAPTIVEFW_API_KEY", resp.StatusCode)
		}
		errorf("connecting to audit stream: %v", err)
	}
	defer conn.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	fmt.Fprintf(os.Stderr, "%s Following audit log (Ctrl+C to stop)\n", dim("▸"))
	for {
		var entries []core.AuditEntry
		if err := conn.ReadJSON(&entries); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			if strings.Contains(err.Error(), "use of closed network connection") {
				return
			}
			errorf("reading audit stream: %v", err)
		}
		for _, e := range entries {
			printStreamEntry(r.format, e)
		}
	}
}

func printStreamEntry(f OutputFormat, e core.AuditEntry) {
	if f == FormatJSON {
		data, _ := json.Marshal(e)
		fmt.Println(string(data))
		return
	}
	row := auditRows([]core.AuditEntry{e})[0]
	if f == FormatCSV {
		fmt.Println(strings.Join(row, ","))
		return
	}
	fmt.Printf("%s  %-8s %-18s %-10s %s\n", dim(row[0]), row[1], row[2], row[3], dim(row[4]))
}
