package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/adaptivefw/adaptivefw/internal/core"
)

// ─── Suggest ────────────────────────────────────────────────────────────────

func TestSuggest(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"rule", "rules"},
		{"stauts", ""},
		{"sweap", "sweep"},
		{"audi", "audit"},
		{"xyz", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := suggest(tt.input); got != tt.want {
			t.Errorf("suggest(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

// ─── Env overrides ──────────────────────────────────────────────────────────

func TestEnvConfig(t *testing.T) {
	t.Setenv("ADAPTIVEFW_CONFIG", "/etc/adaptivefw.yaml")
	if got := envConfig(defaultConfigPath); got != "/etc/adaptivefw.yaml" {
		t.Errorf("envConfig(default) = %q, want env value", got)
	}
	if got := envConfig("custom.yaml"); got != "custom.yaml" {
		t.Errorf("envConfig(flag) = %q, want flag value", got)
	}
}

func TestEnvPort(t *testing.T) {
	t.Setenv("ADAPTIVEFW_PORT", "9000")
	if got := envPort(0); got != 9000 {
		t.Errorf("envPort(0) = %d, want 9000", got)
	}
	if got := envPort(8080); got != 8080 {
		t.Errorf("envPort(8080) = %d, want flag value", got)
	}
	t.Setenv("ADAPTIVEFW_PORT", "not-a-port")
	if got := envPort(0); got != 0 {
		t.Errorf("envPort with bad env = %d, want 0", got)
	}
}

func TestAPIBase(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "none.yaml")
	if got := apiBase(missing, "", 0); got != "http://127.0.0.1:1790" {
		t.Errorf("apiBase(defaults) = %q", got)
	}

	path := filepath.Join(t.TempDir(), "cfg.yaml")
	os.WriteFile(path, []byte("server:\n  host: 10.1.1.1\n  port: 9999\n"), 0o644)
	if got := apiBase(path, "", 0); got != "http://10.1.1.1:9999" {
		t.Errorf("apiBase(file) = %q", got)
	}
	if got := apiBase(path, "example.org", 80); got != "http://example.org:80" {
		t.Errorf("apiBase(overrides) = %q", got)
	}
}

func TestResolveAPIKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	os.WriteFile(path, []byte("server:\n  api_keys: [from-file]\n"), 0o644)

	t.Setenv("ADAPTIVEFW_API_KEY", "")
	if got := resolveAPIKey("", path); got != "from-file" {
		t.Errorf("resolveAPIKey(config) = %q", got)
	}
	t.Setenv("ADAPTIVEFW_API_KEY", "from-env")
	if got := resolveAPIKey("", path); got != "from-env" {
		t.Errorf("resolveAPIKey(env) = %q", got)
	}
	if got := resolveAPIKey("from-flag", path); got != "from-flag" {
		t.Errorf("resolveAPIKey(flag) = %q", got)
	}
}

// ─── Flag parsing ───────────────────────────────────────────────────────────

func TestParseArgs_Interspersed(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	action := fs.String("action", "block", "")
	expire := fs.Int("expire", 30, "")

	pos := parseArgs(fs, []string{"203.0.113.7", "--action", "rate_limit", "--expire", "15"})
	if len(pos) != 1 || pos[0] != "203.0.113.7" {
		t.Errorf("positionals = %v", pos)
	}
	if *action != "rate_limit" || *expire != 15 {
		t.Errorf("flags = %q/%d, want rate_limit/15", *action, *expire)
	}
}

func TestStreamURL(t *testing.T) {
	if got := streamURL("http://127.0.0.1:1790"); got != "ws://127.0.0.1:1790/api/v1/audit/stream" {
		t.Errorf("streamURL(http) = %q", got)
	}
	if got := streamURL("https://fw.example.org"); got != "wss://fw.example.org/api/v1/audit/stream" {
		t.Errorf("streamURL(https) = %q", got)
	}
}

// ─── Output ─────────────────────────────────────────────────────────────────

func TestParseFormat(t *testing.T) {
	tests := map[string]OutputFormat{
		"json":  FormatJSON,
		"CSV":   FormatCSV,
		"table": FormatTable,
		"":      FormatTable,
		"yaml":  FormatTable,
	}
	for in, want := range tests {
		if got := parseFormat(in); got != want {
			t.Errorf("parseFormat(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestTable_Render(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTable(&buf, "SOURCE", "ACTION")
	tbl.AddRow("10.0.0.1", "block")
	tbl.AddRow("192.168.100.200", "rate_limit", "ignored")
	tbl.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 6 {
		t.Fatalf("rendered %d lines, want 6:\n%s", len(lines), buf.String())
	}
	width := len([]rune(lines[0]))
	for i, l := range lines {
		if n := len([]rune(l)); n != width {
			t.Errorf("line %d width = %d, want %d", i, n, width)
		}
	}
	if strings.Contains(buf.String(), "ignored") {
		t.Error("extra cells should be dropped")
	}
}

func TestWriteRows_CSV(t *testing.T) {
	rule := core.Rule{
		SourceID:  "10.0.0.1",
		Action:    core.ActionBlock,
		Params:    core.RuleParams{core.ParamExpireMinutes: 30},
		Reason:    "large_flow",
		AppliedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	var buf bytes.Buffer
	writeRows(&buf, FormatCSV, ruleHeaders, ruleRows([]core.Rule{rule}))

	want := "SOURCE,ACTION,EXPIRES (MIN),REASON,APPLIED AT\n10.0.0.1,block,30,large_flow,2026-03-01T12:00:00Z\n"
	if buf.String() != want {
		t.Errorf("csv =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789abcdef"); got != "01234567" {
		t.Errorf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID(short) = %q", got)
	}
}

func TestFilterLogs(t *testing.T) {
	logs := []core.LogEntry{
		{Level: "info", Message: "a"},
		{Level: "error", Message: "b"},
		{Level: "INFO", Message: "c"},
	}
	if got := filterLogs(logs, ""); len(got) != 3 {
		t.Errorf("no filter kept %d", len(got))
	}
	got := filterLogs(logs, "info")
	if len(got) != 2 || got[1].Message != "c" {
		t.Errorf("info filter = %+v", got)
	}
}

func TestFormatCounts(t *testing.T) {
	got := formatCounts(map[core.ChangeKind]int{core.ChangeExpired: 1, core.ChangeAdded: 3})
	if got != "added=3 expired=1" {
		t.Errorf("formatCounts = %q", got)
	}
}
