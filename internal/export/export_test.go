package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/adaptivefw/adaptivefw/internal/core"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleSource() Source {
	block := core.Rule{
		SourceID:  "10.0.0.1",
		Action:    core.ActionBlock,
		Params:    core.RuleParams{core.ParamExpireMinutes: 30},
		Reason:    "large_flow",
		AppliedAt: t0,
	}
	return Source{
		Rules: []core.Rule{block},
		Audit: []core.AuditEntry{
			core.NewAuditEntry("c1", core.ChangeAdded, block, t0),
			core.NewAuditEntry("c2", core.ChangeExpired, block, t0.Add(31*time.Minute)),
		},
		Alerts: []core.Alert{
			core.NewAlert(core.KindLargeFlow, "10.0.0.1", core.SeverityHigh, t0).WithAttr("flow_size", 50000),
		},
		Flows: []core.Flow{
			{Timestamp: t0, SrcIP: "10.0.0.1", DstIP: "10.0.0.9", SrcPort: 40000, DstPort: 443, Protocol: "TCP", Packets: 12, Bytes: 1300, Duration: 2},
		},
	}
}

// ─── Parsing ────────────────────────────────────────────────────────────────

func TestParseFormatAndKind(t *testing.T) {
	if f, err := ParseFormat(""); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(\"\") = %q, %v", f, err)
	}
	if f, err := ParseFormat("CSV"); err != nil || f != FormatCSV {
		t.Errorf("ParseFormat(CSV) = %q, %v", f, err)
	}
	if _, err := ParseFormat("sarif"); err == nil {
		t.Error("expected error for sarif")
	}
	for _, k := range []string{"rules", "audit", "alerts", "traffic"} {
		if _, err := ParseKind(k); err != nil {
			t.Errorf("ParseKind(%q): %v", k, err)
		}
	}
	if _, err := ParseKind("events"); err == nil {
		t.Error("expected error for events")
	}
}

// ─── CSV ────────────────────────────────────────────────────────────────────

func TestRulesCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := RulesCSV(&buf, sampleSource().Rules); err != nil {
		t.Fatal(err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want header + 1", len(records))
	}
	if strings.Join(records[0], ",") != "source_id,action,parameters,reason,applied_at" {
		t.Errorf("header = %v", records[0])
	}
	row := records[1]
	if row[0] != "10.0.0.1" || row[1] != "block" || row[3] != "large_flow" {
		t.Errorf("row = %v", row)
	}
	if row[2] != `{"expire_minutes":30}` {
		t.Errorf("parameters = %q", row[2])
	}
	if row[4] != "2026-03-01T12:00:00Z" {
		t.Errorf("applied_at = %q", row[4])
	}
}

func TestTrafficCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := TrafficCSV(&buf, sampleSource().Flows); err != nil {
		t.Fatal(err)
	}
	records, _ := csv.NewReader(&buf).ReadAll()
	if len(records) != 2 || len(records[0]) != 9 {
		t.Fatalf("records = %v", records)
	}
	if records[1][6] != "12" || records[1][7] != "1300" {
		t.Errorf("row = %v", records[1])
	}
}

func TestEmptyCSVHasHeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, Source{}, KindAudit, FormatCSV); err != nil {
		t.Fatal(err)
	}
	records, _ := csv.NewReader(&buf).ReadAll()
	if len(records) != 1 {
		t.Errorf("records = %d, want header only", len(records))
	}
}

// ─── JSON ───────────────────────────────────────────────────────────────────

func TestRulesJSONNestsParameters(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, sampleSource(), KindRules, FormatJSON); err != nil {
		t.Fatal(err)
	}
	var rules []map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &rules); err != nil {
		t.Fatal(err)
	}
	params, ok := rules[0]["parameters"].(map[string]interface{})
	if !ok || params["expire_minutes"] != float64(30) {
		t.Errorf("parameters = %v", rules[0]["parameters"])
	}
}

func TestAuditReport(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteAuditReport(&buf, sampleSource().Audit, t0.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	var report AuditReport
	if err := json.Unmarshal(buf.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if report.Total != 2 || report.Counts[core.ChangeAdded] != 1 || report.Counts[core.ChangeExpired] != 1 {
		t.Errorf("report = %+v", report)
	}
	if report.Entries[0].CycleID != "c1" {
		t.Errorf("entries not oldest first: %+v", report.Entries)
	}
}

func TestEmptyJSONIsArray(t *testing.T) {
	for _, kind := range []Kind{KindRules, KindAlerts, KindTraffic} {
		var buf bytes.Buffer
		if err := Write(&buf, Source{}, kind, FormatJSON); err != nil {
			t.Fatal(err)
		}
		if got := strings.TrimSpace(buf.String()); got != "[]" {
			t.Errorf("%s = %q, want []", kind, got)
		}
	}
}

func TestContentType(t *testing.T) {
	if FormatCSV.ContentType() != "text/csv" || FormatJSON.ContentType() != "application/json" {
		t.Error("content types wrong")
	}
}
