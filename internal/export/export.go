// Package export renders rules, audit entries, alerts and traffic batches as
// JSON or CSV.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/adaptivefw/adaptivefw/internal/core"
)

// Format is an output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Kind names an exportable dataset.
type Kind string

const (
	KindRules   Kind = "rules"
	KindAudit   Kind = "audit"
	KindAlerts  Kind = "alerts"
	KindTraffic Kind = "traffic"
)

// ParseFormat defaults to JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unknown export format %q (json, csv)", s)
	}
}

// ParseKind validates an export kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindRules, KindAudit, KindAlerts, KindTraffic:
		return k, nil
	default:
		return "", fmt.Errorf("unknown export kind %q (rules, audit, alerts, traffic)", s)
	}
}

// ContentType returns the HTTP content type for f.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

// Source holds the datasets to export.
type Source struct {
	Rules  []core.Rule
	Audit  []core.AuditEntry
	Alerts []core.Alert
	Flows  []core.Flow
}

// FromEngine captures the engine's current datasets.
func FromEngine(e *core.Engine) Source {
	return Source{
		Rules:  e.Manager.Rules(),
		Audit:  e.Manager.Audit().All(),
		Alerts: e.LastAlerts(),
		Flows:  e.LastFlows(),
	}
}

// Write renders one dataset of src to w.
func Write(w io.Writer, src Source, kind Kind, format Format) error {
	switch kind {
	case KindRules:
		if format == FormatCSV {
			return RulesCSV(w, src.Rules)
		}
		return writeJSON(w, nonNil(src.Rules))
	case KindAudit:
		if format == FormatCSV {
			return AuditCSV(w, src.Audit)
		}
		return WriteAuditReport(w, src.Audit, time.Now().UTC())
	case KindAlerts:
		if format == FormatCSV {
			return AlertsCSV(w, src.Alerts)
		}
		return writeJSON(w, nonNil(src.Alerts))
	case KindTraffic:
		if format == FormatCSV {
			return TrafficCSV(w, src.Flows)
		}
		return writeJSON(w, nonNil(src.Flows))
	default:
		return fmt.Errorf("unknown export kind %q", kind)
	}
}

// RulesCSV writes source_id, action, parameters (as JSON), reason, applied_at.
func RulesCSV(w io.Writer, rules []core.Rule) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"source_id", "action", "parameters", "reason", "applied_at"})
	for _, r := range rules {
		params, err := json.Marshal(r.Params)
		if err != nil {
			return fmt.Errorf("encoding parameters of %s: %w", r.SourceID, err)
		}
		cw.Write([]string{r.SourceID, string(r.Action), string(params), r.Reason, r.AppliedAt.UTC().Format(time.RFC3339)})
	}
	cw.Flush()
	return cw.Error()
}

// AuditReport is the JSON audit export.
type AuditReport struct {
	GeneratedAt time.Time               `json:"generated_at"`
	Total       int                     `json:"total"`
	Counts      map[core.ChangeKind]int `json:"counts"`
	Entries     []core.AuditEntry       `json:"entries"`
}

// WriteAuditReport writes the audit report, entries oldest first.
func WriteAuditReport(w io.Writer, entries []core.AuditEntry, now time.Time) error {
	return writeJSON(w, AuditReportData(entries, now))
}

// AuditReportData builds the report without encoding it.
func AuditReportData(entries []core.AuditEntry, now time.Time) AuditReport {
	counts := make(map[core.ChangeKind]int)
	for _, e := range entries {
		counts[e.Kind]++
	}
	return AuditReport{
		GeneratedAt: now,
		Total:       len(entries),
		Counts:      counts,
		Entries:     nonNil(entries),
	}
}

// AuditCSV flattens audit entries with the rule snapshot inlined.
func AuditCSV(w io.Writer, entries []core.AuditEntry) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"id", "cycle_id", "time", "change_kind", "source_id", "action", "parameters", "reason", "applied_at"})
	for _, e := range entries {
		params, err := json.Marshal(e.Rule.Params)
		if err != nil {
			return fmt.Errorf("encoding parameters of entry %s: %w", e.ID, err)
		}
		cw.Write([]string{
			e.ID, e.CycleID, e.Time.UTC().Format(time.RFC3339), string(e.Kind),
			e.Rule.SourceID, string(e.Rule.Action), string(params), e.Rule.Reason,
			e.Rule.AppliedAt.UTC().Format(time.RFC3339),
		})
	}
	cw.Flush()
	return cw.Error()
}

// AlertsCSV writes one row per alert; attributes are JSON encoded.
func AlertsCSV(w io.Writer, alerts []core.Alert) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"id", "time", "kind", "source_id", "severity", "attributes"})
	for _, a := range alerts {
		attrs, err := json.Marshal(a.Attributes)
		if err != nil {
			return fmt.Errorf("encoding attributes of alert %s: %w", a.ID, err)
		}
		cw.Write([]string{a.ID, a.Time.UTC().Format(time.RFC3339), string(a.Kind), a.SourceID, string(a.Severity), string(attrs)})
	}
	cw.Flush()
	return cw.Error()
}

// TrafficCSV writes the flow batch with the columns of the simulator.
func TrafficCSV(w io.Writer, flows []core.Flow) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"timestamp", "src_ip", "dst_ip", "src_port", "dst_port", "protocol", "packets", "bytes", "duration"})
	for _, f := range flows {
		cw.Write([]string{
			f.Timestamp.UTC().Format(time.RFC3339),
			f.SrcIP, f.DstIP,
			strconv.Itoa(f.SrcPort), strconv.Itoa(f.DstPort),
			f.Protocol,
			strconv.Itoa(f.Packets), strconv.Itoa(f.Bytes), strconv.Itoa(f.Duration),
		})
	}
	cw.Flush()
	return cw.Error()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// nonNil keeps empty datasets encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
