package main

// ---------------------------------------------------------------------------
// output.go: format flag, table rendering, CSV, output helpers
// ---------------------------------------------------------------------------

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/adaptivefw/adaptivefw/internal/core"
)

// OutputFormat enumerates supported output formats.
type OutputFormat int

const (
	FormatTable OutputFormat = iota
	FormatJSON
	FormatCSV
)

func parseFormat(s string) OutputFormat {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON
	case "csv":
		return FormatCSV
	default:
		return FormatTable
	}
}

// ---------------------------------------------------------------------------
// Table: bordered columns sized to the widest cell
// ---------------------------------------------------------------------------

// Table buffers rows and draws them with box-drawing borders. Columns whose
// cells are all numeric are right-aligned.
type Table struct {
	out     io.Writer
	headers []string
	rows    [][]string
}

func NewTable(out io.Writer, headers ...string) *Table {
	return &Table{out: out, headers: headers}
}

// AddRow appends one row. Missing cells render empty and surplus cells are
// dropped.
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.headers))
	copy(row, cells)
	t.rows = append(t.rows, row)
}

func (t *Table) Render() {
	n := len(t.headers)
	if n == 0 {
		return
	}
	width := make([]int, n)
	numeric := make([]bool, n)
	for c := 0; c < n; c++ {
		width[c] = utf8.RuneCountInString(t.headers[c])
		numeric[c] = len(t.rows) > 0
		for _, row := range t.rows {
			width[c] = max(width[c], utf8.RuneCountInString(row[c]))
			if _, err := strconv.ParseFloat(row[c], 64); err != nil {
				numeric[c] = false
			}
		}
	}

	rule := func(left, mid, right string) {
		segs := make([]string, n)
		for c := 0; c < n; c++ {
			segs[c] = strings.Repeat("─", width[c]+2)
		}
		fmt.Fprintln(t.out, left+strings.Join(segs, mid)+right)
	}
	line := func(cells []string, align bool) {
		var b strings.Builder
		b.WriteString("│")
		for c, cell := range cells {
			pad := strings.Repeat(" ", width[c]-utf8.RuneCountInString(cell))
			if align && numeric[c] {
				b.WriteString(" " + pad + cell + " │")
			} else {
				b.WriteString(" " + cell + pad + " │")
			}
		}
		fmt.Fprintln(t.out, b.String())
	}

	rule("┌", "┬", "┐")
	line(t.headers, false)
	rule("├", "┼", "┤")
	for _, row := range t.rows {
		line(row, true)
	}
	rule("└", "┴", "┘")
}

func writeCSV(w io.Writer, headers []string, rows [][]string) {
	if err := csv.NewWriter(w).WriteAll(append([][]string{headers}, rows...)); err != nil {
		errorf("writing csv: %v", err)
	}
}

// writeRows renders headers/rows as a table or CSV.
func writeRows(w io.Writer, f OutputFormat, headers []string, rows [][]string) {
	if f == FormatCSV {
		writeCSV(w, headers, rows)
		return
	}
	t := NewTable(w, headers...)
	for _, row := range rows {
		t.AddRow(row...)
	}
	t.Render()
}

func printJSON(w io.Writer, v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		errorf("encoding output: %v", err)
	}
	fmt.Fprintln(w, string(data))
}

// ---------------------------------------------------------------------------
// Domain rows
// ---------------------------------------------------------------------------

var ruleHeaders = []string{"SOURCE", "ACTION", "EXPIRES (MIN)", "REASON", "APPLIED AT"}

func ruleRow(r core.Rule) []string {
	return []string{
		r.SourceID,
		string(r.Action),
		fmt.Sprintf("%d", r.Params.ExpireMinutes()),
		r.Reason,
		r.AppliedAt.UTC().Format(time.RFC3339),
	}
}

func ruleRows(rules []core.Rule) [][]string {
	rows := make([][]string, 0, len(rules))
	for _, r := range rules {
		rows = append(rows, ruleRow(r))
	}
	return rows
}

var auditHeaders = []string{"TIME", "CHANGE", "SOURCE", "ACTION", "CYCLE"}

func auditRows(entries []core.AuditEntry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.Time.UTC().Format(time.RFC3339),
			string(e.Kind),
			e.Rule.SourceID,
			string(e.Rule.Action),
			shortID(e.CycleID),
		})
	}
	return rows
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// outputWriter returns stdout, or the --output file and its closer.
func outputWriter(path string) (*os.File, func()) {
	if path == "" || path == "-" {
		return os.Stdout, func() {}
	}
	f, err := os.Create(path)
	if err != nil {
		errorf("cannot write %s: %v", path, err)
	}
	return f, func() {
		if err := f.Close(); err != nil {
			warnf("closing %s: %v", path, err)
		}
	}
}
