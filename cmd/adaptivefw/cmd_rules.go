package main

// ---------------------------------------------------------------------------
// cmd_rules.go: list, inspect, add and remove active rules
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/url"

	"github.com/adaptivefw/adaptivefw/internal/core"
)

func cmdRules(args []string) {
	sub := "list"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		sub, args = args[0], args[1:]
	}

	switch sub {
	case "list", "ls":
		rulesList(args)
	case "get", "show":
		rulesGet(args)
	case "add", "put":
		rulesAdd(args)
	case "rm", "remove", "delete":
		rulesRemove(args)
	default:
		errorf("unknown rules subcommand %q (list, get, add, rm)", sub)
	}
}

func rulesList(args []string) {
	fs := flag.NewFlagSet("rules list", flag.ExitOnError)
	rf := addRemoteFlags(fs, "table")
	action := fs.String("action", "", "Only show rules with this action")
	fs.Parse(args)
	r := rf.resolve()

	path := "/api/v1/rules"
	if *action != "" {
		path += "?action=" + url.QueryEscape(*action)
	}
	body := r.get(path)

	w, cleanup := outputWriter(*rf.output)
	defer cleanup()
	if r.format == FormatJSON {
		fmt.Fprintln(w, string(body))
		return
	}

	var resp struct {
		Rules []core.Rule `json:"rules"`
		Total int         `json:"total"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		errorf("parsing response: %v", err)
	}
	if r.format == FormatTable && resp.Total == 0 {
		fmt.Fprintln(w, dim("No active rules."))
		return
	}
	writeRows(w, r.format, ruleHeaders, ruleRows(resp.Rules))
}

func rulesGet(args []string) {
	fs := flag.NewFlagSet("rules get", flag.ExitOnError)
	rf := addRemoteFlags(fs, "json")
	pos := parseArgs(fs, args)
	if len(pos) != 1 {
		errorf("usage: adaptivefw rules get <source_id>")
	}
	r := rf.resolve()
	body := r.get("/api/v1/rules/" + url.PathEscape(pos[0]))

	w, cleanup := outputWriter(*rf.output)
	defer cleanup()
	if r.format == FormatJSON {
		fmt.Fprintln(w, string(body))
		return
	}
	var rule core.Rule
	if err := json.Unmarshal(body, &rule); err != nil {
		errorf("parsing response: %v", err)
	}
	writeRows(w, r.format, ruleHeaders, [][]string{ruleRow(rule)})
}

func rulesAdd(args []string) {
	fs := flag.NewFlagSet("rules add", flag.ExitOnError)
	rf := addRemoteFlags(fs, "table")
	action := fs.String("action", "block", "Rule action: block, rate_limit, allow")
	expire := fs.Int("expire", core.BlockExpireMinutes, "Minutes until the rule expires")
	limit := fs.Int("limit", 0, "Requests per second (rate_limit only)")
	reason := fs.String("reason", "manual", "Reason recorded with the rule")
	pos := parseArgs(fs, args)
	if len(pos) != 1 {
		errorf("usage: adaptivefw rules add [flags] <source_id>")
	}

	act, err := core.ParseAction(*action)
	if err != nil {
		errorf("%v", err)
	}
	params := core.RuleParams{core.ParamExpireMinutes: *expire}
	if *limit > 0 {
		params[core.ParamRateLimitPerSecond] = *limit
	}
	rule := core.Rule{SourceID: pos[0], Action: act, Params: params, Reason: *reason}
	if err := rule.Validate(); err != nil {
		errorf("%v", err)
	}

	r := rf.resolve()
	payload, _ := json.Marshal(rule)
	printEntry(r, r.post("/api/v1/rules", payload), *rf.output)
}

func rulesRemove(args []string) {
	fs := flag.NewFlagSet("rules rm", flag.ExitOnError)
	rf := addRemoteFlags(fs, "table")
	pos := parseArgs(fs, args)
	if len(pos) != 1 {
		errorf("usage: adaptivefw rules rm <source_id>")
	}
	r := rf.resolve()
	printEntry(r, r.delete("/api/v1/rules/"+url.PathEscape(pos[0])), *rf.output)
}

func printEntry(r remote, body []byte, output string) {
	w, cleanup := outputWriter(output)
	defer cleanup()
	if r.format == FormatJSON {
		fmt.Fprintln(w, string(body))
		return
	}
	var entry core.AuditEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		errorf("parsing response: %v", err)
	}
	if r.format == FormatTable {
		fmt.Fprintf(w, "%s %s %s (%s)\n", green("✓"), entry.Rule.SourceID, entry.Kind, entry.Rule.Action)
		return
	}
	writeCSV(w, auditHeaders, auditRows([]core.AuditEntry{entry}))
}
