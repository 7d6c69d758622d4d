package core

import (
	"time"

	"github.com/google/uuid"
)

// RejectedAlert is an alert the synthesizer refused, with the reason.
type RejectedAlert struct {
	Alert  Alert  `json:"alert"`
	Reason string `json:"reason"`
}

// CycleResult is the outcome of one intake cycle.
type CycleResult struct {
	ID       string          `json:"cycle_id"`
	Time     time.Time       `json:"time"`
	Rules    []Rule          `json:"rules"`
	Entries  []AuditEntry    `json:"audit_entries"`
	Rejected []RejectedAlert `json:"rejected,omitempty"`
	Skipped  int             `json:"skipped"`

	// Duplicates counts redelivered alerts dropped before the cycle ran.
	Duplicates int `json:"duplicates,omitempty"`
}

// Changed reports whether the cycle mutated the store.
func (r CycleResult) Changed() bool {
	return len(r.Entries) > 0
}

// Sweep evicts every rule whose TTL has elapsed at now and returns one
// expired entry per eviction, in store insertion order. Sweeping twice at
// the same instant evicts nothing the second time.
func Sweep(store *RuleStore, now time.Time, cycleID string) []AuditEntry {
	var entries []AuditEntry
	for _, rule := range store.All() {
		if !rule.Expired(now) {
			continue
		}
		store.Remove(rule.SourceID)
		entries = append(entries, NewAuditEntry(cycleID, ChangeExpired, rule, now))
	}
	return entries
}

// ProcessCycle runs one intake cycle against store: every alert is
// synthesized and upserted in order, then expired rules are swept. Alerts
// with an invalid severity are rejected individually and never abort the
// cycle. The store is mutated in place; Rules in the result is the
// post-cycle snapshot.
func ProcessCycle(store *RuleStore, alerts []Alert, now time.Time) CycleResult {
	now = now.UTC()
	result := CycleResult{
		ID:   uuid.New().String(),
		Time: now,
	}

	for _, alert := range alerts {
		rule, err := Synthesize(alert, now)
		if err != nil {
			result.Rejected = append(result.Rejected, RejectedAlert{Alert: alert, Reason: err.Error()})
			continue
		}
		if rule == nil {
			result.Skipped++
			continue
		}
		kind := store.Upsert(*rule)
		result.Entries = append(result.Entries, NewAuditEntry(result.ID, kind, *rule, now))
	}

	result.Entries = append(result.Entries, Sweep(store, now, result.ID)...)
	result.Rules = store.All()
	return result
}
