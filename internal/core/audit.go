package core

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditEntry is the immutable record of one change to the rule store.
type AuditEntry struct {
	ID      string     `json:"id"`
	CycleID string     `json:"cycle_id,omitempty"`
	Time    time.Time  `json:"time"`
	Kind    ChangeKind `json:"change_kind"`
	Rule    Rule       `json:"rule_snapshot"`
}

// NewAuditEntry builds an entry for a change observed at the given time.
func NewAuditEntry(cycleID string, kind ChangeKind, rule Rule, at time.Time) AuditEntry {
	return AuditEntry{
		ID:      uuid.New().String(),
		CycleID: cycleID,
		Time:    at.UTC(),
		Kind:    kind,
		Rule:    rule.Clone(),
	}
}

// Marshal serializes the entry to JSON.
func (e AuditEntry) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// AuditLog is an append-only, insertion-ordered sequence of audit entries.
type AuditLog struct {
	mu      sync.RWMutex
	entries []AuditEntry
}

// NewAuditLog creates an empty audit log.
func NewAuditLog() *AuditLog {
	return &AuditLog{entries: make([]AuditEntry, 0, 256)}
}

// Append adds entries to the end of the log.
func (l *AuditLog) Append(entries ...AuditEntry) {
	if len(entries) == 0 {
		return
	}
	l.mu.Lock()
	l.entries = append(l.entries, entries...)
	l.mu.Unlock()
}

// Recent returns up to limit entries, newest first.
func (l *AuditLog) Recent(limit int) []AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]AuditEntry, 0)
	for i := len(l.entries) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, l.entries[i])
	}
	return result
}

// All returns every entry in insertion order.
func (l *AuditLog) All() []AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *AuditLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// CountByKind tallies entries per change kind.
func (l *AuditLog) CountByKind() map[ChangeKind]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	counts := make(map[ChangeKind]int)
	for _, e := range l.entries {
		counts[e.Kind]++
	}
	return counts
}
