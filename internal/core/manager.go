package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrRuleNotFound is returned when an operation targets a source with no active rule.
var ErrRuleNotFound = errors.New("rule not found")

// PersistenceError reports a backing-store failure. The cycle that hit it
// was not applied.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Persister durably records committed cycles. Commit must apply all of the
// given entries atomically or none of them.
type Persister interface {
	Load(ctx context.Context) ([]Rule, []AuditEntry, error)
	Commit(ctx context.Context, entries []AuditEntry) error
	Close() error
}

// CycleHandler is called with every committed cycle that changed the store.
// Handlers run under the manager's write lock and must not call back into it.
type CycleHandler func(result CycleResult)

// Manager owns the rule store and the audit log. It is the single writer:
// every cycle runs synthesize, upsert, sweep and audit under one lock, on a
// copy of the store that replaces the live one only after the persister
// commits.
type Manager struct {
	mu        sync.RWMutex
	store     *RuleStore
	audit     *AuditLog
	persister Persister
	metrics   *Metrics
	handlers  []CycleHandler
	logger    zerolog.Logger
}

// NewManager creates a manager. persister and metrics may be nil.
func NewManager(logger zerolog.Logger, persister Persister, metrics *Metrics) *Manager {
	return &Manager{
		store:     NewRuleStore(),
		audit:     NewAuditLog(),
		persister: persister,
		metrics:   metrics,
		logger:    logger.With().Str("component", "rule_manager").Logger(),
	}
}

// AddHandler registers a handler for committed cycles.
func (m *Manager) AddHandler(h CycleHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Restore replaces the in-memory state with what the persister holds.
func (m *Manager) Restore(ctx context.Context) error {
	if m.persister == nil {
		return nil
	}
	rules, entries, err := m.persister.Load(ctx)
	if err != nil {
		return &PersistenceError{Op: "load", Err: err}
	}

	store := NewRuleStore()
	for _, r := range rules {
		store.Upsert(r)
	}
	audit := NewAuditLog()
	audit.Append(entries...)

	m.mu.Lock()
	m.store = store
	m.audit = audit
	m.metrics.observeStore(store)
	m.mu.Unlock()

	m.logger.Info().Int("rules", len(rules)).Int("audit_entries", len(entries)).Msg("rule state restored")
	return nil
}

// Process runs one intake cycle for alerts at now.
func (m *Manager) Process(ctx context.Context, alerts []Alert, now time.Time) (CycleResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.store.Clone()
	result := ProcessCycle(next, alerts, now)

	for _, rej := range result.Rejected {
		m.logger.Warn().
			Str("alert_id", rej.Alert.ID).
			Str("source_id", rej.Alert.SourceID).
			Str("severity", string(rej.Alert.Severity)).
			Msg("alert rejected: " + rej.Reason)
	}

	if err := m.commitLocked(ctx, next, result.Entries); err != nil {
		return CycleResult{}, err
	}
	m.metrics.observeCycle(alerts, result, next)

	m.logger.Info().
		Str("cycle_id", result.ID).
		Int("alerts", len(alerts)).
		Int("changes", len(result.Entries)).
		Int("rejected", len(result.Rejected)).
		Int("skipped", result.Skipped).
		Int("active_rules", next.Count()).
		Msg("intake cycle committed")

	m.notifyLocked(result)
	return result, nil
}

// Sweep runs a cycle with no alerts, evicting whatever has expired at now.
func (m *Manager) Sweep(ctx context.Context, now time.Time) (CycleResult, error) {
	return m.Process(ctx, nil, now)
}

// Put applies an operator-supplied rule, replacing any rule for the same source.
func (m *Manager) Put(ctx context.Context, rule Rule, now time.Time) (AuditEntry, error) {
	if err := rule.Validate(); err != nil {
		return AuditEntry{}, err
	}
	rule = rule.Clone()
	if rule.AppliedAt.IsZero() {
		rule.AppliedAt = now.UTC()
	}
	if _, ok := rule.Params[ParamExpireMinutes]; !ok {
		rule.Params[ParamExpireMinutes] = fallbackExpireMinutes
	}
	if rule.Reason == "" {
		rule.Reason = "manual"
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.store.Clone()
	kind := next.Upsert(rule)
	entry := NewAuditEntry(uuid.New().String(), kind, rule, now)
	if err := m.commitLocked(ctx, next, []AuditEntry{entry}); err != nil {
		return AuditEntry{}, err
	}
	m.metrics.observeEntries([]AuditEntry{entry})
	m.metrics.observeStore(next)
	m.logger.Info().Str("source_id", rule.SourceID).Str("action", string(rule.Action)).Str("change", string(kind)).Msg("manual rule applied")
	m.notifyLocked(CycleResult{ID: entry.CycleID, Time: entry.Time, Rules: next.All(), Entries: []AuditEntry{entry}})
	return entry, nil
}

// Remove deletes the rule for sourceID and audits the removal.
func (m *Manager) Remove(ctx context.Context, sourceID string, now time.Time) (AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rule, ok := m.store.Get(sourceID)
	if !ok {
		return AuditEntry{}, fmt.Errorf("%w: %s", ErrRuleNotFound, sourceID)
	}
	next := m.store.Clone()
	next.Remove(sourceID)
	entry := NewAuditEntry(uuid.New().String(), ChangeRemoved, rule, now)
	if err := m.commitLocked(ctx, next, []AuditEntry{entry}); err != nil {
		return AuditEntry{}, err
	}
	m.metrics.observeEntries([]AuditEntry{entry})
	m.metrics.observeStore(next)
	m.logger.Info().Str("source_id", sourceID).Msg("rule removed")
	m.notifyLocked(CycleResult{ID: entry.CycleID, Time: entry.Time, Rules: next.All(), Entries: []AuditEntry{entry}})
	return entry, nil
}

// commitLocked persists entries and then swaps next in. On failure the live
// store and audit log are untouched.
func (m *Manager) commitLocked(ctx context.Context, next *RuleStore, entries []AuditEntry) error {
	if m.persister != nil && len(entries) > 0 {
		if err := m.persister.Commit(ctx, entries); err != nil {
			m.metrics.observeFailure()
			m.logger.Error().Err(err).Int("changes", len(entries)).Msg("cycle commit failed, state unchanged")
			var pe *PersistenceError
			if errors.As(err, &pe) {
				return pe
			}
			return &PersistenceError{Op: "commit", Err: err}
		}
	}
	m.store = next
	m.audit.Append(entries...)
	return nil
}

func (m *Manager) notifyLocked(result CycleResult) {
	if !result.Changed() {
		return
	}
	for _, h := range m.handlers {
		h(result)
	}
}

// Rules returns a snapshot of the active rules.
func (m *Manager) Rules() []Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store.All()
}

// Rule returns the active rule for sourceID.
func (m *Manager) Rule(sourceID string) (Rule, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store.Get(sourceID)
}

// RuleCount returns the number of active rules.
func (m *Manager) RuleCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store.Count()
}

// BlockedCount returns the number of sources under a block rule.
func (m *Manager) BlockedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store.CountByAction(ActionBlock)
}

// Audit returns the audit log. It is safe for concurrent reads.
func (m *Manager) Audit() *AuditLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.audit
}
