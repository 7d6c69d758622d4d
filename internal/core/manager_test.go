package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakePersister struct {
	mu        sync.Mutex
	failNext  bool
	commits   [][]AuditEntry
	rules     []Rule
	entries   []AuditEntry
	closed    bool
	loadError error
}

func (f *fakePersister) Load(ctx context.Context) ([]Rule, []AuditEntry, error) {
	if f.loadError != nil {
		return nil, nil, f.loadError
	}
	return f.rules, f.entries, nil
}

func (f *fakePersister) Commit(ctx context.Context, entries []AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("disk full")
	}
	f.commits = append(f.commits, entries)
	return nil
}

func (f *fakePersister) Close() error {
	f.closed = true
	return nil
}

func newTestManager(p Persister) *Manager {
	return NewManager(zerolog.Nop(), p, NewMetrics("test"))
}

// ─── Process ────────────────────────────────────────────────────────────────

func TestManager_Process_CommitsAndAudits(t *testing.T) {
	p := &fakePersister{}
	m := newTestManager(p)

	res, err := m.Process(context.Background(), []Alert{alertFor("1.2.3.4", SeverityHigh, KindLargeFlow)}, t0)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if len(res.Rules) != 1 || m.RuleCount() != 1 {
		t.Errorf("rules = %d / %d, want 1", len(res.Rules), m.RuleCount())
	}
	if m.Audit().Len() != 1 {
		t.Errorf("audit len = %d, want 1", m.Audit().Len())
	}
	if len(p.commits) != 1 || len(p.commits[0]) != 1 {
		t.Errorf("commits = %v, want one commit of one entry", p.commits)
	}
	if m.BlockedCount() != 1 {
		t.Errorf("BlockedCount() = %d, want 1", m.BlockedCount())
	}
}

func TestManager_Process_PersistenceFailureLeavesStateUnchanged(t *testing.T) {
	p := &fakePersister{}
	m := newTestManager(p)
	ctx := context.Background()

	if _, err := m.Process(ctx, []Alert{alertFor("a", SeverityHigh, KindLargeFlow)}, t0); err != nil {
		t.Fatal(err)
	}

	p.failNext = true
	_, err := m.Process(ctx, []Alert{
		alertFor("a", SeverityMedium, KindFrequentSource),
		alertFor("b", SeverityHigh, KindLargeFlow),
	}, t0.Add(time.Minute))

	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *PersistenceError", err)
	}
	if pe.Op != "commit" {
		t.Errorf("Op = %q, want commit", pe.Op)
	}
	if m.RuleCount() != 1 {
		t.Errorf("RuleCount() = %d, want 1 (pre-cycle state)", m.RuleCount())
	}
	r, _ := m.Rule("a")
	if r.Action != ActionBlock {
		t.Errorf("rule a = %q, want block (pre-cycle)", r.Action)
	}
	if m.Audit().Len() != 1 {
		t.Errorf("audit len = %d, want 1", m.Audit().Len())
	}

	// the next cycle succeeds from the untouched state
	res, err := m.Process(ctx, []Alert{alertFor("b", SeverityHigh, KindLargeFlow)}, t0.Add(2*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entries) != 1 || res.Entries[0].Kind != ChangeAdded {
		t.Errorf("entries = %+v, want one added", res.Entries)
	}
}

func TestManager_Process_NoCommitWhenNothingChanged(t *testing.T) {
	p := &fakePersister{}
	m := newTestManager(p)
	if _, err := m.Process(context.Background(), nil, t0); err != nil {
		t.Fatal(err)
	}
	if len(p.commits) != 0 {
		t.Errorf("commits = %d, want 0", len(p.commits))
	}
}

func TestManager_HandlersSeeChangedCyclesOnly(t *testing.T) {
	m := newTestManager(nil)
	var seen []CycleResult
	m.AddHandler(func(r CycleResult) { seen = append(seen, r) })

	ctx := context.Background()
	m.Process(ctx, nil, t0)
	m.Process(ctx, []Alert{alertFor("x", SeverityHigh, KindLargeFlow)}, t0)
	m.Sweep(ctx, t0.Add(time.Hour))

	if len(seen) != 2 {
		t.Fatalf("handler calls = %d, want 2", len(seen))
	}
	if seen[1].Entries[0].Kind != ChangeExpired {
		t.Errorf("second call kind = %q, want expired", seen[1].Entries[0].Kind)
	}
}

func TestManager_ConcurrentProcess(t *testing.T) {
	m := newTestManager(&fakePersister{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			src := "10.0.0." + string(rune('a'+i%5))
			m.Process(ctx, []Alert{alertFor(src, SeverityHigh, KindLargeFlow)}, t0)
			_ = m.Rules()
		}(i)
	}
	wg.Wait()

	if m.RuleCount() != 5 {
		t.Errorf("RuleCount() = %d, want 5", m.RuleCount())
	}
	counts := m.Audit().CountByKind()
	if counts[ChangeAdded] != 5 || counts[ChangeReplaced] != 15 {
		t.Errorf("counts = %v, want added=5 replaced=15", counts)
	}
}

// ─── Put / Remove ───────────────────────────────────────────────────────────

func TestManager_PutDefaults(t *testing.T) {
	m := newTestManager(nil)
	entry, err := m.Put(context.Background(), Rule{SourceID: "8.8.8.8", Action: ActionAllow}, t0)
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if entry.Kind != ChangeAdded {
		t.Errorf("Kind = %q, want added", entry.Kind)
	}
	r, ok := m.Rule("8.8.8.8")
	if !ok {
		t.Fatal("rule missing")
	}
	if r.Reason != "manual" || r.Params.ExpireMinutes() != 60 || !r.AppliedAt.Equal(t0) {
		t.Errorf("rule = %+v", r)
	}

	entry, _ = m.Put(context.Background(), Rule{SourceID: "8.8.8.8", Action: ActionBlock}, t0)
	if entry.Kind != ChangeReplaced {
		t.Errorf("Kind = %q, want replaced", entry.Kind)
	}
}

func TestManager_PutRejectsInvalid(t *testing.T) {
	m := newTestManager(nil)
	tests := []Rule{
		{Action: ActionBlock},
		{SourceID: "x", Action: "drop"},
		{SourceID: "x", Action: ActionBlock, Params: RuleParams{ParamExpireMinutes: -1}},
		{SourceID: "x", Action: ActionBlock, Params: RuleParams{ParamExpireMinutes: 1e12}},
		{SourceID: "x", Action: ActionBlock, Params: RuleParams{ParamExpireMinutes: 0.5}},
	}
	for _, r := range tests {
		if _, err := m.Put(context.Background(), r, t0); err == nil {
			t.Errorf("Put(%+v) should fail", r)
		}
	}
	if m.Audit().Len() != 0 {
		t.Errorf("audit len = %d, want 0", m.Audit().Len())
	}
}

func TestManager_Remove(t *testing.T) {
	m := newTestManager(nil)
	ctx := context.Background()
	m.Process(ctx, []Alert{alertFor("r", SeverityMedium, KindFrequentSource)}, t0)

	entry, err := m.Remove(ctx, "r", t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if entry.Kind != ChangeRemoved || entry.Rule.SourceID != "r" {
		t.Errorf("entry = %+v", entry)
	}
	if m.RuleCount() != 0 {
		t.Errorf("RuleCount() = %d, want 0", m.RuleCount())
	}

	if _, err := m.Remove(ctx, "r", t0); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("err = %v, want ErrRuleNotFound", err)
	}
}

// ─── Restore ────────────────────────────────────────────────────────────────

func TestManager_Restore(t *testing.T) {
	p := &fakePersister{
		rules: []Rule{
			{SourceID: "a", Action: ActionBlock, Params: RuleParams{ParamExpireMinutes: 30}, AppliedAt: t0},
			{SourceID: "b", Action: ActionRateLimit, Params: RuleParams{ParamExpireMinutes: 60}, AppliedAt: t0},
		},
		entries: []AuditEntry{
			NewAuditEntry("c", ChangeAdded, Rule{SourceID: "a"}, t0),
			NewAuditEntry("c", ChangeAdded, Rule{SourceID: "b"}, t0),
		},
	}
	m := newTestManager(p)
	if err := m.Restore(context.Background()); err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if m.RuleCount() != 2 || m.Audit().Len() != 2 {
		t.Errorf("restored %d rules / %d entries", m.RuleCount(), m.Audit().Len())
	}
	rules := m.Rules()
	if rules[0].SourceID != "a" || rules[1].SourceID != "b" {
		t.Errorf("restored order = %q, %q", rules[0].SourceID, rules[1].SourceID)
	}
}

func TestManager_RestoreError(t *testing.T) {
	m := newTestManager(&fakePersister{loadError: errors.New("conn refused")})
	err := m.Restore(context.Background())
	var pe *PersistenceError
	if !errors.As(err, &pe) || pe.Op != "load" {
		t.Errorf("err = %v, want load PersistenceError", err)
	}
}
