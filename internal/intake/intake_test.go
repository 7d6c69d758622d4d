package intake

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/adaptivefw/adaptivefw/internal/core"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeSink records cycles and fails the first failures calls.
type fakeSink struct {
	mu       sync.Mutex
	failures int
	batches  [][]core.Alert
	sweeps   int
	calls    int
}

func (s *fakeSink) Ingest(ctx context.Context, alerts []core.Alert) (core.CycleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return core.CycleResult{}, errors.New("commit failed")
	}
	s.batches = append(s.batches, alerts)
	return core.CycleResult{}, nil
}

func (s *fakeSink) Sweep(ctx context.Context) (core.CycleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweeps++
	return core.CycleResult{}, nil
}

func (s *fakeSink) snapshot() (batches [][]core.Alert, sweeps, calls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]core.Alert(nil), s.batches...), s.sweeps, s.calls
}

// fakeReader serves queued messages, then blocks until ctx is done.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func batchMessage(t *testing.T, offset int64, sources ...string) kafka.Message {
	t.Helper()
	var alerts []core.Alert
	for _, src := range sources {
		alerts = append(alerts, core.NewAlert(core.KindLargeFlow, src, core.SeverityHigh, t0))
	}
	data, err := json.Marshal(alerts)
	if err != nil {
		t.Fatal(err)
	}
	return kafka.Message{Offset: offset, Value: data}
}

func runSource(t *testing.T, src *KafkaSource, until func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for !until() {
		select {
		case <-deadline:
			cancel()
			t.Fatal("timed out waiting for kafka source")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error: %v", err)
	}
}

// ─── KafkaSource ────────────────────────────────────────────────────────────

func TestKafkaSource_OneCyclePerMessage(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		batchMessage(t, 1, "1.1.1.1", "2.2.2.2"),
		batchMessage(t, 2, "3.3.3.3"),
	}}
	sink := &fakeSink{}
	src := newKafkaSource(reader, sink, zerolog.Nop())

	runSource(t, src, func() bool { return len(reader.commits()) == 2 })

	batches, _, _ := sink.snapshot()
	if len(batches) != 2 || len(batches[0]) != 2 || batches[1][0].SourceID != "3.3.3.3" {
		t.Errorf("batches = %+v", batches)
	}
	if c := reader.commits(); c[0] != 1 || c[1] != 2 {
		t.Errorf("commits = %v", c)
	}
}

func TestKafkaSource_FailedCycleRetriedBeforeCommit(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{batchMessage(t, 7, "4.4.4.4")}}
	sink := &fakeSink{failures: 2}
	src := newKafkaSource(reader, sink, zerolog.Nop())

	var delays []time.Duration
	src.sleep = func(ctx context.Context, d time.Duration) bool {
		delays = append(delays, d)
		if got := reader.commits(); len(got) != 0 {
			t.Errorf("offset committed before the cycle succeeded: %v", got)
		}
		return true
	}

	runSource(t, src, func() bool { return len(reader.commits()) == 1 })

	_, _, calls := sink.snapshot()
	if calls != 3 {
		t.Errorf("Ingest calls = %d, want 3", calls)
	}
	if len(delays) != 2 || delays[0] != minRetryDelay || delays[1] != 2*minRetryDelay {
		t.Errorf("retry delays = %v", delays)
	}
}

func TestKafkaSource_UndecodableMessageSkipped(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		{Offset: 1, Value: []byte("not json")},
		batchMessage(t, 2, "5.5.5.5"),
	}}
	sink := &fakeSink{}
	src := newKafkaSource(reader, sink, zerolog.Nop())

	runSource(t, src, func() bool { return len(reader.commits()) == 2 })

	batches, _, _ := sink.snapshot()
	if len(batches) != 1 || batches[0][0].SourceID != "5.5.5.5" {
		t.Errorf("batches = %+v", batches)
	}
}

func TestKafkaSource_RedeliveredBatchAppliedOnce(t *testing.T) {
	first := batchMessage(t, 1, "5.5.5.5")
	again := first
	again.Offset = 2
	reader := &fakeReader{queue: []kafka.Message{first, again}}

	engine, err := core.NewEngineWithLogger(core.DefaultConfig(), zerolog.Nop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	src := newKafkaSource(reader, engine, zerolog.Nop())

	runSource(t, src, func() bool { return len(reader.commits()) == 2 })

	if n := engine.Manager.Audit().Len(); n != 1 {
		t.Errorf("audit entries = %d, want 1 for a redelivered batch", n)
	}
}

func TestKafkaSource_Close(t *testing.T) {
	reader := &fakeReader{}
	src := newKafkaSource(reader, &fakeSink{}, zerolog.Nop())
	src.Close()
	if !reader.closed {
		t.Error("reader not closed")
	}
}

// ─── Sweeper ────────────────────────────────────────────────────────────────

func TestRunSweeper(t *testing.T) {
	sink := &fakeSink{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunSweeper(ctx, sink, 10*time.Millisecond, zerolog.Nop())
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for {
		if _, sweeps, _ := sink.snapshot(); sweeps >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("sweeper did not tick")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

// ─── Service ────────────────────────────────────────────────────────────────

func TestService_StartValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  core.IntakeConfig
	}{
		{"bad interval", core.IntakeConfig{SweepInterval: "soon"}},
		{"negative interval", core.IntakeConfig{SweepInterval: "-1m"}},
		{"nats without bus", core.IntakeConfig{NATSSubject: "fw.alerts.>"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := New(tc.cfg, &fakeSink{}, nil, zerolog.Nop())
			if err := svc.Start(context.Background()); err == nil {
				t.Error("expected error")
			}
			svc.Stop()
		})
	}
}

func TestService_NATSIntake(t *testing.T) {
	bus, err := core.NewEventBus(&core.BusConfig{
		Enabled:  true,
		Embedded: true,
		DataDir:  t.TempDir(),
		Port:     -1,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEventBus() error: %v", err)
	}
	defer bus.Close()

	sink := &fakeSink{}
	svc := New(core.IntakeConfig{NATSSubject: core.AlertSubjectPrefix + ".>"}, sink, bus, zerolog.Nop())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer svc.Stop()

	sent := []core.Alert{core.NewAlert(core.KindLargeFlow, "6.6.6.6", core.SeverityHigh, t0)}
	if err := bus.PublishAlerts("sensor", sent); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		if batches, _, _ := sink.snapshot(); len(batches) == 1 {
			if batches[0][0].SourceID != "6.6.6.6" {
				t.Errorf("batch = %+v", batches[0])
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("alert batch never reached the sink")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestService_EngineSatisfiesIngester(t *testing.T) {
	var _ Ingester = (*core.Engine)(nil)
}
