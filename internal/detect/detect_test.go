package detect

import (
	"context"
	"testing"
	"time"

	"github.com/adaptivefw/adaptivefw/internal/core"
	"github.com/adaptivefw/adaptivefw/internal/traffic"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return t0 }

func flow(src string, packets, bytes, duration int) core.Flow {
	return core.Flow{Timestamp: t0, SrcIP: src, DstPort: 443, Protocol: "TCP", Packets: packets, Bytes: bytes, Duration: duration}
}

// ─── New ────────────────────────────────────────────────────────────────────

func TestNew_Modes(t *testing.T) {
	cfg := core.DefaultConfig().Detection

	d, err := New(cfg)
	if err != nil || d.Name() != "threshold" {
		t.Errorf("threshold mode = %v, %v", d, err)
	}
	cfg.Mode = "iforest"
	d, err = New(cfg)
	if err != nil || d.Name() != "iforest" {
		t.Errorf("iforest mode = %v, %v", d, err)
	}
	cfg.Mode = "oracle"
	if _, err := New(cfg); err == nil {
		t.Error("expected error for unknown mode")
	}
}

// ─── ThresholdDetector ──────────────────────────────────────────────────────

func TestThreshold_LargeFlow(t *testing.T) {
	d := &ThresholdDetector{FlowSizeThreshold: 20000, RepeatThreshold: 8, Now: fixedClock}
	flows := []core.Flow{
		flow("1.1.1.1", 10, 1200, 1),   // 12000
		flow("2.2.2.2", 20, 1001, 1),   // 20020
		flow("3.3.3.3", 200, 30000, 1), // huge
		flow("4.4.4.4", 20, 1000, 1),   // exactly 20000, not flagged
	}
	alerts, err := d.Detect(context.Background(), flows)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 2 {
		t.Fatalf("alerts = %d, want 2", len(alerts))
	}
	for i, want := range []string{"2.2.2.2", "3.3.3.3"} {
		a := alerts[i]
		if a.SourceID != want || a.Kind != core.KindLargeFlow || a.Severity != core.SeverityHigh {
			t.Errorf("alert %d = %+v", i, a)
		}
	}
	if alerts[0].Attributes["flow_size"] != 20020 {
		t.Errorf("flow_size = %v", alerts[0].Attributes["flow_size"])
	}
}

func TestThreshold_RepeatedConnections(t *testing.T) {
	d := &ThresholdDetector{FlowSizeThreshold: 1 << 30, RepeatThreshold: 8, Now: fixedClock}
	var flows []core.Flow
	for i := 0; i < 9; i++ {
		flows = append(flows, flow("6.6.6.6", 1, 100, 1))
	}
	for i := 0; i < 8; i++ {
		flows = append(flows, flow("7.7.7.7", 1, 100, 1))
	}
	for i := 0; i < 12; i++ {
		flows = append(flows, flow("5.5.5.5", 1, 100, 1))
	}

	alerts, _ := d.Detect(context.Background(), flows)
	if len(alerts) != 2 {
		t.Fatalf("alerts = %d, want 2 (8 flows is not more than 8)", len(alerts))
	}
	if alerts[0].SourceID != "5.5.5.5" || alerts[1].SourceID != "6.6.6.6" {
		t.Errorf("order = %q, %q; want busiest first", alerts[0].SourceID, alerts[1].SourceID)
	}
	if alerts[0].Kind != core.KindRepeatedConnections || alerts[0].Severity != core.SeverityMedium {
		t.Errorf("alert = %+v", alerts[0])
	}
	if alerts[0].Attributes["requests"] != 12 || !alerts[0].Time.Equal(t0) {
		t.Errorf("attributes = %v time = %v", alerts[0].Attributes, alerts[0].Time)
	}
}

func TestThreshold_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := &ThresholdDetector{FlowSizeThreshold: 1}
	if _, err := d.Detect(ctx, []core.Flow{flow("a", 1, 1, 1)}); err == nil {
		t.Error("expected context error")
	}
}

// ─── ForestDetector ─────────────────────────────────────────────────────────

func TestForest_TooFewSamples(t *testing.T) {
	d := &ForestDetector{Trees: 100, Contamination: 0.03, MinSamples: 20, Seed: 42}
	var flows []core.Flow
	for i := 0; i < 19; i++ {
		flows = append(flows, flow("1.1.1.1", 1000, 1000000, 100))
	}
	alerts, err := d.Detect(context.Background(), flows)
	if err != nil || len(alerts) != 0 {
		t.Errorf("got %d alerts, err %v; want none below min samples", len(alerts), err)
	}
}

func TestForest_FlagsInjectedOutliers(t *testing.T) {
	flows, err := traffic.NewSimulator(1).Generate(traffic.Options{Points: 600, Start: t0})
	if err != nil {
		t.Fatal(err)
	}
	outliers := map[int]bool{100: true, 250: true, 400: true}
	for i := range outliers {
		flows[i].SrcIP = "66.66.66.66"
		flows[i].Packets = 900
		flows[i].Bytes = 90000
		flows[i].Duration = 40
	}

	d := &ForestDetector{Trees: 100, Contamination: 0.03, MinSamples: 20, Seed: 42, FrequentThreshold: 10, Now: fixedClock}
	alerts, err := d.Detect(context.Background(), flows)
	if err != nil {
		t.Fatal(err)
	}

	ml := 0
	hitOutlier := 0
	for _, a := range alerts {
		if a.Kind == core.KindMLAnomaly {
			ml++
			if a.SourceID == "66.66.66.66" {
				hitOutlier++
			}
			if a.Severity != core.SeverityHigh {
				t.Errorf("ml alert severity = %q", a.Severity)
			}
		}
	}
	// 3% of 600
	if ml < 15 || ml > 21 {
		t.Errorf("ml_anomaly alerts = %d, want about 18", ml)
	}
	if hitOutlier != 3 {
		t.Errorf("injected outliers flagged = %d, want 3", hitOutlier)
	}
}

func TestForest_FrequentSource(t *testing.T) {
	var flows []core.Flow
	for i := 0; i < 30; i++ {
		src := "10.1.1.1"
		if i%3 == 0 {
			src = "10.2.2.2"
		}
		flows = append(flows, flow(src, 10, 1200, 1+i%3))
	}
	d := &ForestDetector{Trees: 50, Contamination: 0.03, MinSamples: 20, Seed: 42, FrequentThreshold: 10, Now: fixedClock}
	alerts, _ := d.Detect(context.Background(), flows)

	var frequent []core.Alert
	for _, a := range alerts {
		if a.Kind == core.KindFrequentSource {
			frequent = append(frequent, a)
		}
	}
	// 10.1.1.1 has 20 flows, 10.2.2.2 exactly 10
	if len(frequent) != 1 || frequent[0].SourceID != "10.1.1.1" || frequent[0].Severity != core.SeverityMedium {
		t.Errorf("frequent alerts = %+v", frequent)
	}
}

func TestForest_Deterministic(t *testing.T) {
	flows, _ := traffic.NewSimulator(2).Generate(traffic.Options{Points: 300, Start: t0, Scenario: traffic.ScenarioDDoS})
	d := &ForestDetector{Trees: 100, Contamination: 0.03, MinSamples: 20, Seed: 42, FrequentThreshold: 10, Now: fixedClock}
	a, _ := d.Detect(context.Background(), flows)
	b, _ := d.Detect(context.Background(), flows)
	if len(a) != len(b) {
		t.Fatalf("runs differ: %d vs %d alerts", len(a), len(b))
	}
	for i := range a {
		if a[i].SourceID != b[i].SourceID || a[i].Kind != b[i].Kind {
			t.Errorf("alert %d differs", i)
		}
	}
}

// ─── IsolationForest ────────────────────────────────────────────────────────

func TestAvgPathLength(t *testing.T) {
	if avgPathLength(1) != 0 || avgPathLength(2) != 1 {
		t.Error("base cases wrong")
	}
	if c := avgPathLength(256); c < 10 || c > 11 {
		t.Errorf("c(256) = %v, want about 10.24", c)
	}
}

func TestQuantile(t *testing.T) {
	vals := []float64{5, 1, 3, 2, 4}
	if q := quantile(vals, 0.5); q != 3 {
		t.Errorf("median = %v, want 3", q)
	}
	if q := quantile(vals, 1); q != 5 {
		t.Errorf("max = %v, want 5", q)
	}
	if q := quantile(vals, 0.25); q != 2 {
		t.Errorf("q25 = %v, want 2", q)
	}
}

func TestIsolationForest_OutlierScoresHigher(t *testing.T) {
	var X [][]float64
	for i := 0; i < 200; i++ {
		X = append(X, []float64{float64(10 + i%5), float64(1200 + i%50), 1})
	}
	X = append(X, []float64{800, 70000, 30})

	f := &IsolationForest{Trees: 100, Contamination: 0.01, Seed: 42}
	f.Fit(X)
	scores := f.Scores(X)
	outlier := scores[len(scores)-1]
	for i, s := range scores[:len(scores)-1] {
		if s >= outlier {
			t.Fatalf("inlier %d scored %v >= outlier %v", i, s, outlier)
		}
	}
	if !f.Predict(X)[len(X)-1] {
		t.Error("outlier not predicted")
	}
}
