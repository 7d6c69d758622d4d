// Package detect turns flow batches into alerts. Two detectors are provided:
// fixed thresholds and an isolation forest.
package detect

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/adaptivefw/adaptivefw/internal/core"
)

// New builds the detector selected by cfg.Mode.
func New(cfg core.DetectionConfig) (core.Detector, error) {
	switch strings.ToLower(cfg.Mode) {
	case "threshold", "":
		return &ThresholdDetector{
			FlowSizeThreshold: cfg.FlowSizeThreshold,
			RepeatThreshold:   cfg.RepeatThreshold,
		}, nil
	case "iforest":
		return &ForestDetector{
			Trees:             cfg.Trees,
			Contamination:     cfg.Contamination,
			MinSamples:        cfg.MinSamples,
			Seed:              cfg.Seed,
			FrequentThreshold: cfg.FrequentThreshold,
		}, nil
	default:
		return nil, fmt.Errorf("unknown detection mode %q", cfg.Mode)
	}
}

// ThresholdDetector flags large flows and chatty sources.
type ThresholdDetector struct {
	// FlowSizeThreshold is compared with packets*bytes.
	FlowSizeThreshold int
	// RepeatThreshold is the number of flows a source may have before it
	// is flagged.
	RepeatThreshold int

	Now func() time.Time
}

func (d *ThresholdDetector) Name() string { return "threshold" }

// Detect emits a high large_flow alert per flow whose size exceeds the
// threshold and a medium repeated_connections alert per source with more
// than RepeatThreshold flows.
func (d *ThresholdDetector) Detect(ctx context.Context, flows []core.Flow) ([]core.Alert, error) {
	var alerts []core.Alert
	for _, f := range flows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		size := f.Packets * f.Bytes
		if size > d.FlowSizeThreshold {
			alerts = append(alerts, flowAlert(core.KindLargeFlow, f).
				WithAttr("flow_size", size))
		}
	}
	alerts = append(alerts, sourceAlerts(flows, d.RepeatThreshold, core.KindRepeatedConnections, now(d.Now))...)
	return alerts, nil
}

// ForestDetector flags statistical outliers over (packets, bytes, duration)
// and frequent sources.
type ForestDetector struct {
	Trees             int
	Contamination     float64
	MinSamples        int
	Seed              int64
	FrequentThreshold int

	Now func() time.Time
}

func (d *ForestDetector) Name() string { return "iforest" }

// Detect returns nothing for batches smaller than MinSamples.
func (d *ForestDetector) Detect(ctx context.Context, flows []core.Flow) ([]core.Alert, error) {
	if len(flows) < d.MinSamples {
		return nil, nil
	}

	X := make([][]float64, len(flows))
	for i, f := range flows {
		X[i] = []float64{float64(f.Packets), float64(f.Bytes), float64(f.Duration)}
	}
	trees := d.Trees
	if trees <= 0 {
		trees = 100
	}
	forest := &IsolationForest{
		Trees:         trees,
		Contamination: d.Contamination,
		Seed:          d.Seed,
	}
	forest.Fit(X)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scores := forest.Scores(X)
	outliers := forest.Predict(X)

	var alerts []core.Alert
	for i, f := range flows {
		if outliers[i] {
			alerts = append(alerts, flowAlert(core.KindMLAnomaly, f).
				WithAttr("anomaly_score", scores[i]))
		}
	}
	alerts = append(alerts, sourceAlerts(flows, d.FrequentThreshold, core.KindFrequentSource, now(d.Now))...)
	return alerts, nil
}

func flowAlert(kind core.AlertKind, f core.Flow) core.Alert {
	return core.NewAlert(kind, f.SrcIP, core.SeverityHigh, f.Timestamp).
		WithAttr("dst_port", f.DstPort).
		WithAttr("packets", f.Packets).
		WithAttr("bytes", f.Bytes)
}

// sourceAlerts emits one medium alert per source seen more than limit times,
// busiest first.
func sourceAlerts(flows []core.Flow, limit int, kind core.AlertKind, at time.Time) []core.Alert {
	counts := make(map[string]int)
	for _, f := range flows {
		counts[f.SrcIP]++
	}

	type sourceCount struct {
		ip string
		n  int
	}
	var hot []sourceCount
	for ip, n := range counts {
		if n > limit {
			hot = append(hot, sourceCount{ip, n})
		}
	}
	sort.Slice(hot, func(i, j int) bool {
		if hot[i].n != hot[j].n {
			return hot[i].n > hot[j].n
		}
		return hot[i].ip < hot[j].ip
	})

	alerts := make([]core.Alert, 0, len(hot))
	for _, h := range hot {
		alerts = append(alerts, core.NewAlert(kind, h.ip, core.SeverityMedium, at).
			WithAttr("requests", h.n))
	}
	return alerts
}

func now(clock func() time.Time) time.Time {
	if clock != nil {
		return clock()
	}
	return time.Now()
}
