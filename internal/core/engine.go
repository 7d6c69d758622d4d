package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoDetector is returned by Simulate when the engine has no detector wired.
var ErrNoDetector = errors.New("no detector configured")

// Engine wires the rule manager to its collaborators: persistence, the NATS
// bus, metrics, the detector used for simulations and the cloud apply mock.
type Engine struct {
	Config    *Config
	Manager   *Manager
	Metrics   *Metrics
	Cloud     *CloudApplier
	Bus       *EventBus
	Logs      *LogRingBuffer
	Dedup     *AlertDedup
	Logger    zerolog.Logger
	Persister Persister
	Detector  Detector

	// Now is the engine clock. Tests replace it.
	Now func() time.Time

	// cfgMu guards the Config fields ReloadConfig may change at runtime.
	cfgMu sync.RWMutex

	mu         sync.RWMutex
	lastFlows  []Flow
	lastAlerts []Alert
	startTime  time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// SimulationResult summarizes one simulate, detect, process run.
type SimulationResult struct {
	Flows   int         `json:"flows"`
	Packets int         `json:"packets"`
	Alerts  []Alert     `json:"alerts"`
	Cycle   CycleResult `json:"cycle"`
}

// EngineStatus is the live view served by the status endpoint.
type EngineStatus struct {
	ActiveRules    int                `json:"active_rules"`
	BlockedSources int                `json:"blocked_sources"`
	LastPackets    int                `json:"last_simulation_packets"`
	AuditEntries   int                `json:"audit_entries"`
	ChangeCounts   map[ChangeKind]int `json:"change_counts"`
	StorageDriver  string             `json:"storage_driver"`
	Detector       string             `json:"detector,omitempty"`
	BusConnected   bool               `json:"bus_connected"`
	CloudProvider  string             `json:"cloud_provider"`
	UptimeSeconds  float64            `json:"uptime_seconds"`
}

// NewLogger builds the process logger from the logging config. Output also
// feeds buf when it is non-nil. The level is set process-wide through
// SetLogLevel so a config reload reaches every derived logger.
func NewLogger(cfg LoggingConfig, out io.Writer, buf *LogRingBuffer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}
	var w io.Writer = out
	if cfg.Format != "json" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	if buf != nil {
		w = io.MultiWriter(w, buf)
	}
	SetLogLevel(cfg.Level)
	return zerolog.New(w).With().Timestamp().Logger()
}

// ParseLogLevel maps a config level name to a zerolog level, defaulting to info.
func ParseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetLogLevel changes the minimum level of every logger in the process.
func SetLogLevel(level string) {
	zerolog.SetGlobalLevel(ParseLogLevel(level))
}

// NewEngine creates an engine with an in-memory manager. Assign Persister and
// Detector before calling Start.
func NewEngine(cfg *Config) (*Engine, error) {
	logs := NewLogRingBuffer(500)
	logger := NewLogger(cfg.Logging, os.Stdout, logs)
	return NewEngineWithLogger(cfg, logger, logs)
}

// NewEngineWithLogger creates an engine that logs through logger.
func NewEngineWithLogger(cfg *Config, logger zerolog.Logger, logs *LogRingBuffer) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logs == nil {
		logs = NewLogRingBuffer(500)
	}

	var metrics *Metrics
	if cfg.Metrics.Enabled {
		metrics = NewMetrics(cfg.Metrics.Namespace)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		Config:  cfg,
		Manager: NewManager(logger, nil, metrics),
		Metrics: metrics,
		Cloud:   NewCloudApplier(cfg.Cloud.Provider, logger),
		Logs:    logs,
		Dedup:   NewAlertDedup(10*time.Minute, 50000),
		Logger:  logger.With().Str("component", "engine").Logger(),
		Now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start restores persisted state and connects the event bus.
func (e *Engine) Start() error {
	e.Logger.Info().Str("storage", e.Config.Storage.Driver).Msg("starting adaptivefw engine")

	if e.Persister != nil {
		e.Manager.persister = e.Persister
		if err := e.Manager.Restore(e.ctx); err != nil {
			return fmt.Errorf("restoring rule state: %w", err)
		}
	}

	if e.Config.Bus.Enabled {
		bus, err := NewEventBus(&e.Config.Bus, e.Logger)
		if err != nil {
			return fmt.Errorf("starting event bus: %w", err)
		}
		e.Bus = bus

		e.Manager.AddHandler(func(result CycleResult) {
			for _, entry := range result.Entries {
				if err := e.Bus.PublishAuditEntry(entry); err != nil {
					e.Logger.Error().Err(err).Str("entry_id", entry.ID).Msg("failed to publish audit entry")
				}
			}
		})
	}

	e.mu.Lock()
	e.startTime = time.Now()
	e.mu.Unlock()

	e.Logger.Info().
		Int("active_rules", e.Manager.RuleCount()).
		Bool("bus", e.Bus != nil).
		Msg("adaptivefw engine started")
	return nil
}

// Run starts the engine and blocks until a shutdown signal is received.
func (e *Engine) Run() error {
	if err := e.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		e.Logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case <-e.ctx.Done():
		e.Logger.Info().Msg("context cancelled")
	}

	return e.Shutdown()
}

// Shutdown stops the bus and closes the persister.
func (e *Engine) Shutdown() error {
	e.Logger.Info().Msg("shutting down adaptivefw engine")
	e.cancel()

	if e.Bus != nil {
		if err := e.Bus.Close(); err != nil {
			e.Logger.Error().Err(err).Msg("error closing event bus")
		}
	}
	if e.Persister != nil {
		if err := e.Persister.Close(); err != nil {
			e.Logger.Error().Err(err).Msg("error closing persister")
		}
	}

	e.Logger.Info().Msg("adaptivefw engine stopped")
	return nil
}

// AuthEnabled reports whether API keys are configured.
func (e *Engine) AuthEnabled() bool {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.Config.AuthEnabled()
}

// ValidateAPIKey checks key against the current API keys.
func (e *Engine) ValidateAPIKey(key string) bool {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.Config.ValidateAPIKey(key)
}

// ConfigSnapshot returns a copy of the running config that later reloads
// do not touch.
func (e *Engine) ConfigSnapshot() Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	cfg := *e.Config
	cfg.Server.APIKeys = append([]string(nil), e.Config.Server.APIKeys...)
	return cfg
}

// Context returns the engine's context.
func (e *Engine) Context() context.Context {
	return e.ctx
}

// Ingest runs one intake cycle for an externally supplied alert batch.
func (e *Engine) Ingest(ctx context.Context, alerts []Alert) (CycleResult, error) {
	result, err := e.Manager.Process(ctx, alerts, e.Now())
	if err != nil {
		return CycleResult{}, err
	}
	e.setLastAlerts(alerts)
	return result, nil
}

// IngestDelivery runs an intake cycle for a batch taken from an
// at-least-once transport. Alerts already committed with the same ID and
// content are dropped first and counted in CycleResult.Duplicates.
func (e *Engine) IngestDelivery(ctx context.Context, alerts []Alert) (CycleResult, error) {
	fresh := e.Dedup.Filter(alerts)
	dropped := len(alerts) - len(fresh)
	if dropped > 0 {
		e.Logger.Debug().Int("dropped", dropped).Msg("redelivered alerts dropped")
	}

	result, err := e.Manager.Process(ctx, fresh, e.Now())
	if err != nil {
		return CycleResult{}, err
	}
	e.Dedup.Mark(fresh)
	e.setLastAlerts(fresh)

	result.Duplicates = dropped
	return result, nil
}

func (e *Engine) setLastAlerts(alerts []Alert) {
	e.mu.Lock()
	e.lastAlerts = append([]Alert(nil), alerts...)
	e.mu.Unlock()
}

// Simulate runs the detector over flows and feeds its alerts through one
// intake cycle. The batch and alerts are kept for export.
func (e *Engine) Simulate(ctx context.Context, flows []Flow) (SimulationResult, error) {
	if e.Detector == nil {
		return SimulationResult{}, ErrNoDetector
	}

	alerts, err := e.Detector.Detect(ctx, flows)
	if err != nil {
		return SimulationResult{}, fmt.Errorf("running %s detector: %w", e.Detector.Name(), err)
	}

	cycle, err := e.Manager.Process(ctx, alerts, e.Now())
	if err != nil {
		return SimulationResult{}, err
	}

	packets := TotalPackets(flows)
	e.mu.Lock()
	e.lastFlows = append([]Flow(nil), flows...)
	e.lastAlerts = append([]Alert(nil), alerts...)
	e.mu.Unlock()
	e.Metrics.SetSimulationPackets(packets)

	e.Logger.Info().
		Str("detector", e.Detector.Name()).
		Int("flows", len(flows)).
		Int("packets", packets).
		Int("alerts", len(alerts)).
		Msg("simulation processed")

	return SimulationResult{
		Flows:   len(flows),
		Packets: packets,
		Alerts:  alerts,
		Cycle:   cycle,
	}, nil
}

// Sweep evicts expired rules at the engine clock.
func (e *Engine) Sweep(ctx context.Context) (CycleResult, error) {
	return e.Manager.Sweep(ctx, e.Now())
}

// ApplyToCloud pushes the active rules through the cloud apply mock.
func (e *Engine) ApplyToCloud() CloudApplyRecord {
	return e.Cloud.Apply(e.Manager.Rules(), e.Now())
}

// LastFlows returns the most recent simulated traffic batch.
func (e *Engine) LastFlows() []Flow {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Flow(nil), e.lastFlows...)
}

// LastAlerts returns the alerts of the most recent cycle fed by Ingest or Simulate.
func (e *Engine) LastAlerts() []Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Alert(nil), e.lastAlerts...)
}

// Status returns live counters.
func (e *Engine) Status() EngineStatus {
	st := EngineStatus{
		ActiveRules:    e.Manager.RuleCount(),
		BlockedSources: e.Manager.BlockedCount(),
		AuditEntries:   e.Manager.Audit().Len(),
		ChangeCounts:   e.Manager.Audit().CountByKind(),
		StorageDriver:  e.Config.Storage.Driver,
		BusConnected:   e.Bus.IsConnected(),
		CloudProvider:  e.Cloud.Provider(),
		UptimeSeconds:  e.Uptime().Seconds(),
	}
	if e.Detector != nil {
		st.Detector = e.Detector.Name()
	}
	e.mu.RLock()
	st.LastPackets = TotalPackets(e.lastFlows)
	e.mu.RUnlock()
	return st
}

// Uptime returns how long the engine has been running; zero before Start.
func (e *Engine) Uptime() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.startTime.IsZero() {
		return 0
	}
	return time.Since(e.startTime)
}
