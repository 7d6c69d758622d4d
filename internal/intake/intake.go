// Package intake feeds external alert batches and periodic sweeps into the
// engine. Every source runs one intake cycle per batch and only acknowledges
// the batch once the cycle has committed.
package intake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adaptivefw/adaptivefw/internal/core"
	"github.com/rs/zerolog"
)

// Ingester runs an intake cycle. *core.Engine implements it.
type Ingester interface {
	Ingest(ctx context.Context, alerts []core.Alert) (core.CycleResult, error)
	Sweep(ctx context.Context) (core.CycleResult, error)
}

// deliveryIngester is implemented by sinks that drop alerts redelivered by an
// at-least-once transport.
type deliveryIngester interface {
	IngestDelivery(ctx context.Context, alerts []core.Alert) (core.CycleResult, error)
}

// ingestDelivered runs a cycle for a Kafka or JetStream batch.
func ingestDelivered(ctx context.Context, sink Ingester, alerts []core.Alert) (core.CycleResult, error) {
	if d, ok := sink.(deliveryIngester); ok {
		return d.IngestDelivery(ctx, alerts)
	}
	return sink.Ingest(ctx, alerts)
}

// Service owns the configured alert sources.
type Service struct {
	cfg    core.IntakeConfig
	sink   Ingester
	bus    *core.EventBus
	logger zerolog.Logger

	kafka  *KafkaSource
	syslog *SyslogSource
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the intake service. bus may be nil when the event bus is disabled.
func New(cfg core.IntakeConfig, sink Ingester, bus *core.EventBus, logger zerolog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		sink:   sink,
		bus:    bus,
		logger: logger.With().Str("component", "intake").Logger(),
	}
}

// Start launches the configured sources: sweep ticker, NATS subscription,
// syslog listener and Kafka consumer.
func (s *Service) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	if s.cfg.SweepInterval != "" {
		interval, err := time.ParseDuration(s.cfg.SweepInterval)
		if err != nil {
			return fmt.Errorf("parsing intake.sweep_interval %q: %w", s.cfg.SweepInterval, err)
		}
		if interval <= 0 {
			return fmt.Errorf("intake.sweep_interval must be positive, got %s", interval)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			RunSweeper(ctx, s.sink, interval, s.logger)
		}()
		s.logger.Info().Dur("interval", interval).Msg("periodic sweep enabled")
	}

	if s.cfg.NATSSubject != "" {
		if s.bus == nil {
			return fmt.Errorf("intake.nats_subject %q requires the event bus", s.cfg.NATSSubject)
		}
		err := s.bus.SubscribeAlerts(s.cfg.NATSSubject, func(alerts []core.Alert) error {
			_, err := ingestDelivered(ctx, s.sink, alerts)
			return err
		})
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", s.cfg.NATSSubject, err)
		}
		s.logger.Info().Str("subject", s.cfg.NATSSubject).Msg("NATS alert intake enabled")
	}

	if s.cfg.Syslog.Enabled {
		src, err := NewSyslogSource(s.cfg.Syslog, s.sink, s.logger)
		if err != nil {
			return err
		}
		if err := src.Start(ctx); err != nil {
			return err
		}
		s.syslog = src
	}

	if s.cfg.Kafka.Enabled {
		s.kafka = NewKafkaSource(s.cfg.Kafka, s.sink, s.logger)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.kafka.Run(ctx); err != nil {
				s.logger.Error().Err(err).Msg("kafka intake stopped")
			}
		}()
	}
	return nil
}

// Stop cancels every source and waits for in-flight cycles.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if s.syslog != nil {
		s.syslog.Wait()
	}
	if s.kafka != nil {
		s.kafka.Close()
	}
}

// RunSweeper runs an alert-less cycle every interval until ctx is done.
func RunSweeper(ctx context.Context, sink Ingester, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := sink.Sweep(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("periodic sweep failed")
				continue
			}
			if len(result.Entries) > 0 {
				logger.Info().Int("expired", len(result.Entries)).Msg("periodic sweep")
			}
		}
	}
}
