package core

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Bus subjects.
const (
	AuditSubjectPrefix = "fw.audit"
	AlertSubjectPrefix = "fw.alerts"
)

// EventBus wraps NATS JetStream. Committed audit entries are published on
// fw.audit.<change_kind>; alert batches can be consumed from fw.alerts.>.
type EventBus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	ns     *server.Server
	logger zerolog.Logger
	mu     sync.RWMutex
	subs   []*nats.Subscription

	metrics busCounters
}

type busCounters struct {
	mu             sync.Mutex
	auditPublished int64
	publishFailed  int64
	alertBatches   int64
	badMessages    int64
}

// NewEventBus connects to NATS, starting an embedded server when cfg.Embedded is set.
func NewEventBus(cfg *BusConfig, logger zerolog.Logger) (*EventBus, error) {
	bus := &EventBus{
		logger: logger.With().Str("component", "event_bus").Logger(),
		subs:   make([]*nats.Subscription, 0),
	}

	url := cfg.URL
	if cfg.Embedded {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating NATS data dir: %w", err)
		}

		ns, err := server.NewServer(&server.Options{
			Host:      "127.0.0.1",
			Port:      cfg.Port,
			JetStream: true,
			StoreDir:  cfg.DataDir,
			NoLog:     true,
			NoSigs:    true,
		})
		if err != nil {
			return nil, fmt.Errorf("creating embedded NATS server: %w", err)
		}
		ns.Start()
		if !ns.ReadyForConnections(10 * time.Second) {
			ns.Shutdown()
			return nil, fmt.Errorf("embedded NATS server failed to start within timeout")
		}
		bus.ns = ns
		url = ns.ClientURL()
		bus.logger.Info().Str("url", url).Msg("embedded NATS server started")
	}

	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				bus.logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			bus.logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		bus.shutdownServer()
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	bus.nc = nc

	js, err := nc.JetStream()
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}
	bus.js = js

	streams := []*nats.StreamConfig{
		{
			Name:      "FIREWALL_AUDIT",
			Subjects:  []string{AuditSubjectPrefix + ".>"},
			Retention: nats.LimitsPolicy,
			MaxAge:    24 * time.Hour * 30,
			MaxBytes:  256 * 1024 * 1024,
			Storage:   nats.FileStorage,
			Discard:   nats.DiscardOld,
		},
		{
			Name:      "FIREWALL_ALERTS",
			Subjects:  []string{AlertSubjectPrefix + ".>"},
			Retention: nats.LimitsPolicy,
			MaxAge:    24 * time.Hour * 7,
			MaxBytes:  256 * 1024 * 1024,
			Storage:   nats.FileStorage,
			Discard:   nats.DiscardOld,
		},
	}
	for _, sc := range streams {
		if _, err := js.AddStream(sc); err != nil {
			// an existing stream with an older config is updated in place
			if _, updateErr := js.UpdateStream(sc); updateErr != nil {
				bus.Close()
				return nil, fmt.Errorf("creating/updating stream %s: %w (original: %v)", sc.Name, updateErr, err)
			}
		}
	}

	bus.logger.Info().Str("url", url).Msg("connected to NATS JetStream")
	return bus, nil
}

// PublishAuditEntry publishes one committed audit entry.
func (b *EventBus) PublishAuditEntry(entry AuditEntry) error {
	data, err := entry.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", AuditSubjectPrefix, entry.Kind)
	if _, err := b.js.Publish(subject, data); err != nil {
		b.metrics.mu.Lock()
		b.metrics.publishFailed++
		b.metrics.mu.Unlock()
		return fmt.Errorf("publishing audit entry to %s: %w", subject, err)
	}

	b.metrics.mu.Lock()
	b.metrics.auditPublished++
	b.metrics.mu.Unlock()

	b.logger.Debug().
		Str("entry_id", entry.ID).
		Str("subject", subject).
		Str("source_id", entry.Rule.SourceID).
		Msg("audit entry published")
	return nil
}

// PublishAlerts publishes an alert batch on fw.alerts.<topic>.
func (b *EventBus) PublishAlerts(topic string, alerts []Alert) error {
	data, err := marshalAlertBatch(alerts)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("%s.%s", AlertSubjectPrefix, topic)
	if _, err := b.js.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing alerts to %s: %w", subject, err)
	}
	return nil
}

// Subscribe creates a durable subscription to a subject pattern.
func (b *EventBus) Subscribe(subject, durableName string, handler func(msg *nats.Msg)) error {
	opts := []nats.SubOpt{nats.DeliverNew(), nats.AckExplicit()}
	if durableName != "" {
		opts = append(opts, nats.Durable(durableName))
	}
	sub, err := b.js.Subscribe(subject, handler, opts...)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.logger.Debug().Str("subject", subject).Str("durable", durableName).Msg("subscribed")
	return nil
}

// SubscribeAlerts decodes alert batches from subject and hands them to handler.
// A batch is acked only when handler succeeds, so a failed cycle is redelivered.
func (b *EventBus) SubscribeAlerts(subject string, handler func(alerts []Alert) error) error {
	return b.Subscribe(subject, "adaptivefw-alert-intake", func(msg *nats.Msg) {
		alerts, err := UnmarshalAlerts(msg.Data)
		if err != nil {
			b.logger.Error().Err(err).Str("subject", msg.Subject).Msg("dropping undecodable alert batch")
			b.metrics.mu.Lock()
			b.metrics.badMessages++
			b.metrics.mu.Unlock()
			_ = msg.Term()
			return
		}
		if err := handler(alerts); err != nil {
			b.logger.Error().Err(err).Int("alerts", len(alerts)).Msg("alert batch failed, requesting redelivery")
			_ = msg.Nak()
			return
		}
		b.metrics.mu.Lock()
		b.metrics.alertBatches++
		b.metrics.mu.Unlock()
		_ = msg.Ack()
	})
}

// Close shuts down subscriptions, the connection and any embedded server.
func (b *EventBus) Close() error {
	b.mu.Lock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	b.mu.Unlock()

	if b.nc != nil {
		b.nc.Close()
	}
	b.shutdownServer()
	return nil
}

func (b *EventBus) shutdownServer() {
	if b.ns != nil {
		b.ns.Shutdown()
		b.ns.WaitForShutdown()
		b.ns = nil
		b.logger.Info().Msg("embedded NATS server stopped")
	}
}

// IsConnected returns true if the NATS connection is active.
func (b *EventBus) IsConnected() bool {
	return b != nil && b.nc != nil && b.nc.IsConnected()
}

// GetMetrics returns a snapshot of bus counters; nil when the bus is disabled.
func (b *EventBus) GetMetrics() map[string]int64 {
	if b == nil {
		return nil
	}
	b.metrics.mu.Lock()
	defer b.metrics.mu.Unlock()
	return map[string]int64{
		"audit_published": b.metrics.auditPublished,
		"publish_failed":  b.metrics.publishFailed,
		"alert_batches":   b.metrics.alertBatches,
		"bad_messages":    b.metrics.badMessages,
	}
}
