package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/adaptivefw/adaptivefw/internal/core"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// messageReader is the subset of *kafka.Reader the source uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Retry delays for a cycle that failed to commit.
const (
	minRetryDelay = 500 * time.Millisecond
	maxRetryDelay = 30 * time.Second
)

// KafkaSource consumes alert batches from a topic. Each message is one
// intake cycle; its offset is committed only after the cycle commits.
type KafkaSource struct {
	reader messageReader
	sink   Ingester
	logger zerolog.Logger

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewKafkaSource creates a consumer-group reader for cfg.Topic.
func NewKafkaSource(cfg core.KafkaConfig, sink Ingester, logger zerolog.Logger) *KafkaSource {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MaxWait:  500 * time.Millisecond,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newKafkaSource(reader, sink, logger.With().Str("topic", cfg.Topic).Logger())
}

func newKafkaSource(reader messageReader, sink Ingester, logger zerolog.Logger) *KafkaSource {
	return &KafkaSource{
		reader: reader,
		sink:   sink,
		logger: logger.With().Str("source", "kafka").Logger(),
		sleep:  sleepCtx,
	}
}

// Run consumes until ctx is cancelled. Undecodable messages are committed
// and skipped. A batch whose cycle fails is retried with backoff, so later
// messages wait behind it.
func (k *KafkaSource) Run(ctx context.Context) error {
	k.logger.Info().Msg("kafka alert intake started")
	for {
		msg, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetching kafka message: %w", err)
		}

		if err := k.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (k *KafkaSource) handle(ctx context.Context, msg kafka.Message) error {
	alerts, err := core.UnmarshalAlerts(msg.Value)
	if err != nil {
		k.logger.Error().Err(err).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("skipping undecodable alert batch")
		return k.reader.CommitMessages(ctx, msg)
	}

	delay := minRetryDelay
	for {
		_, err := ingestDelivered(ctx, k.sink, alerts)
		if err == nil {
			break
		}
		k.logger.Error().Err(err).
			Int64("offset", msg.Offset).
			Dur("retry_in", delay).
			Msg("alert batch failed, retrying")
		if !k.sleep(ctx, delay) {
			return ctx.Err()
		}
		delay = min(delay*2, maxRetryDelay)
	}

	if err := k.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("committing offset %d: %w", msg.Offset, err)
	}
	k.logger.Debug().Int("alerts", len(alerts)).Int64("offset", msg.Offset).Msg("alert batch committed")
	return nil
}

// Close closes the reader.
func (k *KafkaSource) Close() error {
	return k.reader.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// KafkaPublisher writes alert batches to a topic, one message per batch.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a writer for topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}}
}

// Publish sends alerts as a single JSON array message.
func (p *KafkaPublisher) Publish(ctx context.Context, alerts []core.Alert) error {
	if alerts == nil {
		alerts = []core.Alert{}
	}
	data, err := json.Marshal(alerts)
	if err != nil {
		return fmt.Errorf("encoding alert batch: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Value: data})
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
