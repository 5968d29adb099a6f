package outbox

import (
	"context"
	"time"

	"github.com/fjod/go_cinema/internal/domain"
	"github.com/fjod/go_cinema/internal/metrics"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const batchSize = 100

// Store is the part of the ledger the relay reads from.
type Store interface {
	FetchUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id int64) error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Relay moves committed outbox rows to Kafka. Delivery is at-least-once: an
// event written to the broker but not marked published is sent again on the
// next tick.
type Relay struct {
	tick    time.Duration
	store   Store
	writer  MessageWriter
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewKafkaWriter(topic string, brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
}

func NewRelay(store Store, writer MessageWriter, log *zap.Logger, m *metrics.Metrics) *Relay {
	return &Relay{tick: time.Second, store: store, writer: writer, log: log, metrics: m}
}

func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.publishPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// publishPending returns the number of events published in this pass.
func (r *Relay) publishPending(ctx context.Context) int {
	events, err := r.store.FetchUnpublished(ctx, batchSize)
	if err != nil {
		r.log.Error("failed to fetch outbox events", zap.Error(err))
		return 0
	}

	published := 0
	for _, event := range events {
		if err := r.writer.WriteMessages(ctx, toMessage(event)); err != nil {
			r.log.Error("failed to publish outbox event", zap.Int64("event_id", event.ID), zap.Error(err))
			// Later events for the same order must not overtake this one.
			return published
		}
		if err := r.store.MarkPublished(ctx, event.ID); err != nil {
			r.log.Error("failed to mark outbox event published", zap.Int64("event_id", event.ID), zap.Error(err))
			return published
		}
		r.metrics.Published()
		published++
	}
	return published
}

func (r *Relay) Close() error {
	return r.writer.Close()
}

func toMessage(event *domain.OutboxEvent) kafka.Message {
	return kafka.Message{
		Key:   []byte(event.AggregateID), // order id keeps per-order ordering
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
}
