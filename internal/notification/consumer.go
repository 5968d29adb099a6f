package notification

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fjod/go_cinema/internal/domain"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer turns order.status_changed events into customer emails.
type Consumer struct {
	reader     MessageReader
	notifier   Notifier
	log        *zap.Logger
	retryDelay time.Duration
}

const defaultRetryDelay = time.Second

func NewKafkaReader(topic, groupID string, brokers ...string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
}

func NewConsumer(reader MessageReader, notifier Notifier, log *zap.Logger) *Consumer {
	return &Consumer{reader: reader, notifier: notifier, log: log, retryDelay: defaultRetryDelay}
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.processMessage(ctx)
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.log.Error("error closing kafka reader", zap.Error(err))
	}
}

func (c *Consumer) processMessage(ctx context.Context) {
	m, err := c.reader.ReadMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		c.log.Error("error reading message", zap.Error(err))
		// broker outages surface as immediate errors
		select {
		case <-ctx.Done():
		case <-time.After(c.retryDelay):
		}
		return
	}

	if t := eventType(m); t != "" && t != domain.EventTypeOrderStatusChanged {
		c.log.Debug("skipping event", zap.String("event_type", t))
		return
	}

	var event domain.OrderStatusChanged
	if err := json.Unmarshal(m.Value, &event); err != nil {
		c.log.Error("error parsing message", zap.String("key", string(m.Key)), zap.Error(err))
		return
	}
	c.handle(ctx, event)
}

func (c *Consumer) handle(ctx context.Context, event domain.OrderStatusChanged) {
	log := c.log.With(zap.String("order_id", event.OrderID), zap.String("status", event.Status.String()))
	if event.Email == "" {
		log.Warn("no customer email on event, skipping")
		return
	}

	subject, body, ok, err := Render(event)
	if err != nil {
		log.Error("failed to render notification", zap.Error(err))
		return
	}
	if !ok {
		return
	}

	// Delivery failures are logged and not retried; the order state is already final.
	if err := c.notifier.Notify(ctx, event.Email, subject, body); err != nil {
		log.Error("failed to send notification", zap.Error(err))
		return
	}
	log.Info("notification sent")
}

func eventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == "event_type" {
			return string(h.Value)
		}
	}
	return ""
}
