package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cinema/internal/domain"
	"github.com/fjod/go_cinema/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"go.uber.org/zap"
)

type mockStore struct {
	m         sync.Mutex
	events    []*domain.OutboxEvent
	published []int64
	fetchErr  error
	markErr   error
}

func (s *mockStore) FetchUnpublished(_ context.Context, limit int) ([]*domain.OutboxEvent, error) {
	s.m.Lock()
	defer s.m.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	var out []*domain.OutboxEvent
	for _, ev := range s.events {
		if s.isPublished(ev.ID) {
			continue
		}
		out = append(out, ev)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *mockStore) MarkPublished(_ context.Context, id int64) error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	s.published = append(s.published, id)
	return nil
}

func (s *mockStore) isPublished(id int64) bool {
	for _, p := range s.published {
		if p == id {
			return true
		}
	}
	return false
}

func (s *mockStore) publishedIDs() []int64 {
	s.m.Lock()
	defer s.m.Unlock()
	return append([]int64(nil), s.published...)
}

type mockWriter struct {
	m        sync.Mutex
	messages []kafkaGo.Message
	failOn   string
}

func (w *mockWriter) WriteMessages(_ context.Context, msgs ...kafkaGo.Message) error {
	w.m.Lock()
	defer w.m.Unlock()
	for _, msg := range msgs {
		if string(msg.Key) == w.failOn {
			return errors.New("broker unavailable")
		}
		w.messages = append(w.messages, msg)
	}
	return nil
}

func (w *mockWriter) Close() error {
	return nil
}

func event(id int64, orderID string) *domain.OutboxEvent {
	payload, _ := json.Marshal(domain.OrderStatusChanged{OrderID: orderID, Status: domain.OrderStatusPaid})
	return &domain.OutboxEvent{
		ID:          id,
		AggregateID: orderID,
		EventType:   domain.EventTypeOrderStatusChanged,
		Payload:     payload,
		CreatedAt:   time.Now(),
	}
}

func TestPublishPending_WritesAndMarks(t *testing.T) {
	store := &mockStore{events: []*domain.OutboxEvent{event(1, "order-1"), event(2, "order-2")}}
	writer := &mockWriter{}
	m := metrics.New(prometheus.NewRegistry())
	relay := NewRelay(store, writer, zap.NewNop(), m)

	n := relay.publishPending(context.Background())
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 2}, store.publishedIDs())

	require.Len(t, writer.messages, 2)
	msg := writer.messages[0]
	assert.Equal(t, "order-1", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, domain.EventTypeOrderStatusChanged, string(msg.Headers[0].Value))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.OutboxPublished))

	assert.Equal(t, 0, relay.publishPending(context.Background()), "published events are not sent twice")
}

func TestPublishPending_StopsAtFirstFailure(t *testing.T) {
	store := &mockStore{events: []*domain.OutboxEvent{event(1, "order-1"), event(2, "order-2"), event(3, "order-3")}}
	writer := &mockWriter{failOn: "order-2"}
	relay := NewRelay(store, writer, zap.NewNop(), nil)

	n := relay.publishPending(context.Background())
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{1}, store.publishedIDs())

	writer.failOn = ""
	n = relay.publishPending(context.Background())
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 2, 3}, store.publishedIDs())
}

func TestPublishPending_FetchError(t *testing.T) {
	store := &mockStore{fetchErr: errors.New("database connection error")}
	writer := &mockWriter{}
	relay := NewRelay(store, writer, zap.NewNop(), nil)

	assert.Equal(t, 0, relay.publishPending(context.Background()))
	assert.Empty(t, writer.messages)
}

func TestPublishPending_MarkErrorRetriesEvent(t *testing.T) {
	store := &mockStore{events: []*domain.OutboxEvent{event(1, "order-1")}, markErr: errors.New("deadlock")}
	writer := &mockWriter{}
	relay := NewRelay(store, writer, zap.NewNop(), nil)

	assert.Equal(t, 0, relay.publishPending(context.Background()))

	store.m.Lock()
	store.markErr = nil
	store.m.Unlock()
	assert.Equal(t, 1, relay.publishPending(context.Background()))
	assert.Len(t, writer.messages, 2, "delivery is at least once")
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	store := &mockStore{events: []*domain.OutboxEvent{event(1, "order-1")}}
	relay := NewRelay(store, &mockWriter{}, zap.NewNop(), nil)
	relay.tick = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(store.publishedIDs()) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func setupKafka(t *testing.T) (string, func()) {
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers, "broker address should not be empty")

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	}

	return brokers[0], cleanup
}

func createTopic(t *testing.T, brokerAddr, topic string) {
	conn, err := kafkaGo.Dial("tcp", brokerAddr)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkaGo.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkaGo.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		t.Logf("topic creation error (may already exist): %v", err)
	}
}

func TestRelay_PublishesToKafka(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	brokerAddr, cleanup := setupKafka(t)
	defer cleanup()

	createTopic(t, brokerAddr, "order-events")
	time.Sleep(5 * time.Second)

	store := &mockStore{events: []*domain.OutboxEvent{event(1, "order-123")}}
	writer := &kafkaGo.Writer{
		Addr:         kafkaGo.TCP(brokerAddr),
		Topic:        "order-events",
		Balancer:     &kafkaGo.LeastBytes{},
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}
	relay := NewRelay(store, writer, zap.NewNop(), nil)
	defer relay.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	go relay.Run(ctx)

	reader := kafkaGo.NewReader(kafkaGo.ReaderConfig{
		Brokers:  []string{brokerAddr},
		Topic:    "order-events",
		GroupID:  "test-consumer",
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	msg, err := reader.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "order-123", string(msg.Key))

	var payload domain.OrderStatusChanged
	require.NoError(t, json.Unmarshal(msg.Value, &payload))
	assert.Equal(t, "order-123", payload.OrderID)
	assert.Equal(t, domain.OrderStatusPaid, payload.Status)

	require.Eventually(t, func() bool {
		return len(store.publishedIDs()) == 1
	}, 5*time.Second, 100*time.Millisecond)
}
