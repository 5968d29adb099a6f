package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cinema/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrder(userID string, movieIDs ...int64) *domain.Order {
	now := time.Now().UTC()
	o := &domain.Order{
		ID:          uuid.New(),
		UserID:      userID,
		Status:      domain.OrderStatusCreated,
		TotalAmount: decimal.Zero,
		Currency:    "USD",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, id := range movieIDs {
		price := decimal.RequireFromString("9.99")
		o.Items = append(o.Items, domain.OrderItem{MovieID: id, MovieName: "movie", Quantity: 1, UnitPrice: price})
		o.TotalAmount = o.TotalAmount.Add(price)
	}
	return o
}

func TestMemoryLedger_CreateAndGet(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	o := newTestOrder("user-1", 1)

	require.NoError(t, l.CreateOrder(ctx, o))

	got, err := l.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.True(t, o.TotalAmount.Equal(got.TotalAmount))

	// returned copies must not alias ledger state
	got.Items[0].UnitPrice = decimal.NewFromInt(1)
	again, err := l.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("9.99").Equal(again.Items[0].UnitPrice))

	_, err = l.GetOrder(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestMemoryLedger_OneOpenOrderPerUser(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	require.NoError(t, l.CreateOrder(ctx, newTestOrder("user-1", 1)))
	err := l.CreateOrder(ctx, newTestOrder("user-1", 2))
	assert.ErrorIs(t, err, domain.ErrUnpaidOrderExists)

	open, err := l.HasOpenOrder(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, open)

	open, err = l.HasOpenOrder(ctx, "user-2")
	require.NoError(t, err)
	assert.False(t, open)
}

func TestMemoryLedger_WithOrderLock_RollsBackOnError(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	o := newTestOrder("user-1", 1)
	require.NoError(t, l.CreateOrder(ctx, o))

	boom := errors.New("boom")
	err := l.WithOrderLock(ctx, o.ID, func(tx OrderTx) error {
		require.NoError(t, tx.Order().Cancel())
		require.NoError(t, tx.SaveOrder(ctx))
		require.NoError(t, tx.AppendOutbox(ctx, o.ID.String(), domain.EventTypeOrderStatusChanged, []byte(`{}`)))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := l.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCreated, got.Status)

	events, err := l.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemoryLedger_WithOrderLock_UnknownOrder(t *testing.T) {
	l := NewMemoryLedger()
	err := l.WithOrderLock(context.Background(), uuid.New(), func(OrderTx) error { return nil })
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestMemoryLedger_WithOrderLock_SerializesPerOrder(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	o := newTestOrder("user-1", 1)
	require.NoError(t, l.CreateOrder(ctx, o))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithOrderLock(ctx, o.ID, func(tx OrderTx) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Empty(t, l.locks.locks, "lock entries must be released")
}

func TestMemoryLedger_WithOrderLock_ContextCancelled(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	o := newTestOrder("user-1", 1)
	require.NoError(t, l.CreateOrder(ctx, o))

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = l.WithOrderLock(ctx, o.ID, func(OrderTx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := l.WithOrderLock(waitCtx, o.ID, func(OrderTx) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestMemoryLedger_OnePendingAttempt(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	o := newTestOrder("user-1", 1)
	require.NoError(t, l.CreateOrder(ctx, o))

	err := l.WithOrderLock(ctx, o.ID, func(tx OrderTx) error {
		require.NoError(t, tx.InsertAttempt(ctx, domain.NewPaymentAttempt(tx.Order(), "sandbox")))
		return tx.InsertAttempt(ctx, domain.NewPaymentAttempt(tx.Order(), "sandbox"))
	})
	assert.ErrorIs(t, err, domain.ErrOrderNotPayable)

	attempts, err := l.ListAttempts(ctx, o.ID)
	require.NoError(t, err)
	assert.Empty(t, attempts)
}

func TestMemoryLedger_AttemptLookupAndWebhookDedup(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	o := newTestOrder("user-1", 1)
	require.NoError(t, l.CreateOrder(ctx, o))

	attempt := domain.NewPaymentAttempt(o, "sandbox")
	require.NoError(t, l.WithOrderLock(ctx, o.ID, func(tx OrderTx) error {
		attempt.ProviderReference = "ref-1"
		return tx.InsertAttempt(ctx, attempt)
	}))

	found, err := l.FindAttemptByReference(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, attempt.ID, found.ID)

	_, err = l.FindAttemptByReference(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrUnknownPaymentAttempt)

	require.NoError(t, l.WithOrderLock(ctx, o.ID, func(tx OrderTx) error {
		seen, err := tx.WebhookProcessed(ctx, "evt-1")
		require.NoError(t, err)
		assert.False(t, seen)
		return tx.RecordWebhook(ctx, domain.ProcessedWebhook{EventID: "evt-1", AttemptID: attempt.ID})
	}))

	require.NoError(t, l.WithOrderLock(ctx, o.ID, func(tx OrderTx) error {
		seen, err := tx.WebhookProcessed(ctx, "evt-1")
		require.NoError(t, err)
		assert.True(t, seen)
		return nil
	}))

	byUser, err := l.ListAttemptsByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, byUser, 1)
}

func TestMemoryLedger_HasPurchased(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	o := newTestOrder("user-1", 7)
	o.Status = domain.OrderStatusPaid
	require.NoError(t, l.CreateOrder(ctx, o))

	bought, err := l.HasPurchased(ctx, "user-1", 7)
	require.NoError(t, err)
	assert.True(t, bought)

	bought, err = l.HasPurchased(ctx, "user-1", 8)
	require.NoError(t, err)
	assert.False(t, bought)
}

func TestMemoryLedger_ListOrders(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 25; i++ {
		o := newTestOrder("user-1", int64(i+1))
		o.Status = domain.OrderStatusPaid
		o.CreatedAt = base.Add(time.Duration(i) * 24 * time.Hour)
		require.NoError(t, l.CreateOrder(ctx, o))
	}
	other := newTestOrder("user-2", 1)
	require.NoError(t, l.CreateOrder(ctx, other))

	page, total, err := l.ListOrders(ctx, OrderFilter{UserID: "user-1", Page: 1, PerPage: 100})
	require.NoError(t, err)
	assert.Equal(t, 25, total)
	assert.Len(t, page, MaxPerPage)
	assert.True(t, page[0].CreatedAt.After(page[1].CreatedAt), "newest first")

	page, _, err = l.ListOrders(ctx, OrderFilter{UserID: "user-1", Page: 2, PerPage: 20})
	require.NoError(t, err)
	assert.Len(t, page, 5)

	page, total, err = l.ListOrders(ctx, OrderFilter{Status: domain.OrderStatusCreated})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, other.ID, page[0].ID)

	_, total, err = l.ListOrders(ctx, OrderFilter{UserID: "user-1", Date: base.Add(24 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func insertAttempt(t *testing.T, l Ledger, userID string, status domain.AttemptStatus, createdAt time.Time) *domain.PaymentAttempt {
	t.Helper()
	ctx := context.Background()
	o := newTestOrder(userID, 1)
	o.Status = domain.OrderStatusPaid
	require.NoError(t, l.CreateOrder(ctx, o))

	a := domain.NewPaymentAttempt(o, "sandbox")
	a.ProviderReference = "ref-" + a.ID.String()
	a.Status = status
	a.CreatedAt = createdAt
	require.NoError(t, l.WithOrderLock(ctx, o.ID, func(tx OrderTx) error {
		return tx.InsertAttempt(ctx, a)
	}))
	return a
}

func TestMemoryLedger_SearchAttempts(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := insertAttempt(t, l, "user-1", domain.AttemptStatusSucceeded, base)
	second := insertAttempt(t, l, "user-1", domain.AttemptStatusFailed, base.Add(48*time.Hour))
	third := insertAttempt(t, l, "user-2", domain.AttemptStatusSucceeded, base.Add(96*time.Hour))

	all, total, err := l.SearchAttempts(ctx, AttemptFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, all, 3)
	assert.Equal(t, third.ID, all[0].ID, "newest first")

	byUser, total, err := l.SearchAttempts(ctx, AttemptFilter{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, second.ID, byUser[0].ID)

	succeeded, _, err := l.SearchAttempts(ctx, AttemptFilter{Status: domain.AttemptStatusSucceeded})
	require.NoError(t, err)
	assert.Len(t, succeeded, 2)

	window, total, err := l.SearchAttempts(ctx, AttemptFilter{From: base.Add(-time.Hour), To: base.Add(72 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.ElementsMatch(t, []uuid.UUID{first.ID, second.ID}, []uuid.UUID{window[0].ID, window[1].ID})

	page, total, err := l.SearchAttempts(ctx, AttemptFilter{Page: 2, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, first.ID, page[0].ID)

	empty, _, err := l.SearchAttempts(ctx, AttemptFilter{Page: 3, PerPage: 2})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryLedger_Outbox(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	o := newTestOrder("user-1", 1)
	require.NoError(t, l.CreateOrder(ctx, o))

	require.NoError(t, l.WithOrderLock(ctx, o.ID, func(tx OrderTx) error {
		require.NoError(t, tx.AppendOutbox(ctx, o.ID.String(), domain.EventTypeOrderStatusChanged, []byte(`{"a":1}`)))
		return tx.AppendOutbox(ctx, o.ID.String(), domain.EventTypeOrderStatusChanged, []byte(`{"a":2}`))
	}))

	events, err := l.FetchUnpublished(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].ID)

	require.NoError(t, l.MarkPublished(ctx, events[0].ID))

	events, err = l.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"a":2}`, string(events[0].Payload))
}
