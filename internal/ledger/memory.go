package ledger

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/fjod/go_cinema/internal/domain"
	"github.com/google/uuid"
)

// MemoryLedger implements Ledger in process memory. Orders are serialized by a
// mutex keyed by order id; staged writes are applied atomically on commit.
type MemoryLedger struct {
	mu        sync.RWMutex
	orders    map[uuid.UUID]*domain.Order
	attempts  map[uuid.UUID]*domain.PaymentAttempt
	webhooks  map[string]domain.ProcessedWebhook
	outbox    []*domain.OutboxEvent
	published map[int64]bool
	nextEvent int64

	locks *keyedMutex
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		orders:    make(map[uuid.UUID]*domain.Order),
		attempts:  make(map[uuid.UUID]*domain.PaymentAttempt),
		webhooks:  make(map[string]domain.ProcessedWebhook),
		published: make(map[int64]bool),
		locks:     newKeyedMutex(),
	}
}

func (l *MemoryLedger) CreateOrder(_ context.Context, order *domain.Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.orders[order.ID]; ok {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	if order.Status.IsOpen() && l.hasOpenOrderLocked(order.UserID, order.ID) {
		return domain.ErrUnpaidOrderExists
	}
	l.orders[order.ID] = copyOrder(order)
	return nil
}

func (l *MemoryLedger) GetOrder(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	o, ok := l.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (l *MemoryLedger) ListOrders(_ context.Context, filter OrderFilter) ([]*domain.Order, int, error) {
	f := filter.normalized()

	l.mu.RLock()
	matched := make([]*domain.Order, 0)
	for _, o := range l.orders {
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if !f.Date.IsZero() && !sameDay(o.CreatedAt, f.Date) {
			continue
		}
		matched = append(matched, copyOrder(o))
	}
	l.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := f.offset()
	if start >= total {
		return []*domain.Order{}, total, nil
	}
	end := start + f.PerPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (l *MemoryLedger) ListAttempts(_ context.Context, orderID uuid.UUID) ([]*domain.PaymentAttempt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.attemptsWhere(func(a *domain.PaymentAttempt) bool { return a.OrderID == orderID }), nil
}

func (l *MemoryLedger) ListAttemptsByUser(_ context.Context, userID string) ([]*domain.PaymentAttempt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := l.attemptsWhere(func(a *domain.PaymentAttempt) bool { return a.UserID == userID })
	slices.Reverse(out)
	return out, nil
}

func (l *MemoryLedger) SearchAttempts(_ context.Context, filter AttemptFilter) ([]*domain.PaymentAttempt, int, error) {
	f := filter.normalized()

	l.mu.RLock()
	matched := l.attemptsWhere(func(a *domain.PaymentAttempt) bool {
		switch {
		case f.UserID != "" && a.UserID != f.UserID:
			return false
		case f.Status != "" && a.Status != f.Status:
			return false
		case !f.From.IsZero() && a.CreatedAt.Before(f.From):
			return false
		case !f.To.IsZero() && a.CreatedAt.After(f.To):
			return false
		}
		return true
	})
	l.mu.RUnlock()
	slices.Reverse(matched)

	total := len(matched)
	start := f.offset()
	if start >= total {
		return []*domain.PaymentAttempt{}, total, nil
	}
	end := min(start+f.PerPage, total)
	return matched[start:end], total, nil
}

func (l *MemoryLedger) FindAttemptByReference(_ context.Context, reference string) (*domain.PaymentAttempt, error) {
	if reference == "" {
		return nil, domain.ErrUnknownPaymentAttempt
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, a := range l.attempts {
		if a.ProviderReference == reference {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.ErrUnknownPaymentAttempt
}

func (l *MemoryLedger) HasPurchased(_ context.Context, userID string, movieID int64) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, o := range l.orders {
		if o.UserID == userID && o.Status == domain.OrderStatusPaid && o.HasMovie(movieID) {
			return true, nil
		}
	}
	return false, nil
}

func (l *MemoryLedger) HasOpenOrder(_ context.Context, userID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.hasOpenOrderLocked(userID, uuid.Nil), nil
}

func (l *MemoryLedger) WithOrderLock(ctx context.Context, orderID uuid.UUID, fn func(tx OrderTx) error) error {
	unlock, err := l.locks.lock(ctx, orderID)
	if err != nil {
		return err
	}
	defer unlock()

	l.mu.RLock()
	o, ok := l.orders[orderID]
	var snapshot *domain.Order
	if ok {
		snapshot = copyOrder(o)
	}
	l.mu.RUnlock()
	if !ok {
		return domain.ErrOrderNotFound
	}

	tx := &memoryTx{ledger: l, order: snapshot, attempts: make(map[uuid.UUID]*domain.PaymentAttempt)}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

func (l *MemoryLedger) FetchUnpublished(_ context.Context, limit int) ([]*domain.OutboxEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	events := make([]*domain.OutboxEvent, 0)
	for _, ev := range l.outbox {
		if l.published[ev.ID] {
			continue
		}
		cp := *ev
		events = append(events, &cp)
		if len(events) == limit {
			break
		}
	}
	return events, nil
}

func (l *MemoryLedger) MarkPublished(_ context.Context, id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.published[id] = true
	return nil
}

func (l *MemoryLedger) Close() error {
	return nil
}

func (l *MemoryLedger) hasOpenOrderLocked(userID string, except uuid.UUID) bool {
	for id, o := range l.orders {
		if id != except && o.UserID == userID && o.Status.IsOpen() {
			return true
		}
	}
	return false
}

func (l *MemoryLedger) attemptsWhere(match func(*domain.PaymentAttempt) bool) []*domain.PaymentAttempt {
	out := make([]*domain.PaymentAttempt, 0)
	for _, a := range l.attempts {
		if match(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

type memoryTx struct {
	ledger   *MemoryLedger
	order    *domain.Order
	saved    bool
	attempts map[uuid.UUID]*domain.PaymentAttempt
	webhooks []domain.ProcessedWebhook
	outbox   []*domain.OutboxEvent
}

func (t *memoryTx) Order() *domain.Order {
	return t.order
}

func (t *memoryTx) SaveOrder(_ context.Context) error {
	t.saved = true
	return nil
}

func (t *memoryTx) Attempts(_ context.Context) ([]*domain.PaymentAttempt, error) {
	merged := t.mergedAttempts()
	out := make([]*domain.PaymentAttempt, 0, len(merged))
	for _, a := range merged {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (t *memoryTx) InsertAttempt(_ context.Context, attempt *domain.PaymentAttempt) error {
	if attempt.OrderID != t.order.ID {
		return fmt.Errorf("attempt %s does not belong to order %s", attempt.ID, t.order.ID)
	}
	if _, ok := t.mergedAttempts()[attempt.ID]; ok {
		return fmt.Errorf("attempt %s already exists", attempt.ID)
	}
	return t.stageAttempt(attempt)
}

func (t *memoryTx) UpdateAttempt(_ context.Context, attempt *domain.PaymentAttempt) error {
	if _, ok := t.mergedAttempts()[attempt.ID]; !ok {
		return fmt.Errorf("attempt %s not found", attempt.ID)
	}
	return t.stageAttempt(attempt)
}

// stageAttempt enforces the same uniqueness rules the Postgres indexes do.
func (t *memoryTx) stageAttempt(attempt *domain.PaymentAttempt) error {
	for id, other := range t.mergedAttempts() {
		if id == attempt.ID {
			continue
		}
		if attempt.Status == domain.AttemptStatusPending && other.Status == domain.AttemptStatusPending {
			return domain.ErrOrderNotPayable
		}
		if attempt.Status == domain.AttemptStatusSucceeded && other.Status == domain.AttemptStatusSucceeded {
			return fmt.Errorf("order %s already has a succeeded attempt", t.order.ID)
		}
	}
	if attempt.ProviderReference != "" {
		t.ledger.mu.RLock()
		for id, other := range t.ledger.attempts {
			if id != attempt.ID && other.ProviderReference == attempt.ProviderReference {
				t.ledger.mu.RUnlock()
				return fmt.Errorf("payment reference %q already used", attempt.ProviderReference)
			}
		}
		t.ledger.mu.RUnlock()
	}
	cp := *attempt
	t.attempts[attempt.ID] = &cp
	return nil
}

func (t *memoryTx) WebhookProcessed(_ context.Context, eventID string) (bool, error) {
	for _, w := range t.webhooks {
		if w.EventID == eventID {
			return true, nil
		}
	}
	t.ledger.mu.RLock()
	defer t.ledger.mu.RUnlock()
	_, ok := t.ledger.webhooks[eventID]
	return ok, nil
}

func (t *memoryTx) RecordWebhook(_ context.Context, rec domain.ProcessedWebhook) error {
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now().UTC()
	}
	t.webhooks = append(t.webhooks, rec)
	return nil
}

func (t *memoryTx) AppendOutbox(_ context.Context, aggregateID, eventType string, payload []byte) error {
	t.outbox = append(t.outbox, &domain.OutboxEvent{
		AggregateID: aggregateID,
		EventType:   eventType,
		Payload:     append([]byte(nil), payload...),
		CreatedAt:   time.Now().UTC(),
	})
	return nil
}

func (t *memoryTx) mergedAttempts() map[uuid.UUID]*domain.PaymentAttempt {
	t.ledger.mu.RLock()
	merged := make(map[uuid.UUID]*domain.PaymentAttempt)
	for id, a := range t.ledger.attempts {
		if a.OrderID == t.order.ID {
			merged[id] = a
		}
	}
	t.ledger.mu.RUnlock()
	for id, a := range t.attempts {
		merged[id] = a
	}
	return merged
}

func (t *memoryTx) commit() error {
	l := t.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	if t.saved {
		if t.order.Status.IsOpen() && l.hasOpenOrderLocked(t.order.UserID, t.order.ID) {
			return domain.ErrUnpaidOrderExists
		}
		l.orders[t.order.ID] = copyOrder(t.order)
	}
	for id, a := range t.attempts {
		l.attempts[id] = a
	}
	for _, w := range t.webhooks {
		if _, ok := l.webhooks[w.EventID]; !ok {
			l.webhooks[w.EventID] = w
		}
	}
	for _, ev := range t.outbox {
		l.nextEvent++
		ev.ID = l.nextEvent
		l.outbox = append(l.outbox, ev)
	}
	return nil
}

func copyOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Items = append([]domain.OrderItem(nil), o.Items...)
	if o.PaidAttemptID != nil {
		id := *o.PaidAttemptID
		cp.PaidAttemptID = &id
	}
	return &cp
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// keyedMutex hands out one mutex per order id and drops it once nobody waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[uuid.UUID]*keyedEntry)}
}

func (k *keyedMutex) lock(ctx context.Context, key uuid.UUID) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, e)
		return nil, ctx.Err()
	}

	return func() {
		<-e.ch
		k.release(key, e)
	}, nil
}

func (k *keyedMutex) release(key uuid.UUID, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}
