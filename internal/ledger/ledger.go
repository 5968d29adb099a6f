package ledger

import (
	"context"
	"time"

	"github.com/fjod/go_cinema/internal/domain"
	"github.com/google/uuid"
)

const MaxPerPage = 20

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

// OrderFilter selects orders for listing. Zero values mean "any".
type OrderFilter struct {
	UserID  string
	Status  domain.OrderStatus
	Date    time.Time
	Page    int
	PerPage int
}

func (f OrderFilter) normalized() OrderFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > MaxPerPage {
		f.PerPage = MaxPerPage
	}
	return f
}

func (f OrderFilter) offset() int {
	return (f.Page - 1) * f.PerPage
}

// AttemptFilter selects payment attempts for the admin listing. From and To
// bound CreatedAt inclusively; zero values mean "any".
type AttemptFilter struct {
	UserID  string
	Status  domain.AttemptStatus
	From    time.Time
	To      time.Time
	Page    int
	PerPage int
}

func (f AttemptFilter) normalized() AttemptFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > MaxPerPage {
		f.PerPage = MaxPerPage
	}
	return f
}

func (f AttemptFilter) offset() int {
	return (f.Page - 1) * f.PerPage
}

// Ledger is the transactional store for orders, payment attempts, processed
// webhook ids and the outbox. Every mutation of an existing order goes through
// WithOrderLock.
type Ledger interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]*domain.Order, int, error)
	ListAttempts(ctx context.Context, orderID uuid.UUID) ([]*domain.PaymentAttempt, error)
	ListAttemptsByUser(ctx context.Context, userID string) ([]*domain.PaymentAttempt, error)
	SearchAttempts(ctx context.Context, filter AttemptFilter) ([]*domain.PaymentAttempt, int, error)
	FindAttemptByReference(ctx context.Context, reference string) (*domain.PaymentAttempt, error)
	HasPurchased(ctx context.Context, userID string, movieID int64) (bool, error)
	HasOpenOrder(ctx context.Context, userID string) (bool, error)

	// WithOrderLock runs fn while holding the exclusive lock of one order.
	// Writes made through tx are committed only when fn returns nil.
	WithOrderLock(ctx context.Context, orderID uuid.UUID, fn func(tx OrderTx) error) error

	FetchUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id int64) error
	Close() error
}

// OrderTx is the view of a locked order.
type OrderTx interface {
	Order() *domain.Order
	SaveOrder(ctx context.Context) error
	Attempts(ctx context.Context) ([]*domain.PaymentAttempt, error)
	InsertAttempt(ctx context.Context, attempt *domain.PaymentAttempt) error
	UpdateAttempt(ctx context.Context, attempt *domain.PaymentAttempt) error
	WebhookProcessed(ctx context.Context, eventID string) (bool, error)
	RecordWebhook(ctx context.Context, rec domain.ProcessedWebhook) error
	AppendOutbox(ctx context.Context, aggregateID, eventType string, payload []byte) error
}
