package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fjod/go_cinema/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	uniqueViolation = "23505"

	constraintOneOpenOrder = "orders_one_open_per_user"
	constraintOnePending   = "payment_attempts_one_pending"
	constraintOneSucceeded = "payment_attempts_one_succeeded"

	orderColumns   = `id, user_id, customer_email, status, items, total_amount, currency, paid_attempt_id, failure_reason, created_at, updated_at`
	attemptColumns = `id, order_id, user_id, provider, provider_reference, redirect_url, amount, currency, status, failure_reason, created_at, updated_at`
)

type PostgresLedger struct {
	db  *sql.DB
	log *zap.Logger
}

func NewPostgresLedger(cred *Credentials, log *zap.Logger) (*PostgresLedger, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	log.Info("connected to postgres", zap.String("host", cred.Host), zap.String("db", cred.DBName))
	return &PostgresLedger{db: db, log: log}, nil
}

func (l *PostgresLedger) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(l.db, &postgres.Config{
		MigrationsTable: "ledger_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (l *PostgresLedger) CreateOrder(ctx context.Context, order *domain.Order) error {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal order items: %w", err)
	}

	query := `INSERT INTO orders (id, user_id, customer_email, status, items, total_amount, currency, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, insertErr := l.db.ExecContext(ctx, query,
		order.ID,
		order.UserID,
		order.CustomerEmail,
		order.Status,
		itemsJSON,
		order.TotalAmount,
		order.Currency,
		order.CreatedAt,
		order.UpdatedAt)

	if insertErr != nil {
		return mapConstraintError("insert order", insertErr)
	}
	return nil
}

func (l *PostgresLedger) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return scanOrder(l.db.QueryRowContext(ctx, query, id))
}

func (l *PostgresLedger) ListOrders(ctx context.Context, filter OrderFilter) ([]*domain.Order, int, error) {
	f := filter.normalized()

	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if !f.Date.IsZero() {
		args = append(args, f.Date.UTC().Format("2006-01-02"))
		where = append(where, fmt.Sprintf("(created_at AT TIME ZONE 'UTC')::date = $%d::date", len(args)))
	}

	query := `SELECT ` + orderColumns + `, COUNT(*) OVER() FROM orders`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.PerPage, f.offset())
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0)
	total := 0
	for rows.Next() {
		var (
			o         domain.Order
			itemsJSON []byte
			paidID    uuid.NullUUID
		)
		if err := rows.Scan(
			&o.ID, &o.UserID, &o.CustomerEmail, &o.Status, &itemsJSON, &o.TotalAmount,
			&o.Currency, &paidID, &o.FailureReason, &o.CreatedAt, &o.UpdatedAt, &total,
		); err != nil {
			return nil, 0, fmt.Errorf("scan order row: %w", err)
		}
		if err := fillOrder(&o, itemsJSON, paidID); err != nil {
			return nil, 0, err
		}
		orders = append(orders, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("row iteration error: %w", err)
	}

	// COUNT(*) OVER() is absent when the page is past the end.
	if len(orders) == 0 && f.Page > 1 {
		countQuery := `SELECT COUNT(*) FROM orders`
		if len(where) > 0 {
			countQuery += ` WHERE ` + strings.Join(where, " AND ")
		}
		if err := l.db.QueryRowContext(ctx, countQuery, args[:len(args)-2]...).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count orders: %w", err)
		}
	}

	return orders, total, nil
}

func (l *PostgresLedger) ListAttempts(ctx context.Context, orderID uuid.UUID) ([]*domain.PaymentAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE order_id = $1 ORDER BY created_at`
	return queryAttempts(ctx, l.db, query, orderID)
}

func (l *PostgresLedger) ListAttemptsByUser(ctx context.Context, userID string) ([]*domain.PaymentAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE user_id = $1 ORDER BY created_at DESC`
	return queryAttempts(ctx, l.db, query, userID)
}

func (l *PostgresLedger) SearchAttempts(ctx context.Context, filter AttemptFilter) ([]*domain.PaymentAttempt, int, error) {
	f := filter.normalized()

	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From.UTC())
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To.UTC())
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = ` WHERE ` + strings.Join(where, " AND ")
	}

	var total int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payment_attempts`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count payment attempts: %w", err)
	}

	args = append(args, f.PerPage, f.offset())
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts` + clause +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	attempts, err := queryAttempts(ctx, l.db, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return attempts, total, nil
}

func (l *PostgresLedger) FindAttemptByReference(ctx context.Context, reference string) (*domain.PaymentAttempt, error) {
	if reference == "" {
		return nil, domain.ErrUnknownPaymentAttempt
	}
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE provider_reference = $1`
	attempts, err := queryAttempts(ctx, l.db, query, reference)
	if err != nil {
		return nil, err
	}
	if len(attempts) == 0 {
		return nil, domain.ErrUnknownPaymentAttempt
	}
	return attempts[0], nil
}

func (l *PostgresLedger) HasPurchased(ctx context.Context, userID string, movieID int64) (bool, error) {
	contains, err := json.Marshal([]map[string]int64{{"movie_id": movieID}})
	if err != nil {
		return false, err
	}
	query := `SELECT EXISTS (SELECT 1 FROM orders WHERE user_id = $1 AND status = $2 AND items @> $3::jsonb)`

	var exists bool
	if err := l.db.QueryRowContext(ctx, query, userID, domain.OrderStatusPaid, string(contains)).Scan(&exists); err != nil {
		return false, fmt.Errorf("query purchased movie: %w", err)
	}
	return exists, nil
}

func (l *PostgresLedger) HasOpenOrder(ctx context.Context, userID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM orders WHERE user_id = $1 AND status IN ($2, $3))`

	var exists bool
	err := l.db.QueryRowContext(ctx, query, userID, domain.OrderStatusCreated, domain.OrderStatusAwaitingPayment).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query open order: %w", err)
	}
	return exists, nil
}

func (l *PostgresLedger) WithOrderLock(ctx context.Context, orderID uuid.UUID, fn func(tx OrderTx) error) error {
	sqlTx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			l.log.Warn("rollback failed", zap.String("order_id", orderID.String()), zap.Error(rbErr))
		}
	}()

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`
	order, err := scanOrder(sqlTx.QueryRowContext(ctx, query, orderID))
	if err != nil {
		return err
	}

	if err := fn(&postgresTx{tx: sqlTx, order: order}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return mapConstraintError("commit order transaction", err)
	}
	return nil
}

func (l *PostgresLedger) FetchUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	query := `SELECT id, aggregate_id, event_type, payload, created_at
	          FROM outbox_events WHERE published_at IS NULL ORDER BY id LIMIT $1`

	rows, err := l.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox events: %w", err)
	}
	defer rows.Close()

	events := make([]*domain.OutboxEvent, 0)
	for rows.Next() {
		var ev domain.OutboxEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.AggregateID, &ev.EventType, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		ev.Payload = payload
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (l *PostgresLedger) MarkPublished(ctx context.Context, id int64) error {
	_, err := l.db.ExecContext(ctx, `UPDATE outbox_events SET published_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark outbox event %d published: %w", id, err)
	}
	return nil
}

func (l *PostgresLedger) Close() error {
	return l.db.Close()
}

type postgresTx struct {
	tx    *sql.Tx
	order *domain.Order
}

func (t *postgresTx) Order() *domain.Order {
	return t.order
}

// SaveOrder writes the mutable columns only. Items and totals are guarded by a trigger.
func (t *postgresTx) SaveOrder(ctx context.Context) error {
	var paid uuid.NullUUID
	if t.order.PaidAttemptID != nil {
		paid = uuid.NullUUID{UUID: *t.order.PaidAttemptID, Valid: true}
	}
	query := `UPDATE orders SET status = $2, paid_attempt_id = $3, failure_reason = $4, updated_at = $5 WHERE id = $1`
	_, err := t.tx.ExecContext(ctx, query, t.order.ID, t.order.Status, paid, t.order.FailureReason, t.order.UpdatedAt)
	if err != nil {
		return mapConstraintError("update order", err)
	}
	return nil
}

func (t *postgresTx) Attempts(ctx context.Context) ([]*domain.PaymentAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE order_id = $1 ORDER BY created_at`
	return queryAttempts(ctx, t.tx, query, t.order.ID)
}

func (t *postgresTx) InsertAttempt(ctx context.Context, a *domain.PaymentAttempt) error {
	query := `INSERT INTO payment_attempts (` + attemptColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := t.tx.ExecContext(ctx, query,
		a.ID, a.OrderID, a.UserID, a.Provider, nullString(a.ProviderReference), a.RedirectURL,
		a.Amount, a.Currency, a.Status, a.FailureReason, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return mapConstraintError("insert payment attempt", err)
	}
	return nil
}

func (t *postgresTx) UpdateAttempt(ctx context.Context, a *domain.PaymentAttempt) error {
	query := `UPDATE payment_attempts
	          SET provider_reference = $2, redirect_url = $3, status = $4, failure_reason = $5, updated_at = $6
	          WHERE id = $1`
	res, err := t.tx.ExecContext(ctx, query,
		a.ID, nullString(a.ProviderReference), a.RedirectURL, a.Status, a.FailureReason, a.UpdatedAt)
	if err != nil {
		return mapConstraintError("update payment attempt", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("payment attempt %s not found", a.ID)
	}
	return nil
}

func (t *postgresTx) WebhookProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM webhook_events WHERE event_id = $1)`, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query webhook event: %w", err)
	}
	return exists, nil
}

func (t *postgresTx) RecordWebhook(ctx context.Context, rec domain.ProcessedWebhook) error {
	query := `INSERT INTO webhook_events (event_id, attempt_id, event_type, processing_error, processed_at)
	          VALUES ($1, $2, $3, $4, NOW())
	          ON CONFLICT (event_id) DO NOTHING`
	_, err := t.tx.ExecContext(ctx, query, rec.EventID, rec.AttemptID, rec.Type, nullString(rec.ProcessingError))
	if err != nil {
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}

func (t *postgresTx) AppendOutbox(ctx context.Context, aggregateID, eventType string, payload []byte) error {
	query := `INSERT INTO outbox_events (aggregate_id, event_type, payload) VALUES ($1, $2, $3)`
	if _, err := t.tx.ExecContext(ctx, query, aggregateID, eventType, payload); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o         domain.Order
		itemsJSON []byte
		paidID    uuid.NullUUID
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.CustomerEmail, &o.Status, &itemsJSON, &o.TotalAmount,
		&o.Currency, &paidID, &o.FailureReason, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by id: %w", err)
	}
	if err := fillOrder(&o, itemsJSON, paidID); err != nil {
		return nil, err
	}
	return &o, nil
}

func fillOrder(o *domain.Order, itemsJSON []byte, paidID uuid.NullUUID) error {
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return fmt.Errorf("unmarshal order items: %w", err)
	}
	if paidID.Valid {
		id := paidID.UUID
		o.PaidAttemptID = &id
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return nil
}

func queryAttempts(ctx context.Context, q querier, query string, args ...any) ([]*domain.PaymentAttempt, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query payment attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]*domain.PaymentAttempt, 0)
	for rows.Next() {
		var (
			a   domain.PaymentAttempt
			ref sql.NullString
		)
		if err := rows.Scan(
			&a.ID, &a.OrderID, &a.UserID, &a.Provider, &ref, &a.RedirectURL,
			&a.Amount, &a.Currency, &a.Status, &a.FailureReason, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan payment attempt: %w", err)
		}
		a.ProviderReference = ref.String
		attempts = append(attempts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return attempts, nil
}

func mapConstraintError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		switch pqErr.Constraint {
		case constraintOneOpenOrder:
			return domain.ErrUnpaidOrderExists
		case constraintOnePending:
			return domain.ErrOrderNotPayable
		case constraintOneSucceeded:
			return fmt.Errorf("%s: order already has a succeeded attempt: %w", op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
