package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/go_cinema/internal/domain"
	"github.com/fjod/go_cinema/internal/ledger"
	"github.com/fjod/go_cinema/internal/order"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type OrderService interface {
	GetOrder(ctx context.Context, orderID uuid.UUID, actor order.Actor) (*domain.Order, []*domain.PaymentAttempt, error)
	ListOrders(ctx context.Context, actor order.Actor, filter ledger.OrderFilter) ([]*domain.Order, int, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID, actor order.Actor) (*domain.Order, error)
}

type PaymentService interface {
	InitiatePayment(ctx context.Context, orderID uuid.UUID, actor order.Actor) (*domain.PaymentInitiation, error)
	Refund(ctx context.Context, orderID uuid.UUID, actor order.Actor) (*domain.Order, error)
	History(ctx context.Context, userID string) ([]*domain.PaymentAttempt, error)
	SearchAttempts(ctx context.Context, actor order.Actor, filter ledger.AttemptFilter) ([]*domain.PaymentAttempt, int, error)
}

type OrdersHandler struct {
	orders   OrderService
	payments PaymentService
	timeout  time.Duration
	log      *zap.Logger
}

func NewOrdersHandler(orders OrderService, payments PaymentService, timeout time.Duration, log *zap.Logger) *OrdersHandler {
	return &OrdersHandler{orders: orders, payments: payments, timeout: timeout, log: log}
}

// GET /orders?page=&per_page=&status=&user_id=&date=
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, ok := userFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	filter, msg := parseOrderFilter(r)
	if msg != "" {
		respondError(w, http.StatusBadRequest, "invalid_filter", msg)
		return
	}

	orders, total, err := h.orders.ListOrders(ctx, user.actor(), filter)
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	dtos := make([]OrderResponseDTO, 0, len(orders))
	for _, o := range orders {
		dtos = append(dtos, convertOrder(o))
	}
	page, perPage := pageBounds(filter.Page, filter.PerPage)
	respondJSON(w, http.StatusOK, OrderListDTO{Orders: dtos, Page: page, PerPage: perPage, Total: total})
}

func parseOrderFilter(r *http.Request) (ledger.OrderFilter, string) {
	q := r.URL.Query()
	var f ledger.OrderFilter

	page, perPage, msg := parsePaging(q.Get("page"), q.Get("per_page"))
	if msg != "" {
		return f, msg
	}
	f.Page, f.PerPage = page, perPage

	if v := q.Get("status"); v != "" {
		s, ok := domain.ParseOrderStatus(v)
		if !ok {
			return f, "unknown status " + strconv.Quote(v)
		}
		f.Status = s
	}
	if v := q.Get("date"); v != "" {
		d, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return f, "date must be YYYY-MM-DD"
		}
		f.Date = d
	}
	f.UserID = q.Get("user_id")
	return f, ""
}

// GET /orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, orderID, ok := h.orderRequest(w, r)
	if !ok {
		return
	}

	o, attempts, err := h.orders.GetOrder(ctx, orderID, user.actor())
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	dto := convertOrder(o)
	dto.Payments = attempts
	respondJSON(w, http.StatusOK, dto)
}

// POST /orders/{order_id}/cancel
func (h *OrdersHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, orderID, ok := h.orderRequest(w, r)
	if !ok {
		return
	}

	o, err := h.orders.CancelOrder(ctx, orderID, user.actor())
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, convertOrder(o))
}

// POST /orders/{order_id}/pay
func (h *OrdersHandler) Pay(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, orderID, ok := h.orderRequest(w, r)
	if !ok {
		return
	}

	p, err := h.payments.InitiatePayment(ctx, orderID, user.actor())
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// POST /orders/{order_id}/refund
func (h *OrdersHandler) Refund(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, orderID, ok := h.orderRequest(w, r)
	if !ok {
		return
	}

	o, err := h.payments.Refund(ctx, orderID, user.actor())
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, convertOrder(o))
}

// GET /payments/history
func (h *OrdersHandler) PaymentHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, ok := userFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	attempts, err := h.payments.History(ctx, user.ID)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	if attempts == nil {
		attempts = []*domain.PaymentAttempt{}
	}
	respondJSON(w, http.StatusOK, attempts)
}

// GET /admin/payments?user_id=&payment_status=&start_date=&end_date=&page=&per_page=
func (h *OrdersHandler) AdminPayments(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, ok := userFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	filter, msg := parseAttemptFilter(r)
	if msg != "" {
		respondError(w, http.StatusBadRequest, "invalid_filter", msg)
		return
	}

	attempts, total, err := h.payments.SearchAttempts(ctx, user.actor(), filter)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	if attempts == nil {
		attempts = []*domain.PaymentAttempt{}
	}
	page, perPage := pageBounds(filter.Page, filter.PerPage)
	respondJSON(w, http.StatusOK, PaymentListDTO{Payments: attempts, Page: page, PerPage: perPage, Total: total})
}

func parseAttemptFilter(r *http.Request) (ledger.AttemptFilter, string) {
	q := r.URL.Query()
	var f ledger.AttemptFilter

	page, perPage, msg := parsePaging(q.Get("page"), q.Get("per_page"))
	if msg != "" {
		return f, msg
	}
	f.Page, f.PerPage = page, perPage

	if v := q.Get("payment_status"); v != "" {
		s, ok := domain.ParseAttemptStatus(v)
		if !ok {
			return f, "unknown payment_status " + strconv.Quote(v)
		}
		f.Status = s
	}
	if v := q.Get("start_date"); v != "" {
		from, ok := parseBound(v, false)
		if !ok {
			return f, "start_date must be YYYY-MM-DD or RFC 3339"
		}
		f.From = from
	}
	if v := q.Get("end_date"); v != "" {
		to, ok := parseBound(v, true)
		if !ok {
			return f, "end_date must be YYYY-MM-DD or RFC 3339"
		}
		f.To = to
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, "end_date is before start_date"
	}
	f.UserID = q.Get("user_id")
	return f, ""
}

// parseBound accepts a timestamp or a bare date. A bare end date covers the
// whole day.
func parseBound(v string, end bool) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, true
	}
	d, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, false
	}
	if end {
		d = d.Add(24*time.Hour - time.Nanosecond)
	}
	return d, true
}

func parsePaging(pageParam, perPageParam string) (int, int, string) {
	var page, perPage int
	if pageParam != "" {
		n, err := strconv.Atoi(pageParam)
		if err != nil || n < 1 {
			return 0, 0, "page must be a positive integer"
		}
		page = n
	}
	if perPageParam != "" {
		n, err := strconv.Atoi(perPageParam)
		if err != nil || n < 1 || n > ledger.MaxPerPage {
			return 0, 0, "per_page must be between 1 and 20"
		}
		perPage = n
	}
	return page, perPage, ""
}

func pageBounds(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > ledger.MaxPerPage {
		perPage = ledger.MaxPerPage
	}
	return page, perPage
}

func (h *OrdersHandler) orderRequest(w http.ResponseWriter, r *http.Request) (User, uuid.UUID, bool) {
	user, ok := userFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return User{}, uuid.Nil, false
	}
	orderID, err := uuid.Parse(chi.URLParam(r, "order_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order_id must be a UUID")
		return User{}, uuid.Nil, false
	}
	return user, orderID, true
}
