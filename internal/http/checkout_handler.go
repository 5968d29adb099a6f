package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fjod/go_cinema/internal/checkout"
	"github.com/fjod/go_cinema/internal/domain"
	"go.uber.org/zap"
)

type Checkouter interface {
	Checkout(ctx context.Context, customer domain.Customer) (*checkout.Result, error)
}

type CheckoutHandler struct {
	checkout Checkouter
	timeout  time.Duration
	log      *zap.Logger
}

func NewCheckoutHandler(c Checkouter, timeout time.Duration, log *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{checkout: c, timeout: timeout, log: log}
}

// POST /checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, ok := userFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	res, err := h.checkout.Checkout(ctx, user.customer())
	if err != nil {
		var perr *checkout.PaymentError
		if errors.As(err, &perr) {
			// The order exists; tell the client where to retry payment.
			status, code := classify(perr.Err)
			if status == http.StatusInternalServerError {
				h.log.Error("checkout payment failed", zap.String("order_id", perr.Order.ID.String()), zap.Error(perr.Err))
			}
			respondErrorDetails(w, status, code, "order created but payment was not started",
				fmt.Sprintf("order_id=%s; retry with POST /orders/%s/pay", perr.Order.ID, perr.Order.ID))
			return
		}
		handleError(w, h.log, err)
		return
	}

	respondJSON(w, http.StatusCreated, CheckoutResponseDTO{
		Order:   convertOrder(res.Order),
		Payment: res.Payment,
	})
}
