package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fjod/go_cinema/internal/domain"
	"github.com/fjod/go_cinema/internal/payment"
	"github.com/fjod/go_cinema/internal/payment/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("qty: %w", domain.ErrInvalidQuantity), http.StatusBadRequest, "invalid_quantity"},
		{payment.ErrInvalidEvent, http.StatusBadRequest, "invalid_event"},
		{domain.ErrEmptyCart, http.StatusUnprocessableEntity, "empty_cart"},
		{&domain.ItemUnavailableError{MovieID: 3}, http.StatusUnprocessableEntity, "item_unavailable"},
		{domain.ErrForbidden, http.StatusForbidden, "forbidden"},
		{domain.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
		{domain.ErrUnknownPaymentAttempt, http.StatusNotFound, "unknown_payment_attempt"},
		{domain.ErrAlreadyPurchased, http.StatusConflict, "already_purchased"},
		{domain.ErrUnpaidOrderExists, http.StatusConflict, "unpaid_order_exists"},
		{&domain.TransitionError{From: domain.OrderStatusPaid, To: domain.OrderStatusCancelled}, http.StatusConflict, "invalid_transition"},
		{domain.ErrOrderNotPayable, http.StatusConflict, "order_not_payable"},
		{provider.ErrDeclined, http.StatusPaymentRequired, "payment_declined"},
		{provider.ErrUnavailable, http.StatusServiceUnavailable, "provider_unavailable"},
		{domain.ErrProviderTimeout, http.StatusGatewayTimeout, "provider_timeout"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, code := classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestHandleError_HidesInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	handleError(rec, zap.NewNop(), errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "internal server error", resp.Error)
	assert.NotContains(t, rec.Body.String(), "pq:")
}
