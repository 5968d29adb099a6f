package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/go_cinema/internal/catalog"
	"github.com/fjod/go_cinema/internal/domain"
	"github.com/fjod/go_cinema/internal/payment"
	"github.com/fjod/go_cinema/internal/payment/provider"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Error("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func respondErrorDetails(w http.ResponseWriter, status int, code, message, details string) {
	respondJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: the first match wins.
var errorMappings = []errorMapping{
	{domain.ErrInvalidQuantity, http.StatusBadRequest, "invalid_quantity"},
	{payment.ErrInvalidEvent, http.StatusBadRequest, "invalid_event"},
	{domain.ErrEmptyCart, http.StatusUnprocessableEntity, "empty_cart"},
	{domain.ErrItemUnavailable, http.StatusUnprocessableEntity, "item_unavailable"},
	{domain.ErrForbidden, http.StatusForbidden, "forbidden"},
	{domain.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{catalog.ErrMovieNotFound, http.StatusNotFound, "movie_not_found"},
	{domain.ErrUnknownPaymentAttempt, http.StatusNotFound, "unknown_payment_attempt"},
	{domain.ErrAlreadyPurchased, http.StatusConflict, "already_purchased"},
	{domain.ErrUnpaidOrderExists, http.StatusConflict, "unpaid_order_exists"},
	{domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{domain.ErrOrderNotPayable, http.StatusConflict, "order_not_payable"},
	{provider.ErrDeclined, http.StatusPaymentRequired, "payment_declined"},
	{provider.ErrUnavailable, http.StatusServiceUnavailable, "provider_unavailable"},
	{domain.ErrProviderTimeout, http.StatusGatewayTimeout, "provider_timeout"},
}

func classify(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// handleError maps domain errors to HTTP statuses. Internal errors are logged
// and never echoed to the client.
func handleError(w http.ResponseWriter, log *zap.Logger, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
		respondError(w, status, code, "internal server error")
		return
	}
	respondError(w, status, code, err.Error())
}
