package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/go_cinema/internal/domain"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxQuantity = 99

type CartService interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	AddItem(ctx context.Context, userID string, movieID int64, qty int) error
	RemoveItem(ctx context.Context, userID string, movieID int64) error
	ClearCart(ctx context.Context, userID string) error
}

type CartHandler struct {
	carts   CartService
	timeout time.Duration
	log     *zap.Logger
}

func NewCartHandler(carts CartService, timeout time.Duration, log *zap.Logger) *CartHandler {
	return &CartHandler{carts: carts, timeout: timeout, log: log}
}

// GET /cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, ok := userFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	h.respondCart(ctx, w, user.ID, http.StatusOK)
}

// POST /cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, ok := userFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.MovieID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_movie_id", "movie_id must be positive")
		return
	}
	if req.Quantity > maxQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	if err := h.carts.AddItem(ctx, user.ID, req.MovieID, req.Quantity); err != nil {
		handleError(w, h.log, err)
		return
	}
	h.respondCart(ctx, w, user.ID, http.StatusCreated)
}

// DELETE /cart/items/{movie_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, ok := userFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	movieID, err := strconv.ParseInt(chi.URLParam(r, "movie_id"), 10, 64)
	if err != nil || movieID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_movie_id", "movie_id must be a positive integer")
		return
	}

	if err := h.carts.RemoveItem(ctx, user.ID, movieID); err != nil {
		handleError(w, h.log, err)
		return
	}
	h.respondCart(ctx, w, user.ID, http.StatusOK)
}

// DELETE /cart/clear
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, ok := userFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	cart, err := h.carts.GetCart(ctx, user.ID)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	if cart.IsEmpty() {
		respondError(w, http.StatusBadRequest, "cart_empty", "cart is already empty")
		return
	}

	if err := h.carts.ClearCart(ctx, user.ID); err != nil {
		handleError(w, h.log, err)
		return
	}
	h.respondCart(ctx, w, user.ID, http.StatusOK)
}

// GET /admin/carts/{user_id}
func (h *CartHandler) AdminGetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, ok := userFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}
	if !user.Admin {
		handleError(w, h.log, domain.ErrForbidden)
		return
	}

	cart, err := h.carts.GetCart(ctx, chi.URLParam(r, "user_id"))
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	if cart.IsEmpty() {
		respondError(w, http.StatusNotFound, "cart_empty", "cart is empty")
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

func (h *CartHandler) respondCart(ctx context.Context, w http.ResponseWriter, userID string, status int) {
	cart, err := h.carts.GetCart(ctx, userID)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	respondJSON(w, status, cart)
}
