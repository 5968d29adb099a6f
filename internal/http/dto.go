package http

import (
	"time"

	"github.com/fjod/go_cinema/internal/domain"
	"github.com/shopspring/decimal"
)

type MovieDTO struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Year      int             `json:"year"`
	Price     decimal.Decimal `json:"price"`
	Available bool            `json:"available"`
}

type AddItemRequestDTO struct {
	MovieID  int64 `json:"movie_id"`
	Quantity int   `json:"quantity"`
}

type OrderItemDTO struct {
	MovieID   int64           `json:"movie_id"`
	MovieName string          `json:"movie_name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type OrderResponseDTO struct {
	ID            string                   `json:"id"`
	UserID        string                   `json:"user_id"`
	Status        string                   `json:"status"`
	TotalAmount   decimal.Decimal          `json:"total_amount"`
	Currency      string                   `json:"currency"`
	FailureReason string                   `json:"failure_reason,omitempty"`
	Items         []OrderItemDTO           `json:"items"`
	Payments      []*domain.PaymentAttempt `json:"payments,omitempty"`
	CreatedAt     string                   `json:"created_at"`
	UpdatedAt     string                   `json:"updated_at"`
}

type PaymentListDTO struct {
	Payments []*domain.PaymentAttempt `json:"payments"`
	Page     int                      `json:"page"`
	PerPage  int                      `json:"per_page"`
	Total    int                      `json:"total"`
}

type OrderListDTO struct {
	Orders  []OrderResponseDTO `json:"orders"`
	Page    int                `json:"page"`
	PerPage int                `json:"per_page"`
	Total   int                `json:"total"`
}

type CheckoutResponseDTO struct {
	Order   OrderResponseDTO          `json:"order"`
	Payment *domain.PaymentInitiation `json:"payment"`
}

type WebhookResponseDTO struct {
	Status string `json:"status"`
}

func convertMovie(m *domain.Movie) MovieDTO {
	return MovieDTO{
		ID:        m.ID,
		Name:      m.Name,
		Year:      m.Year,
		Price:     m.Price,
		Available: m.Available,
	}
}

func convertOrder(o *domain.Order) OrderResponseDTO {
	items := make([]OrderItemDTO, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, OrderItemDTO{
			MovieID:   item.MovieID,
			MovieName: item.MovieName,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Subtotal(),
		})
	}
	return OrderResponseDTO{
		ID:            o.ID.String(),
		UserID:        o.UserID,
		Status:        o.Status.String(),
		TotalAmount:   o.TotalAmount,
		Currency:      o.Currency,
		FailureReason: o.FailureReason,
		Items:         items,
		CreatedAt:     o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     o.UpdatedAt.Format(time.RFC3339),
	}
}
