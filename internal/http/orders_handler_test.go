package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fjod/go_cinema/internal/domain"
	"github.com/fjod/go_cinema/internal/ledger"
	"github.com/stretchr/testify/assert"
)

func TestParseOrderFilter(t *testing.T) {
	tests := []struct {
		query   string
		wantErr bool
		check   func(t *testing.T, f ledger.OrderFilter)
	}{
		{query: "", check: func(t *testing.T, f ledger.OrderFilter) {
			assert.Equal(t, 0, f.Page)
			assert.Equal(t, domain.OrderStatus(""), f.Status)
		}},
		{query: "page=2&per_page=5", check: func(t *testing.T, f ledger.OrderFilter) {
			assert.Equal(t, 2, f.Page)
			assert.Equal(t, 5, f.PerPage)
		}},
		{query: "status=PAID&user_id=alice&date=2026-03-01", check: func(t *testing.T, f ledger.OrderFilter) {
			assert.Equal(t, domain.OrderStatusPaid, f.Status)
			assert.Equal(t, "alice", f.UserID)
			assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), f.Date)
		}},
		{query: "page=0", wantErr: true},
		{query: "page=x", wantErr: true},
		{query: "per_page=21", wantErr: true},
		{query: "status=SHIPPED", wantErr: true},
		{query: "date=01/03/2026", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			f, msg := parseOrderFilter(httptest.NewRequest(http.MethodGet, "/orders?"+tt.query, nil))
			if tt.wantErr {
				assert.NotEmpty(t, msg)
				return
			}
			assert.Empty(t, msg)
			tt.check(t, f)
		})
	}
}

func TestParseAttemptFilter(t *testing.T) {
	tests := []struct {
		query   string
		wantErr bool
		check   func(t *testing.T, f ledger.AttemptFilter)
	}{
		{query: "", check: func(t *testing.T, f ledger.AttemptFilter) {
			assert.True(t, f.From.IsZero())
			assert.True(t, f.To.IsZero())
		}},
		{query: "user_id=alice&payment_status=FAILED&page=3&per_page=10", check: func(t *testing.T, f ledger.AttemptFilter) {
			assert.Equal(t, "alice", f.UserID)
			assert.Equal(t, domain.AttemptStatusFailed, f.Status)
			assert.Equal(t, 3, f.Page)
			assert.Equal(t, 10, f.PerPage)
		}},
		{query: "start_date=2026-03-01&end_date=2026-03-02", check: func(t *testing.T, f ledger.AttemptFilter) {
			assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), f.From)
			assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond), f.To)
		}},
		{query: "start_date=2026-03-01T10:00:00Z", check: func(t *testing.T, f ledger.AttemptFilter) {
			assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), f.From)
		}},
		{query: "payment_status=paid", wantErr: true},
		{query: "start_date=yesterday", wantErr: true},
		{query: "start_date=2026-03-02&end_date=2026-03-01", wantErr: true},
		{query: "per_page=0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			f, msg := parseAttemptFilter(httptest.NewRequest(http.MethodGet, "/admin/payments?"+tt.query, nil))
			if tt.wantErr {
				assert.NotEmpty(t, msg)
				return
			}
			assert.Empty(t, msg)
			tt.check(t, f)
		})
	}
}
