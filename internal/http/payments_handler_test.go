package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fjod/go_cinema/internal/domain"
	"github.com/fjod/go_cinema/internal/payment"
	"github.com/fjod/go_cinema/internal/payment/provider"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type receiverMock struct {
	events []domain.WebhookEvent
	result payment.WebhookResult
	err    error
}

func (m *receiverMock) HandleWebhook(_ context.Context, ev domain.WebhookEvent) (payment.WebhookResult, error) {
	m.events = append(m.events, ev)
	return m.result, m.err
}

type stripeMock struct {
	payload   []byte
	signature string
	ev        *domain.WebhookEvent
	err       error
}

func (m *stripeMock) ParseWebhook(payload []byte, signature string) (*domain.WebhookEvent, error) {
	m.payload, m.signature = payload, signature
	return m.ev, m.err
}

type omiseMock struct {
	eventID string
	ev      *domain.WebhookEvent
	err     error
}

func (m *omiseMock) VerifyEvent(_ context.Context, eventID string) (*domain.WebhookEvent, error) {
	m.eventID = eventID
	return m.ev, m.err
}

type sandboxMock struct {
	ev  domain.WebhookEvent
	err error
}

func (m sandboxMock) Complete(string) (domain.WebhookEvent, error) {
	return m.ev, m.err
}

func newWebhooks(r *receiverMock) *WebhooksHandler {
	return NewWebhooksHandler(r, WebhooksConfig{Timeout: time.Second}, zap.NewNop())
}

var succeeded = &domain.WebhookEvent{ID: "evt_1", Type: domain.WebhookPaymentSucceeded, PaymentReference: "cs_1"}

func TestStripeWebhook_Delivers(t *testing.T) {
	recv := &receiverMock{result: payment.WebhookApplied}
	sm := &stripeMock{ev: succeeded}
	h := newWebhooks(recv).WithStripe(sm)

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook/stripe", bytes.NewBufferString(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	h.Stripe(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t=1,v1=abc", sm.signature)
	assert.JSONEq(t, `{"id":"evt_1"}`, string(sm.payload))
	require.Len(t, recv.events, 1)
	assert.Equal(t, "cs_1", recv.events[0].PaymentReference)
}

func TestStripeWebhook_IgnoredEvent(t *testing.T) {
	recv := &receiverMock{}
	h := newWebhooks(recv).WithStripe(&stripeMock{err: fmt.Errorf("customer.created: %w", provider.ErrIgnored)})

	rec := httptest.NewRecorder()
	h.Stripe(rec, httptest.NewRequest(http.MethodPost, "/payments/webhook/stripe", bytes.NewBufferString(`{}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ignored")
	assert.Empty(t, recv.events)
}

func TestStripeWebhook_BadSignature(t *testing.T) {
	recv := &receiverMock{}
	h := newWebhooks(recv).WithStripe(&stripeMock{err: errors.New("signature mismatch")})

	rec := httptest.NewRecorder()
	h.Stripe(rec, httptest.NewRequest(http.MethodPost, "/payments/webhook/stripe", bytes.NewBufferString(`{}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, recv.events)
}

func TestOmiseWebhook(t *testing.T) {
	t.Run("verified event is delivered", func(t *testing.T) {
		recv := &receiverMock{result: payment.WebhookApplied}
		om := &omiseMock{ev: succeeded}
		h := newWebhooks(recv).WithOmise(om)

		rec := httptest.NewRecorder()
		h.Omise(rec, httptest.NewRequest(http.MethodPost, "/payments/webhook/omise",
			bytes.NewBufferString(`{"id":"evnt_test_1","key":"charge.complete"}`)))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "evnt_test_1", om.eventID)
		assert.Len(t, recv.events, 1)
	})

	t.Run("missing id", func(t *testing.T) {
		h := newWebhooks(&receiverMock{}).WithOmise(&omiseMock{})
		rec := httptest.NewRecorder()
		h.Omise(rec, httptest.NewRequest(http.MethodPost, "/payments/webhook/omise", bytes.NewBufferString(`{}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("ignored key", func(t *testing.T) {
		recv := &receiverMock{}
		h := newWebhooks(recv).WithOmise(&omiseMock{err: provider.ErrIgnored})
		rec := httptest.NewRecorder()
		h.Omise(rec, httptest.NewRequest(http.MethodPost, "/payments/webhook/omise", bytes.NewBufferString(`{"id":"evnt_2"}`)))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, recv.events)
	})

	t.Run("provider down", func(t *testing.T) {
		h := newWebhooks(&receiverMock{}).WithOmise(&omiseMock{err: provider.ErrUnavailable})
		rec := httptest.NewRecorder()
		h.Omise(rec, httptest.NewRequest(http.MethodPost, "/payments/webhook/omise", bytes.NewBufferString(`{"id":"evnt_3"}`)))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestDeliver_UnknownAttemptIsNotAcknowledged(t *testing.T) {
	recv := &receiverMock{result: payment.WebhookUnknown, err: fmt.Errorf("ref x: %w", domain.ErrUnknownPaymentAttempt)}
	h := newWebhooks(recv).WithSandbox(sandboxMock{ev: *succeeded})

	req := httptest.NewRequest(http.MethodGet, "/sandbox/pay/sbx_1", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("ref", "sbx_1")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()
	h.SandboxPay(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPaymentReturn(t *testing.T) {
	h := newWebhooks(&receiverMock{})
	rec := httptest.NewRecorder()
	h.PaymentReturn(rec, httptest.NewRequest(http.MethodGet, "/payments/complete?status=cancelled&order_id=o-1", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	got := decode[PaymentReturnDTO](t, rec)
	assert.Equal(t, "o-1", got.OrderID)
	assert.Equal(t, "cancelled", got.Status)
}
