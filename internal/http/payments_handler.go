package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/fjod/go_cinema/internal/domain"
	"github.com/fjod/go_cinema/internal/logger"
	"github.com/fjod/go_cinema/internal/payment"
	"github.com/fjod/go_cinema/internal/payment/provider"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type WebhookReceiver interface {
	HandleWebhook(ctx context.Context, ev domain.WebhookEvent) (payment.WebhookResult, error)
}

type StripeWebhooks interface {
	ParseWebhook(payload []byte, signature string) (*domain.WebhookEvent, error)
}

type OmiseWebhooks interface {
	VerifyEvent(ctx context.Context, eventID string) (*domain.WebhookEvent, error)
}

type SandboxSettler interface {
	Complete(reference string) (domain.WebhookEvent, error)
}

// WebhooksHandler is the provider-facing edge. Each provider route turns its
// notification into a domain.WebhookEvent and hands it to the receiver.
type WebhooksHandler struct {
	receiver WebhookReceiver
	stripe   StripeWebhooks
	omise    OmiseWebhooks
	sandbox  SandboxSettler
	token    string
	maxBody  int64
	timeout  time.Duration
	log      *zap.Logger
}

type WebhooksConfig struct {
	// Token guards the generic endpoint. Empty disables the check.
	Token        string
	MaxBodyBytes int64
	Timeout      time.Duration
}

func NewWebhooksHandler(receiver WebhookReceiver, cfg WebhooksConfig, log *zap.Logger) *WebhooksHandler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 16
	}
	return &WebhooksHandler{
		receiver: receiver,
		token:    cfg.Token,
		maxBody:  cfg.MaxBodyBytes,
		timeout:  cfg.Timeout,
		log:      log,
	}
}

func (h *WebhooksHandler) WithStripe(s StripeWebhooks) *WebhooksHandler {
	h.stripe = s
	return h
}

func (h *WebhooksHandler) WithOmise(o OmiseWebhooks) *WebhooksHandler {
	h.omise = o
	return h
}

func (h *WebhooksHandler) WithSandbox(s SandboxSettler) *WebhooksHandler {
	h.sandbox = s
	return h
}

// POST /payments/webhook
func (h *WebhooksHandler) Generic(w http.ResponseWriter, r *http.Request) {
	if h.token != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Webhook-Token")), []byte(h.token)) != 1 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "invalid webhook token")
		return
	}

	var ev domain.WebhookEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody)).Decode(&ev); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	h.deliver(w, r, ev)
}

// POST /payments/webhook/stripe
func (h *WebhooksHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "unreadable body")
		return
	}

	ev, err := h.stripe.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if errors.Is(err, provider.ErrIgnored) {
		respondJSON(w, http.StatusOK, WebhookResponseDTO{Status: "ignored"})
		return
	}
	if err != nil {
		h.log.Warn("stripe webhook rejected", zap.Error(err))
		respondError(w, http.StatusBadRequest, "invalid_signature", "webhook could not be verified")
		return
	}
	h.deliver(w, r, *ev)
}

type omiseWebhookDTO struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// POST /payments/webhook/omise
func (h *WebhooksHandler) Omise(w http.ResponseWriter, r *http.Request) {
	var body omiseWebhookDTO
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody)).Decode(&body); err != nil || body.ID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "event id is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	// The payload is not signed; only the event fetched back from the API is trusted.
	ev, err := h.omise.VerifyEvent(ctx, body.ID)
	if errors.Is(err, provider.ErrIgnored) {
		respondJSON(w, http.StatusOK, WebhookResponseDTO{Status: "ignored"})
		return
	}
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	h.deliver(w, r, *ev)
}

// GET /sandbox/pay/{ref}
func (h *WebhooksHandler) SandboxPay(w http.ResponseWriter, r *http.Request) {
	ev, err := h.sandbox.Complete(chi.URLParam(r, "ref"))
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	h.deliver(w, r, ev)
}

func (h *WebhooksHandler) deliver(w http.ResponseWriter, r *http.Request, ev domain.WebhookEvent) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	res, err := h.receiver.HandleWebhook(ctx, ev)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownPaymentAttempt) {
			// Not acknowledged so that the provider redelivers.
			logger.WithTrace(ctx, h.log).Error("webhook for unknown payment attempt",
				zap.String("event_id", ev.ID),
				zap.String("payment_reference", ev.PaymentReference))
		}
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, WebhookResponseDTO{Status: string(res)})
}

type PaymentReturnDTO struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// GET /payments/complete
//
// Landing page for the provider redirect. The order is only updated by the
// provider's webhook, never by this request.
func (h *WebhooksHandler) PaymentReturn(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := q.Get("status")
	if status == "" {
		status = "submitted"
	}
	respondJSON(w, http.StatusOK, PaymentReturnDTO{
		OrderID: q.Get("order_id"),
		Status:  status,
		Message: "payment result will be confirmed by the provider",
	})
}
