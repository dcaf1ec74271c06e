package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/printhaus/api/internal/payments"
	"github.com/printhaus/api/internal/platform/httpx"
	"github.com/printhaus/api/internal/platform/observability"
	"github.com/printhaus/api/internal/platform/requestctx"
	"github.com/printhaus/api/internal/services"
)

const (
	maxWebhookBodySize    = 64 * 1024
	stripeSignatureHeader = "Stripe-Signature"
)

// WebhookVerifier authenticates a processor payload and extracts the checkout signal.
type WebhookVerifier interface {
	Parse(payload []byte, signature string) (payments.WebhookEvent, error)
}

// PaymentWebhookHandlers receives asynchronous payment notifications.
type PaymentWebhookHandlers struct {
	verifier      WebhookVerifier
	confirmations services.PaymentConfirmationService
	metrics       *observability.CheckoutMetrics
}

// NewPaymentWebhookHandlers constructs webhook handlers. metrics may be nil.
func NewPaymentWebhookHandlers(verifier WebhookVerifier, confirmations services.PaymentConfirmationService, metrics *observability.CheckoutMetrics) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{
		verifier:      verifier,
		confirmations: confirmations,
		metrics:       metrics,
	}
}

// Routes registers webhook endpoints under the provided router.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/stripe", h.handleStripe)
}

type webhookResponse struct {
	Received bool     `json:"received"`
	Ignored  bool     `json:"ignored,omitempty"`
	Status   string   `json:"status,omitempty"`
	OrderIDs []string `json:"orderIds,omitempty"`
}

// handleStripe answers 2xx for anything that must not be redelivered and 5xx when the
// processor should retry.
func (h *PaymentWebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := requestctx.Logger(ctx)
	if h.verifier == nil || h.confirmations == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "payment webhooks are not configured", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	event, err := h.verifier.Parse(body, r.Header.Get(stripeSignatureHeader))
	if err != nil {
		if errors.Is(err, payments.ErrWebhookSignature) {
			logger.Warn("webhook signature rejected", zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
			return
		}
		logger.Warn("webhook payload rejected", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "webhook payload could not be decoded", http.StatusBadRequest))
		return
	}

	logger = logger.With(zap.String("event_id", event.ID), zap.String("event_type", event.Type))
	if event.Outcome == payments.WebhookOutcomeIgnored || strings.TrimSpace(event.SessionID) == "" {
		logger.Debug("webhook event ignored")
		writeJSONResponse(w, http.StatusOK, webhookResponse{Received: true, Ignored: true})
		return
	}

	outcome, _ := services.ParsePaymentOutcome(string(event.Outcome))
	result, err := h.confirmations.Confirm(ctx, services.ConfirmPaymentCommand{
		SessionID:   event.SessionID,
		Outcome:     outcome,
		CheckoutRef: event.CheckoutRef,
		Source:      services.ConfirmationSourceWebhook,
	})
	if err != nil {
		h.metrics.RecordConfirmation(ctx, services.ConfirmationSourceWebhook, confirmationErrorCode(err))
		logger.Error("webhook confirmation failed", zap.Error(err))
		writeConfirmationError(ctx, w, err)
		return
	}

	resp := confirmationFromResult(outcome, result)
	h.metrics.RecordConfirmation(ctx, services.ConfirmationSourceWebhook, resp.Status)
	logger.Info("webhook confirmation applied",
		zap.String("status", resp.Status),
		zap.String("checkout_ref", result.CheckoutRef),
		zap.Int("orders", len(result.OrderIDs)),
	)
	writeJSONResponse(w, http.StatusOK, webhookResponse{Received: true, Status: resp.Status, OrderIDs: result.OrderIDs})
}
