package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

var (
	// ErrWebhookSignature is returned when the payload signature does not verify.
	ErrWebhookSignature = errors.New("payments: invalid webhook signature")
	// ErrWebhookPayload is returned when a verified payload cannot be decoded.
	ErrWebhookPayload = errors.New("payments: invalid webhook payload")
)

// WebhookOutcome is the confirmation signal carried by a webhook event.
type WebhookOutcome string

const (
	// WebhookOutcomeIgnored marks events that carry no checkout signal.
	WebhookOutcomeIgnored WebhookOutcome = ""
	// WebhookOutcomeSuccess marks a paid checkout session.
	WebhookOutcomeSuccess WebhookOutcome = "success"
	// WebhookOutcomeCancel marks an expired or abandoned checkout session.
	WebhookOutcomeCancel WebhookOutcome = "cancel"
)

// WebhookEvent is a verified checkout event.
type WebhookEvent struct {
	ID          string
	Type        string
	SessionID   string
	Outcome     WebhookOutcome
	CheckoutRef string
}

// StripeWebhookVerifier verifies Stripe-Signature headers with the endpoint secret.
type StripeWebhookVerifier struct {
	secret string
}

// NewStripeWebhookVerifier constructs a verifier for the endpoint secret.
func NewStripeWebhookVerifier(secret string) (*StripeWebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	return &StripeWebhookVerifier{secret: secret}, nil
}

// Parse verifies the signature and maps checkout session events to outcomes.
// Unpaid completions (delayed payment methods) are ignored until the async success event.
func (v *StripeWebhookVerifier) Parse(payload []byte, signature string) (WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}

	result := WebhookEvent{ID: event.ID, Type: string(event.Type)}
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded,
		stripe.EventTypeCheckoutSessionExpired,
		stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
	default:
		return result, nil
	}
	if event.Data == nil {
		return WebhookEvent{}, fmt.Errorf("%w: event %s has no data", ErrWebhookPayload, event.ID)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrWebhookPayload, err)
	}
	result.SessionID = session.ID
	result.CheckoutRef = session.Metadata[MetadataCheckoutRef]

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
			result.Outcome = WebhookOutcomeSuccess
		}
	case stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		result.Outcome = WebhookOutcomeSuccess
	case stripe.EventTypeCheckoutSessionExpired, stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		result.Outcome = WebhookOutcomeCancel
	}
	return result, nil
}

// MetadataCheckoutRef is the session metadata key carrying the checkout reference.
const MetadataCheckoutRef = "checkout_ref"
