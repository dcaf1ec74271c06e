package payments

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func signedPayload(t *testing.T, payload string) (string, []byte) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Header, signed.Payload
}

func checkoutEvent(eventType, paymentStatus string) string {
	return fmt.Sprintf(`{
  "id": "evt_1",
  "object": "event",
  "type": %q,
  "data": {"object": {"id": "cs_test_1", "object": "checkout.session", "payment_status": %q, "metadata": {"checkout_ref": "chk_1"}}}
}`, eventType, paymentStatus)
}

func TestStripeWebhookVerifierOutcomes(t *testing.T) {
	verifier, err := NewStripeWebhookVerifier(testWebhookSecret)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	cases := []struct {
		eventType     string
		paymentStatus string
		want          WebhookOutcome
	}{
		{"checkout.session.completed", "paid", WebhookOutcomeSuccess},
		{"checkout.session.completed", "unpaid", WebhookOutcomeIgnored},
		{"checkout.session.async_payment_succeeded", "paid", WebhookOutcomeSuccess},
		{"checkout.session.expired", "unpaid", WebhookOutcomeCancel},
		{"checkout.session.async_payment_failed", "unpaid", WebhookOutcomeCancel},
		{"customer.created", "", WebhookOutcomeIgnored},
	}
	for _, tc := range cases {
		t.Run(tc.eventType+"/"+tc.paymentStatus, func(t *testing.T) {
			header, payload := signedPayload(t, checkoutEvent(tc.eventType, tc.paymentStatus))
			event, err := verifier.Parse(payload, header)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if event.Outcome != tc.want {
				t.Fatalf("expected outcome %q, got %q", tc.want, event.Outcome)
			}
			if tc.want != WebhookOutcomeIgnored {
				if event.SessionID != "cs_test_1" || event.CheckoutRef != "chk_1" {
					t.Fatalf("unexpected event: %+v", event)
				}
			}
		})
	}
}

func TestStripeWebhookVerifierRejectsBadSignature(t *testing.T) {
	verifier, err := NewStripeWebhookVerifier(testWebhookSecret)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	header, payload := signedPayload(t, checkoutEvent("checkout.session.completed", "paid"))
	payload = append(payload, ' ')

	if _, err := verifier.Parse(payload, header); !errors.Is(err, ErrWebhookSignature) {
		t.Fatalf("expected ErrWebhookSignature, got %v", err)
	}
}

func TestNewStripeWebhookVerifierRequiresSecret(t *testing.T) {
	if _, err := NewStripeWebhookVerifier(" "); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
