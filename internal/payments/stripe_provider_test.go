package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
)

type fakeSessionAPI struct {
	lastParams *stripe.CheckoutSessionParams
	lastID     string
	session    *stripe.CheckoutSession
	err        error
}

func (f *fakeSessionAPI) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.lastParams = params
	return f.session, f.err
}

func (f *fakeSessionAPI) Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.lastID = id
	f.lastParams = params
	return f.session, f.err
}

func newTestStripeProvider(t *testing.T, api *fakeSessionAPI, now time.Time) *StripeProvider {
	t.Helper()
	provider, err := NewStripeProvider(StripeProviderConfig{
		Clock:    func() time.Time { return now },
		sessions: api,
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider
}

func TestStripeProviderCreateCheckoutSession(t *testing.T) {
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	api := &fakeSessionAPI{session: &stripe.CheckoutSession{
		ID:        "cs_test_1",
		URL:       "https://checkout.stripe.com/c/pay/cs_test_1",
		ExpiresAt: now.Add(2 * time.Hour).Unix(),
		Currency:  stripe.CurrencyEUR,
	}}
	provider := newTestStripeProvider(t, api, now)

	session, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{
		Currency:       "EUR",
		CustomerEmail:  "ada@example.com",
		SuccessURL:     "https://shop.example/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:      "https://shop.example/cancel",
		Locale:         "de_DE",
		Metadata:       map[string]string{MetadataCheckoutRef: "chk_1"},
		IdempotencyKey: "chk_1:1",
		ExpiresAt:      now.Add(2 * time.Hour),
		Items: []CheckoutLineItem{
			{Name: "Canvas 30x20", Quantity: 2, Amount: 4500, ImageURL: "https://storage.googleapis.com/prints/a.png"},
		},
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.ID != "cs_test_1" || session.RedirectURL == "" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if !session.ExpiresAt.Equal(now.Add(2 * time.Hour)) {
		t.Fatalf("expected expiry from stripe, got %s", session.ExpiresAt)
	}

	params := api.lastParams
	if params == nil {
		t.Fatalf("expected params to be sent")
	}
	if got := stripe.StringValue(params.CustomerEmail); got != "ada@example.com" {
		t.Fatalf("unexpected customer email %q", got)
	}
	if got := stripe.StringValue(params.Locale); got != "de-de" {
		t.Fatalf("unexpected locale %q", got)
	}
	if params.IdempotencyKey == nil || *params.IdempotencyKey != "chk_1:1" {
		t.Fatalf("expected idempotency key to be set")
	}
	if params.ExpiresAt == nil || *params.ExpiresAt != now.Add(2*time.Hour).Unix() {
		t.Fatalf("expected expires_at to be forwarded")
	}
	if params.Metadata[MetadataCheckoutRef] != "chk_1" {
		t.Fatalf("expected checkout ref metadata")
	}
	if len(params.LineItems) != 1 {
		t.Fatalf("expected one line item, got %d", len(params.LineItems))
	}
	line := params.LineItems[0]
	if stripe.Int64Value(line.Quantity) != 2 || stripe.Int64Value(line.PriceData.UnitAmount) != 4500 {
		t.Fatalf("unexpected line item: qty=%d amount=%d", stripe.Int64Value(line.Quantity), stripe.Int64Value(line.PriceData.UnitAmount))
	}
	if stripe.StringValue(line.PriceData.Currency) != "eur" {
		t.Fatalf("expected lower-case currency")
	}
	if len(line.PriceData.ProductData.Images) != 1 {
		t.Fatalf("expected product image")
	}
}

func TestStripeProviderSkipsOutOfRangeExpiry(t *testing.T) {
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	api := &fakeSessionAPI{session: &stripe.CheckoutSession{ID: "cs_test_2"}}
	provider := newTestStripeProvider(t, api, now)

	session, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{
		Amount:    1500,
		Currency:  "EUR",
		ExpiresAt: now.Add(48 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if api.lastParams.ExpiresAt != nil {
		t.Fatalf("expected expires_at to be omitted beyond stripe's window")
	}
	if len(api.lastParams.LineItems) != 1 || stripe.Int64Value(api.lastParams.LineItems[0].PriceData.UnitAmount) != 1500 {
		t.Fatalf("expected fallback line item for the total")
	}
	if !session.ExpiresAt.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("expected default expiry, got %s", session.ExpiresAt)
	}
}

func TestStripeProviderCreateCheckoutSessionError(t *testing.T) {
	api := &fakeSessionAPI{err: errors.New("card network down")}
	provider := newTestStripeProvider(t, api, time.Now())

	if _, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{Currency: "EUR"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestStripeProviderLookupSession(t *testing.T) {
	cases := []struct {
		name    string
		session *stripe.CheckoutSession
		want    Status
	}{
		{
			name:    "paid",
			session: &stripe.CheckoutSession{ID: "cs_1", PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid, Status: stripe.CheckoutSessionStatusComplete},
			want:    StatusSucceeded,
		},
		{
			name:    "open",
			session: &stripe.CheckoutSession{ID: "cs_1", PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid, Status: stripe.CheckoutSessionStatusOpen},
			want:    StatusPending,
		},
		{
			name:    "expired",
			session: &stripe.CheckoutSession{ID: "cs_1", PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid, Status: stripe.CheckoutSessionStatusExpired},
			want:    StatusFailed,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeSessionAPI{session: tc.session}
			provider := newTestStripeProvider(t, api, time.Now())
			details, err := provider.LookupSession(context.Background(), " cs_1 ")
			if err != nil {
				t.Fatalf("lookup: %v", err)
			}
			if api.lastID != "cs_1" {
				t.Fatalf("expected trimmed session id, got %q", api.lastID)
			}
			if details.Status != tc.want {
				t.Fatalf("expected status %s, got %s", tc.want, details.Status)
			}
		})
	}
}

func TestNewStripeProviderRequiresKey(t *testing.T) {
	if _, err := NewStripeProvider(StripeProviderConfig{}); err == nil {
		t.Fatalf("expected error without api key")
	}
}
