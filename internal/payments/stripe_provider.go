package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// Stripe only honours expires_at inside this window.
const (
	stripeMinSessionLifetime = 30 * time.Minute
	stripeMaxSessionLifetime = 24 * time.Hour
)

// StripeLogger receives structured provider events.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeProviderConfig configures NewStripeProvider.
type StripeProviderConfig struct {
	APIKey string
	Logger StripeLogger
	Clock  func() time.Time

	sessions stripeSessionAPI
}

// StripeProvider opens and inspects Stripe Checkout sessions.
type StripeProvider struct {
	sessions stripeSessionAPI
	now      func() time.Time
	log      StripeLogger
}

func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	sessions := cfg.sessions
	if sessions == nil {
		key := strings.TrimSpace(cfg.APIKey)
		if key == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sessions = client.New(key, nil).CheckoutSessions
	}
	p := &StripeProvider{sessions: sessions, now: time.Now, log: cfg.Logger}
	if cfg.Clock != nil {
		p.now = cfg.Clock
	}
	if p.log == nil {
		p.log = func(context.Context, string, map[string]any) {}
	}
	return p, nil
}

// CreateCheckoutSession opens a payment-mode Checkout session. A request without items is
// charged as a single "Print order" line for req.Amount.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	now := p.now().UTC()
	session, err := p.sessions.New(p.sessionParams(ctx, req, now))
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	out := CheckoutSession{
		ID:          session.ID,
		Provider:    "stripe",
		RedirectURL: session.URL,
		IntentID:    intentID(session),
		ExpiresAt:   now.Add(stripeMinSessionLifetime),
	}
	if session.ExpiresAt != 0 {
		out.ExpiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	p.log(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId":     out.ID,
		"paymentIntent": out.IntentID,
		"currency":      session.Currency,
	})
	return out, nil
}

func (p *StripeProvider) sessionParams(ctx context.Context, req CheckoutSessionRequest, now time.Time) *stripe.CheckoutSessionParams {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems:  lineItemParams(req),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	if req.Locale != "" {
		params.Locale = stripe.String(strings.ToLower(strings.ReplaceAll(req.Locale, "_", "-")))
	}
	if !req.ExpiresAt.IsZero() {
		if ttl := req.ExpiresAt.Sub(now); ttl >= stripeMinSessionLifetime && ttl <= stripeMaxSessionLifetime {
			params.ExpiresAt = stripe.Int64(req.ExpiresAt.Unix())
		}
	}
	if len(req.Metadata) > 0 {
		params.Metadata = copyMetadata(req.Metadata)
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{Metadata: copyMetadata(req.Metadata)}
	}
	return params
}

func lineItemParams(req CheckoutSessionRequest) []*stripe.CheckoutSessionLineItemParams {
	items := req.Items
	if len(items) == 0 {
		items = []CheckoutLineItem{{Name: "Print order", Quantity: 1, Amount: req.Amount}}
	}
	out := make([]*stripe.CheckoutSessionLineItemParams, 0, len(items))
	for _, item := range items {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String(item.Name)}
		if item.Description != "" {
			product.Description = stripe.String(item.Description)
		}
		if item.ImageURL != "" {
			product.Images = []*string{stripe.String(item.ImageURL)}
		}
		if item.SKU != "" {
			product.Metadata = map[string]string{"sku": item.SKU}
		}
		currency := item.Currency
		if currency == "" {
			currency = req.Currency
		}
		quantity := item.Quantity
		if quantity < 1 {
			quantity = 1
		}
		out = append(out, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(strings.ToLower(currency)),
				UnitAmount:  stripe.Int64(item.Amount),
				ProductData: product,
			},
		})
	}
	return out
}

// LookupSession fetches a Checkout session. Paid sessions report StatusSucceeded and
// expired ones StatusFailed.
func (p *StripeProvider) LookupSession(ctx context.Context, sessionID string) (SessionDetails, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return SessionDetails{}, errors.New("stripe: session id is required")
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	session, err := p.sessions.Get(sessionID, params)
	if err != nil {
		return SessionDetails{}, fmt.Errorf("stripe: lookup checkout session: %w", err)
	}

	details := SessionDetails{
		Provider:  "stripe",
		SessionID: session.ID,
		IntentID:  intentID(session),
		Status:    StatusPending,
		Amount:    session.AmountTotal,
		Currency:  strings.ToUpper(string(session.Currency)),
		Metadata:  copyMetadata(session.Metadata),
	}
	if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
		details.Status = StatusSucceeded
	} else if session.Status == stripe.CheckoutSessionStatusExpired {
		details.Status = StatusFailed
	}
	return details, nil
}

func intentID(session *stripe.CheckoutSession) string {
	if session.PaymentIntent == nil {
		return ""
	}
	return session.PaymentIntent.ID
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
