package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the session as paid.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the session expired or was abandoned.
	StatusFailed Status = "failed"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrUnsupportedCurrency is returned for a currency the manager was not configured to accept.
	ErrUnsupportedCurrency = errors.New("payments: unsupported currency")
	// ErrInvalidAmount is returned when an amount cannot be expressed in minor units.
	ErrInvalidAmount = errors.New("payments: invalid amount")
)

// CheckoutLineItem describes a single line item to include in a checkout session.
// Amount is the unit price in minor units.
type CheckoutLineItem struct {
	Name        string
	Description string
	SKU         string
	ImageURL    string
	Quantity    int64
	Amount      int64
	Currency    string
}

// CheckoutSessionRequest captures the payload required to create a checkout session.
type CheckoutSessionRequest struct {
	Amount         int64
	Currency       string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	Locale         string
	Metadata       map[string]string
	IdempotencyKey string
	ExpiresAt      time.Time
	Items          []CheckoutLineItem
}

// CheckoutSession represents the PSP session returned to the client.
type CheckoutSession struct {
	ID          string
	Provider    string
	RedirectURL string
	IntentID    string
	ExpiresAt   time.Time
}

// SessionDetails normalises a PSP session lookup.
type SessionDetails struct {
	Provider  string
	SessionID string
	IntentID  string
	Status    Status
	Amount    int64
	Currency  string
	Metadata  map[string]string
}

// Paid reports whether the session has been paid.
func (d SessionDetails) Paid() bool {
	return d.Status == StatusSucceeded
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	LookupSession(ctx context.Context, sessionID string) (SessionDetails, error)
}

// MinorUnits converts a decimal amount into the currency's minor units, e.g. cents.
func MinorUnits(amount decimal.Decimal, code string) (int64, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return 0, fmt.Errorf("%w: currency %q: %v", ErrInvalidAmount, code, err)
	}
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: negative amount %s", ErrInvalidAmount, amount)
	}
	scale, _ := currency.Standard.Rounding(unit)
	shifted := amount.Shift(int32(scale))
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, amount, scale)
	}
	return shifted.IntPart(), nil
}
