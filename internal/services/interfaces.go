package services

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/printhaus/api/internal/cart"
	domain "github.com/printhaus/api/internal/domain"
)

// Domain type aliases keep handler signatures short.
type (
	Order           = domain.Order
	OrderStatus     = domain.OrderStatus
	CustomerData    = domain.CustomerData
	PendingCheckout = domain.PendingCheckout
)

// CheckoutService turns a priced cart into durable orders or a payment redirect.
type CheckoutService interface {
	Submit(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
	RetryPaymentSession(ctx context.Context, cmd RetryCheckoutCommand) (CheckoutResult, error)
	RetryPlacement(ctx context.Context, cmd RetryCheckoutCommand) (CheckoutResult, error)
}

// PaymentConfirmationService applies the outcome of an online payment to the holding area.
type PaymentConfirmationService interface {
	Confirm(ctx context.Context, cmd ConfirmPaymentCommand) (ConfirmationResult, error)
}

// OrderAdminService exposes operator order management. Every call carries the acting operator.
type OrderAdminService interface {
	List(ctx context.Context, op Operator, filter OrderFilter) ([]Order, error)
	Get(ctx context.Context, op Operator, identifier string) (Order, error)
	UpdateStatus(ctx context.Context, op Operator, cmd UpdateOrderStatusCommand) (Order, error)
	Delete(ctx context.Context, op Operator, orderID string) error
	Export(ctx context.Context, op Operator, cmd ExportOrdersCommand) (OrderExport, error)
}

// HoldSweeper removes abandoned holding-area entries.
type HoldSweeper interface {
	Sweep(ctx context.Context) (SweepResult, error)
}

// SystemService reports service health.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderEventPublisher emits order lifecycle events to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// Order event types.
const (
	OrderEventCreated       = "order.created"
	OrderEventStatusChanged = "order.status_changed"
	OrderEventDeleted       = "order.deleted"
)

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	CheckoutRef    string
	PreviousStatus OrderStatus
	CurrentStatus  OrderStatus
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// CheckoutCommand is a cart submission. PaymentMethod is the raw customer choice.
type CheckoutCommand struct {
	Cart           *cart.Cart
	Customer       CustomerData
	PaymentMethod  string
	SuccessURL     string
	CancelURL      string
	Locale         string
	IdempotencyKey string
}

// RetryCheckoutCommand resumes a held checkout.
type RetryCheckoutCommand struct {
	CheckoutRef string
	SuccessURL  string
	CancelURL   string
	Locale      string
}

// CheckoutResult is either a payment redirect (card) or the ids of the placed orders (offline).
type CheckoutResult struct {
	CheckoutRef   string
	PaymentMethod domain.PaymentMethod
	RedirectURL   string
	SessionID     string
	OrderIDs      []string
	Orders        []Order
	Total         decimal.Decimal
	Currency      string
	ExpiresAt     time.Time
}

// PaymentOutcome is the result signalled by the payment processor round trip.
type PaymentOutcome string

const (
	PaymentOutcomeSuccess PaymentOutcome = "success"
	PaymentOutcomeCancel  PaymentOutcome = "cancel"
)

// ParsePaymentOutcome normalises raw input; "cancelled" and "canceled" map to cancel.
func ParsePaymentOutcome(raw string) (PaymentOutcome, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success", "succeeded", "paid":
		return PaymentOutcomeSuccess, true
	case "cancel", "cancelled", "canceled":
		return PaymentOutcomeCancel, true
	}
	return "", false
}

// ConfirmPaymentCommand carries a confirmation signal.
type ConfirmPaymentCommand struct {
	SessionID   string
	Outcome     PaymentOutcome
	CheckoutRef string
	Source      string
}

// ConfirmationResult reports the orders created by a confirmation. NoOp is set when the
// signal had nothing to act on.
type ConfirmationResult struct {
	CheckoutRef string
	OrderIDs    []string
	NoOp        bool
}

// RoleAdmin is the role required for order administration.
const RoleAdmin = "admin"

// Operator is the authenticated identity behind an admin call.
type Operator struct {
	UID   string
	Email string
	Roles []string
}

// IsAdmin reports whether the operator holds the admin role.
func (o Operator) IsAdmin() bool {
	if strings.TrimSpace(o.UID) == "" {
		return false
	}
	for _, role := range o.Roles {
		if strings.EqualFold(strings.TrimSpace(role), RoleAdmin) {
			return true
		}
	}
	return false
}

// OrderFilter narrows order listings. Status may be empty or "all".
type OrderFilter struct {
	Status string
}

// UpdateOrderStatusCommand changes an order's status. A nil TrackingID leaves tracking untouched.
type UpdateOrderStatusCommand struct {
	OrderID    string
	Status     string
	TrackingID *string
}

// ExportFormat names an export encoding.
type ExportFormat string

const (
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatJSON ExportFormat = "json"
	ExportFormatXLSX ExportFormat = "xlsx"
)

// ExportOrdersCommand selects the orders and encoding of an export.
type ExportOrdersCommand struct {
	Format ExportFormat
	Filter OrderFilter
}

// OrderExport is an encoded order listing.
type OrderExport struct {
	Format      ExportFormat
	ContentType string
	Filename    string
	Data        []byte
	Count       int
}

// SweepResult summarises a hold sweep.
type SweepResult struct {
	Removed int
	Batches int
}

// SystemHealthReport extends the dependency report with build metadata.
type SystemHealthReport struct {
	domain.HealthReport
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration

	// PricingCurrency and PricingSizes describe the active pricing table.
	PricingCurrency string
	PricingSizes    int
}
