package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PrintType enumerates the printable product families.
type PrintType string

const (
	// PrintTypeCanvas is a stretched canvas print.
	PrintTypeCanvas PrintType = "canvas"
	// PrintTypeFramed is a print mounted in a frame; it requires a frame colour.
	PrintTypeFramed PrintType = "framed"
	// PrintTypeSticker is a wall sticker.
	PrintTypeSticker PrintType = "sticker"
)

// ParsePrintType normalises raw input into a known print type.
func ParsePrintType(raw string) (PrintType, bool) {
	switch PrintType(strings.ToLower(strings.TrimSpace(raw))) {
	case PrintTypeCanvas:
		return PrintTypeCanvas, true
	case PrintTypeFramed:
		return PrintTypeFramed, true
	case PrintTypeSticker:
		return PrintTypeSticker, true
	}
	return "", false
}

// FrameColor enumerates frame finishes for framed prints.
type FrameColor string

const (
	FrameColorBlack  FrameColor = "black"
	FrameColorSilver FrameColor = "silver"
)

// ParseFrameColor normalises raw input into a known frame colour.
func ParseFrameColor(raw string) (FrameColor, bool) {
	switch FrameColor(strings.ToLower(strings.TrimSpace(raw))) {
	case FrameColorBlack:
		return FrameColorBlack, true
	case FrameColorSilver:
		return FrameColorSilver, true
	}
	return "", false
}

// PaymentMethod enumerates the checkout payment paths.
type PaymentMethod string

const (
	// PaymentMethodCard is paid online through the payment processor.
	PaymentMethodCard PaymentMethod = "card"
	// PaymentMethodBank is paid offline by bank transfer.
	PaymentMethodBank PaymentMethod = "bank"
	// PaymentMethodCash is paid offline on delivery.
	PaymentMethodCash PaymentMethod = "cash"
)

// ParsePaymentMethod normalises raw input; "cod" is accepted as cash on delivery.
func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(PaymentMethodCard):
		return PaymentMethodCard, true
	case string(PaymentMethodBank):
		return PaymentMethodBank, true
	case string(PaymentMethodCash), "cod":
		return PaymentMethodCash, true
	}
	return "", false
}

// IsOnline reports whether the method is settled through the payment processor.
func (m PaymentMethod) IsOnline() bool {
	return m == PaymentMethodCard
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending is the initial state for offline-paid orders.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates the print is being produced.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusCompleted indicates production is finished.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusShipped indicates the parcel left the workshop; tracking becomes relevant.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusCancelled indicates the order was cancelled.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusPaid is the initial state for orders paid online.
	OrderStatusPaid OrderStatus = "paid"
)

var orderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusCompleted,
	OrderStatusShipped,
	OrderStatusCancelled,
	OrderStatusPaid,
}

// OrderStatuses returns every recognised status in display order.
func OrderStatuses() []OrderStatus {
	out := make([]OrderStatus, len(orderStatuses))
	copy(out, orderStatuses)
	return out
}

// ParseOrderStatus normalises raw input into a recognised status.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	candidate := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if candidate == "canceled" {
		candidate = OrderStatusCancelled
	}
	for _, status := range orderStatuses {
		if status == candidate {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transition is conventionally expected.
// Terminal states are not enforced; operators may still move orders out of them.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusShipped || s == OrderStatusCancelled
}

// CustomerData is the contact and delivery snapshot captured at checkout.
type CustomerData struct {
	Name          string
	Email         string
	Phone         string
	Address       string
	City          string
	PostalCode    string
	PaymentMethod PaymentMethod
}

// PrintData describes the configured product of a single order line.
type PrintData struct {
	Type       PrintType
	Size       string
	FrameColor FrameColor
	Quantity   int
	Price      decimal.Decimal
	ImageURL   string
}

// Order is a durable order record. One record is created per cart line.
type Order struct {
	ID               string
	CheckoutRef      string
	Customer         CustomerData
	Print            PrintData
	Currency         string
	Status           OrderStatus
	TrackingID       string
	PaymentSessionID string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IDSuffixLength is the number of trailing id characters shown to operators.
const IDSuffixLength = 8

// ShortID returns the operator-facing suffix of the order id.
func (o Order) ShortID() string {
	return IDSuffix(o.ID)
}

// IDSuffix returns the lower-cased trailing characters used for suffix lookups.
func IDSuffix(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > IDSuffixLength {
		id = id[len(id)-IDSuffixLength:]
	}
	return strings.ToLower(id)
}

// PendingCheckout is a resolved but not yet persisted checkout, held while the
// customer completes an online payment or while an offline placement awaits retry.
type PendingCheckout struct {
	Ref           string
	SessionID     string
	PaymentMethod PaymentMethod
	Orders        []Order
	Total         decimal.Decimal
	Currency      string
	CustomerEmail string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Expired reports whether the hold has outlived its TTL at the given instant.
func (p PendingCheckout) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}
