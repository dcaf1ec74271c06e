package postgres

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/printhaus/api/internal/domain"
)

// orderRow maps the orders table.
type orderRow struct {
	ID               string          `gorm:"primaryKey;type:varchar(64)"`
	IDSuffix         string          `gorm:"type:varchar(8);index:idx_orders_suffix_created,priority:1"`
	CheckoutRef      string          `gorm:"type:varchar(64);index"`
	CustomerName     string          `gorm:"not null"`
	CustomerEmail    string          `gorm:"not null"`
	CustomerPhone    string          `gorm:"type:varchar(64)"`
	Address          string          `gorm:"not null"`
	City             string          `gorm:"not null"`
	PostalCode       string          `gorm:"not null"`
	PaymentMethod    string          `gorm:"type:varchar(16);not null"`
	PrintType        string          `gorm:"type:varchar(16);not null"`
	Size             string          `gorm:"type:varchar(16);not null"`
	FrameColor       string          `gorm:"type:varchar(16)"`
	Quantity         int             `gorm:"not null"`
	Price            decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	ImageURL         string          `gorm:"not null"`
	Currency         string          `gorm:"type:char(3);not null"`
	Status           string          `gorm:"type:varchar(16);not null;index"`
	TrackingID       string          `gorm:"type:varchar(128)"`
	PaymentSessionID string          `gorm:"type:varchar(255)"`
	CreatedAt        time.Time       `gorm:"not null;index:idx_orders_suffix_created,priority:2"`
	UpdatedAt        time.Time       `gorm:"not null"`
}

func (orderRow) TableName() string { return "orders" }

// pendingCheckoutRow maps the pending_checkouts table. Payload holds the encoded hold.
type pendingCheckoutRow struct {
	Ref       string    `gorm:"primaryKey;type:varchar(64)"`
	SessionID *string   `gorm:"type:varchar(255);uniqueIndex"`
	Payload   []byte    `gorm:"type:jsonb;not null"`
	CreatedAt time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

func (pendingCheckoutRow) TableName() string { return "pending_checkouts" }

func toOrderRow(order domain.Order) orderRow {
	return orderRow{
		ID:               order.ID,
		IDSuffix:         domain.IDSuffix(order.ID),
		CheckoutRef:      order.CheckoutRef,
		CustomerName:     order.Customer.Name,
		CustomerEmail:    order.Customer.Email,
		CustomerPhone:    order.Customer.Phone,
		Address:          order.Customer.Address,
		City:             order.Customer.City,
		PostalCode:       order.Customer.PostalCode,
		PaymentMethod:    string(order.Customer.PaymentMethod),
		PrintType:        string(order.Print.Type),
		Size:             order.Print.Size,
		FrameColor:       string(order.Print.FrameColor),
		Quantity:         order.Print.Quantity,
		Price:            order.Print.Price,
		ImageURL:         order.Print.ImageURL,
		Currency:         order.Currency,
		Status:           string(order.Status),
		TrackingID:       order.TrackingID,
		PaymentSessionID: order.PaymentSessionID,
		CreatedAt:        order.CreatedAt.UTC(),
		UpdatedAt:        order.UpdatedAt.UTC(),
	}
}

func (r orderRow) toDomain() domain.Order {
	return domain.Order{
		ID:          r.ID,
		CheckoutRef: r.CheckoutRef,
		Customer: domain.CustomerData{
			Name:          r.CustomerName,
			Email:         r.CustomerEmail,
			Phone:         r.CustomerPhone,
			Address:       r.Address,
			City:          r.City,
			PostalCode:    r.PostalCode,
			PaymentMethod: domain.PaymentMethod(r.PaymentMethod),
		},
		Print: domain.PrintData{
			Type:       domain.PrintType(r.PrintType),
			Size:       r.Size,
			FrameColor: domain.FrameColor(r.FrameColor),
			Quantity:   r.Quantity,
			Price:      r.Price,
			ImageURL:   r.ImageURL,
		},
		Currency:         r.Currency,
		Status:           domain.OrderStatus(r.Status),
		TrackingID:       r.TrackingID,
		PaymentSessionID: r.PaymentSessionID,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
}
