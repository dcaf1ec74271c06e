// Package holdcodec serialises checkout holds as JSON for key-value and relational stores.
package holdcodec

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/printhaus/api/internal/domain"
)

type customerRecord struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone,omitempty"`
	Address       string `json:"address"`
	City          string `json:"city"`
	PostalCode    string `json:"postal_code"`
	PaymentMethod string `json:"payment_method"`
}

type orderRecord struct {
	ID          string          `json:"id"`
	CheckoutRef string          `json:"checkout_ref"`
	Customer    customerRecord  `json:"customer"`
	Type        string          `json:"type"`
	Size        string          `json:"size"`
	FrameColor  string          `json:"frame_color,omitempty"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    string          `json:"image_url"`
	Currency    string          `json:"currency"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

type holdRecord struct {
	Ref           string          `json:"ref"`
	SessionID     string          `json:"session_id,omitempty"`
	PaymentMethod string          `json:"payment_method"`
	Orders        []orderRecord   `json:"orders"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
	CustomerEmail string          `json:"customer_email"`
	CreatedAt     time.Time       `json:"created_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

// Marshal encodes the hold.
func Marshal(hold domain.PendingCheckout) ([]byte, error) {
	return json.Marshal(encodeHold(hold))
}

// Unmarshal decodes a hold written by Marshal.
func Unmarshal(data []byte) (domain.PendingCheckout, error) {
	var record holdRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return domain.PendingCheckout{}, err
	}
	return record.toDomain(), nil
}

func encodeHold(hold domain.PendingCheckout) holdRecord {
	orders := make([]orderRecord, 0, len(hold.Orders))
	for _, order := range hold.Orders {
		orders = append(orders, orderRecord{
			ID:          order.ID,
			CheckoutRef: order.CheckoutRef,
			Customer: customerRecord{
				Name:          order.Customer.Name,
				Email:         order.Customer.Email,
				Phone:         order.Customer.Phone,
				Address:       order.Customer.Address,
				City:          order.Customer.City,
				PostalCode:    order.Customer.PostalCode,
				PaymentMethod: string(order.Customer.PaymentMethod),
			},
			Type:       string(order.Print.Type),
			Size:       order.Print.Size,
			FrameColor: string(order.Print.FrameColor),
			Quantity:   order.Print.Quantity,
			Price:      order.Print.Price,
			ImageURL:   order.Print.ImageURL,
			Currency:   order.Currency,
			Status:     string(order.Status),
			CreatedAt:  order.CreatedAt.UTC(),
		})
	}
	return holdRecord{
		Ref:           hold.Ref,
		SessionID:     hold.SessionID,
		PaymentMethod: string(hold.PaymentMethod),
		Orders:        orders,
		Total:         hold.Total,
		Currency:      hold.Currency,
		CustomerEmail: hold.CustomerEmail,
		CreatedAt:     hold.CreatedAt.UTC(),
		ExpiresAt:     hold.ExpiresAt.UTC(),
	}
}

func (r holdRecord) toDomain() domain.PendingCheckout {
	orders := make([]domain.Order, 0, len(r.Orders))
	for _, rec := range r.Orders {
		orders = append(orders, domain.Order{
			ID:          rec.ID,
			CheckoutRef: rec.CheckoutRef,
			Customer: domain.CustomerData{
				Name:          rec.Customer.Name,
				Email:         rec.Customer.Email,
				Phone:         rec.Customer.Phone,
				Address:       rec.Customer.Address,
				City:          rec.Customer.City,
				PostalCode:    rec.Customer.PostalCode,
				PaymentMethod: domain.PaymentMethod(rec.Customer.PaymentMethod),
			},
			Print: domain.PrintData{
				Type:       domain.PrintType(rec.Type),
				Size:       rec.Size,
				FrameColor: domain.FrameColor(rec.FrameColor),
				Quantity:   rec.Quantity,
				Price:      rec.Price,
				ImageURL:   rec.ImageURL,
			},
			Currency:  rec.Currency,
			Status:    domain.OrderStatus(rec.Status),
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.CreatedAt,
		})
	}
	return domain.PendingCheckout{
		Ref:           r.Ref,
		SessionID:     r.SessionID,
		PaymentMethod: domain.PaymentMethod(r.PaymentMethod),
		Orders:        orders,
		Total:         r.Total,
		Currency:      r.Currency,
		CustomerEmail: r.CustomerEmail,
		CreatedAt:     r.CreatedAt,
		ExpiresAt:     r.ExpiresAt,
	}
}
