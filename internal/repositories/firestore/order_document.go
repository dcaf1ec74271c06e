package firestore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/printhaus/api/internal/domain"
)

type customerDocument struct {
	Name          string `firestore:"name"`
	Email         string `firestore:"email"`
	Phone         string `firestore:"phone"`
	Address       string `firestore:"address"`
	City          string `firestore:"city"`
	PostalCode    string `firestore:"postalCode"`
	PaymentMethod string `firestore:"paymentMethod"`
}

type printDocument struct {
	Type       string `firestore:"type"`
	Size       string `firestore:"size"`
	FrameColor string `firestore:"frameColor,omitempty"`
	Quantity   int    `firestore:"quantity"`
	Price      string `firestore:"price"`
	ImageURL   string `firestore:"imageUrl"`
}

// orderDocument is the stored shape of an order. Prices are decimal strings.
type orderDocument struct {
	IDSuffix         string           `firestore:"idSuffix"`
	CheckoutRef      string           `firestore:"checkoutRef"`
	Customer         customerDocument `firestore:"customer"`
	Print            printDocument    `firestore:"print"`
	Currency         string           `firestore:"currency"`
	Status           string           `firestore:"status"`
	TrackingID       string           `firestore:"trackingId,omitempty"`
	PaymentSessionID string           `firestore:"paymentSessionId,omitempty"`
	CreatedAt        time.Time        `firestore:"createdAt"`
	UpdatedAt        time.Time        `firestore:"updatedAt"`
}

func encodeOrder(order domain.Order) orderDocument {
	return orderDocument{
		IDSuffix:    domain.IDSuffix(order.ID),
		CheckoutRef: order.CheckoutRef,
		Customer: customerDocument{
			Name:          order.Customer.Name,
			Email:         order.Customer.Email,
			Phone:         order.Customer.Phone,
			Address:       order.Customer.Address,
			City:          order.Customer.City,
			PostalCode:    order.Customer.PostalCode,
			PaymentMethod: string(order.Customer.PaymentMethod),
		},
		Print: printDocument{
			Type:       string(order.Print.Type),
			Size:       order.Print.Size,
			FrameColor: string(order.Print.FrameColor),
			Quantity:   order.Print.Quantity,
			Price:      order.Print.Price.String(),
			ImageURL:   order.Print.ImageURL,
		},
		Currency:         order.Currency,
		Status:           string(order.Status),
		TrackingID:       order.TrackingID,
		PaymentSessionID: order.PaymentSessionID,
		CreatedAt:        order.CreatedAt.UTC(),
		UpdatedAt:        order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) (domain.Order, error) {
	price, err := decimal.NewFromString(d.Print.Price)
	if err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s price: %w", id, err)
	}
	return domain.Order{
		ID:          id,
		CheckoutRef: d.CheckoutRef,
		Customer: domain.CustomerData{
			Name:          d.Customer.Name,
			Email:         d.Customer.Email,
			Phone:         d.Customer.Phone,
			Address:       d.Customer.Address,
			City:          d.Customer.City,
			PostalCode:    d.Customer.PostalCode,
			PaymentMethod: domain.PaymentMethod(d.Customer.PaymentMethod),
		},
		Print: domain.PrintData{
			Type:       domain.PrintType(d.Print.Type),
			Size:       d.Print.Size,
			FrameColor: domain.FrameColor(d.Print.FrameColor),
			Quantity:   d.Print.Quantity,
			Price:      price,
			ImageURL:   d.Print.ImageURL,
		},
		Currency:         d.Currency,
		Status:           domain.OrderStatus(d.Status),
		TrackingID:       d.TrackingID,
		PaymentSessionID: d.PaymentSessionID,
		CreatedAt:        d.CreatedAt.UTC(),
		UpdatedAt:        d.UpdatedAt.UTC(),
	}, nil
}
