//go:build integration

package firestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/printhaus/api/internal/domain"
	"github.com/printhaus/api/internal/repositories"
)

func TestOrderRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "orders-test")
	reg, err := NewRegistry(provider)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	repo := reg.Orders()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	older := sampleOrder("ord_AAAA1234ABCD", base)
	newer := sampleOrder("ord_BBBB1234ABCD", base.Add(time.Minute))

	err = reg.RunInTx(ctx, func(ctx context.Context) error {
		if err := repo.Insert(ctx, older); err != nil {
			return err
		}
		return repo.Insert(ctx, newer)
	})
	if err != nil {
		t.Fatalf("insert batch: %v", err)
	}

	err = reg.RunInTx(ctx, func(ctx context.Context) error {
		if err := repo.Insert(ctx, sampleOrder("ord_CCCC00000000", base)); err != nil {
			return err
		}
		return repo.Insert(ctx, older)
	})
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on duplicate id, got %v", err)
	}
	if _, err := repo.FindByID(ctx, "ord_CCCC00000000"); !isNotFound(err) {
		t.Fatalf("expected rolled back sibling to be absent, got %v", err)
	}

	found, err := repo.FindBySuffix(ctx, "1234ABCD")
	if err != nil {
		t.Fatalf("find by suffix: %v", err)
	}
	if found.ID != newer.ID {
		t.Fatalf("expected newest match %s, got %s", newer.ID, found.ID)
	}
	if !found.Print.Price.Equal(decimal.RequireFromString("55.00")) {
		t.Fatalf("expected price to round trip, got %s", found.Print.Price)
	}

	shipped := domain.OrderStatusShipped
	tracking := "TRK-1"
	if _, err := repo.Update(ctx, older.ID, repositories.OrderPatch{Status: &shipped, TrackingID: &tracking, UpdatedAt: base.Add(time.Hour)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	pending := domain.OrderStatusPending
	updated, err := repo.Update(ctx, older.ID, repositories.OrderPatch{Status: &pending})
	if err != nil {
		t.Fatalf("update back to pending: %v", err)
	}
	if updated.TrackingID != "TRK-1" {
		t.Fatalf("expected tracking id to survive, got %q", updated.TrackingID)
	}

	listed, err := repo.List(ctx, repositories.OrderListFilter{Status: domain.OrderStatusPaid})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != newer.ID {
		t.Fatalf("expected only the paid order, got %+v", listed)
	}

	if err := repo.Delete(ctx, newer.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.Delete(ctx, newer.ID); !isNotFound(err) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestPendingCheckoutRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "holds-test")
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	repo, err := NewPendingCheckoutRepository(provider, func() time.Time { return now })
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	hold := domain.PendingCheckout{
		Ref:           "chk_1",
		SessionID:     "cs_test_1",
		PaymentMethod: domain.PaymentMethodCard,
		Orders:        []domain.Order{sampleOrder("ord_AAAA1234ABCD", now)},
		Total:         decimal.RequireFromString("55.00"),
		Currency:      "EUR",
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Hour),
	}
	if err := repo.Save(ctx, hold); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := repo.FindBySessionID(ctx, "cs_test_1")
	if err != nil {
		t.Fatalf("find by session: %v", err)
	}
	if got.Ref != "chk_1" || len(got.Orders) != 1 || got.Orders[0].ID != "ord_AAAA1234ABCD" {
		t.Fatalf("unexpected hold: %+v", got)
	}

	now = now.Add(2 * time.Hour)
	if _, err := repo.FindByRef(ctx, "chk_1"); !isNotFound(err) {
		t.Fatalf("expected expired hold to be hidden, got %v", err)
	}
	removed, err := repo.DeleteExpired(ctx, now, 10)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one hold removed, got %d", removed)
	}
}

func sampleOrder(id string, created time.Time) domain.Order {
	return domain.Order{
		ID:          id,
		CheckoutRef: "chk_1",
		Customer: domain.CustomerData{
			Name:          "Ada Lovelace",
			Email:         "ada@example.com",
			Address:       "1 Analytical Way",
			City:          "London",
			PostalCode:    "N1",
			PaymentMethod: domain.PaymentMethodCard,
		},
		Print: domain.PrintData{
			Type:       domain.PrintTypeFramed,
			Size:       "30x20",
			FrameColor: domain.FrameColorBlack,
			Quantity:   1,
			Price:      decimal.RequireFromString("55.00"),
			ImageURL:   "https://storage.googleapis.com/prints/uploads/a.png",
		},
		Currency:  "EUR",
		Status:    domain.OrderStatusPaid,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
