package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	"github.com/printhaus/api/internal/domain"
	pfirestore "github.com/printhaus/api/internal/platform/firestore"
	"github.com/printhaus/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists orders in the top-level orders collection keyed by order id.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	orders, err := pfirestore.NewCollection[orderDocument](provider, ordersCollection)
	if err != nil {
		return nil, err
	}
	return &OrderRepository{provider: provider, orders: orders}, nil
}

// Insert creates the order document. Inside RunInTx the write joins the transaction
// and a duplicate id aborts it at commit.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	ref, err := r.doc(ctx, order.ID)
	if err != nil {
		return err
	}
	doc := encodeOrder(order)
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		if err := tx.Create(ref, doc); err != nil {
			return pfirestore.WrapError("orders.insert", err)
		}
		return nil
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

// FindBySuffix queries the denormalised idSuffix field. Ties on createdAt fall back to
// document id so repeated lookups return the same order.
func (r *OrderRepository) FindBySuffix(ctx context.Context, suffix string) (domain.Order, error) {
	suffix = strings.ToLower(strings.TrimSpace(suffix))
	if suffix == "" {
		return domain.Order{}, repositories.NotFound("orders.find_by_suffix")
	}
	doc, ok, err := r.orders.First(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("idSuffix", "==", suffix).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if !ok {
		return domain.Order{}, repositories.NotFound("orders.find_by_suffix")
	}
	return doc.Data.toDomain(doc.ID)
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	var orders []domain.Order
	err := r.orders.Each(ctx, func(q firestore.Query) firestore.Query {
		if filter.Status != "" {
			q = q.Where("status", "==", string(filter.Status))
		}
		return q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
	}, func(doc pfirestore.Document[orderDocument]) error {
		order, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return err
		}
		orders = append(orders, order)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// Update applies the patch in a read-modify-write transaction.
func (r *OrderRepository) Update(ctx context.Context, orderID string, patch repositories.OrderPatch) (domain.Order, error) {
	ref, err := r.doc(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	var updated domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		current, err := decodeOrderSnapshot(snap)
		if err != nil {
			return err
		}

		updates := make([]firestore.Update, 0, 3)
		if patch.Status != nil {
			current.Status = *patch.Status
			updates = append(updates, firestore.Update{Path: "status", Value: string(current.Status)})
		}
		if patch.TrackingID != nil {
			current.TrackingID = strings.TrimSpace(*patch.TrackingID)
			updates = append(updates, firestore.Update{Path: "trackingId", Value: current.TrackingID})
		}
		if !patch.UpdatedAt.IsZero() {
			current.UpdatedAt = patch.UpdatedAt.UTC()
			updates = append(updates, firestore.Update{Path: "updatedAt", Value: current.UpdatedAt})
		}
		updated = current
		if len(updates) == 0 {
			return nil
		}
		return tx.Update(ref, updates)
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.update", err)
	}
	return updated, nil
}

func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	ref, err := r.doc(ctx, orderID)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("orders.delete", err)
	}
	return nil
}

func (r *OrderRepository) doc(ctx context.Context, orderID string) (*firestore.DocumentRef, error) {
	return r.orders.Doc(ctx, orderID)
}

func decodeOrderSnapshot(snap *firestore.DocumentSnapshot) (domain.Order, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID)
}
