package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	"github.com/printhaus/api/internal/domain"
	pfirestore "github.com/printhaus/api/internal/platform/firestore"
	"github.com/printhaus/api/internal/repositories"
)

const pendingCheckoutsCollection = "pendingCheckouts"

type heldOrderDocument struct {
	ID    string        `firestore:"id"`
	Order orderDocument `firestore:"order"`
}

type pendingCheckoutDocument struct {
	SessionID     string              `firestore:"sessionId,omitempty"`
	PaymentMethod string              `firestore:"paymentMethod"`
	Orders        []heldOrderDocument `firestore:"orders"`
	Total         string              `firestore:"total"`
	Currency      string              `firestore:"currency"`
	CustomerEmail string              `firestore:"customerEmail"`
	CreatedAt     time.Time           `firestore:"createdAt"`
	ExpiresAt     time.Time           `firestore:"expiresAt"`
}

// PendingCheckoutRepository stores checkout holds keyed by checkout reference.
type PendingCheckoutRepository struct {
	holds *pfirestore.Collection[pendingCheckoutDocument]
	now   func() time.Time
}

var _ repositories.PendingCheckoutRepository = (*PendingCheckoutRepository)(nil)

// NewPendingCheckoutRepository constructs a Firestore-backed holding area.
func NewPendingCheckoutRepository(provider *pfirestore.Provider, clock func() time.Time) (*PendingCheckoutRepository, error) {
	if provider == nil {
		return nil, errors.New("pending checkout repository requires firestore provider")
	}
	if clock == nil {
		clock = time.Now
	}
	holds, err := pfirestore.NewCollection[pendingCheckoutDocument](provider, pendingCheckoutsCollection)
	if err != nil {
		return nil, err
	}
	return &PendingCheckoutRepository{holds: holds, now: clock}, nil
}

func (r *PendingCheckoutRepository) Save(ctx context.Context, hold domain.PendingCheckout) error {
	return r.holds.Set(ctx, hold.Ref, encodePendingCheckout(hold))
}

func (r *PendingCheckoutRepository) FindByRef(ctx context.Context, ref string) (domain.PendingCheckout, error) {
	doc, err := r.holds.Get(ctx, ref)
	if err != nil {
		return domain.PendingCheckout{}, err
	}
	return r.live(doc, "pending_checkouts.get")
}

func (r *PendingCheckoutRepository) FindBySessionID(ctx context.Context, sessionID string) (domain.PendingCheckout, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.PendingCheckout{}, repositories.NotFound("pending_checkouts.find_by_session")
	}
	doc, ok, err := r.holds.First(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("sessionId", "==", sessionID)
	})
	if err != nil {
		return domain.PendingCheckout{}, err
	}
	if !ok {
		return domain.PendingCheckout{}, repositories.NotFound("pending_checkouts.find_by_session")
	}
	return r.live(doc, "pending_checkouts.find_by_session")
}

func (r *PendingCheckoutRepository) Delete(ctx context.Context, ref string) error {
	docRef, err := r.holds.Doc(ctx, ref)
	if err != nil {
		return err
	}
	if _, err := docRef.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("pending_checkouts.delete", err)
	}
	return nil
}

// DeleteExpired removes up to limit holds whose expiry is at or before now. A hold
// rewritten since it was read is left for the next sweep.
func (r *PendingCheckoutRepository) DeleteExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	var expired []pfirestore.Document[pendingCheckoutDocument]
	err := r.holds.Each(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("expiresAt", "<=", now.UTC()).OrderBy("expiresAt", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	}, func(doc pfirestore.Document[pendingCheckoutDocument]) error {
		expired = append(expired, doc)
		return nil
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, doc := range expired {
		docRef, err := r.holds.Doc(ctx, doc.ID)
		if err != nil {
			return removed, err
		}
		if _, err := docRef.Delete(ctx, firestore.LastUpdateTime(doc.UpdateTime)); err != nil {
			wrapped := pfirestore.WrapError("pending_checkouts.sweep", err)
			var repoErr repositories.RepositoryError
			if errors.As(wrapped, &repoErr) && (repoErr.IsConflict() || repoErr.IsNotFound()) {
				continue
			}
			return removed, wrapped
		}
		removed++
	}
	return removed, nil
}

func (r *PendingCheckoutRepository) live(doc pfirestore.Document[pendingCheckoutDocument], op string) (domain.PendingCheckout, error) {
	hold, err := doc.Data.toDomain(doc.ID)
	if err != nil {
		return domain.PendingCheckout{}, err
	}
	if hold.Expired(r.now().UTC()) {
		return domain.PendingCheckout{}, repositories.NotFound(op)
	}
	return hold, nil
}

func encodePendingCheckout(hold domain.PendingCheckout) pendingCheckoutDocument {
	orders := make([]heldOrderDocument, 0, len(hold.Orders))
	for _, order := range hold.Orders {
		orders = append(orders, heldOrderDocument{ID: order.ID, Order: encodeOrder(order)})
	}
	return pendingCheckoutDocument{
		SessionID:     hold.SessionID,
		PaymentMethod: string(hold.PaymentMethod),
		Orders:        orders,
		Total:         hold.Total.String(),
		Currency:      hold.Currency,
		CustomerEmail: hold.CustomerEmail,
		CreatedAt:     hold.CreatedAt.UTC(),
		ExpiresAt:     hold.ExpiresAt.UTC(),
	}
}

func (d pendingCheckoutDocument) toDomain(ref string) (domain.PendingCheckout, error) {
	total, err := decimal.NewFromString(d.Total)
	if err != nil {
		return domain.PendingCheckout{}, fmt.Errorf("decode pending checkout %s total: %w", ref, err)
	}
	orders := make([]domain.Order, 0, len(d.Orders))
	for _, held := range d.Orders {
		order, err := held.Order.toDomain(held.ID)
		if err != nil {
			return domain.PendingCheckout{}, err
		}
		orders = append(orders, order)
	}
	return domain.PendingCheckout{
		Ref:           ref,
		SessionID:     d.SessionID,
		PaymentMethod: domain.PaymentMethod(d.PaymentMethod),
		Orders:        orders,
		Total:         total,
		Currency:      d.Currency,
		CustomerEmail: d.CustomerEmail,
		CreatedAt:     d.CreatedAt.UTC(),
		ExpiresAt:     d.ExpiresAt.UTC(),
	}, nil
}
