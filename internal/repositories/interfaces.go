package repositories

import (
	"context"
	"time"

	"github.com/printhaus/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	PendingCheckouts() PendingCheckoutRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderListFilter narrows order listings. An empty Status returns every order.
type OrderListFilter struct {
	Status domain.OrderStatus
}

// OrderPatch describes the mutable fields of an order. Nil fields are left untouched.
type OrderPatch struct {
	Status     *domain.OrderStatus
	TrackingID *string
	UpdatedAt  time.Time
}

// OrderRepository persists order records.
//
// Insert fails with a conflict error when the id already exists. List returns
// orders newest first by creation time. FindBySuffix matches the lower-cased
// last characters of the id and returns the newest match.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindBySuffix(ctx context.Context, suffix string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
	Update(ctx context.Context, orderID string, patch OrderPatch) (domain.Order, error)
	Delete(ctx context.Context, orderID string) error
}

// PendingCheckoutRepository is the holding area for checkouts awaiting payment
// or a placement retry. Records past their ExpiresAt are treated as absent.
type PendingCheckoutRepository interface {
	Save(ctx context.Context, hold domain.PendingCheckout) error
	FindByRef(ctx context.Context, ref string) (domain.PendingCheckout, error)
	FindBySessionID(ctx context.Context, sessionID string) (domain.PendingCheckout, error)
	Delete(ctx context.Context, ref string) error
	DeleteExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// HealthRepository reports on dependency readiness.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
