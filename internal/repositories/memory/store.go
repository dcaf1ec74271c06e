// Package memory provides process-local repositories for development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/printhaus/api/internal/domain"
	"github.com/printhaus/api/internal/repositories"
)

// Registry bundles the in-memory repositories behind repositories.Registry.
type Registry struct {
	txMu   sync.Mutex
	orders *OrderRepository
	holds  repositories.PendingCheckoutRepository
	health repositories.HealthRepository
	checks []repositories.DependencyCheck
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises the in-memory registry.
type RegistryOption func(*Registry)

// WithPendingCheckoutRepository keeps holds outside the process, e.g. in Redis, while
// orders stay in memory.
func WithPendingCheckoutRepository(repo repositories.PendingCheckoutRepository) RegistryOption {
	return func(r *Registry) {
		if repo != nil {
			r.holds = repo
		}
	}
}

// WithDependencyChecks adds readiness probes for dependencies the registry does not own.
func WithDependencyChecks(checks ...repositories.DependencyCheck) RegistryOption {
	return func(r *Registry) {
		r.checks = append(r.checks, checks...)
	}
}

// NewRegistry constructs empty in-memory repositories.
func NewRegistry(clock func() time.Time, opts ...RegistryOption) *Registry {
	r := &Registry{
		orders: NewOrderRepository(),
		holds:  NewPendingCheckoutRepository(clock),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	checks := append([]repositories.DependencyCheck{
		{Name: "memory", Check: func(context.Context) error { return nil }},
	}, r.checks...)
	r.health, _ = repositories.NewDependencyHealthRepository(checks)
	return r
}

func (r *Registry) Orders() repositories.OrderRepository                     { return r.orders }
func (r *Registry) PendingCheckouts() repositories.PendingCheckoutRepository { return r.holds }
func (r *Registry) Health() repositories.HealthRepository                    { return r.health }
func (r *Registry) Close(context.Context) error                              { return nil }

// RunInTx serialises transactions and restores the order table when fn fails.
// Writes made outside a transaction while one is running are not isolated.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	snapshot := r.orders.snapshot()
	if err := fn(ctx); err != nil {
		r.orders.restore(snapshot)
		return err
	}
	return nil
}

// OrderRepository keeps orders in a map guarded by a mutex; the last write wins.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs an empty order table.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[string]domain.Order)}
}

func (r *OrderRepository) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[order.ID]; exists {
		return repositories.Conflict("memory.orders.insert", nil)
	}
	r.orders[order.ID] = order
	return nil
}

func (r *OrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NotFound("memory.orders.find")
	}
	return order, nil
}

func (r *OrderRepository) FindBySuffix(ctx context.Context, suffix string) (domain.Order, error) {
	suffix = strings.ToLower(strings.TrimSpace(suffix))
	orders, _ := r.List(ctx, repositories.OrderListFilter{})
	for _, order := range orders {
		if domain.IDSuffix(order.ID) == suffix {
			return order, nil
		}
	}
	return domain.Order{}, repositories.NotFound("memory.orders.find_suffix")
}

func (r *OrderRepository) List(_ context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	r.mu.RLock()
	out := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		out = append(out, order)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *OrderRepository) Update(_ context.Context, orderID string, patch repositories.OrderPatch) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NotFound("memory.orders.update")
	}
	if patch.Status != nil {
		order.Status = *patch.Status
	}
	if patch.TrackingID != nil {
		order.TrackingID = *patch.TrackingID
	}
	if !patch.UpdatedAt.IsZero() {
		order.UpdatedAt = patch.UpdatedAt
	}
	r.orders[orderID] = order
	return order, nil
}

func (r *OrderRepository) Delete(_ context.Context, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[orderID]; !ok {
		return repositories.NotFound("memory.orders.delete")
	}
	delete(r.orders, orderID)
	return nil
}

func (r *OrderRepository) snapshot() map[string]domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domain.Order, len(r.orders))
	for id, order := range r.orders {
		out[id] = order
	}
	return out
}

func (r *OrderRepository) restore(orders map[string]domain.Order) {
	r.mu.Lock()
	r.orders = orders
	r.mu.Unlock()
}

// PendingCheckoutRepository keeps holds in memory and hides expired records.
type PendingCheckoutRepository struct {
	mu    sync.Mutex
	holds map[string]domain.PendingCheckout
	now   func() time.Time
}

var _ repositories.PendingCheckoutRepository = (*PendingCheckoutRepository)(nil)

// NewPendingCheckoutRepository constructs an empty holding area.
func NewPendingCheckoutRepository(clock func() time.Time) *PendingCheckoutRepository {
	if clock == nil {
		clock = time.Now
	}
	return &PendingCheckoutRepository{
		holds: make(map[string]domain.PendingCheckout),
		now:   clock,
	}
}

func (r *PendingCheckoutRepository) Save(_ context.Context, hold domain.PendingCheckout) error {
	if strings.TrimSpace(hold.Ref) == "" {
		return repositories.Failed("memory.holds.save", errEmptyRef)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	hold.Orders = append([]domain.Order(nil), hold.Orders...)
	r.holds[hold.Ref] = hold
	return nil
}

func (r *PendingCheckoutRepository) FindByRef(_ context.Context, ref string) (domain.PendingCheckout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hold, ok := r.holds[ref]
	if !ok || hold.Expired(r.now()) {
		return domain.PendingCheckout{}, repositories.NotFound("memory.holds.find")
	}
	return cloneHold(hold), nil
}

func (r *PendingCheckoutRepository) FindBySessionID(_ context.Context, sessionID string) (domain.PendingCheckout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for _, hold := range r.holds {
		if sessionID != "" && hold.SessionID == sessionID && !hold.Expired(now) {
			return cloneHold(hold), nil
		}
	}
	return domain.PendingCheckout{}, repositories.NotFound("memory.holds.find_session")
}

func (r *PendingCheckoutRepository) Delete(_ context.Context, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.holds[ref]; !ok {
		return repositories.NotFound("memory.holds.delete")
	}
	delete(r.holds, ref)
	return nil
}

func (r *PendingCheckoutRepository) DeleteExpired(_ context.Context, now time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for ref, hold := range r.holds {
		if limit > 0 && removed >= limit {
			break
		}
		if hold.Expired(now) {
			delete(r.holds, ref)
			removed++
		}
	}
	return removed, nil
}

func cloneHold(hold domain.PendingCheckout) domain.PendingCheckout {
	hold.Orders = append([]domain.Order(nil), hold.Orders...)
	return hold
}
