package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	pfirestore "github.com/printhaus/api/internal/platform/firestore"
	"github.com/printhaus/api/internal/repositories"
)

// Registry wires the Firestore repositories behind repositories.Registry.
type Registry struct {
	provider *pfirestore.Provider
	orders   *OrderRepository
	holds    repositories.PendingCheckoutRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises the registry.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	holds  repositories.PendingCheckoutRepository
	checks []repositories.DependencyCheck
	clock  func() time.Time
}

// WithPendingCheckoutRepository replaces the Firestore holding area, e.g. with Redis.
func WithPendingCheckoutRepository(repo repositories.PendingCheckoutRepository) RegistryOption {
	return func(o *registryOptions) {
		o.holds = repo
	}
}

// WithDependencyChecks adds readiness probes for dependencies outside Firestore.
func WithDependencyChecks(checks ...repositories.DependencyCheck) RegistryOption {
	return func(o *registryOptions) {
		o.checks = append(o.checks, checks...)
	}
}

// WithClock overrides the clock used for hold expiry.
func WithClock(clock func() time.Time) RegistryOption {
	return func(o *registryOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewRegistry constructs the Firestore registry.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	options := registryOptions{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	holds := options.holds
	if holds == nil {
		holds, err = NewPendingCheckoutRepository(provider, options.clock)
		if err != nil {
			return nil, err
		}
	}

	checks := append([]repositories.DependencyCheck{{
		Name:  "firestore",
		Check: func(ctx context.Context) error { return ping(ctx, provider) },
	}}, options.checks...)
	health, err := repositories.NewDependencyHealthRepository(checks, repositories.WithDependencyClock(options.clock))
	if err != nil {
		return nil, err
	}

	return &Registry{provider: provider, orders: orders, holds: holds, health: health}, nil
}

func (r *Registry) Orders() repositories.OrderRepository                     { return r.orders }
func (r *Registry) PendingCheckouts() repositories.PendingCheckoutRepository { return r.holds }
func (r *Registry) Health() repositories.HealthRepository                    { return r.health }

// RunInTx runs fn inside a Firestore transaction. Repositories that find the
// transaction on ctx stage their writes on it.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return fn(ctx)
	})
}

func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

func ping(ctx context.Context, provider *pfirestore.Provider) error {
	client, err := provider.Client(ctx)
	if err != nil {
		return err
	}
	iter := client.Collection(ordersCollection).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return pfirestore.WrapError("firestore.ping", err)
	}
	return nil
}
