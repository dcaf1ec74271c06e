package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/printhaus/api/internal/platform/config"
	pfirestore "github.com/printhaus/api/internal/platform/firestore"
	"github.com/printhaus/api/internal/platform/idempotency"
	"github.com/printhaus/api/internal/repositories"
	firestorerepo "github.com/printhaus/api/internal/repositories/firestore"
	"github.com/printhaus/api/internal/repositories/memory"
	"github.com/printhaus/api/internal/repositories/postgres"
	redisrepo "github.com/printhaus/api/internal/repositories/redis"
)

const backendPingTimeout = 2 * time.Second

// backends holds the shared clients behind the order store, the holding area and the
// idempotency store. Each client is opened once, and only when a configured driver needs it.
type backends struct {
	cfg    config.Config
	clock  func() time.Time
	logger *zap.Logger

	redis     *redis.Client
	firestore *pfirestore.Provider
	checks    []repositories.DependencyCheck
}

func newBackends(_ context.Context, cfg config.Config, clock func() time.Time, logger *zap.Logger) (*backends, error) {
	b := &backends{cfg: cfg, clock: clock, logger: logger}

	if cfg.Checkout.HoldDriver == config.DriverRedis || cfg.Idempotency.Driver == config.DriverRedis {
		if !cfg.Redis.Enabled() {
			return b, errors.New("redis driver selected but API_REDIS_ADDR is empty")
		}
		client := newRedisClient(cfg.Redis)
		b.redis = client
		b.checks = append(b.checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: backendPingTimeout,
			Check:   func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
		logger.Info("redis backend enabled", zap.String("addr", cfg.Redis.Addr), zap.Int("db", cfg.Redis.DB))
	}

	if b.needsFirestore() {
		b.firestore = pfirestore.NewProvider(cfg.Firestore)
	}
	return b, nil
}

func (b *backends) needsFirestore() bool {
	if b.cfg.Orders.Driver == config.DriverFirestore || b.cfg.Checkout.HoldDriver == config.DriverFirestore {
		return true
	}
	switch b.cfg.Idempotency.Driver {
	case config.DriverFirestore, config.DriverPostgres:
		return true
	}
	return false
}

// holds returns the configured holding area. A nil repository tells the registry to keep
// holds next to the orders.
func (b *backends) holds() (repositories.PendingCheckoutRepository, error) {
	driver := b.cfg.Checkout.HoldDriver
	if driver == b.cfg.Orders.Driver {
		return nil, nil
	}
	switch driver {
	case config.DriverRedis:
		repo, err := redisrepo.NewPendingCheckoutRepository(b.redis,
			redisrepo.WithKeyPrefix(b.cfg.Redis.Prefix+":checkout"),
			redisrepo.WithClock(b.clock),
		)
		if err != nil {
			return nil, fmt.Errorf("initialise redis holds: %w", err)
		}
		return repo, nil
	case config.DriverMemory:
		return memory.NewPendingCheckoutRepository(b.clock), nil
	case config.DriverFirestore:
		repo, err := firestorerepo.NewPendingCheckoutRepository(b.firestore, b.clock)
		if err != nil {
			return nil, fmt.Errorf("initialise firestore holds: %w", err)
		}
		return repo, nil
	case config.DriverPostgres:
		return nil, fmt.Errorf("postgres holds require the postgres order store, got %q", b.cfg.Orders.Driver)
	default:
		return nil, fmt.Errorf("unknown hold driver %q", driver)
	}
}

func (b *backends) registry(ctx context.Context) (repositories.Registry, error) {
	holds, err := b.holds()
	if err != nil {
		return nil, err
	}

	switch b.cfg.Orders.Driver {
	case config.DriverMemory:
		b.logger.Warn("using in-memory order store; orders are lost on restart")
		opts := []memory.RegistryOption{memory.WithDependencyChecks(b.checks...)}
		if holds != nil {
			opts = append(opts, memory.WithPendingCheckoutRepository(holds))
		}
		return memory.NewRegistry(b.clock, opts...), nil
	case config.DriverFirestore:
		opts := []firestorerepo.RegistryOption{
			firestorerepo.WithClock(b.clock),
			firestorerepo.WithDependencyChecks(b.checks...),
		}
		if holds != nil {
			opts = append(opts, firestorerepo.WithPendingCheckoutRepository(holds))
		}
		reg, err := firestorerepo.NewRegistry(b.firestore, opts...)
		if err != nil {
			return nil, fmt.Errorf("initialise firestore registry: %w", err)
		}
		return reg, nil
	case config.DriverPostgres:
		db, err := postgres.Open(ctx, b.cfg.Orders.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres order store: %w", err)
		}
		reg, err := postgres.NewRegistry(db, holds, b.clock, b.checks...)
		if err != nil {
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				_ = sqlDB.Close()
			}
			return nil, fmt.Errorf("initialise postgres registry: %w", err)
		}
		return reg, nil
	default:
		return nil, fmt.Errorf("unknown order driver %q", b.cfg.Orders.Driver)
	}
}

// idempotencyStore selects the response cache. Deployments on PostgreSQL keep idempotency
// records in Firestore.
func (b *backends) idempotencyStore(ctx context.Context) (idempotency.Store, error) {
	switch b.cfg.Idempotency.Driver {
	case config.DriverRedis:
		store, err := idempotency.NewRedisStore(b.redis, idempotency.WithRedisPrefix(b.cfg.Redis.Prefix+":idem"))
		if err != nil {
			return nil, fmt.Errorf("initialise redis idempotency store: %w", err)
		}
		return store, nil
	case config.DriverFirestore, config.DriverPostgres:
		client, err := b.firestore.Client(ctx)
		if err != nil {
			return nil, fmt.Errorf("initialise firestore idempotency store: %w", err)
		}
		return idempotency.NewFirestoreStore(client), nil
	case config.DriverMemory, "":
		return idempotency.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown idempotency driver %q", b.cfg.Idempotency.Driver)
	}
}

func (b *backends) close(ctx context.Context) error {
	var errs []error
	if b.firestore != nil {
		errs = append(errs, b.firestore.Close(ctx))
	}
	if b.redis != nil {
		errs = append(errs, b.redis.Close())
	}
	return errors.Join(errs...)
}
