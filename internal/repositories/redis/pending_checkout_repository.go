// Package redis stores checkout holds in Redis, relying on key expiry for the TTL.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/printhaus/api/internal/domain"
	"github.com/printhaus/api/internal/repositories"
	"github.com/printhaus/api/internal/repositories/holdcodec"
)

const defaultKeyPrefix = "printhaus:checkout"

// Option customises the repository.
type Option func(*PendingCheckoutRepository)

// WithKeyPrefix namespaces the keys written by the repository.
func WithKeyPrefix(prefix string) Option {
	return func(r *PendingCheckoutRepository) {
		if trimmed := strings.Trim(strings.TrimSpace(prefix), ":"); trimmed != "" {
			r.prefix = trimmed
		}
	}
}

// WithClock overrides the clock used to compute key TTLs.
func WithClock(clock func() time.Time) Option {
	return func(r *PendingCheckoutRepository) {
		if clock != nil {
			r.now = clock
		}
	}
}

// PendingCheckoutRepository keeps each hold under {prefix}:hold:{ref} with a
// {prefix}:session:{id} index key. Both keys expire with the hold.
type PendingCheckoutRepository struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ repositories.PendingCheckoutRepository = (*PendingCheckoutRepository)(nil)

// NewPendingCheckoutRepository constructs the Redis holding area.
func NewPendingCheckoutRepository(client redis.UniversalClient, opts ...Option) (*PendingCheckoutRepository, error) {
	if client == nil {
		return nil, errors.New("redis pending checkout repository: client is required")
	}
	repo := &PendingCheckoutRepository{client: client, prefix: defaultKeyPrefix, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

func (r *PendingCheckoutRepository) Save(ctx context.Context, hold domain.PendingCheckout) error {
	ref := strings.TrimSpace(hold.Ref)
	if ref == "" {
		return repositories.Failed("redis.holds.save", errors.New("ref is required"))
	}
	ttl := hold.ExpiresAt.Sub(r.now())
	if hold.ExpiresAt.IsZero() || ttl <= 0 {
		return repositories.Failed("redis.holds.save", fmt.Errorf("hold %s is already expired", ref))
	}

	payload, err := holdcodec.Marshal(hold)
	if err != nil {
		return repositories.Failed("redis.holds.save", err)
	}

	previous, err := r.load(ctx, ref)
	if err != nil && !isNotFound(err) {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.holdKey(ref), payload, ttl)
		if previous.SessionID != "" && previous.SessionID != hold.SessionID {
			pipe.Del(ctx, r.sessionKey(previous.SessionID))
		}
		if hold.SessionID != "" {
			pipe.Set(ctx, r.sessionKey(hold.SessionID), ref, ttl)
		}
		return nil
	})
	if err != nil {
		return repositories.Unavailable("redis.holds.save", err)
	}
	return nil
}

func (r *PendingCheckoutRepository) FindByRef(ctx context.Context, ref string) (domain.PendingCheckout, error) {
	hold, err := r.load(ctx, strings.TrimSpace(ref))
	if err != nil {
		return domain.PendingCheckout{}, err
	}
	if hold.Expired(r.now()) {
		return domain.PendingCheckout{}, repositories.NotFound("redis.holds.get")
	}
	return hold, nil
}

func (r *PendingCheckoutRepository) FindBySessionID(ctx context.Context, sessionID string) (domain.PendingCheckout, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.PendingCheckout{}, repositories.NotFound("redis.holds.find_by_session")
	}
	ref, err := r.client.Get(ctx, r.sessionKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.PendingCheckout{}, repositories.NotFound("redis.holds.find_by_session")
	}
	if err != nil {
		return domain.PendingCheckout{}, repositories.Unavailable("redis.holds.find_by_session", err)
	}
	hold, err := r.FindByRef(ctx, ref)
	if err != nil {
		return domain.PendingCheckout{}, err
	}
	if hold.SessionID != sessionID {
		return domain.PendingCheckout{}, repositories.NotFound("redis.holds.find_by_session")
	}
	return hold, nil
}

func (r *PendingCheckoutRepository) Delete(ctx context.Context, ref string) error {
	ref = strings.TrimSpace(ref)
	hold, err := r.load(ctx, ref)
	if err != nil {
		return err
	}
	keys := []string{r.holdKey(ref)}
	if hold.SessionID != "" {
		keys = append(keys, r.sessionKey(hold.SessionID))
	}
	deleted, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return repositories.Unavailable("redis.holds.delete", err)
	}
	if deleted == 0 {
		return repositories.NotFound("redis.holds.delete")
	}
	return nil
}

// DeleteExpired is a no-op: Redis evicts holds when their keys expire.
func (r *PendingCheckoutRepository) DeleteExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

// Ping reports whether Redis is reachable.
func (r *PendingCheckoutRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *PendingCheckoutRepository) load(ctx context.Context, ref string) (domain.PendingCheckout, error) {
	if ref == "" {
		return domain.PendingCheckout{}, repositories.NotFound("redis.holds.get")
	}
	raw, err := r.client.Get(ctx, r.holdKey(ref)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PendingCheckout{}, repositories.NotFound("redis.holds.get")
	}
	if err != nil {
		return domain.PendingCheckout{}, repositories.Unavailable("redis.holds.get", err)
	}
	hold, err := holdcodec.Unmarshal(raw)
	if err != nil {
		return domain.PendingCheckout{}, repositories.Failed("redis.holds.get", fmt.Errorf("decode hold %s: %w", ref, err))
	}
	return hold, nil
}

func (r *PendingCheckoutRepository) holdKey(ref string) string {
	return r.prefix + ":hold:" + ref
}

func (r *PendingCheckoutRepository) sessionKey(sessionID string) string {
	return r.prefix + ":session:" + sessionID
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
