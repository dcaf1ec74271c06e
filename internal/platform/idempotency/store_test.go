package idempotency

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewRedisStore(client, WithRedisPrefix("test:idem"))
	require.NoError(t, err)
	return mr, store
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	res, err := store.Reserve(ctx, "key-1", "fp-1", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, res.State)

	res, err = store.Reserve(ctx, "key-1", "fp-1", fixedTime.Add(time.Second), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStatePending, res.State)

	_, err = store.Reserve(ctx, "key-1", "fp-other", fixedTime, time.Hour)
	assert.True(t, errors.Is(err, ErrFingerprintMismatch))

	headers := http.Header{"Content-Type": {"application/json"}, "Content-Length": {"12"}}
	require.NoError(t, store.SaveResponse(ctx, "key-1", "fp-1", Response{Status: 201, Headers: headers, Body: []byte(`{"ok":true}`)}, fixedTime, time.Hour))

	res, err = store.Reserve(ctx, "key-1", "fp-1", fixedTime.Add(time.Minute), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateCompleted, res.State)
	assert.Equal(t, 201, res.Record.ResponseStatus)
	assert.Equal(t, `{"ok":true}`, string(res.Record.ResponseBody))
	assert.Equal(t, []string{"application/json"}, res.Record.ResponseHeaders["Content-Type"])
	assert.NotContains(t, res.Record.ResponseHeaders, "Content-Length")

	assert.True(t, errors.Is(store.SaveResponse(ctx, "key-1", "fp-other", Response{Status: 200}, fixedTime, time.Hour), ErrFingerprintMismatch))

	require.NoError(t, store.Release(ctx, "key-1", "fp-1"))
	res, err = store.Reserve(ctx, "key-1", "fp-other", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, res.State)
}

func TestMemoryStoreLifecycle(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestRedisStoreLifecycle(t *testing.T) {
	_, store := newRedisStore(t)
	exerciseStore(t, store)
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_, err := store.Reserve(ctx, "key", "fp", fixedTime, time.Minute)
	require.NoError(t, err)

	res, err := store.Reserve(ctx, "key", "fp-new", fixedTime.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, res.State)

	removed, err := store.CleanupExpired(ctx, fixedTime.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestRedisStoreKeysExpire(t *testing.T) {
	mr, store := newRedisStore(t)
	ctx := context.Background()
	_, err := store.Reserve(ctx, "key", "fp", fixedTime, time.Minute)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	res, err := store.Reserve(ctx, "key", "fp-new", fixedTime.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, res.State)
}

func TestNewRedisStoreRequiresClient(t *testing.T) {
	_, err := NewRedisStore(nil)
	assert.Error(t, err)
}
