package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/texrender/pkg/adapters/redis"
	"github.com/aretw0/texrender/pkg/domain"
	"github.com/aretw0/texrender/pkg/ports"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_Contract(t *testing.T) {
	mr, client := newMiniredis(t)

	store := redis.NewFromClient(client)
	ports.RunKeyStoreContract(t, store, ports.KeyStoreContract{Advance: mr.FastForward})
}

func TestRedisStore_DefaultTTL(t *testing.T) {
	mr, client := newMiniredis(t)
	store := redis.NewFromClient(client, redis.WithTTL(time.Second))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "edits", "m1", []byte("r1"), 0))
	assert.Equal(t, time.Second, mr.TTL("texrender:edits:m1"))

	mr.FastForward(2 * time.Second)
	_, err := store.Get(ctx, "edits", "m1")
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
}

func TestRedisStore_Prefix(t *testing.T) {
	mr, client := newMiniredis(t)
	store := redis.NewFromClient(client, redis.WithPrefix("custom:app:"))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "blame", "m1", []byte(`{"id":"u1"}`), 0))

	got, err := mr.Get("custom:app:blame:m1")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"u1"}`, got)
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr, client := newMiniredis(t)
	store := redis.NewFromClient(client)
	mr.Close()

	_, err := store.Get(context.Background(), "blame", "m1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrKeyNotFound)
	assert.Error(t, store.Ping(context.Background()))
}
