package middleware_test

import (
	"context"
	"crypto/rand"
	"io"
	"testing"

	"github.com/aretw0/texrender/pkg/adapters/memory"
	"github.com/aretw0/texrender/pkg/domain"
	"github.com/aretw0/texrender/pkg/persistence/middleware"
	"github.com/aretw0/texrender/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) []byte {
	k := make([]byte, middleware.KeySize)
	_, err := io.ReadFull(rand.Reader, k)
	require.NoError(t, err)
	return k
}

func TestEncryptionMiddleware_Contract(t *testing.T) {
	store := memory.NewStore()
	secure := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(store)
	ports.RunKeyStoreContract(t, secure, ports.KeyStoreContract{})
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	ctx := context.Background()
	underlying := memory.NewStore()
	secure := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(underlying)

	require.NoError(t, secure.Set(ctx, "blame", "resp-1", []byte(`{"id":"user-42"}`), 0))

	raw, err := underlying.Get(ctx, "blame", "resp-1")
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "user-42", "value must be sealed at rest")

	plain, err := secure.Get(ctx, "blame", "resp-1")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"user-42"}`, string(plain))
}

func TestEncryptionMiddleware_BoundToKey(t *testing.T) {
	ctx := context.Background()
	underlying := memory.NewStore()
	secure := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(underlying)

	require.NoError(t, secure.Set(ctx, "blame", "resp-1", []byte("user-42"), 0))
	raw, err := underlying.Get(ctx, "blame", "resp-1")
	require.NoError(t, err)
	require.NoError(t, underlying.Set(ctx, "blame", "resp-2", raw, 0))

	_, err = secure.Get(ctx, "blame", "resp-2")
	assert.ErrorIs(t, err, middleware.ErrDecrypt)
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	ctx := context.Background()
	underlying := memory.NewStore()
	oldKey := generateKey(t)
	newKey := generateKey(t)

	secureOld := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: oldKey})(underlying)
	require.NoError(t, secureOld.Set(ctx, "p-tex-colour", "user-1", []byte("dark"), 0))

	secureNew := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    newKey,
		FallbackKeys: [][]byte{oldKey},
	})(underlying)

	got, err := secureNew.Get(ctx, "p-tex-colour", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "dark", string(got))

	// Rewritten values use the new key only.
	require.NoError(t, secureNew.Set(ctx, "p-tex-colour", "user-1", []byte("light"), 0))
	_, err = secureOld.Get(ctx, "p-tex-colour", "user-1")
	assert.ErrorIs(t, err, middleware.ErrDecrypt)
}

func TestEncryptionMiddleware_MissingKeyPassesThrough(t *testing.T) {
	secure := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(memory.NewStore())
	_, err := secure.Get(context.Background(), "blame", "nope")
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
}

func TestEncryptionMiddleware_InvalidKey(t *testing.T) {
	assert.Panics(t, func() {
		middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short-key")})
	})
}

func TestChain(t *testing.T) {
	var order []string
	tag := func(name string) middleware.Middleware {
		return func(next ports.KeyStore) ports.KeyStore {
			order = append(order, name)
			return next
		}
	}
	middleware.Chain(memory.NewStore(), tag("outer"), tag("inner"))
	assert.Equal(t, []string{"inner", "outer"}, order)
}
