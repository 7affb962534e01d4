package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/texrender/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// KeyStoreContract holds the hooks a KeyStore implementation needs for the expiry checks.
type KeyStoreContract struct {
	// Advance moves the store's clock forward. When nil the expiry test is skipped.
	Advance func(d time.Duration)
}

// RunKeyStoreContract runs a suite of tests to verify that a KeyStore implementation
// adheres to the defined interface contract.
func RunKeyStoreContract(t *testing.T, store KeyStore, c KeyStoreContract) {
	ctx := context.Background()
	suffix := time.Now().Format("20060102150405.000")

	t.Run("Set and Get", func(t *testing.T) {
		key := "set-" + suffix
		require.NoError(t, store.Set(ctx, "blame", key, []byte(`{"id":"42"}`), 0))

		got, err := store.Get(ctx, "blame", key)
		require.NoError(t, err)
		assert.Equal(t, `{"id":"42"}`, string(got))
	})

	t.Run("Overwrite", func(t *testing.T) {
		key := "overwrite-" + suffix
		require.NoError(t, store.Set(ctx, "p-tex-colour", key, []byte("light"), 0))
		require.NoError(t, store.Set(ctx, "p-tex-colour", key, []byte("dark"), 0))

		got, err := store.Get(ctx, "p-tex-colour", key)
		require.NoError(t, err)
		assert.Equal(t, "dark", string(got))
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.Get(ctx, "blame", "missing-"+suffix)
		assert.ErrorIs(t, err, domain.ErrKeyNotFound)
	})

	t.Run("Namespaces Are Isolated", func(t *testing.T) {
		key := "shared-" + suffix
		require.NoError(t, store.Set(ctx, "features", key, []byte("true"), 0))

		_, err := store.Get(ctx, "blame", key)
		assert.ErrorIs(t, err, domain.ErrKeyNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		key := "delete-" + suffix
		require.NoError(t, store.Set(ctx, "blame", key, []byte("x"), 0))
		require.NoError(t, store.Delete(ctx, "blame", key))

		_, err := store.Get(ctx, "blame", key)
		assert.ErrorIs(t, err, domain.ErrKeyNotFound, "Get after Delete should return ErrKeyNotFound")

		assert.NoError(t, store.Delete(ctx, "blame", key), "deleting twice is not an error")
	})

	t.Run("JSON Helpers", func(t *testing.T) {
		type record struct {
			ID string `json:"id"`
		}
		key := "json-" + suffix
		require.NoError(t, SetJSON(ctx, store, "blame", key, record{ID: "7"}, 0))

		var got record
		require.NoError(t, GetJSON(ctx, store, "blame", key, &got))
		assert.Equal(t, "7", got.ID)
	})

	t.Run("Expiry", func(t *testing.T) {
		if c.Advance == nil {
			t.Skip("store has no controllable clock")
		}
		key := "ttl-" + suffix
		require.NoError(t, store.Set(ctx, "edits", key, []byte("m1"), time.Minute))

		_, err := store.Get(ctx, "edits", key)
		require.NoError(t, err)

		c.Advance(2 * time.Minute)
		_, err = store.Get(ctx, "edits", key)
		assert.ErrorIs(t, err, domain.ErrKeyNotFound)
	})
}
