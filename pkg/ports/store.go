package ports

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// KeyStore is a namespaced key-value store.
// Implementations must be safe for concurrent use.
type KeyStore interface {
	// Get returns the value stored under namespace/key.
	// Returns domain.ErrKeyNotFound if the key does not exist or has expired.
	Get(ctx context.Context, namespace, key string) ([]byte, error)

	// Set stores value under namespace/key. A ttl of zero means no expiration.
	Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error

	// Delete removes namespace/key. Deleting a missing key is not an error.
	Delete(ctx context.Context, namespace, key string) error
}

// GetJSON loads namespace/key and decodes it into v.
func GetJSON(ctx context.Context, store KeyStore, namespace, key string, v any) error {
	data, err := store.Get(ctx, namespace, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s/%s: %w", namespace, key, err)
	}
	return nil
}

// SetJSON encodes v and stores it under namespace/key.
func SetJSON(ctx context.Context, store KeyStore, namespace, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", namespace, key, err)
	}
	return store.Set(ctx, namespace, key, data, ttl)
}
