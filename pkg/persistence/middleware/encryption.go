package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aretw0/texrender/pkg/ports"
)

// KeySize is the AES-256 key length.
const KeySize = 32

// ErrDecrypt is returned when no configured key opens a stored value.
var ErrDecrypt = errors.New("decryption failed with all available keys")

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new values.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys are old keys tried when the active key fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.KeyStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that seals every value with AES-GCM.
// The namespace and key are bound as additional data, so a sealed value cannot be
// replayed under another key.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != KeySize {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.KeyStore) ports.KeyStore {
		return &encryptionMiddleware{
			next:   next,
			config: config,
		}
	}
}

func (m *encryptionMiddleware) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	sealed, err := m.next.Get(ctx, namespace, key)
	if err != nil {
		return nil, err
	}

	aad := additionalData(namespace, key)
	if plain, err := open(sealed, m.config.ActiveKey, aad); err == nil {
		return plain, nil
	}
	for _, k := range m.config.FallbackKeys {
		if plain, err := open(sealed, k, aad); err == nil {
			return plain, nil
		}
	}
	return nil, fmt.Errorf("%s/%s: %w", namespace, key, ErrDecrypt)
}

func (m *encryptionMiddleware) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	sealed, err := seal(value, m.config.ActiveKey, additionalData(namespace, key))
	if err != nil {
		return fmt.Errorf("failed to encrypt %s/%s: %w", namespace, key, err)
	}
	return m.next.Set(ctx, namespace, key, sealed, ttl)
}

func (m *encryptionMiddleware) Delete(ctx context.Context, namespace, key string) error {
	return m.next.Delete(ctx, namespace, key)
}

func additionalData(namespace, key string) []byte {
	return []byte(namespace + "\x00" + key)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func seal(plaintext, key, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

func open(ciphertext, key, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], aad)
}
