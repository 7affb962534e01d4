// Package pebble provides an embedded, durable ports.KeyStore backed by Pebble.
//
// Each value is stored behind an 8-byte big-endian expiry (unix nanoseconds,
// zero meaning no expiry). Expired entries are hidden on read and purged by Sweep.
package pebble

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aretw0/texrender/pkg/domain"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

const expiryWidth = 8

// Store implements ports.KeyStore on a Pebble database.
type Store struct {
	db  *pebble.DB
	ttl time.Duration
	now func() time.Time
}

// Option configures the Store.
type Option func(*config)

type config struct {
	fs  vfs.FS
	ttl time.Duration
	now func() time.Time
}

// WithFS opens the database on fs, e.g. vfs.NewMem() in tests.
func WithFS(fs vfs.FS) Option {
	return func(c *config) {
		c.fs = fs
	}
}

// WithTTL sets the expiration for entries stored without one.
func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.ttl = ttl
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// Open opens (or creates) the database at path.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := config{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	pebbleOpts := &pebble.Options{}
	if cfg.fs != nil {
		pebbleOpts.FS = cfg.fs
	} else if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}

	db, err := pebble.Open(path, pebbleOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble store: %w", err)
	}
	return &Store{db: db, ttl: cfg.ttl, now: cfg.now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func dbKey(namespace, key string) []byte {
	return []byte(namespace + "\x00" + key)
}

// Get returns the value if present and not expired.
func (s *Store) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	v, closer, err := s.db.Get(dbKey(namespace, key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, domain.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get from pebble: %w", err)
	}
	defer closer.Close()

	if len(v) < expiryWidth {
		return nil, fmt.Errorf("corrupt entry %s/%s", namespace, key)
	}
	if s.expired(v, s.now()) {
		return nil, domain.ErrKeyNotFound
	}
	// copy value
	out := make([]byte, len(v)-expiryWidth)
	copy(out, v[expiryWidth:])
	return out, nil
}

// Set stores the value with an optional ttl.
func (s *Store) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = s.ttl
	}
	buf := make([]byte, expiryWidth+len(value))
	if ttl > 0 {
		binary.BigEndian.PutUint64(buf, uint64(s.now().Add(ttl).UnixNano()))
	}
	copy(buf[expiryWidth:], value)

	if err := s.db.Set(dbKey(namespace, key), buf, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save to pebble: %w", err)
	}
	return nil
}

// Delete removes the entry.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	if err := s.db.Delete(dbKey(namespace, key), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete from pebble: %w", err)
	}
	return nil
}

// Sweep deletes every expired entry in namespace and reports how many were removed.
func (s *Store) Sweep(ctx context.Context, namespace string) (int, error) {
	prefix := []byte(namespace + "\x00")
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return 0, err
	}
	defer it.Close()

	now := s.now()
	batch := s.db.NewBatch()
	defer batch.Close()

	removed := 0
	for ok := it.First(); ok; ok = it.Next() {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if !bytes.HasPrefix(it.Key(), prefix) || !s.expired(it.Value(), now) {
			continue
		}
		if err := batch.Delete(bytes.Clone(it.Key()), nil); err != nil {
			return 0, err
		}
		removed++
	}
	if removed == 0 {
		return 0, nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to sweep pebble: %w", err)
	}
	return removed, nil
}

func (s *Store) expired(v []byte, now time.Time) bool {
	if len(v) < expiryWidth {
		return false
	}
	at := binary.BigEndian.Uint64(v[:expiryWidth])
	return at != 0 && now.UnixNano() >= int64(at)
}

// upperBound returns the smallest key greater than every key with the given prefix.
func upperBound(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
