package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/texrender/pkg/domain"
)

type entry struct {
	value   []byte
	expires time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// purgeEvery bounds how often Set scans the whole map for expired entries.
const purgeEvery = time.Minute

// Store implements ports.KeyStore in memory.
// Safe for concurrent use. Expired entries are dropped on access, by Sweep, and by a
// full purge that Set runs at most once per purgeEvery.
type Store struct {
	data      map[string]entry
	mu        sync.RWMutex
	now       func() time.Time
	lastPurge time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithClock replaces time.Now, mainly for expiry tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a new in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		data: make(map[string]entry),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastPurge = s.now()
	return s
}

func key(namespace, k string) string {
	return namespace + "\x00" + k
}

// Get returns a copy of the stored value.
func (s *Store) Get(ctx context.Context, namespace, k string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.data[key(namespace, k)]
	s.mu.RUnlock()

	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	if e.expired(s.now()) {
		s.mu.Lock()
		// Re-check: a concurrent Set may have refreshed the entry.
		if cur, ok := s.data[key(namespace, k)]; ok && cur.expired(s.now()) {
			delete(s.data, key(namespace, k))
		}
		s.mu.Unlock()
		return nil, domain.ErrKeyNotFound
	}
	return append([]byte(nil), e.value...), nil
}

// Set stores a copy of value.
func (s *Store) Set(ctx context.Context, namespace, k string, value []byte, ttl time.Duration) error {
	now := s.now()
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = now.Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.lastPurge) >= purgeEvery {
		s.purge("", now)
		s.lastPurge = now
	}
	s.data[key(namespace, k)] = e
	return nil
}

// Sweep deletes every expired entry in namespace and reports how many were removed.
// An empty namespace sweeps the whole store.
func (s *Store) Sweep(ctx context.Context, namespace string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purge(namespace, s.now()), nil
}

// purge removes expired entries under namespace. The caller holds s.mu.
func (s *Store) purge(namespace string, now time.Time) int {
	prefix := ""
	if namespace != "" {
		prefix = key(namespace, "")
	}
	removed := 0
	for k, e := range s.data {
		if e.expired(now) && strings.HasPrefix(k, prefix) {
			delete(s.data, k)
			removed++
		}
	}
	return removed
}

// Delete removes the entry.
func (s *Store) Delete(ctx context.Context, namespace, k string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key(namespace, k))
	return nil
}

// Len reports the number of live entries.
func (s *Store) Len() int {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.data {
		if !e.expired(now) {
			n++
		}
	}
	return n
}
