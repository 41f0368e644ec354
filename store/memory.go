package store

import (
	"context"
	"sync"
	"time"

	"github.com/classhub/throttle/core"
)

// MemoryBackend keeps bucket state in a process-local map.
// Each process enforces its own quota; use RedisBackend to share limits
// across replicas.
type MemoryBackend struct {
	bucket *core.TokenBucket
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]core.Entry
}

// Ensure MemoryBackend implements Backend interface
var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty in-memory backend for config.
func NewMemoryBackend(config core.Config, opts ...Option) (*MemoryBackend, error) {
	bucket, err := core.NewTokenBucket(config)
	if err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	return &MemoryBackend{
		bucket:  bucket,
		now:     o.now,
		entries: make(map[string]core.Entry),
	}, nil
}

// MemoryFactory returns a Factory building one MemoryBackend per limiter.
func MemoryFactory(opts ...Option) Factory {
	return func(_ string, config core.Config) (Backend, error) {
		return NewMemoryBackend(config, opts...)
	}
}

// IsAllowed charges one token for key. The read-modify-write runs under the
// backend lock so concurrent checks on one key cannot both spend a token.
func (m *MemoryBackend) IsAllowed(_ context.Context, key string) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	next, allowed := m.bucket.IsAllowed(m.lookup(key, now), now)
	m.entries[key] = next

	return Decision{
		Verdict:   VerdictOK,
		Allowed:   allowed,
		Remaining: m.bucket.Remaining(&next),
	}
}

// Remaining never materializes an entry for an unseen key.
func (m *MemoryBackend) Remaining(_ context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bucket.Remaining(m.lookup(key, m.now())), nil
}

// Reset removes key; resetting an unknown key is a no-op.
func (m *MemoryBackend) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// ClearAll removes every entry.
func (m *MemoryBackend) ClearAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]core.Entry)
	return nil
}

// Size returns the number of entries, including idle ones not yet cleaned up.
func (m *MemoryBackend) Size(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

func (m *MemoryBackend) Status(ctx context.Context) Status {
	size, _ := m.Size(ctx)
	return Status{Kind: KindLocal, Healthy: true, Entries: size}
}

func (m *MemoryBackend) Kind() Kind {
	return KindLocal
}

// Cleanup removes entries idle for longer than the configured TTL and returns
// how many were removed. It does nothing when the config has no TTL.
// The host decides when to call it; the backend runs no goroutines.
func (m *MemoryBackend) Cleanup() int {
	ttl := m.bucket.Config().TTL
	if ttl == 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-ttl)
	removed := 0
	for key, entry := range m.entries {
		if entry.LastRefill.Before(cutoff) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// lookup returns the live entry for key, treating entries idle past the TTL
// as absent. MUST be called with m.mu locked.
func (m *MemoryBackend) lookup(key string, now time.Time) *core.Entry {
	entry, ok := m.entries[key]
	if !ok {
		return nil
	}
	if ttl := m.bucket.Config().TTL; ttl > 0 && now.Sub(entry.LastRefill) > ttl {
		return nil
	}
	return &entry
}
