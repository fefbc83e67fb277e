// Package credentials caches account API key pairs so runners and restarts do not hit the store each time
package credentials

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rebuybot/internal/core"
	apperrors "rebuybot/pkg/errors"
)

// DefaultTTL is how long a fetched pair stays valid
const DefaultTTL = 300 * time.Second

type entry struct {
	creds     core.Credentials
	expiresAt time.Time
}

// Cache is a TTL map of account id to credentials. Expired entries are dropped lazily on read.
type Cache struct {
	mu      sync.Mutex
	entries map[int64]entry
	ttl     time.Duration
	now     func() time.Time
}

// Option configures a Cache
type Option func(*Cache)

// WithClock injects the time source, for tests
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a cache with the given default TTL; non-positive means DefaultTTL
func NewCache(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		entries: make(map[int64]entry),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a copy of the cached pair if present and unexpired
func (c *Cache) Get(accountID int64) (core.Credentials, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[accountID]
	if !ok {
		return core.Credentials{}, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, accountID)
		return core.Credentials{}, false
	}
	return e.creds, true
}

// Set stores a pair for ttl; non-positive ttl uses the cache default
func (c *Cache) Set(accountID int64, creds core.Credentials, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[accountID] = entry{creds: creds, expiresAt: c.now().Add(ttl)}
}

// Invalidate drops the pair for an account, e.g. after key rotation
func (c *Cache) Invalidate(accountID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, accountID)
}

// Len returns the number of entries including ones not yet lazily expired
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// GetOrFetch returns the cached pair or calls fetch outside the lock and caches a complete result.
// Concurrent misses may fetch more than once; the last writer wins.
func (c *Cache) GetOrFetch(ctx context.Context, accountID int64, fetch func(ctx context.Context) (*core.Credentials, error)) (*core.Credentials, error) {
	if creds, ok := c.Get(accountID); ok {
		return &creds, nil
	}

	creds, err := fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch credentials for account %d: %w", accountID, err)
	}
	if !creds.Complete() {
		return nil, fmt.Errorf("%w: account %d", apperrors.ErrCredentialsMissing, accountID)
	}

	c.Set(accountID, *creds, 0)
	out := *creds
	return &out, nil
}
