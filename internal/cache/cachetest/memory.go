// Package cachetest provides an in-memory cache.Cache for package tests.
package cachetest

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/kiranshivaraju/portalgate/internal/cache"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache implements cache.Cache with TTLs evaluated against Now.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]entry

	// Now defaults to time.Now. Tests override it to move past expiries.
	Now func() time.Time
	// Err, when set, is returned by every method.
	Err error
}

func New() *MemoryCache {
	return &MemoryCache{entries: make(map[string]entry), Now: time.Now}
}

func (c *MemoryCache) SetErr(err error) {
	c.mu.Lock()
	c.Err = err
	c.mu.Unlock()
}

func (c *MemoryCache) lookup(key string) (entry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !c.Now().Before(e.expiresAt) {
		delete(c.entries, key)
		return entry{}, false
	}
	return e, true
}

func (c *MemoryCache) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.Now().Add(ttl)
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.entries[key] = entry{value: append([]byte(nil), value...), expiresAt: c.expiry(ttl)}
	return nil
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, false, c.Err
	}
	e, ok := c.lookup(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *MemoryCache) Ping(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Err
}

func (c *MemoryCache) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return false, c.Err
	}
	if _, ok := c.lookup(key); ok {
		return false, nil
	}
	c.entries[key] = entry{value: append([]byte(nil), value...), expiresAt: c.expiry(ttl)}
	return true, nil
}

func (c *MemoryCache) IncrWithExpiry(_ context.Context, key string, expiry time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return 0, c.Err
	}
	e, ok := c.lookup(key)
	var n int64
	if ok {
		n, _ = strconv.ParseInt(string(e.value), 10, 64)
	} else {
		e.expiresAt = c.expiry(expiry)
	}
	n++
	e.value = []byte(strconv.FormatInt(n, 10))
	c.entries[key] = e
	return n, nil
}

func (c *MemoryCache) GetInt(_ context.Context, key string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return 0, false, c.Err
	}
	e, ok := c.lookup(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(string(e.value), 10, 64)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// Has reports whether key is present and unexpired.
func (c *MemoryCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.lookup(key)
	return ok
}

var _ cache.Cache = (*MemoryCache)(nil)
