// Package ens memoizes address to display-name resolution for the session.
package ens

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Resolver is the external naming service behind the cache. found is false
// when the address has no name; that is a valid answer, not an error.
type Resolver interface {
	Lookup(ctx context.Context, address string) (name string, found bool, err error)
}

// Observer is notified after every external lookup. Metrics implement it.
type Observer interface {
	ObserveLookup(found bool, err error)
}

type entry struct {
	name  string
	found bool
}

// Cache resolves names at most once per address per session. Failed lookups
// are not stored, so the next call retries.
type Cache struct {
	resolver Resolver
	observer Observer
	logger   *zap.Logger

	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
}

// NewCache creates a cache in front of resolver. observer may be nil.
func NewCache(resolver Resolver, observer Observer, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		resolver: resolver,
		observer: observer,
		logger:   logger,
		entries:  make(map[string]entry),
	}
}

// Resolve returns the display name for address. Concurrent calls for the
// same address share one in-flight lookup.
func (c *Cache) Resolve(ctx context.Context, address string) (string, bool, error) {
	addr := strings.ToLower(address)
	if name, found, cached := c.Peek(addr); cached {
		return name, found, nil
	}

	// The shared lookup outlives any single caller giving up on it.
	lookupCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(addr, func() (any, error) {
		// A lookup that finished between Peek and DoChan already stored it.
		if name, found, cached := c.Peek(addr); cached {
			return entry{name: name, found: found}, nil
		}
		name, found, err := c.resolver.Lookup(lookupCtx, addr)
		if c.observer != nil {
			c.observer.ObserveLookup(found, err)
		}
		if err != nil {
			return nil, err
		}
		e := entry{name: name, found: found}
		c.mu.Lock()
		c.entries[addr] = e
		c.mu.Unlock()
		return e, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			c.logger.Debug("name lookup failed", zap.String("address", addr), zap.Error(res.Err))
			return "", false, fmt.Errorf("lookup %s: %w", addr, res.Err)
		}
		e := res.Val.(entry)
		return e.name, e.found, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

// Peek reads the cache without calling the resolver. cached reports whether
// the address was ever resolved, found whether it has a name.
func (c *Cache) Peek(address string) (name string, found, cached bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[strings.ToLower(address)]
	return e.name, e.found, ok
}

// Len returns the number of memoized addresses.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Reset drops every entry. Called at session teardown.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}
