// Package defcache provides the bounded LRU cache mapping an experience
// identifier to its registered content definition. It is shared by reference
// between the aggregator (read/attribute) and the registration API (write).
package defcache

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/BarkinBalci/interaction-metrics-engine/internal/domain"
)

// DefaultCapacity is used when the configured capacity is not positive.
const DefaultCapacity = 100

// Cache is a strict LRU cache of experience definitions. Store and Get count
// as access and bump recency; every other operation leaves recency untouched.
// Eviction loses attribution capability only, never raw event durability.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, *domain.ExperienceDefinition]
	log *zap.Logger
}

// New creates a cache with the given capacity (entries, not bytes).
func New(capacity int, log *zap.Logger) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	inner, err := lru.New[string, *domain.ExperienceDefinition](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create definition cache: %w", err)
	}

	return &Cache{lru: inner, log: log}, nil
}

// Store inserts or updates a definition by its identifier and marks it most
// recently used. Inserting beyond capacity evicts the least recently used
// entry first. The definition is copied in; callers keep ownership of theirs.
func (c *Cache) Store(def *domain.ExperienceDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// An update under an existing id keeps the sent flag: re-registration
	// changes content, not delivery state.
	if prev, ok := c.lru.Peek(def.ID); ok {
		stored := def.Clone()
		stored.Sent = prev.Sent
		c.lru.Add(def.ID, stored)
		return
	}

	if evicted := c.lru.Add(def.ID, def.Clone()); evicted {
		c.log.Info("Definition cache evicted least recently used entry",
			zap.String("stored_id", def.ID),
			zap.Int("capacity", c.lru.Len()))
	}
}

// Get returns a copy of the definition and marks it most recently used.
func (c *Cache) Get(id string) (*domain.ExperienceDefinition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	def, ok := c.lru.Get(id)
	if !ok {
		return nil, false
	}
	return def.Clone(), true
}

// MarkAsSent idempotently flips the sent flag and returns the updated
// definition. Recency is not affected.
func (c *Cache) MarkAsSent(id string) (*domain.ExperienceDefinition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	def, ok := c.lru.Peek(id)
	if !ok {
		return nil, false
	}
	def.Sent = true
	return def.Clone(), true
}

// Contains reports presence without touching recency.
func (c *Cache) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(id)
}

// HasBeenSent reports whether the definition exists and has been forwarded
// downstream. Recency is not affected.
func (c *Cache) HasBeenSent(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	def, ok := c.lru.Peek(id)
	return ok && def.Sent
}

// Count returns the number of cached definitions.
func (c *Cache) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// All returns copies of every cached definition, least recently used first.
func (c *Cache) All() []*domain.ExperienceDefinition {
	c.mu.Lock()
	defer c.mu.Unlock()

	values := c.lru.Values()
	out := make([]*domain.ExperienceDefinition, 0, len(values))
	for _, def := range values {
		out = append(out, def.Clone())
	}
	return out
}

// RemoveAll clears the cache.
func (c *Cache) RemoveAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}
