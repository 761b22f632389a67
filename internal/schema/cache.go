// Package schema keeps the live index mapping and the service's view of it
// in step.
//
// Cache is the set of field names known to exist in the index mapping.
// Engine reconciles fields missing from the cache by resolving their data
// types through the data dictionary and issuing additive mapping updates.
// Schema evolution is append-only: fields are added, never removed or
// redefined.
package schema

import (
	"context"
	"fmt"
	"sync"
)

// MappingSource lists the field names of an index mapping.
type MappingSource interface {
	Mapping(ctx context.Context, index string) ([]string, error)
}

// Cache is a concurrency-safe, grow-only set of field names.
type Cache struct {
	mu     sync.RWMutex
	fields map[string]struct{}
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{fields: make(map[string]struct{})}
}

// Contains reports whether name is known.
func (c *Cache) Contains(name string) bool {
	c.mu.RLock()
	_, ok := c.fields[name]
	c.mu.RUnlock()
	return ok
}

// Add records names and returns how many were new.
func (c *Cache) Add(names ...string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	added := 0
	for _, n := range names {
		if _, ok := c.fields[n]; !ok {
			c.fields[n] = struct{}{}
			added++
		}
	}
	return added
}

// Missing returns the names not in the cache, in input order, without
// duplicates.
func (c *Cache) Missing(names []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	seen := make(map[string]struct{})
	for _, n := range names {
		if _, ok := c.fields[n]; ok {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Len returns the number of known fields.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.fields)
}

// Refresh adds the field names of index's live mapping and returns how many
// were new. Names are never removed.
func (c *Cache) Refresh(ctx context.Context, src MappingSource, index string) (int, error) {
	names, err := src.Mapping(ctx, index)
	if err != nil {
		return 0, fmt.Errorf("load mapping of %s: %w", index, err)
	}
	return c.Add(names...), nil
}
