package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache implements Store and Invalidator over process memory. It keeps a
// tag index alongside the entries so tag purges stay proportional to the
// entries actually labeled with the tag.
type MemoryCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]Entry
	byTag   map[string]map[string]struct{}
}

// NewMemory builds the in-process surrogate cache used for single-instance
// deployments and tests.
func NewMemory(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]Entry),
		byTag:   make(map[string]map[string]struct{}),
	}
}

func (c *MemoryCache) Lookup(_ context.Context, path string) (Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[path]
	if !ok {
		return Entry{}, false, nil
	}
	if time.Now().After(entry.ExpiresAt) {
		c.evict(path)
		return Entry{}, false, nil
	}
	return cloneEntry(entry), true, nil
}

func (c *MemoryCache) Store(_ context.Context, path string, entry Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}
	if entry.ExpiresAt.IsZero() || entry.ExpiresAt.Before(entry.StoredAt) {
		entry.ExpiresAt = entry.StoredAt.Add(c.ttl)
	}
	c.evict(path)
	c.entries[path] = cloneEntry(entry)
	for _, tag := range entry.Tags {
		paths, ok := c.byTag[tag]
		if !ok {
			paths = make(map[string]struct{})
			c.byTag[tag] = paths
		}
		paths[path] = struct{}{}
	}
	return nil
}

func (c *MemoryCache) PurgeTag(_ context.Context, tag string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	paths, ok := c.byTag[tag]
	if !ok {
		return 0, nil
	}
	var removed int64
	for path := range paths {
		if _, exists := c.entries[path]; exists {
			c.evict(path)
			removed++
		}
	}
	delete(c.byTag, tag)
	return removed, nil
}

func (c *MemoryCache) PurgePath(_ context.Context, path string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[path]; !ok {
		return 0, nil
	}
	c.evict(path)
	return 1, nil
}

// Size reports the number of live entries, surfaced by health checks.
func (c *MemoryCache) Size(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.entries)), nil
}

func (c *MemoryCache) Close(context.Context) error {
	return nil
}

// evict removes the entry and unlinks it from every tag index. Callers hold
// the mutex.
func (c *MemoryCache) evict(path string) {
	entry, ok := c.entries[path]
	if !ok {
		return
	}
	delete(c.entries, path)
	for _, tag := range entry.Tags {
		if paths, ok := c.byTag[tag]; ok {
			delete(paths, path)
			if len(paths) == 0 {
				delete(c.byTag, tag)
			}
		}
	}
}

func cloneEntry(in Entry) Entry {
	out := in
	if len(in.Body) > 0 {
		out.Body = append([]byte(nil), in.Body...)
	}
	if len(in.Tags) > 0 {
		out.Tags = append([]string(nil), in.Tags...)
	}
	return out
}
