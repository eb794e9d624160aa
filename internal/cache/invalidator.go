package cache

import (
	"context"
	"time"
)

// Entry is one cached rendering keyed by its canonical path and labeled with
// its surrogate tags.
type Entry struct {
	Body        []byte    `json:"body"`
	ContentType string    `json:"contentType,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	StoredAt    time.Time `json:"storedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Store is the read/write side of the surrogate cache.
type Store interface {
	Lookup(ctx context.Context, path string) (Entry, bool, error)
	Store(ctx context.Context, path string, entry Entry) error
}

// Backend combines the read/write and purge sides of one surrogate cache.
type Backend interface {
	Store
	Invalidator
}

// Invalidator is the cache-purge primitive the webhook dispatcher drives.
// Purges are idempotent and commutative: purging an already-absent tag or path
// succeeds with a zero count, and concurrent purges of the same tag may both
// proceed. Implementations must be safe for concurrent use.
type Invalidator interface {
	// PurgeTag drops every entry labeled with the tag, returning the number of
	// entries removed.
	PurgeTag(ctx context.Context, tag string) (int64, error)
	// PurgePath drops the entry cached under the exact path.
	PurgePath(ctx context.Context, path string) (int64, error)
	Close(ctx context.Context) error
}
