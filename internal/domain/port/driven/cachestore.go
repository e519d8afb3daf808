package driven

import "context"

// CacheStore defines the driven port for the keyed directory cache used by
// cache steps. Keys are opaque rendered strings; the store does not interpret
// them. Concurrent saves under the same key are last-writer-wins.
type CacheStore interface {
	// Restore copies the cached tree for key into dest. Returns false with a
	// nil error on a cache miss.
	Restore(ctx context.Context, key, dest string) (bool, error)

	// Save stores the tree rooted at src under key, replacing any existing
	// entry atomically.
	Save(ctx context.Context, key, src string) error

	// Has reports whether an entry exists for key.
	Has(key string) (bool, error)
}
