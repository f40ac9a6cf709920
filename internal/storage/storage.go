package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key doesn't exist in the store.
var ErrNotFound = errors.New("key not found")

// Store is the persisted, origin-scoped key-value capability shared by
// every client of the same origin (the browser-world equivalent is
// localStorage). It is multi-writer/multi-reader with no transactions and
// no compare-and-set: reads may be stale, writes are best-effort, and
// callers must not build hard mutual-exclusion guarantees on top of it.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set writes or overwrites the value for key.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// ListKeys returns every key starting with prefix.
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}
