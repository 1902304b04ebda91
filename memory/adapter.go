package memory

import (
	"context"
	"errors"
)

// ErrStoreUnavailable wraps backend failures surfaced on the read path.
var ErrStoreUnavailable = errors.New("memory store unavailable")

// Adapter is the raw key/value backend behind the scoped store.
// Keys are fully namespaced strings; values are opaque serialized bytes.
// Last write wins; adapters do not version values.
type Adapter interface {
	// Get returns the value for key, reporting presence.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key, replacing any existing value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// Factory resolves the adapter once per process. Injecting a factory
// (rather than a lazily-initialized package global) keeps tests free to
// substitute fakes without mutating shared state.
type Factory interface {
	Open(ctx context.Context) (Adapter, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context) (Adapter, error)

// Open calls the wrapped function.
func (f FactoryFunc) Open(ctx context.Context) (Adapter, error) {
	return f(ctx)
}
