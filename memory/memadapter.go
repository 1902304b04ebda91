package memory

import (
	"context"
	"sync"
)

// MemAdapter is a thread-safe in-process adapter. It is the transparent
// fallback when no durable backend is configured: consistent within the
// process, not durable across restarts.
type MemAdapter struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemAdapter creates an empty in-process adapter.
func NewMemAdapter() *MemAdapter {
	return &MemAdapter{items: make(map[string][]byte)}
}

func (a *MemAdapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.items[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (a *MemAdapter) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items[key] = stored
	return nil
}

func (a *MemAdapter) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.items, key)
	return nil
}

// Close is a no-op for the in-process adapter.
func (a *MemAdapter) Close() error { return nil }

var _ Adapter = (*MemAdapter)(nil)
