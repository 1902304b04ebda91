package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Reserved tool+org namespace/key pairs. These are written on every build
// step and read on every gate check, so they are denormalized into
// purpose-built storage rather than the generic table.
const (
	NamespaceLifecycle = "lifecycle"
	KeyLifecycleState  = "state"

	NamespaceBuild = "build"
	KeyBuildLogs   = "logs"
)

// Store is the scoped memory store. It normalizes scopes before dispatch,
// serializes values as JSON, and splits writes into a best-effort tier
// (Set/Delete: caught and logged, never build-blocking) and a must-succeed
// tier (SetDurable/DeleteDurable) for the reserved lifecycle entries.
type Store struct {
	adapter  Adapter
	reserved Adapter
	logger   *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithReservedAdapter routes the reserved lifecycle/build entries to a
// dedicated adapter (typically a separate table in the same database).
func WithReservedAdapter(a Adapter) StoreOption {
	return func(s *Store) { s.reserved = a }
}

// WithLogger sets the logger for best-effort write failures.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

// NewStore resolves an adapter through the factory and wraps it. A nil
// factory, or a factory error, substitutes the ephemeral in-process
// adapter transparently so an unconfigured backend never blocks a build.
func NewStore(ctx context.Context, factory Factory, opts ...StoreOption) *Store {
	s := &Store{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	if factory == nil {
		s.logger.Info("memory backend unconfigured, using ephemeral in-process adapter")
		s.adapter = NewMemAdapter()
	} else {
		adapter, err := factory.Open(ctx)
		if err != nil || adapter == nil {
			s.logger.Warn("memory backend unavailable, using ephemeral in-process adapter", "error", err)
			s.adapter = NewMemAdapter()
		} else {
			s.adapter = adapter
		}
	}

	if s.reserved == nil {
		s.reserved = s.adapter
	}
	return s
}

// NewStoreWithAdapter wraps an already-open adapter. Used by tests and by
// callers that manage adapter lifecycle themselves.
func NewStoreWithAdapter(adapter Adapter, opts ...StoreOption) *Store {
	s := &Store{adapter: adapter, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.reserved == nil {
		s.reserved = s.adapter
	}
	return s
}

// Get reads a value into out (a pointer), reporting presence. Backend
// failures propagate so callers can tell "absent" from "unavailable".
func (s *Store) Get(ctx context.Context, scope Scope, namespace, key string, out any) (bool, error) {
	fullKey, adapter, err := s.route(scope, namespace, key)
	if err != nil {
		return false, err
	}

	raw, ok, err := adapter.Get(ctx, fullKey)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("memory: decode %s: %w", fullKey, err)
	}
	return true, nil
}

// Set stores a value best-effort. Failures are logged and swallowed:
// memory writes must never block a build.
func (s *Store) Set(ctx context.Context, scope Scope, namespace, key string, value any) {
	if err := s.SetDurable(ctx, scope, namespace, key, value); err != nil {
		s.logger.Warn("memory write failed",
			"scope", string(scope.Kind), "namespace", namespace, "key", key, "error", err)
	}
}

// SetDurable stores a value and propagates failures. The reserved
// lifecycle and build-log entries use this tier.
func (s *Store) SetDurable(ctx context.Context, scope Scope, namespace, key string, value any) error {
	fullKey, adapter, err := s.route(scope, namespace, key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("memory: encode %s: %w", fullKey, err)
	}
	return adapter.Set(ctx, fullKey, raw)
}

// Delete removes a value best-effort; failures are logged and swallowed.
func (s *Store) Delete(ctx context.Context, scope Scope, namespace, key string) {
	if err := s.DeleteDurable(ctx, scope, namespace, key); err != nil {
		s.logger.Warn("memory delete failed",
			"scope", string(scope.Kind), "namespace", namespace, "key", key, "error", err)
	}
}

// DeleteDurable removes a value and propagates failures.
func (s *Store) DeleteDurable(ctx context.Context, scope Scope, namespace, key string) error {
	fullKey, adapter, err := s.route(scope, namespace, key)
	if err != nil {
		return err
	}
	return adapter.Delete(ctx, fullKey)
}

// Close closes the underlying adapters.
func (s *Store) Close() error {
	err := s.adapter.Close()
	if s.reserved != s.adapter {
		if rerr := s.reserved.Close(); err == nil {
			err = rerr
		}
	}
	return err
}

// route validates the scope and namespace/key, builds the storage key, and
// picks the generic or reserved adapter.
func (s *Store) route(scope Scope, namespace, key string) (string, Adapter, error) {
	if err := scope.Validate(); err != nil {
		return "", nil, err
	}
	if err := validNamespaceKey(namespace, key); err != nil {
		return "", nil, err
	}

	fullKey := scope.storageKey() + "/" + namespace + "/" + key
	if scope.Kind == ScopeToolOrg && isReserved(namespace, key) {
		return fullKey, s.reserved, nil
	}
	return fullKey, s.adapter, nil
}

func isReserved(namespace, key string) bool {
	switch {
	case namespace == NamespaceLifecycle && key == KeyLifecycleState:
		return true
	case namespace == NamespaceBuild && key == KeyBuildLogs:
		return true
	}
	return false
}
