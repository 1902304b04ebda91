package memory

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
)

func testRedisAdapter(t *testing.T) *RedisAdapter {
	t.Helper()
	srv := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisAdapterFromClient(client, RedisAdapterConfig{})
}

func TestRedisAdapterRoundTrip(t *testing.T) {
	ctx := context.Background()
	adapter := testRedisAdapter(t)

	if err := adapter.Set(ctx, "tool/t1/ns/k", []byte(`"v"`)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	value, ok, err := adapter.Get(ctx, "tool/t1/ns/k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok || string(value) != `"v"` {
		t.Errorf("Get() = %q present=%v", value, ok)
	}

	if err := adapter.Delete(ctx, "tool/t1/ns/k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	_, ok, err = adapter.Get(ctx, "tool/t1/ns/k")
	if err != nil {
		t.Fatalf("Get() after delete error = %v", err)
	}
	if ok {
		t.Error("value present after delete")
	}
}

func TestRedisAdapterMissingKey(t *testing.T) {
	adapter := testRedisAdapter(t)

	_, ok, err := adapter.Get(context.Background(), "tool/t1/ns/missing")
	if err != nil {
		t.Fatalf("Get() error = %v, want absent without error", err)
	}
	if ok {
		t.Error("missing key reported present")
	}
}

func TestRedisAdapterBehindStore(t *testing.T) {
	ctx := context.Background()
	store := NewStoreWithAdapter(testRedisAdapter(t))

	store.Set(ctx, UserScope("user-1"), "prefs", "theme", "dark")
	var got string
	ok, err := store.Get(ctx, UserScope("user-1"), "prefs", "theme", &got)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok || got != "dark" {
		t.Errorf("got %q present=%v", got, ok)
	}
}
