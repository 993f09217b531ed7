// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"testing"
	"time"
)

func newTestMemoryStore(t *testing.T, ttl time.Duration) *MemoryStore {
	t.Helper()
	store := NewMemoryStore(ttl, 0)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestMemoryStore_SetGetInvalidate(t *testing.T) {
	store := newTestMemoryStore(t, time.Minute)
	ctx := context.Background()

	if err := store.Set(ctx, "k1", testRecord("k1", "sess-a")); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	rec, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("expected record, got %v", err)
	}
	if rec.SessionID != "sess-a" {
		t.Errorf("unexpected record: %+v", rec)
	}

	if err := store.Invalidate(ctx, "k1"); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if _, err := store.Get(ctx, "k1"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_CounterAccuracy(t *testing.T) {
	store := newTestMemoryStore(t, time.Minute)
	ctx := context.Background()

	_ = store.Set(ctx, "k1", testRecord("k1", "sess-a"))
	_ = store.Set(ctx, "k1", testRecord("k1", "sess-a"))
	_ = store.Set(ctx, "k2", testRecord("k2", "sess-b"))

	if got := store.Stats(ctx).ApproxSize; got != 2 {
		t.Fatalf("expected size 2, got %d", got)
	}

	_ = store.Invalidate(ctx, "missing")
	if got := store.Stats(ctx).ApproxSize; got != 2 {
		t.Fatalf("invalidating an absent key must not decrement, got %d", got)
	}

	_ = store.Invalidate(ctx, "k1")
	if got := store.Stats(ctx).ApproxSize; got != 1 {
		t.Fatalf("expected size 1, got %d", got)
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := newTestMemoryStore(t, 50*time.Millisecond)
	ctx := context.Background()

	_ = store.Set(ctx, "k1", testRecord("k1", "sess-a"))

	time.Sleep(80 * time.Millisecond)

	if _, err := store.Get(ctx, "k1"); err != ErrNotFound {
		t.Errorf("expected expiry, got %v", err)
	}

	// A set after expiry counts as a new key again.
	_ = store.Set(ctx, "k1", testRecord("k1", "sess-a"))
	if got := store.Stats(ctx).ApproxSize; got != 2 {
		t.Errorf("expected counter drift (expiry does not decrement), got %d", got)
	}
}

func TestMemoryStore_InvalidateBySessionID(t *testing.T) {
	store := newTestMemoryStore(t, time.Minute)
	ctx := context.Background()

	_ = store.Set(ctx, "k1", testRecord("k1", "sess-a"))
	_ = store.Set(ctx, "k2", testRecord("k2", "sess-a"))
	_ = store.Set(ctx, "k3", testRecord("k3", "sess-b"))

	if err := store.InvalidateBySessionID(ctx, "sess-a"); err != nil {
		t.Fatalf("invalidate by session id failed: %v", err)
	}

	if _, err := store.Get(ctx, "k1"); err != ErrNotFound {
		t.Errorf("expected k1 removed, got %v", err)
	}
	if _, err := store.Get(ctx, "k2"); err != ErrNotFound {
		t.Errorf("expected k2 removed, got %v", err)
	}
	if _, err := store.Get(ctx, "k3"); err != nil {
		t.Errorf("expected k3 to survive, got %v", err)
	}
	if got := store.Stats(ctx).ApproxSize; got != 1 {
		t.Errorf("expected size 1, got %d", got)
	}
}
