package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_SetGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Get(ctx, "absent"); err != ErrMiss {
		t.Errorf("Get(absent) error = %v, want ErrMiss", err)
	}

	if err := store.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Get() = %q, want %q", got, "v")
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()
	current := base
	store.SetClock(func() time.Time { return current })

	if err := store.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := store.Get(ctx, "k"); err != nil {
		t.Fatalf("Get() before expiry error = %v", err)
	}

	current = base.Add(2 * time.Minute)
	if _, err := store.Get(ctx, "k"); err != ErrMiss {
		t.Errorf("Get() after expiry error = %v, want ErrMiss", err)
	}
}

func TestMemoryStore_LastWriterWins(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Set(ctx, "k", []byte("first"), time.Minute)
	_ = store.Set(ctx, "k", []byte("second"), time.Minute)

	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "second" {
		t.Errorf("Get() = %q, want %q", got, "second")
	}
}

func TestMemoryStore_DeleteByPrefix(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Set(ctx, "rec:u1:p1", []byte("a"), time.Minute)
	_ = store.Set(ctx, "rec:u1:p2", []byte("b"), time.Minute)
	_ = store.Set(ctx, "rec:u2:p1", []byte("c"), time.Minute)

	if err := store.DeleteByPrefix(ctx, "rec:u1:"); err != nil {
		t.Fatalf("DeleteByPrefix() error = %v", err)
	}

	if _, err := store.Get(ctx, "rec:u1:p1"); err != ErrMiss {
		t.Error("rec:u1:p1 should be gone")
	}
	if _, err := store.Get(ctx, "rec:u1:p2"); err != ErrMiss {
		t.Error("rec:u1:p2 should be gone")
	}
	if _, err := store.Get(ctx, "rec:u2:p1"); err != nil {
		t.Error("rec:u2:p1 should survive")
	}
}
