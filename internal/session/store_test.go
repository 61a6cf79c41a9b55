package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, mr
}

func TestRedisPutGetDelete(t *testing.T) {
	store, mr := setupRedisStore(t)
	defer store.Close()
	defer mr.Close()

	ctx := context.Background()
	state := &State{Kind: KindPendingAttach, RecordCode: "F-202602-001", CreatedAt: time.Now()}

	if err := store.Put(ctx, "+525512345678", state, time.Minute); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, "+525512345678")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Kind != KindPendingAttach || got.RecordCode != "F-202602-001" {
		t.Errorf("unexpected state: %+v", got)
	}

	if err := store.Delete(ctx, "+525512345678"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "+525512345678"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestRedisExpiry(t *testing.T) {
	store, mr := setupRedisStore(t)
	defer store.Close()
	defer mr.Close()

	ctx := context.Background()
	state := &State{Kind: KindPendingCloseConfirm, RecordCode: "PRJ-202602-003"}

	if err := store.Put(ctx, "+525512345678", state, time.Second); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	mr.FastForward(2 * time.Second)

	if _, err := store.Get(ctx, "+525512345678"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for expired session, got %v", err)
	}
}

func TestRedisGetMissing(t *testing.T) {
	store, mr := setupRedisStore(t)
	defer store.Close()
	defer mr.Close()

	if _, err := store.Get(context.Background(), "+520000000000"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryPutGetDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	state := &State{Kind: KindPendingAttach, RecordCode: "F-202602-002"}

	if err := store.Put(ctx, "+525512345678", state, time.Minute); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, "+525512345678")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.RecordCode != "F-202602-002" {
		t.Errorf("unexpected record code %q", got.RecordCode)
	}

	if err := store.Delete(ctx, "+525512345678"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "+525512345678"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Put(ctx, "+525512345678", &State{Kind: KindPendingAttach}, time.Millisecond); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, err := store.Get(ctx, "+525512345678"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for expired session, got %v", err)
	}
}

func TestMemoryIsolationBetweenPhones(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Put(ctx, "+525511111111", &State{Kind: KindPendingAttach, RecordCode: "F-202602-001"}, time.Minute)
	_ = store.Put(ctx, "+525522222222", &State{Kind: KindPendingCloseConfirm, RecordCode: "PRJ-202602-001"}, time.Minute)

	_ = store.Delete(ctx, "+525511111111")

	got, err := store.Get(ctx, "+525522222222")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Kind != KindPendingCloseConfirm {
		t.Errorf("unexpected kind %q", got.Kind)
	}
}
