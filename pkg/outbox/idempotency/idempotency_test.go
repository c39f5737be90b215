package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeStore struct {
	keys        map[string]bool
	setNXError  error
	lastKey     string
	lastTTL     time.Duration
	lastDeleted string
}

func newFakeStore() *fakeStore {
	return &fakeStore{keys: make(map[string]bool)}
}

func (f *fakeStore) Get(context.Context, string) (string, error) {
	return "", nil
}

func (f *fakeStore) Set(_ context.Context, key string, _ any, _ time.Duration) error {
	f.keys[key] = true
	return nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, _ any, ttl time.Duration) (bool, error) {
	f.lastKey = key
	f.lastTTL = ttl
	if f.setNXError != nil {
		return false, f.setNXError
	}
	if f.keys[key] {
		return false, nil
	}
	f.keys[key] = true
	return true, nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return "cm:idempotency:" + scope + ":" + id
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.keys, k)
		f.lastDeleted = k
	}
	return nil
}

func TestCheckAndMarkProcessed(t *testing.T) {
	store := newFakeStore()
	manager, err := NewManager(store, 24*time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	eventID := uuid.New()
	already, err := manager.CheckAndMarkProcessed(context.Background(), "notifications", eventID)
	if err != nil || already {
		t.Fatalf("first call: already=%v err=%v", already, err)
	}
	expectedKey := "cm:idempotency:evt:processed:notifications:" + eventID.String()
	if store.lastKey != expectedKey {
		t.Fatalf("unexpected key: %q", store.lastKey)
	}
	if store.lastTTL != 24*time.Hour {
		t.Fatalf("unexpected ttl %v", store.lastTTL)
	}

	already, err = manager.CheckAndMarkProcessed(context.Background(), "notifications", eventID)
	if err != nil || !already {
		t.Fatalf("second call: already=%v err=%v", already, err)
	}
}

func TestOnceReleasesKeyOnFailure(t *testing.T) {
	store := newFakeStore()
	manager, _ := NewManager(store, time.Hour)
	eventID := uuid.New()
	boom := errors.New("boom")

	skipped, err := manager.Once(context.Background(), "analytics", eventID, func(context.Context) error { return boom })
	if !errors.Is(err, boom) || skipped {
		t.Fatalf("expected boom, got skipped=%v err=%v", skipped, err)
	}
	if store.lastDeleted == "" {
		t.Fatal("expected key to be released after failure")
	}

	calls := 0
	run := func(context.Context) error { calls++; return nil }
	if _, err := manager.Once(context.Background(), "analytics", eventID, run); err != nil {
		t.Fatalf("retry: %v", err)
	}
	skipped, err = manager.Once(context.Background(), "analytics", eventID, run)
	if err != nil || !skipped {
		t.Fatalf("expected duplicate to be skipped, got skipped=%v err=%v", skipped, err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one successful run, got %d", calls)
	}
}

func TestManagerValidation(t *testing.T) {
	if _, err := NewManager(nil, time.Hour); err == nil {
		t.Fatal("expected nil store error")
	}
	manager, _ := NewManager(newFakeStore(), time.Hour)
	if _, err := manager.CheckAndMarkProcessed(context.Background(), "", uuid.New()); err == nil {
		t.Fatal("expected consumer error")
	}
	if _, err := manager.CheckAndMarkProcessed(context.Background(), "c", uuid.Nil); err == nil {
		t.Fatal("expected event id error")
	}
}
