package memory_test

import (
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/cartstore/internal/domain"
	"github.com/vladislavdragonenkov/cartstore/internal/storage/memory"
)

func TestKeyValueStore_GetSetRemove(t *testing.T) {
	kv := memory.NewKeyValueStore()

	if _, ok, err := kv.Get("cart_local_anon"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}
	if err := kv.Set("cart_local_anon", "[]"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	value, ok, err := kv.Get("cart_local_anon")
	if err != nil || !ok || value != "[]" {
		t.Fatalf("unexpected get result: %q %v %v", value, ok, err)
	}
	if err := kv.Remove("cart_local_anon"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if err := kv.Remove("cart_local_anon"); err != nil {
		t.Fatalf("remove of missing key must not fail: %v", err)
	}
	if _, ok, _ := kv.Get("cart_local_anon"); ok {
		t.Fatal("expected key to be removed")
	}
}

func TestSharedStorage_SignalsOtherContextsOnly(t *testing.T) {
	shared := memory.NewSharedStorage()
	first := shared.Context()
	second := shared.Context()

	var firstChanges, secondChanges []domain.StorageChange
	first.Watch(func(change domain.StorageChange) { firstChanges = append(firstChanges, change) })
	second.Watch(func(change domain.StorageChange) { secondChanges = append(secondChanges, change) })

	if err := first.Set("cart_local_anon", `[{"productId":"p","qty":1}]`); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if len(firstChanges) != 0 {
		t.Fatalf("writer must not observe its own change, got %d", len(firstChanges))
	}
	if len(secondChanges) != 1 {
		t.Fatalf("expected 1 change in other context, got %d", len(secondChanges))
	}
	change := secondChanges[0]
	if change.Key != "cart_local_anon" || change.OldValue != "" || change.Removed {
		t.Fatalf("unexpected change: %+v", change)
	}

	if err := first.Set("cart_local_anon", `[{"productId":"p","qty":1}]`); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if len(secondChanges) != 1 {
		t.Fatal("unchanged value must not be signalled")
	}

	if err := second.Remove("cart_local_anon"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if len(firstChanges) != 1 || !firstChanges[0].Removed {
		t.Fatalf("expected removal signal in first context, got %+v", firstChanges)
	}
	if firstChanges[0].OldValue != `[{"productId":"p","qty":1}]` {
		t.Fatalf("expected old value in removal signal, got %q", firstChanges[0].OldValue)
	}
}

func TestSharedStorage_WatchCancel(t *testing.T) {
	shared := memory.NewSharedStorage()
	first := shared.Context()
	second := shared.Context()

	calls := 0
	cancel := second.Watch(func(domain.StorageChange) { calls++ })
	cancel()
	cancel()

	if err := first.Set("k", "v"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if calls != 0 {
		t.Fatalf("cancelled watcher called %d times", calls)
	}
}

func TestSharedStorage_Quota(t *testing.T) {
	shared := memory.NewSharedStorage(memory.WithQuota(12))
	kv := shared.Context()

	if err := kv.Set("k", "0123456789"); err != nil {
		t.Fatalf("set within quota failed: %v", err)
	}
	if err := kv.Set("k", "0123456789a"); err != nil {
		t.Fatalf("replacing value within quota failed: %v", err)
	}
	err := kv.Set("k2", "x")
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if shared.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", shared.Len())
	}

	shared.SetQuota(0)
	if err := kv.Set("k2", "x"); err != nil {
		t.Fatalf("set without quota failed: %v", err)
	}
}
