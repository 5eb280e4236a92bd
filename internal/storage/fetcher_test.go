package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestBatchFetcher_PreservesKeyOrder(t *testing.T) {
	store := newTestLocalStorage(t)
	ctx := context.Background()

	var keys []string
	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("shards/2026/10/15/09/%02d.csv", i)
		if err := store.Put(ctx, key, []byte(fmt.Sprintf("body-%d", i)), ContentTypeCSV); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		keys = append(keys, key)
	}

	fetcher := NewBatchFetcher(store, 4)
	bodies, err := fetcher.Fetch(ctx, keys)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(bodies) != len(keys) {
		t.Fatalf("got %d bodies, want %d", len(bodies), len(keys))
	}
	for i, b := range bodies {
		if want := fmt.Sprintf("body-%d", i); string(b) != want {
			t.Errorf("bodies[%d] = %q, want %q", i, b, want)
		}
	}
}

func TestBatchFetcher_Empty(t *testing.T) {
	fetcher := NewBatchFetcher(newTestLocalStorage(t), 0)
	bodies, err := fetcher.Fetch(context.Background(), nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(bodies) != 0 {
		t.Errorf("expected no bodies, got %d", len(bodies))
	}
	if fetcher.Concurrency() != DefaultFetchConcurrency {
		t.Errorf("concurrency = %d, want default %d", fetcher.Concurrency(), DefaultFetchConcurrency)
	}
}

func TestBatchFetcher_FailsOnMissingObject(t *testing.T) {
	store := newTestLocalStorage(t)
	ctx := context.Background()

	if err := store.Put(ctx, "a.csv", []byte("x"), ContentTypeCSV); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	_, err := NewBatchFetcher(store, 2).Fetch(ctx, []string{"a.csv", "missing.csv"})
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound in chain, got %v", err)
	}
}
