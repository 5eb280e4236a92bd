package storage

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultFetchConcurrency bounds parallel Get calls when no limit is configured.
const DefaultFetchConcurrency = 8

// BatchFetcher coordinates parallel reads from object storage.
// Objects are immutable while being fetched, so reads never interfere.
type BatchFetcher struct {
	storage     ObjectStorage
	concurrency int
}

// NewBatchFetcher creates a new batch fetcher.
// storage: the ObjectStorage implementation to read from
// concurrency: maximum number of parallel reads (<= 0 uses the default)
func NewBatchFetcher(storage ObjectStorage, concurrency int) *BatchFetcher {
	if concurrency <= 0 {
		concurrency = DefaultFetchConcurrency
	}
	return &BatchFetcher{
		storage:     storage,
		concurrency: concurrency,
	}
}

// Fetch reads every key in parallel. The result is indexed like keys, so the
// caller sees a deterministic order regardless of completion order. The first
// failure cancels outstanding reads and is returned.
func (b *BatchFetcher) Fetch(ctx context.Context, keys []string) ([][]byte, error) {
	bodies := make([][]byte, len(keys))
	if len(keys) == 0 {
		return bodies, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			body, err := b.storage.Get(gctx, key)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", key, err)
			}
			// Each goroutine owns one slot.
			bodies[i] = body
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bodies, nil
}

// Concurrency returns the configured fan-out limit.
func (b *BatchFetcher) Concurrency() int {
	return b.concurrency
}
