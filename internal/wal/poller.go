package wal

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/uuidvault/uuidvault/internal/queue"
)

// Poller delivers uncommitted WAL entries to a queue.Handler in batches.
// It commits a batch only after the handler accepted it, so entries survive
// handler failures and process restarts.
type Poller struct {
	wal       *WAL
	interval  time.Duration
	batchSize int
	retry     queue.RetryPolicy
}

// NewPoller creates a poller over w.
func NewPoller(w *WAL, interval time.Duration, batchSize int, retry queue.RetryPolicy) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Poller{
		wal:       w,
		interval:  interval,
		batchSize: batchSize,
		retry:     retry,
	}
}

// Run delivers batches until ctx is cancelled. It wakes on every append and
// on the poll interval.
func (p *Poller) Run(ctx context.Context, h queue.Handler) error {
	if n, err := p.wal.Pending(); err == nil && n > 0 {
		log.Printf("wal: %d entries pending after checkpoint %d", n, p.wal.Committed())
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		delivered, err := p.pollOnce(ctx, h)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("wal: poll failed: %v", err)
		}
		// Drain a backlog without waiting for the next tick.
		if err == nil && delivered == p.batchSize {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-p.wal.Notify():
		}
	}
}

// pollOnce delivers at most one batch and returns its size.
func (p *Poller) pollOnce(ctx context.Context, h queue.Handler) (int, error) {
	entries, err := p.wal.ReadAfter(p.wal.Committed(), p.batchSize)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	first, last := entries[0].LSN, entries[len(entries)-1].LSN
	batch := queue.Batch{
		ID:       fmt.Sprintf("wal-%d-%d", first, last),
		Messages: make([]queue.Message, len(entries)),
	}
	for i, e := range entries {
		batch.Messages[i] = queue.Message{Body: e.Body}
	}

	if err := queue.Deliver(ctx, h, batch, p.retry); err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		log.Printf("wal: giving up on batch %s, committing past it: %v", batch.ID, err)
	}

	if err := p.wal.Commit(last); err != nil {
		return 0, err
	}

	if n, err := p.wal.DeleteCommitted(); err != nil {
		log.Printf("wal: segment cleanup failed: %v", err)
	} else if n > 0 {
		log.Printf("wal: removed %d committed segments", n)
	}
	return len(entries), nil
}

// Close is a no-op; the WAL is closed by its owner.
func (p *Poller) Close() error {
	return nil
}
