// Package queue defines the boundary between ingestion and shard writing:
// producers enqueue raw records, sources deliver them in batches to a Handler
// with at-least-once, whole-batch redelivery.
package queue

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/uuidvault/uuidvault/internal/metrics"
)

// ErrRedeliveriesExhausted is returned by Deliver when the retry budget is spent.
var ErrRedeliveriesExhausted = errors.New("queue: redeliveries exhausted")

// Message is one raw candidate record as delivered by the queue.
type Message struct {
	Body []byte
}

// Batch is an ordered group of messages delivered together.
// A batch is acknowledged or redelivered as a whole.
type Batch struct {
	ID       string
	Messages []Message
}

// Producer enqueues one serialized record.
type Producer interface {
	Send(ctx context.Context, body []byte) error
	Close() error
}

// Handler processes a delivered batch. A non-nil error causes the same
// batch to be redelivered.
type Handler interface {
	HandleBatch(ctx context.Context, batch Batch) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, batch Batch) error

// HandleBatch calls f(ctx, batch).
func (f HandlerFunc) HandleBatch(ctx context.Context, batch Batch) error {
	return f(ctx, batch)
}

// Source pulls batches from a queue backend and feeds them to a Handler
// until ctx is cancelled.
type Source interface {
	Run(ctx context.Context, h Handler) error
	Close() error
}

// RetryPolicy controls redelivery of a failed batch.
type RetryPolicy struct {
	// MaxRedeliveries bounds redeliveries after the first attempt; 0 is unlimited.
	MaxRedeliveries int
	// InitialBackoff is the wait before the first redelivery.
	InitialBackoff time.Duration
	// MaxBackoff caps the exponential backoff.
	MaxBackoff time.Duration
}

// DefaultRetryPolicy returns unlimited redelivery with 100ms..30s backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	if d <= 0 {
		d = 100 * time.Millisecond
	}
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

// Deliver hands batch to h, redelivering the same batch with exponential
// backoff until it succeeds, the policy gives up or ctx is cancelled.
func Deliver(ctx context.Context, h Handler, batch Batch, policy RetryPolicy) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := h.HandleBatch(ctx, batch)
		if err == nil {
			return nil
		}

		if policy.MaxRedeliveries > 0 && attempt >= policy.MaxRedeliveries {
			return errors.Join(ErrRedeliveriesExhausted, err)
		}

		wait := policy.backoff(attempt)
		metrics.QueueRedeliveries.Inc()
		log.Printf("queue: batch %s failed (attempt %d), redelivering in %v: %v", batch.ID, attempt+1, wait, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
