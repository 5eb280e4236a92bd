package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/uuidvault/uuidvault/internal/metrics"
	"github.com/uuidvault/uuidvault/internal/reporting"
	"github.com/uuidvault/uuidvault/internal/shard"
	"github.com/uuidvault/uuidvault/pkg/types"
)

// maxLoggedBytes bounds the batch body echoed in verbose mode.
const maxLoggedBytes = 1024

// ShardWriter persists a set of validated records as one shard.
type ShardWriter interface {
	Write(ctx context.Context, records []types.Record, now time.Time) (string, error)
}

// Consumer turns delivered batches into shard files.
// It keeps no state between batches and is safe for concurrent use.
type Consumer struct {
	writer   ShardWriter
	now      func() time.Time
	verbose  bool
	reporter reporting.Reporter
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithClock overrides the clock used to key shards.
func WithClock(now func() time.Time) ConsumerOption {
	return func(c *Consumer) { c.now = now }
}

// WithVerbose echoes each serialized batch to the log.
func WithVerbose(verbose bool) ConsumerOption {
	return func(c *Consumer) { c.verbose = verbose }
}

// WithReporter forwards write failures to r before the batch is redelivered.
func WithReporter(r reporting.Reporter) ConsumerOption {
	return func(c *Consumer) { c.reporter = r }
}

// NewConsumer creates a consumer writing through w.
func NewConsumer(w ShardWriter, opts ...ConsumerOption) *Consumer {
	c := &Consumer{writer: w, now: time.Now, reporter: reporting.NopReporter{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HandleBatch validates every message, drops the invalid ones and writes the
// rest as a single shard. Write failures are returned unchanged in kind so the
// queue redelivers the batch; nothing is retried here.
func (c *Consumer) HandleBatch(ctx context.Context, batch Batch) error {
	records := make([]types.Record, 0, len(batch.Messages))
	dropped := 0
	for _, m := range batch.Messages {
		rec, err := types.DecodeRecord(m.Body)
		if err != nil {
			dropped++
			continue
		}
		records = append(records, rec)
	}
	metrics.Consumed(len(records), dropped)

	if len(records) == 0 {
		log.Printf("queue: batch %s: no valid records (%d dropped)", batch.ID, dropped)
		return nil
	}

	if c.verbose {
		if body, err := shard.Encode(records); err == nil {
			if len(body) > maxLoggedBytes {
				body = append(body[:maxLoggedBytes:maxLoggedBytes], "..."...)
			}
			log.Printf("queue: batch %s:\n%s", batch.ID, body)
		}
	}

	key, err := c.writer.Write(ctx, records, c.now())
	metrics.ShardWritten(err)
	if err != nil {
		err = fmt.Errorf("queue: batch %s: %w", batch.ID, err)
		c.reporter.Capture(ctx, err, reporting.Event{
			Component: "consumer",
			Trigger:   "queue",
			RunID:     batch.ID,
			Fields:    map[string]interface{}{"records": len(records)},
		})
		return err
	}

	log.Printf("queue: batch %s: wrote %d records to %s (%d dropped)", batch.ID, len(records), key, dropped)
	return nil
}
