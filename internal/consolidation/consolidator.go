package consolidation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	vaulterrors "github.com/uuidvault/uuidvault/internal/errors"
	"github.com/uuidvault/uuidvault/internal/shard"
	"github.com/uuidvault/uuidvault/internal/storage"
	"github.com/uuidvault/uuidvault/pkg/types"
)

// Config holds configuration for a consolidator.
type Config struct {
	// Lookback is the number of completed hours examined per run (default: 2).
	Lookback int

	// Order is the iteration order over the lookback window (default: oldest first).
	Order Order

	// FetchConcurrency bounds parallel shard reads within one hour.
	FetchConcurrency int
}

// DefaultConfig returns the default consolidation configuration.
func DefaultConfig() Config {
	return Config{
		Lookback:         DefaultLookback,
		Order:            OldestFirst,
		FetchConcurrency: storage.DefaultFetchConcurrency,
	}
}

// Report describes one invocation.
type Report struct {
	RunID     string      `json:"run_id"`
	StartedAt time.Time   `json:"started_at"`
	Window    []time.Time `json:"window"`

	// Hour is the hour that had shards; zero when every candidate was empty.
	Hour       time.Time `json:"hour"`
	ArchiveKey string    `json:"archive_key,omitempty"`
	ShardKeys  []string  `json:"shard_keys,omitempty"`

	RowsBefore    int        `json:"rows_before"`
	RowsAfter     int        `json:"rows_after"`
	Stats         MergeStats `json:"stats"`
	Persisted     bool       `json:"persisted"`
	ShardsDeleted bool       `json:"shards_deleted"`

	Trace    []State       `json:"trace"`
	Duration time.Duration `json:"duration"`
}

// Processed reports whether the run found an hour with shards.
func (r *Report) Processed() bool {
	return !r.Hour.IsZero()
}

// TraceNames returns the visited states by name.
func (r *Report) TraceNames() []string {
	names := make([]string, len(r.Trace))
	for i, s := range r.Trace {
		names[i] = s.String()
	}
	return names
}

// Consolidator merges the shards of one hour per invocation into the hour's
// archive file. Invocations must not overlap; the Daemon guarantees that
// within a process.
type Consolidator struct {
	storage storage.ObjectStorage
	fetcher *storage.BatchFetcher
	config  Config
}

// New creates a consolidator over store.
func New(store storage.ObjectStorage, config Config) *Consolidator {
	if config.Lookback <= 0 {
		config.Lookback = DefaultLookback
	}
	return &Consolidator{
		storage: store,
		fetcher: storage.NewBatchFetcher(store, config.FetchConcurrency),
		config:  config,
	}
}

// Run executes one invocation for the window ending before now's hour.
// The report is returned even on failure and records how far the run got.
func (c *Consolidator) Run(ctx context.Context, now time.Time) (*Report, error) {
	start := time.Now()
	r := &run{
		c:   c,
		now: now,
		report: &Report{
			RunID:     uuid.New().String(),
			StartedAt: now,
		},
	}

	state := StateSelectWindow
	var runErr error
	for {
		r.report.Trace = append(r.report.Trace, state)
		if state == StateStop {
			break
		}

		outcome, err := r.step(ctx, state)
		if err != nil {
			runErr = r.annotate(err, state)
			outcome = OutcomeFailed
		}
		state = Next(state, outcome)
	}

	r.report.Duration = time.Since(start)
	return r.report, runErr
}

// run is the mutable state of one invocation.
type run struct {
	c      *Consolidator
	now    time.Time
	report *Report

	window   []time.Time
	idx      int
	keys     []string
	existing []types.Record
	merged   []types.Record
}

func (r *run) hour() time.Time {
	return r.window[r.idx]
}

func (r *run) step(ctx context.Context, state State) (Outcome, error) {
	switch state {
	case StateSelectWindow:
		return r.selectWindow()
	case StateListShards:
		return r.listShards(ctx)
	case StateSkip:
		return r.skip()
	case StateLoadExisting:
		return r.loadExisting(ctx)
	case StateMerge:
		return r.merge(ctx)
	case StatePersist:
		return r.persist(ctx)
	case StateDeleteShards:
		return r.deleteShards(ctx)
	default:
		return OutcomeFailed, vaulterrors.NewInternalError(fmt.Sprintf("consolidation: no handler for state %s", state), nil)
	}
}

func (r *run) selectWindow() (Outcome, error) {
	r.window = SelectWindow(r.now, r.c.config.Lookback, r.c.config.Order)
	r.report.Window = r.window
	if len(r.window) == 0 {
		return OutcomeEmpty, nil
	}
	r.idx = 0
	return OutcomeOK, nil
}

func (r *run) listShards(ctx context.Context) (Outcome, error) {
	keys, err := r.c.storage.List(ctx, shard.ShardHourPrefix(r.hour()))
	if err != nil {
		return OutcomeFailed, vaulterrors.NewStorageError(vaulterrors.CodeListFailed, "consolidation: list shards", err)
	}
	if len(keys) == 0 {
		return OutcomeEmpty, nil
	}

	r.keys = keys
	r.report.Hour = r.hour()
	r.report.ArchiveKey = shard.ArchiveKey(r.hour())
	r.report.ShardKeys = keys
	return OutcomeOK, nil
}

func (r *run) skip() (Outcome, error) {
	if r.idx+1 >= len(r.window) {
		return OutcomeExhausted, nil
	}
	r.idx++
	return OutcomeOK, nil
}

// loadExisting seeds the merge with the current archive, if any.
func (r *run) loadExisting(ctx context.Context) (Outcome, error) {
	body, err := r.c.storage.Get(ctx, r.report.ArchiveKey)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return OutcomeOK, nil
	}
	if err != nil {
		return OutcomeFailed, vaulterrors.NewConsolidationError(vaulterrors.CodeLoadFailed, "consolidation: read archive", err)
	}

	rows, dropped, err := shard.Decode(body)
	if err != nil {
		return OutcomeFailed, vaulterrors.NewConsolidationError(vaulterrors.CodeLoadFailed, "consolidation: parse archive", err)
	}
	r.existing = rows
	r.report.RowsBefore = len(rows)
	r.report.Stats.Invalid += dropped
	return OutcomeOK, nil
}

// merge fetches every listed shard in parallel, then folds them into the
// dedupe set on this goroutine in listed-key order.
func (r *run) merge(ctx context.Context) (Outcome, error) {
	bodies, err := r.c.fetcher.Fetch(ctx, r.keys)
	if err != nil {
		return OutcomeFailed, vaulterrors.NewConsolidationError(vaulterrors.CodeLoadFailed, "consolidation: fetch shards", err)
	}

	shards := make([][]types.Record, len(bodies))
	dropped := 0
	for i, body := range bodies {
		rows, n, err := shard.Decode(body)
		if err != nil {
			return OutcomeFailed, vaulterrors.NewConsolidationError(vaulterrors.CodeLoadFailed,
				"consolidation: parse shard "+r.keys[i], err)
		}
		shards[i] = rows
		dropped += n
	}

	merged, stats := Merge(r.existing, shards)
	stats.Invalid += dropped + r.report.Stats.Invalid
	r.merged = merged
	r.report.Stats = stats
	return OutcomeOK, nil
}

func (r *run) persist(ctx context.Context) (Outcome, error) {
	rows, dropped := types.FilterValid(r.merged)
	r.report.Stats.Invalid += dropped

	body, err := shard.Encode(rows)
	if err != nil {
		return OutcomeFailed, vaulterrors.NewInternalError("consolidation: encode archive", err)
	}
	if err := r.c.storage.Put(ctx, r.report.ArchiveKey, body, storage.ContentTypeCSV); err != nil {
		return OutcomeFailed, vaulterrors.NewConsolidationError(vaulterrors.CodePersistFailed, "consolidation: write archive", err)
	}

	r.report.RowsAfter = len(rows)
	r.report.Persisted = true
	return OutcomeOK, nil
}

// deleteShards removes exactly the keys listed for this hour. Shards that
// arrived after the listing stay for the next run.
func (r *run) deleteShards(ctx context.Context) (Outcome, error) {
	if err := r.c.storage.DeleteBatch(ctx, r.keys); err != nil {
		return OutcomeFailed, vaulterrors.NewConsolidationError(vaulterrors.CodeCleanupFailed, "consolidation: delete shards", err)
	}
	r.report.ShardsDeleted = true

	log.Printf("consolidation: run %s: %s merged %d shards, %d -> %d rows (%d duplicates, %d invalid dropped)",
		r.report.RunID, r.report.ArchiveKey, len(r.keys), r.report.RowsBefore, r.report.RowsAfter,
		r.report.Stats.Duplicates, r.report.Stats.Invalid)
	return OutcomeOK, nil
}

// annotate attaches the failing state and hour to err.
func (r *run) annotate(err error, state State) error {
	details := map[string]interface{}{
		"run_id": r.report.RunID,
		"state":  state.String(),
	}
	if len(r.window) > 0 {
		details["hour"] = r.hour().Format(time.RFC3339)
	}

	var ve *vaulterrors.VaultError
	if errors.As(err, &ve) {
		return ve.WithDetails(details)
	}
	return vaulterrors.NewInternalError("consolidation: "+state.String(), err).WithDetails(details)
}
