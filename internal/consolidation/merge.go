package consolidation

import (
	"sort"

	"github.com/uuidvault/uuidvault/pkg/types"
)

// MergeStats counts what happened to the rows of one merge.
type MergeStats struct {
	// Existing is the number of distinct valid rows taken from the archive.
	Existing int
	// Added is the number of new rows taken from shards.
	Added int
	// Duplicates is the number of rows discarded because their key was seen.
	Duplicates int
	// Invalid is the number of rows discarded by validation.
	Invalid int
}

// accumulator holds the dedupe set and the rows in first-seen order.
// It is not safe for concurrent use.
type accumulator struct {
	seen  map[string]struct{}
	rows  []types.Record
	stats MergeStats
}

func newAccumulator(capacity int) *accumulator {
	return &accumulator{
		seen: make(map[string]struct{}, capacity),
		rows: make([]types.Record, 0, capacity),
	}
}

// add inserts r unless it is invalid or already present.
func (a *accumulator) add(r types.Record) bool {
	if !r.Valid() {
		a.stats.Invalid++
		return false
	}
	key := types.DedupeKey(r)
	if _, dup := a.seen[key]; dup {
		a.stats.Duplicates++
		return false
	}
	a.seen[key] = struct{}{}
	a.rows = append(a.rows, r)
	return true
}

// Merge seeds the dedupe set with the existing archive rows, then adds the
// rows of each shard in order. Invalid rows are discarded. The result is
// stably sorted by ts, so rows with equal ts keep archive-then-shard input
// order.
func Merge(existing []types.Record, shards [][]types.Record) ([]types.Record, MergeStats) {
	n := len(existing)
	for _, s := range shards {
		n += len(s)
	}

	acc := newAccumulator(n)
	for _, r := range existing {
		if acc.add(r) {
			acc.stats.Existing++
		}
	}
	for _, s := range shards {
		for _, r := range s {
			if acc.add(r) {
				acc.stats.Added++
			}
		}
	}

	sort.SliceStable(acc.rows, func(i, j int) bool {
		return acc.rows[i].TS < acc.rows[j].TS
	})

	return acc.rows, acc.stats
}
