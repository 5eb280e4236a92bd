package consolidation

import (
	"fmt"
	"time"

	"github.com/uuidvault/uuidvault/internal/shard"
)

// DefaultLookback is the number of completed hours examined per run.
const DefaultLookback = 2

// Order is the iteration order over the candidate hours.
type Order int

const (
	// OldestFirst drains the oldest backlog first, bounding archive lag.
	OldestFirst Order = iota
	// NewestFirst favours the most recent completed hour.
	NewestFirst
)

func (o Order) String() string {
	if o == NewestFirst {
		return "newest-first"
	}
	return "oldest-first"
}

// ParseOrder parses "oldest-first" or "newest-first". Empty means oldest-first.
func ParseOrder(s string) (Order, error) {
	switch s {
	case "", "oldest-first":
		return OldestFirst, nil
	case "newest-first":
		return NewestFirst, nil
	default:
		return OldestFirst, fmt.Errorf("consolidation: unknown order %q", s)
	}
}

// SelectWindow returns the lookback completed hours before now's hour, in
// the given order. The in-progress hour is never included.
func SelectWindow(now time.Time, lookback int, order Order) []time.Time {
	if lookback <= 0 {
		return nil
	}
	current := shard.HourOf(now)

	hours := make([]time.Time, lookback)
	for i := 0; i < lookback; i++ {
		// Oldest first: now-lookback ... now-1.
		hours[i] = current.Add(-time.Duration(lookback-i) * time.Hour)
	}
	if order == NewestFirst {
		for i, j := 0, len(hours)-1; i < j; i, j = i+1, j-1 {
			hours[i], hours[j] = hours[j], hours[i]
		}
	}
	return hours
}
