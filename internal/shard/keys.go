package shard

import (
	"fmt"
	"time"

	"github.com/spaolacci/murmur3"
)

// Namespace prefixes in object storage.
const (
	ShardPrefix   = "shards/"
	ArchivePrefix = "archive/"
)

// HourOf truncates t to the start of its UTC hour.
func HourOf(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// ShardKey returns the key for a shard flushed at now:
// shards/YYYY/MM/DD/HH/mm-ss-fff-<hash>.csv. The suffix is the murmur3 hash
// of the body, so distinct flushes within one millisecond get distinct keys.
func ShardKey(now time.Time, body []byte) string {
	t := now.UTC()
	return fmt.Sprintf("%s%02d-%02d-%03d-%016x.csv",
		ShardHourPrefix(t),
		t.Minute(), t.Second(), t.Nanosecond()/int(time.Millisecond),
		murmur3.Sum64(body))
}

// ShardHourPrefix returns the listing prefix for all shards of hour's UTC hour.
func ShardHourPrefix(hour time.Time) string {
	t := hour.UTC()
	return fmt.Sprintf("%s%04d/%02d/%02d/%02d/", ShardPrefix, t.Year(), int(t.Month()), t.Day(), t.Hour())
}

// ArchiveKey returns the archive key for hour's UTC hour.
func ArchiveKey(hour time.Time) string {
	t := hour.UTC()
	return fmt.Sprintf("%s%04d/%02d/%02d/%02d.csv", ArchivePrefix, t.Year(), int(t.Month()), t.Day(), t.Hour())
}
