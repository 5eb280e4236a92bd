package shard

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShardKey_Layout(t *testing.T) {
	now := time.Date(2026, time.March, 4, 5, 6, 7, 89_000_000, time.UTC)
	key := ShardKey(now, []byte("body"))

	assert.True(t, strings.HasPrefix(key, "shards/2026/03/04/05/06-07-089-"), key)
	assert.True(t, strings.HasSuffix(key, ".csv"), key)
	// 16 hex digits between the millis and the extension.
	suffix := strings.TrimSuffix(strings.TrimPrefix(key, "shards/2026/03/04/05/06-07-089-"), ".csv")
	assert.Len(t, suffix, 16)
}

func TestShardKey_UsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	now := time.Date(2026, time.March, 4, 1, 0, 0, 0, loc)

	key := ShardKey(now, []byte("body"))
	assert.True(t, strings.HasPrefix(key, "shards/2026/03/03/23/00-00-000-"), key)
}

func TestShardKey_DistinctBodiesSameInstant(t *testing.T) {
	now := time.Date(2026, time.March, 4, 5, 6, 7, 0, time.UTC)

	a := ShardKey(now, []byte("ts,id_type,id\n1,1,a\n"))
	b := ShardKey(now, []byte("ts,id_type,id\n1,1,b\n"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, ShardKey(now, []byte("ts,id_type,id\n1,1,a\n")))
}

func TestShardKey_UnderHourPrefix(t *testing.T) {
	now := time.Date(2026, time.December, 31, 23, 59, 59, 999_000_000, time.UTC)
	key := ShardKey(now, nil)

	assert.True(t, strings.HasPrefix(key, ShardHourPrefix(HourOf(now))))
	assert.Equal(t, "shards/2026/12/31/23/", ShardHourPrefix(now))
}

func TestArchiveKey(t *testing.T) {
	hour := time.Date(2026, time.January, 2, 3, 45, 0, 0, time.UTC)
	assert.Equal(t, "archive/2026/01/02/03.csv", ArchiveKey(hour))
}

func TestHourOf(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	in := time.Date(2026, time.January, 2, 3, 45, 12, 5, loc)

	got := HourOf(in)
	assert.Equal(t, time.Date(2026, time.January, 2, 8, 0, 0, 0, time.UTC), got)
	assert.Equal(t, time.UTC, got.Location())
}
