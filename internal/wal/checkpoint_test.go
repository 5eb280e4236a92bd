package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpoint_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	wal1, err := Open(dir, 0)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := wal1.Append(recordBody(i))
		require.NoError(t, err)
	}
	require.NoError(t, wal1.Commit(3))
	require.NoError(t, wal1.Close())

	wal2, err := Open(dir, 0)
	require.NoError(t, err)
	defer wal2.Close()

	assert.Equal(t, uint64(3), wal2.Committed())
	pending, err := wal2.ReadAfter(wal2.Committed(), 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, uint64(4), pending[0].LSN)
}

func TestCheckpoint_NeverMovesBackwards(t *testing.T) {
	wal, err := Open(t.TempDir(), 0)
	require.NoError(t, err)
	defer wal.Close()

	for i := 0; i < 3; i++ {
		_, err := wal.Append(recordBody(i))
		require.NoError(t, err)
	}

	require.NoError(t, wal.Commit(3))
	require.NoError(t, wal.Commit(1))
	assert.Equal(t, uint64(3), wal.Committed())

	assert.Error(t, wal.Commit(4), "cannot commit beyond the last appended entry")
}

func TestCheckpoint_LSNContinuesAfterSegmentsRemoved(t *testing.T) {
	dir := t.TempDir()

	wal1, err := Open(dir, 1)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := wal1.Append(recordBody(i))
		require.NoError(t, err)
	}
	require.NoError(t, wal1.Commit(3))
	removed, err := wal1.DeleteCommitted()
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	require.NoError(t, wal1.Close())

	wal2, err := Open(dir, 1)
	require.NoError(t, err)
	defer wal2.Close()

	lsn, err := wal2.Append(recordBody(3))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), lsn, "sequence must not restart below the checkpoint")
}

func TestCheckpoint_Corrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, checkpointFile), []byte("garbage"), 0644))

	_, err := Open(dir, 0)
	assert.Error(t, err)
}

func TestDeleteCommitted_KeepsUncommittedAndActive(t *testing.T) {
	dir := t.TempDir()
	wal, err := Open(dir, 1)
	require.NoError(t, err)
	defer wal.Close()

	for i := 0; i < 4; i++ {
		_, err := wal.Append(recordBody(i))
		require.NoError(t, err)
	}
	// Segments 0..3 hold LSN 1..4; segment 4 is active and empty.
	require.NoError(t, wal.Commit(2))

	removed, err := wal.DeleteCommitted()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	segs, err := listSegments(dir)
	require.NoError(t, err)
	require.Len(t, segs, 3)
	assert.Equal(t, uint64(2), segs[0].id)
	assert.Equal(t, uint64(4), segs[2].id)
}
