package shard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vaulterrors "github.com/uuidvault/uuidvault/internal/errors"
	"github.com/uuidvault/uuidvault/internal/storage"
	"github.com/uuidvault/uuidvault/internal/storage/storagetest"
	"github.com/uuidvault/uuidvault/pkg/types"
)

func newLocal(t *testing.T) *storage.LocalStorage {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestWriter_WritesOneShard(t *testing.T) {
	store := newLocal(t)
	faulty := storagetest.Wrap(store)
	w := NewWriter(faulty)
	ctx := context.Background()
	now := time.Date(2026, time.October, 15, 9, 30, 1, 2_000_000, time.UTC)

	records := []types.Record{{TS: 1, IDType: 1, ID: "a"}, {TS: 2, IDType: 1, ID: "b"}}
	key, err := w.Write(ctx, records, now)
	require.NoError(t, err)

	assert.Equal(t, 1, faulty.Count(storagetest.OpPut))
	assert.Equal(t, 0, faulty.Count(storagetest.OpGet), "writer must not read before writing")
	assert.Contains(t, key, "shards/2026/10/15/09/30-01-002-")

	body, err := store.Get(ctx, key)
	require.NoError(t, err)
	got, _, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, records, got)

	ct, ok := store.ContentType(key)
	require.True(t, ok)
	assert.Equal(t, storage.ContentTypeCSV, ct)
}

func TestWriter_RejectsEmptyBatch(t *testing.T) {
	faulty := storagetest.Wrap(newLocal(t))
	w := NewWriter(faulty)

	_, err := w.Write(context.Background(), nil, time.Now())
	require.Error(t, err)
	assert.Equal(t, vaulterrors.CodeEmptyBatch, vaulterrors.GetCode(err))
	assert.Equal(t, 0, faulty.Count(storagetest.OpPut))
}

func TestWriter_PropagatesStorageFailure(t *testing.T) {
	faulty := storagetest.Wrap(newLocal(t))
	faulty.FailOn(storagetest.OpPut, "")
	w := NewWriter(faulty)

	_, err := w.Write(context.Background(), []types.Record{{TS: 1, IDType: 1, ID: "a"}}, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrPutFailed))
	assert.True(t, vaulterrors.IsRetryable(err))
}

func TestWriter_ConcurrentWritesNeverCollide(t *testing.T) {
	store := newLocal(t)
	w := NewWriter(store)
	ctx := context.Background()
	now := time.Date(2026, time.October, 15, 9, 0, 0, 0, time.UTC)

	const writers = 16
	keys := make([]string, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			key, err := w.Write(ctx, []types.Record{{TS: int64(i), IDType: 1, ID: "same"}}, now)
			assert.NoError(t, err)
			keys[i] = key
		}()
	}
	wg.Wait()

	listed, err := store.List(ctx, ShardHourPrefix(now))
	require.NoError(t, err)
	assert.Len(t, listed, writers)
}
