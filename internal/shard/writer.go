package shard

import (
	"context"
	"time"

	vaulterrors "github.com/uuidvault/uuidvault/internal/errors"
	"github.com/uuidvault/uuidvault/internal/storage"
	"github.com/uuidvault/uuidvault/pkg/types"
)

// Writer persists batches of validated records as new shard files.
// Every call writes a fresh key, so concurrent writers never collide.
type Writer struct {
	storage storage.ObjectStorage
}

// NewWriter creates a shard writer over the given storage.
func NewWriter(store storage.ObjectStorage) *Writer {
	return &Writer{storage: store}
}

// Write serializes records and stores them as one shard keyed by now.
// It performs exactly one Put; storage failures are returned to the caller.
func (w *Writer) Write(ctx context.Context, records []types.Record, now time.Time) (string, error) {
	if len(records) == 0 {
		return "", vaulterrors.NewValidationError(vaulterrors.CodeEmptyBatch, "shard: no records to write")
	}

	body, err := Encode(records)
	if err != nil {
		return "", vaulterrors.NewInternalError("shard: encode", err)
	}

	key := ShardKey(now, body)
	if err := w.storage.Put(ctx, key, body, storage.ContentTypeCSV); err != nil {
		return "", vaulterrors.NewStorageError(vaulterrors.CodePutFailed, "shard: write "+key, err)
	}
	return key, nil
}
