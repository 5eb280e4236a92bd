// Package storage provides object storage abstractions for shard and archive files.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrListFailed     = errors.New("list failed")
	ErrPutFailed      = errors.New("put failed")
	ErrGetFailed      = errors.New("get failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ContentTypeCSV is the content type of shard and archive files.
const ContentTypeCSV = "text/csv"

// ObjectStorage abstracts a key-value blob store.
// Implementations include S3 and the local filesystem for development and tests.
// Keys always use '/' as separator regardless of backend.
type ObjectStorage interface {
	// List returns all keys under the given prefix in lexicographic order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Get returns the full content of the object.
	// Returns ErrObjectNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes body under key, replacing any previous object.
	// The replacement is atomic from a reader's perspective.
	Put(ctx context.Context, key string, body []byte, contentType string) error

	// Delete removes a single object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteBatch removes every key. Missing keys are not an error.
	DeleteBatch(ctx context.Context, keys []string) error
}
