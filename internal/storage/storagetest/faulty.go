// Package storagetest provides ObjectStorage wrappers for exercising failure paths.
package storagetest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/uuidvault/uuidvault/internal/storage"
)

// ErrInjected is the cause of every injected failure.
var ErrInjected = errors.New("injected storage failure")

// Op names an ObjectStorage operation.
type Op string

const (
	OpList        Op = "list"
	OpGet         Op = "get"
	OpPut         Op = "put"
	OpDelete      Op = "delete"
	OpDeleteBatch Op = "delete_batch"
)

// Call is one recorded operation.
type Call struct {
	Op  Op
	Key string
}

// FaultyStorage wraps an ObjectStorage, records calls and fails the
// operations selected with FailOn.
type FaultyStorage struct {
	inner storage.ObjectStorage

	mu    sync.Mutex
	fail  map[Op]string
	calls []Call
}

// Wrap returns a FaultyStorage delegating to inner.
func Wrap(inner storage.ObjectStorage) *FaultyStorage {
	return &FaultyStorage{inner: inner, fail: make(map[Op]string)}
}

// FailOn makes op fail for keys starting with keyPrefix ("" matches all keys).
func (f *FaultyStorage) FailOn(op Op, keyPrefix string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = keyPrefix
}

// Heal removes all injected failures.
func (f *FaultyStorage) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = make(map[Op]string)
}

// Calls returns a copy of the recorded calls.
func (f *FaultyStorage) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Count returns the number of recorded calls for op.
func (f *FaultyStorage) Count(op Op) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (f *FaultyStorage) record(op Op, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: op, Key: key})
	if prefix, ok := f.fail[op]; ok && strings.HasPrefix(key, prefix) {
		return ErrInjected
	}
	return nil
}

func (f *FaultyStorage) List(ctx context.Context, prefix string) ([]string, error) {
	if err := f.record(OpList, prefix); err != nil {
		return nil, errors.Join(storage.ErrListFailed, err)
	}
	return f.inner.List(ctx, prefix)
}

func (f *FaultyStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := f.record(OpGet, key); err != nil {
		return nil, errors.Join(storage.ErrGetFailed, err)
	}
	return f.inner.Get(ctx, key)
}

func (f *FaultyStorage) Put(ctx context.Context, key string, body []byte, contentType string) error {
	if err := f.record(OpPut, key); err != nil {
		return errors.Join(storage.ErrPutFailed, err)
	}
	return f.inner.Put(ctx, key, body, contentType)
}

func (f *FaultyStorage) Delete(ctx context.Context, key string) error {
	if err := f.record(OpDelete, key); err != nil {
		return errors.Join(storage.ErrDeleteFailed, err)
	}
	return f.inner.Delete(ctx, key)
}

func (f *FaultyStorage) DeleteBatch(ctx context.Context, keys []string) error {
	first := ""
	if len(keys) > 0 {
		first = keys[0]
	}
	if err := f.record(OpDeleteBatch, first); err != nil {
		return errors.Join(storage.ErrDeleteFailed, err)
	}
	return f.inner.DeleteBatch(ctx, keys)
}
