package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func newTestLocalStorage(t *testing.T) *LocalStorage {
	t.Helper()
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	return store
}

func TestLocalStorage_PutGetDelete(t *testing.T) {
	store := newTestLocalStorage(t)
	ctx := context.Background()

	key := "shards/2026/10/15/09/01-02-003-abc.csv"
	content := []byte("ts,id_type,id\n1,1,x\n")

	if err := store.Put(ctx, key, content, ContentTypeCSV); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q, want %q", got, content)
	}

	ct, ok := store.ContentType(key)
	if !ok || ct != ContentTypeCSV {
		t.Errorf("content type = %q (%v), want %q", ct, ok, ContentTypeCSV)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound after delete, got %v", err)
	}

	// Deleting again is not an error.
	if err := store.Delete(ctx, key); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
}

func TestLocalStorage_PutOverwrites(t *testing.T) {
	store := newTestLocalStorage(t)
	ctx := context.Background()

	if err := store.Put(ctx, "archive/2026/10/15/09.csv", []byte("v1"), ContentTypeCSV); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(ctx, "archive/2026/10/15/09.csv", []byte("v2"), ContentTypeCSV); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, "archive/2026/10/15/09.csv")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "v2" {
		t.Errorf("got %q, want v2", got)
	}
}

func TestLocalStorage_GetNotFound(t *testing.T) {
	store := newTestLocalStorage(t)

	_, err := store.Get(context.Background(), "nonexistent/object.csv")
	if err != ErrObjectNotFound {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestLocalStorage_List(t *testing.T) {
	store := newTestLocalStorage(t)
	ctx := context.Background()

	keys := []string{
		"shards/2026/10/15/09/10-00-000-b.csv",
		"shards/2026/10/15/09/05-00-000-a.csv",
		"shards/2026/10/15/10/00-00-000-c.csv",
		"shards/2026/10/15/1/odd.csv",
		"archive/2026/10/15/09.csv",
	}
	for _, k := range keys {
		if err := store.Put(ctx, k, []byte("x"), ContentTypeCSV); err != nil {
			t.Fatalf("Put %s failed: %v", k, err)
		}
	}

	got, err := store.List(ctx, "shards/2026/10/15/09/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{
		"shards/2026/10/15/09/05-00-000-a.csv",
		"shards/2026/10/15/09/10-00-000-b.csv",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("List = %v, want %v", got, want)
	}

	// Prefixes are matched as strings, like S3.
	got, err = store.List(ctx, "shards/2026/10/15/1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want = []string{
		"shards/2026/10/15/1/odd.csv",
		"shards/2026/10/15/10/00-00-000-c.csv",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("List = %v, want %v", got, want)
	}

	all, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != len(keys) {
		t.Errorf("List(\"\") returned %d keys, want %d: %v", len(all), len(keys), all)
	}
}

func TestLocalStorage_ListMissingPrefix(t *testing.T) {
	store := newTestLocalStorage(t)

	got, err := store.List(context.Background(), "shards/1999/01/01/00/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty list, got %v", got)
	}
}

func TestLocalStorage_ListSkipsInProgressWrites(t *testing.T) {
	baseDir := t.TempDir()
	store, err := NewLocalStorage(baseDir)
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	if err := os.WriteFile(filepath.Join(baseDir, tmpDirName, "put-123"), []byte("partial"), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	got, err := store.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected temp files to be hidden, got %v", got)
	}
}

func TestLocalStorage_DeleteBatch(t *testing.T) {
	store := newTestLocalStorage(t)
	ctx := context.Background()

	keys := []string{"a/1.csv", "a/2.csv", "a/3.csv"}
	for _, k := range keys {
		if err := store.Put(ctx, k, []byte("x"), ContentTypeCSV); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	if err := store.DeleteBatch(ctx, append(keys, "a/missing.csv")); err != nil {
		t.Fatalf("DeleteBatch failed: %v", err)
	}

	left, err := store.List(ctx, "a/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("expected no objects left, got %v", left)
	}
}

func TestLocalStorage_CancelledContext(t *testing.T) {
	store := newTestLocalStorage(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Put(ctx, "k", []byte("x"), ContentTypeCSV); !errors.Is(err, context.Canceled) {
		t.Errorf("Put: expected context.Canceled, got %v", err)
	}
	if _, err := store.List(ctx, ""); !errors.Is(err, context.Canceled) {
		t.Errorf("List: expected context.Canceled, got %v", err)
	}
}
