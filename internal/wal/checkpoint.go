package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const checkpointFile = "checkpoint"

// readCheckpoint returns the committed LSN stored in dir, or 0 if none.
func readCheckpoint(dir string) (uint64, error) {
	data, err := os.ReadFile(filepath.Join(dir, checkpointFile))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	lsn, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("wal: corrupt checkpoint %q: %w", data, err)
	}
	return lsn, nil
}

// writeCheckpoint atomically replaces the checkpoint file.
func writeCheckpoint(dir string, lsn uint64) error {
	tmp, err := os.CreateTemp(dir, checkpointFile+".*")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(strconv.FormatUint(lsn, 10) + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to fsync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, checkpointFile)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to install checkpoint: %w", err)
	}
	return nil
}

// Commit records that every entry up to and including lsn has been handled.
// Commits never move backwards.
func (w *WAL) Commit(lsn uint64) error {
	if current := w.CurrentLSN(); lsn > current {
		return fmt.Errorf("wal: commit %d beyond last appended %d", lsn, current)
	}

	w.cpMu.Lock()
	defer w.cpMu.Unlock()

	if lsn <= w.committed {
		return nil
	}
	if err := writeCheckpoint(w.dir, lsn); err != nil {
		return err
	}
	w.committed = lsn
	return nil
}

// Committed returns the highest committed LSN.
func (w *WAL) Committed() uint64 {
	w.cpMu.Lock()
	defer w.cpMu.Unlock()
	return w.committed
}
