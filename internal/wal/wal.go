// Package wal provides a local durable queue: an append-only segment log of
// raw records plus a checkpoint of the highest committed sequence number.
package wal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/golang/snappy"
)

// DefaultMaxSegmentSize is the rotation threshold when none is configured.
const DefaultMaxSegmentSize = 64 << 20

// entryHeaderSize is [length:4][crc32:4].
const entryHeaderSize = 8

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("wal: closed")

// WAL is an append-only log of queued records.
type WAL struct {
	dir        string
	segment    *os.File
	segmentID  uint64
	offset     int64
	maxSegSize int64
	currentLSN uint64
	notify     chan struct{}
	mu         sync.Mutex

	cpMu      sync.Mutex
	committed uint64
}

// Entry is a single queued record.
type Entry struct {
	LSN       uint64 `json:"lsn"`
	Body      []byte `json:"body"`
	Timestamp int64  `json:"timestamp"`
}

// Open opens the log in dir, creating it if needed. A torn entry left at the
// tail of the last segment by a crash is truncated away.
func Open(dir string, maxSegSize int64) (*WAL, error) {
	if maxSegSize <= 0 {
		maxSegSize = DefaultMaxSegmentSize
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	committed, err := readCheckpoint(dir)
	if err != nil {
		return nil, err
	}

	w := &WAL{
		dir:        dir,
		maxSegSize: maxSegSize,
		committed:  committed,
		notify:     make(chan struct{}, 1),
	}

	if err := w.recover(); err != nil {
		return nil, err
	}
	// Sequence numbers never go backwards, even when every segment
	// has been removed after commit.
	if w.currentLSN < w.committed {
		w.currentLSN = w.committed
	}

	if err := w.openSegment(); err != nil {
		return nil, err
	}
	return w, nil
}

func segmentName(id uint64) string {
	return fmt.Sprintf("wal_%016x.log", id)
}

func parseSegmentName(name string) (uint64, bool) {
	if len(name) != 24 || name[:4] != "wal_" || filepath.Ext(name) != ".log" {
		return 0, false
	}
	var id uint64
	if _, err := fmt.Sscanf(name[4:20], "%016x", &id); err != nil {
		return 0, false
	}
	return id, true
}

type segmentFile struct {
	id   uint64
	path string
}

// listSegments returns segment files in ascending id order.
func listSegments(dir string) ([]segmentFile, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAL directory: %w", err)
	}

	var segs []segmentFile
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if id, ok := parseSegmentName(file.Name()); ok {
			segs = append(segs, segmentFile{id: id, path: filepath.Join(dir, file.Name())})
		}
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].id < segs[j].id })
	return segs, nil
}

// openSegment opens the current segment file for appending.
func (w *WAL) openSegment() error {
	path := filepath.Join(w.dir, segmentName(w.segmentID))

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open segment file: %w", err)
	}
	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to seek segment: %w", err)
	}

	w.segment = file
	w.offset = offset
	return nil
}

// Append durably adds body to the log and returns its sequence number.
func (w *WAL) Append(body []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.segment == nil {
		return 0, ErrClosed
	}

	lsn := w.currentLSN + 1
	payload, err := encodeEntry(&Entry{LSN: lsn, Body: body, Timestamp: time.Now().UnixNano()})
	if err != nil {
		return 0, err
	}
	if err := w.writeEntry(payload); err != nil {
		return 0, err
	}
	w.currentLSN = lsn

	select {
	case w.notify <- struct{}{}:
	default:
	}
	return lsn, nil
}

// Send implements queue.Producer.
func (w *WAL) Send(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := w.Append(body); err != nil {
		return fmt.Errorf("wal: append: %w", err)
	}
	return nil
}

func encodeEntry(e *Entry) ([]byte, error) {
	js, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize entry: %w", err)
	}
	return snappy.Encode(nil, js), nil
}

func decodeEntry(payload []byte) (*Entry, error) {
	js, err := snappy.Decode(nil, payload)
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(js, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// writeEntry writes [length:4][crc32:4][payload] and fsyncs. A failed write
// is truncated away so the segment never holds a partial entry.
func (w *WAL) writeEntry(payload []byte) error {
	buf := make([]byte, entryHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[4:8], crc32.ChecksumIEEE(payload))
	copy(buf[entryHeaderSize:], payload)

	if _, err := w.segment.Write(buf); err != nil {
		w.rollback()
		return fmt.Errorf("failed to write entry: %w", err)
	}
	if err := w.segment.Sync(); err != nil {
		w.rollback()
		return fmt.Errorf("failed to fsync: %w", err)
	}
	w.offset += int64(len(buf))

	if w.offset >= w.maxSegSize {
		return w.rotateSegment()
	}
	return nil
}

func (w *WAL) rollback() {
	w.segment.Truncate(w.offset)
	w.segment.Seek(w.offset, io.SeekStart)
}

// rotateSegment closes the current segment and opens the next one.
func (w *WAL) rotateSegment() error {
	if err := w.segment.Close(); err != nil {
		return fmt.Errorf("failed to close segment: %w", err)
	}
	w.segmentID++
	return w.openSegment()
}

// CurrentLSN returns the sequence number of the last appended entry.
func (w *WAL) CurrentLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentLSN
}

// activeSegmentID returns the id of the segment receiving appends.
func (w *WAL) activeSegmentID() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.segmentID
}

// Notify signals, coalesced, after each append.
func (w *WAL) Notify() <-chan struct{} {
	return w.notify
}

// Close fsyncs and closes the current segment.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.segment != nil {
		if err := w.segment.Sync(); err != nil {
			return fmt.Errorf("failed to fsync on close: %w", err)
		}
		if err := w.segment.Close(); err != nil {
			return fmt.Errorf("failed to close segment: %w", err)
		}
		w.segment = nil
	}
	return nil
}

// ReadEntries reads all intact entries from a segment file.
func ReadEntries(segmentPath string) ([]*Entry, error) {
	entries, _, err := scanSegment(segmentPath)
	return entries, err
}

// ReadAfter returns up to max entries with LSN greater than after, in order.
func (w *WAL) ReadAfter(after uint64, max int) ([]*Entry, error) {
	segs, err := listSegments(w.dir)
	if err != nil {
		return nil, err
	}

	var out []*Entry
	for _, seg := range segs {
		entries, _, err := scanSegment(seg.path)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.LSN <= after {
				continue
			}
			out = append(out, e)
			if max > 0 && len(out) >= max {
				return out, nil
			}
		}
	}
	return out, nil
}

// Pending returns the number of entries not yet committed.
func (w *WAL) Pending() (int, error) {
	entries, err := w.ReadAfter(w.Committed(), 0)
	return len(entries), err
}

// DeleteCommitted removes sealed segments whose entries are all committed
// and returns how many were removed.
func (w *WAL) DeleteCommitted() (int, error) {
	segs, err := listSegments(w.dir)
	if err != nil {
		return 0, err
	}

	active := w.activeSegmentID()
	committed := w.Committed()
	removed := 0
	for _, seg := range segs {
		if seg.id >= active {
			break
		}
		entries, _, err := scanSegment(seg.path)
		if err != nil {
			return removed, err
		}
		if len(entries) > 0 && entries[len(entries)-1].LSN > committed {
			break
		}
		if err := os.Remove(seg.path); err != nil {
			return removed, fmt.Errorf("failed to remove segment: %w", err)
		}
		removed++
	}
	return removed, nil
}
