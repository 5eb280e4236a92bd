package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"log"
	"os"
)

// recover locates the last segment, truncates any torn tail and restores the
// last assigned LSN.
func (w *WAL) recover() error {
	segs, err := listSegments(w.dir)
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		return nil
	}

	last := segs[len(segs)-1]
	w.segmentID = last.id

	entries, valid, err := scanSegment(last.path)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	if info, err := os.Stat(last.path); err == nil && info.Size() > valid {
		log.Printf("wal: truncating torn tail of %s from %d to %d bytes", last.path, info.Size(), valid)
		if err := os.Truncate(last.path, valid); err != nil {
			return fmt.Errorf("recovery: failed to truncate segment: %w", err)
		}
	}

	// The active segment may be empty right after a rotation.
	for i := len(segs) - 2; len(entries) == 0 && i >= 0; i-- {
		if entries, _, err = scanSegment(segs[i].path); err != nil {
			return fmt.Errorf("recovery: %w", err)
		}
	}
	if len(entries) > 0 {
		w.currentLSN = entries[len(entries)-1].LSN
	}
	return nil
}

// scanSegment reads entries from a segment file. Entries with a bad checksum
// or undecodable payload are skipped; a truncated entry ends the scan. The
// returned size covers every complete entry.
func scanSegment(path string) ([]*Entry, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read segment: %w", err)
	}

	var (
		entries []*Entry
		pos     int64
	)
	for int64(len(data))-pos >= entryHeaderSize {
		length := int64(binary.LittleEndian.Uint32(data[pos : pos+4]))
		crc := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		end := pos + entryHeaderSize + length
		if end > int64(len(data)) {
			break
		}
		payload := data[pos+entryHeaderSize : end]

		if crc32.ChecksumIEEE(payload) != crc {
			log.Printf("wal: CRC mismatch at offset %d in %s, skipping entry", pos, path)
			pos = end
			continue
		}
		entry, err := decodeEntry(payload)
		if err != nil {
			log.Printf("wal: undecodable entry at offset %d in %s, skipping: %v", pos, path, err)
			pos = end
			continue
		}

		entries = append(entries, entry)
		pos = end
	}
	return entries, pos, nil
}
