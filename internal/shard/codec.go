// Package shard provides the CSV codec, the object key layout and the writer
// for shard and archive files.
package shard

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/uuidvault/uuidvault/pkg/types"
)

// ErrMalformedHeader is returned when a file's header lacks a required column.
var ErrMalformedHeader = errors.New("shard: malformed header")

// ErrInvalidRecord is returned by Encode for a record that fails validation.
// Valid records always decode back to themselves.
var ErrInvalidRecord = errors.New("shard: invalid record")

// Encode serializes records as CSV with a header row in the stable
// ts,id_type,id column order.
func Encode(records []types.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(types.Columns); err != nil {
		return nil, fmt.Errorf("shard: write header: %w", err)
	}

	row := make([]string, len(types.Columns))
	for i, r := range records {
		if !r.Valid() {
			return nil, fmt.Errorf("%w: row %d", ErrInvalidRecord, i)
		}
		row[0] = strconv.FormatInt(r.TS, 10)
		row[1] = strconv.FormatInt(r.IDType, 10)
		row[2] = r.ID
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("shard: write row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("shard: flush: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a shard or archive file. Columns are located by header name,
// so column order and extra columns are tolerated. Rows that cannot be parsed
// or fail validation are dropped and counted. An empty body yields no rows.
func Decode(data []byte) ([]types.Record, int, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, 0, nil
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	idx, err := columnIndex(header)
	if err != nil {
		return nil, 0, err
	}

	var (
		rows    []types.Record
		dropped int
	)
	for {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				dropped++
				continue
			}
			return nil, 0, fmt.Errorf("shard: read row: %w", err)
		}

		rec, ok := parseRow(fields, idx)
		if !ok {
			dropped++
			continue
		}
		rows = append(rows, rec)
	}
	return rows, dropped, nil
}

type columns struct {
	ts, idType, id int
}

func columnIndex(header []string) (columns, error) {
	idx := columns{ts: -1, idType: -1, id: -1}
	for i, name := range header {
		switch name {
		case types.FieldTS:
			idx.ts = i
		case types.FieldIDType:
			idx.idType = i
		case types.FieldID:
			idx.id = i
		}
	}
	if idx.ts < 0 || idx.idType < 0 || idx.id < 0 {
		return idx, fmt.Errorf("%w: got %v, want columns %v", ErrMalformedHeader, header, types.Columns)
	}
	return idx, nil
}

func parseRow(fields []string, idx columns) (types.Record, bool) {
	if idx.ts >= len(fields) || idx.idType >= len(fields) || idx.id >= len(fields) {
		return types.Record{}, false
	}
	ts, err := strconv.ParseInt(fields[idx.ts], 10, 64)
	if err != nil {
		return types.Record{}, false
	}
	idType, err := strconv.ParseInt(fields[idx.idType], 10, 64)
	if err != nil {
		return types.Record{}, false
	}
	rec := types.Record{TS: ts, IDType: idType, ID: fields[idx.id]}
	return rec, rec.Valid()
}
