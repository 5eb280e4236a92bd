// Package types provides core data types for uuidvault.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Column names in their stable serialization order.
const (
	FieldTS     = "ts"
	FieldIDType = "id_type"
	FieldID     = "id"
)

// Columns is the header row of every shard and archive file.
var Columns = []string{FieldTS, FieldIDType, FieldID}

// Record is a single identifier event.
type Record struct {
	// TS is the event time in milliseconds since the Unix epoch
	TS int64 `json:"ts"`

	// IDType is a small enumeration tag identifying the source of the identifier
	IDType int64 `json:"id_type"`

	// ID is the identifier value; never empty for a valid record
	ID string `json:"id"`
}

// Valid reports whether the record satisfies the record invariants.
// Carriage returns are excluded from ids because CSV readers fold a quoted
// "\r\n" into "\n", which would change the id once stored.
func (r Record) Valid() bool {
	return r.ID != "" && !strings.ContainsRune(r.ID, '\r')
}

// Key returns the dedupe key of the record.
func (r Record) Key() string {
	return DedupeKey(r)
}

// DedupeKey renders (ts, id_type, id) as a single composite string.
// The integers cannot contain ':' and the id is length-prefixed, so distinct
// triples always produce distinct keys regardless of what the id contains.
func DedupeKey(r Record) string {
	var sb strings.Builder
	sb.Grow(len(r.ID) + 48)
	sb.WriteString(strconv.FormatInt(r.TS, 10))
	sb.WriteByte(':')
	sb.WriteString(strconv.FormatInt(r.IDType, 10))
	sb.WriteByte(':')
	sb.WriteString(strconv.Itoa(len(r.ID)))
	sb.WriteByte(':')
	sb.WriteString(r.ID)
	return sb.String()
}

// IsValid reports whether candidate structurally satisfies the Record shape.
func IsValid(candidate any) bool {
	_, err := FromCandidate(candidate)
	return err == nil
}

// FromCandidate converts an untyped candidate into a Record.
// Accepted shapes are Record, *Record and map[string]any as produced by
// encoding/json (numbers as float64 or json.Number).
func FromCandidate(candidate any) (Record, error) {
	switch c := candidate.(type) {
	case Record:
		if err := checkID(c.ID); err != nil {
			return Record{}, err
		}
		return c, nil
	case *Record:
		if c == nil {
			return Record{}, &ValidationError{Message: "record is nil"}
		}
		return FromCandidate(*c)
	case map[string]any:
		return fromMap(c)
	case nil:
		return Record{}, &ValidationError{Message: "record is null"}
	default:
		return Record{}, &ValidationError{Message: fmt.Sprintf("record must be an object, got %T", candidate)}
	}
}

func fromMap(m map[string]any) (Record, error) {
	var r Record

	id, ok := m[FieldID]
	if !ok {
		return Record{}, &ValidationError{Field: FieldID, Message: "is required"}
	}
	s, ok := id.(string)
	if !ok {
		return Record{}, &ValidationError{Field: FieldID, Message: "must be a non-empty string"}
	}
	if err := checkID(s); err != nil {
		return Record{}, err
	}
	r.ID = s

	var err error
	if r.IDType, err = integerField(m, FieldIDType); err != nil {
		return Record{}, err
	}
	if r.TS, err = integerField(m, FieldTS); err != nil {
		return Record{}, err
	}
	return r, nil
}

func checkID(id string) error {
	switch {
	case id == "":
		return &ValidationError{Field: FieldID, Message: "must be a non-empty string"}
	case strings.ContainsRune(id, '\r'):
		return &ValidationError{Field: FieldID, Message: "must not contain a carriage return"}
	}
	return nil
}

func integerField(m map[string]any, field string) (int64, error) {
	v, ok := m[field]
	if !ok {
		return 0, &ValidationError{Field: field, Message: "is required"}
	}
	n, ok := toInt64(v)
	if !ok {
		return 0, &ValidationError{Field: field, Message: "must be an integral number"}
	}
	return n, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return floatToInt64(f)
	case float64:
		return floatToInt64(n)
	case float32:
		return floatToInt64(float64(n))
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	default:
		return 0, false
	}
}

// floatToInt64 accepts only finite, integral values inside the int64 range.
func floatToInt64(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// DecodeRecord decodes one JSON object and validates it.
func DecodeRecord(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var candidate any
	if err := dec.Decode(&candidate); err != nil {
		return Record{}, &ValidationError{Message: fmt.Sprintf("malformed JSON: %v", err)}
	}
	if _, err := dec.Token(); err != io.EOF {
		return Record{}, &ValidationError{Message: "trailing data after record"}
	}
	return FromCandidate(candidate)
}

// FilterValid returns the valid records of rs, preserving order, and the number dropped.
func FilterValid(rs []Record) ([]Record, int) {
	out := make([]Record, 0, len(rs))
	for _, r := range rs {
		if r.Valid() {
			out = append(out, r)
		}
	}
	return out, len(rs) - len(out)
}
