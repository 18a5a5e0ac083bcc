// Package provider describes the device calendar store that backs all
// calendar operations, together with helpers shared by its implementations.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Collection names a group of records in the store.
type Collection string

const (
	Calendars Collection = "calendars"
	Events    Collection = "events"
	// Exceptions are per-occurrence overrides. They live next to events and
	// point at their master through ColOriginalID.
	Exceptions Collection = "exceptions"
	Attendees  Collection = "attendees"
	Reminders  Collection = "reminders"
)

// Values is a field map. Values are int64 (ids, flags, instants in Unix
// milliseconds), string or nil.
type Values map[string]any

// Provider is the device calendar store.
type Provider interface {
	Query(ctx context.Context, c Collection, projection []string, f Filter, order ...Order) (Rows, error)
	Insert(ctx context.Context, c Collection, v Values) (int64, error)
	BulkInsert(ctx context.Context, c Collection, vs []Values) (int, error)
	Update(ctx context.Context, c Collection, f Filter, v Values) (int, error)
	Delete(ctx context.Context, c Collection, f Filter) (int, error)
	// Instances expands events into occurrences overlapping [begin, end].
	Instances(ctx context.Context, begin, end time.Time, projection []string, f Filter, order ...Order) (Rows, error)
}

// Rows is a forward-only cursor over query results. Callers must Close it.
type Rows interface {
	Next() bool
	Row() Row
	Err() error
	Close() error
}

// Row holds one record's values in projection order.
type Row []any

var ErrColumnIndex = errors.New("provider: column index out of range")

func (r Row) value(i int) (any, error) {
	if i < 0 || i >= len(r) {
		return nil, fmt.Errorf("%w: %d", ErrColumnIndex, i)
	}
	return r[i], nil
}

// IsNull reports whether column i is null or missing.
func (r Row) IsNull(i int) bool {
	v, err := r.value(i)
	return err != nil || v == nil
}

// Int64 reads column i as an integer. Null reads as 0.
func (r Row) Int64(i int) (int64, error) {
	v, err := r.value(i)
	if err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseInt(x, 10, 64)
	case []byte:
		return strconv.ParseInt(string(x), 10, 64)
	}
	return 0, fmt.Errorf("provider: column %d: cannot read %T as integer", i, v)
}

// String reads column i as text. Null reads as "".
func (r Row) String(i int) (string, error) {
	v, err := r.value(i)
	if err != nil {
		return "", err
	}
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int64, int, int32:
		return fmt.Sprint(x), nil
	}
	return "", fmt.Errorf("provider: column %d: cannot read %T as text", i, v)
}

// Time reads column i as an instant stored in Unix milliseconds. Null reads as
// the zero time.
func (r Row) Time(i int) (time.Time, error) {
	if r.IsNull(i) {
		if _, err := r.value(i); err != nil {
			return time.Time{}, err
		}
		return time.Time{}, nil
	}
	ms, err := r.Int64(i)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

// Millis converts t to the store's instant representation; zero maps to nil.
func Millis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

// Flag converts b to the store's 0/1 representation.
func Flag(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// SliceRows is an in-memory Rows implementation.
type SliceRows struct {
	rows []Row
	pos  int
}

func NewSliceRows(rows []Row) *SliceRows {
	return &SliceRows{rows: rows, pos: -1}
}

func (s *SliceRows) Next() bool {
	if s.pos+1 >= len(s.rows) {
		s.pos = len(s.rows)
		return false
	}
	s.pos++
	return true
}

func (s *SliceRows) Row() Row {
	if s.pos < 0 || s.pos >= len(s.rows) {
		return nil
	}
	return s.rows[s.pos]
}

func (s *SliceRows) Err() error   { return nil }
func (s *SliceRows) Close() error { return nil }

// Len returns the number of rows.
func (s *SliceRows) Len() int { return len(s.rows) }
