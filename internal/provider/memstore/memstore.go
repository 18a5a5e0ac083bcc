// Package memstore is an in-process calendar provider. It emulates the device
// calendar store for tests and for the command line tool.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"devicecal/internal/provider"
)

var ErrUnknownColumn = errors.New("memstore: unknown column")

// Store implements provider.Provider. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	tables map[provider.Collection]map[int64]provider.Values
	nextID map[provider.Collection]int64
	expand provider.ExpandConfig
}

type Option func(*Store)

// WithExpandConfig sets the occurrence expansion settings used by Instances.
func WithExpandConfig(cfg provider.ExpandConfig) Option {
	return func(s *Store) { s.expand = cfg }
}

func New(opts ...Option) *Store {
	s := &Store{}
	s.reset()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ provider.Provider = (*Store)(nil)

func (s *Store) reset() {
	s.tables = make(map[provider.Collection]map[int64]provider.Values)
	s.nextID = make(map[provider.Collection]int64)
	for _, c := range []provider.Collection{provider.Calendars, provider.Events, provider.Attendees, provider.Reminders} {
		s.tables[c] = make(map[int64]provider.Values)
	}
}

// table maps a collection onto its backing table.
func table(c provider.Collection) (provider.Collection, error) {
	switch c {
	case provider.Calendars, provider.Events, provider.Attendees, provider.Reminders:
		return c, nil
	case provider.Exceptions:
		return provider.Events, nil
	}
	return "", fmt.Errorf("memstore: unknown collection %q", c)
}

func checkColumns(allowed []string, cols ...string) error {
	for _, col := range cols {
		if !slices.Contains(allowed, col) {
			return fmt.Errorf("%w: %q", ErrUnknownColumn, col)
		}
	}
	return nil
}

// records returns a copy of the table ordered by id. Caller holds the lock.
func (s *Store) records(t provider.Collection) []provider.Values {
	ids := slices.Sorted(maps.Keys(s.tables[t]))
	out := make([]provider.Values, 0, len(ids))
	for _, id := range ids {
		out = append(out, maps.Clone(s.tables[t][id]))
	}
	return out
}

func (s *Store) Query(ctx context.Context, c provider.Collection, projection []string, f provider.Filter, order ...provider.Order) (provider.Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := table(c)
	if err != nil {
		return nil, err
	}
	allowed := provider.TableColumns[c]
	if err := checkColumns(allowed, projection...); err != nil {
		return nil, err
	}
	if err := checkColumns(allowed, f.Columns()...); err != nil {
		return nil, err
	}

	s.mu.RLock()
	recs := s.records(t)
	s.mu.RUnlock()

	f = append(provider.Scope(c), f...)
	return provider.Select(recs, projection, f, order...), nil
}

func (s *Store) Insert(ctx context.Context, c provider.Collection, v provider.Values) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(c, v)
}

func (s *Store) insertLocked(c provider.Collection, v provider.Values) (int64, error) {
	t, err := table(c)
	if err != nil {
		return 0, err
	}
	if err := checkColumns(provider.TableColumns[c], slices.Collect(maps.Keys(v))...); err != nil {
		return 0, err
	}
	if err := s.checkParent(c, v); err != nil {
		return 0, err
	}

	rec := make(provider.Values, len(v)+1)
	for k, val := range v {
		rec[k] = provider.Normalize(val)
	}
	s.nextID[t]++
	id := s.nextID[t]
	rec[provider.ColID] = id
	s.tables[t][id] = rec
	return id, nil
}

// checkParent enforces the references a real store would reject.
func (s *Store) checkParent(c provider.Collection, v provider.Values) error {
	var parent provider.Collection
	var col string
	switch c {
	case provider.Events:
		parent, col = provider.Calendars, provider.ColCalendarID
	case provider.Exceptions:
		parent, col = provider.Events, provider.ColOriginalID
	case provider.Attendees, provider.Reminders:
		parent, col = provider.Events, provider.ColEventID
	default:
		return nil
	}
	id, ok := provider.Normalize(v[col]).(int64)
	if !ok {
		return fmt.Errorf("memstore: %s requires %s", c, col)
	}
	if _, exists := s.tables[parent][id]; !exists {
		return fmt.Errorf("memstore: %s %d does not exist", parent, id)
	}
	return nil
}

func (s *Store) BulkInsert(ctx context.Context, c provider.Collection, vs []provider.Values) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, v := range vs {
		if _, err := s.insertLocked(c, v); err != nil {
			return i, err
		}
	}
	return len(vs), nil
}

func (s *Store) Update(ctx context.Context, c provider.Collection, f provider.Filter, v provider.Values) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t, err := table(c)
	if err != nil {
		return 0, err
	}
	allowed := provider.TableColumns[c]
	if err := checkColumns(allowed, slices.Collect(maps.Keys(v))...); err != nil {
		return 0, err
	}
	if err := checkColumns(allowed, f.Columns()...); err != nil {
		return 0, err
	}
	if _, ok := v[provider.ColID]; ok {
		return 0, errors.New("memstore: cannot update _id")
	}

	f = append(provider.Scope(c), f...)

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.tables[t] {
		if !f.Match(rec) {
			continue
		}
		for k, val := range v {
			rec[k] = provider.Normalize(val)
		}
		n++
	}
	return n, nil
}

func (s *Store) Delete(ctx context.Context, c provider.Collection, f provider.Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t, err := table(c)
	if err != nil {
		return 0, err
	}
	if err := checkColumns(provider.TableColumns[c], f.Columns()...); err != nil {
		return 0, err
	}

	f = append(provider.Scope(c), f...)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(t, f), nil
}

// deleteLocked removes matching records and everything that hangs off them.
func (s *Store) deleteLocked(t provider.Collection, f provider.Filter) int {
	var ids []any
	for id, rec := range s.tables[t] {
		if f.Match(rec) {
			ids = append(ids, id)
			delete(s.tables[t], id)
		}
	}
	if len(ids) == 0 {
		return 0
	}
	switch t {
	case provider.Calendars:
		s.deleteLocked(provider.Events, provider.Where(provider.In(provider.ColCalendarID, ids...)))
	case provider.Events:
		s.deleteLocked(provider.Events, provider.Where(provider.In(provider.ColOriginalID, ids...)))
		s.deleteLocked(provider.Attendees, provider.Where(provider.In(provider.ColEventID, ids...)))
		s.deleteLocked(provider.Reminders, provider.Where(provider.In(provider.ColEventID, ids...)))
	}
	return len(ids)
}

func (s *Store) Instances(ctx context.Context, begin, end time.Time, projection []string, f provider.Filter, order ...provider.Order) (provider.Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkColumns(provider.InstanceColumns, projection...); err != nil {
		return nil, err
	}
	if err := checkColumns(provider.InstanceColumns, f.Columns()...); err != nil {
		return nil, err
	}

	s.mu.RLock()
	recs := s.records(provider.Events)
	s.mu.RUnlock()

	instances, err := provider.ExpandEvents(recs, begin, end, s.expand)
	if err != nil {
		return nil, err
	}
	return provider.Select(instances, projection, f, order...), nil
}

// Len returns the number of records stored for c.
func (s *Store) Len(c provider.Collection) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := table(c)
	if err != nil {
		return 0
	}
	scope := provider.Scope(c)
	n := 0
	for _, rec := range s.tables[t] {
		if scope.Match(rec) {
			n++
		}
	}
	return n
}
