// Package sqlstore is a calendar provider backed by PostgreSQL.
package sqlstore

import (
	"context"
	_ "embed"
	"fmt"
	"slices"
	"time"

	"github.com/jmoiron/sqlx"

	"devicecal/internal/provider"
)

//go:embed schema.sql
var schema string

// Store implements provider.Provider on top of a sqlx handle. Deleting a
// calendar or event cascades through foreign keys.
type Store struct {
	db     *sqlx.DB
	expand provider.ExpandConfig
}

type Option func(*Store)

// WithExpandConfig sets the occurrence expansion settings used by Instances.
func WithExpandConfig(cfg provider.ExpandConfig) Option {
	return func(s *Store) { s.expand = cfg }
}

var _ provider.Provider = (*Store)(nil)

// New wraps an existing connection. It does not create the schema.
func New(db *sqlx.DB, opts ...Option) *Store {
	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to dsn and ensures the schema exists.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	s := New(db, opts...)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Query(ctx context.Context, c provider.Collection, projection []string, f provider.Filter, order ...provider.Order) (provider.Rows, error) {
	query, args, err := buildSelect(c, projection, f, order)
	if err != nil {
		return nil, err
	}
	rs, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", c, err)
	}
	return &rows{rows: rs}, nil
}

func (s *Store) Insert(ctx context.Context, c provider.Collection, v provider.Values) (int64, error) {
	return insert(ctx, s.db, c, v)
}

func insert(ctx context.Context, q sqlx.QueryerContext, c provider.Collection, v provider.Values) (int64, error) {
	query, args, err := buildInsert(c, v)
	if err != nil {
		return 0, err
	}
	var id int64
	if err := sqlx.GetContext(ctx, q, &id, query, args...); err != nil {
		return 0, fmt.Errorf("insert %s: %w", c, err)
	}
	return id, nil
}

// BulkInsert inserts vs in one transaction; either all rows are stored or
// none.
func (s *Store) BulkInsert(ctx context.Context, c provider.Collection, vs []provider.Values) (int, error) {
	if len(vs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, v := range vs {
		if _, err := insert(ctx, tx, c, v); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(vs), nil
}

func (s *Store) Update(ctx context.Context, c provider.Collection, f provider.Filter, v provider.Values) (int, error) {
	query, args, err := buildUpdate(c, f, v)
	if err != nil {
		return 0, err
	}
	return s.exec(ctx, c, query, args)
}

func (s *Store) Delete(ctx context.Context, c provider.Collection, f provider.Filter) (int, error) {
	query, args, err := buildDelete(c, f)
	if err != nil {
		return 0, err
	}
	return s.exec(ctx, c, query, args)
}

func (s *Store) exec(ctx context.Context, c provider.Collection, query string, args []any) (int, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", c, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Instances loads the event rows selected by f's calendar and event
// predicates, exceptions included, and expands them in process.
func (s *Store) Instances(ctx context.Context, begin, end time.Time, projection []string, f provider.Filter, order ...provider.Order) (provider.Rows, error) {
	for _, col := range slices.Concat(projection, f.Columns()) {
		if !slices.Contains(provider.InstanceColumns, col) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, col)
		}
	}

	cols := provider.TableColumns[provider.Events]
	query, args, err := buildInstanceSource(f)
	if err != nil {
		return nil, err
	}
	rs, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	it := &rows{rows: rs}
	defer it.Close()

	var records []provider.Values
	for it.Next() {
		rec := make(provider.Values, len(cols))
		for i, col := range cols {
			rec[col] = it.cur[i]
		}
		records = append(records, rec)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	instances, err := provider.ExpandEvents(records, begin, end, s.expand)
	if err != nil {
		return nil, err
	}
	return provider.Select(instances, projection, f, order...), nil
}

// rows adapts sqlx.Rows to provider.Rows.
type rows struct {
	rows *sqlx.Rows
	cur  provider.Row
	err  error
}

func (r *rows) Next() bool {
	if r.err != nil || !r.rows.Next() {
		return false
	}
	vals, err := r.rows.SliceScan()
	if err != nil {
		r.err = err
		return false
	}
	for i := range vals {
		vals[i] = provider.Normalize(vals[i])
	}
	r.cur = vals
	return true
}

func (r *rows) Row() provider.Row { return r.cur }

func (r *rows) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.rows.Err()
}

func (r *rows) Close() error { return r.rows.Close() }
