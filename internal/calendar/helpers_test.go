package calendar

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"devicecal/internal/provider"
	"devicecal/internal/provider/memstore"
)

var monday = time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

// countingProvider records how many provider calls were made.
type countingProvider struct {
	provider.Provider
	calls atomic.Int64
}

func (c *countingProvider) Query(ctx context.Context, col provider.Collection, projection []string, f provider.Filter, order ...provider.Order) (provider.Rows, error) {
	c.calls.Add(1)
	return c.Provider.Query(ctx, col, projection, f, order...)
}

func (c *countingProvider) Insert(ctx context.Context, col provider.Collection, v provider.Values) (int64, error) {
	c.calls.Add(1)
	return c.Provider.Insert(ctx, col, v)
}

func (c *countingProvider) BulkInsert(ctx context.Context, col provider.Collection, vs []provider.Values) (int, error) {
	c.calls.Add(1)
	return c.Provider.BulkInsert(ctx, col, vs)
}

func (c *countingProvider) Update(ctx context.Context, col provider.Collection, f provider.Filter, v provider.Values) (int, error) {
	c.calls.Add(1)
	return c.Provider.Update(ctx, col, f, v)
}

func (c *countingProvider) Delete(ctx context.Context, col provider.Collection, f provider.Filter) (int, error) {
	c.calls.Add(1)
	return c.Provider.Delete(ctx, col, f)
}

func (c *countingProvider) Instances(ctx context.Context, begin, end time.Time, projection []string, f provider.Filter, order ...provider.Order) (provider.Rows, error) {
	c.calls.Add(1)
	return c.Provider.Instances(ctx, begin, end, projection, f, order...)
}

type fixture struct {
	store *Store
	mem   *memstore.Store
	calID string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	mem := memstore.New()
	s := New(mem, WithLocation(time.UTC))
	calID, err := s.CreateCalendar(context.Background(), "Work", nil, "local")
	require.NoError(t, err)
	return fixture{store: s, mem: mem, calID: calID}
}

func ptr[T any](v T) *T { return &v }

// storedRule returns the rrule column of the event record.
func (f fixture) storedRule(t *testing.T, eventID string) string {
	t.Helper()
	id, err := parseID("Event", eventID)
	require.NoError(t, err)
	rows, err := f.mem.Query(context.Background(), provider.Events, []string{provider.ColRRule}, provider.ByID(id))
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())
	s, err := rows.Row().String(0)
	require.NoError(t, err)
	return s
}

func queryAll(t *testing.T, p provider.Provider, c provider.Collection, projection []string, f provider.Filter) []provider.Row {
	t.Helper()
	rows, err := p.Query(context.Background(), c, projection, f, provider.Asc(provider.ColID))
	require.NoError(t, err)
	defer rows.Close()
	var out []provider.Row
	for rows.Next() {
		out = append(out, rows.Row())
	}
	require.NoError(t, rows.Err())
	return out
}
