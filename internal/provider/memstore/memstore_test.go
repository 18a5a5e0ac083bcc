package memstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devicecal/internal/provider"
)

var start = time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *Store) (calID, eventID int64) {
	t.Helper()
	ctx := context.Background()

	calID, err := s.Insert(ctx, provider.Calendars, provider.Values{
		provider.ColCalendarName: "Work",
		provider.ColAccessLevel:  provider.AccessOwner,
	})
	require.NoError(t, err)

	eventID, err = s.Insert(ctx, provider.Events, provider.Values{
		provider.ColCalendarID: calID,
		provider.ColTitle:      "standup",
		provider.ColDTStart:    start.UnixMilli(),
		provider.ColDTEnd:      start.Add(30 * time.Minute).UnixMilli(),
		provider.ColRRule:      "FREQ=WEEKLY;BYDAY=MO",
	})
	require.NoError(t, err)

	_, err = s.BulkInsert(ctx, provider.Attendees, []provider.Values{
		{provider.ColEventID: eventID, provider.ColAttendeeEmail: "a@example.com"},
		{provider.ColEventID: eventID, provider.ColAttendeeEmail: "b@example.com"},
	})
	require.NoError(t, err)
	_, err = s.Insert(ctx, provider.Reminders, provider.Values{
		provider.ColEventID: eventID,
		provider.ColMinutes: 10,
	})
	require.NoError(t, err)
	return calID, eventID
}

func collect(t *testing.T, rows provider.Rows) []provider.Row {
	t.Helper()
	defer rows.Close()
	var out []provider.Row
	for rows.Next() {
		out = append(out, rows.Row())
	}
	require.NoError(t, rows.Err())
	return out
}

func TestInsertAssignsSequentialIDs(t *testing.T) {
	s := New()
	ctx := context.Background()
	for want := int64(1); want <= 3; want++ {
		id, err := s.Insert(ctx, provider.Calendars, provider.Values{provider.ColCalendarName: "c"})
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
}

func TestInsertRejectsUnknownColumnAndMissingParent(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Insert(ctx, provider.Calendars, provider.Values{"nope": 1})
	assert.ErrorIs(t, err, ErrUnknownColumn)

	_, err = s.Insert(ctx, provider.Events, provider.Values{provider.ColCalendarID: int64(42)})
	assert.Error(t, err)
}

func TestQueryUpdate(t *testing.T) {
	s := New()
	ctx := context.Background()
	calID, eventID := seed(t, s)

	n, err := s.Update(ctx, provider.Events, provider.ByID(eventID), provider.Values{provider.ColTitle: "retro"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := s.Query(ctx, provider.Events, []string{provider.ColID, provider.ColTitle},
		provider.Where(provider.Eq(provider.ColCalendarID, calID)))
	require.NoError(t, err)
	got := collect(t, rows)
	require.Len(t, got, 1)
	assert.Equal(t, provider.Row{eventID, "retro"}, got[0])

	_, err = s.Update(ctx, provider.Events, provider.ByID(eventID), provider.Values{provider.ColID: int64(9)})
	assert.Error(t, err)
}

func TestExceptionsAreSeparateFromEvents(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, eventID := seed(t, s)

	_, err := s.Insert(ctx, provider.Exceptions, provider.Values{
		provider.ColOriginalID:           eventID,
		provider.ColOriginalInstanceTime: start.AddDate(0, 0, 14).UnixMilli(),
		provider.ColStatus:               provider.StatusCanceled,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, s.Len(provider.Events))
	assert.Equal(t, 1, s.Len(provider.Exceptions))

	rows, err := s.Query(ctx, provider.Exceptions, []string{provider.ColOriginalID}, nil)
	require.NoError(t, err)
	assert.Equal(t, []provider.Row{{eventID}}, collect(t, rows))

	rows, err = s.Instances(ctx, start, start.AddDate(0, 0, 34),
		[]string{provider.ColEventID, provider.ColInstanceBegin}, nil, provider.Asc(provider.ColInstanceBegin))
	require.NoError(t, err)
	assert.Len(t, collect(t, rows), 4)
}

func TestDeleteCascades(t *testing.T) {
	s := New()
	ctx := context.Background()
	calID, eventID := seed(t, s)
	_, err := s.Insert(ctx, provider.Exceptions, provider.Values{
		provider.ColOriginalID: eventID,
		provider.ColStatus:     provider.StatusCanceled,
	})
	require.NoError(t, err)

	n, err := s.Delete(ctx, provider.Calendars, provider.ByID(calID))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, c := range []provider.Collection{provider.Events, provider.Exceptions, provider.Attendees, provider.Reminders} {
		assert.Zero(t, s.Len(c), c)
	}
}

func TestInstancesFilterByEvent(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, eventID := seed(t, s)

	rows, err := s.Instances(ctx, start, start.AddDate(0, 0, 6),
		[]string{provider.ColEventID, provider.ColInstanceBegin},
		provider.Where(provider.In(provider.ColEventID, eventID)))
	require.NoError(t, err)
	got := collect(t, rows)
	require.Len(t, got, 1)
	assert.Equal(t, provider.Row{eventID, start.UnixMilli()}, got[0])

	_, err = s.Instances(ctx, start, start.Add(time.Hour), []string{"bogus"}, nil)
	assert.ErrorIs(t, err, ErrUnknownColumn)
}

func TestCanceledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Insert(ctx, provider.Calendars, provider.Values{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSnapshotFileRoundTrip(t *testing.T) {
	s := New()
	calID, eventID := seed(t, s)
	path := filepath.Join(t.TempDir(), "store", "snapshot.yaml")
	require.NoError(t, s.SaveFile(path))

	restored := New()
	require.NoError(t, restored.LoadFile(path))
	assert.Equal(t, s.Snapshot(), restored.Snapshot())

	// Ids keep increasing after a restore.
	id, err := restored.Insert(context.Background(), provider.Calendars, provider.Values{provider.ColCalendarName: "n"})
	require.NoError(t, err)
	assert.Equal(t, calID+1, id)

	rows, err := restored.Query(context.Background(), provider.Reminders,
		[]string{provider.ColEventID, provider.ColMinutes}, nil)
	require.NoError(t, err)
	assert.Equal(t, []provider.Row{{eventID, int64(10)}}, collect(t, rows))
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s := New()
	require.NoError(t, s.LoadFile(filepath.Join(t.TempDir(), "absent.yaml")))
	assert.Zero(t, s.Len(provider.Calendars))
}
