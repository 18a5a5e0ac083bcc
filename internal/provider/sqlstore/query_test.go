package sqlstore

import (
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devicecal/internal/provider"
)

func TestBuildSelect(t *testing.T) {
	query, args, err := buildSelect(provider.Events,
		[]string{provider.ColID, provider.ColTitle},
		provider.Where(
			provider.Eq(provider.ColCalendarID, 3),
			provider.Ne(provider.ColDeleted, int64(1)),
			provider.In(provider.ColID, int64(4), int64(5)),
		),
		[]provider.Order{provider.Desc(provider.ColDTStart)})
	require.NoError(t, err)

	assert.Equal(t, "SELECT _id, title FROM events WHERE original_id IS NULL AND calendar_id = $1"+
		" AND deleted IS DISTINCT FROM $2 AND _id = ANY($3) ORDER BY dtstart DESC NULLS LAST", query)
	assert.Equal(t, []any{int64(3), int64(1), pq.Array([]int64{4, 5})}, args)
}

func TestBuildSelectExceptionsScope(t *testing.T) {
	query, args, err := buildSelect(provider.Exceptions, []string{provider.ColID}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT _id FROM events WHERE original_id IS NOT NULL", query)
	assert.Empty(t, args)
}

func TestBuildSelectRejectsUnknownIdentifiers(t *testing.T) {
	_, _, err := buildSelect(provider.Calendars, []string{"_id; DROP TABLE calendars"}, nil, nil)
	assert.ErrorIs(t, err, ErrUnknownColumn)

	_, _, err = buildSelect(provider.Calendars, []string{provider.ColID},
		provider.Where(provider.Eq(provider.ColTitle, "x")), nil)
	assert.ErrorIs(t, err, ErrUnknownColumn)

	_, _, err = buildSelect(provider.Reminders, []string{provider.ColID}, nil,
		[]provider.Order{provider.Asc("random()")})
	assert.ErrorIs(t, err, ErrUnknownColumn)

	_, _, err = buildSelect(provider.Collection("nope"), []string{provider.ColID}, nil, nil)
	assert.Error(t, err)
}

func TestBuildSelectEmptyIn(t *testing.T) {
	query, args, err := buildSelect(provider.Attendees, []string{provider.ColID},
		provider.Where(provider.In(provider.ColEventID)), nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT _id FROM attendees WHERE FALSE", query)
	assert.Empty(t, args)

	_, _, err = buildSelect(provider.Attendees, []string{provider.ColID},
		provider.Where(provider.In(provider.ColEventID, int64(1), "a")), nil)
	assert.Error(t, err)
}

func TestBuildInsert(t *testing.T) {
	query, args, err := buildInsert(provider.Reminders, provider.Values{
		provider.ColMinutes: 15,
		provider.ColEventID: int64(2),
		provider.ColMethod:  provider.MethodAlert,
	})
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO reminders (event_id, method, minutes) VALUES ($1, $2, $3) RETURNING _id", query)
	assert.Equal(t, []any{int64(2), int64(1), int64(15)}, args)

	_, _, err = buildInsert(provider.Reminders, provider.Values{provider.ColID: int64(1)})
	assert.Error(t, err)
}

func TestBuildUpdateAndDelete(t *testing.T) {
	query, args, err := buildUpdate(provider.Calendars, provider.ByID(7), provider.Values{
		provider.ColVisible:      false,
		provider.ColCalendarName: "Home",
	})
	require.NoError(t, err)
	assert.Equal(t, "UPDATE calendars SET name = $1, visible = $2 WHERE _id = $3", query)
	assert.Equal(t, []any{"Home", int64(0), int64(7)}, args)

	query, args, err = buildDelete(provider.Events, provider.ByID(9))
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM events WHERE original_id IS NULL AND _id = $1", query)
	assert.Equal(t, []any{int64(9)}, args)

	_, _, err = buildUpdate(provider.Calendars, nil, provider.Values{})
	assert.Error(t, err)
}

func TestBuildInstanceSource(t *testing.T) {
	cols := "SELECT _id, calendar_id, title, description, event_location, custom_app_uri, dtstart, dtend, " +
		"event_timezone, event_end_timezone, all_day, availability, rrule, deleted, status, original_id, " +
		"original_instance_time FROM events"

	query, args, err := buildInstanceSource(provider.Where(
		provider.Eq(provider.ColCalendarID, int64(3)),
		provider.Ne(provider.ColDeleted, int64(1)),
		provider.In(provider.ColEventID, int64(4), int64(5)),
	))
	require.NoError(t, err)
	assert.Equal(t, cols+" WHERE (calendar_id = $1 OR original_id IN (SELECT _id FROM events WHERE calendar_id = $1))"+
		" AND (_id = ANY($2) OR original_id = ANY($2))", query)
	assert.Equal(t, []any{int64(3), pq.Array([]int64{4, 5})}, args)

	query, args, err = buildInstanceSource(provider.Where(provider.Eq(provider.ColEventID, 7)))
	require.NoError(t, err)
	assert.Equal(t, cols+" WHERE (_id = $1 OR original_id = $1)", query)
	assert.Equal(t, []any{int64(7)}, args)

	query, args, err = buildInstanceSource(nil)
	require.NoError(t, err)
	assert.Equal(t, cols, query)
	assert.Empty(t, args)

	query, _, err = buildInstanceSource(provider.Where(provider.In(provider.ColEventID)))
	require.NoError(t, err)
	assert.Equal(t, cols+" WHERE (FALSE OR FALSE)", query)
}
