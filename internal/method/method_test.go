package method

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devicecal/internal/apperr"
	"devicecal/internal/model"
)

func TestDecode(t *testing.T) {
	start := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	yes := true
	red := uint32(0xFFFF0000)

	cases := []struct {
		method string
		args   string
		want   Operation
	}{
		{"listCalendars", ``, ListCalendars{}},
		{"hasPermissions", `null`, HasPermissions{}},
		{"requestPermissions", `{}`, RequestPermissions{}},
		{"getCalendar", `{"calendarId":"3"}`, GetCalendar{CalendarID: "3"}},
		{"deleteCalendar", `{"calendarId":3}`, DeleteCalendar{CalendarID: "3"}},
		{"createCalendar", `{"calendarName":"Test","localAccountName":"local"}`,
			CreateCalendar{Name: "Test", AccountName: "local"}},
		{"createCalendar", `{"calendarName":"Test","localAccountName":"local","calendarColor":"#FFFF0000"}`,
			CreateCalendar{Name: "Test", AccountName: "local", Color: &red}},
		{"updateCalendar", `{"calendarId":"3","visible":false}`, UpdateCalendar{CalendarID: "3"}},
		{"queryEvents", `{"calendarId":"1","startDate":"2024-06-03T09:00:00Z","eventIds":["4",5]}`,
			QueryEvents{CalendarID: "1", Start: &start, EventIDs: []string{"4", "5"}}},
		{"deleteEvent", `{"calendarId":"1","eventId":"2","startDate":"2024-06-03T09:00:00Z","endDate":null,"followingInstances":true}`,
			DeleteEvent{CalendarID: "1", EventID: "2", Start: &start, FollowingInstances: &yes}},
	}
	for _, tc := range cases {
		t.Run(tc.method, func(t *testing.T) {
			op, err := Decode(tc.method, json.RawMessage(tc.args))
			require.NoError(t, err)
			assert.Equal(t, tc.want, op)
			assert.Equal(t, tc.want.Kind(), op.Kind())
		})
	}
}

func TestDecodeMillisAndLegacyName(t *testing.T) {
	op, err := Decode("retrieveEvents", json.RawMessage(`{"calendarId":"1","startDate":1717405200000}`))
	require.NoError(t, err)
	q, ok := op.(QueryEvents)
	require.True(t, ok)
	require.NotNil(t, q.Start)
	assert.True(t, time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC).Equal(*q.Start))
	assert.Equal(t, KindQueryEvents, op.Kind())
}

func TestDecodeUpsertEvent(t *testing.T) {
	op, err := Decode("upsertEvent", json.RawMessage(`{
		"calendarId": "7",
		"event": {
			"title": "Standup",
			"start": "2024-06-03T09:00:00Z",
			"recurrenceRule": {"recurrenceFrequency": "WEEKLY", "daysOfWeek": [1]},
			"attendees": [{"emailAddress": "a@x.com", "role": 1}]
		}
	}`))
	require.NoError(t, err)
	up, ok := op.(UpsertEvent)
	require.True(t, ok)
	assert.Equal(t, "7", up.CalendarID)
	assert.Equal(t, "7", up.Event.CalendarID)
	assert.Equal(t, "Standup", up.Event.Title)
	require.NotNil(t, up.Event.RecurrenceRule)
	assert.Equal(t, model.Weekly, up.Event.RecurrenceRule.Frequency)
	assert.Equal(t, []time.Weekday{time.Monday}, up.Event.RecurrenceRule.DaysOfWeek)
	assert.Equal(t, model.RoleRequired, up.Event.Attendees[0].Role)
}

func TestDecodeErrors(t *testing.T) {
	cases := []struct {
		name   string
		method string
		args   string
	}{
		{"unknown method", "frobnicate", `{}`},
		{"not an object", "getCalendar", `[1]`},
		{"missing id", "getCalendar", `{}`},
		{"null id", "deleteCalendar", `{"calendarId":null}`},
		{"missing visible", "updateCalendar", `{"calendarId":"1"}`},
		{"bad date", "queryEvents", `{"calendarId":"1","startDate":"yesterday"}`},
		{"bad ids", "queryEvents", `{"calendarId":"1","eventIds":"4"}`},
		{"bad flag", "deleteEvent", `{"calendarId":"1","eventId":"2","followingInstances":"yes"}`},
		{"missing event", "upsertEvent", `{"calendarId":"1"}`},
		{"bad frequency", "upsertEvent", `{"calendarId":"1","event":{"recurrenceRule":{"recurrenceFrequency":"HOURLY"}}}`},
		{"bad color", "createCalendar", `{"calendarName":"a","localAccountName":"b","calendarColor":"red"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			op, err := Decode(tc.method, json.RawMessage(tc.args))
			assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
			assert.Nil(t, op)
		})
	}
}

func TestParseColor(t *testing.T) {
	for _, s := range []string{"4294901760", "0xFFFF0000", "#FFFF0000"} {
		c, err := ParseColor(s)
		require.NoError(t, err, s)
		assert.Equal(t, uint32(0xFFFF0000), c)
	}
	_, err := ParseColor("0x1FFFFFFFF")
	assert.Error(t, err)
}

type recorder struct {
	mu      sync.Mutex
	results []any
	codes   []apperr.Code
}

func (r *recorder) Success(result any) {
	r.mu.Lock()
	r.results = append(r.results, result)
	r.mu.Unlock()
}

func (r *recorder) Error(code apperr.Code, _ string) {
	r.mu.Lock()
	r.codes = append(r.codes, code)
	r.mu.Unlock()
}

func TestOnceDeliversFirstOutcomeOnly(t *testing.T) {
	rec := &recorder{}
	r := Once(rec)
	assert.Same(t, r, Once(r))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				r.Success(i)
			} else {
				Fail(r, apperr.NotFound("nope"))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, len(rec.results)+len(rec.codes))
}

func TestFailUsesTaxonomy(t *testing.T) {
	var code apperr.Code
	var msg string
	Fail(ReplyFuncs{OnError: func(c apperr.Code, m string) { code, msg = c, m }}, apperr.NotAuthorized())
	assert.Equal(t, apperr.CodeNotAuthorized, code)
	assert.Equal(t, apperr.NotAuthorizedMessage, msg)
}
