package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devicecal/internal/calendar"
	"devicecal/internal/model"
)

const feed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:weekly@example.com\r\n" +
	"DTSTAMP:20240601T000000Z\r\n" +
	"SUMMARY:Standup\r\n" +
	"DTSTART;TZID=Europe/Berlin:20240603T090000\r\n" +
	"DTEND;TZID=Europe/Berlin:20240603T093000\r\n" +
	"RRULE:FREQ=WEEKLY;BYDAY=MO;COUNT=10\r\n" +
	"EXDATE:20240610T070000Z\r\n" +
	"ORGANIZER;CN=Boss:mailto:boss@example.com\r\n" +
	"ATTENDEE;CN=Dev;ROLE=OPT-PARTICIPANT;PARTSTAT=TENTATIVE:mailto:dev@example.com\r\n" +
	"TRANSP:TRANSPARENT\r\n" +
	"BEGIN:VALARM\r\n" +
	"ACTION:DISPLAY\r\n" +
	"DESCRIPTION:Standup\r\n" +
	"TRIGGER:-PT15M\r\n" +
	"END:VALARM\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:holiday@example.com\r\n" +
	"DTSTAMP:20240601T000000Z\r\n" +
	"DTSTART;VALUE=DATE:20240704\r\n" +
	"DTEND;VALUE=DATE:20240705\r\n" +
	"SUMMARY:Holiday\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:weekly@example.com\r\n" +
	"DTSTAMP:20240601T000000Z\r\n" +
	"RECURRENCE-ID:20240617T070000Z\r\n" +
	"DTSTART:20240617T080000Z\r\n" +
	"SUMMARY:moved\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:hourly@example.com\r\n" +
	"DTSTAMP:20240601T000000Z\r\n" +
	"DTSTART:20240603T090000Z\r\n" +
	"RRULE:FREQ=HOURLY\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:duration@example.com\r\n" +
	"DTSTAMP:20240601T000000Z\r\n" +
	"DTSTART:20240603T090000Z\r\n" +
	"DURATION:PT1H30M\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestImport(t *testing.T) {
	got, err := Import([]byte(feed), time.UTC)
	require.NoError(t, err)
	require.Len(t, got, 3)

	weekly := got[0]
	assert.Equal(t, "weekly@example.com", weekly.UID)
	ev := weekly.Event
	assert.Equal(t, "Standup", ev.Title)
	assert.Equal(t, "Europe/Berlin", ev.StartTimeZone)
	assert.True(t, time.Date(2024, 6, 3, 7, 0, 0, 0, time.UTC).Equal(ev.Start), ev.Start)
	assert.True(t, time.Date(2024, 6, 3, 7, 30, 0, 0, time.UTC).Equal(ev.End), ev.End)
	assert.Equal(t, model.AvailabilityFree, ev.Availability)
	require.NotNil(t, ev.RecurrenceRule)
	assert.Equal(t, model.Weekly, ev.RecurrenceRule.Frequency)
	assert.Equal(t, 10, ev.RecurrenceRule.TotalOccurrences)
	assert.Equal(t, []time.Weekday{time.Monday}, ev.RecurrenceRule.DaysOfWeek)
	require.Len(t, weekly.ExDates, 1)
	assert.True(t, time.Date(2024, 6, 10, 7, 0, 0, 0, time.UTC).Equal(weekly.ExDates[0]))
	assert.Equal(t, []model.Attendee{
		{EmailAddress: "dev@example.com", Name: "Dev", Role: model.RoleOptional, Status: model.StatusTentative},
		{EmailAddress: "boss@example.com", Name: "Boss", Role: model.RoleRequired, Status: model.StatusAccepted, IsOrganizer: true},
	}, ev.Attendees)
	assert.Equal(t, []model.Reminder{{Minutes: 15}}, ev.Reminders)

	holiday := got[1].Event
	assert.True(t, holiday.AllDay)
	assert.Equal(t, time.Date(2024, 7, 4, 0, 0, 0, 0, time.UTC), holiday.Start)
	assert.Equal(t, time.Date(2024, 7, 5, 0, 0, 0, 0, time.UTC), holiday.End)

	withDuration := got[2].Event
	assert.Equal(t, "UTC", withDuration.StartTimeZone)
	assert.Equal(t, 90*time.Minute, withDuration.End.Sub(withDuration.Start))
}

func TestImportEmpty(t *testing.T) {
	_, err := Import([]byte("  \n"), nil)
	assert.Error(t, err)
}

func TestExportRoundTrip(t *testing.T) {
	start := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	cal := model.Calendar{ID: "7", Name: "Work"}
	series := []calendar.Series{
		{
			Event: model.Event{
				ID:             "3",
				Title:          "Standup",
				Location:       "Room 1",
				Start:          start,
				End:            start.Add(30 * time.Minute),
				Availability:   model.AvailabilityBusy,
				RecurrenceRule: &model.RecurrenceRule{Frequency: model.Weekly, Interval: 1, DaysOfWeek: []time.Weekday{time.Monday}},
				Attendees: []model.Attendee{
					{EmailAddress: "boss@example.com", Name: "Boss", Role: model.RoleRequired, Status: model.StatusAccepted, IsOrganizer: true},
					{EmailAddress: "room@example.com", Role: model.RoleResource, Status: model.StatusInvited},
				},
				Reminders: []model.Reminder{{Minutes: 10}},
			},
			Canceled: []time.Time{start.AddDate(0, 0, 7)},
		},
		{
			Event: model.Event{
				ID:     "4",
				Title:  "Holiday",
				AllDay: true,
				Start:  time.Date(2024, 7, 4, 0, 0, 0, 0, time.UTC),
				End:    time.Date(2024, 7, 5, 0, 0, 0, 0, time.UTC),
			},
		},
	}

	text := Export(cal, series, start)
	assert.Contains(t, text, "UID:"+UID("7", "3"))
	assert.Contains(t, text, "EXDATE:20240610T090000Z")
	assert.Contains(t, text, "FREQ=WEEKLY")

	got, err := Import([]byte(text), time.UTC)
	require.NoError(t, err)
	require.Len(t, got, 2)

	ev := got[0].Event
	assert.Equal(t, UID("7", "3"), got[0].UID)
	assert.Equal(t, "Standup", ev.Title)
	assert.Equal(t, "Room 1", ev.Location)
	assert.True(t, start.Equal(ev.Start))
	assert.Equal(t, model.AvailabilityBusy, ev.Availability)
	require.NotNil(t, ev.RecurrenceRule)
	assert.Equal(t, []time.Weekday{time.Monday}, ev.RecurrenceRule.DaysOfWeek)
	require.Len(t, got[0].ExDates, 1)
	assert.True(t, start.AddDate(0, 0, 7).Equal(got[0].ExDates[0]))
	assert.Equal(t, series[0].Attendees, ev.Attendees)
	assert.Equal(t, []model.Reminder{{Minutes: 10}}, ev.Reminders)

	assert.True(t, got[1].Event.AllDay)
	assert.Equal(t, series[1].Start, got[1].Event.Start)
}

func TestUIDIsStable(t *testing.T) {
	assert.Equal(t, UID("1", "2"), UID("1", "2"))
	assert.NotEqual(t, UID("1", "2"), UID("2", "1"))
	assert.True(t, strings.HasSuffix(UID("1", "2"), "@devicecal"))
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"-PT15M":   -15 * time.Minute,
		"PT1H30M":  90 * time.Minute,
		"P1DT2H":   26 * time.Hour,
		"+P1W":     7 * 24 * time.Hour,
		"-PT0S":    0,
		"pt45s":    45 * time.Second,
		"-P1DT15M": -(24*time.Hour + 15*time.Minute),
	}
	for in, want := range cases {
		got, err := parseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "P", "15M", "PT", "P1H", "PT1D", "PT5"} {
		_, err := parseDuration(bad)
		assert.Error(t, err, bad)
	}
}

func TestFetchUsesETagCache(t *testing.T) {
	var hits, conditional atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			conditional.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(feed))
	}))

	f := NewFetcher(t.TempDir(), srv.Client())
	ctx := context.Background()

	first, err := f.Fetch(ctx, srv.URL+"/cal.ics?token=secret")
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, feed, string(first.Body))

	second, err := f.Fetch(ctx, srv.URL+"/cal.ics?token=secret")
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, feed, string(second.Body))
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int32(1), conditional.Load())

	srv.Close()
	third, err := f.Fetch(ctx, srv.URL+"/cal.ics?token=secret")
	require.NoError(t, err)
	assert.True(t, third.FromCache)
}

func TestFetchErrorWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	_, err := NewFetcher(t.TempDir(), srv.Client()).Fetch(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://example.com/...(redacted)", redactURL("https://example.com/private/cal.ics?token=abc"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}
