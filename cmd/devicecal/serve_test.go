package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devicecal/internal/apperr"
	"devicecal/internal/config"
	"devicecal/internal/method"
	"devicecal/internal/model"
	"devicecal/internal/permission"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) lines(t *testing.T) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(s.b.String()), "\n") {
		if l == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &m), l)
		out = append(out, m)
	}
	return out
}

func newTestApp(t *testing.T, mode permission.Mode, snapshot string) *app {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.Workers = 2
	cfg.Permissions.Mode = string(mode)
	cfg.Store.SnapshotPath = snapshot
	a, err := openApp(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.close(context.Background()) })
	return a
}

// exchange feeds one line to srv and waits for the n-th output line.
func exchange(t *testing.T, srv *server, out *syncBuffer, line string, n int) map[string]any {
	t.Helper()
	srv.handle(context.Background(), []byte(line))
	require.Eventually(t, func() bool { return len(out.lines(t)) >= n }, 2*time.Second, 5*time.Millisecond)
	return out.lines(t)[n-1]
}

func errorCode(t *testing.T, line map[string]any) string {
	t.Helper()
	e, ok := line["error"].(map[string]any)
	require.True(t, ok, "expected an error reply, got %v", line)
	return e["code"].(string)
}

func TestServeGranted(t *testing.T) {
	a := newTestApp(t, permission.ModeGranted, "")
	out := &syncBuffer{}
	srv := newServer(a.handler, out)

	got := exchange(t, srv, out, `{"id":1,"method":"createCalendar","args":{"calendarName":"Work"}}`, 1)
	assert.Equal(t, float64(1), got["id"])
	assert.Equal(t, "1", got["result"])

	got = exchange(t, srv, out, `{"id":2,"method":"listCalendars"}`, 2)
	cals, ok := got["result"].([]any)
	require.True(t, ok)
	require.Len(t, cals, 1)
	assert.Equal(t, "Work", cals[0].(map[string]any)["name"])

	got = exchange(t, srv, out, `{"id":3,"method":"getCalendar","args":{"calendarId":"99"}}`, 3)
	assert.Equal(t, string(apperr.CodeNotFound), errorCode(t, got))

	got = exchange(t, srv, out, `{"id":4,"method":"frobnicate"}`, 4)
	assert.Equal(t, float64(4), got["id"])
	assert.Equal(t, string(apperr.CodeInvalidArgument), errorCode(t, got))

	got = exchange(t, srv, out, `not json`, 5)
	assert.Nil(t, got["id"])
	assert.Equal(t, string(apperr.CodeInvalidArgument), errorCode(t, got))

	got = exchange(t, srv, out, `{"id":6,"method":"hasPermissions"}`, 6)
	assert.Equal(t, true, got["result"])
}

func TestServePromptGrant(t *testing.T) {
	a := newTestApp(t, permission.ModePrompt, "")
	out := &syncBuffer{}
	srv := newServer(a.handler, out)
	a.table.SetRequester(srv.requestPermission)

	got := exchange(t, srv, out, `{"id":"a","method":"createCalendar","args":{"calendarName":"Home"}}`, 1)
	req, ok := got["permission_request"].(map[string]any)
	require.True(t, ok, got)
	assert.Equal(t, float64(1), req["token"])
	assert.Equal(t, 1, a.handler.Pending())

	got = exchange(t, srv, out, `{"permission_result":{"token":1,"granted":[true,true]}}`, 2)
	assert.Equal(t, "a", got["id"])
	assert.Equal(t, "1", got["result"])
	assert.Zero(t, a.handler.Pending())

	got = exchange(t, srv, out, `{"id":"b","method":"hasPermissions"}`, 3)
	assert.Equal(t, true, got["result"])
}

func TestServePromptDeny(t *testing.T) {
	a := newTestApp(t, permission.ModePrompt, "")
	out := &syncBuffer{}
	srv := newServer(a.handler, out)
	a.table.SetRequester(srv.requestPermission)

	exchange(t, srv, out, `{"id":1,"method":"listCalendars"}`, 1)
	got := exchange(t, srv, out, `{"permission_result":{"token":1,"granted":[false,false]}}`, 2)
	assert.Equal(t, string(apperr.CodeNotAuthorized), errorCode(t, got))

	got = exchange(t, srv, out, `{"id":2,"method":"requestPermissions"}`, 3)
	req := got["permission_request"].(map[string]any)
	assert.Equal(t, float64(2), req["token"])

	got = exchange(t, srv, out, `{"permission_result":{"token":2,"granted":[true,false]}}`, 4)
	assert.Equal(t, float64(2), got["id"])
	assert.Equal(t, false, got["result"])

	// Unknown tokens produce no output.
	srv.handle(context.Background(), []byte(`{"permission_result":{"token":2,"granted":[true,true]}}`))
	assert.Len(t, out.lines(t), 4)
}

func TestServeUntilEOF(t *testing.T) {
	a := newTestApp(t, permission.ModeGranted, "")
	out := &syncBuffer{}
	srv := newServer(a.handler, out)

	in := strings.NewReader(
		`{"id":1,"method":"createCalendar","args":{"calendarName":"Work"}}` + "\n\n" +
			`{"id":2,"method":"hasPermissions"}` + "\n" +
			`{"id":3,"method":"deleteCalendar","args":{"calendarId":"abc"}}` + "\n")
	require.NoError(t, srv.serve(context.Background(), in))
	require.NoError(t, a.close(context.Background()))

	byID := map[float64]map[string]any{}
	for _, l := range out.lines(t) {
		byID[l["id"].(float64)] = l
	}
	require.Len(t, byID, 3)
	assert.Equal(t, "1", byID[1]["result"])
	assert.Equal(t, true, byID[2]["result"])
	assert.Equal(t, string(apperr.CodeInvalidArgument), errorCode(t, byID[3]))
}

func TestDeniedMode(t *testing.T) {
	a := newTestApp(t, permission.ModeDenied, "")
	ctx := context.Background()

	_, err := a.call(ctx, method.ListCalendars{})
	assert.ErrorIs(t, err, apperr.ErrNotAuthorized)

	res, err := a.call(ctx, method.RequestPermissions{})
	require.NoError(t, err)
	assert.Equal(t, false, res)

	assert.ErrorIs(t, a.ensureAccess(ctx), apperr.ErrNotAuthorized)
	assert.Zero(t, a.handler.Pending())
}

const weeklyFeed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:weekly@example.com\r\n" +
	"DTSTAMP:20240601T000000Z\r\n" +
	"SUMMARY:Standup\r\n" +
	"DTSTART:20240603T090000Z\r\n" +
	"DTEND:20240603T093000Z\r\n" +
	"RRULE:FREQ=WEEKLY;COUNT=5\r\n" +
	"EXDATE:20240610T090000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:once@example.com\r\n" +
	"DTSTAMP:20240601T000000Z\r\n" +
	"SUMMARY:Review\r\n" +
	"DTSTART:20240605T140000Z\r\n" +
	"DTEND:20240605T150000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestImportThenExport(t *testing.T) {
	a := newTestApp(t, permission.ModeGranted, "")
	ctx := context.Background()

	res, err := a.call(ctx, method.CreateCalendar{Name: "Team"})
	require.NoError(t, err)
	calID := res.(string)

	sum, err := importCalendar(ctx, a, calID, []byte(weeklyFeed))
	require.NoError(t, err)
	assert.Len(t, sum.EventIDs, 2)
	assert.Equal(t, 1, sum.Canceled)

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	res, err = a.call(ctx, method.QueryEvents{CalendarID: calID, Start: &start, End: &end})
	require.NoError(t, err)
	events := res.([]model.Event)
	assert.Len(t, events, 5) // 4 standups plus the review

	text, err := exportCalendar(ctx, a, calID, start)
	require.NoError(t, err)
	assert.Contains(t, text, "SUMMARY:Standup")
	assert.Contains(t, text, "SUMMARY:Review")
	assert.Contains(t, text, "EXDATE:20240610T090000Z")
	assert.Contains(t, text, "X-WR-CALNAME:Team")
}

func TestSnapshotSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.yaml")
	ctx := context.Background()

	first := newTestApp(t, permission.ModeGranted, path)
	_, err := first.call(ctx, method.CreateCalendar{Name: "Kept"})
	require.NoError(t, err)
	require.NoError(t, first.close(ctx))

	second := newTestApp(t, permission.ModeGranted, path)
	res, err := second.call(ctx, method.ListCalendars{})
	require.NoError(t, err)
	cals := res.([]model.Calendar)
	require.Len(t, cals, 1)
	assert.Equal(t, "Kept", cals[0].Name)
}
