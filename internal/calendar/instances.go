package calendar

import (
	"context"
	"fmt"
	"time"

	"devicecal/internal/apperr"
	appLog "devicecal/internal/log"
	"devicecal/internal/provider"
	"devicecal/internal/recurrence"
)

// DeleteMode selects how much of a recurring event DeleteEvent removes.
type DeleteMode int

const (
	DeleteAll DeleteMode = iota
	DeleteThisInstance
	DeleteFollowing
)

func (m DeleteMode) String() string {
	switch m {
	case DeleteAll:
		return "all"
	case DeleteThisInstance:
		return "this"
	case DeleteFollowing:
		return "following"
	}
	return fmt.Sprintf("DeleteMode(%d)", int(m))
}

// deleteMode derives the mode from the optional arguments. An instance mode
// needs both bounds; a missing flag with bounds present means this instance.
func deleteMode(start, end *time.Time, following *bool) (DeleteMode, error) {
	if start == nil && end == nil && following == nil {
		return DeleteAll, nil
	}
	if start == nil || end == nil {
		return 0, apperr.InvalidArgument("Start and end dates are required to delete an event instance")
	}
	if end.Before(*start) {
		return 0, apperr.InvalidArgument("End date must not be before start date")
	}
	if following != nil && *following {
		return DeleteFollowing, nil
	}
	return DeleteThisInstance, nil
}

// DeleteEvent deletes an event, one of its occurrences, or an occurrence and
// every later one. The occurrence is the one beginning inside [start, end).
func (s *Store) DeleteEvent(ctx context.Context, calendarID, eventID string, start, end *time.Time, following *bool) (bool, error) {
	calID, err := parseID("Calendar", calendarID)
	if err != nil {
		return false, err
	}
	evID, err := parseID("Event", eventID)
	if err != nil {
		return false, err
	}
	mode, err := deleteMode(start, end, following)
	if err != nil {
		return false, err
	}

	if _, err := s.writableCalendar(ctx, calID); err != nil {
		return false, err
	}
	m, err := s.master(ctx, calID, evID)
	if err != nil {
		return false, err
	}

	var ok bool
	switch mode {
	case DeleteAll:
		ok, err = s.deleter.deleteAll(ctx, m.id)
	case DeleteThisInstance:
		ok, err = s.deleter.deleteInstance(ctx, m, *start, *end)
	case DeleteFollowing:
		ok, err = s.deleter.deleteFollowing(ctx, m, *start, *end)
	}
	if err != nil {
		return false, fail("deleteEvent", err)
	}
	appLog.Debug("calendar: event deleted", "event_id", evID, "mode", mode, "ok", ok)
	return ok, nil
}

func (s *Store) master(ctx context.Context, calID, evID int64) (master, error) {
	rows, err := s.p.Query(ctx, provider.Events, masterProjection, provider.Where(
		provider.Eq(provider.ColID, evID),
		provider.Eq(provider.ColCalendarID, calID),
	))
	if err != nil {
		return master{}, fail("deleteEvent", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return master{}, fail("deleteEvent", err)
		}
		return master{}, eventNotFound(formatID(evID))
	}
	m, err := decodeMaster(rows.Row())
	if err != nil {
		return master{}, fail("deleteEvent", err)
	}
	return m, nil
}

// deletionEngine removes whole events or parts of recurring series.
type deletionEngine struct {
	p provider.Provider
}

func newDeletionEngine(p provider.Provider) *deletionEngine {
	return &deletionEngine{p: p}
}

func (e *deletionEngine) deleteAll(ctx context.Context, eventID int64) (bool, error) {
	n, err := e.p.Delete(ctx, provider.Events, provider.ByID(eventID))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// beginsIn reports whether t falls in [start, end), or equals start for an
// empty window.
func beginsIn(t, start, end time.Time) bool {
	if t.Equal(start) {
		return true
	}
	return t.After(start) && t.Before(end)
}

// occurrences returns eventID's occurrences that begin inside [start, end].
func (e *deletionEngine) occurrences(ctx context.Context, eventID int64, start, end time.Time) ([]instance, error) {
	rows, err := e.p.Instances(ctx, start, end, instanceProjection,
		provider.Where(provider.Eq(provider.ColEventID, eventID)), provider.Asc(provider.ColInstanceBegin))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []instance
	for rows.Next() {
		in, err := decodeInstance(rows.Row())
		if err != nil {
			return nil, err
		}
		if in.eventID == eventID && beginsIn(in.begin, start, end) {
			out = append(out, in)
		}
	}
	return out, rows.Err()
}

// deleteInstance cancels the first occurrence beginning inside [start, end)
// by writing one exception record. A non-recurring event is deleted outright.
// It reports false when no occurrence matches.
func (e *deletionEngine) deleteInstance(ctx context.Context, m master, start, end time.Time) (bool, error) {
	if m.rule == "" {
		return e.deleteWhole(ctx, m, start, end)
	}
	matches, err := e.occurrences(ctx, m.id, start, end)
	if err != nil {
		return false, err
	}
	if len(matches) == 0 {
		return false, nil
	}
	// Matches are ascending; the first one is nearest start.
	_, err = e.p.Insert(ctx, provider.Exceptions, provider.Values{
		provider.ColOriginalID:           m.id,
		provider.ColOriginalInstanceTime: matches[0].begin.UnixMilli(),
		provider.ColCalendarID:           m.calendarID,
		provider.ColStatus:               provider.StatusCanceled,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// deleteWhole removes the event when one of its occurrences begins inside
// [start, end].
func (e *deletionEngine) deleteWhole(ctx context.Context, m master, start, end time.Time) (bool, error) {
	matches, err := e.occurrences(ctx, m.id, start, end)
	if err != nil || len(matches) == 0 {
		return false, err
	}
	return e.deleteAll(ctx, m.id)
}

// deleteFollowing ends the series before the occurrence beginning inside
// [start, end]. A count-bounded rule has its count reduced by the number of
// occurrences from start on; any other rule gets an end date at the previous
// occurrence's end. When nothing would remain, the event is deleted.
//
// Every matching occurrence rewrites the same record, so with several matches
// the last write wins.
func (e *deletionEngine) deleteFollowing(ctx context.Context, m master, start, end time.Time) (bool, error) {
	if m.rule == "" || !start.After(m.start) {
		return e.deleteWhole(ctx, m, start, end)
	}
	matches, err := e.occurrences(ctx, m.id, start, end)
	if err != nil {
		return false, err
	}

	ok := false
	for _, in := range matches {
		rule, err := recurrence.Decode(in.rule)
		if err != nil {
			return false, err
		}

		if rule.TotalOccurrences > 0 && in.lastDate > 0 {
			removed, err := e.countFrom(ctx, m.id, in.begin, time.UnixMilli(in.lastDate))
			if err != nil {
				return false, err
			}
			rule.TotalOccurrences -= removed
			if rule.TotalOccurrences <= 0 {
				return e.deleteAll(ctx, m.id)
			}
		} else {
			until, err := e.previousEnd(ctx, m.id, in.begin)
			if err != nil {
				return false, err
			}
			rule.TotalOccurrences = 0
			rule.EndDate = until
		}

		text, err := recurrence.Encode(rule)
		if err != nil {
			return false, err
		}
		n, err := e.p.Update(ctx, provider.Events, provider.ByID(m.id), provider.Values{provider.ColRRule: text})
		if err != nil {
			return false, err
		}
		appLog.Debug("calendar: series truncated", "event_id", m.id, "rrule", text)
		ok = n > 0
	}
	return ok, nil
}

// countFrom counts the occurrences of eventID beginning in [from, last],
// canceled ones included, since the rule's count covers them too.
func (e *deletionEngine) countFrom(ctx context.Context, eventID int64, from, last time.Time) (int, error) {
	matches, err := e.occurrences(ctx, eventID, from, last.Add(time.Millisecond))
	if err != nil {
		return 0, err
	}
	n := len(matches)

	rows, err := e.p.Query(ctx, provider.Exceptions, []string{provider.ColOriginalInstanceTime},
		provider.Where(
			provider.Eq(provider.ColOriginalID, eventID),
			provider.Eq(provider.ColStatus, provider.StatusCanceled),
		))
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	for rows.Next() {
		t, err := rows.Row().Time(0)
		if err != nil {
			return 0, err
		}
		if !t.Before(from) && !t.After(last) {
			n++
		}
	}
	return n, rows.Err()
}

// previousEnd returns the end of the last occurrence before from, searching
// one year back. Without one, or when that end is not before from, it
// returns from minus one millisecond.
func (e *deletionEngine) previousEnd(ctx context.Context, eventID int64, from time.Time) (time.Time, error) {
	limit := from.Add(-time.Millisecond)
	rows, err := e.p.Instances(ctx, from.AddDate(-1, 0, 0), limit, instanceProjection,
		provider.Where(provider.Eq(provider.ColEventID, eventID)), provider.Asc(provider.ColInstanceBegin))
	if err != nil {
		return time.Time{}, err
	}
	defer rows.Close()

	until := limit
	found := false
	for rows.Next() {
		in, err := decodeInstance(rows.Row())
		if err != nil {
			return time.Time{}, err
		}
		if in.eventID != eventID || !in.begin.Before(from) {
			continue
		}
		until, found = in.end, true
	}
	if err := rows.Err(); err != nil {
		return time.Time{}, err
	}
	if !found || !until.Before(from) {
		until = limit
	}
	return until.UTC(), nil
}
