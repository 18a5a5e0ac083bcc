package calendar

import (
	"context"
	"time"

	appLog "devicecal/internal/log"
	"devicecal/internal/model"
	"devicecal/internal/provider"
	"devicecal/internal/recurrence"
)

// Series is a stored event as written, before expansion. Canceled lists the
// original start of every occurrence removed with DeleteThisInstance.
type Series struct {
	model.Event
	Canceled []time.Time
}

// ListSeries returns the non-deleted events of calendarID in start order,
// with attendees, reminders and canceled occurrences.
func (s *Store) ListSeries(ctx context.Context, calendarID string) ([]Series, error) {
	calID, err := parseID("Calendar", calendarID)
	if err != nil {
		return nil, err
	}
	if _, err := s.getCalendar(ctx, calID); err != nil {
		return nil, err
	}

	rows, err := s.p.Query(ctx, provider.Events, seriesProjection, provider.Where(
		provider.Eq(provider.ColCalendarID, calID),
		provider.Ne(provider.ColDeleted, int64(1)),
	), provider.Asc(provider.ColDTStart), provider.Asc(provider.ColID))
	if err != nil {
		return nil, fail("listSeries", err)
	}
	defer rows.Close()

	events := make([]model.Event, 0)
	for rows.Next() {
		ev, ruleText, err := decodeEvent(rows.Row(), formatID(calID))
		if err != nil {
			appLog.Warn("calendar: skipping unreadable event record", "err", err)
			continue
		}
		if ruleText != "" {
			if ev.RecurrenceRule, err = recurrence.Decode(ruleText); err != nil {
				appLog.Warn("calendar: ignoring unreadable recurrence rule", "event_id", ev.ID, "rrule", ruleText, "err", err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("listSeries", err)
	}
	if err := s.enrich(ctx, events); err != nil {
		return nil, fail("listSeries", err)
	}

	canceled, err := s.canceled(ctx, events)
	if err != nil {
		return nil, fail("listSeries", err)
	}
	out := make([]Series, 0, len(events))
	for _, ev := range events {
		out = append(out, Series{Event: ev, Canceled: canceled[ev.ID]})
	}
	return out, nil
}

// canceled maps event ids to the original start of their canceled
// occurrences.
func (s *Store) canceled(ctx context.Context, events []model.Event) (map[string][]time.Time, error) {
	ids := make([]any, 0, len(events))
	for _, ev := range events {
		if ev.RecurrenceRule == nil {
			continue
		}
		id, err := parseID("Event", ev.ID)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	out := make(map[string][]time.Time)
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.p.Query(ctx, provider.Exceptions, exceptionProjection, provider.Where(
		provider.In(provider.ColOriginalID, ids...),
		provider.Eq(provider.ColStatus, provider.StatusCanceled),
	), provider.Asc(provider.ColOriginalInstanceTime))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		sc := scanner{row: rows.Row()}
		id := sc.int64(exceptionOriginalIDIndex)
		at := sc.time(exceptionInstanceTimeIndex)
		if sc.err != nil {
			return nil, sc.err
		}
		out[formatID(id)] = append(out[formatID(id)], at)
	}
	return out, rows.Err()
}
