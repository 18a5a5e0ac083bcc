package calendar

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"devicecal/internal/apperr"
	appLog "devicecal/internal/log"
	"devicecal/internal/model"
	"devicecal/internal/provider"
	"devicecal/internal/recurrence"
)

// QueryEvents returns the non-deleted occurrences of calendarID's events that
// overlap [start, end], newest first. eventIDs, when non-empty, restricts the
// result to those events. At least a bound or an id is required.
func (s *Store) QueryEvents(ctx context.Context, calendarID string, start, end *time.Time, eventIDs []string) ([]model.Event, error) {
	calID, err := parseID("Calendar", calendarID)
	if err != nil {
		return nil, err
	}
	if start == nil && end == nil && len(eventIDs) == 0 {
		return nil, apperr.InvalidArgument("Provided arguments (i.e. start, end and event ids) are null or empty")
	}
	ids := make([]any, 0, len(eventIDs))
	for _, id := range eventIDs {
		n, err := parseID("Event", id)
		if err != nil {
			return nil, err
		}
		ids = append(ids, n)
	}
	begin, stop := time.UnixMilli(0).UTC(), provider.FarFuture
	if start != nil {
		begin = *start
	}
	if end != nil {
		stop = *end
	}
	if stop.Before(begin) {
		return nil, apperr.InvalidArgument("End date must not be before start date")
	}

	if _, err := s.getCalendar(ctx, calID); err != nil {
		return nil, err
	}

	f := provider.Where(
		provider.Eq(provider.ColCalendarID, calID),
		provider.Ne(provider.ColDeleted, int64(1)),
	)
	if len(ids) > 0 {
		f = append(f, provider.In(provider.ColEventID, ids...))
	}
	rows, err := s.p.Instances(ctx, begin, stop, eventProjection, f, provider.Desc(provider.ColInstanceBegin))
	if err != nil {
		return nil, fail("queryEvents", err)
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
			rule, err := recurrence.Decode(ruleText)
			if err != nil {
				appLog.Warn("calendar: ignoring unreadable recurrence rule", "event_id", ev.ID, "rrule", ruleText, "err", err)
			} else {
				ev.RecurrenceRule = rule
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("queryEvents", err)
	}

	if err := s.enrich(ctx, events); err != nil {
		return nil, fail("queryEvents", err)
	}
	return events, nil
}

type eventDetails struct {
	attendees []model.Attendee
	reminders []model.Reminder
}

// enrich loads attendees and reminders, with at most s.fanout events in
// flight. Occurrences of one event share a single lookup.
func (s *Store) enrich(ctx context.Context, events []model.Event) error {
	byID := make(map[string][]int)
	for i := range events {
		byID[events[i].ID] = append(byID[events[i].ID], i)
	}

	var mu sync.Mutex
	details := make(map[string]eventDetails, len(byID))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanout)
	for id := range byID {
		g.Go(func() error {
			eventID, err := parseID("Event", id)
			if err != nil {
				return err
			}
			attendees, err := s.reconciler.Attendees(gctx, eventID)
			if err != nil {
				return err
			}
			reminders, err := s.reconciler.Reminders(gctx, eventID)
			if err != nil {
				return err
			}
			mu.Lock()
			details[id] = eventDetails{attendees: attendees, reminders: reminders}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for id, idx := range byID {
		d := details[id]
		for _, i := range idx {
			events[i].Attendees = slices.Clone(d.attendees)
			events[i].Reminders = slices.Clone(d.reminders)
			events[i].Organizer = model.FindOrganizer(events[i].Attendees)
		}
	}
	return nil
}

// UpsertEvent inserts ev when it has no id and updates it otherwise. It
// returns the event id. On update, attendees are reconciled and reminders
// replaced after the event record is written; the sequence is not atomic.
func (s *Store) UpsertEvent(ctx context.Context, calendarID string, ev *model.Event) (string, error) {
	calID, err := parseID("Calendar", calendarID)
	if err != nil {
		return "", err
	}
	if err := validateEvent(ev); err != nil {
		return "", err
	}
	var eventID int64
	if ev.ID != "" {
		if eventID, err = parseID("Event", ev.ID); err != nil {
			return "", err
		}
	}
	values, err := s.encodeEvent(calID, ev)
	if err != nil {
		return "", err
	}

	if _, err := s.writableCalendar(ctx, calID); err != nil {
		return "", err
	}

	if ev.ID == "" {
		eventID, err = s.p.Insert(ctx, provider.Events, values)
		if err != nil {
			return "", fail("upsertEvent", err)
		}
		appLog.Debug("calendar: event inserted", "event_id", eventID, "calendar_id", calID)
	} else {
		n, err := s.p.Update(ctx, provider.Events, provider.Where(
			provider.Eq(provider.ColID, eventID),
			provider.Eq(provider.ColCalendarID, calID),
		), values)
		if err != nil {
			return "", fail("upsertEvent", err)
		}
		if n == 0 {
			return "", eventNotFound(ev.ID)
		}
	}

	diff, err := s.reconciler.ReconcileAttendees(ctx, eventID, ev.Attendees)
	if err != nil {
		return "", fail("upsertEvent", err)
	}
	if !diff.Empty() {
		appLog.Debug("calendar: attendees reconciled", "event_id", eventID,
			"deleted", len(diff.Delete), "inserted", len(diff.Insert))
	}
	if err := s.reconciler.ReplaceReminders(ctx, eventID, ev.Reminders); err != nil {
		return "", fail("upsertEvent", err)
	}
	return formatID(eventID), nil
}

func validateEvent(ev *model.Event) error {
	if ev == nil {
		return apperr.InvalidArgument("Event is required")
	}
	if ev.Start.IsZero() {
		return apperr.InvalidArgument("Event start date is required")
	}
	if !ev.AllDay && !ev.End.IsZero() && ev.End.Before(ev.Start) {
		return apperr.InvalidArgument("Event end date must not be before its start date")
	}
	if err := recurrence.Validate(ev.RecurrenceRule); err != nil {
		return apperr.InvalidArgument("%v", err)
	}
	for i, a := range ev.Attendees {
		if strings.TrimSpace(a.EmailAddress) == "" {
			return apperr.InvalidArgument("Attendee %d has no email address", i)
		}
		if containsEmail(ev.Attendees[:i], a) {
			return apperr.InvalidArgument("Attendee %s is listed twice", a.EmailAddress)
		}
	}
	for _, r := range ev.Reminders {
		if r.Minutes < 0 {
			return apperr.InvalidArgument("Reminder minutes must not be negative")
		}
	}
	return nil
}

// encodeEvent builds the event record. All-day events are stored at UTC
// midnight of their start date, ending at the following midnight at the
// earliest, whatever zone the caller supplied.
func (s *Store) encodeEvent(calID int64, ev *model.Event) (provider.Values, error) {
	startLoc := provider.LoadLocation(ev.StartTimeZone, s.loc)
	endLoc := provider.LoadLocation(ev.EndTimeZone, startLoc)

	start, end := ev.Start, ev.End
	if ev.AllDay {
		startLoc, endLoc = time.UTC, time.UTC
		start = utcDate(ev.Start, provider.LoadLocation(ev.StartTimeZone, s.loc))
		if !end.IsZero() {
			end = utcDate(ev.End, provider.LoadLocation(ev.EndTimeZone, s.loc))
		}
		if !end.After(start) {
			end = start.AddDate(0, 0, 1)
		}
	} else if end.IsZero() {
		end = start
	}

	var rule any
	if ev.RecurrenceRule != nil {
		text, err := recurrence.Encode(ev.RecurrenceRule)
		if err != nil {
			return nil, apperr.InvalidArgument("%v", err)
		}
		rule = text
	}

	return provider.Values{
		provider.ColCalendarID:       calID,
		provider.ColTitle:            ev.Title,
		provider.ColDescription:      ev.Description,
		provider.ColLocation:         ev.Location,
		provider.ColCustomAppURI:     ev.URL,
		provider.ColDTStart:          provider.Millis(start),
		provider.ColDTEnd:            provider.Millis(end),
		provider.ColEventTimeZone:    startLoc.String(),
		provider.ColEventEndTimeZone: endLoc.String(),
		provider.ColAllDay:           provider.Flag(ev.AllDay),
		provider.ColAvailability:     encodeAvailability(ev.Availability),
		provider.ColRRule:            rule,
	}, nil
}

// utcDate returns UTC midnight of t's calendar date in loc.
func utcDate(t time.Time, loc *time.Location) time.Time {
	d := t.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}
