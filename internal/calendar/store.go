// Package calendar implements calendar and event operations on top of a
// provider.Provider. Every call re-reads from the provider; nothing is cached.
//
// Errors returned by exported methods carry an apperr code. Validation
// failures are reported before any provider I/O.
package calendar

import (
	"context"
	"strconv"
	"strings"
	"time"

	"devicecal/internal/apperr"
	appLog "devicecal/internal/log"
	"devicecal/internal/model"
	"devicecal/internal/provider"
)

const defaultFanout = 4

// Store is the calendar store facade.
type Store struct {
	p          provider.Provider
	loc        *time.Location
	color      uint32
	fanout     int
	reconciler *Reconciler
	deleter    *deletionEngine
}

type Option func(*Store)

// WithLocation sets the device time zone used for events with a missing or
// unknown zone and for new calendars.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithDefaultColor sets the color of calendars created without one.
func WithDefaultColor(color uint32) Option {
	return func(s *Store) { s.color = color }
}

// WithFanout bounds how many events are enriched concurrently by QueryEvents.
func WithFanout(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.fanout = n
		}
	}
}

func New(p provider.Provider, opts ...Option) *Store {
	s := &Store{
		p:          p,
		loc:        time.Local,
		color:      model.DefaultCalendarColor,
		fanout:     defaultFanout,
		reconciler: NewReconciler(p),
		deleter:    newDeletionEngine(p),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// parseID converts a caller supplied id into the provider's native id.
func parseID(kind, id string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return 0, apperr.InvalidArgument("%s ID %q is not a number", kind, id)
	}
	return n, nil
}

// fail logs a provider failure and converts it to the error taxonomy.
func fail(op string, err error) error {
	if apperr.CodeOf(err) == apperr.CodeGeneric {
		appLog.Error("calendar: provider failure", err, "op", op)
	}
	return apperr.Wrap(err)
}

func calendarNotFound(id string) error {
	return apperr.NotFound("The calendar with the ID %s could not be found", id)
}

func eventNotFound(id string) error {
	return apperr.NotFound("The event with the ID %s could not be found", id)
}

// ListCalendars returns every calendar. Records that cannot be decoded are
// skipped.
func (s *Store) ListCalendars(ctx context.Context) ([]model.Calendar, error) {
	rows, err := s.p.Query(ctx, provider.Calendars, calendarProjection, nil, provider.Asc(provider.ColID))
	if err != nil {
		return nil, fail("listCalendars", err)
	}
	defer rows.Close()

	calendars := make([]model.Calendar, 0)
	for rows.Next() {
		cal, err := decodeCalendar(rows.Row())
		if err != nil {
			appLog.Warn("calendar: skipping unreadable calendar record", "err", err)
			continue
		}
		calendars = append(calendars, cal)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("listCalendars", err)
	}
	return calendars, nil
}

// GetCalendar returns the calendar with the given id.
func (s *Store) GetCalendar(ctx context.Context, id string) (*model.Calendar, error) {
	calID, err := parseID("Calendar", id)
	if err != nil {
		return nil, err
	}
	return s.getCalendar(ctx, calID)
}

func (s *Store) getCalendar(ctx context.Context, id int64) (*model.Calendar, error) {
	rows, err := s.p.Query(ctx, provider.Calendars, calendarProjection, provider.ByID(id))
	if err != nil {
		return nil, fail("getCalendar", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fail("getCalendar", err)
		}
		return nil, calendarNotFound(formatID(id))
	}
	cal, err := decodeCalendar(rows.Row())
	if err != nil {
		return nil, fail("getCalendar", err)
	}
	return &cal, nil
}

// writableCalendar returns the calendar if it exists and accepts event writes.
func (s *Store) writableCalendar(ctx context.Context, id int64) (*model.Calendar, error) {
	cal, err := s.getCalendar(ctx, id)
	if err != nil {
		return nil, err
	}
	if cal.IsReadOnly {
		return nil, apperr.NotAllowed("Calendar with ID %s is read-only", cal.ID)
	}
	return cal, nil
}

// DeleteCalendar removes the calendar and, through the provider, its events.
func (s *Store) DeleteCalendar(ctx context.Context, id string) (bool, error) {
	calID, err := parseID("Calendar", id)
	if err != nil {
		return false, err
	}
	if _, err := s.getCalendar(ctx, calID); err != nil {
		return false, err
	}
	n, err := s.p.Delete(ctx, provider.Calendars, provider.ByID(calID))
	if err != nil {
		return false, fail("deleteCalendar", err)
	}
	return n > 0, nil
}

// CreateCalendar inserts a local calendar owned by accountName. A nil color
// selects the configured default.
func (s *Store) CreateCalendar(ctx context.Context, name string, color *uint32, accountName string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", apperr.InvalidArgument("Calendar name is required")
	}
	if strings.TrimSpace(accountName) == "" {
		return "", apperr.InvalidArgument("Account name is required")
	}
	c := s.color
	if color != nil {
		c = *color
	}

	id, err := s.p.Insert(ctx, provider.Calendars, encodeCalendar(name, c, accountName, s.loc.String()))
	if err != nil {
		return "", fail("createCalendar", err)
	}
	appLog.Debug("calendar: created", "id", id, "name", name)
	return formatID(id), nil
}

// UpdateCalendar sets the calendar's visibility.
func (s *Store) UpdateCalendar(ctx context.Context, id string, visible bool) (bool, error) {
	calID, err := parseID("Calendar", id)
	if err != nil {
		return false, err
	}
	cal, err := s.getCalendar(ctx, calID)
	if err != nil {
		return false, err
	}

	n, err := s.p.Update(ctx, provider.Calendars, provider.ByID(calID), provider.Values{
		provider.ColCalendarName: cal.Name,
		provider.ColAccountName:  cal.AccountName,
		provider.ColAccountType:  cal.AccountType,
		provider.ColOwnerAccount: cal.AccountName,
		provider.ColVisible:      provider.Flag(visible),
	})
	if err != nil {
		return false, fail("updateCalendar", err)
	}
	return n > 0, nil
}
