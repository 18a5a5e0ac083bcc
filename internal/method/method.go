// Package method defines the operations callers can invoke, with their typed
// arguments, and the reply contract every invocation completes.
package method

import (
	"time"

	"devicecal/internal/model"
)

type Kind string

const (
	KindListCalendars      Kind = "listCalendars"
	KindGetCalendar        Kind = "getCalendar"
	KindCreateCalendar     Kind = "createCalendar"
	KindUpdateCalendar     Kind = "updateCalendar"
	KindDeleteCalendar     Kind = "deleteCalendar"
	KindQueryEvents        Kind = "queryEvents"
	KindUpsertEvent        Kind = "upsertEvent"
	KindDeleteEvent        Kind = "deleteEvent"
	KindHasPermissions     Kind = "hasPermissions"
	KindRequestPermissions Kind = "requestPermissions"
)

// retrieveEvents is the historical name of queryEvents.
const kindRetrieveEvents Kind = "retrieveEvents"

// Operation is one call with its captured arguments. The set of
// implementations is closed.
type Operation interface {
	Kind() Kind
	operation()
}

type ListCalendars struct{}

type GetCalendar struct {
	CalendarID string
}

type CreateCalendar struct {
	Name        string
	Color       *uint32
	AccountName string
}

type UpdateCalendar struct {
	CalendarID string
	Visible    bool
}

type DeleteCalendar struct {
	CalendarID string
}

// QueryEvents needs a date range, a non-empty EventIDs, or both.
type QueryEvents struct {
	CalendarID string
	Start      *time.Time
	End        *time.Time
	EventIDs   []string
}

type UpsertEvent struct {
	CalendarID string
	Event      *model.Event
}

// DeleteEvent removes the whole event unless Start, End or
// FollowingInstances selects an instance scope.
type DeleteEvent struct {
	CalendarID         string
	EventID            string
	Start              *time.Time
	End                *time.Time
	FollowingInstances *bool
}

type HasPermissions struct{}

type RequestPermissions struct{}

func (ListCalendars) Kind() Kind      { return KindListCalendars }
func (GetCalendar) Kind() Kind        { return KindGetCalendar }
func (CreateCalendar) Kind() Kind     { return KindCreateCalendar }
func (UpdateCalendar) Kind() Kind     { return KindUpdateCalendar }
func (DeleteCalendar) Kind() Kind     { return KindDeleteCalendar }
func (QueryEvents) Kind() Kind        { return KindQueryEvents }
func (UpsertEvent) Kind() Kind        { return KindUpsertEvent }
func (DeleteEvent) Kind() Kind        { return KindDeleteEvent }
func (HasPermissions) Kind() Kind     { return KindHasPermissions }
func (RequestPermissions) Kind() Kind { return KindRequestPermissions }

func (ListCalendars) operation()      {}
func (GetCalendar) operation()        {}
func (CreateCalendar) operation()     {}
func (UpdateCalendar) operation()     {}
func (DeleteCalendar) operation()     {}
func (QueryEvents) operation()        {}
func (UpsertEvent) operation()        {}
func (DeleteEvent) operation()        {}
func (HasPermissions) operation()     {}
func (RequestPermissions) operation() {}
