package model

import "time"

// DefaultEventTitle is reported for stored events that carry no title.
const DefaultEventTitle = "New Event"

// DefaultCalendarColor is used when a calendar is created without a color (opaque red).
const DefaultCalendarColor uint32 = 0xFFFF0000

// Calendar is a calendar record as read from the device store.
type Calendar struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Color       uint32 `json:"color"` // ARGB
	AccountName string `json:"accountName"`
	AccountType string `json:"accountType"`
	IsReadOnly  bool   `json:"isReadOnly"`
	IsDefault   bool   `json:"isDefault"`
}

type Availability string

const (
	AvailabilityUnknown   Availability = ""
	AvailabilityBusy      Availability = "BUSY"
	AvailabilityFree      Availability = "FREE"
	AvailabilityTentative Availability = "TENTATIVE"
)

// Event is a logical calendar event. ID is empty until the event has been
// inserted. For events returned by a query, Start/End are the bounds of the
// occurrence that matched the query window.
type Event struct {
	ID          string `json:"eventId,omitempty"`
	CalendarID  string `json:"calendarId"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	URL         string `json:"url,omitempty"`

	// Zero values mean "absent".
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	StartTimeZone string `json:"startTimeZone,omitempty"`
	EndTimeZone   string `json:"endTimeZone,omitempty"`
	AllDay        bool   `json:"allDay"`

	Availability   Availability    `json:"availability,omitempty"`
	RecurrenceRule *RecurrenceRule `json:"recurrenceRule,omitempty"`
	Attendees      []Attendee      `json:"attendees,omitempty"`
	Reminders      []Reminder      `json:"reminders,omitempty"`

	// Organizer is derived from Attendees on read.
	Organizer *Attendee `json:"organizer,omitempty"`
}

type AttendeeRole int

const (
	RoleNone AttendeeRole = iota
	RoleRequired
	RoleOptional
	RoleResource
)

type AttendeeStatus int

const (
	StatusNone AttendeeStatus = iota
	StatusAccepted
	StatusDeclined
	StatusInvited
	StatusTentative
)

// Attendee is identified within an event by its email address.
type Attendee struct {
	EmailAddress string         `json:"emailAddress"`
	Name         string         `json:"name,omitempty"`
	Role         AttendeeRole   `json:"role"`
	Status       AttendeeStatus `json:"status"`
	IsOrganizer  bool           `json:"isOrganiser"`
}

// Reminder fires Minutes before the event start.
type Reminder struct {
	Minutes int `json:"minutes"`
}

// FindOrganizer returns the first attendee flagged as organizer, or nil.
func FindOrganizer(attendees []Attendee) *Attendee {
	for i := range attendees {
		if attendees[i].IsOrganizer {
			a := attendees[i]
			return &a
		}
	}
	return nil
}
