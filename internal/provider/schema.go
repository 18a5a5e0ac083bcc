package provider

// Common columns.
const (
	ColID = "_id"
)

// Calendar columns.
const (
	ColCalendarName        = "name"
	ColCalendarDisplayName = "display_name"
	ColCalendarColor       = "color"
	ColAccountName         = "account_name"
	ColAccountType         = "account_type"
	ColAccessLevel         = "access_level"
	ColOwnerAccount        = "owner_account"
	ColCalendarTimeZone    = "calendar_timezone"
	ColSyncEvents          = "sync_events"
	ColVisible             = "visible"
	ColIsPrimary           = "is_primary"
)

// Event columns. Exceptions share these.
const (
	ColCalendarID           = "calendar_id"
	ColTitle                = "title"
	ColDescription          = "description"
	ColLocation             = "event_location"
	ColCustomAppURI         = "custom_app_uri"
	ColDTStart              = "dtstart"
	ColDTEnd                = "dtend"
	ColEventTimeZone        = "event_timezone"
	ColEventEndTimeZone     = "event_end_timezone"
	ColAllDay               = "all_day"
	ColAvailability         = "availability"
	ColRRule                = "rrule"
	ColDeleted              = "deleted"
	ColStatus               = "status"
	ColOriginalID           = "original_id"
	ColOriginalInstanceTime = "original_instance_time"
)

// Instance columns, present only on Instances results.
const (
	ColEventID       = "event_id"
	ColInstanceBegin = "instance_begin"
	ColInstanceEnd   = "instance_end"
	ColLastDate      = "last_date"
)

// Attendee columns. ColEventID links the attendee to its event.
const (
	ColAttendeeName         = "attendee_name"
	ColAttendeeEmail        = "attendee_email"
	ColAttendeeRelationship = "attendee_relationship"
	ColAttendeeType         = "attendee_type"
	ColAttendeeStatus       = "attendee_status"
)

// Reminder columns. ColEventID links the reminder to its event.
const (
	ColMinutes = "minutes"
	ColMethod  = "method"
)

// AccountTypeLocal marks calendars that are not synchronized with a server.
const AccountTypeLocal = "LOCAL"

// Calendar access levels.
const (
	AccessNone        int64 = 0
	AccessFreeBusy    int64 = 100
	AccessRead        int64 = 200
	AccessRespond     int64 = 300
	AccessOverride    int64 = 400
	AccessContributor int64 = 500
	AccessEditor      int64 = 600
	AccessOwner       int64 = 700
	AccessRoot        int64 = 800
)

// Event availability.
const (
	AvailabilityBusy      int64 = 0
	AvailabilityFree      int64 = 1
	AvailabilityTentative int64 = 2
)

// Event status.
const (
	StatusTentative int64 = 0
	StatusConfirmed int64 = 1
	StatusCanceled  int64 = 2
)

// Attendee relationship.
const (
	RelationshipNone      int64 = 0
	RelationshipAttendee  int64 = 1
	RelationshipOrganizer int64 = 2
	RelationshipPerformer int64 = 3
	RelationshipSpeaker   int64 = 4
)

// Reminder methods.
const (
	MethodDefault int64 = 0
	MethodAlert   int64 = 1
)

// TableColumns lists every stored column per collection. Implementations use
// it to reject unknown identifiers.
var TableColumns = map[Collection][]string{
	Calendars: {
		ColID, ColCalendarName, ColCalendarDisplayName, ColCalendarColor, ColAccountName,
		ColAccountType, ColAccessLevel, ColOwnerAccount, ColCalendarTimeZone, ColSyncEvents,
		ColVisible, ColIsPrimary,
	},
	Events: eventColumns,
	// Exceptions are stored as events.
	Exceptions: eventColumns,
	Attendees: {
		ColID, ColEventID, ColAttendeeName, ColAttendeeEmail, ColAttendeeRelationship,
		ColAttendeeType, ColAttendeeStatus,
	},
	Reminders: {ColID, ColEventID, ColMinutes, ColMethod},
}

var eventColumns = []string{
	ColID, ColCalendarID, ColTitle, ColDescription, ColLocation, ColCustomAppURI,
	ColDTStart, ColDTEnd, ColEventTimeZone, ColEventEndTimeZone, ColAllDay,
	ColAvailability, ColRRule, ColDeleted, ColStatus, ColOriginalID, ColOriginalInstanceTime,
}

// InstanceColumns are the columns available to Instances queries: every event
// column plus the per-occurrence ones.
var InstanceColumns = append(append([]string{}, eventColumns...),
	ColEventID, ColInstanceBegin, ColInstanceEnd, ColLastDate)

// Scope returns the implicit condition that separates events from exceptions
// sharing one table. Other collections have none.
func Scope(c Collection) Filter {
	switch c {
	case Events:
		return Filter{Eq(ColOriginalID, nil)}
	case Exceptions:
		return Filter{Ne(ColOriginalID, nil)}
	}
	return nil
}
