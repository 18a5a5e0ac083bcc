package calendar

import (
	"strconv"
	"strings"
	"time"

	"devicecal/internal/model"
	"devicecal/internal/provider"
)

// Projections and their column indexes. Decoders read by index, so the order
// of each projection must match its constants.

var calendarProjection = []string{
	provider.ColID,
	provider.ColCalendarName,
	provider.ColCalendarColor,
	provider.ColAccountName,
	provider.ColAccountType,
	provider.ColAccessLevel,
	provider.ColIsPrimary,
}

const (
	calendarIDIndex = iota
	calendarNameIndex
	calendarColorIndex
	calendarAccountNameIndex
	calendarAccountTypeIndex
	calendarAccessLevelIndex
	calendarIsPrimaryIndex
)

var eventProjection = []string{
	provider.ColEventID,
	provider.ColTitle,
	provider.ColDescription,
	provider.ColInstanceBegin,
	provider.ColInstanceEnd,
	provider.ColRRule,
	provider.ColAllDay,
	provider.ColLocation,
	provider.ColCustomAppURI,
	provider.ColEventTimeZone,
	provider.ColEventEndTimeZone,
	provider.ColAvailability,
}

const (
	eventIDIndex = iota
	eventTitleIndex
	eventDescriptionIndex
	eventBeginIndex
	eventEndIndex
	eventRRuleIndex
	eventAllDayIndex
	eventLocationIndex
	eventURLIndex
	eventStartTimeZoneIndex
	eventEndTimeZoneIndex
	eventAvailabilityIndex
)

// seriesProjection reads stored event records with the layout of
// eventProjection, so decodeEvent serves both.
var seriesProjection = []string{
	provider.ColID,
	provider.ColTitle,
	provider.ColDescription,
	provider.ColDTStart,
	provider.ColDTEnd,
	provider.ColRRule,
	provider.ColAllDay,
	provider.ColLocation,
	provider.ColCustomAppURI,
	provider.ColEventTimeZone,
	provider.ColEventEndTimeZone,
	provider.ColAvailability,
}

var exceptionProjection = []string{
	provider.ColOriginalID,
	provider.ColOriginalInstanceTime,
}

const (
	exceptionOriginalIDIndex = iota
	exceptionInstanceTimeIndex
)

// masterProjection reads the stored event record itself rather than one of
// its occurrences.
var masterProjection = []string{
	provider.ColID,
	provider.ColCalendarID,
	provider.ColDTStart,
	provider.ColRRule,
}

const (
	masterIDIndex = iota
	masterCalendarIDIndex
	masterStartIndex
	masterRRuleIndex
)

var instanceProjection = []string{
	provider.ColEventID,
	provider.ColInstanceBegin,
	provider.ColInstanceEnd,
	provider.ColRRule,
	provider.ColLastDate,
}

const (
	instanceEventIDIndex = iota
	instanceBeginIndex
	instanceEndIndex
	instanceRRuleIndex
	instanceLastDateIndex
)

var attendeeProjection = []string{
	provider.ColEventID,
	provider.ColAttendeeEmail,
	provider.ColAttendeeName,
	provider.ColAttendeeType,
	provider.ColAttendeeStatus,
	provider.ColAttendeeRelationship,
}

const (
	attendeeEventIDIndex = iota
	attendeeEmailIndex
	attendeeNameIndex
	attendeeTypeIndex
	attendeeStatusIndex
	attendeeRelationshipIndex
)

var reminderProjection = []string{
	provider.ColEventID,
	provider.ColMinutes,
}

const (
	reminderEventIDIndex = iota
	reminderMinutesIndex
)

// scanner reads typed columns from a row and keeps the first error.
type scanner struct {
	row provider.Row
	err error
}

func (s *scanner) int64(i int) int64 {
	if s.err != nil {
		return 0
	}
	v, err := s.row.Int64(i)
	s.err = err
	return v
}

func (s *scanner) string(i int) string {
	if s.err != nil {
		return ""
	}
	v, err := s.row.String(i)
	s.err = err
	return v
}

func (s *scanner) time(i int) time.Time {
	if s.err != nil {
		return time.Time{}
	}
	v, err := s.row.Time(i)
	s.err = err
	return v
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func isReadOnly(accessLevel int64) bool {
	switch accessLevel {
	case provider.AccessContributor, provider.AccessEditor, provider.AccessOwner, provider.AccessRoot:
		return false
	}
	return true
}

func decodeCalendar(row provider.Row) (model.Calendar, error) {
	sc := scanner{row: row}
	cal := model.Calendar{
		ID:          formatID(sc.int64(calendarIDIndex)),
		Name:        sc.string(calendarNameIndex),
		Color:       uint32(sc.int64(calendarColorIndex)),
		AccountName: sc.string(calendarAccountNameIndex),
		AccountType: sc.string(calendarAccountTypeIndex),
		IsReadOnly:  isReadOnly(sc.int64(calendarAccessLevelIndex)),
		IsDefault:   sc.int64(calendarIsPrimaryIndex) == 1,
	}
	return cal, sc.err
}

// encodeCalendar builds the record for a local calendar owned by accountName.
func encodeCalendar(name string, color uint32, accountName string, timeZone string) provider.Values {
	return provider.Values{
		provider.ColCalendarName:        name,
		provider.ColCalendarDisplayName: name,
		provider.ColCalendarColor:       int64(color),
		provider.ColAccountName:         accountName,
		provider.ColAccountType:         provider.AccountTypeLocal,
		provider.ColAccessLevel:         provider.AccessOwner,
		provider.ColOwnerAccount:        accountName,
		provider.ColCalendarTimeZone:    timeZone,
		provider.ColSyncEvents:          int64(1),
		provider.ColVisible:             int64(1),
	}
}

// decodeEvent reads an occurrence row. Start and End are the occurrence's
// bounds. The recurrence rule is left as raw text for the caller.
func decodeEvent(row provider.Row, calendarID string) (model.Event, string, error) {
	sc := scanner{row: row}
	ev := model.Event{
		ID:            formatID(sc.int64(eventIDIndex)),
		CalendarID:    calendarID,
		Title:         sc.string(eventTitleIndex),
		Description:   sc.string(eventDescriptionIndex),
		Start:         sc.time(eventBeginIndex),
		End:           sc.time(eventEndIndex),
		AllDay:        sc.int64(eventAllDayIndex) == 1,
		Location:      sc.string(eventLocationIndex),
		URL:           sc.string(eventURLIndex),
		StartTimeZone: sc.string(eventStartTimeZoneIndex),
		EndTimeZone:   sc.string(eventEndTimeZoneIndex),
	}
	rule := sc.string(eventRRuleIndex)
	if row.IsNull(eventTitleIndex) {
		ev.Title = model.DefaultEventTitle
	}
	if !row.IsNull(eventAvailabilityIndex) {
		ev.Availability = decodeAvailability(sc.int64(eventAvailabilityIndex))
	}
	return ev, rule, sc.err
}

func decodeAvailability(v int64) model.Availability {
	switch v {
	case provider.AvailabilityBusy:
		return model.AvailabilityBusy
	case provider.AvailabilityFree:
		return model.AvailabilityFree
	case provider.AvailabilityTentative:
		return model.AvailabilityTentative
	}
	return model.AvailabilityUnknown
}

// encodeAvailability returns nil for unknown availability so the store keeps
// its default.
func encodeAvailability(a model.Availability) any {
	switch model.Availability(strings.ToUpper(string(a))) {
	case model.AvailabilityBusy:
		return provider.AvailabilityBusy
	case model.AvailabilityFree:
		return provider.AvailabilityFree
	case model.AvailabilityTentative:
		return provider.AvailabilityTentative
	}
	return nil
}

type master struct {
	id         int64
	calendarID int64
	start      time.Time
	rule       string
}

func decodeMaster(row provider.Row) (master, error) {
	sc := scanner{row: row}
	m := master{
		id:         sc.int64(masterIDIndex),
		calendarID: sc.int64(masterCalendarIDIndex),
		start:      sc.time(masterStartIndex),
		rule:       sc.string(masterRRuleIndex),
	}
	return m, sc.err
}

type instance struct {
	eventID  int64
	begin    time.Time
	end      time.Time
	rule     string
	lastDate int64
}

func decodeInstance(row provider.Row) (instance, error) {
	sc := scanner{row: row}
	in := instance{
		eventID:  sc.int64(instanceEventIDIndex),
		begin:    sc.time(instanceBeginIndex),
		end:      sc.time(instanceEndIndex),
		rule:     sc.string(instanceRRuleIndex),
		lastDate: sc.int64(instanceLastDateIndex),
	}
	return in, sc.err
}

func decodeAttendee(row provider.Row) (int64, model.Attendee, error) {
	sc := scanner{row: row}
	eventID := sc.int64(attendeeEventIDIndex)
	a := model.Attendee{
		EmailAddress: sc.string(attendeeEmailIndex),
		Name:         sc.string(attendeeNameIndex),
		Role:         model.AttendeeRole(sc.int64(attendeeTypeIndex)),
		Status:       model.AttendeeStatus(sc.int64(attendeeStatusIndex)),
		IsOrganizer:  sc.int64(attendeeRelationshipIndex) == provider.RelationshipOrganizer,
	}
	return eventID, a, sc.err
}

// encodeAttendee defaults an unset status to invited.
func encodeAttendee(eventID int64, a model.Attendee) provider.Values {
	status := a.Status
	if status == model.StatusNone {
		status = model.StatusInvited
	}
	relationship := provider.RelationshipAttendee
	if a.IsOrganizer {
		relationship = provider.RelationshipOrganizer
	}
	return provider.Values{
		provider.ColEventID:              eventID,
		provider.ColAttendeeEmail:        a.EmailAddress,
		provider.ColAttendeeName:         a.Name,
		provider.ColAttendeeType:         int64(a.Role),
		provider.ColAttendeeStatus:       int64(status),
		provider.ColAttendeeRelationship: relationship,
	}
}

func decodeReminder(row provider.Row) (int64, model.Reminder, error) {
	sc := scanner{row: row}
	eventID := sc.int64(reminderEventIDIndex)
	r := model.Reminder{Minutes: int(sc.int64(reminderMinutesIndex))}
	return eventID, r, sc.err
}

func encodeReminder(eventID int64, r model.Reminder) provider.Values {
	return provider.Values{
		provider.ColEventID: eventID,
		provider.ColMinutes: int64(r.Minutes),
		provider.ColMethod:  provider.MethodAlert,
	}
}
