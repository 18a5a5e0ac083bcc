package ics

import (
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"devicecal/internal/calendar"
	appLog "devicecal/internal/log"
	"devicecal/internal/model"
	"devicecal/internal/recurrence"
)

const productID = "-//devicecal//Device Calendar Export//EN"

// UID returns a stable iCalendar UID for an event of a calendar.
func UID(calendarID, eventID string) string {
	name := "devicecal:calendar/" + calendarID + "/event/" + eventID
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String() + "@devicecal"
}

// Export renders cal and its events as an iCalendar document. stamp is
// written as DTSTAMP.
func Export(cal model.Calendar, series []calendar.Series, stamp time.Time) string {
	out := ical.NewCalendar()
	out.SetProductId(productID)
	out.SetXWRCalName(cal.Name)

	for _, s := range series {
		ev := s.Event
		e := out.AddEvent(UID(cal.ID, ev.ID))
		e.SetDtStampTime(stamp.UTC())
		e.SetSummary(ev.Title)
		if ev.Description != "" {
			e.SetDescription(ev.Description)
		}
		if ev.Location != "" {
			e.SetLocation(ev.Location)
		}
		if ev.URL != "" {
			e.SetURL(ev.URL)
		}

		if ev.AllDay {
			e.SetAllDayStartAt(ev.Start.UTC())
			e.SetAllDayEndAt(ev.End.UTC())
		} else {
			e.SetStartAt(ev.Start.UTC())
			e.SetEndAt(ev.End.UTC())
		}

		switch ev.Availability {
		case model.AvailabilityFree:
			e.SetProperty(ical.ComponentPropertyTransp, "TRANSPARENT")
		case model.AvailabilityBusy:
			e.SetProperty(ical.ComponentPropertyTransp, "OPAQUE")
		case model.AvailabilityTentative:
			e.SetProperty(ical.ComponentPropertyStatus, "TENTATIVE")
		}

		if ev.RecurrenceRule != nil {
			text, err := recurrence.Encode(ev.RecurrenceRule)
			if err != nil {
				appLog.Warn("ics: exporting event without its rule", "event_id", ev.ID, "err", err)
			} else {
				e.AddRrule(strings.TrimPrefix(text, "RRULE:"))
				for _, t := range s.Canceled {
					e.AddExdate(t.UTC().Format("20060102T150405Z"))
				}
			}
		}

		for _, a := range ev.Attendees {
			if a.IsOrganizer {
				e.SetOrganizer("mailto:"+a.EmailAddress, ical.WithCN(a.Name))
			}
			e.AddAttendee(a.EmailAddress, attendeeParams(a)...)
		}

		for _, r := range ev.Reminders {
			alarm := e.AddAlarm()
			alarm.SetAction(ical.ActionDisplay)
			alarm.SetTrigger(fmt.Sprintf("-PT%dM", r.Minutes))
			alarm.SetProperty(ical.ComponentPropertyDescription, ev.Title)
		}
	}
	return out.Serialize()
}

func attendeeParams(a model.Attendee) []ical.PropertyParameter {
	params := make([]ical.PropertyParameter, 0, 4)
	if a.Name != "" {
		params = append(params, ical.WithCN(a.Name))
	}
	switch a.Role {
	case model.RoleRequired:
		params = append(params, ical.ParticipationRoleReqParticipant)
	case model.RoleOptional:
		params = append(params, ical.ParticipationRoleOptParticipant)
	case model.RoleResource:
		params = append(params, ical.CalendarUserTypeResource)
	default:
		params = append(params, ical.ParticipationRoleNonParticipant)
	}
	switch a.Status {
	case model.StatusAccepted:
		params = append(params, ical.ParticipationStatusAccepted)
	case model.StatusDeclined:
		params = append(params, ical.ParticipationStatusDeclined)
	case model.StatusTentative:
		params = append(params, ical.ParticipationStatusTentative)
	default:
		params = append(params, ical.ParticipationStatusNeedsAction)
	}
	return params
}
