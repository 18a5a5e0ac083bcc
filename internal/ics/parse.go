package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "devicecal/internal/log"
	"devicecal/internal/model"
	"devicecal/internal/recurrence"
)

// Imported is one VEVENT read from an iCalendar payload.
type Imported struct {
	UID     string
	Event   model.Event
	ExDates []time.Time
}

// Import parses body into events ready for upsert. Times without a zone are
// read in loc. Overrides of single occurrences (RECURRENCE-ID) and events
// whose rule cannot be represented are logged and skipped.
func Import(body []byte, loc *time.Location) ([]Imported, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse ICS: %w", err)
	}

	out := make([]Imported, 0)
	for _, ve := range cal.Events() {
		if ve.GetProperty("RECURRENCE-ID") != nil {
			appLog.Debug("ics: skipping occurrence override", "uid", propValue(ve, ical.ComponentPropertyUniqueId))
			continue
		}
		im, err := parseVEvent(ve, loc)
		if err != nil {
			appLog.Warn("ics: skipping event", "uid", propValue(ve, ical.ComponentPropertyUniqueId), "err", err)
			continue
		}
		out = append(out, im)
	}
	appLog.Info("ics: import parsed", "event_count", len(out))
	return out, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (Imported, error) {
	var im Imported
	im.UID = propValue(ve, ical.ComponentPropertyUniqueId)

	ev := &im.Event
	ev.Title = propValue(ve, ical.ComponentPropertySummary)
	ev.Description = propValue(ve, ical.ComponentPropertyDescription)
	ev.Location = propValue(ve, ical.ComponentPropertyLocation)
	ev.URL = propValue(ve, ical.ComponentPropertyUrl)

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || dtStart.Value == "" {
		return im, errors.New("missing DTSTART")
	}
	ev.AllDay = isDate(dtStart)
	ev.StartTimeZone = zoneOf(dtStart)

	start, err := eventTime(dtStart, ev.AllDay, loc, ve.GetStartAt)
	if err != nil {
		return im, fmt.Errorf("DTSTART: %w", err)
	}
	ev.Start = start

	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil && dtEnd.Value != "" {
		ev.EndTimeZone = zoneOf(dtEnd)
		if ev.End, err = eventTime(dtEnd, ev.AllDay, loc, ve.GetEndAt); err != nil {
			return im, fmt.Errorf("DTEND: %w", err)
		}
	} else if d := propValue(ve, ical.ComponentPropertyDuration); d != "" {
		dur, err := parseDuration(d)
		if err != nil {
			return im, fmt.Errorf("DURATION: %w", err)
		}
		ev.End = ev.Start.Add(dur)
		ev.EndTimeZone = ev.StartTimeZone
	}

	ev.Availability = availabilityOf(ve)

	if text := propValue(ve, ical.ComponentPropertyRrule); text != "" {
		rule, err := recurrence.Decode(text)
		if err != nil {
			return im, err
		}
		ev.RecurrenceRule = rule
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			exLoc := loc
			if tz := param(p.ICalParameters, "TZID"); tz != "" {
				if l, err := time.LoadLocation(tz); err == nil {
					exLoc = l
				}
			}
			t, err := parseICSTime(part, exLoc)
			if err != nil {
				appLog.Warn("ics: ignoring unreadable EXDATE", "uid", im.UID, "value", part)
				continue
			}
			im.ExDates = append(im.ExDates, t)
		}
	}

	ev.Attendees = attendeesOf(ve)
	ev.Reminders = remindersOf(ve)
	return im, nil
}

func propValue(ve *ical.VEvent, p ical.ComponentProperty) string {
	if prop := ve.GetProperty(p); prop != nil {
		return prop.Value
	}
	return ""
}

func param(params map[string][]string, key string) string {
	if vs, ok := params[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// isDate reports whether a DTSTART/DTEND holds a date without a time.
func isDate(p *ical.IANAProperty) bool {
	return strings.EqualFold(param(p.ICalParameters, "VALUE"), "DATE") || !strings.Contains(p.Value, "T")
}

func zoneOf(p *ical.IANAProperty) string {
	if tz := param(p.ICalParameters, "TZID"); tz != "" {
		return tz
	}
	if strings.HasSuffix(p.Value, "Z") {
		return "UTC"
	}
	return ""
}

// eventTime reads a date or date-time property. Dates are UTC midnight; the
// library reader handles TZID and falls back to parseICSTime.
func eventTime(p *ical.IANAProperty, allDay bool, loc *time.Location, read func() (time.Time, error)) (time.Time, error) {
	if allDay {
		return time.Parse("20060102", strings.TrimSpace(p.Value))
	}
	if t, err := read(); err == nil && !t.IsZero() {
		return t, nil
	}
	return parseICSTime(p.Value, loc)
}

// parseICSTime parses a DATE or DATE-TIME value. Floating values are read
// in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.Parse("20060102", v)
}

func availabilityOf(ve *ical.VEvent) model.Availability {
	if strings.EqualFold(propValue(ve, ical.ComponentPropertyStatus), "TENTATIVE") {
		return model.AvailabilityTentative
	}
	switch strings.ToUpper(propValue(ve, ical.ComponentPropertyTransp)) {
	case "TRANSPARENT":
		return model.AvailabilityFree
	case "OPAQUE":
		return model.AvailabilityBusy
	}
	return model.AvailabilityUnknown
}

func attendeesOf(ve *ical.VEvent) []model.Attendee {
	var out []model.Attendee
	for _, a := range ve.Attendees() {
		email := strings.TrimSpace(a.Email())
		if email == "" || containsEmail(out, email) {
			continue
		}
		out = append(out, model.Attendee{
			EmailAddress: email,
			Name:         param(a.ICalParameters, "CN"),
			Role:         roleOf(param(a.ICalParameters, "ROLE"), param(a.ICalParameters, "CUTYPE")),
			Status:       statusOf(param(a.ICalParameters, "PARTSTAT")),
		})
	}

	org := ve.GetProperty(ical.ComponentPropertyOrganizer)
	if org == nil {
		return out
	}
	email := strings.TrimSpace(trimMailto(org.Value))
	if email == "" {
		return out
	}
	for i := range out {
		if strings.EqualFold(out[i].EmailAddress, email) {
			out[i].IsOrganizer = true
			return out
		}
	}
	return append(out, model.Attendee{
		EmailAddress: email,
		Name:         param(org.ICalParameters, "CN"),
		Role:         model.RoleRequired,
		Status:       model.StatusAccepted,
		IsOrganizer:  true,
	})
}

func containsEmail(as []model.Attendee, email string) bool {
	for _, a := range as {
		if strings.EqualFold(a.EmailAddress, email) {
			return true
		}
	}
	return false
}

func trimMailto(v string) string {
	if len(v) >= 7 && strings.EqualFold(v[:7], "mailto:") {
		return v[7:]
	}
	return v
}

func roleOf(role, cuType string) model.AttendeeRole {
	switch strings.ToUpper(cuType) {
	case "RESOURCE", "ROOM":
		return model.RoleResource
	}
	switch strings.ToUpper(role) {
	case "REQ-PARTICIPANT", "CHAIR", "":
		return model.RoleRequired
	case "OPT-PARTICIPANT":
		return model.RoleOptional
	}
	return model.RoleNone
}

func statusOf(partStat string) model.AttendeeStatus {
	switch strings.ToUpper(partStat) {
	case "ACCEPTED":
		return model.StatusAccepted
	case "DECLINED":
		return model.StatusDeclined
	case "TENTATIVE":
		return model.StatusTentative
	case "NEEDS-ACTION", "":
		return model.StatusInvited
	}
	return model.StatusNone
}

// remindersOf reads VALARM triggers relative to the event start.
func remindersOf(ve *ical.VEvent) []model.Reminder {
	var out []model.Reminder
	for _, alarm := range ve.Alarms() {
		trigger := alarm.GetProperty(ical.ComponentPropertyTrigger)
		if trigger == nil {
			continue
		}
		if strings.EqualFold(param(trigger.ICalParameters, "RELATED"), "END") ||
			strings.EqualFold(param(trigger.ICalParameters, "VALUE"), "DATE-TIME") {
			continue
		}
		d, err := parseDuration(trigger.Value)
		if err != nil || d > 0 {
			continue
		}
		out = append(out, model.Reminder{Minutes: int(-d / time.Minute)})
	}
	return out
}

// parseDuration parses an RFC 5545 duration such as "-PT15M" or "P1DT2H".
func parseDuration(v string) (time.Duration, error) {
	s := strings.ToUpper(strings.TrimSpace(v))
	sign := time.Duration(1)
	switch {
	case strings.HasPrefix(s, "-"):
		sign, s = -1, s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	rest, ok := strings.CutPrefix(s, "P")
	if !ok || rest == "" {
		return 0, fmt.Errorf("invalid duration %q", v)
	}

	var total time.Duration
	inTime, parsed := false, false
	n := -1
	for _, r := range rest {
		switch {
		case r >= '0' && r <= '9':
			if n < 0 {
				n = 0
			}
			n = n*10 + int(r-'0')
			continue
		case r == 'T':
			if inTime || n >= 0 {
				return 0, fmt.Errorf("invalid duration %q", v)
			}
			inTime = true
			continue
		}
		if n < 0 {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		unit, err := durationUnit(r, inTime)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		total += time.Duration(n) * unit
		n = -1
		parsed = true
	}
	if n >= 0 || !parsed {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return sign * total, nil
}

func durationUnit(r rune, inTime bool) (time.Duration, error) {
	switch {
	case r == 'W' && !inTime:
		return 7 * 24 * time.Hour, nil
	case r == 'D' && !inTime:
		return 24 * time.Hour, nil
	case r == 'H' && inTime:
		return time.Hour, nil
	case r == 'M' && inTime:
		return time.Minute, nil
	case r == 'S' && inTime:
		return time.Second, nil
	}
	return 0, errors.New("unknown unit")
}
