package method

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"devicecal/internal/apperr"
	"devicecal/internal/model"
)

// Argument names accepted by Decode.
const (
	ArgCalendarID         = "calendarId"
	ArgCalendarName       = "calendarName"
	ArgCalendarColor      = "calendarColor"
	ArgLocalAccountName   = "localAccountName"
	ArgVisible            = "visible"
	ArgStartDate          = "startDate"
	ArgEndDate            = "endDate"
	ArgEventIDs           = "eventIds"
	ArgEvent              = "event"
	ArgEventID            = "eventId"
	ArgFollowingInstances = "followingInstances"
)

type args map[string]json.RawMessage

// Decode builds the operation named by method from a JSON argument object.
// Instants are RFC 3339 strings or Unix milliseconds; ids are strings or
// numbers.
func Decode(method string, raw json.RawMessage) (Operation, error) {
	a := args{}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, &a); err != nil {
			return nil, apperr.InvalidArgument("arguments of %s must be an object: %v", method, err)
		}
	}

	switch Kind(method) {
	case KindListCalendars:
		return ListCalendars{}, nil
	case KindHasPermissions:
		return HasPermissions{}, nil
	case KindRequestPermissions:
		return RequestPermissions{}, nil
	case KindGetCalendar, KindDeleteCalendar:
		id, err := a.requiredString(ArgCalendarID)
		if err != nil {
			return nil, err
		}
		if Kind(method) == KindGetCalendar {
			return GetCalendar{CalendarID: id}, nil
		}
		return DeleteCalendar{CalendarID: id}, nil
	case KindCreateCalendar:
		return a.createCalendar()
	case KindUpdateCalendar:
		return a.updateCalendar()
	case KindQueryEvents, kindRetrieveEvents:
		return a.queryEvents()
	case KindUpsertEvent:
		return a.upsertEvent()
	case KindDeleteEvent:
		return a.deleteEvent()
	}
	return nil, apperr.InvalidArgument("unknown method %q", method)
}

func (a args) createCalendar() (Operation, error) {
	var op CreateCalendar
	var err error
	if op.Name, err = a.requiredString(ArgCalendarName); err != nil {
		return nil, err
	}
	if op.AccountName, err = a.requiredString(ArgLocalAccountName); err != nil {
		return nil, err
	}
	if op.Color, err = a.color(ArgCalendarColor); err != nil {
		return nil, err
	}
	return op, nil
}

func (a args) updateCalendar() (Operation, error) {
	id, err := a.requiredString(ArgCalendarID)
	if err != nil {
		return nil, err
	}
	visible, err := a.bool(ArgVisible)
	if err != nil {
		return nil, err
	}
	if visible == nil {
		return nil, apperr.InvalidArgument("%s is required", ArgVisible)
	}
	return UpdateCalendar{CalendarID: id, Visible: *visible}, nil
}

func (a args) queryEvents() (Operation, error) {
	var op QueryEvents
	var err error
	if op.CalendarID, err = a.requiredString(ArgCalendarID); err != nil {
		return nil, err
	}
	if op.Start, err = a.instant(ArgStartDate); err != nil {
		return nil, err
	}
	if op.End, err = a.instant(ArgEndDate); err != nil {
		return nil, err
	}
	if op.EventIDs, err = a.strings(ArgEventIDs); err != nil {
		return nil, err
	}
	return op, nil
}

func (a args) upsertEvent() (Operation, error) {
	calID, err := a.requiredString(ArgCalendarID)
	if err != nil {
		return nil, err
	}
	raw, ok := a.present(ArgEvent)
	if !ok {
		return nil, apperr.InvalidArgument("%s is required", ArgEvent)
	}
	ev := &model.Event{}
	if err := json.Unmarshal(raw, ev); err != nil {
		return nil, apperr.InvalidArgument("%s: %v", ArgEvent, err)
	}
	ev.CalendarID = calID
	return UpsertEvent{CalendarID: calID, Event: ev}, nil
}

func (a args) deleteEvent() (Operation, error) {
	var op DeleteEvent
	var err error
	if op.CalendarID, err = a.requiredString(ArgCalendarID); err != nil {
		return nil, err
	}
	if op.EventID, err = a.requiredString(ArgEventID); err != nil {
		return nil, err
	}
	if op.Start, err = a.instant(ArgStartDate); err != nil {
		return nil, err
	}
	if op.End, err = a.instant(ArgEndDate); err != nil {
		return nil, err
	}
	if op.FollowingInstances, err = a.bool(ArgFollowingInstances); err != nil {
		return nil, err
	}
	return op, nil
}

// present returns the raw value for key unless it is missing or null.
func (a args) present(key string) (json.RawMessage, bool) {
	raw, ok := a[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, false
	}
	return raw, true
}

func (a args) requiredString(key string) (string, error) {
	raw, ok := a.present(key)
	if !ok {
		return "", apperr.InvalidArgument("%s is required", key)
	}
	s, ok := scalarString(raw)
	if !ok {
		return "", apperr.InvalidArgument("%s must be a string or number", key)
	}
	return s, nil
}

func (a args) bool(key string) (*bool, error) {
	raw, ok := a.present(key)
	if !ok {
		return nil, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, apperr.InvalidArgument("%s must be a boolean", key)
	}
	return &b, nil
}

func (a args) instant(key string) (*time.Time, error) {
	raw, ok := a.present(key)
	if !ok {
		return nil, nil
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, apperr.InvalidArgument("%s: %q is not an RFC 3339 date", key, s)
		}
		return &t, nil
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return nil, apperr.InvalidArgument("%s must be a date", key)
	}
	t := time.UnixMilli(ms)
	return &t, nil
}

func (a args) strings(key string) ([]string, error) {
	raw, ok := a.present(key)
	if !ok {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, apperr.InvalidArgument("%s must be a list", key)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := scalarString(item)
		if !ok {
			return nil, apperr.InvalidArgument("%s entries must be strings or numbers", key)
		}
		out = append(out, s)
	}
	return out, nil
}

// color accepts a number or a string such as "0xFF00FF00" or "#FF00FF00".
func (a args) color(key string) (*uint32, error) {
	raw, ok := a.present(key)
	if !ok {
		return nil, nil
	}
	s, ok := scalarString(raw)
	if !ok {
		return nil, apperr.InvalidArgument("%s must be a color", key)
	}
	c, err := ParseColor(s)
	if err != nil {
		return nil, apperr.InvalidArgument("%s: %v", key, err)
	}
	return &c, nil
}

// ParseColor parses an ARGB color written in decimal, 0x-prefixed hex or
// #-prefixed hex.
func ParseColor(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "#"); ok {
		s = "0x" + rest
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func scalarString(raw json.RawMessage) (string, bool) {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s, true
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String(), true
	}
	return "", false
}
