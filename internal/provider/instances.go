package provider

import (
	"errors"
	"maps"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "devicecal/internal/log"
)

const (
	DefaultMaxOccurrences = 5000
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// MaxOccurrences is a safety cap per event for unbounded rules. If zero,
	// DefaultMaxOccurrences is used.
	MaxOccurrences int

	// DefaultLocation is used for events whose timezone is missing or unknown.
	// If nil, UTC is used.
	DefaultLocation *time.Location
}

// FarFuture is the window end used when a caller supplies no end instant.
var FarFuture = time.Date(2999, 12, 31, 23, 59, 59, 0, time.UTC)

// ExpandEvents turns event records into occurrence records overlapping
// [begin, end]. Records with an original id are exceptions: canceled ones
// suppress the occurrence starting at their original instance time, others are
// ignored. Each result carries the master's columns plus ColEventID,
// ColInstanceBegin, ColInstanceEnd and ColLastDate, ordered by begin.
func ExpandEvents(records []Values, begin, end time.Time, cfg ExpandConfig) ([]Values, error) {
	if end.Before(begin) {
		return nil, errors.New("expand: end is before begin")
	}
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = DefaultMaxOccurrences
	}
	if cfg.DefaultLocation == nil {
		cfg.DefaultLocation = time.UTC
	}

	masters := make([]Values, 0, len(records))
	exdates := make(map[int64][]time.Time)
	for _, rec := range records {
		origID, _ := int64Of(rec[ColOriginalID])
		if origID == 0 {
			masters = append(masters, rec)
			continue
		}
		if status, _ := int64Of(rec[ColStatus]); status != StatusCanceled {
			continue
		}
		if ms, ok := int64Of(rec[ColOriginalInstanceTime]); ok {
			exdates[origID] = append(exdates[origID], time.UnixMilli(ms))
		}
	}

	out := make([]Values, 0)
	for _, ev := range masters {
		id, _ := int64Of(ev[ColID])
		out = append(out, expandEvent(ev, exdates[id], begin, end, cfg)...)
	}
	SortValues(out, Asc(ColInstanceBegin), Asc(ColEventID))
	return out, nil
}

func expandEvent(ev Values, exdates []time.Time, begin, end time.Time, cfg ExpandConfig) []Values {
	id, _ := int64Of(ev[ColID])
	startMs, ok := int64Of(ev[ColDTStart])
	if !ok {
		return nil
	}
	start := time.UnixMilli(startMs)
	stop := start
	if endMs, ok := int64Of(ev[ColDTEnd]); ok && endMs >= startMs {
		stop = time.UnixMilli(endMs)
	} else if allDay, _ := int64Of(ev[ColAllDay]); allDay == 1 {
		stop = start.Add(24 * time.Hour)
	}
	dur := stop.Sub(start)

	raw, _ := ev[ColRRule].(string)
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "RRULE:")

	// Single non-recurring event
	if raw == "" {
		if !timeRangesOverlap(start, stop, begin, end) {
			return nil
		}
		return []Values{makeInstance(ev, id, start, stop, stop.UnixMilli())}
	}

	opt, err := rrule.StrToROption(raw)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "event_id", id, "rrule", raw)
		return nil
	}
	loc := LoadLocation(stringOf(ev[ColEventTimeZone]), cfg.DefaultLocation)
	if allDay, _ := int64Of(ev[ColAllDay]); allDay == 1 {
		// All-day events are stored at UTC midnight and repeat on UTC dates.
		loc = time.UTC
	}
	opt.Dtstart = start.In(loc)

	r, err := rrule.NewRRule(*opt)
	if err != nil {
		appLog.Error("expand: invalid RRULE", err, "event_id", id, "rrule", raw)
		return nil
	}

	var lastDate int64
	if opt.Count > 0 || !opt.Until.IsZero() {
		if all := r.All(); len(all) > 0 {
			lastDate = all[len(all)-1].Add(dur).UnixMilli()
		}
	}

	// Build a set so canceled exceptions act as EXDATEs.
	var set rrule.Set
	set.RRule(r)
	for _, ex := range exdates {
		set.ExDate(ex.In(loc))
	}

	out := make([]Values, 0)
	next := set.Iterator()
	for {
		occStart, ok := next()
		if !ok || occStart.After(end) {
			break
		}
		occEnd := occStart.Add(dur)
		if occEnd.Before(begin) {
			continue
		}
		out = append(out, makeInstance(ev, id, occStart, occEnd, lastDate))
		if len(out) >= cfg.MaxOccurrences {
			appLog.Warn("expand: truncated occurrences due to cap", "event_id", id, "cap", cfg.MaxOccurrences)
			break
		}
	}
	return out
}

func makeInstance(ev Values, id int64, start, end time.Time, lastDate int64) Values {
	inst := maps.Clone(ev)
	inst[ColEventID] = id
	inst[ColInstanceBegin] = start.UnixMilli()
	inst[ColInstanceEnd] = end.UnixMilli()
	inst[ColLastDate] = lastDate
	return inst
}

// LoadLocation resolves an IANA zone id, falling back to def when the id is
// empty or unknown.
func LoadLocation(name string, def *time.Location) *time.Location {
	if def == nil {
		def = time.UTC
	}
	if strings.TrimSpace(name) == "" {
		return def
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return def
	}
	return loc
}

func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	if bEnd.Before(aStart) {
		return false
	}
	return true
}

func int64Of(v any) (int64, bool) {
	switch x := Normalize(v).(type) {
	case int64:
		return x, true
	case float64:
		return int64(x), true
	}
	return 0, false
}

func stringOf(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	}
	return ""
}
