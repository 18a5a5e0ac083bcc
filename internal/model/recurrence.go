package model

import (
	"fmt"
	"strings"
	"time"
)

type Frequency int

const (
	Daily Frequency = iota
	Weekly
	Monthly
	Yearly
)

func (f Frequency) String() string {
	switch f {
	case Daily:
		return "DAILY"
	case Weekly:
		return "WEEKLY"
	case Monthly:
		return "MONTHLY"
	case Yearly:
		return "YEARLY"
	default:
		return fmt.Sprintf("Frequency(%d)", int(f))
	}
}

// ParseFrequency accepts the names produced by String, case-insensitively.
func ParseFrequency(s string) (Frequency, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DAILY":
		return Daily, nil
	case "WEEKLY":
		return Weekly, nil
	case "MONTHLY":
		return Monthly, nil
	case "YEARLY":
		return Yearly, nil
	}
	return 0, fmt.Errorf("unsupported recurrence frequency %q", s)
}

func (f Frequency) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Frequency) UnmarshalText(b []byte) error {
	v, err := ParseFrequency(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// RecurrenceRule is the domain view of a repeat pattern.
//
// Zero values mean "absent": Interval 0 is treated as 1, TotalOccurrences 0 and
// a zero EndDate mean no such termination, and WeekOfMonth, DayOfMonth and
// MonthOfYear of 0 are unset. At most one of TotalOccurrences and EndDate may
// be set. WeekOfMonth takes precedence over DayOfMonth for monthly and yearly
// rules.
type RecurrenceRule struct {
	Frequency        Frequency      `json:"recurrenceFrequency"`
	Interval         int            `json:"interval,omitempty"`
	TotalOccurrences int            `json:"totalOccurrences,omitempty"`
	EndDate          time.Time      `json:"endDate,omitzero"`
	DaysOfWeek       []time.Weekday `json:"daysOfWeek,omitempty"`
	WeekOfMonth      int            `json:"weekOfMonth,omitempty"`
	DayOfMonth       int            `json:"dayOfMonth,omitempty"`
	MonthOfYear      int            `json:"monthOfYear,omitempty"`
}

// Unbounded reports whether the rule has no termination.
func (r RecurrenceRule) Unbounded() bool {
	return r.TotalOccurrences == 0 && r.EndDate.IsZero()
}
