// Package recurrence converts between model.RecurrenceRule and RFC 5545 RRULE
// text.
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"devicecal/internal/model"
)

var (
	ErrUnsupportedFrequency = errors.New("recurrence: unsupported frequency")
	ErrConflictingEnd       = errors.New("recurrence: both count and end date are set")
)

// rrule-go weekdays indexed by time.Weekday (Sunday first).
var weekdays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// Decode parses RRULE text (with or without the "RRULE:" prefix).
func Decode(text string) (*model.RecurrenceRule, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "RRULE:")
	if text == "" {
		return nil, errors.New("recurrence: empty rule")
	}

	opt, err := rrule.StrToROption(text)
	if err != nil {
		return nil, fmt.Errorf("recurrence: parse %q: %w", text, err)
	}

	freq, err := fromFrequency(opt.Freq)
	if err != nil {
		return nil, err
	}

	rule := &model.RecurrenceRule{
		Frequency: freq,
		Interval:  opt.Interval,
	}
	if rule.Interval <= 0 {
		rule.Interval = 1
	}
	if opt.Count > 0 && !opt.Until.IsZero() {
		return nil, ErrConflictingEnd
	}
	if opt.Count > 0 {
		rule.TotalOccurrences = opt.Count
	} else if !opt.Until.IsZero() {
		rule.EndDate = opt.Until.UTC()
	}

	if freq == model.Daily {
		return rule, nil
	}

	for _, wd := range opt.Byweekday {
		rule.DaysOfWeek = append(rule.DaysOfWeek, fromWeekday(wd))
	}

	if freq == model.Monthly || freq == model.Yearly {
		if len(opt.Bysetpos) > 0 {
			rule.WeekOfMonth = opt.Bysetpos[0]
		} else if len(opt.Byweekday) > 0 && opt.Byweekday[0].N() != 0 {
			rule.WeekOfMonth = opt.Byweekday[0].N()
		}
		if len(opt.Bymonthday) > 0 {
			rule.DayOfMonth = opt.Bymonthday[0]
		}
	}
	if freq == model.Yearly && len(opt.Bymonth) > 0 {
		rule.MonthOfYear = opt.Bymonth[0]
	}
	return rule, nil
}

// Validate checks the invariants Encode relies on.
func Validate(rule *model.RecurrenceRule) error {
	if rule == nil {
		return nil
	}
	if _, err := toFrequency(rule.Frequency); err != nil {
		return err
	}
	if rule.Interval < 0 {
		return fmt.Errorf("recurrence: negative interval %d", rule.Interval)
	}
	if rule.TotalOccurrences < 0 {
		return fmt.Errorf("recurrence: negative count %d", rule.TotalOccurrences)
	}
	if rule.TotalOccurrences > 0 && !rule.EndDate.IsZero() {
		return ErrConflictingEnd
	}
	if rule.MonthOfYear < 0 || rule.MonthOfYear > 12 {
		return fmt.Errorf("recurrence: month of year %d out of range", rule.MonthOfYear)
	}
	if rule.DayOfMonth < -31 || rule.DayOfMonth > 31 {
		return fmt.Errorf("recurrence: day of month %d out of range", rule.DayOfMonth)
	}
	if rule.WeekOfMonth < -5 || rule.WeekOfMonth > 5 {
		return fmt.Errorf("recurrence: week of month %d out of range", rule.WeekOfMonth)
	}
	for _, d := range rule.DaysOfWeek {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("recurrence: invalid weekday %d", int(d))
		}
	}
	return nil
}

// Encode renders rule as RRULE text without the "RRULE:" prefix. UNTIL is
// always written as a UTC date-time.
func Encode(rule *model.RecurrenceRule) (string, error) {
	if rule == nil {
		return "", errors.New("recurrence: nil rule")
	}
	if err := Validate(rule); err != nil {
		return "", err
	}
	freq, _ := toFrequency(rule.Frequency)

	opt := rrule.ROption{
		Freq:     freq,
		Interval: rule.Interval,
	}
	if opt.Interval == 0 {
		opt.Interval = 1
	}

	monthlyOrYearly := rule.Frequency == model.Monthly || rule.Frequency == model.Yearly

	if rule.Frequency == model.Weekly || (monthlyOrYearly && rule.WeekOfMonth != 0) {
		for _, d := range rule.DaysOfWeek {
			wd := weekdays[d]
			if monthlyOrYearly {
				// "The Nth <weekday>": every day shares the single week position.
				wd = wd.Nth(rule.WeekOfMonth)
			}
			opt.Byweekday = append(opt.Byweekday, wd)
		}
	}

	if rule.TotalOccurrences > 0 {
		opt.Count = rule.TotalOccurrences
	} else if !rule.EndDate.IsZero() {
		opt.Until = rule.EndDate.UTC()
	}

	if rule.Frequency == model.Yearly && rule.MonthOfYear != 0 {
		opt.Bymonth = []int{rule.MonthOfYear}
	}
	if monthlyOrYearly && rule.WeekOfMonth == 0 && rule.DayOfMonth != 0 {
		opt.Bymonthday = []int{rule.DayOfMonth}
	}

	return opt.RRuleString(), nil
}

func toFrequency(f model.Frequency) (rrule.Frequency, error) {
	switch f {
	case model.Daily:
		return rrule.DAILY, nil
	case model.Weekly:
		return rrule.WEEKLY, nil
	case model.Monthly:
		return rrule.MONTHLY, nil
	case model.Yearly:
		return rrule.YEARLY, nil
	}
	return 0, fmt.Errorf("%w: %v", ErrUnsupportedFrequency, f)
}

func fromFrequency(f rrule.Frequency) (model.Frequency, error) {
	switch f {
	case rrule.DAILY:
		return model.Daily, nil
	case rrule.WEEKLY:
		return model.Weekly, nil
	case rrule.MONTHLY:
		return model.Monthly, nil
	case rrule.YEARLY:
		return model.Yearly, nil
	}
	return 0, fmt.Errorf("%w: %v", ErrUnsupportedFrequency, f)
}

// fromWeekday maps rrule-go's Monday-first day index onto time.Weekday.
func fromWeekday(wd rrule.Weekday) time.Weekday {
	return time.Weekday((wd.Day() + 1) % 7)
}
