package domain

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"
)

// ErrInvalidRule is returned when a recurrence definition is malformed.
// Rules are validated when an event is written; expansion never sees one.
var ErrInvalidRule = errors.New("invalid recurrence rule")

type Frequency string

const (
	FreqDaily   Frequency = "DAILY"
	FreqWeekly  Frequency = "WEEKLY"
	FreqMonthly Frequency = "MONTHLY"
)

// Recurrence describes how a series repeats. ByWeekdays applies to weekly
// rules, ByMonthDays to monthly ones; either may be empty.
type Recurrence struct {
	Freq        Frequency
	Interval    int
	ByWeekdays  []time.Weekday
	ByMonthDays []int
}

func (r Recurrence) Validate() error {
	switch r.Freq {
	case FreqDaily, FreqWeekly, FreqMonthly:
	default:
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidRule, r.Freq)
	}
	if r.Interval < 1 {
		return fmt.Errorf("%w: interval must be >= 1, got %d", ErrInvalidRule, r.Interval)
	}
	for _, d := range r.ByMonthDays {
		if d < 1 || d > 31 {
			return fmt.Errorf("%w: day of month %d out of range", ErrInvalidRule, d)
		}
	}
	return nil
}

// OnWeekday reports whether the weekday set admits d. An empty set admits
// nothing; callers check HasWeekdays first.
func (r Recurrence) OnWeekday(d time.Weekday) bool {
	for _, wd := range r.ByWeekdays {
		if wd == d {
			return true
		}
	}
	return false
}

// OnMonthDay reports whether the day-of-month set admits d.
func (r Recurrence) OnMonthDay(d int) bool {
	for _, md := range r.ByMonthDays {
		if md == d {
			return true
		}
	}
	return false
}

// SortedMonthDays returns the day-of-month set in ascending order without
// mutating the rule.
func (r Recurrence) SortedMonthDays() []int {
	days := append([]int(nil), r.ByMonthDays...)
	sort.Ints(days)
	return days
}

var weekdayToRRule = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// rrule-go numbers weekdays from Monday = 0.
var rruleDayToWeekday = [7]time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

// ROption converts the rule to rrule-go's option form. until, when non-nil,
// becomes an end-of-day UTC UNTIL.
func (r Recurrence) ROption(until *time.Time) (*rrule.ROption, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	opt := &rrule.ROption{Interval: r.Interval}
	switch r.Freq {
	case FreqDaily:
		opt.Freq = rrule.DAILY
	case FreqWeekly:
		opt.Freq = rrule.WEEKLY
	case FreqMonthly:
		opt.Freq = rrule.MONTHLY
	}
	for _, wd := range r.ByWeekdays {
		opt.Byweekday = append(opt.Byweekday, weekdayToRRule[wd])
	}
	opt.Bymonthday = append([]int(nil), r.ByMonthDays...)
	if until != nil {
		opt.Until = EndOfDayUTC(*until)
	}
	return opt, nil
}

// RRuleString serializes the rule as RFC 5545 RRULE text, e.g.
// "FREQ=WEEKLY;INTERVAL=1;BYDAY=MO,WE". This is the form the rule is
// persisted in.
func (r Recurrence) RRuleString(until *time.Time) (string, error) {
	opt, err := r.ROption(until)
	if err != nil {
		return "", err
	}
	return opt.RRuleString(), nil
}

// ParseRRule parses RFC 5545 RRULE text into a Recurrence plus the optional
// UNTIL bound, reduced back to a date.
func ParseRRule(s string) (Recurrence, *time.Time, error) {
	opt, err := rrule.StrToROption(s)
	if err != nil {
		return Recurrence{}, nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	var r Recurrence
	switch opt.Freq {
	case rrule.DAILY:
		r.Freq = FreqDaily
	case rrule.WEEKLY:
		r.Freq = FreqWeekly
	case rrule.MONTHLY:
		r.Freq = FreqMonthly
	default:
		return Recurrence{}, nil, fmt.Errorf("%w: unsupported frequency in %q", ErrInvalidRule, s)
	}

	r.Interval = opt.Interval
	if r.Interval == 0 {
		r.Interval = 1
	}
	for _, wd := range opt.Byweekday {
		day := wd.Day()
		if day < 0 || day > 6 {
			return Recurrence{}, nil, fmt.Errorf("%w: weekday %d in %q", ErrInvalidRule, day, s)
		}
		r.ByWeekdays = append(r.ByWeekdays, rruleDayToWeekday[day])
	}
	r.ByMonthDays = append([]int(nil), opt.Bymonthday...)

	if err := r.Validate(); err != nil {
		return Recurrence{}, nil, err
	}

	var until *time.Time
	if !opt.Until.IsZero() {
		d := DateOf(opt.Until.UTC())
		until = &d
	}
	return r, until, nil
}

// DateOf truncates an instant to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// EndOfDayUTC returns the last representable instant of t's UTC date. The
// recurrence end date is inclusive, so bounds compare against this.
func EndOfDayUTC(t time.Time) time.Time {
	d := DateOf(t)
	return d.Add(24*time.Hour - time.Nanosecond)
}
