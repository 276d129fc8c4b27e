// Package expand turns a recurring event definition plus its persisted
// deviations (overrides, deletion exceptions) into the concrete occurrences
// falling inside a requested window. It is a pure computation: no I/O, no
// clock, inputs are never mutated, and the same inputs always produce the
// same ordered output.
package expand

import (
	"sort"
	"time"

	"github.com/planora/planora/internal/domain"
)

// maxOccurrences is a safety bound on rule iteration, not a feature limit.
// Hitting it truncates the result instead of failing.
const maxOccurrences = 1000

// Result wraps expanded occurrences and whether the iteration cap was hit
// before the window end was reached.
type Result struct {
	Occurrences []domain.Occurrence
	Truncated   bool
}

// IndexOverrides keys override rows by the exact UTC instant of the
// occurrence they replace, the form Window matches slots against.
func IndexOverrides(overrides []domain.Event) map[int64]domain.Event {
	byInstant := make(map[int64]domain.Event, len(overrides))
	for _, ov := range overrides {
		if ov.OriginalStart == nil || ov.DeletedAt != nil {
			continue
		}
		byInstant[ov.OriginalStart.UTC().UnixNano()] = ov
	}
	return byInstant
}

// ExceptionDates collects the suppressed occurrence dates of a series as
// "2006-01-02" keys.
func ExceptionDates(exceptions []domain.RecurrenceException) map[string]struct{} {
	dates := make(map[string]struct{}, len(exceptions))
	for _, ex := range exceptions {
		if !ex.IsDeleted {
			continue
		}
		dates[domain.DateOf(ex.Date).Format("2006-01-02")] = struct{}{}
	}
	return dates
}

// Window expands series into the occurrences whose start instant lies within
// [windowStart, windowEnd], ordered by start ascending.
//
// For each slot the series' rule produces, in order:
//   - a deletion exception on the slot's date suppresses it entirely, even
//     when an override exists for it;
//   - an override matching the slot's exact start instant is emitted
//     verbatim, under the override's own identity;
//   - otherwise a virtual instance is synthesized from the series, under the
//     composite (series, date) identity.
//
// A series that is not recurring expands to nothing; surfacing it as its own
// single occurrence is the caller's job. The rule is assumed valid: rules are
// rejected at write time, never here.
func Window(series domain.Event, overridesByInstant map[int64]domain.Event, exceptionDates map[string]struct{}, windowStart, windowEnd time.Time) Result {
	var res Result
	if !series.IsRecurring || series.Recurrence == nil {
		return res
	}

	rule := *series.Recurrence
	duration := series.Duration()
	windowStart = windowStart.UTC()
	windowEnd = windowEnd.UTC()

	var end time.Time
	if series.RecurrenceEnd != nil {
		end = domain.EndOfDayUTC(*series.RecurrenceEnd)
	}

	cur := anchor(series.Start.UTC(), rule)
	for i := 0; ; i++ {
		if i >= maxOccurrences {
			res.Truncated = cur.Before(windowEnd) || cur.Equal(windowEnd)
			break
		}
		if !end.IsZero() && cur.After(end) {
			break
		}
		if cur.After(windowEnd) {
			break
		}

		if !cur.Before(windowStart) {
			if occ, ok := resolve(series, cur, duration, overridesByInstant, exceptionDates); ok {
				res.Occurrences = append(res.Occurrences, occ)
			}
		}

		cur = next(cur, rule)
	}

	// Overrides may be rescheduled off their natural slot, so the emitted
	// starts are not necessarily in slot order.
	sort.SliceStable(res.Occurrences, func(i, j int) bool {
		return res.Occurrences[i].Start.Before(res.Occurrences[j].Start)
	})
	return res
}

func resolve(series domain.Event, slot time.Time, duration time.Duration, overridesByInstant map[int64]domain.Event, exceptionDates map[string]struct{}) (domain.Occurrence, bool) {
	if _, suppressed := exceptionDates[slot.Format("2006-01-02")]; suppressed {
		return domain.Occurrence{}, false
	}

	if ov, ok := overridesByInstant[slot.UnixNano()]; ok {
		return domain.Occurrence{
			ID:          domain.RealOccurrenceID(ov.ID),
			SeriesID:    series.ID,
			Title:       ov.Title,
			Description: ov.Description,
			Location:    ov.Location,
			Color:       ov.Color,
			Start:       ov.Start.UTC(),
			End:         ov.End.UTC(),
			AllDay:      ov.AllDay,
			Overridden:  true,
		}, true
	}

	return domain.Occurrence{
		ID:          domain.VirtualOccurrenceID(series.ID, slot),
		SeriesID:    series.ID,
		Title:       series.Title,
		Description: series.Description,
		Location:    series.Location,
		Color:       series.Color,
		Start:       slot,
		End:         slot.Add(duration),
		AllDay:      series.AllDay,
	}, true
}

// anchor returns the first instant on or after the series start that
// satisfies the rule's day constraint, preserving the start's time of day.
func anchor(start time.Time, rule domain.Recurrence) time.Time {
	switch {
	case rule.Freq == domain.FreqWeekly && len(rule.ByWeekdays) > 0:
		for !rule.OnWeekday(start.Weekday()) {
			start = start.AddDate(0, 0, 1)
		}
	case rule.Freq == domain.FreqMonthly && len(rule.ByMonthDays) > 0:
		for !rule.OnMonthDay(start.Day()) {
			start = start.AddDate(0, 0, 1)
		}
	}
	return start
}

// next computes the occurrence after cur under the rule.
func next(cur time.Time, rule domain.Recurrence) time.Time {
	switch rule.Freq {
	case domain.FreqDaily:
		return cur.AddDate(0, 0, rule.Interval)

	case domain.FreqWeekly:
		if len(rule.ByWeekdays) == 0 {
			return cur.AddDate(0, 0, 7*rule.Interval)
		}
		bound := 7 * rule.Interval
		for i := 1; i <= bound; i++ {
			cand := cur.AddDate(0, 0, i)
			if rule.OnWeekday(cand.Weekday()) {
				return cand
			}
		}
		return cur.AddDate(0, 0, bound)

	case domain.FreqMonthly:
		if len(rule.ByMonthDays) == 0 {
			return cur.AddDate(0, rule.Interval, 0)
		}
		days := rule.SortedMonthDays()
		for _, d := range days {
			if d > cur.Day() {
				if t, ok := monthDay(cur, 0, d); ok {
					return t
				}
			}
		}
		// Months too short for every listed day are skipped entirely.
		// Terminates: days are 1..31, and any of them recurs in some stepped
		// month (day 29 at worst waits for the next leap February).
		for m := rule.Interval; ; m += rule.Interval {
			for _, d := range days {
				if t, ok := monthDay(cur, m, d); ok {
					return t
				}
			}
		}
	}
	return cur.AddDate(0, 0, rule.Interval)
}

// monthDay moves cur forward by months months and pins the day of month,
// keeping the time of day. Reports false when the target month has no such
// day; a normalized spillover date is never a slot.
func monthDay(cur time.Time, months, day int) (time.Time, bool) {
	t := time.Date(cur.Year(), cur.Month()+time.Month(months), day,
		cur.Hour(), cur.Minute(), cur.Second(), cur.Nanosecond(), cur.Location())
	return t, t.Day() == day
}
