// Package ics converts between the persisted event model and iCalendar. A
// series travels as one master VEVENT carrying RRULE and EXDATEs plus one
// VEVENT per override carrying RECURRENCE-ID, which is also the shape the
// CalDAV sync exchanges.
package ics

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/planora/planora/internal/domain"
)

const prodID = "-//Planora//Planora//EN"

// Export renders a series, its overrides and its deletion exceptions as one
// VCALENDAR. The master's recurrence end is folded into the RRULE UNTIL;
// each deletion exception becomes an EXDATE at the suppressed slot's instant.
func Export(series *domain.Event, overrides []*domain.Event, exceptions []*domain.RecurrenceException) (*ical.Calendar, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, prodID)

	uid := series.CalDAVUID
	if uid == "" {
		uid = fmt.Sprintf("planora-%d@planora.local", series.ID)
	}

	master := ical.NewEvent()
	master.Props.SetText(ical.PropUID, uid)
	setEventProps(master, series)

	if series.IsRecurring && series.Recurrence != nil {
		// SetText would escape the rule's ; and , separators; RRULE carries
		// a RECUR value, not text.
		opt, err := series.Recurrence.ROption(series.RecurrenceEnd)
		if err != nil {
			return nil, fmt.Errorf("series %d: %w", series.ID, err)
		}
		master.Props.SetRecurrenceRule(opt)

		for _, ex := range exceptions {
			if !ex.IsDeleted {
				continue
			}
			master.Props.Add(&ical.Prop{
				Name:  ical.PropExceptionDates,
				Value: slotInstant(series, ex.Date).Format(icsUTCLayout),
			})
		}
	}
	cal.Children = append(cal.Children, master.Component)

	for _, ov := range overrides {
		if ov.OriginalStart == nil {
			continue
		}
		vevent := ical.NewEvent()
		vevent.Props.SetText(ical.PropUID, uid)
		vevent.Props.SetDateTime(ical.PropRecurrenceID, ov.OriginalStart.UTC())
		setEventProps(vevent, ov)
		cal.Children = append(cal.Children, vevent.Component)
	}

	return cal, nil
}

const icsUTCLayout = "20060102T150405Z"

func setEventProps(vevent *ical.Event, e *domain.Event) {
	vevent.Props.SetText(ical.PropSummary, e.Title)
	if e.Description != "" {
		vevent.Props.SetText(ical.PropDescription, e.Description)
	}
	if e.Location != "" {
		vevent.Props.SetText(ical.PropLocation, e.Location)
	}

	if e.AllDay {
		vevent.Props.SetDate(ical.PropDateTimeStart, e.Start.UTC())
		vevent.Props.SetDate(ical.PropDateTimeEnd, e.End.UTC())
	} else {
		vevent.Props.SetDateTime(ical.PropDateTimeStart, e.Start.UTC())
		vevent.Props.SetDateTime(ical.PropDateTimeEnd, e.End.UTC())
	}
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
}

// slotInstant reconstructs the start instant of the series occurrence on a
// date: the date plus the series' time of day.
func slotInstant(series *domain.Event, date time.Time) time.Time {
	start := series.Start.UTC()
	d := domain.DateOf(date)
	return time.Date(d.Year(), d.Month(), d.Day(),
		start.Hour(), start.Minute(), start.Second(), start.Nanosecond(), time.UTC)
}

// Encode writes a calendar in its wire form.
func Encode(cal *ical.Calendar) ([]byte, error) {
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("encode calendar: %w", err)
	}
	return buf.Bytes(), nil
}

// ParsedEvent is one imported VEVENT. Overrides carry OriginalStart; linking
// them to their local series row is the importer's job, by UID.
type ParsedEvent struct {
	Event         domain.Event
	UID           string
	OriginalStart *time.Time
	ExDates       []time.Time
}

// Decode parses a VCALENDAR payload.
func Decode(data []byte) (*ical.Calendar, error) {
	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return nil, fmt.Errorf("decode calendar: %w", err)
	}
	return cal, nil
}

// Import walks a calendar's VEVENTs into parsed events. Events that cannot be
// understood are skipped rather than failing the whole calendar.
func Import(cal *ical.Calendar) ([]ParsedEvent, error) {
	var events []ParsedEvent
	for _, comp := range cal.Children {
		if comp.Name != ical.CompEvent {
			continue
		}
		pe, err := parseVEvent(comp)
		if err != nil {
			continue
		}
		events = append(events, pe)
	}
	return events, nil
}

func parseVEvent(comp *ical.Component) (ParsedEvent, error) {
	var pe ParsedEvent

	uidProp := comp.Props.Get(ical.PropUID)
	if uidProp == nil || uidProp.Value == "" {
		return pe, fmt.Errorf("missing UID")
	}
	pe.UID = uidProp.Value
	pe.Event.CalDAVUID = uidProp.Value

	if p := comp.Props.Get(ical.PropSummary); p != nil {
		pe.Event.Title = p.Value
	}
	if p := comp.Props.Get(ical.PropDescription); p != nil {
		pe.Event.Description = p.Value
	}
	if p := comp.Props.Get(ical.PropLocation); p != nil {
		pe.Event.Location = p.Value
	}

	startProp := comp.Props.Get(ical.PropDateTimeStart)
	if startProp == nil {
		return pe, fmt.Errorf("missing DTSTART")
	}
	start, err := startProp.DateTime(time.UTC)
	if err != nil {
		return pe, fmt.Errorf("parse DTSTART: %w", err)
	}
	pe.Event.Start = start.UTC()
	if strings.EqualFold(startProp.Params.Get(ical.ParamValue), string(ical.ValueDate)) {
		pe.Event.AllDay = true
	}

	pe.Event.End = pe.Event.Start
	if endProp := comp.Props.Get(ical.PropDateTimeEnd); endProp != nil {
		if end, err := endProp.DateTime(time.UTC); err == nil {
			pe.Event.End = end.UTC()
		}
	}

	if rruleProp := comp.Props.Get(ical.PropRecurrenceRule); rruleProp != nil && rruleProp.Value != "" {
		rule, until, err := domain.ParseRRule(rruleProp.Value)
		if err != nil {
			return pe, err
		}
		pe.Event.IsRecurring = true
		pe.Event.Recurrence = &rule
		pe.Event.RecurrenceEnd = until
	}

	for _, p := range comp.Props.Values(ical.PropExceptionDates) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part); err == nil {
				pe.ExDates = append(pe.ExDates, t)
			}
		}
	}

	if ridProp := comp.Props.Get(ical.PropRecurrenceID); ridProp != nil {
		if t, err := ridProp.DateTime(time.UTC); err == nil {
			utc := t.UTC()
			pe.OriginalStart = &utc
			pe.Event.OriginalStart = &utc
		}
	}

	return pe, nil
}

// parseICSTime handles the basic UTC, floating and date-only value forms that
// show up in EXDATE lists.
func parseICSTime(v string) (time.Time, error) {
	if strings.HasSuffix(v, "Z") {
		return time.Parse(icsUTCLayout, v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, time.UTC)
	}
	return time.ParseInLocation("20060102", v, time.UTC)
}
