package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planora/planora/internal/domain"
)

func exportSeries() *domain.Event {
	end := time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC)
	return &domain.Event{
		ID:          7,
		Title:       "Standup",
		Description: "daily sync",
		Location:    "Room 1",
		Start:       time.Date(2025, time.January, 6, 9, 0, 0, 0, time.UTC),
		End:         time.Date(2025, time.January, 6, 10, 0, 0, 0, time.UTC),
		IsRecurring: true,
		Recurrence: &domain.Recurrence{
			Freq:       domain.FreqWeekly,
			Interval:   1,
			ByWeekdays: []time.Weekday{time.Monday, time.Wednesday},
		},
		RecurrenceEnd: &end,
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	series := exportSeries()

	slot := time.Date(2025, time.January, 8, 9, 0, 0, 0, time.UTC)
	seriesID := series.ID
	overrides := []*domain.Event{{
		ID:            42,
		Title:         "Standup (moved)",
		Start:         slot.Add(5 * time.Hour),
		End:           slot.Add(6 * time.Hour),
		SeriesID:      &seriesID,
		OriginalStart: &slot,
	}}
	exceptions := []*domain.RecurrenceException{
		{SeriesID: seriesID, Date: time.Date(2025, time.January, 13, 0, 0, 0, 0, time.UTC), IsDeleted: true},
		{SeriesID: seriesID, Date: time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC), IsDeleted: false},
	}

	cal, err := Export(series, overrides, exceptions)
	require.NoError(t, err)

	data, err := Encode(cal)
	require.NoError(t, err)
	assert.Contains(t, string(data), "BEGIN:VCALENDAR")

	decoded, err := Decode(data)
	require.NoError(t, err)
	parsed, err := Import(decoded)
	require.NoError(t, err)
	require.Len(t, parsed, 2)

	var master, override *ParsedEvent
	for i := range parsed {
		if parsed[i].OriginalStart == nil {
			master = &parsed[i]
		} else {
			override = &parsed[i]
		}
	}
	require.NotNil(t, master)
	require.NotNil(t, override)

	assert.Equal(t, "planora-7@planora.local", master.UID)
	assert.Equal(t, "Standup", master.Event.Title)
	assert.Equal(t, "daily sync", master.Event.Description)
	assert.Equal(t, "Room 1", master.Event.Location)
	assert.Equal(t, series.Start, master.Event.Start)
	assert.Equal(t, series.End, master.Event.End)
	assert.False(t, master.Event.AllDay)

	require.True(t, master.Event.IsRecurring)
	require.NotNil(t, master.Event.Recurrence)
	assert.Equal(t, domain.FreqWeekly, master.Event.Recurrence.Freq)
	assert.Equal(t, 1, master.Event.Recurrence.Interval)
	assert.ElementsMatch(t, []time.Weekday{time.Monday, time.Wednesday}, master.Event.Recurrence.ByWeekdays)
	require.NotNil(t, master.Event.RecurrenceEnd)

	// Only the deleted exception becomes an EXDATE, at the slot's instant.
	require.Len(t, master.ExDates, 1)
	assert.Equal(t, time.Date(2025, time.January, 13, 9, 0, 0, 0, time.UTC), master.ExDates[0])

	assert.Equal(t, master.UID, override.UID)
	assert.Equal(t, "Standup (moved)", override.Event.Title)
	assert.Equal(t, slot, *override.OriginalStart)
	assert.Equal(t, slot.Add(5*time.Hour), override.Event.Start)
	assert.False(t, override.Event.IsRecurring)
}

func TestExportEmitsRawRRule(t *testing.T) {
	cal, err := Export(exportSeries(), nil, nil)
	require.NoError(t, err)
	data, err := Encode(cal)
	require.NoError(t, err)

	wire := string(data)
	assert.Contains(t, wire, "RRULE:FREQ=WEEKLY")
	assert.NotContains(t, wire, "RRULE;VALUE=TEXT", "RRULE carries a RECUR value, not text")
	assert.NotContains(t, wire, `\;`, "rule separators must not be escaped")

	decoded, err := Decode(data)
	require.NoError(t, err)
	parsed, err := Import(decoded)
	require.NoError(t, err)
	require.Len(t, parsed, 1, "a series with a mangled rule would be dropped here")
	assert.True(t, parsed[0].Event.IsRecurring)
}

func TestExportUsesExistingCalDAVUID(t *testing.T) {
	series := exportSeries()
	series.CalDAVUID = "abc-123@example.org"

	cal, err := Export(series, nil, nil)
	require.NoError(t, err)
	parsed, err := Import(cal)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, "abc-123@example.org", parsed[0].UID)
}

func TestExportAllDayRoundTrip(t *testing.T) {
	e := &domain.Event{
		ID:     3,
		Title:  "Conference",
		Start:  time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2025, time.May, 3, 0, 0, 0, 0, time.UTC),
		AllDay: true,
	}

	cal, err := Export(e, nil, nil)
	require.NoError(t, err)
	data, err := Encode(cal)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	parsed, err := Import(decoded)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.True(t, parsed[0].Event.AllDay)
	assert.Equal(t, e.Start, parsed[0].Event.Start)
}

func TestImportSkipsUnparseableEvents(t *testing.T) {
	payload := "BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"PRODID:-//Test//Test//EN\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:good@example.org\r\n" +
		"DTSTAMP:20250106T000000Z\r\n" +
		"DTSTART:20250106T090000Z\r\n" +
		"DTEND:20250106T100000Z\r\n" +
		"SUMMARY:Keep me\r\n" +
		"END:VEVENT\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:norule@example.org\r\n" +
		"DTSTAMP:20250106T000000Z\r\n" +
		"DTSTART:20250106T090000Z\r\n" +
		"SUMMARY:Unsupported rule\r\n" +
		"RRULE:FREQ=YEARLY\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	cal, err := Decode([]byte(payload))
	require.NoError(t, err)
	parsed, err := Import(cal)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, "Keep me", parsed[0].Event.Title)
	// DTEND round-trips; a missing DTEND would collapse to the start.
	assert.Equal(t, time.Hour, parsed[0].Event.End.Sub(parsed[0].Event.Start))
}

func TestImportFloatingAndDateExdates(t *testing.T) {
	payload := "BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"PRODID:-//Test//Test//EN\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:exdates@example.org\r\n" +
		"DTSTAMP:20250106T000000Z\r\n" +
		"DTSTART:20250106T090000Z\r\n" +
		"SUMMARY:With exdates\r\n" +
		"RRULE:FREQ=DAILY\r\n" +
		"EXDATE:20250107T090000Z,20250108T090000\r\n" +
		"EXDATE;VALUE=DATE:20250109\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	cal, err := Decode([]byte(payload))
	require.NoError(t, err)
	parsed, err := Import(cal)
	require.NoError(t, err)
	require.Len(t, parsed, 1)

	assert.Equal(t, []time.Time{
		time.Date(2025, time.January, 7, 9, 0, 0, 0, time.UTC),
		time.Date(2025, time.January, 8, 9, 0, 0, 0, time.UTC),
		time.Date(2025, time.January, 9, 0, 0, 0, 0, time.UTC),
	}, parsed[0].ExDates)
}
