package domain

import "time"

// Event is a persisted calendar event. A recurring event (the "series") is the
// canonical definition all its occurrences are derived from. An override is an
// event row of its own that carries SeriesID and OriginalStart, replacing a
// single occurrence of that series.
type Event struct {
	ID          int64
	CalendarID  int64
	Title       string
	Description string
	Location    string
	Color       string
	Start       time.Time // UTC
	End         time.Time // UTC
	AllDay      bool

	IsRecurring   bool
	Recurrence    *Recurrence
	RecurrenceEnd *time.Time // inclusive, date-only

	// Override linkage. Both are nil on regular events.
	SeriesID      *int64
	OriginalStart *time.Time

	// CalDAVUID is the UID used when the event travels over ICS/CalDAV.
	CalDAVUID string

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// IsOverride reports whether the event replaces one occurrence of a series.
func (e *Event) IsOverride() bool {
	return e.SeriesID != nil && e.OriginalStart != nil
}

// Duration is the length of one occurrence.
func (e *Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// RecurrenceException marks that the occurrence of a series naturally falling
// on Date must be suppressed from expansion output. Unique per (series, date).
type RecurrenceException struct {
	ID         int64
	SeriesID   int64
	Date       time.Time // date-only, UTC
	IsDeleted  bool
	OverrideID *int64
	Reason     string
	CreatedAt  time.Time
}

// Occurrence is one concrete time-slot of an event: either a persisted
// override surfaced verbatim, or a virtual instance synthesized from the
// series. Both shapes carry the series id used as the subtask-template key.
type Occurrence struct {
	ID          OccurrenceID
	SeriesID    int64
	Title       string
	Description string
	Location    string
	Color       string
	Start       time.Time
	End         time.Time
	AllDay      bool
	Overridden  bool
}
