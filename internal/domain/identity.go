package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// occurrenceDateLayout is the date part of a virtual occurrence key.
const occurrenceDateLayout = "2006-01-02"

// OccurrenceID identifies one occurrence. A real id points at a persisted
// event row (an override, or a non-recurring event acting as its own single
// occurrence). A virtual id is (series, date) for an occurrence that exists
// only as expansion output. It is serialized to text ("42" or "42_2025-01-08")
// at the storage boundary, where per-occurrence state is keyed by it.
type OccurrenceID struct {
	eventID  int64
	seriesID int64
	date     time.Time
	virtual  bool
}

// RealOccurrenceID identifies a persisted event row.
func RealOccurrenceID(eventID int64) OccurrenceID {
	return OccurrenceID{eventID: eventID}
}

// VirtualOccurrenceID identifies the synthesized occurrence of series on the
// given UTC date.
func VirtualOccurrenceID(seriesID int64, date time.Time) OccurrenceID {
	return OccurrenceID{seriesID: seriesID, date: DateOf(date), virtual: true}
}

// ParseOccurrenceID parses the textual form. Parsing is strict; a malformed
// key is an error rather than a guess.
func ParseOccurrenceID(s string) (OccurrenceID, error) {
	if s == "" {
		return OccurrenceID{}, fmt.Errorf("empty occurrence id")
	}
	if sep := strings.IndexByte(s, '_'); sep >= 0 {
		seriesID, err := strconv.ParseInt(s[:sep], 10, 64)
		if err != nil {
			return OccurrenceID{}, fmt.Errorf("occurrence id %q: bad series id: %w", s, err)
		}
		date, err := time.ParseInLocation(occurrenceDateLayout, s[sep+1:], time.UTC)
		if err != nil {
			return OccurrenceID{}, fmt.Errorf("occurrence id %q: bad date: %w", s, err)
		}
		return VirtualOccurrenceID(seriesID, date), nil
	}
	eventID, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return OccurrenceID{}, fmt.Errorf("occurrence id %q: %w", s, err)
	}
	return RealOccurrenceID(eventID), nil
}

// IsVirtual reports whether the occurrence has no row of its own.
func (o OccurrenceID) IsVirtual() bool { return o.virtual }

// EventID returns the persisted event row id; zero for virtual occurrences.
func (o OccurrenceID) EventID() int64 { return o.eventID }

// SeriesID returns the owning series id; zero for real occurrences, whose
// series linkage lives on the event row itself.
func (o OccurrenceID) SeriesID() int64 { return o.seriesID }

// Date returns the occurrence date of a virtual id; zero time otherwise.
func (o OccurrenceID) Date() time.Time { return o.date }

func (o OccurrenceID) String() string {
	if o.virtual {
		return strconv.FormatInt(o.seriesID, 10) + "_" + o.date.Format(occurrenceDateLayout)
	}
	return strconv.FormatInt(o.eventID, 10)
}
