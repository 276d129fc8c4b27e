package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/planora/planora/internal/domain"
	"github.com/planora/planora/internal/expand"
	"github.com/planora/planora/internal/logger"
	"github.com/planora/planora/internal/storage"
)

// EventService owns the occurrence-level view of the calendar: it loads the
// persisted rows (series, overrides, exceptions), runs expansion, and handles
// the write paths that produce overrides and exceptions.
type EventService struct {
	storage *storage.Storage
}

func NewEventService(s *storage.Storage) *EventService {
	return &EventService{storage: s}
}

func (s *EventService) CreateEvent(ctx context.Context, e *domain.Event) error {
	if err := validateEvent(e); err != nil {
		return err
	}
	if err := s.storage.CreateEvent(ctx, e); err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

func (s *EventService) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	return s.storage.GetEvent(ctx, id)
}

func (s *EventService) UpdateEvent(ctx context.Context, e *domain.Event) error {
	if err := validateEvent(e); err != nil {
		return err
	}
	if err := s.storage.UpdateEvent(ctx, e); err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	return nil
}

func (s *EventService) DeleteEvent(ctx context.Context, id int64) error {
	return s.storage.SoftDeleteEvent(ctx, id)
}

func validateEvent(e *domain.Event) error {
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("event title must not be empty")
	}
	if e.End.Before(e.Start) {
		return fmt.Errorf("event end %s before start %s", e.End, e.Start)
	}
	if e.IsRecurring {
		if e.Recurrence == nil {
			return fmt.Errorf("%w: recurring event without a rule", domain.ErrInvalidRule)
		}
		if err := e.Recurrence.Validate(); err != nil {
			return err
		}
	}
	e.Start = e.Start.UTC()
	e.End = e.End.UTC()
	return nil
}

// OccurrencesBetween returns every occurrence whose start lies within
// [from, to]: non-recurring events as their own single occurrence, recurring
// series expanded against their overrides and exceptions. Ordered by start.
func (s *EventService) OccurrencesBetween(ctx context.Context, from, to time.Time) ([]domain.Occurrence, error) {
	from = from.UTC()
	to = to.UTC()

	singles, err := s.storage.ListSingleEventsInWindow(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	var occurrences []domain.Occurrence
	for _, e := range singles {
		occurrences = append(occurrences, domain.Occurrence{
			ID:          domain.RealOccurrenceID(e.ID),
			Title:       e.Title,
			Description: e.Description,
			Location:    e.Location,
			Color:       e.Color,
			Start:       e.Start,
			End:         e.End,
			AllDay:      e.AllDay,
		})
	}

	series, err := s.storage.ListRecurringSeries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}

	for _, master := range series {
		overrides, err := s.storage.ListOverrides(ctx, master.ID)
		if err != nil {
			return nil, fmt.Errorf("list overrides for series %d: %w", master.ID, err)
		}
		exceptions, err := s.storage.ListExceptions(ctx, master.ID)
		if err != nil {
			return nil, fmt.Errorf("list exceptions for series %d: %w", master.ID, err)
		}

		derefed := make([]domain.Event, 0, len(overrides))
		for _, ov := range overrides {
			derefed = append(derefed, *ov)
		}
		excs := make([]domain.RecurrenceException, 0, len(exceptions))
		for _, ex := range exceptions {
			excs = append(excs, *ex)
		}

		res := expand.Window(*master, expand.IndexOverrides(derefed), expand.ExceptionDates(excs), from, to)
		if res.Truncated {
			logger.Warn("occurrence expansion truncated at iteration cap",
				zap.Int64("series_id", master.ID),
				zap.Time("window_start", from),
				zap.Time("window_end", to))
		}
		occurrences = append(occurrences, res.Occurrences...)
	}

	sort.SliceStable(occurrences, func(i, j int) bool {
		return occurrences[i].Start.Before(occurrences[j].Start)
	})
	return occurrences, nil
}

// OccurrenceChange carries the fields a single-occurrence edit may override.
// Nil fields inherit from the series.
type OccurrenceChange struct {
	Title       *string
	Description *string
	Location    *string
	Color       *string
	Start       *time.Time
	End         *time.Time
	AllDay      *bool
}

// EditOccurrence materializes (or updates) the override for the series
// occurrence naturally falling on occurrenceDate.
func (s *EventService) EditOccurrence(ctx context.Context, seriesID int64, occurrenceDate time.Time, change OccurrenceChange) (*domain.Event, error) {
	master, err := s.storage.GetEvent(ctx, seriesID)
	if err != nil {
		return nil, fmt.Errorf("get series: %w", err)
	}
	if master == nil || !master.IsRecurring {
		return nil, fmt.Errorf("series %d not found", seriesID)
	}

	slot, err := s.occurrenceSlot(master, occurrenceDate)
	if err != nil {
		return nil, err
	}

	override, err := s.storage.GetOverrideByOriginalStart(ctx, seriesID, slot)
	if err != nil {
		return nil, fmt.Errorf("get override: %w", err)
	}
	if override == nil {
		override = &domain.Event{
			CalendarID:    master.CalendarID,
			Title:         master.Title,
			Description:   master.Description,
			Location:      master.Location,
			Color:         master.Color,
			Start:         slot,
			End:           slot.Add(master.Duration()),
			AllDay:        master.AllDay,
			SeriesID:      &master.ID,
			OriginalStart: &slot,
		}
		applyChange(override, change)
		if err := s.storage.CreateEvent(ctx, override); err != nil {
			return nil, fmt.Errorf("create override: %w", err)
		}
		return override, nil
	}

	applyChange(override, change)
	if err := s.storage.UpdateEvent(ctx, override); err != nil {
		return nil, fmt.Errorf("update override: %w", err)
	}
	return override, nil
}

// DeleteOccurrence suppresses one occurrence of a series: the deletion
// exception is recorded and the slot's override, if any, is soft-deleted in
// the same transaction.
func (s *EventService) DeleteOccurrence(ctx context.Context, seriesID int64, occurrenceDate time.Time, reason string) error {
	master, err := s.storage.GetEvent(ctx, seriesID)
	if err != nil {
		return fmt.Errorf("get series: %w", err)
	}
	if master == nil || !master.IsRecurring {
		return fmt.Errorf("series %d not found", seriesID)
	}

	slot, err := s.occurrenceSlot(master, occurrenceDate)
	if err != nil {
		return err
	}

	ex := &domain.RecurrenceException{
		SeriesID:  seriesID,
		Date:      domain.DateOf(slot),
		IsDeleted: true,
		Reason:    reason,
	}
	override, err := s.storage.GetOverrideByOriginalStart(ctx, seriesID, slot)
	if err != nil {
		return fmt.Errorf("get override: %w", err)
	}
	if override != nil {
		ex.OverrideID = &override.ID
	}

	if err := s.storage.SuppressOccurrence(ctx, ex); err != nil {
		return fmt.Errorf("suppress occurrence: %w", err)
	}
	return nil
}

// occurrenceSlot resolves the exact start instant of the series occurrence on
// the given date, verifying the rule actually produces that slot so override
// and exception rows always match an expandable instant.
func (s *EventService) occurrenceSlot(master *domain.Event, occurrenceDate time.Time) (time.Time, error) {
	date := domain.DateOf(occurrenceDate)
	start := master.Start.UTC()
	slot := date.Add(time.Duration(start.Hour())*time.Hour +
		time.Duration(start.Minute())*time.Minute +
		time.Duration(start.Second())*time.Second +
		time.Duration(start.Nanosecond()))

	res := expand.Window(*master, nil, nil, slot, slot)
	for _, occ := range res.Occurrences {
		if occ.Start.Equal(slot) {
			return slot, nil
		}
	}
	return time.Time{}, fmt.Errorf("series %d has no occurrence on %s", master.ID, date.Format("2006-01-02"))
}

func applyChange(e *domain.Event, ch OccurrenceChange) {
	if ch.Title != nil {
		e.Title = *ch.Title
	}
	if ch.Description != nil {
		e.Description = *ch.Description
	}
	if ch.Location != nil {
		e.Location = *ch.Location
	}
	if ch.Color != nil {
		e.Color = *ch.Color
	}
	if ch.Start != nil {
		e.Start = ch.Start.UTC()
	}
	if ch.End != nil {
		e.End = ch.End.UTC()
	}
	if ch.AllDay != nil {
		e.AllDay = *ch.AllDay
	}
}
