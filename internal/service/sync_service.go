package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/planora/planora/internal/domain"
	"github.com/planora/planora/internal/ics"
	"github.com/planora/planora/internal/logger"
	"github.com/planora/planora/internal/storage"
)

// RemoteCalendar is the slice of the CalDAV client the sync path needs.
type RemoteCalendar interface {
	FetchEvents(ctx context.Context, calendarPath string, from, to time.Time) ([]ics.ParsedEvent, error)
}

// SyncService pulls a remote calendar into the local store. Remote events are
// matched to local rows by iCalendar UID; overrides are linked to their
// series through the same UID and their RECURRENCE-ID instant.
type SyncService struct {
	storage      *storage.Storage
	remote       RemoteCalendar
	calendarPath string
}

func NewSyncService(s *storage.Storage, remote RemoteCalendar, calendarPath string) *SyncService {
	return &SyncService{storage: s, remote: remote, calendarPath: calendarPath}
}

type SyncResult struct {
	Added   int
	Updated int
	Errors  []string
}

// Pull fetches remote VEVENTs in [from, to] and upserts them locally.
// Individual event failures are collected, not fatal.
func (s *SyncService) Pull(ctx context.Context, from, to time.Time) (*SyncResult, error) {
	parsed, err := s.remote.FetchEvents(ctx, s.calendarPath, from, to)
	if err != nil {
		return nil, fmt.Errorf("fetch remote events: %w", err)
	}

	result := &SyncResult{}

	// Masters first so overrides can resolve their series.
	for _, pe := range parsed {
		if pe.OriginalStart != nil {
			continue
		}
		if err := s.upsertMaster(ctx, pe, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("event %s: %v", pe.UID, err))
		}
	}
	for _, pe := range parsed {
		if pe.OriginalStart == nil {
			continue
		}
		if err := s.upsertOverride(ctx, pe, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("override %s: %v", pe.UID, err))
		}
	}

	logger.Info("calendar pull finished",
		zap.Int("added", result.Added),
		zap.Int("updated", result.Updated),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}

func (s *SyncService) upsertMaster(ctx context.Context, pe ics.ParsedEvent, result *SyncResult) error {
	local, err := s.storage.GetEventByCalDAVUID(ctx, pe.UID)
	if err != nil {
		return fmt.Errorf("lookup by uid: %w", err)
	}

	if local == nil {
		e := pe.Event
		if err := s.storage.CreateEvent(ctx, &e); err != nil {
			return fmt.Errorf("create: %w", err)
		}
		local = &e
		result.Added++
	} else {
		copyRemoteFields(local, pe.Event)
		if err := s.storage.UpdateEvent(ctx, local); err != nil {
			return fmt.Errorf("update: %w", err)
		}
		result.Updated++
	}

	// EXDATEs map onto deletion exceptions.
	for _, ex := range pe.ExDates {
		if err := s.storage.UpsertException(ctx, &domain.RecurrenceException{
			SeriesID:  local.ID,
			Date:      domain.DateOf(ex),
			IsDeleted: true,
			Reason:    "remote exdate",
		}); err != nil {
			return fmt.Errorf("upsert exception: %w", err)
		}
	}
	return nil
}

func (s *SyncService) upsertOverride(ctx context.Context, pe ics.ParsedEvent, result *SyncResult) error {
	series, err := s.storage.GetEventByCalDAVUID(ctx, pe.UID)
	if err != nil {
		return fmt.Errorf("lookup series by uid: %w", err)
	}
	if series == nil {
		return fmt.Errorf("no local series for uid")
	}

	existing, err := s.storage.GetOverrideByOriginalStart(ctx, series.ID, *pe.OriginalStart)
	if err != nil {
		return fmt.Errorf("lookup override: %w", err)
	}

	if existing == nil {
		e := pe.Event
		e.IsRecurring = false
		e.Recurrence = nil
		e.RecurrenceEnd = nil
		e.SeriesID = &series.ID
		e.OriginalStart = pe.OriginalStart
		e.CalendarID = series.CalendarID
		if err := s.storage.CreateEvent(ctx, &e); err != nil {
			return fmt.Errorf("create: %w", err)
		}
		result.Added++
		return nil
	}

	copyRemoteFields(existing, pe.Event)
	existing.IsRecurring = false
	existing.Recurrence = nil
	existing.RecurrenceEnd = nil
	if err := s.storage.UpdateEvent(ctx, existing); err != nil {
		return fmt.Errorf("update: %w", err)
	}
	result.Updated++
	return nil
}

// copyRemoteFields applies the remotely-owned fields onto a local row without
// touching local identity or linkage.
func copyRemoteFields(local *domain.Event, remote domain.Event) {
	local.Title = remote.Title
	local.Description = remote.Description
	local.Location = remote.Location
	local.Start = remote.Start
	local.End = remote.End
	local.AllDay = remote.AllDay
	local.IsRecurring = remote.IsRecurring
	local.Recurrence = remote.Recurrence
	local.RecurrenceEnd = remote.RecurrenceEnd
}
