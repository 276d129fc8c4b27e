package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/planora/planora/internal/domain"
	"github.com/planora/planora/internal/logger"
	"github.com/planora/planora/internal/storage"
)

// SubtaskService resolves the per-occurrence checklist view and owns its
// write paths. Templates live on the series (or on the event itself when it
// is not recurring); completion is overlaid per occurrence.
type SubtaskService struct {
	storage *storage.Storage
}

func NewSubtaskService(s *storage.Storage) *SubtaskService {
	return &SubtaskService{storage: s}
}

// Resolve merges the template subtasks of the occurrence's owner, the
// occurrence's completion overlay, and its custom subtasks into one list
// ordered by sort order (stable; templates before customs on ties).
//
// When the template owner no longer exists, stale occurrence identities still
// resolve to an empty checklist rather than an error.
func (s *SubtaskService) Resolve(ctx context.Context, occurrenceID domain.OccurrenceID, seriesID *int64) ([]domain.SubtaskView, error) {
	ownerID := templateOwner(occurrenceID, seriesID)

	owner, err := s.storage.GetEvent(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("get template owner: %w", err)
	}
	if owner == nil {
		logger.Debug("subtask resolution against missing owner",
			zap.Int64("owner_id", ownerID),
			zap.String("occurrence_id", occurrenceID.String()))
		return []domain.SubtaskView{}, nil
	}

	templates, err := s.storage.ListSubtasks(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list subtasks: %w", err)
	}

	key := occurrenceID.String()
	states, err := s.storage.ListSubtaskStates(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("list subtask states: %w", err)
	}
	overlay := make(map[int64]*domain.SubtaskState, len(states))
	for _, st := range states {
		overlay[st.SubtaskID] = st
	}

	customs, err := s.storage.ListCustomSubtasks(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("list custom subtasks: %w", err)
	}

	views := make([]domain.SubtaskView, 0, len(templates)+len(customs))
	for _, t := range templates {
		v := domain.SubtaskView{
			Kind:      domain.SubtaskKindTemplate,
			SubtaskID: t.ID,
			Text:      t.Text,
			SortOrder: t.SortOrder,
		}
		if st, ok := overlay[t.ID]; ok {
			v.Completed = st.Completed
			v.CompletedAt = st.CompletedAt
			v.Notes = st.Notes
		} else if !owner.IsRecurring {
			// A standalone event is its only occurrence; its template
			// completion flag is the state unless overlaid.
			v.Completed = t.Completed
		}
		views = append(views, v)
	}
	for _, c := range customs {
		views = append(views, domain.SubtaskView{
			Kind:        domain.SubtaskKindCustom,
			SubtaskID:   c.ID,
			Text:        c.Text,
			Description: c.Description,
			SortOrder:   c.SortOrder,
			Completed:   c.Completed,
			CompletedAt: c.CompletedAt,
		})
	}

	sort.SliceStable(views, func(i, j int) bool {
		return views[i].SortOrder < views[j].SortOrder
	})
	return views, nil
}

func templateOwner(occurrenceID domain.OccurrenceID, seriesID *int64) int64 {
	switch {
	case seriesID != nil:
		return *seriesID
	case occurrenceID.IsVirtual():
		return occurrenceID.SeriesID()
	default:
		return occurrenceID.EventID()
	}
}

// AddSubtask appends a template subtask to an event's checklist.
func (s *SubtaskService) AddSubtask(ctx context.Context, eventID int64, text string, sortOrder int) (*domain.Subtask, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("subtask text must not be empty")
	}
	owner, err := s.storage.GetEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	if owner == nil {
		return nil, fmt.Errorf("event %d not found", eventID)
	}

	st := &domain.Subtask{EventID: eventID, Text: text, SortOrder: sortOrder}
	if err := s.storage.CreateSubtask(ctx, st); err != nil {
		return nil, fmt.Errorf("create subtask: %w", err)
	}
	return st, nil
}

func (s *SubtaskService) RemoveSubtask(ctx context.Context, id int64) error {
	return s.storage.SoftDeleteSubtask(ctx, id)
}

// Toggle upserts the completion overlay for one template subtask on one
// occurrence. CompletedAt is stamped when completion first turns on and
// cleared when it turns off; repeating the same call converges to the same
// row. Concurrent toggles of the same key are last-write-wins.
func (s *SubtaskService) Toggle(ctx context.Context, subtaskID int64, occurrenceID domain.OccurrenceID, completed bool, notes *string) (*domain.SubtaskState, error) {
	st, err := s.storage.UpsertSubtaskState(ctx, subtaskID, occurrenceID.String(), completed, notes, time.Now())
	if err != nil {
		return nil, fmt.Errorf("toggle subtask %d: %w", subtaskID, err)
	}
	return st, nil
}

// ToggleMany applies a batch of toggles against one occurrence atomically:
// either every overlay row is written or none are.
func (s *SubtaskService) ToggleMany(ctx context.Context, occurrenceID domain.OccurrenceID, toggles []domain.SubtaskToggle) ([]*domain.SubtaskState, error) {
	if len(toggles) == 0 {
		return nil, nil
	}
	states, err := s.storage.UpsertSubtaskStates(ctx, occurrenceID.String(), toggles, time.Now())
	if err != nil {
		return nil, fmt.Errorf("toggle batch: %w", err)
	}
	return states, nil
}

// AddCustom creates a subtask that exists only for the given occurrence.
func (s *SubtaskService) AddCustom(ctx context.Context, occurrenceID domain.OccurrenceID, text, description string, sortOrder int) (*domain.CustomSubtask, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("custom subtask text must not be empty")
	}
	cs := &domain.CustomSubtask{
		OccurrenceID: occurrenceID.String(),
		Text:         text,
		Description:  description,
		SortOrder:    sortOrder,
	}
	if err := s.storage.CreateCustomSubtask(ctx, cs); err != nil {
		return nil, fmt.Errorf("create custom subtask: %w", err)
	}
	return cs, nil
}

// ToggleCustom flips a custom subtask's completion within its occurrence.
func (s *SubtaskService) ToggleCustom(ctx context.Context, occurrenceID domain.OccurrenceID, id int64, completed bool) (*domain.CustomSubtask, error) {
	cs, err := s.storage.GetCustomSubtask(ctx, id, occurrenceID.String())
	if err != nil {
		return nil, fmt.Errorf("get custom subtask: %w", err)
	}
	if cs == nil {
		return nil, fmt.Errorf("custom subtask %d not found for occurrence %s", id, occurrenceID)
	}

	cs.Completed = completed
	if completed {
		if cs.CompletedAt == nil {
			now := time.Now().UTC()
			cs.CompletedAt = &now
		}
	} else {
		cs.CompletedAt = nil
	}
	if err := s.storage.UpdateCustomSubtask(ctx, cs); err != nil {
		return nil, fmt.Errorf("update custom subtask: %w", err)
	}
	return cs, nil
}

// UpdateCustom edits a custom subtask's text fields within its occurrence.
func (s *SubtaskService) UpdateCustom(ctx context.Context, occurrenceID domain.OccurrenceID, id int64, text, description string, sortOrder int) (*domain.CustomSubtask, error) {
	cs, err := s.storage.GetCustomSubtask(ctx, id, occurrenceID.String())
	if err != nil {
		return nil, fmt.Errorf("get custom subtask: %w", err)
	}
	if cs == nil {
		return nil, fmt.Errorf("custom subtask %d not found for occurrence %s", id, occurrenceID)
	}

	cs.Text = text
	cs.Description = description
	cs.SortOrder = sortOrder
	if err := s.storage.UpdateCustomSubtask(ctx, cs); err != nil {
		return nil, fmt.Errorf("update custom subtask: %w", err)
	}
	return cs, nil
}

func (s *SubtaskService) DeleteCustom(ctx context.Context, occurrenceID domain.OccurrenceID, id int64) error {
	return s.storage.DeleteCustomSubtask(ctx, id, occurrenceID.String())
}
