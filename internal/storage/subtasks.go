package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/planora/planora/internal/domain"
)

func (s *Storage) CreateSubtask(ctx context.Context, st *domain.Subtask) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subtasks (event_id, text, sort_order, completed) VALUES (?, ?, ?, ?)`,
		st.EventID, st.Text, st.SortOrder, st.Completed)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	st.ID = id
	st.CreatedAt = time.Now().UTC()
	return nil
}

func (s *Storage) GetSubtask(ctx context.Context, id int64) (*domain.Subtask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, event_id, text, sort_order, completed, created_at, deleted_at
		FROM subtasks WHERE id = ? AND deleted_at IS NULL`, id)
	st, err := scanSubtask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// ListSubtasks returns the live subtask templates of an event, ordered by
// sort order with creation order breaking ties.
func (s *Storage) ListSubtasks(ctx context.Context, eventID int64) ([]*domain.Subtask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, text, sort_order, completed, created_at, deleted_at
		FROM subtasks WHERE event_id = ? AND deleted_at IS NULL
		ORDER BY sort_order, id`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subtasks []*domain.Subtask
	for rows.Next() {
		st, err := scanSubtask(rows)
		if err != nil {
			return nil, err
		}
		subtasks = append(subtasks, st)
	}
	return subtasks, rows.Err()
}

func (s *Storage) UpdateSubtask(ctx context.Context, st *domain.Subtask) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subtasks SET text = ?, sort_order = ?, completed = ?
		WHERE id = ? AND deleted_at IS NULL`,
		st.Text, st.SortOrder, st.Completed, st.ID)
	return err
}

func (s *Storage) SoftDeleteSubtask(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subtasks SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC(), id)
	return err
}

func scanSubtask(row rowScanner) (*domain.Subtask, error) {
	st := &domain.Subtask{}
	var deletedAt sql.NullTime
	if err := row.Scan(&st.ID, &st.EventID, &st.Text, &st.SortOrder, &st.Completed, &st.CreatedAt, &deletedAt); err != nil {
		return nil, err
	}
	st.CreatedAt = st.CreatedAt.UTC()
	st.DeletedAt = timePtr(deletedAt)
	return st, nil
}

const subtaskStateColumns = `id, subtask_id, occurrence_id, completed, completed_at, overridden, notes, updated_at`

func scanSubtaskState(row rowScanner) (*domain.SubtaskState, error) {
	st := &domain.SubtaskState{}
	var completedAt sql.NullTime
	var notes sql.NullString
	if err := row.Scan(&st.ID, &st.SubtaskID, &st.OccurrenceID, &st.Completed, &completedAt, &st.Overridden, &notes, &st.UpdatedAt); err != nil {
		return nil, err
	}
	st.CompletedAt = timePtr(completedAt)
	st.Notes = stringPtr(notes)
	st.UpdatedAt = st.UpdatedAt.UTC()
	return st, nil
}

func (s *Storage) GetSubtaskState(ctx context.Context, subtaskID int64, occurrenceID string) (*domain.SubtaskState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subtaskStateColumns+` FROM subtask_states
		WHERE subtask_id = ? AND occurrence_id = ?`, subtaskID, occurrenceID)
	st, err := scanSubtaskState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// ListSubtaskStates returns every overlay row recorded against an occurrence.
func (s *Storage) ListSubtaskStates(ctx context.Context, occurrenceID string) ([]*domain.SubtaskState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subtaskStateColumns+` FROM subtask_states
		WHERE occurrence_id = ? ORDER BY subtask_id`, occurrenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*domain.SubtaskState
	for rows.Next() {
		st, err := scanSubtaskState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

type stateQuerier interface {
	execer
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// upsertSubtaskState writes one overlay row. A completion that is already
// recorded keeps its original completed_at; flipping back to incomplete
// clears it. Repeated identical calls converge to the same row.
func (s *Storage) upsertSubtaskState(ctx context.Context, db stateQuerier, subtaskID int64, occurrenceID string, completed bool, notes *string, now time.Time) (*domain.SubtaskState, error) {
	var completedAt sql.NullTime
	if completed {
		completedAt = sql.NullTime{Time: now, Valid: true}
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO subtask_states (subtask_id, occurrence_id, completed, completed_at, overridden, notes, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(subtask_id, occurrence_id) DO UPDATE SET
			completed = excluded.completed,
			completed_at = CASE
				WHEN excluded.completed = 0 THEN NULL
				WHEN subtask_states.completed = 1 THEN subtask_states.completed_at
				ELSE excluded.completed_at
			END,
			overridden = 1,
			notes = excluded.notes,
			updated_at = excluded.updated_at`,
		subtaskID, occurrenceID, completed, completedAt, nullString(notes), now)
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx,
		`SELECT `+subtaskStateColumns+` FROM subtask_states
		WHERE subtask_id = ? AND occurrence_id = ?`, subtaskID, occurrenceID)
	return scanSubtaskState(row)
}

func (s *Storage) UpsertSubtaskState(ctx context.Context, subtaskID int64, occurrenceID string, completed bool, notes *string, now time.Time) (*domain.SubtaskState, error) {
	return s.upsertSubtaskState(ctx, s.db, subtaskID, occurrenceID, completed, notes, now.UTC())
}

// UpsertSubtaskStates applies a batch of toggles against one occurrence in a
// single transaction. Any failure rolls the whole batch back; callers never
// observe a partially applied overlay.
func (s *Storage) UpsertSubtaskStates(ctx context.Context, occurrenceID string, toggles []domain.SubtaskToggle, now time.Time) ([]*domain.SubtaskState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now = now.UTC()
	states := make([]*domain.SubtaskState, 0, len(toggles))
	for _, t := range toggles {
		st, err := s.upsertSubtaskState(ctx, tx, t.SubtaskID, occurrenceID, t.Completed, t.Notes, now)
		if err != nil {
			return nil, fmt.Errorf("upsert state for subtask %d: %w", t.SubtaskID, err)
		}
		states = append(states, st)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return states, nil
}

func scanCustomSubtask(row rowScanner) (*domain.CustomSubtask, error) {
	cs := &domain.CustomSubtask{}
	var completedAt sql.NullTime
	if err := row.Scan(&cs.ID, &cs.OccurrenceID, &cs.Text, &cs.Description, &cs.SortOrder, &cs.Completed, &completedAt, &cs.CreatedAt); err != nil {
		return nil, err
	}
	cs.CompletedAt = timePtr(completedAt)
	cs.CreatedAt = cs.CreatedAt.UTC()
	return cs, nil
}

func (s *Storage) CreateCustomSubtask(ctx context.Context, cs *domain.CustomSubtask) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO custom_subtasks (occurrence_id, text, description, sort_order, completed, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		cs.OccurrenceID, cs.Text, cs.Description, cs.SortOrder, cs.Completed, nullTime(cs.CompletedAt))
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	cs.ID = id
	cs.CreatedAt = time.Now().UTC()
	return nil
}

func (s *Storage) GetCustomSubtask(ctx context.Context, id int64, occurrenceID string) (*domain.CustomSubtask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, occurrence_id, text, description, sort_order, completed, completed_at, created_at
		FROM custom_subtasks WHERE id = ? AND occurrence_id = ?`, id, occurrenceID)
	cs, err := scanCustomSubtask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cs, nil
}

// ListCustomSubtasks returns the custom subtasks of exactly one occurrence.
func (s *Storage) ListCustomSubtasks(ctx context.Context, occurrenceID string) ([]*domain.CustomSubtask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, occurrence_id, text, description, sort_order, completed, completed_at, created_at
		FROM custom_subtasks WHERE occurrence_id = ? ORDER BY sort_order, id`, occurrenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subtasks []*domain.CustomSubtask
	for rows.Next() {
		cs, err := scanCustomSubtask(rows)
		if err != nil {
			return nil, err
		}
		subtasks = append(subtasks, cs)
	}
	return subtasks, rows.Err()
}

// UpdateCustomSubtask updates a custom subtask only within its own
// occurrence; the occurrence id is part of the match, not just the row id.
func (s *Storage) UpdateCustomSubtask(ctx context.Context, cs *domain.CustomSubtask) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE custom_subtasks SET text = ?, description = ?, sort_order = ?, completed = ?, completed_at = ?
		WHERE id = ? AND occurrence_id = ?`,
		cs.Text, cs.Description, cs.SortOrder, cs.Completed, nullTime(cs.CompletedAt),
		cs.ID, cs.OccurrenceID)
	return err
}

func (s *Storage) DeleteCustomSubtask(ctx context.Context, id int64, occurrenceID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM custom_subtasks WHERE id = ? AND occurrence_id = ?`, id, occurrenceID)
	return err
}
