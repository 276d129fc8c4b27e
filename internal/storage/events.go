package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/planora/planora/internal/domain"
)

const eventColumns = `id, calendar_id, title, description, location, color,
	start_time, end_time, all_day, is_recurring, rrule, recurrence_end,
	series_id, original_start, caldav_uid, version, created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*domain.Event, error) {
	e := &domain.Event{}
	var (
		rrule     sql.NullString
		recEnd    sql.NullString
		seriesID  sql.NullInt64
		origStart sql.NullTime
		updatedAt sql.NullTime
		deletedAt sql.NullTime
	)
	err := row.Scan(
		&e.ID, &e.CalendarID, &e.Title, &e.Description, &e.Location, &e.Color,
		&e.Start, &e.End, &e.AllDay, &e.IsRecurring, &rrule, &recEnd,
		&seriesID, &origStart, &e.CalDAVUID, &e.Version, &e.CreatedAt, &updatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Start = e.Start.UTC()
	e.End = e.End.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	if updatedAt.Valid {
		e.UpdatedAt = updatedAt.Time.UTC()
	}
	e.SeriesID = intPtr(seriesID)
	e.OriginalStart = timePtr(origStart)
	e.DeletedAt = timePtr(deletedAt)

	if e.RecurrenceEnd, err = datePtr(recEnd); err != nil {
		return nil, err
	}
	if rrule.Valid && rrule.String != "" {
		rule, until, err := domain.ParseRRule(rrule.String)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", e.ID, err)
		}
		e.Recurrence = &rule
		if e.RecurrenceEnd == nil {
			e.RecurrenceEnd = until
		}
	}
	return e, nil
}

func eventRRule(e *domain.Event) (sql.NullString, error) {
	if e.Recurrence == nil {
		return sql.NullString{}, nil
	}
	text, err := e.Recurrence.RRuleString(nil)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: text, Valid: true}, nil
}

func (s *Storage) CreateEvent(ctx context.Context, e *domain.Event) error {
	rrule, err := eventRRule(e)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (calendar_id, title, description, location, color,
			start_time, end_time, all_day, is_recurring, rrule, recurrence_end,
			series_id, original_start, caldav_uid, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.CalendarID, e.Title, e.Description, e.Location, e.Color,
		e.Start.UTC(), e.End.UTC(), e.AllDay, e.IsRecurring, rrule, nullDate(e.RecurrenceEnd),
		nullInt(e.SeriesID), nullTime(e.OriginalStart), e.CalDAVUID, 1, now, now,
	)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	e.ID = id
	e.Version = 1
	e.CreatedAt = now
	e.UpdatedAt = now
	return nil
}

func (s *Storage) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = ? AND deleted_at IS NULL`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// UpdateEvent persists the row's mutable fields and bumps its version.
func (s *Storage) UpdateEvent(ctx context.Context, e *domain.Event) error {
	rrule, err := eventRRule(e)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET calendar_id = ?, title = ?, description = ?, location = ?,
			color = ?, start_time = ?, end_time = ?, all_day = ?, is_recurring = ?,
			rrule = ?, recurrence_end = ?, series_id = ?, original_start = ?,
			caldav_uid = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		e.CalendarID, e.Title, e.Description, e.Location,
		e.Color, e.Start.UTC(), e.End.UTC(), e.AllDay, e.IsRecurring,
		rrule, nullDate(e.RecurrenceEnd), nullInt(e.SeriesID), nullTime(e.OriginalStart),
		e.CalDAVUID, now, e.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("event %d not found", e.ID)
	}
	e.Version++
	e.UpdatedAt = now
	return nil
}

func (s *Storage) SoftDeleteEvent(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE events SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC(), id)
	return err
}

// ListSingleEventsInWindow returns non-recurring, non-override events that
// overlap [from, to].
func (s *Storage) ListSingleEventsInWindow(ctx context.Context, from, to time.Time) ([]*domain.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		WHERE deleted_at IS NULL AND is_recurring = 0 AND series_id IS NULL
			AND start_time <= ? AND end_time >= ?
		ORDER BY start_time`,
		to.UTC(), from.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ListRecurringSeries returns every live series master.
func (s *Storage) ListRecurringSeries(ctx context.Context) ([]*domain.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		WHERE deleted_at IS NULL AND is_recurring = 1 AND series_id IS NULL
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ListOverrides returns the live override rows of a series.
func (s *Storage) ListOverrides(ctx context.Context, seriesID int64) ([]*domain.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		WHERE deleted_at IS NULL AND series_id = ?
		ORDER BY original_start`,
		seriesID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (s *Storage) GetOverrideByOriginalStart(ctx context.Context, seriesID int64, originalStart time.Time) (*domain.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events
		WHERE deleted_at IS NULL AND series_id = ? AND original_start = ?`,
		seriesID, originalStart.UTC())
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Storage) GetEventByCalDAVUID(ctx context.Context, uid string) (*domain.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events
		WHERE deleted_at IS NULL AND caldav_uid = ? AND series_id IS NULL`, uid)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func collectEvents(rows *sql.Rows) ([]*domain.Event, error) {
	var events []*domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *Storage) ListExceptions(ctx context.Context, seriesID int64) ([]*domain.RecurrenceException, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, series_id, exception_date, is_deleted, override_id, reason, created_at
		FROM recurrence_exceptions WHERE series_id = ? ORDER BY exception_date`,
		seriesID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exceptions []*domain.RecurrenceException
	for rows.Next() {
		ex := &domain.RecurrenceException{}
		var date string
		var overrideID sql.NullInt64
		if err := rows.Scan(&ex.ID, &ex.SeriesID, &date, &ex.IsDeleted, &overrideID, &ex.Reason, &ex.CreatedAt); err != nil {
			return nil, err
		}
		ex.Date, err = time.ParseInLocation(dateLayout, date, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("exception %d: parse date %q: %w", ex.ID, date, err)
		}
		ex.OverrideID = intPtr(overrideID)
		ex.CreatedAt = ex.CreatedAt.UTC()
		exceptions = append(exceptions, ex)
	}
	return exceptions, rows.Err()
}

// UpsertException writes an exception row, unique per (series, date).
func (s *Storage) UpsertException(ctx context.Context, ex *domain.RecurrenceException) error {
	return s.upsertException(ctx, s.db, ex)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Storage) upsertException(ctx context.Context, db execer, ex *domain.RecurrenceException) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO recurrence_exceptions (series_id, exception_date, is_deleted, override_id, reason)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(series_id, exception_date) DO UPDATE SET
			is_deleted = excluded.is_deleted,
			override_id = excluded.override_id,
			reason = excluded.reason`,
		ex.SeriesID, ex.Date.UTC().Format(dateLayout), ex.IsDeleted, nullInt(ex.OverrideID), ex.Reason)
	return err
}

// SuppressOccurrence records the deletion exception for one occurrence and
// soft-deletes its override, if any, in a single transaction so the two rows
// cannot diverge.
func (s *Storage) SuppressOccurrence(ctx context.Context, ex *domain.RecurrenceException) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := s.upsertException(ctx, tx, ex); err != nil {
		return fmt.Errorf("upsert exception: %w", err)
	}
	if ex.OverrideID != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE events SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
			time.Now().UTC(), *ex.OverrideID); err != nil {
			return fmt.Errorf("delete override: %w", err)
		}
	}
	return tx.Commit()
}
