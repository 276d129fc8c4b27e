package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planora/planora/internal/domain"
)

func TestCreateEventValidation(t *testing.T) {
	st := newTestStorage(t)
	svc := NewEventService(st)
	ctx := context.Background()

	start := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

	err := svc.CreateEvent(ctx, &domain.Event{Title: "  ", Start: start, End: start.Add(time.Hour)})
	require.Error(t, err)

	err = svc.CreateEvent(ctx, &domain.Event{Title: "Backwards", Start: start, End: start.Add(-time.Hour)})
	require.Error(t, err)

	err = svc.CreateEvent(ctx, &domain.Event{Title: "No rule", Start: start, End: start.Add(time.Hour), IsRecurring: true})
	require.ErrorIs(t, err, domain.ErrInvalidRule)

	err = svc.CreateEvent(ctx, &domain.Event{
		Title: "Bad rule", Start: start, End: start.Add(time.Hour),
		IsRecurring: true,
		Recurrence:  &domain.Recurrence{Freq: "YEARLY", Interval: 1},
	})
	require.ErrorIs(t, err, domain.ErrInvalidRule)
}

func TestOccurrencesBetweenMixesSinglesAndSeries(t *testing.T) {
	st := newTestStorage(t)
	svc := NewEventService(st)
	ctx := context.Background()

	series := createWeeklySeries(t, st) // Mon/Wed 09:00 from 2025-01-06

	single := &domain.Event{
		Title: "Dentist",
		Start: time.Date(2025, time.January, 7, 8, 0, 0, 0, time.UTC),
		End:   time.Date(2025, time.January, 7, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, svc.CreateEvent(ctx, single))

	occs, err := svc.OccurrencesBetween(ctx,
		time.Date(2025, time.January, 6, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.January, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, occs, 3)

	assert.Equal(t, "Standup", occs[0].Title)
	assert.Equal(t, time.Date(2025, time.January, 6, 9, 0, 0, 0, time.UTC), occs[0].Start)
	assert.Equal(t, "Dentist", occs[1].Title)
	assert.False(t, occs[1].ID.IsVirtual())
	assert.Equal(t, "Standup", occs[2].Title)
	assert.Equal(t, domain.VirtualOccurrenceID(series.ID, occs[2].Start).String(), occs[2].ID.String())
}

func TestEditOccurrenceCreatesOverride(t *testing.T) {
	st := newTestStorage(t)
	svc := NewEventService(st)
	ctx := context.Background()

	series := createWeeklySeries(t, st)

	title := "Standup (moved)"
	newStart := time.Date(2025, time.January, 8, 14, 0, 0, 0, time.UTC)
	newEnd := newStart.Add(30 * time.Minute)
	override, err := svc.EditOccurrence(ctx, series.ID,
		time.Date(2025, time.January, 8, 0, 0, 0, 0, time.UTC),
		OccurrenceChange{Title: &title, Start: &newStart, End: &newEnd})
	require.NoError(t, err)
	require.NotNil(t, override.SeriesID)
	assert.Equal(t, series.ID, *override.SeriesID)
	require.NotNil(t, override.OriginalStart)
	assert.Equal(t, time.Date(2025, time.January, 8, 9, 0, 0, 0, time.UTC), *override.OriginalStart)

	occs, err := svc.OccurrencesBetween(ctx,
		time.Date(2025, time.January, 6, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.January, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, occs, 2)

	assert.Equal(t, "Standup", occs[0].Title)
	assert.Equal(t, title, occs[1].Title)
	assert.True(t, occs[1].Overridden)
	assert.False(t, occs[1].ID.IsVirtual())
	assert.Equal(t, newStart, occs[1].Start)
}

func TestEditOccurrenceUpdatesExistingOverride(t *testing.T) {
	st := newTestStorage(t)
	svc := NewEventService(st)
	ctx := context.Background()

	series := createWeeklySeries(t, st)
	date := time.Date(2025, time.January, 8, 0, 0, 0, 0, time.UTC)

	first := "First edit"
	created, err := svc.EditOccurrence(ctx, series.ID, date, OccurrenceChange{Title: &first})
	require.NoError(t, err)

	second := "Second edit"
	updated, err := svc.EditOccurrence(ctx, series.ID, date, OccurrenceChange{Title: &second})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID, "edits converge on one override row")
	assert.Equal(t, second, updated.Title)
}

func TestEditOccurrenceRejectsOffRuleDate(t *testing.T) {
	st := newTestStorage(t)
	svc := NewEventService(st)
	ctx := context.Background()

	series := createWeeklySeries(t, st)

	title := "nope"
	// 2025-01-07 is a Tuesday; the rule only yields Mon/Wed.
	_, err := svc.EditOccurrence(ctx, series.ID,
		time.Date(2025, time.January, 7, 0, 0, 0, 0, time.UTC),
		OccurrenceChange{Title: &title})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no occurrence")
}

func TestDeleteOccurrenceSuppressesSlot(t *testing.T) {
	st := newTestStorage(t)
	svc := NewEventService(st)
	ctx := context.Background()

	series := createWeeklySeries(t, st)

	require.NoError(t, svc.DeleteOccurrence(ctx, series.ID,
		time.Date(2025, time.January, 8, 0, 0, 0, 0, time.UTC), "skipped"))

	occs, err := svc.OccurrencesBetween(ctx,
		time.Date(2025, time.January, 6, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.January, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, occs, 1)
	assert.Equal(t, time.Date(2025, time.January, 6, 9, 0, 0, 0, time.UTC), occs[0].Start)
}

func TestDeleteOccurrenceRemovesItsOverride(t *testing.T) {
	st := newTestStorage(t)
	svc := NewEventService(st)
	ctx := context.Background()

	series := createWeeklySeries(t, st)
	date := time.Date(2025, time.January, 8, 0, 0, 0, 0, time.UTC)

	title := "Standup (moved)"
	override, err := svc.EditOccurrence(ctx, series.ID, date, OccurrenceChange{Title: &title})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteOccurrence(ctx, series.ID, date, ""))

	gone, err := svc.GetEvent(ctx, override.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	occs, err := svc.OccurrencesBetween(ctx,
		time.Date(2025, time.January, 6, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.January, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, occs, 1)
}

func TestDeleteOccurrenceUnknownSeries(t *testing.T) {
	st := newTestStorage(t)
	svc := NewEventService(st)

	err := svc.DeleteOccurrence(context.Background(), 999999,
		time.Date(2025, time.January, 8, 0, 0, 0, 0, time.UTC), "")
	require.Error(t, err)
}
