package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planora/planora/internal/domain"
	"github.com/planora/planora/internal/ics"
)

type fakeRemote struct {
	events []ics.ParsedEvent
	err    error
}

func (f *fakeRemote) FetchEvents(_ context.Context, _ string, _, _ time.Time) ([]ics.ParsedEvent, error) {
	return f.events, f.err
}

func remoteSeries(uid string) ics.ParsedEvent {
	return ics.ParsedEvent{
		UID: uid,
		Event: domain.Event{
			Title:       "Remote standup",
			Start:       time.Date(2025, time.January, 6, 9, 0, 0, 0, time.UTC),
			End:         time.Date(2025, time.January, 6, 10, 0, 0, 0, time.UTC),
			IsRecurring: true,
			Recurrence: &domain.Recurrence{
				Freq:       domain.FreqWeekly,
				Interval:   1,
				ByWeekdays: []time.Weekday{time.Monday, time.Wednesday},
			},
			CalDAVUID: uid,
		},
	}
}

func TestPullCreatesSeriesAndLinksOverride(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()

	slot := time.Date(2025, time.January, 8, 9, 0, 0, 0, time.UTC)
	moved := slot.Add(2 * time.Hour)
	override := ics.ParsedEvent{
		UID: "series@remote",
		Event: domain.Event{
			Title:     "Remote standup (moved)",
			Start:     moved,
			End:       moved.Add(time.Hour),
			CalDAVUID: "series@remote",
		},
		OriginalStart: &slot,
	}

	remote := &fakeRemote{events: []ics.ParsedEvent{
		// Override listed first on purpose: masters must still be applied
		// before overrides resolve their series.
		override,
		remoteSeries("series@remote"),
	}}
	sync := NewSyncService(st, remote, "/calendars/home/")

	res, err := sync.Pull(ctx,
		time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Added)
	assert.Zero(t, res.Updated)
	assert.Empty(t, res.Errors)

	series, err := st.GetEventByCalDAVUID(ctx, "series@remote")
	require.NoError(t, err)
	require.NotNil(t, series)
	assert.True(t, series.IsRecurring)

	stored, err := st.GetOverrideByOriginalStart(ctx, series.ID, slot)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "Remote standup (moved)", stored.Title)
	assert.False(t, stored.IsRecurring)
	require.NotNil(t, stored.SeriesID)
	assert.Equal(t, series.ID, *stored.SeriesID)
}

func TestPullUpdatesExistingRows(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()

	remote := &fakeRemote{events: []ics.ParsedEvent{remoteSeries("series@remote")}}
	sync := NewSyncService(st, remote, "/calendars/home/")

	from := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)

	res, err := sync.Pull(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)

	changed := remoteSeries("series@remote")
	changed.Event.Title = "Remote standup v2"
	remote.events = []ics.ParsedEvent{changed}

	res, err = sync.Pull(ctx, from, to)
	require.NoError(t, err)
	assert.Zero(t, res.Added)
	assert.Equal(t, 1, res.Updated)

	series, err := st.GetEventByCalDAVUID(ctx, "series@remote")
	require.NoError(t, err)
	require.NotNil(t, series)
	assert.Equal(t, "Remote standup v2", series.Title)
}

func TestPullTurnsExdatesIntoExceptions(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()

	pe := remoteSeries("series@remote")
	pe.ExDates = []time.Time{time.Date(2025, time.January, 8, 9, 0, 0, 0, time.UTC)}
	remote := &fakeRemote{events: []ics.ParsedEvent{pe}}
	sync := NewSyncService(st, remote, "/calendars/home/")

	_, err := sync.Pull(ctx,
		time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	series, err := st.GetEventByCalDAVUID(ctx, "series@remote")
	require.NoError(t, err)
	require.NotNil(t, series)

	exceptions, err := st.ListExceptions(ctx, series.ID)
	require.NoError(t, err)
	require.Len(t, exceptions, 1)
	assert.True(t, exceptions[0].IsDeleted)
	assert.Equal(t, time.Date(2025, time.January, 8, 0, 0, 0, 0, time.UTC), exceptions[0].Date)

	// The suppressed slot must no longer expand.
	occs, err := NewEventService(st).OccurrencesBetween(ctx,
		time.Date(2025, time.January, 6, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.January, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, occs, 1)
	assert.Equal(t, time.Date(2025, time.January, 6, 9, 0, 0, 0, time.UTC), occs[0].Start)
}

func TestPullCollectsPerEventErrors(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()

	slot := time.Date(2025, time.January, 8, 9, 0, 0, 0, time.UTC)
	orphan := ics.ParsedEvent{
		UID: "unknown@remote",
		Event: domain.Event{
			Title: "Orphan override", Start: slot, End: slot.Add(time.Hour),
			CalDAVUID: "unknown@remote",
		},
		OriginalStart: &slot,
	}
	remote := &fakeRemote{events: []ics.ParsedEvent{remoteSeries("series@remote"), orphan}}
	sync := NewSyncService(st, remote, "/calendars/home/")

	res, err := sync.Pull(ctx,
		time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "unknown@remote")
}

func TestPullFetchFailureIsFatal(t *testing.T) {
	st := newTestStorage(t)
	sync := NewSyncService(st, &fakeRemote{err: errors.New("remote down")}, "/calendars/home/")

	_, err := sync.Pull(context.Background(),
		time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
}
