package domain

import "time"

// Subtask is a checklist item owned by an event. For a recurring event the
// row is a template shared by every occurrence; per-occurrence completion is
// overlaid via SubtaskState. Completed on the template itself only matters
// when the owning event is non-recurring.
type Subtask struct {
	ID        int64
	EventID   int64
	Text      string
	SortOrder int
	Completed bool
	CreatedAt time.Time
	DeletedAt *time.Time
}

// SubtaskState is the per-occurrence completion overlay for a template
// subtask, unique per (subtask, occurrence). Rows are created lazily by
// upsert; absence means "not completed, no notes".
type SubtaskState struct {
	ID           int64
	SubtaskID    int64
	OccurrenceID string
	Completed    bool
	CompletedAt  *time.Time
	Overridden   bool
	Notes        *string
	UpdatedAt    time.Time
}

// CustomSubtask exists for exactly one occurrence and is never derived from a
// template. It is keyed by the occurrence identity alone.
type CustomSubtask struct {
	ID           int64
	OccurrenceID string
	Text         string
	Description  string
	SortOrder    int
	Completed    bool
	CompletedAt  *time.Time
	CreatedAt    time.Time
}

// SubtaskToggle is one entry of a batch completion write against a single
// occurrence.
type SubtaskToggle struct {
	SubtaskID int64
	Completed bool
	Notes     *string
}

type SubtaskKind string

const (
	SubtaskKindTemplate SubtaskKind = "template"
	SubtaskKindCustom   SubtaskKind = "custom"
)

// SubtaskView is one entry of the merged per-occurrence checklist: template
// subtasks with their overlay applied, plus the occurrence's custom subtasks,
// ordered by SortOrder.
type SubtaskView struct {
	Kind        SubtaskKind
	SubtaskID   int64
	Text        string
	Description string
	SortOrder   int
	Completed   bool
	CompletedAt *time.Time
	Notes       *string
}
