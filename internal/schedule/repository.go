package schedule

import (
	"context"

	"github.com/google/uuid"
)

// Repository contains all storage interactions of the schedule layers.
type Repository interface {
	SourceReader

	GetWeeklyRule(ctx context.Context, id uuid.UUID) (*WeeklyRule, error)
	// CreateWeeklyRule and UpdateWeeklyRule return ErrDuplicateActiveRule when
	// the write would leave two active rules on one weekday.
	CreateWeeklyRule(ctx context.Context, r *WeeklyRule) error
	UpdateWeeklyRule(ctx context.Context, r *WeeklyRule) error
	DeleteWeeklyRule(ctx context.Context, id uuid.UUID) error

	GetDailyOverride(ctx context.Context, id uuid.UUID) (*DailyOverride, error)
	// CreateDailyOverride returns ErrDuplicateOverride for a second override
	// on the same (doctor, date).
	CreateDailyOverride(ctx context.Context, o *DailyOverride) error
	UpdateDailyOverride(ctx context.Context, o *DailyOverride) error
	DeleteDailyOverride(ctx context.Context, id uuid.UUID) error

	GetCalendarOverride(ctx context.Context, doctorID uuid.UUID, date Date) (*CalendarOverride, error)
	UpsertCalendarOverride(ctx context.Context, c *CalendarOverride) error
	// ToggleCalendarOverride flips is_working in one statement. When no row
	// exists it is created with isWorkingIfNew.
	ToggleCalendarOverride(ctx context.Context, doctorID uuid.UUID, date Date, isWorkingIfNew bool) (*CalendarOverride, error)
	DeleteCalendarOverride(ctx context.Context, doctorID uuid.UUID, date Date) error

	// PruneOverridesBefore deletes daily and calendar overrides dated before cutoff.
	PruneOverridesBefore(ctx context.Context, cutoff Date) (daily, calendar int64, err error)
}
