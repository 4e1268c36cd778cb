package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	uniqueViolation        = "23505"
	weeklyActiveConstraint = "weekly_rules_active_uniq"
	dailyDateConstraint    = "daily_overrides_doctor_date_uniq"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

// PgTime converts a Clock to a TIME parameter.
func (c Clock) PgTime() pgtype.Time {
	return pgtype.Time{Microseconds: int64(c) * int64(time.Minute/time.Microsecond), Valid: true}
}

// ClockFromPg converts a scanned TIME value to a Clock.
func ClockFromPg(t pgtype.Time) Clock {
	return Clock(t.Microseconds / int64(time.Minute/time.Microsecond))
}

func nullableClock(c *Clock) pgtype.Time {
	if c == nil {
		return pgtype.Time{}
	}
	return c.PgTime()
}

func clockPtr(t pgtype.Time) *Clock {
	if !t.Valid {
		return nil
	}
	c := ClockFromPg(t)
	return &c
}

func isConstraint(err error, name string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == name
}

const weeklyCols = `id, doctor_id, weekday, start_time, end_time, break_start, break_end, slot_minutes, active, created_at, updated_at`

func scanWeeklyRule(row pgx.Row) (*WeeklyRule, error) {
	var (
		r                  WeeklyRule
		weekday            int16
		start, end, bs, be pgtype.Time
	)
	err := row.Scan(&r.ID, &r.DoctorID, &weekday, &start, &end, &bs, &be, &r.SlotMinutes, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	r.Weekday = time.Weekday(weekday)
	r.StartTime = ClockFromPg(start)
	r.EndTime = ClockFromPg(end)
	r.BreakStart = clockPtr(bs)
	r.BreakEnd = clockPtr(be)
	return &r, nil
}

const dailyCols = `id, doctor_id, override_date, start_time, end_time, break_start, break_end, slot_minutes, active, created_at, updated_at`

func scanDailyOverride(row pgx.Row) (*DailyOverride, error) {
	var (
		o                  DailyOverride
		date               time.Time
		start, end, bs, be pgtype.Time
	)
	err := row.Scan(&o.ID, &o.DoctorID, &date, &start, &end, &bs, &be, &o.SlotMinutes, &o.Active, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOverrideNotFound
		}
		return nil, err
	}
	o.Date = DateOf(date)
	o.StartTime = ClockFromPg(start)
	o.EndTime = ClockFromPg(end)
	o.BreakStart = clockPtr(bs)
	o.BreakEnd = clockPtr(be)
	return &o, nil
}

const calendarCols = `doctor_id, override_date, is_working, note, updated_at`

func scanCalendarOverride(row pgx.Row) (*CalendarOverride, error) {
	var (
		c    CalendarOverride
		date time.Time
		note *string
	)
	err := row.Scan(&c.DoctorID, &date, &c.IsWorking, &note, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCalendarNotFound
		}
		return nil, err
	}
	c.Date = DateOf(date)
	if note != nil {
		c.Note = *note
	}
	return &c, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var result []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Interface methods

func (r *PgRepository) ListWeeklyRules(ctx context.Context, doctorID uuid.UUID) ([]WeeklyRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+weeklyCols+`
		FROM weekly_rules
		WHERE doctor_id = $1
		ORDER BY weekday, created_at
	`, doctorID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanWeeklyRule)
}

func (r *PgRepository) ListDailyOverrides(ctx context.Context, doctorID uuid.UUID, from, to Date) ([]DailyOverride, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+dailyCols+`
		FROM daily_overrides
		WHERE doctor_id = $1
		  AND override_date BETWEEN $2 AND $3
		ORDER BY override_date
	`, doctorID, from.Time(), to.Time())
	if err != nil {
		return nil, err
	}
	return collect(rows, scanDailyOverride)
}

func (r *PgRepository) ListCalendarOverrides(ctx context.Context, doctorID uuid.UUID, from, to Date) ([]CalendarOverride, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+calendarCols+`
		FROM calendar_overrides
		WHERE doctor_id = $1
		  AND override_date BETWEEN $2 AND $3
		ORDER BY override_date
	`, doctorID, from.Time(), to.Time())
	if err != nil {
		return nil, err
	}
	return collect(rows, scanCalendarOverride)
}

func (r *PgRepository) GetWeeklyRule(ctx context.Context, id uuid.UUID) (*WeeklyRule, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+weeklyCols+` FROM weekly_rules WHERE id = $1`, id)
	return scanWeeklyRule(row)
}

func (r *PgRepository) CreateWeeklyRule(ctx context.Context, rule *WeeklyRule) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO weekly_rules (id, doctor_id, weekday, start_time, end_time, break_start, break_end, slot_minutes, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING `+weeklyCols,
		uuid.New(), rule.DoctorID, int16(rule.Weekday), rule.StartTime.PgTime(), rule.EndTime.PgTime(),
		nullableClock(rule.BreakStart), nullableClock(rule.BreakEnd), rule.SlotMinutes, rule.Active)

	created, err := scanWeeklyRule(row)
	if err != nil {
		if isConstraint(err, weeklyActiveConstraint) {
			return ErrDuplicateActiveRule
		}
		return err
	}
	*rule = *created
	return nil
}

func (r *PgRepository) UpdateWeeklyRule(ctx context.Context, rule *WeeklyRule) error {
	row := r.pool.QueryRow(ctx, `
		UPDATE weekly_rules
		SET weekday = $2,
		    start_time = $3,
		    end_time = $4,
		    break_start = $5,
		    break_end = $6,
		    slot_minutes = $7,
		    active = $8,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+weeklyCols,
		rule.ID, int16(rule.Weekday), rule.StartTime.PgTime(), rule.EndTime.PgTime(),
		nullableClock(rule.BreakStart), nullableClock(rule.BreakEnd), rule.SlotMinutes, rule.Active)

	updated, err := scanWeeklyRule(row)
	if err != nil {
		if isConstraint(err, weeklyActiveConstraint) {
			return ErrDuplicateActiveRule
		}
		return err
	}
	*rule = *updated
	return nil
}

func (r *PgRepository) DeleteWeeklyRule(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM weekly_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (r *PgRepository) GetDailyOverride(ctx context.Context, id uuid.UUID) (*DailyOverride, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+dailyCols+` FROM daily_overrides WHERE id = $1`, id)
	return scanDailyOverride(row)
}

func (r *PgRepository) CreateDailyOverride(ctx context.Context, o *DailyOverride) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO daily_overrides (id, doctor_id, override_date, start_time, end_time, break_start, break_end, slot_minutes, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING `+dailyCols,
		uuid.New(), o.DoctorID, o.Date.Time(), o.StartTime.PgTime(), o.EndTime.PgTime(),
		nullableClock(o.BreakStart), nullableClock(o.BreakEnd), o.SlotMinutes, o.Active)

	created, err := scanDailyOverride(row)
	if err != nil {
		if isConstraint(err, dailyDateConstraint) {
			return ErrDuplicateOverride
		}
		return err
	}
	*o = *created
	return nil
}

func (r *PgRepository) UpdateDailyOverride(ctx context.Context, o *DailyOverride) error {
	row := r.pool.QueryRow(ctx, `
		UPDATE daily_overrides
		SET override_date = $2,
		    start_time = $3,
		    end_time = $4,
		    break_start = $5,
		    break_end = $6,
		    slot_minutes = $7,
		    active = $8,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+dailyCols,
		o.ID, o.Date.Time(), o.StartTime.PgTime(), o.EndTime.PgTime(),
		nullableClock(o.BreakStart), nullableClock(o.BreakEnd), o.SlotMinutes, o.Active)

	updated, err := scanDailyOverride(row)
	if err != nil {
		if isConstraint(err, dailyDateConstraint) {
			return ErrDuplicateOverride
		}
		return err
	}
	*o = *updated
	return nil
}

func (r *PgRepository) DeleteDailyOverride(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM daily_overrides WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOverrideNotFound
	}
	return nil
}

func (r *PgRepository) GetCalendarOverride(ctx context.Context, doctorID uuid.UUID, date Date) (*CalendarOverride, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+calendarCols+`
		FROM calendar_overrides
		WHERE doctor_id = $1 AND override_date = $2
	`, doctorID, date.Time())
	return scanCalendarOverride(row)
}

func (r *PgRepository) UpsertCalendarOverride(ctx context.Context, c *CalendarOverride) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO calendar_overrides (doctor_id, override_date, is_working, note, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), now())
		ON CONFLICT (doctor_id, override_date)
		DO UPDATE SET is_working = EXCLUDED.is_working,
		              note = EXCLUDED.note,
		              updated_at = now()
		RETURNING `+calendarCols,
		c.DoctorID, c.Date.Time(), c.IsWorking, c.Note)

	saved, err := scanCalendarOverride(row)
	if err != nil {
		return err
	}
	*c = *saved
	return nil
}

func (r *PgRepository) ToggleCalendarOverride(ctx context.Context, doctorID uuid.UUID, date Date, isWorkingIfNew bool) (*CalendarOverride, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO calendar_overrides (doctor_id, override_date, is_working, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (doctor_id, override_date)
		DO UPDATE SET is_working = NOT calendar_overrides.is_working,
		              updated_at = now()
		RETURNING `+calendarCols,
		doctorID, date.Time(), isWorkingIfNew)
	return scanCalendarOverride(row)
}

func (r *PgRepository) DeleteCalendarOverride(ctx context.Context, doctorID uuid.UUID, date Date) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM calendar_overrides
		WHERE doctor_id = $1 AND override_date = $2
	`, doctorID, date.Time())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCalendarNotFound
	}
	return nil
}

func (r *PgRepository) PruneOverridesBefore(ctx context.Context, cutoff Date) (int64, int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback(ctx)

	daily, err := tx.Exec(ctx, `DELETE FROM daily_overrides WHERE override_date < $1`, cutoff.Time())
	if err != nil {
		return 0, 0, err
	}
	calendar, err := tx.Exec(ctx, `DELETE FROM calendar_overrides WHERE override_date < $1`, cutoff.Time())
	if err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}
	return daily.RowsAffected(), calendar.RowsAffected(), nil
}
