package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-slot-booking/internal/apperr"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
	activeSlotIndex     = "appointments_active_slot_uniq"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var specialty *string

	err := row.Scan(
		&d.ID,
		&d.Name,
		&specialty,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.Specialty = specialty
	return &d, nil
}

const appointmentCols = `id, doctor_id, patient_name, patient_phone, national_insurance, medical_policy,
	description, appointment_date, appointment_time, status, created_at, updated_at, completed_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a    Appointment
		date time.Time
		at   pgtype.Time
	)

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientName,
		&a.PatientPhone,
		&a.NationalInsurance,
		&a.MedicalPolicy,
		&a.Description,
		&date,
		&at,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date = schedule.DateOf(date)
	a.Time = schedule.ClockFromPg(at)
	return &a, nil
}

// mapWriteError turns constraint violations into domain errors.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == uniqueViolation && pgErr.ConstraintName == activeSlotIndex:
		return apperr.Conflict("already_booked")
	case pgErr.Code == foreignKeyViolation:
		return ErrDoctorNotFound
	}
	return err
}

// Interface methods

func (r *PgRepository) DoctorExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM doctors WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM doctors
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) CreateDoctor(ctx context.Context, d *Doctor) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO doctors (id, name, specialty, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING id, name, specialty, created_at, updated_at
	`, d.ID, d.Name, d.Specialty)

	created, err := scanDoctor(row)
	if err != nil {
		return fmt.Errorf("insert doctor: %w", err)
	}
	*d = *created
	return nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentCols+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) FindActiveAt(ctx context.Context, doctorID uuid.UUID, date schedule.Date, at schedule.Clock) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2
		  AND appointment_time = $3
		  AND status <> 'cancelled'
	`, doctorID, date.Time(), at.PgTime())
	return scanAppointment(row)
}

func (r *PgRepository) ListOccupancy(ctx context.Context, doctorID uuid.UUID, from, to schedule.Date) ([]schedule.Occupancy, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_date, appointment_time
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date BETWEEN $2 AND $3
		  AND status <> 'cancelled'
	`, doctorID, from.Time(), to.Time())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []schedule.Occupancy
	for rows.Next() {
		var (
			o    schedule.Occupancy
			date time.Time
			at   pgtype.Time
		)
		if err := rows.Scan(&o.AppointmentID, &date, &at); err != nil {
			return nil, err
		}
		o.Date = schedule.DateOf(date)
		o.Time = schedule.ClockFromPg(at)
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.DoctorID != uuid.Nil {
		add("doctor_id = $%d", f.DoctorID)
	}
	if !f.From.IsZero() {
		add("appointment_date >= $%d", f.From.Time())
	}
	if !f.To.IsZero() {
		add("appointment_date <= $%d", f.To.Time())
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}

	query := `SELECT ` + appointmentCols + ` FROM appointments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY appointment_date, appointment_time, created_at`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_name, patient_phone, national_insurance, medical_policy,
			description, appointment_date, appointment_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'scheduled', now(), now())
		RETURNING `+appointmentCols,
		a.ID, a.DoctorID, a.PatientName, a.PatientPhone, a.NationalInsurance, a.MedicalPolicy,
		a.Description, a.Date.Time(), a.Time.PgTime())

	created, err := scanAppointment(row)
	if err != nil {
		return mapWriteError(err)
	}
	*a = *created
	return nil
}

func (r *PgRepository) MoveAppointment(ctx context.Context, id uuid.UUID, date schedule.Date, at schedule.Clock) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET appointment_date = $2,
		    appointment_time = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'scheduled'
		RETURNING `+appointmentCols,
		id, date.Time(), at.PgTime())

	moved, err := scanAppointment(row)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return moved, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, description string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    description = $4,
		    completed_at = CASE WHEN $2 = 'completed' THEN now() ELSE completed_at END,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentCols,
		id, string(to), string(from), description)

	return scanAppointment(row)
}
