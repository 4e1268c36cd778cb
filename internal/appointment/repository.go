package appointment

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	// Availability projection
	schedule.OccupancyReader

	// Doctors
	DoctorExists(ctx context.Context, id uuid.UUID) (bool, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	ListDoctors(ctx context.Context) ([]Doctor, error)
	CreateDoctor(ctx context.Context, d *Doctor) error

	// Reads
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// FindActiveAt returns the appointment holding the slot, or ErrAppointmentNotFound.
	FindActiveAt(ctx context.Context, doctorID uuid.UUID, date schedule.Date, at schedule.Clock) (*Appointment, error)
	ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error)

	// Writes. CreateAppointment and MoveAppointment return a SlotConflict
	// error when another active appointment holds the target slot.
	CreateAppointment(ctx context.Context, a *Appointment) error
	// MoveAppointment relocates a scheduled appointment. It returns
	// ErrAppointmentNotFound when the row is missing or no longer scheduled.
	MoveAppointment(ctx context.Context, id uuid.UUID, date schedule.Date, at schedule.Clock) (*Appointment, error)
	// UpdateStatus is a compare-and-set on status; a mismatch returns
	// ErrAppointmentNotFound.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, description string) (*Appointment, error)
}
