package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

type Doctor struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Specialty *string   `json:"specialty,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Patient holds the identifying fields copied onto every appointment.
type Patient struct {
	PatientName       string  `json:"patient_name"`
	PatientPhone      string  `json:"patient_phone"`
	NationalInsurance *string `json:"national_insurance,omitempty"`
	MedicalPolicy     *string `json:"medical_policy,omitempty"`
}

type Appointment struct {
	ID       uuid.UUID `json:"id"`
	DoctorID uuid.UUID `json:"doctor_id"`
	Patient
	Description string         `json:"description"`
	Date        schedule.Date  `json:"date"`
	Time        schedule.Clock `json:"time"`
	Status      Status         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Occupies reports whether the appointment holds its slot.
func (a Appointment) Occupies() bool {
	return a.Status != StatusCancelled
}

type AppointmentDetail struct {
	Appointment
	Doctor *Doctor `json:"doctor,omitempty"`
}

// ListFilter narrows ListAppointments. Zero values match everything.
type ListFilter struct {
	DoctorID uuid.UUID
	From     schedule.Date
	To       schedule.Date
	Status   Status
	Limit    int
}
