package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-booking/internal/apperr"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

// MemoryRepository keeps doctors and appointments in process. The slot
// uniqueness check runs under the write lock, mirroring the partial unique
// index of the Postgres schema.
type MemoryRepository struct {
	mu           sync.RWMutex
	doctors      map[uuid.UUID]Doctor
	appointments map[uuid.UUID]Appointment
	now          func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		doctors:      make(map[uuid.UUID]Doctor),
		appointments: make(map[uuid.UUID]Appointment),
		now:          time.Now,
	}
}

func (m *MemoryRepository) DoctorExists(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.doctors[id]
	return ok, nil
}

func (m *MemoryRepository) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (m *MemoryRepository) ListDoctors(_ context.Context) ([]Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Doctor, 0, len(m.doctors))
	for _, d := range m.doctors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryRepository) CreateDoctor(_ context.Context, d *Doctor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := m.now()
	d.CreatedAt, d.UpdatedAt = now, now
	m.doctors[d.ID] = *d
	return nil
}

func (m *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *MemoryRepository) holder(doctorID uuid.UUID, date schedule.Date, at schedule.Clock) (Appointment, bool) {
	for _, a := range m.appointments {
		if a.DoctorID == doctorID && a.Date == date && a.Time == at && a.Occupies() {
			return a, true
		}
	}
	return Appointment{}, false
}

func (m *MemoryRepository) FindActiveAt(_ context.Context, doctorID uuid.UUID, date schedule.Date, at schedule.Clock) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.holder(doctorID, date, at)
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *MemoryRepository) ListOccupancy(_ context.Context, doctorID uuid.UUID, from, to schedule.Date) ([]schedule.Occupancy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []schedule.Occupancy
	for _, a := range m.appointments {
		if a.DoctorID != doctorID || !a.Occupies() || a.Date.Before(from) || a.Date.After(to) {
			continue
		}
		out = append(out, schedule.Occupancy{AppointmentID: a.ID, Date: a.Date, Time: a.Time})
	}
	return out, nil
}

func (m *MemoryRepository) ListAppointments(_ context.Context, f ListFilter) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Appointment
	for _, a := range m.appointments {
		if f.DoctorID != uuid.Nil && a.DoctorID != f.DoctorID {
			continue
		}
		if !f.From.IsZero() && a.Date.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && a.Date.After(f.To) {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryRepository) CreateAppointment(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.doctors[a.DoctorID]; !ok {
		return ErrDoctorNotFound
	}
	if _, taken := m.holder(a.DoctorID, a.Date, a.Time); taken {
		return apperr.Conflict("already_booked")
	}

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := m.now()
	a.Status = StatusScheduled
	a.CreatedAt, a.UpdatedAt = now, now
	a.CompletedAt = nil
	m.appointments[a.ID] = *a
	return nil
}

func (m *MemoryRepository) MoveAppointment(_ context.Context, id uuid.UUID, date schedule.Date, at schedule.Clock) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok || a.Status != StatusScheduled {
		return nil, ErrAppointmentNotFound
	}
	if other, taken := m.holder(a.DoctorID, date, at); taken && other.ID != id {
		return nil, apperr.Conflict("already_booked")
	}

	a.Date = date
	a.Time = at
	a.UpdatedAt = m.now()
	m.appointments[id] = a
	return &a, nil
}

func (m *MemoryRepository) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, description string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}

	now := m.now()
	a.Status = to
	a.Description = description
	a.UpdatedAt = now
	if to == StatusCompleted {
		a.CompletedAt = &now
	}
	m.appointments[id] = a
	return &a, nil
}
