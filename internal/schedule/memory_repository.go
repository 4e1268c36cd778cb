package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type calendarKey struct {
	doctorID uuid.UUID
	date     Date
}

// MemoryRepository keeps the schedule layers in process. It applies the same
// uniqueness rules as the Postgres indexes.
type MemoryRepository struct {
	mu       sync.RWMutex
	weekly   map[uuid.UUID]WeeklyRule
	daily    map[uuid.UUID]DailyOverride
	calendar map[calendarKey]CalendarOverride
	now      func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		weekly:   make(map[uuid.UUID]WeeklyRule),
		daily:    make(map[uuid.UUID]DailyOverride),
		calendar: make(map[calendarKey]CalendarOverride),
		now:      time.Now,
	}
}

func (m *MemoryRepository) ListWeeklyRules(_ context.Context, doctorID uuid.UUID) ([]WeeklyRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []WeeklyRule
	for _, r := range m.weekly {
		if r.DoctorID == doctorID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weekday != out[j].Weekday {
			return out[i].Weekday < out[j].Weekday
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryRepository) ListDailyOverrides(_ context.Context, doctorID uuid.UUID, from, to Date) ([]DailyOverride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []DailyOverride
	for _, o := range m.daily {
		if o.DoctorID == doctorID && !o.Date.Before(from) && !o.Date.After(to) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *MemoryRepository) ListCalendarOverrides(_ context.Context, doctorID uuid.UUID, from, to Date) ([]CalendarOverride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []CalendarOverride
	for k, c := range m.calendar {
		if k.doctorID == doctorID && !k.date.Before(from) && !k.date.After(to) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *MemoryRepository) GetWeeklyRule(_ context.Context, id uuid.UUID) (*WeeklyRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.weekly[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	return &r, nil
}

func (m *MemoryRepository) activeRuleConflict(r *WeeklyRule) bool {
	if !r.Active {
		return false
	}
	for id, other := range m.weekly {
		if id != r.ID && other.DoctorID == r.DoctorID && other.Weekday == r.Weekday && other.Active {
			return true
		}
	}
	return false
}

func (m *MemoryRepository) CreateWeeklyRule(_ context.Context, r *WeeklyRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r.ID = uuid.New()
	if m.activeRuleConflict(r) {
		return ErrDuplicateActiveRule
	}
	now := m.now()
	r.CreatedAt, r.UpdatedAt = now, now
	m.weekly[r.ID] = *r
	return nil
}

func (m *MemoryRepository) UpdateWeeklyRule(_ context.Context, r *WeeklyRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.weekly[r.ID]
	if !ok {
		return ErrRuleNotFound
	}
	r.DoctorID = cur.DoctorID
	if m.activeRuleConflict(r) {
		return ErrDuplicateActiveRule
	}
	r.CreatedAt = cur.CreatedAt
	r.UpdatedAt = m.now()
	m.weekly[r.ID] = *r
	return nil
}

func (m *MemoryRepository) DeleteWeeklyRule(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.weekly[id]; !ok {
		return ErrRuleNotFound
	}
	delete(m.weekly, id)
	return nil
}

func (m *MemoryRepository) GetDailyOverride(_ context.Context, id uuid.UUID) (*DailyOverride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.daily[id]
	if !ok {
		return nil, ErrOverrideNotFound
	}
	return &o, nil
}

func (m *MemoryRepository) dailyConflict(o *DailyOverride) bool {
	for id, other := range m.daily {
		if id != o.ID && other.DoctorID == o.DoctorID && other.Date == o.Date {
			return true
		}
	}
	return false
}

func (m *MemoryRepository) CreateDailyOverride(_ context.Context, o *DailyOverride) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o.ID = uuid.New()
	if m.dailyConflict(o) {
		return ErrDuplicateOverride
	}
	now := m.now()
	o.CreatedAt, o.UpdatedAt = now, now
	m.daily[o.ID] = *o
	return nil
}

func (m *MemoryRepository) UpdateDailyOverride(_ context.Context, o *DailyOverride) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.daily[o.ID]
	if !ok {
		return ErrOverrideNotFound
	}
	o.DoctorID = cur.DoctorID
	if m.dailyConflict(o) {
		return ErrDuplicateOverride
	}
	o.CreatedAt = cur.CreatedAt
	o.UpdatedAt = m.now()
	m.daily[o.ID] = *o
	return nil
}

func (m *MemoryRepository) DeleteDailyOverride(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.daily[id]; !ok {
		return ErrOverrideNotFound
	}
	delete(m.daily, id)
	return nil
}

func (m *MemoryRepository) GetCalendarOverride(_ context.Context, doctorID uuid.UUID, date Date) (*CalendarOverride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.calendar[calendarKey{doctorID, date}]
	if !ok {
		return nil, ErrCalendarNotFound
	}
	return &c, nil
}

func (m *MemoryRepository) UpsertCalendarOverride(_ context.Context, c *CalendarOverride) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c.UpdatedAt = m.now()
	m.calendar[calendarKey{c.DoctorID, c.Date}] = *c
	return nil
}

func (m *MemoryRepository) ToggleCalendarOverride(_ context.Context, doctorID uuid.UUID, date Date, isWorkingIfNew bool) (*CalendarOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := calendarKey{doctorID, date}
	c, ok := m.calendar[key]
	if ok {
		c.IsWorking = !c.IsWorking
	} else {
		c = CalendarOverride{DoctorID: doctorID, Date: date, IsWorking: isWorkingIfNew}
	}
	c.UpdatedAt = m.now()
	m.calendar[key] = c
	return &c, nil
}

func (m *MemoryRepository) DeleteCalendarOverride(_ context.Context, doctorID uuid.UUID, date Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := calendarKey{doctorID, date}
	if _, ok := m.calendar[key]; !ok {
		return ErrCalendarNotFound
	}
	delete(m.calendar, key)
	return nil
}

func (m *MemoryRepository) PruneOverridesBefore(_ context.Context, cutoff Date) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var daily, calendar int64
	for id, o := range m.daily {
		if o.Date.Before(cutoff) {
			delete(m.daily, id)
			daily++
		}
	}
	for k := range m.calendar {
		if k.date.Before(cutoff) {
			delete(m.calendar, k)
			calendar++
		}
	}
	return daily, calendar, nil
}
