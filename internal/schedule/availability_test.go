package schedule

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-slot-booking/internal/apperr"
)

var projectorNow = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

type fakeOccupancy struct {
	mu    sync.Mutex
	rows  []Occupancy
	calls int
	err   error
}

func (f *fakeOccupancy) ListOccupancy(_ context.Context, _ uuid.UUID, from, to Date) ([]Occupancy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []Occupancy
	for _, o := range f.rows {
		if !o.Date.Before(from) && !o.Date.After(to) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeOccupancy) add(date Date, at Clock) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.rows = append(f.rows, Occupancy{AppointmentID: id, Date: date, Time: at})
	return id
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string][]byte)}
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mapCache) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, _ := strconv.ParseInt(string(c.data[key]), 10, 64)
	n++
	c.data[key] = []byte(strconv.FormatInt(n, 10))
	return n, nil
}

func (c *mapCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func (c *mapCache) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.data {
		if strings.HasPrefix(k, prefix) {
			delete(c.data, k)
		}
	}
	return nil
}

// days counts cached projections, leaving out generation counters.
func (c *mapCache) days() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.data {
		if strings.HasPrefix(k, "avail:") {
			n++
		}
	}
	return n
}

func newTestProjector(t *testing.T, repo *MemoryRepository, occ OccupancyReader, cache Cache) *Projector {
	t.Helper()
	grids, err := NewGridCache(16)
	require.NoError(t, err)
	return NewProjector(NewResolver(repo), occ, grids, ProjectorConfig{
		Cache:        cache,
		MaxRangeDays: 62,
		Now:          func() time.Time { return projectorNow },
		Logger:       zerolog.Nop(),
	})
}

func seedMonday(t *testing.T, repo *MemoryRepository, doctorID uuid.UUID) {
	t.Helper()
	err := repo.CreateWeeklyRule(context.Background(), &WeeklyRule{
		DoctorID:  doctorID,
		Weekday:   time.Monday,
		HoursSpec: spec(NewClock(8, 0), NewClock(16, 0), 20),
		Active:    true,
	})
	require.NoError(t, err)
}

func TestProjector_MondayScenario(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	occ := &fakeOccupancy{}
	doctorID := uuid.New()
	seedMonday(t, repo, doctorID)
	monday := mustDate(t, "2025-03-03")

	p := newTestProjector(t, repo, occ, nil)

	day, err := p.Day(ctx, doctorID, monday)
	require.NoError(t, err)
	assert.True(t, day.Working)
	assert.Equal(t, SourceWeekly, day.Source)
	assert.Len(t, day.Available, 24)
	assert.Empty(t, day.Booked)
	assert.Equal(t, NewClock(8, 0), day.Available[0])
	assert.Equal(t, NewClock(15, 40), day.Available[23])

	id := occ.add(monday, NewClock(10, 0))

	day, err = p.Day(ctx, doctorID, monday)
	require.NoError(t, err)
	assert.Len(t, day.Available, 23)
	assert.Equal(t, []Clock{NewClock(10, 0)}, day.Booked)
	assert.NotContains(t, day.Available, NewClock(10, 0))

	for _, s := range day.Slots {
		if s.Time == NewClock(10, 0) {
			require.NotNil(t, s.AppointmentID)
			assert.Equal(t, id, *s.AppointmentID)
			assert.True(t, s.Booked)
		}
	}
}

func TestProject_OccupancyOffGrid(t *testing.T) {
	monday := Date{Year: 2025, Month: time.March, Day: 3}
	id := uuid.New()
	occupied := map[Clock]uuid.UUID{NewClock(9, 10): id}

	closed := Project(Resolution{Date: monday, Source: SourceCalendar}, nil, occupied)
	assert.Empty(t, closed.Available)
	assert.Empty(t, closed.Slots)
	require.Len(t, closed.Outside, 1)
	assert.Equal(t, NewClock(9, 10), closed.Outside[0].Time)

	h := Hours{Start: NewClock(9, 0), End: NewClock(10, 0), SlotMinutes: 20}
	open := Project(Resolution{Date: monday, Working: true, Source: SourceWeekly, Hours: &h}, Generate(h), occupied)
	assert.Len(t, open.Available, 3)
	assert.Len(t, open.Outside, 1)
}

func TestProjector_RangeClosedDays(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	doctorID := uuid.New()
	seedMonday(t, repo, doctorID)

	p := newTestProjector(t, repo, &fakeOccupancy{}, nil)

	days, err := p.Range(ctx, doctorID, mustDate(t, "2025-03-03"), mustDate(t, "2025-03-09"))
	require.NoError(t, err)
	require.Len(t, days, 7)
	assert.True(t, days[0].Working)
	for _, d := range days[1:] {
		assert.False(t, d.Working, d.Date.String())
		assert.Empty(t, d.Available)
	}
}

func TestProjector_RangeValidation(t *testing.T) {
	ctx := context.Background()
	p := newTestProjector(t, NewMemoryRepository(), &fakeOccupancy{}, nil)
	doctorID := uuid.New()

	_, err := p.Range(ctx, doctorID, mustDate(t, "2025-03-10"), mustDate(t, "2025-03-03"))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = p.Range(ctx, doctorID, mustDate(t, "2025-01-01"), mustDate(t, "2025-03-31"))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = p.Range(ctx, doctorID, mustDate(t, "2025-01-01"), mustDate(t, "2025-03-03"))
	assert.NoError(t, err)
}

func TestProjector_OccupancyFailureIsPersistence(t *testing.T) {
	p := newTestProjector(t, NewMemoryRepository(), &fakeOccupancy{err: errors.New("connection reset")}, nil)

	_, err := p.Day(context.Background(), uuid.New(), mustDate(t, "2025-03-03"))
	assert.ErrorIs(t, err, apperr.ErrPersistence)
}

func TestProjector_CacheAndInvalidate(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	occ := &fakeOccupancy{}
	cache := newMapCache()
	doctorID := uuid.New()
	seedMonday(t, repo, doctorID)
	monday := mustDate(t, "2025-03-03")

	p := newTestProjector(t, repo, occ, cache)

	_, err := p.Range(ctx, doctorID, monday, monday.AddDays(1))
	require.NoError(t, err)
	assert.Equal(t, 1, occ.calls)
	assert.Equal(t, 2, cache.days())

	occ.add(monday, NewClock(8, 0))

	day, err := p.Day(ctx, doctorID, monday)
	require.NoError(t, err)
	assert.Equal(t, 1, occ.calls, "served from cache")
	assert.Len(t, day.Available, 24)

	p.Invalidate(ctx, doctorID, monday)
	assert.Equal(t, 1, cache.days())

	day, err = p.Day(ctx, doctorID, monday)
	require.NoError(t, err)
	assert.Equal(t, 2, occ.calls)
	assert.Len(t, day.Available, 23)

	// Tuesday's entry belongs to the retired generation.
	_, err = p.Day(ctx, doctorID, monday.AddDays(1))
	require.NoError(t, err)
	assert.Equal(t, 3, occ.calls)

	p.InvalidateDoctor(ctx, doctorID)
	assert.Equal(t, 0, cache.days())
}

// parkedOccupancy blocks its first read after loading, so a write can land
// between the load and the cache store.
type parkedOccupancy struct {
	*fakeOccupancy
	loaded chan struct{}
	resume chan struct{}
	once   sync.Once
}

func (p *parkedOccupancy) ListOccupancy(ctx context.Context, doctorID uuid.UUID, from, to Date) ([]Occupancy, error) {
	rows, err := p.fakeOccupancy.ListOccupancy(ctx, doctorID, from, to)
	p.once.Do(func() {
		close(p.loaded)
		<-p.resume
	})
	return rows, err
}

func (f *fakeOccupancy) remove(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.rows[:0]
	for _, o := range f.rows {
		if o.AppointmentID != id {
			kept = append(kept, o)
		}
	}
	f.rows = kept
}

func TestProjector_SnapshotLoadedBeforeWriteIsNotServed(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	doctorID := uuid.New()
	seedMonday(t, repo, doctorID)
	monday := mustDate(t, "2025-03-03")

	occ := &parkedOccupancy{fakeOccupancy: &fakeOccupancy{}, loaded: make(chan struct{}), resume: make(chan struct{})}
	id := occ.add(monday, NewClock(10, 0))
	p := newTestProjector(t, repo, occ, newMapCache())

	stale := make(chan DayAvailability, 1)
	go func() {
		day, err := p.Day(ctx, doctorID, monday)
		assert.NoError(t, err)
		stale <- day
	}()

	<-occ.loaded
	occ.remove(id)
	p.Invalidate(ctx, doctorID, monday)
	close(occ.resume)
	assert.Equal(t, []Clock{NewClock(10, 0)}, (<-stale).Booked)

	day, err := p.Day(ctx, doctorID, monday)
	require.NoError(t, err)
	assert.Empty(t, day.Booked)
	assert.Len(t, day.Available, 24)
}

func TestProjector_MarksPastSlots(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	occ := &fakeOccupancy{}
	doctorID := uuid.New()
	seedMonday(t, repo, doctorID)
	monday := mustDate(t, "2025-03-03")
	occ.add(monday, NewClock(8, 20))

	grids, err := NewGridCache(16)
	require.NoError(t, err)
	p := NewProjector(NewResolver(repo), occ, grids, ProjectorConfig{
		Cache:  newMapCache(),
		Now:    func() time.Time { return time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC) },
		Logger: zerolog.Nop(),
	})

	for _, attempt := range []string{"loaded", "cached"} {
		day, err := p.Day(ctx, doctorID, monday)
		require.NoError(t, err, attempt)
		assert.Equal(t, []Clock{NewClock(8, 0), NewClock(8, 40), NewClock(9, 0)}, day.Past, attempt)
		assert.Equal(t, []Clock{NewClock(8, 20)}, day.Booked, attempt)
		assert.Len(t, day.Available, 20, attempt)
		assert.Equal(t, NewClock(9, 20), day.Available[0], attempt)
		assert.True(t, day.Slots[1].Past, attempt)
		assert.False(t, day.Slots[4].Past, attempt)
	}
	assert.Equal(t, 1, occ.calls)
}
