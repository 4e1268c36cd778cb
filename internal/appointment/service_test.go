package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-slot-booking/internal/apperr"
	"github.com/hackgods/clinic-slot-booking/internal/audit"
	"github.com/hackgods/clinic-slot-booking/internal/events"
	redisclient "github.com/hackgods/clinic-slot-booking/internal/redis"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

var (
	monday   = schedule.Date{Year: 2025, Month: time.March, Day: 3}
	tuesday  = schedule.Date{Year: 2025, Month: time.March, Day: 4}
	fixedNow = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
)

type fixture struct {
	svc       *Service
	repo      *MemoryRepository
	schedules *schedule.MemoryRepository
	projector *schedule.Projector
	audit     *audit.MemoryStore
	events    *events.Recorder
	doctorID  uuid.UUID
}

type fixtureOption func(*Deps)

func withLocker(l redisclient.Locker) fixtureOption {
	return func(d *Deps) { d.Locker = l }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	ctx := context.Background()

	repo := NewMemoryRepository()
	doc := &Doctor{Name: "Dr. Amina Rahimi"}
	require.NoError(t, repo.CreateDoctor(ctx, doc))

	schedules := schedule.NewMemoryRepository()
	require.NoError(t, schedules.CreateWeeklyRule(ctx, &schedule.WeeklyRule{
		DoctorID: doc.ID,
		Weekday:  time.Monday,
		HoursSpec: schedule.HoursSpec{
			StartTime:   schedule.NewClock(8, 0),
			EndTime:     schedule.NewClock(16, 0),
			SlotMinutes: 20,
		},
		Active: true,
	}))

	resolver := schedule.NewResolver(schedules)
	grids, err := schedule.NewGridCache(16)
	require.NoError(t, err)
	projector := schedule.NewProjector(resolver, repo, grids, schedule.ProjectorConfig{
		Location: time.UTC,
		Now:      func() time.Time { return fixedNow },
		Logger:   zerolog.Nop(),
	})

	store := audit.NewMemoryStore()
	rec := &events.Recorder{}

	deps := Deps{
		Repo:      repo,
		Resolver:  resolver,
		Projector: projector,
		Locker:    redisclient.NewLocalSlotLocker(time.Second),
		Audit:     audit.NewRecorder(store, zerolog.Nop()),
		Publisher: rec,
		Logger:    zerolog.Nop(),
		Location:  time.UTC,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	svc := NewService(deps)
	svc.now = func() time.Time { return fixedNow }

	return &fixture{
		svc:       svc,
		repo:      repo,
		schedules: schedules,
		projector: projector,
		audit:     store,
		events:    rec,
		doctorID:  doc.ID,
	}
}

func (f *fixture) request(date schedule.Date, at schedule.Clock) CreateRequest {
	return CreateRequest{
		DoctorID: f.doctorID,
		Patient: Patient{
			PatientName:  "Sara Karimi",
			PatientPhone: "+98 912 555 0101",
		},
		Description: "follow-up",
		Date:        date,
		Time:        at,
	}
}

func (f *fixture) book(t *testing.T, date schedule.Date, at schedule.Clock) *Appointment {
	t.Helper()
	a, err := f.svc.Create(context.Background(), f.request(date, at))
	require.NoError(t, err)
	return a
}

func conflictReason(t *testing.T, err error) string {
	t.Helper()
	require.ErrorIs(t, err, apperr.ErrSlotConflict)
	var cerr *apperr.ConflictError
	require.ErrorAs(t, err, &cerr)
	return cerr.Reason
}

// passthroughLocker runs fn without any locking so that only the storage
// guard stands between concurrent writers.
type passthroughLocker struct{}

func (passthroughLocker) WithSlotLock(ctx context.Context, _ string, fn func(context.Context) error) error {
	return fn(ctx)
}

type busyLocker struct{}

func (busyLocker) WithSlotLock(context.Context, string, func(context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

func TestMondayScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	day, err := f.projector.Day(ctx, f.doctorID, monday)
	require.NoError(t, err)
	assert.Len(t, day.Available, 24)
	assert.Empty(t, day.Booked)

	a := f.book(t, monday, schedule.NewClock(10, 0))

	day, err = f.projector.Day(ctx, f.doctorID, monday)
	require.NoError(t, err)
	assert.Len(t, day.Available, 23)
	assert.Equal(t, []schedule.Clock{schedule.NewClock(10, 0)}, day.Booked)
	assert.Equal(t, StatusScheduled, a.Status)
}

func TestCreate_ConcurrentSameSlot(t *testing.T) {
	lockers := map[string]redisclient.Locker{
		"local lock":    redisclient.NewLocalSlotLocker(time.Second),
		"storage guard": passthroughLocker{},
	}

	for name, locker := range lockers {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, withLocker(locker))
			const workers = 32

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				successes int
				conflicts int
				start     = make(chan struct{})
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					_, err := f.svc.Create(context.Background(), f.request(monday, schedule.NewClock(10, 0)))
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						successes++
					case errors.Is(err, apperr.ErrSlotConflict):
						conflicts++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			close(start)
			wg.Wait()

			assert.Equal(t, 1, successes)
			assert.Equal(t, workers-1, conflicts)

			active, err := f.repo.ListAppointments(context.Background(), ListFilter{DoctorID: f.doctorID, Status: StatusScheduled})
			require.NoError(t, err)
			assert.Len(t, active, 1)
		})
	}
}

func TestValidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	booked := f.book(t, monday, schedule.NewClock(10, 0))

	tests := []struct {
		name      string
		date      schedule.Date
		at        schedule.Clock
		exclude   uuid.UUID
		available bool
		reason    string
	}{
		{"free slot", monday, schedule.NewClock(8, 0), uuid.Nil, true, ""},
		{"past date", schedule.Date{Year: 2025, Month: time.February, Day: 24}, schedule.NewClock(8, 0), uuid.Nil, false, ReasonInPast},
		{"closed day", tuesday, schedule.NewClock(8, 0), uuid.Nil, false, ReasonDayClosed},
		{"off grid", monday, schedule.NewClock(10, 10), uuid.Nil, false, ReasonNotASlot},
		{"after hours", monday, schedule.NewClock(16, 0), uuid.Nil, false, ReasonNotASlot},
		{"booked", monday, schedule.NewClock(10, 0), uuid.Nil, false, ReasonAlreadyBooked},
		{"booked by excluded appointment", monday, schedule.NewClock(10, 0), booked.ID, true, ""},
		{"booked, other exclusion", monday, schedule.NewClock(10, 0), uuid.New(), false, ReasonAlreadyBooked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check, err := f.svc.Validate(ctx, f.doctorID, tt.date, tt.at, tt.exclude)
			require.NoError(t, err)
			assert.Equal(t, tt.available, check.Available)
			assert.Equal(t, tt.reason, check.Reason)
		})
	}

	_, err := f.svc.Validate(ctx, uuid.New(), monday, schedule.NewClock(8, 0), uuid.Nil)
	assert.ErrorIs(t, err, ErrDoctorNotFound)
}

func TestValidate_CalendarClosesDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.schedules.UpsertCalendarOverride(ctx, &schedule.CalendarOverride{DoctorID: f.doctorID, Date: monday}))

	check, err := f.svc.Validate(ctx, f.doctorID, monday, schedule.NewClock(8, 0), uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, ReasonDayClosed, check.Reason)

	_, err = f.svc.Create(ctx, f.request(monday, schedule.NewClock(8, 0)))
	assert.Equal(t, ReasonDayClosed, conflictReason(t, err))
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.request(monday, schedule.NewClock(8, 0))
	req.PatientPhone = ""
	req.PatientName = ""
	_, err := f.svc.Create(ctx, req)

	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "patient_phone")
	assert.Contains(t, verr.Fields, "patient_name")

	req = f.request(monday, schedule.NewClock(8, 0))
	req.PatientPhone = "call me"
	_, err = f.svc.Create(ctx, req)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	req = f.request(schedule.Date{}, schedule.NewClock(8, 0))
	_, err = f.svc.Create(ctx, req)
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "date")

	req = f.request(monday, schedule.NewClock(8, 0))
	req.DoctorID = uuid.New()
	_, err = f.svc.Create(ctx, req)
	assert.ErrorIs(t, err, ErrDoctorNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreate_LockBusy(t *testing.T) {
	f := newFixture(t, withLocker(busyLocker{}))

	_, err := f.svc.Create(context.Background(), f.request(monday, schedule.NewClock(8, 0)))
	assert.Equal(t, ReasonSlotBusy, conflictReason(t, err))
}

func TestReschedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, monday, schedule.NewClock(10, 0))
	other := f.book(t, monday, schedule.NewClock(11, 0))

	t.Run("onto its own slot", func(t *testing.T) {
		moved, err := f.svc.Reschedule(ctx, a.ID, monday, schedule.NewClock(10, 0))
		require.NoError(t, err)
		assert.Equal(t, a.ID, moved.ID)
		assert.Equal(t, schedule.NewClock(10, 0), moved.Time)
	})

	t.Run("onto a booked slot", func(t *testing.T) {
		_, err := f.svc.Reschedule(ctx, a.ID, monday, schedule.NewClock(11, 0))
		assert.Equal(t, ReasonAlreadyBooked, conflictReason(t, err))
	})

	t.Run("onto a free slot", func(t *testing.T) {
		moved, err := f.svc.Reschedule(ctx, a.ID, monday.AddDays(7), schedule.NewClock(9, 0))
		require.NoError(t, err)
		assert.Equal(t, a.ID, moved.ID)
		assert.Equal(t, a.CreatedAt, moved.CreatedAt)
		assert.Equal(t, a.Patient, moved.Patient)
		assert.Equal(t, monday.AddDays(7), moved.Date)

		check, err := f.svc.Validate(ctx, f.doctorID, monday, schedule.NewClock(10, 0), uuid.Nil)
		require.NoError(t, err)
		assert.True(t, check.Available, "old slot is free again")
	})

	t.Run("cancelled appointment cannot move", func(t *testing.T) {
		_, err := f.svc.Cancel(ctx, other.ID)
		require.NoError(t, err)

		_, err = f.svc.Reschedule(ctx, other.ID, monday, schedule.NewClock(12, 0))
		assert.ErrorIs(t, err, ErrInvalidStatusTransition)
	})

	t.Run("unknown appointment", func(t *testing.T) {
		_, err := f.svc.Reschedule(ctx, uuid.New(), monday, schedule.NewClock(12, 0))
		assert.ErrorIs(t, err, ErrAppointmentNotFound)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

func TestCancelFreesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, monday, schedule.NewClock(10, 0))

	cancelled, err := f.svc.Cancel(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.CompletedAt)

	again := f.book(t, monday, schedule.NewClock(10, 0))
	assert.NotEqual(t, a.ID, again.ID)

	_, err = f.svc.Cancel(ctx, a.ID)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCompleteKeepsSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, monday, schedule.NewClock(10, 0))

	done, err := f.svc.Complete(ctx, a.ID, CompleteRequest{Note: "prescribed rest"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, "follow-up\nprescribed rest", done.Description)

	evs := f.events.Events()
	require.NotEmpty(t, evs)
	assert.Equal(t, events.AppointmentCompleted, evs[len(evs)-1].Type)

	_, err = f.svc.Create(ctx, f.request(monday, schedule.NewClock(10, 0)))
	assert.Equal(t, ReasonAlreadyBooked, conflictReason(t, err))

	_, err = f.svc.Cancel(ctx, a.ID)
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, StatusCompleted, terr.From)
	assert.Equal(t, StatusCancelled, terr.To)
}

func TestClone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	source := f.book(t, monday, schedule.NewClock(10, 0))
	_, err := f.svc.Complete(ctx, source.ID, CompleteRequest{})
	require.NoError(t, err)

	clone, err := f.svc.Clone(ctx, source.ID, monday.AddDays(7), schedule.NewClock(10, 0))
	require.NoError(t, err)
	assert.NotEqual(t, source.ID, clone.ID)
	assert.Equal(t, source.Patient, clone.Patient)
	assert.Equal(t, StatusScheduled, clone.Status)

	_, err = f.svc.Cancel(ctx, clone.ID)
	require.NoError(t, err)

	after, err := f.repo.GetAppointmentByID(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, after.Status)
	assert.Equal(t, monday, after.Date)
	assert.Equal(t, schedule.NewClock(10, 0), after.Time)

	_, err = f.svc.Clone(ctx, source.ID, monday, schedule.NewClock(10, 0))
	assert.Equal(t, ReasonAlreadyBooked, conflictReason(t, err))

	_, err = f.svc.Clone(ctx, uuid.New(), monday, schedule.NewClock(12, 0))
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestAuditAndEvents(t *testing.T) {
	f := newFixture(t)
	ctx := audit.WithActor(context.Background(), audit.Actor{ID: "reception-7", Name: "Front desk"})

	a, err := f.svc.Create(ctx, f.request(monday, schedule.NewClock(10, 0)))
	require.NoError(t, err)
	_, err = f.svc.Reschedule(ctx, a.ID, monday, schedule.NewClock(10, 20))
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, a.ID)
	require.NoError(t, err)

	entries, err := f.audit.List(ctx, audit.Filter{SubjectID: a.ID.String()})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, audit.ActionCancel, entries[0].Action)
	assert.Equal(t, audit.ActionReschedule, entries[1].Action)
	assert.Equal(t, audit.ActionCreate, entries[2].Action)
	for _, e := range entries {
		assert.Equal(t, "reception-7", e.ActorID)
		assert.Equal(t, subjectAppointment, e.SubjectKind)
	}

	var types []string
	for _, ev := range f.events.Events() {
		types = append(types, ev.Type)
		assert.Equal(t, f.doctorID, ev.DoctorID)
	}
	assert.Equal(t, []string{events.AppointmentCreated, events.AppointmentRescheduled, events.AppointmentCancelled}, types)
}

func TestGetAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, monday, schedule.NewClock(10, 0))
	b := f.book(t, monday, schedule.NewClock(8, 0))
	_, err := f.svc.Cancel(ctx, b.ID)
	require.NoError(t, err)

	detail, err := f.svc.Get(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, detail.Doctor)
	assert.Equal(t, f.doctorID, detail.Doctor.ID)

	all, err := f.svc.List(ctx, ListFilter{DoctorID: f.doctorID})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b.ID, all[0].ID, "ordered by slot")

	scheduled, err := f.svc.List(ctx, ListFilter{DoctorID: f.doctorID, Status: StatusScheduled})
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.Equal(t, a.ID, scheduled[0].ID)

	_, err = f.svc.List(ctx, ListFilter{DoctorID: f.doctorID, Status: "pending"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.List(ctx, ListFilter{DoctorID: f.doctorID, From: tuesday, To: monday})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

// heldOccupancy parks the first availability read right after it loaded
// occupancy, so a write can commit before that read caches its snapshot.
type heldOccupancy struct {
	inner  schedule.OccupancyReader
	loaded chan struct{}
	resume chan struct{}
	once   sync.Once
}

func (h *heldOccupancy) ListOccupancy(ctx context.Context, doctorID uuid.UUID, from, to schedule.Date) ([]schedule.Occupancy, error) {
	rows, err := h.inner.ListOccupancy(ctx, doctorID, from, to)
	h.once.Do(func() {
		close(h.loaded)
		<-h.resume
	})
	return rows, err
}

func TestCancel_FreesSlotDespiteInFlightCachedRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, monday, schedule.NewClock(10, 0))

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	held := &heldOccupancy{inner: f.repo, loaded: make(chan struct{}), resume: make(chan struct{})}
	grids, err := schedule.NewGridCache(16)
	require.NoError(t, err)
	projector := schedule.NewProjector(schedule.NewResolver(f.schedules), held, grids, schedule.ProjectorConfig{
		Cache:    redisclient.NewCache(client),
		CacheTTL: time.Minute,
		Now:      func() time.Time { return fixedNow },
		Logger:   zerolog.Nop(),
	})
	f.svc.projector = projector

	inflight := make(chan error, 1)
	go func() {
		_, err := projector.Day(ctx, f.doctorID, monday)
		inflight <- err
	}()

	<-held.loaded
	_, err = f.svc.Cancel(ctx, a.ID)
	require.NoError(t, err)
	close(held.resume)
	require.NoError(t, <-inflight)

	day, err := projector.Day(ctx, f.doctorID, monday)
	require.NoError(t, err)
	assert.Empty(t, day.Booked)
	assert.Len(t, day.Available, 24)
	assert.Contains(t, day.Available, schedule.NewClock(10, 0))
}
