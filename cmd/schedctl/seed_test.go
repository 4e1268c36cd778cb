package main

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/audit"
	redisclient "github.com/hackgods/clinic-slot-booking/internal/redis"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

func TestSeeder_Run(t *testing.T) {
	ctx := context.Background()

	repo := appointment.NewMemoryRepository()
	schedules := schedule.NewMemoryRepository()
	resolver := schedule.NewResolver(schedules)
	grids, err := schedule.NewGridCache(16)
	require.NoError(t, err)
	projector := schedule.NewProjector(resolver, repo, grids, schedule.ProjectorConfig{Logger: zerolog.Nop()})
	store := audit.NewMemoryStore()
	recorder := audit.NewRecorder(store, zerolog.Nop())

	bookings := appointment.NewService(appointment.Deps{
		Repo:      repo,
		Resolver:  resolver,
		Projector: projector,
		Locker:    redisclient.NewLocalSlotLocker(time.Second),
		Audit:     recorder,
		Logger:    zerolog.Nop(),
		Location:  time.UTC,
	})
	schedSvc := schedule.NewService(schedules, repo, projector, recorder, nil, zerolog.Nop())

	s := newSeeder(repo, schedSvc, bookings, time.UTC, seedOptions{Doctors: 3, Days: 7, Fill: 1, Seed: 42})
	res, err := s.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Doctors)
	assert.Equal(t, 15, res.WeeklyRules)
	assert.Positive(t, res.Appointments)

	doctors, err := repo.ListDoctors(ctx)
	require.NoError(t, err)
	require.Len(t, doctors, 3)

	all, err := repo.ListAppointments(ctx, appointment.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, res.Appointments)
	for _, a := range all {
		wd := a.Date.Weekday()
		assert.NotEqual(t, time.Saturday, wd)
		assert.NotEqual(t, time.Sunday, wd)
	}

	// every seeded write is audited under the seed actor
	entries, err := store.List(ctx, audit.Filter{ActorID: "seed", Limit: 1000})
	require.NoError(t, err)
	assert.Len(t, entries, res.WeeklyRules+res.Appointments)
}

func TestSeeder_FillZeroBooksNothing(t *testing.T) {
	repo := appointment.NewMemoryRepository()
	schedules := schedule.NewMemoryRepository()
	schedSvc := schedule.NewService(schedules, repo, nil, audit.NewRecorder(audit.NewMemoryStore(), zerolog.Nop()), nil, zerolog.Nop())

	s := newSeeder(repo, schedSvc, nil, time.UTC, seedOptions{Doctors: 1, Days: 5, Fill: 0, Seed: 1})
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, res.WeeklyRules)
	assert.Zero(t, res.Appointments)
}
