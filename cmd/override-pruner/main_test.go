package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-slot-booking/internal/audit"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

type fakePruner struct {
	got   schedule.Date
	actor audit.Actor
	err   error
}

func (f *fakePruner) PruneBefore(ctx context.Context, cutoff schedule.Date) (int64, int64, error) {
	f.got = cutoff
	f.actor = audit.ActorFromContext(ctx)
	return 3, 1, f.err
}

func TestCutoff_UsesClinicTimezone(t *testing.T) {
	tehran, err := time.LoadLocation("Asia/Tehran")
	require.NoError(t, err)

	// 22:00 UTC on March 9 is already March 10 in Tehran.
	now := time.Date(2025, time.March, 9, 22, 0, 0, 0, time.UTC)

	assert.Equal(t, schedule.Date{Year: 2025, Month: time.February, Day: 8}, cutoff(now, tehran, 30))
	assert.Equal(t, schedule.Date{Year: 2025, Month: time.February, Day: 7}, cutoff(now, time.UTC, 30))
	assert.Equal(t, schedule.Date{Year: 2025, Month: time.March, Day: 9}, cutoff(now, time.UTC, 0))
}

func TestRunOnce(t *testing.T) {
	p := &fakePruner{}
	runOnce(context.Background(), p, time.UTC, 30, zerolog.Nop())
	assert.Equal(t, cutoff(time.Now(), time.UTC, 30), p.got)
	assert.Equal(t, actorID, p.actor.ID)

	// errors are logged, not raised
	p = &fakePruner{err: errors.New("db down")}
	assert.NotPanics(t, func() {
		runOnce(context.Background(), p, time.UTC, 30, zerolog.Nop())
	})
}
