package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/audit"
	"github.com/hackgods/clinic-slot-booking/internal/config"
	"github.com/hackgods/clinic-slot-booking/internal/db"
	"github.com/hackgods/clinic-slot-booking/internal/events"
	"github.com/hackgods/clinic-slot-booking/internal/logging"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

// Pruner is the subset of schedule.Service the job needs.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff schedule.Date) (daily, calendar int64, err error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "override-pruner").Logger()
	logger.Info().
		Str("env", cfg.Env).
		Str("schedule", cfg.PruneSchedule).
		Int("retention_days", cfg.OverrideRetentionDays).
		Msg("override-pruner starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, logger)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()

	recorder := audit.NewRecorder(audit.NewPgStore(pgPool), logger)
	svc := schedule.NewService(
		schedule.NewPgRepository(pgPool),
		appointment.NewPgRepository(pgPool),
		nil,
		recorder,
		events.NopPublisher{},
		logger,
	)

	job := func() {
		runOnce(rootCtx, svc, cfg.Location(), cfg.OverrideRetentionDays, logger)
	}

	// Run once at startup
	job()

	c := cron.New(cron.WithLocation(cfg.Location()))
	if _, err := c.AddFunc(cfg.PruneSchedule, job); err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.PruneSchedule).Msg("invalid PRUNE_SCHEDULE")
	}
	c.Start()

	<-rootCtx.Done()
	logger.Info().Msg("shutdown signal received, stopping override-pruner")
	<-c.Stop().Done()
}

// cutoff is the first date kept: today in loc minus retention days.
func cutoff(now time.Time, loc *time.Location, retentionDays int) schedule.Date {
	return schedule.DateOf(now.In(loc)).AddDays(-retentionDays)
}

const actorID = "override-pruner"

func runOnce(ctx context.Context, p Pruner, loc *time.Location, retentionDays int, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	runCtx = audit.WithActor(runCtx, audit.Actor{ID: actorID, Name: "Override pruner"})

	start := time.Now()
	before := cutoff(start, loc, retentionDays)
	daily, calendar, err := p.PruneBefore(runCtx, before)
	if err != nil {
		logger.Error().Err(err).Str("cutoff", before.String()).Msg("prune run error")
		return
	}
	logger.Info().
		Str("cutoff", before.String()).
		Int64("daily_overrides", daily).
		Int64("calendar_overrides", calendar).
		Dur("took", time.Since(start)).
		Msg("prune run complete")
}
