package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/audit"
	"github.com/hackgods/clinic-slot-booking/internal/config"
	"github.com/hackgods/clinic-slot-booking/internal/db"
	"github.com/hackgods/clinic-slot-booking/internal/events"
	"github.com/hackgods/clinic-slot-booking/internal/logging"
	redisclient "github.com/hackgods/clinic-slot-booking/internal/redis"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "schedctl",
		Short:         "Operate the clinic scheduling database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(calendarCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// env bundles what every subcommand needs.
type env struct {
	cfg    config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool
}

func connect(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "schedctl").Logger()

	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, logger)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, pool: pool}, nil
}

// services wires the booking and schedule services over Postgres with
// process-local slot locks.
func (e *env) services() (*appointment.Service, *schedule.Service, *appointment.PgRepository, error) {
	grids, err := schedule.NewGridCache(e.cfg.GridCacheSize)
	if err != nil {
		return nil, nil, nil, err
	}

	bookingRepo := appointment.NewPgRepository(e.pool)
	scheduleRepo := schedule.NewPgRepository(e.pool)
	recorder := audit.NewRecorder(audit.NewPgStore(e.pool), e.logger)
	resolver := schedule.NewResolver(scheduleRepo)
	projector := schedule.NewProjector(resolver, bookingRepo, grids, schedule.ProjectorConfig{
		MaxRangeDays: e.cfg.MaxRangeDays,
		Location:     e.cfg.Location(),
		Logger:       e.logger,
	})

	bookings := appointment.NewService(appointment.Deps{
		Repo:      bookingRepo,
		Resolver:  resolver,
		Projector: projector,
		Locker:    redisclient.NewLocalSlotLocker(e.cfg.LockTTL),
		Audit:     recorder,
		Publisher: events.NopPublisher{},
		Logger:    e.logger,
		Location:  e.cfg.Location(),
	})
	schedules := schedule.NewService(scheduleRepo, bookingRepo, projector, recorder, events.NopPublisher{}, e.logger)
	return bookings, schedules, bookingRepo, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.pool.Close()

			n, err := db.Migrate(cmd.Context(), e.pool, e.logger)
			if err != nil {
				return err
			}
			fmt.Printf("applied %d migration(s)\n", n)
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	var opts seedOptions

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the database with fake doctors, weekly rules and appointments",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.pool.Close()

			bookings, schedules, repo, err := e.services()
			if err != nil {
				return err
			}

			s := newSeeder(repo, schedules, bookings, e.cfg.Location(), opts)
			res, err := s.Run(cmd.Context())
			if err != nil {
				return err
			}
			e.logger.Info().
				Int("doctors", res.Doctors).
				Int("weekly_rules", res.WeeklyRules).
				Int("appointments", res.Appointments).
				Msg("seed complete")
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.Doctors, "doctors", 20, "Number of doctors to create")
	cmd.Flags().IntVar(&opts.Days, "days", 14, "Number of upcoming days to book into")
	cmd.Flags().Float64Var(&opts.Fill, "fill", 0.3, "Share of available slots to book (0-1)")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "Random seed, 0 picks one")
	return cmd
}

func calendarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Manage calendar overrides",
	}

	var doctor, date string
	toggle := &cobra.Command{
		Use:   "toggle",
		Short: "Flip the open/closed flag of a date for a doctor",
		RunE: func(cmd *cobra.Command, args []string) error {
			doctorID, err := uuid.Parse(doctor)
			if err != nil {
				return fmt.Errorf("--doctor: %w", err)
			}
			day, err := schedule.ParseDate(date)
			if err != nil {
				return fmt.Errorf("--date: %w", err)
			}

			e, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.pool.Close()

			_, schedules, _, err := e.services()
			if err != nil {
				return err
			}

			ctx := audit.WithActor(cmd.Context(), audit.Actor{ID: "schedctl", UserAgent: "schedctl"})
			c, err := schedules.ToggleCalendar(ctx, doctorID, day)
			if err != nil {
				return err
			}
			state := "closed"
			if c.IsWorking {
				state = "open"
			}
			fmt.Printf("%s is now %s for doctor %s\n", c.Date, state, c.DoctorID)
			return nil
		},
	}
	toggle.Flags().StringVar(&doctor, "doctor", "", "Doctor ID")
	toggle.Flags().StringVar(&date, "date", "", "Date (YYYY-MM-DD)")
	_ = toggle.MarkFlagRequired("doctor")
	_ = toggle.MarkFlagRequired("date")

	cmd.AddCommand(toggle)
	return cmd
}
