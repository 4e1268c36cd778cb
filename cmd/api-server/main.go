package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-slot-booking/internal/api"
	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/audit"
	"github.com/hackgods/clinic-slot-booking/internal/config"
	"github.com/hackgods/clinic-slot-booking/internal/db"
	"github.com/hackgods/clinic-slot-booking/internal/events"
	"github.com/hackgods/clinic-slot-booking/internal/logging"
	redisclient "github.com/hackgods/clinic-slot-booking/internal/redis"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "api-server").Logger()
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("timezone", cfg.Location().String()).
		Msg("api-server starting up")

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

	if _, err := db.Migrate(rootCtx, pgPool, logger); err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}

	// Redis is optional: without it locks are process-local and the
	// availability cache is off.
	var (
		locker      redisclient.Locker
		cache       schedule.Cache
		redisPinger api.Pinger
	)
	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, using in-process slot locks")
		locker = redisclient.NewLocalSlotLocker(cfg.LockTTL)
	} else {
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error().Err(err).Msg("error closing redis")
			}
		}()
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")
		locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
		cache = redisclient.NewCache(rdb)
		redisPinger = redisPing(rdb)
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.RabbitMQ.Enabled {
		rp, err := events.NewRabbitPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			logger.Fatal().Err(err).Msg("rabbitmq connection error")
		}
		defer func() {
			if err := rp.Close(); err != nil {
				logger.Error().Err(err).Msg("error closing rabbitmq")
			}
		}()
		logger.Info().Str("exchange", cfg.RabbitMQ.Exchange).Msg("publishing events to rabbitmq")
		publisher = rp
	}

	grids, err := schedule.NewGridCache(cfg.GridCacheSize)
	if err != nil {
		logger.Fatal().Err(err).Msg("grid cache")
	}

	bookingRepo := appointment.NewPgRepository(pgPool)
	scheduleRepo := schedule.NewPgRepository(pgPool)
	recorder := audit.NewRecorder(audit.NewPgStore(pgPool), logger)

	resolver := schedule.NewResolver(scheduleRepo)
	projector := schedule.NewProjector(resolver, bookingRepo, grids, schedule.ProjectorConfig{
		Cache:        cache,
		CacheTTL:     cfg.AvailabilityCacheTTL,
		MaxRangeDays: cfg.MaxRangeDays,
		Location:     cfg.Location(),
		Logger:       logger,
	})

	bookings := appointment.NewService(appointment.Deps{
		Repo:      bookingRepo,
		Resolver:  resolver,
		Projector: projector,
		Locker:    locker,
		Audit:     recorder,
		Publisher: publisher,
		Logger:    logger,
		Location:  cfg.Location(),
	})
	schedules := schedule.NewService(scheduleRepo, bookingRepo, projector, recorder, publisher, logger)

	var secret []byte
	if cfg.JWTSecret != "" {
		secret = []byte(cfg.JWTSecret)
	}

	router := api.NewRouter(api.RouterConfig{
		Bookings:    bookings,
		Schedules:   schedules,
		Projector:   projector,
		Audit:       recorder,
		Postgres:    pgPool,
		Redis:       redisPinger,
		Logger:      logger,
		JWTSecret:   secret,
		RateLimiter: api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		Env:         cfg.Env,
		Version:     version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("http server error")
		}
	}

	logger.Info().Msg("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func redisPing(rdb *redis.Client) api.Pinger {
	return api.PingFunc(func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
}
