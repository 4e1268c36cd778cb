package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/audit"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

type RouterConfig struct {
	Bookings  *appointment.Service
	Schedules *schedule.Service
	Projector *schedule.Projector
	Audit     *audit.Recorder

	Postgres Pinger
	Redis    Pinger

	Logger zerolog.Logger
	// JWTSecret switches actor extraction to HS256 bearer tokens.
	JWTSecret []byte
	// RateLimiter guards mutating routes; nil disables it.
	RateLimiter *RateLimiter

	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(RecoverMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware(cfg.JWTSecret))
		r.Use(LoggingMiddleware(cfg.Logger))

		limited := func(h http.HandlerFunc) http.Handler {
			if cfg.RateLimiter == nil {
				return h
			}
			return cfg.RateLimiter.Middleware(h)
		}

		r.Route("/doctors/{doctorID}", func(r chi.Router) {
			r.Get("/availability", availabilityRangeHandler(cfg.Projector))
			r.Get("/availability/{date}", availabilityDayHandler(cfg.Projector))
			r.Get("/slots/check", slotCheckHandler(cfg.Bookings))
			r.Get("/appointments", listDoctorAppointmentsHandler(cfg.Bookings))

			r.Get("/weekly-rules", listWeeklyRulesHandler(cfg.Schedules))
			r.Method(http.MethodPost, "/weekly-rules", limited(createWeeklyRuleHandler(cfg.Schedules)))
			r.Method(http.MethodPut, "/weekly-rules/{ruleID}", limited(updateWeeklyRuleHandler(cfg.Schedules)))
			r.Method(http.MethodDelete, "/weekly-rules/{ruleID}", limited(deleteWeeklyRuleHandler(cfg.Schedules)))

			r.Get("/daily-overrides", listDailyOverridesHandler(cfg.Schedules))
			r.Method(http.MethodPost, "/daily-overrides", limited(createDailyOverrideHandler(cfg.Schedules)))
			r.Method(http.MethodPut, "/daily-overrides/{overrideID}", limited(updateDailyOverrideHandler(cfg.Schedules)))
			r.Method(http.MethodDelete, "/daily-overrides/{overrideID}", limited(deleteDailyOverrideHandler(cfg.Schedules)))

			r.Get("/calendar", listCalendarHandler(cfg.Schedules))
			r.Method(http.MethodPost, "/calendar/{date}/toggle", limited(toggleCalendarHandler(cfg.Schedules)))
			r.Method(http.MethodPut, "/calendar/{date}", limited(setCalendarHandler(cfg.Schedules)))
			r.Method(http.MethodDelete, "/calendar/{date}", limited(deleteCalendarHandler(cfg.Schedules)))
		})

		// Appointment endpoints
		r.Method(http.MethodPost, "/appointments", limited(createAppointmentHandler(cfg.Bookings)))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Bookings))
		r.Method(http.MethodPost, "/appointments/{id}/reschedule", limited(rescheduleAppointmentHandler(cfg.Bookings)))
		r.Method(http.MethodPost, "/appointments/{id}/clone", limited(cloneAppointmentHandler(cfg.Bookings)))
		r.Method(http.MethodPost, "/appointments/{id}/cancel", limited(cancelAppointmentHandler(cfg.Bookings)))
		r.Method(http.MethodPost, "/appointments/{id}/complete", limited(completeAppointmentHandler(cfg.Bookings)))

		r.Get("/audit", listAuditHandler(cfg.Audit))
	})

	return r
}
