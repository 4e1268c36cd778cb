package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-slot-booking/internal/apperr"
	"github.com/hackgods/clinic-slot-booking/internal/audit"
	"github.com/hackgods/clinic-slot-booking/internal/events"
)

var ErrDoctorNotFound = fmt.Errorf("doctor %w", apperr.ErrNotFound)

// DoctorChecker reports whether a doctor exists.
type DoctorChecker interface {
	DoctorExists(ctx context.Context, id uuid.UUID) (bool, error)
}

const (
	subjectWeeklyRule    = "weekly_rule"
	subjectDailyOverride = "daily_override"
	subjectCalendar      = "calendar_override"
	subjectRetention     = "override_retention"
)

// Service edits the schedule layers. Every successful write is audited,
// drops the affected cached projections and emits schedule.changed.
type Service struct {
	repo      Repository
	doctors   DoctorChecker
	resolver  *Resolver
	projector *Projector
	audit     *audit.Recorder
	publisher events.Publisher
	log       zerolog.Logger
}

func NewService(repo Repository, doctors DoctorChecker, projector *Projector, recorder *audit.Recorder, publisher events.Publisher, logger zerolog.Logger) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		repo:      repo,
		doctors:   doctors,
		resolver:  NewResolver(repo),
		projector: projector,
		audit:     recorder,
		publisher: publisher,
		log:       logger.With().Str("component", "schedule").Logger(),
	}
}

var requiredID = validation.By(func(v any) error {
	if id, ok := v.(uuid.UUID); !ok || id == uuid.Nil {
		return errors.New("is required")
	}
	return nil
})

var requiredDate = validation.By(func(v any) error {
	if d, ok := v.(Date); !ok || d.IsZero() {
		return errors.New("is required")
	}
	return nil
})

func (r *WeeklyRule) validate() error {
	err := validation.ValidateStruct(r,
		validation.Field(&r.DoctorID, requiredID),
		validation.Field(&r.Weekday, validation.Min(int(time.Sunday)), validation.Max(int(time.Saturday))),
	)
	if err != nil {
		return apperr.FromValidation(err)
	}
	return r.HoursSpec.validate()
}

func (o *DailyOverride) validate() error {
	err := validation.ValidateStruct(o,
		validation.Field(&o.DoctorID, requiredID),
		validation.Field(&o.Date, requiredDate),
	)
	if err != nil {
		return apperr.FromValidation(err)
	}
	return o.HoursSpec.validate()
}

func (c *CalendarOverride) validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.DoctorID, requiredID),
		validation.Field(&c.Date, requiredDate),
		validation.Field(&c.Note, validation.Length(0, 500)),
	)
	return apperr.FromValidation(err)
}

func (s *Service) ensureDoctor(ctx context.Context, doctorID uuid.UUID) error {
	if s.doctors == nil {
		return nil
	}
	ok, err := s.doctors.DoctorExists(ctx, doctorID)
	if err != nil {
		return apperr.Persistence("lookup doctor", err)
	}
	if !ok {
		return ErrDoctorNotFound
	}
	return nil
}

func (s *Service) record(ctx context.Context, action audit.Action, kind, id string, before, after any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, audit.ActorFromContext(ctx), action, audit.Subject{Kind: kind, ID: id}, audit.Change{Before: before, After: after})
}

func (s *Service) changed(ctx context.Context, doctorID uuid.UUID, action audit.Action, dates ...Date) {
	if s.projector != nil {
		if len(dates) == 0 {
			s.projector.InvalidateDoctor(ctx, doctorID)
		} else {
			s.projector.Invalidate(ctx, doctorID, dates...)
		}
	}

	payload := map[string]any{"action": string(action)}
	if len(dates) > 0 {
		ds := make([]string, 0, len(dates))
		for _, d := range dates {
			ds = append(ds, d.String())
		}
		payload["dates"] = ds
	}
	if err := s.publisher.Publish(ctx, events.New(events.ScheduleChanged, doctorID, payload)); err != nil {
		s.log.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("failed to publish schedule change")
	}
}

func calendarSubject(doctorID uuid.UUID, date Date) string {
	return doctorID.String() + ":" + date.String()
}

// Weekly rules

func (s *Service) ListWeeklyRules(ctx context.Context, doctorID uuid.UUID) ([]WeeklyRule, error) {
	if err := s.ensureDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	rules, err := s.repo.ListWeeklyRules(ctx, doctorID)
	if err != nil {
		return nil, apperr.Storage("list weekly rules", err)
	}
	return rules, nil
}

func (s *Service) hasActiveRule(ctx context.Context, rule *WeeklyRule) (bool, error) {
	if !rule.Active {
		return false, nil
	}
	rules, err := s.repo.ListWeeklyRules(ctx, rule.DoctorID)
	if err != nil {
		return false, err
	}
	for _, other := range rules {
		if other.ID != rule.ID && other.Weekday == rule.Weekday && other.Active {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) CreateWeeklyRule(ctx context.Context, rule WeeklyRule) (*WeeklyRule, error) {
	if err := rule.validate(); err != nil {
		return nil, err
	}
	if err := s.ensureDoctor(ctx, rule.DoctorID); err != nil {
		return nil, err
	}

	dup, err := s.hasActiveRule(ctx, &rule)
	if err != nil {
		return nil, apperr.Storage("check weekly rules", err)
	}
	if dup {
		return nil, ErrDuplicateActiveRule
	}

	if err := s.repo.CreateWeeklyRule(ctx, &rule); err != nil {
		return nil, apperr.Storage("create weekly rule", err)
	}

	s.log.Info().
		Str("rule_id", rule.ID.String()).
		Str("doctor_id", rule.DoctorID.String()).
		Int("weekday", int(rule.Weekday)).
		Msg("weekly rule created")

	s.record(ctx, audit.ActionWeeklyRuleCreate, subjectWeeklyRule, rule.ID.String(), nil, rule)
	s.changed(ctx, rule.DoctorID, audit.ActionWeeklyRuleCreate)
	return &rule, nil
}

// UpdateWeeklyRule replaces the editable fields of an existing rule owned by rule.DoctorID.
func (s *Service) UpdateWeeklyRule(ctx context.Context, rule WeeklyRule) (*WeeklyRule, error) {
	if err := rule.validate(); err != nil {
		return nil, err
	}

	before, err := s.repo.GetWeeklyRule(ctx, rule.ID)
	if err != nil {
		return nil, apperr.Storage("get weekly rule", err)
	}
	if before.DoctorID != rule.DoctorID {
		return nil, ErrRuleNotFound
	}

	dup, err := s.hasActiveRule(ctx, &rule)
	if err != nil {
		return nil, apperr.Storage("check weekly rules", err)
	}
	if dup {
		return nil, ErrDuplicateActiveRule
	}

	if err := s.repo.UpdateWeeklyRule(ctx, &rule); err != nil {
		return nil, apperr.Storage("update weekly rule", err)
	}

	s.record(ctx, audit.ActionWeeklyRuleUpdate, subjectWeeklyRule, rule.ID.String(), before, rule)
	s.changed(ctx, rule.DoctorID, audit.ActionWeeklyRuleUpdate)
	return &rule, nil
}

func (s *Service) DeleteWeeklyRule(ctx context.Context, doctorID, id uuid.UUID) error {
	before, err := s.repo.GetWeeklyRule(ctx, id)
	if err != nil {
		return apperr.Storage("get weekly rule", err)
	}
	if before.DoctorID != doctorID {
		return ErrRuleNotFound
	}
	if err := s.repo.DeleteWeeklyRule(ctx, id); err != nil {
		return apperr.Storage("delete weekly rule", err)
	}

	s.record(ctx, audit.ActionWeeklyRuleDelete, subjectWeeklyRule, id.String(), before, nil)
	s.changed(ctx, doctorID, audit.ActionWeeklyRuleDelete)
	return nil
}

// Daily overrides

func (s *Service) ListDailyOverrides(ctx context.Context, doctorID uuid.UUID, from, to Date) ([]DailyOverride, error) {
	if to.Before(from) {
		return nil, apperr.Invalid("to", "must not be before from")
	}
	if err := s.ensureDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	out, err := s.repo.ListDailyOverrides(ctx, doctorID, from, to)
	if err != nil {
		return nil, apperr.Storage("list daily overrides", err)
	}
	return out, nil
}

func (s *Service) CreateDailyOverride(ctx context.Context, o DailyOverride) (*DailyOverride, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}
	if err := s.ensureDoctor(ctx, o.DoctorID); err != nil {
		return nil, err
	}
	if err := s.repo.CreateDailyOverride(ctx, &o); err != nil {
		return nil, apperr.Storage("create daily override", err)
	}

	s.log.Info().
		Str("override_id", o.ID.String()).
		Str("doctor_id", o.DoctorID.String()).
		Str("date", o.Date.String()).
		Msg("daily override created")

	s.record(ctx, audit.ActionDailyOverrideCreate, subjectDailyOverride, o.ID.String(), nil, o)
	s.changed(ctx, o.DoctorID, audit.ActionDailyOverrideCreate, o.Date)
	return &o, nil
}

func (s *Service) UpdateDailyOverride(ctx context.Context, o DailyOverride) (*DailyOverride, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}

	before, err := s.repo.GetDailyOverride(ctx, o.ID)
	if err != nil {
		return nil, apperr.Storage("get daily override", err)
	}
	if before.DoctorID != o.DoctorID {
		return nil, ErrOverrideNotFound
	}
	if err := s.repo.UpdateDailyOverride(ctx, &o); err != nil {
		return nil, apperr.Storage("update daily override", err)
	}

	s.record(ctx, audit.ActionDailyOverrideUpdate, subjectDailyOverride, o.ID.String(), before, o)
	s.changed(ctx, o.DoctorID, audit.ActionDailyOverrideUpdate, before.Date, o.Date)
	return &o, nil
}

func (s *Service) DeleteDailyOverride(ctx context.Context, doctorID, id uuid.UUID) error {
	before, err := s.repo.GetDailyOverride(ctx, id)
	if err != nil {
		return apperr.Storage("get daily override", err)
	}
	if before.DoctorID != doctorID {
		return ErrOverrideNotFound
	}
	if err := s.repo.DeleteDailyOverride(ctx, id); err != nil {
		return apperr.Storage("delete daily override", err)
	}

	s.record(ctx, audit.ActionDailyOverrideDelete, subjectDailyOverride, id.String(), before, nil)
	s.changed(ctx, doctorID, audit.ActionDailyOverrideDelete, before.Date)
	return nil
}

// Calendar overrides

func (s *Service) ListCalendar(ctx context.Context, doctorID uuid.UUID, from, to Date) ([]CalendarOverride, error) {
	if to.Before(from) {
		return nil, apperr.Invalid("to", "must not be before from")
	}
	if err := s.ensureDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	out, err := s.repo.ListCalendarOverrides(ctx, doctorID, from, to)
	if err != nil {
		return nil, apperr.Storage("list calendar overrides", err)
	}
	return out, nil
}

// ToggleCalendar flips the open/closed flag of a date. A date without a
// calendar override gets the opposite of its currently resolved state.
func (s *Service) ToggleCalendar(ctx context.Context, doctorID uuid.UUID, date Date) (*CalendarOverride, error) {
	if date.IsZero() {
		return nil, apperr.Invalid("date", "is required")
	}
	if err := s.ensureDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	res, err := s.resolver.ResolveDay(ctx, doctorID, date)
	if err != nil {
		return nil, apperr.Storage("resolve day", err)
	}

	c, err := s.repo.ToggleCalendarOverride(ctx, doctorID, date, !res.Working)
	if err != nil {
		return nil, apperr.Storage("toggle calendar override", err)
	}

	s.log.Info().
		Str("doctor_id", doctorID.String()).
		Str("date", date.String()).
		Bool("is_working", c.IsWorking).
		Msg("calendar toggled")

	s.record(ctx, audit.ActionCalendarToggle, subjectCalendar, calendarSubject(doctorID, date),
		map[string]any{"working": res.Working, "source": res.Source}, c)
	s.changed(ctx, doctorID, audit.ActionCalendarToggle, date)
	return c, nil
}

func (s *Service) SetCalendar(ctx context.Context, c CalendarOverride) (*CalendarOverride, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if err := s.ensureDoctor(ctx, c.DoctorID); err != nil {
		return nil, err
	}

	before, err := s.repo.GetCalendarOverride(ctx, c.DoctorID, c.Date)
	if err != nil && !errors.Is(err, ErrCalendarNotFound) {
		return nil, apperr.Storage("get calendar override", err)
	}
	if err := s.repo.UpsertCalendarOverride(ctx, &c); err != nil {
		return nil, apperr.Storage("set calendar override", err)
	}

	s.record(ctx, audit.ActionCalendarSet, subjectCalendar, calendarSubject(c.DoctorID, c.Date), before, c)
	s.changed(ctx, c.DoctorID, audit.ActionCalendarSet, c.Date)
	return &c, nil
}

func (s *Service) DeleteCalendar(ctx context.Context, doctorID uuid.UUID, date Date) error {
	before, err := s.repo.GetCalendarOverride(ctx, doctorID, date)
	if err != nil {
		return apperr.Storage("get calendar override", err)
	}
	if err := s.repo.DeleteCalendarOverride(ctx, doctorID, date); err != nil {
		return apperr.Storage("delete calendar override", err)
	}

	s.record(ctx, audit.ActionCalendarDelete, subjectCalendar, calendarSubject(doctorID, date), before, nil)
	s.changed(ctx, doctorID, audit.ActionCalendarDelete, date)
	return nil
}

// PruneBefore removes daily and calendar overrides dated before cutoff and
// audits the run as a single entry.
func (s *Service) PruneBefore(ctx context.Context, cutoff Date) (daily, calendar int64, err error) {
	daily, calendar, err = s.repo.PruneOverridesBefore(ctx, cutoff)
	if err != nil {
		return 0, 0, apperr.Storage("prune overrides", err)
	}

	s.record(ctx, audit.ActionOverridesPrune, subjectRetention, cutoff.String(), nil, map[string]any{
		"cutoff":             cutoff.String(),
		"daily_overrides":    daily,
		"calendar_overrides": calendar,
	})
	return daily, calendar, nil
}
