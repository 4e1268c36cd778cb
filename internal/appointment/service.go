package appointment

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-slot-booking/internal/apperr"
	"github.com/hackgods/clinic-slot-booking/internal/audit"
	"github.com/hackgods/clinic-slot-booking/internal/events"
	redisclient "github.com/hackgods/clinic-slot-booking/internal/redis"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

// Reasons a slot is refused.
const (
	ReasonInPast        = "in_past"
	ReasonDayClosed     = "day_closed"
	ReasonNotASlot      = "not_a_slot"
	ReasonAlreadyBooked = "already_booked"
	ReasonSlotBusy      = "slot_busy"
)

const subjectAppointment = "appointment"

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ()-]{5,19}$`)

// SlotCheck is the outcome of validating a (doctor, date, time) target.
type SlotCheck struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

type CreateRequest struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Patient
	Description string         `json:"description"`
	Date        schedule.Date  `json:"date"`
	Time        schedule.Clock `json:"time"`
}

func (r *CreateRequest) validate() error {
	err := validation.ValidateStruct(r,
		validation.Field(&r.DoctorID, validation.By(func(v any) error {
			if id, _ := v.(uuid.UUID); id == uuid.Nil {
				return errors.New("is required")
			}
			return nil
		})),
		validation.Field(&r.PatientName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.PatientPhone, validation.Required, validation.Match(phonePattern).Error("must be a valid phone number")),
		validation.Field(&r.NationalInsurance, validation.Length(0, 50)),
		validation.Field(&r.MedicalPolicy, validation.Length(0, 50)),
		validation.Field(&r.Description, validation.Length(0, 2000)),
		validation.Field(&r.Date, validation.By(func(v any) error {
			if d, _ := v.(schedule.Date); d.IsZero() {
				return errors.New("is required")
			}
			return nil
		})),
		validation.Field(&r.Time, validation.By(func(v any) error {
			if c, _ := v.(schedule.Clock); !c.Valid() {
				return errors.New("must be between 00:00 and 23:59")
			}
			return nil
		})),
	)
	return apperr.FromValidation(err)
}

type Deps struct {
	Repo      Repository
	Resolver  *schedule.Resolver
	Projector *schedule.Projector
	Locker    redisclient.Locker
	Audit     *audit.Recorder
	Publisher events.Publisher
	Logger    zerolog.Logger
	// Location is the clinic time zone used to decide whether a slot is in the past.
	Location *time.Location
}

// Service is the booking arbiter. Every write runs under the per-slot lock
// and is committed against the storage-level uniqueness guard.
type Service struct {
	repo      Repository
	resolver  *schedule.Resolver
	projector *schedule.Projector
	locker    redisclient.Locker
	audit     *audit.Recorder
	publisher events.Publisher
	log       zerolog.Logger
	loc       *time.Location
	now       func() time.Time
}

func NewService(d Deps) *Service {
	if d.Publisher == nil {
		d.Publisher = events.NopPublisher{}
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	return &Service{
		repo:      d.Repo,
		resolver:  d.Resolver,
		projector: d.Projector,
		locker:    d.Locker,
		audit:     d.Audit,
		publisher: d.Publisher,
		log:       d.Logger.With().Str("component", "booking").Logger(),
		loc:       d.Location,
		now:       time.Now,
	}
}

func (s *Service) ensureDoctor(ctx context.Context, doctorID uuid.UUID) error {
	ok, err := s.repo.DoctorExists(ctx, doctorID)
	if err != nil {
		return apperr.Persistence("lookup doctor", err)
	}
	if !ok {
		return ErrDoctorNotFound
	}
	return nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, apperr.Storage("load appointment", err)
	}
	return a, nil
}

// Validate reports whether the slot can take a booking right now. The
// appointment exclude, if set, does not count as occupying its own slot.
func (s *Service) Validate(ctx context.Context, doctorID uuid.UUID, date schedule.Date, at schedule.Clock, exclude uuid.UUID) (SlotCheck, error) {
	if err := s.ensureDoctor(ctx, doctorID); err != nil {
		return SlotCheck{}, err
	}
	return s.check(ctx, doctorID, date, at, exclude)
}

func (s *Service) check(ctx context.Context, doctorID uuid.UUID, date schedule.Date, at schedule.Clock, exclude uuid.UUID) (SlotCheck, error) {
	if !at.On(date, s.loc).After(s.now()) {
		return SlotCheck{Reason: ReasonInPast}, nil
	}

	res, err := s.resolver.ResolveDay(ctx, doctorID, date)
	if err != nil {
		return SlotCheck{}, apperr.Persistence("resolve schedule", err)
	}
	if !res.Working {
		return SlotCheck{Reason: ReasonDayClosed}, nil
	}
	if !schedule.Contains(*res.Hours, at) {
		return SlotCheck{Reason: ReasonNotASlot}, nil
	}

	holder, err := s.repo.FindActiveAt(ctx, doctorID, date, at)
	switch {
	case errors.Is(err, ErrAppointmentNotFound):
	case err != nil:
		return SlotCheck{}, apperr.Persistence("check slot", err)
	case holder.ID != exclude:
		return SlotCheck{Reason: ReasonAlreadyBooked}, nil
	}

	return SlotCheck{Available: true}, nil
}

// guarded runs fn under the slot lock after re-validating the target.
func (s *Service) guarded(ctx context.Context, doctorID uuid.UUID, date schedule.Date, at schedule.Clock, exclude uuid.UUID, fn func(ctx context.Context) error) error {
	key := redisclient.SlotKey(doctorID, date.String(), at.String())

	err := s.locker.WithSlotLock(ctx, key, func(lockCtx context.Context) error {
		check, err := s.check(lockCtx, doctorID, date, at, exclude)
		if err != nil {
			return err
		}
		if !check.Available {
			return apperr.Conflict(check.Reason)
		}
		return fn(lockCtx)
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return apperr.Conflict(ReasonSlotBusy)
		}
		return apperr.Storage("book slot", err)
	}
	return nil
}

// Create books a new scheduled appointment.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Appointment, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := s.ensureDoctor(ctx, req.DoctorID); err != nil {
		return nil, err
	}

	a := &Appointment{
		DoctorID:    req.DoctorID,
		Patient:     req.Patient,
		Description: req.Description,
		Date:        req.Date,
		Time:        req.Time,
	}

	err := s.guarded(ctx, req.DoctorID, req.Date, req.Time, uuid.Nil, func(ctx context.Context) error {
		return s.repo.CreateAppointment(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", a.ID.String()).
		Str("doctor_id", a.DoctorID.String()).
		Str("date", a.Date.String()).
		Str("time", a.Time.String()).
		Msg("appointment created")

	s.committed(ctx, audit.ActionCreate, events.AppointmentCreated, nil, a, nil)
	return a, nil
}

// Reschedule moves a scheduled appointment to another slot in place. The
// appointment keeps its id, patient data and creation time.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, date schedule.Date, at schedule.Clock) (*Appointment, error) {
	if date.IsZero() {
		return nil, apperr.Invalid("date", "is required")
	}
	if !at.Valid() {
		return nil, apperr.Invalid("time", "must be between 00:00 and 23:59")
	}

	before, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if before.Status != StatusScheduled {
		return nil, &TransitionError{From: before.Status, To: StatusScheduled}
	}

	var moved *Appointment
	err = s.guarded(ctx, before.DoctorID, date, at, id, func(ctx context.Context) error {
		var err error
		moved, err = s.repo.MoveAppointment(ctx, id, date, at)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Cancelled or completed concurrently.
			current, lerr := s.load(ctx, id)
			if lerr != nil {
				return nil, lerr
			}
			return nil, &TransitionError{From: current.Status, To: StatusScheduled}
		}
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", id.String()).
		Str("from", before.Date.String()+" "+before.Time.String()).
		Str("to", date.String()+" "+at.String()).
		Msg("appointment rescheduled")

	s.committed(ctx, audit.ActionReschedule, events.AppointmentRescheduled, before, moved, map[string]any{
		"previous_date": before.Date.String(),
		"previous_time": before.Time.String(),
	})
	return moved, nil
}

// Clone books a new appointment with the patient data of sourceID. The
// source is left untouched whatever its status.
func (s *Service) Clone(ctx context.Context, sourceID uuid.UUID, date schedule.Date, at schedule.Clock) (*Appointment, error) {
	source, err := s.load(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	req := CreateRequest{
		DoctorID:    source.DoctorID,
		Patient:     source.Patient,
		Description: source.Description,
		Date:        date,
		Time:        at,
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	a := &Appointment{
		DoctorID:    req.DoctorID,
		Patient:     req.Patient,
		Description: req.Description,
		Date:        req.Date,
		Time:        req.Time,
	}
	err = s.guarded(ctx, req.DoctorID, date, at, uuid.Nil, func(ctx context.Context) error {
		return s.repo.CreateAppointment(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", a.ID.String()).
		Str("source_id", sourceID.String()).
		Msg("appointment cloned")

	s.committed(ctx, audit.ActionClone, events.AppointmentCloned, nil, a, map[string]any{
		"source_id": sourceID.String(),
	})
	return a, nil
}

// Get returns an appointment with its doctor.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &AppointmentDetail{Appointment: *a}
	doc, err := s.repo.GetDoctorByID(ctx, a.DoctorID)
	switch {
	case err == nil:
		detail.Doctor = doc
	case errors.Is(err, ErrDoctorNotFound):
	default:
		return nil, apperr.Persistence("load doctor", err)
	}
	return detail, nil
}

// List returns appointments of a doctor, ordered by slot.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Appointment, error) {
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, apperr.Invalid("to", "must not be before from")
	}
	switch f.Status {
	case "", StatusScheduled, StatusCompleted, StatusCancelled:
	default:
		return nil, apperr.Invalid("status", fmt.Sprintf("unknown status %q", f.Status))
	}
	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	if f.DoctorID != uuid.Nil {
		if err := s.ensureDoctor(ctx, f.DoctorID); err != nil {
			return nil, err
		}
	}

	out, err := s.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, apperr.Storage("list appointments", err)
	}
	return out, nil
}

// committed runs the post-commit steps of a write: audit entry, cache
// invalidation and event publication. None of them fail the write.
func (s *Service) committed(ctx context.Context, action audit.Action, eventType string, before, after *Appointment, extra map[string]any) {
	if s.audit != nil {
		detail := audit.Change{After: after}
		if before != nil {
			detail.Before = before
		}
		if len(extra) > 0 {
			detail.After = map[string]any{"appointment": after, "context": extra}
		}
		s.audit.Record(ctx, audit.ActorFromContext(ctx), action, audit.Subject{Kind: subjectAppointment, ID: after.ID.String()}, detail)
	}

	if s.projector != nil {
		dates := []schedule.Date{after.Date}
		if before != nil && before.Date != after.Date {
			dates = append(dates, before.Date)
		}
		s.projector.Invalidate(ctx, after.DoctorID, dates...)
	}

	payload := map[string]any{
		"appointment_id": after.ID.String(),
		"date":           after.Date.String(),
		"time":           after.Time.String(),
		"status":         string(after.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	if err := s.publisher.Publish(ctx, events.New(eventType, after.DoctorID, payload)); err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Str("appointment_id", after.ID.String()).Msg("failed to publish event")
	}
}
