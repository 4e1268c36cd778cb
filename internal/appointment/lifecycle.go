package appointment

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-booking/internal/apperr"
	"github.com/hackgods/clinic-slot-booking/internal/audit"
	"github.com/hackgods/clinic-slot-booking/internal/events"
)

// CanTransition reports whether an appointment may move from one status to
// another. Only scheduled appointments move; completed and cancelled are final.
func CanTransition(from, to Status) bool {
	if from != StatusScheduled {
		return false
	}
	return to == StatusCompleted || to == StatusCancelled
}

// CompleteRequest carries the optional completion note.
type CompleteRequest struct {
	Note      string `json:"note"`
	Overwrite bool   `json:"overwrite"`
}

func completedDescription(current string, req CompleteRequest) string {
	note := strings.TrimSpace(req.Note)
	switch {
	case note == "":
		return current
	case req.Overwrite || current == "":
		return note
	default:
		return current + "\n" + note
	}
}

// Cancel moves a scheduled appointment to cancelled and frees its slot.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	before, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, before, StatusCancelled, before.Description, audit.ActionCancel, events.AppointmentCancelled)
}

// Complete moves a scheduled appointment to completed. The slot stays occupied.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, req CompleteRequest) (*Appointment, error) {
	before, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, before, StatusCompleted, completedDescription(before.Description, req), audit.ActionComplete, events.AppointmentCompleted)
}

func (s *Service) transition(ctx context.Context, before *Appointment, to Status, description string, action audit.Action, eventType string) (*Appointment, error) {
	if !CanTransition(before.Status, to) {
		return nil, &TransitionError{From: before.Status, To: to}
	}

	updated, err := s.repo.UpdateStatus(ctx, before.ID, before.Status, to, description)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Lost a race with another transition.
			current, lerr := s.load(ctx, before.ID)
			if lerr != nil {
				return nil, lerr
			}
			return nil, &TransitionError{From: current.Status, To: to}
		}
		return nil, apperr.Storage("update appointment status", err)
	}

	s.log.Info().
		Str("appointment_id", updated.ID.String()).
		Str("from", string(before.Status)).
		Str("to", string(to)).
		Msg("appointment status changed")

	s.committed(ctx, action, eventType, before, updated, nil)
	return updated, nil
}
