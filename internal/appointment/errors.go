package appointment

import (
	"errors"
	"fmt"

	"github.com/hackgods/clinic-slot-booking/internal/apperr"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

var (
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", apperr.ErrNotFound)
	ErrDoctorNotFound      = schedule.ErrDoctorNotFound

	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

// TransitionError is returned for a lifecycle move the current status does
// not allow. It matches ErrInvalidStatusTransition and apperr.ErrValidation.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidStatusTransition || target == apperr.ErrValidation
}
