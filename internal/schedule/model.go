package schedule

import (
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-booking/internal/apperr"
)

const (
	MinSlotMinutes = 5
	MaxSlotMinutes = 120
)

var (
	ErrRuleNotFound        = fmt.Errorf("weekly rule %w", apperr.ErrNotFound)
	ErrOverrideNotFound    = fmt.Errorf("daily override %w", apperr.ErrNotFound)
	ErrCalendarNotFound    = fmt.Errorf("calendar override %w", apperr.ErrNotFound)
	ErrDuplicateActiveRule = &apperr.ValidationError{Fields: map[string]string{
		"weekday": "an active weekly rule already exists for this weekday",
	}}
	ErrDuplicateOverride = &apperr.ValidationError{Fields: map[string]string{
		"date": "a daily override already exists for this date",
	}}
)

// Hours is a working-interval definition: a time range, an optional break
// and the slot length. It is comparable and used as a cache key.
type Hours struct {
	Start       Clock `json:"start_time"`
	End         Clock `json:"end_time"`
	HasBreak    bool  `json:"has_break"`
	BreakStart  Clock `json:"break_start"`
	BreakEnd    Clock `json:"break_end"`
	SlotMinutes int   `json:"slot_minutes"`
}

func (h Hours) SlotDuration() time.Duration {
	return time.Duration(h.SlotMinutes) * time.Minute
}

// Validate checks start < end, break inside the range and slot length bounds.
func (h Hours) Validate() error {
	breakInside := validation.By(func(any) error {
		if h.BreakStart < h.Start || h.BreakEnd > h.End {
			return errors.New("must lie within start_time and end_time")
		}
		return nil
	})
	return apperr.FromValidation(validation.Errors{
		"start_time":   validation.Validate(h.Start, validation.By(onClockFace)),
		"end_time":     validation.Validate(h.End, validation.By(onClockFace), validation.By(laterThan(h.Start, "start_time"))),
		"slot_minutes": validation.Validate(h.SlotMinutes, validation.By(slotLength)),
		"break":        validation.Validate(h.BreakStart, validation.When(h.HasBreak, breakInside)),
		"break_end":    validation.Validate(h.BreakEnd, validation.When(h.HasBreak, validation.By(laterThan(h.BreakStart, "break_start")))),
	}.Filter())
}

func onClockFace(v any) error {
	if c, _ := v.(Clock); !c.Valid() {
		return errors.New("must be between 00:00 and 23:59")
	}
	return nil
}

func laterThan(floor Clock, name string) validation.RuleFunc {
	return func(v any) error {
		if c, _ := v.(Clock); c <= floor {
			return fmt.Errorf("must be after %s", name)
		}
		return nil
	}
}

func slotLength(v any) error {
	if n, _ := v.(int); n < MinSlotMinutes || n > MaxSlotMinutes {
		return fmt.Errorf("must be between %d and %d", MinSlotMinutes, MaxSlotMinutes)
	}
	return nil
}

// HoursSpec is the editable shape shared by weekly rules and daily overrides.
type HoursSpec struct {
	StartTime   Clock  `json:"start_time"`
	EndTime     Clock  `json:"end_time"`
	BreakStart  *Clock `json:"break_start,omitempty"`
	BreakEnd    *Clock `json:"break_end,omitempty"`
	SlotMinutes int    `json:"slot_minutes"`
}

func (s HoursSpec) Hours() Hours {
	h := Hours{Start: s.StartTime, End: s.EndTime, SlotMinutes: s.SlotMinutes}
	if s.BreakStart != nil && s.BreakEnd != nil {
		h.HasBreak = true
		h.BreakStart = *s.BreakStart
		h.BreakEnd = *s.BreakEnd
	}
	return h
}

func (s HoursSpec) validate() error {
	if (s.BreakStart == nil) != (s.BreakEnd == nil) {
		return apperr.Invalid("break", "break_start and break_end must be set together")
	}
	return s.Hours().Validate()
}

// WeeklyRule is the recurring template for one weekday of a doctor.
type WeeklyRule struct {
	ID        uuid.UUID    `json:"id"`
	DoctorID  uuid.UUID    `json:"doctor_id"`
	Weekday   time.Weekday `json:"weekday"`
	HoursSpec
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DailyOverride replaces the weekly hours on one date.
type DailyOverride struct {
	ID       uuid.UUID `json:"id"`
	DoctorID uuid.UUID `json:"doctor_id"`
	Date     Date      `json:"date"`
	HoursSpec
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CalendarOverride is the open/closed flag for a date. It carries no hours.
type CalendarOverride struct {
	DoctorID  uuid.UUID `json:"doctor_id"`
	Date      Date      `json:"date"`
	IsWorking bool      `json:"is_working"`
	Note      string    `json:"note,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
