package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/apperr"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

const maxBodyBytes = 1 << 20

// SlotTargetRequest is the body of reschedule and clone.
type SlotTargetRequest struct {
	Date schedule.Date  `json:"date"`
	Time schedule.Clock `json:"time"`
}

type HoursRequest struct {
	StartTime   schedule.Clock  `json:"start_time"`
	EndTime     schedule.Clock  `json:"end_time"`
	BreakStart  *schedule.Clock `json:"break_start,omitempty"`
	BreakEnd    *schedule.Clock `json:"break_end,omitempty"`
	SlotMinutes int             `json:"slot_minutes"`
	Active      *bool           `json:"active,omitempty"`
}

func (h HoursRequest) spec() schedule.HoursSpec {
	return schedule.HoursSpec{
		StartTime:   h.StartTime,
		EndTime:     h.EndTime,
		BreakStart:  h.BreakStart,
		BreakEnd:    h.BreakEnd,
		SlotMinutes: h.SlotMinutes,
	}
}

func (h HoursRequest) active() bool {
	return h.Active == nil || *h.Active
}

type WeeklyRuleRequest struct {
	Weekday int `json:"weekday"`
	HoursRequest
}

type DailyOverrideRequest struct {
	Date schedule.Date `json:"date"`
	HoursRequest
}

type CalendarRequest struct {
	IsWorking bool   `json:"is_working"`
	Note      string `json:"note"`
}

type SlotCheckResponse struct {
	DoctorID  uuid.UUID      `json:"doctor_id"`
	Date      schedule.Date  `json:"date"`
	Time      schedule.Clock `json:"time"`
	Available bool           `json:"available"`
	Reason    string         `json:"reason,omitempty"`
}

type AvailabilityResponse struct {
	DoctorID uuid.UUID                  `json:"doctor_id"`
	From     schedule.Date              `json:"from"`
	To       schedule.Date              `json:"to"`
	Days     []schedule.DayAvailability `json:"days"`
}

type ListResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func listOf[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Count: len(items)}
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Reason  string            `json:"reason,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// handleDomainError maps the error kinds of the domain packages to HTTP.
func handleDomainError(w http.ResponseWriter, err error) {
	var (
		verr     *apperr.ValidationError
		conflict *apperr.ConflictError
		trans    *appointment.TransitionError
	)
	switch {
	case errors.As(err, &trans):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_failed", Details: err.Error(), Fields: verr.Fields})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "slot_conflict", Details: err.Error(), Reason: conflict.Reason})
	case errors.Is(err, apperr.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}

// decodeJSON reads a single JSON object, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Invalid("body", "could not parse JSON: "+err.Error())
	}
	return nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.Invalid(name, "must be a valid UUID")
	}
	return id, nil
}

func dateParam(r *http.Request, name string) (schedule.Date, error) {
	d, err := schedule.ParseDate(chi.URLParam(r, name))
	if err != nil {
		return schedule.Date{}, apperr.Invalid(name, "must be YYYY-MM-DD")
	}
	return d, nil
}

func dateQuery(r *http.Request, name string, required bool) (schedule.Date, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		if required {
			return schedule.Date{}, apperr.Invalid(name, "is required")
		}
		return schedule.Date{}, nil
	}
	d, err := schedule.ParseDate(raw)
	if err != nil {
		return schedule.Date{}, apperr.Invalid(name, "must be YYYY-MM-DD")
	}
	return d, nil
}

func intQuery(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Invalid(name, "must be a non-negative integer")
	}
	return n, nil
}
