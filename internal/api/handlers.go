package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/apperr"
	"github.com/hackgods/clinic-slot-booking/internal/audit"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req appointment.CreateRequest
		if err := decodeJSON(r, &req); err != nil {
			handleDomainError(w, err)
			return
		}

		appt, err := svc.Create(r.Context(), req)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, appt)
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			handleDomainError(w, err)
			return
		}

		detail, err := svc.Get(r.Context(), id)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	}
}

func rescheduleAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			handleDomainError(w, err)
			return
		}
		var req SlotTargetRequest
		if err := decodeJSON(r, &req); err != nil {
			handleDomainError(w, err)
			return
		}

		appt, err := svc.Reschedule(r.Context(), id, req.Date, req.Time)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func cloneAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			handleDomainError(w, err)
			return
		}
		var req SlotTargetRequest
		if err := decodeJSON(r, &req); err != nil {
			handleDomainError(w, err)
			return
		}

		appt, err := svc.Clone(r.Context(), id, req.Date, req.Time)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, appt)
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			handleDomainError(w, err)
			return
		}

		appt, err := svc.Cancel(r.Context(), id)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func completeAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			handleDomainError(w, err)
			return
		}
		// The body is optional.
		var req appointment.CompleteRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(r, &req); err != nil {
				handleDomainError(w, err)
				return
			}
		}

		appt, err := svc.Complete(r.Context(), id, req)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func listDoctorAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuidParam(r, "doctorID")
		if err != nil {
			handleDomainError(w, err)
			return
		}
		from, err := dateQuery(r, "from", false)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		to, err := dateQuery(r, "to", false)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		limit, err := intQuery(r, "limit")
		if err != nil {
			handleDomainError(w, err)
			return
		}

		items, err := svc.List(r.Context(), appointment.ListFilter{
			DoctorID: doctorID,
			From:     from,
			To:       to,
			Status:   appointment.Status(r.URL.Query().Get("status")),
			Limit:    limit,
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, listOf(items))
	}
}

func slotCheckHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuidParam(r, "doctorID")
		if err != nil {
			handleDomainError(w, err)
			return
		}
		date, err := dateQuery(r, "date", true)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		at, err := schedule.ParseClock(r.URL.Query().Get("time"))
		if err != nil {
			handleDomainError(w, apperr.Invalid("time", "must be HH:MM"))
			return
		}
		exclude := uuid.Nil
		if raw := r.URL.Query().Get("exclude"); raw != "" {
			if exclude, err = uuid.Parse(raw); err != nil {
				handleDomainError(w, apperr.Invalid("exclude", "must be a valid UUID"))
				return
			}
		}

		check, err := svc.Validate(r.Context(), doctorID, date, at, exclude)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, SlotCheckResponse{
			DoctorID:  doctorID,
			Date:      date,
			Time:      at,
			Available: check.Available,
			Reason:    check.Reason,
		})
	}
}

func listAuditHandler(recorder *audit.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := intQuery(r, "limit")
		if err != nil {
			handleDomainError(w, err)
			return
		}

		entries, err := recorder.List(r.Context(), audit.Filter{
			SubjectID: r.URL.Query().Get("subject_id"),
			ActorID:   r.URL.Query().Get("actor_id"),
			Limit:     limit,
		})
		if err != nil {
			handleDomainError(w, apperr.Persistence("list audit entries", err))
			return
		}
		writeJSON(w, http.StatusOK, listOf(entries))
	}
}
