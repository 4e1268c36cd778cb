package api

import (
	"net/http"
	"time"

	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

func availabilityRangeHandler(projector *schedule.Projector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuidParam(r, "doctorID")
		if err != nil {
			handleDomainError(w, err)
			return
		}
		from, err := dateQuery(r, "from", true)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		to, err := dateQuery(r, "to", false)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		if to.IsZero() {
			to = from
		}

		days, err := projector.Range(r.Context(), doctorID, from, to)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, AvailabilityResponse{DoctorID: doctorID, From: from, To: to, Days: days})
	}
}

func availabilityDayHandler(projector *schedule.Projector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuidParam(r, "doctorID")
		if err != nil {
			handleDomainError(w, err)
			return
		}
		date, err := dateParam(r, "date")
		if err != nil {
			handleDomainError(w, err)
			return
		}

		day, err := projector.Day(r.Context(), doctorID, date)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, day)
	}
}

// Weekly rules

func listWeeklyRulesHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuidParam(r, "doctorID")
		if err != nil {
			handleDomainError(w, err)
			return
		}

		rules, err := svc.ListWeeklyRules(r.Context(), doctorID)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, listOf(rules))
	}
}

func createWeeklyRuleHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuidParam(r, "doctorID")
		if err != nil {
			handleDomainError(w, err)
			return
		}
		var req WeeklyRuleRequest
		if err := decodeJSON(r, &req); err != nil {
			handleDomainError(w, err)
			return
		}

		rule, err := svc.CreateWeeklyRule(r.Context(), schedule.WeeklyRule{
			DoctorID:  doctorID,
			Weekday:   time.Weekday(req.Weekday),
			HoursSpec: req.spec(),
			Active:    req.active(),
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rule)
	}
}

func updateWeeklyRuleHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuidParam(r, "doctorID")
		if err != nil {
			handleDomainError(w, err)
			return
		}
		ruleID, err := uuidParam(r, "ruleID")
		if err != nil {
			handleDomainError(w, err)
			return
		}
		var req WeeklyRuleRequest
		if err := decodeJSON(r, &req); err != nil {
			handleDomainError(w, err)
			return
		}

		rule, err := svc.UpdateWeeklyRule(r.Context(), schedule.WeeklyRule{
			ID:        ruleID,
			DoctorID:  doctorID,
			Weekday:   time.Weekday(req.Weekday),
			HoursSpec: req.spec(),
			Active:    req.active(),
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rule)
	}
}

func deleteWeeklyRuleHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuidParam(r, "doctorID")
		if err != nil {
			handleDomainError(w, err)
			return
		}
		ruleID, err := uuidParam(r, "ruleID")
		if err != nil {
			handleDomainError(w, err)
			return
		}

		if err := svc.DeleteWeeklyRule(r.Context(), doctorID, ruleID); err != nil {
			handleDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Daily overrides

func listDailyOverridesHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuidParam(r, "doctorID")
		if err != nil {
			handleDomainError(w, err)
			return
		}
		from, err := dateQuery(r, "from", true)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		to, err := dateQuery(r, "to", true)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		items, err := svc.ListDailyOverrides(r.Context(), doctorID, from, to)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, listOf(items))
	}
}

func createDailyOverrideHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuidParam(r, "doctorID")
		if err != nil {
			handleDomainError(w, err)
			return
		}
		var req DailyOverrideRequest
		if err := decodeJSON(r, &req); err != nil {
			handleDomainError(w, err)
			return
		}

		o, err := svc.CreateDailyOverride(r.Context(), schedule.DailyOverride{
			DoctorID:  doctorID,
			Date:      req.Date,
			HoursSpec: req.spec(),
			Active:    req.active(),
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, o)
	}
}

func updateDailyOverrideHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuidParam(r, "doctorID")
		if err != nil {
			handleDomainError(w, err)
			return
		}
		overrideID, err := uuidParam(r, "overrideID")
		if err != nil {
			handleDomainError(w, err)
			return
		}
		var req DailyOverrideRequest
		if err := decodeJSON(r, &req); err != nil {
			handleDomainError(w, err)
			return
		}

		o, err := svc.UpdateDailyOverride(r.Context(), schedule.DailyOverride{
			ID:        overrideID,
			DoctorID:  doctorID,
			Date:      req.Date,
			HoursSpec: req.spec(),
			Active:    req.active(),
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, o)
	}
}

func deleteDailyOverrideHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuidParam(r, "doctorID")
		if err != nil {
			handleDomainError(w, err)
			return
		}
		overrideID, err := uuidParam(r, "overrideID")
		if err != nil {
			handleDomainError(w, err)
			return
		}

		if err := svc.DeleteDailyOverride(r.Context(), doctorID, overrideID); err != nil {
			handleDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Calendar

func listCalendarHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuidParam(r, "doctorID")
		if err != nil {
			handleDomainError(w, err)
			return
		}
		from, err := dateQuery(r, "from", true)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		to, err := dateQuery(r, "to", true)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		items, err := svc.ListCalendar(r.Context(), doctorID, from, to)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, listOf(items))
	}
}

func toggleCalendarHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuidParam(r, "doctorID")
		if err != nil {
			handleDomainError(w, err)
			return
		}
		date, err := dateParam(r, "date")
		if err != nil {
			handleDomainError(w, err)
			return
		}

		c, err := svc.ToggleCalendar(r.Context(), doctorID, date)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func setCalendarHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuidParam(r, "doctorID")
		if err != nil {
			handleDomainError(w, err)
			return
		}
		date, err := dateParam(r, "date")
		if err != nil {
			handleDomainError(w, err)
			return
		}
		var req CalendarRequest
		if err := decodeJSON(r, &req); err != nil {
			handleDomainError(w, err)
			return
		}

		c, err := svc.SetCalendar(r.Context(), schedule.CalendarOverride{
			DoctorID:  doctorID,
			Date:      date,
			IsWorking: req.IsWorking,
			Note:      req.Note,
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func deleteCalendarHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuidParam(r, "doctorID")
		if err != nil {
			handleDomainError(w, err)
			return
		}
		date, err := dateParam(r, "date")
		if err != nil {
			handleDomainError(w, err)
			return
		}

		if err := svc.DeleteCalendar(r.Context(), doctorID, date); err != nil {
			handleDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
