package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Source names which layer decided a date.
type Source string

const (
	SourceNone     Source = "none"
	SourceCalendar Source = "calendar"
	SourceDaily    Source = "daily_override"
	SourceWeekly   Source = "weekly_rule"
)

// Resolution is the effective schedule of one doctor on one date.
type Resolution struct {
	Date    Date   `json:"date"`
	Working bool   `json:"working"`
	Source  Source `json:"source"`
	Hours   *Hours `json:"hours,omitempty"`
	Note    string `json:"note,omitempty"`
}

// Sources is a snapshot of the three schedule layers for one doctor and a
// date range. Resolve reads it without side effects.
type Sources struct {
	Weekly   map[time.Weekday]WeeklyRule
	Daily    map[Date]DailyOverride
	Calendar map[Date]CalendarOverride
}

func NewSources() Sources {
	return Sources{
		Weekly:   make(map[time.Weekday]WeeklyRule),
		Daily:    make(map[Date]DailyOverride),
		Calendar: make(map[Date]CalendarOverride),
	}
}

// Resolve applies the layer priority for date: calendar flag first, then an
// active daily override, then the active weekly rule. Without hours the date
// is closed.
func Resolve(src Sources, date Date) Resolution {
	res := Resolution{Date: date, Source: SourceNone}

	cal, hasCal := src.Calendar[date]
	if hasCal {
		res.Source = SourceCalendar
		res.Note = cal.Note
		if !cal.IsWorking {
			return res
		}
	}

	var hours *Hours
	if d, ok := src.Daily[date]; ok && d.Active {
		h := d.Hours()
		hours = &h
		if !hasCal {
			res.Source = SourceDaily
		}
	} else if w, ok := src.Weekly[date.Weekday()]; ok && w.Active {
		h := w.Hours()
		hours = &h
		if !hasCal {
			res.Source = SourceWeekly
		}
	}

	if hours == nil {
		return res
	}
	res.Working = true
	res.Hours = hours
	return res
}

// SourceReader loads the schedule layers for a doctor.
type SourceReader interface {
	ListWeeklyRules(ctx context.Context, doctorID uuid.UUID) ([]WeeklyRule, error)
	ListDailyOverrides(ctx context.Context, doctorID uuid.UUID, from, to Date) ([]DailyOverride, error)
	ListCalendarOverrides(ctx context.Context, doctorID uuid.UUID, from, to Date) ([]CalendarOverride, error)
}

// Resolver loads snapshots from storage and resolves dates against them.
type Resolver struct {
	reader SourceReader
}

func NewResolver(reader SourceReader) *Resolver {
	return &Resolver{reader: reader}
}

// Load reads every layer for doctorID over [from, to] in one pass.
func (r *Resolver) Load(ctx context.Context, doctorID uuid.UUID, from, to Date) (Sources, error) {
	src := NewSources()

	rules, err := r.reader.ListWeeklyRules(ctx, doctorID)
	if err != nil {
		return src, err
	}
	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		// Write-time checks keep one active rule per weekday; newest wins if
		// older data still holds duplicates.
		if cur, ok := src.Weekly[rule.Weekday]; ok && cur.CreatedAt.After(rule.CreatedAt) {
			continue
		}
		src.Weekly[rule.Weekday] = rule
	}

	daily, err := r.reader.ListDailyOverrides(ctx, doctorID, from, to)
	if err != nil {
		return src, err
	}
	for _, d := range daily {
		src.Daily[d.Date] = d
	}

	cal, err := r.reader.ListCalendarOverrides(ctx, doctorID, from, to)
	if err != nil {
		return src, err
	}
	for _, c := range cal {
		src.Calendar[c.Date] = c
	}

	return src, nil
}

// ResolveDay loads and resolves a single date.
func (r *Resolver) ResolveDay(ctx context.Context, doctorID uuid.UUID, date Date) (Resolution, error) {
	src, err := r.Load(ctx, doctorID, date, date)
	if err != nil {
		return Resolution{Date: date, Source: SourceNone}, err
	}
	return Resolve(src, date), nil
}
