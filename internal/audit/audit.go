// Package audit keeps the append-only record of every mutating action.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

type Action string

const (
	ActionCreate     Action = "create"
	ActionReschedule Action = "reschedule"
	ActionClone      Action = "clone"
	ActionCancel     Action = "cancel"
	ActionComplete   Action = "complete"

	ActionWeeklyRuleCreate Action = "weekly_rule.create"
	ActionWeeklyRuleUpdate Action = "weekly_rule.update"
	ActionWeeklyRuleDelete Action = "weekly_rule.delete"

	ActionDailyOverrideCreate Action = "daily_override.create"
	ActionDailyOverrideUpdate Action = "daily_override.update"
	ActionDailyOverrideDelete Action = "daily_override.delete"

	ActionCalendarToggle Action = "calendar.toggle"
	ActionCalendarSet    Action = "calendar.set"
	ActionCalendarDelete Action = "calendar.delete"

	ActionOverridesPrune Action = "overrides.prune"
)

// Actor is the authenticated identity behind a request.
type Actor struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

const anonymous = "anonymous"

type actorKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFromContext returns the request actor, or an anonymous one.
func ActorFromContext(ctx context.Context) Actor {
	if a, ok := ctx.Value(actorKey{}).(Actor); ok && a.ID != "" {
		return a
	}
	return Actor{ID: anonymous}
}

// Subject identifies the record an entry is about.
type Subject struct {
	Kind string
	ID   string
}

type Entry struct {
	ID          int64           `json:"id"`
	ActorID     string          `json:"actor_id"`
	ActorName   string          `json:"actor_name,omitempty"`
	Action      Action          `json:"action"`
	SubjectKind string          `json:"subject_kind"`
	SubjectID   string          `json:"subject_id"`
	Detail      json.RawMessage `json:"detail,omitempty"`
	UserAgent   string          `json:"user_agent,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Change is the usual detail payload: the values before and after the action.
type Change struct {
	Before any `json:"before,omitempty"`
	After  any `json:"after,omitempty"`
}

type Filter struct {
	SubjectID string
	ActorID   string
	Limit     int
}

// Store persists entries. Append must not modify existing entries.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	List(ctx context.Context, f Filter) ([]Entry, error)
}

// Recorder writes audit entries. A failed write is reported to the
// operational log and never fails the action being audited.
type Recorder struct {
	store Store
	log   zerolog.Logger
	now   func() time.Time
}

func NewRecorder(store Store, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store: store,
		log:   logger.With().Str("component", "audit").Logger(),
		now:   time.Now,
	}
}

func (r *Recorder) Record(ctx context.Context, actor Actor, action Action, subject Subject, detail any) {
	data, err := json.Marshal(detail)
	if err != nil {
		r.log.Error().Err(err).Str("action", string(action)).Msg("failed to marshal audit detail")
		data = nil
	}

	e := &Entry{
		ActorID:     actor.ID,
		ActorName:   actor.Name,
		Action:      action,
		SubjectKind: subject.Kind,
		SubjectID:   subject.ID,
		Detail:      data,
		UserAgent:   actor.UserAgent,
		CreatedAt:   r.now().UTC(),
	}

	if err := r.store.Append(ctx, e); err != nil {
		r.log.Error().
			Err(err).
			Str("action", string(action)).
			Str("subject_kind", subject.Kind).
			Str("subject_id", subject.ID).
			Str("actor_id", actor.ID).
			Msg("failed to append audit entry")
	}
}

func (r *Recorder) List(ctx context.Context, f Filter) ([]Entry, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	return r.store.List(ctx, f)
}
