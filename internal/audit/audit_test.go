package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenStore struct{}

func (brokenStore) Append(context.Context, *Entry) error {
	return errors.New("disk full")
}

func (brokenStore) List(context.Context, Filter) ([]Entry, error) {
	return nil, nil
}

func TestActorFromContext(t *testing.T) {
	assert.Equal(t, Actor{ID: "anonymous"}, ActorFromContext(context.Background()))

	ctx := WithActor(context.Background(), Actor{ID: "u-1", Name: "Nurse Joy"})
	assert.Equal(t, "Nurse Joy", ActorFromContext(ctx).Name)

	ctx = WithActor(context.Background(), Actor{Name: "no id"})
	assert.Equal(t, "anonymous", ActorFromContext(ctx).ID)
}

func TestRecorder_AppendsEntries(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, zerolog.Nop())
	ctx := context.Background()
	actor := Actor{ID: "u-1", Name: "Reception", UserAgent: "curl/8"}

	rec.Record(ctx, actor, ActionCreate, Subject{Kind: "appointment", ID: "a-1"}, Change{After: map[string]string{"time": "10:00"}})
	rec.Record(ctx, actor, ActionCancel, Subject{Kind: "appointment", ID: "a-1"}, nil)
	rec.Record(ctx, Actor{ID: "u-2"}, ActionCalendarToggle, Subject{Kind: "calendar_override", ID: "d:2025-03-03"}, nil)

	entries, err := rec.List(ctx, Filter{SubjectID: "a-1"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ActionCancel, entries[0].Action)
	assert.Equal(t, ActionCreate, entries[1].Action)
	assert.Equal(t, "curl/8", entries[1].UserAgent)
	assert.False(t, entries[1].CreatedAt.IsZero())

	var detail map[string]map[string]string
	require.NoError(t, json.Unmarshal(entries[1].Detail, &detail))
	assert.Equal(t, "10:00", detail["after"]["time"])

	byActor, err := rec.List(ctx, Filter{ActorID: "u-2"})
	require.NoError(t, err)
	require.Len(t, byActor, 1)
	assert.Equal(t, ActionCalendarToggle, byActor[0].Action)
}

func TestRecorder_FailureIsLoggedNotReturned(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(brokenStore{}, zerolog.New(&buf))

	assert.NotPanics(t, func() {
		rec.Record(context.Background(), Actor{ID: "u-1"}, ActionComplete, Subject{Kind: "appointment", ID: "a-9"}, nil)
	})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "complete", line["action"])
	assert.Equal(t, "a-9", line["subject_id"])
	assert.Equal(t, "disk full", line["error"])
}

func TestRecorder_ListLimits(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		rec.Record(ctx, Actor{ID: "u"}, ActionCreate, Subject{Kind: "appointment", ID: "x"}, nil)
	}

	entries, err := rec.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, 50)

	entries, err = rec.List(ctx, Filter{Limit: 5})
	require.NoError(t, err)
	assert.Len(t, entries, 5)
	assert.Equal(t, int64(60), entries[0].ID)
}
