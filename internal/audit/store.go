package audit

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Append(ctx context.Context, e *Entry) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO audit_log (actor_id, actor_name, action, subject_kind, subject_id, detail, user_agent, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, NULLIF($7, ''), $8)
		RETURNING id
	`, e.ActorID, e.ActorName, string(e.Action), e.SubjectKind, e.SubjectID, []byte(e.Detail), e.UserAgent, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *PgStore) List(ctx context.Context, f Filter) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, actor_id, COALESCE(actor_name, ''), action, subject_kind, subject_id, detail, COALESCE(user_agent, ''), created_at
		FROM audit_log
		WHERE ($1 = '' OR subject_id = $1)
		  AND ($2 = '' OR actor_id = $2)
		ORDER BY id DESC
		LIMIT $3
	`, f.SubjectID, f.ActorID, f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Entry
	for rows.Next() {
		var (
			e      Entry
			action string
			detail []byte
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ActorName, &action, &e.SubjectKind, &e.SubjectID, &detail, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Action = Action(action)
		e.Detail = detail
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = int64(len(s.entries) + 1)
	s.entries = append(s.entries, *e)
	return nil
}

// List returns matching entries newest first.
func (s *MemoryStore) List(_ context.Context, f Filter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if f.SubjectID != "" && e.SubjectID != f.SubjectID {
			continue
		}
		if f.ActorID != "" && e.ActorID != f.ActorID {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}
