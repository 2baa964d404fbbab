// Package store provides the persistence implementations behind the tutor
// engine: PostgreSQL for tutoring contexts and interaction events, Redis for
// session handles.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/studyloop/tutor-engine/internal/tutor"
)

const dbTimeout = 5 * time.Second

// uniqueViolation is the PostgreSQL error code for duplicate keys. Concurrent
// best-effort saves of the same row are expected and benign.
const uniqueViolation = "23505"

// PostgresContexts is a PostgreSQL-backed tutor.ContextStore. The full
// context travels as one jsonb document; subjects are additionally
// denormalized into their own table for listing and reporting.
type PostgresContexts struct {
	pool *pgxpool.Pool
}

// NewPostgresContexts creates a PostgreSQL-backed context store.
func NewPostgresContexts(pool *pgxpool.Pool) (*PostgresContexts, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresContexts{pool: pool}, nil
}

// EnsureSchema creates the store's tables when they do not exist yet.
func (s *PostgresContexts) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tutor_contexts (
			user_id    TEXT PRIMARY KEY,
			context    JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS subjects (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL,
			name           TEXT NOT NULL,
			progress       DOUBLE PRECISION NOT NULL DEFAULT 0,
			active         BOOLEAN NOT NULL DEFAULT TRUE,
			created_at     TIMESTAMPTZ NOT NULL,
			last_active_at TIMESTAMPTZ NOT NULL,
			completed_at   TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS subjects_user_idx ON subjects (user_id)`,
		`CREATE TABLE IF NOT EXISTS content_items (
			id         TEXT PRIMARY KEY,
			subject_id TEXT NOT NULL,
			type       TEXT NOT NULL,
			title      TEXT NOT NULL,
			data       JSONB,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS content_items_subject_idx ON content_items (subject_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS interaction_events (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			subject_id TEXT,
			kind       TEXT NOT NULL,
			payload    JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS interaction_events_user_idx ON interaction_events (user_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// LoadContext fetches the tutoring context for a learner.
func (s *PostgresContexts) LoadContext(ctx context.Context, userID string) (*tutor.TutorContext, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT context FROM tutor_contexts WHERE user_id = $1`,
		userID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load context: %w", err)
	}

	var tc tutor.TutorContext
	if err := json.Unmarshal(raw, &tc); err != nil {
		return nil, false, fmt.Errorf("decode context: %w", err)
	}
	return &tc, true, nil
}

// SaveContext upserts the context document and refreshes the subject row.
// A unique violation from a racing save is treated as success.
func (s *PostgresContexts) SaveContext(ctx context.Context, userID string, tc *tutor.TutorContext) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	raw, err := json.Marshal(tc)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO tutor_contexts (user_id, context, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (user_id) DO UPDATE SET context = $2, updated_at = now()`,
		userID, raw,
	)
	if err != nil && !isUniqueViolation(err) {
		return fmt.Errorf("save context: %w", err)
	}

	if tc.Subject != nil {
		if err := s.saveSubject(ctx, tc.Subject); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresContexts) saveSubject(ctx context.Context, sub *tutor.Subject) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO subjects (id, user_id, name, progress, active, created_at, last_active_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
			name = $3, progress = $4, active = $5, last_active_at = $7, completed_at = $8`,
		sub.ID, sub.UserID, sub.Name, sub.Progress, sub.Active,
		sub.CreatedAt, sub.LastActiveAt, sub.CompletedAt,
	)
	if err != nil && !isUniqueViolation(err) {
		return fmt.Errorf("save subject: %w", err)
	}
	return nil
}

// ListSubjects returns a learner's subjects, most recently active first.
func (s *PostgresContexts) ListSubjects(ctx context.Context, userID string) ([]tutor.Subject, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, progress, active, created_at, last_active_at, completed_at
		 FROM subjects
		 WHERE user_id = $1
		 ORDER BY last_active_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()

	var subjects []tutor.Subject
	for rows.Next() {
		var sub tutor.Subject
		if err := rows.Scan(
			&sub.ID, &sub.UserID, &sub.Name, &sub.Progress, &sub.Active,
			&sub.CreatedAt, &sub.LastActiveAt, &sub.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		subjects = append(subjects, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subjects: %w", err)
	}
	return subjects, nil
}

// DeleteSubject removes the subject row. The jsonb context is left to the
// engine, which detaches and re-saves it.
func (s *PostgresContexts) DeleteSubject(ctx context.Context, subjectID string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := s.pool.Exec(ctx, `DELETE FROM subjects WHERE id = $1`, subjectID); err != nil {
		return fmt.Errorf("delete subject: %w", err)
	}
	return nil
}

// SaveContent stores an interactive-content item. Content is immutable, so a
// unique violation means the item is already saved and counts as success.
func (s *PostgresContexts) SaveContent(ctx context.Context, c *tutor.InteractiveContent) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	data, err := json.Marshal(c.Data)
	if err != nil {
		return fmt.Errorf("encode content data: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO content_items (id, subject_id, type, title, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.SubjectID, string(c.Type), c.Title, data, c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("save content: %w", err)
	}
	return nil
}

// ListContent returns a subject's content feed, newest first.
func (s *PostgresContexts) ListContent(ctx context.Context, subjectID string) ([]tutor.InteractiveContent, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT id, subject_id, type, title, data, created_at
		 FROM content_items
		 WHERE subject_id = $1
		 ORDER BY created_at DESC`,
		subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	defer rows.Close()

	var items []tutor.InteractiveContent
	for rows.Next() {
		var c tutor.InteractiveContent
		var typ string
		var raw []byte
		if err := rows.Scan(&c.ID, &c.SubjectID, &typ, &c.Title, &raw, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		c.Type = tutor.ContentType(typ)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &c.Data); err != nil {
				return nil, fmt.Errorf("decode content data: %w", err)
			}
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content: %w", err)
	}
	return items, nil
}

// Event is one recorded learner interaction with a rendered component.
type Event struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	SubjectID string         `json:"subject_id,omitempty"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// RecordEvent inserts an interaction event. Redelivery of an already stored
// event id is benign.
func (s *PostgresContexts) RecordEvent(ctx context.Context, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO interaction_events (id, user_id, subject_id, kind, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.UserID, nullIfEmpty(ev.SubjectID), ev.Kind, payload, createdAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// CountEvents returns how many interaction events a learner has recorded.
func (s *PostgresContexts) CountEvents(ctx context.Context, userID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM interaction_events WHERE user_id = $1`,
		userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
