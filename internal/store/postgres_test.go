package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/studyloop/tutor-engine/internal/tutor"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("tutor"),
		postgres.WithUsername("tutor"),
		postgres.WithPassword("tutor"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("starting postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("terminating container: %v", err)
		}
	})

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresContexts(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	s, err := NewPostgresContexts(pool)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}

	if _, ok, err := s.LoadContext(ctx, "user-1"); err != nil || ok {
		t.Fatalf("empty load: ok=%v err=%v", ok, err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	tc := &tutor.TutorContext{
		UserID: "user-1",
		Subject: &tutor.Subject{
			ID: "subj-1", UserID: "user-1", Name: "Algebra",
			Progress: 50, Active: true,
			CreatedAt: now, LastActiveAt: now,
		},
		Plan:     tutor.NewLessonPlan("Algebra", []string{"Variables", "Equations"}, "beginner"),
		Progress: tutor.LearningProgress{CorrectAnswers: 1, TotalAttempts: 2, TotalLessons: 2},
	}
	tc.AppendUser("I want to learn algebra")

	if err := s.SaveContext(ctx, "user-1", tc); err != nil {
		t.Fatal(err)
	}
	// Second save upserts rather than conflicting.
	tc.Subject.Progress = 100
	if err := s.SaveContext(ctx, "user-1", tc); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.LoadContext(ctx, "user-1")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.Subject == nil || got.Subject.Name != "Algebra" || got.Subject.Progress != 100 {
		t.Errorf("subject = %+v", got.Subject)
	}
	if got.Plan == nil || len(got.Plan.Lessons) != 2 {
		t.Errorf("plan = %+v", got.Plan)
	}
	if len(got.History) != 1 || got.History[0].Content != "I want to learn algebra" {
		t.Errorf("history = %+v", got.History)
	}

	subjects, err := s.ListSubjects(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(subjects) != 1 || subjects[0].Progress != 100 {
		t.Errorf("subjects = %+v", subjects)
	}

	if err := s.DeleteSubject(ctx, "subj-1"); err != nil {
		t.Fatal(err)
	}
	subjects, err = s.ListSubjects(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(subjects) != 0 {
		t.Errorf("subjects after delete = %+v", subjects)
	}
}

func TestPostgresContextsEvents(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	s, err := NewPostgresContexts(pool)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}

	ev := Event{
		ID:        "ev-1",
		UserID:    "user-1",
		SubjectID: "subj-1",
		Kind:      "quiz_answered",
		Payload:   map[string]any{"correct": true},
	}
	if err := s.RecordEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}
	// Redelivery of the same event id is benign.
	if err := s.RecordEvent(ctx, ev); err != nil {
		t.Fatalf("duplicate event errored: %v", err)
	}

	n, err := s.CountEvents(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("event count = %d, want 1", n)
	}
}

func TestPostgresContextsContent(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	s, err := NewPostgresContexts(pool)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}

	c := tutor.NewContent(tutor.ContentExplainer, "Variables", "subj-1", nil, "variables", "beginner")
	if err := s.SaveContent(ctx, c); err != nil {
		t.Fatal(err)
	}
	// Re-saving the same id is benign.
	if err := s.SaveContent(ctx, c); err != nil {
		t.Fatalf("duplicate save errored: %v", err)
	}

	items, err := s.ListContent(ctx, "subj-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if items[0].Type != tutor.ContentExplainer || items[0].Title != "Variables" {
		t.Errorf("item = %+v", items[0])
	}
	if items[0].Data["concept"] != "variables" {
		t.Errorf("data = %v", items[0].Data)
	}

	items, err = s.ListContent(ctx, "other")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Errorf("foreign subject items = %d", len(items))
	}
}
