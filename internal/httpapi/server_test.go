package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/xuri/excelize/v2"

	"github.com/studyloop/tutor-engine/internal/store"
	"github.com/studyloop/tutor-engine/internal/tutor"
)

type fakeDirectory struct {
	subjects []tutor.Subject
	deleted  []string
	err      error
}

func (d *fakeDirectory) ListSubjects(_ context.Context, _ string) ([]tutor.Subject, error) {
	return d.subjects, d.err
}

func (d *fakeDirectory) DeleteSubject(_ context.Context, id string) error {
	d.deleted = append(d.deleted, id)
	return d.err
}

type fakeRecorder struct {
	events []store.Event
}

func (r *fakeRecorder) RecordEvent(_ context.Context, ev store.Event) error {
	r.events = append(r.events, ev)
	return nil
}

type fakeContents struct {
	saved []*tutor.InteractiveContent
}

func (c *fakeContents) SaveContent(_ context.Context, item *tutor.InteractiveContent) error {
	c.saved = append(c.saved, item)
	return nil
}

func (c *fakeContents) ListContent(_ context.Context, subjectID string) ([]tutor.InteractiveContent, error) {
	var out []tutor.InteractiveContent
	for _, item := range c.saved {
		if item.SubjectID == subjectID {
			out = append(out, *item)
		}
	}
	return out, nil
}

type failingChecker struct{}

func (failingChecker) HealthCheck(context.Context) error { return fmt.Errorf("connection refused") }

func newTestServer(t *testing.T, seed *tutor.TutorContext, dir *fakeDirectory, rec *fakeRecorder) *Server {
	t.Helper()
	contexts := tutor.NewMemoryContexts()
	if seed != nil {
		if err := contexts.SaveContext(context.Background(), seed.UserID, seed); err != nil {
			t.Fatal(err)
		}
	}
	engine := tutor.NewEngine(tutor.EngineConfig{Contexts: contexts})

	cfg := Config{Engine: engine}
	if dir != nil {
		cfg.Directory = dir
	}
	if rec != nil {
		cfg.Events = rec
	}
	return New(cfg)
}

func postJSON(t *testing.T, s *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestChatEndpoint(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)

	w := postJSON(t, s, "/api/v1/chat", map[string]any{
		"user_id": "user-1",
		"message": "I want to learn algebra",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body)
	}

	var res tutor.TurnResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Message == "" {
		t.Error("empty turn message")
	}
	if !res.Degraded {
		t.Error("engine without a service should answer degraded")
	}
}

func TestChatEndpointValidation(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)

	if w := postJSON(t, s, "/api/v1/chat", map[string]any{"user_id": "u"}); w.Code != http.StatusBadRequest {
		t.Errorf("missing message: status = %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader("{broken"))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("broken body: status = %d", w.Code)
	}
}

func seedContext() *tutor.TutorContext {
	tc := &tutor.TutorContext{
		UserID:  "user-1",
		Subject: &tutor.Subject{ID: "subj-1", UserID: "user-1", Name: "Algebra", Active: true},
		Profile: tutor.Profile{Level: "intermediate"},
	}
	tc.Plan = tutor.NewLessonPlan("Algebra", []string{"Variables"}, "beginner")
	return tc
}

func TestAssessmentEndpoint(t *testing.T) {
	s := newTestServer(t, seedContext(), nil, nil)

	w := postJSON(t, s, "/api/v1/assessments", map[string]any{
		"user_id": "user-1", "score": 9, "total": 10,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body)
	}

	var res assessmentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if !res.Success || !res.Passed {
		t.Errorf("response = %+v", res)
	}
	if res.Summary == "" {
		t.Error("no lesson summary on pass")
	}
	if res.Threshold != 0.8 {
		t.Errorf("threshold = %v, want 0.8", res.Threshold)
	}
}

func TestAssessmentEndpointValidation(t *testing.T) {
	s := newTestServer(t, seedContext(), nil, nil)

	if w := postJSON(t, s, "/api/v1/assessments", map[string]any{
		"user_id": "user-1", "score": 5, "total": 0,
	}); w.Code != http.StatusBadRequest {
		t.Errorf("zero total: status = %d", w.Code)
	}
	if w := postJSON(t, s, "/api/v1/assessments", map[string]any{
		"user_id": "nobody", "score": 1, "total": 2,
	}); w.Code != http.StatusNotFound {
		t.Errorf("unknown user: status = %d", w.Code)
	}
}

func TestEventEndpoint(t *testing.T) {
	rec := &fakeRecorder{}
	s := newTestServer(t, seedContext(), nil, rec)

	w := postJSON(t, s, "/api/v1/events", map[string]any{
		"user_id":    "user-1",
		"subject_id": "subj-1",
		"kind":       "quiz_answered",
		"payload":    map[string]any{"correct": true},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body)
	}

	if len(rec.events) != 1 {
		t.Fatalf("events recorded = %d", len(rec.events))
	}
	if rec.events[0].Kind != "quiz_answered" || rec.events[0].ID == "" {
		t.Errorf("event = %+v", rec.events[0])
	}

	var res tutor.TurnResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Message == "" {
		t.Error("event turn produced no message")
	}
}

func TestListSubjectsEndpoint(t *testing.T) {
	dir := &fakeDirectory{subjects: []tutor.Subject{{ID: "subj-1", Name: "Algebra"}}}
	s := newTestServer(t, nil, dir, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subjects?user_id=user-1", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var res struct {
		Subjects []tutor.Subject `json:"subjects"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Subjects) != 1 || res.Subjects[0].Name != "Algebra" {
		t.Errorf("subjects = %+v", res.Subjects)
	}
}

func TestDeleteSubjectEndpoint(t *testing.T) {
	dir := &fakeDirectory{}
	s := newTestServer(t, seedContext(), dir, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/subjects/subj-1?user_id=user-1", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d body=%s", w.Code, w.Body)
	}
	if len(dir.deleted) != 1 || dir.deleted[0] != "subj-1" {
		t.Errorf("deleted = %v", dir.deleted)
	}
}

func TestProgressReportEndpoint(t *testing.T) {
	s := newTestServer(t, seedContext(), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/progress?user_id=user-1", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("content type = %q", ct)
	}

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("body is not a workbook: %v", err)
	}
	defer f.Close()
	if got, _ := f.GetCellValue("Subjects", "A2"); got != "Algebra" {
		t.Errorf("A2 = %q", got)
	}
}

func TestSubjectContentEndpoint(t *testing.T) {
	contents := &fakeContents{}
	contexts := tutor.NewMemoryContexts()
	seed := seedContext()
	if err := contexts.SaveContext(context.Background(), seed.UserID, seed); err != nil {
		t.Fatal(err)
	}
	engine := tutor.NewEngine(tutor.EngineConfig{Contexts: contexts})
	s := New(Config{Engine: engine, Contents: contents})

	// A degraded chat turn for an active lesson produces content, which the
	// server persists alongside publishing it to the feed.
	w := postJSON(t, s, "/api/v1/chat", map[string]any{
		"user_id": "user-1",
		"message": "give me something to practice",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("chat status = %d", w.Code)
	}
	if len(contents.saved) == 0 {
		t.Fatal("turn content was not persisted")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subjects/subj-1/content", nil)
	w = httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var res struct {
		Content []tutor.InteractiveContent `json:"content"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Content) != len(contents.saved) {
		t.Errorf("content = %d items, want %d", len(res.Content), len(contents.saved))
	}
}

func TestReadyz(t *testing.T) {
	engine := tutor.NewEngine(tutor.EngineConfig{})
	s := New(Config{Engine: engine, Health: []Checker{failingChecker{}}})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", w.Code)
	}

	s = New(Config{Engine: engine})
	w = httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestContentFeed(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)
	ts := httptest.NewServer(s)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/content/feed?user_id=user-1"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Give the server a moment to register the subscription.
	deadline := time.Now().Add(time.Second)
	for {
		s.feed.mu.Lock()
		n := len(s.feed.subs["user-1"])
		s.feed.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("subscription never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	want := []*tutor.InteractiveContent{
		tutor.NewContent(tutor.ContentExplainer, "Variables", "subj-1", nil, "variables", "beginner"),
	}
	s.feed.Publish("user-1", want)

	var got []*tutor.InteractiveContent
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 || got[0].Type != tutor.ContentExplainer || got[0].Title != "Variables" {
		t.Errorf("got = %+v", got)
	}

	// A client close frame must tear the subscription down, not leave the
	// handler blocked until the request context dies.
	conn.Close(websocket.StatusNormalClosure, "")
	deadline = time.Now().Add(time.Second)
	for {
		s.feed.mu.Lock()
		n := len(s.feed.subs["user-1"])
		s.feed.mu.Unlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("subscription survived client close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
