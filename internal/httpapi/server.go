// Package httpapi exposes the tutoring engine over HTTP: chat turns,
// assessments, interaction events, subject management, progress reports, and
// a websocket content feed.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/studyloop/tutor-engine/internal/report"
	"github.com/studyloop/tutor-engine/internal/store"
	"github.com/studyloop/tutor-engine/internal/tutor"
)

// SubjectDirectory lists and removes persisted subject rows.
type SubjectDirectory interface {
	ListSubjects(ctx context.Context, userID string) ([]tutor.Subject, error)
	DeleteSubject(ctx context.Context, subjectID string) error
}

// EventRecorder persists learner interaction events.
type EventRecorder interface {
	RecordEvent(ctx context.Context, ev store.Event) error
}

// ContentStore persists interactive-content items for the subject feed.
type ContentStore interface {
	SaveContent(ctx context.Context, c *tutor.InteractiveContent) error
	ListContent(ctx context.Context, subjectID string) ([]tutor.InteractiveContent, error)
}

// Checker reports the health of one backing service.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// Config holds the API server's collaborators. Directory and Events may be
// nil when the deployment runs without PostgreSQL.
type Config struct {
	Engine    *tutor.Engine
	Directory SubjectDirectory
	Events    EventRecorder
	Contents  ContentStore
	Health    []Checker
}

// Server is the HTTP API.
type Server struct {
	engine    *tutor.Engine
	directory SubjectDirectory
	events    EventRecorder
	contents  ContentStore
	health    []Checker
	feed      *Feed
	mux       *http.ServeMux
}

// New creates the API server and its routes.
func New(cfg Config) *Server {
	s := &Server{
		engine:    cfg.Engine,
		directory: cfg.Directory,
		events:    cfg.Events,
		contents:  cfg.Contents,
		health:    cfg.Health,
		feed:      NewFeed(),
		mux:       http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /readyz", s.handleReadyz)
	s.mux.HandleFunc("POST /api/v1/chat", s.handleChat)
	s.mux.HandleFunc("POST /api/v1/assessments", s.handleAssessment)
	s.mux.HandleFunc("POST /api/v1/events", s.handleEvent)
	s.mux.HandleFunc("GET /api/v1/subjects", s.handleListSubjects)
	s.mux.HandleFunc("DELETE /api/v1/subjects/{id}", s.handleDeleteSubject)
	s.mux.HandleFunc("GET /api/v1/subjects/{id}/content", s.handleSubjectContent)
	s.mux.HandleFunc("GET /api/v1/reports/progress", s.handleProgressReport)
	s.mux.HandleFunc("GET /api/v1/content/feed", s.handleContentFeed)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type chatRequest struct {
	UserID    string           `json:"user_id"`
	Message   string           `json:"message"`
	Overrides *tutor.Overrides `json:"overrides,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "user_id and message are required")
		return
	}

	res, err := s.engine.Respond(r.Context(), req.UserID, req.Message, req.Overrides)
	if err != nil {
		slog.Error("chat turn failed", "user_id", req.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "turn failed")
		return
	}

	s.publishContent(r.Context(), req.UserID, res.Content)
	writeJSON(w, http.StatusOK, res)
}

// publishContent fans new content out to feed subscribers and persists it.
// Duplicate saves are benign, so redelivery after a retried turn is safe.
func (s *Server) publishContent(ctx context.Context, userID string, content []*tutor.InteractiveContent) {
	if len(content) == 0 {
		return
	}
	s.feed.Publish(userID, content)
	if s.contents == nil {
		return
	}
	for _, c := range content {
		if err := s.contents.SaveContent(ctx, c); err != nil {
			slog.Warn("saving content item failed", "content_id", c.ID, "error", err)
		}
	}
}

type assessmentRequest struct {
	UserID     string `json:"user_id"`
	LessonID   string `json:"lesson_id,omitempty"`
	Score      int    `json:"score"`
	Total      int    `json:"total"`
	Difficulty string `json:"difficulty,omitempty"`
}

type assessmentResponse struct {
	Success        bool    `json:"success"`
	Passed         bool    `json:"passed"`
	Message        string  `json:"message"`
	Ratio          float64 `json:"ratio"`
	Threshold      float64 `json:"threshold"`
	Summary        string  `json:"summary,omitempty"`
	SubjectSummary string  `json:"subjectSummary,omitempty"`
}

func (s *Server) handleAssessment(w http.ResponseWriter, r *http.Request) {
	var req assessmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.Total <= 0 || req.Score < 0 || req.Score > req.Total {
		writeError(w, http.StatusBadRequest, "score must be in 0..total and total positive")
		return
	}

	res, err := s.engine.Assess(r.Context(), req.UserID, req.LessonID, req.Score, req.Total, req.Difficulty)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if res.Error != "" {
		writeError(w, http.StatusConflict, res.Error)
		return
	}

	resp := assessmentResponse{
		Success: res.OK,
		Message: res.Message,
	}
	if v, ok := res.Data["passed"].(bool); ok {
		resp.Passed = v
	}
	if v, ok := res.Data["ratio"].(float64); ok {
		resp.Ratio = v
	}
	if v, ok := res.Data["threshold"].(float64); ok {
		resp.Threshold = v
	}
	if v, ok := res.Data["summary"].(string); ok {
		resp.Summary = v
	}
	if v, ok := res.Data["subject_summary"].(string); ok {
		resp.SubjectSummary = v
	}
	writeJSON(w, http.StatusOK, resp)
}

type eventRequest struct {
	ID        string         `json:"id,omitempty"`
	UserID    string         `json:"user_id"`
	SubjectID string         `json:"subject_id,omitempty"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// handleEvent records an interaction event and feeds a synthesized follow-up
// into the conversation so the tutor reacts to what the learner just did.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.Kind == "" {
		writeError(w, http.StatusBadRequest, "user_id and kind are required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	if s.events != nil {
		ev := store.Event{
			ID:        req.ID,
			UserID:    req.UserID,
			SubjectID: req.SubjectID,
			Kind:      req.Kind,
			Payload:   req.Payload,
		}
		if err := s.events.RecordEvent(r.Context(), ev); err != nil {
			slog.Warn("recording interaction event failed", "event_id", req.ID, "error", err)
		}
	}

	res, err := s.engine.Respond(r.Context(), req.UserID, eventMessage(req), nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "turn failed")
		return
	}
	s.publishContent(r.Context(), req.UserID, res.Content)
	writeJSON(w, http.StatusOK, res)
}

// handleSubjectContent returns the persisted content feed for a subject.
func (s *Server) handleSubjectContent(w http.ResponseWriter, r *http.Request) {
	subjectID := r.PathValue("id")
	if subjectID == "" {
		writeError(w, http.StatusBadRequest, "subject id is required")
		return
	}
	if s.contents == nil {
		writeJSON(w, http.StatusOK, map[string]any{"content": []tutor.InteractiveContent{}})
		return
	}

	items, err := s.contents.ListContent(r.Context(), subjectID)
	if err != nil {
		slog.Error("listing content failed", "subject_id", subjectID, "error", err)
		writeError(w, http.StatusInternalServerError, "listing content failed")
		return
	}
	if items == nil {
		items = []tutor.InteractiveContent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"content": items})
}

// eventMessage turns a structured interaction event into the conversational
// follow-up the engine understands.
func eventMessage(req eventRequest) string {
	switch req.Kind {
	case "quiz_answered":
		if correct, _ := req.Payload["correct"].(bool); correct {
			return "I just answered the quiz question correctly."
		}
		return "I just answered the quiz question but got it wrong."
	case "component_completed":
		return "I finished the interactive exercise you gave me."
	case "component_skipped":
		return "I skipped that exercise, it did not help me."
	case "hint_requested":
		return "I needed a hint on the current exercise."
	default:
		return fmt.Sprintf("I just did this in the lesson: %s.", strings.ReplaceAll(req.Kind, "_", " "))
	}
}

func (s *Server) handleListSubjects(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	var subjects []tutor.Subject
	if s.directory != nil {
		var err error
		subjects, err = s.directory.ListSubjects(r.Context(), userID)
		if err != nil {
			slog.Error("listing subjects failed", "user_id", userID, "error", err)
			writeError(w, http.StatusInternalServerError, "listing subjects failed")
			return
		}
	} else if tc, ok, _ := s.engine.Context(r.Context(), userID); ok && tc.Subject != nil {
		subjects = []tutor.Subject{*tc.Subject}
	}

	if subjects == nil {
		subjects = []tutor.Subject{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"subjects": subjects})
}

func (s *Server) handleDeleteSubject(w http.ResponseWriter, r *http.Request) {
	subjectID := r.PathValue("id")
	userID := r.URL.Query().Get("user_id")
	if subjectID == "" || userID == "" {
		writeError(w, http.StatusBadRequest, "subject id and user_id are required")
		return
	}

	if err := s.engine.DeleteSubject(r.Context(), userID, subjectID); err != nil {
		slog.Error("deleting subject failed", "subject_id", subjectID, "error", err)
		writeError(w, http.StatusInternalServerError, "deleting subject failed")
		return
	}
	if s.directory != nil {
		if err := s.directory.DeleteSubject(r.Context(), subjectID); err != nil {
			slog.Warn("removing subject row failed", "subject_id", subjectID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProgressReport(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	tc, _, err := s.engine.Context(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading context failed")
		return
	}

	var subjects []tutor.Subject
	if s.directory != nil {
		subjects, err = s.directory.ListSubjects(r.Context(), userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "listing subjects failed")
			return
		}
	} else if tc != nil && tc.Subject != nil {
		subjects = []tutor.Subject{*tc.Subject}
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="progress.xlsx"`)
	if err := report.WriteProgress(w, tc, subjects); err != nil {
		slog.Error("writing progress report failed", "user_id", userID, "error", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	var failures []string
	for _, c := range s.health {
		if err := c.HealthCheck(r.Context()); err != nil {
			failures = append(failures, err.Error())
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable", "failures": failures,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("writing response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
