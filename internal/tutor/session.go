package tutor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/studyloop/tutor-engine/internal/llm"
)

// SessionHandle pairs the persistent conversation thread and the
// tool-enabled agent for one subject.
type SessionHandle struct {
	ThreadID string `json:"thread_id"`
	AgentID  string `json:"agent_id"`
	Model    string `json:"model"`
}

// SessionStore persists subject → session-handle mappings.
type SessionStore interface {
	LoadSession(ctx context.Context, subjectID string) (SessionHandle, bool, error)
	SaveSession(ctx context.Context, subjectID string, h SessionHandle) error
	DeleteSession(ctx context.Context, subjectID string) error
}

// MemorySessions is an in-memory SessionStore.
type MemorySessions struct {
	mu       sync.RWMutex
	sessions map[string]SessionHandle
}

// NewMemorySessions creates an in-memory session-handle store.
func NewMemorySessions() *MemorySessions {
	return &MemorySessions{sessions: make(map[string]SessionHandle)}
}

func (s *MemorySessions) LoadSession(_ context.Context, subjectID string) (SessionHandle, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.sessions[subjectID]
	return h, ok, nil
}

func (s *MemorySessions) SaveSession(_ context.Context, subjectID string, h SessionHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[subjectID] = h
	return nil
}

func (s *MemorySessions) DeleteSession(_ context.Context, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, subjectID)
	return nil
}

// SessionManagerConfig holds dependencies for the session manager.
type SessionManagerConfig struct {
	Service      llm.Service
	Store        SessionStore
	Models       []string // ordered candidates, first is preferred
	Instructions string   // base agent instructions
}

// SessionManager owns subject → session mappings. Creation is idempotent and
// safe under concurrent calls for the same subject: callers racing on an
// uninitialized subject await one shared in-flight creation.
type SessionManager struct {
	svc          llm.Service
	store        SessionStore
	models       []string
	instructions string

	mu       sync.Mutex
	inflight map[string]*sessionCall
}

type sessionCall struct {
	done   chan struct{}
	handle SessionHandle
	err    error
}

// defaultModels is the fallback candidate list when no models are configured.
var defaultModels = []string{"gpt-4o", "gpt-4o-mini", "gpt-3.5-turbo"}

// NewSessionManager creates a session manager.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	store := cfg.Store
	if store == nil {
		store = NewMemorySessions()
	}
	models := cfg.Models
	if len(models) == 0 {
		models = defaultModels
	}
	return &SessionManager{
		svc:          cfg.Service,
		store:        store,
		models:       models,
		instructions: cfg.Instructions,
		inflight:     make(map[string]*sessionCall),
	}
}

// GetOrCreate returns the session for a subject, creating it on first use.
// When a previously persisted handle exists it is validated against the
// service before reuse. On fresh creation the first user message from the
// context history is replayed into the new thread so conversational context
// is not lost.
func (m *SessionManager) GetOrCreate(ctx context.Context, subjectID, subjectName string, tc *TutorContext) (SessionHandle, error) {
	m.mu.Lock()
	if call, ok := m.inflight[subjectID]; ok {
		m.mu.Unlock()
		select {
		case <-call.done:
			return call.handle, call.err
		case <-ctx.Done():
			return SessionHandle{}, ctx.Err()
		}
	}
	call := &sessionCall{done: make(chan struct{})}
	m.inflight[subjectID] = call
	m.mu.Unlock()

	call.handle, call.err = m.resolve(ctx, subjectID, subjectName, tc)
	close(call.done)

	m.mu.Lock()
	delete(m.inflight, subjectID)
	m.mu.Unlock()

	return call.handle, call.err
}

// Delete tears down the persisted session mapping for a subject.
func (m *SessionManager) Delete(ctx context.Context, subjectID string) error {
	return m.store.DeleteSession(ctx, subjectID)
}

func (m *SessionManager) resolve(ctx context.Context, subjectID, subjectName string, tc *TutorContext) (SessionHandle, error) {
	if h, ok, err := m.store.LoadSession(ctx, subjectID); err == nil && ok {
		if err := m.svc.RetrieveAgent(ctx, h.AgentID); err == nil {
			return h, nil
		}
		slog.Warn("persisted session no longer resolves, recreating",
			"subject_id", subjectID,
			"agent_id", h.AgentID,
		)
	} else if err != nil {
		slog.Warn("loading persisted session failed", "subject_id", subjectID, "error", err)
	}

	return m.create(ctx, subjectID, subjectName, tc)
}

func (m *SessionManager) create(ctx context.Context, subjectID, subjectName string, tc *TutorContext) (SessionHandle, error) {
	threadID, err := m.svc.CreateThread(ctx)
	if err != nil {
		return SessionHandle{}, fmt.Errorf("create thread: %w", err)
	}

	spec := llm.AgentSpec{
		Name:         "tutor-" + subjectName,
		Instructions: m.agentInstructions(subjectName, tc),
		Tools:        ToolDefinitions(),
	}

	var handle SessionHandle
	var lastErr error
	for _, model := range m.models {
		spec.Model = model
		agentID, err := m.svc.CreateAgent(ctx, spec)
		if err != nil {
			slog.Warn("agent creation failed, trying next model",
				"subject_id", subjectID,
				"model", model,
				"error", err,
			)
			lastErr = err
			continue
		}
		handle = SessionHandle{ThreadID: threadID, AgentID: agentID, Model: model}
		break
	}
	if handle.AgentID == "" {
		if lastErr == nil {
			return SessionHandle{}, fmt.Errorf("no candidate models configured")
		}
		return SessionHandle{}, fmt.Errorf("all candidate models failed: %w", lastErr)
	}

	if err := m.store.SaveSession(ctx, subjectID, handle); err != nil {
		slog.Warn("persisting session handle failed", "subject_id", subjectID, "error", err)
	}

	// Replay the first user message so the new thread starts with context,
	// unless that message is still in flight this turn: the caller delivers
	// it to the thread itself right after creation.
	if tc != nil {
		if first, ok := tc.FirstUserMessage(); ok && !tc.pendingUserMessage(first) {
			if err := m.svc.AddMessage(ctx, handle.ThreadID, "user", first); err != nil {
				slog.Warn("replaying first message failed", "subject_id", subjectID, "error", err)
			}
		}
	}

	slog.Info("session created",
		"subject_id", subjectID,
		"thread_id", handle.ThreadID,
		"model", handle.Model,
	)
	return handle, nil
}

func (m *SessionManager) agentInstructions(subjectName string, tc *TutorContext) string {
	base := m.instructions
	if tc != nil && tc.Instructions != "" {
		base = tc.Instructions
	}
	if base == "" {
		base = defaultAgentInstructions
	}
	return base + "\nSubject: " + subjectName
}

const defaultAgentInstructions = `You are a patient, encouraging personal tutor.
Guide the learner through their subject one lesson at a time.
Use the available tools to manage subjects and lesson plans, produce
interactive components, and log progress. Prefer small steps, check
understanding before moving on, and never advance past an unfinished lesson.`
