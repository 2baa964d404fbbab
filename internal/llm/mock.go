package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockService is a scriptable in-memory test double for Service.
//
// Runs advance through RunScript: CreateRun returns the first entry and each
// subsequent GetRun or SubmitToolOutputs call returns the next one. With an
// empty script every run completes immediately.
type MockService struct {
	mu sync.Mutex

	RunScript  []Run
	Reply      string          // returned by LatestAssistantMessage
	FailModels map[string]bool // models whose CreateAgent call fails

	CreateThreadErr error
	AddMessageErr   error
	CreateRunErr    error

	Threads        map[string][]string // threadID -> "role: content"
	Agents         map[string]AgentSpec
	ThreadsCreated int
	AgentsCreated  int
	Submitted      [][]ToolOutput

	scriptPos int
	nextID    int
}

// NewMockService creates a mock that completes runs immediately and replies
// with the given assistant text.
func NewMockService(reply string) *MockService {
	return &MockService{Reply: reply}
}

func (m *MockService) CreateThread(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateThreadErr != nil {
		return "", m.CreateThreadErr
	}
	if m.Threads == nil {
		m.Threads = make(map[string][]string)
	}
	m.nextID++
	m.ThreadsCreated++
	id := fmt.Sprintf("thread-%d", m.nextID)
	m.Threads[id] = nil
	return id, nil
}

func (m *MockService) AddMessage(_ context.Context, threadID, role, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AddMessageErr != nil {
		return m.AddMessageErr
	}
	if m.Threads == nil {
		m.Threads = make(map[string][]string)
	}
	m.Threads[threadID] = append(m.Threads[threadID], role+": "+content)
	return nil
}

func (m *MockService) CreateAgent(_ context.Context, spec AgentSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailModels[spec.Model] {
		return "", fmt.Errorf("model %s unavailable", spec.Model)
	}
	if m.Agents == nil {
		m.Agents = make(map[string]AgentSpec)
	}
	m.nextID++
	m.AgentsCreated++
	id := fmt.Sprintf("agent-%d", m.nextID)
	m.Agents[id] = spec
	return id, nil
}

func (m *MockService) RetrieveAgent(_ context.Context, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Agents[agentID]; !ok {
		return fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}
	return nil
}

func (m *MockService) CreateRun(_ context.Context, threadID, _, _ string) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateRunErr != nil {
		return Run{}, m.CreateRunErr
	}
	return m.advance(threadID), nil
}

func (m *MockService) GetRun(_ context.Context, threadID, _ string) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.advance(threadID), nil
}

func (m *MockService) SubmitToolOutputs(_ context.Context, threadID, _ string, outputs []ToolOutput) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Submitted = append(m.Submitted, outputs)
	return m.advance(threadID), nil
}

func (m *MockService) LatestAssistantMessage(_ context.Context, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Reply, nil
}

// ThreadMessages returns the recorded messages for a thread.
func (m *MockService) ThreadMessages(threadID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.Threads[threadID]...)
}

func (m *MockService) advance(threadID string) Run {
	if m.scriptPos < len(m.RunScript) {
		run := m.RunScript[m.scriptPos]
		m.scriptPos++
		if run.ID == "" {
			run.ID = "run-1"
		}
		if run.ThreadID == "" {
			run.ThreadID = threadID
		}
		return run
	}
	return Run{ID: "run-1", ThreadID: threadID, Status: RunCompleted}
}
