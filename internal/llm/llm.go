// Package llm defines the contract the orchestrator requires of an external
// LLM service: conversation threads, tool-enabled agents, and asynchronous
// runs that may pause to request tool outputs.
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// RunStatus is the lifecycle state of an asynchronous run.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCompleted      RunStatus = "completed"
	RunFailed         RunStatus = "failed"
	RunCancelled      RunStatus = "cancelled"
	RunExpired        RunStatus = "expired"
)

// Terminal reports whether the run has left the queued/in-progress states.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunQueued, RunInProgress:
		return false
	}
	return true
}

// ToolCall is a structured function invocation proposed by the LLM during a run.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolOutput is the result of executing one proposed tool call.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// Run is one asynchronous execution of an agent against a thread.
type Run struct {
	ID        string
	ThreadID  string
	Status    RunStatus
	ToolCalls []ToolCall // populated when Status == RunRequiresAction
	LastError string     // populated when Status == RunFailed
}

// ToolDefinition describes one callable tool exposed to the agent.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON schema
}

// AgentSpec describes a tool-enabled agent to create.
type AgentSpec struct {
	Name         string
	Model        string
	Instructions string
	Tools        []ToolDefinition
}

// ErrNotFound is returned when a thread, agent or run does not resolve on the
// remote service (deleted, expired, or belonging to another credential).
var ErrNotFound = errors.New("llm: not found")

// Service is the external LLM collaborator. Implementations must be safe for
// concurrent use.
type Service interface {
	// CreateThread opens a new conversation thread and returns its id.
	CreateThread(ctx context.Context) (string, error)
	// AddMessage appends a message to a thread.
	AddMessage(ctx context.Context, threadID, role, content string) error
	// CreateAgent creates a tool-enabled agent bound to a model.
	CreateAgent(ctx context.Context, spec AgentSpec) (string, error)
	// RetrieveAgent verifies an agent id still resolves on the service.
	RetrieveAgent(ctx context.Context, agentID string) error
	// CreateRun starts a run of the agent against the thread.
	CreateRun(ctx context.Context, threadID, agentID, additionalInstructions string) (Run, error)
	// GetRun polls the current state of a run.
	GetRun(ctx context.Context, threadID, runID string) (Run, error)
	// SubmitToolOutputs returns tool results into a paused run, as one batch.
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (Run, error)
	// LatestAssistantMessage returns the newest assistant message text in a thread.
	LatestAssistantMessage(ctx context.Context, threadID string) (string, error)
}
