package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client talks to an OpenAI-compatible assistants API over raw HTTP.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates a new assistants API client.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type apiThread struct {
	ID string `json:"id"`
}

type apiAgent struct {
	ID string `json:"id"`
}

type apiToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type apiTool struct {
	Type     string          `json:"type"`
	Function apiToolFunction `json:"function"`
}

type apiRun struct {
	ID             string `json:"id"`
	ThreadID       string `json:"thread_id"`
	Status         string `json:"status"`
	RequiredAction *struct {
		SubmitToolOutputs struct {
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"submit_tool_outputs"`
	} `json:"required_action,omitempty"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error,omitempty"`
}

type apiMessageList struct {
	Data []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

func (c *Client) CreateThread(ctx context.Context) (string, error) {
	var thread apiThread
	if err := c.do(ctx, http.MethodPost, "/threads", map[string]any{}, &thread); err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	return thread.ID, nil
}

func (c *Client) AddMessage(ctx context.Context, threadID, role, content string) error {
	body := map[string]any{"role": role, "content": content}
	if err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/messages", body, nil); err != nil {
		return fmt.Errorf("add message: %w", err)
	}
	return nil
}

func (c *Client) CreateAgent(ctx context.Context, spec AgentSpec) (string, error) {
	tools := make([]apiTool, len(spec.Tools))
	for i, t := range spec.Tools {
		tools[i] = apiTool{
			Type: "function",
			Function: apiToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}

	body := map[string]any{
		"name":         spec.Name,
		"model":        spec.Model,
		"instructions": spec.Instructions,
		"tools":        tools,
	}

	var agent apiAgent
	if err := c.do(ctx, http.MethodPost, "/assistants", body, &agent); err != nil {
		return "", fmt.Errorf("create agent: %w", err)
	}
	return agent.ID, nil
}

func (c *Client) RetrieveAgent(ctx context.Context, agentID string) error {
	if err := c.do(ctx, http.MethodGet, "/assistants/"+agentID, nil, nil); err != nil {
		return fmt.Errorf("retrieve agent: %w", err)
	}
	return nil
}

func (c *Client) CreateRun(ctx context.Context, threadID, agentID, additionalInstructions string) (Run, error) {
	body := map[string]any{"assistant_id": agentID}
	if additionalInstructions != "" {
		body["additional_instructions"] = additionalInstructions
	}

	var run apiRun
	if err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/runs", body, &run); err != nil {
		return Run{}, fmt.Errorf("create run: %w", err)
	}
	return run.toRun(), nil
}

func (c *Client) GetRun(ctx context.Context, threadID, runID string) (Run, error) {
	var run apiRun
	if err := c.do(ctx, http.MethodGet, "/threads/"+threadID+"/runs/"+runID, nil, &run); err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	return run.toRun(), nil
}

func (c *Client) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (Run, error) {
	body := map[string]any{"tool_outputs": outputs}

	var run apiRun
	path := "/threads/" + threadID + "/runs/" + runID + "/submit_tool_outputs"
	if err := c.do(ctx, http.MethodPost, path, body, &run); err != nil {
		return Run{}, fmt.Errorf("submit tool outputs: %w", err)
	}
	return run.toRun(), nil
}

func (c *Client) LatestAssistantMessage(ctx context.Context, threadID string) (string, error) {
	var list apiMessageList
	path := "/threads/" + threadID + "/messages?order=desc&limit=20"
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}

	for _, msg := range list.Data {
		if msg.Role != "assistant" {
			continue
		}
		for _, part := range msg.Content {
			if part.Type == "text" && part.Text.Value != "" {
				return part.Text.Value, nil
			}
		}
	}
	return "", fmt.Errorf("no assistant message in thread %s", threadID)
}

func (r apiRun) toRun() Run {
	run := Run{
		ID:       r.ID,
		ThreadID: r.ThreadID,
		Status:   RunStatus(r.Status),
	}
	if r.RequiredAction != nil {
		for _, tc := range r.RequiredAction.SubmitToolOutputs.ToolCalls {
			run.ToolCalls = append(run.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			})
		}
	}
	if r.LastError != nil {
		run.LastError = fmt.Sprintf("%s: %s", r.LastError.Code, r.LastError.Message)
	}
	return run
}

func (c *Client) do(ctx context.Context, method, path string, reqBody, out any) error {
	var body io.Reader
	if reqBody != nil {
		buf, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w (status 404): %s", ErrNotFound, string(respBody))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
