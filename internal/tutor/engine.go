package tutor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/studyloop/tutor-engine/internal/llm"
)

// ContextStore persists per-learner tutoring contexts.
type ContextStore interface {
	LoadContext(ctx context.Context, userID string) (*TutorContext, bool, error)
	SaveContext(ctx context.Context, userID string, tc *TutorContext) error
}

// MemoryContexts is an in-memory ContextStore.
type MemoryContexts struct {
	mu       sync.RWMutex
	contexts map[string]*TutorContext
}

// NewMemoryContexts creates an in-memory context store.
func NewMemoryContexts() *MemoryContexts {
	return &MemoryContexts{contexts: make(map[string]*TutorContext)}
}

func (s *MemoryContexts) LoadContext(_ context.Context, userID string) (*TutorContext, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tc, ok := s.contexts[userID]
	if !ok {
		return nil, false, nil
	}
	return tc, true, nil
}

func (s *MemoryContexts) SaveContext(_ context.Context, userID string, tc *TutorContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[userID] = tc
	return nil
}

// TurnResult is what one learner message produced.
type TurnResult struct {
	Message  string                `json:"message"`
	Content  []*InteractiveContent `json:"content,omitempty"`
	Records  []ToolCallRecord      `json:"tool_calls,omitempty"`
	Degraded bool                  `json:"degraded,omitempty"`
}

// EngineConfig holds the engine's collaborators. Service may be nil, in which
// case every turn runs through the degraded local fallback.
type EngineConfig struct {
	Service      llm.Service
	Contexts     ContextStore
	Sessions     *SessionManager
	Selector     *DiversitySelector
	Keywords     func() map[string][]string // curriculum subject -> trigger keywords
	PollInterval time.Duration
	RunTimeout   time.Duration
	SaveRetries  int
}

// Engine is the tutoring orchestrator. One instance serves all learners;
// turns for the same subject are serialized, turns for different subjects
// proceed concurrently.
type Engine struct {
	svc        llm.Service
	contexts   ContextStore
	sessions   *SessionManager
	dispatcher *Dispatcher
	keywords   func() map[string][]string

	pollInterval time.Duration
	runTimeout   time.Duration
	saveRetries  int

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	guardMu sync.Mutex
	guard   *dupeGuard
}

// NewEngine creates the orchestrator.
func NewEngine(cfg EngineConfig) *Engine {
	contexts := cfg.Contexts
	if contexts == nil {
		contexts = NewMemoryContexts()
	}
	selector := cfg.Selector
	if selector == nil {
		selector = NewDiversitySelector(defaultRandSource())
	}
	sessions := cfg.Sessions
	if sessions == nil && cfg.Service != nil {
		sessions = NewSessionManager(SessionManagerConfig{Service: cfg.Service})
	}
	keywords := cfg.Keywords
	if keywords == nil {
		keywords = func() map[string][]string { return nil }
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	runTimeout := cfg.RunTimeout
	if runTimeout <= 0 {
		runTimeout = 90 * time.Second
	}
	saveRetries := cfg.SaveRetries
	if saveRetries <= 0 {
		saveRetries = 3
	}

	return &Engine{
		svc:          cfg.Service,
		contexts:     contexts,
		sessions:     sessions,
		dispatcher:   NewDispatcher(DispatcherConfig{Sessions: sessions, Selector: selector}),
		keywords:     keywords,
		pollInterval: pollInterval,
		runTimeout:   runTimeout,
		saveRetries:  saveRetries,
		locks:        make(map[string]*sync.Mutex),
		guard:        newDupeGuard(16),
	}
}

// Sessions exposes the session manager for callers that need to tear down
// subject sessions. Nil in degraded mode.
func (e *Engine) Sessions() *SessionManager { return e.sessions }

// Context loads the persisted tutoring context for a learner.
func (e *Engine) Context(ctx context.Context, userID string) (*TutorContext, bool, error) {
	return e.contexts.LoadContext(ctx, userID)
}

// Respond runs one tutoring turn: merge overrides, guard against ambiguity,
// drive the LLM run loop (or the degraded fallback), and persist the updated
// context in the background. It never surfaces LLM failures as errors; a
// failed remote turn falls back to the degraded path.
func (e *Engine) Respond(ctx context.Context, userID, message string, ov *Overrides) (*TurnResult, error) {
	tc, err := e.loadOrInit(ctx, userID)
	if err != nil {
		return nil, err
	}
	tc.Merge(ov)

	unlock := e.lockTurn(turnKey(userID, tc))
	defer unlock()

	// The guard runs before any remote call: a vague message costs no tokens.
	if IsAmbiguous(message) {
		res := e.dispatcher.Dispatch(ctx, ToolClarifyingQuestion, map[string]any{
			"question": "Could you tell me a bit more about what you'd like to learn or practice?",
		}, tc)
		tc.AppendUser(message)
		record := ToolCallRecord{Tool: ToolClarifyingQuestion, Result: res}
		tc.AppendAssistant(res.Message, []ToolCallRecord{record})
		e.saveAsync(ctx, userID, tc)
		return &TurnResult{Message: res.Message, Records: []ToolCallRecord{record}}, nil
	}

	tc.AppendUser(message)

	var result *TurnResult
	switch {
	case e.svc == nil || e.sessions == nil:
		result = e.degradedTurn(ctx, message, tc)
	case tc.Subject == nil:
		// No subject yet: classify locally so the session is created for a
		// real subject, then let the LLM take over on the next turn.
		result = e.degradedTurn(ctx, message, tc)
	default:
		result, err = e.llmTurn(ctx, message, tc)
		if err != nil {
			slog.Warn("llm turn failed, degrading", "user_id", userID, "error", err)
			result = e.degradedTurn(ctx, message, tc)
		}
	}

	tc.AppendAssistant(result.Message, result.Records)
	e.saveAsync(ctx, userID, tc)
	return result, nil
}

// Assess grades an assessment submission against the current lesson without
// an LLM round trip. A non-empty lessonID must name the current lesson;
// submissions for stale lessons are rejected rather than silently misgraded.
func (e *Engine) Assess(ctx context.Context, userID, lessonID string, score, total int, difficulty string) (Result, error) {
	tc, ok, err := e.contexts.LoadContext(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("load context: %w", err)
	}
	if !ok {
		return Result{}, fmt.Errorf("no tutoring context for user %s", userID)
	}

	unlock := e.lockTurn(turnKey(userID, tc))
	defer unlock()

	if lessonID != "" {
		cur := tc.Plan.Current()
		if cur == nil || cur.ID != lessonID {
			return Result{Error: fmt.Sprintf("lesson %s is not the current lesson", lessonID)}, nil
		}
	}

	params := map[string]any{"score": float64(score), "total": float64(total)}
	if difficulty != "" {
		params["difficulty"] = difficulty
	}
	res := e.dispatcher.Dispatch(ctx, ToolLessonComplete, params, tc)
	e.saveAsync(ctx, userID, tc)
	return res, nil
}

// DeleteSubject removes a learner's subject: its session handle is torn down
// and the context is detached from it.
func (e *Engine) DeleteSubject(ctx context.Context, userID, subjectID string) error {
	tc, ok, err := e.contexts.LoadContext(ctx, userID)
	if err != nil {
		return fmt.Errorf("load context: %w", err)
	}

	if e.sessions != nil {
		if err := e.sessions.Delete(ctx, subjectID); err != nil {
			slog.Warn("deleting session handle failed", "subject_id", subjectID, "error", err)
		}
	}
	e.guardMu.Lock()
	e.guard.Forget(subjectID)
	e.guardMu.Unlock()

	if !ok || tc.Subject == nil || tc.Subject.ID != subjectID {
		return nil
	}
	tc.Subject = nil
	tc.Plan = nil
	tc.Progress = LearningProgress{}
	return e.contexts.SaveContext(ctx, userID, tc)
}

func (e *Engine) loadOrInit(ctx context.Context, userID string) (*TutorContext, error) {
	tc, ok, err := e.contexts.LoadContext(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load context: %w", err)
	}
	if !ok || tc == nil {
		tc = &TutorContext{UserID: userID}
	}
	return tc, nil
}

// llmTurn drives one asynchronous run to completion, pausing to execute tool
// calls and submitting their outputs back in a single batch per pause.
func (e *Engine) llmTurn(ctx context.Context, message string, tc *TutorContext) (*TurnResult, error) {
	handle, err := e.sessions.GetOrCreate(ctx, tc.Subject.ID, tc.Subject.Name, tc)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	if err := e.svc.AddMessage(ctx, handle.ThreadID, "user", message); err != nil {
		return nil, fmt.Errorf("add message: %w", err)
	}

	run, err := e.svc.CreateRun(ctx, handle.ThreadID, handle.AgentID, e.turnInstructions(tc))
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	var records []ToolCallRecord
	var content []*InteractiveContent
	deadline := time.Now().Add(e.runTimeout)

	for {
		switch {
		case run.Status == llm.RunRequiresAction:
			outputs := make([]llm.ToolOutput, 0, len(run.ToolCalls))
			for _, call := range run.ToolCalls {
				record := e.execToolCall(ctx, call, tc)
				records = append(records, record)
				content = append(content, record.Result.Content...)

				payload, err := json.Marshal(record.Result)
				if err != nil {
					payload = []byte(`{"ok":false,"error":"result not serializable"}`)
				}
				outputs = append(outputs, llm.ToolOutput{ToolCallID: call.ID, Output: string(payload)})
			}
			run, err = e.svc.SubmitToolOutputs(ctx, handle.ThreadID, run.ID, outputs)
			if err != nil {
				return nil, fmt.Errorf("submit tool outputs: %w", err)
			}

		case run.Status == llm.RunCompleted:
			reply, err := e.svc.LatestAssistantMessage(ctx, handle.ThreadID)
			if err != nil {
				return nil, fmt.Errorf("fetch reply: %w", err)
			}
			content = e.admitContent(tc, content)
			content = e.ensureContent(tc, content)
			return &TurnResult{Message: reply, Content: content, Records: records}, nil

		case run.Status.Terminal():
			return nil, fmt.Errorf("run ended with status %s: %s", run.Status, run.LastError)

		default:
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.pollInterval):
			}
			run, err = e.svc.GetRun(ctx, handle.ThreadID, run.ID)
			if err != nil {
				return nil, fmt.Errorf("poll run: %w", err)
			}
		}

		// Checked after every transition, so an endless requires_action cycle
		// is bounded by the same deadline as polling.
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("run %s timed out after %s", run.ID, e.runTimeout)
		}
	}
}

func (e *Engine) execToolCall(ctx context.Context, call llm.ToolCall, tc *TutorContext) ToolCallRecord {
	var params map[string]any
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &params); err != nil {
			return ToolCallRecord{
				Tool:   ToolName(call.Name),
				Result: errResult("malformed arguments for %s: %v", call.Name, err),
			}
		}
	}
	res := e.dispatcher.Dispatch(ctx, ToolName(call.Name), params, tc)
	return ToolCallRecord{Tool: ToolName(call.Name), Params: params, Result: res}
}

// admitContent drops payloads already emitted for this subject, so one turn
// never shows the same component twice.
func (e *Engine) admitContent(tc *TutorContext, content []*InteractiveContent) []*InteractiveContent {
	if tc.Subject == nil || len(content) == 0 {
		return content
	}
	e.guardMu.Lock()
	defer e.guardMu.Unlock()

	out := content[:0]
	for _, c := range content {
		if e.guard.Admit(tc.Subject.ID, c) {
			out = append(out, c)
		}
	}
	return out
}

// ensureContent is the safety net: when an active lesson produced nothing to
// render, synthesize exactly one explainer for it.
func (e *Engine) ensureContent(tc *TutorContext, content []*InteractiveContent) []*InteractiveContent {
	if len(content) > 0 || tc.Plan == nil {
		return content
	}
	cur := tc.Plan.Current()
	if cur == nil {
		return content
	}

	subjectID := ""
	if tc.Subject != nil {
		subjectID = tc.Subject.ID
	}
	explainer := NewContent(ContentExplainer, cur.Title, subjectID, nil, cur.Title, tc.Plan.Difficulty)

	if subjectID != "" {
		e.guardMu.Lock()
		admitted := e.guard.Admit(subjectID, explainer)
		e.guardMu.Unlock()
		if !admitted {
			return content
		}
	}
	RememberContent(cur, ContentExplainer)
	return append(content, explainer)
}

// degradedTurn is the local fallback used when no LLM service is configured,
// no subject exists yet, or a remote turn failed. It never fails: worst case
// is a clarifying question.
func (e *Engine) degradedTurn(ctx context.Context, message string, tc *TutorContext) *TurnResult {
	if tc.Subject == nil {
		cls := ClassifySubject(message, e.keywords())
		if cls.Match {
			res := e.dispatcher.Dispatch(ctx, ToolNewSubject, map[string]any{"subject_name": cls.Subject}, tc)
			record := ToolCallRecord{
				Tool:   ToolNewSubject,
				Params: map[string]any{"subject_name": cls.Subject},
				Result: res,
			}
			msg := res.Message
			if res.Error != "" {
				msg = "I couldn't set that subject up just now. Could you try again?"
			}
			return &TurnResult{Message: msg, Records: []ToolCallRecord{record}, Degraded: e.svc == nil}
		}

		res := e.dispatcher.Dispatch(ctx, ToolClarifyingQuestion, map[string]any{
			"question": "What subject would you like to study? For example: \"I want to learn algebra\".",
		}, tc)
		return &TurnResult{
			Message:  res.Message,
			Records:  []ToolCallRecord{{Tool: ToolClarifyingQuestion, Result: res}},
			Degraded: e.svc == nil,
		}
	}

	// A subject exists but the model is unreachable: keep the learner moving
	// with locally produced practice for the current lesson.
	var content []*InteractiveContent
	var records []ToolCallRecord
	msg := fmt.Sprintf("I'm having trouble reaching the tutor right now, but let's keep working on %s.", tc.Subject.Name)

	if tc.Plan != nil && tc.Plan.Current() != nil {
		res := e.dispatcher.Dispatch(ctx, ToolInteractiveComponent, map[string]any{
			"component_type": CategoryExercise,
		}, tc)
		records = append(records, ToolCallRecord{Tool: ToolInteractiveComponent, Result: res})
		content = e.admitContent(tc, res.Content)
	}
	content = e.ensureContent(tc, content)

	return &TurnResult{Message: msg, Content: content, Records: records, Degraded: true}
}

// turnInstructions folds the subject, plan position, accuracy and learner
// profile into per-run additional instructions so the agent always knows
// where the learner stands.
func (e *Engine) turnInstructions(tc *TutorContext) string {
	var b strings.Builder
	if tc.Subject != nil {
		fmt.Fprintf(&b, "Subject: %s (%.0f%% complete).\n", tc.Subject.Name, tc.Subject.Progress)
	}
	if tc.Profile.Level != "" {
		fmt.Fprintf(&b, "Learner level: %s.\n", tc.Profile.Level)
	}
	if tc.Profile.Pace != "" {
		fmt.Fprintf(&b, "Preferred pace: %s.\n", tc.Profile.Pace)
	}
	if len(tc.Profile.Goals) > 0 {
		fmt.Fprintf(&b, "Learning goals: %s.\n", strings.Join(tc.Profile.Goals, "; "))
	}
	if tc.Progress.TotalAttempts > 0 {
		fmt.Fprintf(&b, "Recent accuracy: %.0f%%.\n", tc.Progress.Accuracy()*100)
	}
	if tc.Plan != nil {
		switch tc.Plan.State() {
		case PlanActive:
			cur := tc.Plan.Current()
			fmt.Fprintf(&b, "Current lesson %d of %d: %q (difficulty %s).\n",
				tc.Plan.CurrentIndex+1, len(tc.Plan.Lessons), cur.Title, tc.Plan.Difficulty)
			if cur.Completed {
				b.WriteString("The current lesson is complete; the learner may advance.\n")
			}
		case PlanComplete:
			b.WriteString("Every lesson in the plan is complete.\n")
		}
	} else {
		b.WriteString("No lesson plan exists yet; gather goals and build one.\n")
	}
	return b.String()
}

// saveAsync persists the context in the background with bounded retries.
// Persistence is best effort: the turn result is already on its way to the
// learner and must not block on storage.
func (e *Engine) saveAsync(ctx context.Context, userID string, tc *TutorContext) {
	snapshot := tc
	bg := context.WithoutCancel(ctx)
	go func() {
		backoff := 250 * time.Millisecond
		var err error
		for attempt := 0; attempt < e.saveRetries; attempt++ {
			if err = e.contexts.SaveContext(bg, userID, snapshot); err == nil {
				return
			}
			time.Sleep(backoff)
			backoff *= 2
		}
		slog.Error("persisting tutor context failed", "user_id", userID, "error", err)
	}()
}

func (e *Engine) lockTurn(key string) func() {
	e.lockMu.Lock()
	mu, ok := e.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[key] = mu
	}
	e.lockMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func turnKey(userID string, tc *TutorContext) string {
	if tc.Subject != nil {
		return "subject:" + tc.Subject.ID
	}
	return "user:" + userID
}
