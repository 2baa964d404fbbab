package tutor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/studyloop/tutor-engine/internal/llm"
)

// ToolName enumerates the tools exposed to the LLM agent.
type ToolName string

const (
	ToolNewSubject           ToolName = "new_subject"
	ToolNewLessonPlan        ToolName = "new_lesson_plan"
	ToolUpdateLessonPlan     ToolName = "update_lesson_plan"
	ToolClarifyingQuestion   ToolName = "clarifying_question"
	ToolLessonComplete       ToolName = "lesson_complete"
	ToolNextLesson           ToolName = "next_lesson"
	ToolInteractiveComponent ToolName = "interactive_component"
	ToolSubjectComplete      ToolName = "subject_complete"
	ToolReviewRequest        ToolName = "review_request"
	ToolSummaryRequest       ToolName = "summary_request"
	ToolRephraseRequest      ToolName = "rephrase_request"
	ToolFeedbackLog          ToolName = "feedback_log"
)

// Result is the structured outcome of one tool dispatch. Failures are
// carried in Error rather than a Go error so the run loop can hand them back
// to the LLM as tool output and let it self-correct within the same turn.
type Result struct {
	OK      bool                  `json:"ok"`
	Error   string                `json:"error,omitempty"`
	Action  string                `json:"action,omitempty"`
	Message string                `json:"message,omitempty"`
	Data    map[string]any        `json:"data,omitempty"`
	Content []*InteractiveContent `json:"content,omitempty"`
}

func errResult(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

// toolSchemas holds the JSON-schema parameter contract per tool. The same
// schemas are sent to the LLM service at agent creation and used to validate
// incoming tool calls before dispatch.
var toolSchemas = map[ToolName]map[string]any{
	ToolNewSubject: {
		"type": "object",
		"properties": map[string]any{
			"subject_name": map[string]any{"type": "string", "description": "Display name of the subject to study"},
			"keywords":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []any{"subject_name"},
	},
	ToolNewLessonPlan: {
		"type": "object",
		"properties": map[string]any{
			"goals":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Learning goals, one lesson each"},
			"difficulty": map[string]any{"type": "string", "enum": []any{"beginner", "intermediate", "advanced"}},
		},
	},
	ToolUpdateLessonPlan: {
		"type": "object",
		"properties": map[string]any{
			"add_goals":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"remove_titles": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
	},
	ToolClarifyingQuestion: {
		"type": "object",
		"properties": map[string]any{
			"question": map[string]any{"type": "string"},
		},
		"required": []any{"question"},
	},
	ToolLessonComplete: {
		"type": "object",
		"properties": map[string]any{
			"score":      map[string]any{"type": "number"},
			"total":      map[string]any{"type": "number"},
			"difficulty": map[string]any{"type": "string"},
		},
		"required": []any{"score", "total"},
	},
	ToolNextLesson: {
		"type":       "object",
		"properties": map[string]any{},
	},
	ToolInteractiveComponent: {
		"type": "object",
		"properties": map[string]any{
			"component_type":     map[string]any{"type": "string", "description": "Concrete content type or a category like next_question / next_exercise / explanation"},
			"title":              map[string]any{"type": "string"},
			"data":               map[string]any{"type": "object"},
			"learning_objective": map[string]any{"type": "string"},
		},
		"required": []any{"component_type"},
	},
	ToolSubjectComplete: {
		"type":       "object",
		"properties": map[string]any{},
	},
	ToolReviewRequest: {
		"type": "object",
		"properties": map[string]any{
			"topic": map[string]any{"type": "string"},
		},
	},
	ToolSummaryRequest: {
		"type": "object",
		"properties": map[string]any{
			"scope": map[string]any{"type": "string", "enum": []any{"lesson", "subject"}},
		},
	},
	ToolRephraseRequest: {
		"type": "object",
		"properties": map[string]any{
			"style": map[string]any{"type": "string"},
		},
	},
	ToolFeedbackLog: {
		"type": "object",
		"properties": map[string]any{
			"note":      map[string]any{"type": "string"},
			"sentiment": map[string]any{"type": "string"},
		},
		"required": []any{"note"},
	},
}

var toolDescriptions = map[ToolName]string{
	ToolNewSubject:           "Create a new subject of study when the learner asks about a new topic",
	ToolNewLessonPlan:        "Build an ordered lesson plan from learning goals",
	ToolUpdateLessonPlan:     "Add or remove lessons without resetting progress",
	ToolClarifyingQuestion:   "Ask the learner to narrow down a vague request",
	ToolLessonComplete:       "Grade the current lesson from an assessment score",
	ToolNextLesson:           "Advance to the next lesson once the current one is complete",
	ToolInteractiveComponent: "Produce an interactive component for the rendering layer",
	ToolSubjectComplete:      "Mark the whole subject finished",
	ToolReviewRequest:        "Schedule a review of earlier material",
	ToolSummaryRequest:       "Summarize the lesson or subject so far",
	ToolRephraseRequest:      "Re-explain the last answer differently",
	ToolFeedbackLog:          "Record learner feedback about the tutoring",
}

// ToolDefinitions returns the fixed tool schema handed to the LLM service at
// agent creation.
func ToolDefinitions() []llm.ToolDefinition {
	names := []ToolName{
		ToolNewSubject, ToolNewLessonPlan, ToolUpdateLessonPlan,
		ToolClarifyingQuestion, ToolLessonComplete, ToolNextLesson,
		ToolInteractiveComponent, ToolSubjectComplete, ToolReviewRequest,
		ToolSummaryRequest, ToolRephraseRequest, ToolFeedbackLog,
	}
	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, n := range names {
		defs = append(defs, llm.ToolDefinition{
			Name:        string(n),
			Description: toolDescriptions[n],
			Parameters:  toolSchemas[n],
		})
	}
	return defs
}

// DispatcherConfig holds dependencies for the tool dispatcher.
type DispatcherConfig struct {
	Sessions *SessionManager // may be nil in degraded mode
	Selector *DiversitySelector
}

// Dispatcher executes tool calls proposed by the LLM as state transitions
// over the TutorContext.
type Dispatcher struct {
	sessions *SessionManager
	selector *DiversitySelector
}

// NewDispatcher creates a tool dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	selector := cfg.Selector
	if selector == nil {
		selector = NewDiversitySelector(defaultRandSource())
	}
	return &Dispatcher{sessions: cfg.Sessions, selector: selector}
}

// Dispatch validates the parameters against the tool's schema and runs the
// handler. All failures come back inside the Result.
func (d *Dispatcher) Dispatch(ctx context.Context, name ToolName, params map[string]any, tc *TutorContext) Result {
	schema, ok := toolSchemas[name]
	if !ok {
		return errResult("unknown tool %q", name)
	}
	if params == nil {
		params = map[string]any{}
	}

	res, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(params),
	)
	if err != nil {
		return errResult("validate %s parameters: %v", name, err)
	}
	if !res.Valid() {
		issues := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			issues = append(issues, e.String())
		}
		return errResult("invalid %s parameters: %s", name, strings.Join(issues, "; "))
	}

	slog.Debug("dispatching tool", "tool", name)

	switch name {
	case ToolNewSubject:
		return d.newSubject(ctx, params, tc)
	case ToolNewLessonPlan:
		return d.newLessonPlan(params, tc)
	case ToolUpdateLessonPlan:
		return d.updateLessonPlan(params, tc)
	case ToolClarifyingQuestion:
		return Result{OK: true, Action: "clarify", Message: strParam(params, "question")}
	case ToolLessonComplete:
		return d.lessonComplete(params, tc)
	case ToolNextLesson:
		return d.nextLesson(tc)
	case ToolInteractiveComponent:
		return d.interactiveComponent(params, tc)
	case ToolSubjectComplete:
		return d.subjectComplete(tc)
	case ToolReviewRequest:
		return d.reviewRequest(params, tc)
	case ToolSummaryRequest:
		return d.summaryRequest(params, tc)
	case ToolRephraseRequest:
		return Result{OK: true, Action: "rephrase", Message: "Rephrasing the last explanation", Data: map[string]any{
			"style": strParam(params, "style"),
		}}
	case ToolFeedbackLog:
		return Result{OK: true, Action: "feedback_logged", Message: "Thanks for the feedback", Data: map[string]any{
			"note":      strParam(params, "note"),
			"sentiment": strParam(params, "sentiment"),
		}}
	}
	return errResult("unknown tool %q", name)
}

func (d *Dispatcher) newSubject(ctx context.Context, params map[string]any, tc *TutorContext) Result {
	name := strings.TrimSpace(strParam(params, "subject_name"))
	if name == "" {
		return errResult("subject_name must not be empty")
	}

	now := time.Now()
	subject := &Subject{
		ID:           uuid.NewString(),
		UserID:       tc.UserID,
		Name:         name,
		Active:       true,
		Keywords:     strListParam(params, "keywords"),
		CreatedAt:    now,
		LastActiveAt: now,
	}
	tc.Subject = subject
	tc.Plan = nil
	tc.Progress = LearningProgress{}

	if d.sessions != nil {
		if _, err := d.sessions.GetOrCreate(ctx, subject.ID, subject.Name, tc); err != nil {
			slog.Warn("session creation for new subject failed", "subject", name, "error", err)
		}
	}

	return Result{
		OK:     true,
		Action: "subject_created",
		Message: fmt.Sprintf(
			"Started %s. What would you like to achieve, and how would you rate your current level: beginner, intermediate, or advanced?",
			name,
		),
		Data: map[string]any{"subject_id": subject.ID, "subject_name": subject.Name},
	}
}

func (d *Dispatcher) newLessonPlan(params map[string]any, tc *TutorContext) Result {
	if tc.Subject == nil {
		return errResult("no active subject; call new_subject first")
	}

	goals := strListParam(params, "goals")
	if len(goals) == 0 {
		goals = tc.Profile.Goals
	}
	if len(goals) == 0 {
		return errResult("no learning goals supplied and none stored in context")
	}

	difficulty := strParam(params, "difficulty")
	if difficulty == "" {
		difficulty = tc.Profile.Level
	}

	tc.Plan = NewLessonPlan(tc.Subject.Name, goals, difficulty)
	tc.Progress.CurrentLessonIndex = 0
	tc.Progress.TotalLessons = len(tc.Plan.Lessons)

	return Result{
		OK:      true,
		Action:  "plan_created",
		Message: fmt.Sprintf("Created a %d-lesson plan for %s", len(goals), tc.Subject.Name),
		Data: map[string]any{
			"lessons":    lessonTitles(tc.Plan),
			"difficulty": tc.Plan.Difficulty,
		},
	}
}

func (d *Dispatcher) updateLessonPlan(params map[string]any, tc *TutorContext) Result {
	if tc.Plan == nil {
		return errResult("no lesson plan to update; call new_lesson_plan first")
	}

	added := strListParam(params, "add_goals")
	tc.Plan.AddLessons(added)

	removed := 0
	for _, title := range strListParam(params, "remove_titles") {
		if tc.Plan.RemoveLesson(title) {
			removed++
		}
	}
	tc.Progress.TotalLessons = len(tc.Plan.Lessons)

	return Result{
		OK:      true,
		Action:  "plan_updated",
		Message: fmt.Sprintf("Added %d and removed %d lessons", len(added), removed),
		Data:    map[string]any{"lessons": lessonTitles(tc.Plan)},
	}
}

func (d *Dispatcher) lessonComplete(params map[string]any, tc *TutorContext) Result {
	if tc.Plan == nil || tc.Plan.Current() == nil {
		return errResult("no active lesson to grade")
	}

	score := intParam(params, "score")
	total := intParam(params, "total")
	difficulty := strParam(params, "difficulty")
	if difficulty == "" {
		difficulty = tc.Plan.Difficulty
	}

	cur := tc.Plan.Current()
	outcome := Evaluate(score, total, tc.Profile.Level, difficulty)
	if err := tc.Plan.CompleteCurrent(&tc.Progress, outcome.Passed); err != nil {
		return errResult("%v", err)
	}
	if tc.Subject != nil {
		tc.Subject.Progress = tc.Plan.ProgressPercent()
		tc.Subject.LastActiveAt = time.Now()
	}

	data := map[string]any{
		"ratio":     outcome.Ratio,
		"threshold": outcome.Threshold,
		"passed":    outcome.Passed,
	}

	if !outcome.Passed {
		return Result{
			OK:     true,
			Action: "lesson_graded",
			Message: fmt.Sprintf(
				"You scored %.0f%% on %q but this lesson needs %.0f%% to pass. Let's practice a bit more before moving on.",
				outcome.Ratio*100, cur.Title, outcome.Threshold*100,
			),
			Data: data,
		}
	}

	data["summary"] = fmt.Sprintf("Lesson %q complete with %.0f%% accuracy.", cur.Title, outcome.Ratio*100)
	if tc.Plan.CompletedCount() == len(tc.Plan.Lessons) {
		data["subject_summary"] = fmt.Sprintf("All %d lessons in %s are complete.", len(tc.Plan.Lessons), tc.Plan.SubjectName)
	}

	return Result{
		OK:      true,
		Action:  "lesson_graded",
		Message: fmt.Sprintf("Well done, %q is complete. You can advance when ready.", cur.Title),
		Data:    data,
	}
}

// nextLesson advances the plan and, on success, synthesizes an explainer and
// a practice item for the new lesson so the learner always has something to
// do immediately.
func (d *Dispatcher) nextLesson(tc *TutorContext) Result {
	if tc.Plan == nil {
		return errResult("no lesson plan; call new_lesson_plan first")
	}

	next, done, err := tc.Plan.Advance()
	if err != nil {
		return errResult("%v", err)
	}
	if done {
		return Result{
			OK:      true,
			Action:  "plan_complete",
			Message: "Every lesson in the plan is finished. Consider subject_complete or a review.",
		}
	}

	subjectID := ""
	if tc.Subject != nil {
		subjectID = tc.Subject.ID
	}
	tc.Progress.CurrentLessonIndex = tc.Plan.CurrentIndex
	tc.Progress.ReadyToAdvance = false

	objective := next.Title
	explainer := NewContent(ContentExplainer, next.Title, subjectID, nil, objective, tc.Plan.Difficulty)
	RememberContent(next, ContentExplainer)

	practiceType := d.selector.SelectType(CategoryExercise, next.RecentContent)
	practice := NewContent(practiceType, "Practice: "+next.Title, subjectID, nil, objective, tc.Plan.Difficulty)
	RememberContent(next, practiceType)

	return Result{
		OK:      true,
		Action:  "lesson_advanced",
		Message: fmt.Sprintf("Moving on to %q", next.Title),
		Data: map[string]any{
			"lesson_index": tc.Plan.CurrentIndex,
			"lesson_title": next.Title,
		},
		Content: []*InteractiveContent{explainer, practice},
	}
}

func (d *Dispatcher) interactiveComponent(params map[string]any, tc *TutorContext) Result {
	requested := strParam(params, "component_type")

	var recent []ContentType
	var difficulty string
	objective := strParam(params, "learning_objective")
	if tc.Plan != nil {
		difficulty = tc.Plan.Difficulty
		if cur := tc.Plan.Current(); cur != nil {
			recent = cur.RecentContent
			if objective == "" {
				objective = cur.Title
			}
		}
	}

	var typ ContentType
	switch requested {
	case CategoryQuestion, CategoryExercise, CategoryExplanation:
		typ = d.selector.SelectType(requested, recent)
	default:
		typ = ParseContentType(requested)
	}

	title := strParam(params, "title")
	if title == "" {
		title = objective
	}
	if title == "" {
		title = "Interactive content"
	}

	subjectID := ""
	if tc.Subject != nil {
		subjectID = tc.Subject.ID
	}
	content := NewContent(typ, title, subjectID, mapParam(params, "data"), objective, difficulty)
	if tc.Plan != nil {
		RememberContent(tc.Plan.Current(), typ)
	}

	return Result{
		OK:      true,
		Action:  "content_generated",
		Message: fmt.Sprintf("Produced a %s component", typ),
		Content: []*InteractiveContent{content},
	}
}

func (d *Dispatcher) subjectComplete(tc *TutorContext) Result {
	if tc.Subject == nil {
		return errResult("no active subject to complete")
	}

	now := time.Now()
	tc.Subject.Progress = 100
	tc.Subject.Active = false
	tc.Subject.CompletedAt = &now
	tc.Subject.LastActiveAt = now
	if tc.Plan != nil {
		tc.Plan.CurrentIndex = len(tc.Plan.Lessons)
	}

	return Result{
		OK:      true,
		Action:  "subject_completed",
		Message: fmt.Sprintf("Congratulations, you finished %s!", tc.Subject.Name),
		Data:    map[string]any{"subject_id": tc.Subject.ID},
	}
}

func (d *Dispatcher) reviewRequest(params map[string]any, tc *TutorContext) Result {
	topic := strParam(params, "topic")
	if topic == "" && tc.Plan != nil {
		if cur := tc.Plan.Current(); cur != nil {
			topic = cur.Title
		}
	}
	tc.Progress.NeedsReview = true
	return Result{
		OK:      true,
		Action:  "review_scheduled",
		Message: fmt.Sprintf("Let's review %s", topic),
		Data:    map[string]any{"topic": topic},
	}
}

func (d *Dispatcher) summaryRequest(params map[string]any, tc *TutorContext) Result {
	scope := strParam(params, "scope")
	if scope == "" {
		scope = "lesson"
	}

	data := map[string]any{"scope": scope}
	switch {
	case scope == "subject" && tc.Plan != nil:
		data["completed_lessons"] = tc.Plan.CompletedCount()
		data["total_lessons"] = len(tc.Plan.Lessons)
		data["accuracy"] = tc.Progress.Accuracy()
	case tc.Plan != nil && tc.Plan.Current() != nil:
		data["lesson_title"] = tc.Plan.Current().Title
		data["accuracy"] = tc.Progress.Accuracy()
	}

	return Result{OK: true, Action: "summary", Message: "Here is where you stand", Data: data}
}

func lessonTitles(p *LessonPlan) []string {
	titles := make([]string, len(p.Lessons))
	for i, l := range p.Lessons {
		titles[i] = l.Title
	}
	return titles
}

func strParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

func intParam(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func strListParam(params map[string]any, key string) []string {
	raw, ok := params[key].([]any)
	if !ok {
		if typed, ok := params[key].([]string); ok {
			return typed
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func mapParam(params map[string]any, key string) map[string]any {
	m, _ := params[key].(map[string]any)
	return m
}
