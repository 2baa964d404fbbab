// Package tutor implements the tutoring orchestration core: the per-subject
// conversation loop against an external LLM service, the lesson-plan state
// machine, mastery grading, and interactive-content production.
package tutor

import (
	"time"
)

// Subject is one topic of study owned by a learner.
type Subject struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Name         string     `json:"name"`
	Progress     float64    `json:"progress"` // 0..100
	Active       bool       `json:"active"`
	Keywords     []string   `json:"keywords,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActiveAt time.Time  `json:"last_active_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Lesson is one unit inside a lesson plan.
type Lesson struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Completed   bool     `json:"completed"`
	Concepts    []string `json:"concepts,omitempty"`
	ConceptIdx  int      `json:"concept_idx,omitempty"`
	Objectives  []string `json:"objectives,omitempty"`
	Achievement string   `json:"achievement,omitempty"`
	// RecentContent is a ring of the last content types produced for this
	// lesson, feeding the diversity selector. Capacity diversityWindow.
	RecentContent []ContentType `json:"recent_content,omitempty"`
}

// LessonPlan is the ordered lesson list for one subject.
type LessonPlan struct {
	SubjectName string   `json:"subject_name"`
	Lessons     []Lesson `json:"lessons"`
	// CurrentIndex is 0-based; CurrentIndex == len(Lessons) means the
	// subject is complete.
	CurrentIndex int    `json:"current_index"`
	Difficulty   string `json:"difficulty,omitempty"`
}

// LearningProgress tracks graded interactions for the active subject.
type LearningProgress struct {
	CorrectAnswers int  `json:"correct_answers"`
	TotalAttempts  int  `json:"total_attempts"`
	NeedsReview    bool `json:"needs_review"`
	ReadyToAdvance bool `json:"ready_to_advance"`
	// Denormalized for persistence convenience.
	CurrentLessonIndex int `json:"current_lesson_index,omitempty"`
	TotalLessons       int `json:"total_lessons,omitempty"`
}

// Accuracy returns the correct/attempt ratio, 0 when nothing was attempted.
func (p LearningProgress) Accuracy() float64 {
	if p.TotalAttempts == 0 {
		return 0
	}
	return float64(p.CorrectAnswers) / float64(p.TotalAttempts)
}

// ConversationMessage is one turn in the per-subject conversation history.
// History is append-only within a session and never reordered.
type ConversationMessage struct {
	Role      string           `json:"role"` // user, assistant
	Content   string           `json:"content"`
	CreatedAt time.Time        `json:"created_at"`
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
}

// ToolCallRecord captures one tool invocation the LLM proposed and the
// structured result the dispatcher produced.
type ToolCallRecord struct {
	Tool   ToolName       `json:"tool"`
	Params map[string]any `json:"params,omitempty"`
	Result Result         `json:"result"`
}

// Profile holds learner-supplied hints that shape instruction.
type Profile struct {
	Goals []string `json:"goals,omitempty"`
	Level string   `json:"level,omitempty"` // beginner, intermediate, advanced
	Pace  string   `json:"pace,omitempty"`
}

// TutorContext is the full session state handed to and returned by the
// orchestrator on each turn. It is the unit of persistence.
type TutorContext struct {
	UserID       string                `json:"user_id"`
	Subject      *Subject              `json:"subject,omitempty"`
	Plan         *LessonPlan           `json:"plan,omitempty"`
	Progress     LearningProgress      `json:"progress"`
	History      []ConversationMessage `json:"history"`
	Profile      Profile               `json:"profile"`
	Instructions string                `json:"instructions,omitempty"` // override for agent instructions
}

// Overrides carries per-turn adjustments merged into the context before a
// turn runs. Nil fields leave the context untouched.
type Overrides struct {
	Subject      *Subject    `json:"subject,omitempty"`
	Plan         *LessonPlan `json:"plan,omitempty"`
	Profile      *Profile    `json:"profile,omitempty"`
	Instructions string      `json:"instructions,omitempty"`
}

// AppendUser adds a user message to the conversation history.
func (tc *TutorContext) AppendUser(content string) {
	tc.History = append(tc.History, ConversationMessage{
		Role:      "user",
		Content:   content,
		CreatedAt: time.Now(),
	})
}

// AppendAssistant adds an assistant message with its tool-call records.
func (tc *TutorContext) AppendAssistant(content string, records []ToolCallRecord) {
	tc.History = append(tc.History, ConversationMessage{
		Role:      "assistant",
		Content:   content,
		CreatedAt: time.Now(),
		ToolCalls: records,
	})
}

// FirstUserMessage returns the earliest user message, used to seed a freshly
// created conversation thread.
func (tc *TutorContext) FirstUserMessage() (string, bool) {
	for _, m := range tc.History {
		if m.Role == "user" && m.Content != "" {
			return m.Content, true
		}
	}
	return "", false
}

// pendingUserMessage reports whether content is the newest history entry and
// a user message, meaning the current turn carries it and has not delivered
// it to the conversation thread yet.
func (tc *TutorContext) pendingUserMessage(content string) bool {
	if len(tc.History) == 0 {
		return false
	}
	last := tc.History[len(tc.History)-1]
	return last.Role == "user" && last.Content == content
}

// Merge applies non-nil override fields to the context.
func (tc *TutorContext) Merge(o *Overrides) {
	if o == nil {
		return
	}
	if o.Subject != nil {
		tc.Subject = o.Subject
	}
	if o.Plan != nil {
		tc.Plan = o.Plan
	}
	if o.Profile != nil {
		tc.Profile = *o.Profile
	}
	if o.Instructions != "" {
		tc.Instructions = o.Instructions
	}
}
