package tutor

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ContentType tags an interactive-content payload for the rendering layer.
type ContentType string

const (
	ContentExplainer          ContentType = "explainer"
	ContentMultipleChoice     ContentType = "multiple_choice"
	ContentFillBlank          ContentType = "fill_blank"
	ContentDragDrop           ContentType = "drag_drop"
	ContentStepSolver         ContentType = "step_solver"
	ContentConceptCard        ContentType = "concept_card"
	ContentInteractiveExample ContentType = "interactive_example"
	ContentProgressQuiz       ContentType = "progress_quiz"
	ContentGraphVisualizer    ContentType = "graph_visualizer"
	ContentFormulaExplorer    ContentType = "formula_explorer"
	ContentTextHighlighter    ContentType = "text_highlighter"
	ContentPlaceholder        ContentType = "placeholder"
)

// ContentTypes lists every supported type.
var ContentTypes = []ContentType{
	ContentExplainer,
	ContentMultipleChoice,
	ContentFillBlank,
	ContentDragDrop,
	ContentStepSolver,
	ContentConceptCard,
	ContentInteractiveExample,
	ContentProgressQuiz,
	ContentGraphVisualizer,
	ContentFormulaExplorer,
	ContentTextHighlighter,
	ContentPlaceholder,
}

// ParseContentType maps a string to a known type, defaulting to placeholder.
func ParseContentType(s string) ContentType {
	for _, t := range ContentTypes {
		if string(t) == s {
			return t
		}
	}
	return ContentPlaceholder
}

// InteractiveContent is a typed payload the rendering layer can display.
// Instances are immutable after creation; regenerated content gets a new id.
type InteractiveContent struct {
	ID        string         `json:"id"`
	Type      ContentType    `json:"type"`
	Title     string         `json:"title"`
	SubjectID string         `json:"subject_id,omitempty"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewContent builds an immutable content item with normalized data.
func NewContent(typ ContentType, title, subjectID string, data map[string]any, objective, difficulty string) *InteractiveContent {
	return &InteractiveContent{
		ID:        uuid.NewString(),
		Type:      typ,
		Title:     title,
		SubjectID: subjectID,
		Data:      Normalize(typ, data, objective, difficulty),
		CreatedAt: time.Now(),
	}
}

// Normalize fills the required fields of a content payload so it is always
// renderable, even when the AI omitted fields. AI-supplied fields are never
// dropped. The function is pure: the input map is not mutated.
func Normalize(typ ContentType, data map[string]any, objective, difficulty string) map[string]any {
	out := make(map[string]any, len(data)+4)
	for k, v := range data {
		out[k] = v
	}
	if objective == "" {
		objective = "this topic"
	}
	if difficulty == "" {
		difficulty = "beginner"
	}

	switch typ {
	case ContentExplainer:
		fillStr(out, "concept", objective)
		fillStr(out, "explanation", "An explanation of "+objective+" will appear here.")
		fillList(out, "key_points", []any{"Key idea about " + objective})
		fillStr(out, "difficulty", difficulty)

	case ContentMultipleChoice:
		fillStr(out, "question", "Which statement about "+objective+" is correct?")
		fillList(out, "options", []any{"Option A", "Option B", "Option C", "Option D"})
		fillNum(out, "correct_index", 0)
		fillStr(out, "explanation", "Review "+objective+" to see why.")

	case ContentFillBlank:
		fillStr(out, "sentence", "Complete this statement about "+objective+": ____")
		fillList(out, "blanks", []any{"answer"})
		fillStr(out, "hint", "Think about "+objective+".")

	case ContentDragDrop:
		fillStr(out, "instruction", "Match the items related to "+objective+".")
		fillList(out, "items", []any{"Item 1", "Item 2"})
		fillList(out, "targets", []any{"Target 1", "Target 2"})

	case ContentStepSolver:
		fillStr(out, "problem", "Work through a problem on "+objective+".")
		fillList(out, "steps", []any{"Start with what you know about " + objective})
		fillStr(out, "answer", "See the final step.")

	case ContentConceptCard:
		fillStr(out, "term", objective)
		fillStr(out, "definition", "Definition of "+objective+".")
		fillStr(out, "example", "Example involving "+objective+".")

	case ContentInteractiveExample:
		fillStr(out, "scenario", "An interactive example of "+objective+".")
		fillList(out, "variables", []any{})
		fillStr(out, "prompt", "Try changing the values.")

	case ContentProgressQuiz:
		fillList(out, "questions", []any{
			map[string]any{
				"question":      "Quick check on " + objective,
				"options":       []any{"Yes", "No"},
				"correct_index": float64(0),
			},
		})
		fillNum(out, "pass_score", 1)
		fillStr(out, "difficulty", difficulty)

	case ContentGraphVisualizer:
		fillStr(out, "expression", "x")
		fillStr(out, "description", "A graph illustrating "+objective+".")
		fillList(out, "domain", []any{float64(-10), float64(10)})

	case ContentFormulaExplorer:
		fillStr(out, "formula", objective)
		fillList(out, "parameters", []any{})
		fillStr(out, "description", "Explore how the formula for "+objective+" behaves.")

	case ContentTextHighlighter:
		fillStr(out, "text", "A passage about "+objective+".")
		fillList(out, "highlight_targets", []any{objective})
		fillStr(out, "instruction", "Highlight the parts about "+objective+".")

	case ContentPlaceholder:
		fillStr(out, "message", "Content for "+objective+" is being prepared.")

	default:
		fillStr(out, "message", fmt.Sprintf("Unsupported content type %q for %s.", typ, objective))
	}

	return out
}

// RequiredFields returns the fields Normalize guarantees for a type. Exposed
// for renderer contract tests.
func RequiredFields(typ ContentType) []string {
	switch typ {
	case ContentExplainer:
		return []string{"concept", "explanation", "key_points", "difficulty"}
	case ContentMultipleChoice:
		return []string{"question", "options", "correct_index", "explanation"}
	case ContentFillBlank:
		return []string{"sentence", "blanks", "hint"}
	case ContentDragDrop:
		return []string{"instruction", "items", "targets"}
	case ContentStepSolver:
		return []string{"problem", "steps", "answer"}
	case ContentConceptCard:
		return []string{"term", "definition", "example"}
	case ContentInteractiveExample:
		return []string{"scenario", "variables", "prompt"}
	case ContentProgressQuiz:
		return []string{"questions", "pass_score", "difficulty"}
	case ContentGraphVisualizer:
		return []string{"expression", "description", "domain"}
	case ContentFormulaExplorer:
		return []string{"formula", "parameters", "description"}
	case ContentTextHighlighter:
		return []string{"text", "highlight_targets", "instruction"}
	case ContentPlaceholder:
		return []string{"message"}
	}
	return []string{"message"}
}

func fillStr(m map[string]any, key, fallback string) {
	if s, ok := m[key].(string); ok && s != "" {
		return
	}
	m[key] = fallback
}

func fillList(m map[string]any, key string, fallback []any) {
	if l, ok := m[key].([]any); ok && l != nil {
		return
	}
	m[key] = fallback
}

func fillNum(m map[string]any, key string, fallback float64) {
	switch m[key].(type) {
	case float64, int:
		return
	}
	m[key] = fallback
}
