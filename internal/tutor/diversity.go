package tutor

import (
	"math/rand"
	"sync"
	"time"
)

// Category names a kind of content request the LLM (or the engine) can make.
const (
	CategoryQuestion    = "next_question"
	CategoryExercise    = "next_exercise"
	CategoryExplanation = "explanation"
)

// weighted candidate lists per category. Order matters only for tie-breaking;
// weights bias the draw.
var categoryCandidates = map[string][]weightedType{
	CategoryQuestion: {
		{ContentMultipleChoice, 4},
		{ContentProgressQuiz, 3},
		{ContentFillBlank, 2},
		{ContentTextHighlighter, 1},
	},
	CategoryExercise: {
		{ContentDragDrop, 3},
		{ContentStepSolver, 3},
		{ContentInteractiveExample, 2},
		{ContentFormulaExplorer, 1},
	},
	CategoryExplanation: {
		{ContentExplainer, 4},
		{ContentConceptCard, 3},
		{ContentGraphVisualizer, 1},
	},
}

type weightedType struct {
	typ    ContentType
	weight int
}

// DiversitySelector picks concrete content types for a requested category,
// avoiding immediate repeats within a short history window.
type DiversitySelector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewDiversitySelector creates a selector with the given seed source. Tests
// pass a fixed seed; production uses defaultRandSource.
func NewDiversitySelector(src rand.Source) *DiversitySelector {
	return &DiversitySelector{rng: rand.New(src)}
}

func defaultRandSource() rand.Source {
	return rand.NewSource(time.Now().UnixNano())
}

// SelectType picks a concrete content type for the category. Types present in
// recent (the diversity window, at most the last 3 selections) are excluded.
// If every candidate is recently used, only the single most-recent type is
// excluded; if that still empties the set, any candidate is allowed. Unknown
// categories fall back to the explanation candidates.
func (d *DiversitySelector) SelectType(category string, recent []ContentType) ContentType {
	candidates, ok := categoryCandidates[category]
	if !ok {
		candidates = categoryCandidates[CategoryExplanation]
	}
	if len(recent) > diversityWindow {
		recent = recent[len(recent)-diversityWindow:]
	}

	allowed := excluding(candidates, recent)
	if len(allowed) == 0 && len(recent) > 0 {
		// Everything was recent: only avoid the most recent type.
		allowed = excluding(candidates, recent[len(recent)-1:])
	}
	if len(allowed) == 0 {
		allowed = candidates
	}

	return d.draw(allowed)
}

const diversityWindow = 3

func excluding(candidates []weightedType, recent []ContentType) []weightedType {
	out := make([]weightedType, 0, len(candidates))
	for _, c := range candidates {
		used := false
		for _, r := range recent {
			if c.typ == r {
				used = true
				break
			}
		}
		if !used {
			out = append(out, c)
		}
	}
	return out
}

func (d *DiversitySelector) draw(candidates []weightedType) ContentType {
	total := 0
	for _, c := range candidates {
		total += c.weight
	}

	d.mu.Lock()
	n := d.rng.Intn(total)
	d.mu.Unlock()

	for _, c := range candidates {
		n -= c.weight
		if n < 0 {
			return c.typ
		}
	}
	return candidates[len(candidates)-1].typ
}

// RememberContent appends a content type to a lesson's recency ring,
// truncating to the diversity window.
func RememberContent(lesson *Lesson, typ ContentType) {
	if lesson == nil {
		return
	}
	lesson.RecentContent = append(lesson.RecentContent, typ)
	if len(lesson.RecentContent) > diversityWindow {
		lesson.RecentContent = lesson.RecentContent[len(lesson.RecentContent)-diversityWindow:]
	}
}
