package tutor

import (
	"fmt"

	"github.com/google/uuid"
)

// PlanState is the lesson-plan lifecycle state.
type PlanState string

const (
	PlanNone     PlanState = "none"
	PlanActive   PlanState = "active"
	PlanComplete PlanState = "complete"
)

// ErrLessonIncomplete rejects advancement while the current lesson is open.
var ErrLessonIncomplete = fmt.Errorf("current lesson not yet completed")

// NewLessonPlan builds an ordered plan from learning goals. Each goal becomes
// one lesson; the current index starts at 0.
func NewLessonPlan(subjectName string, goals []string, difficulty string) *LessonPlan {
	if difficulty == "" {
		difficulty = LevelBeginner
	}
	lessons := make([]Lesson, 0, len(goals))
	for _, goal := range goals {
		lessons = append(lessons, Lesson{
			ID:          uuid.NewString(),
			Title:       goal,
			Description: fmt.Sprintf("Learn about %s in %s", goal, subjectName),
			Objectives:  []string{goal},
		})
	}
	return &LessonPlan{
		SubjectName: subjectName,
		Lessons:     lessons,
		Difficulty:  difficulty,
	}
}

// State reports where the plan is in its lifecycle.
func (p *LessonPlan) State() PlanState {
	if p == nil || len(p.Lessons) == 0 {
		return PlanNone
	}
	if p.CurrentIndex >= len(p.Lessons) {
		return PlanComplete
	}
	return PlanActive
}

// Current returns the lesson at the cursor, nil when the plan is not active.
func (p *LessonPlan) Current() *Lesson {
	if p.State() != PlanActive {
		return nil
	}
	return &p.Lessons[p.CurrentIndex]
}

// Advance moves to the next lesson. It refuses with ErrLessonIncomplete while
// the current lesson is open. Advancing past the final lesson is not an
// error: the plan transitions to complete and done is true.
func (p *LessonPlan) Advance() (next *Lesson, done bool, err error) {
	cur := p.Current()
	if cur == nil {
		if p.State() == PlanComplete {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("no active lesson plan")
	}
	if !cur.Completed {
		return nil, false, ErrLessonIncomplete
	}

	p.CurrentIndex++
	if p.CurrentIndex >= len(p.Lessons) {
		return nil, true, nil
	}
	return &p.Lessons[p.CurrentIndex], false, nil
}

// CompleteCurrent marks the lesson at the cursor completed and records the
// graded attempt in progress. Subject progress is recomputed as
// completed/total.
func (p *LessonPlan) CompleteCurrent(progress *LearningProgress, passed bool) error {
	cur := p.Current()
	if cur == nil {
		return fmt.Errorf("no active lesson to complete")
	}

	progress.TotalAttempts++
	if passed {
		progress.CorrectAnswers++
		cur.Completed = true
	}
	progress.NeedsReview = !passed
	progress.ReadyToAdvance = cur.Completed
	progress.CurrentLessonIndex = p.CurrentIndex
	progress.TotalLessons = len(p.Lessons)
	return nil
}

// CompletedCount returns how many lessons are done.
func (p *LessonPlan) CompletedCount() int {
	if p == nil {
		return 0
	}
	n := 0
	for _, l := range p.Lessons {
		if l.Completed {
			n++
		}
	}
	return n
}

// ProgressPercent returns completed/total as 0..100.
func (p *LessonPlan) ProgressPercent() float64 {
	if p == nil || len(p.Lessons) == 0 {
		return 0
	}
	return float64(p.CompletedCount()) / float64(len(p.Lessons)) * 100
}

// AddLessons appends lessons for the given goals without resetting progress.
func (p *LessonPlan) AddLessons(goals []string) {
	for _, goal := range goals {
		p.Lessons = append(p.Lessons, Lesson{
			ID:          uuid.NewString(),
			Title:       goal,
			Description: fmt.Sprintf("Learn about %s in %s", goal, p.SubjectName),
			Objectives:  []string{goal},
		})
	}
}

// RemoveLesson deletes the first incomplete lesson with the given title,
// keeping the cursor on the same lesson. Completed lessons and the current
// lesson are never removed.
func (p *LessonPlan) RemoveLesson(title string) bool {
	for i := range p.Lessons {
		if p.Lessons[i].Title != title || p.Lessons[i].Completed || i == p.CurrentIndex {
			continue
		}
		p.Lessons = append(p.Lessons[:i], p.Lessons[i+1:]...)
		if i < p.CurrentIndex {
			p.CurrentIndex--
		}
		return true
	}
	return false
}
