package tutor

import (
	"errors"
	"testing"
)

func newTestPlan() *LessonPlan {
	return NewLessonPlan("Algebra", []string{"Variables", "Equations", "Graphs"}, LevelBeginner)
}

func TestNewLessonPlan(t *testing.T) {
	p := newTestPlan()
	if len(p.Lessons) != 3 {
		t.Fatalf("lesson count = %d, want 3", len(p.Lessons))
	}
	if p.CurrentIndex != 0 {
		t.Errorf("initial index = %d, want 0", p.CurrentIndex)
	}
	if p.State() != PlanActive {
		t.Errorf("state = %s, want active", p.State())
	}
	if p.Lessons[1].Title != "Equations" {
		t.Errorf("lesson order not preserved: %v", p.Lessons[1].Title)
	}
}

func TestAdvanceGuardedByCompletion(t *testing.T) {
	p := newTestPlan()

	_, _, err := p.Advance()
	if !errors.Is(err, ErrLessonIncomplete) {
		t.Fatalf("advance on open lesson: err = %v, want ErrLessonIncomplete", err)
	}
	if p.CurrentIndex != 0 {
		t.Errorf("index moved on rejected advance: %d", p.CurrentIndex)
	}

	p.Lessons[0].Completed = true
	next, done, err := p.Advance()
	if err != nil || done {
		t.Fatalf("advance after completion: next=%v done=%v err=%v", next, done, err)
	}
	if next.Title != "Equations" {
		t.Errorf("advanced to %q, want Equations", next.Title)
	}
	if p.CurrentIndex != 1 {
		t.Errorf("index = %d, want 1", p.CurrentIndex)
	}
}

func TestAdvancePastFinalLesson(t *testing.T) {
	p := NewLessonPlan("Algebra", []string{"Variables"}, LevelBeginner)
	p.Lessons[0].Completed = true

	next, done, err := p.Advance()
	if err != nil {
		t.Fatalf("advance past final: %v", err)
	}
	if !done || next != nil {
		t.Errorf("done=%v next=%v, want done with nil next", done, next)
	}
	if p.State() != PlanComplete {
		t.Errorf("state = %s, want complete", p.State())
	}
	if p.CurrentIndex != len(p.Lessons) {
		t.Errorf("index = %d, want %d", p.CurrentIndex, len(p.Lessons))
	}

	// Advancing a complete plan stays done and does not error.
	_, done, err = p.Advance()
	if err != nil || !done {
		t.Errorf("advance on complete plan: done=%v err=%v", done, err)
	}
}

func TestCompleteCurrent(t *testing.T) {
	p := newTestPlan()
	var progress LearningProgress

	if err := p.CompleteCurrent(&progress, false); err != nil {
		t.Fatal(err)
	}
	if p.Lessons[0].Completed {
		t.Error("failed attempt marked the lesson complete")
	}
	if !progress.NeedsReview || progress.ReadyToAdvance {
		t.Errorf("after fail: %+v", progress)
	}

	if err := p.CompleteCurrent(&progress, true); err != nil {
		t.Fatal(err)
	}
	if !p.Lessons[0].Completed {
		t.Error("passed attempt did not complete the lesson")
	}
	if progress.TotalAttempts != 2 || progress.CorrectAnswers != 1 {
		t.Errorf("attempts=%d correct=%d", progress.TotalAttempts, progress.CorrectAnswers)
	}
	if !progress.ReadyToAdvance {
		t.Error("not ready to advance after pass")
	}

	if got := p.ProgressPercent(); got < 33.2 || got > 33.4 {
		t.Errorf("progress = %v, want ~33.3", got)
	}
}

func TestAddAndRemoveLessons(t *testing.T) {
	p := newTestPlan()
	p.Lessons[0].Completed = true
	if _, _, err := p.Advance(); err != nil {
		t.Fatal(err)
	}

	p.AddLessons([]string{"Inequalities"})
	if len(p.Lessons) != 4 {
		t.Fatalf("lesson count after add = %d", len(p.Lessons))
	}
	if p.CurrentIndex != 1 {
		t.Errorf("add reset the cursor: %d", p.CurrentIndex)
	}

	if p.RemoveLesson("Variables") {
		t.Error("removed a completed lesson")
	}
	if p.RemoveLesson("Equations") {
		t.Error("removed the current lesson")
	}
	if !p.RemoveLesson("Graphs") {
		t.Error("failed to remove a pending lesson")
	}
	if len(p.Lessons) != 3 {
		t.Errorf("lesson count after remove = %d", len(p.Lessons))
	}
	if p.Current().Title != "Equations" {
		t.Errorf("cursor drifted to %q", p.Current().Title)
	}
}

func TestPlanStateNil(t *testing.T) {
	var p *LessonPlan
	if p.State() != PlanNone {
		t.Errorf("nil plan state = %s", p.State())
	}
	if p.CompletedCount() != 0 || p.ProgressPercent() != 0 {
		t.Error("nil plan reported progress")
	}
}
