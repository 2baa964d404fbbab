package tutor

// Learner levels and lesson difficulties share one scale.
const (
	LevelBeginner     = "beginner"
	LevelIntermediate = "intermediate"
	LevelAdvanced     = "advanced"
)

// Outcome is the result of a mastery evaluation.
type Outcome struct {
	Passed    bool    `json:"passed"`
	Ratio     float64 `json:"ratio"`
	Threshold float64 `json:"threshold"`
}

// Threshold returns the adaptive mastery threshold: 0.7 by default, 0.8 when
// either the learner level or the lesson difficulty is intermediate, 0.9 when
// either is advanced. The stricter of the two wins.
func Threshold(level, difficulty string) float64 {
	t := levelThreshold(level)
	if dt := levelThreshold(difficulty); dt > t {
		t = dt
	}
	return t
}

func levelThreshold(s string) float64 {
	switch s {
	case LevelIntermediate:
		return 0.8
	case LevelAdvanced:
		return 0.9
	default:
		return 0.7
	}
}

// Evaluate grades a score against the adaptive threshold. A zero total never
// passes.
func Evaluate(score, total int, level, difficulty string) Outcome {
	threshold := Threshold(level, difficulty)
	if total <= 0 {
		return Outcome{Passed: false, Ratio: 0, Threshold: threshold}
	}
	ratio := float64(score) / float64(total)
	return Outcome{
		Passed:    ratio >= threshold,
		Ratio:     ratio,
		Threshold: threshold,
	}
}
