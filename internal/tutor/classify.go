package tutor

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// Classification is the typed result of the fallback subject classifier.
type Classification struct {
	Match      bool
	Subject    string
	Confidence float64
}

// learnPhrase captures "learn X", "study X", "teach me X" style requests.
var learnPhrase = regexp.MustCompile(`(?:learn|study|teach me|tutor me in|help me with)\s+(?:about\s+|some\s+)?([a-z][a-z0-9 +#-]{1,40})`)

var foldCaser = cases.Fold()

// ClassifySubject pattern-matches a raw learner message for a study request.
// keywordTable maps canonical subject names to trigger keywords (loaded from
// the curriculum). It never fails; a miss is a NoMatch classification.
func ClassifySubject(message string, keywordTable map[string][]string) Classification {
	folded := foldCaser.String(strings.TrimSpace(message))
	if folded == "" {
		return Classification{}
	}

	if m := learnPhrase.FindStringSubmatch(folded); m != nil {
		name := strings.TrimSpace(m[1])
		// Prefer a canonical subject whose keyword appears in the phrase.
		if subject, ok := matchKeyword(name, keywordTable); ok {
			return Classification{Match: true, Subject: subject, Confidence: 0.9}
		}
		return Classification{Match: true, Subject: titleWords(name), Confidence: 0.7}
	}

	if subject, ok := matchKeyword(folded, keywordTable); ok {
		return Classification{Match: true, Subject: subject, Confidence: 0.5}
	}

	return Classification{}
}

func matchKeyword(text string, table map[string][]string) (string, bool) {
	best := ""
	bestLen := 0
	for subject, keywords := range table {
		for _, kw := range keywords {
			kw = foldCaser.String(kw)
			if kw == "" || !containsWord(text, kw) {
				continue
			}
			// Longest keyword wins so "linear algebra" beats "algebra".
			if len(kw) > bestLen {
				best = subject
				bestLen = len(kw)
			}
		}
	}
	return best, best != ""
}

func containsWord(text, word string) bool {
	idx := strings.Index(text, word)
	for idx >= 0 {
		before := idx == 0 || !isWordRune(rune(text[idx-1]))
		afterIdx := idx + len(word)
		after := afterIdx >= len(text) || !isWordRune(rune(text[afterIdx]))
		if before && after {
			return true
		}
		next := strings.Index(text[idx+1:], word)
		if next < 0 {
			return false
		}
		idx += 1 + next
	}
	return false
}

func isWordRune(r rune) bool {
	return r == '-' || r == '+' || r == '#' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// vaguePatterns are whole messages that signal the learner has not said what
// they need. Matching is exact after folding and trimming; a message merely
// containing a question word is not vague (a direct question deserves a
// direct answer).
var vaguePatterns = map[string]bool{
	"help":               true,
	"help me":            true,
	"what":               true,
	"what?":              true,
	"how":                true,
	"how?":               true,
	"why":                true,
	"why?":               true,
	"explain":            true,
	"i don't understand": true,
	"i dont understand":  true,
	"idk":                true,
	"?":                  true,
	"huh":                true,
	"huh?":               true,
}

// IsAmbiguous reports whether a message is too vague to send to the model:
// very short (under 5 runes) or an exact vague pattern.
func IsAmbiguous(message string) bool {
	trimmed := strings.TrimSpace(message)
	if utf8.RuneCountInString(trimmed) < 5 {
		return true
	}
	return vaguePatterns[strings.TrimRight(foldCaser.String(trimmed), " ")]
}
