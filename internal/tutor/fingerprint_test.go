package tutor

import "testing"

func TestFingerprintIgnoresID(t *testing.T) {
	a := NewContent(ContentExplainer, "Sets", "subj", nil, "sets", "beginner")
	b := NewContent(ContentExplainer, "Sets", "subj", nil, "sets", "beginner")
	if a.ID == b.ID {
		t.Fatal("expected distinct ids")
	}
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("identical payloads fingerprint differently")
	}
}

func TestFingerprintSensitiveToData(t *testing.T) {
	a := NewContent(ContentExplainer, "Sets", "subj", map[string]any{"concept": "union"}, "sets", "beginner")
	b := NewContent(ContentExplainer, "Sets", "subj", map[string]any{"concept": "intersection"}, "sets", "beginner")
	if Fingerprint(a) == Fingerprint(b) {
		t.Error("different payloads share a fingerprint")
	}
}

func TestDupeGuard(t *testing.T) {
	g := newDupeGuard(2)
	c := NewContent(ContentExplainer, "Sets", "subj", nil, "sets", "beginner")

	if !g.Admit("subj", c) {
		t.Fatal("first admit rejected")
	}
	if g.Admit("subj", c) {
		t.Error("duplicate admitted")
	}
	if !g.Admit("other", c) {
		t.Error("guard leaked across subjects")
	}

	// Capacity 2: two more admits evict the first fingerprint.
	g.Admit("subj", NewContent(ContentConceptCard, "A", "subj", nil, "a", "beginner"))
	g.Admit("subj", NewContent(ContentConceptCard, "B", "subj", nil, "b", "beginner"))
	if !g.Admit("subj", c) {
		t.Error("evicted fingerprint still rejected")
	}

	g.Forget("other")
	if !g.Admit("other", c) {
		t.Error("forgotten subject still rejected")
	}
}
