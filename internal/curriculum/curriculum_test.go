package curriculum

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoaderMissingDir(t *testing.T) {
	l, err := NewLoader(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := l.GetSubject("algebra"); !ok {
		t.Error("builtin subject missing")
	}
	if len(l.Keywords()) == 0 {
		t.Error("empty keyword table")
	}
}

func TestLoaderReadsSubjectFiles(t *testing.T) {
	dir := t.TempDir()
	yaml := `name: Music Theory
keywords: [music theory, scales, chords]
goals:
  beginner: [Reading notation, Major scales]
  advanced: [Modal interchange]
`
	if err := os.WriteFile(filepath.Join(dir, "music.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("{not yaml"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	l, err := NewLoader(dir)
	if err != nil {
		t.Fatal(err)
	}

	sub, ok := l.GetSubject("MUSIC THEORY")
	if !ok {
		t.Fatal("subject not loaded")
	}
	if len(sub.Keywords) != 3 {
		t.Errorf("keywords = %v", sub.Keywords)
	}

	if got := l.SuggestedGoals("Music Theory", "advanced"); len(got) != 1 || got[0] != "Modal interchange" {
		t.Errorf("advanced goals = %v", got)
	}
	if got := l.SuggestedGoals("Music Theory", "intermediate"); len(got) != 2 {
		t.Errorf("fallback goals = %v", got)
	}
	if got := l.SuggestedGoals("Unknown", "beginner"); got != nil {
		t.Errorf("unknown subject goals = %v", got)
	}

	table := l.Keywords()
	if _, ok := table["Music Theory"]; !ok {
		t.Error("loaded subject missing from keyword table")
	}
}

func TestLoaderOverridesBuiltin(t *testing.T) {
	dir := t.TempDir()
	yaml := `name: Algebra
keywords: [algebra only]
`
	if err := os.WriteFile(filepath.Join(dir, "algebra.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	l, err := NewLoader(dir)
	if err != nil {
		t.Fatal(err)
	}
	sub, _ := l.GetSubject("Algebra")
	if len(sub.Keywords) != 1 || sub.Keywords[0] != "algebra only" {
		t.Errorf("override lost: %v", sub.Keywords)
	}
}
