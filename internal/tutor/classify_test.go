package tutor

import "testing"

var testKeywords = map[string][]string{
	"Algebra":        {"algebra", "equations"},
	"Linear Algebra": {"linear algebra", "matrices"},
	"Biology":        {"biology", "cells"},
}

func TestClassifySubject(t *testing.T) {
	tests := []struct {
		name       string
		message    string
		match      bool
		subject    string
		confidence float64
	}{
		{"learn phrase with keyword", "I want to learn algebra", true, "Algebra", 0.9},
		{"teach me", "teach me about biology please", true, "Biology", 0.9},
		{"longest keyword wins", "help me with linear algebra", true, "Linear Algebra", 0.9},
		{"learn phrase unknown topic", "I want to study ancient history", true, "Ancient History", 0.7},
		{"keyword only", "those equations from class confused me", true, "Algebra", 0.5},
		{"case folded", "TEACH ME ALGEBRA", true, "Algebra", 0.9},
		{"no match", "the weather is nice today", false, "", 0},
		{"empty", "   ", false, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifySubject(tt.message, testKeywords)
			if got.Match != tt.match {
				t.Fatalf("Match = %v, want %v", got.Match, tt.match)
			}
			if got.Subject != tt.subject {
				t.Errorf("Subject = %q, want %q", got.Subject, tt.subject)
			}
			if got.Confidence != tt.confidence {
				t.Errorf("Confidence = %v, want %v", got.Confidence, tt.confidence)
			}
		})
	}
}

func TestClassifySubjectNoPartialWordMatch(t *testing.T) {
	// "cells" must not match inside "excellsior".
	got := ClassifySubject("the excellsior program", testKeywords)
	if got.Match {
		t.Errorf("matched inside a larger word: %+v", got)
	}
}

func TestIsAmbiguous(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"hi", true},
		{"", true},
		{"?", true},
		{"help", true},
		{"HELP ME", true},
		{"i don't understand", true},
		{"explain", true},
		{"explain photosynthesis", false},
		{"what is a derivative", false},
		{"teach me algebra", false},
	}
	for _, tt := range tests {
		if got := IsAmbiguous(tt.message); got != tt.want {
			t.Errorf("IsAmbiguous(%q) = %v, want %v", tt.message, got, tt.want)
		}
	}
}
