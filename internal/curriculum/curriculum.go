// Package curriculum loads subject definitions from YAML files: canonical
// subject names, the trigger keywords the fallback classifier matches on,
// and suggested learning goals per level.
package curriculum

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Subject is one curriculum subject definition loaded from YAML.
type Subject struct {
	Name     string              `yaml:"name"`
	Keywords []string            `yaml:"keywords"`
	Goals    map[string][]string `yaml:"goals"` // level -> suggested goals
}

// Loader loads and caches subject definitions from the filesystem.
type Loader struct {
	rootDir  string
	mu       sync.RWMutex
	subjects map[string]Subject // keyed by folded name
}

// NewLoader creates a loader and reads every subject file under rootDir.
// A missing directory is not an error: the loader starts with the built-in
// subjects and only those.
func NewLoader(rootDir string) (*Loader, error) {
	l := &Loader{
		rootDir:  rootDir,
		subjects: make(map[string]Subject),
	}
	for _, sub := range builtinSubjects {
		l.subjects[strings.ToLower(sub.Name)] = sub
	}

	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading curriculum: %w", err)
	}

	slog.Info("curriculum loaded", "subjects", len(l.subjects), "dir", rootDir)
	return l, nil
}

// Keywords returns the subject -> trigger-keyword table for the classifier.
func (l *Loader) Keywords() map[string][]string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	table := make(map[string][]string, len(l.subjects))
	for _, sub := range l.subjects {
		table[sub.Name] = append([]string{}, sub.Keywords...)
	}
	return table
}

// GetSubject looks a subject up by name, case-insensitively.
func (l *Loader) GetSubject(name string) (Subject, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sub, ok := l.subjects[strings.ToLower(name)]
	return sub, ok
}

// SuggestedGoals returns the curriculum's goals for a subject at a level,
// falling back to the beginner goals when the level has none.
func (l *Loader) SuggestedGoals(name, level string) []string {
	sub, ok := l.GetSubject(name)
	if !ok {
		return nil
	}
	if goals := sub.Goals[level]; len(goals) > 0 {
		return append([]string{}, goals...)
	}
	return append([]string{}, sub.Goals["beginner"]...)
}

// AllSubjects returns every loaded subject.
func (l *Loader) AllSubjects() []Subject {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Subject, 0, len(l.subjects))
	for _, sub := range l.subjects {
		out = append(out, sub)
	}
	return out
}

func (l *Loader) loadAll() error {
	if _, err := os.Stat(l.rootDir); os.IsNotExist(err) {
		return nil
	}
	return filepath.Walk(l.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".yaml") && !strings.HasSuffix(path, ".yml") {
			return nil
		}
		return l.loadSubject(path)
	})
}

func (l *Loader) loadSubject(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var sub Subject
	if err := yaml.Unmarshal(data, &sub); err != nil {
		slog.Warn("skipping invalid subject YAML", "path", path, "error", err)
		return nil
	}
	if sub.Name == "" {
		return nil
	}

	l.mu.Lock()
	l.subjects[strings.ToLower(sub.Name)] = sub
	l.mu.Unlock()
	return nil
}

// builtinSubjects keep the classifier useful with an empty curriculum
// directory.
var builtinSubjects = []Subject{
	{
		Name:     "Algebra",
		Keywords: []string{"algebra", "equations", "polynomials"},
		Goals: map[string][]string{
			"beginner": {"Variables and expressions", "Solving linear equations", "Graphing lines"},
		},
	},
	{
		Name:     "Geometry",
		Keywords: []string{"geometry", "triangles", "angles"},
		Goals: map[string][]string{
			"beginner": {"Points, lines and angles", "Triangle properties", "Area and perimeter"},
		},
	},
	{
		Name:     "Biology",
		Keywords: []string{"biology", "cells", "genetics"},
		Goals: map[string][]string{
			"beginner": {"Cell structure", "Photosynthesis", "Heredity basics"},
		},
	},
	{
		Name:     "Programming",
		Keywords: []string{"programming", "coding", "python", "javascript"},
		Goals: map[string][]string{
			"beginner": {"Variables and types", "Control flow", "Functions"},
		},
	},
}
