// Package guideline holds the per-question grading criteria. The store is
// built once at startup from a JSON file and is read-only afterwards.
package guideline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// Entry pairs a question with the criteria used to grade its answer.
type Entry struct {
	Question  string `json:"question"`
	Guideline string `json:"guideline"`
}

// Store is an immutable index-keyed mapping of guidelines.
type Store struct {
	entries []Entry
	hash    string
}

// Load parses a guidelines JSON document of the form
// [{"question": "...", "guideline": "..."}, ...].
func Load(data []byte) (*Store, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse guidelines: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("guidelines file contains no entries")
	}
	for i, e := range entries {
		if e.Guideline == "" {
			return nil, fmt.Errorf("guideline %d is empty", i)
		}
	}
	sum := sha256.Sum256(data)
	return &Store{entries: entries, hash: hex.EncodeToString(sum[:])}, nil
}

// LoadFile reads and parses a guidelines JSON file.
func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	s, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return s, nil
}

// Len returns the number of questions.
func (s *Store) Len() int { return len(s.entries) }

// Hash returns the sha256 of the source file, used to detect a guidelines
// change between runs against the same database.
func (s *Store) Hash() string { return s.hash }

// Guideline returns the grading criteria for question index i.
func (s *Store) Guideline(i int) string { return s.entries[i].Guideline }

// Question returns the question text for index i.
func (s *Store) Question(i int) string { return s.entries[i].Question }

// Questions returns all question texts in index order.
func (s *Store) Questions() []string {
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Question
	}
	return out
}
