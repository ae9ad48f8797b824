package guideline

import (
	"strings"
	"testing"
)

const sampleJSON = `[
	{"question": "Q1", "guideline": "mentions photosynthesis"},
	{"question": "Q2", "guideline": "names the correct unit"},
	{"question": "Q3", "guideline": "describes the water cycle"}
]`

func TestLoad(t *testing.T) {
	s, err := Load([]byte(sampleJSON))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3", s.Len())
	}
	if s.Question(0) != "Q1" {
		t.Errorf("Question(0) = %q", s.Question(0))
	}
	if s.Guideline(2) != "describes the water cycle" {
		t.Errorf("Guideline(2) = %q", s.Guideline(2))
	}
	if len(s.Hash()) != 64 {
		t.Errorf("Hash length = %d, want 64 hex chars", len(s.Hash()))
	}
	qs := s.Questions()
	if len(qs) != 3 || qs[1] != "Q2" {
		t.Errorf("Questions = %v", qs)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"invalid json", `{not json`, "parse guidelines"},
		{"empty list", `[]`, "no entries"},
		{"missing guideline", `[{"question": "Q1", "guideline": ""}]`, "guideline 0 is empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.data))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestHashChangesWithContent(t *testing.T) {
	a, err := Load([]byte(sampleJSON))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Load([]byte(strings.Replace(sampleJSON, "Q1", "Q1b", 1)))
	if err != nil {
		t.Fatal(err)
	}
	if a.Hash() == b.Hash() {
		t.Error("different content produced the same hash")
	}
}
