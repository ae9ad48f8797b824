package store

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"scigrader/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:", 3)
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(studentID string, createdAt time.Time) model.GradedRecord {
	return model.GradedRecord{
		StudentID: studentID,
		Answers:   []string{"a1", "a2", "a3"},
		Feedback: []model.FeedbackItem{
			{Verdict: model.VerdictPass, Explanation: "good", Model: "gpt-5-mini", Guideline: "g1"},
			{Verdict: model.VerdictFail, Explanation: "missing unit", Model: "gpt-5-mini", Guideline: "g2"},
			{Verdict: model.VerdictPass, Explanation: "complete", Model: "gpt-5-mini", Guideline: "g3"},
		},
		Model:     "gpt-5-mini",
		CreatedAt: createdAt,
	}
}

func TestSaveAndReadBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	if err := s.SaveRecord(ctx, testRecord("2024001", created)); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}

	rec, err := s.LatestByStudent(ctx, "2024001")
	if err != nil {
		t.Fatalf("LatestByStudent: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a record")
	}
	if rec.StudentID != "2024001" || rec.Model != "gpt-5-mini" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Feedback[0] != "O: good" || rec.Feedback[1] != "X: missing unit" {
		t.Errorf("feedback lines = %v", rec.Feedback)
	}
	if rec.Guidelines[2] != "g3" {
		t.Errorf("guidelines = %v", rec.Guidelines)
	}
	if !rec.CreatedAt.Equal(created) {
		t.Errorf("created_at = %v, want %v", rec.CreatedAt, created)
	}
}

func TestLatestByStudentPicksNewest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := testRecord("2024001", time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	newer := testRecord("2024001", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	newer.Answers[0] = "newer answer"

	if err := s.SaveRecord(ctx, older); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRecord(ctx, newer); err != nil {
		t.Fatal(err)
	}

	rec, err := s.LatestByStudent(ctx, "2024001")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Answers[0] != "newer answer" {
		t.Errorf("got answer %q, want the newest record", rec.Answers[0])
	}

	none, err := s.LatestByStudent(ctx, "9999")
	if err != nil {
		t.Fatal(err)
	}
	if none != nil {
		t.Error("expected nil for unknown student")
	}
}

func TestSaveRejectsMismatchedArity(t *testing.T) {
	s := newTestStore(t)
	rec := testRecord("2024001", time.Now())
	rec.Answers = rec.Answers[:2]

	err := s.SaveRecord(context.Background(), rec)
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want PersistenceError", err)
	}
}

func TestQuestionCountMismatch(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/submissions.db"

	s, err := New(path, 3)
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	if _, err := New(path, 5); err == nil {
		t.Fatal("expected error opening a 3-question store with n=5")
	}

	// Opening read-side with n=0 takes the count from metadata.
	s2, err := New(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	if s2.NumQuestions() != 3 {
		t.Errorf("NumQuestions = %d, want 3", s2.NumQuestions())
	}
}

func TestListRecordsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, studentID := range []string{"2024001", "2024002", "2025001"} {
		rec := testRecord(studentID, base.Add(time.Duration(i)*time.Hour))
		if i == 2 {
			rec.Model = "llama3.2"
		}
		if err := s.SaveRecord(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name      string
		filter    Filter
		wantCount int
	}{
		{"no filter", Filter{}, 3},
		{"student substring", Filter{StudentContains: "2024"}, 2},
		{"model substring", Filter{ModelContains: "llama"}, 1},
		{"since", Filter{Since: base.Add(30 * time.Minute)}, 2},
		{"until", Filter{Until: base.Add(30 * time.Minute)}, 1},
		{"window", Filter{Since: base.Add(30 * time.Minute), Until: base.Add(90 * time.Minute)}, 1},
		{"limit", Filter{Limit: 2}, 2},
		{"graded only", Filter{GradedOnly: true}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := s.ListRecords(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListRecords: %v", err)
			}
			if len(recs) != tt.wantCount {
				t.Errorf("got %d records, want %d", len(recs), tt.wantCount)
			}
		})
	}

	// Newest first.
	recs, err := s.ListRecords(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if recs[0].StudentID != "2025001" {
		t.Errorf("first record = %q, want newest", recs[0].StudentID)
	}
}

func TestWriteCSV(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 0, 30, 0, 0, time.UTC)
	if err := s.SaveRecord(ctx, testRecord("2024001", created)); err != nil {
		t.Fatal(err)
	}
	recs, err := s.ListRecords(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}

	kst, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	var buf bytes.Buffer
	if err := s.WriteCSV(&buf, recs, CSVOptions{Location: kst, WithAnswers: true}); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	out := buf.String()

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want header + 1 row", len(lines))
	}
	if !strings.HasPrefix(lines[0], "created_at,student_id,model,feedback_1") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[0], "answer_3") {
		t.Error("answers requested but missing from header")
	}
	if strings.Contains(lines[0], "guideline_1") {
		t.Error("guidelines not requested but present in header")
	}
	// 00:30 UTC is 09:30 in Seoul.
	if !strings.Contains(lines[1], "2026-03-01 09:30") {
		t.Errorf("row = %q, want KST timestamp", lines[1])
	}
	if !strings.Contains(lines[1], "X: missing unit") {
		t.Errorf("row = %q, want feedback line", lines[1])
	}
}

func TestMetadata(t *testing.T) {
	s := newTestStore(t)

	if err := s.SetMetadata("guideline_file_hash", "abc"); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetMetadata("guideline_file_hash")
	if err != nil {
		t.Fatal(err)
	}
	if got != "abc" {
		t.Errorf("got %q", got)
	}

	// Upsert overwrites.
	if err := s.SetMetadata("guideline_file_hash", "def"); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetMetadata("guideline_file_hash")
	if got != "def" {
		t.Errorf("got %q after upsert", got)
	}

	missing, err := s.GetMetadata("nope")
	if err != nil {
		t.Fatal(err)
	}
	if missing != "" {
		t.Errorf("missing key returned %q", missing)
	}
}
