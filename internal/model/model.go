package model

import (
	"strings"
	"time"
)

// Verdict is the pass/fail judgment the model gives a single answer.
type Verdict string

const (
	// VerdictPass corresponds to an "O" reply prefix.
	VerdictPass Verdict = "O"
	// VerdictFail corresponds to an "X" reply prefix.
	VerdictFail Verdict = "X"
)

// Submission is one student's complete set of answers as entered on the form.
// It is immutable once validated; answers are kept exactly as typed.
type Submission struct {
	StudentID string   `json:"student_id"`
	Answers   []string `json:"answers"`
}

// ValidationResult is the outcome of checking a submission for completeness.
// Missing holds failing field indices: 0 is the student id, 1..N the answers.
type ValidationResult struct {
	Valid      bool       `json:"valid"`
	Missing    []int      `json:"missing,omitempty"`
	Submission Submission `json:"-"`
}

// FeedbackItem is the graded outcome for a single question.
type FeedbackItem struct {
	Verdict     Verdict `json:"verdict"`
	Explanation string  `json:"explanation"`
	Model       string  `json:"model"`
	Guideline   string  `json:"-"`
}

// Line renders the item in the persisted "O: explanation" form.
func (f FeedbackItem) Line() string {
	if f.Explanation == "" {
		return string(f.Verdict)
	}
	return string(f.Verdict) + ": " + f.Explanation
}

// GradedRecord is the immutable unit written to durable storage, one per
// successfully graded submission.
type GradedRecord struct {
	StudentID string         `json:"student_id"`
	Answers   []string       `json:"answers"`
	Feedback  []FeedbackItem `json:"feedback"`
	Model     string         `json:"model"`
	CreatedAt time.Time      `json:"created_at"`
}

// PersistedRecord is a stored record as read back from the database.
// Feedback entries are the formatted "O/X: explanation" lines.
type PersistedRecord struct {
	ID         int64     `json:"id"`
	StudentID  string    `json:"student_id"`
	Answers    []string  `json:"answers"`
	Feedback   []string  `json:"feedback"`
	Guidelines []string  `json:"guidelines"`
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"created_at"`
}

// OXTag extracts the verdict prefix of a stored feedback line, or "" when the
// line carries no recognizable verdict.
func OXTag(feedbackLine string) string {
	f := strings.TrimSpace(feedbackLine)
	switch {
	case strings.HasPrefix(f, "O"):
		return "O"
	case strings.HasPrefix(f, "X"):
		return "X"
	default:
		return ""
	}
}

// WorkflowStatus tracks a session through the submission-grade-persist workflow.
type WorkflowStatus string

const (
	StatusEmpty     WorkflowStatus = "empty"
	StatusAwaiting  WorkflowStatus = "awaiting_submission"
	StatusValidated WorkflowStatus = "validated"
	StatusGrading   WorkflowStatus = "grading"
	StatusGraded    WorkflowStatus = "graded"
	StatusPersisted WorkflowStatus = "persisted"
)

// ServerConfig holds runtime parameters set via CLI flags.
type ServerConfig struct {
	NumQuestions  int           // answers per submission
	Lang          string        // UI message language (en, ko)
	SessionTTL    time.Duration // idle lifetime of a workflow session
	SecureCookies bool          // Set Secure flag on session cookies
}
