// Package workflow implements the submission-grade-persist state machine:
// a submission is validated exactly once, graded at most once, and its
// record persisted exactly once, with the result cached for redisplay.
package workflow

import (
	"context"
	"fmt"

	"scigrader/internal/feedback"
	"scigrader/internal/guideline"
	"scigrader/internal/model"
)

// Grader is the external grading capability, one call per question.
type Grader interface {
	Grade(ctx context.Context, guideline, answer string) (string, error)
	Model() string
}

// GradingErrorKind distinguishes transport failures from unparsable replies.
type GradingErrorKind string

const (
	// KindCallFailed marks a transport or availability failure.
	KindCallFailed GradingErrorKind = "call_failed"
	// KindMalformedReply marks a reply without a recognizable verdict.
	KindMalformedReply GradingErrorKind = "malformed_reply"
)

// GradingError is a per-question grading failure. Grading is aborted at the
// failing index; nothing partial is ever persisted, so the caller may retry.
type GradingError struct {
	Index int
	Kind  GradingErrorKind
	Err   error
}

func (e *GradingError) Error() string {
	return fmt.Sprintf("grading question %d: %s: %v", e.Index, e.Kind, e.Err)
}

func (e *GradingError) Unwrap() error { return e.Err }

// Orchestrator issues grading calls for a validated submission.
type Orchestrator struct {
	grader     Grader
	guidelines *guideline.Store
}

// NewOrchestrator creates an orchestrator over the given grading capability
// and guideline store.
func NewOrchestrator(g Grader, gs *guideline.Store) *Orchestrator {
	return &Orchestrator{grader: g, guidelines: gs}
}

// Model returns the identifier of the grading model in use.
func (o *Orchestrator) Model() string { return o.grader.Model() }

// GradeAll grades every answer of the submission, strictly in index order,
// one external call per question. The first failure aborts the remaining
// questions and is returned as a *GradingError.
func (o *Orchestrator) GradeAll(ctx context.Context, sub model.Submission) ([]model.FeedbackItem, error) {
	n := o.guidelines.Len()
	items := make([]model.FeedbackItem, 0, n)
	for i := 0; i < n; i++ {
		g := o.guidelines.Guideline(i)
		raw, err := o.grader.Grade(ctx, g, sub.Answers[i])
		if err != nil {
			return nil, &GradingError{Index: i, Kind: KindCallFailed, Err: err}
		}
		item, err := feedback.Parse(raw, g, o.grader.Model())
		if err != nil {
			return nil, &GradingError{Index: i, Kind: KindMalformedReply, Err: err}
		}
		items = append(items, item)
	}
	return items, nil
}
