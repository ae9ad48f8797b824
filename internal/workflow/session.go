package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"scigrader/internal/model"
	"scigrader/internal/validate"
)

// RecordSaver persists a finished record. The save is attempted exactly once
// per record; deduplication is this package's job, not the gateway's.
type RecordSaver interface {
	SaveRecord(ctx context.Context, rec model.GradedRecord) error
}

var (
	// ErrNotValidated rejects a grading trigger without a valid submission.
	ErrNotValidated = errors.New("no validated submission to grade")
	// ErrSubmissionClosed rejects changes while grading is in flight or done.
	ErrSubmissionClosed = errors.New("submission is being graded or already graded")
)

// Session is the per-user workflow state. It lives in memory only; it is a
// cache over the durable record, keyed by a session id and torn down on
// expiry. All transitions hold the mutex; grading calls run outside it.
type Session struct {
	mu sync.Mutex

	id       string
	status   model.WorkflowStatus
	lastSeen time.Time

	submission model.Submission
	missing    []int

	feedback      []model.FeedbackItem
	record        *model.GradedRecord
	persistFailed bool
}

// NewSession creates a session in the empty state.
func NewSession(id string) *Session {
	return &Session{id: id, status: model.StatusEmpty, lastSeen: time.Now()}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Status returns the current workflow status.
func (s *Session) Status() model.WorkflowStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Begin moves an empty session to awaiting-submission. Idempotent for a
// session that already left the empty state.
func (s *Session) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if s.status == model.StatusEmpty {
		s.status = model.StatusAwaiting
	}
}

// Submit validates a candidate submission. On success the submission is
// frozen and the session becomes validated; on failure the session stays
// awaiting with the missing indices recorded. Submitting again before
// grading replaces the previous candidate. Once grading has started the
// submission is closed.
func (s *Session) Submit(studentID string, answers []string, n int) (model.ValidationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	switch s.status {
	case model.StatusGrading, model.StatusGraded, model.StatusPersisted:
		return model.ValidationResult{}, ErrSubmissionClosed
	}

	res := validate.Check(studentID, answers, n)
	if !res.Valid {
		s.status = model.StatusAwaiting
		s.missing = res.Missing
		return res, nil
	}

	s.submission = res.Submission
	s.missing = nil
	s.status = model.StatusValidated
	return res, nil
}

// Outcome is the user-visible result of a grading trigger.
type Outcome struct {
	Status        model.WorkflowStatus
	Feedback      []model.FeedbackItem
	Record        *model.GradedRecord
	PersistFailed bool
}

// Grade runs the guarded grading transition. The status check-and-set under
// the mutex is the single-invocation guarantee: only the caller that moves
// the session from validated to grading issues external calls. A re-trigger
// while grading, graded, or persisted returns the cached outcome and issues
// zero additional calls.
//
// On a grading error the session falls back to awaiting-submission (the
// candidate is kept, nothing partial was written, retry is safe). On grading
// success the record is built and saved once; a save failure leaves the
// session graded with the feedback still visible.
func (s *Session) Grade(ctx context.Context, orch *Orchestrator, saver RecordSaver, now func() time.Time) (Outcome, error) {
	s.mu.Lock()
	s.touch()
	switch s.status {
	case model.StatusEmpty, model.StatusAwaiting:
		s.mu.Unlock()
		return Outcome{}, ErrNotValidated
	case model.StatusGrading, model.StatusGraded, model.StatusPersisted:
		out := s.outcomeLocked()
		s.mu.Unlock()
		return out, nil
	}
	// validated -> grading; this caller owns the external calls.
	s.status = model.StatusGrading
	sub := s.submission
	s.mu.Unlock()

	items, err := orch.GradeAll(ctx, sub)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.status = model.StatusAwaiting
		return Outcome{}, err
	}

	s.feedback = items
	s.status = model.StatusGraded

	rec := model.GradedRecord{
		StudentID: sub.StudentID,
		Answers:   sub.Answers,
		Feedback:  items,
		Model:     orch.Model(),
		CreatedAt: now().UTC(),
	}
	if err := saver.SaveRecord(ctx, rec); err != nil {
		s.persistFailed = true
		out := s.outcomeLocked()
		return out, nil
	}
	s.record = &rec
	s.persistFailed = false
	s.status = model.StatusPersisted
	return s.outcomeLocked(), nil
}

// Result returns the cached outcome for redisplay, or false when the session
// has no graded feedback yet.
func (s *Session) Result() (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if s.feedback == nil {
		return Outcome{Status: s.status}, false
	}
	return s.outcomeLocked(), true
}

// Missing returns the field indices recorded by the last failed validation.
func (s *Session) Missing() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.missing
}

func (s *Session) outcomeLocked() Outcome {
	return Outcome{
		Status:        s.status,
		Feedback:      s.feedback,
		Record:        s.record,
		PersistFailed: s.persistFailed,
	}
}

func (s *Session) touch() { s.lastSeen = time.Now() }

func (s *Session) expired(ttl time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen) > ttl
}
