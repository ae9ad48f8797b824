// Package validate checks candidate submissions for completeness before any
// grading call is allowed.
package validate

import (
	"strings"

	"scigrader/internal/model"
)

// Check validates a candidate submission against the configured question
// count n. Every field is trimmed before the emptiness check. The returned
// result names failing field indices: 0 for the student id, 1..n for the
// answers. A candidate with the wrong number of answers is reported as
// invalid on all indices rather than rejected with an error.
func Check(studentID string, answers []string, n int) model.ValidationResult {
	if len(answers) != n {
		missing := make([]int, 0, n+1)
		for i := 0; i <= n; i++ {
			missing = append(missing, i)
		}
		return model.ValidationResult{Valid: false, Missing: missing}
	}

	var missing []int
	if strings.TrimSpace(studentID) == "" {
		missing = append(missing, 0)
	}
	for i, a := range answers {
		if strings.TrimSpace(a) == "" {
			missing = append(missing, i+1)
		}
	}
	if len(missing) > 0 {
		return model.ValidationResult{Valid: false, Missing: missing}
	}

	return model.ValidationResult{
		Valid: true,
		Submission: model.Submission{
			StudentID: strings.TrimSpace(studentID),
			Answers:   answers,
		},
	}
}
