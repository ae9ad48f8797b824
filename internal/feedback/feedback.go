// Package feedback normalizes raw grading replies into the single-line
// "O/X + explanation" contract.
package feedback

import (
	"strings"

	"scigrader/internal/model"
)

// MaxExplanationRunes bounds the explanation length; longer explanations are
// truncated, not rejected.
const MaxExplanationRunes = 200

// FormatError reports a reply whose first token is not a recognizable verdict.
type FormatError struct {
	Raw string
}

func (e *FormatError) Error() string {
	return "unrecognized verdict in reply: " + snippet(e.Raw)
}

// Parse turns a raw model reply into a FeedbackItem. The first non-whitespace
// token must be O or X; everything after the separator on the first line
// becomes the explanation. Multi-line replies are collapsed to the first line.
func Parse(raw, guideline, modelID string) (model.FeedbackItem, error) {
	line := firstLine(raw)
	if line == "" {
		return model.FeedbackItem{}, &FormatError{Raw: raw}
	}

	var verdict model.Verdict
	switch line[0] {
	case 'O':
		verdict = model.VerdictPass
	case 'X':
		verdict = model.VerdictFail
	default:
		return model.FeedbackItem{}, &FormatError{Raw: raw}
	}

	rest := line[1:]
	if rest != "" && !isSeparator(rune(rest[0])) {
		// "OK", "Xylophone" and the like are not verdicts.
		return model.FeedbackItem{}, &FormatError{Raw: raw}
	}
	explanation := strings.TrimSpace(strings.TrimLeft(rest, ":.,)- \t"))
	explanation = truncateRunes(explanation, MaxExplanationRunes)

	return model.FeedbackItem{
		Verdict:     verdict,
		Explanation: explanation,
		Model:       modelID,
		Guideline:   guideline,
	}, nil
}

func firstLine(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func isSeparator(r rune) bool {
	switch r {
	case ':', '.', ',', ')', '-', ' ', '\t':
		return true
	}
	return false
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func snippet(raw string) string {
	return truncateRunes(firstLine(raw), 40)
}
