package llm

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// systemPrompt fixes the grading persona and the O/X reply contract.
const systemPrompt = `당신은 친절하지만 정확한 과학 선생님입니다.
학생의 서술형 답안을 채점 기준에 따라 평가합니다.
반드시 한 줄로만 답하세요. 기준을 충족하면 "O: "로, 충족하지 못하면 "X: "로 시작하고,
그 뒤에 짧은 이유를 덧붙이세요. 다른 형식은 사용하지 마세요.`

var (
	answerTagRegex = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemTagRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

const maxAnswerRunes = 4000

// buildUserPrompt assembles the per-question grading request from the
// guideline and the sanitized student answer.
func buildUserPrompt(guideline, answer string) string {
	var sb strings.Builder
	sb.WriteString("[채점 기준]\n")
	sb.WriteString(guideline)
	sb.WriteString("\n\n[학생 답안]\n")
	sb.WriteString(sanitizeAnswer(answer))
	sb.WriteString("\n")
	return sb.String()
}

// sanitizeAnswer strips prompt-injection tag lookalikes and caps runaway
// answer length before the text is embedded in a prompt.
func sanitizeAnswer(answer string) string {
	answer = answerTagRegex.ReplaceAllString(answer, "")
	answer = systemTagRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[답안 없음]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes])
	}

	return answer
}
