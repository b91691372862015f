// Package prompts builds the grading prompts sent to the answer evaluator.
package prompts

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

const maxAnswerRunes = 10000

// SystemPrompt sets the grader persona. The evaluator is deliberately generous:
// a false negative (marking correct understanding wrong) is worse in this domain
// than a false positive.
const SystemPrompt = "You are a lenient and encouraging exam grader. Be generous with marks " +
	"and focus on rewarding understanding rather than penalizing imperfections. Give students " +
	"the benefit of the doubt and provide positive, constructive feedback."

// BuildEvalPrompt builds the user prompt for evaluating one short answer.
func BuildEvalPrompt(studentAnswer, referenceAnswer, questionText string) string {
	var sb strings.Builder
	sb.WriteString("As a lenient and encouraging exam grader, evaluate the student's answer with generosity while providing constructive feedback.\n\n")
	fmt.Fprintf(&sb, "Question: %s\n\n", questionText)
	fmt.Fprintf(&sb, "Expected Answer: %s\n\n", referenceAnswer)
	fmt.Fprintf(&sb, "Student's Answer: %s\n\n", SanitizeAnswer(studentAnswer))

	sb.WriteString("Grading Guidelines - Be Generous:\n")
	sb.WriteString("1. Award full credit if the core concept is understood, even if wording differs\n")
	sb.WriteString("2. Give substantial partial credit for partially correct answers\n")
	sb.WriteString("3. Focus on what the student got right rather than what's missing\n")
	sb.WriteString("4. Accept alternative valid explanations or approaches\n")
	sb.WriteString("5. Don't penalize for minor wording differences or stylistic choices\n")
	sb.WriteString("6. Reward demonstrating understanding even if the answer isn't complete\n\n")

	sb.WriteString("Weight conceptual understanding most, supporting detail next, clarity least.\n\n")

	sb.WriteString("Return only a JSON object with:\n")
	sb.WriteString(`{"similarity": <score between 0 and 1>, "feedback": "<encouraging feedback highlighting what was done well>", "key_concepts_matched": ["concept1", "concept2"], "improvement_suggestions": "<optional gentle suggestions if needed>", "confidence_score": <confidence in evaluation 0-1>}`)
	sb.WriteString("\n")

	return sb.String()
}

// SanitizeAnswer strips prompt-injection markup from a student answer, trims it,
// and truncates overly long submissions.
func SanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
