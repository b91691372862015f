// Package parser converts teacher-authored freeform text blocks into structured
// exam questions.
package parser

import (
	"regexp"
	"strings"

	"github.com/examly/examly/internal/model"
)

var (
	questionRegex = regexp.MustCompile(`^(\d+)\.\s*(.+)`)
	optionRegex   = regexp.MustCompile(`^[A-D][\.\)]\s*(.+)`)
	correctRegex  = regexp.MustCompile(`(?i)\(?Correct:\s*([A-D])\)?`)
)

// ShortReferenceAnswer is the placeholder reference for parsed short-answer
// questions. No answer key is supplied inline; the evaluator reasons about the
// question text itself rather than comparing to this string verbatim.
const ShortReferenceAnswer = "Expected answer based on course material"

// ParseMCQ parses a freeform multiple-choice block. A numbered line starts a
// question, lettered lines add options, and a "(Correct: X)" marker selects the
// reference answer. Questions that never collect four options are dropped.
func ParseMCQ(content string, defaultMarks int) ([]model.Question, error) {
	if defaultMarks <= 0 {
		return nil, &model.ValidationError{Field: "marks", Msg: "marks must be a positive number"}
	}

	var questions []model.Question
	var currentText string
	var options []string
	var correctAnswer string

	finalize := func() {
		if currentText == "" || len(options) < model.MCQOptionCount {
			return
		}
		answer := correctAnswer
		if answer == "" {
			answer = options[0]
		}
		questions = append(questions, model.Question{
			Number:          len(questions) + 1,
			Kind:            model.KindMCQ,
			Text:            currentText,
			Options:         options[:model.MCQOptionCount],
			ReferenceAnswer: answer,
			MaxMarks:        defaultMarks,
		})
	}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if m := questionRegex.FindStringSubmatch(line); m != nil {
			finalize()
			currentText = m[2]
			options = nil
			correctAnswer = ""
			continue
		}
		if m := optionRegex.FindStringSubmatch(line); m != nil {
			options = append(options, strings.TrimSpace(m[1]))
			continue
		}
		if m := correctRegex.FindStringSubmatch(line); m != nil && len(options) > 0 {
			idx := int(strings.ToUpper(m[1])[0] - 'A')
			if idx >= 0 && idx < len(options) {
				correctAnswer = options[idx]
			} else {
				correctAnswer = options[0]
			}
		}
	}
	finalize()

	if len(questions) == 0 {
		return nil, &model.ValidationError{Field: "mcqContent", Msg: "no valid questions found"}
	}
	return questions, nil
}

// ParseShort parses a freeform short-answer block: each numbered line becomes one
// question. The reference answer is a fixed placeholder since no key is supplied.
func ParseShort(content string, defaultMarks int) ([]model.Question, error) {
	if defaultMarks <= 0 {
		return nil, &model.ValidationError{Field: "marks", Msg: "marks must be a positive number"}
	}

	var questions []model.Question
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := questionRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		questions = append(questions, model.Question{
			Number:          len(questions) + 1,
			Kind:            model.KindShort,
			Text:            m[2],
			ReferenceAnswer: ShortReferenceAnswer,
			MaxMarks:        defaultMarks,
		})
	}

	if len(questions) == 0 {
		return nil, &model.ValidationError{Field: "shortContent", Msg: "no valid questions found"}
	}
	return questions, nil
}
