// Package grader turns student answers into graded answer records.
package grader

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/examly/examly/internal/llm"
	"github.com/examly/examly/internal/model"
)

// PassThreshold is the similarity at or above which a short answer counts as
// correct. Fixed policy, not configurable per question.
const PassThreshold = 0.7

// FallbackFeedback is returned when the evaluator is unavailable and a non-blank
// answer is graded heuristically.
const FallbackFeedback = "Graded without AI due to service error"

const fallbackSimilarity = 0.7

// Evaluator scores a free-text answer. *llm.Client satisfies it; tests inject
// deterministic fakes.
type Evaluator interface {
	Evaluate(ctx context.Context, studentAnswer, referenceAnswer, questionText string) (*llm.Evaluation, error)
}

// Engine grades questions: exact match for MCQ, evaluator-backed similarity for
// short answers. It is the single error boundary for evaluator failures; a
// grading call never fails from the student's perspective.
type Engine struct {
	eval Evaluator
}

// New creates a grading engine.
func New(eval Evaluator) *Engine {
	return &Engine{eval: eval}
}

// GradeQuestion grades a single answer and returns its immutable record.
func (e *Engine) GradeQuestion(ctx context.Context, q model.Question, studentAnswer string) model.AnswerRecord {
	rec := model.AnswerRecord{
		QuestionID:      q.ID,
		QuestionText:    q.Text,
		QuestionKind:    q.Kind,
		StudentAnswer:   studentAnswer,
		ReferenceAnswer: q.ReferenceAnswer,
		MaxMarks:        q.MaxMarks,
	}

	if q.Kind == model.KindMCQ {
		rec.IsCorrect = strings.TrimSpace(studentAnswer) == strings.TrimSpace(q.ReferenceAnswer)
		if rec.IsCorrect {
			rec.MarksObtained = q.MaxMarks
			rec.Feedback = "Correct answer!"
			rec.Detail = model.GradingDetail{SimilarityScore: 1, Suggestions: "Great job!"}
		} else {
			rec.Feedback = "Incorrect answer. Review the topic."
			rec.Detail = model.GradingDetail{Suggestions: "Review the correct answer carefully"}
		}
		return rec
	}

	// Blank submissions never receive credit and never cost an evaluator call.
	if strings.TrimSpace(studentAnswer) == "" {
		rec.Feedback = "No answer provided"
		return rec
	}

	eval, err := e.eval.Evaluate(ctx, studentAnswer, q.ReferenceAnswer, q.Text)
	if err != nil {
		slog.Warn("evaluator unavailable, grading with fallback", "question_id", q.ID, "error", err)
		rec.MarksObtained = int(math.Ceil(fallbackSimilarity * float64(q.MaxMarks)))
		rec.IsCorrect = true
		rec.Feedback = FallbackFeedback
		rec.Detail = model.GradingDetail{
			SimilarityScore: fallbackSimilarity,
			Suggestions:     "Detailed feedback unavailable",
		}
		return rec
	}

	rec.MarksObtained = int(math.Round(eval.Similarity * float64(q.MaxMarks)))
	rec.IsCorrect = eval.Similarity >= PassThreshold
	rec.Feedback = eval.Feedback
	rec.Detail = model.GradingDetail{
		SimilarityScore: eval.Similarity,
		MatchedConcepts: eval.MatchedConcepts,
		Suggestions:     eval.Suggestions,
	}
	return rec
}

// GradeBatch grades every question concurrently and returns the records in
// original question order. answers maps question id to the submitted text; a
// missing entry grades as a blank answer.
func (e *Engine) GradeBatch(ctx context.Context, questions []model.Question, answers map[string]string) []model.AnswerRecord {
	records := make([]model.AnswerRecord, len(questions))

	var wg sync.WaitGroup
	for i, q := range questions {
		wg.Add(1)
		go func(i int, q model.Question) {
			defer wg.Done()
			records[i] = e.GradeQuestion(ctx, q, answers[q.ID])
		}(i, q)
	}
	wg.Wait()

	return records
}
