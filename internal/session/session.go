// Package session owns the lifecycle of one student's attempt at one exam:
// starting, sequencing through questions, and completing with a final score.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/examly/examly/internal/grader"
	"github.com/examly/examly/internal/model"
	"github.com/examly/examly/internal/store"
)

// QuestionView is what a student sees for one question. It deliberately omits
// the reference answer.
type QuestionView struct {
	QuestionID     string             `json:"question_id"`
	Text           string             `json:"text"`
	Type           model.QuestionKind `json:"type"`
	Options        []string           `json:"options"`
	Index          int                `json:"index"`
	TotalQuestions int                `json:"total_questions"`
}

// AnswerSummary is the student-visible result of one graded answer.
type AnswerSummary struct {
	IsCorrect     bool   `json:"is_correct"`
	MarksObtained int    `json:"marks_obtained"`
	MaxMarks      int    `json:"max_marks"`
	Feedback      string `json:"feedback"`
}

// StartResult is returned when a sequential attempt begins.
type StartResult struct {
	SessionID string       `json:"session_id"`
	Question  QuestionView `json:"question"`
}

// SubmitResult is returned for each answer in sequential mode. Exactly one of
// NextQuestion (still in progress) or the aggregate fields (completed) is
// meaningful.
type SubmitResult struct {
	Completed      bool           `json:"completed"`
	PreviousAnswer *AnswerSummary `json:"previous_answer,omitempty"`
	NextQuestion   *QuestionView  `json:"next_question,omitempty"`
	MarksObtained  int            `json:"marks_obtained"`
	TotalMarks     int            `json:"total_marks"`
	Percentage     float64        `json:"percentage"`
}

// BatchResult is returned for a whole-exam submission.
type BatchResult struct {
	SessionID     string               `json:"session_id"`
	MarksObtained int                  `json:"marks_obtained"`
	TotalMarks    int                  `json:"total_marks"`
	Percentage    float64              `json:"percentage"`
	GradedAnswers []model.AnswerRecord `json:"graded_answers"`
}

// Service drives the exam-session state machine. All collaborators are injected;
// nothing is looked up from ambient state.
type Service struct {
	store     *store.Store
	grader    *grader.Engine
	modelName string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a session service. modelName is recorded in grading metadata.
func New(st *store.Store, g *grader.Engine, modelName string) *Service {
	return &Service{
		store:     st,
		grader:    g,
		modelName: modelName,
		locks:     make(map[string]*sync.Mutex),
	}
}

// lockFor returns the serialization point for one session id. At most one
// mutation per session is in flight; the store's index guard backs this up
// across processes.
func (s *Service) lockFor(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	return l
}

func (s *Service) releaseLock(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, sessionID)
}

// Start begins a sequential attempt: creates an in-progress session at question
// zero and returns the first question.
func (s *Service) Start(ctx context.Context, studentName, studentEmail, examID string) (*StartResult, error) {
	exam, err := s.store.GetExam(examID)
	if err != nil {
		return nil, err
	}
	if len(exam.Questions) == 0 {
		return nil, &model.ValidationError{Field: "exam", Msg: "exam has no questions"}
	}

	student, err := s.store.FindOrCreateStudentByEmail(studentEmail, studentName)
	if err != nil {
		return nil, fmt.Errorf("upsert student: %w", err)
	}

	sess, err := s.store.CreateSession(model.ExamSession{
		StudentID:     student.ID,
		ExamID:        exam.ID,
		StudentName:   studentName,
		StudentEmail:  student.Email,
		ExamTitle:     exam.Title,
		Status:        model.StatusInProgress,
		TotalMarks:    exam.TotalMarks,
		StartedAt:     time.Now(),
		GradedBy:      "AI",
		GradingMethod: "openai",
		GradingMeta:   model.GradingMetadata{ModelUsed: s.modelName, Confidence: 0.9},
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	slog.Info("exam session started", "session_id", sess.ID, "exam_id", exam.ID, "student", student.Email)
	return &StartResult{
		SessionID: sess.ID,
		Question:  questionView(exam, 0),
	}, nil
}

// SubmitAnswer grades the current question and advances the session. The
// submitted question id must match the session's current question; the index
// only ever moves forward.
func (s *Service) SubmitAnswer(ctx context.Context, sessionID, questionID, answer string) (*SubmitResult, error) {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer func() {
		lock.Unlock()
		// Drop the map entry once the submission is done, whatever its
		// outcome. A goroutine already parked on this mutex keeps its own
		// reference, and latecomers who mint a fresh mutex are still caught
		// by the store's index guard.
		s.releaseLock(sessionID)
	}()

	sess, err := s.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == model.StatusCompleted {
		return nil, model.ErrSessionCompleted
	}

	exam, err := s.store.GetExam(sess.ExamID)
	if err != nil {
		return nil, err
	}

	idx := sess.CurrentQuestionIndex
	if idx >= len(exam.Questions) {
		return nil, &model.ProtocolError{Msg: "session has no pending question"}
	}
	current := exam.Questions[idx]
	if current.ID != questionID {
		return nil, &model.ProtocolError{Msg: fmt.Sprintf("question %s is not the current question", questionID)}
	}

	rec := s.grader.GradeQuestion(ctx, current, answer)
	if err := s.store.AppendAnswer(sessionID, idx, rec); err != nil {
		return nil, err
	}

	if idx+1 < len(exam.Questions) {
		next := questionView(exam, idx+1)
		return &SubmitResult{
			Completed:      false,
			PreviousAnswer: summarize(rec),
			NextQuestion:   &next,
		}, nil
	}

	// Last answer accepted: compute the final aggregate from all records.
	sess, err = s.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	marks := sess.SumObtained()
	pct := model.Percentage(marks, exam.TotalMarks)
	now := time.Now()
	duration := int(now.Sub(sess.StartedAt).Seconds())
	if err := s.store.CompleteSession(sessionID, marks, pct, now, duration); err != nil {
		return nil, err
	}

	slog.Info("exam session completed", "session_id", sessionID, "marks", marks, "total", exam.TotalMarks)
	return &SubmitResult{
		Completed:     true,
		MarksObtained: marks,
		TotalMarks:    exam.TotalMarks,
		Percentage:    pct,
	}, nil
}

// SubmitExam grades a whole attempt at once: every question is graded
// concurrently and the session is created directly in its terminal state.
func (s *Service) SubmitExam(ctx context.Context, studentName, studentEmail, examID string, answers map[string]string, durationSeconds int) (*BatchResult, error) {
	exam, err := s.store.GetExam(examID)
	if err != nil {
		return nil, err
	}

	student, err := s.store.FindOrCreateStudentByEmail(studentEmail, studentName)
	if err != nil {
		return nil, fmt.Errorf("upsert student: %w", err)
	}

	records := s.grader.GradeBatch(ctx, exam.Questions, answers)
	marks := 0
	for _, rec := range records {
		marks += rec.MarksObtained
	}
	pct := model.Percentage(marks, exam.TotalMarks)

	now := time.Now()
	sess, err := s.store.CreateCompletedSession(model.ExamSession{
		StudentID:            student.ID,
		ExamID:               exam.ID,
		StudentName:          studentName,
		StudentEmail:         student.Email,
		ExamTitle:            exam.Title,
		Status:               model.StatusCompleted,
		CurrentQuestionIndex: len(exam.Questions),
		Answers:              records,
		MarksObtained:        marks,
		TotalMarks:           exam.TotalMarks,
		Percentage:           pct,
		StartedAt:            now.Add(-time.Duration(durationSeconds) * time.Second),
		CompletedAt:          &now,
		DurationTakenSeconds: durationSeconds,
		GradedBy:             "AI",
		GradingMethod:        "openai",
		GradingMeta:          model.GradingMetadata{ModelUsed: s.modelName, Confidence: 0.9},
	})
	if err != nil {
		return nil, fmt.Errorf("persist graded session: %w", err)
	}

	slog.Info("exam submitted", "session_id", sess.ID, "exam_id", exam.ID,
		"student", student.Email, "marks", marks, "total", exam.TotalMarks)
	return &BatchResult{
		SessionID:     sess.ID,
		MarksObtained: marks,
		TotalMarks:    exam.TotalMarks,
		Percentage:    pct,
		GradedAnswers: records,
	}, nil
}

func questionView(exam model.Exam, idx int) QuestionView {
	q := exam.Questions[idx]
	return QuestionView{
		QuestionID:     q.ID,
		Text:           q.Text,
		Type:           q.Kind,
		Options:        q.Options,
		Index:          idx,
		TotalQuestions: len(exam.Questions),
	}
}

func summarize(rec model.AnswerRecord) *AnswerSummary {
	return &AnswerSummary{
		IsCorrect:     rec.IsCorrect,
		MarksObtained: rec.MarksObtained,
		MaxMarks:      rec.MaxMarks,
		Feedback:      rec.Feedback,
	}
}
