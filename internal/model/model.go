package model

import (
	"fmt"
	"time"
)

// QuestionKind discriminates the question variant. Grading dispatches on this tag:
// multiple-choice answers are matched exactly against the reference option, short
// answers go through the AI evaluator.
type QuestionKind string

const (
	// KindMCQ is a multiple-choice question with exactly four options.
	KindMCQ QuestionKind = "MCQ"
	// KindShort is a free-text question graded by similarity.
	KindShort QuestionKind = "Short"
)

// ExamType describes the overall composition of an exam. It is informational;
// grading is always per-question by QuestionKind.
type ExamType string

const (
	ExamTypeMCQ   ExamType = "MCQ"
	ExamTypeShort ExamType = "Short"
	ExamTypeMixed ExamType = "Mixed"
)

// MCQOptionCount is the number of options every multiple-choice question carries.
const MCQOptionCount = 4

// Question is one exam question. For KindMCQ, Options holds exactly four choices
// and ReferenceAnswer equals one of them. For KindShort, Options is empty and
// ReferenceAnswer is a model answer used only as grading context.
type Question struct {
	ID              string       `json:"question_id"`
	Number          int          `json:"question_number"`
	Kind            QuestionKind `json:"type"`
	Text            string       `json:"text"`
	Options         []string     `json:"options"`
	ReferenceAnswer string       `json:"answer"`
	MaxMarks        int          `json:"marks"`
}

// Validate checks the per-variant invariants.
func (q Question) Validate() error {
	if q.Text == "" {
		return &ValidationError{Field: "text", Msg: "question text is required"}
	}
	if q.MaxMarks <= 0 {
		return &ValidationError{Field: "marks", Msg: "marks must be a positive number"}
	}
	switch q.Kind {
	case KindMCQ:
		if len(q.Options) != MCQOptionCount {
			return &ValidationError{Field: "options", Msg: fmt.Sprintf("MCQ requires %d options, got %d", MCQOptionCount, len(q.Options))}
		}
		found := false
		for _, opt := range q.Options {
			if opt == q.ReferenceAnswer {
				found = true
				break
			}
		}
		if !found {
			return &ValidationError{Field: "answer", Msg: "correct answer must be one of the options"}
		}
	case KindShort:
		if len(q.Options) != 0 {
			return &ValidationError{Field: "options", Msg: "short-answer question must not have options"}
		}
		if q.ReferenceAnswer == "" {
			return &ValidationError{Field: "answer", Msg: "reference answer is required"}
		}
	default:
		return &ValidationError{Field: "type", Msg: "unknown question type " + string(q.Kind)}
	}
	return nil
}

// Exam is a teacher-authored question set.
type Exam struct {
	ID              string     `json:"_id"`
	Title           string     `json:"exam_title"`
	Type            ExamType   `json:"exam_type"`
	DurationSeconds int        `json:"duration"`
	TotalMarks      int        `json:"total_marks"`
	Questions       []Question `json:"questions"`
	ExamLink        string     `json:"examLink,omitempty"`
	LinkActive      bool       `json:"linkActive"`
	LinkExpiredAt   *time.Time `json:"linkExpiredAt,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// SumMarks returns the sum of per-question marks. TotalMarks is always recomputed
// from this on save, never stored independently of the questions.
func (e Exam) SumMarks() int {
	total := 0
	for _, q := range e.Questions {
		total += q.MaxMarks
	}
	return total
}

// Validate checks exam-level invariants plus every question.
func (e Exam) Validate() error {
	if e.Title == "" {
		return &ValidationError{Field: "exam_title", Msg: "exam title is required"}
	}
	if e.DurationSeconds <= 0 {
		return &ValidationError{Field: "duration", Msg: "duration must be positive"}
	}
	if len(e.Questions) == 0 {
		return &ValidationError{Field: "questions", Msg: "no valid questions found"}
	}
	for _, q := range e.Questions {
		if err := q.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Student is a directory entry, upserted by email.
type Student struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionStatus is the exam-session lifecycle state. in_progress is initial,
// completed is terminal; there are no other states.
type SessionStatus string

const (
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
)

// GradingDetail carries the qualitative part of a graded answer.
type GradingDetail struct {
	SimilarityScore float64  `json:"similarity_score"`
	MatchedConcepts []string `json:"key_concepts_matched"`
	Suggestions     string   `json:"improvement_suggestions"`
}

// AnswerRecord is one graded question within a session. Created exactly once per
// question per session and immutable thereafter.
type AnswerRecord struct {
	QuestionID      string        `json:"question_id"`
	QuestionText    string        `json:"question_text"`
	QuestionKind    QuestionKind  `json:"question_type"`
	StudentAnswer   string        `json:"student_answer"`
	ReferenceAnswer string        `json:"correct_answer"`
	IsCorrect       bool          `json:"is_correct"`
	MarksObtained   int           `json:"marks_obtained"`
	MaxMarks        int           `json:"max_marks"`
	Feedback        string        `json:"feedback"`
	Detail          GradingDetail `json:"grading_details"`
}

// GradingMetadata records how a session's scores were produced.
type GradingMetadata struct {
	ModelUsed  string  `json:"model_used"`
	Confidence float64 `json:"confidence_score"`
}

// ExamSession is one student's attempt at one exam. Student name, email, and exam
// title are denormalized at start time so historical results survive exam edits.
type ExamSession struct {
	ID                   string          `json:"_id"`
	StudentID            string          `json:"student"`
	ExamID               string          `json:"exam"`
	StudentName          string          `json:"student_name"`
	StudentEmail         string          `json:"student_email"`
	ExamTitle            string          `json:"exam_title"`
	Status               SessionStatus   `json:"status"`
	CurrentQuestionIndex int             `json:"current_question_index"`
	Answers              []AnswerRecord  `json:"answers"`
	MarksObtained        int             `json:"marks_obtained"`
	TotalMarks           int             `json:"total_marks"`
	Percentage           float64         `json:"percentage"`
	StartedAt            time.Time       `json:"started_at"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
	DurationTakenSeconds int             `json:"duration_taken"`
	GradedBy             string          `json:"graded_by"`
	GradingMethod        string          `json:"grading_method"`
	GradingMeta          GradingMetadata `json:"grading_metadata"`
}

// SumObtained returns the sum of per-answer marks.
func (s ExamSession) SumObtained() int {
	total := 0
	for _, a := range s.Answers {
		total += a.MarksObtained
	}
	return total
}

// Percentage computes 100*obtained/total, guarding against a zero total.
func Percentage(obtained, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(obtained) / float64(total)
}
