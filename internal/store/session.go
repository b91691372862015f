package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/examly/examly/internal/model"

	"github.com/google/uuid"
)

// CreateSession persists a fresh in-progress session (sequential delivery mode).
func (s *Store) CreateSession(sess model.ExamSession) (model.ExamSession, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	err := s.withRetry("create session", func() error {
		_, err := s.db.Exec(
			`INSERT INTO exam_sessions (id, student_id, exam_id, student_name, student_email, exam_title,
			 status, current_question_index, marks_obtained, total_marks, percentage, started_at,
			 duration_taken, graded_by, grading_method, model_used, confidence)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, sess.StudentID, sess.ExamID, sess.StudentName, sess.StudentEmail, sess.ExamTitle,
			sess.Status, sess.CurrentQuestionIndex, sess.MarksObtained, sess.TotalMarks, sess.Percentage,
			sess.StartedAt, sess.DurationTakenSeconds, sess.GradedBy, sess.GradingMethod,
			sess.GradingMeta.ModelUsed, sess.GradingMeta.Confidence,
		)
		return err
	})
	if err != nil {
		return model.ExamSession{}, err
	}
	return sess, nil
}

// CreateCompletedSession persists an already-graded session and all its answer
// records in a single transaction (batch submission mode). Nothing is left
// half-written on failure.
func (s *Store) CreateCompletedSession(sess model.ExamSession) (model.ExamSession, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	err := s.withRetry("create completed session", func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		_, err = tx.Exec(
			`INSERT INTO exam_sessions (id, student_id, exam_id, student_name, student_email, exam_title,
			 status, current_question_index, marks_obtained, total_marks, percentage, started_at,
			 completed_at, duration_taken, graded_by, grading_method, model_used, confidence)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, sess.StudentID, sess.ExamID, sess.StudentName, sess.StudentEmail, sess.ExamTitle,
			sess.Status, sess.CurrentQuestionIndex, sess.MarksObtained, sess.TotalMarks, sess.Percentage,
			sess.StartedAt, sess.CompletedAt, sess.DurationTakenSeconds, sess.GradedBy, sess.GradingMethod,
			sess.GradingMeta.ModelUsed, sess.GradingMeta.Confidence,
		)
		if err != nil {
			return err
		}
		for i, rec := range sess.Answers {
			if err := insertAnswer(tx, sess.ID, i, rec); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return model.ExamSession{}, err
	}
	return sess, nil
}

// GetSession returns a session with its answer records in question order.
func (s *Store) GetSession(id string) (model.ExamSession, error) {
	var sess model.ExamSession
	var completedAt sql.NullTime
	err := s.db.QueryRow(
		`SELECT id, student_id, exam_id, student_name, student_email, exam_title, status,
		 current_question_index, marks_obtained, total_marks, percentage, started_at, completed_at,
		 duration_taken, graded_by, grading_method, model_used, confidence
		 FROM exam_sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.StudentID, &sess.ExamID, &sess.StudentName, &sess.StudentEmail, &sess.ExamTitle,
		&sess.Status, &sess.CurrentQuestionIndex, &sess.MarksObtained, &sess.TotalMarks, &sess.Percentage,
		&sess.StartedAt, &completedAt, &sess.DurationTakenSeconds, &sess.GradedBy, &sess.GradingMethod,
		&sess.GradingMeta.ModelUsed, &sess.GradingMeta.Confidence)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ExamSession{}, model.ErrNotFound
	}
	if err != nil {
		return model.ExamSession{}, err
	}
	if completedAt.Valid {
		sess.CompletedAt = &completedAt.Time
	}

	sess.Answers, err = s.answersForSession(id)
	if err != nil {
		return model.ExamSession{}, err
	}
	return sess, nil
}

// AppendAnswer records one graded answer and advances the session's question
// index. The update is guarded by the expected index so two concurrent submits
// against the same session cannot both advance; the loser gets a ProtocolError.
func (s *Store) AppendAnswer(sessionID string, expectedIndex int, rec model.AnswerRecord) error {
	return s.withRetry("append answer", func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		res, err := tx.Exec(
			`UPDATE exam_sessions SET current_question_index = current_question_index + 1
			 WHERE id = ? AND status = ? AND current_question_index = ?`,
			sessionID, model.StatusInProgress, expectedIndex,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var status model.SessionStatus
			err := tx.QueryRow(`SELECT status FROM exam_sessions WHERE id = ?`, sessionID).Scan(&status)
			if errors.Is(err, sql.ErrNoRows) {
				return model.ErrNotFound
			}
			if err != nil {
				return err
			}
			if status == model.StatusCompleted {
				return model.ErrSessionCompleted
			}
			return &model.ProtocolError{Msg: "concurrent submission for session " + sessionID}
		}

		if err := insertAnswer(tx, sessionID, expectedIndex, rec); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// CompleteSession transitions an in-progress session to its terminal state with
// final aggregates. Completing an already-completed session is rejected.
func (s *Store) CompleteSession(id string, marksObtained int, percentage float64, completedAt time.Time, durationSeconds int) error {
	return s.withRetry("complete session", func() error {
		res, err := s.db.Exec(
			`UPDATE exam_sessions SET status = ?, marks_obtained = ?, percentage = ?, completed_at = ?, duration_taken = ?
			 WHERE id = ? AND status = ?`,
			model.StatusCompleted, marksObtained, percentage, completedAt, durationSeconds,
			id, model.StatusInProgress,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return model.ErrSessionCompleted
		}
		return nil
	})
}

// ListCompletedSessions returns completed sessions, most recent first.
func (s *Store) ListCompletedSessions(limit int) ([]model.ExamSession, error) {
	return s.listSessions(
		`SELECT id FROM exam_sessions WHERE status = ? ORDER BY completed_at DESC LIMIT ?`,
		model.StatusCompleted, limit,
	)
}

// ListSessionsByExam returns an exam's completed sessions, most recent first.
func (s *Store) ListSessionsByExam(examID string) ([]model.ExamSession, error) {
	return s.listSessions(
		`SELECT id FROM exam_sessions WHERE exam_id = ? AND status = ? ORDER BY completed_at DESC`,
		examID, model.StatusCompleted,
	)
}

func (s *Store) listSessions(query string, args ...any) ([]model.ExamSession, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var sessions []model.ExamSession
	for _, id := range ids {
		sess, err := s.GetSession(id)
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", id, err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func (s *Store) answersForSession(sessionID string) ([]model.AnswerRecord, error) {
	rows, err := s.db.Query(
		`SELECT question_id, question_text, question_type, student_answer, correct_answer,
		 is_correct, marks_obtained, max_marks, feedback, similarity, matched_concepts, suggestions
		 FROM answers WHERE session_id = ? ORDER BY position`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.AnswerRecord
	for rows.Next() {
		var rec model.AnswerRecord
		var concepts string
		if err := rows.Scan(&rec.QuestionID, &rec.QuestionText, &rec.QuestionKind, &rec.StudentAnswer,
			&rec.ReferenceAnswer, &rec.IsCorrect, &rec.MarksObtained, &rec.MaxMarks, &rec.Feedback,
			&rec.Detail.SimilarityScore, &concepts, &rec.Detail.Suggestions); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(concepts), &rec.Detail.MatchedConcepts); err != nil {
			return nil, fmt.Errorf("decode matched concepts for question %s: %w", rec.QuestionID, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func insertAnswer(tx *sql.Tx, sessionID string, position int, rec model.AnswerRecord) error {
	concepts, err := json.Marshal(rec.Detail.MatchedConcepts)
	if err != nil {
		return err
	}
	_, err = tx.Exec(
		`INSERT INTO answers (session_id, position, question_id, question_text, question_type,
		 student_answer, correct_answer, is_correct, marks_obtained, max_marks, feedback,
		 similarity, matched_concepts, suggestions)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, position, rec.QuestionID, rec.QuestionText, rec.QuestionKind,
		rec.StudentAnswer, rec.ReferenceAnswer, rec.IsCorrect, rec.MarksObtained, rec.MaxMarks,
		rec.Feedback, rec.Detail.SimilarityScore, string(concepts), rec.Detail.Suggestions,
	)
	return err
}
