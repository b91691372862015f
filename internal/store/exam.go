package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/examly/examly/internal/model"

	"github.com/google/uuid"
)

// SaveExam persists an exam and its questions, assigning ids and a share link.
// TotalMarks is recomputed from the questions; the stored value is never trusted.
func (s *Store) SaveExam(exam model.Exam) (model.Exam, error) {
	if exam.ID == "" {
		exam.ID = uuid.NewString()
	}
	if exam.ExamLink == "" {
		exam.ExamLink = newLinkToken()
		exam.LinkActive = true
	}
	if exam.CreatedAt.IsZero() {
		exam.CreatedAt = time.Now()
	}
	exam.TotalMarks = exam.SumMarks()
	for i := range exam.Questions {
		if exam.Questions[i].ID == "" {
			exam.Questions[i].ID = uuid.NewString()
		}
	}

	err := s.withRetry("save exam", func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		_, err = tx.Exec(
			`INSERT INTO exams (id, exam_title, exam_type, duration, total_marks, exam_link, link_active, link_expired_at, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			exam.ID, exam.Title, exam.Type, exam.DurationSeconds, exam.TotalMarks,
			exam.ExamLink, exam.LinkActive, exam.LinkExpiredAt, exam.CreatedAt,
		)
		if err != nil {
			return err
		}
		for i, q := range exam.Questions {
			opts, err := json.Marshal(q.Options)
			if err != nil {
				return err
			}
			_, err = tx.Exec(
				`INSERT INTO questions (id, exam_id, position, question_number, kind, text, options, answer, marks)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				q.ID, exam.ID, i, q.Number, q.Kind, q.Text, string(opts), q.ReferenceAnswer, q.MaxMarks,
			)
			if err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return model.Exam{}, err
	}
	return exam, nil
}

// GetExam returns an exam with its questions in presentation order.
func (s *Store) GetExam(id string) (model.Exam, error) {
	return s.getExamWhere(`id = ?`, id)
}

// GetExamByLink resolves a share link. Inactive or expired links do not resolve.
func (s *Store) GetExamByLink(link string) (model.Exam, error) {
	exam, err := s.getExamWhere(`exam_link = ? AND link_active = 1`, link)
	if err != nil {
		return model.Exam{}, err
	}
	if exam.LinkExpiredAt != nil && time.Now().After(*exam.LinkExpiredAt) {
		return model.Exam{}, model.ErrNotFound
	}
	return exam, nil
}

func (s *Store) getExamWhere(where string, arg any) (model.Exam, error) {
	var exam model.Exam
	var linkExpired sql.NullTime
	err := s.db.QueryRow(
		`SELECT id, exam_title, exam_type, duration, total_marks, exam_link, link_active, link_expired_at, created_at
		 FROM exams WHERE `+where, arg,
	).Scan(&exam.ID, &exam.Title, &exam.Type, &exam.DurationSeconds, &exam.TotalMarks,
		&exam.ExamLink, &exam.LinkActive, &linkExpired, &exam.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Exam{}, model.ErrNotFound
	}
	if err != nil {
		return model.Exam{}, err
	}
	if linkExpired.Valid {
		exam.LinkExpiredAt = &linkExpired.Time
	}

	exam.Questions, err = s.questionsForExam(exam.ID)
	if err != nil {
		return model.Exam{}, err
	}
	return exam, nil
}

func (s *Store) questionsForExam(examID string) ([]model.Question, error) {
	rows, err := s.db.Query(
		`SELECT id, question_number, kind, text, options, answer, marks
		 FROM questions WHERE exam_id = ? ORDER BY position`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		var opts string
		if err := rows.Scan(&q.ID, &q.Number, &q.Kind, &q.Text, &opts, &q.ReferenceAnswer, &q.MaxMarks); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(opts), &q.Options); err != nil {
			return nil, fmt.Errorf("decode options for question %s: %w", q.ID, err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// ListExams returns all exams, newest first, without question bodies.
func (s *Store) ListExams() ([]model.Exam, error) {
	rows, err := s.db.Query(
		`SELECT id, exam_title, exam_type, duration, total_marks, exam_link, link_active, link_expired_at, created_at
		 FROM exams ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		var exam model.Exam
		var linkExpired sql.NullTime
		if err := rows.Scan(&exam.ID, &exam.Title, &exam.Type, &exam.DurationSeconds, &exam.TotalMarks,
			&exam.ExamLink, &exam.LinkActive, &linkExpired, &exam.CreatedAt); err != nil {
			return nil, err
		}
		if linkExpired.Valid {
			exam.LinkExpiredAt = &linkExpired.Time
		}
		exams = append(exams, exam)
	}
	return exams, rows.Err()
}

// DeleteExam removes an exam, its questions, and every session referencing it.
// The cascade is explicit rather than a schema-level assumption.
func (s *Store) DeleteExam(id string) error {
	return s.withRetry("delete exam", func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		res, err := tx.Exec(`DELETE FROM exams WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return model.ErrNotFound
		}
		if _, err := tx.Exec(`DELETE FROM questions WHERE exam_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(
			`DELETE FROM answers WHERE session_id IN (SELECT id FROM exam_sessions WHERE exam_id = ?)`, id,
		); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM exam_sessions WHERE exam_id = ?`, id); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// DeactivateExamLink turns off an exam's share link.
func (s *Store) DeactivateExamLink(examID string) error {
	return s.withRetry("deactivate exam link", func() error {
		res, err := s.db.Exec(
			`UPDATE exams SET link_active = 0, link_expired_at = ? WHERE id = ?`,
			time.Now(), examID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return model.ErrNotFound
		}
		return nil
	})
}

func newLinkToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
