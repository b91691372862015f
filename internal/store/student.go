package store

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/examly/examly/internal/model"

	"github.com/google/uuid"
)

// FindOrCreateStudentByEmail upserts a student keyed by email. The email is
// normalized to lower case; an existing student keeps their stored name.
func (s *Store) FindOrCreateStudentByEmail(email, name string) (model.Student, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var student model.Student
	err := s.db.QueryRow(
		`SELECT id, name, email, created_at FROM students WHERE email = ?`, email,
	).Scan(&student.ID, &student.Name, &student.Email, &student.CreatedAt)
	if err == nil {
		return student, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Student{}, err
	}

	student = model.Student{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		Email:     email,
		CreatedAt: time.Now(),
	}
	err = s.withRetry("create student", func() error {
		_, err := s.db.Exec(
			`INSERT INTO students (id, name, email, created_at) VALUES (?, ?, ?, ?)`,
			student.ID, student.Name, student.Email, student.CreatedAt,
		)
		return err
	})
	if err != nil {
		return model.Student{}, err
	}
	return student, nil
}
