// Package store persists exams, students, and exam sessions in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/examly/examly/internal/model"

	_ "modernc.org/sqlite"
)

// RetryPolicy controls how persistence writes are retried on transient failures
// such as a locked database. Zero MaxAttempts means a single attempt.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy is used when no policy is supplied.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: 100 * time.Millisecond}

type Store struct {
	db    *sql.DB
	retry RetryPolicy
}

// New opens the database at dbPath and applies migrations.
func New(dbPath string, retry RetryPolicy) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy
	}
	s := &Store{db: db, retry: retry}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports database reachability.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// withRetry runs a write operation under the configured retry policy. Client
// faults are returned immediately; only server-side failures are retried.
func (s *Store) withRetry(op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if model.IsClientFault(err) {
			return err
		}
		if attempt < s.retry.MaxAttempts {
			slog.Warn("store write failed, retrying", "op", op, "attempt", attempt, "error", err)
			time.Sleep(time.Duration(attempt) * s.retry.Backoff)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS exams (
		id TEXT PRIMARY KEY,
		exam_title TEXT NOT NULL,
		exam_type TEXT NOT NULL,
		duration INTEGER NOT NULL,
		total_marks INTEGER NOT NULL,
		exam_link TEXT UNIQUE,
		link_active INTEGER NOT NULL DEFAULT 1,
		link_expired_at DATETIME,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		exam_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		question_number INTEGER NOT NULL,
		kind TEXT NOT NULL,
		text TEXT NOT NULL,
		options TEXT NOT NULL DEFAULT '[]',
		answer TEXT NOT NULL,
		marks INTEGER NOT NULL,
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);

	CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS exam_sessions (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		exam_id TEXT NOT NULL,
		student_name TEXT NOT NULL,
		student_email TEXT NOT NULL,
		exam_title TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'in_progress',
		current_question_index INTEGER NOT NULL DEFAULT 0,
		marks_obtained INTEGER NOT NULL DEFAULT 0,
		total_marks INTEGER NOT NULL DEFAULT 0,
		percentage REAL NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		duration_taken INTEGER NOT NULL DEFAULT 0,
		graded_by TEXT NOT NULL DEFAULT 'AI',
		grading_method TEXT NOT NULL DEFAULT 'openai',
		model_used TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		FOREIGN KEY (student_id) REFERENCES students(id)
	);

	CREATE TABLE IF NOT EXISTS answers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		question_id TEXT NOT NULL,
		question_text TEXT NOT NULL,
		question_type TEXT NOT NULL,
		student_answer TEXT NOT NULL DEFAULT '',
		correct_answer TEXT NOT NULL DEFAULT '',
		is_correct INTEGER NOT NULL DEFAULT 0,
		marks_obtained INTEGER NOT NULL DEFAULT 0,
		max_marks INTEGER NOT NULL DEFAULT 0,
		feedback TEXT NOT NULL DEFAULT '',
		similarity REAL NOT NULL DEFAULT 0,
		matched_concepts TEXT NOT NULL DEFAULT '[]',
		suggestions TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (session_id) REFERENCES exam_sessions(id)
	);

	CREATE INDEX IF NOT EXISTS idx_questions_exam ON questions(exam_id, position);
	CREATE INDEX IF NOT EXISTS idx_sessions_exam ON exam_sessions(exam_id, completed_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_email ON exam_sessions(student_email);
	CREATE INDEX IF NOT EXISTS idx_answers_session ON answers(session_id, position);
	`
	_, err := s.db.Exec(schema)
	return err
}
