package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/examly/examly/internal/grader"
	"github.com/examly/examly/internal/llm"
	"github.com/examly/examly/internal/session"
	"github.com/examly/examly/internal/store"
)

type stubEvaluator struct {
	similarity float64
}

func (s *stubEvaluator) Evaluate(ctx context.Context, studentAnswer, referenceAnswer, questionText string) (*llm.Evaluation, error) {
	return &llm.Evaluation{Similarity: s.similarity, Feedback: "ok", Confidence: 0.9}, nil
}

func newTestRouter(t *testing.T) (*chi.Mux, *store.Store) {
	t.Helper()
	st, err := store.New(":memory:", store.RetryPolicy{MaxAttempts: 1})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	eng := grader.New(&stubEvaluator{similarity: 0.8})
	svc := session.New(st, eng, "test-model")
	h := New(st, svc, "test-model")

	r := chi.NewRouter()
	h.Routes(r)
	return r, st
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var parsed map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec, parsed
}

const mcqBlock = `1. What is 2+2?
A. 3
B. 4
C. 5
D. 6
(Correct: B)`

func TestStructureQuizAndCatalog(t *testing.T) {
	r, _ := newTestRouter(t)

	rec, resp := doJSON(t, r, http.MethodPost, "/api/structure-quiz", map[string]any{
		"examTitle":  "Arithmetic",
		"examType":   "MCQ",
		"duration":   600,
		"mcqContent": mcqBlock,
		"mcqMarks":   2,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("structure-quiz status = %d, body %s", rec.Code, rec.Body.String())
	}
	data, ok := resp["data"].(map[string]any)
	if !ok {
		t.Fatalf("missing data object in %v", resp)
	}
	if data["total_marks"].(float64) != 2 {
		t.Errorf("total_marks = %v, want 2", data["total_marks"])
	}
	examID := data["_id"].(string)
	link := data["examLink"].(string)

	rec, resp = doJSON(t, r, http.MethodGet, "/api/quizzes", nil)
	if rec.Code != http.StatusOK || resp["count"].(float64) != 1 {
		t.Fatalf("list quizzes: status %d resp %v", rec.Code, resp)
	}

	rec, _ = doJSON(t, r, http.MethodGet, "/api/exam/link/"+link, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get by link status = %d", rec.Code)
	}

	rec, _ = doJSON(t, r, http.MethodPost, "/api/quizzes/"+examID+"/link/deactivate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("deactivate link status = %d", rec.Code)
	}
	rec, _ = doJSON(t, r, http.MethodGet, "/api/exam/link/"+link, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("deactivated link status = %d, want 404", rec.Code)
	}
}

func TestStructureQuizRejectsEmptyContent(t *testing.T) {
	r, _ := newTestRouter(t)

	rec, resp := doJSON(t, r, http.MethodPost, "/api/structure-quiz", map[string]any{
		"examTitle":  "Empty",
		"examType":   "MCQ",
		"duration":   600,
		"mcqContent": "no questions in here",
		"mcqMarks":   2,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if resp["success"].(bool) {
		t.Error("success should be false")
	}
}

func TestStartExamValidation(t *testing.T) {
	r, _ := newTestRouter(t)

	rec, resp := doJSON(t, r, http.MethodPost, "/api/student/start-exam", map[string]any{
		"student_name":  "Ada",
		"student_email": "not-an-email",
		"exam_id":       "whatever",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	msg, _ := resp["error"].(string)
	if !strings.Contains(msg, "email") {
		t.Errorf("error = %q, want mention of email", msg)
	}
}

func TestSequentialFlowOverHTTP(t *testing.T) {
	r, _ := newTestRouter(t)

	_, resp := doJSON(t, r, http.MethodPost, "/api/structure-quiz", map[string]any{
		"examTitle":  "Arithmetic",
		"examType":   "MCQ",
		"duration":   600,
		"mcqContent": mcqBlock,
		"mcqMarks":   2,
	})
	examID := resp["data"].(map[string]any)["_id"].(string)

	rec, resp := doJSON(t, r, http.MethodPost, "/api/student/start-exam", map[string]any{
		"student_name":  "Ada",
		"student_email": "ada@example.com",
		"exam_id":       examID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("start-exam status = %d, body %v", rec.Code, resp)
	}
	sessionID := resp["session_id"].(string)
	question := resp["question"].(map[string]any)
	if _, leaked := question["answer"]; leaked {
		t.Error("question view must not expose the answer")
	}

	rec, resp = doJSON(t, r, http.MethodPost, "/api/student/submit-answer", map[string]any{
		"session_id":  sessionID,
		"question_id": question["question_id"],
		"answer":      "4",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("submit-answer status = %d, body %v", rec.Code, resp)
	}
	if !resp["completed"].(bool) {
		t.Error("single-question exam should complete after one answer")
	}
	if resp["marks_obtained"].(float64) != 2 {
		t.Errorf("marks_obtained = %v, want 2", resp["marks_obtained"])
	}

	rec, _ = doJSON(t, r, http.MethodPost, "/api/student/submit-answer", map[string]any{
		"session_id":  sessionID,
		"question_id": question["question_id"],
		"answer":      "4",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("submit after completion status = %d, want 400", rec.Code)
	}

	rec, resp = doJSON(t, r, http.MethodGet, "/api/teacher/exam/"+examID+"/results", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("exam results status = %d", rec.Code)
	}
	sessions := resp["data"].(map[string]any)["sessions"].([]any)
	if len(sessions) != 1 {
		t.Errorf("sessions = %d, want 1", len(sessions))
	}
}

func TestDeleteQuizNotFound(t *testing.T) {
	r, _ := newTestRouter(t)
	rec, _ := doJSON(t, r, http.MethodDelete, "/api/quizzes/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t)
	rec, resp := doJSON(t, r, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	if resp["llm_model"] != "test-model" || resp["database_connected"] != true {
		t.Errorf("health resp = %v", resp)
	}
}

func TestZeroScoreCompletionKeepsAggregateFields(t *testing.T) {
	r, _ := newTestRouter(t)

	_, resp := doJSON(t, r, http.MethodPost, "/api/structure-quiz", map[string]any{
		"examTitle":  "Arithmetic",
		"examType":   "MCQ",
		"duration":   600,
		"mcqContent": mcqBlock,
		"mcqMarks":   2,
	})
	examID := resp["data"].(map[string]any)["_id"].(string)

	_, resp = doJSON(t, r, http.MethodPost, "/api/student/start-exam", map[string]any{
		"student_name":  "Bea",
		"student_email": "bea@example.com",
		"exam_id":       examID,
	})
	sessionID := resp["session_id"].(string)
	questionID := resp["question"].(map[string]any)["question_id"]

	rec, resp := doJSON(t, r, http.MethodPost, "/api/student/submit-answer", map[string]any{
		"session_id":  sessionID,
		"question_id": questionID,
		"answer":      "7",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("submit-answer status = %d, body %v", rec.Code, resp)
	}
	if !resp["completed"].(bool) {
		t.Fatal("exam should be completed")
	}
	// A zero score is still a score: the aggregate fields must be present.
	for _, key := range []string{"marks_obtained", "percentage", "total_marks"} {
		if _, ok := resp[key]; !ok {
			t.Errorf("completed response missing %q: %v", key, resp)
		}
	}
	if resp["marks_obtained"].(float64) != 0 || resp["percentage"].(float64) != 0 {
		t.Errorf("wrong answer should score zero, got %v", resp)
	}
}
