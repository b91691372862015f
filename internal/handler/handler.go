// Package handler exposes the exam platform as a JSON API.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/examly/examly/internal/model"
	"github.com/examly/examly/internal/parser"
	"github.com/examly/examly/internal/session"
	"github.com/examly/examly/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store     *store.Store
	sessions  *session.Service
	validate  *validator.Validate
	modelName string
}

// New creates a new Handler.
func New(st *store.Store, sessions *session.Service, modelName string) *Handler {
	return &Handler{
		store:     st,
		sessions:  sessions,
		validate:  validator.New(),
		modelName: modelName,
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/structure-quiz", h.handleStructureQuiz)
	r.Get("/api/quizzes", h.handleListQuizzes)
	r.Get("/api/quizzes/{examID}", h.handleGetQuiz)
	r.Delete("/api/quizzes/{examID}", h.handleDeleteQuiz)
	r.Post("/api/quizzes/{examID}/link/deactivate", h.handleDeactivateLink)
	r.Get("/api/exam/link/{link}", h.handleGetQuizByLink)

	r.Post("/api/student/start-exam", h.handleStartExam)
	r.Post("/api/student/submit-answer", h.handleSubmitAnswer)
	r.Post("/api/student/submit-exam", h.handleSubmitExam)

	r.Get("/api/teacher/all-results", h.handleAllResults)
	r.Get("/api/teacher/exam/{examID}/results", h.handleExamResults)

	r.Get("/api/health", h.handleHealth)
}

type structureQuizRequest struct {
	ExamTitle    string `json:"examTitle" validate:"required"`
	ExamType     string `json:"examType" validate:"required,oneof=MCQ Short Mixed"`
	Duration     int    `json:"duration" validate:"required,gt=0"`
	MCQContent   string `json:"mcqContent"`
	ShortContent string `json:"shortContent"`
	MCQMarks     int    `json:"mcqMarks"`
	ShortMarks   int    `json:"shortMarks"`
}

func (h *Handler) handleStructureQuiz(w http.ResponseWriter, r *http.Request) {
	var req structureQuizRequest
	if !h.decode(w, r, &req) {
		return
	}

	var questions []model.Question
	if hasContent(req.MCQContent) {
		mcq, err := parser.ParseMCQ(req.MCQContent, req.MCQMarks)
		if err != nil {
			h.fail(w, err)
			return
		}
		questions = append(questions, mcq...)
	}
	if hasContent(req.ShortContent) {
		short, err := parser.ParseShort(req.ShortContent, req.ShortMarks)
		if err != nil {
			h.fail(w, err)
			return
		}
		questions = append(questions, short...)
	}

	exam := model.Exam{
		Title:           req.ExamTitle,
		Type:            model.ExamType(req.ExamType),
		DurationSeconds: req.Duration,
		Questions:       questions,
	}
	if err := exam.Validate(); err != nil {
		h.fail(w, err)
		return
	}

	saved, err := h.store.SaveExam(exam)
	if err != nil {
		h.fail(w, err)
		return
	}
	slog.Info("exam created", "exam_id", saved.ID, "questions", len(saved.Questions), "total_marks", saved.TotalMarks)
	h.ok(w, struct {
		Data model.Exam `json:"data"`
	}{saved})
}

func (h *Handler) handleListQuizzes(w http.ResponseWriter, r *http.Request) {
	exams, err := h.store.ListExams()
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, struct {
		Data  []model.Exam `json:"data"`
		Count int          `json:"count"`
	}{exams, len(exams)})
}

func (h *Handler) handleGetQuiz(w http.ResponseWriter, r *http.Request) {
	exam, err := h.store.GetExam(chi.URLParam(r, "examID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, struct {
		Data model.Exam `json:"data"`
	}{exam})
}

func (h *Handler) handleGetQuizByLink(w http.ResponseWriter, r *http.Request) {
	exam, err := h.store.GetExamByLink(chi.URLParam(r, "link"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, struct {
		Data model.Exam `json:"data"`
	}{exam})
}

func (h *Handler) handleDeleteQuiz(w http.ResponseWriter, r *http.Request) {
	examID := chi.URLParam(r, "examID")
	if err := h.store.DeleteExam(examID); err != nil {
		h.fail(w, err)
		return
	}
	slog.Info("exam deleted", "exam_id", examID)
	h.ok(w, struct {
		Message string `json:"message"`
	}{"Exam and all related sessions deleted successfully"})
}

func (h *Handler) handleDeactivateLink(w http.ResponseWriter, r *http.Request) {
	examID := chi.URLParam(r, "examID")
	if err := h.store.DeactivateExamLink(examID); err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, struct {
		Message string `json:"message"`
	}{"Exam link deactivated"})
}

type startExamRequest struct {
	StudentName  string `json:"student_name" validate:"required"`
	StudentEmail string `json:"student_email" validate:"required,email"`
	ExamID       string `json:"exam_id" validate:"required"`
}

func (h *Handler) handleStartExam(w http.ResponseWriter, r *http.Request) {
	var req startExamRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.sessions.Start(r.Context(), req.StudentName, req.StudentEmail, req.ExamID)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, res)
}

type submitAnswerRequest struct {
	SessionID  string `json:"session_id" validate:"required"`
	QuestionID string `json:"question_id" validate:"required"`
	Answer     string `json:"answer"`
}

func (h *Handler) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req submitAnswerRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.sessions.SubmitAnswer(r.Context(), req.SessionID, req.QuestionID, req.Answer)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, res)
}

type submitExamRequest struct {
	StudentName   string            `json:"student_name" validate:"required"`
	StudentEmail  string            `json:"student_email" validate:"required,email"`
	ExamID        string            `json:"exam_id" validate:"required"`
	Answers       map[string]string `json:"answers"`
	DurationTaken int               `json:"duration_taken" validate:"gte=0"`
}

func (h *Handler) handleSubmitExam(w http.ResponseWriter, r *http.Request) {
	var req submitExamRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.sessions.SubmitExam(r.Context(), req.StudentName, req.StudentEmail, req.ExamID, req.Answers, req.DurationTaken)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, res)
}

const allResultsLimit = 100

func (h *Handler) handleAllResults(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListCompletedSessions(allResultsLimit)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, struct {
		Data []model.ExamSession `json:"data"`
	}{sessions})
}

func (h *Handler) handleExamResults(w http.ResponseWriter, r *http.Request) {
	examID := chi.URLParam(r, "examID")
	exam, err := h.store.GetExam(examID)
	if err != nil {
		h.fail(w, err)
		return
	}
	sessions, err := h.store.ListSessionsByExam(examID)
	if err != nil {
		h.fail(w, err)
		return
	}
	type examResults struct {
		Exam     model.Exam          `json:"exam"`
		Sessions []model.ExamSession `json:"sessions"`
	}
	h.ok(w, struct {
		Data examResults `json:"data"`
	}{examResults{exam, sessions}})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.ok(w, struct {
		Model       string `json:"llm_model"`
		DBConnected bool   `json:"database_connected"`
	}{h.modelName, h.store.Ping() == nil})
}

// decode parses and validates a JSON request body, writing the error response
// itself when the body is unusable.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.fail(w, &model.ValidationError{Msg: "invalid JSON body: " + err.Error()})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			h.fail(w, &model.ValidationError{Field: verrs[0].Field(), Msg: "failed " + verrs[0].Tag() + " validation"})
		} else {
			h.fail(w, &model.ValidationError{Msg: err.Error()})
		}
		return false
	}
	return true
}

func (h *Handler) ok(w http.ResponseWriter, payload any) {
	writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var ve *model.ValidationError
	var pe *model.ProtocolError
	switch {
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &ve), errors.As(err, &pe), errors.Is(err, model.ErrSessionCompleted):
		status = http.StatusBadRequest
	default:
		slog.Error("request failed", "error", err)
	}
	writeErrorJSON(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	body := map[string]any{"success": true}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			writeErrorJSON(w, http.StatusInternalServerError, "encode response: "+err.Error())
			return
		}
		fields := map[string]any{}
		if err := json.Unmarshal(raw, &fields); err != nil {
			writeErrorJSON(w, http.StatusInternalServerError, "encode response: "+err.Error())
			return
		}
		for k, v := range fields {
			body[k] = v
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("write response", "error", err)
	}
}

func writeErrorJSON(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}

func hasContent(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\n' && r != '\r' && r != '\t' {
			return true
		}
	}
	return false
}
