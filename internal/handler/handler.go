// Package handler exposes the submission workflow as a JSON API. The form
// UI is an external collaborator; every user-visible message here goes
// through the i18n bundle.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"scigrader/internal/i18n"
	"scigrader/internal/model"
	"scigrader/internal/store"
	"scigrader/internal/workflow"
)

const sessionCookie = "scigrader_session"

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store     *store.Store
	sessions  *workflow.Registry
	orch      *workflow.Orchestrator
	questions []string
	config    model.ServerConfig
}

// New creates a new Handler.
func New(s *store.Store, sessions *workflow.Registry, orch *workflow.Orchestrator, questions []string, cfg model.ServerConfig) *Handler {
	return &Handler{
		store:     s,
		sessions:  sessions,
		orch:      orch,
		questions: questions,
		config:    cfg,
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Get("/questions", h.handleQuestions)
	r.Post("/session", h.handleBeginSession)
	r.Post("/submit", h.handleSubmit)
	r.Post("/grade", h.handleGrade)
	r.Get("/result", h.handleResult)
	r.Get("/records", h.handleRecords)
}

type submitRequest struct {
	StudentID string   `json:"student_id"`
	Answers   []string `json:"answers"`
}

type feedbackView struct {
	Verdict     string `json:"verdict"`
	Explanation string `json:"explanation"`
	Line        string `json:"line"`
}

type gradeResponse struct {
	Status   model.WorkflowStatus `json:"status"`
	Feedback []feedbackView       `json:"feedback,omitempty"`
	Notice   string               `json:"notice,omitempty"`
	Message  string               `json:"message,omitempty"`
	Missing  []int                `json:"missing,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleQuestions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(h.questions),
		"questions": h.questions,
	})
}

func (h *Handler) handleBeginSession(w http.ResponseWriter, _ *http.Request) {
	sess := h.sessions.Begin()
	h.setSessionCookie(w, sess.ID())
	writeJSON(w, http.StatusCreated, gradeResponse{Status: sess.Status()})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, gradeResponse{Message: i18n.T(r.Context(), "bad_request")})
		return
	}

	sess := h.session(r)
	if sess == nil {
		sess = h.sessions.Begin()
		h.setSessionCookie(w, sess.ID())
	}

	res, err := sess.Submit(req.StudentID, req.Answers, h.config.NumQuestions)
	if errors.Is(err, workflow.ErrSubmissionClosed) {
		writeJSON(w, http.StatusConflict, gradeResponse{
			Status:  sess.Status(),
			Message: i18n.T(r.Context(), "submission_closed"),
		})
		return
	}
	if err != nil {
		slog.Error("submit failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, gradeResponse{Message: i18n.T(r.Context(), "bad_request")})
		return
	}

	if !res.Valid {
		writeJSON(w, http.StatusUnprocessableEntity, gradeResponse{
			Status:  sess.Status(),
			Missing: res.Missing,
			Message: h.missingMessage(r, res.Missing),
		})
		return
	}
	writeJSON(w, http.StatusOK, gradeResponse{Status: sess.Status()})
}

func (h *Handler) handleGrade(w http.ResponseWriter, r *http.Request) {
	sess := h.session(r)
	if sess == nil {
		writeJSON(w, http.StatusConflict, gradeResponse{Message: i18n.T(r.Context(), "not_validated")})
		return
	}

	out, err := sess.Grade(r.Context(), h.orch, h.store, time.Now)
	if err != nil {
		h.writeGradeError(w, r, sess, err)
		return
	}

	if out.Status == model.StatusGrading {
		writeJSON(w, http.StatusAccepted, gradeResponse{
			Status:  out.Status,
			Message: i18n.T(r.Context(), "grading_in_flight"),
		})
		return
	}

	resp := gradeResponse{
		Status:   out.Status,
		Feedback: feedbackViews(out.Feedback),
	}
	if out.PersistFailed {
		resp.Notice = i18n.T(r.Context(), "persist_failed")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeGradeError(w http.ResponseWriter, r *http.Request, sess *workflow.Session, err error) {
	if errors.Is(err, workflow.ErrNotValidated) {
		writeJSON(w, http.StatusConflict, gradeResponse{
			Status:  sess.Status(),
			Message: i18n.T(r.Context(), "not_validated"),
		})
		return
	}

	var ge *workflow.GradingError
	if errors.As(err, &ge) {
		// Malformed replies are logged distinctly for diagnosis but retried
		// the same way as transport failures.
		slog.Error("grading failed",
			"kind", string(ge.Kind), "question", ge.Index, "error", ge.Err)
		writeJSON(w, http.StatusBadGateway, gradeResponse{
			Status:  sess.Status(),
			Message: i18n.T(r.Context(), "grading_failed"),
		})
		return
	}

	slog.Error("grading failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, gradeResponse{
		Status:  sess.Status(),
		Message: i18n.T(r.Context(), "grading_failed"),
	})
}

func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	if sess := h.session(r); sess != nil {
		if out, ok := sess.Result(); ok {
			resp := gradeResponse{Status: out.Status, Feedback: feedbackViews(out.Feedback)}
			if out.PersistFailed {
				resp.Notice = i18n.T(r.Context(), "persist_failed")
			}
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}

	// Session cache is empty (refresh, restart): fall back to the latest
	// persisted record for the student.
	studentID := strings.TrimSpace(r.URL.Query().Get("student_id"))
	if studentID == "" {
		writeJSON(w, http.StatusNotFound, gradeResponse{Message: i18n.T(r.Context(), "no_result")})
		return
	}
	rec, err := h.store.LatestByStudent(r.Context(), studentID)
	if err != nil {
		slog.Error("result lookup failed", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, gradeResponse{Message: i18n.T(r.Context(), "no_result")})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": model.StatusPersisted,
		"record": rec,
	})
}

func (h *Handler) handleRecords(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, gradeResponse{Message: i18n.T(r.Context(), "bad_request")})
		return
	}
	records, err := h.store.ListRecords(r.Context(), f)
	if err != nil {
		slog.Error("list records failed", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(records),
		"records": records,
	})
}

func filterFromQuery(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	var f store.Filter
	if v := q.Get("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return f, err
		}
		f.Since = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return f, err
		}
		// Inclusive end of day.
		f.Until = t.Add(24*time.Hour - time.Nanosecond)
	}
	f.StudentContains = q.Get("student")
	f.ModelContains = q.Get("model")
	f.GradedOnly = q.Get("graded_only") == "true"
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New("invalid limit")
		}
		f.Limit = n
	}
	return f, nil
}

func (h *Handler) session(r *http.Request) *workflow.Session {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil
	}
	return h.sessions.Get(c.Value)
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) missingMessage(r *http.Request, missing []int) string {
	ctx := r.Context()
	names := make([]string, 0, len(missing))
	for _, idx := range missing {
		if idx == 0 {
			names = append(names, i18n.T(ctx, "missing_student_id"))
			continue
		}
		names = append(names, i18n.Td(ctx, "missing_answer", map[string]any{"Index": idx}))
	}
	return i18n.Td(ctx, "missing_fields", map[string]any{"Fields": strings.Join(names, ", ")})
}

func feedbackViews(items []model.FeedbackItem) []feedbackView {
	views := make([]feedbackView, 0, len(items))
	for _, it := range items {
		views = append(views, feedbackView{
			Verdict:     string(it.Verdict),
			Explanation: it.Explanation,
			Line:        it.Line(),
		})
	}
	return views
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
