package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"chatreminder/internal/domain"
	"chatreminder/internal/tasks"
)

type TaskService interface {
	ListByRecipient(ctx context.Context, phone string) ([]tasks.TaskView, error)
	Get(ctx context.Context, id string) (tasks.TaskView, error)
	Create(ctx context.Context, in domain.TaskInput) (domain.Task, error)
	Update(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error)
	Delete(ctx context.Context, id string) error
	Logs(ctx context.Context, q domain.LogQuery) (domain.LogPage, error)
}

type Server struct {
	svc TaskService
}

func NewServer(svc TaskService) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger, middleware.Recoverer)

	s := &Server{svc: svc}

	r.Get("/health", s.health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/tasks", s.listTasks)
		r.Post("/tasks", s.createTask)
		r.Get("/tasks/{id}", s.getTask)
		r.Put("/tasks/{id}", s.updateTask)
		r.Delete("/tasks/{id}", s.deleteTask)
		r.Get("/logs", s.listLogs)
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

type failure struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type taskList struct {
	Tasks      []tasks.TaskView `json:"tasks"`
	TotalTasks int              `json:"totalTasks"`
	Phone      string           `json:"phone"`
	Timestamp  string           `json:"timestamp"`
}

type logList struct {
	domain.LogPage
	Timestamp string `json:"timestamp"`
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	phone := r.URL.Query().Get("phone")
	views, err := s.svc.ListByRecipient(r.Context(), phone)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, taskList{
		Tasks:      views,
		TotalTasks: len(views),
		Phone:      phone,
		Timestamp:  stamp(),
	})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	v, err := s.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, v)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var in domain.TaskInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, domain.Invalid("body", err.Error()))
		return
	}
	t, err := s.svc.Create(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, t)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	var patch domain.TaskPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, domain.Invalid("body", err.Error()))
		return
	}
	t, err := s.svc.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, t)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	q := domain.LogQuery{
		Keyword:   qs.Get("keyword"),
		Operation: domain.Operation(qs.Get("operation")),
	}
	var err error
	if q.Limit, err = intParam(qs.Get("limit"), domain.DefaultLogLimit); err != nil {
		writeError(w, domain.Invalid("limit", "must be an integer"))
		return
	}
	if q.Offset, err = intParam(qs.Get("offset"), 0); err != nil {
		writeError(w, domain.Invalid("offset", "must be an integer"))
		return
	}

	page, err := s.svc.Logs(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, logList{LogPage: page, Timestamp: stamp()})
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func stamp() string { return time.Now().UTC().Format(time.RFC3339) }

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Code: http.StatusOK, Message: "success", Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	var (
		ve   *domain.ValidationError
		code = http.StatusInternalServerError
		kind = "internal error"
	)
	switch {
	case errors.As(err, &ve):
		code, kind = http.StatusBadRequest, "invalid request"
	case errors.Is(err, domain.ErrNotFound):
		code, kind = http.StatusNotFound, "task not found"
	default:
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, code, failure{Error: kind, Message: err.Error(), Timestamp: stamp()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
