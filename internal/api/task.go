package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/taskforge/internal/engine"
	"github.com/seantiz/taskforge/internal/model"
	"github.com/seantiz/taskforge/internal/store"
)

const (
	maxBodySize      = 1 << 20
	defaultListLimit = 20
	maxListLimit     = 100

	defaultWaitTimeoutS = 30
	maxWaitTimeoutS     = 300
)

type createTaskRequest struct {
	Runner      string          `json:"runner"`
	Name        string          `json:"name,omitempty"`
	Params      json.RawMessage `json:"params,omitempty"`
	Category    string          `json:"category,omitempty"`
	Priority    *model.Priority `json:"priority,omitempty"`
	TimeoutS    *int            `json:"timeout_s,omitempty"`
	Cancellable *bool           `json:"cancellable,omitempty"`
}

type listTasksResponse struct {
	Tasks  []*model.Task `json:"tasks"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

type cleanupTasksRequest struct {
	MaxAgeS int `json:"max_age_s"`
}

type cleanupTasksResponse struct {
	Removed int `json:"removed"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Runner == "" {
		s.writeError(w, http.StatusBadRequest, "runner is required")
		return
	}

	factory, err := s.runners.Resolve(req.Runner)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	body, err := factory(req.Params)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid params: "+err.Error())
		return
	}

	name := req.Name
	if name == "" {
		name = req.Runner
	}
	d := engine.NewDescriptor(name, body)
	if req.Category != "" {
		d.Category = req.Category
	}
	if req.Priority != nil {
		d.Priority = *req.Priority
	}
	if req.TimeoutS != nil {
		d.TimeoutS = *req.TimeoutS
	}
	if req.Cancellable != nil {
		d.Cancellable = *req.Cancellable
	}

	id, err := s.engine.Submit(r.Context(), d)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrInvalidDescriptor):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, engine.ErrQueueFull):
			s.writeError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, engine.ErrEngineShutdown):
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			s.logger.Error("submit task", "runner", req.Runner, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to submit task")
		}
		return
	}

	rec, err := s.engine.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("load submitted task", "task_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	s.writeJSON(w, http.StatusAccepted, rec)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	f := store.ListFilter{
		Status:   r.URL.Query().Get("status"),
		Category: r.URL.Query().Get("category"),
		Limit:    parseIntQuery(r, "limit", defaultListLimit),
		Offset:   parseIntQuery(r, "offset", 0),
	}
	if f.Limit < 1 || f.Limit > maxListLimit {
		f.Limit = defaultListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	tasks, total, err := s.engine.List(r.Context(), f)
	if err != nil {
		s.logger.Error("list tasks", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []*model.Task{}
	}
	s.writeJSON(w, http.StatusOK, listTasksResponse{
		Tasks:  tasks,
		Total:  total,
		Limit:  f.Limit,
		Offset: f.Offset,
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.engine.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "task not found")
			return
		}
		s.logger.Error("get task", "task_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleWaitTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	timeoutS := parseIntQuery(r, "timeout_s", defaultWaitTimeoutS)
	if timeoutS < 1 || timeoutS > maxWaitTimeoutS {
		timeoutS = defaultWaitTimeoutS
	}

	// Long polls may outlive the server-wide write deadline.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	rec, err := s.engine.WaitFor(r.Context(), id, time.Duration(timeoutS)*time.Second)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "task not found")
		case errors.Is(err, engine.ErrWaitTimeout):
			s.writeError(w, http.StatusRequestTimeout, "timed out waiting for task")
		case errors.Is(err, context.Canceled):
			// Client went away; nothing left to write.
		default:
			s.logger.Error("wait for task", "task_id", id, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to wait for task")
		}
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.engine.Cancel(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "task not found")
		case errors.Is(err, engine.ErrNotCancellable):
			s.writeError(w, http.StatusConflict, "task is not cancellable")
		default:
			s.logger.Error("cancel task", "task_id", id, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to cancel task")
		}
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCleanupTasks(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	// An empty body means "remove every finished task".
	var req cleanupTasksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.MaxAgeS < 0 {
		s.writeError(w, http.StatusBadRequest, "max_age_s must not be negative")
		return
	}

	removed, err := s.engine.Cleanup(r.Context(), time.Duration(req.MaxAgeS)*time.Second)
	if err != nil {
		s.logger.Error("cleanup tasks", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to clean up tasks")
		return
	}
	s.writeJSON(w, http.StatusOK, cleanupTasksResponse{Removed: removed})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func parseIntQuery(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
