package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/taskforge/internal/model"
	"github.com/seantiz/taskforge/internal/store"
)

// handleStreamProgress streams a task's progress reports as server-sent
// events. Each report is one `data:` frame of JSON; a final `done` event
// carries the task's terminal status.
func (s *Server) handleStreamProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.engine.Get(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "task not found")
			return
		}
		s.logger.Error("get task", "task_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Streams outlive the server-wide write deadline.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch, unsubscribe := s.engine.Subscribe(id)
	defer unsubscribe()

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case p, open := <-ch:
			if !open {
				// Topic closed: the task reached a terminal status.
				status := "finished"
				if rec, err := s.engine.Get(r.Context(), id); err == nil {
					status = rec.Status
				}
				writeSSEEvent(w, "done", status)
				flusher.Flush()
				return
			}
			if err := writeSSEProgress(w, p); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEProgress(w io.Writer, p model.Progress) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}

func writeSSEEvent(w io.Writer, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
