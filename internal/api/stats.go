package api

import "net/http"

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		s.logger.Error("collect stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to collect stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}
