package api

import "net/http"

type listRunnersResponse struct {
	Runners []string `json:"runners"`
}

func (s *Server) handleListRunners(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, listRunnersResponse{Runners: s.runners.List()})
}
