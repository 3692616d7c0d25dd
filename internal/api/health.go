package api

import (
	"net/http"

	"github.com/seantiz/taskforge/internal/lifecycle"
)

type healthResponse struct {
	Status   lifecycle.Health   `json:"status"`
	Managers []lifecycle.Status `json:"managers"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	overall := s.managers.OverallHealth()
	code := http.StatusOK
	if overall == lifecycle.HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, healthResponse{
		Status:   overall,
		Managers: s.managers.Statuses(),
	})
}
