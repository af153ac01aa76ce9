package api

import (
	"context"
	"net/http"
	"time"
)

// healthCheckTimeout bounds the history database ping.
const healthCheckTimeout = 2 * time.Second

type healthResponse struct {
	Status  string `json:"status"`
	History string `json:"history"`
	Error   string `json:"error,omitempty"`
}

// handleHealthz reports whether the run history database answers. The API
// has nothing to serve without it, so an unreachable database is a 503.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		historyStoreUp.Set(0)
		s.logger.Warn("run history unreachable", "error", err)
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:  "unavailable",
			History: "unreachable",
			Error:   err.Error(),
		})
		return
	}

	historyStoreUp.Set(1)
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", History: "ok"})
}
