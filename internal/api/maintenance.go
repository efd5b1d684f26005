package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/imghost/abuseguard/internal/logic/ratelimit"
	"github.com/imghost/abuseguard/internal/middleware"
	"github.com/imghost/abuseguard/internal/models"
)

// PurgeHandler handles POST /v1/maintenance/purge, deleting rate-limit
// counters older than the configured retention.
func (s *Server) PurgeHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "/v1/maintenance/purge"
	const method = "POST"

	if s.Counters == nil {
		writeError(w, http.StatusServiceUnavailable, "counter store unavailable")
		s.observe(endpoint, method, http.StatusServiceUnavailable, start)
		return
	}
	n, err := ratelimit.Purge(r.Context(), s.Counters, s.Config.CounterRetention, time.Now(), s.Metrics)
	if err != nil {
		middleware.LoggerFromRequest(r, s.Logger).Error("purge counters", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
		s.observe(endpoint, method, http.StatusServiceUnavailable, start)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purged": n})
	s.observe(endpoint, method, http.StatusOK, start)
}

// ListFlagsHandler handles GET /v1/flags/{target_id}.
func (s *Server) ListFlagsHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "/v1/flags/{target_id}"
	const method = "GET"

	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}
	if limit == 0 {
		limit = 50
	}
	flags, err := s.Flags.ListContentFlags(r.Context(), mux.Vars(r)["target_id"], limit)
	if err != nil {
		middleware.LoggerFromRequest(r, s.Logger).Error("list content flags", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		s.observe(endpoint, method, http.StatusInternalServerError, start)
		return
	}
	if flags == nil {
		flags = []models.ContentFlag{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"flags": flags})
	s.observe(endpoint, method, http.StatusOK, start)
}
