package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/imghost/abuseguard/internal/logic/suspension"
	"github.com/imghost/abuseguard/internal/middleware"
	"github.com/imghost/abuseguard/internal/models"
)

// SuspendRequest is the payload of POST /v1/suspensions. An empty Duration
// suspends permanently.
type SuspendRequest struct {
	UserID   string `json:"user_id"`
	Reason   string `json:"reason"`
	Duration string `json:"duration,omitempty"`
}

// SuspendHandler handles POST /v1/suspensions. Only admins may suspend.
func (s *Server) SuspendHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "/v1/suspensions"
	const method = "POST"

	claims, _ := middleware.ReviewerFromContext(r.Context())
	if !claims.CanSuspend() {
		writeError(w, http.StatusForbidden, "admin role required")
		s.observe(endpoint, method, http.StatusForbidden, start)
		return
	}

	var req SuspendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}
	var duration *time.Duration
	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid duration")
			s.observe(endpoint, method, http.StatusBadRequest, start)
			return
		}
		duration = &d
	}

	sus, err := s.Suspensions.Suspend(r.Context(), req.UserID, req.Reason, duration, claims.Subject)
	if err != nil {
		if errors.Is(err, suspension.ErrInvalidSuspension) {
			writeError(w, http.StatusBadRequest, err.Error())
			s.observe(endpoint, method, http.StatusBadRequest, start)
			return
		}
		middleware.LoggerFromRequest(r, s.Logger).Error("suspend user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		s.observe(endpoint, method, http.StatusInternalServerError, start)
		return
	}
	writeJSON(w, http.StatusCreated, sus)
	s.observe(endpoint, method, http.StatusCreated, start)
}

// SuspensionStatusHandler handles GET /v1/suspensions/{user_id}.
func (s *Server) SuspensionStatusHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "/v1/suspensions/{user_id}"
	const method = "GET"

	userID := mux.Vars(r)["user_id"]
	st, err := s.Suspensions.CheckActive(r.Context(), userID)
	if err != nil {
		middleware.LoggerFromRequest(r, s.Logger).Error("check suspension", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
		s.observe(endpoint, method, http.StatusServiceUnavailable, start)
		return
	}
	history, err := s.Suspensions.History(r.Context(), userID)
	if err != nil {
		middleware.LoggerFromRequest(r, s.Logger).Error("suspension history", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
		s.observe(endpoint, method, http.StatusServiceUnavailable, start)
		return
	}
	if history == nil {
		history = []models.Suspension{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "status": st, "history": history})
	s.observe(endpoint, method, http.StatusOK, start)
}

// LiftSuspensionHandler handles DELETE /v1/suspensions/{user_id}.
func (s *Server) LiftSuspensionHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "/v1/suspensions/{user_id}"
	const method = "DELETE"

	claims, _ := middleware.ReviewerFromContext(r.Context())
	if !claims.CanSuspend() {
		writeError(w, http.StatusForbidden, "admin role required")
		s.observe(endpoint, method, http.StatusForbidden, start)
		return
	}
	n, err := s.Suspensions.Lift(r.Context(), mux.Vars(r)["user_id"], claims.Subject)
	if err != nil {
		middleware.LoggerFromRequest(r, s.Logger).Error("lift suspension", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		s.observe(endpoint, method, http.StatusInternalServerError, start)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lifted": n})
	s.observe(endpoint, method, http.StatusOK, start)
}
