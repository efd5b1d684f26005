package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/imghost/abuseguard/internal/logic"
	"github.com/imghost/abuseguard/internal/logic/admission"
	"github.com/imghost/abuseguard/internal/logic/lockout"
	"github.com/imghost/abuseguard/internal/middleware"
	"github.com/imghost/abuseguard/internal/models"
	"github.com/imghost/abuseguard/internal/observability"
)

// CheckRequest is the payload of POST /v1/admission/check. IP and UserAgent
// describe the end user; when IP is empty the caller's own address is used.
type CheckRequest struct {
	UserID     string `json:"user_id"`
	Tier       string `json:"tier"`
	Endpoint   string `json:"endpoint"`
	Identifier string `json:"identifier"`
	IP         string `json:"ip"`
	UserAgent  string `json:"user_agent"`
}

// AuthOutcomeRequest is the payload of the auth failure and success endpoints.
type AuthOutcomeRequest struct {
	Identifier  string `json:"identifier"`
	AttemptType string `json:"attempt_type"`
	IP          string `json:"ip"`
	UserAgent   string `json:"user_agent"`
}

func (s *Server) clientFor(r *http.Request, ip, ua string) models.ClientContext {
	if ip == "" {
		ip = logic.ClientIP(r, s.Config.TrustProxy)
	}
	if ua == "" {
		ua = r.UserAgent()
	}
	return logic.ResolveClient(s.GeoIP, ua, ip)
}

// writeDecision answers with the decision itself when allowed and with the
// denial body otherwise.
func writeDecision(w http.ResponseWriter, d admission.Decision) int {
	now := time.Now()
	if !d.Allowed {
		middleware.WriteDenial(w, d, now)
		return middleware.DenialStatus(d.Outcome)
	}
	middleware.SetRateLimitHeaders(w, d, now)
	writeJSON(w, http.StatusOK, d)
	return http.StatusOK
}

// AdmissionCheckHandler handles POST /v1/admission/check.
func (s *Server) AdmissionCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "AdmissionCheckHandler",
		trace.WithAttributes(
			attribute.String("http.method", "POST"),
			attribute.String("http.route", "/v1/admission/check"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "/v1/admission/check"
	const method = "POST"

	var req CheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Debug("bad admission request", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid json")
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}
	req.Endpoint = strings.TrimSpace(req.Endpoint)
	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint required")
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}

	d := s.Guard.CheckRequest(ctx, admission.Request{
		UserID:     strings.TrimSpace(req.UserID),
		Tier:       models.ParseTier(req.Tier),
		Endpoint:   req.Endpoint,
		Identifier: strings.TrimSpace(req.Identifier),
		Client:     s.clientFor(r, req.IP, req.UserAgent),
	})
	span.SetAttributes(attribute.String("admission.outcome", string(d.Outcome)))
	if d.Allowed {
		if observability.SampleDecisionLog(observability.LogClassAdmit) {
			logger.Info("request admitted",
				zap.String("endpoint", req.Endpoint),
				zap.String("user_id", req.UserID),
				zap.Bool("degraded", d.Degraded))
		}
	} else if observability.SampleDecisionLog(observability.LogClassDeny) {
		logger.Info("request denied",
			zap.String("endpoint", req.Endpoint),
			zap.String("user_id", req.UserID),
			zap.String("outcome", string(d.Outcome)))
	}
	status := writeDecision(w, d)
	s.observe(endpoint, method, status, start)
}

func (s *Server) decodeAuthOutcome(w http.ResponseWriter, r *http.Request) (admission.AuthAttempt, bool) {
	var req AuthOutcomeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return admission.AuthAttempt{}, false
	}
	return admission.AuthAttempt{
		Identifier:  strings.TrimSpace(req.Identifier),
		AttemptType: strings.TrimSpace(req.AttemptType),
		Client:      s.clientFor(r, req.IP, req.UserAgent),
	}, true
}

// AuthFailureHandler handles POST /v1/auth/failures.
func (s *Server) AuthFailureHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "/v1/auth/failures"
	const method = "POST"

	a, ok := s.decodeAuthOutcome(w, r)
	if !ok {
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}
	d, err := s.Guard.RecordAuthFailure(r.Context(), a)
	if err != nil {
		if errors.Is(err, admission.ErrUnknownAttemptType) || errors.Is(err, lockout.ErrEmptyIdentifier) {
			writeError(w, http.StatusBadRequest, "identifier and a known attempt_type are required")
			s.observe(endpoint, method, http.StatusBadRequest, start)
			return
		}
		middleware.LoggerFromRequest(r, s.Logger).Error("record auth failure", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		s.observe(endpoint, method, http.StatusInternalServerError, start)
		return
	}
	status := writeDecision(w, d)
	s.observe(endpoint, method, status, start)
}

// AuthSuccessHandler handles POST /v1/auth/successes.
func (s *Server) AuthSuccessHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "/v1/auth/successes"
	const method = "POST"

	a, ok := s.decodeAuthOutcome(w, r)
	if !ok {
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}
	if err := s.Guard.RecordAuthSuccess(r.Context(), a); err != nil {
		if errors.Is(err, admission.ErrUnknownAttemptType) {
			writeError(w, http.StatusBadRequest, "unknown attempt_type")
			s.observe(endpoint, method, http.StatusBadRequest, start)
			return
		}
		middleware.LoggerFromRequest(r, s.Logger).Warn("clear auth failures", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
		s.observe(endpoint, method, http.StatusServiceUnavailable, start)
		return
	}
	w.WriteHeader(http.StatusNoContent)
	s.observe(endpoint, method, http.StatusNoContent, start)
}
