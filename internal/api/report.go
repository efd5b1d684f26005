package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/imghost/abuseguard/internal/logic/reports"
	"github.com/imghost/abuseguard/internal/middleware"
	"github.com/imghost/abuseguard/internal/models"
)

// ReportRequest is the payload for submitting an abuse report.
type ReportRequest struct {
	TargetID       string  `json:"target_id"`
	ReportedUserID string  `json:"reported_user_id"`
	Reason         string  `json:"reason"`
	Description    *string `json:"description,omitempty"`
}

// ReportUpdateRequest is the payload for moving a report through review.
type ReportUpdateRequest struct {
	Status          models.ReportStatus `json:"status"`
	ResolutionNotes *string             `json:"resolution_notes,omitempty"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// reportError maps workflow errors to a status and a client-safe message.
func reportError(err error) (int, string) {
	switch {
	case errors.Is(err, reports.ErrInvalidReport):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "report not found"
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// SubmitReportHandler handles POST /v1/reports. It runs behind the admission
// middleware, which has already charged the caller's quota.
func (s *Server) SubmitReportHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "/v1/reports"
	const method = "POST"

	var req ReportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}

	client, ok := middleware.ClientFromContext(r.Context())
	if !ok {
		client = s.ClientFromRequest(r)
	}
	rep, err := s.Reports.Submit(r.Context(), reports.Submission{
		TargetID:       req.TargetID,
		ReportedUserID: req.ReportedUserID,
		ReporterUserID: optional(r.Header.Get(middleware.HeaderUserID)),
		ReporterIP:     optional(client.IP),
		Reason:         req.Reason,
		Description:    req.Description,
	})
	if err != nil {
		status, msg := reportError(err)
		if status == http.StatusInternalServerError {
			middleware.LoggerFromRequest(r, s.Logger).Error("submit report", zap.Error(err))
		}
		writeError(w, status, msg)
		s.observe(endpoint, method, status, start)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"report_id": rep.ID, "status": rep.Status})
	s.observe(endpoint, method, http.StatusCreated, start)
}

// ListReportsHandler handles GET /v1/reports?target_id=.
func (s *Server) ListReportsHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "/v1/reports"
	const method = "GET"

	target := strings.TrimSpace(r.URL.Query().Get("target_id"))
	if target == "" {
		writeError(w, http.StatusBadRequest, "target_id required")
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}
	list, err := s.Reports.ListByTarget(r.Context(), target, limit)
	if err != nil {
		middleware.LoggerFromRequest(r, s.Logger).Error("list reports", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		s.observe(endpoint, method, http.StatusInternalServerError, start)
		return
	}
	if list == nil {
		list = []models.AbuseReport{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": list})
	s.observe(endpoint, method, http.StatusOK, start)
}

// PendingReportsHandler handles GET /v1/reports/pending.
func (s *Server) PendingReportsHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "/v1/reports/pending"
	const method = "GET"

	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}
	list, err := s.Reports.ListPending(r.Context(), limit)
	if err != nil {
		middleware.LoggerFromRequest(r, s.Logger).Error("list pending reports", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		s.observe(endpoint, method, http.StatusInternalServerError, start)
		return
	}
	if list == nil {
		list = []models.AbuseReport{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": list})
	s.observe(endpoint, method, http.StatusOK, start)
}

// GetReportHandler handles GET /v1/reports/{id}.
func (s *Server) GetReportHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "/v1/reports/{id}"
	const method = "GET"

	rep, err := s.Reports.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		status, msg := reportError(err)
		if status == http.StatusInternalServerError {
			middleware.LoggerFromRequest(r, s.Logger).Error("get report", zap.Error(err))
		}
		writeError(w, status, msg)
		s.observe(endpoint, method, status, start)
		return
	}
	writeJSON(w, http.StatusOK, rep)
	s.observe(endpoint, method, http.StatusOK, start)
}

// UpdateReportHandler handles PATCH /v1/reports/{id}. The reviewer is taken
// from the bearer token.
func (s *Server) UpdateReportHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "/v1/reports/{id}"
	const method = "PATCH"

	claims, _ := middleware.ReviewerFromContext(r.Context())
	var req ReportUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}
	rep, err := s.Reports.UpdateStatus(r.Context(), mux.Vars(r)["id"], req.Status, claims.Subject, req.ResolutionNotes)
	if err != nil {
		status, msg := reportError(err)
		if status == http.StatusInternalServerError {
			middleware.LoggerFromRequest(r, s.Logger).Error("update report", zap.Error(err))
		}
		writeError(w, status, msg)
		s.observe(endpoint, method, status, start)
		return
	}
	writeJSON(w, http.StatusOK, rep)
	s.observe(endpoint, method, http.StatusOK, start)
}
