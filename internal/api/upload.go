package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/imghost/abuseguard/internal/logic/admission"
	"github.com/imghost/abuseguard/internal/logic/screening"
	"github.com/imghost/abuseguard/internal/middleware"
	"github.com/imghost/abuseguard/internal/models"
)

// multipartMemory is the in-memory share of a parsed multipart form; the rest
// spills to temporary files.
const multipartMemory = 8 << 20

// ScreenUploadHandler handles POST /v1/uploads/screen. The multipart form
// carries the file under "file"; the user comes from X-User-ID or the
// "user_id" field.
func (s *Server) ScreenUploadHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "ScreenUploadHandler",
		trace.WithAttributes(
			attribute.String("http.method", "POST"),
			attribute.String("http.route", "/v1/uploads/screen"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "/v1/uploads/screen"
	const method = "POST"

	if s.Config.MaxUploadBytes > 0 {
		if r.ContentLength > s.Config.MaxUploadBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			s.observe(endpoint, method, http.StatusRequestEntityTooLarge, start)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.Config.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			s.observe(endpoint, method, http.StatusRequestEntityTooLarge, start)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, fh, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file required")
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			logger.Warn("failed to close upload", zap.Error(closeErr))
		}
	}()

	header := make([]byte, screening.HeaderSize)
	n, err := io.ReadFull(file, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		logger.Warn("read upload header", zap.Error(err))
		writeError(w, http.StatusBadRequest, "unreadable file")
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}

	userID := r.Header.Get(middleware.HeaderUserID)
	if userID == "" {
		userID = r.FormValue("user_id")
	}
	tier := r.Header.Get(middleware.HeaderUserTier)
	if tier == "" {
		tier = r.FormValue("tier")
	}

	d, err := s.Guard.ScreenUpload(ctx, admission.Upload{
		UserID:       strings.TrimSpace(userID),
		Tier:         models.ParseTier(tier),
		Endpoint:     endpoint,
		Filename:     fh.Filename,
		DeclaredMime: fh.Header.Get("Content-Type"),
		SizeBytes:    fh.Size,
		Header:       header[:n],
		Client:       s.ClientFromRequest(r),
	})
	if err != nil {
		if errors.Is(err, admission.ErrUserRequired) {
			writeError(w, http.StatusBadRequest, "user_id required")
			s.observe(endpoint, method, http.StatusBadRequest, start)
			return
		}
		logger.Error("screen upload", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		s.observe(endpoint, method, http.StatusInternalServerError, start)
		return
	}
	span.SetAttributes(attribute.String("admission.outcome", string(d.Outcome)))

	if !d.Allowed {
		logger.Info("upload denied",
			zap.String("user_id", userID),
			zap.String("filename", fh.Filename),
			zap.String("outcome", string(d.Outcome)))
		middleware.WriteDenial(w, d.Decision, time.Now())
		s.observe(endpoint, method, middleware.DenialStatus(d.Outcome), start)
		return
	}
	middleware.SetRateLimitHeaders(w, d.Decision, time.Now())
	writeJSON(w, http.StatusOK, d)
	s.observe(endpoint, method, http.StatusOK, start)
}
