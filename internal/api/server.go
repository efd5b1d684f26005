// Package api exposes the admission, screening and moderation operations over
// HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/imghost/abuseguard/internal/config"
	"github.com/imghost/abuseguard/internal/geoip"
	"github.com/imghost/abuseguard/internal/logic"
	"github.com/imghost/abuseguard/internal/logic/admission"
	"github.com/imghost/abuseguard/internal/logic/ratelimit"
	"github.com/imghost/abuseguard/internal/logic/reports"
	"github.com/imghost/abuseguard/internal/logic/suspension"
	"github.com/imghost/abuseguard/internal/middleware"
	"github.com/imghost/abuseguard/internal/models"
	"github.com/imghost/abuseguard/internal/observability"
)

var tracer = observability.Tracer("abuseguard/api")

// FlagLister reads content flags queued for review.
type FlagLister interface {
	ListContentFlags(ctx context.Context, targetID string, limit int) ([]models.ContentFlag, error)
}

// Pinger is a dependency probed by the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger      *zap.Logger
	Guard       *admission.Guard
	Reports     *reports.Workflow
	Suspensions *suspension.Registry
	Flags       FlagLister
	Counters    ratelimit.CounterPurger
	GeoIP       *geoip.GeoIP
	Metrics     observability.MetricsRegistry
	Config      config.Config
	TokenSecret []byte
	TokenTTL    time.Duration

	// Checks are pinged by the health handler, keyed by name.
	Checks map[string]Pinger
}

// NewServer constructs a Server.
func NewServer(logger *zap.Logger, guard *admission.Guard, rw *reports.Workflow, susp *suspension.Registry, flags FlagLister, counters ratelimit.CounterPurger, geo *geoip.GeoIP, metrics observability.MetricsRegistry, cfg config.Config) *Server {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Server{
		Logger:      logger,
		Guard:       guard,
		Reports:     rw,
		Suspensions: susp,
		Flags:       flags,
		Counters:    counters,
		GeoIP:       geo,
		Metrics:     metrics,
		Config:      cfg,
		TokenSecret: []byte(cfg.TokenSecret),
		TokenTTL:    cfg.TokenTTL,
		Checks:      map[string]Pinger{},
	}
}

// ClientFromRequest resolves the caller of r.
func (s *Server) ClientFromRequest(r *http.Request) models.ClientContext {
	return logic.ResolveClientFromRequest(r, s.GeoIP, s.Config.TrustProxy)
}

// RegisterRoutes mounts every handler on r. Admission and moderation routes
// need a token secret; without one only /health is served.
func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", s.HealthHandler).Methods("GET")

	if len(s.TokenSecret) == 0 {
		s.Logger.Error("token secret empty; admission and moderation routes not mounted")
		return
	}

	service := middleware.RequireService(s.TokenSecret, s.TokenTTL, s.Logger)
	reviewer := middleware.RequireReviewer(s.TokenSecret, s.TokenTTL, s.Logger)
	admit := middleware.Admission(s.Guard, s.ClientFromRequest, s.Logger)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Handle("/admission/check", service(http.HandlerFunc(s.AdmissionCheckHandler))).Methods("POST")
	v1.Handle("/auth/failures", service(http.HandlerFunc(s.AuthFailureHandler))).Methods("POST")
	v1.Handle("/auth/successes", service(http.HandlerFunc(s.AuthSuccessHandler))).Methods("POST")
	v1.Handle("/uploads/screen", service(http.HandlerFunc(s.ScreenUploadHandler))).Methods("POST")

	v1.Handle("/reports", service(admit(http.HandlerFunc(s.SubmitReportHandler)))).Methods("POST")
	v1.Handle("/reports", reviewer(http.HandlerFunc(s.ListReportsHandler))).Methods("GET")
	v1.Handle("/reports/pending", reviewer(http.HandlerFunc(s.PendingReportsHandler))).Methods("GET")
	v1.Handle("/reports/{id}", reviewer(http.HandlerFunc(s.GetReportHandler))).Methods("GET")
	v1.Handle("/reports/{id}", reviewer(http.HandlerFunc(s.UpdateReportHandler))).Methods("PATCH")

	v1.Handle("/suspensions", reviewer(http.HandlerFunc(s.SuspendHandler))).Methods("POST")
	v1.Handle("/suspensions/{user_id}", reviewer(http.HandlerFunc(s.SuspensionStatusHandler))).Methods("GET")
	v1.Handle("/suspensions/{user_id}", reviewer(http.HandlerFunc(s.LiftSuspensionHandler))).Methods("DELETE")

	v1.Handle("/flags/{target_id}", reviewer(http.HandlerFunc(s.ListFlagsHandler))).Methods("GET")
	v1.Handle("/maintenance/purge", reviewer(http.HandlerFunc(s.PurgeHandler))).Methods("POST")
}
