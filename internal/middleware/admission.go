package middleware

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/imghost/abuseguard/internal/logic/admission"
	"github.com/imghost/abuseguard/internal/models"
	"github.com/imghost/abuseguard/internal/observability"
)

// Headers carrying the caller identity resolved by the upstream auth layer.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserTier = "X-User-Tier"
)

type decisionKey struct{}

type clientKey struct{}

// ClientResolver derives the client context for a request.
type ClientResolver func(*http.Request) models.ClientContext

// Admission returns middleware that runs g.CheckRequest for every request and
// answers denials itself. Allowed requests carry rate-limit headers and the
// decision in their context.
func Admission(g *admission.Guard, resolve ClientResolver, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := resolve(r)
			req := admission.Request{
				UserID:   r.Header.Get(HeaderUserID),
				Tier:     models.ParseTier(r.Header.Get(HeaderUserTier)),
				Endpoint: r.URL.Path,
				Client:   client,
			}
			d := g.CheckRequest(r.Context(), req)
			if !d.Allowed {
				observability.SampleDecisionLog(observability.LogClassDeny)
				LoggerFromRequest(r, logger).Info("request denied",
					zap.Error(d.Err()),
					zap.String("endpoint", req.Endpoint),
					zap.String("user_id", req.UserID),
					zap.String("ip", client.IP))
				WriteDenial(w, d, time.Now())
				return
			}
			SetRateLimitHeaders(w, d, time.Now())

			ctx := context.WithValue(r.Context(), decisionKey{}, d)
			ctx = context.WithValue(ctx, clientKey{}, client)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DecisionFromContext returns the admission decision stored by Admission.
func DecisionFromContext(ctx context.Context) (admission.Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(admission.Decision)
	return d, ok
}

// ClientFromContext returns the client context resolved by Admission.
func ClientFromContext(ctx context.Context) (models.ClientContext, bool) {
	c, ok := ctx.Value(clientKey{}).(models.ClientContext)
	return c, ok
}

func ceilSeconds(d time.Duration) int64 {
	return int64(math.Ceil(d.Seconds()))
}

// SetRateLimitHeaders writes the X-RateLimit-* headers for d's limiter result.
func SetRateLimitHeaders(w http.ResponseWriter, d admission.Decision, now time.Time) {
	if d.RateLimit == nil {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.FormatInt(d.RateLimit.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.RateLimit.Remaining, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.RateLimit.ResetAt.Unix(), 10))
}

// DenialStatus maps a denied decision to its HTTP status code.
func DenialStatus(o admission.Outcome) int {
	switch o {
	case admission.OutcomeRateLimited, admission.OutcomeLockedOut:
		return http.StatusTooManyRequests
	case admission.OutcomeSuspended:
		return http.StatusForbidden
	case admission.OutcomeRejected:
		return http.StatusBadRequest
	case admission.OutcomeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusForbidden
	}
}

// DenialBody builds the JSON body describing a denied decision.
func DenialBody(d admission.Decision, now time.Time) map[string]any {
	body := map[string]any{}
	switch d.Outcome {
	case admission.OutcomeRateLimited:
		body["error"] = "Rate limit exceeded"
		if d.RateLimit != nil {
			body["limit"] = d.RateLimit.Limit
			body["retry_after"] = ceilSeconds(d.RateLimit.RetryAfter(now))
		}
	case admission.OutcomeLockedOut:
		body["error"] = "Too many failed attempts"
		if d.Lockout != nil {
			if d.Lockout.LockedUntil != nil {
				body["locked_until"] = d.Lockout.LockedUntil.UTC().Format(time.RFC3339)
			}
			body["retry_in_minutes"] = int64(math.Ceil(d.Lockout.RetryAfter(now).Minutes()))
			body["requires_captcha"] = d.Lockout.RequiresCaptcha
		}
	case admission.OutcomeSuspended:
		body["error"] = "Account suspended"
		if d.Suspension != nil {
			body["reason"] = d.Suspension.Reason
			if d.Suspension.Until != nil {
				body["suspended_until"] = d.Suspension.Until.UTC().Format(time.RFC3339)
			} else {
				body["suspended_until"] = nil
			}
		}
	case admission.OutcomeRejected:
		body["error"] = "File rejected"
		body["reason"] = "Security check failed"
	case admission.OutcomeUnavailable:
		body["error"] = "Service temporarily unavailable"
	default:
		body["error"] = "Request denied"
	}
	if d.Trace != nil {
		body["trace"] = d.Trace
	}
	return body
}

// WriteDenial writes the status, headers and JSON body for a denied decision.
func WriteDenial(w http.ResponseWriter, d admission.Decision, now time.Time) {
	SetRateLimitHeaders(w, d, now)
	switch d.Outcome {
	case admission.OutcomeRateLimited:
		if d.RateLimit != nil {
			w.Header().Set("Retry-After", strconv.FormatInt(ceilSeconds(d.RateLimit.RetryAfter(now)), 10))
		}
	case admission.OutcomeLockedOut:
		if d.Lockout != nil {
			w.Header().Set("Retry-After", strconv.FormatInt(ceilSeconds(d.Lockout.RetryAfter(now)), 10))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(DenialStatus(d.Outcome))
	_ = json.NewEncoder(w).Encode(DenialBody(d, now))
}
