package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imghost/abuseguard/internal/db"
	"github.com/imghost/abuseguard/internal/logic/admission"
	"github.com/imghost/abuseguard/internal/logic/lockout"
	"github.com/imghost/abuseguard/internal/logic/ratelimit"
	"github.com/imghost/abuseguard/internal/logic/suspension"
	"github.com/imghost/abuseguard/internal/models"
	"github.com/imghost/abuseguard/internal/token"
)

func newGuard(t *testing.T) (*admission.Guard, *suspension.Registry) {
	t.Helper()
	store := db.NewMemoryStore()
	susp := suspension.NewRegistry(store, 0, zap.NewNop(), nil)
	g := admission.NewGuard(admission.Deps{
		Users:       ratelimit.NewLimiter(ratelimit.ScopeUser, store, time.Hour, nil),
		IPs:         ratelimit.NewLimiter(ratelimit.ScopeIP, store, time.Hour, nil),
		Lockout:     lockout.NewTracker(store, lockout.DefaultConfig(), nil),
		Suspensions: susp,
		Logger:      zap.NewNop(),
	}, admission.DefaultConfig())
	return g, susp
}

func fixedClient(ip string) ClientResolver {
	return func(*http.Request) models.ClientContext {
		return models.ClientContext{IP: ip}
	}
}

func TestAdmissionRateLimitsAnonymousRegister(t *testing.T) {
	g, _ := newGuard(t)
	var seen admission.Decision
	h := Admission(g, fixedClient("203.0.113.9"), zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = DecisionFromContext(r.Context())
		c, ok := ClientFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, "203.0.113.9", c.IP)
		w.WriteHeader(http.StatusNoContent)
	}))

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/register", nil))
		require.Equal(t, http.StatusNoContent, rec.Code, "attempt %d", i+1)
		assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	}
	assert.True(t, seen.Allowed)
	assert.Equal(t, int64(0), seen.RateLimit.Remaining)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/register", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Rate limit exceeded", body["error"])
}

func TestAdmissionSuspendedUser(t *testing.T) {
	g, susp := newGuard(t)
	_, err := susp.Suspend(t.Context(), "u1", "spam", nil, "admin")
	require.NoError(t, err)

	called := false
	h := Admission(g, fixedClient("203.0.113.9"), zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/images", nil)
	req.Header.Set(HeaderUserID, "u1")
	req.Header.Set(HeaderUserTier, "pro")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "spam", body["reason"])
	assert.Contains(t, body, "suspended_until")
	assert.Nil(t, body["suspended_until"])
}

func TestDenialBodyLockout(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(90 * time.Second)
	d := admission.Decision{
		Outcome: admission.OutcomeLockedOut,
		Lockout: &lockout.Status{LockedUntil: &until, RequiresCaptcha: true, AttemptCount: 5},
	}
	body := DenialBody(d, now)
	assert.Equal(t, int64(2), body["retry_in_minutes"])
	assert.Equal(t, true, body["requires_captcha"])
	assert.Equal(t, "2024-01-01T12:01:30Z", body["locked_until"])

	rec := httptest.NewRecorder()
	WriteDenial(rec, d, now)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "90", rec.Header().Get("Retry-After"))
}

func TestDenialStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, DenialStatus(admission.OutcomeRejected))
	assert.Equal(t, http.StatusServiceUnavailable, DenialStatus(admission.OutcomeUnavailable))
	assert.Equal(t, http.StatusForbidden, DenialStatus(admission.OutcomeSuspended))
	body := DenialBody(admission.Decision{Outcome: admission.OutcomeRejected}, time.Now())
	assert.Equal(t, "File rejected", body["error"])
	assert.Equal(t, "Security check failed", body["reason"])
}

func TestRequireReviewer(t *testing.T) {
	secret := []byte("s3cret")
	h := RequireReviewer(secret, time.Hour, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := ReviewerFromContext(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(c.Subject))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/reports/pending", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/reports/pending", nil)
	req.Header.Set("Authorization", "Bearer nope.nope")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, err := token.Generate("mod-1", token.RoleModerator, secret)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/v1/reports/pending", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mod-1", rec.Body.String())
}

func TestRequireReviewerRejectsServiceToken(t *testing.T) {
	secret := []byte("s3cret")
	h := RequireReviewer(secret, time.Hour, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	tok, err := token.Generate("web", token.RoleService, secret)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/v1/flags/u1", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireService(t *testing.T) {
	secret := []byte("s3cret")
	called := 0
	h := RequireService(secret, time.Hour, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
		_, ok := ReviewerFromContext(r.Context())
		assert.False(t, ok)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/successes", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "service token required", decodeError(t, rec))

	admin, err := token.Generate("admin-1", token.RoleAdmin, secret)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/successes", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	svc, err := token.Generate("web", token.RoleService, secret)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/v1/auth/successes", nil)
	req.Header.Set("Authorization", "Bearer "+svc)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, called)
}

func TestEmptySecretRejectsEveryToken(t *testing.T) {
	h := RequireReviewer(nil, time.Hour, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	// With no secret configured, no token verifies.
	tok, _ := token.Generate("admin-1", token.RoleAdmin, []byte("other"))
	req := httptest.NewRequest(http.MethodPost, "/v1/suspensions", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out["error"]
}

func TestWithTraceLoggerRequestID(t *testing.T) {
	var seen string
	h := WithTraceLogger(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		assert.NotNil(t, LoggerFromRequest(r, nil))
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rr.Header().Get(HeaderRequestID))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Len(t, seen, 36)
	assert.Equal(t, seen, rr.Header().Get(HeaderRequestID))
}
