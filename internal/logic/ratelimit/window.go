package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imghost/abuseguard/internal/logic"
	"github.com/imghost/abuseguard/internal/models"
	"github.com/imghost/abuseguard/internal/observability"
)

// Limiter scopes. Identities are prefixed with the scope so per-user and
// per-IP counters never share a key.
const (
	ScopeUser = "user"
	ScopeIP   = "ip"
)

// ErrInvalidWindow is returned for windows shorter than one millisecond.
var ErrInvalidWindow = errors.New("ratelimit: window must be at least 1ms")

// CounterStore is the windowed counter backend. IncrementWindow must be a
// single atomic operation: create the counter at 1 if absent, refuse to
// increment when the count has reached maxRequests, otherwise increment.
// It returns the count after the call and whether the request was admitted.
type CounterStore interface {
	IncrementWindow(ctx context.Context, key string, maxRequests int64, ttl time.Duration) (count int64, allowed bool, err error)
}

// WindowConfig is a quota: at most MaxRequests per fixed Window.
// MaxRequests of zero or less gates the endpoint entirely.
type WindowConfig struct {
	Window      time.Duration
	MaxRequests int64
}

// Result describes a rate-limit decision.
type Result struct {
	Allowed   bool      `json:"allowed"`
	Remaining int64     `json:"remaining"`
	Limit     int64     `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
}

// RetryAfter returns how long the caller should wait before the window resets.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if d := r.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Limiter enforces fixed-window quotas for one scope.
type Limiter struct {
	scope     string
	store     CounterStore
	retention time.Duration
	metrics   observability.MetricsRegistry
	now       func() time.Time
}

// NewLimiter creates a limiter for scope. Counters are kept for their window
// plus retention before the store may drop them.
func NewLimiter(scope string, store CounterStore, retention time.Duration, metrics observability.MetricsRegistry) *Limiter {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Limiter{
		scope:     scope,
		store:     store,
		retention: retention,
		metrics:   metrics,
		now:       time.Now,
	}
}

// SetClock overrides the time source (for testing).
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

// Scope returns the limiter's scope name.
func (l *Limiter) Scope() string {
	return l.scope
}

// WindowStart aligns now to the start of its fixed window.
func WindowStart(now time.Time, window time.Duration) time.Time {
	ms := now.UnixMilli()
	w := window.Milliseconds()
	start := ms - ms%w
	if ms%w < 0 {
		start -= w
	}
	return time.UnixMilli(start).UTC()
}

// CheckAndConsume admits or denies one request by identity against endpoint.
// A denied request never increments the counter. Store failures are wrapped
// with logic.ErrStoreUnavailable; the caller applies its failure mode.
func (l *Limiter) CheckAndConsume(ctx context.Context, identity, endpoint string, cfg WindowConfig) (Result, error) {
	if cfg.Window < time.Millisecond {
		return Result{}, ErrInvalidWindow
	}
	l.metrics.IncrementRateLimitRequests(l.scope)

	windowStart := WindowStart(l.now(), cfg.Window)
	res := Result{ResetAt: windowStart.Add(cfg.Window)}
	if cfg.MaxRequests <= 0 {
		l.metrics.IncrementRateLimitHits(l.scope)
		return res, nil
	}
	res.Limit = cfg.MaxRequests

	key := models.CounterKey{
		Identity:    l.scope + ":" + identity,
		Endpoint:    endpoint,
		WindowStart: windowStart,
	}
	count, allowed, err := l.store.IncrementWindow(ctx, key.String(), cfg.MaxRequests, cfg.Window+l.retention)
	if err != nil {
		l.metrics.IncrementStoreErrors("counter")
		return res, fmt.Errorf("%w: increment window: %v", logic.ErrStoreUnavailable, err)
	}
	if !allowed {
		l.metrics.IncrementRateLimitHits(l.scope)
		return res, nil
	}

	res.Allowed = true
	res.Remaining = cfg.MaxRequests - count
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	return res, nil
}
