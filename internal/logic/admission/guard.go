// Package admission composes the abuse-prevention components into the checks
// run before a request, an authentication attempt or an upload is accepted.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/imghost/abuseguard/internal/analytics"
	"github.com/imghost/abuseguard/internal/logic"
	"github.com/imghost/abuseguard/internal/logic/lockout"
	"github.com/imghost/abuseguard/internal/logic/patterns"
	"github.com/imghost/abuseguard/internal/logic/ratelimit"
	"github.com/imghost/abuseguard/internal/logic/screening"
	"github.com/imghost/abuseguard/internal/logic/suspension"
	"github.com/imghost/abuseguard/internal/models"
	"github.com/imghost/abuseguard/internal/observability"
)

var tracer = observability.Tracer("abuseguard/admission")

// Outcome names the result of an admission check.
type Outcome string

const (
	OutcomeAllowed     Outcome = "allowed"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeLockedOut   Outcome = "locked_out"
	OutcomeSuspended   Outcome = "suspended"
	OutcomeRejected    Outcome = "rejected"
	OutcomeUnavailable Outcome = "unavailable"
)

// Request describes one call to be admitted.
type Request struct {
	UserID   string
	Tier     models.Tier
	Endpoint string

	// Identifier is the account name or email presented to an auth endpoint.
	Identifier string
	Client     models.ClientContext
}

// Decision is the result of an admission check. Exactly one of RateLimit,
// Lockout or Suspension explains a denial; the others may still be set for
// header reporting.
type Decision struct {
	Allowed    bool                     `json:"allowed"`
	Outcome    Outcome                  `json:"outcome"`
	RateLimit  *ratelimit.Result        `json:"rate_limit,omitempty"`
	Lockout    *lockout.Status          `json:"lockout,omitempty"`
	Suspension *models.SuspensionStatus `json:"suspension,omitempty"`

	// Degraded is set when a store failed and the request was let through
	// under the fail-open policy.
	Degraded bool                 `json:"degraded,omitempty"`
	Trace    *logic.DecisionTrace `json:"trace,omitempty"`
}

func (d *Decision) deny(o Outcome) {
	d.Allowed = false
	d.Outcome = o
}

// Err classifies a denial: logic.ErrStoreUnavailable for fail-closed store
// failures and logic.ErrPolicyDenied otherwise. It is nil when allowed.
func (d Decision) Err() error {
	switch {
	case d.Allowed:
		return nil
	case d.Outcome == OutcomeUnavailable:
		return logic.ErrStoreUnavailable
	default:
		return fmt.Errorf("%w: %s", logic.ErrPolicyDenied, d.Outcome)
	}
}

// FlagStore persists content flags.
type FlagStore interface {
	InsertContentFlag(ctx context.Context, f *models.ContentFlag) error
}

// UploadRecorder appends to a user's upload history.
type UploadRecorder interface {
	InsertUpload(ctx context.Context, u *models.UploadRecord) error
}

// UploadScanner inspects an upload's name, declared type and leading bytes.
type UploadScanner interface {
	Scan(filename, declaredMime string, data []byte) screening.Result
}

// Deps are the components a Guard composes. Events may be nil.
type Deps struct {
	Users       *ratelimit.Limiter
	IPs         *ratelimit.Limiter
	Lockout     *lockout.Tracker
	Suspensions *suspension.Registry
	Scanner     UploadScanner
	Patterns    *patterns.Analyzer
	Flags       FlagStore
	Uploads     UploadRecorder
	Events      analytics.EventSink
	Logger      *zap.Logger
	Metrics     observability.MetricsRegistry
}

// Config holds the guard's policy knobs.
type Config struct {
	FailureMode     logic.FailureMode
	TierQuotas      ratelimit.TierQuotas
	IPQuotas        ratelimit.IPQuotas
	BlockConfidence float64
	DebugTrace      bool
}

// DefaultConfig returns the standard policy.
func DefaultConfig() Config {
	return Config{
		FailureMode:     logic.FailOpen,
		TierQuotas:      ratelimit.DefaultTierQuotas(24 * time.Hour),
		IPQuotas:        ratelimit.DefaultIPQuotas(),
		BlockConfidence: 0.8,
	}
}

// Guard runs admission checks.
type Guard struct {
	Deps
	cfg Config
	now func() time.Time
}

// NewGuard creates a guard.
func NewGuard(deps Deps, cfg Config) *Guard {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewNoOpRegistry()
	}
	if deps.Scanner == nil {
		deps.Scanner = screening.NewScanner()
	}
	if cfg.BlockConfidence <= 0 {
		cfg.BlockConfidence = DefaultConfig().BlockConfidence
	}
	if cfg.FailureMode == "" {
		cfg.FailureMode = logic.FailOpen
	}
	return &Guard{Deps: deps, cfg: cfg, now: time.Now}
}

// SetClock overrides the time source used for audit timestamps (for testing).
func (g *Guard) SetClock(now func() time.Time) {
	g.now = now
}

// Config returns the guard's policy.
func (g *Guard) Config() Config {
	return g.cfg
}

func (g *Guard) newDecision() Decision {
	d := Decision{Allowed: true, Outcome: OutcomeAllowed}
	if g.cfg.DebugTrace {
		d.Trace = &logic.DecisionTrace{}
	}
	return d
}

func (g *Guard) event(eventType, identity, endpoint, userID string, client models.ClientContext, detail map[string]string) models.AdmissionEvent {
	return models.AdmissionEvent{
		Timestamp:  g.now().UTC(),
		EventType:  eventType,
		Identity:   identity,
		Endpoint:   endpoint,
		UserID:     userID,
		IP:         client.IP,
		Country:    client.Country,
		DeviceType: client.DeviceType,
		IsBot:      client.IsBot,
		Detail:     detail,
	}
}

// emit writes ev to the audit sink and the current span. Sink failures are
// logged and never affect the decision.
func (g *Guard) emit(ctx context.Context, ev models.AdmissionEvent) {
	trace.SpanFromContext(ctx).AddEvent(ev.EventType, trace.WithAttributes(
		attribute.String("identity", ev.Identity),
		attribute.String("endpoint", ev.Endpoint),
	))
	if g.Events == nil {
		return
	}
	if err := g.Events.RecordEvent(ctx, ev); err != nil && !errors.Is(err, analytics.ErrUnavailable) {
		g.Logger.Warn("record admission event", zap.Error(err), zap.String("event_type", ev.EventType))
	}
}

// storeFailed applies the failure mode to a store error. It returns true when
// the caller must stop and deny.
func (g *Guard) storeFailed(ctx context.Context, d *Decision, stage string, err error, ev models.AdmissionEvent) bool {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	g.Logger.Warn("admission store failure",
		zap.String("stage", stage),
		zap.String("failure_mode", string(g.cfg.FailureMode)),
		zap.Error(err))

	if ev.Detail == nil {
		ev.Detail = map[string]string{}
	}
	ev.Detail["stage"] = stage
	ev.Detail["failure_mode"] = string(g.cfg.FailureMode)
	g.emit(ctx, ev)

	if logic.ShouldAllow(g.cfg.FailureMode, err) {
		d.Degraded = true
		d.Trace.AddStepWithDetails(stage, "store_error_fail_open", map[string]string{"error": err.Error()})
		return false
	}
	span.SetStatus(codes.Error, "store unavailable")
	d.Trace.AddStepWithDetails(stage, "store_error_fail_closed", map[string]string{"error": err.Error()})
	d.deny(OutcomeUnavailable)
	return true
}

// checkSuspension denies d when userID is suspended. It returns true when the
// caller must stop.
func (g *Guard) checkSuspension(ctx context.Context, d *Decision, userID, endpoint string, client models.ClientContext) bool {
	if userID == "" || g.Suspensions == nil {
		return false
	}
	st, err := g.Suspensions.CheckActive(ctx, userID)
	if err != nil {
		return g.storeFailed(ctx, d, "suspension", err,
			g.event(models.EventStoreFailure, "user:"+userID, endpoint, userID, client, nil))
	}
	if !st.Suspended {
		d.Trace.AddStep("suspension", "clear")
		return false
	}

	d.Suspension = &st
	d.deny(OutcomeSuspended)
	d.Trace.AddStepWithDetails("suspension", "suspended", map[string]string{"reason": st.Reason})
	g.Metrics.IncrementSuspensionDenials()
	g.emit(ctx, g.event(models.EventSuspended, "user:"+userID, endpoint, userID, client,
		map[string]string{"reason": st.Reason}))
	return true
}

// consume runs one limiter. It returns true when the caller must stop.
func (g *Guard) consume(ctx context.Context, d *Decision, l *ratelimit.Limiter, identity, endpoint, userID string, cfg ratelimit.WindowConfig, client models.ClientContext) bool {
	stage := "ratelimit_" + l.Scope()
	qualified := l.Scope() + ":" + identity
	res, err := l.CheckAndConsume(ctx, identity, endpoint, cfg)
	if err != nil {
		return g.storeFailed(ctx, d, stage, err,
			g.event(models.EventStoreFailure, qualified, endpoint, userID, client, nil))
	}

	// The first limiter to deny, or the most restrictive allowance, is reported.
	if d.RateLimit == nil || !res.Allowed || res.Remaining < d.RateLimit.Remaining {
		r := res
		d.RateLimit = &r
	}
	if res.Allowed {
		d.Trace.AddStep(stage, "allowed")
		return false
	}

	d.deny(OutcomeRateLimited)
	d.Trace.AddStepWithDetails(stage, "denied", map[string]string{"limit": itoa(cfg.MaxRequests)})
	g.emit(ctx, g.event(models.EventRateLimited, qualified, endpoint, userID, client,
		map[string]string{"scope": l.Scope(), "limit": itoa(cfg.MaxRequests)}))
	return true
}

// checkLock denies d if any of identifiers is locked for attemptType.
func (g *Guard) checkLock(ctx context.Context, d *Decision, attemptType, endpoint, userID string, client models.ClientContext, identifiers ...string) bool {
	if g.Lockout == nil {
		return false
	}
	var worst *lockout.Status
	for _, id := range identifiers {
		if id == "" {
			continue
		}
		st, err := g.Lockout.CheckAllowed(ctx, id, attemptType)
		if err != nil {
			if g.storeFailed(ctx, d, "lockout", err,
				g.event(models.EventStoreFailure, id, endpoint, userID, client, nil)) {
				return true
			}
			continue
		}
		worst = moreRestrictive(worst, st)
	}
	if worst == nil {
		return false
	}
	d.Lockout = worst
	if worst.Allowed {
		d.Trace.AddStep("lockout", "clear")
		return false
	}

	d.deny(OutcomeLockedOut)
	d.Trace.AddStepWithDetails("lockout", "locked", map[string]string{"attempt_type": attemptType})
	return true
}

// CheckRequest admits or denies req: suspension first, then the per-user or
// per-IP rate limit, then the lockout state for authentication endpoints.
func (g *Guard) CheckRequest(ctx context.Context, req Request) Decision {
	ctx, span := tracer.Start(ctx, "admission.CheckRequest",
		trace.WithAttributes(
			attribute.String("endpoint", req.Endpoint),
			attribute.String("tier", string(req.Tier)),
			attribute.Bool("authenticated", req.UserID != ""),
		))
	defer span.End()

	d := g.newDecision()
	defer func() {
		span.SetAttributes(attribute.String("admission.outcome", string(d.Outcome)))
	}()

	if g.checkSuspension(ctx, &d, req.UserID, req.Endpoint, req.Client) {
		return d
	}

	attemptType, isAuth := ratelimit.AuthAttemptType(req.Endpoint)
	if req.UserID != "" && g.Users != nil {
		cfg := g.cfg.TierQuotas.For(req.Tier, req.Endpoint)
		if g.consume(ctx, &d, g.Users, req.UserID, req.Endpoint, req.UserID, cfg, req.Client) {
			return d
		}
	}
	if (req.UserID == "" || isAuth) && g.IPs != nil {
		ip := req.Client.IP
		if ip == "" {
			ip = "unknown"
		}
		if g.consume(ctx, &d, g.IPs, ip, req.Endpoint, req.UserID, g.cfg.IPQuotas.For(req.Endpoint), req.Client) {
			return d
		}
	}

	if isAuth && g.checkLock(ctx, &d, attemptType, req.Endpoint, req.UserID, req.Client, req.Identifier, req.Client.IP) {
		g.emit(ctx, g.event(models.EventLockedOut, req.Identifier, req.Endpoint, req.UserID, req.Client,
			map[string]string{"attempt_type": attemptType}))
		return d
	}
	return d
}
