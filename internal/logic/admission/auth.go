package admission

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/imghost/abuseguard/internal/logic/lockout"
	"github.com/imghost/abuseguard/internal/models"
)

// ErrUnknownAttemptType is returned for attempt types the guard does not track.
var ErrUnknownAttemptType = errors.New("admission: unknown attempt type")

// AuthAttempt identifies the subject of an authentication outcome.
type AuthAttempt struct {
	Identifier  string
	AttemptType string
	Client      models.ClientContext
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func validAttemptType(t string) bool {
	switch t {
	case models.AttemptLogin, models.AttemptRegister, models.AttemptUploadAbuse:
		return true
	}
	return false
}

func laterLock(a, b lockout.Status) bool {
	if a.LockedUntil == nil {
		return false
	}
	return b.LockedUntil == nil || a.LockedUntil.After(*b.LockedUntil)
}

// moreRestrictive merges st into cur, keeping the status that blocks longest
// or leaves fewest attempts. CAPTCHA requirements are combined.
func moreRestrictive(cur *lockout.Status, st lockout.Status) *lockout.Status {
	if cur == nil {
		return &st
	}
	captcha := cur.RequiresCaptcha || st.RequiresCaptcha
	pick := *cur
	switch {
	case cur.Allowed && !st.Allowed:
		pick = st
	case !cur.Allowed && !st.Allowed:
		if laterLock(st, *cur) {
			pick = st
		}
	case cur.Allowed && st.Allowed:
		if st.RemainingAttempts < cur.RemainingAttempts {
			pick = st
		}
	}
	pick.RequiresCaptcha = captcha
	return &pick
}

// RecordAuthFailure counts one failed authentication against both the
// presented identifier and the client IP, and returns the most restrictive
// resulting status.
func (g *Guard) RecordAuthFailure(ctx context.Context, a AuthAttempt) (Decision, error) {
	if !validAttemptType(a.AttemptType) {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownAttemptType, a.AttemptType)
	}
	if a.Identifier == "" && a.Client.IP == "" {
		return Decision{}, lockout.ErrEmptyIdentifier
	}
	ctx, span := tracer.Start(ctx, "admission.RecordAuthFailure",
		trace.WithAttributes(attribute.String("attempt_type", a.AttemptType)))
	defer span.End()

	d := g.newDecision()
	var worst *lockout.Status
	for _, id := range []string{a.Identifier, a.Client.IP} {
		if id == "" {
			continue
		}
		st, err := g.Lockout.RecordFailure(ctx, id, a.AttemptType)
		if err != nil {
			if g.storeFailed(ctx, &d, "lockout", err,
				g.event(models.EventStoreFailure, id, a.AttemptType, "", a.Client, nil)) {
				return d, nil
			}
			continue
		}
		worst = moreRestrictive(worst, st)
	}

	g.emit(ctx, g.event(models.EventAuthFailure, a.Identifier, a.AttemptType, "", a.Client, nil))
	if worst == nil {
		return d, nil
	}
	d.Lockout = worst
	if !worst.Allowed {
		d.deny(OutcomeLockedOut)
		d.Trace.AddStepWithDetails("lockout", "locked", map[string]string{"attempt_count": itoa(int64(worst.AttemptCount))})
		g.emit(ctx, g.event(models.EventLockedOut, a.Identifier, a.AttemptType, "", a.Client,
			map[string]string{"locked_until": worst.LockedUntil.UTC().Format(time.RFC3339)}))
	} else {
		d.Trace.AddStepWithDetails("lockout", "recorded", map[string]string{"remaining": itoa(int64(worst.RemainingAttempts))})
	}
	span.SetAttributes(attribute.String("admission.outcome", string(d.Outcome)))
	return d, nil
}

// RecordAuthSuccess clears the failure records for the identifier and the
// client IP.
func (g *Guard) RecordAuthSuccess(ctx context.Context, a AuthAttempt) error {
	if !validAttemptType(a.AttemptType) {
		return fmt.Errorf("%w: %q", ErrUnknownAttemptType, a.AttemptType)
	}
	var errs []error
	for _, id := range []string{a.Identifier, a.Client.IP} {
		if id == "" {
			continue
		}
		if err := g.Lockout.Clear(ctx, id, a.AttemptType); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
