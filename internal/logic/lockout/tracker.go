// Package lockout tracks consecutive authentication failures and applies
// escalating lockouts.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imghost/abuseguard/internal/logic"
	"github.com/imghost/abuseguard/internal/models"
	"github.com/imghost/abuseguard/internal/observability"
)

// ErrEmptyIdentifier is returned when no identifier is supplied.
var ErrEmptyIdentifier = errors.New("lockout: identifier is required")

// AttemptStore persists failed-attempt records. UpdateAttempt must apply
// mutate atomically with respect to other writers of the same record; mutate
// may be invoked more than once and receives nil when no record exists.
type AttemptStore interface {
	GetAttempt(ctx context.Context, identifier, attemptType string) (*models.FailedAttemptRecord, error)
	UpdateAttempt(ctx context.Context, identifier, attemptType string, ttl time.Duration, mutate func(*models.FailedAttemptRecord) *models.FailedAttemptRecord) (*models.FailedAttemptRecord, error)
	DeleteAttempt(ctx context.Context, identifier, attemptType string) error
}

// DefaultEscalation is the lockout duration table indexed by
// min(attemptCount-MaxAttempts, len-1).
var DefaultEscalation = []time.Duration{
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	time.Hour,
	24 * time.Hour,
}

// Config controls the lockout policy.
type Config struct {
	MaxAttempts  int
	CaptchaAfter int
	IdleReset    time.Duration
	Escalation   []time.Duration

	// Retention is how long an untouched record survives in the store. It
	// must exceed both IdleReset and the longest escalation step.
	Retention time.Duration
}

// DefaultConfig returns the standard policy: lock after 5 failures, CAPTCHA
// from the 3rd, reset after an hour of quiet.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		CaptchaAfter: 3,
		IdleReset:    time.Hour,
		Escalation:   DefaultEscalation,
		Retention:    25 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.CaptchaAfter <= 0 {
		c.CaptchaAfter = d.CaptchaAfter
	}
	if c.IdleReset <= 0 {
		c.IdleReset = d.IdleReset
	}
	if len(c.Escalation) == 0 {
		c.Escalation = d.Escalation
	}
	if c.Retention <= 0 {
		c.Retention = d.Retention
	}
	return c
}

// Status is the outcome of a lockout check or a recorded failure.
type Status struct {
	Allowed           bool       `json:"allowed"`
	RemainingAttempts int        `json:"remaining_attempts"`
	LockedUntil       *time.Time `json:"locked_until,omitempty"`
	RequiresCaptcha   bool       `json:"requires_captcha"`
	AttemptCount      int        `json:"attempt_count"`
}

// RetryAfter returns the time left on the lock, or zero when not locked.
func (s Status) RetryAfter(now time.Time) time.Duration {
	if s.LockedUntil == nil {
		return 0
	}
	if d := s.LockedUntil.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Tracker implements the failed-attempt state machine on top of an AttemptStore.
type Tracker struct {
	store   AttemptStore
	cfg     Config
	metrics observability.MetricsRegistry
	now     func() time.Time
}

// NewTracker creates a tracker. Zero config fields take their defaults.
func NewTracker(store AttemptStore, cfg Config, metrics observability.MetricsRegistry) *Tracker {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Tracker{store: store, cfg: cfg.withDefaults(), metrics: metrics, now: time.Now}
}

// SetClock overrides the time source (for testing).
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// Config returns the effective policy.
func (t *Tracker) Config() Config {
	return t.cfg
}

func (t *Tracker) idle(rec *models.FailedAttemptRecord, now time.Time) bool {
	return now.Sub(rec.LastAttemptAt) > t.cfg.IdleReset
}

func (t *Tracker) lockFor(count int) time.Duration {
	i := count - t.cfg.MaxAttempts
	if i >= len(t.cfg.Escalation) {
		i = len(t.cfg.Escalation) - 1
	}
	return t.cfg.Escalation[i]
}

func (t *Tracker) remaining(count int) int {
	if r := t.cfg.MaxAttempts - count; r > 0 {
		return r
	}
	return 0
}

func lockedStatus(rec *models.FailedAttemptRecord) Status {
	until := *rec.LockedUntil
	return Status{
		LockedUntil:     &until,
		RequiresCaptcha: true,
		AttemptCount:    rec.AttemptCount,
	}
}

// RecordFailure registers one failed attempt for identifier and returns the
// resulting status. While a lock is in force the attempt is denied and the
// record is left untouched.
func (t *Tracker) RecordFailure(ctx context.Context, identifier, attemptType string) (Status, error) {
	if identifier == "" {
		return Status{}, ErrEmptyIdentifier
	}
	now := t.now()

	var (
		st       Status
		newLock  bool
		recorded bool
	)
	_, err := t.store.UpdateAttempt(ctx, identifier, attemptType, t.cfg.Retention, func(cur *models.FailedAttemptRecord) *models.FailedAttemptRecord {
		newLock, recorded = false, false
		if cur.Locked(now) {
			st = lockedStatus(cur)
			return nil
		}

		next := &models.FailedAttemptRecord{
			Identifier:    identifier,
			AttemptType:   attemptType,
			AttemptCount:  1,
			LastAttemptAt: now,
		}
		if cur != nil && !t.idle(cur, now) {
			next.AttemptCount = cur.AttemptCount + 1
			next.LockedUntil = cur.LockedUntil
		}

		if next.AttemptCount >= t.cfg.MaxAttempts {
			until := now.Add(t.lockFor(next.AttemptCount))
			if next.LockedUntil == nil || until.After(*next.LockedUntil) {
				next.LockedUntil = &until
			}
			newLock = true
		}

		recorded = true
		st = Status{
			Allowed:           !newLock,
			RemainingAttempts: t.remaining(next.AttemptCount),
			RequiresCaptcha:   next.AttemptCount >= t.cfg.CaptchaAfter,
			AttemptCount:      next.AttemptCount,
		}
		if newLock {
			until := *next.LockedUntil
			st.LockedUntil = &until
		}
		return next
	})
	if err != nil {
		t.metrics.IncrementStoreErrors("lockout")
		return Status{}, fmt.Errorf("%w: record failure: %v", logic.ErrStoreUnavailable, err)
	}

	if recorded {
		t.metrics.IncrementAuthFailures(attemptType)
	}
	if newLock {
		t.metrics.IncrementLockouts(attemptType)
	}
	return st, nil
}

// CheckAllowed reports the current status without recording anything.
func (t *Tracker) CheckAllowed(ctx context.Context, identifier, attemptType string) (Status, error) {
	if identifier == "" {
		return Status{}, ErrEmptyIdentifier
	}
	rec, err := t.store.GetAttempt(ctx, identifier, attemptType)
	if err != nil {
		t.metrics.IncrementStoreErrors("lockout")
		return Status{}, fmt.Errorf("%w: check attempt: %v", logic.ErrStoreUnavailable, err)
	}

	now := t.now()
	if rec.Locked(now) {
		return lockedStatus(rec), nil
	}
	if rec == nil || t.idle(rec, now) {
		return Status{Allowed: true, RemainingAttempts: t.cfg.MaxAttempts}, nil
	}
	return Status{
		Allowed:           true,
		RemainingAttempts: t.remaining(rec.AttemptCount),
		RequiresCaptcha:   rec.AttemptCount >= t.cfg.CaptchaAfter,
		AttemptCount:      rec.AttemptCount,
	}, nil
}

// Clear drops the record after a successful authentication.
func (t *Tracker) Clear(ctx context.Context, identifier, attemptType string) error {
	if identifier == "" {
		return ErrEmptyIdentifier
	}
	if err := t.store.DeleteAttempt(ctx, identifier, attemptType); err != nil {
		t.metrics.IncrementStoreErrors("lockout")
		return fmt.Errorf("%w: clear attempts: %v", logic.ErrStoreUnavailable, err)
	}
	return nil
}
