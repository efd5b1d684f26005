// Package suspension records account suspensions and answers whether a user
// is currently suspended.
package suspension

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imghost/abuseguard/internal/cache"
	"github.com/imghost/abuseguard/internal/logic"
	"github.com/imghost/abuseguard/internal/models"
	"github.com/imghost/abuseguard/internal/observability"
)

// ErrInvalidSuspension is returned for a missing user, reason or a
// non-positive duration.
var ErrInvalidSuspension = errors.New("suspension: user, reason and a positive duration are required")

// Store persists suspension rows.
type Store interface {
	InsertSuspension(ctx context.Context, s *models.Suspension) error
	LatestActiveSuspension(ctx context.Context, userID string, now time.Time) (*models.Suspension, error)
	DeactivateSuspensions(ctx context.Context, userID string) (int64, error)
	ListSuspensions(ctx context.Context, userID string) ([]models.Suspension, error)
}

// Registry answers suspension checks, caching active lookups for a short TTL.
type Registry struct {
	store   Store
	cache   *cache.TTL[string, models.SuspensionStatus]
	logger  *zap.Logger
	metrics observability.MetricsRegistry
	now     func() time.Time
}

// NewRegistry creates a registry. cacheTTL of zero disables caching.
func NewRegistry(store Store, cacheTTL time.Duration, logger *zap.Logger, metrics observability.MetricsRegistry) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Registry{
		store:   store,
		cache:   cache.NewTTL[string, models.SuspensionStatus](cacheTTL),
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// SetClock overrides the time source for the registry and its cache (for testing).
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
	r.cache.SetClock(now)
}

// Cache exposes the lookup cache so the owner can run its cleanup loop.
func (r *Registry) Cache() *cache.TTL[string, models.SuspensionStatus] {
	return r.cache
}

// Suspend creates a new suspension row. A nil duration suspends permanently.
func (r *Registry) Suspend(ctx context.Context, userID, reason string, duration *time.Duration, suspendedBy string) (*models.Suspension, error) {
	userID = strings.TrimSpace(userID)
	reason = strings.TrimSpace(reason)
	if userID == "" || reason == "" || (duration != nil && *duration <= 0) {
		return nil, ErrInvalidSuspension
	}

	now := r.now().UTC()
	s := &models.Suspension{
		ID:          uuid.NewString(),
		UserID:      userID,
		Reason:      reason,
		SuspendedAt: now,
		SuspendedBy: suspendedBy,
		Active:      true,
	}
	if duration != nil {
		until := now.Add(*duration)
		s.SuspendedUntil = &until
	}

	if err := r.store.InsertSuspension(ctx, s); err != nil {
		r.metrics.IncrementStoreErrors("suspension")
		return nil, fmt.Errorf("%w: insert suspension: %v", logic.ErrStoreUnavailable, err)
	}
	r.cache.Delete(userID)
	r.metrics.IncrementSuspensionChanges("suspend")
	r.logger.Info("user suspended",
		zap.String("user_id", userID),
		zap.String("reason", reason),
		zap.String("suspended_by", suspendedBy),
		zap.Bool("permanent", duration == nil))
	return s, nil
}

// CheckActive reports whether userID is suspended right now.
func (r *Registry) CheckActive(ctx context.Context, userID string) (models.SuspensionStatus, error) {
	now := r.now()
	if st, ok := r.cache.Get(userID); ok {
		if !st.Suspended || st.Until == nil || st.Until.After(now) {
			return st, nil
		}
	}

	s, err := r.store.LatestActiveSuspension(ctx, userID, now)
	if errors.Is(err, models.ErrNotFound) {
		st := models.SuspensionStatus{}
		r.cache.Set(userID, st)
		return st, nil
	}
	if err != nil {
		r.metrics.IncrementStoreErrors("suspension")
		return models.SuspensionStatus{}, fmt.Errorf("%w: lookup suspension: %v", logic.ErrStoreUnavailable, err)
	}

	st := models.SuspensionStatus{Suspended: true, Reason: s.Reason, Until: s.SuspendedUntil}
	r.cache.Set(userID, st)
	return st, nil
}

// Lift deactivates every active suspension for userID and returns how many
// rows changed.
func (r *Registry) Lift(ctx context.Context, userID, liftedBy string) (int64, error) {
	n, err := r.store.DeactivateSuspensions(ctx, userID)
	if err != nil {
		r.metrics.IncrementStoreErrors("suspension")
		return 0, fmt.Errorf("%w: lift suspension: %v", logic.ErrStoreUnavailable, err)
	}
	r.cache.Delete(userID)
	if n > 0 {
		r.metrics.IncrementSuspensionChanges("lift")
		r.logger.Info("suspension lifted",
			zap.String("user_id", userID),
			zap.String("lifted_by", liftedBy),
			zap.Int64("rows", n))
	}
	return n, nil
}

// History returns every suspension row for userID, newest first.
func (r *Registry) History(ctx context.Context, userID string) ([]models.Suspension, error) {
	rows, err := r.store.ListSuspensions(ctx, userID)
	if err != nil {
		r.metrics.IncrementStoreErrors("suspension")
		return nil, fmt.Errorf("%w: list suspensions: %v", logic.ErrStoreUnavailable, err)
	}
	return rows, nil
}
