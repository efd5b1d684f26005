package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/imghost/abuseguard/internal/logic"
	"github.com/imghost/abuseguard/internal/observability"
)

// CounterPurger removes counters whose window started before a horizon.
type CounterPurger interface {
	PurgeCounters(ctx context.Context, before time.Time) (int64, error)
}

// Purge drops counters older than retention. Retention must cover the longest
// configured window so that no live window is removed. It is idempotent and
// safe to run concurrently with request traffic.
func Purge(ctx context.Context, p CounterPurger, retention time.Duration, now time.Time, metrics observability.MetricsRegistry) (int64, error) {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	n, err := p.PurgeCounters(ctx, now.Add(-retention))
	if err != nil {
		metrics.IncrementStoreErrors("counter")
		return n, fmt.Errorf("%w: purge counters: %v", logic.ErrStoreUnavailable, err)
	}
	metrics.AddPurgedCounters(n)
	return n, nil
}
