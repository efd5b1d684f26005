package db

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imghost/abuseguard/internal/models"
)

// setupTestRedis spins up an in-memory Redis and returns a store pointed at it.
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	store := &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: s.Addr()}),
		Ctx:    context.Background(),
	}
	return s, store
}

type counterAndAttemptStore interface {
	IncrementWindow(ctx context.Context, key string, maxRequests int64, ttl time.Duration) (int64, bool, error)
	PurgeCounters(ctx context.Context, before time.Time) (int64, error)
	GetAttempt(ctx context.Context, identifier, attemptType string) (*models.FailedAttemptRecord, error)
	UpdateAttempt(ctx context.Context, identifier, attemptType string, ttl time.Duration, mutate func(*models.FailedAttemptRecord) *models.FailedAttemptRecord) (*models.FailedAttemptRecord, error)
	DeleteAttempt(ctx context.Context, identifier, attemptType string) error
}

func stores(t *testing.T) map[string]counterAndAttemptStore {
	_, rs := setupTestRedis(t)
	return map[string]counterAndAttemptStore{
		"redis":  rs,
		"memory": NewMemoryStore(),
	}
}

func TestIncrementWindowSaturates(t *testing.T) {
	ctx := context.Background()
	key := models.CounterKey{Identity: "ip:203.0.113.1", Endpoint: "/auth/register", WindowStart: time.UnixMilli(0)}.String()

	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for i := int64(1); i <= 3; i++ {
				count, allowed, err := st.IncrementWindow(ctx, key, 3, time.Hour)
				require.NoError(t, err)
				assert.True(t, allowed)
				assert.Equal(t, i, count)
			}
			for i := 0; i < 5; i++ {
				count, allowed, err := st.IncrementWindow(ctx, key, 3, time.Hour)
				require.NoError(t, err)
				assert.False(t, allowed)
				assert.Equal(t, int64(3), count, "saturated counter must not grow")
			}
		})
	}
}

func TestIncrementWindowSetsTTL(t *testing.T) {
	s, rs := setupTestRedis(t)
	key := "ratelimit:user:u1:/upload:0"

	_, _, err := rs.IncrementWindow(context.Background(), key, 10, 90*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, s.TTL(key))

	_, _, err = rs.IncrementWindow(context.Background(), key, 10, 90*time.Minute)
	require.NoError(t, err)
	n, err := rs.GetWindowCount(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	s.FastForward(91 * time.Minute)
	n, err = rs.GetWindowCount(context.Background(), key)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPurgeCounters(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	oldKey := models.CounterKey{Identity: "ip:2001:db8::1", Endpoint: "/login", WindowStart: now.Add(-48 * time.Hour)}.String()
	newKey := models.CounterKey{Identity: "ip:2001:db8::1", Endpoint: "/login", WindowStart: now.Add(-time.Hour)}.String()

	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if m, ok := st.(*MemoryStore); ok {
				m.SetClock(func() time.Time { return now })
			}
			for _, k := range []string{oldKey, newKey} {
				_, _, err := st.IncrementWindow(ctx, k, 5, 72*time.Hour)
				require.NoError(t, err)
			}
			n, err := st.PurgeCounters(ctx, now.Add(-24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			// idempotent
			n, err = st.PurgeCounters(ctx, now.Add(-24*time.Hour))
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestIncrementWindowConcurrentCallers(t *testing.T) {
	const (
		callers = 50
		limit   = 10
	)
	ctx := context.Background()
	key := models.CounterKey{Identity: "user:u1", Endpoint: "/upload", WindowStart: time.UnixMilli(0)}.String()

	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			var (
				wg       sync.WaitGroup
				admitted int64
				failures int64
			)
			start := make(chan struct{})
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					_, allowed, err := st.IncrementWindow(ctx, key, limit, time.Hour)
					if err != nil {
						atomic.AddInt64(&failures, 1)
						return
					}
					if allowed {
						atomic.AddInt64(&admitted, 1)
					}
				}()
			}
			close(start)
			wg.Wait()

			assert.Zero(t, failures)
			assert.Equal(t, int64(limit), admitted)
		})
	}
}

func TestUpdateAttemptConcurrentFailures(t *testing.T) {
	const writers = 8
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			var (
				wg       sync.WaitGroup
				failures int64
			)
			start := make(chan struct{})
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					_, err := st.UpdateAttempt(ctx, "bob@example.com", models.AttemptLogin, time.Hour,
						func(cur *models.FailedAttemptRecord) *models.FailedAttemptRecord {
							next := &models.FailedAttemptRecord{Identifier: "bob@example.com", AttemptType: models.AttemptLogin, LastAttemptAt: now}
							if cur != nil {
								next.AttemptCount = cur.AttemptCount
							}
							next.AttemptCount++
							return next
						})
					if err != nil {
						atomic.AddInt64(&failures, 1)
					}
				}()
			}
			close(start)
			wg.Wait()

			assert.Zero(t, failures)
			rec, err := st.GetAttempt(ctx, "bob@example.com", models.AttemptLogin)
			require.NoError(t, err)
			require.NotNil(t, rec)
			assert.Equal(t, writers, rec.AttemptCount)
		})
	}
}

func TestUpdateAttemptLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Truncate(time.Millisecond)

	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			rec, err := st.GetAttempt(ctx, "alice@example.com", models.AttemptLogin)
			require.NoError(t, err)
			assert.Nil(t, rec)

			bump := func(cur *models.FailedAttemptRecord) *models.FailedAttemptRecord {
				next := &models.FailedAttemptRecord{Identifier: "alice@example.com", AttemptType: models.AttemptLogin, LastAttemptAt: now}
				if cur != nil {
					next.AttemptCount = cur.AttemptCount
				}
				next.AttemptCount++
				if next.AttemptCount >= 2 {
					until := now.Add(time.Minute)
					next.LockedUntil = &until
				}
				return next
			}

			rec, err = st.UpdateAttempt(ctx, "alice@example.com", models.AttemptLogin, 25*time.Hour, bump)
			require.NoError(t, err)
			assert.Equal(t, 1, rec.AttemptCount)
			assert.Nil(t, rec.LockedUntil)

			_, err = st.UpdateAttempt(ctx, "alice@example.com", models.AttemptLogin, 25*time.Hour, bump)
			require.NoError(t, err)

			rec, err = st.GetAttempt(ctx, "alice@example.com", models.AttemptLogin)
			require.NoError(t, err)
			require.NotNil(t, rec)
			assert.Equal(t, 2, rec.AttemptCount)
			assert.True(t, rec.LastAttemptAt.Equal(now))
			require.NotNil(t, rec.LockedUntil)
			assert.True(t, rec.LockedUntil.Equal(now.Add(time.Minute)))

			// a nil mutation leaves the record as it was
			rec, err = st.UpdateAttempt(ctx, "alice@example.com", models.AttemptLogin, 25*time.Hour,
				func(*models.FailedAttemptRecord) *models.FailedAttemptRecord { return nil })
			require.NoError(t, err)
			assert.Equal(t, 2, rec.AttemptCount)

			// types are independent keyspaces
			other, err := st.GetAttempt(ctx, "alice@example.com", models.AttemptRegister)
			require.NoError(t, err)
			assert.Nil(t, other)

			require.NoError(t, st.DeleteAttempt(ctx, "alice@example.com", models.AttemptLogin))
			rec, err = st.GetAttempt(ctx, "alice@example.com", models.AttemptLogin)
			require.NoError(t, err)
			assert.Nil(t, rec)
		})
	}
}

func TestMemoryReportTransition(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	now := time.Now()
	require.NoError(t, m.InsertReport(ctx, &models.AbuseReport{ID: "r1", TargetID: "img-1", Status: models.ReportPending, CreatedAt: now}))

	notes := "duplicate"
	r, err := m.TransitionReport(ctx, "r1", models.ReportDismissed, models.PriorStatuses(models.ReportDismissed), "mod-1", &notes, now)
	require.NoError(t, err)
	assert.Equal(t, models.ReportDismissed, r.Status)
	require.NotNil(t, r.ReviewedBy)
	assert.Equal(t, "mod-1", *r.ReviewedBy)

	_, err = m.TransitionReport(ctx, "r1", models.ReportReviewing, models.PriorStatuses(models.ReportReviewing), "mod-2", nil, now)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = m.TransitionReport(ctx, "missing", models.ReportReviewing, models.PriorStatuses(models.ReportReviewing), "mod-2", nil, now)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryLatestActiveSuspension(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Minute)

	require.NoError(t, m.InsertSuspension(ctx, &models.Suspension{ID: "s1", UserID: "u1", Reason: "spam", SuspendedAt: now.Add(-2 * time.Hour), Active: true}))
	require.NoError(t, m.InsertSuspension(ctx, &models.Suspension{ID: "s2", UserID: "u1", Reason: "old", SuspendedAt: now.Add(-time.Hour), SuspendedUntil: &expired, Active: true}))

	s, err := m.LatestActiveSuspension(ctx, "u1", now)
	require.NoError(t, err)
	assert.Equal(t, "s1", s.ID, "expired newer row must be skipped")

	n, err := m.DeactivateSuspensions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = m.LatestActiveSuspension(ctx, "u1", now)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
