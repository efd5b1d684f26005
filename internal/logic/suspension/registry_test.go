package suspension

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imghost/abuseguard/internal/db"
	"github.com/imghost/abuseguard/internal/logic"
	"github.com/imghost/abuseguard/internal/models"
)

func setup(t *testing.T, cacheTTL time.Duration) (*Registry, *db.MemoryStore, *time.Time) {
	t.Helper()
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	store := db.NewMemoryStore()
	reg := NewRegistry(store, cacheTTL, zap.NewNop(), nil)
	reg.SetClock(func() time.Time { return now })
	return reg, store, &now
}

func dur(d time.Duration) *time.Duration { return &d }

func TestSuspendAndCheck(t *testing.T) {
	reg, _, now := setup(t, 0)
	ctx := context.Background()

	st, err := reg.CheckActive(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, st.Suspended)

	s, err := reg.Suspend(ctx, "u1", "spam uploads", dur(2*time.Hour), "mod-1")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.True(t, s.Active)

	st, err = reg.CheckActive(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, st.Suspended)
	assert.Equal(t, "spam uploads", st.Reason)
	require.NotNil(t, st.Until)
	assert.Equal(t, now.Add(2*time.Hour), *st.Until)

	*now = now.Add(2 * time.Hour)
	st, err = reg.CheckActive(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, st.Suspended, "suspension ends at its until time")
}

func TestPermanentSuspension(t *testing.T) {
	reg, _, now := setup(t, 0)
	ctx := context.Background()

	_, err := reg.Suspend(ctx, "u2", "malware", nil, "mod-1")
	require.NoError(t, err)

	*now = now.Add(365 * 24 * time.Hour)
	st, err := reg.CheckActive(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, st.Suspended)
	assert.Nil(t, st.Until)
}

func TestMostRecentActiveRowWins(t *testing.T) {
	reg, _, now := setup(t, 0)
	ctx := context.Background()

	_, err := reg.Suspend(ctx, "u3", "first", dur(48*time.Hour), "mod-1")
	require.NoError(t, err)
	*now = now.Add(time.Minute)
	_, err = reg.Suspend(ctx, "u3", "second", dur(time.Hour), "mod-2")
	require.NoError(t, err)

	st, err := reg.CheckActive(ctx, "u3")
	require.NoError(t, err)
	assert.Equal(t, "second", st.Reason)

	// Once the newer row expires the older one still applies.
	*now = now.Add(2 * time.Hour)
	st, err = reg.CheckActive(ctx, "u3")
	require.NoError(t, err)
	assert.True(t, st.Suspended)
	assert.Equal(t, "first", st.Reason)
}

func TestCacheInvalidation(t *testing.T) {
	reg, store, _ := setup(t, time.Minute)
	ctx := context.Background()

	st, err := reg.CheckActive(ctx, "u4")
	require.NoError(t, err)
	assert.False(t, st.Suspended)
	assert.Equal(t, 1, reg.Cache().Len())

	// A row written behind the registry's back is hidden by the cache.
	require.NoError(t, store.InsertSuspension(ctx, &models.Suspension{
		ID: "x", UserID: "u4", Reason: "direct", SuspendedAt: time.Now(), Active: true,
	}))
	st, err = reg.CheckActive(ctx, "u4")
	require.NoError(t, err)
	assert.False(t, st.Suspended)

	_, err = reg.Suspend(ctx, "u4", "via registry", nil, "mod")
	require.NoError(t, err)
	st, err = reg.CheckActive(ctx, "u4")
	require.NoError(t, err)
	assert.True(t, st.Suspended)

	n, err := reg.Lift(ctx, "u4", "mod")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	st, err = reg.CheckActive(ctx, "u4")
	require.NoError(t, err)
	assert.False(t, st.Suspended)

	hist, err := reg.History(ctx, "u4")
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestCachedSuspensionExpires(t *testing.T) {
	reg, _, now := setup(t, time.Hour)
	ctx := context.Background()

	_, err := reg.Suspend(ctx, "u5", "short", dur(time.Minute), "mod")
	require.NoError(t, err)
	st, err := reg.CheckActive(ctx, "u5")
	require.NoError(t, err)
	assert.True(t, st.Suspended)

	*now = now.Add(2 * time.Minute)
	st, err = reg.CheckActive(ctx, "u5")
	require.NoError(t, err)
	assert.False(t, st.Suspended)
}

func TestSuspendValidation(t *testing.T) {
	reg, _, _ := setup(t, 0)
	ctx := context.Background()

	_, err := reg.Suspend(ctx, "", "r", nil, "m")
	assert.ErrorIs(t, err, ErrInvalidSuspension)
	_, err = reg.Suspend(ctx, "u", " ", nil, "m")
	assert.ErrorIs(t, err, ErrInvalidSuspension)
	_, err = reg.Suspend(ctx, "u", "r", dur(-time.Second), "m")
	assert.ErrorIs(t, err, ErrInvalidSuspension)
}

type brokenStore struct{}

func (brokenStore) InsertSuspension(context.Context, *models.Suspension) error {
	return errors.New("db down")
}
func (brokenStore) LatestActiveSuspension(context.Context, string, time.Time) (*models.Suspension, error) {
	return nil, errors.New("db down")
}
func (brokenStore) DeactivateSuspensions(context.Context, string) (int64, error) {
	return 0, errors.New("db down")
}
func (brokenStore) ListSuspensions(context.Context, string) ([]models.Suspension, error) {
	return nil, errors.New("db down")
}

func TestStoreFailure(t *testing.T) {
	reg := NewRegistry(brokenStore{}, time.Minute, nil, nil)
	_, err := reg.CheckActive(context.Background(), "u")
	assert.ErrorIs(t, err, logic.ErrStoreUnavailable)
	_, err = reg.Suspend(context.Background(), "u", "r", nil, "m")
	assert.ErrorIs(t, err, logic.ErrStoreUnavailable)
}
