package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/imghost/abuseguard/internal/models"
)

func TestTierQuotas(t *testing.T) {
	q := DefaultTierQuotas(24 * time.Hour)

	tests := []struct {
		tier     models.Tier
		endpoint string
		want     int64
	}{
		{models.TierFree, "/upload", 0},
		{models.TierFree, "/api/images", 100},
		{models.TierTrial, "/v1/uploads/screen", 100},
		{models.TierTrial, "/api/images", 5000},
		{models.TierStarter, "/upload", 1000},
		{models.TierPro, "/upload", 10000},
		{models.TierPro, "/api/albums", 50000},
		{models.TierBusiness, "/upload", Unlimited},
		{models.TierEnterprise, "/api", Unlimited},
		{models.Tier("unknown"), "/upload", 0},
	}
	for _, tt := range tests {
		cfg := q.For(tt.tier, tt.endpoint)
		assert.Equal(t, tt.want, cfg.MaxRequests, "%s %s", tt.tier, tt.endpoint)
		assert.Equal(t, 24*time.Hour, cfg.Window)
	}
}

func TestIPQuotas(t *testing.T) {
	q := DefaultIPQuotas()
	assert.Equal(t, int64(10), q.For("/auth/register").MaxRequests)
	assert.Equal(t, int64(10), q.For("/auth/login/").MaxRequests)
	assert.Equal(t, int64(100), q.For("/api/images").MaxRequests)
	assert.Equal(t, time.Hour, q.For("/").Window)
}

func TestAuthAttemptType(t *testing.T) {
	typ, ok := AuthAttemptType("/v1/auth/Login")
	assert.True(t, ok)
	assert.Equal(t, models.AttemptLogin, typ)

	typ, ok = AuthAttemptType("signup")
	assert.True(t, ok)
	assert.Equal(t, models.AttemptRegister, typ)

	_, ok = AuthAttemptType("/login/help")
	assert.False(t, ok)
	_, ok = AuthAttemptType("")
	assert.False(t, ok)
}

func TestWindowStartAlignment(t *testing.T) {
	now := time.Date(2024, 5, 1, 23, 59, 59, 999e6, time.UTC)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), WindowStart(now, 24*time.Hour))
	assert.Equal(t, time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC), WindowStart(now, time.Minute))
}
