package ratelimit

import (
	"strings"
	"time"

	"github.com/imghost/abuseguard/internal/models"
)

// Unlimited is the quota used for tiers without a practical cap.
const Unlimited int64 = 1_000_000_000

// TierQuota holds the per-window quotas for one tier.
type TierQuota struct {
	Uploads  int64
	APICalls int64
}

// TierQuotas maps tiers to their per-user quotas.
type TierQuotas struct {
	Window time.Duration
	Tiers  map[models.Tier]TierQuota
}

// DefaultTierQuotas returns the standard daily quotas.
func DefaultTierQuotas(window time.Duration) TierQuotas {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return TierQuotas{
		Window: window,
		Tiers: map[models.Tier]TierQuota{
			models.TierFree:       {Uploads: 0, APICalls: 100},
			models.TierTrial:      {Uploads: 100, APICalls: 5000},
			models.TierStarter:    {Uploads: 1000, APICalls: 5000},
			models.TierPro:        {Uploads: 10000, APICalls: 50000},
			models.TierBusiness:   {Uploads: Unlimited, APICalls: Unlimited},
			models.TierEnterprise: {Uploads: Unlimited, APICalls: Unlimited},
		},
	}
}

// For returns the quota a user on tier has for endpoint. Unknown tiers get
// the free quota.
func (q TierQuotas) For(tier models.Tier, endpoint string) WindowConfig {
	quota, ok := q.Tiers[tier]
	if !ok {
		quota = q.Tiers[models.TierFree]
	}
	max := quota.APICalls
	if IsUploadEndpoint(endpoint) {
		max = quota.Uploads
	}
	return WindowConfig{Window: q.Window, MaxRequests: max}
}

// IPQuotas are the flat per-IP quotas applied to anonymous traffic.
type IPQuotas struct {
	Window   time.Duration
	Register int64
	Login    int64
	Default  int64
}

// DefaultIPQuotas returns the standard hourly per-IP quotas.
func DefaultIPQuotas() IPQuotas {
	return IPQuotas{Window: time.Hour, Register: 10, Login: 10, Default: 100}
}

// For returns the per-IP quota for endpoint.
func (q IPQuotas) For(endpoint string) WindowConfig {
	max := q.Default
	if typ, ok := AuthAttemptType(endpoint); ok {
		switch typ {
		case models.AttemptRegister:
			max = q.Register
		case models.AttemptLogin:
			max = q.Login
		}
	}
	return WindowConfig{Window: q.Window, MaxRequests: max}
}

func segments(endpoint string) []string {
	parts := strings.Split(strings.ToLower(strings.Trim(endpoint, "/ ")), "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsUploadEndpoint reports whether endpoint is an upload route, such as
// "/upload" or "/v1/uploads/screen".
func IsUploadEndpoint(endpoint string) bool {
	for _, s := range segments(endpoint) {
		if strings.HasPrefix(s, "upload") {
			return true
		}
	}
	return false
}

// AuthAttemptType maps an authentication route to its lockout attempt type.
// Only the last path segment is considered.
func AuthAttemptType(endpoint string) (string, bool) {
	segs := segments(endpoint)
	if len(segs) == 0 {
		return "", false
	}
	switch segs[len(segs)-1] {
	case "login", "signin":
		return models.AttemptLogin, true
	case "register", "signup":
		return models.AttemptRegister, true
	}
	return "", false
}
