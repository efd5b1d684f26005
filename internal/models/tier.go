package models

import "strings"

// Tier is the subscription level a user is on. It is resolved by the caller.
type Tier string

const (
	TierFree       Tier = "free"
	TierTrial      Tier = "trial"
	TierStarter    Tier = "starter"
	TierPro        Tier = "pro"
	TierBusiness   Tier = "business"
	TierEnterprise Tier = "enterprise"
)

// ParseTier normalises s into a Tier. Unknown or empty values map to the free tier.
func ParseTier(s string) Tier {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierTrial, TierStarter, TierPro, TierBusiness, TierEnterprise:
		return t
	default:
		return TierFree
	}
}
