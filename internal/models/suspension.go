package models

import "time"

// Suspension is one suspension row. A user may have many; only the most
// recent active, unexpired row is authoritative.
type Suspension struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Reason         string     `json:"reason"`
	SuspendedAt    time.Time  `json:"suspended_at"`
	SuspendedUntil *time.Time `json:"suspended_until,omitempty"` // nil means permanent
	SuspendedBy    string     `json:"suspended_by"`
	Active         bool       `json:"active"`
}

// InForce reports whether the suspension gates the user at now.
func (s Suspension) InForce(now time.Time) bool {
	if !s.Active {
		return false
	}
	return s.SuspendedUntil == nil || s.SuspendedUntil.After(now)
}

// SuspensionStatus is the result of an active-suspension lookup.
type SuspensionStatus struct {
	Suspended bool       `json:"suspended"`
	Reason    string     `json:"reason,omitempty"`
	Until     *time.Time `json:"suspended_until,omitempty"`
}
