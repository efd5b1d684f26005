package models

import "time"

// Attempt types tracked by the lockout tracker.
const (
	AttemptLogin       = "login"
	AttemptRegister    = "register"
	AttemptUploadAbuse = "upload_abuse"
)

// FailedAttemptRecord holds consecutive failures for an identifier. It is
// deleted on successful authentication.
type FailedAttemptRecord struct {
	Identifier    string     `json:"identifier"`
	AttemptType   string     `json:"attempt_type"`
	AttemptCount  int        `json:"attempt_count"`
	LastAttemptAt time.Time  `json:"last_attempt_at"`
	LockedUntil   *time.Time `json:"locked_until,omitempty"`
}

// Locked reports whether the record holds a lock that is still in force at now.
func (r *FailedAttemptRecord) Locked(now time.Time) bool {
	return r != nil && r.LockedUntil != nil && r.LockedUntil.After(now)
}
