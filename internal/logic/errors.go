package logic

import (
	"errors"
	"strings"
)

var (
	// ErrPolicyDenied marks an expected denial (rate limit, lockout,
	// suspension, rejected upload). It is never retried here.
	ErrPolicyDenied = errors.New("policy denied")

	// ErrStoreUnavailable wraps failures of the counter, lockout or suspension store.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrClassificationInconclusive is returned when file bytes match no known
	// signature. Callers treat it as a validation failure.
	ErrClassificationInconclusive = errors.New("classification inconclusive")
)

// FailureMode decides what happens to a request when a store call fails.
type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

// ParseFailureMode maps a config value to a FailureMode, defaulting to FailOpen.
func ParseFailureMode(s string) FailureMode {
	if FailureMode(strings.ToLower(strings.TrimSpace(s))) == FailClosed {
		return FailClosed
	}
	return FailOpen
}

// ShouldAllow determines if a request may proceed given a store error and the
// configured mode.
func ShouldAllow(mode FailureMode, err error) bool {
	if err == nil {
		return true
	}
	return mode == FailOpen
}
