package models

import "time"

// Admission event types written to the audit sink.
const (
	EventRateLimited    = "rate_limited"
	EventLockedOut      = "locked_out"
	EventAuthFailure    = "auth_failure"
	EventSuspended      = "suspended"
	EventUploadBlocked  = "upload_blocked"
	EventUploadFlagged  = "upload_flagged"
	EventPatternAlert   = "pattern_alert"
	EventStoreFailure   = "store_failure"
	EventReportCreated  = "report_created"
	EventReportReviewed = "report_reviewed"
)

// AdmissionEvent is one audit row describing a policy decision.
type AdmissionEvent struct {
	Timestamp  time.Time         `json:"timestamp"`
	EventType  string            `json:"event_type"`
	Identity   string            `json:"identity"`
	Endpoint   string            `json:"endpoint"`
	UserID     string            `json:"user_id,omitempty"`
	IP         string            `json:"ip,omitempty"`
	Country    string            `json:"country,omitempty"`
	DeviceType string            `json:"device_type,omitempty"`
	IsBot      bool              `json:"is_bot"`
	Detail     map[string]string `json:"detail,omitempty"`
}
