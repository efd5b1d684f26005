package models

import "time"

// ReportStatus is the review state of an abuse report.
type ReportStatus string

const (
	ReportPending   ReportStatus = "pending"
	ReportReviewing ReportStatus = "reviewing"
	ReportResolved  ReportStatus = "resolved"
	ReportDismissed ReportStatus = "dismissed"
)

// Terminal reports whether no further transition is possible from s.
func (s ReportStatus) Terminal() bool {
	return s == ReportResolved || s == ReportDismissed
}

// Valid reports whether s is a known status.
func (s ReportStatus) Valid() bool {
	switch s {
	case ReportPending, ReportReviewing, ReportResolved, ReportDismissed:
		return true
	}
	return false
}

// PriorStatuses returns the statuses a report may be in for a move to s to be
// allowed. Transitions only go forward; pending may jump straight to a
// terminal state.
func PriorStatuses(s ReportStatus) []ReportStatus {
	switch s {
	case ReportReviewing:
		return []ReportStatus{ReportPending}
	case ReportResolved, ReportDismissed:
		return []ReportStatus{ReportPending, ReportReviewing}
	default:
		return nil
	}
}

// CanTransition reports whether a report may move from one status to another.
func CanTransition(from, to ReportStatus) bool {
	for _, s := range PriorStatuses(to) {
		if s == from {
			return true
		}
	}
	return false
}

// Report reasons accepted on submission.
const (
	ReasonNSFW      = "nsfw"
	ReasonCopyright = "copyright"
	ReasonMalware   = "malware"
	ReasonSpam      = "spam"
	ReasonOther     = "other"
)

// ValidReportReason reports whether code is an accepted report reason.
func ValidReportReason(code string) bool {
	switch code {
	case ReasonNSFW, ReasonCopyright, ReasonMalware, ReasonSpam, ReasonOther:
		return true
	}
	return false
}

// AbuseReport is a user-submitted report about uploaded content or another user.
type AbuseReport struct {
	ID              string       `json:"id"`
	TargetID        string       `json:"target_id"`
	ReportedUserID  string       `json:"reported_user_id"`
	ReporterUserID  *string      `json:"reporter_user_id,omitempty"`
	ReporterIP      *string      `json:"reporter_ip,omitempty"`
	Reason          string       `json:"reason"`
	Description     *string      `json:"description,omitempty"`
	Status          ReportStatus `json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
	ReviewedAt      *time.Time   `json:"reviewed_at,omitempty"`
	ReviewedBy      *string      `json:"reviewed_by,omitempty"`
	ResolutionNotes *string      `json:"resolution_notes,omitempty"`
}

// ReportReason describes a predefined reason for reporting content.
type ReportReason struct {
	Code        string `json:"code"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// DefaultReportReasons seeds the report_reasons table.
var DefaultReportReasons = []ReportReason{
	{Code: ReasonNSFW, DisplayName: "Adult content", Description: "Sexual or otherwise not-safe-for-work imagery", Severity: "high"},
	{Code: ReasonCopyright, DisplayName: "Copyright infringement", Description: "Content uploaded without the rights holder's permission", Severity: "medium"},
	{Code: ReasonMalware, DisplayName: "Malware or security risk", Description: "File carries executable or otherwise harmful payload", Severity: "critical"},
	{Code: ReasonSpam, DisplayName: "Spam", Description: "Bulk or unsolicited uploads", Severity: "low"},
	{Code: ReasonOther, DisplayName: "Other", Description: "Other issue", Severity: "medium"},
}
