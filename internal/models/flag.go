package models

import "time"

// FlagType classifies a content flag.
type FlagType string

const (
	FlagNSFW       FlagType = "nsfw"
	FlagCopyright  FlagType = "copyright"
	FlagMalware    FlagType = "malware"
	FlagSuspicious FlagType = "suspicious"
)

// Valid reports whether t is a known flag type.
func (t FlagType) Valid() bool {
	switch t {
	case FlagNSFW, FlagCopyright, FlagMalware, FlagSuspicious:
		return true
	}
	return false
}

// ContentFlag is an immutable finding attached to an upload or a user and
// queued for manual review.
type ContentFlag struct {
	ID         string            `json:"id"`
	TargetID   string            `json:"target_id"`
	FlagType   FlagType          `json:"flag_type"`
	Confidence float64           `json:"confidence"`
	FlaggedBy  string            `json:"flagged_by"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
