// Package token issues and verifies the HMAC-signed bearer tokens that
// identify moderators on review endpoints and the upstream services that
// call the admission endpoints.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalid = errors.New("invalid token")
	ErrExpired = errors.New("token expired")
)

// Token roles. Moderators and admins are reviewers; service tokens are held
// by the application that reports auth outcomes and uploads.
const (
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
	RoleService   = "service"
)

// MaxSubjectLength bounds the reviewer or service ID carried in a token.
const MaxSubjectLength = 64

// payload structure for encoding/decoding
type payload struct {
	Sub  string `json:"sub"`  // Reviewer or service ID
	Role string `json:"role"`
	TS   int64  `json:"t"`
}

// Claims are the verified contents of a token.
type Claims struct {
	Subject  string
	Role     string
	IssuedAt time.Time
}

// IsReviewer reports whether the token belongs to a moderator or admin.
func (c Claims) IsReviewer() bool {
	return c.Role == RoleModerator || c.Role == RoleAdmin
}

// CanSuspend reports whether the reviewer may suspend or reinstate users.
func (c Claims) CanSuspend() bool {
	return c.Role == RoleAdmin
}

func validRole(role string) bool {
	return role == RoleModerator || role == RoleAdmin || role == RoleService
}

// Generate creates a signed token for subject with role.
func Generate(subject, role string, secret []byte) (string, error) {
	return generateAt(subject, role, time.Now(), secret)
}

func generateAt(subject, role string, at time.Time, secret []byte) (string, error) {
	if subject == "" || len(subject) > MaxSubjectLength {
		return "", fmt.Errorf("token subject must be 1-%d characters", MaxSubjectLength)
	}
	if !validRole(role) {
		return "", fmt.Errorf("unknown reviewer role %q", role)
	}
	if len(secret) == 0 {
		return "", errors.New("token secret is empty")
	}

	data, err := json.Marshal(payload{Sub: subject, Role: role, TS: at.Unix()})
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	sig := mac.Sum(nil)

	enc := base64.RawURLEncoding
	return enc.EncodeToString(data) + "." + enc.EncodeToString(sig), nil
}

// Verify checks the token integrity and expiry and returns its claims. An
// empty secret verifies nothing.
func Verify(token string, secret []byte, ttl time.Duration) (Claims, error) {
	var out Claims
	if len(secret) == 0 {
		return out, ErrInvalid
	}
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return out, ErrInvalid
	}
	enc := base64.RawURLEncoding
	data, err := enc.DecodeString(parts[0])
	if err != nil {
		return out, ErrInvalid
	}
	sig, err := enc.DecodeString(parts[1])
	if err != nil {
		return out, ErrInvalid
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	if !hmac.Equal(mac.Sum(nil), sig) {
		return out, ErrInvalid
	}

	var pl payload
	if err := json.Unmarshal(data, &pl); err != nil {
		return out, ErrInvalid
	}
	if pl.Sub == "" || !validRole(pl.Role) {
		return out, ErrInvalid
	}
	issued := time.Unix(pl.TS, 0)
	if ttl > 0 && time.Since(issued) > ttl {
		return out, ErrExpired
	}
	out.Subject = pl.Sub
	out.Role = pl.Role
	out.IssuedAt = issued
	return out, nil
}

// FromHeader extracts the token from an "Authorization: Bearer <token>" value.
func FromHeader(h string) string {
	const prefix = "bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}
