package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestGenerateVerify(t *testing.T) {
	secret := []byte("secret")
	tok, err := Generate("mod-42", RoleModerator, secret)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	c, err := Verify(tok, secret, time.Minute)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if c.Subject != "mod-42" || c.Role != RoleModerator {
		t.Fatalf("unexpected claims: %+v", c)
	}
	if c.CanSuspend() {
		t.Fatalf("moderators must not suspend users")
	}
	if !c.IsReviewer() {
		t.Fatalf("moderators are reviewers")
	}
}

func TestServiceTokenIsNotReviewer(t *testing.T) {
	secret := []byte("secret")
	tok, err := Generate("web-frontend", RoleService, secret)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	c, err := Verify(tok, secret, time.Minute)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if c.Role != RoleService || c.IsReviewer() || c.CanSuspend() {
		t.Fatalf("unexpected claims: %+v", c)
	}
}

func TestVerifyRejectsEmptySecret(t *testing.T) {
	// Anyone can sign with an empty HMAC key.
	data := []byte(`{"sub":"attacker","role":"admin","t":` + strconv.FormatInt(time.Now().Unix(), 10) + `}`)
	mac := hmac.New(sha256.New, nil)
	mac.Write(data)
	enc := base64.RawURLEncoding
	forged := enc.EncodeToString(data) + "." + enc.EncodeToString(mac.Sum(nil))

	if _, err := Verify(forged, nil, time.Hour); err != ErrInvalid {
		t.Fatalf("expected ErrInvalid for nil secret, got %v", err)
	}
	if _, err := Verify(forged, []byte{}, time.Hour); err != ErrInvalid {
		t.Fatalf("expected ErrInvalid for empty secret, got %v", err)
	}
}

func TestVerifyExpired(t *testing.T) {
	secret := []byte("s")
	tok, err := generateAt("admin-1", RoleAdmin, time.Now().Add(-2*time.Hour), secret)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := Verify(tok, secret, time.Hour); err != ErrExpired {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	c, err := Verify(tok, secret, 0)
	if err != nil {
		t.Fatalf("ttl 0 disables expiry, got %v", err)
	}
	if !c.CanSuspend() {
		t.Fatalf("admins may suspend users")
	}
}

func TestVerifyInvalid(t *testing.T) {
	secret := []byte("s")
	tok, _ := Generate("r", RoleModerator, secret)
	if _, err := Verify(tok+"x", secret, time.Minute); err != ErrInvalid {
		t.Fatalf("expected invalid, got %v", err)
	}
	if _, err := Verify(tok, []byte("other"), time.Minute); err != ErrInvalid {
		t.Fatalf("expected invalid for wrong secret, got %v", err)
	}
	if _, err := Verify("garbage", secret, time.Minute); err != ErrInvalid {
		t.Fatalf("expected invalid for malformed token, got %v", err)
	}
}

func TestGenerateValidation(t *testing.T) {
	secret := []byte("s")
	cases := []struct {
		name, id, role string
		secret         []byte
	}{
		{"empty id", "", RoleModerator, secret},
		{"long id", strings.Repeat("x", MaxSubjectLength+1), RoleModerator, secret},
		{"unknown role", "r", "owner", secret},
		{"empty secret", "r", RoleAdmin, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Generate(tc.id, tc.role, tc.secret); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestFromHeader(t *testing.T) {
	if got := FromHeader("Bearer abc.def"); got != "abc.def" {
		t.Fatalf("got %q", got)
	}
	if got := FromHeader("bearer  abc"); got != "abc" {
		t.Fatalf("got %q", got)
	}
	if got := FromHeader("Basic abc"); got != "" {
		t.Fatalf("got %q", got)
	}
	if got := FromHeader(""); got != "" {
		t.Fatalf("got %q", got)
	}
}
