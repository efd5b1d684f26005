package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/imghost/abuseguard/internal/token"
)

type claimsKey struct{}

// RequireReviewer returns middleware that rejects requests without a valid
// moderator or admin bearer token. The verified claims are stored in the
// context.
func RequireReviewer(secret []byte, ttl time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	return requireRole(secret, ttl, logger, "reviewer token required", token.RoleModerator, token.RoleAdmin)
}

// RequireService returns middleware that admits only callers holding a
// service token. Identity and tier headers are trusted from these callers.
func RequireService(secret []byte, ttl time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	return requireRole(secret, ttl, logger, "service token required", token.RoleService)
}

func requireRole(secret []byte, ttl time.Duration, logger *zap.Logger, missing string, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(secret) == 0 {
				LoggerFromRequest(r, logger).Error("token secret not configured; rejecting request")
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			tok := token.FromHeader(r.Header.Get("Authorization"))
			if tok == "" {
				writeError(w, http.StatusUnauthorized, missing)
				return
			}
			claims, err := token.Verify(tok, secret, ttl)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, token.ErrExpired) {
					msg = "token expired"
				}
				LoggerFromRequest(r, logger).Warn("bearer token rejected", zap.Error(err))
				writeError(w, http.StatusUnauthorized, msg)
				return
			}
			if !hasRole(claims.Role, roles) {
				LoggerFromRequest(r, logger).Warn("bearer token role not allowed",
					zap.String("subject", claims.Subject), zap.String("role", claims.Role))
				writeError(w, http.StatusForbidden, "insufficient role")
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func hasRole(role string, allowed []string) bool {
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	return false
}

// ReviewerFromContext returns the claims stored by RequireReviewer.
func ReviewerFromContext(ctx context.Context) (token.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(token.Claims)
	if !ok || !c.IsReviewer() {
		return token.Claims{}, false
	}
	return c, true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
