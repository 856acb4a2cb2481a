package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ScopeUsageSync grants access to the usage admin API
const ScopeUsageSync = "usage:sync"

// AdminClaims are the claims carried by admin bearer tokens
type AdminClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// HasScope reports whether the space-separated scope list contains s
func (c *AdminClaims) HasScope(s string) bool {
	return slices.Contains(strings.Fields(c.Scope), s)
}

// SignAdminToken issues an HS256 admin token for subject
func SignAdminToken(cfg AuthConfig, subject string, ttl time.Duration) (string, error) {
	if len(cfg.Secret) == 0 {
		return "", fmt.Errorf("admin token secret is not configured")
	}
	now := time.Now()
	claims := AdminClaims{
		Scope: ScopeUsageSync,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.Secret)
}

// AuthMiddleware validates the admin bearer token and adds the subject to context
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(h.auth.Secret) == 0 {
			respondError(w, http.StatusUnauthorized, "admin api is disabled")
			return
		}

		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			respondError(w, http.StatusUnauthorized, "bearer token required")
			return
		}

		claims := &AdminClaims{}
		_, err := jwt.ParseWithClaims(raw, claims,
			func(t *jwt.Token) (any, error) { return h.auth.Secret, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(h.auth.Issuer),
			jwt.WithExpirationRequired(),
		)
		if err != nil {
			slog.WarnContext(r.Context(), "rejected admin token", "reason", err.Error())
			respondError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		if !claims.HasScope(ScopeUsageSync) {
			respondError(w, http.StatusForbidden, "token lacks usage:sync scope")
			return
		}

		ctx := context.WithValue(r.Context(), actorIDKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
