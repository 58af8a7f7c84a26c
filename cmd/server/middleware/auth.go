// Package middleware holds the server's echo middleware: JWT authentication
// and tier-aware rate limiting, following the extract-then-store-in-context
// pattern the teacher uses in cmd/orchestrator/middleware.
package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/lyzr/workflows/internal/ratelimit"
)

// ContextKey namespaces values this middleware stores on the echo.Context.
type ContextKey string

const (
	UserIDKey ContextKey = "userId"
	TierKey   ContextKey = "tier"
)

// Claims is the JWT payload this service issues and verifies; Tier drives
// which internal/ratelimit.Tier bucket a request is checked against.
type Claims struct {
	UserID string          `json:"sub"`
	Tier   ratelimit.Tier  `json:"tier"`
	jwt.RegisteredClaims
}

// JWTAuth verifies the bearer token (header, or "token" query param for the
// WebSocket upgrade request, which can't set headers from a browser) and
// stores UserID/Tier in the echo context. A missing or invalid token closes
// the request with 401, matching the WebSocket handler's own 4001 close code
// for the same failure at the protocol level.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := bearerToken(c)
			if raw == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
			}

			c.Set(string(UserIDKey), claims.UserID)
			c.Set(string(TierKey), claims.Tier)
			return next(c)
		}
	}
}

// ParseToken verifies a raw bearer token string directly, for callers like the
// WebSocket handler that must upgrade the connection before they can report a
// protocol-level close code rather than an HTTP error status.
func ParseToken(secret, raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid or expired token")
	}
	return claims, nil
}

func bearerToken(c echo.Context) string {
	return Token(c)
}

// Token extracts the raw bearer token from the Authorization header, falling
// back to a "token" query parameter for the WebSocket upgrade request.
func Token(c echo.Context) string {
	if auth := c.Request().Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return c.QueryParam("token")
}

// UserID retrieves the authenticated user ID stored by JWTAuth.
func UserID(c echo.Context) string {
	v, _ := c.Get(string(UserIDKey)).(string)
	return v
}

// Tier retrieves the authenticated caller's subscription tier; defaults to
// free when JWTAuth didn't run or the claim was empty.
func Tier(c echo.Context) ratelimit.Tier {
	if v, ok := c.Get(string(TierKey)).(ratelimit.Tier); ok && v != "" {
		return v
	}
	return ratelimit.TierFree
}
