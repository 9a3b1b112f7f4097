// Package middleware hosts authentication, logging, and rate limiting middleware.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// contextKey avoids collisions when storing values in request contexts.
type contextKey string

const ctxPrincipalKey contextKey = "principal_id"

// PrincipalFromContext returns the authenticated caller principal, if any.
func PrincipalFromContext(ctx context.Context) (uuid.UUID, bool) {
	principal, ok := ctx.Value(ctxPrincipalKey).(uuid.UUID)
	return principal, ok
}

// WithPrincipal injects a caller principal into a context. Used by tests.
func WithPrincipal(ctx context.Context, principal uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxPrincipalKey, principal)
}

// AuthMiddleware validates bearer JWTs and injects the caller principal into
// the request context. The engine decides per-operation authorization from
// its own role registry; this layer only establishes identity.
type AuthMiddleware struct {
	jwtSecret string
}

// NewAuthMiddleware constructs an AuthMiddleware with the given secret.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{jwtSecret: secret}
}

// Authenticate enforces bearer auth and populates the principal on the request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if strings.TrimSpace(authHeader) == "" {
			jsonError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			jsonError(w, http.StatusUnauthorized, "Invalid authorization format")
			return
		}
		tokenString := parts[1]

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(m.jwtSecret), nil
		})

		if err != nil || !token.Valid {
			jsonError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			jsonError(w, http.StatusUnauthorized, "Invalid token claims")
			return
		}

		if exp, ok := claims["exp"].(float64); ok {
			if time.Now().Unix() > int64(exp) {
				jsonError(w, http.StatusUnauthorized, "Token expired")
				return
			}
		}

		principalStr, ok := claims["principal_id"].(string)
		if !ok {
			jsonError(w, http.StatusUnauthorized, "Invalid principal in token")
			return
		}

		principal, err := uuid.Parse(principalStr)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "Invalid principal format")
			return
		}

		ctx := context.WithValue(r.Context(), ctxPrincipalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IssueToken mints a signed bearer token for a principal. Used by the
// simulator and tests; production deployments issue tokens elsewhere.
func IssueToken(secret string, principal uuid.UUID, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"principal_id": principal.String(),
		"exp":          time.Now().Add(ttl).Unix(),
		"iat":          time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
