package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/BradenHooton/gatekeeper/internal/models"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// SessionContextKey is the key for storing session claims in context
	SessionContextKey contextKey = "session"
)

// SessionDecoder verifies an encoded session token
type SessionDecoder interface {
	Decode(token string) (*models.SessionClaims, error)
}

// SessionMiddleware validates the session token and injects its claims into context.
// The token is read from the session cookie, or from an Authorization: Bearer header.
func SessionMiddleware(decoder SessionDecoder, policies PolicySource) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := tokenFromRequest(r, policies.For(r))
			if token == "" {
				pkghttp.WriteUnauthorized(w, "missing session")
				return
			}

			claims, err := decoder.Decode(token)
			if err != nil {
				pkghttp.WriteUnauthorized(w, "invalid or expired session")
				return
			}

			ctx := context.WithValue(r.Context(), SessionContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireCapability rejects sessions that do not carry capability.
// Must be used after SessionMiddleware.
func RequireCapability(capability string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetSessionFromContext(r)
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}
			if !claims.HasCapability(capability) {
				pkghttp.WriteForbidden(w, "insufficient capability")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetSessionFromContext extracts session claims from request context
func GetSessionFromContext(r *http.Request) *models.SessionClaims {
	claims, ok := r.Context().Value(SessionContextKey).(*models.SessionClaims)
	if !ok {
		return nil
	}
	return claims
}

func tokenFromRequest(r *http.Request, policy CookiePolicy) string {
	if token, err := GetSessionCookie(r, policy); err == nil && token != "" {
		return token
	}

	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
