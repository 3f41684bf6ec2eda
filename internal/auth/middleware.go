package auth

import (
	"context"
	"net/http"

	"github.com/hht-diary/authcore/internal/models"
	pkghttp "github.com/hht-diary/authcore/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// ClaimsContextKey is the key for storing verified token claims in context
	ClaimsContextKey contextKey = "claims"
)

// TokenVerifier verifies a bearer token and returns its claims
type TokenVerifier interface {
	Verify(tokenString string) (*models.TokenClaims, error)
}

// AuthMiddleware requires a valid bearer token and injects its claims into context
func AuthMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := ExtractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				pkghttp.WriteUnauthorized(w, "missing or malformed authorization header")
				return
			}

			claims, err := verifier.Verify(tokenString)
			if err != nil {
				pkghttp.WriteUnauthorized(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClaimsFromContext extracts verified claims from request context
func GetClaimsFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(ClaimsContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}
