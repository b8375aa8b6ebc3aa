// Package auth verifies the bearer identity tokens minted by the platform's
// auth service and exposes the verified identity on the request context.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthenticated = errors.New("missing or invalid identity token")

type contextKey string

const identityKey contextKey = "identity"

// Identity is the verified caller, as attested by the identity provider.
type Identity struct {
	UID   string
	Email string
}

type Claims struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Verify parses and validates a raw bearer token.
func Verify(raw, secret string) (Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid || claims.UID == "" {
		return Identity{}, ErrUnauthenticated
	}
	return Identity{UID: claims.UID, Email: claims.Email}, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// verified identity on the context for downstream handlers.
func Middleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			ident, err := Verify(strings.TrimSpace(strings.TrimPrefix(authz, "Bearer ")), secret)
			if err != nil {
				http.Error(w, "invalid identity token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, ident)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the identity stored by Middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	ident, ok := ctx.Value(identityKey).(Identity)
	return ident, ok && ident.UID != ""
}
