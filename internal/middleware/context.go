package middleware

import (
	"context"

	"github.com/localmart/messaging/internal/auth"
)

type contextKey string

const claimsKey contextKey = "claims"

// WithClaims attaches verified token claims to the request context.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// GetClaims returns the claims set by TokenAuth, or nil.
func GetClaims(ctx context.Context) *auth.Claims {
	v, _ := ctx.Value(claimsKey).(*auth.Claims)
	return v
}
