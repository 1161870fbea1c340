package models

import (
	"context"
)

type claimOriginKey struct{}

// Claim origins, recorded on the wallet transaction reference and in logs
const (
	ClaimOriginAuto   = "auto"
	ClaimOriginManual = "manual"
)

// WithClaimOrigin tags a context with who triggered a claim so the store can
// record it without widening the claim parameters.
func WithClaimOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, claimOriginKey{}, origin)
}

// GetClaimOrigin returns the claim origin from context, defaulting to auto.
func GetClaimOrigin(ctx context.Context) string {
	if origin, ok := ctx.Value(claimOriginKey{}).(string); ok && origin != "" {
		return origin
	}
	return ClaimOriginAuto
}
