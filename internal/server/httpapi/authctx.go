package httpapi

import (
	"context"

	"github.com/and161185/authkeeper/internal/model"
)

type ctxKey string

const claimsKey ctxKey = "ak.claims"

// WithClaims stores verified access-token claims in ctx.
func WithClaims(ctx context.Context, c *model.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// ClaimsFromCtx fetches the claims placed by RequireBearer.
func ClaimsFromCtx(ctx context.Context) (*model.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*model.Claims)
	return c, ok && c != nil
}
