package auth

import (
	"context"

	"PoE-Chain/internal/claims"
)

// identityKey 是上下文中存储调用方身份的键类型。
type identityKey struct{}

// WithIdentity 将经过认证的身份存储到上下文中。
func WithIdentity(ctx context.Context, identity claims.Identity) context.Context {
	if identity == "" {
		return ctx
	}
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext 从上下文中提取经过认证的身份。
func IdentityFromContext(ctx context.Context) (claims.Identity, bool) {
	if ctx == nil {
		return "", false
	}
	identity, ok := ctx.Value(identityKey{}).(claims.Identity)
	return identity, ok && identity != ""
}
