package auth

import (
	"context"
	"errors"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID   string
	TenantID string
	Role     string
}

var ErrNoIdentity = errors.New("identity not in context")

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, error) {
	if id, ok := ctx.Value(ctxKey{}).(Identity); ok && id.UserID != "" {
		return id, nil
	}
	return Identity{}, ErrNoIdentity
}

func UserID(ctx context.Context) (string, error) {
	id, err := IdentityFrom(ctx)
	if err != nil {
		return "", err
	}
	return id.UserID, nil
}

func TenantID(ctx context.Context) (string, error) {
	id, err := IdentityFrom(ctx)
	if err != nil || id.TenantID == "" {
		return "", errors.New("tenant_id not in context")
	}
	return id.TenantID, nil
}

func Role(ctx context.Context) (string, error) {
	id, err := IdentityFrom(ctx)
	if err != nil || id.Role == "" {
		return "", errors.New("role not in context")
	}
	return id.Role, nil
}
