package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxName
	ctxRole
)

func WithIdentity(ctx context.Context, userID, name, role string) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxName, name)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

func UserID(ctx context.Context) (string, error) {
	return fromCtx(ctx, ctxUserID, "user_id")
}

// Name returns the provider name or customer username of the caller.
func Name(ctx context.Context) (string, error) {
	return fromCtx(ctx, ctxName, "name")
}

func Role(ctx context.Context) (string, error) {
	return fromCtx(ctx, ctxRole, "role")
}

func fromCtx(ctx context.Context, key ctxKey, label string) (string, error) {
	if s, ok := ctx.Value(key).(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New(label + " not in context")
}
