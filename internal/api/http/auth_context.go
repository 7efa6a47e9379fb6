package httpapi

import (
	"context"

	"github.com/google/uuid"

	"github.com/nestfind/nestfind/internal/domain/lifecycle"
	"github.com/nestfind/nestfind/internal/domain/user"
)

type authContextKey string

const authUserKey authContextKey = "authUser"

// AuthUser represents the authenticated user in context.
type AuthUser struct {
	UserID    uuid.UUID
	Username  string
	Role      user.Role
	SessionID uuid.UUID
}

// Actor is the engine principal for u. A nil user is an anonymous visitor.
func (u *AuthUser) Actor() lifecycle.Actor {
	if u == nil {
		return lifecycle.Actor{}
	}
	return lifecycle.Actor{UserID: u.UserID, Role: u.Role}
}

func withAuthUser(ctx context.Context, u *AuthUser) context.Context {
	if u == nil {
		return ctx
	}
	return context.WithValue(ctx, authUserKey, u)
}

func authUserFromContext(ctx context.Context) *AuthUser {
	val := ctx.Value(authUserKey)
	if v, ok := val.(*AuthUser); ok {
		return v
	}
	return nil
}

func actorFromContext(ctx context.Context) lifecycle.Actor {
	return authUserFromContext(ctx).Actor()
}
