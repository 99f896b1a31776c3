package authentication

import (
	"context"
)

type CurrentUser struct {
	Subject         string
	IsAuthenticated bool
}

var CurrentUserContextKey = &CurrentUser{}

func ContextWithCurrentUser(ctx context.Context, user CurrentUser) context.Context {
	return context.WithValue(ctx, CurrentUserContextKey, user)
}

func GetCurrentUser(ctx context.Context) CurrentUser {
	value, ok := ctx.Value(CurrentUserContextKey).(CurrentUser)
	if !ok {
		panic("current user not found")
	}
	return value
}

// FindCurrentUser is GetCurrentUser for routes that may run without the
// authentication middleware.
func FindCurrentUser(ctx context.Context) (CurrentUser, bool) {
	value, ok := ctx.Value(CurrentUserContextKey).(CurrentUser)
	return value, ok
}
