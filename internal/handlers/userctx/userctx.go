// Package userctx carries the authenticated user through the request context.
package userctx

import (
	"context"

	"github.com/nkiryanov/creatorledger/internal/models"
)

type ctxKey string

const (
	userKey  ctxKey = "user"
	trackKey ctxKey = "user-track"
)

type track struct {
	user models.User
	set  bool
}

// New returns a context with the user.
// The user is also reported to the closest Track up the chain
func New(ctx context.Context, u models.User) context.Context {
	if t, ok := ctx.Value(trackKey).(*track); ok {
		t.user, t.set = u, true
	}
	return context.WithValue(ctx, userKey, u)
}

// Extract the user from the context
func FromContext(ctx context.Context) (models.User, bool) {
	u, ok := ctx.Value(userKey).(models.User)
	return u, ok
}

// Track lets an outer handler learn which user an inner handler authenticated.
// The returned func reports the user once the request is served
func Track(ctx context.Context) (context.Context, func() (models.User, bool)) {
	t := &track{}
	return context.WithValue(ctx, trackKey, t), func() (models.User, bool) {
		return t.user, t.set
	}
}
