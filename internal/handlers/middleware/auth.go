package middleware

import (
	"context"
	"net/http"

	"github.com/nkiryanov/creatorledger/internal/handlers/render"
	"github.com/nkiryanov/creatorledger/internal/handlers/userctx"
	"github.com/nkiryanov/creatorledger/internal/models"
)

type authService interface {
	Authenticate(ctx context.Context, r *http.Request) (models.User, error)
}

type adminChecker interface {
	IsAdmin(user models.User) bool
}

func AuthMiddleware(as authService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := as.Authenticate(r.Context(), r)
			if err != nil {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := userctx.New(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Must run after AuthMiddleware
func AdminMiddleware(ac adminChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := userctx.FromContext(r.Context())
			switch {
			case !ok:
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
			case !ac.IsAdmin(user):
				render.ServiceError(w, "Admin privileges required", http.StatusForbidden)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
