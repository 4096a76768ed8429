package middleware

import (
	"context"
	"errors"
	"testing"

	"io"
	"net/http"
	"net/http/httptest"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/creatorledger/internal/handlers/userctx"
	"github.com/nkiryanov/creatorledger/internal/models"
)

// Allow to use a function as auth service
type authFunc func(ctx context.Context, r *http.Request) (models.User, error)

func (f authFunc) Authenticate(ctx context.Context, r *http.Request) (models.User, error) {
	return f(ctx, r)
}

type adminFunc func(user models.User) bool

func (f adminFunc) IsAdmin(user models.User) bool {
	return f(user)
}

// Simple handler that try to get user from context
// If ok write its external id to response
func echoUser(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		require.True(t, ok)

		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte(user.ExternalID))
		require.NoError(t, err, "should write external id to response")
	})
}

func get(t *testing.T, h http.Handler) (int, string) {
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/test")
	require.NoError(t, err, "should make request to test server")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "should read response body")
	defer resp.Body.Close() // nolint:errcheck

	return resp.StatusCode, string(body)
}

func TestAuthMiddleware(t *testing.T) {
	t.Run("auth ok", func(t *testing.T) {
		middleware := AuthMiddleware(authFunc(func(ctx context.Context, r *http.Request) (models.User, error) {
			return models.User{ExternalID: "test-user"}, nil
		}))

		status, body := get(t, middleware(echoUser(t)))

		require.Equalf(t, http.StatusOK, status, "should return status OK. Resp: %s", body)
		require.Equal(t, "test-user", body, "should return external id in response")
	})

	t.Run("auth fail", func(t *testing.T) {
		middleware := AuthMiddleware(authFunc(func(ctx context.Context, r *http.Request) (models.User, error) {
			return models.User{}, errors.New("token expired")
		}))

		status, body := get(t, middleware(echoUser(t)))

		require.Equalf(t, http.StatusUnauthorized, status, "should return status Unauthorized. Resp: %s", body)
		require.JSONEq(t,
			`{
				"error": "service_error",
				"message": "Unauthorized"
			}`,
			body,
		)
	})
}

func TestAdminMiddleware(t *testing.T) {
	auth := AuthMiddleware(authFunc(func(ctx context.Context, r *http.Request) (models.User, error) {
		return models.User{ExternalID: "admin", IsAdmin: true}, nil
	}))

	t.Run("admin passes", func(t *testing.T) {
		admin := AdminMiddleware(adminFunc(func(u models.User) bool { return u.IsAdmin }))

		status, body := get(t, auth(admin(echoUser(t))))

		require.Equal(t, http.StatusOK, status)
		require.Equal(t, "admin", body)
	})

	t.Run("not admin forbidden", func(t *testing.T) {
		admin := AdminMiddleware(adminFunc(func(models.User) bool { return false }))

		status, body := get(t, auth(admin(echoUser(t))))

		require.Equal(t, http.StatusForbidden, status)
		require.JSONEq(t, `{"error": "service_error", "message": "Admin privileges required"}`, body)
	})

	t.Run("no user in context", func(t *testing.T) {
		admin := AdminMiddleware(adminFunc(func(models.User) bool { return true }))

		status, _ := get(t, admin(echoUser(t)))

		require.Equal(t, http.StatusUnauthorized, status)
	})
}
