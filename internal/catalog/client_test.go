package catalog

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/creatorledger/internal/logger"
	"github.com/nkiryanov/creatorledger/internal/processor/apiclient"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return NewClient(Config{
		BaseURL: srv.URL,
		Transport: apiclient.Config{
			MaxAttempts:     2,
			InitialInterval: time.Millisecond,
		},
	}, logger.NewNoOpLogger())
}

func TestClient(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/creators/{id}/content/count", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("id") {
		case "creator-1":
			_, _ = w.Write([]byte(`{"public_videos":3,"public_streams":2}`))
		case "broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	mux.HandleFunc("GET /api/videos/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "video-1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"owner_id":"creator-1"}`))
	})
	mux.HandleFunc("GET /api/streams/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"owner_id":"creator-2"}`))
	})

	c := newTestClient(t, mux)

	t.Run("content count sums videos and streams", func(t *testing.T) {
		count, err := c.PublicContentCount(t.Context(), "creator-1")

		require.NoError(t, err)
		require.Equal(t, 5, count)
	})

	t.Run("unknown creator", func(t *testing.T) {
		_, err := c.PublicContentCount(t.Context(), "nobody")

		require.ErrorIs(t, err, ErrContentNotFound)
	})

	t.Run("catalog failure", func(t *testing.T) {
		_, err := c.PublicContentCount(t.Context(), "broken")

		require.Error(t, err)
		require.NotErrorIs(t, err, ErrContentNotFound)
	})

	t.Run("video owner", func(t *testing.T) {
		owner, err := c.VideoOwner(t.Context(), "video-1")
		require.NoError(t, err)
		require.Equal(t, "creator-1", owner)

		_, err = c.VideoOwner(t.Context(), "video-2")
		require.ErrorIs(t, err, ErrContentNotFound)
	})

	t.Run("stream owner", func(t *testing.T) {
		owner, err := c.StreamOwner(t.Context(), "stream-1")

		require.NoError(t, err)
		require.Equal(t, "creator-2", owner)
	})
}
