package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/nkiryanov/creatorledger/internal/handlers/userctx"
)

const webhookPrefix = "/webhooks/"

type logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *statusRecorder) Write(p []byte) (int, error) {
	size, err := w.ResponseWriter.Write(p)
	w.size += size
	return size, err
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.ResponseWriter.WriteHeader(statusCode)
	w.status = statusCode
}

// LoggerMiddleware logs every served request.
// Server errors are logged as errors, client errors as warnings.
// Requests are tagged with the authenticated user or the processor that sent the callback
func LoggerMiddleware(l logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx, authenticated := userctx.Track(r.Context())
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r.WithContext(ctx))

			args := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"size", rec.size,
				"duration", time.Since(start),
			}
			if user, ok := authenticated(); ok {
				args = append(args, "user_id", user.ID)
			}
			if processor, ok := strings.CutPrefix(r.URL.Path, webhookPrefix); ok && processor != "" {
				args = append(args, "processor", processor)
			}

			switch {
			case rec.status >= http.StatusInternalServerError:
				l.Error("HTTP request failed", args...)
			case rec.status >= http.StatusBadRequest:
				l.Warn("HTTP request rejected", args...)
			default:
				l.Info("HTTP request served", args...)
			}
		})
	}
}
