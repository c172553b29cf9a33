// internal/middleware/logging.go

package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextKey string

// correlationKey carries the per-request correlation id through the request
// context so 5xx responses can be matched to their log lines.
const correlationKey contextKey = "correlation_id"

// CorrelationID returns the request's correlation id, or empty.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey).(string)
	return id
}

// LogMiddleware is an HTTP middleware that tags each request with a
// correlation id and logs method, path, and duration using Logrus.
func LogMiddleware(logger *logrus.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			correlation := r.Header.Get("X-Correlation-Id")
			if correlation == "" {
				correlation = uuid.NewString()
			}
			w.Header().Set("X-Correlation-Id", correlation)
			r = r.WithContext(context.WithValue(r.Context(), correlationKey, correlation))

			next.ServeHTTP(w, r)

			logger.WithFields(logrus.Fields{
				"method":         r.Method,
				"path":           r.URL.Path,
				"duration":       time.Since(start),
				"remote":         r.RemoteAddr,
				"correlation_id": correlation,
			}).Info("HTTP Request")
		})
	}
}
