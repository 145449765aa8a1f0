package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rpattn/opscrm/internal/auth"
	"github.com/rpattn/opscrm/internal/httpapi"
	"github.com/rpattn/opscrm/internal/logger"
	"github.com/rpattn/opscrm/internal/metrics"

	"github.com/google/uuid"
)

// HeaderRequestID is echoed back on every response.
const HeaderRequestID = "X-Request-ID"

// responseWriter captures HTTP status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware attaches a request-scoped logger and logs each request with its duration.
func LoggingMiddleware(base *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := r.Header.Get(HeaderRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, requestID)

			ctx := logger.SetRequestID(base.WithContext(r.Context()), requestID)
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r.WithContext(ctx))

			duration := time.Since(start)
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, strconv.Itoa(rw.statusCode)).Observe(duration.Seconds())
			entry := logger.FromContext(ctx).WithFields(logger.Fields{
				"method":               r.Method,
				"path":                 r.URL.Path,
				logger.FieldStatus:     rw.statusCode,
				logger.FieldDurationMs: duration.Milliseconds(),
				"remote_addr":          r.RemoteAddr,
			})
			if rw.statusCode >= http.StatusInternalServerError {
				entry.Warn("HTTP request failed")
				return
			}
			entry.Info("HTTP request")
		})
	}
}

// ScopeMiddleware reads the workspace and user headers into the request scope.
func ScopeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, err := auth.ParseScope(r.Header.Get(auth.HeaderWorkspaceID), r.Header.Get(auth.HeaderUserID))
		if err != nil {
			httpapi.WriteError(w, r, err)
			return
		}
		ctx := auth.ContextWithScope(r.Context(), scope)
		ctx = logger.WithFields(ctx, logger.Fields{
			logger.FieldWorkspaceID: scope.WorkspaceID.String(),
			logger.FieldUserID:      scope.UserID.String(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
