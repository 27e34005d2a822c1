package logging

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// quietPaths are endpoints polled frequently enough that per-request logs
// would drown the stream: health probes, metrics scrapes and job status
// polling only log failures.
var quietPaths = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

func quiet(r *http.Request) bool {
	if quietPaths[r.URL.Path] {
		return true
	}
	// Status polls arrive continuously while a job runs.
	return len(r.URL.Path) > 15 && r.URL.Path[:15] == "/api/v1/status/"
}

// Middleware returns a middleware that logs the start and end of each request.
func Middleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Create a response writer wrapper to capture the status code
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			reqID := middleware.GetReqID(r.Context())
			requestLogger := logger.WithFields(map[string]interface{}{
				"request_id": reqID,
				"method":     r.Method,
				"path":       r.URL.Path,
				"remote":     r.RemoteAddr,
			})

			loud := !quiet(r)
			if loud {
				requestLogger.Info("Request started")
			}

			// Create context with logger
			ctx := context.WithValue(r.Context(), ctxLoggerKey{}, &CtxLogger{requestLogger})

			next.ServeHTTP(ww, r.WithContext(ctx))

			latency := time.Since(start)
			fields := map[string]interface{}{
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"latency_ms": float64(latency.Microseconds()) / 1000.0,
				"user_agent": r.UserAgent(),
				"protocol":   r.Proto,
				"latency":    latency.String(),
			}

			if ww.Status() >= 400 {
				fields["error"] = http.StatusText(ww.Status())
				requestLogger.WithFields(fields).Error("Request failed")
				return
			}
			if loud {
				requestLogger.WithFields(fields).Info("Request completed")
			}
		})
	}
}
