// Package middleware contains HTTP middleware functions.
//
// WHAT IS MIDDLEWARE?
// Middleware is a function that wraps an HTTP handler to add cross-cutting behaviour
// (logging, rate limiting, CORS, etc.) without modifying the handler itself.
//
// The pattern is:
//
//	func MyMiddleware(next http.Handler) http.Handler {
//	    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
//	        // Do something BEFORE the handler runs
//	        next.ServeHTTP(w, r)  // Call the actual handler
//	        // Do something AFTER the handler runs
//	    })
//	}
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/shared-lists/internal/metrics"
)

// Logger returns an HTTP middleware that logs each request and records it
// in the request metrics.
//
// CAPTURING THE STATUS CODE:
// http.ResponseWriter doesn't expose the status code after WriteHeader is
// called. httpsnoop wraps the writer for us and keeps the optional
// interfaces (http.Flusher, http.Hijacker) of the underlying writer. Event
// streams flush after every event and WebSocket upgrades hijack the
// connection, so both must survive the wrapping.
//
// Each log line includes: method, path, route, status, duration, bytes and
// the request id set by chi's RequestID middleware.
func Logger(logger *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snoop := httpsnoop.CaptureMetrics(next, w, r)

			// The route pattern is only known once chi has routed the request.
			route := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}
			m.Request(r.Method, route, snoop.Code, snoop.Duration)

			level := slog.LevelInfo
			if snoop.Code >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("route", route),
				slog.Int("status", snoop.Code),
				slog.Duration("duration", snoop.Duration),
				slog.Int64("bytes", snoop.Written),
				slog.String("request_id", chimiddleware.GetReqID(r.Context())),
			)
		})
	}
}
