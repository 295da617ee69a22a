// Package shield provides HTTP security middleware for the briefd API:
// security headers, per-IP rate limiting backed by a SQLite rules table,
// request body caps, and trace-ID injection.
//
// Usage:
//
//	r := chi.NewRouter()
//	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
//	r.Use(shield.TraceID)
//	r.Use(shield.NewRateLimiter(db).Middleware)
//
// Or apply the default API stack in one call:
//
//	rl := shield.NewRateLimiter(db, "/v1/health")
//	for _, mw := range shield.DefaultAPIStack(rl) {
//		r.Use(mw)
//	}
package shield

import (
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultAPIStack returns the standard middleware stack for the briefd API,
// in order: SecurityHeaders, TraceID, rate limiting. The caller constructs
// the RateLimiter so it can also start the config reloader. Body caps for
// uploads are enforced by intake, not here.
func DefaultAPIStack(rl *RateLimiter) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		SecurityHeaders(DefaultHeaders()),
		TraceID,
		rl.Middleware,
	}
}
