package handlers

import (
	"net/http"
)

// MiddlewareFunc wraps an http.Handler.
type MiddlewareFunc func(http.Handler) http.Handler

// Chain composes middleware; the first one listed is the outermost.
func Chain(middlewares ...MiddlewareFunc) MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			h = middlewares[i](h)
		}
		return h
	}
}

// StaticHeaders sets fixed response headers before calling next.
func StaticHeaders(headers map[string]string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for k, v := range headers {
				w.Header().Set(k, v)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeadersMiddleware locks down a JSON-only API: no sniffing,
// framing, referrers or active content.
var SecurityHeadersMiddleware = StaticHeaders(map[string]string{
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "DENY",
	"Referrer-Policy":         "no-referrer",
	"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
})

// NoCacheMiddleware forbids caching. Progress is per learner and changes
// with every attempt.
var NoCacheMiddleware = StaticHeaders(map[string]string{
	"Cache-Control": "no-store, max-age=0",
	"Pragma":        "no-cache",
})

// BodyLimit caps request bodies at maxBytes; reads past the cap fail with
// *http.MaxBytesError. Zero disables the cap.
func BodyLimit(maxBytes int64) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if maxBytes <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
