package http

import (
	"context"
	"net"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/learner-progress/internal/interface/http/handlers"
	"github.com/alem-hub/learner-progress/pkg/logger"
)

const headerRequestID = "X-Request-ID"

type ctxKey struct{}

// middleware wraps h, outermost first: request id, panic recovery, access
// log, CORS, static headers, body limit.
func (s *Server) middleware(h http.Handler) http.Handler {
	chain := []handlers.MiddlewareFunc{s.withRequestID, recoverPanics, accessLog}
	if len(s.config.AllowedOrigins) > 0 {
		chain = append(chain, s.cors)
	}
	// the pronunciation route needs the larger of the two limits; JSON routes
	// apply MaxRequestBytes again when decoding
	limit := max(s.config.MaxRequestBytes, s.config.MaxAudioBytes)
	chain = append(chain,
		handlers.SecurityHeadersMiddleware,
		handlers.NoCacheMiddleware,
		handlers.BodyLimit(limit),
	)
	return handlers.Chain(chain...)(h)
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)

		ctx := context.WithValue(r.Context(), ctxKey{}, id)
		ctx = logger.WithContext(ctx, s.logger.WithRequestID(id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// statusRecorder remembers what the access log needs.
type statusRecorder struct {
	http.ResponseWriter
	status    int
	learnerID string
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)

		fields := []logger.Field{
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.StatusCode(sr.status),
			logger.Latency(time.Since(start)),
			logger.String("ip", clientIP(r)),
		}
		if sr.learnerID != "" {
			fields = append(fields, logger.LearnerID(sr.learnerID))
		}
		log := logger.FromContext(r.Context())
		if sr.status >= http.StatusInternalServerError {
			log.Error("http request", fields...)
			return
		}
		log.Info("http request", fields...)
	})
}

func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			logger.FromContext(r.Context()).Error("panic recovered",
				logger.Any("error", rec),
				logger.String("path", r.URL.Path),
				logger.String("stack", string(debug.Stack())),
			)
			writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	allowAny := slices.Contains(s.config.AllowedOrigins, "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := origin != "" && (allowAny || slices.ContainsFunc(s.config.AllowedOrigins, func(o string) bool {
			return strings.EqualFold(o, origin)
		}))
		if allowed {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Learner-ID, X-Request-ID")
			h.Set("Access-Control-Max-Age", "86400")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// learnerHandler is a route that runs for an authenticated learner.
type learnerHandler func(w http.ResponseWriter, r *http.Request, learnerID string)

// authed authenticates the caller, applies the per-learner rate limit and
// passes the learner id on.
func (s *Server) authed(h learnerHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.deps.Auth.Authenticate(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if sr, ok := w.(*statusRecorder); ok {
			sr.learnerID = id.LearnerID
		}

		if s.rateLimiter != nil {
			if ok, wait := s.rateLimiter.Allow(id.LearnerID); !ok {
				w.Header().Set("Retry-After", retryAfter(wait))
				writeJSONError(w, r, http.StatusTooManyRequests, "rate_limited", "Too many requests, please try again later")
				return
			}
		}

		ctx := handlers.WithIdentity(r.Context(), id)
		ctx = logger.WithContext(ctx, logger.FromContext(ctx).With(logger.LearnerID(id.LearnerID)))
		h(w, r.WithContext(ctx), id.LearnerID)
	})
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
