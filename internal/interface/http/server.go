// Package http exposes the learner-progress commands and queries as a JSON
// REST API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/alem-hub/learner-progress/internal/application/command"
	"github.com/alem-hub/learner-progress/internal/application/query"
	"github.com/alem-hub/learner-progress/internal/interface/http/handlers"
	"github.com/alem-hub/learner-progress/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

type Config struct {
	Host string
	Port int

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int

	// MaxRequestBytes caps JSON bodies, MaxAudioBytes caps pronunciation
	// uploads.
	MaxRequestBytes int64
	MaxAudioBytes   int64

	// AllowedOrigins enables CORS; "*" allows any origin.
	AllowedOrigins []string

	// RateLimitPerMinute is per learner; 0 disables limiting.
	RateLimitPerMinute int

	Version string
}

func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       30 * time.Second,
		IdleTimeout:        time.Minute,
		MaxHeaderBytes:     1 << 20,
		MaxRequestBytes:    1 << 20,
		MaxAudioBytes:      8 << 20,
		AllowedOrigins:     []string{"*"},
		RateLimitPerMinute: 120,
		Version:            "v1",
	}
}

func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Dependencies are the handlers the routes call into. A nil Auth rejects
// every learner route; a nil HealthChecker reports healthy.
type Dependencies struct {
	StartAttempt    *command.StartAttemptHandler
	RecordExercise  *command.RecordExerciseHandler
	CompleteAttempt *command.CompleteAttemptHandler

	Overview       *query.GetOverviewHandler
	Streak         *query.GetStreakHandler
	DailyStats     *query.GetDailyStatsHandler
	TopicProgress  *query.GetTopicProgressHandler
	AttemptHistory *query.GetAttemptHistoryHandler
	Vocabulary     *query.GetVocabularyProgressHandler

	Auth          *handlers.Authenticator
	HealthChecker handlers.HealthChecker
	Logger        *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

type Server struct {
	config  Config
	deps    Dependencies
	logger  *logger.Logger
	router  *http.ServeMux
	handler http.Handler
	srv     *http.Server

	rateLimiter *rateLimiter

	mu        sync.Mutex
	startedAt time.Time // zero while not serving
}

func NewServer(config Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.Default()
	}
	if deps.Auth == nil {
		deps.Auth = handlers.NewAuthenticator(handlers.AuthConfig{})
	}

	s := &Server{
		config: config,
		deps:   deps,
		logger: deps.Logger,
		router: http.NewServeMux(),
	}
	if config.RateLimitPerMinute > 0 {
		s.rateLimiter = newRateLimiter(config.RateLimitPerMinute, time.Minute)
	}
	s.routes()
	s.handler = s.middleware(s.router)

	s.srv = &http.Server{
		Addr:           config.Address(),
		Handler:        s.handler,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}
	return s
}

// Handler is the router with every middleware applied.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() {
	// ─── health ───────────────────────────────────────────────────────────────
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /live", s.handleLive)

	// ─── attempts ─────────────────────────────────────────────────────────────
	s.router.Handle("POST /api/v1/attempts", s.authed(s.handleStartAttempt))
	s.router.Handle("GET /api/v1/attempts/history", s.authed(s.handleAttemptHistory))
	s.router.Handle("POST /api/v1/attempts/{id}/matching", s.authed(s.handleRecordMatching))
	s.router.Handle("POST /api/v1/attempts/{id}/pronunciation", s.authed(s.handleRecordPronunciation))
	s.router.Handle("POST /api/v1/attempts/{id}/conversation", s.authed(s.handleRecordConversation))
	s.router.Handle("POST /api/v1/attempts/{id}/complete", s.authed(s.handleCompleteAttempt))

	// ─── progress ─────────────────────────────────────────────────────────────
	s.router.Handle("GET /api/v1/progress/overview", s.authed(s.handleOverview))
	s.router.Handle("GET /api/v1/progress/streak", s.authed(s.handleStreak))
	s.router.Handle("GET /api/v1/progress/daily", s.authed(s.handleDaily))
	s.router.Handle("GET /api/v1/progress/weekly", s.authed(s.handleWeekly))
	s.router.Handle("GET /api/v1/progress/topics", s.authed(s.handleTopics))
	s.router.Handle("GET /api/v1/progress/topics/{id}/lessons", s.authed(s.handleTopicLessons))
	s.router.Handle("GET /api/v1/progress/vocabulary", s.authed(s.handleVocabulary))
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

var errAlreadyRunning = errors.New("http server already running")

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if !s.startedAt.IsZero() {
		s.mu.Unlock()
		return errAlreadyRunning
	}
	s.startedAt = time.Now()
	s.mu.Unlock()

	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		s.markStopped()
		return fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}
	s.logger.Info("http server listening", logger.String("address", ln.Addr().String()))

	if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// StartAsync runs Start in a goroutine. The channel yields Start's error, if
// any, and is closed when Start returns.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := s.Start(); err != nil {
			errCh <- err
		}
	}()
	return errCh
}

// Shutdown drains in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.markStopped() {
		return nil
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	s.logger.Info("http server shutting down")
	return s.srv.Shutdown(ctx)
}

func (s *Server) markStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	running := !s.startedAt.IsZero()
	s.startedAt = time.Time{}
	return running
}

// Uptime is zero while the server is not serving.
func (s *Server) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}
