package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/alem-hub/learner-progress/internal/domain/shared"
)

func signed(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestAuthenticator_JWT(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{JWTSecret: "s3cret", JWTIssuer: "progress"})

	tests := []struct {
		name    string
		token   string
		learner string
		wantErr bool
	}{
		{
			name:    "valid",
			token:   signed(t, "s3cret", jwt.RegisteredClaims{Subject: "learner-1", Issuer: "progress", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}),
			learner: "learner-1",
		},
		{
			name:    "wrong issuer",
			token:   signed(t, "s3cret", jwt.RegisteredClaims{Subject: "learner-1", Issuer: "other"}),
			wantErr: true,
		},
		{
			name:    "expired",
			token:   signed(t, "s3cret", jwt.RegisteredClaims{Subject: "learner-1", Issuer: "progress", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))}),
			wantErr: true,
		},
		{
			name:    "no subject",
			token:   signed(t, "s3cret", jwt.RegisteredClaims{Issuer: "progress"}),
			wantErr: true,
		},
		{
			name:    "bad signature",
			token:   signed(t, "nope", jwt.RegisteredClaims{Subject: "learner-1", Issuer: "progress"}),
			wantErr: true,
		},
		{
			name:    "garbage",
			token:   "not.a.jwt",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.Header.Set("Authorization", "Bearer "+tt.token)

			id, err := auth.Authenticate(r)
			if tt.wantErr {
				assert.ErrorIs(t, err, shared.ErrUnauthorized)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.learner, id.LearnerID)
			assert.Equal(t, AuthMethodJWT, id.Method)
		})
	}
}

func TestAuthenticator_APIKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("service-key"), bcrypt.MinCost)
	require.NoError(t, err)
	auth := NewAuthenticator(AuthConfig{APIKeyHashes: []string{" ", string(hash)}})

	t.Run("valid key and learner header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(HeaderAPIKey, "service-key")
		r.Header.Set(HeaderLearnerID, "learner-7")

		id, err := auth.Authenticate(r)
		require.NoError(t, err)
		assert.Equal(t, "learner-7", id.LearnerID)
		assert.Equal(t, AuthMethodAPIKey, id.Method)

		// second call is served from the verified set
		id, err = auth.Authenticate(r)
		require.NoError(t, err)
		assert.Equal(t, "learner-7", id.LearnerID)
	})

	t.Run("missing learner header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(HeaderAPIKey, "service-key")

		_, err := auth.Authenticate(r)
		assert.ErrorIs(t, err, shared.ErrValidation)
	})

	t.Run("wrong key", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(HeaderAPIKey, "guess")
		r.Header.Set(HeaderLearnerID, "learner-7")

		_, err := auth.Authenticate(r)
		assert.ErrorIs(t, err, shared.ErrUnauthorized)
	})
}

func TestAuthenticator_TrustedHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(HeaderLearnerID, "dev-learner")

	_, err := NewAuthenticator(AuthConfig{}).Authenticate(r)
	assert.ErrorIs(t, err, shared.ErrUnauthorized)

	id, err := NewAuthenticator(AuthConfig{TrustLearnerHeader: true}).Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "dev-learner", id.LearnerID)
	assert.Equal(t, AuthMethodTrusted, id.Method)
}

func TestIdentityContext(t *testing.T) {
	_, ok := IdentityFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), Identity{LearnerID: "l", Method: AuthMethodJWT})
	id, ok := IdentityFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "l", id.LearnerID)
}

type fakeBreaker bool

func (f fakeBreaker) IsOpen() bool { return bool(f) }

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestCompositeHealthChecker(t *testing.T) {
	t.Run("no checks", func(t *testing.T) {
		status := NewCompositeHealthChecker("v1").Check(context.Background())
		assert.True(t, status.Healthy)
		assert.Equal(t, "v1", status.Version)
	})

	t.Run("optional failure degrades", func(t *testing.T) {
		c := NewCompositeHealthChecker("v1")
		c.AddCheck("postgres", NewPingCheck(fakePinger{}))
		c.AddOptionalCheck("speech", NewBreakerCheck(fakeBreaker(true)))

		status := c.Check(context.Background())
		assert.True(t, status.Healthy)
		assert.True(t, status.Ready)
		assert.True(t, status.Degraded)
		assert.Equal(t, "degraded: speech", status.Message)
		assert.Equal(t, ErrCircuitOpen.Error(), status.Checks["speech"].Message)
		assert.True(t, status.Checks["speech"].Optional)
	})

	t.Run("required failure is unhealthy", func(t *testing.T) {
		c := NewCompositeHealthChecker("v1")
		c.AddCheck("postgres", NewPingCheck(fakePinger{err: errors.New("connection refused")}))
		c.AddCheck("redis", NewPingCheck(fakePinger{err: errors.New("timeout")}))
		c.AddOptionalCheck("conversation", NewBreakerCheck(fakeBreaker(false)))

		status := c.Check(context.Background())
		assert.False(t, status.Healthy)
		assert.False(t, status.Ready)
		assert.Equal(t, "failing: postgres, redis", status.Message)
		assert.True(t, status.Checks["conversation"].Healthy)
	})

	t.Run("checks time out", func(t *testing.T) {
		c := NewCompositeHealthChecker("v1")
		c.SetTimeout(10 * time.Millisecond)
		c.AddCheck("slow", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})

		status := c.Check(context.Background())
		assert.False(t, status.Healthy)
	})
}

func TestMiddleware(t *testing.T) {
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := Chain(SecurityHeadersMiddleware, NoCacheMiddleware)(final)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) MiddlewareFunc {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(mark("outer"), mark("inner"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestBodyLimit(t *testing.T) {
	var readErr error
	h := BodyLimit(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("too long")))
	var maxErr *http.MaxBytesError
	assert.ErrorAs(t, readErr, &maxErr)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("ok")))
	assert.NoError(t, readErr)
}
