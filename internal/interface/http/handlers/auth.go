package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/alem-hub/learner-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CALLER IDENTITY
// ══════════════════════════════════════════════════════════════════════════════

const (
	// HeaderAPIKey carries a service API key.
	HeaderAPIKey = "X-API-Key"

	// HeaderLearnerID names the learner a trusted service acts for.
	HeaderLearnerID = "X-Learner-ID"
)

// AuthMethod tells how the caller proved its identity.
type AuthMethod string

const (
	AuthMethodJWT     AuthMethod = "jwt"
	AuthMethodAPIKey  AuthMethod = "api_key"
	AuthMethodTrusted AuthMethod = "trusted_header"
)

// Identity is the authenticated caller.
type Identity struct {
	LearnerID string
	Method    AuthMethod
}

type identityKey struct{}

// WithIdentity stores the caller identity in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the caller identity stored by the auth middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATOR
// ══════════════════════════════════════════════════════════════════════════════

// AuthConfig configures the Authenticator.
type AuthConfig struct {
	// JWTSecret signs learner bearer tokens (HS256). Empty disables JWT auth.
	JWTSecret string

	// JWTIssuer, when set, must match the token's iss claim.
	JWTIssuer string

	// APIKeyHashes are bcrypt hashes of keys issued to trusted services.
	APIKeyHashes []string

	// TrustLearnerHeader accepts X-Learner-ID without any credential.
	// Development only.
	TrustLearnerHeader bool
}

// Authenticator resolves the learner behind a request. Learners present a
// bearer JWT whose sub claim is their id; trusted services present an API
// key and name the learner in X-Learner-ID.
type Authenticator struct {
	config AuthConfig
	hashes [][]byte

	// verified remembers digests of keys that already passed bcrypt, so the
	// expensive comparison runs once per key.
	mu       sync.RWMutex
	verified map[string]bool
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(cfg AuthConfig) *Authenticator {
	a := &Authenticator{
		config:   cfg,
		verified: make(map[string]bool),
	}
	for _, h := range cfg.APIKeyHashes {
		if h = strings.TrimSpace(h); h != "" {
			a.hashes = append(a.hashes, []byte(h))
		}
	}
	return a
}

// Authenticate returns the caller identity or an Unauthorized/Validation error.
func (a *Authenticator) Authenticate(r *http.Request) (Identity, error) {
	if token, ok := bearerToken(r); ok && a.config.JWTSecret != "" {
		learnerID, err := a.parseToken(token)
		if err != nil {
			return Identity{}, err
		}
		return Identity{LearnerID: learnerID, Method: AuthMethodJWT}, nil
	}

	if key := r.Header.Get(HeaderAPIKey); key != "" {
		if !a.validAPIKey(key) {
			return Identity{}, shared.NewDomainError("auth", "Authenticate", shared.ErrUnauthorized, "invalid api key")
		}
		learnerID, err := learnerHeader(r)
		if err != nil {
			return Identity{}, err
		}
		return Identity{LearnerID: learnerID, Method: AuthMethodAPIKey}, nil
	}

	if a.config.TrustLearnerHeader {
		learnerID, err := learnerHeader(r)
		if err != nil {
			return Identity{}, err
		}
		return Identity{LearnerID: learnerID, Method: AuthMethodTrusted}, nil
	}

	return Identity{}, shared.NewDomainError("auth", "Authenticate", shared.ErrUnauthorized, "credentials are required")
}

func (a *Authenticator) parseToken(raw string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.config.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(a.config.JWTIssuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(a.config.JWTSecret), nil
	}, opts...)
	if err != nil {
		msg := "invalid token"
		if errors.Is(err, jwt.ErrTokenExpired) {
			msg = "token expired"
		}
		return "", shared.WrapError("auth", "ParseToken", shared.ErrUnauthorized, msg, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", shared.NewDomainError("auth", "ParseToken", shared.ErrUnauthorized, "token has no subject")
	}
	return claims.Subject, nil
}

func (a *Authenticator) validAPIKey(key string) bool {
	sum := sha256.Sum256([]byte(key))
	digest := hex.EncodeToString(sum[:])

	a.mu.RLock()
	ok := a.verified[digest]
	a.mu.RUnlock()
	if ok {
		return true
	}

	for _, h := range a.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			a.mu.Lock()
			a.verified[digest] = true
			a.mu.Unlock()
			return true
		}
	}
	return false
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if len(auth) < 7 || !strings.EqualFold(auth[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(auth[7:])
	return token, token != ""
}

func learnerHeader(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(HeaderLearnerID))
	if id == "" {
		return "", shared.Validationf("auth", "Authenticate", "%s header is required", HeaderLearnerID)
	}
	return id, nil
}
