// Package handlers contains the building blocks of the progress API server
// that do not depend on the application layer.
//
// # Authentication
//
// Authenticator resolves the learner behind a request:
//
//	auth := handlers.NewAuthenticator(handlers.AuthConfig{
//	    JWTSecret:    cfg.Auth.JWTSecret,
//	    JWTIssuer:    cfg.Auth.JWTIssuer,
//	    APIKeyHashes: cfg.Auth.APIKeyHashes,
//	})
//	id, err := auth.Authenticate(r)
//
// Learners send "Authorization: Bearer <jwt>" with their id in the sub
// claim. Trusted services send "X-API-Key" (checked against bcrypt hashes)
// together with "X-Learner-ID".
//
// # Health Checks
//
// CompositeHealthChecker runs named checks in parallel. Required checks
// (database, cache) make the service unhealthy; optional checks (speech
// analysis, conversation partner) only mark it degraded:
//
//	checker := handlers.NewCompositeHealthChecker(version)
//	checker.AddCheck("postgres", handlers.NewPingCheck(store))
//	checker.AddOptionalCheck("speech", handlers.NewBreakerCheck(speechClient))
//
// # Middleware
//
// StaticHeaders backs NoCacheMiddleware and SecurityHeadersMiddleware;
// BodyLimit caps request bodies. All of them compose with Chain.
package handlers
