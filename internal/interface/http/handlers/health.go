package handlers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthChecker reports service health for GET /health.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthCheckFunc returns nil when the dependency is usable.
type HealthCheckFunc func(ctx context.Context) error

// HealthStatus is the aggregate served by /health. Healthy and Ready drop
// only when a required check fails; a failing optional check sets Degraded
// and the service keeps answering without that collaborator.
type HealthStatus struct {
	Healthy   bool                   `json:"healthy"`
	Ready     bool                   `json:"ready"`
	Degraded  bool                   `json:"degraded"`
	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Optional bool   `json:"optional,omitempty"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPOSITE CHECKER
// ══════════════════════════════════════════════════════════════════════════════

type registeredCheck struct {
	name     string
	fn       HealthCheckFunc
	optional bool
}

// CompositeHealthChecker runs its checks concurrently, each under its own
// timeout. Failing checks are listed in registration order.
type CompositeHealthChecker struct {
	version string
	started time.Time

	mu      sync.RWMutex
	checks  []registeredCheck
	timeout time.Duration
}

func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{version: version, started: time.Now(), timeout: 5 * time.Second}
}

// SetTimeout bounds every single check; the default is 5s.
func (c *CompositeHealthChecker) SetTimeout(d time.Duration) {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

func (c *CompositeHealthChecker) AddCheck(name string, fn HealthCheckFunc) {
	c.register(registeredCheck{name: name, fn: fn})
}

// AddOptionalCheck registers a check whose failure only degrades the service.
func (c *CompositeHealthChecker) AddOptionalCheck(name string, fn HealthCheckFunc) {
	c.register(registeredCheck{name: name, fn: fn, optional: true})
}

func (c *CompositeHealthChecker) register(rc registeredCheck) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.checks {
		if c.checks[i].name == rc.name {
			c.checks[i] = rc
			return
		}
	}
	c.checks = append(c.checks, rc)
}

func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := append([]registeredCheck(nil), c.checks...)
	timeout := c.timeout
	c.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, rc := range checks {
		g.Go(func() error {
			results[i] = run(ctx, rc, timeout)
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Healthy:   true,
		Ready:     true,
		Checks:    make(map[string]CheckResult, len(checks)),
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}
	var failing, degraded []string
	for i, rc := range checks {
		r := results[i]
		status.Checks[rc.name] = r
		switch {
		case r.Healthy:
		case r.Optional:
			degraded = append(degraded, rc.name)
		default:
			failing = append(failing, rc.name)
		}
	}

	switch {
	case len(checks) == 0:
		status.Message = "no checks registered"
	case len(failing) > 0:
		status.Healthy, status.Ready = false, false
		status.Message = "failing: " + strings.Join(failing, ", ")
	case len(degraded) > 0:
		status.Degraded = true
		status.Message = "degraded: " + strings.Join(degraded, ", ")
	default:
		status.Message = "all checks passed"
	}
	return status
}

func run(ctx context.Context, rc registeredCheck, timeout time.Duration) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := rc.fn(ctx)
	r := CheckResult{
		Healthy:  err == nil,
		Optional: rc.optional,
		Message:  "ok",
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		r.Message = err.Error()
	}
	return r
}

// ══════════════════════════════════════════════════════════════════════════════
// CHECKS
// ══════════════════════════════════════════════════════════════════════════════

// Pinger is implemented by the Postgres store and the Redis cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

func NewPingCheck(p Pinger) HealthCheckFunc { return p.Ping }

// BreakerState is implemented by collaborator clients behind a circuit
// breaker.
type BreakerState interface {
	IsOpen() bool
}

// ErrCircuitOpen is reported while a collaborator's circuit is open.
var ErrCircuitOpen = errors.New("circuit open")

func NewBreakerCheck(b BreakerState) HealthCheckFunc {
	return func(context.Context) error {
		if b.IsOpen() {
			return ErrCircuitOpen
		}
		return nil
	}
}
