// Package health provides a cached, timeout-bounded health checker for
// brypt's node readiness, adapted from the teacher's health/checker.go.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brypt-project/brypt/internal/logger"
)

// Status is the health state of one check or of the node as a whole.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Name      string                 `json:"name"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Check is one health check function.
type Check func(ctx context.Context) error

// cachedResult stores a cached CheckResult with its expiry.
type cachedResult struct {
	result    *CheckResult
	expiresAt time.Time
}

// Checker manages a registered set of named health checks with
// per-check timeout and a short-lived result cache, so a busy readiness
// endpoint doesn't re-run every check on every scrape.
type Checker struct {
	mu       sync.RWMutex
	checks   map[string]Check
	timeout  time.Duration
	cacheTTL time.Duration
	cache    map[string]*cachedResult
	logger   logger.Logger
}

// NewChecker constructs a Checker with the given per-check timeout
// (defaulting to 5s) and a 10s result cache TTL, mirroring the teacher's
// NewHealthChecker defaults.
func NewChecker(timeout time.Duration) *Checker {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		checks:   make(map[string]Check),
		timeout:  timeout,
		logger:   logger.GetDefaultLogger(),
		cacheTTL: 10 * time.Second,
		cache:    make(map[string]*cachedResult),
	}
}

// SetLogger overrides the default logger.
func (c *Checker) SetLogger(l logger.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = l
}

// SetCacheTTL overrides the result cache TTL.
func (c *Checker) SetCacheTTL(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheTTL = ttl
}

// Register adds a named check, replacing any existing check of the same
// name.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
	c.logger.Info("health check registered", logger.String("name", name))
}

// Unregister removes a named check and its cached result.
func (c *Checker) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
	delete(c.cache, name)
}

// Check runs one named check, serving a cached result when still fresh.
func (c *Checker) Check(ctx context.Context, name string) (*CheckResult, error) {
	c.mu.RLock()
	check, exists := c.checks[name]
	c.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("health: check %q not registered", name)
	}

	if cached := c.cachedResultFor(name); cached != nil {
		return cached, nil
	}

	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := check(checkCtx)
	duration := time.Since(start)

	result := &CheckResult{Name: name, Timestamp: time.Now(), Duration: duration}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
		c.logger.Warn("health check failed", logger.String("name", name), logger.Error(err), logger.Duration("duration", duration))
	} else {
		result.Status = StatusHealthy
		c.logger.Debug("health check passed", logger.String("name", name), logger.Duration("duration", duration))
	}

	c.cacheResult(name, result)
	return result, nil
}

// CheckAll runs every registered check concurrently.
func (c *Checker) CheckAll(ctx context.Context) map[string]*CheckResult {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	c.mu.RUnlock()

	results := make(map[string]*CheckResult, len(names))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			result, err := c.Check(ctx, name)
			if err != nil {
				result = &CheckResult{Name: name, Status: StatusUnhealthy, Message: err.Error(), Timestamp: time.Now()}
			}
			mu.Lock()
			results[name] = result
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	return results
}

// OverallStatus rolls every registered check's result up into one
// node-wide status: any unhealthy check makes the node unhealthy.
func (c *Checker) OverallStatus(ctx context.Context) Status {
	results := c.CheckAll(ctx)
	if len(results) == 0 {
		return StatusHealthy
	}
	degraded := false
	for _, result := range results {
		if result.Status == StatusUnhealthy {
			return StatusUnhealthy
		}
		if result.Status == StatusDegraded {
			degraded = true
		}
	}
	if degraded {
		return StatusDegraded
	}
	return StatusHealthy
}

func (c *Checker) cachedResultFor(name string) *CheckResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cached, ok := c.cache[name]
	if !ok || time.Now().After(cached.expiresAt) {
		return nil
	}
	return cached.result
}

func (c *Checker) cacheResult(name string, result *CheckResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[name] = &cachedResult{result: result, expiresAt: time.Now().Add(c.cacheTTL)}
}

// ClearCache discards every cached result, forcing the next Check/CheckAll
// to run checks live.
func (c *Checker) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]*cachedResult)
}

// NodeHealth is the aggregate health snapshot exposed over HTTP.
type NodeHealth struct {
	Status    Status                  `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Checks    map[string]*CheckResult `json:"checks"`
}

// Snapshot returns the full aggregate health view.
func (c *Checker) Snapshot(ctx context.Context) *NodeHealth {
	checks := c.CheckAll(ctx)
	status := StatusHealthy
	for _, result := range checks {
		if result.Status == StatusUnhealthy {
			status = StatusUnhealthy
			break
		}
		if result.Status == StatusDegraded {
			status = StatusDegraded
		}
	}
	return &NodeHealth{Status: status, Timestamp: time.Now(), Checks: checks}
}
