package health

import (
	"context"
	"time"

	"github.com/shre-db/linked-squad/go/assistant/internal/circuitbreaker"
)

const defaultCheckTimeout = 5 * time.Second

// RedisHealthChecker checks the session store's Redis connection
type RedisHealthChecker struct {
	wrapper *circuitbreaker.RedisWrapper
	timeout time.Duration
}

// NewRedisHealthChecker creates a Redis health checker
func NewRedisHealthChecker(wrapper *circuitbreaker.RedisWrapper) *RedisHealthChecker {
	return &RedisHealthChecker{wrapper: wrapper, timeout: defaultCheckTimeout}
}

func (r *RedisHealthChecker) Name() string           { return "redis" }
func (r *RedisHealthChecker) IsCritical() bool       { return true }
func (r *RedisHealthChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	var result CheckResult

	if r.wrapper.IsCircuitBreakerOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "Redis circuit breaker is open"
		return result
	}

	err := r.wrapper.Ping(ctx).Err()
	latency := time.Since(startTime)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Redis ping failed"
		result.Details = map[string]interface{}{"latency_ms": latency.Milliseconds()}
		return result
	}

	if latency > 100*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = "Redis responding but with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "Redis healthy"
	}
	result.Details = map[string]interface{}{"latency_ms": latency.Milliseconds()}
	return result
}

// DatabaseHealthChecker checks a SQL backend behind a breaker. The same
// checker serves the Postgres turn log and the sqlite session store.
type DatabaseHealthChecker struct {
	name     string
	wrapper  *circuitbreaker.DatabaseWrapper
	critical bool
	timeout  time.Duration
}

// NewDatabaseHealthChecker creates a database health checker
func NewDatabaseHealthChecker(name string, wrapper *circuitbreaker.DatabaseWrapper, critical bool) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{
		name:     name,
		wrapper:  wrapper,
		critical: critical,
		timeout:  defaultCheckTimeout,
	}
}

func (d *DatabaseHealthChecker) Name() string           { return d.name }
func (d *DatabaseHealthChecker) IsCritical() bool       { return d.critical }
func (d *DatabaseHealthChecker) Timeout() time.Duration { return d.timeout }

func (d *DatabaseHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	var result CheckResult

	if d.wrapper.IsCircuitBreakerOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "Database circuit breaker is open"
		return result
	}

	err := d.wrapper.PingContext(ctx)
	latency := time.Since(startTime)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Database ping failed"
		result.Details = map[string]interface{}{"latency_ms": latency.Milliseconds()}
		return result
	}

	stats := d.wrapper.DB().Stats()
	switch {
	case stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections:
		result.Status = StatusDegraded
		result.Message = "Database connection pool exhausted"
	case latency > 100*time.Millisecond:
		result.Status = StatusDegraded
		result.Message = "Database responding but with high latency"
	default:
		result.Status = StatusHealthy
		result.Message = "Database healthy"
	}

	result.Details = map[string]interface{}{
		"latency_ms":           latency.Milliseconds(),
		"open_connections":     stats.OpenConnections,
		"max_open_connections": stats.MaxOpenConnections,
		"in_use_connections":   stats.InUse,
	}
	return result
}

// availability is satisfied by the resilient generator.
type availability interface {
	Available() bool
}

// GeneratorHealthChecker reports the text generator's breaker state. A tripped
// breaker degrades the service without taking it out of rotation, since turns
// still complete with fallback replies.
type GeneratorHealthChecker struct {
	generator availability
}

// NewGeneratorHealthChecker creates a generator health checker
func NewGeneratorHealthChecker(generator availability) *GeneratorHealthChecker {
	return &GeneratorHealthChecker{generator: generator}
}

func (g *GeneratorHealthChecker) Name() string           { return "generator" }
func (g *GeneratorHealthChecker) IsCritical() bool       { return false }
func (g *GeneratorHealthChecker) Timeout() time.Duration { return time.Second }

func (g *GeneratorHealthChecker) Check(context.Context) CheckResult {
	if !g.generator.Available() {
		return CheckResult{
			Status:  StatusDegraded,
			Error:   "circuit breaker open",
			Message: "Generator unavailable, replies will use fallbacks",
		}
	}
	return CheckResult{Status: StatusHealthy, Message: "Generator available"}
}

type sized interface {
	Size() int
}

// CatalogHealthChecker degrades when no profiles are loaded.
type CatalogHealthChecker struct {
	catalog sized
}

// NewCatalogHealthChecker creates a profile catalog health checker
func NewCatalogHealthChecker(catalog sized) *CatalogHealthChecker {
	return &CatalogHealthChecker{catalog: catalog}
}

func (c *CatalogHealthChecker) Name() string           { return "profiles" }
func (c *CatalogHealthChecker) IsCritical() bool       { return false }
func (c *CatalogHealthChecker) Timeout() time.Duration { return time.Second }

func (c *CatalogHealthChecker) Check(context.Context) CheckResult {
	n := c.catalog.Size()
	result := CheckResult{Details: map[string]interface{}{"profiles": n}}
	if n == 0 {
		result.Status = StatusDegraded
		result.Message = "Profile catalog is empty"
		return result
	}
	result.Status = StatusHealthy
	result.Message = "Profile catalog loaded"
	return result
}

// CustomHealthChecker allows for custom health check logic
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

// NewCustomHealthChecker creates a custom health checker
func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *CustomHealthChecker {
	return &CustomHealthChecker{
		name:     name,
		critical: critical,
		timeout:  timeout,
		checkFn:  checkFn,
	}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) IsCritical() bool       { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	return c.checkFn(ctx)
}
