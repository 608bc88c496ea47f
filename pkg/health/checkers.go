package health

import (
	"context"
	"time"
)

const (
	// StoreCheckName is the registry name of the record/result store check.
	StoreCheckName = "store"
	// LockCheckName is the registry name of the refresh lock provider check.
	LockCheckName = "refresh-lock"

	defaultCheckTimeout = 5 * time.Second
)

// Checkable is an interface for components that support health checks
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// AdapterChecker creates a health checker for any component that implements Checkable
type AdapterChecker struct {
	name    string
	adapter Checkable
	timeout time.Duration
}

// NewAdapterChecker creates a new health checker for an adapter
func NewAdapterChecker(name string, adapter Checkable, timeout time.Duration) *AdapterChecker {
	if timeout == 0 {
		timeout = defaultCheckTimeout
	}

	return &AdapterChecker{
		name:    name,
		adapter: adapter,
		timeout: timeout,
	}
}

// NewStoreChecker checks the backend queries read from and write to.
func NewStoreChecker(store Checkable, timeout time.Duration) *AdapterChecker {
	return NewAdapterChecker(StoreCheckName, store, timeout)
}

// NewLockChecker checks the lock provider that serializes refresh runs.
func NewLockChecker(locks Checkable, timeout time.Duration) *AdapterChecker {
	return NewAdapterChecker(LockCheckName, locks, timeout)
}

// Check performs the health check on the adapter
func (c *AdapterChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.adapter.HealthCheck(checkCtx)
	duration := time.Since(start)

	if err != nil {
		return CheckResult{
			Name:      c.name,
			Status:    StatusUnhealthy,
			Error:     err.Error(),
			Timestamp: time.Now(),
			Duration:  duration,
		}
	}

	return CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "OK",
		Timestamp: time.Now(),
		Duration:  duration,
	}
}

// Name returns the name of the health check
func (c *AdapterChecker) Name() string {
	return c.name
}

// CustomChecker allows creating a health checker from a custom function
type CustomChecker struct {
	name      string
	checkFunc func(ctx context.Context) (Status, string, error)
}

// NewCustomChecker creates a new custom health checker.
// The checkFunc returns (status, message, error).
func NewCustomChecker(name string, checkFunc func(ctx context.Context) (Status, string, error)) *CustomChecker {
	return &CustomChecker{
		name:      name,
		checkFunc: checkFunc,
	}
}

// Check executes the custom check function
func (c *CustomChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	status, message, err := c.checkFunc(ctx)

	result := CheckResult{
		Name:      c.name,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}

	if err != nil {
		result.Error = err.Error()
	}

	return result
}

// Name returns the name of the health check
func (c *CustomChecker) Name() string {
	return c.name
}
