package refresh

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LocalLockProvider keeps locks in process memory. It serializes refreshes inside one
// process only and backs the memory store mode.
type LocalLockProvider struct {
	mu    sync.Mutex
	now   func() time.Time
	locks map[string]LockLease
}

// NewLocalLockProvider returns an empty in-process lock table.
func NewLocalLockProvider() *LocalLockProvider {
	return &LocalLockProvider{now: time.Now, locks: map[string]LockLease{}}
}

// Acquire takes key unless an unexpired lease holds it.
func (p *LocalLockProvider) Acquire(_ context.Context, key string, ttl time.Duration) (*LockLease, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, refreshError(ErrInvalidArgument, "lock key is required")
	}
	if ttl <= 0 {
		return nil, false, refreshError(ErrInvalidArgument, "ttl must be > 0")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if held, ok := p.locks[key]; ok && now.Before(held.ExpireAt) {
		return nil, false, nil
	}
	lease := LockLease{Key: key, Token: uuid.NewString(), ExpireAt: now.Add(ttl)}
	p.locks[key] = lease
	return &lease, true, nil
}

// Renew extends an unexpired lease whose token still matches.
func (p *LocalLockProvider) Renew(_ context.Context, lease *LockLease, ttl time.Duration) error {
	if err := validateLease(lease); err != nil {
		return err
	}
	if ttl <= 0 {
		return refreshError(ErrInvalidArgument, "ttl must be > 0")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	held, ok := p.locks[lease.Key]
	if !ok || held.Token != lease.Token || !now.Before(held.ExpireAt) {
		return refreshError(ErrConflict, "lock renew rejected")
	}
	held.ExpireAt = now.Add(ttl)
	p.locks[lease.Key] = held
	lease.ExpireAt = held.ExpireAt
	return nil
}

// Release drops the lease if its token still matches.
func (p *LocalLockProvider) Release(_ context.Context, lease *LockLease) error {
	if err := validateLease(lease); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	held, ok := p.locks[lease.Key]
	if !ok || held.Token != lease.Token {
		return refreshError(ErrConflict, "lock release rejected")
	}
	delete(p.locks, lease.Key)
	return nil
}

// HealthCheck always succeeds.
func (p *LocalLockProvider) HealthCheck(context.Context) error { return nil }

// Close is a no-op.
func (p *LocalLockProvider) Close() error { return nil }
