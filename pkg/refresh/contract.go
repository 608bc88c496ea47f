package refresh

import (
	"context"
	"time"

	"github.com/nimburion/tabular/pkg/engine"
	"github.com/nimburion/tabular/pkg/query"
)

// LockLease identifies a held lock.
type LockLease struct {
	Key      string
	Token    string
	ExpireAt time.Time
}

// LockProvider serializes writes to one destination across refresher instances.
type LockProvider interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*LockLease, bool, error)
	Renew(ctx context.Context, lease *LockLease, ttl time.Duration) error
	Release(ctx context.Context, lease *LockLease) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// Executor runs a parsed query. *engine.Engine satisfies it.
type Executor interface {
	Run(ctx context.Context, q *query.Query) (*engine.Reply, error)
}

var _ Executor = (*engine.Engine)(nil)
