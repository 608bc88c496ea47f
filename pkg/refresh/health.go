package refresh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nimburion/tabular/pkg/health"
)

// HealthCheckName is the registry name of the refresh task check.
const HealthCheckName = "refresh"

// NewLockProviderHealthChecker checks the lock provider's backing store.
func NewLockProviderHealthChecker(provider LockProvider, timeout time.Duration) health.Checker {
	return health.NewLockChecker(provider, timeout)
}

// NewHealthChecker reports degraded while any task's last run failed. A failing refresh
// leaves the previous result in place, so readers still get data, only stale.
func NewHealthChecker(r *Runtime) health.Checker {
	return health.NewCustomChecker(HealthCheckName, func(context.Context) (health.Status, string, error) {
		statuses := r.Status()
		var failing []string
		for _, s := range statuses {
			if s.Failing() {
				failing = append(failing, fmt.Sprintf("%s: %s", s.Name, s.LastError))
			}
		}
		if len(failing) == 0 {
			return health.StatusHealthy, fmt.Sprintf("%d tasks", len(statuses)), nil
		}
		return health.StatusDegraded,
			fmt.Sprintf("%d of %d tasks failing", len(failing), len(statuses)),
			errors.New(strings.Join(failing, "; "))
	})
}
