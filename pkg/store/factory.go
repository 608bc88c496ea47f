package store

import (
	"fmt"
	"strings"

	"github.com/nimburion/tabular/pkg/config"
	"github.com/nimburion/tabular/pkg/observability/logger"
	"github.com/nimburion/tabular/pkg/store/memory"
	"github.com/nimburion/tabular/pkg/store/redis"
)

var (
	_ Backend = (*redis.Adapter)(nil)
	_ Backend = (*memory.Store)(nil)
)

// NewBackend selects and initializes the record/result store from config.
// The memory backend is seeded from store.fixture when one is configured.
func NewBackend(cfg *config.Config, log logger.Logger) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Store.Backend)) {
	case config.StoreBackendRedis:
		kind, err := redis.ParseOrderedListKind(cfg.Query.OrderedListKind)
		if err != nil {
			return nil, err
		}
		return redis.NewAdapter(redis.Config{
			URL:                cfg.Redis.URL,
			MaxConns:           cfg.Redis.MaxConns,
			OperationTimeout:   cfg.Redis.OperationTimeout,
			ScanCount:          cfg.Redis.ScanCount,
			OrderedListKind:    kind,
			ClearStaleCounters: cfg.Query.ClearStaleCounters,
		}, log)
	case config.StoreBackendMemory:
		s := memory.New(memory.Options{
			OrderedListKind:    memory.OrderedListKind(strings.ToLower(cfg.Query.OrderedListKind)),
			ClearStaleCounters: cfg.Query.ClearStaleCounters,
		})
		if path := strings.TrimSpace(cfg.Store.Fixture); path != "" {
			if err := s.LoadFixtureFile(path); err != nil {
				return nil, err
			}
			log.Info("memory store seeded from fixture", "fixture", path)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store.backend %q (supported: redis, memory)", cfg.Store.Backend)
	}
}
