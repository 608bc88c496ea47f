package store

import (
	"context"

	"github.com/nimburion/tabular/pkg/engine"
)

// Adapter is the minimal lifecycle and health contract for storage adapters.
type Adapter interface {
	HealthCheck(ctx context.Context) error
	Close() error
}

// Backend is a store the engine can both read records from and write results to.
type Backend interface {
	Adapter
	engine.RecordStore
	engine.ResultStore
}
