package store

import (
	"context"
	"testing"

	"github.com/nimburion/tabular/pkg/store/memory"
)

func TestBackendContract(t *testing.T) {
	var b Backend = memory.New(memory.Options{})

	if err := b.HealthCheck(context.Background()); err != nil {
		t.Fatalf("healthcheck: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
