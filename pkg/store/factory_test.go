package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nimburion/tabular/pkg/config"
	"github.com/nimburion/tabular/pkg/observability/logger"
	"github.com/nimburion/tabular/pkg/store/memory"
)

func TestNewBackend_UnsupportedType(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Backend = "etcd"
	_, err := NewBackend(cfg, logger.NewNop())
	if err == nil {
		t.Fatal("expected unsupported backend error")
	}
	if !strings.Contains(err.Error(), "unsupported store.backend") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewBackend_RedisBadURL(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.URL = "not-a-url"
	if _, err := NewBackend(cfg, logger.NewNop()); err == nil {
		t.Fatal("expected redis url error")
	}
}

func TestNewBackend_RedisBadOrderedListKind(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Query.OrderedListKind = "hash"
	if _, err := NewBackend(cfg, logger.NewNop()); err == nil {
		t.Fatal("expected ordered list kind error")
	}
}

func TestNewBackend_MemoryWithFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	fixture := "sets:\n  services: [s1, s2]\nhashes:\n  s1: {name: web}\n  s2: {name: db}\n"
	if err := os.WriteFile(path, []byte(fixture), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.Store.Backend = config.StoreBackendMemory
	cfg.Store.Fixture = path
	cfg.Query.OrderedListKind = config.OrderedListKindZSet

	backend, err := NewBackend(cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	defer backend.Close()

	if err := backend.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	ids, err := backend.Members(context.Background(), "services")
	if err != nil {
		t.Fatalf("Members() error = %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("Members() = %v, want 2 ids from fixture", ids)
	}

	if err := backend.WriteOrderedList(context.Background(), "out", []string{"s2", "s1"}); err != nil {
		t.Fatalf("WriteOrderedList() error = %v", err)
	}
	mem := backend.(*memory.Store)
	if mem.Type("out") != memory.KindZSet {
		t.Errorf("destination type = %s, want zset from query.ordered_list_kind", mem.Type("out"))
	}
}

func TestNewBackend_MemoryMissingFixture(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Backend = config.StoreBackendMemory
	cfg.Store.Fixture = filepath.Join(t.TempDir(), "absent.yaml")
	if _, err := NewBackend(cfg, logger.NewNop()); err == nil {
		t.Fatal("expected error for missing fixture")
	}
}
