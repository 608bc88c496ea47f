// Package testutil holds helpers shared by package tests.
package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nimburion/tabular/pkg/store/memory"
)

// RequireIntegration skips container-backed tests in short mode, and in CI unless
// INTEGRATION_TESTS is set.
func RequireIntegration(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv("INTEGRATION_TESTS") == "" && os.Getenv("CI") != "" {
		t.Skip("skipping integration test (set INTEGRATION_TESTS=1 to run)")
	}
}

// MemoryStore returns an in-memory store seeded from a YAML fixture document.
func MemoryStore(t *testing.T, fixture string, opts memory.Options) *memory.Store {
	t.Helper()
	s := memory.New(opts)
	if err := s.LoadFixture(strings.NewReader(fixture)); err != nil {
		t.Fatalf("load fixture: %v", err)
	}
	return s
}

// WriteFile writes content to a file under t.TempDir and returns its path.
func WriteFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}
