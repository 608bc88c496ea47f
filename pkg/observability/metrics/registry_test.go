package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistry_Handler(t *testing.T) {
	registry := NewRegistry()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	registry.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("expected Go runtime metrics in output")
	}
}

func TestRegistry_RegisterAndUnregister(t *testing.T) {
	registry := NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "tabular_test_total", Help: "test"})

	if err := registry.Register(counter); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := registry.Register(counter); err == nil {
		t.Error("expected duplicate registration to fail")
	}
	if !registry.Unregister(counter) {
		t.Error("expected Unregister to report true")
	}
}

func TestQueryMetrics_Records(t *testing.T) {
	registry := NewRegistry()
	m, err := NewQueryMetrics(registry.Registerer())
	if err != nil {
		t.Fatalf("NewQueryMetrics() error = %v", err)
	}

	m.ObserveQuery("get", StatusOK, 3*time.Millisecond)
	m.ObserveQuery("get", StatusOK, time.Millisecond)
	m.ObserveQuery("count", StatusArgumentError, 0)
	m.AddRows("get", 29, 10)
	m.IncDestinationWrite("count")

	if got := testutil.ToFloat64(m.queries.WithLabelValues("get", StatusOK)); got != 2 {
		t.Errorf("get/ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.queries.WithLabelValues("count", StatusArgumentError)); got != 1 {
		t.Errorf("count/argument_error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.scanned.WithLabelValues("get")); got != 29 {
		t.Errorf("scanned = %v, want 29", got)
	}
	if got := testutil.ToFloat64(m.returned.WithLabelValues("get")); got != 10 {
		t.Errorf("returned = %v, want 10", got)
	}
	if got := testutil.ToFloat64(m.writes.WithLabelValues("count")); got != 1 {
		t.Errorf("writes = %v, want 1", got)
	}
}

func TestQueryMetrics_DuplicateRegistration(t *testing.T) {
	registry := NewRegistry()
	if _, err := NewQueryMetrics(registry.Registerer()); err != nil {
		t.Fatalf("first NewQueryMetrics() error = %v", err)
	}
	if _, err := NewQueryMetrics(registry.Registerer()); err == nil {
		t.Fatal("expected second registration to fail")
	}
}

func TestQueryMetrics_NilIsNoop(t *testing.T) {
	var m *QueryMetrics
	m.ObserveQuery("get", StatusOK, time.Second)
	m.AddRows("get", 1, 1)
	m.IncDestinationWrite("get")
}
