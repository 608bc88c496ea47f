package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
	return recorder
}

func attributeMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, attr := range attrs {
		out[string(attr.Key)] = attr.Value.AsInterface()
	}
	return out
}

func TestStartQuerySpan(t *testing.T) {
	recorder := setupTestTracer(t)

	tests := []struct {
		name          string
		operation     SpanOperation
		opts          []QuerySpanOption
		expectedName  string
		expectedAttrs map[string]any
	}{
		{
			name:          "phase without options",
			operation:     SpanOperationSort,
			expectedName:  "sort",
			expectedAttrs: map[string]any{"tabular.operation": "sort"},
		},
		{
			name:      "get with source and destination",
			operation: SpanOperationGet,
			opts: []QuerySpanOption{
				WithQuerySource("services"),
				WithQueryDestination("services_sort"),
				WithRowCount(12),
			},
			expectedName: "tabular.get services",
			expectedAttrs: map[string]any{
				"tabular.operation":   "tabular.get",
				"tabular.source":      "services",
				"tabular.destination": "services_sort",
				"tabular.rows":        int64(12),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder.Reset()

			_, span := StartQuerySpan(context.Background(), tt.operation, tt.opts...)
			span.End()

			spans := recorder.Ended()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			if spans[0].Name() != tt.expectedName {
				t.Errorf("span name = %q, want %q", spans[0].Name(), tt.expectedName)
			}
			attrs := attributeMap(spans[0].Attributes())
			for key, want := range tt.expectedAttrs {
				if attrs[key] != want {
					t.Errorf("attribute %s = %v, want %v", key, attrs[key], want)
				}
			}
		})
	}
}

func TestWithQueryDestination_EmptyIsOmitted(t *testing.T) {
	recorder := setupTestTracer(t)

	_, span := StartQuerySpan(context.Background(), SpanOperationCount, WithQueryDestination(""))
	span.End()

	attrs := attributeMap(recorder.Ended()[0].Attributes())
	if _, ok := attrs["tabular.destination"]; ok {
		t.Error("empty destination must not be recorded")
	}
}

func TestStartStoreSpan(t *testing.T) {
	recorder := setupTestTracer(t)

	_, span := StartStoreSpan(context.Background(), SpanOperationStoreRead,
		WithStoreSystem("redis"),
		WithStoreCommand("HMGET"),
		WithStoreKey("services"),
		WithStoreBatchSize(256),
	)
	span.End()

	ended := recorder.Ended()[0]
	if ended.Name() != "store.read HMGET" {
		t.Errorf("span name = %q, want store.read HMGET", ended.Name())
	}
	attrs := attributeMap(ended.Attributes())
	if attrs["db.system"] != "redis" || attrs["db.batch_size"] != int64(256) || attrs["db.key"] != "services" {
		t.Errorf("unexpected attributes: %v", attrs)
	}
}

func TestEnd_RecordsStatus(t *testing.T) {
	recorder := setupTestTracer(t)

	_, ok := StartQuerySpan(context.Background(), SpanOperationFilter)
	End(ok, nil)
	_, failed := StartQuerySpan(context.Background(), SpanOperationResolve)
	End(failed, errors.New("WRONGTYPE"))

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", spans[0].Status().Code)
	}
	if spans[1].Status().Code != codes.Error || spans[1].Status().Description != "WRONGTYPE" {
		t.Errorf("status = %+v, want Error WRONGTYPE", spans[1].Status())
	}
	if len(spans[1].Events()) == 0 {
		t.Error("expected an exception event on the failed span")
	}
}
