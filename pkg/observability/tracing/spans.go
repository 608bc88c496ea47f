// Package tracing wires OpenTelemetry spans around query execution and store round trips.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer scope used for every tabular span.
const InstrumentationName = "github.com/nimburion/tabular"

// SpanOperation names a traced step.
type SpanOperation string

const (
	SpanOperationGet   SpanOperation = "tabular.get"
	SpanOperationCount SpanOperation = "tabular.count"

	SpanOperationResolve     SpanOperation = "resolve"
	SpanOperationFilter      SpanOperation = "filter"
	SpanOperationSort        SpanOperation = "sort"
	SpanOperationMaterialize SpanOperation = "materialize"
	SpanOperationAggregate   SpanOperation = "aggregate"

	SpanOperationStoreRead  SpanOperation = "store.read"
	SpanOperationStoreWrite SpanOperation = "store.write"

	SpanOperationRefresh SpanOperation = "refresh.run"
)

// QuerySpanOption configures a query span.
type QuerySpanOption func(*querySpanOptions)

type querySpanOptions struct {
	source     string
	attributes []attribute.KeyValue
}

// WithQuerySource names the source collection.
func WithQuerySource(source string) QuerySpanOption {
	return func(opts *querySpanOptions) {
		opts.source = source
		opts.attributes = append(opts.attributes, attribute.String("tabular.source", source))
	}
}

// WithQueryDestination records the STORE destination.
func WithQueryDestination(dest string) QuerySpanOption {
	return func(opts *querySpanOptions) {
		if dest == "" {
			return
		}
		opts.attributes = append(opts.attributes, attribute.String("tabular.destination", dest))
	}
}

// WithQueryStatement records the canonical query text.
func WithQueryStatement(stmt string) QuerySpanOption {
	return func(opts *querySpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("tabular.statement", stmt))
	}
}

// WithRowCount records how many rows the step produced.
func WithRowCount(n int) QuerySpanOption {
	return func(opts *querySpanOptions) {
		opts.attributes = append(opts.attributes, attribute.Int("tabular.rows", n))
	}
}

// StartQuerySpan opens a span for a whole query or one of its phases.
func StartQuerySpan(ctx context.Context, operation SpanOperation, opts ...QuerySpanOption) (context.Context, trace.Span) {
	spanOpts := &querySpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("tabular.operation", string(operation)),
		},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	spanName := string(operation)
	if spanOpts.source != "" {
		spanName = fmt.Sprintf("%s %s", operation, spanOpts.source)
	}

	ctx, span := otel.Tracer(InstrumentationName).Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(spanOpts.attributes...)
	return ctx, span
}

// StoreSpanOption configures a store span.
type StoreSpanOption func(*storeSpanOptions)

type storeSpanOptions struct {
	command    string
	attributes []attribute.KeyValue
}

// WithStoreSystem sets the backing system, e.g. "redis" or "memory".
func WithStoreSystem(system string) StoreSpanOption {
	return func(opts *storeSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("db.system", system))
	}
}

// WithStoreCommand names the store command family issued, e.g. "HMGET".
func WithStoreCommand(command string) StoreSpanOption {
	return func(opts *storeSpanOptions) {
		opts.command = command
		opts.attributes = append(opts.attributes, attribute.String("db.operation", command))
	}
}

// WithStoreKey sets the key the command addresses.
func WithStoreKey(key string) StoreSpanOption {
	return func(opts *storeSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("db.key", key))
	}
}

// WithStoreBatchSize records how many keys one round trip covered.
func WithStoreBatchSize(n int) StoreSpanOption {
	return func(opts *storeSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.Int("db.batch_size", n))
	}
}

// StartStoreSpan opens a client span for a round trip to the record or result store.
func StartStoreSpan(ctx context.Context, operation SpanOperation, opts ...StoreSpanOption) (context.Context, trace.Span) {
	spanOpts := &storeSpanOptions{}
	for _, opt := range opts {
		opt(spanOpts)
	}

	spanName := string(operation)
	if spanOpts.command != "" {
		spanName = fmt.Sprintf("%s %s", operation, spanOpts.command)
	}

	ctx, span := otel.Tracer(InstrumentationName).Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(spanOpts.attributes...)
	return ctx, span
}

// RecordError marks span failed with err. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess sets the span status to OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// End finishes span, recording err when non-nil and success otherwise.
func End(span trace.Span, err error) {
	if err != nil {
		RecordError(span, err)
	} else {
		RecordSuccess(span)
	}
	span.End()
}
