// Package engine evaluates tabular queries against a record store: it resolves the source
// collection, filters, sorts and windows the rows, and either replies with the result or
// overwrites a destination in the result store.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nimburion/tabular/pkg/observability/logger"
	"github.com/nimburion/tabular/pkg/observability/metrics"
	"github.com/nimburion/tabular/pkg/observability/tracing"
	"github.com/nimburion/tabular/pkg/query"
)

// DefaultFetchBatchSize is the number of rows whose fields are fetched per round trip.
const DefaultFetchBatchSize = 512

// Options configures an Engine. The zero value is usable.
type Options struct {
	Logger         logger.Logger
	Metrics        *metrics.QueryMetrics
	FetchBatchSize int
}

// Engine runs queries. It holds no per-query state and is safe for concurrent use when its
// stores are.
type Engine struct {
	records   RecordStore
	results   ResultStore
	log       logger.Logger
	metrics   *metrics.QueryMetrics
	batchSize int
}

// New builds an Engine reading from records and writing destinations to results.
func New(records RecordStore, results ResultStore, opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	batch := opts.FetchBatchSize
	if batch <= 0 {
		batch = DefaultFetchBatchSize
	}
	return &Engine{
		records:   records,
		results:   results,
		log:       log,
		metrics:   opts.Metrics,
		batchSize: batch,
	}
}

func rowCountAttr(n int) attribute.KeyValue {
	return attribute.Int("tabular.rows", n)
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return metrics.StatusOK
	case query.IsArgument(err):
		return metrics.StatusArgumentError
	case query.IsWrongType(err):
		return metrics.StatusWrongType
	default:
		return metrics.StatusError
	}
}

// begin tags ctx with a fresh query id unless the caller already set one.
func (e *Engine) begin(ctx context.Context) (context.Context, logger.Logger) {
	if logger.QueryIDFromContext(ctx) == "" {
		ctx = logger.ContextWithQueryID(ctx, uuid.NewString())
	}
	return ctx, e.log.WithContext(ctx)
}

// Get filters, orders and windows the source rows. With a destination the window is
// written as an ordered list and the result reports Stored.
func (e *Engine) Get(ctx context.Context, q *query.Query) (result *GetResult, err error) {
	if q == nil || q.Mode != query.ModeGet {
		return nil, query.ArgumentError("Get needs a GET query")
	}
	ctx, log := e.begin(ctx)
	started := time.Now()

	ctx, span := tracing.StartQuerySpan(ctx, tracing.SpanOperationGet,
		tracing.WithQuerySource(q.Source),
		tracing.WithQueryDestination(q.Destination),
		tracing.WithQueryStatement(q.String()),
	)
	defer func() {
		tracing.End(span, err)
		e.metrics.ObserveQuery(query.ModeGet.String(), statusOf(err), time.Since(started))
		if err != nil {
			log.Warn("query failed", "mode", "get", "source", q.Source, "error", err)
		}
	}()

	cols := newColumnIndex(q.Columns())
	rows, err := e.resolve(ctx, q.Source, cols)
	if err != nil {
		return nil, err
	}
	scanned := len(rows)
	log.Debug("rows resolved", "source", q.Source, "rows", scanned)

	rows, err = e.filter(ctx, rows, q, cols)
	if err != nil {
		return nil, err
	}
	qualified := len(rows)

	_, sortSpan := tracing.StartQuerySpan(ctx, tracing.SpanOperationSort, tracing.WithRowCount(qualified))
	orderRows(rows, q.SortKeys, cols)
	tracing.End(sortSpan, nil)

	window := selectWindow(rows, q.Window)
	result, err = e.materialize(ctx, window, q.Destination)
	if err != nil {
		return nil, err
	}
	result.Scanned, result.Qualified = scanned, qualified

	e.metrics.AddRows(query.ModeGet.String(), scanned, len(window))
	if result.Stored {
		e.metrics.IncDestinationWrite(query.ModeGet.String())
		log.Info("order index stored", "source", q.Source, "destination", q.Destination, "rows", len(window))
	} else {
		log.Debug("rows returned", "source", q.Source, "qualified", qualified, "rows", len(window))
	}
	return result, nil
}

// Count groups the qualifying rows by the observed values of the filter columns. With a
// destination one counter per group is written and no groups are kept in the result.
func (e *Engine) Count(ctx context.Context, q *query.Query) (result *CountResult, err error) {
	if q == nil || q.Mode != query.ModeCount {
		return nil, query.ArgumentError("Count needs a COUNT query")
	}
	if len(q.SortKeys) > 0 {
		return nil, query.ArgumentError("SORT is not allowed with COUNT, %s", query.CountUsage)
	}
	if len(q.Filters) == 0 {
		return nil, query.ArgumentError("COUNT needs a FILTER clause to group by, %s", query.CountUsage)
	}
	ctx, log := e.begin(ctx)
	started := time.Now()

	ctx, span := tracing.StartQuerySpan(ctx, tracing.SpanOperationCount,
		tracing.WithQuerySource(q.Source),
		tracing.WithQueryDestination(q.Destination),
		tracing.WithQueryStatement(q.String()),
	)
	defer func() {
		tracing.End(span, err)
		e.metrics.ObserveQuery(query.ModeCount.String(), statusOf(err), time.Since(started))
		if err != nil {
			log.Warn("query failed", "mode", "count", "source", q.Source, "error", err)
		}
	}()

	cols := newColumnIndex(q.Columns())
	rows, err := e.resolve(ctx, q.Source, cols)
	if err != nil {
		return nil, err
	}
	scanned := len(rows)
	log.Debug("rows resolved", "source", q.Source, "rows", scanned)

	rows, err = e.filter(ctx, rows, q, cols)
	if err != nil {
		return nil, err
	}

	result = &CountResult{Destination: q.Destination, Scanned: scanned, Qualified: len(rows)}
	e.metrics.AddRows(query.ModeCount.String(), scanned, len(rows))
	if len(rows) == 0 {
		result.NoResult = true
		log.Debug("no qualifying rows", "source", q.Source)
		return result, nil
	}

	_, aggSpan := tracing.StartQuerySpan(ctx, tracing.SpanOperationAggregate, tracing.WithRowCount(len(rows)))
	groups := aggregate(rows, q.FilterColumns(), cols)
	tracing.End(aggSpan, nil)

	if !q.Stores() {
		result.Groups = groups
		return result, nil
	}

	counters, err := e.storeCounters(ctx, q.Destination, groups)
	if err != nil {
		return nil, err
	}
	result.Stored = true
	result.Counters = counters
	e.metrics.IncDestinationWrite(query.ModeCount.String())
	log.Info("group counters stored", "source", q.Source, "destination", q.Destination, "counters", len(counters))
	return result, nil
}

func (e *Engine) filter(ctx context.Context, rows []row, q *query.Query, cols columnIndex) ([]row, error) {
	if len(q.Filters) == 0 {
		return rows, nil
	}
	ctx, span := tracing.StartQuerySpan(ctx, tracing.SpanOperationFilter)
	rows, err := e.applyFilters(ctx, rows, q.Filters, cols)
	if err == nil {
		span.SetAttributes(rowCountAttr(len(rows)))
	}
	tracing.End(span, err)
	return rows, err
}
