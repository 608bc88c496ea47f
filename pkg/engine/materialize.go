package engine

import (
	"context"
	"strings"

	"github.com/nimburion/tabular/pkg/observability/tracing"
)

// CounterSeparator joins the destination, the counter marker and the observed values of a
// group path.
const CounterSeparator = ":"

// Counter is one scalar written by COUNT ... STORE.
type Counter struct {
	Key   string
	Value int64
}

// ResultStore is the write side of the host key-value store. Each call replaces its
// destination completely and must appear atomic to readers.
type ResultStore interface {
	WriteOrderedList(ctx context.Context, key string, ids []string) error
	WriteCounters(ctx context.Context, dest string, counters []Counter) error
}

// CounterPrefix returns the key prefix shared by every counter of dest.
func CounterPrefix(dest string) string {
	return dest + CounterSeparator + "count" + CounterSeparator
}

// CounterKey returns the counter key for the group identified by path.
func CounterKey(dest string, path []string) string {
	return CounterPrefix(dest) + strings.Join(path, CounterSeparator)
}

// GetResult is the outcome of a GET.
type GetResult struct {
	// Rows holds the windowed row ids. It is also set when the result was stored.
	Rows        []string
	Stored      bool
	Destination string

	Scanned   int
	Qualified int
}

func rowIDs(rows []row) []string {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.id
	}
	return ids
}

// materialize builds the GET result, overwriting dest with the ids when one is given.
func (e *Engine) materialize(ctx context.Context, rows []row, dest string) (*GetResult, error) {
	result := &GetResult{Rows: rowIDs(rows), Destination: dest}
	if dest == "" {
		return result, nil
	}

	ctx, span := tracing.StartQuerySpan(ctx, tracing.SpanOperationMaterialize,
		tracing.WithQueryDestination(dest), tracing.WithRowCount(len(rows)))
	err := e.results.WriteOrderedList(ctx, dest, result.Rows)
	tracing.End(span, err)
	if err != nil {
		return nil, err
	}
	result.Stored = true
	return result, nil
}
