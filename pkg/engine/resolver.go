package engine

import (
	"context"
	"fmt"

	"github.com/nimburion/tabular/pkg/observability/tracing"
)

// FieldValue is one field of one record. Present is false when the record or the field does
// not exist; an absent value sorts and prints as "".
type FieldValue struct {
	Value   string
	Present bool
}

// RecordStore is the read side of the host key-value store.
type RecordStore interface {
	// Members returns the row ids of a collection in its native order. A missing key is an
	// empty collection; a key of a non-collection type yields query.ErrWrongType.
	Members(ctx context.Context, collection string) ([]string, error)
	// Fields returns, for each id, the values of columns in the given order.
	Fields(ctx context.Context, ids []string, columns []string) ([][]FieldValue, error)
	// SetContains reports membership of each value in the named set. A missing set
	// contains nothing.
	SetContains(ctx context.Context, set string, values []string) ([]bool, error)
}

// row is a candidate record: its id, its position in the source and the values of the
// columns the query references, indexed like columnIndex.
type row struct {
	id     string
	pos    int
	values []FieldValue
}

func (r row) field(col int) FieldValue {
	if col < 0 || col >= len(r.values) {
		return FieldValue{}
	}
	return r.values[col]
}

// columnIndex maps each referenced column to its slot in row.values.
type columnIndex struct {
	names []string
	slots map[string]int
}

func newColumnIndex(columns []string) columnIndex {
	idx := columnIndex{names: columns, slots: make(map[string]int, len(columns))}
	for i, c := range columns {
		idx.slots[c] = i
	}
	return idx
}

func (c columnIndex) slot(column string) int {
	if i, ok := c.slots[column]; ok {
		return i
	}
	return -1
}

// resolve expands source into rows carrying every referenced column. Fields are fetched
// in batches of batchSize ids.
func (e *Engine) resolve(ctx context.Context, source string, cols columnIndex) ([]row, error) {
	ctx, span := tracing.StartQuerySpan(ctx, tracing.SpanOperationResolve, tracing.WithQuerySource(source))
	rows, err := e.resolveRows(ctx, source, cols)
	if err == nil {
		span.SetAttributes(rowCountAttr(len(rows)))
	}
	tracing.End(span, err)
	return rows, err
}

func (e *Engine) resolveRows(ctx context.Context, source string, cols columnIndex) ([]row, error) {
	ids, err := e.records.Members(ctx, source)
	if err != nil {
		return nil, err
	}

	rows := make([]row, len(ids))
	for i, id := range ids {
		rows[i] = row{id: id, pos: i}
	}
	if len(cols.names) == 0 || len(ids) == 0 {
		return rows, nil
	}

	for start := 0; start < len(ids); start += e.batchSize {
		end := min(start+e.batchSize, len(ids))
		values, err := e.records.Fields(ctx, ids[start:end], cols.names)
		if err != nil {
			return nil, fmt.Errorf("fetch fields of %q: %w", source, err)
		}
		if len(values) != end-start {
			return nil, fmt.Errorf("record store returned %d records for %d ids", len(values), end-start)
		}
		for i, v := range values {
			if len(v) != len(cols.names) {
				return nil, fmt.Errorf("record store returned %d fields for %d columns", len(v), len(cols.names))
			}
			rows[start+i].values = v
		}
	}
	return rows, nil
}
