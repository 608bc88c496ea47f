package engine

import (
	"context"

	"github.com/nimburion/tabular/pkg/query"
)

// applyFilters keeps the rows satisfying every filter. Filters run one at a time over the
// survivors of the previous one, so a row stops being tested at its first failing
// predicate. Survivors keep their relative order.
func (e *Engine) applyFilters(ctx context.Context, rows []row, filters []query.FilterSpec, cols columnIndex) ([]row, error) {
	for _, f := range filters {
		if len(rows) == 0 {
			break
		}
		slot := cols.slot(f.Column)

		var keep func(row) bool
		if f.Predicate.Kind == query.PredicateIn {
			members, err := e.membership(ctx, f.Predicate.Operand, rows, slot)
			if err != nil {
				return nil, err
			}
			keep = func(r row) bool {
				v := r.field(slot)
				return v.Present && members[v.Value]
			}
		} else {
			pred := f.Predicate
			keep = func(r row) bool {
				return testScalar(pred, r.field(slot))
			}
		}

		survivors := rows[:0:0]
		for _, r := range rows {
			if keep(r) {
				survivors = append(survivors, r)
			}
		}
		rows = survivors
	}
	return rows, nil
}

// testScalar applies MATCH or EQUAL. An absent field only satisfies an empty operand.
func testScalar(p query.Predicate, v FieldValue) bool {
	if !v.Present && p.Operand != "" {
		return false
	}
	return p.Test(v.Value)
}

// membership asks the store once for the distinct present values of rows.
func (e *Engine) membership(ctx context.Context, set string, rows []row, slot int) (map[string]bool, error) {
	seen := make(map[string]bool)
	values := make([]string, 0)
	for _, r := range rows {
		v := r.field(slot)
		if !v.Present {
			continue
		}
		if _, ok := seen[v.Value]; ok {
			continue
		}
		seen[v.Value] = false
		values = append(values, v.Value)
	}
	if len(values) == 0 {
		return seen, nil
	}

	found, err := e.records.SetContains(ctx, set, values)
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		if i < len(found) {
			seen[v] = found[i]
		}
	}
	return seen, nil
}
