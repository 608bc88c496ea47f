package engine

import (
	"context"
	"slices"

	"github.com/nimburion/tabular/pkg/observability/tracing"
)

// GroupNode is one bucket of the COUNT breakdown. Children is nil on the last level.
type GroupNode struct {
	Column   string      `json:"column" yaml:"column"`
	Value    string      `json:"value" yaml:"value"`
	Count    uint64      `json:"count" yaml:"count"`
	Children []GroupNode `json:"children" yaml:"children"`
}

// CountResult is the outcome of a COUNT.
type CountResult struct {
	Groups []GroupNode
	// NoResult is set when no row qualified. Nothing is written in that case.
	NoResult    bool
	Stored      bool
	Destination string
	Counters    []Counter

	Scanned   int
	Qualified int
}

// bucket is one node of the mapping-of-mappings built while aggregating.
type bucket struct {
	count    uint64
	children map[string]*bucket
}

func newBucket() *bucket {
	return &bucket{children: make(map[string]*bucket)}
}

// aggregate buckets rows by the observed value of each grouping column in turn.
func aggregate(rows []row, columns []string, cols columnIndex) []GroupNode {
	if len(rows) == 0 || len(columns) == 0 {
		return nil
	}
	slots := make([]int, len(columns))
	for i, c := range columns {
		slots[i] = cols.slot(c)
	}

	root := newBucket()
	for _, r := range rows {
		node := root
		node.count++
		for _, slot := range slots {
			value := r.field(slot).Value
			child, ok := node.children[value]
			if !ok {
				child = newBucket()
				node.children[value] = child
			}
			child.count++
			node = child
		}
	}
	return root.nodes(columns)
}

// nodes converts the children of b into GroupNodes ordered by value.
func (b *bucket) nodes(columns []string) []GroupNode {
	if len(columns) == 0 {
		return nil
	}
	values := make([]string, 0, len(b.children))
	for v := range b.children {
		values = append(values, v)
	}
	slices.Sort(values)

	out := make([]GroupNode, len(values))
	for i, v := range values {
		child := b.children[v]
		out[i] = GroupNode{
			Column:   columns[0],
			Value:    v,
			Count:    child.count,
			Children: child.nodes(columns[1:]),
		}
	}
	return out
}

// flattenCounters lists one counter per bucket at every depth, parents before children.
func flattenCounters(dest string, groups []GroupNode) []Counter {
	var counters []Counter
	var walk func(path []string, nodes []GroupNode)
	walk = func(path []string, nodes []GroupNode) {
		for _, n := range nodes {
			p := append(slices.Clip(path), n.Value)
			counters = append(counters, Counter{Key: CounterKey(dest, p), Value: int64(n.Count)})
			walk(p, n.Children)
		}
	}
	walk(nil, groups)
	return counters
}

// storeCounters stages every counter and hands them to the result store in one call.
func (e *Engine) storeCounters(ctx context.Context, dest string, groups []GroupNode) ([]Counter, error) {
	counters := flattenCounters(dest, groups)

	ctx, span := tracing.StartQuerySpan(ctx, tracing.SpanOperationMaterialize,
		tracing.WithQueryDestination(dest), tracing.WithRowCount(len(counters)))
	err := e.results.WriteCounters(ctx, dest, counters)
	tracing.End(span, err)
	if err != nil {
		return nil, err
	}
	return counters, nil
}
