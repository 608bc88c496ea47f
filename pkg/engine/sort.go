package engine

import (
	"slices"
	"strconv"
	"strings"

	"github.com/nimburion/tabular/pkg/query"
)

type comparison int

const (
	less    comparison = -1
	equal   comparison = 0
	greater comparison = 1
)

func (c comparison) negate() comparison { return -c }

// compareValues compares two field values under one order. Numeric orders parse base-10
// integers; when either side does not parse the pair is equal under that key.
func compareValues(a, b FieldValue, order query.Order) comparison {
	var c comparison
	if order.Numeric() {
		x, errA := strconv.ParseInt(a.Value, 10, 64)
		y, errB := strconv.ParseInt(b.Value, 10, 64)
		if errA != nil || errB != nil {
			return equal
		}
		switch {
		case x < y:
			c = less
		case x > y:
			c = greater
		}
	} else {
		c = comparison(strings.Compare(a.Value, b.Value))
	}
	if order.Descending() {
		return c.negate()
	}
	return c
}

type sortKey struct {
	slot  int
	order query.Order
}

// orderRows sorts rows in place by keys. Rows tied on every key keep source order, or the
// reverse of it when the primary key is descending, so that flipping every key direction
// reverses the whole sequence. With no keys rows stay in source order.
func orderRows(rows []row, keys []query.SortKey, cols columnIndex) {
	if len(keys) == 0 {
		return
	}
	resolved := make([]sortKey, len(keys))
	for i, k := range keys {
		resolved[i] = sortKey{slot: cols.slot(k.Column), order: k.Order}
	}
	descendingTies := keys[0].Order.Descending()

	slices.SortStableFunc(rows, func(a, b row) int {
		for _, k := range resolved {
			if c := compareValues(a.field(k.slot), b.field(k.slot), k.order); c != equal {
				return int(c)
			}
		}
		if descendingTies {
			return b.pos - a.pos
		}
		return a.pos - b.pos
	})
}
