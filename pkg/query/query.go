// Package query holds the tabular query model and the descriptor parser that builds it
// from a command argument vector.
package query

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Mode selects the operation a query runs.
type Mode int

const (
	// ModeGet returns (or stores) an ordered window of row identifiers.
	ModeGet Mode = iota
	// ModeCount returns (or stores) the hierarchical group counts.
	ModeCount
)

func (m Mode) String() string {
	switch m {
	case ModeGet:
		return "get"
	case ModeCount:
		return "count"
	default:
		return "unknown"
	}
}

// Order is the comparison applied to one sort column.
type Order int

const (
	OrderAlpha Order = iota
	OrderRevAlpha
	OrderNum
	OrderRevNum
)

var orderNames = map[string]Order{
	"alpha":    OrderAlpha,
	"revalpha": OrderRevAlpha,
	"num":      OrderNum,
	"revnum":   OrderRevNum,
}

// ParseOrder resolves a case-insensitive order token.
func ParseOrder(token string) (Order, error) {
	order, ok := orderNames[strings.ToLower(token)]
	if !ok {
		return 0, ArgumentError("unknown sort order %q", token)
	}
	return order, nil
}

func (o Order) String() string {
	switch o {
	case OrderAlpha:
		return "alpha"
	case OrderRevAlpha:
		return "revalpha"
	case OrderNum:
		return "num"
	case OrderRevNum:
		return "revnum"
	default:
		return "unknown"
	}
}

// Numeric reports whether values are compared as base-10 integers.
func (o Order) Numeric() bool {
	return o == OrderNum || o == OrderRevNum
}

// Descending reports whether the natural comparison is negated.
func (o Order) Descending() bool {
	return o == OrderRevAlpha || o == OrderRevNum
}

// SortKey is one column of a multi-column sort. Position in Query.SortKeys is priority.
type SortKey struct {
	Column string
	Order  Order
}

// PredicateKind is the test a filter applies to a field value.
type PredicateKind int

const (
	PredicateMatch PredicateKind = iota
	PredicateEqual
	PredicateIn
)

var predicateNames = map[string]PredicateKind{
	"match": PredicateMatch,
	"equal": PredicateEqual,
	"in":    PredicateIn,
}

func (k PredicateKind) String() string {
	switch k {
	case PredicateMatch:
		return "match"
	case PredicateEqual:
		return "equal"
	case PredicateIn:
		return "in"
	default:
		return "unknown"
	}
}

// Predicate is a filter test and its single operand: a glob pattern, a literal value,
// or the name of a set.
type Predicate struct {
	Kind    PredicateKind
	Operand string

	matcher glob.Glob
}

// Match builds a shell-glob predicate with fnmatch rules: '*', '?' and bracket classes
// ("[!...]" or "[^...]" negate), no escape character. The pattern is compiled once.
func Match(pattern string) (Predicate, error) {
	g, err := compileMatch(pattern)
	if err != nil {
		return Predicate{}, ArgumentError("invalid MATCH pattern %q: %v", pattern, err)
	}
	return Predicate{Kind: PredicateMatch, Operand: pattern, matcher: g}, nil
}

// Equal builds an exact string equality predicate.
func Equal(value string) Predicate {
	return Predicate{Kind: PredicateEqual, Operand: value}
}

// In builds a set membership predicate against the named set.
func In(set string) Predicate {
	return Predicate{Kind: PredicateIn, Operand: set}
}

// Test evaluates MATCH and EQUAL against value. IN needs the host store and always
// reports false here.
func (p Predicate) Test(value string) bool {
	switch p.Kind {
	case PredicateEqual:
		return value == p.Operand
	case PredicateMatch:
		if p.matcher == nil {
			g, err := compileMatch(p.Operand)
			if err != nil {
				return false
			}
			return g.Match(value)
		}
		return p.matcher.Match(value)
	default:
		return false
	}
}

func (p Predicate) String() string {
	return fmt.Sprintf("%s %s", strings.ToUpper(p.Kind.String()), p.Operand)
}

// FilterSpec binds a predicate to a column. All filters of a query are ANDed.
type FilterSpec struct {
	Column    string
	Predicate Predicate
}

// Window is the half-open range [Start, Start+Length) over the ordered result.
type Window struct {
	Start  uint64
	Length uint64
}

// Query is a parsed, validated request. It is not modified after parsing.
type Query struct {
	Mode        Mode
	Source      string
	Window      Window
	SortKeys    []SortKey
	Filters     []FilterSpec
	Destination string
}

// Stores reports whether the result is written to Destination instead of returned.
func (q *Query) Stores() bool {
	return q.Destination != ""
}

// FilterColumns returns the filter columns in declared order, duplicates included.
func (q *Query) FilterColumns() []string {
	cols := make([]string, len(q.Filters))
	for i, f := range q.Filters {
		cols[i] = f.Column
	}
	return cols
}

// Columns returns each column referenced by sort keys or filters once, sort columns first.
func (q *Query) Columns() []string {
	seen := make(map[string]struct{}, len(q.SortKeys)+len(q.Filters))
	cols := make([]string, 0, len(q.SortKeys)+len(q.Filters))
	add := func(col string) {
		if _, ok := seen[col]; ok {
			return
		}
		seen[col] = struct{}{}
		cols = append(cols, col)
	}
	for _, k := range q.SortKeys {
		add(k.Column)
	}
	for _, f := range q.Filters {
		add(f.Column)
	}
	return cols
}

// String renders the query back in canonical clause order.
func (q *Query) String() string {
	var sb strings.Builder
	if q.Mode == ModeCount {
		fmt.Fprintf(&sb, "TABULAR.COUNT %s", q.Source)
	} else {
		fmt.Fprintf(&sb, "TABULAR.GET %s %d %d", q.Source, q.Window.Start, q.Window.Length)
	}
	if len(q.SortKeys) > 0 {
		fmt.Fprintf(&sb, " SORT %d", len(q.SortKeys))
		for _, k := range q.SortKeys {
			fmt.Fprintf(&sb, " %s %s", k.Column, strings.ToUpper(k.Order.String()))
		}
	}
	if len(q.Filters) > 0 {
		fmt.Fprintf(&sb, " FILTER %d", len(q.Filters))
		for _, f := range q.Filters {
			fmt.Fprintf(&sb, " %s %s", f.Column, f.Predicate)
		}
	}
	if q.Stores() {
		fmt.Fprintf(&sb, " STORE %s", q.Destination)
	}
	return sb.String()
}
