package query

import (
	"strconv"
	"strings"
)

// clauseKind names the closed set of optional clauses a query may carry.
type clauseKind int

const (
	clauseSort clauseKind = iota
	clauseFilter
	clauseStore
)

var clauseKeywords = map[string]clauseKind{
	"sort":   clauseSort,
	"filter": clauseFilter,
	"store":  clauseStore,
}

func (k clauseKind) String() string {
	switch k {
	case clauseSort:
		return "SORT"
	case clauseFilter:
		return "FILTER"
	default:
		return "STORE"
	}
}

// clause is one parsed clause. Each kind writes a disjoint part of the Query, which is
// what makes the scan order-independent.
type clause interface {
	kind() clauseKind
	apply(q *Query)
}

type sortClause struct{ keys []SortKey }

func (sortClause) kind() clauseKind  { return clauseSort }
func (c sortClause) apply(q *Query) { q.SortKeys = c.keys }

type filterClause struct{ filters []FilterSpec }

func (filterClause) kind() clauseKind  { return clauseFilter }
func (c filterClause) apply(q *Query) { q.Filters = c.filters }

type storeClause struct{ key string }

func (storeClause) kind() clauseKind  { return clauseStore }
func (c storeClause) apply(q *Query) { q.Destination = c.key }

// ParseGet parses the arguments following TABULAR.GET:
// source start length [SORT ...] [FILTER ...] [STORE key].
func ParseGet(args []string) (*Query, error) {
	if len(args) < 3 {
		return nil, ArgumentError("wrong number of arguments, %s", GetUsage)
	}
	start, err := parseWindowBound(args[1], "start")
	if err != nil {
		return nil, err
	}
	length, err := parseWindowBound(args[2], "length")
	if err != nil {
		return nil, err
	}

	q := &Query{
		Mode:   ModeGet,
		Source: args[0],
		Window: Window{Start: start, Length: length},
	}
	if err := parseClauses(q, args[3:]); err != nil {
		return nil, err
	}
	return q, nil
}

// ParseCount parses the arguments following TABULAR.COUNT:
// source FILTER ... [STORE key]. SORT is rejected and FILTER is mandatory.
func ParseCount(args []string) (*Query, error) {
	if len(args) < 1 {
		return nil, ArgumentError("wrong number of arguments, %s", CountUsage)
	}
	q := &Query{
		Mode:   ModeCount,
		Source: args[0],
	}
	if err := parseClauses(q, args[1:]); err != nil {
		return nil, err
	}
	if len(q.SortKeys) > 0 {
		return nil, ArgumentError("SORT is not allowed with COUNT, %s", CountUsage)
	}
	if len(q.Filters) == 0 {
		return nil, ArgumentError("COUNT needs a FILTER clause to group by, %s", CountUsage)
	}
	return q, nil
}

// Parse dispatches to ParseGet or ParseCount.
func Parse(mode Mode, args []string) (*Query, error) {
	if mode == ModeCount {
		return ParseCount(args)
	}
	return ParseGet(args)
}

func parseWindowBound(token, name string) (uint64, error) {
	v, err := strconv.ParseUint(token, 10, 64)
	if err != nil {
		return 0, ArgumentError("window %s must be a non-negative integer, got %q", name, token)
	}
	return v, nil
}

// parseClauses scans tokens once, left to right. Every clause starts with its keyword and
// has an explicit arity; a repeated clause kind is rejected.
func parseClauses(q *Query, tokens []string) error {
	var seen [3]bool
	clauses := make([]clause, 0, 3)

	for i := 0; i < len(tokens); {
		kind, ok := clauseKeywords[strings.ToLower(tokens[i])]
		if !ok {
			return ArgumentError("unexpected token %q, expected SORT, FILTER or STORE", tokens[i])
		}
		if seen[kind] {
			return ArgumentError("%s clause given more than once", kind)
		}
		seen[kind] = true

		var (
			c    clause
			next int
			err  error
		)
		switch kind {
		case clauseSort:
			c, next, err = parseSort(tokens, i+1)
		case clauseFilter:
			c, next, err = parseFilter(tokens, i+1)
		case clauseStore:
			c, next, err = parseStore(tokens, i+1)
		}
		if err != nil {
			return err
		}
		clauses = append(clauses, c)
		i = next
	}

	for _, c := range clauses {
		c.apply(q)
	}
	return nil
}

func parseClauseCount(tokens []string, i int, kind clauseKind) (int, error) {
	if i >= len(tokens) {
		return 0, ArgumentError("%s needs a column count", kind)
	}
	n, err := strconv.ParseInt(tokens[i], 10, 64)
	if err != nil || n <= 0 {
		return 0, ArgumentError("%s column count must be a positive integer, got %q", kind, tokens[i])
	}
	// each group needs at least two tokens
	remaining := len(tokens) - i - 1
	if n > int64(remaining/2) {
		return 0, ArgumentError("%s announces %d columns but only %d tokens follow", kind, n, remaining)
	}
	return int(n), nil
}

func parseSort(tokens []string, i int) (clause, int, error) {
	n, err := parseClauseCount(tokens, i, clauseSort)
	if err != nil {
		return nil, 0, err
	}
	i++

	keys := make([]SortKey, 0, n)
	for len(keys) < n {
		if i+1 >= len(tokens) {
			return nil, 0, ArgumentError("SORT expects %d column/order pairs, got %d", n, len(keys))
		}
		order, err := ParseOrder(tokens[i+1])
		if err != nil {
			return nil, 0, err
		}
		keys = append(keys, SortKey{Column: tokens[i], Order: order})
		i += 2
	}
	return sortClause{keys: keys}, i, nil
}

func parseFilter(tokens []string, i int) (clause, int, error) {
	n, err := parseClauseCount(tokens, i, clauseFilter)
	if err != nil {
		return nil, 0, err
	}
	i++

	filters := make([]FilterSpec, 0, n)
	for len(filters) < n {
		if i+1 >= len(tokens) {
			return nil, 0, ArgumentError("FILTER expects %d predicate groups, got %d", n, len(filters))
		}
		column := tokens[i]
		kind, keyword := predicateNames[strings.ToLower(tokens[i+1])]

		var (
			operand string
			next    int
		)
		if keyword {
			if i+2 >= len(tokens) {
				return nil, 0, ArgumentError("FILTER %s on %q is missing its operand", strings.ToUpper(tokens[i+1]), column)
			}
			operand, next = tokens[i+2], i+3
		} else {
			// column pattern: shorthand for column MATCH pattern
			kind, operand, next = PredicateMatch, tokens[i+1], i+2
		}

		var pred Predicate
		switch kind {
		case PredicateMatch:
			pred, err = Match(operand)
			if err != nil {
				return nil, 0, err
			}
		case PredicateEqual:
			pred = Equal(operand)
		case PredicateIn:
			pred = In(operand)
		}
		filters = append(filters, FilterSpec{Column: column, Predicate: pred})
		i = next
	}
	return filterClause{filters: filters}, i, nil
}

func parseStore(tokens []string, i int) (clause, int, error) {
	if i >= len(tokens) {
		return nil, 0, ArgumentError("STORE needs a destination key")
	}
	if tokens[i] == "" {
		return nil, 0, ArgumentError("STORE destination key must not be empty")
	}
	return storeClause{key: tokens[i]}, i + 1, nil
}
