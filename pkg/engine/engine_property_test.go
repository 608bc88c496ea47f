package engine_test

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/nimburion/tabular/pkg/engine"
	"github.com/nimburion/tabular/pkg/store/memory"
)

// seedValues stores one row per value: value=v, name is a letter derived from v and
// state is v mod 3.
func seedValues(values []int) *memory.Store {
	s := memory.New(memory.Options{})
	for i, v := range values {
		id := fmt.Sprintf("r%03d", i)
		s.SAdd("rows", id)
		s.HSet(id, map[string]string{
			"value": strconv.Itoa(v),
			"name":  string(rune('a' + (v%5+5)%5)),
			"state": strconv.Itoa((v%3 + 3) % 3),
		})
	}
	return s
}

func run(e *engine.Engine, cmd string) ([]string, error) {
	reply, err := e.Execute(context.Background(), strings.Fields(cmd))
	if err != nil {
		return nil, err
	}
	return reply.Rows, nil
}

func newProperties() *gopter.Properties {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 150
	return gopter.NewProperties(parameters)
}

var genValues = gen.SliceOf(gen.IntRange(-40, 40))

// patternRunes covers the glob metacharacters except ']', so generated text never holds
// a closed bracket class and must match itself.
var patternRunes = []rune(`ab*?{},\!^[-`)

var genPatternText = gen.SliceOf(gen.IntRange(0, len(patternRunes)-1)).Map(func(idx []int) string {
	var b strings.Builder
	for _, i := range idx {
		b.WriteRune(patternRunes[i])
	}
	return b.String()
}).SuchThat(func(s string) bool { return s != "" })

// mixedValues mixes integers with values a numeric sort cannot parse.
var mixedValues = []string{"1", "2", "10", "-3", "n/a", "", "7x", "2"}

func TestProperty_WindowLength(t *testing.T) {
	if testing.Short() {
		t.Skip("property test skipped in short mode")
	}
	properties := newProperties()

	properties.Property("len(result) == min(length, max(0, qualifying-start))", prop.ForAll(
		func(values []int, start, length int) bool {
			e := engine.New(seedValues(values), memory.New(memory.Options{}), engine.Options{})
			all, err := run(e, "TABULAR.GET rows 0 100000 FILTER 1 state EQUAL 0")
			if err != nil {
				return false
			}
			rows, err := run(e, fmt.Sprintf("TABULAR.GET rows %d %d SORT 1 value NUM FILTER 1 state EQUAL 0", start, length))
			if err != nil {
				return false
			}
			return len(rows) == min(length, max(0, len(all)-start))
		},
		genValues,
		gen.IntRange(0, 60),
		gen.IntRange(0, 60),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestProperty_SortIsDeterministic(t *testing.T) {
	if testing.Short() {
		t.Skip("property test skipped in short mode")
	}
	properties := newProperties()

	properties.Property("same query over same data yields the same sequence", prop.ForAll(
		func(raw []string) bool {
			s := memory.New(memory.Options{})
			for i, v := range raw {
				id := fmt.Sprintf("r%03d", i)
				s.SAdd("rows", id)
				s.HSet(id, map[string]string{"value": v})
			}
			e := engine.New(s, s, engine.Options{})
			first, err1 := run(e, "TABULAR.GET rows 0 1000 SORT 1 value NUM")
			second, err2 := run(e, "TABULAR.GET rows 0 1000 SORT 1 value NUM")
			return err1 == nil && err2 == nil && slices.Equal(first, second)
		},
		gen.SliceOf(gen.IntRange(0, len(mixedValues)-1).Map(func(i int) string { return mixedValues[i] })),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestProperty_ReverseOrdersAreExactReversals(t *testing.T) {
	if testing.Short() {
		t.Skip("property test skipped in short mode")
	}
	properties := newProperties()

	reversed := func(e *engine.Engine, column, asc, desc string) bool {
		up, err1 := run(e, fmt.Sprintf("TABULAR.GET rows 0 1000 SORT 1 %s %s", column, asc))
		down, err2 := run(e, fmt.Sprintf("TABULAR.GET rows 0 1000 SORT 1 %s %s", column, desc))
		if err1 != nil || err2 != nil {
			return false
		}
		slices.Reverse(down)
		return slices.Equal(up, down)
	}

	properties.Property("alpha and revalpha are reversed", prop.ForAll(
		func(values []int) bool {
			s := seedValues(values)
			return reversed(engine.New(s, s, engine.Options{}), "name", "ALPHA", "REVALPHA")
		},
		genValues,
	))
	properties.Property("num and revnum are reversed", prop.ForAll(
		func(values []int) bool {
			s := seedValues(values)
			return reversed(engine.New(s, s, engine.Options{}), "value", "NUM", "REVNUM")
		},
		genValues,
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestProperty_SecondaryKeyOnlyBreaksTies(t *testing.T) {
	if testing.Short() {
		t.Skip("property test skipped in short mode")
	}
	properties := newProperties()

	properties.Property("rows are ordered by name, then by value within equal names", prop.ForAll(
		func(values []int) bool {
			s := seedValues(values)
			e := engine.New(s, s, engine.Options{})
			rows, err := run(e, "TABULAR.GET rows 0 1000 SORT 2 name ALPHA value REVNUM")
			if err != nil {
				return false
			}
			fields, err := s.Fields(context.Background(), rows, []string{"name", "value"})
			if err != nil {
				return false
			}
			for i := 1; i < len(fields); i++ {
				prevName, name := fields[i-1][0].Value, fields[i][0].Value
				if prevName > name {
					return false
				}
				if prevName == name {
					prev, _ := strconv.Atoi(fields[i-1][1].Value)
					cur, _ := strconv.Atoi(fields[i][1].Value)
					if prev < cur {
						return false
					}
				}
			}
			return true
		},
		genValues,
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestProperty_FilterSemantics(t *testing.T) {
	if testing.Short() {
		t.Skip("property test skipped in short mode")
	}
	properties := newProperties()

	properties.Property("EQUAL v is a subset of MATCH v", prop.ForAll(
		func(names []string, pick int, other string) bool {
			s := memory.New(memory.Options{})
			for i, name := range names {
				id := fmt.Sprintf("r%03d", i)
				s.SAdd("rows", id)
				s.HSet(id, map[string]string{"name": name})
			}
			operand := other
			if len(names) > 0 && pick%2 == 0 {
				operand = names[pick%len(names)]
			}

			e := engine.New(s, s, engine.Options{})
			eq, err1 := e.Execute(context.Background(), []string{"TABULAR.GET", "rows", "0", "1000", "FILTER", "1", "name", "EQUAL", operand})
			match, err2 := e.Execute(context.Background(), []string{"TABULAR.GET", "rows", "0", "1000", "FILTER", "1", "name", "MATCH", operand})
			if err1 != nil || err2 != nil {
				t.Logf("operand %q: %v %v", operand, err1, err2)
				return false
			}
			for _, id := range eq.Rows {
				if !slices.Contains(match.Rows, id) {
					t.Logf("operand %q: %s matched EQUAL but not MATCH", operand, id)
					return false
				}
			}
			return true
		},
		gen.SliceOf(genPatternText),
		gen.IntRange(0, 1000),
		genPatternText,
	))

	properties.Property("IN an empty set matches nothing", prop.ForAll(
		func(values []int) bool {
			s := seedValues(values)
			rows, err := run(engine.New(s, s, engine.Options{}), "TABULAR.GET rows 0 1000 FILTER 1 value IN empty")
			return err == nil && len(rows) == 0
		},
		genValues,
	))

	properties.Property("filter order does not change the qualifying set", prop.ForAll(
		func(values []int, state, letter string) bool {
			s := seedValues(values)
			e := engine.New(s, s, engine.Options{})
			ab, err1 := run(e, fmt.Sprintf("TABULAR.GET rows 0 1000 FILTER 2 state EQUAL %s name MATCH [%s-e]", state, letter))
			ba, err2 := run(e, fmt.Sprintf("TABULAR.GET rows 0 1000 FILTER 2 name MATCH [%s-e] state EQUAL %s", letter, state))
			if err1 != nil || err2 != nil {
				return false
			}
			slices.Sort(ab)
			slices.Sort(ba)
			return slices.Equal(ab, ba)
		},
		genValues,
		gen.OneConstOf("0", "1", "2"),
		gen.OneConstOf("a", "b", "c", "d"),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func sumCounts(nodes []engine.GroupNode) uint64 {
	var total uint64
	for _, n := range nodes {
		total += n.Count
	}
	return total
}

func countsConsistent(nodes []engine.GroupNode) bool {
	for _, n := range nodes {
		if n.Children != nil && sumCounts(n.Children) != n.Count {
			return false
		}
		if !countsConsistent(n.Children) {
			return false
		}
	}
	return true
}

func TestProperty_CountSums(t *testing.T) {
	if testing.Short() {
		t.Skip("property test skipped in short mode")
	}
	properties := newProperties()

	properties.Property("bucket counts sum to the qualifying rows at every depth", prop.ForAll(
		func(values []int) bool {
			s := seedValues(values)
			e := engine.New(s, s, engine.Options{})
			qualifying, err := run(e, "TABULAR.GET rows 0 100000 FILTER 2 state MATCH * name MATCH [a-c]")
			if err != nil {
				return false
			}
			reply, err := e.Execute(context.Background(), strings.Fields("TABULAR.COUNT rows FILTER 2 state MATCH * name MATCH [a-c]"))
			if err != nil {
				return false
			}
			if len(qualifying) == 0 {
				return reply.Kind == engine.ReplyNil
			}
			return reply.Kind == engine.ReplyGroups &&
				sumCounts(reply.Groups) == uint64(len(qualifying)) &&
				countsConsistent(reply.Groups)
		},
		genValues,
	))

	properties.Property("declared filter order sets the nesting order", prop.ForAll(
		func(values []int) bool {
			s := seedValues(values)
			e := engine.New(s, s, engine.Options{})
			reply, err := e.Execute(context.Background(), strings.Fields("TABULAR.COUNT rows FILTER 2 name MATCH * state MATCH *"))
			if err != nil {
				return false
			}
			if len(values) == 0 {
				return reply.Kind == engine.ReplyNil
			}
			for _, g := range reply.Groups {
				if g.Column != "name" {
					return false
				}
				for _, c := range g.Children {
					if c.Column != "state" || c.Children != nil {
						return false
					}
				}
			}
			return true
		},
		genValues,
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
