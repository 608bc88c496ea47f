package query

import (
	"errors"
	"strings"

	"github.com/gobwas/glob"
)

// maxClassRunes bounds how far a bracket class with several ranges is expanded into a
// rune list.
const maxClassRunes = 4096

// errEmptyClass marks a pattern holding a class with no members; it matches nothing.
var errEmptyClass = errors.New("empty bracket class")

type neverMatch struct{}

func (neverMatch) Match(string) bool { return false }

// compileMatch compiles a shell pattern with fnmatch rules (no escape character, no
// brace alternation): '*' and '?' are wildcards, "[...]" is a class negated by a leading
// '!' or '^', and an unterminated '[' is an ordinary character.
func compileMatch(pattern string) (glob.Glob, error) {
	translated, err := translatePattern(pattern)
	if errors.Is(err, errEmptyClass) {
		return neverMatch{}, nil
	}
	if err != nil {
		return nil, err
	}
	return glob.Compile(translated)
}

// translatePattern rewrites a shell pattern into glob syntax, escaping everything glob
// would otherwise read as an escape, a brace term or a separator.
func translatePattern(pattern string) (string, error) {
	src := []rune(pattern)
	var b strings.Builder
	for i := 0; i < len(src); i++ {
		switch r := src[i]; r {
		case '*', '?':
			b.WriteRune(r)
		case '[':
			class, next, ok := parseClass(src, i+1)
			if !ok {
				writeEscaped(&b, r)
				continue
			}
			out, err := class.glob()
			if err != nil {
				return "", err
			}
			b.WriteString(out)
			i = next
		default:
			writeEscaped(&b, r)
		}
	}
	return b.String(), nil
}

func writeEscaped(b *strings.Builder, r rune) {
	switch r {
	case '\\', '{', '}', ',', '[', ']', '*', '?':
		b.WriteByte('\\')
	}
	b.WriteRune(r)
}

type runeRange struct{ lo, hi rune }

type bracketClass struct {
	negated bool
	ranges  []runeRange
}

// parseClass reads the class body starting right after '['. It returns the index of the
// closing ']' and false when the class is never closed.
func parseClass(src []rune, start int) (bracketClass, int, bool) {
	var c bracketClass
	i := start
	if i < len(src) && (src[i] == '!' || src[i] == '^') {
		c.negated = true
		i++
	}
	first := true
	for i < len(src) {
		r := src[i]
		if r == ']' && !first {
			return c, i, true
		}
		first = false
		if i+2 < len(src) && src[i+1] == '-' && src[i+2] != ']' {
			c.ranges = append(c.ranges, runeRange{lo: r, hi: src[i+2]})
			i += 3
			continue
		}
		c.ranges = append(c.ranges, runeRange{lo: r, hi: r})
		i++
	}
	return bracketClass{}, 0, false
}

func (c bracketClass) glob() (string, error) {
	ranges := make([]runeRange, 0, len(c.ranges))
	for _, rr := range c.ranges {
		if rr.lo <= rr.hi {
			ranges = append(ranges, rr)
		}
	}
	if len(ranges) == 0 {
		if c.negated {
			return "?", nil
		}
		return "", errEmptyClass
	}

	if !c.negated && len(ranges) == 1 {
		return alternation(rangeTerms(ranges[0])), nil
	}
	if c.negated && len(ranges) == 1 {
		return "[!" + string(ranges[0].lo) + "-" + string(ranges[0].hi) + "]", nil
	}

	members, ok := expand(ranges)
	if ok {
		return "[" + c.not() + listBody(members) + "]", nil
	}
	if c.negated {
		return "", ArgumentError("bracket class is too large to negate")
	}
	var terms []string
	for _, rr := range ranges {
		terms = append(terms, rangeTerms(rr)...)
	}
	return alternation(terms), nil
}

func (c bracketClass) not() string {
	if c.negated {
		return "!"
	}
	return ""
}

// rangeTerms renders one non-negated range. A range starting at '!' is split, since glob
// reads a leading '!' in brackets as negation.
func rangeTerms(rr runeRange) []string {
	if rr.lo == rr.hi {
		var b strings.Builder
		writeEscaped(&b, rr.lo)
		return []string{b.String()}
	}
	if rr.lo == '!' {
		return append(rangeTerms(runeRange{lo: '!', hi: '!'}), rangeTerms(runeRange{lo: '!' + 1, hi: rr.hi})...)
	}
	return []string{"[" + string(rr.lo) + "-" + string(rr.hi) + "]"}
}

func alternation(terms []string) string {
	if len(terms) == 1 {
		return terms[0]
	}
	return "{" + strings.Join(terms, ",") + "}"
}

// expand lists every member rune once, in first-seen order.
func expand(ranges []runeRange) ([]rune, bool) {
	seen := map[rune]bool{}
	var members []rune
	for _, rr := range ranges {
		for r := rr.lo; r <= rr.hi; r++ {
			if seen[r] {
				continue
			}
			if len(members) == maxClassRunes {
				return nil, false
			}
			seen[r] = true
			members = append(members, r)
		}
	}
	return members, true
}

// listBody writes a glob rune list. Every member is escaped, and a '-' never comes
// first, so glob cannot read the list as a lo-hi range.
func listBody(members []rune) string {
	if members[0] == '-' && len(members) > 1 {
		members[0], members[len(members)-1] = members[len(members)-1], members[0]
	}
	var b strings.Builder
	for _, r := range members {
		b.WriteByte('\\')
		b.WriteRune(r)
	}
	return b.String()
}
