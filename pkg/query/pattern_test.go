package query

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// literalRunes holds every character glob treats specially except ']', so a generated
// pattern never contains a closed bracket class.
var literalRunes = []rune(`ab-*?{},\!^[`)

func genLiteralPattern() gopter.Gen {
	return gen.SliceOf(gen.IntRange(0, len(literalRunes)-1)).Map(func(idx []int) string {
		var b strings.Builder
		for _, i := range idx {
			b.WriteRune(literalRunes[i])
		}
		return b.String()
	}).SuchThat(func(s string) bool { return s != "" })
}

func TestTranslatePattern(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{`a*b?`, `a*b?`},
		{`x{1,2}`, `x\{1\,2\}`},
		{`a\b`, `a\\b`},
		{`[abc`, `\[abc`},
		{`[^a]`, `[!a-a]`},
		{`[a-z]`, `[a-z]`},
		{`[]a]`, `[\]\a]`},
		{`[!-#]`, `[!\#\-]`},
		{`[x]`, `x`},
	}
	for _, tt := range tests {
		got, err := translatePattern(tt.pattern)
		if err != nil {
			t.Fatalf("translatePattern(%q) error = %v", tt.pattern, err)
		}
		if got != tt.want {
			t.Errorf("translatePattern(%q) = %q, want %q", tt.pattern, got, tt.want)
		}
	}
}

func TestMatch_LargeClassFallsBackToAlternation(t *testing.T) {
	p, err := Match("[a!-\U00010000]")
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	for value, want := range map[string]bool{"a": true, "!": true, "#": true, "\U00010000": true, " ": false} {
		if got := p.Test(value); got != want {
			t.Errorf("Test(%q) = %v, want %v", value, got, want)
		}
	}

	if _, err := Match("[!a!-\U00010000]"); !IsArgument(err) {
		t.Errorf("negating an oversized class: error = %v, want argument error", err)
	}
}

func TestMatch_EmptyClassMatchesNothing(t *testing.T) {
	p, err := Match("a[z-b]*")
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if p.Test("az") || p.Test("a") {
		t.Error("a class with no members must not match")
	}
}

// TestProperty_EqualIsSubsetOfMatch checks that a pattern without bracket classes matches
// its own text, whatever glob metacharacters it carries.
func TestProperty_EqualIsSubsetOfMatch(t *testing.T) {
	if testing.Short() {
		t.Skip("property test skipped in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("MATCH v accepts every value EQUAL v accepts", prop.ForAll(
		func(v string) bool {
			m, err := Match(v)
			if err != nil {
				t.Logf("Match(%q) error = %v", v, err)
				return false
			}
			return !Equal(v).Test(v) || m.Test(v)
		},
		genLiteralPattern(),
	))

	properties.TestingRun(t)
}
