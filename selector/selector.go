// Package selector resolves the extended CSS selector syntax used in source
// configurations. On top of standard CSS it understands four class attribute
// forms that match against the raw class attribute string:
//
//	tag[class*="x"]  class contains x
//	tag[class^="x"]  class starts with x
//	tag[class$="x"]  class ends with x
//	tag[class~="x"]  class has the whitespace-separated token x
//
// Selector strings are parsed once into a Selector value and memoized.
package selector

import (
	"regexp"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
)

// Kind identifies which selector form a string was parsed as.
type Kind int

const (
	Plain Kind = iota
	ClassContains
	ClassPrefix
	ClassSuffix
	ClassToken
)

func (k Kind) String() string {
	switch k {
	case ClassContains:
		return "class-contains"
	case ClassPrefix:
		return "class-prefix"
	case ClassSuffix:
		return "class-suffix"
	case ClassToken:
		return "class-token"
	default:
		return "plain"
	}
}

// Selector is a parsed selector string.
type Selector struct {
	Kind Kind
	// Raw is the selector string as configured.
	Raw string
	// Tag is the CSS selector left after removing the class clause. It is
	// "*" when nothing remains, and equals Raw for Plain selectors.
	Tag string
	// Value is the class fragment to test. Empty for Plain selectors.
	Value string

	matcher cascadia.Selector
	err     error
}

// Err returns the CSS compile error for the selector, if any.
func (s Selector) Err() error {
	return s.err
}

// classForm pairs a Kind with the pattern that recognises it. Order matters:
// forms are tried in this order against the raw string.
type classForm struct {
	kind    Kind
	pattern *regexp.Regexp
}

var classForms = []classForm{
	{ClassContains, regexp.MustCompile(`\[class\*=["']([^"']+)["']\]`)},
	{ClassPrefix, regexp.MustCompile(`\[class\^=["']([^"']+)["']\]`)},
	{ClassSuffix, regexp.MustCompile(`\[class\$=["']([^"']+)["']\]`)},
	{ClassToken, regexp.MustCompile(`\[class~=["']([^"']+)["']\]`)},
}

var parsed sync.Map // string -> Selector

// Parse parses raw into a Selector. Results are cached, so repeated calls
// with the same string are cheap.
func Parse(raw string) Selector {
	if cached, ok := parsed.Load(raw); ok {
		return cached.(Selector)
	}

	sel := parse(raw)
	parsed.Store(raw, sel)
	return sel
}

func parse(raw string) Selector {
	sel := Selector{Kind: Plain, Raw: raw, Tag: raw}

	for _, form := range classForms {
		m := form.pattern.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		sel.Kind = form.kind
		sel.Value = m[1]
		sel.Tag = strings.TrimSpace(form.pattern.ReplaceAllString(raw, ""))
		if sel.Tag == "" {
			sel.Tag = "*"
		}
		break
	}

	sel.matcher, sel.err = cascadia.Compile(sel.Tag)
	return sel
}

// MatchClass reports whether a class attribute value satisfies the
// selector's class predicate. Plain selectors match anything.
func (s Selector) MatchClass(class string) bool {
	switch s.Kind {
	case ClassContains:
		return strings.Contains(class, s.Value)
	case ClassPrefix:
		return strings.HasPrefix(class, s.Value)
	case ClassSuffix:
		return strings.HasSuffix(class, s.Value)
	case ClassToken:
		for _, token := range strings.Fields(class) {
			if token == s.Value {
				return true
			}
		}
		return false
	default:
		return true
	}
}
