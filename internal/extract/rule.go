// Package extract pulls field values out of free text using ordered rule
// sets. A rule is either a literal phrase or a regular expression; the two
// kinds are distinct types of match and are never interchanged.
package extract

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// Kind tags a Rule as literal or pattern.
type Kind int

const (
	// KindLiteral matches an accent- and case-folded substring.
	KindLiteral Kind = iota + 1
	// KindPattern matches a case-insensitive regular expression.
	KindPattern
)

func (k Kind) String() string {
	switch k {
	case KindLiteral:
		return "literal"
	case KindPattern:
		return "pattern"
	default:
		return "invalid"
	}
}

// Rule is one detection rule. The zero value never matches.
type Rule struct {
	kind   Kind
	name   string
	source string
	folded string
	re     *regexp.Regexp
}

// Literal builds a rule that matches text containing phrase, ignoring case
// and diacritics.
func Literal(phrase string) Rule {
	return Rule{kind: KindLiteral, source: phrase, folded: Fold(phrase)}
}

// NewPattern compiles expr as a case-insensitive regular expression rule.
func NewPattern(expr string) (Rule, error) {
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return Rule{}, eris.Wrapf(err, "extract: compile pattern %q", expr)
	}
	return Rule{kind: KindPattern, source: expr, re: re}, nil
}

// Pattern is like NewPattern but panics on an invalid expression. Use it
// for package-level rule tables.
func Pattern(expr string) Rule {
	r, err := NewPattern(expr)
	if err != nil {
		panic(err)
	}
	return r
}

// Named returns a copy of r carrying a label. Labels identify which rule
// fired and, for classification tables, the value it maps to.
func (r Rule) Named(name string) Rule {
	r.name = name
	return r
}

// Kind reports whether r is a literal or a pattern.
func (r Rule) Kind() Kind { return r.kind }

// Name returns the rule label, or its source text when unlabeled.
func (r Rule) Name() string {
	if r.name != "" {
		return r.name
	}
	return r.source
}

// Source returns the literal phrase or pattern expression.
func (r Rule) Source() string { return r.source }

func (r Rule) String() string {
	return r.kind.String() + "(" + r.source + ")"
}

// patternMeta are characters that only make sense inside a regular
// expression. A literal containing them was almost certainly meant as a
// pattern.
const patternMeta = `[]()|\?*+^${}`

// LooksLikePattern reports whether s contains regular-expression syntax.
func LooksLikePattern(s string) bool {
	return strings.ContainsAny(s, patternMeta)
}

// Validate rejects literals that carry pattern syntax and zero-value
// rules. Rule tables are checked with it in tests.
func Validate(rules []Rule) error {
	for i, r := range rules {
		switch r.kind {
		case KindLiteral:
			if LooksLikePattern(r.source) {
				return eris.Errorf("extract: rule %d: literal %q contains pattern syntax", i, r.source)
			}
		case KindPattern:
			if r.re == nil {
				return eris.Errorf("extract: rule %d: pattern %q not compiled", i, r.source)
			}
		default:
			return eris.Errorf("extract: rule %d: zero rule", i)
		}
	}
	return nil
}
