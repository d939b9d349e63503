package extract

import "strings"

// Match is the result of running a rule set against a text. Found is false
// when no rule matched; the other fields are then zero.
type Match struct {
	Found bool
	Rule  Rule

	// Index is the position of Rule in the rule set.
	Index int

	// Start and End are byte offsets of the match in the searched text.
	Start, End int
	Text       string

	// Groups holds the submatches of a pattern rule, Groups[0] excluded.
	Groups []string

	named map[string]string
}

// Value returns the extracted value: the capture group named "v" if the
// rule has one, otherwise the first non-empty group. Rules without groups
// yield the whole match.
func (m Match) Value() string {
	if !m.Found {
		return ""
	}
	if v, ok := m.named["v"]; ok {
		return strings.TrimSpace(v)
	}
	if len(m.Groups) == 0 {
		return strings.TrimSpace(m.Text)
	}
	for _, g := range m.Groups {
		if strings.TrimSpace(g) != "" {
			return strings.TrimSpace(g)
		}
	}
	return ""
}

// FirstMatch returns the first rule, in order, that matches text.
func FirstMatch(text string, rules []Rule) Match {
	if text == "" {
		return Match{}
	}
	var folded string
	var offsets []int
	for i, r := range rules {
		var m Match
		var ok bool
		switch r.kind {
		case KindPattern:
			m, ok = matchPattern(text, r)
		case KindLiteral:
			if offsets == nil {
				folded, offsets = foldOffsets(text)
			}
			m, ok = matchLiteral(text, folded, offsets, r)
		}
		if ok {
			m.Index = i
			return m
		}
	}
	return Match{}
}

// Capture returns the first match, in rule order, whose Value is non-empty.
// Rules that match without capturing anything are skipped.
func Capture(text string, rules []Rule) Match {
	for i := range rules {
		m := FirstMatch(text, rules[i:i+1])
		if m.Found && m.Value() != "" {
			m.Index = i
			return m
		}
	}
	return Match{}
}

// AllMatches returns one match per rule that matches text, in rule order.
func AllMatches(text string, rules []Rule) []Match {
	var out []Match
	for i := range rules {
		if m := FirstMatch(text, rules[i:i+1]); m.Found {
			m.Index = i
			out = append(out, m)
		}
	}
	return out
}

// Contains reports whether any rule matches text.
func Contains(text string, rules []Rule) bool {
	return FirstMatch(text, rules).Found
}

func matchPattern(text string, r Rule) (Match, bool) {
	if r.re == nil {
		return Match{}, false
	}
	loc := r.re.FindStringSubmatchIndex(text)
	if loc == nil {
		return Match{}, false
	}
	m := Match{
		Found: true,
		Rule:  r,
		Start: loc[0],
		End:   loc[1],
		Text:  text[loc[0]:loc[1]],
	}
	names := r.re.SubexpNames()
	for g := 1; g < len(names); g++ {
		var s string
		if loc[2*g] >= 0 {
			s = text[loc[2*g]:loc[2*g+1]]
		}
		m.Groups = append(m.Groups, s)
		if names[g] != "" {
			if m.named == nil {
				m.named = make(map[string]string)
			}
			m.named[names[g]] = s
		}
	}
	return m, true
}

func matchLiteral(text, folded string, offsets []int, r Rule) (Match, bool) {
	if r.folded == "" {
		return Match{}, false
	}
	i := strings.Index(folded, r.folded)
	if i < 0 {
		return Match{}, false
	}
	start, end := offsets[i], offsets[i+len(r.folded)]
	return Match{
		Found: true,
		Rule:  r,
		Start: start,
		End:   end,
		Text:  text[start:end],
	}, true
}
