package normalize

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

var markup = regexp.MustCompile(`<[a-zA-Z/!][^>]*>`)

// Text collapses whitespace, decodes HTML entities and strips markup. It
// returns nil for blank input so absence never hides behind "".
func Text(s string) *string {
	if markup.MatchString(s) {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			s = doc.Text()
		}
	}
	s = html.UnescapeString(s)
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return nil
	}
	return &s
}

// Region returns a two-letter state code in upper case, or nil.
func Region(s string) *string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 2 || s[0] < 'A' || s[0] > 'Z' || s[1] < 'A' || s[1] > 'Z' {
		return nil
	}
	return &s
}

// URL trims whitespace and trailing punctuation picked up from prose and
// adds a scheme to bare "www." hosts. Well-formedness is not checked here;
// a malformed value is kept so validation can report it.
func URL(s string) *string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ".,;:")
	if s == "" {
		return nil
	}
	if strings.HasPrefix(strings.ToLower(s), "www.") {
		s = "https://" + s
	}
	return &s
}

// Truncate shortens s to at most n runes plus an ellipsis, cutting at the
// last space when one is close enough to the limit.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)[:n]
	cut := string(r)
	if i := strings.LastIndex(cut, " "); i > len(cut)*3/4 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:-") + "…"
}
