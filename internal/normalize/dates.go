package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/auction-ingest/internal/extract"
)

var isoLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

var months = map[string]time.Month{
	"janeiro":   time.January,
	"fevereiro": time.February,
	"marco":     time.March,
	"abril":     time.April,
	"maio":      time.May,
	"junho":     time.June,
	"julho":     time.July,
	"agosto":    time.August,
	"setembro":  time.September,
	"outubro":   time.October,
	"novembro":  time.November,
	"dezembro":  time.December,
}

// Both expressions run against folded text, so "às" arrives as "as" and
// "março" as "marco".
var (
	clockPart   = `(?:\s*,?\s*(?:-|as)?\s*(\d{1,2})(?::(\d{2})|h(\d{2})?)(?::\d{2})?)?`
	numericDate = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})` + clockPart)
	textualDate = regexp.MustCompile(`^(\d{1,2})\s+de\s+([a-z]+)\s+de\s+(\d{4})` + clockPart)
)

// Date parses s into a time in loc. Supported inputs are RFC 3339, ISO
// dates with or without a clock, dd/mm/yyyy with an optional "hh:mm",
// "às 14h30" or "14h" suffix, and "10 de maio de 2024". It returns nil
// when s is blank or unparseable.
func Date(s string, loc *time.Location) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if loc == nil {
		loc = DefaultLocation()
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.In(loc)
		return &t
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return &t
		}
	}

	folded := extract.Fold(s)
	if m := numericDate.FindStringSubmatch(folded); m != nil {
		month, _ := strconv.Atoi(m[2])
		return build(m[3], time.Month(month), m[1], m[4:], loc)
	}
	if m := textualDate.FindStringSubmatch(folded); m != nil {
		month, ok := months[m[2]]
		if !ok {
			return nil
		}
		return build(m[3], month, m[1], m[4:], loc)
	}
	return nil
}

// build assembles a time from captured parts and rejects dates that
// time.Date would silently roll over, such as 31/02.
func build(yearStr string, month time.Month, dayStr string, clock []string, loc *time.Location) *time.Time {
	year, _ := strconv.Atoi(yearStr)
	day, _ := strconv.Atoi(dayStr)
	var hour, minute int
	if len(clock) == 3 && clock[0] != "" {
		hour, _ = strconv.Atoi(clock[0])
		switch {
		case clock[1] != "":
			minute, _ = strconv.Atoi(clock[1])
		case clock[2] != "":
			minute, _ = strconv.Atoi(clock[2])
		}
		if hour > 23 || minute > 59 {
			return nil
		}
	}
	t := time.Date(year, month, day, hour, minute, 0, 0, loc)
	if t.Year() != year || t.Month() != month || t.Day() != day {
		return nil
	}
	return &t
}

// DefaultLocation is America/Sao_Paulo, or a fixed UTC-3 zone when the
// tz database is unavailable.
func DefaultLocation() *time.Location {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		return time.FixedZone("BRT", -3*60*60)
	}
	return loc
}
