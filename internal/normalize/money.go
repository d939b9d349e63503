package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/auction-ingest/internal/model"
)

var numberToken = regexp.MustCompile(`-?\d[\d.,]*`)

// Money parses a currency amount written the Brazilian way ("R$ 1.234,56")
// or the machine way ("1234.56"). A lone dot followed by exactly three
// digits is a thousands separator. It returns nil when s holds no number.
func Money(s string) *model.Money {
	s = strings.NewReplacer(" ", "", "\u00a0", "").Replace(s)
	tok := numberToken.FindString(s)
	if tok == "" {
		return nil
	}
	neg := strings.HasPrefix(tok, "-")
	tok = strings.TrimRight(strings.TrimPrefix(tok, "-"), ".,")

	intPart, fracPart := splitDecimal(tok)
	intPart = strings.NewReplacer(".", "", ",", "").Replace(intPart)
	if intPart == "" {
		intPart = "0"
	}
	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return nil
	}

	cents := int64(0)
	switch len(fracPart) {
	case 0:
	case 1:
		c, _ := strconv.Atoi(fracPart)
		cents = int64(c) * 10
	default:
		c, _ := strconv.Atoi(fracPart[:2])
		cents = int64(c)
		if len(fracPart) > 2 && fracPart[2] >= '5' {
			cents++
		}
	}

	v := model.Money(whole*100 + cents)
	if neg {
		v = -v
	}
	return &v
}

// splitDecimal separates the integer digits from the fraction digits.
func splitDecimal(tok string) (string, string) {
	lastDot := strings.LastIndex(tok, ".")
	lastComma := strings.LastIndex(tok, ",")

	sep := -1
	switch {
	case lastDot >= 0 && lastComma >= 0:
		sep = max(lastDot, lastComma)
	case lastComma >= 0:
		if strings.Count(tok, ",") == 1 {
			sep = lastComma
		}
	case lastDot >= 0:
		if strings.Count(tok, ".") == 1 && len(tok)-lastDot-1 != 3 {
			sep = lastDot
		}
	}
	if sep < 0 {
		return tok, ""
	}
	return tok[:sep], tok[sep+1:]
}
