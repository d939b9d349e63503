package contract

import (
	"fmt"
	"strings"
)

// Markdown renders the contract as the published data-contract document.
func (c *Contract) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Auction record contract (v%d)\n\n", c.Version)
	b.WriteString("| Field | Type | Required | Sellable | Sources | Description |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, f := range c.Fields {
		fmt.Fprintf(&b, "| `%s` | %s | %s | %s | %s | %s |\n",
			f.Name, f.Type, yesNo(f.Required), yesNo(f.Sellable),
			strings.Join(f.Sources, " → "), escapeCell(f.Description))
	}

	b.WriteString("\n## Classification\n\n")
	b.WriteString("1. A URL field that is present but not an absolute http(s) URL, or a negative value, makes the record `REJECTED`.\n")
	fmt.Fprintf(&b, "2. Missing any of %s makes the record `DRAFT`.\n", codeList(c.Required()))
	fmt.Fprintf(&b, "3. Missing any of %s makes the record `NOT_SELLABLE`.\n", codeList(c.Sellable()))
	fmt.Fprintf(&b, "4. A record without tags is handled by policy `%s`.\n", c.Policies.MissingTaxonomy)
	b.WriteString("5. Otherwise the record is `VALID`.\n")
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func codeList(names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = "`" + n + "`"
	}
	return strings.Join(quoted, ", ")
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
