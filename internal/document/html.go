package document

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// nonContentSelectors lists elements to strip before extracting body text.
const nonContentSelectors = "script, style, noscript, nav, header, footer, form"

const blockSelectors = "p, div, li, tr, h1, h2, h3, h4, h5, h6, table, section, article, pre, blockquote"

// htmlText returns the visible text and the page title.
func htmlText(body []byte) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", eris.Wrap(err, "document: parse html")
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		if og, ok := doc.Find("meta[property='og:title']").Attr("content"); ok {
			title = strings.TrimSpace(og)
		}
	}

	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("body").First()
	}
	if root.Length() == 0 {
		root = doc.Selection
	}
	root.Find(nonContentSelectors).Remove()

	// Keep line structure so line-anchored patterns still match.
	root.Find("br").ReplaceWithHtml("\n")
	root.Find(blockSelectors).Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	return CleanText(root.Text()), title, nil
}
