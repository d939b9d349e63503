package document

import (
	"bytes"
	"mime"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
)

var metaCharset = regexp.MustCompile(`(?i)<meta[^>]+charset=["']?([a-z0-9_\-]+)`)

// decode converts body to UTF-8. The charset comes from the content type,
// then an HTML meta tag. Undeclared non-UTF-8 bytes are read as
// windows-1252, the usual encoding of older notices.
func decode(body []byte, contentType string) []byte {
	label := declaredCharset(contentType)
	if label == "" {
		head := body
		if len(head) > 2048 {
			head = head[:2048]
		}
		if m := metaCharset.FindSubmatch(head); m != nil {
			label = string(m[1])
		}
	}
	if label == "" {
		if utf8.Valid(body) {
			return body
		}
		label = "windows-1252"
	}

	enc, err := htmlindex.Get(label)
	if err != nil {
		return body
	}
	if name, _ := htmlindex.Name(enc); name == "utf-8" {
		return body
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return body
	}
	return bytes.TrimPrefix(out, []byte("\ufeff"))
}

func declaredCharset(contentType string) string {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(params["charset"])
}
