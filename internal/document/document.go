// Package document reduces a downloaded notice attachment to plain text.
package document

import (
	"bytes"
	"context"
	"mime"
	"net/http"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/auction-ingest/internal/model"
	"github.com/sells-group/auction-ingest/internal/ocr"
)

var (
	// ErrUnsupported is returned for content that has no text reader.
	ErrUnsupported = eris.New("document: unsupported content type")
	// ErrTooLarge is returned when a body exceeds the configured limit.
	ErrTooLarge = eris.New("document: body exceeds size limit")
	// ErrEmpty is returned when a document yields no text.
	ErrEmpty = eris.New("document: no text extracted")
)

// Kind is the detected document format.
type Kind string

const (
	KindPDF     Kind = "pdf"
	KindHTML    Kind = "html"
	KindText    Kind = "text"
	KindZIP     Kind = "zip"
	KindUnknown Kind = "unknown"
)

// Raw is a downloaded attachment.
type Raw struct {
	URL         string
	Title       string
	ContentType string
	// Filename is the name the server suggested, if any.
	Filename string
	Body     []byte
}

// Reader converts attachments into DocumentSnapshots.
type Reader struct {
	pdf      ocr.Extractor
	maxBytes int64
}

// NewReader creates a Reader. pdf may be nil, in which case PDFs are
// unsupported. A maxBytes of zero disables the size check.
func NewReader(pdf ocr.Extractor, maxBytes int64) *Reader {
	return &Reader{pdf: pdf, maxBytes: maxBytes}
}

// Read extracts the text of raw. Page counts are only known for PDFs.
func (r *Reader) Read(ctx context.Context, raw Raw) (*model.DocumentSnapshot, error) {
	if r.maxBytes > 0 && int64(len(raw.Body)) > r.maxBytes {
		return nil, eris.Wrapf(ErrTooLarge, "document: %d bytes from %s", len(raw.Body), raw.URL)
	}

	name := raw.Filename
	if name == "" {
		name = raw.URL
	}
	kind := Detect(raw.ContentType, name, raw.Body)
	if kind == KindZIP {
		inner, err := unzipBest(raw, r.maxBytes)
		if err != nil {
			return nil, err
		}
		snap, err := r.Read(ctx, inner)
		if err != nil {
			return nil, err
		}
		snap.URL = raw.URL
		snap.Bytes = len(raw.Body)
		return snap, nil
	}

	snap := &model.DocumentSnapshot{
		URL:         raw.URL,
		Title:       raw.Title,
		ContentType: string(kind),
		Bytes:       len(raw.Body),
	}

	switch kind {
	case KindPDF:
		if r.pdf == nil {
			return nil, eris.Wrap(ErrUnsupported, "document: no pdf extractor configured")
		}
		res, err := r.pdf.ExtractText(ctx, raw.Body)
		if err != nil {
			return nil, eris.Wrapf(err, "document: extract pdf %s", raw.URL)
		}
		snap.Text = CleanText(res.Text)
		snap.Pages = res.Pages
	case KindHTML:
		text, title, err := htmlText(decode(raw.Body, raw.ContentType))
		if err != nil {
			return nil, err
		}
		snap.Text = text
		if snap.Title == "" {
			snap.Title = title
		}
	case KindText:
		snap.Text = CleanText(string(decode(raw.Body, raw.ContentType)))
	default:
		return nil, eris.Wrapf(ErrUnsupported, "document: %q at %s", raw.ContentType, raw.URL)
	}

	if strings.TrimSpace(snap.Text) == "" {
		return nil, eris.Wrapf(ErrEmpty, "document: %s", raw.URL)
	}
	return snap, nil
}

// Detect decides the format from the declared content type, then the file
// extension of name, then the leading bytes.
func Detect(contentType, name string, body []byte) Kind {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		switch {
		case mt == "application/pdf":
			return KindPDF
		case mt == "text/html" || mt == "application/xhtml+xml":
			return KindHTML
		case mt == "application/zip" || mt == "application/x-zip-compressed":
			return KindZIP
		case strings.HasPrefix(mt, "text/"):
			return KindText
		}
	}

	switch strings.ToLower(path.Ext(stripQuery(name))) {
	case ".pdf":
		return KindPDF
	case ".html", ".htm":
		return KindHTML
	case ".zip":
		return KindZIP
	case ".txt":
		return KindText
	}

	switch {
	case bytes.HasPrefix(body, []byte("%PDF")):
		return KindPDF
	case bytes.HasPrefix(body, []byte("PK\x03\x04")):
		return KindZIP
	}
	sniffed := http.DetectContentType(body)
	switch {
	case strings.HasPrefix(sniffed, "text/html"):
		return KindHTML
	case strings.HasPrefix(sniffed, "text/plain"):
		return KindText
	}
	if len(body) > 0 && utf8.Valid(body) {
		return KindText
	}
	return KindUnknown
}

func stripQuery(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		return u[:i]
	}
	return u
}

// CleanText collapses runs of blanks inside lines and drops empty lines.
// Page breaks survive.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	var b strings.Builder
	for _, page := range strings.Split(s, ocr.PageBreak) {
		var lines []string
		for _, line := range strings.Split(page, "\n") {
			if line = strings.Join(strings.Fields(line), " "); line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(ocr.PageBreak)
		}
		b.WriteString(strings.Join(lines, "\n"))
	}
	return b.String()
}
