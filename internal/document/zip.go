package document

import (
	"archive/zip"
	"bytes"
	"io"
	"path"
	"strings"

	"github.com/rotisserie/eris"
)

// entryRank orders archive members by how well they carry notice text.
var entryRank = map[string]int{".pdf": 0, ".html": 1, ".htm": 1, ".txt": 2}

// unzipBest opens an in-memory archive and returns the most useful member.
// Directories, unknown extensions and members over maxBytes are skipped.
func unzipBest(raw Raw, maxBytes int64) (Raw, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw.Body), int64(len(raw.Body)))
	if err != nil {
		return Raw{}, eris.Wrap(err, "document: open zip")
	}

	var best *zip.File
	bestRank := len(entryRank)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(path.Base(f.Name), ".") {
			continue
		}
		rank, ok := entryRank[strings.ToLower(path.Ext(f.Name))]
		if !ok || rank >= bestRank {
			continue
		}
		if maxBytes > 0 && f.UncompressedSize64 > uint64(maxBytes) {
			continue
		}
		best, bestRank = f, rank
	}
	if best == nil {
		return Raw{}, eris.Wrapf(ErrUnsupported, "document: no readable member in %s", raw.URL)
	}

	rc, err := best.Open()
	if err != nil {
		return Raw{}, eris.Wrapf(err, "document: open zip member %s", best.Name)
	}
	defer rc.Close() //nolint:errcheck

	limit := int64(best.UncompressedSize64) + 1
	if maxBytes > 0 {
		limit = maxBytes + 1
	}
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	if err != nil {
		return Raw{}, eris.Wrapf(err, "document: read zip member %s", best.Name)
	}

	return Raw{URL: raw.URL, Title: raw.Title, Filename: best.Name, Body: body}, nil
}
