package pipeline

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/auction-ingest/internal/document"
	"github.com/sells-group/auction-ingest/internal/model"
	"github.com/sells-group/auction-ingest/internal/resilience"
	"github.com/sells-group/auction-ingest/pkg/pncp"
)

// maxAttachments bounds how many attachments are tried per listing.
const maxAttachments = 3

// errNoDocument is recorded when attachments exist but none was readable.
var errNoDocument = eris.New("pipeline: no readable attachment")

// enrich builds the RawListing for c, adding the detail record and the
// notice document when they can be fetched. Fetch failures leave the
// corresponding section nil and are noted in FetchErrors.
func (p *Pipeline) enrich(ctx context.Context, rs *runState, c candidate) *model.RawListing {
	raw := &model.RawListing{
		Key:       c.key,
		Search:    searchFields(c.item),
		FetchedAt: p.opts.Now().UTC(),
	}
	if !c.key.Valid() {
		return raw
	}
	key := pncp.Key{CNPJ: c.key.CNPJ, Year: c.key.Year, Sequence: c.key.Sequence}

	start := time.Now()
	detail, err := resilience.Guard(ctx, p.breaker, p.opts.DetailRetry, func(ctx context.Context) (*pncp.Detail, error) {
		rs.acc.AddUsage(model.Usage{DetailCalls: 1})
		return p.portal.Detail(ctx, key)
	})
	rs.acc.Observe(model.StageDetail, time.Since(start))
	if err != nil {
		raw.RecordFetchError(model.StageDetail, err)
	} else {
		raw.Detail = detailFields(detail)
	}

	if p.docs == nil || ctx.Err() != nil {
		return raw
	}
	start = time.Now()
	snap, err := p.fetchDocument(ctx, rs, key)
	rs.acc.Observe(model.StageDocument, time.Since(start))
	if err != nil {
		raw.RecordFetchError(model.StageDocument, err)
	} else {
		raw.Document = snap
	}
	return raw
}

// fetchDocument downloads the most relevant attachments in turn and
// returns the first one that yields text. A listing without attachments
// returns nil, nil.
func (p *Pipeline) fetchDocument(ctx context.Context, rs *runState, key pncp.Key) (*model.DocumentSnapshot, error) {
	docs, err := resilience.Retry(ctx, p.opts.DetailRetry, func(ctx context.Context) ([]pncp.Document, error) {
		return p.portal.Documents(ctx, key)
	})
	if err != nil {
		if errors.Is(err, pncp.ErrNotFound) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "pipeline: list documents")
	}
	docs = rankDocuments(docs)
	if len(docs) == 0 {
		return nil, nil
	}

	var lastErr error
	for i, d := range docs {
		if i == maxAttachments {
			break
		}
		dl, err := resilience.Retry(ctx, p.opts.DetailRetry, func(ctx context.Context) (*pncp.Download, error) {
			return p.portal.Download(ctx, d.URL)
		})
		if err != nil {
			lastErr = err
			continue
		}
		rs.acc.AddUsage(model.Usage{Documents: 1})
		if dl.Truncated {
			lastErr = eris.Wrapf(document.ErrTooLarge, "pipeline: attachment %s truncated", d.URL)
			continue
		}
		snap, err := p.docs.Read(ctx, document.Raw{
			URL:         dl.URL,
			Title:       d.Title,
			ContentType: dl.ContentType,
			Filename:    dl.Filename,
			Body:        dl.Body,
		})
		if err != nil {
			zap.L().Debug("pipeline: attachment unreadable",
				zap.String("url", d.URL),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		if snap.ContentType == string(document.KindPDF) {
			rs.acc.AddUsage(model.Usage{OCRPages: snap.Pages})
		}
		return snap, nil
	}
	if lastErr == nil {
		lastErr = errNoDocument
	}
	return nil, lastErr
}

// rankDocuments drops inactive attachments and puts notices (edital) first,
// keeping the portal's order otherwise.
func rankDocuments(docs []pncp.Document) []pncp.Document {
	out := make([]pncp.Document, 0, len(docs))
	for _, d := range docs {
		if d.Active && d.URL != "" {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return isNotice(out[i]) && !isNotice(out[j])
	})
	return out
}

func isNotice(d pncp.Document) bool {
	return strings.Contains(strings.ToLower(d.TypeName), "edital")
}

func searchFields(it pncp.SearchItem) model.SearchFields {
	org := it.OrgName
	if org == "" {
		org = it.UnitName
	}
	return model.SearchFields{
		Title:            it.Title,
		Description:      it.Description,
		OrganizationName: org,
		UF:               it.UF,
		Municipality:     it.Municipality,
		PublishedAt:      it.PublishedAt,
		ModalityName:     it.ModalityName,
		ItemURL:          it.ItemURL,
	}
}

func detailFields(d *pncp.Detail) *model.DetailFields {
	if d == nil {
		return nil
	}
	return &model.DetailFields{
		Object:           d.Object,
		ModalityName:     d.ModalityName,
		AuctionDate:      d.OpeningDate,
		ClosingDate:      d.ClosingDate,
		EstimatedValue:   d.EstimatedValue,
		SourceSystemLink: d.SourceSystemLink,
		ProcessNumber:    d.ProcessNumber,
		UnitMunicipality: d.Unit.Municipality,
		UnitUF:           d.Unit.UF,
		Situation:        d.Situation,
	}
}
