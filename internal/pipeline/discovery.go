package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/auction-ingest/internal/model"
	"github.com/sells-group/auction-ingest/internal/resilience"
	"github.com/sells-group/auction-ingest/pkg/pncp"
)

// candidate is one listing found by discovery.
type candidate struct {
	key  model.ListingKey
	item pncp.SearchItem
}

func (c candidate) externalID() string { return c.key.ExternalID() }

// discover pages through the search index, category by category, and
// returns unique candidates. Paging is strictly sequential. Any search
// failure that survives retries fails the run.
func (p *Pipeline) discover(ctx context.Context, rs *runState) ([]candidate, error) {
	start := time.Now()
	defer func() { rs.acc.Observe(model.StageDiscovery, time.Since(start)) }()

	from, to := p.opts.window(rs.req)
	log := zap.L().With(zap.String("run_id", rs.run.RunID))
	rs.events.start(ctx, model.StageDiscovery, "searching "+from.Format("2006-01-02")+" to "+to.Format("2006-01-02"), "")

	var (
		out   []candidate
		seen  = make(map[string]bool)
		pages int64
	)
	for _, category := range p.opts.Categories {
		for page := 1; page <= p.opts.MaxPages; page++ {
			if err := ctx.Err(); err != nil {
				return out, eris.Wrap(err, "pipeline: discovery cancelled")
			}
			q := pncp.SearchQuery{
				Terms:    p.opts.SearchTerms,
				From:     from,
				To:       to,
				Category: category,
				Status:   p.opts.SearchStatus,
				Page:     page,
				PageSize: p.opts.PageSize,
			}
			res, err := resilience.Retry(ctx, p.opts.SearchRetry, func(ctx context.Context) (*pncp.SearchPage, error) {
				rs.acc.AddUsage(model.Usage{SearchCalls: 1})
				return p.portal.Search(ctx, q)
			})
			if err != nil {
				return out, eris.Wrapf(err, "pipeline: search %q page %d", category, page)
			}
			pages++

			for _, it := range res.Items {
				k := it.Key()
				c := candidate{
					key:  model.ListingKey{CNPJ: k.CNPJ, Year: k.Year, Sequence: k.Sequence},
					item: it,
				}
				// Unkeyed items are kept so they surface as errors.
				if id := c.externalID(); id != "" {
					if seen[id] {
						continue
					}
					seen[id] = true
				}
				out = append(out, c)
				if rs.req.Limit > 0 && len(out) >= rs.req.Limit {
					log.Info("pipeline: discovery limit reached", zap.Int("limit", rs.req.Limit))
					return p.discovered(ctx, rs, out, pages), nil
				}
			}
			if !res.HasMore() {
				break
			}
		}
	}
	return p.discovered(ctx, rs, out, pages), nil
}

func (p *Pipeline) discovered(ctx context.Context, rs *runState, out []candidate, pages int64) []candidate {
	rs.setFound(len(out))
	rs.events.success(ctx, model.StageDiscovery, "discovery complete", "", map[string]int64{
		"found": int64(len(out)),
		"pages": pages,
	})
	zap.L().Info("pipeline: discovery complete",
		zap.String("run_id", rs.run.RunID),
		zap.Int("found", len(out)),
		zap.Int64("pages", pages),
	)
	return out
}
