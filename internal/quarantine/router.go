// Package quarantine routes classified records to the catalog or to the
// quarantine store.
package quarantine

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/auction-ingest/internal/model"
)

// ErrUnkeyed is returned for records that carry no external id. They
// cannot be upserted idempotently.
var ErrUnkeyed = eris.New("quarantine: record has no external id")

// Writer is the subset of store.Store the router writes through.
type Writer interface {
	UpsertAuction(ctx context.Context, runID string, rec *model.NormalizedRecord) error
	UpsertQuarantine(ctx context.Context, entry *model.QuarantineEntry) error
}

// Destination names where a record went.
type Destination string

const (
	DestCatalog    Destination = "catalog"
	DestQuarantine Destination = "quarantine"
)

// Decision reports how a record was routed.
type Decision struct {
	ExternalID     string
	Destination    Destination
	Classification model.Classification
	// Written is false for dry runs.
	Written bool
}

// Router sends VALID records to the catalog and everything else to
// quarantine. A degraded VALID result is quarantined as DRAFT. A dry-run
// router decides but never writes.
type Router struct {
	w      Writer
	dryRun bool
	now    func() time.Time
}

// NewRouter creates a Router. w may be nil when dryRun is set.
func NewRouter(w Writer, dryRun bool) *Router {
	return &Router{w: w, dryRun: dryRun, now: time.Now}
}

// DryRun reports whether writes are skipped.
func (r *Router) DryRun() bool { return r.dryRun }

// Route writes rec according to res. Quarantine writes are upserts on
// (runID, external id), so routing the same record twice in a run leaves
// one entry carrying the latest classification and errors.
func (r *Router) Route(ctx context.Context, runID string, raw *model.RawListing, rec *model.NormalizedRecord, res model.ValidationResult) (Decision, error) {
	id := externalID(raw, rec)
	if id == "" {
		return Decision{}, ErrUnkeyed
	}

	if res.Classification == model.ClassValid && res.Degraded() {
		res.Classification = model.ClassDraft
	}
	d := Decision{ExternalID: id, Classification: res.Classification, Destination: DestQuarantine}
	if res.Classification == model.ClassValid {
		d.Destination = DestCatalog
	}
	if r.dryRun {
		zap.L().Debug("quarantine: dry run, skipping write",
			zap.String("run_id", runID),
			zap.String("external_id", id),
			zap.String("destination", string(d.Destination)),
		)
		return d, nil
	}
	if err := ctx.Err(); err != nil {
		return d, eris.Wrapf(err, "quarantine: route %s", id)
	}

	if d.Destination == DestCatalog {
		if err := r.w.UpsertAuction(ctx, runID, rec); err != nil {
			return d, eris.Wrapf(err, "quarantine: write catalog %s", id)
		}
		d.Written = true
		return d, nil
	}

	now := r.now().UTC()
	entry := &model.QuarantineEntry{
		RunID:      runID,
		ExternalID: id,
		Status:     res.Classification,
		Errors:     res.Errors,
		Raw:        raw,
		Normalized: rec,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.w.UpsertQuarantine(ctx, entry); err != nil {
		return d, eris.Wrapf(err, "quarantine: write quarantine %s", id)
	}
	d.Written = true
	return d, nil
}

func externalID(raw *model.RawListing, rec *model.NormalizedRecord) string {
	if rec != nil && rec.ExternalID != "" {
		return rec.ExternalID
	}
	if raw != nil {
		return raw.ExternalID()
	}
	return ""
}
