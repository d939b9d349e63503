package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/auction-ingest/internal/model"
)

// quarantineJSON holds the marshaled columns of a quarantine entry.
type quarantineJSON struct {
	errors, raw, normalized []byte
}

func marshalQuarantine(e *model.QuarantineEntry) (quarantineJSON, error) {
	var out quarantineJSON
	var err error
	errs := e.Errors
	if errs == nil {
		errs = []model.ValidationError{}
	}
	if out.errors, err = json.Marshal(errs); err != nil {
		return out, eris.Wrap(err, "store: marshal quarantine errors")
	}
	if out.raw, err = json.Marshal(e.Raw); err != nil {
		return out, eris.Wrap(err, "store: marshal raw listing")
	}
	if out.normalized, err = json.Marshal(e.Normalized); err != nil {
		return out, eris.Wrap(err, "store: marshal normalized record")
	}
	return out, nil
}

func unmarshalQuarantine(e *model.QuarantineEntry, j quarantineJSON) error {
	if err := json.Unmarshal(j.errors, &e.Errors); err != nil {
		return eris.Wrap(err, "store: unmarshal quarantine errors")
	}
	if len(j.raw) > 0 {
		if err := json.Unmarshal(j.raw, &e.Raw); err != nil {
			return eris.Wrap(err, "store: unmarshal raw listing")
		}
	}
	if len(j.normalized) > 0 {
		if err := json.Unmarshal(j.normalized, &e.Normalized); err != nil {
			return eris.Wrap(err, "store: unmarshal normalized record")
		}
	}
	return nil
}

func marshalRunCounts(r *model.RunExecution) (counts, quality []byte, err error) {
	if counts, err = json.Marshal(r.Counts); err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal run counts")
	}
	if quality, err = json.Marshal(r.Quality); err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal run quality")
	}
	return counts, quality, nil
}

func unmarshalRunCounts(r *model.RunExecution, counts, quality []byte) error {
	if err := json.Unmarshal(counts, &r.Counts); err != nil {
		return eris.Wrap(err, "store: unmarshal run counts")
	}
	if err := json.Unmarshal(quality, &r.Quality); err != nil {
		return eris.Wrap(err, "store: unmarshal run quality")
	}
	return nil
}

// prepareEvents stamps missing ids and timestamps in place.
func prepareEvents(events []model.PipelineEvent) {
	now := time.Now().UTC()
	for i := range events {
		if events[i].ID == "" {
			events[i].ID = uuid.NewString()
		}
		if events[i].CreatedAt.IsZero() {
			events[i].CreatedAt = now
		} else {
			events[i].CreatedAt = events[i].CreatedAt.UTC()
		}
		if events[i].Level == "" {
			events[i].Level = "info"
		}
	}
}

func marshalCounters(c map[string]int64) ([]byte, error) {
	if c == nil {
		c = map[string]int64{}
	}
	b, err := json.Marshal(c)
	return b, eris.Wrap(err, "store: marshal event counters")
}

func unmarshalCounters(b []byte) (map[string]int64, error) {
	var c map[string]int64
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal event counters")
	}
	if len(c) == 0 {
		return nil, nil
	}
	return c, nil
}
