package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/auction-ingest/internal/model"
	"github.com/sells-group/auction-ingest/internal/store"
)

type fakeRuns struct {
	runs   []model.RunExecution
	err    error
	filter store.RunFilter
}

func (f *fakeRuns) ListRuns(_ context.Context, filter store.RunFilter) ([]model.RunExecution, error) {
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	var out []model.RunExecution
	for _, r := range f.runs {
		if !filter.Since.IsZero() && r.StartedAt.Before(filter.Since) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

var collectedAt = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func newTestCollector(runs RunLister) *Collector {
	c := NewCollector(runs)
	c.now = func() time.Time { return collectedAt }
	return c
}

func run(id string, status model.RunStatus, ago time.Duration, q model.QualityCounts, cost float64, durMS int64) model.RunExecution {
	return model.RunExecution{
		RunID:      id,
		Status:     status,
		StartedAt:  collectedAt.Add(-ago),
		Quality:    q,
		CostUSD:    cost,
		DurationMS: durMS,
	}
}

func TestCollector_Collect(t *testing.T) {
	runs := &fakeRuns{runs: []model.RunExecution{
		run("a", model.RunStatusComplete, 2*time.Hour,
			model.QualityCounts{Processed: 100, Valid: 60, Quarantined: 40, ValidRate: 0.6}, 0.50, 60000),
		run("b", model.RunStatusComplete, 26*time.Hour,
			model.QualityCounts{Processed: 50, Valid: 10, Quarantined: 40, ValidRate: 0.2}, 0.25, 30000),
		run("c", model.RunStatusFailed, 30*time.Hour, model.QualityCounts{}, 0.05, 1000),
		run("d", model.RunStatusRunning, 10*time.Minute, model.QualityCounts{}, 0, 0),
		run("old", model.RunStatusFailed, 500*time.Hour, model.QualityCounts{}, 9, 0),
	}}

	snap, err := newTestCollector(runs).Collect(context.Background(), 168)
	require.NoError(t, err)

	assert.Equal(t, collectedAt.Add(-168*time.Hour), runs.filter.Since)
	assert.Equal(t, maxRuns, runs.filter.Limit)

	assert.Equal(t, 4, snap.RunsTotal)
	assert.Equal(t, 2, snap.RunsComplete)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsRunning)
	assert.InDelta(t, 1.0/3.0, snap.FailRate, 1e-9)

	assert.Equal(t, 150, snap.Processed)
	assert.Equal(t, 70, snap.Valid)
	assert.Equal(t, 80, snap.Quarantined)
	assert.InDelta(t, 0.4, snap.MeanValidRate, 1e-9)
	assert.InDelta(t, 70.0/150.0, snap.OverallValidRate, 1e-9)
	assert.InDelta(t, 0.80, snap.CostUSD, 1e-9)
	assert.Equal(t, int64(30333), snap.AvgDurationMS)

	require.NotNil(t, snap.LastRun)
	assert.Equal(t, "d", snap.LastRun.RunID)
	assert.Equal(t, 168, snap.LookbackHours)
	assert.Equal(t, collectedAt, snap.CollectedAt)
}

func TestCollector_Collect_Empty(t *testing.T) {
	snap, err := newTestCollector(&fakeRuns{}).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.RunsTotal)
	assert.Zero(t, snap.FailRate)
	assert.Zero(t, snap.MeanValidRate)
	assert.Nil(t, snap.LastRun)
}

func TestCollector_Collect_StoreError(t *testing.T) {
	_, err := newTestCollector(&fakeRuns{err: errors.New("db down")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list runs")
}
