package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/auction-ingest/internal/model"
)

// EventAppender is the slice of the store the event log writes through.
type EventAppender interface {
	AppendEvents(ctx context.Context, events []model.PipelineEvent) error
}

// eventLog buffers pipeline events and appends them in batches. A failed
// flush keeps the buffer so the next flush retries it.
type eventLog struct {
	mu    sync.Mutex
	st    EventAppender
	runID string
	batch int
	buf   []model.PipelineEvent
	now   func() time.Time
}

func newEventLog(st EventAppender, runID string, batch int, now func() time.Time) *eventLog {
	return &eventLog{st: st, runID: runID, batch: batch, now: now}
}

func (l *eventLog) add(ctx context.Context, ev model.PipelineEvent) {
	ev.ID = uuid.NewString()
	ev.RunID = l.runID
	if ev.Level == "" {
		ev.Level = "info"
	}
	ev.CreatedAt = l.now().UTC()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = append(l.buf, ev)
	if len(l.buf) < l.batch {
		return
	}
	if err := l.flushLocked(ctx); err != nil {
		zap.L().Warn("pipeline: event flush failed, will retry",
			zap.String("run_id", l.runID),
			zap.Int("buffered", len(l.buf)),
			zap.Error(err),
		)
	}
}

func (l *eventLog) flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked(ctx)
}

func (l *eventLog) flushLocked(ctx context.Context) error {
	if len(l.buf) == 0 {
		return nil
	}
	if err := l.st.AppendEvents(ctx, l.buf); err != nil {
		return eris.Wrap(err, "pipeline: append events")
	}
	l.buf = l.buf[:0]
	return nil
}

func (l *eventLog) start(ctx context.Context, stage, msg, externalID string) {
	l.add(ctx, model.PipelineEvent{Stage: stage, Event: model.EventStart, Message: msg, ExternalID: externalID})
}

func (l *eventLog) success(ctx context.Context, stage, msg, externalID string, counters map[string]int64) {
	l.add(ctx, model.PipelineEvent{Stage: stage, Event: model.EventSuccess, Message: msg, ExternalID: externalID, Counters: counters})
}

func (l *eventLog) skip(ctx context.Context, stage, msg, externalID string) {
	l.add(ctx, model.PipelineEvent{Stage: stage, Event: model.EventSkip, Message: msg, ExternalID: externalID})
}

func (l *eventLog) fail(ctx context.Context, stage, msg, externalID string) {
	l.add(ctx, model.PipelineEvent{Stage: stage, Event: model.EventError, Level: "error", Message: msg, ExternalID: externalID})
}

func (l *eventLog) warn(ctx context.Context, stage, msg, externalID string) {
	l.add(ctx, model.PipelineEvent{Stage: stage, Event: model.EventError, Level: "warn", Message: msg, ExternalID: externalID})
}

func (l *eventLog) metric(ctx context.Context, stage, msg string, counters map[string]int64) {
	l.add(ctx, model.PipelineEvent{Stage: stage, Event: model.EventMetric, Message: msg, Counters: counters})
}
