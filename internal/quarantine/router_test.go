package quarantine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/auction-ingest/internal/model"
)

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) UpsertAuction(ctx context.Context, runID string, rec *model.NormalizedRecord) error {
	return m.Called(ctx, runID, rec).Error(0)
}

func (m *mockWriter) UpsertQuarantine(ctx context.Context, entry *model.QuarantineEntry) error {
	return m.Called(ctx, entry).Error(0)
}

const testID = "00394460000141-1-000123/2024"

func testRaw() *model.RawListing {
	return &model.RawListing{Key: model.ListingKey{CNPJ: "00394460000141", Year: 2024, Sequence: 123}}
}

func TestRoute_ValidGoesToCatalog(t *testing.T) {
	w := &mockWriter{}
	rec := &model.NormalizedRecord{ExternalID: testID}
	w.On("UpsertAuction", mock.Anything, "run-1", rec).Return(nil)

	d, err := NewRouter(w, false).Route(context.Background(), "run-1", testRaw(), rec,
		model.ValidationResult{Classification: model.ClassValid})
	require.NoError(t, err)
	assert.Equal(t, DestCatalog, d.Destination)
	assert.True(t, d.Written)
	w.AssertExpectations(t)
	w.AssertNotCalled(t, "UpsertQuarantine", mock.Anything, mock.Anything)
}

func TestRoute_NonValidGoesToQuarantine(t *testing.T) {
	for _, class := range []model.Classification{model.ClassDraft, model.ClassNotSellable, model.ClassRejected} {
		t.Run(string(class), func(t *testing.T) {
			w := &mockWriter{}
			raw := testRaw()
			rec := &model.NormalizedRecord{ExternalID: testID}
			errs := []model.ValidationError{{Code: model.CodeMissingRequiredField, Field: "title"}}
			w.On("UpsertQuarantine", mock.Anything, mock.MatchedBy(func(e *model.QuarantineEntry) bool {
				return e.RunID == "run-1" && e.ExternalID == testID && e.Status == class &&
					e.Raw == raw && e.Normalized == rec && len(e.Errors) == 1 && !e.CreatedAt.IsZero()
			})).Return(nil)

			d, err := NewRouter(w, false).Route(context.Background(), "run-1", raw, rec,
				model.ValidationResult{Classification: class, Errors: errs})
			require.NoError(t, err)
			assert.Equal(t, DestQuarantine, d.Destination)
			assert.Equal(t, class, d.Classification)
			w.AssertExpectations(t)
		})
	}
}

func TestRoute_DegradedValidGoesToQuarantine(t *testing.T) {
	for _, code := range []string{model.CodeSourceUnavailable, model.CodeProcessingError} {
		t.Run(code, func(t *testing.T) {
			w := &mockWriter{}
			w.On("UpsertQuarantine", mock.Anything, mock.MatchedBy(func(e *model.QuarantineEntry) bool {
				return e.ExternalID == testID && e.Status == model.ClassDraft
			})).Return(nil)

			d, err := NewRouter(w, false).Route(context.Background(), "run-1", testRaw(),
				&model.NormalizedRecord{ExternalID: testID},
				model.ValidationResult{
					Classification: model.ClassValid,
					Errors:         []model.ValidationError{{Code: code, Field: "detail"}},
				})
			require.NoError(t, err)
			assert.Equal(t, DestQuarantine, d.Destination)
			assert.Equal(t, model.ClassDraft, d.Classification)
			w.AssertNotCalled(t, "UpsertAuction", mock.Anything, mock.Anything, mock.Anything)
			w.AssertExpectations(t)
		})
	}
}

func TestRoute_DryRunSkipsWrites(t *testing.T) {
	r := NewRouter(nil, true)
	assert.True(t, r.DryRun())

	d, err := r.Route(context.Background(), "run-1", testRaw(), &model.NormalizedRecord{ExternalID: testID},
		model.ValidationResult{Classification: model.ClassRejected})
	require.NoError(t, err)
	assert.Equal(t, DestQuarantine, d.Destination)
	assert.False(t, d.Written)
}

func TestRoute_FallsBackToRawKey(t *testing.T) {
	w := &mockWriter{}
	w.On("UpsertQuarantine", mock.Anything, mock.MatchedBy(func(e *model.QuarantineEntry) bool {
		return e.ExternalID == testID
	})).Return(nil)

	d, err := NewRouter(w, false).Route(context.Background(), "run-1", testRaw(), &model.NormalizedRecord{},
		model.ValidationResult{Classification: model.ClassDraft})
	require.NoError(t, err)
	assert.Equal(t, testID, d.ExternalID)
}

func TestRoute_Unkeyed(t *testing.T) {
	_, err := NewRouter(&mockWriter{}, false).Route(context.Background(), "run-1", &model.RawListing{}, nil,
		model.ValidationResult{Classification: model.ClassDraft})
	assert.ErrorIs(t, err, ErrUnkeyed)
}

func TestRoute_WriteFailure(t *testing.T) {
	w := &mockWriter{}
	w.On("UpsertAuction", mock.Anything, "run-1", mock.Anything).Return(errors.New("connection reset"))

	_, err := NewRouter(w, false).Route(context.Background(), "run-1", testRaw(), &model.NormalizedRecord{ExternalID: testID},
		model.ValidationResult{Classification: model.ClassValid})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write catalog")
}

func TestRoute_CancelledContextDoesNotWrite(t *testing.T) {
	w := &mockWriter{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRouter(w, false).Route(ctx, "run-1", testRaw(), &model.NormalizedRecord{ExternalID: testID},
		model.ValidationResult{Classification: model.ClassValid})
	assert.ErrorIs(t, err, context.Canceled)
	w.AssertNotCalled(t, "UpsertAuction", mock.Anything, mock.Anything, mock.Anything)
}
