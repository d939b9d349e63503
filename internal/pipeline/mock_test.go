package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/auction-ingest/internal/model"
	"github.com/sells-group/auction-ingest/pkg/anthropic"
	"github.com/sells-group/auction-ingest/pkg/pncp"
)

// --- Portal Mock ---

type mockPortal struct {
	mock.Mock
}

func (m *mockPortal) Search(ctx context.Context, q pncp.SearchQuery) (*pncp.SearchPage, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pncp.SearchPage), args.Error(1)
}

func (m *mockPortal) Detail(ctx context.Context, k pncp.Key) (*pncp.Detail, error) {
	args := m.Called(ctx, k)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pncp.Detail), args.Error(1)
}

func (m *mockPortal) Documents(ctx context.Context, k pncp.Key) ([]pncp.Document, error) {
	args := m.Called(ctx, k)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]pncp.Document), args.Error(1)
}

func (m *mockPortal) Download(ctx context.Context, rawURL string) (*pncp.Download, error) {
	args := m.Called(ctx, rawURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pncp.Download), args.Error(1)
}

// --- Anthropic Mock ---

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

// --- Summarizers ---

type staticSummarizer struct {
	summary Summary
	err     error
}

func (s staticSummarizer) Summarize(context.Context, *model.RawListing) (Summary, error) {
	return s.summary, s.err
}

// panicSummarizer panics for one external id.
type panicSummarizer struct {
	externalID string
}

func (s panicSummarizer) Summarize(_ context.Context, raw *model.RawListing) (Summary, error) {
	if raw.ExternalID() == s.externalID {
		panic("summarizer exploded")
	}
	return Summary{}, nil
}
