package pipeline

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/auction-ingest/internal/cascade"
	"github.com/sells-group/auction-ingest/internal/model"
	"github.com/sells-group/auction-ingest/internal/normalize"
	"github.com/sells-group/auction-ingest/pkg/anthropic"
)

// SourceLLM marks a summarized object produced by the language model.
const SourceLLM = "llm"

// Summary is a one-line description of what a notice sells.
type Summary struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// Summarizer condenses a listing into a short object description.
type Summarizer interface {
	Summarize(ctx context.Context, raw *model.RawListing) (Summary, error)
}

const summaryPrompt = `Você resume editais de leilão público brasileiros.
Responda com uma única frase curta, em português, descrevendo apenas os bens que estão sendo leiloados (por exemplo "Veículos e sucatas inservíveis da frota municipal").
Não inclua datas, valores, nomes de órgãos nem explicações.`

// maxPromptRunes caps the notice text sent to the model.
const maxPromptRunes = 4000

// LLMSummarizer asks Claude for the summary.
type LLMSummarizer struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewLLMSummarizer creates a summarizer for the given model.
func NewLLMSummarizer(client anthropic.Client, model string, maxTokens int64) *LLMSummarizer {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	return &LLMSummarizer{client: client, model: model, maxTokens: maxTokens}
}

// Summarize returns an empty Summary without calling the model when the
// listing has no text to summarize.
func (s *LLMSummarizer) Summarize(ctx context.Context, raw *model.RawListing) (Summary, error) {
	text := summaryInput(raw)
	if text == "" {
		return Summary{}, nil
	}
	temp := 0.0
	resp, err := s.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		System: []anthropic.SystemBlock{{
			Text:         summaryPrompt,
			CacheControl: &anthropic.CacheControl{TTL: "5m"},
		}},
		Messages:    []anthropic.Message{{Role: "user", Content: text}},
		Temperature: &temp,
	})
	if err != nil {
		return Summary{}, eris.Wrap(err, "pipeline: summarize")
	}
	out := strings.Trim(strings.TrimSpace(resp.Text()), `"`)
	return Summary{
		Text:         normalize.Truncate(strings.Join(strings.Fields(out), " "), cascade.SummaryLimit),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

func summaryInput(raw *model.RawListing) string {
	var parts []string
	if t := strings.TrimSpace(raw.Search.Title); t != "" {
		parts = append(parts, "Título: "+t)
	}
	if raw.Detail != nil {
		if o := strings.TrimSpace(raw.Detail.Object); o != "" {
			parts = append(parts, "Objeto: "+o)
		}
	}
	if d := strings.TrimSpace(raw.Search.Description); d != "" {
		parts = append(parts, "Descrição: "+d)
	}
	if len(parts) == 0 {
		return ""
	}
	return normalize.Truncate(strings.Join(parts, "\n"), maxPromptRunes)
}
