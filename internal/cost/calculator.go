// Package cost estimates what a run spent on metered work.
package cost

import "github.com/sells-group/auction-ingest/internal/model"

// Rates holds per-unit pricing in USD.
type Rates struct {
	PerSearchCall float64              `yaml:"per_search_call" mapstructure:"per_search_call"`
	PerDetailCall float64              `yaml:"per_detail_call" mapstructure:"per_detail_call"`
	PerDocument   float64              `yaml:"per_document" mapstructure:"per_document"`
	PerRecord     float64              `yaml:"per_record" mapstructure:"per_record"`
	PerOCRPage    float64              `yaml:"per_ocr_page" mapstructure:"per_ocr_page"`
	Anthropic     map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Calculator computes costs for metered usage.
type Calculator struct {
	rates Rates
	model string
}

// NewCalculator creates a Calculator. summaryModel selects the Anthropic
// rate applied to summary tokens.
func NewCalculator(rates Rates, summaryModel string) *Calculator {
	return &Calculator{rates: rates, model: summaryModel}
}

// Claude computes the cost of token usage for model. Unknown models cost 0.
func (c *Calculator) Claude(model string, input, output int64) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// Estimate prices one run's usage.
func (c *Calculator) Estimate(u model.Usage) float64 {
	r := c.rates
	total := float64(u.SearchCalls)*r.PerSearchCall +
		float64(u.DetailCalls)*r.PerDetailCall +
		float64(u.Documents)*r.PerDocument +
		float64(u.Records)*r.PerRecord +
		float64(u.OCRPages)*r.PerOCRPage
	return total + c.Claude(c.model, u.SummaryInputTokens, u.SummaryOutputTokens)
}

// Breakdown itemizes Estimate by meter.
func (c *Calculator) Breakdown(u model.Usage) map[string]float64 {
	r := c.rates
	return map[string]float64{
		"search":   float64(u.SearchCalls) * r.PerSearchCall,
		"detail":   float64(u.DetailCalls) * r.PerDetailCall,
		"document": float64(u.Documents) * r.PerDocument,
		"record":   float64(u.Records) * r.PerRecord,
		"ocr":      float64(u.OCRPages) * r.PerOCRPage,
		"summary":  c.Claude(c.model, u.SummaryInputTokens, u.SummaryOutputTokens),
	}
}

// DefaultRates returns the default pricing. The public portal is free, so
// only compute and the optional OCR and summary providers carry a price.
func DefaultRates() Rates {
	return Rates{
		PerSearchCall: 0,
		PerDetailCall: 0,
		PerDocument:   0.0001,
		PerRecord:     0.00005,
		PerOCRPage:    0.001,
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		},
	}
}
