package cascade

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/auction-ingest/internal/contract"
	"github.com/sells-group/auction-ingest/internal/model"
	"github.com/sells-group/auction-ingest/internal/normalize"
)

var brt = time.FixedZone("BRT", -3*60*60)

func testResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver(contract.Default(), normalize.New(normalize.Options{Location: brt}), Options{
		HorizonDays:   365,
		MinYear:       2020,
		MaxYear:       2030,
		DetailBaseURL: "https://pncp.gov.br/app/editais/",
		Now:           func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, brt) },
	})
	require.NoError(t, err)
	return r
}

func baseListing() *model.RawListing {
	value := 25000.0
	return &model.RawListing{
		Key: model.ListingKey{CNPJ: "00394460000141", Year: 2024, Sequence: 123},
		Search: model.SearchFields{
			Title:            "Leilão de veículos",
			Description:      "Alienação de veículos inservíveis. Data do leilão: 20/06/2024 às 10:00",
			OrganizationName: "Prefeitura de Uberlândia",
			UF:               "MG",
			Municipality:     "Uberlândia",
			PublishedAt:      "2024-05-02T09:00:00",
			ModalityName:     "Leilão - Eletrônico",
		},
		Detail: &model.DetailFields{
			Object:           "Alienação de veículos e sucatas inservíveis. Lotes 1 a 12.",
			ModalityName:     "Leilão - Eletrônico",
			AuctionDate:      "2024-06-18T14:00:00",
			EstimatedValue:   &value,
			SourceSystemLink: "https://www.exemploleiloes.com.br",
			UnitMunicipality: "Uberlândia",
			UnitUF:           "MG",
		},
	}
}

func TestChain_StopsAtFirstSuccess(t *testing.T) {
	t.Parallel()
	var calls []Source
	step := func(s Source, v string) Step {
		return Step{Source: s, Extract: func(*model.RawListing) string {
			calls = append(calls, s)
			return v
		}}
	}
	ch := Chain{Field: "x", Steps: []Step{
		step(SourceSearch, "  "),
		step(SourceDescription, "ok"),
		step(SourceDerived, "never"),
	}}
	res := ch.Resolve(&model.RawListing{})

	assert.True(t, res.Found)
	assert.Equal(t, "ok", res.Value)
	assert.Equal(t, SourceDescription, res.Source)
	assert.Equal(t, []Source{SourceSearch, SourceDescription}, calls)
	assert.Equal(t, []Attempt{
		{Source: SourceSearch, Outcome: OutcomeEmpty},
		{Source: SourceDescription, Value: "ok", Outcome: OutcomeFound},
	}, res.Attempts)
}

func TestChain_DiscardedValueDoesNotCount(t *testing.T) {
	t.Parallel()
	ch := Chain{
		Field: "x",
		Steps: []Step{
			{Source: SourceSearch, Extract: func(*model.RawListing) string { return "bad" }},
			{Source: SourceDerived, Extract: func(*model.RawListing) string { return "good" }},
		},
		Check: func(v string) error {
			if v == "bad" {
				return errors.New("rejected")
			}
			return nil
		},
	}
	res := ch.Resolve(&model.RawListing{})
	assert.Equal(t, "good", res.Value)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, OutcomeDiscarded, res.Attempts[0].Outcome)
	assert.Equal(t, "rejected", res.Attempts[0].Reason)
}

func TestChain_UnavailableSources(t *testing.T) {
	t.Parallel()
	ch := Chain{Field: "x", Steps: []Step{
		{Source: SourceDetail, Extract: func(raw *model.RawListing) string { return raw.Detail.Object }},
		{Source: SourceDocument, Extract: func(raw *model.RawListing) string { return raw.Document.Text }},
	}}
	res := ch.Resolve(&model.RawListing{})
	assert.False(t, res.Found)
	assert.Equal(t, []Attempt{
		{Source: SourceDetail, Outcome: OutcomeUnavailable},
		{Source: SourceDocument, Outcome: OutcomeUnavailable},
	}, res.Attempts)
}

func TestResolver_PrefersDetail(t *testing.T) {
	t.Parallel()
	res := testResolver(t).Resolve(baseListing())
	in := res.Input

	assert.Equal(t, "00394460000141-1-000123/2024", in.ExternalID)
	assert.Equal(t, "2024-06-18T14:00:00", in.Values[model.FieldAuctionDate])
	assert.Equal(t, "detail", in.Sources[model.FieldAuctionDate])
	assert.Equal(t, "25000.00", in.Values[model.FieldEstimatedValue])
	assert.Equal(t, "https://pncp.gov.br/app/editais/00394460000141/2024/123", in.Values[model.FieldDetailLink])
	assert.Equal(t, "Alienação de veículos e sucatas inservíveis", in.Values[model.FieldSummarizedObject])

	assert.Equal(t, []string{"veiculos", "sucata"}, in.Tags)
	assert.Equal(t, "description", in.Sources[model.FieldTags])
	tags, ok := res.Resolution(model.FieldTags)
	require.True(t, ok)
	assert.Equal(t, []Outcome{OutcomeFound}, outcomes(tags))
}

func TestResolver_AuctionDateFallsBackToDescription(t *testing.T) {
	t.Parallel()
	raw := baseListing()
	raw.Detail.AuctionDate = ""

	in := testResolver(t).Resolve(raw).Input
	assert.Equal(t, "20/06/2024 às 10:00", in.Values[model.FieldAuctionDate])
	assert.Equal(t, "description", in.Sources[model.FieldAuctionDate])
}

func TestResolver_AuctionDateFallsBackToDocument(t *testing.T) {
	t.Parallel()
	raw := baseListing()
	raw.Detail = nil
	raw.Search.Description = "Alienação de bens"
	raw.Document = &model.DocumentSnapshot{
		URL:  "https://pncp.gov.br/pncp-api/v1/orgaos/00394460000141/compras/2024/123/arquivos/1",
		Text: "EDITAL DE LEILÃO\nA sessão pública ocorrerá em 25/06/2024 às 9h30, no site www.exemploleiloes.com.br.",
	}

	res := testResolver(t).Resolve(raw)
	in := res.Input
	assert.Equal(t, "25/06/2024 às 9h30", in.Values[model.FieldAuctionDate])
	assert.Equal(t, "document", in.Sources[model.FieldAuctionDate])
	assert.Equal(t, "www.exemploleiloes.com.br", in.Values[model.FieldAuctioneerLink])
	assert.Equal(t, raw.Document.URL, in.Values[model.FieldDocumentRef])

	date, _ := res.Resolution(model.FieldAuctionDate)
	assert.Equal(t, []Outcome{OutcomeUnavailable, OutcomeEmpty, OutcomeFound}, outcomes(date))
}

func TestResolver_DiscardsStaleAndImplausibleDates(t *testing.T) {
	t.Parallel()
	raw := baseListing()
	raw.Detail.AuctionDate = "2019-01-10"                              // out of year range
	raw.Search.Description = "Data do leilão: 01/02/2023"             // beyond the horizon
	raw.Document = &model.DocumentSnapshot{Text: "Leilão em 30/06/2024"} // accepted

	res := testResolver(t).Resolve(raw)
	assert.Equal(t, "30/06/2024", res.Input.Values[model.FieldAuctionDate])
	date, _ := res.Resolution(model.FieldAuctionDate)
	assert.Equal(t, []Outcome{OutcomeDiscarded, OutcomeDiscarded, OutcomeFound}, outcomes(date))
	assert.Contains(t, date.Attempts[0].Reason, "before 2020")
	assert.Contains(t, date.Attempts[1].Reason, "older than 365 days")
}

func TestResolver_NothingFound(t *testing.T) {
	t.Parallel()
	raw := baseListing()
	raw.Detail = nil
	raw.Search.Description = ""

	in := testResolver(t).Resolve(raw).Input
	_, ok := in.Values[model.FieldAuctionDate]
	assert.False(t, ok)
	_, ok = in.Sources[model.FieldAuctionDate]
	assert.False(t, ok)
	assert.Equal(t, "Leilão de veículos", in.Values[model.FieldTitle])
	assert.Equal(t, []string{"veiculos"}, in.Tags)
}

func TestResolver_ZeroValueDiscarded(t *testing.T) {
	t.Parallel()
	raw := baseListing()
	zero := 0.0
	raw.Detail.EstimatedValue = &zero
	raw.Search.Description = "Lance mínimo: R$ 1.000,00"

	in := testResolver(t).Resolve(raw).Input
	assert.Equal(t, "R$ 1.000,00", in.Values[model.FieldEstimatedValue])
	assert.Equal(t, "description", in.Sources[model.FieldEstimatedValue])
}

func TestResolver_NegativeValueKept(t *testing.T) {
	t.Parallel()
	raw := baseListing()
	negative := -500.0
	raw.Detail.EstimatedValue = &negative

	in := testResolver(t).Resolve(raw).Input
	assert.Equal(t, "-500.00", in.Values[model.FieldEstimatedValue])
	assert.Equal(t, "detail", in.Sources[model.FieldEstimatedValue])
}

func TestResolver_UnseparatedValueKeepsAllDigits(t *testing.T) {
	t.Parallel()
	raw := baseListing()
	raw.Detail.EstimatedValue = nil
	raw.Search.Description = "Valor estimado: R$ 12345,67 para o lote único"

	r := testResolver(t)
	in := r.Resolve(raw).Input
	assert.Equal(t, "R$ 12345,67", in.Values[model.FieldEstimatedValue])
	assert.Equal(t, "description", in.Sources[model.FieldEstimatedValue])

	rec := normalize.New(normalize.Options{}).Record(in)
	require.NotNil(t, rec.EstimatedValue)
	assert.Equal(t, model.Money(1234567), *rec.EstimatedValue)
}

func TestNewResolver_UnknownSource(t *testing.T) {
	t.Parallel()
	for _, yml := range []string{
		"fields:\n  - name: title\n    sources: [document]\n",
		"fields:\n  - name: tags\n    sources: [search, description]\n",
	} {
		c, err := contract.Parse([]byte(yml))
		require.NoError(t, err)
		_, err = NewResolver(c, normalize.New(normalize.Options{}), Options{})
		assert.Error(t, err, yml)
	}
}

func TestNewResolver_FollowsContractOrder(t *testing.T) {
	t.Parallel()
	c, err := contract.Parse([]byte("fields:\n  - name: region\n    sources: [search, detail]\n"))
	require.NoError(t, err)
	r, err := NewResolver(c, normalize.New(normalize.Options{}), Options{})
	require.NoError(t, err)

	raw := baseListing()
	raw.Search.UF = "SP"
	in := r.Resolve(raw).Input
	assert.Equal(t, "SP", in.Values[model.FieldRegion])
	assert.Equal(t, "search", in.Sources[model.FieldRegion])
}

func TestHeuristicSummary(t *testing.T) {
	t.Parallel()
	raw := &model.RawListing{Search: model.SearchFields{Description: "Venda de sucatas; lote único"}}
	assert.Equal(t, "Venda de sucatas", HeuristicSummary(raw))
	assert.Equal(t, "", HeuristicSummary(&model.RawListing{}))
}

func outcomes(r Resolution) []Outcome {
	out := make([]Outcome, len(r.Attempts))
	for i, a := range r.Attempts {
		out[i] = a.Outcome
	}
	return out
}
