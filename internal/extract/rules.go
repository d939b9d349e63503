package extract

// Building blocks shared by the rule tables below.
const (
	numericDate = `\d{1,2}/\d{1,2}/\d{4}`
	textDate    = `\d{1,2}\s+de\s+(?:janeiro|fevereiro|mar[cç]o|abril|maio|junho|julho|agosto|setembro|outubro|novembro|dezembro)\s+de\s+\d{4}`
	anyDate     = `(?:` + numericDate + `|` + textDate + `)`
	clock       = `\d{1,2}(?::\d{2}|h\d{0,2})`
	clockSep    = `\s*,?\s*(?:-|[àa]s)?\s*`
	optClock    = `(?:` + clockSep + clock + `)?`
	money       = `R\$\s*(?:\d{1,3}(?:\.\d{3})+|\d+)(?:,\d{2})?`
	link        = `(?:https?://|www\.)[^\s"'<>(),;]*[^\s"'<>(),;.:]`
)

// ModalityRules classify the auction format. Rule names are the canonical
// modality labels.
var ModalityRules = []Rule{
	Pattern(`leil[aã]o\s*[-–]?\s*(?:na\s+forma\s+|na\s+modalidade\s+)?eletr[oô]nic[oa]`).Named("Leilão - Eletrônico"),
	Pattern(`leil[aã]o\s*[-–]?\s*(?:na\s+forma\s+|na\s+modalidade\s+)?presencial`).Named("Leilão - Presencial"),
	Literal("leilão online").Named("Leilão - Eletrônico"),
	Literal("leilão público").Named("Leilão"),
	Pattern(`\bleil[aã]o\b`).Named("Leilão"),
}

// AuctionDateRules find the session date in short texts such as the listing
// description. They require an explicit auction-date cue.
var AuctionDateRules = []Rule{
	Pattern(`data\s+(?:do|de\s+realiza[cç][aã]o\s+do)\s+leil[aã]o\s*[:\-]?\s*(?:dia\s+)?(?P<v>` + anyDate + optClock + `)`),
	Pattern(`leil[aã]o\s+(?:ser[aá]\s+)?realizado\s+(?:no\s+dia|em|dia)\s+(?P<v>` + anyDate + optClock + `)`),
	Pattern(`(?:abertura\s+(?:da\s+)?sess[aã]o|sess[aã]o\s+p[uú]blica)\s*(?:de\s+lances\s*)?[:\-]?\s*(?:dia\s+|em\s+)?(?P<v>` + anyDate + optClock + `)`),
}

// DocumentDateRules extend AuctionDateRules for full notice documents. The
// last rules accept any date and rely on the cascade sanity checks.
var DocumentDateRules = append(append([]Rule(nil), AuctionDateRules...),
	Pattern(`(?:no\s+dia|em)\s+(?P<v>` + anyDate + optClock + `)`),
	Pattern(`(?P<v>` + numericDate + clockSep + clock + `)`),
	Pattern(`(?P<v>` + anyDate + `)`),
)

// ValueRules find the estimated or minimum value of the lot set.
var ValueRules = []Rule{
	Pattern(`(?:valor\s+(?:total\s+)?(?:estimado|de\s+avalia[cç][aã]o|m[ií]nimo|global|inicial)|lance\s+(?:m[ií]nimo|inicial)|avaliad[oa]s?\s+em)\s*(?:de\s+|em\s+)?[:\-]?\s*(?P<v>` + money + `)`),
}

// DocumentValueRules extend ValueRules with a bare currency fallback.
var DocumentValueRules = append(append([]Rule(nil), ValueRules...),
	Pattern(`(?P<v>` + money + `)`),
)

// AuctioneerLinkRules find the auctioneer's bidding site.
var AuctioneerLinkRules = []Rule{
	Pattern(`(?:s[ií]tio|site|portal|plataforma|endere[cç]o)\s*(?:eletr[oô]nico\s*)?(?:do\s+leiloeiro\s*)?(?:oficial\s*)?[:\-]?\s*(?P<v>` + link + `)`),
	Pattern(`(?P<v>(?:https?://|www\.)[a-z0-9.-]*leil[a-z0-9.-]*\.[a-z]{2,}(?:\.[a-z]{2})?(?:/[^\s"'<>(),;]*[^\s"'<>(),;.:])?)`),
}

// TagRule maps a canonical tag to the rules that detect it.
type TagRule struct {
	Tag   string
	Rules []Rule
}

// TagRules detect lot categories from free text, in vocabulary order.
var TagRules = []TagRule{
	{Tag: "veiculos", Rules: []Rule{
		Pattern(`ve[ií]culos?`),
		Pattern(`autom[oó]ve(?:l|is)`),
		Pattern(`motocicletas?`),
		Pattern(`caminh(?:[aã]o|[oõ]es)`),
		Pattern(`[oô]nibus`),
		Literal("automotor"),
	}},
	{Tag: "imoveis", Rules: []Rule{
		Pattern(`im[oó]ve(?:l|is)`),
		Pattern(`terrenos?`),
		Pattern(`\blotes?\s+urbanos?`),
		Pattern(`edifica[cç](?:[aã]o|[oõ]es)`),
		Literal("apartamento"),
	}},
	{Tag: "maquinas", Rules: []Rule{
		Pattern(`m[aá]quinas?`),
		Pattern(`trator(?:es)?`),
		Pattern(`retroescavadeiras?`),
		Pattern(`motoniveladoras?`),
		Literal("equipamentos pesados"),
	}},
	{Tag: "sucata", Rules: []Rule{
		Pattern(`sucatas?`),
		Pattern(`inserv[ií]ve(?:l|is)`),
		Literal("ferro velho"),
	}},
	{Tag: "eletronicos", Rules: []Rule{
		Pattern(`(?:equipamentos|aparelhos|materiais|bens)\s+(?:eletro)?eletr[oô]nicos`),
		Pattern(`eletroeletr[oô]nicos?`),
		Pattern(`inform[aá]tica`),
		Pattern(`computadore?s?`),
		Literal("celulares"),
	}},
	{Tag: "mobiliario", Rules: []Rule{
		Pattern(`mobili[aá]rios?`),
		Pattern(`\bm[oó]veis\b`),
		Literal("cadeiras"),
	}},
	{Tag: "semoventes", Rules: []Rule{
		Pattern(`semoventes?`),
		Pattern(`bovinos?`),
		Pattern(`equinos?`),
		Literal("cabeças de gado"),
	}},
	{Tag: "diversos", Rules: []Rule{
		Pattern(`(?:bens|materiais|itens)\s+diversos`),
		Literal("bens móveis inservíveis diversos"),
	}},
}

// DetectTags returns the canonical tags whose rules match text, in
// TagRules order.
func DetectTags(text string) []string {
	if text == "" {
		return nil
	}
	var tags []string
	for _, tr := range TagRules {
		if Contains(text, tr.Rules) {
			tags = append(tags, tr.Tag)
		}
	}
	return tags
}

// RuleSets names every built-in table for linting.
func RuleSets() map[string][]Rule {
	sets := map[string][]Rule{
		"modality":        ModalityRules,
		"auction_date":    AuctionDateRules,
		"document_date":   DocumentDateRules,
		"value":           ValueRules,
		"document_value":  DocumentValueRules,
		"auctioneer_link": AuctioneerLinkRules,
	}
	for _, tr := range TagRules {
		sets["tag:"+tr.Tag] = tr.Rules
	}
	return sets
}
