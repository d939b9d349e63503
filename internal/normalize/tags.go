package normalize

import (
	"slices"
	"strings"

	"github.com/sells-group/auction-ingest/internal/extract"
)

// Vocabulary is the canonical tag set, in display order.
var Vocabulary = []string{
	"veiculos",
	"imoveis",
	"maquinas",
	"sucata",
	"eletronicos",
	"mobiliario",
	"semoventes",
	"diversos",
}

// DefaultDenylist holds tag values left behind by earlier pipeline versions.
var DefaultDenylist = []string{
	"sem_categoria",
	"leilao_v1",
	"tag_pendente",
	"undefined",
	"null",
	"n/a",
}

// synonyms maps common labels to a canonical tag. Keys are slugs.
var synonyms = map[string]string{
	"veiculo":                 "veiculos",
	"automoveis":              "veiculos",
	"carros":                  "veiculos",
	"motos":                   "veiculos",
	"imovel":                  "imoveis",
	"maquina":                 "maquinas",
	"maquinas_e_equipamentos": "maquinas",
	"equipamentos":            "maquinas",
	"sucatas":                 "sucata",
	"eletronico":              "eletronicos",
	"informatica":             "eletronicos",
	"moveis":                  "mobiliario",
	"animais":                 "semoventes",
	"outros":                  "diversos",
	"bens_diversos":           "diversos",
}

// slug folds case and accents and joins words with underscores, so
// "Sem Categoria", "SEM-CATEGORIA" and "sem_categoria" collapse together.
func slug(s string) string {
	s = extract.Fold(strings.TrimSpace(s))
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '\t'
	}), "_")
}

// Tagger canonicalizes free-text tags.
type Tagger struct {
	deny map[string]struct{}
}

// NewTagger builds a Tagger that strips every value in denylist,
// regardless of case, accents or separators.
func NewTagger(denylist []string) *Tagger {
	t := &Tagger{deny: make(map[string]struct{}, len(denylist))}
	for _, d := range denylist {
		if k := slug(d); k != "" {
			t.deny[k] = struct{}{}
		}
	}
	return t
}

// Denied reports whether tag is an artifact value.
func (t *Tagger) Denied(tag string) bool {
	_, ok := t.deny[slug(tag)]
	return ok
}

// Tags maps raw labels to the canonical vocabulary, drops denylisted and
// unknown values, and returns the result de-duplicated in Vocabulary
// order. It returns nil when nothing survives.
func (t *Tagger) Tags(raw []string) []string {
	seen := make(map[string]bool)
	for _, r := range raw {
		k := slug(r)
		if k == "" || t.Denied(k) {
			continue
		}
		switch {
		case slices.Contains(Vocabulary, k):
			seen[k] = true
		case synonyms[k] != "":
			seen[synonyms[k]] = true
		default:
			for _, d := range extract.DetectTags(r) {
				seen[d] = true
			}
		}
	}
	var out []string
	for _, v := range Vocabulary {
		if seen[v] {
			out = append(out, v)
		}
	}
	return out
}
