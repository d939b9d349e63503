package pncp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Key identifies a procurement on the portal.
type Key struct {
	CNPJ     string
	Year     int
	Sequence int
}

// Valid reports whether every part of the key is populated.
func (k Key) Valid() bool {
	return k.CNPJ != "" && k.Year > 0 && k.Sequence > 0
}

func (k Key) path() string {
	return fmt.Sprintf("orgaos/%s/compras/%d/%d", k.CNPJ, k.Year, k.Sequence)
}

// SearchQuery selects one page of the search index.
type SearchQuery struct {
	Terms    string
	From     time.Time
	To       time.Time
	Category string
	Status   string
	Page     int
	PageSize int
}

// SearchPage is one page of search results.
type SearchPage struct {
	Items    []SearchItem `json:"items"`
	Total    int          `json:"total"`
	Page     int          `json:"-"`
	PageSize int          `json:"-"`
}

// HasMore reports whether a later page may hold results.
func (p *SearchPage) HasMore() bool {
	return len(p.Items) > 0 && p.Page*p.PageSize < p.Total
}

// SearchItem is a lightweight listing summary from the search index.
type SearchItem struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	ItemURL      string  `json:"item_url"`
	OrgCNPJ      string  `json:"orgao_cnpj"`
	OrgName      string  `json:"orgao_nome"`
	UnitName     string  `json:"unidade_nome"`
	UF           string  `json:"uf"`
	Municipality string  `json:"municipio_nome"`
	PublishedAt  string  `json:"data_publicacao_pncp"`
	ModalityName string  `json:"modalidade_licitacao_nome"`
	DocType      string  `json:"tipo_nome"`
	Year         flexInt `json:"ano"`
	Sequence     flexInt `json:"numero_sequencial"`
}

var itemURLPattern = regexp.MustCompile(`/compras/(\d{14})/(\d{4})/(\d+)`)

// Key returns the procurement key, falling back to the item URL when the
// discrete fields are missing.
func (it SearchItem) Key() Key {
	k := Key{CNPJ: it.OrgCNPJ, Year: int(it.Year), Sequence: int(it.Sequence)}
	if k.Valid() {
		return k
	}
	if m := itemURLPattern.FindStringSubmatch(it.ItemURL); m != nil {
		k.CNPJ = m[1]
		k.Year, _ = strconv.Atoi(m[2])
		k.Sequence, _ = strconv.Atoi(m[3])
	}
	return k
}

// Detail is the structured procurement record.
type Detail struct {
	Object           string   `json:"objetoCompra"`
	ModalityName     string   `json:"modalidadeNome"`
	OpeningDate      string   `json:"dataAberturaProposta"`
	ClosingDate      string   `json:"dataEncerramentoProposta"`
	EstimatedValue   *float64 `json:"valorTotalEstimado"`
	SourceSystemLink string   `json:"linkSistemaOrigem"`
	ProcessNumber    string   `json:"processo"`
	Situation        string   `json:"situacaoCompraNome"`
	ControlNumber    string   `json:"numeroControlePNCP"`
	Unit             Unit     `json:"unidadeOrgao"`
}

// Unit is the issuing unit of a procurement.
type Unit struct {
	Name         string `json:"nomeUnidade"`
	Municipality string `json:"municipioNome"`
	UF           string `json:"ufSigla"`
}

// Document is an attachment listed for a procurement.
type Document struct {
	Sequence    int    `json:"sequencialDocumento"`
	Title       string `json:"titulo"`
	URL         string `json:"url"`
	TypeName    string `json:"tipoDocumentoNome"`
	Active      bool   `json:"statusAtivo"`
	PublishedAt string `json:"dataPublicacaoPncp"`
}

// Download is a fetched attachment body.
type Download struct {
	URL         string
	ContentType string
	Filename    string
	Body        []byte
	// Truncated is set when the body hit the size limit.
	Truncated bool
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		var fl float64
		if jerr := json.Unmarshal(b, &fl); jerr != nil {
			return err
		}
		n = int(fl)
	}
	*f = flexInt(n)
	return nil
}
