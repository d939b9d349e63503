package model

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

// ListingKey identifies a notice on the portal: issuing entity, year and
// the entity's sequence number for that year.
type ListingKey struct {
	CNPJ     string `json:"cnpj"`
	Year     int    `json:"year"`
	Sequence int    `json:"sequence"`
}

// ExternalID renders the key in the portal's control-number format,
// e.g. 00394460000141-1-000123/2024.
func (k ListingKey) ExternalID() string {
	if k.CNPJ == "" || k.Year == 0 || k.Sequence == 0 {
		return ""
	}
	return fmt.Sprintf("%s-1-%06d/%d", k.CNPJ, k.Sequence, k.Year)
}

// Valid reports whether every part of the key is populated.
func (k ListingKey) Valid() bool {
	return k.ExternalID() != ""
}

var externalIDPattern = regexp.MustCompile(`^(\d{14})-1-(\d{1,6})/(\d{4})$`)

// ParseExternalID is the inverse of ListingKey.ExternalID.
func ParseExternalID(id string) (ListingKey, error) {
	m := externalIDPattern.FindStringSubmatch(id)
	if m == nil {
		return ListingKey{}, eris.Errorf("model: malformed external id %q", id)
	}
	seq, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	return ListingKey{CNPJ: m[1], Year: year, Sequence: seq}, nil
}

// SearchFields are the lightweight fields returned by the search index.
type SearchFields struct {
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	OrganizationName string   `json:"organization_name"`
	UF               string   `json:"uf"`
	Municipality     string   `json:"municipality"`
	PublishedAt      string   `json:"published_at"`
	ModalityName     string   `json:"modality_name"`
	ItemURL          string   `json:"item_url"`
}

// DetailFields are the structured fields returned by the detail lookup.
type DetailFields struct {
	Object           string   `json:"object"`
	ModalityName     string   `json:"modality_name"`
	AuctionDate      string   `json:"auction_date"`
	ClosingDate      string   `json:"closing_date"`
	EstimatedValue   *float64 `json:"estimated_value,omitempty"`
	SourceSystemLink string   `json:"source_system_link"`
	ProcessNumber    string   `json:"process_number"`
	UnitMunicipality string   `json:"unit_municipality"`
	UnitUF           string   `json:"unit_uf"`
	Situation        string   `json:"situation"`
}

// DocumentSnapshot is the attached notice document reduced to text.
type DocumentSnapshot struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	ContentType string `json:"content_type"`
	Text        string `json:"text"`
	Pages       int    `json:"pages"`
	Bytes       int    `json:"bytes"`
}

// RawListing is a candidate as fetched, before extraction. Detail and
// Document stay nil when their source could not be reached.
type RawListing struct {
	Key         ListingKey        `json:"key"`
	Search      SearchFields      `json:"search"`
	Detail      *DetailFields     `json:"detail,omitempty"`
	Document    *DocumentSnapshot `json:"document,omitempty"`
	FetchErrors map[string]string `json:"fetch_errors,omitempty"`
	FetchedAt   time.Time         `json:"fetched_at"`
}

// ExternalID is a convenience for r.Key.ExternalID().
func (r *RawListing) ExternalID() string {
	return r.Key.ExternalID()
}

// DocumentText returns the document text or "" when no document was fetched.
func (r *RawListing) DocumentText() string {
	if r.Document == nil {
		return ""
	}
	return r.Document.Text
}

// RecordFetchError notes that a source failed for this listing.
func (r *RawListing) RecordFetchError(source string, err error) {
	if err == nil {
		return
	}
	if r.FetchErrors == nil {
		r.FetchErrors = make(map[string]string)
	}
	r.FetchErrors[source] = err.Error()
}
