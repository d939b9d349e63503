package model

import (
	"fmt"
	"strings"
	"time"
)

// Field names used by the contract, the cascade and the validator.
const (
	FieldExternalID       = "external_id"
	FieldOrganizationName = "organization_name"
	FieldRegion           = "region"
	FieldLocality         = "locality"
	FieldPublicationDate  = "publication_date"
	FieldAuctionDate      = "auction_date"
	FieldTitle            = "title"
	FieldDescription      = "description"
	FieldSummarizedObject = "summarized_object"
	FieldTags             = "tags"
	FieldDocumentRef      = "document_ref"
	FieldDetailLink       = "detail_link"
	FieldAuctioneerLink   = "auctioneer_link"
	FieldEstimatedValue   = "estimated_value"
	FieldModality         = "modality"
)

// RecordFields lists every field of NormalizedRecord in declaration order.
var RecordFields = []string{
	FieldExternalID,
	FieldOrganizationName,
	FieldRegion,
	FieldLocality,
	FieldPublicationDate,
	FieldAuctionDate,
	FieldTitle,
	FieldDescription,
	FieldSummarizedObject,
	FieldTags,
	FieldDocumentRef,
	FieldDetailLink,
	FieldAuctioneerLink,
	FieldEstimatedValue,
	FieldModality,
}

// IsKnownField reports whether name is a NormalizedRecord field.
func IsKnownField(name string) bool {
	for _, f := range RecordFields {
		if f == name {
			return true
		}
	}
	return false
}

// Money is a fixed-point amount in centavos.
type Money int64

// Reais returns the amount as a float, for display and spreadsheets only.
func (m Money) Reais() float64 {
	return float64(m) / 100
}

// String formats the amount as Brazilian currency: R$ 1.234,56.
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole := fmt.Sprintf("%d", v/100)
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return fmt.Sprintf("%sR$ %s,%02d", sign, b.String(), v%100)
}

// NormalizedRecord is the canonical shape of one auction notice. A nil
// pointer or nil slice means the value is absent.
type NormalizedRecord struct {
	ExternalID       string     `json:"external_id"`
	OrganizationName *string    `json:"organization_name,omitempty"`
	Region           *string    `json:"region,omitempty"`
	Locality         *string    `json:"locality,omitempty"`
	PublicationDate  *time.Time `json:"publication_date,omitempty"`
	AuctionDate      *time.Time `json:"auction_date,omitempty"`
	Title            *string    `json:"title,omitempty"`
	Description      *string    `json:"description,omitempty"`
	SummarizedObject *string    `json:"summarized_object,omitempty"`
	Tags             []string   `json:"tags,omitempty"`
	DocumentRef      *string    `json:"document_ref,omitempty"`
	DetailLink       *string    `json:"detail_link,omitempty"`
	AuctioneerLink   *string    `json:"auctioneer_link,omitempty"`
	EstimatedValue   *Money     `json:"estimated_value,omitempty"`
	Modality         *string    `json:"modality,omitempty"`

	// Sources maps a field name to the cascade source that produced it.
	Sources map[string]string `json:"sources,omitempty"`
}

// Present reports whether the named field holds a value. Unknown names
// are never present.
func (r *NormalizedRecord) Present(field string) bool {
	if r == nil {
		return false
	}
	switch field {
	case FieldExternalID:
		return r.ExternalID != ""
	case FieldOrganizationName:
		return r.OrganizationName != nil
	case FieldRegion:
		return r.Region != nil
	case FieldLocality:
		return r.Locality != nil
	case FieldPublicationDate:
		return r.PublicationDate != nil
	case FieldAuctionDate:
		return r.AuctionDate != nil
	case FieldTitle:
		return r.Title != nil
	case FieldDescription:
		return r.Description != nil
	case FieldSummarizedObject:
		return r.SummarizedObject != nil
	case FieldTags:
		return len(r.Tags) > 0
	case FieldDocumentRef:
		return r.DocumentRef != nil
	case FieldDetailLink:
		return r.DetailLink != nil
	case FieldAuctioneerLink:
		return r.AuctioneerLink != nil
	case FieldEstimatedValue:
		return r.EstimatedValue != nil
	case FieldModality:
		return r.Modality != nil
	}
	return false
}

// Links returns the URL-valued fields that are present, keyed by field name.
func (r *NormalizedRecord) Links() map[string]string {
	out := make(map[string]string, 3)
	if r.DetailLink != nil {
		out[FieldDetailLink] = *r.DetailLink
	}
	if r.AuctioneerLink != nil {
		out[FieldAuctioneerLink] = *r.AuctioneerLink
	}
	if r.DocumentRef != nil {
		out[FieldDocumentRef] = *r.DocumentRef
	}
	return out
}

// Str is a helper for building records in code and tests.
func Str(s string) *string { return &s }
