package models

import (
	"slices"

	"provenance/pkg/domain"
)

// Metadata holds the human-meaningful attributes of a product. It is stored on
// the ledger as an opaque payload produced by the codec package.
//
// ContentLink and Attributes are optional: nil means absent, which is distinct
// from an empty value.
type Metadata struct {
	Name            string            `json:"name"`
	Description     string            `json:"description"`
	ManufactureDate string            `json:"manufacture_date"`
	ContentLink     *string           `json:"content_link,omitempty"`
	Attributes      map[string]string `json:"attributes,omitempty"`
}

// Product is a decoded ledger record.
//
// Invariant: CurrentOwner equals the last History entry, or Manufacturer
// when History is empty.
type Product struct {
	ID           domain.ProductID `json:"id"`
	Manufacturer domain.Account   `json:"manufacturer"`
	CurrentOwner domain.Account   `json:"current_owner"`
	Metadata     Metadata         `json:"metadata"`
	History      []domain.Account `json:"history"`
}

// TransferCount is the number of completed transfers.
func (p *Product) TransferCount() int {
	return len(p.History)
}

// ExpectedOwner derives the owner implied by manufacturer and history.
func ExpectedOwner(manufacturer domain.Account, history []domain.Account) domain.Account {
	if len(history) == 0 {
		return manufacturer
	}
	return history[len(history)-1]
}

// Consistent reports whether CurrentOwner agrees with History.
func (p *Product) Consistent() bool {
	return p.CurrentOwner == ExpectedOwner(p.Manufacturer, p.History)
}

// Clone returns a deep copy so cached or shared products cannot be mutated by callers.
func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	c := *p
	c.History = slices.Clone(p.History)
	if c.History == nil {
		c.History = []domain.Account{}
	}
	if p.Metadata.ContentLink != nil {
		link := *p.Metadata.ContentLink
		c.Metadata.ContentLink = &link
	}
	if p.Metadata.Attributes != nil {
		c.Metadata.Attributes = make(map[string]string, len(p.Metadata.Attributes))
		for k, v := range p.Metadata.Attributes {
			c.Metadata.Attributes[k] = v
		}
	}
	return &c
}
