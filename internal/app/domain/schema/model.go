// Package schema defines versioned requirements schemas. A published
// version is frozen; every change mints the next version in the chain.
package schema

import "time"

// ItemType classifies what a requirement asks for.
type ItemType string

const (
	ItemField       ItemType = "field"
	ItemDocument    ItemType = "document"
	ItemComputed    ItemType = "computed"
	ItemAttestation ItemType = "attestation"
)

// VerificationPolicy controls how an answer for the item may be verified.
type VerificationPolicy string

const (
	VerifyHumanRequired        VerificationPolicy = "human_required"
	VerifyAutoIfSourceVerified VerificationPolicy = "auto_allowed_if_source_verified"
	VerifyIssuerMustVerify     VerificationPolicy = "issuer_must_verify"
)

// Item is a single requirement within a schema version. Keys are unique
// within one schema.
type Item struct {
	Key           string             `json:"key"`
	Label         string             `json:"label,omitempty"`
	Type          ItemType           `json:"type,omitempty"`
	Required      bool               `json:"required"`
	Verification  VerificationPolicy `json:"verification,omitempty"`
	DataType      string             `json:"data_type,omitempty"`
	VATRPathHints []string           `json:"vatr_path_hints,omitempty"`
}

// Schema is one version of a requirements definition. Version numbers are
// monotonic per template.
type Schema struct {
	ID          string    `json:"id"`
	TemplateID  string    `json:"template_id"`
	Version     int       `json:"version"`
	Items       []Item    `json:"items"`
	Published   bool      `json:"published"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

// Item returns the item with the given key, if present.
func (s Schema) Item(key string) (Item, bool) {
	for _, item := range s.Items {
		if item.Key == key {
			return item, true
		}
	}
	return Item{}, false
}

// RequiredItems returns the subset of items a complete submission must
// satisfy.
func (s Schema) RequiredItems() []Item {
	var required []Item
	for _, item := range s.Items {
		if item.Required {
			required = append(required, item)
		}
	}
	return required
}
