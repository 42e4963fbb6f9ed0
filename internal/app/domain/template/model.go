// Package template defines reusable request templates owned by an issuing
// organization.
package template

import "time"

// Status tracks the template lifecycle.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// Template groups requests issued from the same definition. Many requests
// may reference one template.
type Template struct {
	ID          string    `json:"id"`
	IssuerOrgID string    `json:"issuer_org_id"`
	Name        string    `json:"name"`
	Category    string    `json:"category,omitempty"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
