// Package workspace defines the recipient-side staging area for one
// request: linked assets, draft answers, uploaded documents and sign-off
// events. Contents are mutable only while the workspace is active.
package workspace

import "time"

// Status gates all workspace mutation. Locked is entered exactly once, by
// the submission sealer.
type Status string

const (
	StatusActive Status = "active"
	StatusLocked Status = "locked"
)

// Workspace is the recipient org's scratch space for a request. Exactly
// one exists per (request, recipient org), created lazily.
type Workspace struct {
	ID              string    `json:"id"`
	RequestID       string    `json:"request_id"`
	RecipientOrgID  string    `json:"recipient_org_id"`
	CreatedByUserID string    `json:"created_by_user_id,omitempty"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Answer is a draft answer for one requirement key. Last write wins per
// (workspace, key).
type Answer struct {
	ID              string    `json:"id"`
	WorkspaceID     string    `json:"workspace_id"`
	RequirementKey  string    `json:"requirement_key"`
	ValueJSON       string    `json:"value_json"`
	VATRSourcePath  string    `json:"vatr_source_path,omitempty"`
	AssetID         string    `json:"asset_id,omitempty"`
	UpdatedByUserID string    `json:"updated_by_user_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Document is an uploaded file reference. Bytes live in the object store;
// only the URL and hash are kept here.
type Document struct {
	ID               string    `json:"id"`
	WorkspaceID      string    `json:"workspace_id"`
	RequirementKey   string    `json:"requirement_key,omitempty"`
	FileURL          string    `json:"file_url"`
	FileName         string    `json:"file_name"`
	ContentHash      string    `json:"content_hash"`
	UploadedByUserID string    `json:"uploaded_by_user_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// AssetLink ties the workspace to one of the recipient's own verified
// asset records. The VATR record is referenced, not copied; its JSON form
// is kept so provenance paths can be resolved against it.
type AssetLink struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	AssetID     string    `json:"asset_id"`
	Label       string    `json:"label,omitempty"`
	VATRJSON    string    `json:"vatr_json,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SignOffDecision is the outcome of one sign-off event.
type SignOffDecision string

const (
	SignOffApproved SignOffDecision = "approved"
	SignOffRejected SignOffDecision = "rejected"
)

// SignOffEvent records one approver's decision against a requirement.
type SignOffEvent struct {
	ID             string          `json:"id"`
	WorkspaceID    string          `json:"workspace_id"`
	RequirementID  string          `json:"requirement_id,omitempty"`
	SignedByUserID string          `json:"signed_by_user_id"`
	Status         SignOffDecision `json:"status"`
	Notes          string          `json:"notes,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ValidationReport is the read-only completeness diff of a workspace
// against its schema.
type ValidationReport struct {
	IsComplete      bool     `json:"is_complete"`
	MissingFields   []string `json:"missing_fields"`
	MissingDocs     []string `json:"missing_docs"`
	Inconsistencies []string `json:"inconsistencies"`
}
