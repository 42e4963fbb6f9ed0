// Package submission defines sealed submissions, their frozen snapshots
// and the access grants that let the issuer read them.
package submission

import "time"

// Status tracks issuer-side review. Everything else on a submission is
// immutable after creation.
type Status string

const (
	StatusSubmitted          Status = "submitted"
	StatusAccepted           Status = "accepted"
	StatusNeedsClarification Status = "needs_clarification"
	StatusRejected           Status = "rejected"
)

// Submission is the sealed result of one workspace. Created exactly once
// per workspace, in the same transaction that locks it.
type Submission struct {
	ID                string     `json:"id"`
	WorkspaceID       string     `json:"workspace_id"`
	RequestID         string     `json:"request_id"`
	RecipientOrgID    string     `json:"recipient_org_id"`
	SubmittedByUserID string     `json:"submitted_by_user_id,omitempty"`
	SnapshotID        string     `json:"snapshot_id"`
	GrantID           string     `json:"grant_id"`
	Status            Status     `json:"status"`
	SubmittedAt       time.Time  `json:"submitted_at"`
	ReviewedAt        *time.Time `json:"reviewed_at,omitempty"`
	ReviewedByUserID  string     `json:"reviewed_by_user_id,omitempty"`
	ReviewNotes       string     `json:"review_notes,omitempty"`
}

// GrantScope is the capability conferred by an access grant.
type GrantScope string

// ScopeRead is the only scope minted today.
const ScopeRead GrantScope = "read"

// AccessGrant is a capability record authorizing one org to read one
// submission. It is the sole cross-org access path.
type AccessGrant struct {
	ID           string     `json:"id"`
	SubmissionID string     `json:"submission_id"`
	GranteeOrgID string     `json:"grantee_org_id"`
	Scope        GrantScope `json:"scope"`
	CreatedAt    time.Time  `json:"created_at"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
}

// Revoked reports whether the grant has been withdrawn.
func (g AccessGrant) Revoked() bool { return g.RevokedAt != nil }

// AccessType names how access was obtained.
type AccessType string

const (
	AccessOwner   AccessType = "owner"
	AccessGranted AccessType = "granted"
	AccessNone    AccessType = ""
)

// AccessDecision is the resolver's answer for one (actor, submission)
// pair.
type AccessDecision struct {
	CanAccess  bool       `json:"can_access"`
	AccessType AccessType `json:"access_type,omitempty"`
}
