// Package request defines information requests sent from an issuer org to
// recipient orgs, the per-recipient invitation records, and the sign-off
// requirements a recipient must satisfy before sealing.
package request

import (
	"time"
)

// Status tracks the request state machine. Terminal states are not
// re-enterable.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusIssued    Status = "issued"
	StatusCompleted Status = "completed"
	StatusClosed    Status = "closed"
)

// CanTransitionTo reports whether the state machine permits the move.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusDraft:
		return next == StatusIssued
	case StatusIssued:
		return next == StatusCompleted || next == StatusClosed
	default:
		return false
	}
}

// Request is one formal ask for structured information, owned by the
// issuing organization.
type Request struct {
	ID           string     `json:"id"`
	TemplateID   string     `json:"template_id"`
	IssuerOrgID  string     `json:"issuer_org_id"`
	IssuerUserID string     `json:"issuer_user_id"`
	SchemaID     string     `json:"schema_id"`
	Title        string     `json:"title"`
	DeadlineAt   *time.Time `json:"deadline_at,omitempty"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// RecipientStatus tracks an invited party's progress. Transitions move
// forward only; declined is terminal.
type RecipientStatus string

const (
	RecipientInvited    RecipientStatus = "invited"
	RecipientOpened     RecipientStatus = "opened"
	RecipientResponding RecipientStatus = "responding"
	RecipientSubmitted  RecipientStatus = "submitted"
	RecipientDeclined   RecipientStatus = "declined"
)

var recipientOrder = map[RecipientStatus]int{
	RecipientInvited:    0,
	RecipientOpened:     1,
	RecipientResponding: 2,
	RecipientSubmitted:  3,
}

// CanTransitionTo enforces monotonic forward movement. Declining is
// allowed from any non-terminal state.
func (s RecipientStatus) CanTransitionTo(next RecipientStatus) bool {
	if s == RecipientDeclined || s == RecipientSubmitted {
		return false
	}
	if next == RecipientDeclined {
		return true
	}
	from, ok := recipientOrder[s]
	if !ok {
		return false
	}
	to, ok := recipientOrder[next]
	if !ok {
		return false
	}
	return to > from
}

// Recipient is one invited party on a request. Exactly one row exists per
// (request, org) or (request, email) pair.
type Recipient struct {
	ID        string          `json:"id"`
	RequestID string          `json:"request_id"`
	OrgID     string          `json:"org_id,omitempty"`
	Email     string          `json:"email,omitempty"`
	Status    RecipientStatus `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SignOffRequirement declares an approval a recipient workspace needs
// before submission. Quorum defaults to a single approver.
type SignOffRequirement struct {
	ID            string    `json:"id"`
	RequestID     string    `json:"request_id"`
	Role          string    `json:"role"`
	Quorum        int       `json:"quorum"`
	BlockOnReject bool      `json:"block_on_reject"`
	CreatedAt     time.Time `json:"created_at"`
}

// BulkIssueResult reports the outcome for one recipient of a bulk issue.
// Failures are independently retryable; there is no batch rollback.
type BulkIssueResult struct {
	Recipient string `json:"recipient"`
	RequestID string `json:"request_id,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}
