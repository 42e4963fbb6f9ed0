// Package clarification defines the threaded Q&A side channel between
// issuer and recipient, used mostly post-submission.
package clarification

import "time"

// Status flips from open to responded on the first reply. There is no
// terminal closed state; threads stay reopenable.
type Status string

const (
	StatusOpen      Status = "open"
	StatusResponded Status = "responded"
)

// Clarification is one message in a reply tree formed via ParentID. A
// reply always targets the opposite org from its parent.
type Clarification struct {
	ID           string    `json:"id"`
	RequestID    string    `json:"request_id"`
	SubmissionID string    `json:"submission_id"`
	FromOrgID    string    `json:"from_org_id"`
	FromUserID   string    `json:"from_user_id"`
	ToOrgID      string    `json:"to_org_id"`
	ParentID     string    `json:"parent_id,omitempty"`
	Message      string    `json:"message"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
