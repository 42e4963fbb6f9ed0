// Package audit defines the append-only event ledger. Events are written
// once per logical transition and never updated or deleted.
package audit

import "time"

// Event types emitted by the workflow services.
const (
	EventRequestCreated          = "request_created"
	EventRequestIssued           = "request_issued"
	EventRequestCompleted        = "request_completed"
	EventRequestClosed           = "request_closed"
	EventRecipientInvited        = "recipient_invited"
	EventRecipientStatusChanged  = "recipient_status_changed"
	EventSchemaPublished         = "schema_published"
	EventWorkspaceCreated        = "workspace_created"
	EventAnswerSaved             = "answer_saved"
	EventDocumentUploaded        = "document_uploaded"
	EventAssetLinked             = "asset_linked"
	EventAssetRemoved            = "asset_removed"
	EventSignOffRecorded         = "sign_off_recorded"
	EventSubmissionCreated       = "submission_created"
	EventSubmissionReviewed      = "submission_reviewed"
	EventGrantRevoked            = "grant_revoked"
	EventClarificationCreated    = "clarification_created"
	EventClarificationReplied    = "clarification_replied"
	EventDeadlineReminderSent    = "deadline_reminder_sent"
)

// Event records one state transition with its actor and targets.
type Event struct {
	ID           string                 `json:"id"`
	RequestID    string                 `json:"request_id,omitempty"`
	WorkspaceID  string                 `json:"workspace_id,omitempty"`
	SubmissionID string                 `json:"submission_id,omitempty"`
	EventType    string                 `json:"event_type"`
	ActorUserID  string                 `json:"actor_user_id"`
	ActorOrgID   string                 `json:"actor_org_id,omitempty"`
	TargetType   string                 `json:"target_type,omitempty"`
	TargetID     string                 `json:"target_id,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}
