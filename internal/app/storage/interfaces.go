// Package storage defines the persistence contract for the workflow
// engine. Implementations must preserve the uniqueness and immutability
// invariants stated on each method.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/audit"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/clarification"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/request"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/schema"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/submission"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/template"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/workspace"
)

// Sentinel errors shared by every implementation. Services translate
// these into the caller-facing taxonomy.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("already exists")
	ErrWorkspaceLocked = errors.New("workspace locked")
)

// SchemaStore persists requirements schema versions. Published versions
// are never mutated; new versions are appended to the chain keyed
// (template, version).
type SchemaStore interface {
	CreateSchema(ctx context.Context, s schema.Schema) (schema.Schema, error)
	UpdateSchema(ctx context.Context, s schema.Schema) (schema.Schema, error)
	GetSchema(ctx context.Context, id string) (schema.Schema, error)
	ListSchemaVersions(ctx context.Context, templateID string) ([]schema.Schema, error)
}

// TemplateStore persists request templates.
type TemplateStore interface {
	CreateTemplate(ctx context.Context, t template.Template) (template.Template, error)
	UpdateTemplate(ctx context.Context, t template.Template) (template.Template, error)
	GetTemplate(ctx context.Context, id string) (template.Template, error)
	ListTemplates(ctx context.Context, issuerOrgID string) ([]template.Template, error)
}

// RequestStore persists requests, their recipients and the request's
// sign-off requirements.
type RequestStore interface {
	CreateRequest(ctx context.Context, req request.Request) (request.Request, error)
	UpdateRequest(ctx context.Context, req request.Request) (request.Request, error)
	GetRequest(ctx context.Context, id string) (request.Request, error)
	ListRequests(ctx context.Context, issuerOrgID string) ([]request.Request, error)
	ListRequestsByStatus(ctx context.Context, status request.Status) ([]request.Request, error)

	// CreateRecipient enforces uniqueness on (request, org) and
	// (request, email).
	CreateRecipient(ctx context.Context, rec request.Recipient) (request.Recipient, error)
	UpdateRecipient(ctx context.Context, rec request.Recipient) (request.Recipient, error)
	GetRecipient(ctx context.Context, id string) (request.Recipient, error)
	GetRecipientByOrg(ctx context.Context, requestID, orgID string) (request.Recipient, error)
	ListRecipients(ctx context.Context, requestID string) ([]request.Recipient, error)

	CreateSignOffRequirement(ctx context.Context, req request.SignOffRequirement) (request.SignOffRequirement, error)
	ListSignOffRequirements(ctx context.Context, requestID string) ([]request.SignOffRequirement, error)
}

// WorkspaceStore persists workspaces and their child collections. Child
// writes must fail with ErrWorkspaceLocked once the workspace is locked.
type WorkspaceStore interface {
	// CreateWorkspace enforces uniqueness on (request, recipient org).
	CreateWorkspace(ctx context.Context, ws workspace.Workspace) (workspace.Workspace, error)
	GetWorkspace(ctx context.Context, id string) (workspace.Workspace, error)
	GetWorkspaceByRequestOrg(ctx context.Context, requestID, recipientOrgID string) (workspace.Workspace, error)

	// UpsertAnswer is last-write-wins per (workspace, requirement key).
	UpsertAnswer(ctx context.Context, ans workspace.Answer) (workspace.Answer, error)
	ListAnswers(ctx context.Context, workspaceID string) ([]workspace.Answer, error)

	CreateDocument(ctx context.Context, doc workspace.Document) (workspace.Document, error)
	ListDocuments(ctx context.Context, workspaceID string) ([]workspace.Document, error)

	CreateAssetLink(ctx context.Context, link workspace.AssetLink) (workspace.AssetLink, error)
	DeleteAssetLink(ctx context.Context, workspaceID, linkID string) error
	GetAssetLink(ctx context.Context, workspaceID, linkID string) (workspace.AssetLink, error)
	ListAssetLinks(ctx context.Context, workspaceID string) ([]workspace.AssetLink, error)

	CreateSignOffEvent(ctx context.Context, ev workspace.SignOffEvent) (workspace.SignOffEvent, error)
	ListSignOffEvents(ctx context.Context, workspaceID string) ([]workspace.SignOffEvent, error)
}

// Seal bundles the records written atomically when a workspace is sealed.
// The snapshot is not part of the input: implementations freeze the
// workspace's answers and documents themselves, under the same lock that
// flips the workspace to locked, and store the result under the
// submission's SnapshotID. A write accepted before the lock is therefore
// always in the snapshot.
type Seal struct {
	Submission      submission.Submission
	Grant           submission.AccessGrant
	RecipientStatus request.RecipientStatus
}

// BuildSnapshot freezes the given workspace contents into a snapshot.
// Implementations call this with rows read inside their seal transaction.
func BuildSnapshot(id, workspaceID string, takenAt time.Time, answers []workspace.Answer, documents []workspace.Document) submission.Snapshot {
	snapAnswers := make([]submission.SnapshotAnswer, 0, len(answers))
	for _, ans := range answers {
		snapAnswers = append(snapAnswers, submission.SnapshotAnswer{
			RequirementKey: ans.RequirementKey,
			ValueJSON:      ans.ValueJSON,
			VATRSourcePath: ans.VATRSourcePath,
			AssetID:        ans.AssetID,
		})
	}
	snapDocs := make([]submission.SnapshotDocument, 0, len(documents))
	for _, doc := range documents {
		snapDocs = append(snapDocs, submission.SnapshotDocument{
			RequirementKey: doc.RequirementKey,
			FileURL:        doc.FileURL,
			FileName:       doc.FileName,
			ContentHash:    doc.ContentHash,
		})
	}
	return submission.NewSnapshot(id, workspaceID, takenAt, snapAnswers, snapDocs)
}

// SubmissionStore persists sealed submissions, snapshots and grants.
type SubmissionStore interface {
	// SealWorkspace atomically freezes the workspace's current answers
	// and documents into a snapshot, creates the submission and grant,
	// flips the workspace to locked and the matching recipient to
	// submitted. It fails with ErrWorkspaceLocked when the workspace is
	// no longer active, leaving no partial state behind.
	SealWorkspace(ctx context.Context, seal Seal) (submission.Submission, error)

	GetSubmission(ctx context.Context, id string) (submission.Submission, error)
	GetSubmissionByWorkspace(ctx context.Context, workspaceID string) (submission.Submission, error)
	ListSubmissions(ctx context.Context, requestID string) ([]submission.Submission, error)
	// UpdateSubmissionReview mutates review metadata only; everything
	// else on a submission is immutable.
	UpdateSubmissionReview(ctx context.Context, sub submission.Submission) (submission.Submission, error)

	// GetSnapshot returns the frozen snapshot. Implementations never
	// expose a write path for snapshots outside SealWorkspace.
	GetSnapshot(ctx context.Context, id string) (submission.Snapshot, error)

	GetGrant(ctx context.Context, id string) (submission.AccessGrant, error)
	FindGrant(ctx context.Context, submissionID, granteeOrgID string) (submission.AccessGrant, error)
	RevokeGrant(ctx context.Context, grantID string, at time.Time) (submission.AccessGrant, error)
}

// ClarificationStore persists clarification threads.
type ClarificationStore interface {
	CreateClarification(ctx context.Context, c clarification.Clarification) (clarification.Clarification, error)
	UpdateClarification(ctx context.Context, c clarification.Clarification) (clarification.Clarification, error)
	GetClarification(ctx context.Context, id string) (clarification.Clarification, error)
	ListClarifications(ctx context.Context, requestID string) ([]clarification.Clarification, error)
}

// AuditStore persists the append-only event ledger.
type AuditStore interface {
	AppendEvent(ctx context.Context, ev audit.Event) (audit.Event, error)
	ListEventsByRequest(ctx context.Context, requestID string) ([]audit.Event, error)
}
