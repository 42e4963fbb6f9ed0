// Package submissions seals workspaces into immutable submissions and
// mediates all read access to sealed content.
package submissions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/audit"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/identity"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/request"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/submission"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/workspace"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/metrics"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/notify"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/services/auditlog"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/services/signoff"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/services/workspaces"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/storage"
	apperrors "github.com/kaykluz/kiisha-dev-sub002/internal/errors"
	"github.com/kaykluz/kiisha-dev-sub002/pkg/logger"
)

// Service seals workspaces and serves sealed content.
type Service struct {
	store      storage.SubmissionStore
	requests   storage.RequestStore
	workspaces *workspaces.Service
	gate       *signoff.Service
	resolver   *Resolver
	recorder   *auditlog.Service
	notifier   notify.Notifier
	log        *logger.Logger
}

// New constructs a submission service.
func New(store storage.SubmissionStore, requests storage.RequestStore, wsSvc *workspaces.Service, gate *signoff.Service, recorder *auditlog.Service, notifier notify.Notifier, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("submissions")
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(log)
	}
	return &Service{
		store:      store,
		requests:   requests,
		workspaces: wsSvc,
		gate:       gate,
		resolver:   NewResolver(store),
		recorder:   recorder,
		notifier:   notifier,
		log:        log,
	}
}

// AccessResolver exposes the service's access decision point.
func (s *Service) AccessResolver() *Resolver { return s.resolver }

// Submit seals the workspace. The preflight order is fixed: workspace
// must be active, the sign-off gate must pass, validation must report
// complete. The seal itself is a single atomic store operation; a
// concurrent seal that wins the race surfaces as a duplicate.
func (s *Service) Submit(ctx context.Context, actor identity.Actor, workspaceID string) (submission.Submission, error) {
	start := time.Now()

	ws, err := s.workspaces.Get(ctx, actor, workspaceID)
	if err != nil {
		return submission.Submission{}, err
	}
	if ws.Status != workspace.StatusActive {
		metrics.RecordSeal("duplicate", time.Since(start))
		return submission.Submission{}, apperrors.DuplicateSubmission(workspaceID)
	}

	verdict, err := s.gate.Check(ctx, ws)
	if err != nil {
		return submission.Submission{}, err
	}
	if !verdict.Satisfied {
		metrics.RecordSeal("gate_blocked", time.Since(start))
		unsatisfied := append(verdict.Unsatisfied, verdict.Rejected...)
		return submission.Submission{}, apperrors.SignOffIncomplete(unsatisfied)
	}

	report, err := s.workspaces.ValidateForSeal(ctx, ws)
	if err != nil {
		return submission.Submission{}, err
	}
	if !report.IsComplete {
		metrics.RecordSeal("incomplete", time.Since(start))
		return submission.Submission{}, apperrors.IncompleteSubmission(report.MissingFields, report.MissingDocs).
			WithDetail("inconsistencies", report.Inconsistencies)
	}

	req, err := s.requests.GetRequest(ctx, ws.RequestID)
	if err != nil {
		return submission.Submission{}, err
	}

	sub, err := s.store.SealWorkspace(ctx, buildSeal(actor, ws, req))
	if err != nil {
		if errors.Is(err, storage.ErrWorkspaceLocked) || errors.Is(err, storage.ErrConflict) {
			metrics.RecordSeal("duplicate", time.Since(start))
			return submission.Submission{}, apperrors.DuplicateSubmission(workspaceID)
		}
		return submission.Submission{}, err
	}
	metrics.RecordSeal("sealed", time.Since(start))

	s.recorder.Record(ctx, audit.Event{
		RequestID:    ws.RequestID,
		WorkspaceID:  workspaceID,
		SubmissionID: sub.ID,
		EventType:    audit.EventSubmissionCreated,
		ActorUserID:  actor.UserID,
		ActorOrgID:   ws.RecipientOrgID,
		TargetType:   "submission",
		TargetID:     sub.ID,
	})
	s.notifyIssuer(ctx, req, sub)
	s.log.Infof("workspace %s sealed as submission %s", workspaceID, sub.ID)
	return sub, nil
}

// buildSeal pre-mints identifiers. The workspace contents are not read
// here: the store freezes them itself inside the seal transaction, under
// the lock that flips the workspace, so a write racing the submit cannot
// slip past the snapshot.
func buildSeal(actor identity.Actor, ws workspace.Workspace, req request.Request) storage.Seal {
	now := time.Now().UTC()
	subID := uuid.NewString()
	grantID := uuid.NewString()

	return storage.Seal{
		Submission: submission.Submission{
			ID:                subID,
			WorkspaceID:       ws.ID,
			RequestID:         req.ID,
			RecipientOrgID:    ws.RecipientOrgID,
			SubmittedByUserID: actor.UserID,
			SnapshotID:        uuid.NewString(),
			GrantID:           grantID,
			Status:            submission.StatusSubmitted,
			SubmittedAt:       now,
		},
		Grant: submission.AccessGrant{
			ID:           grantID,
			SubmissionID: subID,
			GranteeOrgID: req.IssuerOrgID,
			Scope:        submission.ScopeRead,
			CreatedAt:    now,
		},
		RecipientStatus: request.RecipientSubmitted,
	}
}

// Get returns a submission the actor may access.
func (s *Service) Get(ctx context.Context, actor identity.Actor, submissionID string) (submission.Submission, error) {
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return submission.Submission{}, apperrors.NotFound("submission", submissionID).WithCause(err)
		}
		return submission.Submission{}, err
	}
	decision, err := s.resolver.CanAccessSubmission(ctx, actor, sub)
	if err != nil {
		return submission.Submission{}, err
	}
	if !decision.CanAccess {
		return submission.Submission{}, apperrors.Forbidden("no access to submission %s", submissionID)
	}
	return sub, nil
}

// GetSnapshot returns the frozen snapshot behind an accessible submission.
func (s *Service) GetSnapshot(ctx context.Context, actor identity.Actor, submissionID string) (submission.Snapshot, error) {
	sub, err := s.Get(ctx, actor, submissionID)
	if err != nil {
		return submission.Snapshot{}, err
	}
	return s.store.GetSnapshot(ctx, sub.SnapshotID)
}

// ListByRequest returns the request's submissions for its issuer.
func (s *Service) ListByRequest(ctx context.Context, actor identity.Actor, requestID string) ([]submission.Submission, error) {
	req, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.NotFound("request", requestID).WithCause(err)
		}
		return nil, err
	}
	if !actor.BelongsTo(req.IssuerOrgID) {
		return nil, apperrors.Forbidden("submission listing is restricted to the issuing organization")
	}
	return s.store.ListSubmissions(ctx, requestID)
}

// Review records the issuer's review outcome. The sealed content stays
// untouched; only review metadata changes.
func (s *Service) Review(ctx context.Context, actor identity.Actor, submissionID string, status submission.Status, notes string) (submission.Submission, error) {
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return submission.Submission{}, apperrors.NotFound("submission", submissionID).WithCause(err)
		}
		return submission.Submission{}, err
	}
	req, err := s.requests.GetRequest(ctx, sub.RequestID)
	if err != nil {
		return submission.Submission{}, err
	}
	if !actor.BelongsTo(req.IssuerOrgID) {
		return submission.Submission{}, apperrors.Forbidden("only the issuing organization may review submissions")
	}
	switch status {
	case submission.StatusAccepted, submission.StatusNeedsClarification, submission.StatusRejected:
	default:
		return submission.Submission{}, apperrors.InvalidInput("invalid review status %q", status)
	}

	now := time.Now().UTC()
	sub.Status = status
	sub.ReviewedAt = &now
	sub.ReviewedByUserID = actor.UserID
	sub.ReviewNotes = notes

	updated, err := s.store.UpdateSubmissionReview(ctx, sub)
	if err != nil {
		return submission.Submission{}, err
	}

	s.recorder.Record(ctx, audit.Event{
		RequestID:    sub.RequestID,
		SubmissionID: sub.ID,
		EventType:    audit.EventSubmissionReviewed,
		ActorUserID:  actor.UserID,
		ActorOrgID:   req.IssuerOrgID,
		TargetType:   "submission",
		TargetID:     sub.ID,
		Details:      map[string]interface{}{"status": string(status)},
	})
	s.notifyRecipient(ctx, req, updated)
	return updated, nil
}

func (s *Service) notifyRecipient(ctx context.Context, req request.Request, sub submission.Submission) {
	target := sub.SubmittedByUserID
	if target == "" {
		target = sub.RecipientOrgID
	}
	err := s.notifier.Notify(ctx, []string{target}, notify.Message{
		Subject: "Submission reviewed: " + req.Title,
		Body:    "The issuer recorded a review outcome: " + string(sub.Status),
		Context: map[string]string{
			"request_id":    req.ID,
			"submission_id": sub.ID,
			"status":        string(sub.Status),
		},
	})
	if err != nil {
		s.log.WithError(err).Warnf("review notification for submission %s failed", sub.ID)
	}
}

// RevokeGrant withdraws the issuer's read grant. Only the submitting
// organization may revoke.
func (s *Service) RevokeGrant(ctx context.Context, actor identity.Actor, submissionID string) (submission.AccessGrant, error) {
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return submission.AccessGrant{}, apperrors.NotFound("submission", submissionID).WithCause(err)
		}
		return submission.AccessGrant{}, err
	}
	if !actor.BelongsTo(sub.RecipientOrgID) {
		return submission.AccessGrant{}, apperrors.Forbidden("only the submitting organization may revoke access")
	}

	grant, err := s.store.RevokeGrant(ctx, sub.GrantID, time.Now().UTC())
	if err != nil {
		return submission.AccessGrant{}, err
	}

	s.recorder.Record(ctx, audit.Event{
		RequestID:    sub.RequestID,
		SubmissionID: sub.ID,
		EventType:    audit.EventGrantRevoked,
		ActorUserID:  actor.UserID,
		ActorOrgID:   sub.RecipientOrgID,
		TargetType:   "access_grant",
		TargetID:     grant.ID,
	})
	s.log.Infof("grant %s on submission %s revoked", grant.ID, sub.ID)
	return grant, nil
}

func (s *Service) notifyIssuer(ctx context.Context, req request.Request, sub submission.Submission) {
	err := s.notifier.Notify(ctx, []string{req.IssuerUserID}, notify.Message{
		Subject: "Submission received: " + req.Title,
		Body:    "A recipient has submitted a sealed response.",
		Context: map[string]string{
			"request_id":    req.ID,
			"submission_id": sub.ID,
			"issuer_org_id": req.IssuerOrgID,
		},
	})
	if err != nil {
		s.log.WithError(err).Warnf("issuer notification for submission %s failed", sub.ID)
	}
}
