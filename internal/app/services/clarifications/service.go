// Package clarifications manages threaded Q&A between issuer and
// recipient orgs about a sealed submission, without ever unsealing it.
package clarifications

import (
	"context"
	"errors"
	"strings"

	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/audit"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/clarification"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/identity"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/request"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/submission"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/notify"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/services/auditlog"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/storage"
	apperrors "github.com/kaykluz/kiisha-dev-sub002/internal/errors"
	"github.com/kaykluz/kiisha-dev-sub002/pkg/logger"
)

// Service manages clarification threads.
type Service struct {
	store       storage.ClarificationStore
	submissions storage.SubmissionStore
	requests    storage.RequestStore
	recorder    *auditlog.Service
	notifier    notify.Notifier
	log         *logger.Logger
}

// New constructs a clarification service.
func New(store storage.ClarificationStore, submissions storage.SubmissionStore, requests storage.RequestStore, recorder *auditlog.Service, notifier notify.Notifier, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("clarifications")
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(log)
	}
	return &Service{store: store, submissions: submissions, requests: requests, recorder: recorder, notifier: notifier, log: log}
}

// Create opens a thread on a submission. Either party of the submission
// may start one; the other party is the addressee.
func (s *Service) Create(ctx context.Context, actor identity.Actor, submissionID, message string) (clarification.Clarification, error) {
	if strings.TrimSpace(message) == "" {
		return clarification.Clarification{}, apperrors.InvalidInput("clarification message is required")
	}

	sub, req, err := s.parties(ctx, submissionID)
	if err != nil {
		return clarification.Clarification{}, err
	}

	fromOrg, toOrg, err := s.direction(actor, req.IssuerOrgID, sub.RecipientOrgID)
	if err != nil {
		return clarification.Clarification{}, err
	}

	created, err := s.store.CreateClarification(ctx, clarification.Clarification{
		RequestID:    sub.RequestID,
		SubmissionID: submissionID,
		FromOrgID:    fromOrg,
		FromUserID:   actor.UserID,
		ToOrgID:      toOrg,
		Message:      message,
		Status:       clarification.StatusOpen,
	})
	if err != nil {
		return clarification.Clarification{}, err
	}

	s.recorder.Record(ctx, audit.Event{
		RequestID:    sub.RequestID,
		SubmissionID: submissionID,
		EventType:    audit.EventClarificationCreated,
		ActorUserID:  actor.UserID,
		ActorOrgID:   fromOrg,
		TargetType:   "clarification",
		TargetID:     created.ID,
	})
	s.notifyParty(ctx, created)
	return created, nil
}

// Respond replies to an open thread. Only the addressee org may reply;
// the reply flips the parent to responded. Threads are never closed
// automatically, further replies stay possible in either direction.
func (s *Service) Respond(ctx context.Context, actor identity.Actor, parentID, message string) (clarification.Clarification, error) {
	if strings.TrimSpace(message) == "" {
		return clarification.Clarification{}, apperrors.InvalidInput("clarification message is required")
	}

	parent, err := s.store.GetClarification(ctx, parentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return clarification.Clarification{}, apperrors.NotFound("clarification", parentID).WithCause(err)
		}
		return clarification.Clarification{}, err
	}
	if !actor.BelongsTo(parent.ToOrgID) {
		return clarification.Clarification{}, apperrors.Forbidden("clarification %s is addressed to another organization", parentID)
	}

	reply, err := s.store.CreateClarification(ctx, clarification.Clarification{
		RequestID:    parent.RequestID,
		SubmissionID: parent.SubmissionID,
		FromOrgID:    parent.ToOrgID,
		FromUserID:   actor.UserID,
		ToOrgID:      parent.FromOrgID,
		ParentID:     parent.ID,
		Message:      message,
		Status:       clarification.StatusOpen,
	})
	if err != nil {
		return clarification.Clarification{}, err
	}

	if parent.Status == clarification.StatusOpen {
		parent.Status = clarification.StatusResponded
		if _, err := s.store.UpdateClarification(ctx, parent); err != nil {
			s.log.WithError(err).Warnf("marking clarification %s responded failed", parent.ID)
		}
	}

	s.recorder.Record(ctx, audit.Event{
		RequestID:    parent.RequestID,
		SubmissionID: parent.SubmissionID,
		EventType:    audit.EventClarificationReplied,
		ActorUserID:  actor.UserID,
		ActorOrgID:   reply.FromOrgID,
		TargetType:   "clarification",
		TargetID:     reply.ID,
	})
	s.notifyParty(ctx, reply)
	return reply, nil
}

// List returns the request's clarification threads, visible only to the
// two parties involved.
func (s *Service) List(ctx context.Context, actor identity.Actor, requestID string) ([]clarification.Clarification, error) {
	req, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.NotFound("request", requestID).WithCause(err)
		}
		return nil, err
	}

	all, err := s.store.ListClarifications(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if actor.BelongsTo(req.IssuerOrgID) {
		return all, nil
	}
	if _, err := s.requests.GetRecipientByOrg(ctx, requestID, actor.PrimaryOrg()); err != nil {
		return nil, apperrors.Forbidden("clarifications on request %s are restricted to its parties", requestID)
	}

	// Recipient-side callers see only threads they are party to.
	visible := []clarification.Clarification{}
	for _, c := range all {
		if actor.BelongsTo(c.FromOrgID) || actor.BelongsTo(c.ToOrgID) {
			visible = append(visible, c)
		}
	}
	return visible, nil
}

func (s *Service) parties(ctx context.Context, submissionID string) (submission.Submission, request.Request, error) {
	sub, err := s.submissions.GetSubmission(ctx, submissionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return submission.Submission{}, request.Request{}, apperrors.NotFound("submission", submissionID).WithCause(err)
		}
		return submission.Submission{}, request.Request{}, err
	}
	req, err := s.requests.GetRequest(ctx, sub.RequestID)
	if err != nil {
		return submission.Submission{}, request.Request{}, err
	}
	return sub, req, nil
}

func (s *Service) direction(actor identity.Actor, issuerOrg, recipientOrg string) (fromOrg, toOrg string, err error) {
	switch {
	case actor.BelongsTo(issuerOrg):
		return issuerOrg, recipientOrg, nil
	case actor.BelongsTo(recipientOrg):
		return recipientOrg, issuerOrg, nil
	default:
		return "", "", apperrors.Forbidden("clarifications are restricted to the submission's parties")
	}
}

func (s *Service) notifyParty(ctx context.Context, c clarification.Clarification) {
	err := s.notifier.Notify(ctx, []string{c.ToOrgID}, notify.Message{
		Subject: "Clarification on submission " + c.SubmissionID,
		Body:    c.Message,
		Context: map[string]string{
			"request_id":       c.RequestID,
			"submission_id":    c.SubmissionID,
			"clarification_id": c.ID,
		},
	})
	if err != nil {
		s.log.WithError(err).Warnf("clarification notification for %s failed", c.ID)
	}
}
