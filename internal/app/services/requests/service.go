// Package requests owns the request state machine, the recipient
// registry and the bulk fan-out path.
package requests

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/audit"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/identity"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/request"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/metrics"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/notify"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/services/auditlog"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/services/schemas"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/storage"
	apperrors "github.com/kaykluz/kiisha-dev-sub002/internal/errors"
	"github.com/kaykluz/kiisha-dev-sub002/pkg/logger"
)

// Service manages requests and their recipients.
type Service struct {
	store    storage.RequestStore
	schemas  *schemas.Service
	recorder *auditlog.Service
	notifier notify.Notifier
	log      *logger.Logger
}

// New constructs a request service.
func New(store storage.RequestStore, schemaSvc *schemas.Service, recorder *auditlog.Service, notifier notify.Notifier, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("requests")
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(log)
	}
	return &Service{store: store, schemas: schemaSvc, recorder: recorder, notifier: notifier, log: log}
}

// CreateInput is the payload for creating a draft request.
type CreateInput struct {
	TemplateID string
	SchemaID   string
	Title      string
	DeadlineAt *time.Time
}

// Create registers a draft request owned by the actor's organization.
// The referenced schema version must already be published so in-flight
// work stays stable; when only a template is given, its latest published
// version is resolved.
func (s *Service) Create(ctx context.Context, actor identity.Actor, in CreateInput) (request.Request, error) {
	org := actor.PrimaryOrg()
	if org == "" {
		return request.Request{}, apperrors.Forbidden("request creation requires an organization membership")
	}
	if in.Title == "" {
		return request.Request{}, apperrors.InvalidInput("request title is required")
	}

	schemaID := in.SchemaID
	if schemaID != "" {
		sc, err := s.schemas.Get(ctx, schemaID)
		if err != nil {
			return request.Request{}, err
		}
		if !sc.Published {
			return request.Request{}, apperrors.Conflict("schema %s is not published", schemaID)
		}
	} else if in.TemplateID != "" {
		sc, err := s.schemas.LatestPublished(ctx, in.TemplateID)
		if err != nil {
			return request.Request{}, err
		}
		schemaID = sc.ID
	}

	created, err := s.store.CreateRequest(ctx, request.Request{
		TemplateID:   in.TemplateID,
		IssuerOrgID:  org,
		IssuerUserID: actor.UserID,
		SchemaID:     schemaID,
		Title:        in.Title,
		DeadlineAt:   in.DeadlineAt,
		Status:       request.StatusDraft,
	})
	if err != nil {
		return request.Request{}, err
	}

	s.recorder.Record(ctx, audit.Event{
		RequestID:   created.ID,
		EventType:   audit.EventRequestCreated,
		ActorUserID: actor.UserID,
		ActorOrgID:  org,
		TargetType:  "request",
		TargetID:    created.ID,
	})
	s.log.Infof("request %s created", created.ID)
	return created, nil
}

// Issue transitions a draft request to issued and notifies invited
// recipients. Re-issuing an already-issued request is a no-op; terminal
// states reject.
func (s *Service) Issue(ctx context.Context, actor identity.Actor, requestID string) (request.Request, error) {
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return request.Request{}, err
	}
	if !actor.BelongsTo(req.IssuerOrgID) {
		return request.Request{}, apperrors.Forbidden("request %s belongs to another organization", requestID)
	}
	if req.Status == request.StatusIssued {
		return req, nil
	}
	if !req.Status.CanTransitionTo(request.StatusIssued) {
		return request.Request{}, apperrors.Conflict("request %s cannot be issued from state %s", requestID, req.Status)
	}

	req.Status = request.StatusIssued
	issued, err := s.store.UpdateRequest(ctx, req)
	if err != nil {
		return request.Request{}, err
	}

	s.recorder.Record(ctx, audit.Event{
		RequestID:   issued.ID,
		EventType:   audit.EventRequestIssued,
		ActorUserID: actor.UserID,
		ActorOrgID:  req.IssuerOrgID,
		TargetType:  "request",
		TargetID:    issued.ID,
	})
	s.notifyRecipients(ctx, issued, "You have received an information request", issued.Title)
	metrics.RecordRequestIssued(issued.IssuerOrgID)
	s.log.Infof("request %s issued", issued.ID)
	return issued, nil
}

// Invite adds one recipient to a request. At least one of org id and
// email must be given; email addresses are syntax-checked.
func (s *Service) Invite(ctx context.Context, actor identity.Actor, requestID, orgID, email string) (request.Recipient, error) {
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return request.Recipient{}, err
	}
	if !actor.BelongsTo(req.IssuerOrgID) {
		return request.Recipient{}, apperrors.Forbidden("request %s belongs to another organization", requestID)
	}
	if req.Status == request.StatusCompleted || req.Status == request.StatusClosed {
		return request.Recipient{}, apperrors.Conflict("request %s is %s", requestID, req.Status)
	}
	if err := validateRecipient(orgID, email); err != nil {
		return request.Recipient{}, err
	}

	rec, err := s.store.CreateRecipient(ctx, request.Recipient{
		RequestID: requestID,
		OrgID:     orgID,
		Email:     strings.TrimSpace(email),
		Status:    request.RecipientInvited,
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return request.Recipient{}, apperrors.Conflict("recipient is already invited to request %s", requestID)
		}
		return request.Recipient{}, err
	}

	s.recorder.Record(ctx, audit.Event{
		RequestID:   requestID,
		EventType:   audit.EventRecipientInvited,
		ActorUserID: actor.UserID,
		ActorOrgID:  req.IssuerOrgID,
		TargetType:  "recipient",
		TargetID:    rec.ID,
	})
	return rec, nil
}

// UpdateRecipientStatus advances a recipient's advisory status. Moves are
// monotonic forward; declined is terminal. The workspace's own status
// remains the authoritative mutation gate.
func (s *Service) UpdateRecipientStatus(ctx context.Context, actor identity.Actor, recipientID string, next request.RecipientStatus) (request.Recipient, error) {
	rec, err := s.store.GetRecipient(ctx, recipientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return request.Recipient{}, apperrors.NotFound("recipient", recipientID).WithCause(err)
		}
		return request.Recipient{}, err
	}
	if rec.OrgID != "" && !actor.BelongsTo(rec.OrgID) {
		return request.Recipient{}, apperrors.Forbidden("recipient %s belongs to another organization", recipientID)
	}
	if rec.Status == next {
		return rec, nil
	}
	if !rec.Status.CanTransitionTo(next) {
		return request.Recipient{}, apperrors.Conflict("recipient %s cannot move from %s to %s", recipientID, rec.Status, next)
	}

	rec.Status = next
	updated, err := s.store.UpdateRecipient(ctx, rec)
	if err != nil {
		return request.Recipient{}, err
	}

	s.recorder.Record(ctx, audit.Event{
		RequestID:   rec.RequestID,
		EventType:   audit.EventRecipientStatusChanged,
		ActorUserID: actor.UserID,
		ActorOrgID:  actor.PrimaryOrg(),
		TargetType:  "recipient",
		TargetID:    rec.ID,
		Details:     map[string]interface{}{"status": string(next)},
	})
	return updated, nil
}

// Decline marks the actor's org recipient record as declined.
func (s *Service) Decline(ctx context.Context, actor identity.Actor, requestID string) (request.Recipient, error) {
	rec, err := s.store.GetRecipientByOrg(ctx, requestID, actor.PrimaryOrg())
	if err != nil {
		return request.Recipient{}, apperrors.NotFound("recipient for request", requestID).WithCause(err)
	}
	return s.UpdateRecipientStatus(ctx, actor, rec.ID, request.RecipientDeclined)
}

// Complete moves an issued request to its completed terminal state.
func (s *Service) Complete(ctx context.Context, actor identity.Actor, requestID string) (request.Request, error) {
	return s.finish(ctx, actor, requestID, request.StatusCompleted, audit.EventRequestCompleted)
}

// Close moves an issued request to its closed terminal state.
func (s *Service) Close(ctx context.Context, actor identity.Actor, requestID string) (request.Request, error) {
	return s.finish(ctx, actor, requestID, request.StatusClosed, audit.EventRequestClosed)
}

func (s *Service) finish(ctx context.Context, actor identity.Actor, requestID string, status request.Status, eventType string) (request.Request, error) {
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return request.Request{}, err
	}
	if !actor.BelongsTo(req.IssuerOrgID) {
		return request.Request{}, apperrors.Forbidden("request %s belongs to another organization", requestID)
	}
	if !req.Status.CanTransitionTo(status) {
		return request.Request{}, apperrors.Conflict("request %s cannot move from %s to %s", requestID, req.Status, status)
	}

	req.Status = status
	updated, err := s.store.UpdateRequest(ctx, req)
	if err != nil {
		return request.Request{}, err
	}

	s.recorder.Record(ctx, audit.Event{
		RequestID:   requestID,
		EventType:   eventType,
		ActorUserID: actor.UserID,
		ActorOrgID:  req.IssuerOrgID,
		TargetType:  "request",
		TargetID:    requestID,
	})
	return updated, nil
}

// Get retrieves a request by id.
func (s *Service) Get(ctx context.Context, id string) (request.Request, error) {
	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return request.Request{}, apperrors.NotFound("request", id).WithCause(err)
		}
		return request.Request{}, err
	}
	return req, nil
}

// List returns the actor's organization's requests.
func (s *Service) List(ctx context.Context, actor identity.Actor) ([]request.Request, error) {
	org := actor.PrimaryOrg()
	if org == "" {
		return nil, apperrors.Forbidden("listing requests requires an organization membership")
	}
	return s.store.ListRequests(ctx, org)
}

// ListRecipients returns the recipient registry for a request.
func (s *Service) ListRecipients(ctx context.Context, actor identity.Actor, requestID string) ([]request.Recipient, error) {
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !actor.BelongsTo(req.IssuerOrgID) {
		return nil, apperrors.Forbidden("request %s belongs to another organization", requestID)
	}
	return s.store.ListRecipients(ctx, requestID)
}

func (s *Service) notifyRecipients(ctx context.Context, req request.Request, subject, body string) {
	recipients, err := s.store.ListRecipients(ctx, req.ID)
	if err != nil {
		s.log.WithError(err).Warnf("listing recipients for notification on request %s", req.ID)
		return
	}
	targets := make([]string, 0, len(recipients))
	for _, rec := range recipients {
		if rec.OrgID != "" {
			targets = append(targets, rec.OrgID)
		} else if rec.Email != "" {
			targets = append(targets, rec.Email)
		}
	}
	if len(targets) == 0 {
		return
	}
	if err := s.notifier.Notify(ctx, targets, notify.Message{
		Subject: subject,
		Body:    body,
		Context: map[string]string{"request_id": req.ID},
	}); err != nil {
		s.log.WithError(err).Warnf("notification for request %s failed", req.ID)
	}
}

func validateRecipient(orgID, email string) error {
	orgID = strings.TrimSpace(orgID)
	email = strings.TrimSpace(email)
	if orgID == "" && email == "" {
		return apperrors.InvalidRecipient("recipient needs an organization id or an email address")
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return apperrors.InvalidRecipient("malformed recipient email %q", email).WithCause(err)
		}
	}
	return nil
}
