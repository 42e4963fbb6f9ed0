// Package signoff implements the pre-submission approval gate: issuers
// define role-based requirements on a request, recipient-side users
// record decisions, and the gate verdict is always computed fresh from
// the stored events.
package signoff

import (
	"context"
	"errors"
	"fmt"

	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/audit"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/identity"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/request"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/workspace"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/services/auditlog"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/storage"
	apperrors "github.com/kaykluz/kiisha-dev-sub002/internal/errors"
	"github.com/kaykluz/kiisha-dev-sub002/pkg/logger"
)

// Verdict is the gate's answer for one workspace.
type Verdict struct {
	Satisfied   bool     `json:"satisfied"`
	Unsatisfied []string `json:"unsatisfied,omitempty"`
	Rejected    []string `json:"rejected,omitempty"`
}

// Service evaluates sign-off requirements against recorded events.
type Service struct {
	requests   storage.RequestStore
	workspaces storage.WorkspaceStore
	recorder   *auditlog.Service
	log        *logger.Logger
}

// New constructs a sign-off service.
func New(requests storage.RequestStore, workspaces storage.WorkspaceStore, recorder *auditlog.Service, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("signoff")
	}
	return &Service{requests: requests, workspaces: workspaces, recorder: recorder, log: log}
}

// DefineRequirement attaches a role-based requirement to a draft
// request. Requirements are frozen once the request is issued.
func (s *Service) DefineRequirement(ctx context.Context, actor identity.Actor, requestID, role string, quorum int, blockOnReject bool) (request.SignOffRequirement, error) {
	req, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return request.SignOffRequirement{}, apperrors.NotFound("request", requestID).WithCause(err)
		}
		return request.SignOffRequirement{}, err
	}
	if !actor.BelongsTo(req.IssuerOrgID) {
		return request.SignOffRequirement{}, apperrors.Forbidden("only the issuing organization may define sign-off requirements")
	}
	if req.Status != request.StatusDraft {
		return request.SignOffRequirement{}, apperrors.Conflict("sign-off requirements are frozen once request %s is issued", requestID)
	}
	if role == "" {
		return request.SignOffRequirement{}, apperrors.InvalidInput("sign-off role is required")
	}
	if quorum < 1 {
		quorum = 1
	}

	created, err := s.requests.CreateSignOffRequirement(ctx, request.SignOffRequirement{
		RequestID:     requestID,
		Role:          role,
		Quorum:        quorum,
		BlockOnReject: blockOnReject,
	})
	if err != nil {
		return request.SignOffRequirement{}, err
	}
	s.log.Infof("sign-off requirement %s (%s x%d) defined on request %s", created.ID, role, quorum, requestID)
	return created, nil
}

// ListRequirements returns the request's sign-off requirements.
func (s *Service) ListRequirements(ctx context.Context, requestID string) ([]request.SignOffRequirement, error) {
	return s.requests.ListSignOffRequirements(ctx, requestID)
}

// Record stores an approval or rejection for a requirement. Only
// members of the workspace's recipient org may sign, and only while the
// workspace is active.
func (s *Service) Record(ctx context.Context, actor identity.Actor, workspaceID, requirementID string, decision workspace.SignOffDecision, notes string) (workspace.SignOffEvent, error) {
	ws, err := s.workspaces.GetWorkspace(ctx, workspaceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return workspace.SignOffEvent{}, apperrors.NotFound("workspace", workspaceID).WithCause(err)
		}
		return workspace.SignOffEvent{}, err
	}
	if !actor.BelongsTo(ws.RecipientOrgID) {
		return workspace.SignOffEvent{}, apperrors.Forbidden("sign-off on workspace %s is restricted to the recipient organization", workspaceID)
	}
	if decision != workspace.SignOffApproved && decision != workspace.SignOffRejected {
		return workspace.SignOffEvent{}, apperrors.InvalidInput("decision must be approved or rejected")
	}
	if requirementID != "" {
		if _, err := s.findRequirement(ctx, ws.RequestID, requirementID); err != nil {
			return workspace.SignOffEvent{}, err
		}
	}

	ev, err := s.workspaces.CreateSignOffEvent(ctx, workspace.SignOffEvent{
		WorkspaceID:    workspaceID,
		RequirementID:  requirementID,
		SignedByUserID: actor.UserID,
		Status:         decision,
		Notes:          notes,
	})
	if err != nil {
		if errors.Is(err, storage.ErrWorkspaceLocked) {
			return workspace.SignOffEvent{}, apperrors.WorkspaceLocked(workspaceID)
		}
		return workspace.SignOffEvent{}, err
	}

	s.recorder.Record(ctx, audit.Event{
		RequestID:   ws.RequestID,
		WorkspaceID: workspaceID,
		EventType:   audit.EventSignOffRecorded,
		ActorUserID: actor.UserID,
		ActorOrgID:  ws.RecipientOrgID,
		TargetType:  "sign_off_event",
		TargetID:    ev.ID,
		Details:     map[string]interface{}{"decision": string(decision), "requirement_id": requirementID},
	})
	return ev, nil
}

// ListEvents returns the workspace's sign-off history.
func (s *Service) ListEvents(ctx context.Context, workspaceID string) ([]workspace.SignOffEvent, error) {
	return s.workspaces.ListSignOffEvents(ctx, workspaceID)
}

// Check computes the gate verdict fresh from stored events. A
// requirement is satisfied when at least its quorum of distinct users
// have approved it; with BlockOnReject set, any rejection fails the
// requirement regardless of approvals. No caching: sealing depends on
// this reflecting the latest events.
func (s *Service) Check(ctx context.Context, ws workspace.Workspace) (Verdict, error) {
	reqs, err := s.requests.ListSignOffRequirements(ctx, ws.RequestID)
	if err != nil {
		return Verdict{}, err
	}
	if len(reqs) == 0 {
		return Verdict{Satisfied: true}, nil
	}

	events, err := s.workspaces.ListSignOffEvents(ctx, ws.ID)
	if err != nil {
		return Verdict{}, err
	}

	approvers := make(map[string]map[string]bool, len(reqs))
	rejected := make(map[string]bool)
	for _, ev := range events {
		switch ev.Status {
		case workspace.SignOffApproved:
			set := approvers[ev.RequirementID]
			if set == nil {
				set = make(map[string]bool)
				approvers[ev.RequirementID] = set
			}
			set[ev.SignedByUserID] = true
		case workspace.SignOffRejected:
			rejected[ev.RequirementID] = true
		}
	}

	verdict := Verdict{Satisfied: true}
	for _, req := range reqs {
		label := fmt.Sprintf("%s (%s)", req.ID, req.Role)
		if req.BlockOnReject && rejected[req.ID] {
			verdict.Satisfied = false
			verdict.Rejected = append(verdict.Rejected, label)
			continue
		}
		if len(approvers[req.ID]) < req.Quorum {
			verdict.Satisfied = false
			verdict.Unsatisfied = append(verdict.Unsatisfied, label)
		}
	}
	return verdict, nil
}

func (s *Service) findRequirement(ctx context.Context, requestID, requirementID string) (request.SignOffRequirement, error) {
	reqs, err := s.requests.ListSignOffRequirements(ctx, requestID)
	if err != nil {
		return request.SignOffRequirement{}, err
	}
	for _, r := range reqs {
		if r.ID == requirementID {
			return r, nil
		}
	}
	return request.SignOffRequirement{}, apperrors.NotFound("sign-off requirement", requirementID)
}
