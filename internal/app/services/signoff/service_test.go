package signoff

import (
	"context"
	"testing"
	"time"

	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/identity"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/request"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/submission"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/workspace"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/services/auditlog"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/storage"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/storage/memory"
	apperrors "github.com/kaykluz/kiisha-dev-sub002/internal/errors"
)

var (
	issuer = identity.Actor{UserID: "user-i", OrgIDs: []string{"org-issuer"}}
	signer = identity.Actor{UserID: "user-s1", OrgIDs: []string{"org-recipient"}}
)

type fixture struct {
	store *memory.Store
	svc   *Service
	req   request.Request
	ws    workspace.Workspace
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	req, err := store.CreateRequest(ctx, request.Request{
		IssuerOrgID: "org-issuer", IssuerUserID: "user-i", Title: "DD", Status: request.StatusDraft,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	ws, err := store.CreateWorkspace(ctx, workspace.Workspace{
		RequestID: req.ID, RecipientOrgID: "org-recipient", CreatedByUserID: "user-s1",
	})
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}

	return &fixture{
		store: store,
		svc:   New(store, store, auditlog.New(store, store, nil), nil),
		req:   req,
		ws:    ws,
	}
}

func TestDefineRequirementOnlyOnDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.DefineRequirement(ctx, issuer, f.req.ID, "engineering", 0, false)
	if err != nil {
		t.Fatalf("define: %v", err)
	}
	if req.Quorum != 1 {
		t.Fatalf("expected quorum floor of 1, got %d", req.Quorum)
	}

	outsider := identity.Actor{UserID: "x", OrgIDs: []string{"org-x"}}
	if _, err := f.svc.DefineRequirement(ctx, outsider, f.req.ID, "legal", 1, false); !apperrors.Is(err, apperrors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	// Requirements freeze on issue.
	issued := f.req
	issued.Status = request.StatusIssued
	if _, err := f.store.UpdateRequest(ctx, issued); err != nil {
		t.Fatalf("issue request: %v", err)
	}
	if _, err := f.svc.DefineRequirement(ctx, issuer, f.req.ID, "legal", 1, false); !apperrors.Is(err, apperrors.CodeConflict) {
		t.Fatalf("expected conflict after issue, got %v", err)
	}
}

func TestRecordValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Record(ctx, issuer, f.ws.ID, "", workspace.SignOffApproved, "")
	if !apperrors.Is(err, apperrors.CodeForbidden) {
		t.Fatalf("expected forbidden for non-recipient, got %v", err)
	}

	_, err = f.svc.Record(ctx, signer, f.ws.ID, "", "maybe", "")
	if !apperrors.Is(err, apperrors.CodeInvalidInput) {
		t.Fatalf("expected invalid input for bogus decision, got %v", err)
	}

	_, err = f.svc.Record(ctx, signer, f.ws.ID, "no-such-req", workspace.SignOffApproved, "")
	if !apperrors.Is(err, apperrors.CodeNotFound) {
		t.Fatalf("expected not found for unknown requirement, got %v", err)
	}

	if _, err := f.svc.Record(ctx, signer, f.ws.ID, "", workspace.SignOffApproved, "lgtm"); err != nil {
		t.Fatalf("record: %v", err)
	}
}

func TestCheckQuorumNeedsDistinctApprovers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.DefineRequirement(ctx, issuer, f.req.ID, "engineering", 2, false)
	if err != nil {
		t.Fatalf("define: %v", err)
	}

	verdict, err := f.svc.Check(ctx, f.ws)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if verdict.Satisfied || len(verdict.Unsatisfied) != 1 {
		t.Fatalf("expected unsatisfied verdict: %+v", verdict)
	}

	// The same user approving twice counts once.
	for i := 0; i < 2; i++ {
		if _, err := f.svc.Record(ctx, signer, f.ws.ID, req.ID, workspace.SignOffApproved, ""); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	verdict, _ = f.svc.Check(ctx, f.ws)
	if verdict.Satisfied {
		t.Fatalf("expected quorum of 2 to need a second user")
	}

	second := identity.Actor{UserID: "user-s2", OrgIDs: []string{"org-recipient"}}
	if _, err := f.svc.Record(ctx, second, f.ws.ID, req.ID, workspace.SignOffApproved, ""); err != nil {
		t.Fatalf("record second: %v", err)
	}
	verdict, _ = f.svc.Check(ctx, f.ws)
	if !verdict.Satisfied {
		t.Fatalf("expected satisfied verdict: %+v", verdict)
	}
}

func TestCheckBlockOnReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.DefineRequirement(ctx, issuer, f.req.ID, "legal", 1, true)
	if err != nil {
		t.Fatalf("define: %v", err)
	}

	if _, err := f.svc.Record(ctx, signer, f.ws.ID, req.ID, workspace.SignOffApproved, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	second := identity.Actor{UserID: "user-s2", OrgIDs: []string{"org-recipient"}}
	if _, err := f.svc.Record(ctx, second, f.ws.ID, req.ID, workspace.SignOffRejected, "missing annex"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	// A rejection blocks even though the quorum of approvals is met.
	verdict, err := f.svc.Check(ctx, f.ws)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if verdict.Satisfied || len(verdict.Rejected) != 1 {
		t.Fatalf("expected rejected verdict: %+v", verdict)
	}
}

func TestCheckWithoutRequirementsIsSatisfied(t *testing.T) {
	f := newFixture(t)

	verdict, err := f.svc.Check(context.Background(), f.ws)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !verdict.Satisfied {
		t.Fatalf("expected satisfied verdict with no requirements")
	}
}

func TestRecordOnLockedWorkspaceRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	now := time.Now().UTC()
	_, err := f.store.SealWorkspace(ctx, storage.Seal{
		Submission: submission.Submission{
			WorkspaceID:    f.ws.ID,
			RequestID:      f.req.ID,
			RecipientOrgID: f.ws.RecipientOrgID,
			SnapshotID:     "snap-1",
			GrantID:        "grant-1",
			SubmittedAt:    now,
		},
		Grant: submission.AccessGrant{
			ID: "grant-1", GranteeOrgID: "org-issuer", Scope: submission.ScopeRead,
		},
		RecipientStatus: request.RecipientSubmitted,
	})
	if err != nil {
		t.Fatalf("seal workspace: %v", err)
	}

	_, err = f.svc.Record(ctx, signer, f.ws.ID, "", workspace.SignOffApproved, "")
	if !apperrors.Is(err, apperrors.CodeWorkspaceLocked) {
		t.Fatalf("expected workspace locked, got %v", err)
	}
}
