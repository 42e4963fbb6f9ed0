package submissions

import (
	"context"
	"sync"
	"testing"

	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/identity"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/request"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/schema"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/submission"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/template"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/workspace"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/notify"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/services/auditlog"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/services/schemas"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/services/signoff"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/services/workspaces"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/storage"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/storage/memory"
	apperrors "github.com/kaykluz/kiisha-dev-sub002/internal/errors"
)

var (
	issuer    = identity.Actor{UserID: "user-i", OrgIDs: []string{"org-issuer"}}
	recipient = identity.Actor{UserID: "user-r", OrgIDs: []string{"org-recipient"}}
	outsider  = identity.Actor{UserID: "user-x", OrgIDs: []string{"org-x"}}
)

type captureNotifier struct {
	mu       sync.Mutex
	targets  []string
	messages []notify.Message
}

func (n *captureNotifier) Notify(_ context.Context, recipients []string, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.targets = append(n.targets, recipients...)
	n.messages = append(n.messages, msg)
	return nil
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

type fixture struct {
	store    *memory.Store
	svc      *Service
	wsSvc    *workspaces.Service
	gate     *signoff.Service
	notifier *captureNotifier
	reqID    string
}

// newFixture builds an issued request with a published two-item schema
// and one invited recipient. requireSignOff defines a single blocking
// requirement before the request is issued.
func newFixture(t *testing.T, requireSignOff bool) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	tpl, err := store.CreateTemplate(ctx, template.Template{IssuerOrgID: "org-issuer", Name: "Wind DD", Status: template.StatusActive})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}

	schemaSvc := schemas.New(store, store, nil)
	sc, err := schemaSvc.CreateDraft(ctx, issuer, tpl.ID, []schema.Item{
		{Key: "capacity_mw", Required: true, DataType: "number"},
		{Key: "interconnect_doc", Type: schema.ItemDocument, Required: true},
	})
	if err != nil {
		t.Fatalf("create schema: %v", err)
	}
	if _, err := schemaSvc.Publish(ctx, issuer, sc.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}

	req, err := store.CreateRequest(ctx, request.Request{
		TemplateID: tpl.ID, IssuerOrgID: "org-issuer", IssuerUserID: "user-i",
		SchemaID: sc.ID, Title: "Wind DD 2026", Status: request.StatusDraft,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if _, err := store.CreateRecipient(ctx, request.Recipient{
		RequestID: req.ID, OrgID: "org-recipient", Status: request.RecipientInvited,
	}); err != nil {
		t.Fatalf("create recipient: %v", err)
	}

	recorder := auditlog.New(store, store, nil)
	gate := signoff.New(store, store, recorder, nil)
	if requireSignOff {
		if _, err := gate.DefineRequirement(ctx, issuer, req.ID, "Engineering Lead", 1, true); err != nil {
			t.Fatalf("define requirement: %v", err)
		}
	}
	req.Status = request.StatusIssued
	if _, err := store.UpdateRequest(ctx, req); err != nil {
		t.Fatalf("issue request: %v", err)
	}

	wsSvc := workspaces.New(store, store, schemaSvc, nil, recorder, nil)
	notifier := &captureNotifier{}
	return &fixture{
		store:    store,
		svc:      New(store, store, wsSvc, gate, recorder, notifier, nil),
		wsSvc:    wsSvc,
		gate:     gate,
		notifier: notifier,
		reqID:    req.ID,
	}
}

// completeWorkspace answers every required item and attaches the
// required document, leaving the workspace ready to seal.
func completeWorkspace(t *testing.T, f *fixture) workspace.Workspace {
	t.Helper()
	ctx := context.Background()
	ws, err := f.wsSvc.CreateOrGet(ctx, recipient, f.reqID)
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	if _, err := f.wsSvc.SaveAnswer(ctx, recipient, ws.ID, workspaces.SaveAnswerInput{
		RequirementKey: "capacity_mw", ValueJSON: `84.2`,
	}); err != nil {
		t.Fatalf("save answer: %v", err)
	}
	if _, err := f.wsSvc.UploadDocument(ctx, recipient, ws.ID, "interconnect_doc", "agreement.pdf", []byte("pdf")); err != nil {
		t.Fatalf("upload: %v", err)
	}
	return ws
}

func TestSubmitSealsCompleteWorkspace(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	ws := completeWorkspace(t, f)

	sub, err := f.svc.Submit(ctx, recipient, ws.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.Status != submission.StatusSubmitted || sub.WorkspaceID != ws.ID {
		t.Fatalf("unexpected submission: %+v", sub)
	}
	if sub.SnapshotID == "" || sub.GrantID == "" {
		t.Fatalf("expected minted snapshot and grant ids: %+v", sub)
	}

	// The issuer reads through the grant minted at seal time.
	snap, err := f.svc.GetSnapshot(ctx, issuer, sub.ID)
	if err != nil {
		t.Fatalf("issuer snapshot read: %v", err)
	}
	if len(snap.Answers()) != 1 || snap.Answers()[0].RequirementKey != "capacity_mw" {
		t.Fatalf("unexpected snapshot answers: %+v", snap.Answers())
	}
	if len(snap.Documents()) != 1 {
		t.Fatalf("unexpected snapshot documents: %+v", snap.Documents())
	}

	// The sealed workspace rejects further edits.
	_, err = f.wsSvc.SaveAnswer(ctx, recipient, ws.ID, workspaces.SaveAnswerInput{
		RequirementKey: "capacity_mw", ValueJSON: `1`,
	})
	if !apperrors.Is(err, apperrors.CodeWorkspaceLocked) {
		t.Fatalf("expected workspace locked, got %v", err)
	}

	rec, err := f.store.GetRecipientByOrg(ctx, f.reqID, "org-recipient")
	if err != nil {
		t.Fatalf("get recipient: %v", err)
	}
	if rec.Status != request.RecipientSubmitted {
		t.Fatalf("expected submitted recipient, got %s", rec.Status)
	}

	if f.notifier.count() != 1 || f.notifier.targets[0] != "user-i" {
		t.Fatalf("expected one issuer notification, got %+v", f.notifier.targets)
	}
}

func TestSubmitDuplicateRejected(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	ws := completeWorkspace(t, f)

	if _, err := f.svc.Submit(ctx, recipient, ws.ID); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := f.svc.Submit(ctx, recipient, ws.ID)
	if !apperrors.Is(err, apperrors.CodeDuplicateSubmission) {
		t.Fatalf("expected duplicate submission, got %v", err)
	}
}

// lateWriteStore sneaks a legal answer write in just before delegating
// the seal, imitating a client racing the submit while the workspace is
// still active.
type lateWriteStore struct {
	*memory.Store
}

func (s *lateWriteStore) SealWorkspace(ctx context.Context, seal storage.Seal) (submission.Submission, error) {
	if _, err := s.Store.UpsertAnswer(ctx, workspace.Answer{
		WorkspaceID: seal.Submission.WorkspaceID, RequirementKey: "capacity_mw", ValueJSON: `999.9`,
	}); err != nil {
		return submission.Submission{}, err
	}
	return s.Store.SealWorkspace(ctx, seal)
}

func TestSubmitSnapshotMatchesLockedWorkspace(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	ws := completeWorkspace(t, f)

	racing := &lateWriteStore{Store: f.store}
	svc := New(racing, f.store, f.wsSvc, f.gate, auditlog.New(f.store, f.store, nil), f.notifier, nil)

	sub, err := svc.Submit(ctx, recipient, ws.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	snap, err := svc.GetSnapshot(ctx, issuer, sub.ID)
	if err != nil {
		t.Fatalf("snapshot read: %v", err)
	}
	locked, err := f.store.ListAnswers(ctx, ws.ID)
	if err != nil {
		t.Fatalf("list answers: %v", err)
	}

	// Every answer the locked workspace holds must be in the snapshot,
	// including the one accepted between preflight and seal.
	if len(snap.Answers()) != len(locked) {
		t.Fatalf("snapshot has %d answers, locked workspace has %d", len(snap.Answers()), len(locked))
	}
	byKey := make(map[string]string, len(snap.Answers()))
	for _, ans := range snap.Answers() {
		byKey[ans.RequirementKey] = ans.ValueJSON
	}
	for _, ans := range locked {
		if byKey[ans.RequirementKey] != ans.ValueJSON {
			t.Fatalf("locked workspace answer %q=%q but snapshot has %q",
				ans.RequirementKey, ans.ValueJSON, byKey[ans.RequirementKey])
		}
	}
	if byKey["capacity_mw"] != `999.9` {
		t.Fatalf("expected the late write in the snapshot, got %q", byKey["capacity_mw"])
	}
}

func TestSubmitIncompleteRejected(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	ws, err := f.wsSvc.CreateOrGet(ctx, recipient, f.reqID)
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}

	_, err = f.svc.Submit(ctx, recipient, ws.ID)
	if !apperrors.Is(err, apperrors.CodeIncompleteSubmission) {
		t.Fatalf("expected incomplete submission, got %v", err)
	}
}

func TestSubmitBlockedUntilSignOff(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	ws := completeWorkspace(t, f)

	_, err := f.svc.Submit(ctx, recipient, ws.ID)
	if !apperrors.Is(err, apperrors.CodeSignOffIncomplete) {
		t.Fatalf("expected sign-off incomplete, got %v", err)
	}

	reqs, err := f.gate.ListRequirements(ctx, f.reqID)
	if err != nil || len(reqs) != 1 {
		t.Fatalf("list requirements: %v %+v", err, reqs)
	}
	if _, err := f.gate.Record(ctx, recipient, ws.ID, reqs[0].ID, workspace.SignOffApproved, "reviewed"); err != nil {
		t.Fatalf("record approval: %v", err)
	}

	if _, err := f.svc.Submit(ctx, recipient, ws.ID); err != nil {
		t.Fatalf("submit after approval: %v", err)
	}
}

func TestReviewIsIssuerOnlyAndLeavesSealIntact(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	ws := completeWorkspace(t, f)
	sub, err := f.svc.Submit(ctx, recipient, ws.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err = f.svc.Review(ctx, recipient, sub.ID, submission.StatusAccepted, "")
	if !apperrors.Is(err, apperrors.CodeForbidden) {
		t.Fatalf("expected forbidden for recipient review, got %v", err)
	}

	_, err = f.svc.Review(ctx, issuer, sub.ID, submission.Status("shredded"), "")
	if !apperrors.Is(err, apperrors.CodeInvalidInput) {
		t.Fatalf("expected invalid review status, got %v", err)
	}

	reviewed, err := f.svc.Review(ctx, issuer, sub.ID, submission.StatusNeedsClarification, "capacity source unclear")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if reviewed.Status != submission.StatusNeedsClarification || reviewed.ReviewedAt == nil {
		t.Fatalf("unexpected review result: %+v", reviewed)
	}
	if reviewed.ReviewedByUserID != "user-i" || reviewed.ReviewNotes != "capacity source unclear" {
		t.Fatalf("unexpected review metadata: %+v", reviewed)
	}
	if reviewed.WorkspaceID != ws.ID || reviewed.SnapshotID != sub.SnapshotID {
		t.Fatalf("review must not touch sealed identity: %+v", reviewed)
	}

	// Seal notified the issuer, review notified the submitter.
	if f.notifier.count() != 2 || f.notifier.targets[1] != "user-r" {
		t.Fatalf("expected review notification to submitter, got %+v", f.notifier.targets)
	}
}

func TestRevokeGrantCutsIssuerAccess(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	ws := completeWorkspace(t, f)
	sub, err := f.svc.Submit(ctx, recipient, ws.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := f.svc.Get(ctx, issuer, sub.ID); err != nil {
		t.Fatalf("issuer access before revocation: %v", err)
	}

	// Only the submitting organization may revoke.
	_, err = f.svc.RevokeGrant(ctx, issuer, sub.ID)
	if !apperrors.Is(err, apperrors.CodeForbidden) {
		t.Fatalf("expected forbidden for issuer revoke, got %v", err)
	}

	if _, err := f.svc.RevokeGrant(ctx, recipient, sub.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	_, err = f.svc.Get(ctx, issuer, sub.ID)
	if !apperrors.Is(err, apperrors.CodeForbidden) {
		t.Fatalf("expected forbidden after revocation, got %v", err)
	}

	// The owner keeps access regardless of grants.
	if _, err := f.svc.Get(ctx, recipient, sub.ID); err != nil {
		t.Fatalf("owner access after revocation: %v", err)
	}
	_, err = f.svc.Get(ctx, outsider, sub.ID)
	if !apperrors.Is(err, apperrors.CodeForbidden) {
		t.Fatalf("expected forbidden for outsider, got %v", err)
	}
}

func TestListByRequestRestrictedToIssuer(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	ws := completeWorkspace(t, f)
	if _, err := f.svc.Submit(ctx, recipient, ws.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	subs, err := f.svc.ListByRequest(ctx, issuer, f.reqID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("expected one submission, got %d", len(subs))
	}

	_, err = f.svc.ListByRequest(ctx, recipient, f.reqID)
	if !apperrors.Is(err, apperrors.CodeForbidden) {
		t.Fatalf("expected forbidden for recipient listing, got %v", err)
	}
}

func TestResolverDecidesOwnerAndGrantPaths(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	ws := completeWorkspace(t, f)
	sub, err := f.svc.Submit(ctx, recipient, ws.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	resolver := f.svc.AccessResolver()
	owner, err := resolver.CanAccessSubmission(ctx, recipient, sub)
	if err != nil || !owner.CanAccess || owner.AccessType != submission.AccessOwner {
		t.Fatalf("unexpected owner decision: %+v %v", owner, err)
	}
	granted, err := resolver.CanAccessSubmission(ctx, issuer, sub)
	if err != nil || !granted.CanAccess || granted.AccessType != submission.AccessGranted {
		t.Fatalf("unexpected grantee decision: %+v %v", granted, err)
	}
	none, err := resolver.CanAccessSubmission(ctx, outsider, sub)
	if err != nil || none.CanAccess {
		t.Fatalf("unexpected outsider decision: %+v %v", none, err)
	}
}
