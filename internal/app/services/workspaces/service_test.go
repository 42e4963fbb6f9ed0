package workspaces

import (
	"context"
	"testing"

	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/identity"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/request"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/schema"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/template"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/services/auditlog"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/services/schemas"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/storage/memory"
	apperrors "github.com/kaykluz/kiisha-dev-sub002/internal/errors"
)

var (
	issuer    = identity.Actor{UserID: "user-i", OrgIDs: []string{"org-issuer"}}
	recipient = identity.Actor{UserID: "user-r", OrgIDs: []string{"org-recipient"}}
)

type fixture struct {
	store *memory.Store
	svc   *Service
	reqID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	tpl, err := store.CreateTemplate(ctx, template.Template{IssuerOrgID: "org-issuer", Name: "Solar DD", Status: template.StatusActive})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}

	schemaSvc := schemas.New(store, store, nil)
	sc, err := schemaSvc.CreateDraft(ctx, issuer, tpl.ID, []schema.Item{
		{Key: "capacity_mw", Required: true, DataType: "number",
			Verification: schema.VerifyAutoIfSourceVerified, VATRPathHints: []string{"$.nameplate.capacity_mw"}},
		{Key: "operator_name", Required: true, DataType: "string"},
		{Key: "grid_connected", DataType: "boolean",
			Verification: schema.VerifyAutoIfSourceVerified, VATRPathHints: []string{"$.grid.connected"}},
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
		SchemaID: sc.ID, Title: "Solar DD 2026", Status: request.StatusIssued,
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
	return &fixture{
		store: store,
		svc:   New(store, store, schemaSvc, nil, recorder, nil),
		reqID: req.ID,
	}
}

func TestCreateOrGetIsIdempotentAndScoped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ws, err := f.svc.CreateOrGet(ctx, recipient, f.reqID)
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}

	again, err := f.svc.CreateOrGet(ctx, recipient, f.reqID)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if again.ID != ws.ID {
		t.Fatalf("expected same workspace, got %s and %s", ws.ID, again.ID)
	}

	// Non-recipients have no workspace on this request.
	outsider := identity.Actor{UserID: "user-x", OrgIDs: []string{"org-x"}}
	if _, err := f.svc.CreateOrGet(ctx, outsider, f.reqID); !apperrors.Is(err, apperrors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	// First interaction advances the recipient to opened.
	rec, err := f.store.GetRecipientByOrg(ctx, f.reqID, "org-recipient")
	if err != nil {
		t.Fatalf("get recipient: %v", err)
	}
	if rec.Status != request.RecipientOpened {
		t.Fatalf("expected opened recipient, got %s", rec.Status)
	}
}

func TestSaveAnswerValidatesAgainstSchema(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ws, _ := f.svc.CreateOrGet(ctx, recipient, f.reqID)

	if _, err := f.svc.SaveAnswer(ctx, recipient, ws.ID, SaveAnswerInput{
		RequirementKey: "capacity_mw", ValueJSON: `42.5`,
	}); err != nil {
		t.Fatalf("save answer: %v", err)
	}

	_, err := f.svc.SaveAnswer(ctx, recipient, ws.ID, SaveAnswerInput{
		RequirementKey: "unknown_key", ValueJSON: `1`,
	})
	if !apperrors.Is(err, apperrors.CodeInvalidInput) {
		t.Fatalf("expected invalid input for unknown key, got %v", err)
	}

	_, err = f.svc.SaveAnswer(ctx, recipient, ws.ID, SaveAnswerInput{
		RequirementKey: "interconnect_doc", ValueJSON: `"x"`,
	})
	if !apperrors.Is(err, apperrors.CodeInvalidInput) {
		t.Fatalf("expected invalid input for document item, got %v", err)
	}

	_, err = f.svc.SaveAnswer(ctx, recipient, ws.ID, SaveAnswerInput{
		RequirementKey: "capacity_mw", ValueJSON: `{"broken`,
	})
	if !apperrors.Is(err, apperrors.CodeInvalidInput) {
		t.Fatalf("expected invalid input for malformed JSON, got %v", err)
	}

	// Content mutations advance the recipient to responding.
	rec, _ := f.store.GetRecipientByOrg(ctx, f.reqID, "org-recipient")
	if rec.Status != request.RecipientResponding {
		t.Fatalf("expected responding recipient, got %s", rec.Status)
	}
}

func TestUploadDocumentStoresBytesAndHash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ws, _ := f.svc.CreateOrGet(ctx, recipient, f.reqID)

	doc, err := f.svc.UploadDocument(ctx, recipient, ws.ID, "interconnect_doc", "agreement.pdf", []byte("pdf-bytes"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if doc.FileURL == "" || doc.ContentHash == "" {
		t.Fatalf("expected stored url and hash: %+v", doc)
	}

	// A field item cannot take a document.
	_, err = f.svc.UploadDocument(ctx, recipient, ws.ID, "capacity_mw", "x.pdf", []byte("y"))
	if !apperrors.Is(err, apperrors.CodeInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}

	// Unkeyed supporting documents are allowed.
	if _, err := f.svc.UploadDocument(ctx, recipient, ws.ID, "", "extra.pdf", []byte("z")); err != nil {
		t.Fatalf("unkeyed upload: %v", err)
	}
}

func TestValidateReportsMissingAndInconsistent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ws, _ := f.svc.CreateOrGet(ctx, recipient, f.reqID)

	report, err := f.svc.Validate(ctx, recipient, ws.ID)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if report.IsComplete {
		t.Fatalf("expected incomplete empty workspace")
	}
	if len(report.MissingFields) != 2 || len(report.MissingDocs) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}

	// A wrongly-typed answer is an inconsistency, not a missing field.
	if _, err := f.svc.SaveAnswer(ctx, recipient, ws.ID, SaveAnswerInput{
		RequirementKey: "capacity_mw", ValueJSON: `"forty-two"`,
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	report, _ = f.svc.Validate(ctx, recipient, ws.ID)
	if len(report.MissingFields) != 1 || len(report.Inconsistencies) != 1 {
		t.Fatalf("unexpected report after typed answer: %+v", report)
	}

	// Complete the workspace.
	if _, err := f.svc.SaveAnswer(ctx, recipient, ws.ID, SaveAnswerInput{
		RequirementKey: "capacity_mw", ValueJSON: `42.5`,
	}); err != nil {
		t.Fatalf("fix answer: %v", err)
	}
	if _, err := f.svc.SaveAnswer(ctx, recipient, ws.ID, SaveAnswerInput{
		RequirementKey: "operator_name", ValueJSON: `"Solaris GmbH"`,
	}); err != nil {
		t.Fatalf("save operator: %v", err)
	}
	if _, err := f.svc.UploadDocument(ctx, recipient, ws.ID, "interconnect_doc", "agreement.pdf", []byte("pdf")); err != nil {
		t.Fatalf("upload: %v", err)
	}

	report, _ = f.svc.Validate(ctx, recipient, ws.ID)
	if !report.IsComplete {
		t.Fatalf("expected complete workspace: %+v", report)
	}
}

func TestAssetLinkLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ws, _ := f.svc.CreateOrGet(ctx, recipient, f.reqID)

	_, err := f.svc.AddAsset(ctx, recipient, ws.ID, "", "", "")
	if !apperrors.Is(err, apperrors.CodeInvalidInput) {
		t.Fatalf("expected invalid input for empty asset id, got %v", err)
	}

	_, err = f.svc.AddAsset(ctx, recipient, ws.ID, "asset-1", "Plant A", `{broken`)
	if !apperrors.Is(err, apperrors.CodeInvalidInput) {
		t.Fatalf("expected invalid input for malformed record, got %v", err)
	}

	link, err := f.svc.AddAsset(ctx, recipient, ws.ID, "asset-1", "Plant A", `{"nameplate":{"capacity_mw":42.5}}`)
	if err != nil {
		t.Fatalf("add asset: %v", err)
	}

	links, err := f.svc.ListAssets(ctx, recipient, ws.ID)
	if err != nil {
		t.Fatalf("list assets: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("expected one link, got %d", len(links))
	}

	if err := f.svc.RemoveAsset(ctx, recipient, ws.ID, link.ID); err != nil {
		t.Fatalf("remove asset: %v", err)
	}
	links, _ = f.svc.ListAssets(ctx, recipient, ws.ID)
	if len(links) != 0 {
		t.Fatalf("expected no links after removal")
	}
}

func TestSuggestionsSkipHumanRequiredAndAnswered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ws, _ := f.svc.CreateOrGet(ctx, recipient, f.reqID)

	link, err := f.svc.AddAsset(ctx, recipient, ws.ID, "asset-1", "Plant A",
		`{"nameplate":{"capacity_mw":42.5},"grid":{"connected":true},"operator":"Solaris"}`)
	if err != nil {
		t.Fatalf("add asset: %v", err)
	}

	suggestions, err := f.svc.SuggestAnswers(ctx, recipient, ws.ID, link.ID)
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	// operator_name requires human verification and interconnect_doc is a
	// document, so only the two auto-fillable fields may be proposed.
	if len(suggestions) != 2 {
		t.Fatalf("expected 2 suggestions, got %+v", suggestions)
	}
	byKey := make(map[string]Suggestion, len(suggestions))
	for _, sg := range suggestions {
		byKey[sg.RequirementKey] = sg
	}
	if byKey["capacity_mw"].ValueJSON != `42.5` || byKey["capacity_mw"].AssetID != "asset-1" {
		t.Fatalf("unexpected capacity suggestion: %+v", byKey["capacity_mw"])
	}
	if byKey["grid_connected"].ValueJSON != `true` {
		t.Fatalf("unexpected grid suggestion: %+v", byKey["grid_connected"])
	}

	// Applying a suggestion records provenance and answers the item.
	ans, err := f.svc.ApplySuggestion(ctx, recipient, ws.ID, byKey["capacity_mw"])
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if ans.VATRSourcePath != "$.nameplate.capacity_mw" || ans.AssetID != "asset-1" {
		t.Fatalf("expected provenance on answer: %+v", ans)
	}

	// Answered items drop out of the next suggestion round.
	suggestions, _ = f.svc.SuggestAnswers(ctx, recipient, ws.ID, link.ID)
	if len(suggestions) != 1 || suggestions[0].RequirementKey != "grid_connected" {
		t.Fatalf("expected only grid_connected remaining, got %+v", suggestions)
	}
}
