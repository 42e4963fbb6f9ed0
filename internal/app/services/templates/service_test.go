package templates

import (
	"context"
	"testing"

	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/identity"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/template"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/storage/memory"
	apperrors "github.com/kaykluz/kiisha-dev-sub002/internal/errors"
)

var issuer = identity.Actor{UserID: "user-1", OrgIDs: []string{"org-issuer"}}

func TestCreateActivateArchive(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	tpl, err := svc.Create(ctx, issuer, "Solar DD Questionnaire", "solar")
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	if tpl.Status != template.StatusDraft || tpl.IssuerOrgID != "org-issuer" {
		t.Fatalf("unexpected template: %+v", tpl)
	}

	tpl, err = svc.Activate(ctx, issuer, tpl.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if tpl.Status != template.StatusActive {
		t.Fatalf("expected active, got %s", tpl.Status)
	}

	tpl, err = svc.Archive(ctx, issuer, tpl.ID)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if tpl.Status != template.StatusArchived {
		t.Fatalf("expected archived, got %s", tpl.Status)
	}

	// Archived is terminal.
	if _, err := svc.Activate(ctx, issuer, tpl.ID); err == nil {
		t.Fatalf("expected error reactivating archived template")
	}
}

func TestCreateRequiresOrgAndName(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, identity.Actor{UserID: "drifter"}, "name", "")
	if !apperrors.Is(err, apperrors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	_, err = svc.Create(ctx, issuer, "", "")
	if !apperrors.Is(err, apperrors.CodeInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestForeignOrgCannotMutate(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	tpl, err := svc.Create(ctx, issuer, "Wind DD", "wind")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	outsider := identity.Actor{UserID: "user-2", OrgIDs: []string{"org-other"}}
	_, err = svc.Activate(ctx, outsider, tpl.ID)
	if !apperrors.Is(err, apperrors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestListScopedToOrg(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	if _, err := svc.Create(ctx, issuer, "Mine", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	other := identity.Actor{UserID: "user-2", OrgIDs: []string{"org-other"}}
	if _, err := svc.Create(ctx, other, "Theirs", ""); err != nil {
		t.Fatalf("create other: %v", err)
	}

	list, err := svc.List(ctx, issuer)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Name != "Mine" {
		t.Fatalf("unexpected list: %+v", list)
	}
}
