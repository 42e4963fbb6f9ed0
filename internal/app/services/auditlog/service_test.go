package auditlog

import (
	"context"
	"errors"
	"testing"

	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/audit"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/identity"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/request"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/storage/memory"
	apperrors "github.com/kaykluz/kiisha-dev-sub002/internal/errors"
)

var issuer = identity.Actor{UserID: "user-i", OrgIDs: []string{"org-issuer"}}

// failingAuditStore rejects every append.
type failingAuditStore struct{}

func (failingAuditStore) AppendEvent(context.Context, audit.Event) (audit.Event, error) {
	return audit.Event{}, errors.New("disk full")
}

func (failingAuditStore) ListEventsByRequest(context.Context, string) ([]audit.Event, error) {
	return nil, nil
}

func TestRecordSwallowsAppendFailures(t *testing.T) {
	svc := New(failingAuditStore{}, memory.New(), nil)
	// Record must not panic or surface the store error.
	svc.Record(context.Background(), audit.Event{EventType: audit.EventRequestIssued})
}

func TestListByRequestRestrictedToIssuerOrg(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := New(store, store, nil)

	req, err := store.CreateRequest(ctx, request.Request{
		IssuerOrgID: "org-issuer", IssuerUserID: "user-i",
		Title: "Solar DD", Status: request.StatusIssued,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	svc.Record(ctx, audit.Event{
		RequestID: req.ID, EventType: audit.EventRequestIssued,
		ActorUserID: "user-i", ActorOrgID: "org-issuer",
	})
	svc.Record(ctx, audit.Event{
		RequestID: req.ID, EventType: audit.EventRecipientInvited,
		ActorUserID: "user-i", ActorOrgID: "org-issuer",
	})

	events, err := svc.ListByRequest(ctx, issuer, req.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected two events, got %d", len(events))
	}
	if events[0].ID == "" || events[0].Timestamp.IsZero() {
		t.Fatalf("expected assigned id and timestamp: %+v", events[0])
	}

	recipient := identity.Actor{UserID: "user-r", OrgIDs: []string{"org-recipient"}}
	_, err = svc.ListByRequest(ctx, recipient, req.ID)
	if !apperrors.Is(err, apperrors.CodeForbidden) {
		t.Fatalf("expected forbidden for non-issuer, got %v", err)
	}

	_, err = svc.ListByRequest(ctx, issuer, "no-such-request")
	if !apperrors.Is(err, apperrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
