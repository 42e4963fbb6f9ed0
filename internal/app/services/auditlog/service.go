// Package auditlog records and serves the append-only event ledger.
package auditlog

import (
	"context"

	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/audit"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/identity"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/storage"
	apperrors "github.com/kaykluz/kiisha-dev-sub002/internal/errors"
	"github.com/kaykluz/kiisha-dev-sub002/pkg/logger"
)

// Service appends workflow events and answers issuer-side ledger queries.
type Service struct {
	store    storage.AuditStore
	requests storage.RequestStore
	log      *logger.Logger
}

// New constructs the audit service.
func New(store storage.AuditStore, requests storage.RequestStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("auditlog")
	}
	return &Service{store: store, requests: requests, log: log}
}

// Record appends one event. Append failures are logged, not propagated:
// the ledger must never veto the transition it describes after the fact.
func (s *Service) Record(ctx context.Context, ev audit.Event) {
	if _, err := s.store.AppendEvent(ctx, ev); err != nil {
		s.log.WithError(err).WithField("event_type", ev.EventType).Warn("audit append failed")
	}
}

// ListByRequest returns the ledger for a request. Only issuer-org members
// may read it, so recipients cannot infer issuer-side review timing.
func (s *Service) ListByRequest(ctx context.Context, actor identity.Actor, requestID string) ([]audit.Event, error) {
	req, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, apperrors.NotFound("request", requestID).WithCause(err)
	}
	if !actor.BelongsTo(req.IssuerOrgID) {
		return nil, apperrors.Forbidden("audit log for request %s is restricted to the issuing organization", requestID)
	}
	return s.store.ListEventsByRequest(ctx, requestID)
}
