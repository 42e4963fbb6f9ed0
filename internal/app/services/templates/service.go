// Package templates manages request templates owned by issuing
// organizations.
package templates

import (
	"context"
	"errors"

	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/identity"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/template"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/storage"
	apperrors "github.com/kaykluz/kiisha-dev-sub002/internal/errors"
	"github.com/kaykluz/kiisha-dev-sub002/pkg/logger"
)

// Service manages template lifecycle.
type Service struct {
	store storage.TemplateStore
	log   *logger.Logger
}

// New constructs a template service.
func New(store storage.TemplateStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("templates")
	}
	return &Service{store: store, log: log}
}

// Create registers a draft template owned by the actor's organization.
func (s *Service) Create(ctx context.Context, actor identity.Actor, name, category string) (template.Template, error) {
	org := actor.PrimaryOrg()
	if org == "" {
		return template.Template{}, apperrors.Forbidden("template creation requires an organization membership")
	}
	if name == "" {
		return template.Template{}, apperrors.InvalidInput("template name is required")
	}

	created, err := s.store.CreateTemplate(ctx, template.Template{
		IssuerOrgID: org,
		Name:        name,
		Category:    category,
		Status:      template.StatusDraft,
	})
	if err != nil {
		return template.Template{}, err
	}
	s.log.Infof("template %s created by org %s", created.ID, org)
	return created, nil
}

// Activate makes a template usable for issuing requests.
func (s *Service) Activate(ctx context.Context, actor identity.Actor, id string) (template.Template, error) {
	return s.setStatus(ctx, actor, id, template.StatusActive)
}

// Archive retires a template. Existing requests keep referencing it.
func (s *Service) Archive(ctx context.Context, actor identity.Actor, id string) (template.Template, error) {
	return s.setStatus(ctx, actor, id, template.StatusArchived)
}

func (s *Service) setStatus(ctx context.Context, actor identity.Actor, id string, status template.Status) (template.Template, error) {
	tpl, err := s.Get(ctx, id)
	if err != nil {
		return template.Template{}, err
	}
	if !actor.BelongsTo(tpl.IssuerOrgID) {
		return template.Template{}, apperrors.Forbidden("template %s belongs to another organization", id)
	}
	if tpl.Status == status {
		return tpl, nil
	}
	if tpl.Status == template.StatusArchived {
		return template.Template{}, apperrors.Conflict("template %s is archived", id)
	}

	tpl.Status = status
	return s.store.UpdateTemplate(ctx, tpl)
}

// Get retrieves a template by id.
func (s *Service) Get(ctx context.Context, id string) (template.Template, error) {
	tpl, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return template.Template{}, apperrors.NotFound("template", id).WithCause(err)
		}
		return template.Template{}, err
	}
	return tpl, nil
}

// List returns the actor's organization's templates.
func (s *Service) List(ctx context.Context, actor identity.Actor) ([]template.Template, error) {
	org := actor.PrimaryOrg()
	if org == "" {
		return nil, apperrors.Forbidden("listing templates requires an organization membership")
	}
	return s.store.ListTemplates(ctx, org)
}
