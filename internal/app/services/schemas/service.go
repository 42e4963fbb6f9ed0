// Package schemas manages versioned requirements schemas. Published
// versions are frozen; edits mint the next version in the chain.
package schemas

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/identity"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/schema"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/storage"
	apperrors "github.com/kaykluz/kiisha-dev-sub002/internal/errors"
	"github.com/kaykluz/kiisha-dev-sub002/pkg/logger"
)

// Service manages the schema version chain.
type Service struct {
	store     storage.SchemaStore
	templates storage.TemplateStore
	log       *logger.Logger
}

// New constructs a schema service.
func New(store storage.SchemaStore, templates storage.TemplateStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("schemas")
	}
	return &Service{store: store, templates: templates, log: log}
}

var validItemTypes = map[schema.ItemType]bool{
	schema.ItemField:       true,
	schema.ItemDocument:    true,
	schema.ItemComputed:    true,
	schema.ItemAttestation: true,
}

var validPolicies = map[schema.VerificationPolicy]bool{
	schema.VerifyHumanRequired:        true,
	schema.VerifyAutoIfSourceVerified: true,
	schema.VerifyIssuerMustVerify:     true,
}

func validateItems(items []schema.Item) ([]schema.Item, error) {
	seen := make(map[string]bool, len(items))
	out := make([]schema.Item, 0, len(items))
	for _, item := range items {
		if item.Key == "" {
			return nil, apperrors.InvalidInput("schema item key is required")
		}
		if seen[item.Key] {
			return nil, apperrors.InvalidInput("duplicate schema item key %q", item.Key)
		}
		seen[item.Key] = true
		if item.Type == "" {
			item.Type = schema.ItemField
		}
		if !validItemTypes[item.Type] {
			return nil, apperrors.InvalidInput("unknown item type %q for key %q", item.Type, item.Key)
		}
		if item.Verification == "" {
			item.Verification = schema.VerifyHumanRequired
		}
		if !validPolicies[item.Verification] {
			return nil, apperrors.InvalidInput("unknown verification policy %q for key %q", item.Verification, item.Key)
		}
		out = append(out, item)
	}
	return out, nil
}

// CreateDraft creates an unpublished schema version. When a template is
// given the new version continues that template's chain and the actor
// must belong to the owning organization.
func (s *Service) CreateDraft(ctx context.Context, actor identity.Actor, templateID string, items []schema.Item) (schema.Schema, error) {
	if actor.PrimaryOrg() == "" {
		return schema.Schema{}, apperrors.Forbidden("schema authoring requires an organization membership")
	}

	validated, err := validateItems(items)
	if err != nil {
		return schema.Schema{}, err
	}

	version := 1
	if templateID != "" {
		tpl, err := s.templates.GetTemplate(ctx, templateID)
		if err != nil {
			return schema.Schema{}, apperrors.NotFound("template", templateID).WithCause(err)
		}
		if !actor.BelongsTo(tpl.IssuerOrgID) {
			return schema.Schema{}, apperrors.Forbidden("template %s belongs to another organization", templateID)
		}
		versions, err := s.store.ListSchemaVersions(ctx, templateID)
		if err != nil {
			return schema.Schema{}, err
		}
		if len(versions) > 0 {
			version = versions[len(versions)-1].Version + 1
		}
	}

	created, err := s.store.CreateSchema(ctx, schema.Schema{
		TemplateID: templateID,
		Version:    version,
		Items:      validated,
	})
	if err != nil {
		return schema.Schema{}, err
	}
	s.log.Infof("schema %s v%d drafted", created.ID, created.Version)
	return created, nil
}

// AddItem appends an item to a draft schema. Published schemas are
// frozen; callers must draft a new version instead.
func (s *Service) AddItem(ctx context.Context, actor identity.Actor, schemaID string, item schema.Item) (schema.Schema, error) {
	sc, err := s.get(ctx, schemaID)
	if err != nil {
		return schema.Schema{}, err
	}
	if sc.Published {
		return schema.Schema{}, apperrors.Conflict("schema %s v%d is published; draft a new version to change it", sc.ID, sc.Version)
	}
	if err := s.authorize(ctx, actor, sc); err != nil {
		return schema.Schema{}, err
	}

	validated, err := validateItems(append(sc.Items, item))
	if err != nil {
		return schema.Schema{}, err
	}
	sc.Items = validated
	return s.store.UpdateSchema(ctx, sc)
}

// Publish freezes the item set. From here on the version is immutable.
func (s *Service) Publish(ctx context.Context, actor identity.Actor, schemaID string) (schema.Schema, error) {
	sc, err := s.get(ctx, schemaID)
	if err != nil {
		return schema.Schema{}, err
	}
	if sc.Published {
		return sc, nil
	}
	if err := s.authorize(ctx, actor, sc); err != nil {
		return schema.Schema{}, err
	}
	if len(sc.Items) == 0 {
		return schema.Schema{}, apperrors.InvalidInput("schema %s has no items to publish", schemaID)
	}

	sc.Published = true
	sc.PublishedAt = time.Now().UTC()
	published, err := s.store.UpdateSchema(ctx, sc)
	if err != nil {
		return schema.Schema{}, err
	}
	s.log.Infof("schema %s v%d published", published.ID, published.Version)
	return published, nil
}

// NewVersion clones a schema into the next draft version of its chain.
func (s *Service) NewVersion(ctx context.Context, actor identity.Actor, schemaID string, items []schema.Item) (schema.Schema, error) {
	sc, err := s.get(ctx, schemaID)
	if err != nil {
		return schema.Schema{}, err
	}
	if err := s.authorize(ctx, actor, sc); err != nil {
		return schema.Schema{}, err
	}
	if items == nil {
		items = sc.Items
	}
	return s.CreateDraft(ctx, actor, sc.TemplateID, items)
}

// Get retrieves one schema version.
func (s *Service) Get(ctx context.Context, id string) (schema.Schema, error) {
	return s.get(ctx, id)
}

// ListVersions returns a template's version chain in ascending order.
func (s *Service) ListVersions(ctx context.Context, templateID string) ([]schema.Schema, error) {
	return s.store.ListSchemaVersions(ctx, templateID)
}

// LatestPublished returns the newest published version for a template.
func (s *Service) LatestPublished(ctx context.Context, templateID string) (schema.Schema, error) {
	versions, err := s.store.ListSchemaVersions(ctx, templateID)
	if err != nil {
		return schema.Schema{}, err
	}
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].Published {
			return versions[i], nil
		}
	}
	return schema.Schema{}, apperrors.NotFound("published schema for template", templateID)
}

func (s *Service) get(ctx context.Context, id string) (schema.Schema, error) {
	sc, err := s.store.GetSchema(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return schema.Schema{}, apperrors.NotFound("schema", id).WithCause(err)
		}
		return schema.Schema{}, fmt.Errorf("get schema: %w", err)
	}
	return sc, nil
}

func (s *Service) authorize(ctx context.Context, actor identity.Actor, sc schema.Schema) error {
	if sc.TemplateID == "" {
		if actor.PrimaryOrg() == "" {
			return apperrors.Forbidden("schema authoring requires an organization membership")
		}
		return nil
	}
	tpl, err := s.templates.GetTemplate(ctx, sc.TemplateID)
	if err != nil {
		return apperrors.NotFound("template", sc.TemplateID).WithCause(err)
	}
	if !actor.BelongsTo(tpl.IssuerOrgID) {
		return apperrors.Forbidden("schema %s belongs to another organization", sc.ID)
	}
	return nil
}
