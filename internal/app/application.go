package app

import (
	"context"
	"fmt"

	"github.com/kaykluz/kiisha-dev-sub002/internal/app/blob"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/notify"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/services/auditlog"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/services/clarifications"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/services/requests"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/services/schemas"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/services/signoff"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/services/submissions"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/services/templates"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/services/workspaces"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/storage"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/storage/memory"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/system"
	"github.com/kaykluz/kiisha-dev-sub002/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Schemas        storage.SchemaStore
	Templates      storage.TemplateStore
	Requests       storage.RequestStore
	Workspaces     storage.WorkspaceStore
	Submissions    storage.SubmissionStore
	Clarifications storage.ClarificationStore
	Audit          storage.AuditStore
}

// Dependencies carries the optional collaborators. Nil fields default
// to local implementations.
type Dependencies struct {
	Blobs     blob.Store
	Notifier  notify.Notifier
	Suggester workspaces.Suggester

	// DeadlineSchedule is a cron expression for the deadline sweeper;
	// empty means hourly.
	DeadlineSchedule string
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Templates      *templates.Service
	Schemas        *schemas.Service
	Requests       *requests.Service
	Workspaces     *workspaces.Service
	SignOff        *signoff.Service
	Submissions    *submissions.Service
	Clarifications *clarifications.Service
	AuditLog       *auditlog.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, deps Dependencies, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Schemas == nil {
		stores.Schemas = mem
	}
	if stores.Templates == nil {
		stores.Templates = mem
	}
	if stores.Requests == nil {
		stores.Requests = mem
	}
	if stores.Workspaces == nil {
		stores.Workspaces = mem
	}
	if stores.Submissions == nil {
		stores.Submissions = mem
	}
	if stores.Clarifications == nil {
		stores.Clarifications = mem
	}
	if stores.Audit == nil {
		stores.Audit = mem
	}

	if deps.Blobs == nil {
		deps.Blobs = blob.NewMemoryStore()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLogNotifier(log)
	}

	manager := system.NewManager()

	auditService := auditlog.New(stores.Audit, stores.Requests, log)
	templateService := templates.New(stores.Templates, log)
	schemaService := schemas.New(stores.Schemas, stores.Templates, log)
	requestService := requests.New(stores.Requests, schemaService, auditService, deps.Notifier, log)
	workspaceService := workspaces.New(stores.Workspaces, stores.Requests, schemaService, deps.Blobs, auditService, log)
	if deps.Suggester != nil {
		workspaceService.AttachSuggester(deps.Suggester)
	}
	signoffService := signoff.New(stores.Requests, stores.Workspaces, auditService, log)
	submissionService := submissions.New(stores.Submissions, stores.Requests, workspaceService, signoffService, auditService, deps.Notifier, log)
	clarificationService := clarifications.New(stores.Clarifications, stores.Submissions, stores.Requests, auditService, deps.Notifier, log)

	sweeper := requests.NewDeadlineSweeper(stores.Requests, requestService, auditService, deps.Notifier, deps.DeadlineSchedule, 0, log)
	if err := manager.Register(sweeper); err != nil {
		return nil, fmt.Errorf("register %s: %w", sweeper.Name(), err)
	}

	return &Application{
		manager:        manager,
		log:            log,
		Templates:      templateService,
		Schemas:        schemaService,
		Requests:       requestService,
		Workspaces:     workspaceService,
		SignOff:        signoffService,
		Submissions:    submissionService,
		Clarifications: clarificationService,
		AuditLog:       auditService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
