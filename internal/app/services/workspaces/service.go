// Package workspaces manages the recipient-side response workspace:
// linked assets, draft answers, uploaded documents and completeness
// validation.
package workspaces

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/kaykluz/kiisha-dev-sub002/internal/app/blob"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/audit"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/identity"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/request"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/schema"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/workspace"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/services/auditlog"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/services/schemas"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/storage"
	apperrors "github.com/kaykluz/kiisha-dev-sub002/internal/errors"
	"github.com/kaykluz/kiisha-dev-sub002/pkg/logger"
)

// Service manages workspace lifecycle and contents.
type Service struct {
	store     storage.WorkspaceStore
	requests  storage.RequestStore
	schemas   *schemas.Service
	blobs     blob.Store
	recorder  *auditlog.Service
	suggester Suggester
	log       *logger.Logger
}

// New constructs a workspace service.
func New(store storage.WorkspaceStore, requests storage.RequestStore, schemaSvc *schemas.Service, blobs blob.Store, recorder *auditlog.Service, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("workspaces")
	}
	if blobs == nil {
		blobs = blob.NewMemoryStore()
	}
	return &Service{store: store, requests: requests, schemas: schemaSvc, blobs: blobs, recorder: recorder, log: log}
}

// AttachSuggester injects the optional suggestion collaborator.
func (s *Service) AttachSuggester(sg Suggester) {
	s.suggester = sg
}

// CreateOrGet returns the workspace for (request, actor org), creating it
// lazily on first interaction. Idempotent: repeated calls return the same
// workspace.
func (s *Service) CreateOrGet(ctx context.Context, actor identity.Actor, requestID string) (workspace.Workspace, error) {
	org := actor.PrimaryOrg()
	if org == "" {
		return workspace.Workspace{}, apperrors.Forbidden("workspace access requires an organization membership")
	}

	req, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return workspace.Workspace{}, apperrors.NotFound("request", requestID).WithCause(err)
		}
		return workspace.Workspace{}, err
	}
	if req.Status != request.StatusIssued {
		return workspace.Workspace{}, apperrors.Conflict("request %s is %s, not issued", requestID, req.Status)
	}

	rec, err := s.requests.GetRecipientByOrg(ctx, requestID, org)
	if err != nil {
		return workspace.Workspace{}, apperrors.Forbidden("organization %s is not a recipient of request %s", org, requestID)
	}

	if existing, err := s.store.GetWorkspaceByRequestOrg(ctx, requestID, org); err == nil {
		return existing, nil
	}

	created, err := s.store.CreateWorkspace(ctx, workspace.Workspace{
		RequestID:       requestID,
		RecipientOrgID:  org,
		CreatedByUserID: actor.UserID,
		Status:          workspace.StatusActive,
	})
	if err != nil {
		// A concurrent first interaction may have won; creation stays
		// idempotent either way.
		if errors.Is(err, storage.ErrConflict) {
			return s.store.GetWorkspaceByRequestOrg(ctx, requestID, org)
		}
		return workspace.Workspace{}, err
	}

	s.advanceRecipient(ctx, actor, rec, request.RecipientOpened)
	s.recorder.Record(ctx, audit.Event{
		RequestID:   requestID,
		WorkspaceID: created.ID,
		EventType:   audit.EventWorkspaceCreated,
		ActorUserID: actor.UserID,
		ActorOrgID:  org,
		TargetType:  "workspace",
		TargetID:    created.ID,
	})
	s.log.Infof("workspace %s created for request %s", created.ID, requestID)
	return created, nil
}

// Get retrieves a workspace the actor's org owns.
func (s *Service) Get(ctx context.Context, actor identity.Actor, id string) (workspace.Workspace, error) {
	ws, err := s.store.GetWorkspace(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return workspace.Workspace{}, apperrors.NotFound("workspace", id).WithCause(err)
		}
		return workspace.Workspace{}, err
	}
	if !actor.BelongsTo(ws.RecipientOrgID) {
		return workspace.Workspace{}, apperrors.Forbidden("workspace %s belongs to another organization", id)
	}
	return ws, nil
}

// AddAsset links one of the recipient's verified asset records.
func (s *Service) AddAsset(ctx context.Context, actor identity.Actor, workspaceID, assetID, label, vatrJSON string) (workspace.AssetLink, error) {
	ws, err := s.activeWorkspace(ctx, actor, workspaceID)
	if err != nil {
		return workspace.AssetLink{}, err
	}
	if assetID == "" {
		return workspace.AssetLink{}, apperrors.InvalidInput("asset id is required")
	}
	if vatrJSON != "" && !gjson.Valid(vatrJSON) {
		return workspace.AssetLink{}, apperrors.InvalidInput("asset record is not valid JSON")
	}

	link, err := s.store.CreateAssetLink(ctx, workspace.AssetLink{
		WorkspaceID: workspaceID,
		AssetID:     assetID,
		Label:       label,
		VATRJSON:    vatrJSON,
	})
	if err != nil {
		return workspace.AssetLink{}, s.mapStoreErr(err, workspaceID)
	}

	s.touch(ctx, actor, ws)
	s.recorder.Record(ctx, audit.Event{
		RequestID:   ws.RequestID,
		WorkspaceID: workspaceID,
		EventType:   audit.EventAssetLinked,
		ActorUserID: actor.UserID,
		ActorOrgID:  ws.RecipientOrgID,
		TargetType:  "asset_link",
		TargetID:    link.ID,
	})
	return link, nil
}

// RemoveAsset unlinks an asset record.
func (s *Service) RemoveAsset(ctx context.Context, actor identity.Actor, workspaceID, linkID string) error {
	ws, err := s.activeWorkspace(ctx, actor, workspaceID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteAssetLink(ctx, workspaceID, linkID); err != nil {
		return s.mapStoreErr(err, workspaceID)
	}
	s.recorder.Record(ctx, audit.Event{
		RequestID:   ws.RequestID,
		WorkspaceID: workspaceID,
		EventType:   audit.EventAssetRemoved,
		ActorUserID: actor.UserID,
		ActorOrgID:  ws.RecipientOrgID,
		TargetType:  "asset_link",
		TargetID:    linkID,
	})
	return nil
}

// SaveAnswerInput is the payload for saving one draft answer.
type SaveAnswerInput struct {
	RequirementKey string
	ValueJSON      string
	VATRSourcePath string
	AssetID        string
}

// SaveAnswer writes a draft answer, last-write-wins per requirement key.
// The workspace status is re-read immediately before the write; the
// only race this leaves open is documented in the design notes.
func (s *Service) SaveAnswer(ctx context.Context, actor identity.Actor, workspaceID string, in SaveAnswerInput) (workspace.Answer, error) {
	ws, err := s.activeWorkspace(ctx, actor, workspaceID)
	if err != nil {
		return workspace.Answer{}, err
	}

	sc, err := s.requestSchema(ctx, ws)
	if err != nil {
		return workspace.Answer{}, err
	}
	item, ok := sc.Item(in.RequirementKey)
	if !ok {
		return workspace.Answer{}, apperrors.InvalidInput("requirement key %q is not part of the request schema", in.RequirementKey)
	}
	if item.Type == schema.ItemDocument {
		return workspace.Answer{}, apperrors.InvalidInput("requirement %q expects a document upload, not an answer", in.RequirementKey)
	}
	if in.ValueJSON == "" || !gjson.Valid(in.ValueJSON) {
		return workspace.Answer{}, apperrors.InvalidInput("answer for %q is not valid JSON", in.RequirementKey)
	}

	ans, err := s.store.UpsertAnswer(ctx, workspace.Answer{
		WorkspaceID:     workspaceID,
		RequirementKey:  in.RequirementKey,
		ValueJSON:       in.ValueJSON,
		VATRSourcePath:  in.VATRSourcePath,
		AssetID:         in.AssetID,
		UpdatedByUserID: actor.UserID,
	})
	if err != nil {
		return workspace.Answer{}, s.mapStoreErr(err, workspaceID)
	}

	s.touch(ctx, actor, ws)
	s.recorder.Record(ctx, audit.Event{
		RequestID:   ws.RequestID,
		WorkspaceID: workspaceID,
		EventType:   audit.EventAnswerSaved,
		ActorUserID: actor.UserID,
		ActorOrgID:  ws.RecipientOrgID,
		TargetType:  "answer",
		TargetID:    ans.ID,
		Details:     map[string]interface{}{"requirement_key": in.RequirementKey},
	})
	return ans, nil
}

// UploadDocument stores the bytes with the object-store collaborator and
// records the reference.
func (s *Service) UploadDocument(ctx context.Context, actor identity.Actor, workspaceID, requirementKey, fileName string, data []byte) (workspace.Document, error) {
	ws, err := s.activeWorkspace(ctx, actor, workspaceID)
	if err != nil {
		return workspace.Document{}, err
	}
	if fileName == "" {
		return workspace.Document{}, apperrors.InvalidInput("file name is required")
	}
	if len(data) == 0 {
		return workspace.Document{}, apperrors.InvalidInput("file %q is empty", fileName)
	}

	sc, err := s.requestSchema(ctx, ws)
	if err != nil {
		return workspace.Document{}, err
	}
	if requirementKey != "" {
		item, ok := sc.Item(requirementKey)
		if !ok {
			return workspace.Document{}, apperrors.InvalidInput("requirement key %q is not part of the request schema", requirementKey)
		}
		if item.Type != schema.ItemDocument {
			return workspace.Document{}, apperrors.InvalidInput("requirement %q does not expect a document", requirementKey)
		}
	}

	url, err := s.blobs.Put(ctx, fileName, data)
	if err != nil {
		return workspace.Document{}, fmt.Errorf("store document bytes: %w", err)
	}

	doc, err := s.store.CreateDocument(ctx, workspace.Document{
		WorkspaceID:      workspaceID,
		RequirementKey:   requirementKey,
		FileURL:          url,
		FileName:         fileName,
		ContentHash:      blob.Hash(data),
		UploadedByUserID: actor.UserID,
	})
	if err != nil {
		return workspace.Document{}, s.mapStoreErr(err, workspaceID)
	}

	s.touch(ctx, actor, ws)
	s.recorder.Record(ctx, audit.Event{
		RequestID:   ws.RequestID,
		WorkspaceID: workspaceID,
		EventType:   audit.EventDocumentUploaded,
		ActorUserID: actor.UserID,
		ActorOrgID:  ws.RecipientOrgID,
		TargetType:  "document",
		TargetID:    doc.ID,
		Details:     map[string]interface{}{"requirement_key": requirementKey, "file_name": fileName},
	})
	return doc, nil
}

// ListAnswers returns the workspace's current draft answers.
func (s *Service) ListAnswers(ctx context.Context, actor identity.Actor, workspaceID string) ([]workspace.Answer, error) {
	if _, err := s.Get(ctx, actor, workspaceID); err != nil {
		return nil, err
	}
	return s.store.ListAnswers(ctx, workspaceID)
}

// ListDocuments returns the workspace's uploaded document references.
func (s *Service) ListDocuments(ctx context.Context, actor identity.Actor, workspaceID string) ([]workspace.Document, error) {
	if _, err := s.Get(ctx, actor, workspaceID); err != nil {
		return nil, err
	}
	return s.store.ListDocuments(ctx, workspaceID)
}

// ListAssets returns the linked asset records.
func (s *Service) ListAssets(ctx context.Context, actor identity.Actor, workspaceID string) ([]workspace.AssetLink, error) {
	if _, err := s.Get(ctx, actor, workspaceID); err != nil {
		return nil, err
	}
	return s.store.ListAssetLinks(ctx, workspaceID)
}

// Validate diffs the schema's required items against the workspace
// contents. It is read-only and safe to call repeatedly, including on
// locked workspaces.
func (s *Service) Validate(ctx context.Context, actor identity.Actor, workspaceID string) (workspace.ValidationReport, error) {
	ws, err := s.Get(ctx, actor, workspaceID)
	if err != nil {
		return workspace.ValidationReport{}, err
	}
	return s.validate(ctx, ws)
}

// ValidateForSeal is the internal validation entry used by the
// submission sealer, which has already authorized the actor.
func (s *Service) ValidateForSeal(ctx context.Context, ws workspace.Workspace) (workspace.ValidationReport, error) {
	return s.validate(ctx, ws)
}

func (s *Service) validate(ctx context.Context, ws workspace.Workspace) (workspace.ValidationReport, error) {
	sc, err := s.requestSchema(ctx, ws)
	if err != nil {
		return workspace.ValidationReport{}, err
	}

	answers, err := s.store.ListAnswers(ctx, ws.ID)
	if err != nil {
		return workspace.ValidationReport{}, err
	}
	documents, err := s.store.ListDocuments(ctx, ws.ID)
	if err != nil {
		return workspace.ValidationReport{}, err
	}

	answerByKey := make(map[string]workspace.Answer, len(answers))
	for _, ans := range answers {
		answerByKey[ans.RequirementKey] = ans
	}
	docKeys := make(map[string]bool, len(documents))
	for _, doc := range documents {
		if doc.RequirementKey != "" {
			docKeys[doc.RequirementKey] = true
		}
	}

	report := workspace.ValidationReport{
		MissingFields:   []string{},
		MissingDocs:     []string{},
		Inconsistencies: []string{},
	}

	for _, item := range sc.Items {
		if item.Type == schema.ItemDocument {
			if item.Required && !docKeys[item.Key] {
				report.MissingDocs = append(report.MissingDocs, item.Key)
			}
			continue
		}

		ans, ok := answerByKey[item.Key]
		if !ok {
			if item.Required {
				report.MissingFields = append(report.MissingFields, item.Key)
			}
			continue
		}
		if msg := checkDataType(item, ans.ValueJSON); msg != "" {
			report.Inconsistencies = append(report.Inconsistencies, msg)
		}
	}

	for key := range answerByKey {
		if _, ok := sc.Item(key); !ok {
			report.Inconsistencies = append(report.Inconsistencies, fmt.Sprintf("answer %q does not match any schema item", key))
		}
	}

	report.IsComplete = len(report.MissingFields) == 0 && len(report.MissingDocs) == 0 && len(report.Inconsistencies) == 0
	return report, nil
}

// checkDataType verifies an answer value against the item's declared
// data type using gjson's parsed type.
func checkDataType(item schema.Item, valueJSON string) string {
	if item.DataType == "" {
		return ""
	}
	parsed := gjson.Parse(valueJSON)

	ok := false
	switch item.DataType {
	case "string":
		ok = parsed.Type == gjson.String
	case "number":
		ok = parsed.Type == gjson.Number
	case "boolean":
		ok = parsed.IsBool()
	case "object":
		ok = parsed.IsObject()
	case "array":
		ok = parsed.IsArray()
	default:
		// Unknown declared types are not enforced.
		return ""
	}
	if !ok {
		return fmt.Sprintf("answer %q is not of type %s", item.Key, item.DataType)
	}
	return ""
}

func (s *Service) activeWorkspace(ctx context.Context, actor identity.Actor, workspaceID string) (workspace.Workspace, error) {
	ws, err := s.Get(ctx, actor, workspaceID)
	if err != nil {
		return workspace.Workspace{}, err
	}
	if ws.Status != workspace.StatusActive {
		return workspace.Workspace{}, apperrors.WorkspaceLocked(workspaceID)
	}
	return ws, nil
}

func (s *Service) requestSchema(ctx context.Context, ws workspace.Workspace) (schema.Schema, error) {
	req, err := s.requests.GetRequest(ctx, ws.RequestID)
	if err != nil {
		return schema.Schema{}, fmt.Errorf("load request for workspace %s: %w", ws.ID, err)
	}
	if req.SchemaID == "" {
		return schema.Schema{}, apperrors.Conflict("request %s has no requirements schema", req.ID)
	}
	return s.schemas.Get(ctx, req.SchemaID)
}

func (s *Service) mapStoreErr(err error, workspaceID string) error {
	switch {
	case errors.Is(err, storage.ErrWorkspaceLocked):
		return apperrors.WorkspaceLocked(workspaceID)
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.NotFound("workspace resource", workspaceID).WithCause(err)
	case errors.Is(err, storage.ErrConflict):
		return apperrors.Conflict("%v", err)
	default:
		return err
	}
}

// touch advances the recipient's advisory status to responding on the
// first content mutation. Failures are ignored; the registry is
// telemetry, not a gate.
func (s *Service) touch(ctx context.Context, actor identity.Actor, ws workspace.Workspace) {
	rec, err := s.requests.GetRecipientByOrg(ctx, ws.RequestID, ws.RecipientOrgID)
	if err != nil {
		return
	}
	s.advanceRecipient(ctx, actor, rec, request.RecipientResponding)
}

func (s *Service) advanceRecipient(ctx context.Context, actor identity.Actor, rec request.Recipient, next request.RecipientStatus) {
	if rec.Status == next || !rec.Status.CanTransitionTo(next) {
		return
	}
	rec.Status = next
	if _, err := s.requests.UpdateRecipient(ctx, rec); err != nil {
		s.log.WithError(err).Debugf("advisory recipient update for %s skipped", rec.ID)
	}
}
