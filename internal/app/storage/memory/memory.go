package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/audit"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/clarification"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/request"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/schema"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/submission"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/template"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/workspace"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is
// safe for concurrent use and is primarily intended for tests and local
// development.
type Store struct {
	mu     sync.RWMutex
	nextID int64

	schemas   map[string]schema.Schema
	templates map[string]template.Template

	requests        map[string]request.Request
	recipients      map[string]request.Recipient
	recipientByKey  map[string]string // requestID|org or requestID|email -> recipient id
	signOffReqs     map[string][]request.SignOffRequirement
	workspaces      map[string]workspace.Workspace
	workspaceByKey  map[string]string // requestID|orgID -> workspace id
	answers         map[string]map[string]workspace.Answer
	documents       map[string][]workspace.Document
	assetLinks      map[string][]workspace.AssetLink
	signOffEvents   map[string][]workspace.SignOffEvent
	submissions     map[string]submission.Submission
	submissionByWS  map[string]string
	snapshots       map[string]submission.Snapshot
	grants          map[string]submission.AccessGrant
	grantByKey      map[string]string // submissionID|orgID -> grant id
	clarifications  map[string]clarification.Clarification
	auditByRequest  map[string][]audit.Event
	auditUnattached []audit.Event
}

var _ storage.SchemaStore = (*Store)(nil)
var _ storage.TemplateStore = (*Store)(nil)
var _ storage.RequestStore = (*Store)(nil)
var _ storage.WorkspaceStore = (*Store)(nil)
var _ storage.SubmissionStore = (*Store)(nil)
var _ storage.ClarificationStore = (*Store)(nil)
var _ storage.AuditStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:         1,
		schemas:        make(map[string]schema.Schema),
		templates:      make(map[string]template.Template),
		requests:       make(map[string]request.Request),
		recipients:     make(map[string]request.Recipient),
		recipientByKey: make(map[string]string),
		signOffReqs:    make(map[string][]request.SignOffRequirement),
		workspaces:     make(map[string]workspace.Workspace),
		workspaceByKey: make(map[string]string),
		answers:        make(map[string]map[string]workspace.Answer),
		documents:      make(map[string][]workspace.Document),
		assetLinks:     make(map[string][]workspace.AssetLink),
		signOffEvents:  make(map[string][]workspace.SignOffEvent),
		submissions:    make(map[string]submission.Submission),
		submissionByWS: make(map[string]string),
		snapshots:      make(map[string]submission.Snapshot),
		grants:         make(map[string]submission.AccessGrant),
		grantByKey:     make(map[string]string),
		clarifications: make(map[string]clarification.Clarification),
		auditByRequest: make(map[string][]audit.Event),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

func compositeKey(a, b string) string {
	return a + "|" + strings.ToLower(strings.TrimSpace(b))
}

// SchemaStore implementation -------------------------------------------------

func (s *Store) CreateSchema(_ context.Context, sc schema.Schema) (schema.Schema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sc.ID == "" {
		sc.ID = s.nextIDLocked()
	} else if _, exists := s.schemas[sc.ID]; exists {
		return schema.Schema{}, fmt.Errorf("schema %s: %w", sc.ID, storage.ErrConflict)
	}

	now := time.Now().UTC()
	sc.CreatedAt = now
	sc.UpdatedAt = now
	sc.Items = cloneItems(sc.Items)

	s.schemas[sc.ID] = sc
	return cloneSchema(sc), nil
}

func (s *Store) UpdateSchema(_ context.Context, sc schema.Schema) (schema.Schema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.schemas[sc.ID]
	if !ok {
		return schema.Schema{}, fmt.Errorf("schema %s: %w", sc.ID, storage.ErrNotFound)
	}
	if original.Published {
		return schema.Schema{}, fmt.Errorf("schema %s is published: %w", sc.ID, storage.ErrConflict)
	}

	sc.CreatedAt = original.CreatedAt
	sc.UpdatedAt = time.Now().UTC()
	if sc.Published && original.PublishedAt.IsZero() {
		sc.PublishedAt = sc.UpdatedAt
	}
	sc.Items = cloneItems(sc.Items)

	s.schemas[sc.ID] = sc
	return cloneSchema(sc), nil
}

func (s *Store) GetSchema(_ context.Context, id string) (schema.Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc, ok := s.schemas[id]
	if !ok {
		return schema.Schema{}, fmt.Errorf("schema %s: %w", id, storage.ErrNotFound)
	}
	return cloneSchema(sc), nil
}

func (s *Store) ListSchemaVersions(_ context.Context, templateID string) ([]schema.Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]schema.Schema, 0)
	for _, sc := range s.schemas {
		if sc.TemplateID == templateID {
			result = append(result, cloneSchema(sc))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Version < result[j].Version })
	return result, nil
}

// TemplateStore implementation -----------------------------------------------

func (s *Store) CreateTemplate(_ context.Context, t template.Template) (template.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = s.nextIDLocked()
	} else if _, exists := s.templates[t.ID]; exists {
		return template.Template{}, fmt.Errorf("template %s: %w", t.ID, storage.ErrConflict)
	}

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	s.templates[t.ID] = t
	return t, nil
}

func (s *Store) UpdateTemplate(_ context.Context, t template.Template) (template.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.templates[t.ID]
	if !ok {
		return template.Template{}, fmt.Errorf("template %s: %w", t.ID, storage.ErrNotFound)
	}

	t.CreatedAt = original.CreatedAt
	t.UpdatedAt = time.Now().UTC()

	s.templates[t.ID] = t
	return t, nil
}

func (s *Store) GetTemplate(_ context.Context, id string) (template.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[id]
	if !ok {
		return template.Template{}, fmt.Errorf("template %s: %w", id, storage.ErrNotFound)
	}
	return t, nil
}

func (s *Store) ListTemplates(_ context.Context, issuerOrgID string) ([]template.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]template.Template, 0)
	for _, t := range s.templates {
		if issuerOrgID == "" || t.IssuerOrgID == issuerOrgID {
			result = append(result, t)
		}
	}
	return result, nil
}

// RequestStore implementation ------------------------------------------------

func (s *Store) CreateRequest(_ context.Context, req request.Request) (request.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ID == "" {
		req.ID = s.nextIDLocked()
	} else if _, exists := s.requests[req.ID]; exists {
		return request.Request{}, fmt.Errorf("request %s: %w", req.ID, storage.ErrConflict)
	}

	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now

	s.requests[req.ID] = req
	return req, nil
}

func (s *Store) UpdateRequest(_ context.Context, req request.Request) (request.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.requests[req.ID]
	if !ok {
		return request.Request{}, fmt.Errorf("request %s: %w", req.ID, storage.ErrNotFound)
	}

	req.CreatedAt = original.CreatedAt
	req.UpdatedAt = time.Now().UTC()

	s.requests[req.ID] = req
	return req, nil
}

func (s *Store) GetRequest(_ context.Context, id string) (request.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return request.Request{}, fmt.Errorf("request %s: %w", id, storage.ErrNotFound)
	}
	return req, nil
}

func (s *Store) ListRequests(_ context.Context, issuerOrgID string) ([]request.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]request.Request, 0)
	for _, req := range s.requests {
		if issuerOrgID == "" || req.IssuerOrgID == issuerOrgID {
			result = append(result, req)
		}
	}
	return result, nil
}

func (s *Store) ListRequestsByStatus(_ context.Context, status request.Status) ([]request.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]request.Request, 0)
	for _, req := range s.requests {
		if req.Status == status {
			result = append(result, req)
		}
	}
	return result, nil
}

func (s *Store) CreateRecipient(_ context.Context, rec request.Recipient) (request.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = s.nextIDLocked()
	} else if _, exists := s.recipients[rec.ID]; exists {
		return request.Recipient{}, fmt.Errorf("recipient %s: %w", rec.ID, storage.ErrConflict)
	}

	var keys []string
	if rec.OrgID != "" {
		keys = append(keys, compositeKey(rec.RequestID, rec.OrgID))
	}
	if rec.Email != "" {
		keys = append(keys, compositeKey(rec.RequestID, rec.Email))
	}
	for _, key := range keys {
		if existing, exists := s.recipientByKey[key]; exists {
			return request.Recipient{}, fmt.Errorf("recipient %s on request %s: %w", existing, rec.RequestID, storage.ErrConflict)
		}
	}

	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	s.recipients[rec.ID] = rec
	for _, key := range keys {
		s.recipientByKey[key] = rec.ID
	}
	return rec, nil
}

func (s *Store) UpdateRecipient(_ context.Context, rec request.Recipient) (request.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateRecipientLocked(rec)
}

func (s *Store) updateRecipientLocked(rec request.Recipient) (request.Recipient, error) {
	original, ok := s.recipients[rec.ID]
	if !ok {
		return request.Recipient{}, fmt.Errorf("recipient %s: %w", rec.ID, storage.ErrNotFound)
	}

	rec.RequestID = original.RequestID
	rec.OrgID = original.OrgID
	rec.Email = original.Email
	rec.CreatedAt = original.CreatedAt
	rec.UpdatedAt = time.Now().UTC()

	s.recipients[rec.ID] = rec
	return rec, nil
}

func (s *Store) GetRecipient(_ context.Context, id string) (request.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.recipients[id]
	if !ok {
		return request.Recipient{}, fmt.Errorf("recipient %s: %w", id, storage.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) GetRecipientByOrg(_ context.Context, requestID, orgID string) (request.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.recipientByKey[compositeKey(requestID, orgID)]; ok {
		return s.recipients[id], nil
	}
	return request.Recipient{}, fmt.Errorf("recipient for org %s on request %s: %w", orgID, requestID, storage.ErrNotFound)
}

func (s *Store) ListRecipients(_ context.Context, requestID string) ([]request.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]request.Recipient, 0)
	for _, rec := range s.recipients {
		if rec.RequestID == requestID {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) CreateSignOffRequirement(_ context.Context, req request.SignOffRequirement) (request.SignOffRequirement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ID == "" {
		req.ID = s.nextIDLocked()
	}
	req.CreatedAt = time.Now().UTC()

	s.signOffReqs[req.RequestID] = append(s.signOffReqs[req.RequestID], req)
	return req, nil
}

func (s *Store) ListSignOffRequirements(_ context.Context, requestID string) ([]request.SignOffRequirement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]request.SignOffRequirement(nil), s.signOffReqs[requestID]...), nil
}

// WorkspaceStore implementation ----------------------------------------------

func (s *Store) CreateWorkspace(_ context.Context, ws workspace.Workspace) (workspace.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := compositeKey(ws.RequestID, ws.RecipientOrgID)
	if existing, exists := s.workspaceByKey[key]; exists {
		// Return the existing workspace so callers can treat creation as
		// idempotent.
		return s.workspaces[existing], fmt.Errorf("workspace %s: %w", existing, storage.ErrConflict)
	}

	if ws.ID == "" {
		ws.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	ws.CreatedAt = now
	ws.UpdatedAt = now
	if ws.Status == "" {
		ws.Status = workspace.StatusActive
	}

	s.workspaces[ws.ID] = ws
	s.workspaceByKey[key] = ws.ID
	return ws, nil
}

func (s *Store) GetWorkspace(_ context.Context, id string) (workspace.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ws, ok := s.workspaces[id]
	if !ok {
		return workspace.Workspace{}, fmt.Errorf("workspace %s: %w", id, storage.ErrNotFound)
	}
	return ws, nil
}

func (s *Store) GetWorkspaceByRequestOrg(_ context.Context, requestID, recipientOrgID string) (workspace.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.workspaceByKey[compositeKey(requestID, recipientOrgID)]; ok {
		return s.workspaces[id], nil
	}
	return workspace.Workspace{}, fmt.Errorf("workspace for org %s on request %s: %w", recipientOrgID, requestID, storage.ErrNotFound)
}

func (s *Store) activeWorkspaceLocked(workspaceID string) (workspace.Workspace, error) {
	ws, ok := s.workspaces[workspaceID]
	if !ok {
		return workspace.Workspace{}, fmt.Errorf("workspace %s: %w", workspaceID, storage.ErrNotFound)
	}
	if ws.Status != workspace.StatusActive {
		return workspace.Workspace{}, fmt.Errorf("workspace %s: %w", workspaceID, storage.ErrWorkspaceLocked)
	}
	return ws, nil
}

func (s *Store) UpsertAnswer(_ context.Context, ans workspace.Answer) (workspace.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.activeWorkspaceLocked(ans.WorkspaceID); err != nil {
		return workspace.Answer{}, err
	}

	byKey := s.answers[ans.WorkspaceID]
	if byKey == nil {
		byKey = make(map[string]workspace.Answer)
		s.answers[ans.WorkspaceID] = byKey
	}

	now := time.Now().UTC()
	if existing, ok := byKey[ans.RequirementKey]; ok {
		ans.ID = existing.ID
		ans.CreatedAt = existing.CreatedAt
	} else {
		if ans.ID == "" {
			ans.ID = s.nextIDLocked()
		}
		ans.CreatedAt = now
	}
	ans.UpdatedAt = now

	byKey[ans.RequirementKey] = ans
	return ans, nil
}

func (s *Store) ListAnswers(_ context.Context, workspaceID string) ([]workspace.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]workspace.Answer, 0, len(s.answers[workspaceID]))
	for _, ans := range s.answers[workspaceID] {
		result = append(result, ans)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RequirementKey < result[j].RequirementKey })
	return result, nil
}

func (s *Store) CreateDocument(_ context.Context, doc workspace.Document) (workspace.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.activeWorkspaceLocked(doc.WorkspaceID); err != nil {
		return workspace.Document{}, err
	}

	if doc.ID == "" {
		doc.ID = s.nextIDLocked()
	}
	doc.CreatedAt = time.Now().UTC()

	s.documents[doc.WorkspaceID] = append(s.documents[doc.WorkspaceID], doc)
	return doc, nil
}

func (s *Store) ListDocuments(_ context.Context, workspaceID string) ([]workspace.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]workspace.Document(nil), s.documents[workspaceID]...), nil
}

func (s *Store) CreateAssetLink(_ context.Context, link workspace.AssetLink) (workspace.AssetLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.activeWorkspaceLocked(link.WorkspaceID); err != nil {
		return workspace.AssetLink{}, err
	}

	for _, existing := range s.assetLinks[link.WorkspaceID] {
		if existing.AssetID == link.AssetID {
			return workspace.AssetLink{}, fmt.Errorf("asset %s already linked: %w", link.AssetID, storage.ErrConflict)
		}
	}

	if link.ID == "" {
		link.ID = s.nextIDLocked()
	}
	link.CreatedAt = time.Now().UTC()

	s.assetLinks[link.WorkspaceID] = append(s.assetLinks[link.WorkspaceID], link)
	return link, nil
}

func (s *Store) DeleteAssetLink(_ context.Context, workspaceID, linkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.activeWorkspaceLocked(workspaceID); err != nil {
		return err
	}

	links := s.assetLinks[workspaceID]
	for i, link := range links {
		if link.ID == linkID {
			s.assetLinks[workspaceID] = append(links[:i], links[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("asset link %s: %w", linkID, storage.ErrNotFound)
}

func (s *Store) GetAssetLink(_ context.Context, workspaceID, linkID string) (workspace.AssetLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, link := range s.assetLinks[workspaceID] {
		if link.ID == linkID {
			return link, nil
		}
	}
	return workspace.AssetLink{}, fmt.Errorf("asset link %s: %w", linkID, storage.ErrNotFound)
}

func (s *Store) ListAssetLinks(_ context.Context, workspaceID string) ([]workspace.AssetLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]workspace.AssetLink(nil), s.assetLinks[workspaceID]...), nil
}

func (s *Store) CreateSignOffEvent(_ context.Context, ev workspace.SignOffEvent) (workspace.SignOffEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.activeWorkspaceLocked(ev.WorkspaceID); err != nil {
		return workspace.SignOffEvent{}, err
	}

	if ev.ID == "" {
		ev.ID = s.nextIDLocked()
	}
	ev.CreatedAt = time.Now().UTC()

	s.signOffEvents[ev.WorkspaceID] = append(s.signOffEvents[ev.WorkspaceID], ev)
	return ev, nil
}

func (s *Store) ListSignOffEvents(_ context.Context, workspaceID string) ([]workspace.SignOffEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]workspace.SignOffEvent(nil), s.signOffEvents[workspaceID]...), nil
}

// SubmissionStore implementation ---------------------------------------------

func (s *Store) SealWorkspace(_ context.Context, seal storage.Seal) (submission.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := seal.Submission

	ws, err := s.activeWorkspaceLocked(sub.WorkspaceID)
	if err != nil {
		return submission.Submission{}, err
	}
	if _, exists := s.submissionByWS[sub.WorkspaceID]; exists {
		return submission.Submission{}, fmt.Errorf("workspace %s: %w", sub.WorkspaceID, storage.ErrWorkspaceLocked)
	}

	if sub.ID == "" {
		sub.ID = s.nextIDLocked()
	}
	if sub.SnapshotID == "" {
		sub.SnapshotID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = now
	}
	sub.Status = submission.StatusSubmitted

	// The snapshot is built here, under the same mutex that locks the
	// workspace, so it reflects every write accepted before the lock.
	answers := make([]workspace.Answer, 0, len(s.answers[sub.WorkspaceID]))
	for _, ans := range s.answers[sub.WorkspaceID] {
		answers = append(answers, ans)
	}
	sort.Slice(answers, func(i, j int) bool { return answers[i].RequirementKey < answers[j].RequirementKey })
	documents := append([]workspace.Document(nil), s.documents[sub.WorkspaceID]...)
	snap := storage.BuildSnapshot(sub.SnapshotID, sub.WorkspaceID, sub.SubmittedAt, answers, documents)

	// All mutations below happen under the single store mutex, which is
	// this implementation's transaction boundary.
	s.snapshots[snap.ID()] = snap
	s.submissions[sub.ID] = sub
	s.submissionByWS[sub.WorkspaceID] = sub.ID

	grant := seal.Grant
	if grant.ID == "" {
		grant.ID = s.nextIDLocked()
	}
	grant.CreatedAt = now
	s.grants[grant.ID] = grant
	s.grantByKey[compositeKey(grant.SubmissionID, grant.GranteeOrgID)] = grant.ID

	ws.Status = workspace.StatusLocked
	ws.UpdatedAt = now
	s.workspaces[ws.ID] = ws

	if recID, ok := s.recipientByKey[compositeKey(sub.RequestID, sub.RecipientOrgID)]; ok {
		rec := s.recipients[recID]
		rec.Status = seal.RecipientStatus
		if _, err := s.updateRecipientLocked(rec); err != nil {
			return submission.Submission{}, err
		}
	}

	return sub, nil
}

func (s *Store) GetSubmission(_ context.Context, id string) (submission.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.submissions[id]
	if !ok {
		return submission.Submission{}, fmt.Errorf("submission %s: %w", id, storage.ErrNotFound)
	}
	return sub, nil
}

func (s *Store) GetSubmissionByWorkspace(_ context.Context, workspaceID string) (submission.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.submissionByWS[workspaceID]; ok {
		return s.submissions[id], nil
	}
	return submission.Submission{}, fmt.Errorf("submission for workspace %s: %w", workspaceID, storage.ErrNotFound)
}

func (s *Store) ListSubmissions(_ context.Context, requestID string) ([]submission.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]submission.Submission, 0)
	for _, sub := range s.submissions {
		if requestID == "" || sub.RequestID == requestID {
			result = append(result, sub)
		}
	}
	return result, nil
}

func (s *Store) UpdateSubmissionReview(_ context.Context, sub submission.Submission) (submission.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.submissions[sub.ID]
	if !ok {
		return submission.Submission{}, fmt.Errorf("submission %s: %w", sub.ID, storage.ErrNotFound)
	}

	// Only review metadata may change; the sealed identity fields stay.
	original.Status = sub.Status
	original.ReviewedAt = sub.ReviewedAt
	original.ReviewedByUserID = sub.ReviewedByUserID
	original.ReviewNotes = sub.ReviewNotes

	s.submissions[original.ID] = original
	return original, nil
}

func (s *Store) GetSnapshot(_ context.Context, id string) (submission.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[id]
	if !ok {
		return submission.Snapshot{}, fmt.Errorf("snapshot %s: %w", id, storage.ErrNotFound)
	}
	return snap, nil
}

func (s *Store) GetGrant(_ context.Context, id string) (submission.AccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grant, ok := s.grants[id]
	if !ok {
		return submission.AccessGrant{}, fmt.Errorf("grant %s: %w", id, storage.ErrNotFound)
	}
	return grant, nil
}

func (s *Store) FindGrant(_ context.Context, submissionID, granteeOrgID string) (submission.AccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.grantByKey[compositeKey(submissionID, granteeOrgID)]; ok {
		return s.grants[id], nil
	}
	return submission.AccessGrant{}, fmt.Errorf("grant for org %s on submission %s: %w", granteeOrgID, submissionID, storage.ErrNotFound)
}

func (s *Store) RevokeGrant(_ context.Context, grantID string, at time.Time) (submission.AccessGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	grant, ok := s.grants[grantID]
	if !ok {
		return submission.AccessGrant{}, fmt.Errorf("grant %s: %w", grantID, storage.ErrNotFound)
	}
	if grant.RevokedAt == nil {
		t := at.UTC()
		grant.RevokedAt = &t
		s.grants[grantID] = grant
	}
	return grant, nil
}

// ClarificationStore implementation ------------------------------------------

func (s *Store) CreateClarification(_ context.Context, c clarification.Clarification) (clarification.Clarification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = s.nextIDLocked()
	} else if _, exists := s.clarifications[c.ID]; exists {
		return clarification.Clarification{}, fmt.Errorf("clarification %s: %w", c.ID, storage.ErrConflict)
	}

	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	s.clarifications[c.ID] = c
	return c, nil
}

func (s *Store) UpdateClarification(_ context.Context, c clarification.Clarification) (clarification.Clarification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.clarifications[c.ID]
	if !ok {
		return clarification.Clarification{}, fmt.Errorf("clarification %s: %w", c.ID, storage.ErrNotFound)
	}

	c.CreatedAt = original.CreatedAt
	c.UpdatedAt = time.Now().UTC()

	s.clarifications[c.ID] = c
	return c, nil
}

func (s *Store) GetClarification(_ context.Context, id string) (clarification.Clarification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clarifications[id]
	if !ok {
		return clarification.Clarification{}, fmt.Errorf("clarification %s: %w", id, storage.ErrNotFound)
	}
	return c, nil
}

func (s *Store) ListClarifications(_ context.Context, requestID string) ([]clarification.Clarification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]clarification.Clarification, 0)
	for _, c := range s.clarifications {
		if c.RequestID == requestID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// AuditStore implementation --------------------------------------------------

func (s *Store) AppendEvent(_ context.Context, ev audit.Event) (audit.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.ID == "" {
		ev.ID = s.nextIDLocked()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	ev.Details = cloneDetails(ev.Details)

	if ev.RequestID != "" {
		s.auditByRequest[ev.RequestID] = append(s.auditByRequest[ev.RequestID], ev)
	} else {
		s.auditUnattached = append(s.auditUnattached, ev)
	}
	return cloneEvent(ev), nil
}

func (s *Store) ListEventsByRequest(_ context.Context, requestID string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.auditByRequest[requestID]
	result := make([]audit.Event, 0, len(events))
	for _, ev := range events {
		result = append(result, cloneEvent(ev))
	}
	return result, nil
}

// Helpers --------------------------------------------------------------------

func cloneItems(items []schema.Item) []schema.Item {
	out := make([]schema.Item, len(items))
	for i, item := range items {
		item.VATRPathHints = append([]string(nil), item.VATRPathHints...)
		out[i] = item
	}
	return out
}

func cloneSchema(sc schema.Schema) schema.Schema {
	sc.Items = cloneItems(sc.Items)
	return sc
}

func cloneDetails(src map[string]interface{}) map[string]interface{} {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneEvent(ev audit.Event) audit.Event {
	ev.Details = cloneDetails(ev.Details)
	return ev
}
