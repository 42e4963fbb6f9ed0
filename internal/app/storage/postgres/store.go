// Package postgres implements the storage interfaces backed by
// PostgreSQL via sqlx. The sealing path runs inside one transaction so
// the workspace lock, snapshot, submission and grant land atomically.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/audit"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/clarification"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/request"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/schema"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/submission"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/template"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/workspace"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.SchemaStore = (*Store)(nil)
var _ storage.TemplateStore = (*Store)(nil)
var _ storage.RequestStore = (*Store)(nil)
var _ storage.WorkspaceStore = (*Store)(nil)
var _ storage.SubmissionStore = (*Store)(nil)
var _ storage.ClarificationStore = (*Store)(nil)
var _ storage.AuditStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// translate maps driver errors onto the storage sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return storage.ErrConflict
	}
	return err
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// --- SchemaStore ------------------------------------------------------------

func (s *Store) CreateSchema(ctx context.Context, sc schema.Schema) (schema.Schema, error) {
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sc.CreatedAt = now
	sc.UpdatedAt = now

	itemsJSON, err := json.Marshal(sc.Items)
	if err != nil {
		return schema.Schema{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schemas (id, template_id, version, items, published, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sc.ID, sc.TemplateID, sc.Version, itemsJSON, sc.Published, sc.CreatedAt, sc.UpdatedAt)
	if err != nil {
		return schema.Schema{}, translate(err)
	}
	return sc, nil
}

func (s *Store) UpdateSchema(ctx context.Context, sc schema.Schema) (schema.Schema, error) {
	sc.UpdatedAt = time.Now().UTC()

	itemsJSON, err := json.Marshal(sc.Items)
	if err != nil {
		return schema.Schema{}, err
	}

	var publishedAt interface{}
	if !sc.PublishedAt.IsZero() {
		publishedAt = sc.PublishedAt.UTC()
	}

	// Published versions are frozen; only unpublished rows may change.
	result, err := s.db.ExecContext(ctx, `
		UPDATE schemas
		SET items = $2, published = $3, published_at = $4, updated_at = $5
		WHERE id = $1 AND published = FALSE
	`, sc.ID, itemsJSON, sc.Published, publishedAt, sc.UpdatedAt)
	if err != nil {
		return schema.Schema{}, translate(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		if _, getErr := s.GetSchema(ctx, sc.ID); getErr != nil {
			return schema.Schema{}, getErr
		}
		return schema.Schema{}, storage.ErrConflict
	}
	return sc, nil
}

func (s *Store) GetSchema(ctx context.Context, id string) (schema.Schema, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, template_id, version, items, published, created_at, updated_at, published_at
		FROM schemas
		WHERE id = $1
	`, id)
	return scanSchema(row)
}

func (s *Store) ListSchemaVersions(ctx context.Context, templateID string) ([]schema.Schema, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, template_id, version, items, published, created_at, updated_at, published_at
		FROM schemas
		WHERE template_id = $1
		ORDER BY version
	`, templateID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var result []schema.Schema
	for rows.Next() {
		sc, err := scanSchema(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sc)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSchema(row rowScanner) (schema.Schema, error) {
	var (
		sc          schema.Schema
		itemsRaw    []byte
		publishedAt sql.NullTime
	)
	if err := row.Scan(&sc.ID, &sc.TemplateID, &sc.Version, &itemsRaw, &sc.Published, &sc.CreatedAt, &sc.UpdatedAt, &publishedAt); err != nil {
		return schema.Schema{}, translate(err)
	}
	if len(itemsRaw) > 0 {
		_ = json.Unmarshal(itemsRaw, &sc.Items)
	}
	if publishedAt.Valid {
		sc.PublishedAt = publishedAt.Time
	}
	return sc, nil
}

// --- TemplateStore ----------------------------------------------------------

func (s *Store) CreateTemplate(ctx context.Context, t template.Template) (template.Template, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO templates (id, issuer_org_id, name, category, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.IssuerOrgID, t.Name, t.Category, t.Status, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return template.Template{}, translate(err)
	}
	return t, nil
}

func (s *Store) UpdateTemplate(ctx context.Context, t template.Template) (template.Template, error) {
	t.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE templates
		SET name = $2, category = $3, status = $4, updated_at = $5
		WHERE id = $1
	`, t.ID, t.Name, t.Category, t.Status, t.UpdatedAt)
	if err != nil {
		return template.Template{}, translate(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return template.Template{}, storage.ErrNotFound
	}
	return t, nil
}

func (s *Store) GetTemplate(ctx context.Context, id string) (template.Template, error) {
	var t template.Template
	err := s.db.QueryRowContext(ctx, `
		SELECT id, issuer_org_id, name, category, status, created_at, updated_at
		FROM templates
		WHERE id = $1
	`, id).Scan(&t.ID, &t.IssuerOrgID, &t.Name, &t.Category, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return template.Template{}, translate(err)
	}
	return t, nil
}

func (s *Store) ListTemplates(ctx context.Context, issuerOrgID string) ([]template.Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, issuer_org_id, name, category, status, created_at, updated_at
		FROM templates
		WHERE issuer_org_id = $1
		ORDER BY created_at
	`, issuerOrgID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var result []template.Template
	for rows.Next() {
		var t template.Template
		if err := rows.Scan(&t.ID, &t.IssuerOrgID, &t.Name, &t.Category, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// --- RequestStore -----------------------------------------------------------

func (s *Store) CreateRequest(ctx context.Context, req request.Request) (request.Request, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (id, template_id, issuer_org_id, issuer_user_id, schema_id, title, deadline_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, req.ID, req.TemplateID, req.IssuerOrgID, req.IssuerUserID, req.SchemaID, req.Title, nullTime(req.DeadlineAt), req.Status, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return request.Request{}, translate(err)
	}
	return req, nil
}

func (s *Store) UpdateRequest(ctx context.Context, req request.Request) (request.Request, error) {
	req.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE requests
		SET title = $2, deadline_at = $3, status = $4, schema_id = $5, updated_at = $6
		WHERE id = $1
	`, req.ID, req.Title, nullTime(req.DeadlineAt), req.Status, req.SchemaID, req.UpdatedAt)
	if err != nil {
		return request.Request{}, translate(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return request.Request{}, storage.ErrNotFound
	}
	return req, nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (request.Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, template_id, issuer_org_id, issuer_user_id, schema_id, title, deadline_at, status, created_at, updated_at
		FROM requests
		WHERE id = $1
	`, id)
	return scanRequest(row)
}

func (s *Store) ListRequests(ctx context.Context, issuerOrgID string) ([]request.Request, error) {
	return s.queryRequests(ctx, `
		SELECT id, template_id, issuer_org_id, issuer_user_id, schema_id, title, deadline_at, status, created_at, updated_at
		FROM requests
		WHERE issuer_org_id = $1
		ORDER BY created_at
	`, issuerOrgID)
}

func (s *Store) ListRequestsByStatus(ctx context.Context, status request.Status) ([]request.Request, error) {
	return s.queryRequests(ctx, `
		SELECT id, template_id, issuer_org_id, issuer_user_id, schema_id, title, deadline_at, status, created_at, updated_at
		FROM requests
		WHERE status = $1
		ORDER BY created_at
	`, status)
}

func (s *Store) queryRequests(ctx context.Context, query string, arg interface{}) ([]request.Request, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var result []request.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	return result, rows.Err()
}

func scanRequest(row rowScanner) (request.Request, error) {
	var (
		req      request.Request
		deadline sql.NullTime
	)
	if err := row.Scan(&req.ID, &req.TemplateID, &req.IssuerOrgID, &req.IssuerUserID, &req.SchemaID, &req.Title, &deadline, &req.Status, &req.CreatedAt, &req.UpdatedAt); err != nil {
		return request.Request{}, translate(err)
	}
	if deadline.Valid {
		t := deadline.Time
		req.DeadlineAt = &t
	}
	return req, nil
}

func (s *Store) CreateRecipient(ctx context.Context, rec request.Recipient) (request.Recipient, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recipients (id, request_id, org_id, email, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.RequestID, rec.OrgID, rec.Email, rec.Status, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return request.Recipient{}, translate(err)
	}
	return rec, nil
}

func (s *Store) UpdateRecipient(ctx context.Context, rec request.Recipient) (request.Recipient, error) {
	rec.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE recipients
		SET status = $2, updated_at = $3
		WHERE id = $1
	`, rec.ID, rec.Status, rec.UpdatedAt)
	if err != nil {
		return request.Recipient{}, translate(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return request.Recipient{}, storage.ErrNotFound
	}
	return rec, nil
}

func (s *Store) GetRecipient(ctx context.Context, id string) (request.Recipient, error) {
	var rec request.Recipient
	err := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, org_id, email, status, created_at, updated_at
		FROM recipients
		WHERE id = $1
	`, id).Scan(&rec.ID, &rec.RequestID, &rec.OrgID, &rec.Email, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return request.Recipient{}, translate(err)
	}
	return rec, nil
}

func (s *Store) GetRecipientByOrg(ctx context.Context, requestID, orgID string) (request.Recipient, error) {
	var rec request.Recipient
	err := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, org_id, email, status, created_at, updated_at
		FROM recipients
		WHERE request_id = $1 AND lower(org_id) = lower($2)
	`, requestID, orgID).Scan(&rec.ID, &rec.RequestID, &rec.OrgID, &rec.Email, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return request.Recipient{}, translate(err)
	}
	return rec, nil
}

func (s *Store) ListRecipients(ctx context.Context, requestID string) ([]request.Recipient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, org_id, email, status, created_at, updated_at
		FROM recipients
		WHERE request_id = $1
		ORDER BY created_at
	`, requestID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var result []request.Recipient
	for rows.Next() {
		var rec request.Recipient
		if err := rows.Scan(&rec.ID, &rec.RequestID, &rec.OrgID, &rec.Email, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *Store) CreateSignOffRequirement(ctx context.Context, req request.SignOffRequirement) (request.SignOffRequirement, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signoff_requirements (id, request_id, role, quorum, block_on_reject, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, req.ID, req.RequestID, req.Role, req.Quorum, req.BlockOnReject, req.CreatedAt)
	if err != nil {
		return request.SignOffRequirement{}, translate(err)
	}
	return req, nil
}

func (s *Store) ListSignOffRequirements(ctx context.Context, requestID string) ([]request.SignOffRequirement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, role, quorum, block_on_reject, created_at
		FROM signoff_requirements
		WHERE request_id = $1
		ORDER BY created_at
	`, requestID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var result []request.SignOffRequirement
	for rows.Next() {
		var req request.SignOffRequirement
		if err := rows.Scan(&req.ID, &req.RequestID, &req.Role, &req.Quorum, &req.BlockOnReject, &req.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	return result, rows.Err()
}

// --- WorkspaceStore ---------------------------------------------------------

func (s *Store) CreateWorkspace(ctx context.Context, ws workspace.Workspace) (workspace.Workspace, error) {
	if ws.ID == "" {
		ws.ID = uuid.NewString()
	}
	if ws.Status == "" {
		ws.Status = workspace.StatusActive
	}
	now := time.Now().UTC()
	ws.CreatedAt = now
	ws.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, request_id, recipient_org_id, created_by_user_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ws.ID, ws.RequestID, ws.RecipientOrgID, ws.CreatedByUserID, ws.Status, ws.CreatedAt, ws.UpdatedAt)
	if err != nil {
		return workspace.Workspace{}, translate(err)
	}
	return ws, nil
}

func (s *Store) GetWorkspace(ctx context.Context, id string) (workspace.Workspace, error) {
	var ws workspace.Workspace
	err := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, recipient_org_id, created_by_user_id, status, created_at, updated_at
		FROM workspaces
		WHERE id = $1
	`, id).Scan(&ws.ID, &ws.RequestID, &ws.RecipientOrgID, &ws.CreatedByUserID, &ws.Status, &ws.CreatedAt, &ws.UpdatedAt)
	if err != nil {
		return workspace.Workspace{}, translate(err)
	}
	return ws, nil
}

func (s *Store) GetWorkspaceByRequestOrg(ctx context.Context, requestID, recipientOrgID string) (workspace.Workspace, error) {
	var ws workspace.Workspace
	err := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, recipient_org_id, created_by_user_id, status, created_at, updated_at
		FROM workspaces
		WHERE request_id = $1 AND lower(recipient_org_id) = lower($2)
	`, requestID, recipientOrgID).Scan(&ws.ID, &ws.RequestID, &ws.RecipientOrgID, &ws.CreatedByUserID, &ws.Status, &ws.CreatedAt, &ws.UpdatedAt)
	if err != nil {
		return workspace.Workspace{}, translate(err)
	}
	return ws, nil
}

// requireActive guards child writes against locked workspaces.
func (s *Store) requireActive(ctx context.Context, q sqlx.QueryerContext, workspaceID string) error {
	var status workspace.Status
	err := q.QueryRowxContext(ctx, `SELECT status FROM workspaces WHERE id = $1`, workspaceID).Scan(&status)
	if err != nil {
		return translate(err)
	}
	if status != workspace.StatusActive {
		return storage.ErrWorkspaceLocked
	}
	return nil
}

func (s *Store) UpsertAnswer(ctx context.Context, ans workspace.Answer) (workspace.Answer, error) {
	if err := s.requireActive(ctx, s.db, ans.WorkspaceID); err != nil {
		return workspace.Answer{}, err
	}
	if ans.ID == "" {
		ans.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	ans.CreatedAt = now
	ans.UpdatedAt = now

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO answers (id, workspace_id, requirement_key, value_json, vatr_source_path, asset_id, updated_by_user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (workspace_id, requirement_key) DO UPDATE
		SET value_json = EXCLUDED.value_json,
		    vatr_source_path = EXCLUDED.vatr_source_path,
		    asset_id = EXCLUDED.asset_id,
		    updated_by_user_id = EXCLUDED.updated_by_user_id,
		    updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`, ans.ID, ans.WorkspaceID, ans.RequirementKey, ans.ValueJSON, ans.VATRSourcePath, ans.AssetID, ans.UpdatedByUserID, ans.CreatedAt, ans.UpdatedAt).
		Scan(&ans.ID, &ans.CreatedAt)
	if err != nil {
		return workspace.Answer{}, translate(err)
	}
	return ans, nil
}

func (s *Store) ListAnswers(ctx context.Context, workspaceID string) ([]workspace.Answer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, requirement_key, value_json, vatr_source_path, asset_id, updated_by_user_id, created_at, updated_at
		FROM answers
		WHERE workspace_id = $1
		ORDER BY requirement_key
	`, workspaceID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var result []workspace.Answer
	for rows.Next() {
		var ans workspace.Answer
		if err := rows.Scan(&ans.ID, &ans.WorkspaceID, &ans.RequirementKey, &ans.ValueJSON, &ans.VATRSourcePath, &ans.AssetID, &ans.UpdatedByUserID, &ans.CreatedAt, &ans.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, ans)
	}
	return result, rows.Err()
}

func (s *Store) CreateDocument(ctx context.Context, doc workspace.Document) (workspace.Document, error) {
	if err := s.requireActive(ctx, s.db, doc.WorkspaceID); err != nil {
		return workspace.Document{}, err
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	doc.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, workspace_id, requirement_key, file_url, file_name, content_hash, uploaded_by_user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, doc.ID, doc.WorkspaceID, doc.RequirementKey, doc.FileURL, doc.FileName, doc.ContentHash, doc.UploadedByUserID, doc.CreatedAt)
	if err != nil {
		return workspace.Document{}, translate(err)
	}
	return doc, nil
}

func (s *Store) ListDocuments(ctx context.Context, workspaceID string) ([]workspace.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, requirement_key, file_url, file_name, content_hash, uploaded_by_user_id, created_at
		FROM documents
		WHERE workspace_id = $1
		ORDER BY created_at
	`, workspaceID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var result []workspace.Document
	for rows.Next() {
		var doc workspace.Document
		if err := rows.Scan(&doc.ID, &doc.WorkspaceID, &doc.RequirementKey, &doc.FileURL, &doc.FileName, &doc.ContentHash, &doc.UploadedByUserID, &doc.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, doc)
	}
	return result, rows.Err()
}

func (s *Store) CreateAssetLink(ctx context.Context, link workspace.AssetLink) (workspace.AssetLink, error) {
	if err := s.requireActive(ctx, s.db, link.WorkspaceID); err != nil {
		return workspace.AssetLink{}, err
	}
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	link.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO asset_links (id, workspace_id, asset_id, label, vatr_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, link.ID, link.WorkspaceID, link.AssetID, link.Label, link.VATRJSON, link.CreatedAt)
	if err != nil {
		return workspace.AssetLink{}, translate(err)
	}
	return link, nil
}

func (s *Store) DeleteAssetLink(ctx context.Context, workspaceID, linkID string) error {
	if err := s.requireActive(ctx, s.db, workspaceID); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM asset_links WHERE id = $1 AND workspace_id = $2
	`, linkID, workspaceID)
	if err != nil {
		return translate(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) GetAssetLink(ctx context.Context, workspaceID, linkID string) (workspace.AssetLink, error) {
	var link workspace.AssetLink
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, asset_id, label, vatr_json, created_at
		FROM asset_links
		WHERE id = $1 AND workspace_id = $2
	`, linkID, workspaceID).Scan(&link.ID, &link.WorkspaceID, &link.AssetID, &link.Label, &link.VATRJSON, &link.CreatedAt)
	if err != nil {
		return workspace.AssetLink{}, translate(err)
	}
	return link, nil
}

func (s *Store) ListAssetLinks(ctx context.Context, workspaceID string) ([]workspace.AssetLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, asset_id, label, vatr_json, created_at
		FROM asset_links
		WHERE workspace_id = $1
		ORDER BY created_at
	`, workspaceID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var result []workspace.AssetLink
	for rows.Next() {
		var link workspace.AssetLink
		if err := rows.Scan(&link.ID, &link.WorkspaceID, &link.AssetID, &link.Label, &link.VATRJSON, &link.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, link)
	}
	return result, rows.Err()
}

func (s *Store) CreateSignOffEvent(ctx context.Context, ev workspace.SignOffEvent) (workspace.SignOffEvent, error) {
	if err := s.requireActive(ctx, s.db, ev.WorkspaceID); err != nil {
		return workspace.SignOffEvent{}, err
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signoff_events (id, workspace_id, requirement_id, signed_by_user_id, status, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ev.ID, ev.WorkspaceID, ev.RequirementID, ev.SignedByUserID, ev.Status, ev.Notes, ev.CreatedAt)
	if err != nil {
		return workspace.SignOffEvent{}, translate(err)
	}
	return ev, nil
}

func (s *Store) ListSignOffEvents(ctx context.Context, workspaceID string) ([]workspace.SignOffEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, requirement_id, signed_by_user_id, status, notes, created_at
		FROM signoff_events
		WHERE workspace_id = $1
		ORDER BY created_at
	`, workspaceID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var result []workspace.SignOffEvent
	for rows.Next() {
		var ev workspace.SignOffEvent
		if err := rows.Scan(&ev.ID, &ev.WorkspaceID, &ev.RequirementID, &ev.SignedByUserID, &ev.Status, &ev.Notes, &ev.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

// --- SubmissionStore --------------------------------------------------------

// SealWorkspace runs the entire sealing write set in one transaction,
// taking a row lock on the workspace so concurrent submits serialize.
func (s *Store) SealWorkspace(ctx context.Context, seal storage.Seal) (submission.Submission, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return submission.Submission{}, err
	}
	defer tx.Rollback()

	var status workspace.Status
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM workspaces WHERE id = $1 FOR UPDATE
	`, seal.Submission.WorkspaceID).Scan(&status)
	if err != nil {
		return submission.Submission{}, translate(err)
	}
	if status != workspace.StatusActive {
		return submission.Submission{}, storage.ErrWorkspaceLocked
	}

	var existing int
	err = tx.QueryRowContext(ctx, `
		SELECT count(*) FROM submissions WHERE workspace_id = $1
	`, seal.Submission.WorkspaceID).Scan(&existing)
	if err != nil {
		return submission.Submission{}, translate(err)
	}
	if existing > 0 {
		return submission.Submission{}, storage.ErrWorkspaceLocked
	}

	sub := seal.Submission

	// Freeze the workspace contents inside the transaction. The row lock
	// above serializes this read against concurrent child writes, so the
	// snapshot cannot miss an answer accepted before the lock.
	answers, err := sealAnswers(ctx, tx, sub.WorkspaceID)
	if err != nil {
		return submission.Submission{}, err
	}
	documents, err := sealDocuments(ctx, tx, sub.WorkspaceID)
	if err != nil {
		return submission.Submission{}, err
	}
	snap := storage.BuildSnapshot(sub.SnapshotID, sub.WorkspaceID, sub.SubmittedAt, answers, documents)

	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return submission.Submission{}, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (id, workspace_id, taken_at, content)
		VALUES ($1, $2, $3, $4)
	`, snap.ID(), snap.WorkspaceID(), snap.TakenAt(), snapJSON)
	if err != nil {
		return submission.Submission{}, translate(err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO submissions (id, workspace_id, request_id, recipient_org_id, submitted_by_user_id, snapshot_id, grant_id, status, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, sub.ID, sub.WorkspaceID, sub.RequestID, sub.RecipientOrgID, sub.SubmittedByUserID, sub.SnapshotID, sub.GrantID, sub.Status, sub.SubmittedAt)
	if err != nil {
		return submission.Submission{}, translate(err)
	}

	grant := seal.Grant
	_, err = tx.ExecContext(ctx, `
		INSERT INTO access_grants (id, submission_id, grantee_org_id, scope, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, grant.ID, grant.SubmissionID, grant.GranteeOrgID, grant.Scope, grant.CreatedAt)
	if err != nil {
		return submission.Submission{}, translate(err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE workspaces SET status = $2, updated_at = $3 WHERE id = $1
	`, sub.WorkspaceID, workspace.StatusLocked, time.Now().UTC())
	if err != nil {
		return submission.Submission{}, translate(err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE recipients SET status = $3, updated_at = $4
		WHERE request_id = $1 AND lower(org_id) = lower($2)
	`, sub.RequestID, sub.RecipientOrgID, seal.RecipientStatus, time.Now().UTC())
	if err != nil {
		return submission.Submission{}, translate(err)
	}

	if err := tx.Commit(); err != nil {
		return submission.Submission{}, translate(err)
	}
	return sub, nil
}

func sealAnswers(ctx context.Context, q sqlx.QueryerContext, workspaceID string) ([]workspace.Answer, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, workspace_id, requirement_key, value_json, vatr_source_path, asset_id, updated_by_user_id, created_at, updated_at
		FROM answers
		WHERE workspace_id = $1
		ORDER BY requirement_key
	`, workspaceID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var result []workspace.Answer
	for rows.Next() {
		var ans workspace.Answer
		if err := rows.Scan(&ans.ID, &ans.WorkspaceID, &ans.RequirementKey, &ans.ValueJSON, &ans.VATRSourcePath, &ans.AssetID, &ans.UpdatedByUserID, &ans.CreatedAt, &ans.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, ans)
	}
	return result, rows.Err()
}

func sealDocuments(ctx context.Context, q sqlx.QueryerContext, workspaceID string) ([]workspace.Document, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, workspace_id, requirement_key, file_url, file_name, content_hash, uploaded_by_user_id, created_at
		FROM documents
		WHERE workspace_id = $1
		ORDER BY created_at
	`, workspaceID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var result []workspace.Document
	for rows.Next() {
		var doc workspace.Document
		if err := rows.Scan(&doc.ID, &doc.WorkspaceID, &doc.RequirementKey, &doc.FileURL, &doc.FileName, &doc.ContentHash, &doc.UploadedByUserID, &doc.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, doc)
	}
	return result, rows.Err()
}

func (s *Store) GetSubmission(ctx context.Context, id string) (submission.Submission, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, request_id, recipient_org_id, submitted_by_user_id, snapshot_id, grant_id, status, submitted_at, reviewed_at, reviewed_by_user_id, review_notes
		FROM submissions
		WHERE id = $1
	`, id)
	return scanSubmission(row)
}

func (s *Store) GetSubmissionByWorkspace(ctx context.Context, workspaceID string) (submission.Submission, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, request_id, recipient_org_id, submitted_by_user_id, snapshot_id, grant_id, status, submitted_at, reviewed_at, reviewed_by_user_id, review_notes
		FROM submissions
		WHERE workspace_id = $1
	`, workspaceID)
	return scanSubmission(row)
}

func (s *Store) ListSubmissions(ctx context.Context, requestID string) ([]submission.Submission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, request_id, recipient_org_id, submitted_by_user_id, snapshot_id, grant_id, status, submitted_at, reviewed_at, reviewed_by_user_id, review_notes
		FROM submissions
		WHERE request_id = $1
		ORDER BY submitted_at
	`, requestID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var result []submission.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}

func scanSubmission(row rowScanner) (submission.Submission, error) {
	var (
		sub        submission.Submission
		reviewedAt sql.NullTime
		reviewedBy sql.NullString
		notes      sql.NullString
	)
	if err := row.Scan(&sub.ID, &sub.WorkspaceID, &sub.RequestID, &sub.RecipientOrgID, &sub.SubmittedByUserID, &sub.SnapshotID, &sub.GrantID, &sub.Status, &sub.SubmittedAt, &reviewedAt, &reviewedBy, &notes); err != nil {
		return submission.Submission{}, translate(err)
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		sub.ReviewedAt = &t
	}
	sub.ReviewedByUserID = reviewedBy.String
	sub.ReviewNotes = notes.String
	return sub, nil
}

func (s *Store) UpdateSubmissionReview(ctx context.Context, sub submission.Submission) (submission.Submission, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE submissions
		SET status = $2, reviewed_at = $3, reviewed_by_user_id = $4, review_notes = $5
		WHERE id = $1
	`, sub.ID, sub.Status, nullTime(sub.ReviewedAt), sub.ReviewedByUserID, sub.ReviewNotes)
	if err != nil {
		return submission.Submission{}, translate(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return submission.Submission{}, storage.ErrNotFound
	}
	return sub, nil
}

func (s *Store) GetSnapshot(ctx context.Context, id string) (submission.Snapshot, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT content FROM snapshots WHERE id = $1
	`, id).Scan(&content)
	if err != nil {
		return submission.Snapshot{}, translate(err)
	}
	var snap submission.Snapshot
	if err := json.Unmarshal(content, &snap); err != nil {
		return submission.Snapshot{}, err
	}
	return snap, nil
}

func (s *Store) GetGrant(ctx context.Context, id string) (submission.AccessGrant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, submission_id, grantee_org_id, scope, created_at, revoked_at
		FROM access_grants
		WHERE id = $1
	`, id)
	return scanGrant(row)
}

func (s *Store) FindGrant(ctx context.Context, submissionID, granteeOrgID string) (submission.AccessGrant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, submission_id, grantee_org_id, scope, created_at, revoked_at
		FROM access_grants
		WHERE submission_id = $1 AND lower(grantee_org_id) = lower($2)
	`, submissionID, granteeOrgID)
	return scanGrant(row)
}

func scanGrant(row rowScanner) (submission.AccessGrant, error) {
	var (
		grant     submission.AccessGrant
		revokedAt sql.NullTime
	)
	if err := row.Scan(&grant.ID, &grant.SubmissionID, &grant.GranteeOrgID, &grant.Scope, &grant.CreatedAt, &revokedAt); err != nil {
		return submission.AccessGrant{}, translate(err)
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		grant.RevokedAt = &t
	}
	return grant, nil
}

func (s *Store) RevokeGrant(ctx context.Context, grantID string, at time.Time) (submission.AccessGrant, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE access_grants SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL
	`, grantID, at.UTC())
	if err != nil {
		return submission.AccessGrant{}, translate(err)
	}
	return s.GetGrant(ctx, grantID)
}

// --- ClarificationStore -----------------------------------------------------

func (s *Store) CreateClarification(ctx context.Context, c clarification.Clarification) (clarification.Clarification, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clarifications (id, request_id, submission_id, from_org_id, from_user_id, to_org_id, parent_id, message, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, c.ID, c.RequestID, c.SubmissionID, c.FromOrgID, c.FromUserID, c.ToOrgID, c.ParentID, c.Message, c.Status, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return clarification.Clarification{}, translate(err)
	}
	return c, nil
}

func (s *Store) UpdateClarification(ctx context.Context, c clarification.Clarification) (clarification.Clarification, error) {
	c.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE clarifications SET status = $2, updated_at = $3 WHERE id = $1
	`, c.ID, c.Status, c.UpdatedAt)
	if err != nil {
		return clarification.Clarification{}, translate(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return clarification.Clarification{}, storage.ErrNotFound
	}
	return c, nil
}

func (s *Store) GetClarification(ctx context.Context, id string) (clarification.Clarification, error) {
	var c clarification.Clarification
	err := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, submission_id, from_org_id, from_user_id, to_org_id, parent_id, message, status, created_at, updated_at
		FROM clarifications
		WHERE id = $1
	`, id).Scan(&c.ID, &c.RequestID, &c.SubmissionID, &c.FromOrgID, &c.FromUserID, &c.ToOrgID, &c.ParentID, &c.Message, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return clarification.Clarification{}, translate(err)
	}
	return c, nil
}

func (s *Store) ListClarifications(ctx context.Context, requestID string) ([]clarification.Clarification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, submission_id, from_org_id, from_user_id, to_org_id, parent_id, message, status, created_at, updated_at
		FROM clarifications
		WHERE request_id = $1
		ORDER BY created_at
	`, requestID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var result []clarification.Clarification
	for rows.Next() {
		var c clarification.Clarification
		if err := rows.Scan(&c.ID, &c.RequestID, &c.SubmissionID, &c.FromOrgID, &c.FromUserID, &c.ToOrgID, &c.ParentID, &c.Message, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// --- AuditStore -------------------------------------------------------------

func (s *Store) AppendEvent(ctx context.Context, ev audit.Event) (audit.Event, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	detailsJSON, err := json.Marshal(ev.Details)
	if err != nil {
		return audit.Event{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, request_id, workspace_id, submission_id, event_type, actor_user_id, actor_org_id, target_type, target_id, details, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, ev.ID, ev.RequestID, ev.WorkspaceID, ev.SubmissionID, ev.EventType, ev.ActorUserID, ev.ActorOrgID, ev.TargetType, ev.TargetID, detailsJSON, ev.Timestamp)
	if err != nil {
		return audit.Event{}, translate(err)
	}
	return ev, nil
}

func (s *Store) ListEventsByRequest(ctx context.Context, requestID string) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, workspace_id, submission_id, event_type, actor_user_id, actor_org_id, target_type, target_id, details, ts
		FROM audit_events
		WHERE request_id = $1
		ORDER BY ts
	`, requestID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var result []audit.Event
	for rows.Next() {
		var (
			ev         audit.Event
			detailsRaw []byte
		)
		if err := rows.Scan(&ev.ID, &ev.RequestID, &ev.WorkspaceID, &ev.SubmissionID, &ev.EventType, &ev.ActorUserID, &ev.ActorOrgID, &ev.TargetType, &ev.TargetID, &detailsRaw, &ev.Timestamp); err != nil {
			return nil, err
		}
		if len(detailsRaw) > 0 {
			_ = json.Unmarshal(detailsRaw, &ev.Details)
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}
