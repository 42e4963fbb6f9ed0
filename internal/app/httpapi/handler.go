// Package httpapi exposes the workflow engine over REST.
package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	app "github.com/kaykluz/kiisha-dev-sub002/internal/app"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/identity"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/schema"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/submission"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/workspace"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/metrics"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/services/requests"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/services/workspaces"
	apperrors "github.com/kaykluz/kiisha-dev-sub002/internal/errors"
	"github.com/kaykluz/kiisha-dev-sub002/internal/middleware"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app    *app.Application
	access *accessLog
}

// NewHandler returns a router exposing the core REST API.
func NewHandler(application *app.Application) http.Handler {
	return NewHandlerWithAccessLog(application, nil)
}

// NewHandlerWithAccessLog wires an optional persistent access-log sink.
func NewHandlerWithAccessLog(application *app.Application, sink AccessSink) http.Handler {
	h := &handler{app: application, access: newAccessLog(200, sink)}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(h.recordAccess)

	v1.HandleFunc("/templates", h.createTemplate).Methods(http.MethodPost)
	v1.HandleFunc("/templates", h.listTemplates).Methods(http.MethodGet)
	v1.HandleFunc("/templates/{id}", h.getTemplate).Methods(http.MethodGet)
	v1.HandleFunc("/templates/{id}/activate", h.activateTemplate).Methods(http.MethodPost)
	v1.HandleFunc("/templates/{id}/archive", h.archiveTemplate).Methods(http.MethodPost)
	v1.HandleFunc("/templates/{id}/schemas", h.createSchema).Methods(http.MethodPost)
	v1.HandleFunc("/templates/{id}/schemas", h.listSchemaVersions).Methods(http.MethodGet)

	v1.HandleFunc("/schemas/{id}", h.getSchema).Methods(http.MethodGet)
	v1.HandleFunc("/schemas/{id}/items", h.addSchemaItem).Methods(http.MethodPost)
	v1.HandleFunc("/schemas/{id}/publish", h.publishSchema).Methods(http.MethodPost)
	v1.HandleFunc("/schemas/{id}/versions", h.newSchemaVersion).Methods(http.MethodPost)

	v1.HandleFunc("/requests", h.createRequest).Methods(http.MethodPost)
	v1.HandleFunc("/requests", h.listRequests).Methods(http.MethodGet)
	v1.HandleFunc("/requests/bulk-issue", h.bulkIssue).Methods(http.MethodPost)
	v1.HandleFunc("/requests/{id}", h.getRequest).Methods(http.MethodGet)
	v1.HandleFunc("/requests/{id}/issue", h.issueRequest).Methods(http.MethodPost)
	v1.HandleFunc("/requests/{id}/complete", h.completeRequest).Methods(http.MethodPost)
	v1.HandleFunc("/requests/{id}/close", h.closeRequest).Methods(http.MethodPost)
	v1.HandleFunc("/requests/{id}/decline", h.declineRequest).Methods(http.MethodPost)
	v1.HandleFunc("/requests/{id}/recipients", h.inviteRecipient).Methods(http.MethodPost)
	v1.HandleFunc("/requests/{id}/recipients", h.listRecipients).Methods(http.MethodGet)
	v1.HandleFunc("/requests/{id}/signoff-requirements", h.defineSignOffRequirement).Methods(http.MethodPost)
	v1.HandleFunc("/requests/{id}/signoff-requirements", h.listSignOffRequirements).Methods(http.MethodGet)
	v1.HandleFunc("/requests/{id}/workspace", h.openWorkspace).Methods(http.MethodPost)
	v1.HandleFunc("/requests/{id}/submissions", h.listSubmissions).Methods(http.MethodGet)
	v1.HandleFunc("/requests/{id}/clarifications", h.listClarifications).Methods(http.MethodGet)
	v1.HandleFunc("/requests/{id}/events", h.listEvents).Methods(http.MethodGet)

	v1.HandleFunc("/workspaces/{id}", h.getWorkspace).Methods(http.MethodGet)
	v1.HandleFunc("/workspaces/{id}/answers", h.saveAnswer).Methods(http.MethodPut)
	v1.HandleFunc("/workspaces/{id}/answers", h.listAnswers).Methods(http.MethodGet)
	v1.HandleFunc("/workspaces/{id}/documents", h.uploadDocument).Methods(http.MethodPost)
	v1.HandleFunc("/workspaces/{id}/documents", h.listDocuments).Methods(http.MethodGet)
	v1.HandleFunc("/workspaces/{id}/assets", h.addAsset).Methods(http.MethodPost)
	v1.HandleFunc("/workspaces/{id}/assets", h.listAssets).Methods(http.MethodGet)
	v1.HandleFunc("/workspaces/{id}/assets/{linkID}", h.removeAsset).Methods(http.MethodDelete)
	v1.HandleFunc("/workspaces/{id}/assets/{linkID}/suggestions", h.suggestAnswers).Methods(http.MethodGet)
	v1.HandleFunc("/workspaces/{id}/suggestions/apply", h.applySuggestion).Methods(http.MethodPost)
	v1.HandleFunc("/workspaces/{id}/validate", h.validateWorkspace).Methods(http.MethodGet)
	v1.HandleFunc("/workspaces/{id}/signoffs", h.recordSignOff).Methods(http.MethodPost)
	v1.HandleFunc("/workspaces/{id}/signoffs", h.listSignOffs).Methods(http.MethodGet)
	v1.HandleFunc("/workspaces/{id}/submit", h.submit).Methods(http.MethodPost)

	v1.HandleFunc("/submissions/{id}", h.getSubmission).Methods(http.MethodGet)
	v1.HandleFunc("/submissions/{id}/snapshot", h.getSnapshot).Methods(http.MethodGet)
	v1.HandleFunc("/submissions/{id}/review", h.reviewSubmission).Methods(http.MethodPost)
	v1.HandleFunc("/submissions/{id}/revoke-grant", h.revokeGrant).Methods(http.MethodPost)
	v1.HandleFunc("/submissions/{id}/clarifications", h.createClarification).Methods(http.MethodPost)

	v1.HandleFunc("/clarifications/{id}/reply", h.replyClarification).Methods(http.MethodPost)

	return r
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

// Templates ------------------------------------------------------------------

func (h *handler) createTemplate(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	var payload struct {
		Name     string `json:"name"`
		Category string `json:"category"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, apperrors.InvalidInput("invalid request body: %v", err))
		return
	}
	tpl, err := h.app.Templates.Create(r.Context(), actor, payload.Name, payload.Category)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tpl)
}

func (h *handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	tpls, err := h.app.Templates.List(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpls)
}

func (h *handler) getTemplate(w http.ResponseWriter, r *http.Request) {
	_, ok := actorOf(w, r)
	if !ok {
		return
	}
	tpl, err := h.app.Templates.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (h *handler) activateTemplate(w http.ResponseWriter, r *http.Request) {
	h.setTemplateStatus(w, r, true)
}

func (h *handler) archiveTemplate(w http.ResponseWriter, r *http.Request) {
	h.setTemplateStatus(w, r, false)
}

func (h *handler) setTemplateStatus(w http.ResponseWriter, r *http.Request, activate bool) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	var err error
	var tpl interface{}
	if activate {
		tpl, err = h.app.Templates.Activate(r.Context(), actor, id)
	} else {
		tpl, err = h.app.Templates.Archive(r.Context(), actor, id)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

// Schemas --------------------------------------------------------------------

func (h *handler) createSchema(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	var payload struct {
		Items []schema.Item `json:"items"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, apperrors.InvalidInput("invalid request body: %v", err))
		return
	}
	sc, err := h.app.Schemas.CreateDraft(r.Context(), actor, mux.Vars(r)["id"], payload.Items)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

func (h *handler) listSchemaVersions(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorOf(w, r); !ok {
		return
	}
	versions, err := h.app.Schemas.ListVersions(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (h *handler) getSchema(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorOf(w, r); !ok {
		return
	}
	sc, err := h.app.Schemas.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (h *handler) addSchemaItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	var payload schema.Item
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, apperrors.InvalidInput("invalid request body: %v", err))
		return
	}
	sc, err := h.app.Schemas.AddItem(r.Context(), actor, mux.Vars(r)["id"], payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (h *handler) publishSchema(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	sc, err := h.app.Schemas.Publish(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (h *handler) newSchemaVersion(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	var payload struct {
		Items []schema.Item `json:"items"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, apperrors.InvalidInput("invalid request body: %v", err))
		return
	}
	sc, err := h.app.Schemas.NewVersion(r.Context(), actor, mux.Vars(r)["id"], payload.Items)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

// Requests -------------------------------------------------------------------

func (h *handler) createRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	var payload struct {
		TemplateID string     `json:"template_id"`
		SchemaID   string     `json:"schema_id"`
		Title      string     `json:"title"`
		DeadlineAt *time.Time `json:"deadline_at"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, apperrors.InvalidInput("invalid request body: %v", err))
		return
	}
	req, err := h.app.Requests.Create(r.Context(), actor, requests.CreateInput{
		TemplateID: payload.TemplateID,
		SchemaID:   payload.SchemaID,
		Title:      payload.Title,
		DeadlineAt: payload.DeadlineAt,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *handler) listRequests(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	reqs, err := h.app.Requests.List(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (h *handler) getRequest(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorOf(w, r); !ok {
		return
	}
	req, err := h.app.Requests.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *handler) issueRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	req, err := h.app.Requests.Issue(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *handler) completeRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	req, err := h.app.Requests.Complete(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *handler) closeRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	req, err := h.app.Requests.Close(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *handler) declineRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	rec, err := h.app.Requests.Decline(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) inviteRecipient(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	var payload struct {
		OrgID string `json:"org_id"`
		Email string `json:"email"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, apperrors.InvalidInput("invalid request body: %v", err))
		return
	}
	rec, err := h.app.Requests.Invite(r.Context(), actor, mux.Vars(r)["id"], payload.OrgID, payload.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *handler) listRecipients(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	recs, err := h.app.Requests.ListRecipients(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *handler) bulkIssue(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	var payload requests.BulkIssueInput
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, apperrors.InvalidInput("invalid request body: %v", err))
		return
	}
	results, err := h.app.Requests.BulkIssue(r.Context(), actor, payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// Sign-off -------------------------------------------------------------------

func (h *handler) defineSignOffRequirement(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	var payload struct {
		Role          string `json:"role"`
		Quorum        int    `json:"quorum"`
		BlockOnReject bool   `json:"block_on_reject"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, apperrors.InvalidInput("invalid request body: %v", err))
		return
	}
	req, err := h.app.SignOff.DefineRequirement(r.Context(), actor, mux.Vars(r)["id"], payload.Role, payload.Quorum, payload.BlockOnReject)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *handler) listSignOffRequirements(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorOf(w, r); !ok {
		return
	}
	reqs, err := h.app.SignOff.ListRequirements(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (h *handler) recordSignOff(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	var payload struct {
		RequirementID string `json:"requirement_id"`
		Decision      string `json:"decision"`
		Notes         string `json:"notes"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, apperrors.InvalidInput("invalid request body: %v", err))
		return
	}
	ev, err := h.app.SignOff.Record(r.Context(), actor, mux.Vars(r)["id"], payload.RequirementID, workspace.SignOffDecision(payload.Decision), payload.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (h *handler) listSignOffs(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorOf(w, r); !ok {
		return
	}
	evs, err := h.app.SignOff.ListEvents(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evs)
}

// Workspaces -----------------------------------------------------------------

func (h *handler) openWorkspace(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	ws, err := h.app.Workspaces.CreateOrGet(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

func (h *handler) getWorkspace(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	ws, err := h.app.Workspaces.Get(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

func (h *handler) saveAnswer(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	var payload struct {
		RequirementKey string          `json:"requirement_key"`
		Value          json.RawMessage `json:"value"`
		VATRSourcePath string          `json:"vatr_source_path"`
		AssetID        string          `json:"asset_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, apperrors.InvalidInput("invalid request body: %v", err))
		return
	}
	ans, err := h.app.Workspaces.SaveAnswer(r.Context(), actor, mux.Vars(r)["id"], workspaces.SaveAnswerInput{
		RequirementKey: payload.RequirementKey,
		ValueJSON:      string(payload.Value),
		VATRSourcePath: payload.VATRSourcePath,
		AssetID:        payload.AssetID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

func (h *handler) listAnswers(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	answers, err := h.app.Workspaces.ListAnswers(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answers)
}

func (h *handler) uploadDocument(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	var payload struct {
		RequirementKey string `json:"requirement_key"`
		FileName       string `json:"file_name"`
		ContentBase64  string `json:"content_base64"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, apperrors.InvalidInput("invalid request body: %v", err))
		return
	}
	data, err := base64.StdEncoding.DecodeString(payload.ContentBase64)
	if err != nil {
		writeError(w, apperrors.InvalidInput("content_base64 is not valid base64"))
		return
	}
	doc, err := h.app.Workspaces.UploadDocument(r.Context(), actor, mux.Vars(r)["id"], payload.RequirementKey, payload.FileName, data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (h *handler) listDocuments(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	docs, err := h.app.Workspaces.ListDocuments(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *handler) addAsset(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	var payload struct {
		AssetID string          `json:"asset_id"`
		Label   string          `json:"label"`
		VATR    json.RawMessage `json:"vatr"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, apperrors.InvalidInput("invalid request body: %v", err))
		return
	}
	link, err := h.app.Workspaces.AddAsset(r.Context(), actor, mux.Vars(r)["id"], payload.AssetID, payload.Label, string(payload.VATR))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

func (h *handler) listAssets(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	links, err := h.app.Workspaces.ListAssets(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, links)
}

func (h *handler) removeAsset(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	if err := h.app.Workspaces.RemoveAsset(r.Context(), actor, vars["id"], vars["linkID"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) suggestAnswers(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	suggestions, err := h.app.Workspaces.SuggestAnswers(r.Context(), actor, vars["id"], vars["linkID"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestions)
}

func (h *handler) applySuggestion(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	var payload workspaces.Suggestion
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, apperrors.InvalidInput("invalid request body: %v", err))
		return
	}
	ans, err := h.app.Workspaces.ApplySuggestion(r.Context(), actor, mux.Vars(r)["id"], payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

func (h *handler) validateWorkspace(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	report, err := h.app.Workspaces.Validate(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Submissions ----------------------------------------------------------------

func (h *handler) submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	sub, err := h.app.Submissions.Submit(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (h *handler) getSubmission(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	sub, err := h.app.Submissions.Get(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	snap, err := h.app.Submissions.GetSnapshot(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handler) listSubmissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	subs, err := h.app.Submissions.ListByRequest(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *handler) reviewSubmission(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	var payload struct {
		Status string `json:"status"`
		Notes  string `json:"notes"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, apperrors.InvalidInput("invalid request body: %v", err))
		return
	}
	sub, err := h.app.Submissions.Review(r.Context(), actor, mux.Vars(r)["id"], submission.Status(payload.Status), payload.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *handler) revokeGrant(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	grant, err := h.app.Submissions.RevokeGrant(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

// Clarifications -------------------------------------------------------------

func (h *handler) createClarification(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	var payload struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, apperrors.InvalidInput("invalid request body: %v", err))
		return
	}
	c, err := h.app.Clarifications.Create(r.Context(), actor, mux.Vars(r)["id"], payload.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *handler) replyClarification(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	var payload struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, apperrors.InvalidInput("invalid request body: %v", err))
		return
	}
	c, err := h.app.Clarifications.Respond(r.Context(), actor, mux.Vars(r)["id"], payload.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *handler) listClarifications(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	cs, err := h.app.Clarifications.List(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

// Audit ----------------------------------------------------------------------

func (h *handler) listEvents(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	events, err := h.app.AuditLog.ListByRequest(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// Helpers --------------------------------------------------------------------

func actorOf(w http.ResponseWriter, r *http.Request) (identity.Actor, bool) {
	actor, ok := middleware.ActorFrom(r.Context())
	if !ok {
		writeError(w, apperrors.Unauthorized("authentication required"))
		return identity.Actor{}, false
	}
	return actor, true
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	svcErr := apperrors.GetServiceError(err)
	if svcErr == nil {
		svcErr = apperrors.Internal(err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperrors.HTTPStatus(svcErr.Code))
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    svcErr.Code,
			"message": svcErr.Message,
			"details": svcErr.Details,
		},
	})
}
