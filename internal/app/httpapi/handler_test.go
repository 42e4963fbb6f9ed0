package httpapi

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	app "github.com/kaykluz/kiisha-dev-sub002/internal/app"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/identity"
	"github.com/kaykluz/kiisha-dev-sub002/internal/middleware"
)

var (
	issuer    = identity.Actor{UserID: "user-i", OrgIDs: []string{"org-issuer"}}
	recipient = identity.Actor{UserID: "user-r", OrgIDs: []string{"org-recipient"}}
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	application, err := app.New(app.Stores{}, app.Dependencies{}, nil)
	if err != nil {
		t.Fatalf("build application: %v", err)
	}
	return NewHandler(application)
}

// do performs an authenticated request and decodes the JSON response
// into out when a pointer is given.
func do(t *testing.T, h http.Handler, actor *identity.Actor, method, path string, payload, out interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Buffer = bytes.NewBuffer(nil)
	if payload != nil {
		if err := json.NewEncoder(body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, body)
	if actor != nil {
		req = req.WithContext(middleware.WithActor(req.Context(), *actor))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error.Code
}

func TestHealthzIsOpen(t *testing.T) {
	h := newTestHandler(t)
	rec := do(t, h, nil, http.MethodGet, "/healthz", nil, nil)
	expectStatus(t, rec, http.StatusOK)
}

func TestEndpointsRequireActor(t *testing.T) {
	h := newTestHandler(t)
	rec := do(t, h, nil, http.MethodGet, "/v1/requests", nil, nil)
	expectStatus(t, rec, http.StatusUnauthorized)
	if errorCode(t, rec) != "unauthorized" {
		t.Fatalf("unexpected error code %q", errorCode(t, rec))
	}
}

// TestFullWorkflowOverHTTP drives one request from template authoring
// through sealed submission and clarification, entirely over the REST
// surface.
func TestFullWorkflowOverHTTP(t *testing.T) {
	h := newTestHandler(t)

	var tpl struct {
		ID string `json:"id"`
	}
	rec := do(t, h, &issuer, http.MethodPost, "/v1/templates",
		map[string]string{"name": "Solar DD", "category": "solar"}, &tpl)
	expectStatus(t, rec, http.StatusCreated)

	var sc struct {
		ID string `json:"id"`
	}
	rec = do(t, h, &issuer, http.MethodPost, "/v1/templates/"+tpl.ID+"/schemas", map[string]interface{}{
		"items": []map[string]interface{}{
			{"key": "capacity_mw", "required": true, "data_type": "number"},
			{"key": "interconnect_doc", "type": "document", "required": true},
		},
	}, &sc)
	expectStatus(t, rec, http.StatusCreated)

	rec = do(t, h, &issuer, http.MethodPost, "/v1/schemas/"+sc.ID+"/publish", nil, nil)
	expectStatus(t, rec, http.StatusOK)

	var req struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	rec = do(t, h, &issuer, http.MethodPost, "/v1/requests", map[string]string{
		"template_id": tpl.ID, "schema_id": sc.ID, "title": "Solar DD 2026",
	}, &req)
	expectStatus(t, rec, http.StatusCreated)
	if req.Status != "draft" {
		t.Fatalf("expected draft request, got %q", req.Status)
	}

	rec = do(t, h, &issuer, http.MethodPost, "/v1/requests/"+req.ID+"/recipients",
		map[string]string{"org_id": "org-recipient"}, nil)
	expectStatus(t, rec, http.StatusCreated)

	rec = do(t, h, &issuer, http.MethodPost, "/v1/requests/"+req.ID+"/issue", nil, &req)
	expectStatus(t, rec, http.StatusOK)
	if req.Status != "issued" {
		t.Fatalf("expected issued request, got %q", req.Status)
	}

	var ws struct {
		ID string `json:"id"`
	}
	rec = do(t, h, &recipient, http.MethodPost, "/v1/requests/"+req.ID+"/workspace", nil, &ws)
	expectStatus(t, rec, http.StatusOK)

	rec = do(t, h, &recipient, http.MethodPut, "/v1/workspaces/"+ws.ID+"/answers", map[string]interface{}{
		"requirement_key": "capacity_mw", "value": 42.5,
	}, nil)
	expectStatus(t, rec, http.StatusOK)

	rec = do(t, h, &recipient, http.MethodPost, "/v1/workspaces/"+ws.ID+"/documents", map[string]string{
		"requirement_key": "interconnect_doc",
		"file_name":       "agreement.pdf",
		"content_base64":  base64.StdEncoding.EncodeToString([]byte("pdf-bytes")),
	}, nil)
	expectStatus(t, rec, http.StatusCreated)

	var report struct {
		IsComplete bool `json:"is_complete"`
	}
	rec = do(t, h, &recipient, http.MethodGet, "/v1/workspaces/"+ws.ID+"/validate", nil, &report)
	expectStatus(t, rec, http.StatusOK)
	if !report.IsComplete {
		t.Fatalf("expected complete workspace: %s", rec.Body.String())
	}

	var sub struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	rec = do(t, h, &recipient, http.MethodPost, "/v1/workspaces/"+ws.ID+"/submit", nil, &sub)
	expectStatus(t, rec, http.StatusCreated)
	if sub.Status != "submitted" {
		t.Fatalf("expected submitted, got %q", sub.Status)
	}

	// Sealing locks the workspace against further edits.
	rec = do(t, h, &recipient, http.MethodPut, "/v1/workspaces/"+ws.ID+"/answers", map[string]interface{}{
		"requirement_key": "capacity_mw", "value": 1,
	}, nil)
	expectStatus(t, rec, http.StatusConflict)
	if errorCode(t, rec) != "workspace_locked" {
		t.Fatalf("unexpected error code %q", errorCode(t, rec))
	}

	// A second submit is a duplicate.
	rec = do(t, h, &recipient, http.MethodPost, "/v1/workspaces/"+ws.ID+"/submit", nil, nil)
	expectStatus(t, rec, http.StatusConflict)

	// The issuer reads the sealed snapshot through the grant.
	var snap struct {
		Answers []struct {
			RequirementKey string `json:"requirement_key"`
		} `json:"answers"`
	}
	rec = do(t, h, &issuer, http.MethodGet, "/v1/submissions/"+sub.ID+"/snapshot", nil, &snap)
	expectStatus(t, rec, http.StatusOK)
	if len(snap.Answers) != 1 || snap.Answers[0].RequirementKey != "capacity_mw" {
		t.Fatalf("unexpected snapshot: %s", rec.Body.String())
	}

	rec = do(t, h, &issuer, http.MethodPost, "/v1/submissions/"+sub.ID+"/review",
		map[string]string{"status": "needs_clarification", "notes": "source unclear"}, nil)
	expectStatus(t, rec, http.StatusOK)

	var clar struct {
		ID string `json:"id"`
	}
	rec = do(t, h, &issuer, http.MethodPost, "/v1/submissions/"+sub.ID+"/clarifications",
		map[string]string{"message": "Which meter backs the capacity figure?"}, &clar)
	expectStatus(t, rec, http.StatusCreated)

	rec = do(t, h, &recipient, http.MethodPost, "/v1/clarifications/"+clar.ID+"/reply",
		map[string]string{"message": "Revenue meter M-204."}, nil)
	expectStatus(t, rec, http.StatusCreated)

	// The issuer-side ledger recorded the whole journey.
	var events []struct {
		EventType string `json:"event_type"`
	}
	rec = do(t, h, &issuer, http.MethodGet, "/v1/requests/"+req.ID+"/events", nil, &events)
	expectStatus(t, rec, http.StatusOK)
	if len(events) == 0 {
		t.Fatalf("expected audit events")
	}
	rec = do(t, h, &recipient, http.MethodGet, "/v1/requests/"+req.ID+"/events", nil, nil)
	expectStatus(t, rec, http.StatusForbidden)
}

func TestIncompleteSubmitMapsTo422(t *testing.T) {
	h := newTestHandler(t)

	var tpl struct {
		ID string `json:"id"`
	}
	do(t, h, &issuer, http.MethodPost, "/v1/templates", map[string]string{"name": "Wind DD"}, &tpl)
	var sc struct {
		ID string `json:"id"`
	}
	do(t, h, &issuer, http.MethodPost, "/v1/templates/"+tpl.ID+"/schemas", map[string]interface{}{
		"items": []map[string]interface{}{{"key": "capacity_mw", "required": true, "data_type": "number"}},
	}, &sc)
	do(t, h, &issuer, http.MethodPost, "/v1/schemas/"+sc.ID+"/publish", nil, nil)

	var req struct {
		ID string `json:"id"`
	}
	do(t, h, &issuer, http.MethodPost, "/v1/requests", map[string]string{
		"template_id": tpl.ID, "schema_id": sc.ID, "title": "Wind DD 2026",
	}, &req)
	do(t, h, &issuer, http.MethodPost, "/v1/requests/"+req.ID+"/recipients",
		map[string]string{"org_id": "org-recipient"}, nil)
	do(t, h, &issuer, http.MethodPost, "/v1/requests/"+req.ID+"/issue", nil, nil)

	var ws struct {
		ID string `json:"id"`
	}
	rec := do(t, h, &recipient, http.MethodPost, "/v1/requests/"+req.ID+"/workspace", nil, &ws)
	expectStatus(t, rec, http.StatusOK)

	rec = do(t, h, &recipient, http.MethodPost, "/v1/workspaces/"+ws.ID+"/submit", nil, nil)
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	if errorCode(t, rec) != "incomplete_submission" {
		t.Fatalf("unexpected error code %q", errorCode(t, rec))
	}
}
