package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"brokerflow/api/internal/auth"
	"brokerflow/api/internal/lock"
	"brokerflow/api/internal/store"
)

func newTestServer(t *testing.T) (*HTTPServer, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	return NewHTTPServer(env.svc, "*", nil), env
}

func issueTestToken(t *testing.T, role string, exp time.Time) string {
	t.Helper()
	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub:    "user-1",
		Tenant: "tenant-1",
		Role:   role,
		Exp:    exp.Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return token
}

func doJSON(t *testing.T, server *HTTPServer, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	var payload map[string]any
	if rr.Body.Len() > 0 && rr.Header().Get("Content-Type") == "application/json" {
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
		}
	}
	return rr, payload
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	rr, payload := doJSON(t, server, http.MethodGet, "/api/health", "", "")

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if payload["ok"] != true {
		t.Errorf("expected ok=true, got %v", payload["ok"])
	}
	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("expected CORS origin=*, got %v", origin)
	}
	if cache := rr.Header().Get("Cache-Control"); cache != "no-store" {
		t.Errorf("expected Cache-Control=no-store, got %v", cache)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("expected request id req-123, got %q", got)
	}

	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if got := rr.Header().Get("X-Request-ID"); len(got) != 16 {
		t.Errorf("expected generated 16 char request id, got %q", got)
	}
}

func TestOptionsRequest(t *testing.T) {
	server, _ := newTestServer(t)

	rr, _ := doJSON(t, server, http.MethodOptions, "/api/assignments", "", "")

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected status 204 for OPTIONS, got %d", rr.Code)
	}
}

func TestReadyEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	rr, payload := doJSON(t, server, http.MethodGet, "/api/ready", "", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if payload["status"] != "ready" {
		t.Errorf("expected status=ready, got %v", payload["status"])
	}
	checks := payload["checks"].(map[string]any)
	if checks["database"].(map[string]any)["status"] != "ok" {
		t.Errorf("unexpected database check %v", checks["database"])
	}
	if checks["redis"].(map[string]any)["status"] != "disabled" {
		t.Errorf("unexpected redis check %v", checks["redis"])
	}
}

func TestReadyEndpointDatabaseFailure(t *testing.T) {
	server, env := newTestServer(t)
	env.store.pingFn = func(context.Context) error {
		return errors.New("connection refused")
	}

	rr, payload := doJSON(t, server, http.MethodGet, "/api/ready", "", "")

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	if payload["ok"] != false || payload["status"] != "not_ready" {
		t.Errorf("unexpected payload %v", payload)
	}
	dbCheck := payload["checks"].(map[string]any)["database"].(map[string]any)
	if dbCheck["error"] != "connection refused" {
		t.Errorf("expected database error='connection refused', got %v", dbCheck["error"])
	}
}

func TestReadyEndpointChecksRedis(t *testing.T) {
	server, env := newTestServer(t)
	mr := miniredis.RunT(t)
	locker, err := lock.NewRedisLocker("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisLocker: %v", err)
	}
	t.Cleanup(func() { _ = locker.Close() })
	env.svc.locker = locker

	rr, payload := doJSON(t, server, http.MethodGet, "/api/ready", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if payload["checks"].(map[string]any)["redis"].(map[string]any)["status"] != "ok" {
		t.Fatalf("expected redis ok, got %v", payload["checks"])
	}

	mr.Close()
	rr, _ = doJSON(t, server, http.MethodGet, "/api/ready", "", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 with redis down, got %d", rr.Code)
	}
}

func TestProtectedRoutesRequireValidToken(t *testing.T) {
	server, _ := newTestServer(t)

	tests := []struct {
		name  string
		token string
	}{
		{name: "missing", token: ""},
		{name: "garbage", token: "not-a-token"},
		{name: "expired", token: issueTestToken(t, "agent", time.Now().Add(-time.Minute))},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr, payload := doJSON(t, server, http.MethodGet, "/api/assignments", tc.token, "")
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected status 401, got %d", rr.Code)
			}
			if payload["code"] != CodeUnauthorized {
				t.Fatalf("expected code UNAUTHORIZED, got %v", payload["code"])
			}
		})
	}
}

func TestTenantPurgeRoleMatrix(t *testing.T) {
	tests := []struct {
		role string
		want int
	}{
		{role: "agent", want: http.StatusForbidden},
		{role: "viewer", want: http.StatusForbidden},
		{role: "admin", want: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.role, func(t *testing.T) {
			server, env := newTestServer(t)
			token := issueTestToken(t, tc.role, time.Now().Add(time.Hour))

			rr, payload := doJSON(t, server, http.MethodDelete, "/api/tenant/data", token, "")
			if rr.Code != tc.want {
				t.Fatalf("expected status %d, got %d body=%s", tc.want, rr.Code, rr.Body.String())
			}
			if tc.want == http.StatusForbidden {
				if payload["code"] != CodeForbidden {
					t.Fatalf("expected code FORBIDDEN, got %v", payload["code"])
				}
				if len(env.store.purged) != 0 {
					t.Fatal("purge must not run")
				}
			}
		})
	}
}

func TestCronRequiresSecret(t *testing.T) {
	server, _ := newTestServer(t)

	rr, _ := doJSON(t, server, http.MethodPost, "/api/cron/retention", "wrong", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}

	rr, payload := doJSON(t, server, http.MethodGet, "/api/cron/reminders", "cron-secret", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload["skipped"] != true {
		t.Fatalf("expected skipped reminders without smtp, got %v", payload)
	}

	rr, payload = doJSON(t, server, http.MethodPost, "/api/cron/retention", "cron-secret", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if _, ok := payload["tenants"]; !ok {
		t.Fatalf("expected tenants in retention report, got %v", payload)
	}
}

func TestCreateAssignmentValidation(t *testing.T) {
	server, _ := newTestServer(t)
	token := issueTestToken(t, "agent", time.Now().Add(time.Hour))

	rr, payload := doJSON(t, server, http.MethodPost, "/api/assignments", token, `{"city":"Stockholm","property_type":"slott"}`)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload["code"] != CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR, got %v", payload["code"])
	}
	fields := payload["details"].(map[string]any)["fields"].([]any)
	names := map[string]bool{}
	for _, item := range fields {
		names[item.(map[string]any)["field"].(string)] = true
	}
	if !names["address"] || !names["property_type"] {
		t.Fatalf("expected address and property_type errors, got %v", fields)
	}

	rr, payload = doJSON(t, server, http.MethodPost, "/api/assignments", token, `{not json`)
	if rr.Code != http.StatusBadRequest || payload["code"] != "INVALID_BODY" {
		t.Fatalf("expected 400 INVALID_BODY, got %d %v", rr.Code, payload["code"])
	}
}

func TestAssignmentLifecycleOverHTTP(t *testing.T) {
	server, env := newTestServer(t)
	token := issueTestToken(t, "agent", time.Now().Add(time.Hour))

	rr, created := doJSON(t, server, http.MethodPost, "/api/assignments", token, `{"address":"Storgatan 1","city":"Stockholm"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	id := created["id"].(string)
	if created["status"] != store.AssignmentDraft || created["property_type"] != "bostadsratt" {
		t.Fatalf("unexpected created assignment %v", created)
	}

	rr, result := doJSON(t, server, http.MethodPut, "/api/assignments/"+id+"/status", token, `{"status":"active"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if result["tasks_created"] != float64(5) {
		t.Fatalf("expected 5 tasks, got %v", result["tasks_created"])
	}

	rr, listed := doJSON(t, server, http.MethodGet, "/api/assignments/"+id+"/tasks", token, "")
	if rr.Code != http.StatusOK || len(listed["tasks"].([]any)) != 5 {
		t.Fatalf("expected five tasks, got %d %v", rr.Code, listed)
	}

	taskID := env.store.tasks[0].ID
	rr, task := doJSON(t, server, http.MethodPatch, "/api/tasks/"+taskID, token, `{"status":"done"}`)
	if rr.Code != http.StatusOK || task["status"] != store.TaskDone {
		t.Fatalf("expected task done, got %d %v", rr.Code, task)
	}

	rr, _ = doJSON(t, server, http.MethodPatch, "/api/tasks/"+taskID, token, `{"status":"finished"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown task status, got %d", rr.Code)
	}

	rr, _ = doJSON(t, server, http.MethodDelete, "/api/assignments/"+id, token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 on delete, got %d", rr.Code)
	}
	rr, _ = doJSON(t, server, http.MethodGet, "/api/assignments/"+id, token, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rr.Code)
	}
	if len(env.search.deleted) != 1 {
		t.Fatalf("expected search delete, got %v", env.search.deleted)
	}
}

func TestUploadDocumentOverHTTP(t *testing.T) {
	server, env := newTestServer(t)
	env.seedAssignment("a-1", store.AssignmentActive)
	token := issueTestToken(t, "agent", time.Now().Add(time.Hour))

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "stadgar.pdf")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	_, _ = part.Write([]byte("%PDF-1.4\n"))
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/assignments/a-1/documents", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var doc map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &doc); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if doc["filename"] != "stadgar.pdf" || doc["processing_status"] != store.ProcessingUploaded {
		t.Fatalf("unexpected document %v", doc)
	}

	rr, link := doJSON(t, server, http.MethodGet, "/api/documents/"+doc["id"].(string)+"/url", token, "")
	if rr.Code != http.StatusOK || link["url"] == "" {
		t.Fatalf("expected signed url, got %d %v", rr.Code, link)
	}
}

func TestInboundEmailEndpoint(t *testing.T) {
	server, env := newTestServer(t)
	env.store.aliases["kontor"] = store.InboundAlias{ID: "alias-1", TenantID: "tenant-1", EmailAlias: "kontor", IsActive: true}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	_ = writer.WriteField("recipient", "kontor@in.brokerflow.se")
	_ = writer.WriteField("from", "seller@example.com")
	_ = writer.WriteField("subject", "Årsredovisning")
	for _, name := range []string{"attachment-2", "attachment-1"} {
		part, err := writer.CreateFormFile(name, name+".pdf")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		_, _ = part.Write([]byte("%PDF-1.4\n"))
	}
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/email/inbound", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var result map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if len(result["document_ids"].([]any)) != 2 || result["assignment_id"] != nil {
		t.Fatalf("unexpected result %v", result)
	}
}

func TestInboundEmailRejectsNonMultipart(t *testing.T) {
	server, _ := newTestServer(t)

	rr, payload := doJSON(t, server, http.MethodPost, "/api/email/inbound", "", `{"recipient":"x"}`)
	if rr.Code != http.StatusBadRequest || payload["code"] != "INVALID_BODY" {
		t.Fatalf("expected 400 INVALID_BODY, got %d %v", rr.Code, payload)
	}
}

func TestGenerationPDFRequiresApproval(t *testing.T) {
	server, env := newTestServer(t)
	env.store.generations["gen-1"] = store.Generation{ID: "gen-1", TenantID: "tenant-1", AssignmentID: "a-1", Type: "ad_copy"}
	token := issueTestToken(t, "agent", time.Now().Add(time.Hour))

	rr, payload := doJSON(t, server, http.MethodGet, "/api/generations/gen-1/pdf", token, "")
	if rr.Code != http.StatusUnprocessableEntity || payload["code"] != CodeValidation {
		t.Fatalf("expected 422 VALIDATION_ERROR, got %d %v", rr.Code, payload)
	}

	rr, approved := doJSON(t, server, http.MethodPost, "/api/generations/gen-1/approve", token, "")
	if rr.Code != http.StatusOK || approved["is_approved"] != true {
		t.Fatalf("expected approval, got %d %v", rr.Code, approved)
	}
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	server, _ := newTestServer(t)
	token := issueTestToken(t, "agent", time.Now().Add(time.Hour))

	rr, payload := doJSON(t, server, http.MethodGet, "/api/widgets", token, "")
	if rr.Code != http.StatusNotFound || payload["code"] != CodeNotFound {
		t.Fatalf("expected 404 NOT_FOUND, got %d %v", rr.Code, payload)
	}
}
