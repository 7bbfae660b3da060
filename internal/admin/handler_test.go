package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/supercorp-ai/supergateway/internal/runtime"
)

func TestHandleDefaults_HeadersOnlyPatch(t *testing.T) {
	reg := runtime.New(runtime.Patch{})
	h := New(reg, nil)

	req := httptest.NewRequest(http.MethodPost, "/runtime/defaults", strings.NewReader(`{"headers":{"X-A":"1"}}`))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["change_kind"] != "headers_only" {
		t.Fatalf("change_kind = %q, want headers_only", body["change_kind"])
	}

	snap := reg.Defaults()
	if snap.Headers["X-A"] != "1" {
		t.Fatalf("header not applied: %+v", snap.Headers)
	}
}

func TestHandleDefaults_EnvChangeRequiresRestart(t *testing.T) {
	reg := runtime.New(runtime.Patch{})
	h := New(reg, nil)

	req := httptest.NewRequest(http.MethodPost, "/runtime/defaults", strings.NewReader(`{"env":{"K":"V"}}`))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	var body map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["change_kind"] != "requires_restart" {
		t.Fatalf("change_kind = %q, want requires_restart", body["change_kind"])
	}
}

func TestHandleSession_UnknownSessionIs404(t *testing.T) {
	reg := runtime.New(runtime.Patch{})
	h := New(reg, nil)

	req := httptest.NewRequest(http.MethodPost, "/runtime/session/missing", strings.NewReader(`{"headers":{"X-A":"1"}}`))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleListSessions_EmptyWhenNoSessionsWired(t *testing.T) {
	reg := runtime.New(runtime.Patch{})
	h := New(reg, nil)

	req := httptest.NewRequest(http.MethodGet, "/runtime/sessions", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Sessions []string `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Sessions) != 0 {
		t.Fatalf("sessions = %v, want empty", body.Sessions)
	}
}

func TestHandleDefaults_RejectsWrongMethod(t *testing.T) {
	reg := runtime.New(runtime.Patch{})
	h := New(reg, nil)

	req := httptest.NewRequest(http.MethodGet, "/runtime/defaults", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
