package patient

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func serve(t *testing.T, h *Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	h.RegisterRoutes(e.Group("/api"))
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_ListPatients(t *testing.T) {
	h := NewHandler(newDemoService())
	rec := serve(t, h, "/api/patient")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list []Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if len(list) != 5 {
		t.Fatalf("expected 5 patients, got %d", len(list))
	}
	if rec.Header().Get("X-Total-Count") != "5" {
		t.Errorf("unexpected total header %q", rec.Header().Get("X-Total-Count"))
	}
}

func TestHandler_ListPatientsPaged(t *testing.T) {
	h := NewHandler(newDemoService())
	rec := serve(t, h, "/api/patient?limit=2")

	var list []Summary
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list) != 2 {
		t.Fatalf("expected 2 patients, got %d", len(list))
	}
	if rec.Header().Get("Link") == "" {
		t.Error("expected a next link")
	}
}

func TestHandler_GetPatient(t *testing.T) {
	h := NewHandler(newDemoService())
	rec := serve(t, h, "/api/patient/1001")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["id"] != "1001" || body["lastName"] != "Doe" || body["birthday"] != "19800101" {
		t.Errorf("unexpected body %v", body)
	}
	if _, ok := body["CreatedAt"]; ok {
		t.Error("timestamps must not be serialized")
	}
}

func TestHandler_GetPatientNotFound(t *testing.T) {
	h := NewHandler(newDemoService())
	if rec := serve(t, h, "/api/patient/9999"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_RepositoryFailure(t *testing.T) {
	h := NewHandler(NewService(failingRepo{err: errors.New("db down")}, zerolog.Nop()))
	if rec := serve(t, h, "/api/patient"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if rec := serve(t, h, "/api/patient/1001"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
