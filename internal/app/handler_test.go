package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/contextapp/internal/ccow"
	"github.com/ehr/contextapp/internal/contextsync"
	"github.com/ehr/contextapp/internal/platform/session"
)

type handlerFixture struct {
	*fixture
	e        *echo.Echo
	sessions *session.Manager
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	mgr, err := session.NewManager([]byte("0123456789abcdef0123456789abcdef"), 0)
	if err != nil {
		t.Fatalf("session manager: %v", err)
	}
	f := newFixture(Options{})
	// logoff must revoke the real manager's tokens
	f.app.sessions = mgr

	e := echo.New()
	NewHandler(f.app, mgr, "X-Remote-User").RegisterRoutes(e.Group("/api"))
	return &handlerFixture{fixture: f, e: e, sessions: mgr}
}

func (h *handlerFixture) do(method, target, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.e.ServeHTTP(rec, req)
	return rec
}

// mint requests a session as the SSO front would forward it for user; an
// empty user sends no header.
func (h *handlerFixture) mint(user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/session", nil)
	if user != "" {
		req.Header.Set("X-Remote-User", user)
	}
	rec := httptest.NewRecorder()
	h.e.ServeHTTP(rec, req)
	return rec
}

func (h *handlerFixture) login(t *testing.T) string {
	t.Helper()
	rec := h.mint("doctor")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if resp.User != "doctor" {
		t.Errorf("expected token for doctor, got %q", resp.User)
	}
	if !strings.Contains(rec.Header().Get("Set-Cookie"), session.CookieName+"=") {
		t.Error("expected session cookie")
	}
	return resp.Token
}

func TestHandler_GetContext(t *testing.T) {
	h := newHandlerFixture(t)
	h.sync.patient = "1001"

	rec := h.do(http.MethodGet, "/api/context", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if snap.State != "joined" || snap.User != "doctor" || snap.Patient != "1001" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestHandler_RequiresSession(t *testing.T) {
	h := newHandlerFixture(t)

	for _, path := range []string{"/api/context/patient", "/api/context/suspend", "/api/context/resume", "/api/context/logoff", "/api/context/join"} {
		if rec := h.do(http.MethodPost, path, "", ""); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, rec.Code)
		}
	}
}

func TestHandler_SelectPatient(t *testing.T) {
	h := newHandlerFixture(t)
	token := h.login(t)

	rec := h.do(http.MethodPost, "/api/context/patient", token, `{"id":"1001"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp statusResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != "success" || resp.State != "joined" {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(h.sync.written) != 1 || h.sync.written[0][ccow.KeyPatientIDMPI] != "1001" {
		t.Errorf("expected patient 1001 written, got %v", h.sync.written)
	}
}

func TestHandler_SelectPatientErrors(t *testing.T) {
	h := newHandlerFixture(t)
	token := h.login(t)

	if rec := h.do(http.MethodPost, "/api/context/patient", token, `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing id, got %d", rec.Code)
	}
	if rec := h.do(http.MethodPost, "/api/context/patient", token, `{"id":"9999"}`); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown patient, got %d", rec.Code)
	}

	h.sync.setSt, h.sync.setErr = ccow.StatusFailure, contextsync.ErrSuspended
	if rec := h.do(http.MethodPost, "/api/context/patient", token, `{"id":"1002"}`); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 while suspended, got %d", rec.Code)
	}
}

func TestHandler_CreateSessionRequiresSSOUser(t *testing.T) {
	h := newHandlerFixture(t)

	if rec := h.mint(""); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without SSO user, got %d", rec.Code)
	}
	if rec := h.mint("nurse"); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for a user outside the context, got %d", rec.Code)
	}
	if rec := h.mint("DOCTOR"); rec.Code != http.StatusCreated {
		t.Errorf("expected context user match to ignore case, got %d", rec.Code)
	}
}

func TestHandler_SessionBoundToContextUser(t *testing.T) {
	h := newHandlerFixture(t)
	token := h.login(t)

	h.sync.mu.Lock()
	h.sync.user = "nurse"
	h.sync.mu.Unlock()

	if rec := h.do(http.MethodPost, "/api/context/suspend", token, ""); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another user's session, got %d", rec.Code)
	}
}

func TestHandler_SuspendResume(t *testing.T) {
	h := newHandlerFixture(t)
	token := h.login(t)

	if rec := h.do(http.MethodPost, "/api/context/suspend", token, ""); rec.Code != http.StatusOK {
		t.Fatalf("suspend: expected 200, got %d", rec.Code)
	}
	if rec := h.do(http.MethodPost, "/api/context/resume", token, ""); rec.Code != http.StatusOK {
		t.Fatalf("resume: expected 200, got %d", rec.Code)
	}

	h.sync.suspSt, h.sync.suspErr = ccow.StatusFailure, contextsync.ErrNotJoined
	if rec := h.do(http.MethodPost, "/api/context/suspend", token, ""); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 when not joined, got %d", rec.Code)
	}
}

func TestHandler_LogoffRevokesSessions(t *testing.T) {
	h := newHandlerFixture(t)
	token := h.login(t)

	rec := h.do(http.MethodPost, "/api/context/logoff", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !equal(h.sync.calls, []string{"logout"}) {
		t.Errorf("expected a context logout, got %v", h.sync.calls)
	}
	if rec := h.do(http.MethodPost, "/api/context/suspend", token, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected revoked token to be rejected, got %d", rec.Code)
	}

	// the Contextor clears the user once the logout is accepted
	h.sync.mu.Lock()
	h.sync.user = ""
	h.sync.mu.Unlock()
	if rec := h.mint("doctor"); rec.Code != http.StatusForbidden {
		t.Errorf("expected no new session after logoff, got %d", rec.Code)
	}
	if rec := h.mint(""); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected anonymous mint to be refused, got %d", rec.Code)
	}
}

func TestHandler_EndSession(t *testing.T) {
	h := newHandlerFixture(t)
	token := h.login(t)
	other := h.login(t)

	if rec := h.do(http.MethodDelete, "/api/session", token, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec := h.do(http.MethodPost, "/api/context/resume", token, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected ended session to be rejected, got %d", rec.Code)
	}
	if rec := h.do(http.MethodPost, "/api/context/resume", other, ""); rec.Code != http.StatusOK {
		t.Errorf("expected other session to stay valid, got %d", rec.Code)
	}
}

func TestHandler_Join(t *testing.T) {
	h := newHandlerFixture(t)
	token := h.login(t)

	// joining is allowed after the context user was cleared by a forced leave
	h.sync.mu.Lock()
	h.sync.user = ""
	h.sync.mu.Unlock()

	rec := h.do(http.MethodPost, "/api/context/join", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !equal(h.sync.calls, []string{"init"}) {
		t.Errorf("expected init, got %v", h.sync.calls)
	}

	h.sync.initErr = contextsync.ErrClosed
	if rec := h.do(http.MethodPost, "/api/context/join", token, ""); rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rec.Code)
	}
}
