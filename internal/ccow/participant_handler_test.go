package ccow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type recordingParticipant struct {
	reason     string
	pending    []Proposal
	accepted   []Proposal
	canceled   []Proposal
	terminated int
}

func (r *recordingParticipant) ContextChangesPending(_ context.Context, p Proposal) string {
	r.pending = append(r.pending, p)
	return r.reason
}

func (r *recordingParticipant) ContextChangesAccepted(_ context.Context, p Proposal) {
	r.accepted = append(r.accepted, p)
}

func (r *recordingParticipant) ContextChangesCanceled(_ context.Context, p Proposal) {
	r.canceled = append(r.canceled, p)
}

func (r *recordingParticipant) CommonContextTerminated(_ context.Context) {
	r.terminated++
}

func callParticipant(t *testing.T, h *ParticipantHandler, httpMethod string, v url.Values) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	var req *http.Request
	if httpMethod == http.MethodGet {
		req = httptest.NewRequest(http.MethodGet, "/ccow/participant?"+v.Encode(), nil)
	} else {
		req = httptest.NewRequest(http.MethodPost, "/ccow/participant", strings.NewReader(v.Encode()))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	return rec
}

func TestParticipantHandler_PendingReturnsSurveyReply(t *testing.T) {
	p := &recordingParticipant{reason: "Work will be lost"}
	h := NewParticipantHandler(p, zerolog.Nop())

	rec := callParticipant(t, h, http.MethodGet, url.Values{
		"method":        {"ContextChangesPending"},
		"contextCoupon": {"55"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	reply, err := url.ParseQuery(rec.Body.String())
	if err != nil {
		t.Fatalf("invalid reply body: %v", err)
	}
	if reply.Get("decision") != "accept" || reply.Get("reason") != "Work will be lost" {
		t.Errorf("unexpected reply %v", reply)
	}
	if len(p.pending) != 1 || p.pending[0].ContextCoupon != "55" {
		t.Errorf("unexpected pending calls %v", p.pending)
	}
}

func TestParticipantHandler_DispatchesNotifications(t *testing.T) {
	p := &recordingParticipant{}
	h := NewParticipantHandler(p, zerolog.Nop())

	callParticipant(t, h, http.MethodPost, url.Values{"method": {"ContextChangesAccepted"}, "contextCoupon": {"1"}})
	callParticipant(t, h, http.MethodPost, url.Values{"method": {"ContextChangesCanceled"}, "contextCoupon": {"2"}})
	callParticipant(t, h, http.MethodGet, url.Values{"method": {"CommonContextTerminated"}})
	rec := callParticipant(t, h, http.MethodGet, url.Values{"method": {"Ping"}})

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for ping, got %d", rec.Code)
	}
	if len(p.accepted) != 1 || p.accepted[0].ContextCoupon != "1" {
		t.Errorf("unexpected accepted calls %v", p.accepted)
	}
	if len(p.canceled) != 1 || p.canceled[0].ContextCoupon != "2" {
		t.Errorf("unexpected canceled calls %v", p.canceled)
	}
	if p.terminated != 1 {
		t.Errorf("expected 1 terminate, got %d", p.terminated)
	}
}

func TestParticipantHandler_UnknownMethod(t *testing.T) {
	h := NewParticipantHandler(&recordingParticipant{}, zerolog.Nop())
	rec := callParticipant(t, h, http.MethodGet, url.Values{"method": {"Bogus"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	reply, _ := url.ParseQuery(rec.Body.String())
	if reply.Get("exception") != string(ExceptionGeneral) {
		t.Errorf("unexpected reply %v", reply)
	}
}
