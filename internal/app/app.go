// Package app is the context-aware patient viewer: it joins the common
// context, keeps the displayed patient in step with it and logs the user
// off when the context user changes.
package app

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ehr/contextapp/internal/ccow"
	"github.com/ehr/contextapp/internal/contextsync"
	"github.com/ehr/contextapp/internal/directory"
	"github.com/ehr/contextapp/internal/platform/display"
	"github.com/ehr/contextapp/internal/platform/transport"
)

// Synchronizer is the subset of *contextsync.Synchronizer the application
// drives.
type Synchronizer interface {
	InitContext(ctx context.Context) (contextsync.InitResult, error)
	SetPatient(ctx context.Context, values ccow.Dictionary) (ccow.Status, error)
	Logout(ctx context.Context) (ccow.Status, error)
	Suspend(ctx context.Context) (ccow.Status, error)
	Resume(ctx context.Context) (ccow.Status, error)
	Events() <-chan contextsync.Event
	State() contextsync.State
	CurrentUser() string
	CurrentPatient() string
}

// Directory looks up patients. Satisfied by *directory.Directory.
type Directory interface {
	Load(ctx context.Context) ([]directory.Summary, error)
	List() []directory.Summary
	Find(id string) (directory.Summary, bool)
	Add(s directory.Summary)
	Get(ctx context.Context, id string) (directory.Patient, error)
}

// Display renders application state. Satisfied by *display.Display.
type Display interface {
	ShowStatusMessage(message string)
	ShowStatus(message string, st ccow.Status)
	ShowJoinState(joined bool, st ccow.Status)
	ShowLeaveState()
	SetButtonsEnabled(enabled bool, buttons ...display.Button)
	ShowPatientList(list []directory.Summary)
	SetPatient(id string)
	ShowPatient(p directory.Patient)
	ClearPatient()
	Redirect(url string)
}

// HTTPClient performs the logoff requests. Satisfied by *transport.Client.
type HTTPClient interface {
	Get(ctx context.Context, rawURL string, values url.Values) (*transport.Response, error)
	PostForm(ctx context.Context, rawURL string, values url.Values) (*transport.Response, error)
}

// Sessions revokes UI access tokens. Satisfied by *session.Manager.
type Sessions interface {
	RevokeAll()
}

// Options holds the logoff and mapping settings.
type Options struct {
	Mapping directory.Mapping
	// Origin resolves relative logout URLs, e.g. "http://localhost:8000".
	Origin        string
	LogoutURL     string
	LogoutFormURL string
	LoginRedirect string
}

// Application wires the synchronizer to the patient directory and the
// display.
type Application struct {
	sync     Synchronizer
	dir      Directory
	view     Display
	http     HTTPClient
	sessions Sessions
	opts     Options
	logger   zerolog.Logger

	mu        sync.Mutex
	patientID string
}

// New creates an Application. A nil Mapping selects directory.DefaultMapping.
func New(s Synchronizer, dir Directory, view Display, client HTTPClient, sessions Sessions, opts Options, logger zerolog.Logger) *Application {
	if opts.Mapping == nil {
		opts.Mapping = directory.DefaultMapping()
	}
	if opts.LoginRedirect == "" {
		opts.LoginRedirect = "/"
	}
	return &Application{
		sync:     s,
		dir:      dir,
		view:     view,
		http:     client,
		sessions: sessions,
		opts:     opts,
		logger:   logger.With().Str("component", "app").Logger(),
	}
}

// Init resets the display, joins the common context, loads the patient
// list and shows the context patient.
func (a *Application) Init(ctx context.Context) error {
	a.view.ShowLeaveState()

	res, err := a.sync.InitContext(ctx)
	if err != nil {
		a.view.ShowStatusMessage("Could not join context")
		return fmt.Errorf("init context: %w", err)
	}
	a.view.ShowJoinState(res.Joined, res.Status)

	list, err := a.dir.Load(ctx)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to load patient list")
		a.view.ShowStatusMessage("Could not load patient list")
	} else {
		a.view.ShowPatientList(list)
	}

	if !res.Joined {
		return nil
	}
	a.setSelected("")
	if id := a.sync.CurrentPatient(); id != "" {
		a.PatientContextChange(ctx, id)
	}
	return nil
}

// Selected returns the id of the displayed patient.
func (a *Application) Selected() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.patientID
}

// swapSelected makes id the displayed patient and returns the previous one.
// It reports false when id is already displayed.
func (a *Application) swapSelected(id string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev := a.patientID
	if prev == id {
		return prev, false
	}
	a.patientID = id
	return prev, true
}

// restoreSelected undoes a swap to failed unless a later selection
// replaced it.
func (a *Application) restoreSelected(failed, prev string) {
	a.mu.Lock()
	if a.patientID == failed {
		a.patientID = prev
	}
	a.mu.Unlock()
}

func (a *Application) setSelected(id string) {
	a.mu.Lock()
	a.patientID = id
	a.mu.Unlock()
}

// PatientSelected handles a selection made in the UI: the record is shown
// and written to the common context. An empty or already displayed id is
// ignored.
func (a *Application) PatientSelected(ctx context.Context, id string) (ccow.Status, error) {
	if id == "" {
		return ccow.StatusSuccess, nil
	}
	prev, ok := a.swapSelected(id)
	if !ok {
		return ccow.StatusSuccess, nil
	}

	p, err := a.fetch(ctx, id)
	if err != nil {
		a.restoreSelected(id, prev)
		return ccow.StatusFailure, err
	}
	if a.Selected() != id {
		// superseded while fetching
		return ccow.StatusSuccess, nil
	}
	a.view.SetPatient(id)
	a.view.ShowPatient(p)

	st, err := a.sync.SetPatient(ctx, directory.MapToContext(p, a.opts.Mapping))
	switch {
	case err != nil:
		a.logger.Warn().Err(err).Str("patient_id", id).Msg("patient not written to context")
		a.view.ShowStatusMessage("Patient not set in context")
	case st == ccow.StatusForcedLeave:
		// the event loop resets the display
	case st != ccow.StatusSuccess:
		a.view.ShowStatus("Could not set patient context", st)
	}
	return st, err
}

// PatientContextChange shows the patient the common context changed to.
// An id equal to the displayed one is ignored; an empty id clears the
// display.
func (a *Application) PatientContextChange(ctx context.Context, id string) {
	prev, ok := a.swapSelected(id)
	if !ok {
		return
	}
	if id == "" {
		a.view.ClearPatient()
		return
	}

	p, err := a.fetch(ctx, id)
	if err != nil {
		a.restoreSelected(id, prev)
		return
	}
	if a.Selected() != id {
		return
	}
	a.view.SetPatient(id)
	a.view.ShowPatient(p)
}

func (a *Application) fetch(ctx context.Context, id string) (directory.Patient, error) {
	p, err := a.dir.Get(ctx, id)
	if err != nil {
		a.logger.Error().Err(err).Str("patient_id", id).Msg("failed to fetch patient")
		a.view.ShowStatusMessage("Could not load patient " + id)
		return directory.Patient{}, err
	}
	if _, ok := a.dir.Find(id); !ok {
		a.dir.Add(p.Summary())
		a.view.ShowPatientList(a.dir.List())
	}
	return p, nil
}

// Suspend stops following context changes.
func (a *Application) Suspend(ctx context.Context) (ccow.Status, error) {
	st, err := a.sync.Suspend(ctx)
	if err != nil {
		a.view.ShowStatusMessage("Could not suspend context")
		return st, err
	}
	if st == ccow.StatusSuccess {
		a.view.ShowStatus("Suspended", st)
		a.view.SetButtonsEnabled(false, display.ButtonSuspend)
		return st, nil
	}
	a.view.ShowStatus("Could not suspend context", st)
	return st, nil
}

// Resume follows context changes again.
func (a *Application) Resume(ctx context.Context) (ccow.Status, error) {
	st, err := a.sync.Resume(ctx)
	if err != nil {
		a.view.ShowStatusMessage("Could not resume context")
		return st, err
	}
	if st == ccow.StatusSuccess {
		a.view.ShowStatus("Resumed", st)
		a.view.SetButtonsEnabled(true, display.Buttons...)
		return st, nil
	}
	a.view.ShowStatus("Could not resume context", st)
	return st, nil
}

// OnLogoff clears the user in the common context and then logs the
// application off, whatever the context answered.
func (a *Application) OnLogoff(ctx context.Context) ccow.Status {
	st, err := a.sync.Logout(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("context logout failed")
	} else {
		a.logger.Info().Str("status", st.String()).Msg("context logout completed")
	}
	a.Logoff(ctx)
	return st
}

// Logoff revokes UI sessions, submits the logout form when configured,
// resets the SSO session and sends browsers to the login page.
func (a *Application) Logoff(ctx context.Context) {
	a.sessions.RevokeAll()

	if a.opts.LogoutFormURL != "" {
		a.request(ctx, "logout form", func(ctx context.Context, u string) (*transport.Response, error) {
			return a.http.PostForm(ctx, u, url.Values{})
		}, a.opts.LogoutFormURL)
	}
	if a.opts.LogoutURL != "" {
		a.request(ctx, "sso logout", func(ctx context.Context, u string) (*transport.Response, error) {
			return a.http.Get(ctx, u, nil)
		}, a.opts.LogoutURL)
	}

	a.setSelected("")
	a.view.ClearPatient()
	a.view.Redirect(a.opts.LoginRedirect)
}

func (a *Application) request(ctx context.Context, what string, fn func(context.Context, string) (*transport.Response, error), rawURL string) {
	u := a.resolve(rawURL)
	resp, err := fn(ctx, u)
	switch {
	case err != nil:
		a.logger.Warn().Err(err).Str("url", u).Msg(what + " failed")
	case resp.StatusCode >= 400:
		a.logger.Warn().Int("status", resp.StatusCode).Str("url", u).Msg(what + " rejected")
	default:
		a.logger.Info().Int("status", resp.StatusCode).Str("url", u).Msg(what + " completed")
	}
}

func (a *Application) resolve(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.IsAbs() {
		return rawURL
	}
	return transport.BuildURL(a.opts.Origin, "", rawURL)
}

// Snapshot is the application state served to the UI.
type Snapshot struct {
	State    string `json:"state"`
	User     string `json:"user,omitempty"`
	Patient  string `json:"contextPatient,omitempty"`
	Selected string `json:"selectedPatient,omitempty"`
}

func (a *Application) Snapshot() Snapshot {
	return Snapshot{
		State:    a.sync.State().String(),
		User:     a.sync.CurrentUser(),
		Patient:  a.sync.CurrentPatient(),
		Selected: a.Selected(),
	}
}

// CurrentUser returns the context user.
func (a *Application) CurrentUser() string {
	return a.sync.CurrentUser()
}
