// Package display pushes render events to connected browsers over
// WebSockets. It is the UI sink of the context application: status line,
// button state, patient list, selected patient and patient table.
package display

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/contextapp/internal/ccow"
	"github.com/ehr/contextapp/internal/directory"
)

// Event types.
const (
	TypeStatus        = "status"
	TypeJoinState     = "join_state"
	TypeLeaveState    = "leave_state"
	TypeButtons       = "buttons"
	TypePatientList   = "patient_list"
	TypeSelectPatient = "select_patient"
	TypePatient       = "patient"
	TypeRedirect      = "redirect"
)

var allTypes = []string{
	TypeStatus, TypeJoinState, TypeLeaveState, TypeButtons,
	TypePatientList, TypeSelectPatient, TypePatient, TypeRedirect,
}

// replayOrder lists the retained types in the order a new client needs them.
var replayOrder = []string{TypeButtons, TypeStatus, TypePatientList, TypeSelectPatient, TypePatient}

func isRetained(eventType string) bool {
	for _, t := range replayOrder {
		if t == eventType {
			return true
		}
	}
	return false
}

// Event is a render instruction sent to browsers.
type Event struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Button identifies a context control on the page.
type Button string

const (
	ButtonSuspend Button = "suspend"
	ButtonResume  Button = "resume"
)

// Buttons lists every context control.
var Buttons = []Button{ButtonSuspend, ButtonResume}

// StatusData is the payload of a status event.
type StatusData struct {
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// PatientData is the payload of a patient event. A nil Rows clears the
// patient table.
type PatientData struct {
	ID   string          `json:"id,omitempty"`
	Rows []directory.Row `json:"rows"`
}

// Display renders application state by publishing events.
type Display struct {
	pub    Publisher
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	buttons map[Button]bool
}

// New creates a Display publishing to pub.
func New(pub Publisher, logger zerolog.Logger) *Display {
	d := &Display{
		pub:     pub,
		logger:  logger.With().Str("component", "display").Logger(),
		now:     time.Now,
		buttons: make(map[Button]bool, len(Buttons)),
	}
	for _, b := range Buttons {
		d.buttons[b] = false
	}
	return d
}

// ShowStatusMessage sets the status line to message.
func (d *Display) ShowStatusMessage(message string) {
	d.publish(TypeStatus, StatusData{Message: message})
}

// ShowStatus sets the status line to message followed by a context status.
func (d *Display) ShowStatus(message string, st ccow.Status) {
	d.publish(TypeStatus, StatusData{
		Message: fmt.Sprintf("%s: %s", message, st),
		Status:  st.String(),
	})
}

// ShowJoinState reports the outcome of joining and enables the context
// controls only when joined.
func (d *Display) ShowJoinState(joined bool, st ccow.Status) {
	msg := "Joined"
	if !joined {
		msg = "Could not join context"
	}
	d.publish(TypeJoinState, map[string]any{"joined": joined, "status": st.String()})
	d.ShowStatus(msg, st)
	d.SetButtonsEnabled(joined, Buttons...)
}

// ShowLeaveState disables the context controls and clears the patient
// table.
func (d *Display) ShowLeaveState() {
	d.publish(TypeLeaveState, struct{}{})
	d.SetButtonsEnabled(false, Buttons...)
	d.publish(TypePatient, PatientData{})
}

// SetButtonsEnabled updates the enabled state of the given buttons.
func (d *Display) SetButtonsEnabled(enabled bool, buttons ...Button) {
	d.mu.Lock()
	for _, b := range buttons {
		d.buttons[b] = enabled
	}
	state := make(map[Button]bool, len(d.buttons))
	for b, v := range d.buttons {
		state[b] = v
	}
	d.mu.Unlock()
	d.publish(TypeButtons, state)
}

// ButtonEnabled reports the last published state of b.
func (d *Display) ButtonEnabled(b Button) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buttons[b]
}

// ShowPatientList replaces the patient selector options.
func (d *Display) ShowPatientList(list []directory.Summary) {
	if list == nil {
		list = []directory.Summary{}
	}
	d.publish(TypePatientList, list)
}

// SetPatient selects id in the patient selector.
func (d *Display) SetPatient(id string) {
	d.publish(TypeSelectPatient, map[string]string{"id": id})
}

// ShowPatient renders the patient table.
func (d *Display) ShowPatient(p directory.Patient) {
	d.publish(TypePatient, PatientData{ID: p.ID, Rows: p.Rows()})
}

// ClearPatient clears the selector and the patient table.
func (d *Display) ClearPatient() {
	d.SetPatient("")
	d.publish(TypePatient, PatientData{})
}

// Redirect sends browsers to url.
func (d *Display) Redirect(url string) {
	d.publish(TypeRedirect, map[string]string{"url": url})
}

func (d *Display) publish(eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error().Err(err).Str("type", eventType).Msg("failed to encode display payload")
		return
	}
	ev := Event{Type: eventType, Timestamp: d.now().UTC(), Data: data}
	if err := d.pub.Publish(context.Background(), ev); err != nil {
		d.logger.Warn().Err(err).Str("type", eventType).Msg("failed to publish display event")
	}
}
