package contextsync

import (
	"fmt"

	"github.com/ehr/contextapp/internal/ccow"
)

// State is the session lifecycle state of the participant.
type State int

const (
	StateNotJoined State = iota
	StateJoining
	StateJoined
	StateSuspended
)

func (s State) String() string {
	switch s {
	case StateNotJoined:
		return "not_joined"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateSuspended:
		return "suspended"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// receivesNotifications reports whether context changes are processed in
// this state.
func (s State) receivesNotifications() bool {
	return s == StateJoined || s == StateSuspended
}

// EventKind classifies what a context notification means for the
// application.
type EventKind int

const (
	EventNoOp EventKind = iota
	// EventUserChanged requires a full application logoff.
	EventUserChanged
	// EventPatientChanged asks the application to show Value as the current
	// patient. It is emitted on every accepted change that keeps the user.
	EventPatientChanged
	// EventForcedLeave means the Contextor no longer knows this participant.
	EventForcedLeave
	// EventTerminated means the common context session ended.
	EventTerminated
)

func (k EventKind) String() string {
	switch k {
	case EventNoOp:
		return "noop"
	case EventUserChanged:
		return "user_changed"
	case EventPatientChanged:
		return "patient_changed"
	case EventForcedLeave:
		return "forced_leave"
	case EventTerminated:
		return "terminated"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is delivered on Synchronizer.Events in notification order.
type Event struct {
	Kind EventKind
	// Value is the new user identity or patient id.
	Value  string
	Status ccow.Status
}

func (e Event) String() string {
	if e.Value == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + "(" + e.Value + ")"
}

// InitResult is the outcome of InitContext.
type InitResult struct {
	Joined  bool
	Status  ccow.Status
	Context ccow.Dictionary
}
