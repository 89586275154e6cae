package ccow

import (
	"errors"
	"fmt"
)

// Status is the outcome of a context operation as seen by the application.
type Status int

const (
	StatusSuccess Status = iota
	StatusAlreadyJoined
	StatusUnknownParticipant
	// StatusForcedLeave is reported by the synchronizer when suspend, resume
	// or a context write answers UnknownParticipant: the application has
	// been dropped from the common context.
	StatusForcedLeave
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusAlreadyJoined:
		return "already_joined"
	case StatusUnknownParticipant:
		return "unknown_participant"
	case StatusForcedLeave:
		return "forced_leave"
	case StatusFailure:
		return "failure"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Joined reports whether a join answered with this status leaves the
// application in the common context.
func (s Status) Joined() bool {
	return s == StatusSuccess || s == StatusAlreadyJoined
}

// ExceptionKind names a Contextor exception.
type ExceptionKind string

const (
	ExceptionAlreadyJoined         ExceptionKind = "AlreadyJoinedException"
	ExceptionUnknownParticipant    ExceptionKind = "UnknownParticipantException"
	ExceptionNotInTransaction      ExceptionKind = "NotInTransactionException"
	ExceptionTransactionInProgress ExceptionKind = "TransactionInProgressException"
	ExceptionChangesCanceled       ExceptionKind = "ChangesCanceledException"
	ExceptionGeneral               ExceptionKind = "GeneralException"
)

// Exception is an error reported by the Contextor.
type Exception struct {
	Kind    ExceptionKind
	Message string
}

func (e *Exception) Error() string {
	if e.Message == "" {
		return "ccow: " + string(e.Kind)
	}
	return fmt.Sprintf("ccow: %s: %s", e.Kind, e.Message)
}

// Is matches exceptions by kind so sentinels work with errors.Is.
func (e *Exception) Is(target error) bool {
	t, ok := target.(*Exception)
	return ok && t.Kind == e.Kind
}

var (
	ErrAlreadyJoined      = &Exception{Kind: ExceptionAlreadyJoined}
	ErrUnknownParticipant = &Exception{Kind: ExceptionUnknownParticipant}
	ErrChangesCanceled    = &Exception{Kind: ExceptionChangesCanceled}
)

// StatusOf translates a client error into a Status.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrAlreadyJoined):
		return StatusAlreadyJoined
	case errors.Is(err, ErrUnknownParticipant):
		return StatusUnknownParticipant
	default:
		return StatusFailure
	}
}
