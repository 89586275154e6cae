package app

import (
	"context"

	"github.com/ehr/contextapp/internal/ccow"
	"github.com/ehr/contextapp/internal/contextsync"
)

// Run applies synchronizer events until ctx is done or the event channel
// is closed.
func (a *Application) Run(ctx context.Context) error {
	events := a.sync.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			a.HandleEvent(ctx, ev)
		}
	}
}

// HandleEvent applies one synchronizer event to the application.
func (a *Application) HandleEvent(ctx context.Context, ev contextsync.Event) {
	a.logger.Debug().Str("event", ev.String()).Msg("applying context event")

	switch ev.Kind {
	case contextsync.EventUserChanged:
		a.Logoff(ctx)
	case contextsync.EventPatientChanged:
		a.PatientContextChange(ctx, ev.Value)
	case contextsync.EventForcedLeave:
		a.setSelected("")
		a.view.ShowLeaveState()
		a.view.ShowStatus("Unknown Participant Exception", ccow.StatusUnknownParticipant)
	case contextsync.EventTerminated:
		a.setSelected("")
		a.view.ShowLeaveState()
		a.view.ShowStatusMessage("Common context terminated")
	}
}

// SurveyResponder answers every context change survey with reason. An
// empty reason accepts changes unconditionally.
func SurveyResponder(reason string) contextsync.Responder {
	return func(context.Context, ccow.Proposal) string {
		return reason
	}
}
