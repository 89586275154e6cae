package ccow

import "context"

// Coupon is the opaque participant coupon handed out by the Contextor on a
// successful join. The empty coupon means "not joined".
type Coupon string

// Client is the Contextor contract the application depends on. Every call
// blocks until the Contextor answers or ctx is done; failures are reported
// as *Exception values where the Contextor supplied one.
type Client interface {
	Join(ctx context.Context, applicationName string, surveyable bool) error
	Leave(ctx context.Context) error
	Suspend(ctx context.Context) error
	Resume(ctx context.Context) error
	GetContext(ctx context.Context) (Dictionary, error)
	SetContext(ctx context.Context, values Dictionary, strict bool) error
	// ParticipantCoupon is a synchronous probe of the current coupon.
	ParticipantCoupon() Coupon
}

// Proposal identifies a context change transaction announced by the
// Contextor.
type Proposal struct {
	ContextCoupon string
}

// Participant receives the Contextor's notifications.
type Participant interface {
	// ContextChangesPending answers a survey. An empty reason accepts the
	// change, anything else is a conditional accept shown to the user.
	ContextChangesPending(ctx context.Context, p Proposal) string
	ContextChangesAccepted(ctx context.Context, p Proposal)
	ContextChangesCanceled(ctx context.Context, p Proposal)
	CommonContextTerminated(ctx context.Context)
}
