// Package contextsync keeps the application's view of the shared clinical
// context and turns Contextor notifications into application events.
//
// A Synchronizer owns one worker goroutine. Public operations and
// notifications are queued to it in arrival order, so at most one context
// read or write is in flight and every notification's context read updates
// the cache before the next notification is diffed.
package contextsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/contextapp/internal/ccow"
	"github.com/ehr/contextapp/internal/platform/metrics"
)

var (
	ErrNotJoined = errors.New("contextsync: not joined to the common context")
	ErrSuspended = errors.New("contextsync: context participation is suspended")
	ErrClosed    = errors.New("contextsync: synchronizer closed")
)

const (
	DefaultCallTimeout = 10 * time.Second
	DefaultQueueSize   = 64
)

// Config holds the settings resolved before construction.
type Config struct {
	ApplicationName string
	Surveyable      bool
	// UserKey and PatientKey name the context items compared on every
	// accepted change.
	UserKey    ccow.Key
	PatientKey ccow.Key
	// CallTimeout bounds every Contextor call.
	CallTimeout time.Duration
	QueueSize   int
}

// Responder answers context change surveys. See ccow.Participant.
type Responder func(ctx context.Context, p ccow.Proposal) string

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithResponder installs the survey responder. The default accepts every
// change.
func WithResponder(r Responder) Option {
	return func(s *Synchronizer) {
		if r != nil {
			s.respond = r
		}
	}
}

type task struct {
	ctx  context.Context
	run  func(ctx context.Context)
	done chan error
}

// Synchronizer implements ccow.Participant.
type Synchronizer struct {
	client  ccow.Client
	cfg     Config
	logger  zerolog.Logger
	respond Responder

	tasks     chan task
	events    chan Event
	quit      chan struct{}
	stopped   chan struct{}
	base      context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu     sync.RWMutex
	state  State
	cached ccow.Dictionary
}

var _ ccow.Participant = (*Synchronizer)(nil)

// New creates a Synchronizer and starts its worker. Call Close to stop it.
func New(client ccow.Client, cfg Config, logger zerolog.Logger, opts ...Option) *Synchronizer {
	if cfg.UserKey == "" {
		cfg.UserKey = ccow.KeyUserLogonIDWindows
	}
	if cfg.PatientKey == "" {
		cfg.PatientKey = ccow.KeyPatientIDMPI
	}
	cfg.UserKey = cfg.UserKey.Normalize()
	cfg.PatientKey = cfg.PatientKey.Normalize()
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	base, cancel := context.WithCancel(context.Background())
	s := &Synchronizer{
		client:  client,
		cfg:     cfg,
		logger:  logger.With().Str("component", "contextsync").Logger(),
		respond: func(context.Context, ccow.Proposal) string { return "" },
		tasks:   make(chan task, cfg.QueueSize),
		events:  make(chan Event, cfg.QueueSize),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		base:    base,
		cancel:  cancel,
		cached:  ccow.Dictionary{},
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.run()
	return s
}

// Events delivers application events in notification order. The channel is
// closed by Close.
func (s *Synchronizer) Events() <-chan Event {
	return s.events
}

// Close stops the worker. Queued operations that have not started fail
// with ErrClosed.
func (s *Synchronizer) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		close(s.quit)
		<-s.stopped
		close(s.events)
	})
	return nil
}

// State returns the current session state.
func (s *Synchronizer) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// CurrentContext returns a copy of the cached context.
func (s *Synchronizer) CurrentContext() ccow.Dictionary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cached.Clone()
}

// CurrentUser returns the cached user identity.
func (s *Synchronizer) CurrentUser() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cached.Get(s.cfg.UserKey)
}

// CurrentPatient returns the cached patient id.
func (s *Synchronizer) CurrentPatient() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cached.Get(s.cfg.PatientKey)
}

// InitContext validates an existing participant coupon or joins the common
// context, then reads the current context. A stale coupon triggers exactly
// one discard-and-rejoin cycle; a failed join is reported, not retried.
func (s *Synchronizer) InitContext(ctx context.Context) (InitResult, error) {
	var res InitResult
	if err := s.do(ctx, func(ctx context.Context) { res = s.initContext(ctx) }); err != nil {
		return InitResult{Status: ccow.StatusFailure, Context: ccow.Dictionary{}}, err
	}
	return res, nil
}

func (s *Synchronizer) initContext(ctx context.Context) InitResult {
	if coupon := s.client.ParticipantCoupon(); coupon != "" {
		dict, st := s.fetchContext(ctx)
		if st == ccow.StatusSuccess {
			s.replaceCache(dict)
			s.setState(StateJoined)
			return InitResult{Joined: true, Status: st, Context: dict.Clone()}
		}
		if ctx.Err() != nil {
			// Cut short by the caller; the coupon may still be valid.
			return InitResult{Joined: s.State() == StateJoined, Status: ccow.StatusFailure, Context: s.CurrentContext()}
		}
		s.logger.Info().Str("coupon", string(coupon)).Str("status", st.String()).Msg("participant coupon is stale, rejoining")
	}
	return s.joinAndRefresh(ctx)
}

func (s *Synchronizer) joinAndRefresh(ctx context.Context) InitResult {
	s.replaceCache(ccow.Dictionary{})
	s.setState(StateJoining)

	st := s.call(ctx, "JoinCommonContext", func(ctx context.Context) error {
		return s.client.Join(ctx, s.cfg.ApplicationName, s.cfg.Surveyable)
	})
	if !st.Joined() {
		s.setState(StateNotJoined)
		s.logger.Error().Str("status", st.String()).Msg("could not join common context")
		return InitResult{Status: st, Context: ccow.Dictionary{}}
	}
	s.setState(StateJoined)

	dict, rst := s.fetchContext(ctx)
	if rst != ccow.StatusSuccess {
		return InitResult{Joined: true, Status: rst, Context: ccow.Dictionary{}}
	}
	s.replaceCache(dict)
	return InitResult{Joined: true, Status: st, Context: dict.Clone()}
}

// HandleContextNotification diffs next against the cached context, replaces
// the cache and emits the resulting event. A user change yields only
// EventUserChanged; otherwise EventPatientChanged is emitted even when the
// patient is unchanged.
func (s *Synchronizer) HandleContextNotification(ctx context.Context, next ccow.Dictionary) (Event, error) {
	var ev Event
	if err := s.do(ctx, func(context.Context) { ev = s.handleNotification(next) }); err != nil {
		return Event{Kind: EventNoOp}, err
	}
	return ev, nil
}

func (s *Synchronizer) handleNotification(next ccow.Dictionary) Event {
	if st := s.State(); !st.receivesNotifications() {
		s.logger.Debug().Str("state", st.String()).Msg("ignoring context change")
		return Event{Kind: EventNoOp}
	}

	next = ccow.Normalize(next)
	prev := s.CurrentContext()
	s.replaceCache(next)

	prevUser := prev.Get(s.cfg.UserKey)
	currentUser := next.Get(s.cfg.UserKey)

	var ev Event
	if !ccow.SameValue(prevUser, currentUser) {
		ev = Event{Kind: EventUserChanged, Value: currentUser}
	} else {
		ev = Event{Kind: EventPatientChanged, Value: next.Get(s.cfg.PatientKey)}
	}
	s.emit(ev)
	return ev
}

// SetPatient writes patient items into the shared context as one strict
// transaction. The cache is left alone; the accepted notification that
// follows carries the authoritative context.
func (s *Synchronizer) SetPatient(ctx context.Context, values ccow.Dictionary) (ccow.Status, error) {
	return s.submitWrite(ctx, values)
}

// SetUser writes the user identity item.
func (s *Synchronizer) SetUser(ctx context.Context, identity string) (ccow.Status, error) {
	return s.submitWrite(ctx, ccow.Dictionary{s.cfg.UserKey: identity})
}

// Logout clears the user identity in the shared context.
func (s *Synchronizer) Logout(ctx context.Context) (ccow.Status, error) {
	return s.SetUser(ctx, "")
}

func (s *Synchronizer) submitWrite(ctx context.Context, values ccow.Dictionary) (ccow.Status, error) {
	var (
		st  ccow.Status
		err error
	)
	if derr := s.do(ctx, func(ctx context.Context) { st, err = s.write(ctx, values) }); derr != nil {
		return ccow.StatusFailure, derr
	}
	return st, err
}

func (s *Synchronizer) write(ctx context.Context, values ccow.Dictionary) (ccow.Status, error) {
	switch s.State() {
	case StateJoined:
	case StateSuspended:
		return ccow.StatusFailure, ErrSuspended
	default:
		return ccow.StatusFailure, ErrNotJoined
	}

	values = ccow.Normalize(values)
	st := s.call(ctx, "SetContext", func(ctx context.Context) error {
		return s.client.SetContext(ctx, values, true)
	})
	if st == ccow.StatusUnknownParticipant {
		s.forceLeave(st)
		return ccow.StatusForcedLeave, nil
	}
	return st, nil
}

// Suspend stops context change processing at the Contextor. An
// UnknownParticipant answer is reported as StatusForcedLeave.
func (s *Synchronizer) Suspend(ctx context.Context) (ccow.Status, error) {
	return s.participation(ctx, "SuspendParticipation", s.client.Suspend, StateSuspended)
}

// Resume restarts context change processing. An UnknownParticipant answer
// is reported as StatusForcedLeave.
func (s *Synchronizer) Resume(ctx context.Context) (ccow.Status, error) {
	return s.participation(ctx, "ResumeParticipation", s.client.Resume, StateJoined)
}

func (s *Synchronizer) participation(ctx context.Context, method string, fn func(context.Context) error, next State) (ccow.Status, error) {
	var (
		st  ccow.Status
		err error
	)
	derr := s.do(ctx, func(ctx context.Context) {
		if !s.State().receivesNotifications() {
			st, err = ccow.StatusFailure, ErrNotJoined
			return
		}
		st = s.call(ctx, method, fn)
		switch st {
		case ccow.StatusSuccess:
			s.setState(next)
		case ccow.StatusUnknownParticipant:
			s.forceLeave(st)
			st = ccow.StatusForcedLeave
		}
	})
	if derr != nil {
		return ccow.StatusFailure, derr
	}
	return st, err
}

// Leave leaves the common context. The session is considered ended whatever
// the Contextor answers.
func (s *Synchronizer) Leave(ctx context.Context) (ccow.Status, error) {
	var st ccow.Status
	derr := s.do(ctx, func(ctx context.Context) {
		if s.State() == StateNotJoined {
			st = ccow.StatusSuccess
			return
		}
		st = s.call(ctx, "LeaveCommonContext", s.client.Leave)
		s.setState(StateNotJoined)
		s.replaceCache(ccow.Dictionary{})
	})
	if derr != nil {
		return ccow.StatusFailure, derr
	}
	return st, nil
}

// ContextChangesPending implements ccow.Participant.
func (s *Synchronizer) ContextChangesPending(ctx context.Context, p ccow.Proposal) (reason string) {
	metrics.ObserveNotification("pending")
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("panic", fmt.Sprintf("%v", r)).Msg("survey responder panicked")
			reason = ""
		}
	}()
	reason = s.respond(ctx, p)
	s.logger.Debug().Str("context_coupon", p.ContextCoupon).Str("reason", reason).Msg("survey answered")
	return reason
}

// ContextChangesAccepted implements ccow.Participant. The context read and
// diff run on the worker in arrival order.
func (s *Synchronizer) ContextChangesAccepted(_ context.Context, p ccow.Proposal) {
	metrics.ObserveNotification("accepted")
	s.notify("accepted", func(ctx context.Context) { s.onAccepted(ctx, p) })
}

// ContextChangesCanceled implements ccow.Participant.
func (s *Synchronizer) ContextChangesCanceled(_ context.Context, p ccow.Proposal) {
	metrics.ObserveNotification("canceled")
	s.logger.Info().Str("context_coupon", p.ContextCoupon).Msg("context change canceled")
}

// CommonContextTerminated implements ccow.Participant.
func (s *Synchronizer) CommonContextTerminated(context.Context) {
	metrics.ObserveNotification("terminated")
	s.notify("terminated", func(context.Context) {
		s.setState(StateNotJoined)
		s.replaceCache(ccow.Dictionary{})
		s.emit(Event{Kind: EventTerminated})
	})
}

func (s *Synchronizer) onAccepted(ctx context.Context, p ccow.Proposal) {
	if st := s.State(); !st.receivesNotifications() {
		s.logger.Debug().Str("state", st.String()).Str("context_coupon", p.ContextCoupon).Msg("ignoring accepted change")
		return
	}

	next, st := s.fetchContext(ctx)
	switch st {
	case ccow.StatusSuccess:
		s.handleNotification(next)
	case ccow.StatusUnknownParticipant:
		s.forceLeave(st)
	default:
		s.logger.Warn().Str("status", st.String()).Str("context_coupon", p.ContextCoupon).Msg("context refresh after accepted change failed")
	}
}

func (s *Synchronizer) forceLeave(st ccow.Status) {
	s.setState(StateNotJoined)
	s.replaceCache(ccow.Dictionary{})
	s.emit(Event{Kind: EventForcedLeave, Status: st})
}

// fetchContext reads and normalizes the current context without touching
// the cache.
func (s *Synchronizer) fetchContext(ctx context.Context) (ccow.Dictionary, ccow.Status) {
	var dict ccow.Dictionary
	st := s.call(ctx, "GetContext", func(ctx context.Context) error {
		d, err := s.client.GetContext(ctx)
		dict = d
		return err
	})
	if st != ccow.StatusSuccess {
		return ccow.Dictionary{}, st
	}
	return ccow.Normalize(dict), st
}

// call runs one client call under the call timeout. Panics and timeouts
// resolve to StatusFailure; a call abandoned on timeout keeps running but
// its result is discarded.
func (s *Synchronizer) call(ctx context.Context, method string, fn func(context.Context) error) ccow.Status {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	start := time.Now()

	errc := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Str("method", method).Str("panic", fmt.Sprintf("%v", r)).Msg("context client call panicked")
				errc <- fmt.Errorf("%s: client panic: %v", method, r)
			}
		}()
		errc <- fn(ctx)
	}()

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
		err = fmt.Errorf("%s: %w", method, ctx.Err())
	}

	st := ccow.StatusOf(err)
	metrics.ObserveContextCall(method, st.String(), time.Since(start).Seconds())
	if err != nil {
		evt := s.logger.Warn()
		if st == ccow.StatusAlreadyJoined {
			evt = s.logger.Info()
		}
		evt.Err(err).Str("method", method).Str("status", st.String()).Msg("context call")
	}
	return st
}

func (s *Synchronizer) emit(ev Event) {
	metrics.ObserveEvent(ev.Kind.String())
	s.logger.Info().Str("event", ev.Kind.String()).Str("value", ev.Value).Msg("context event")
	select {
	case s.events <- ev:
	case <-s.quit:
	}
}

func (s *Synchronizer) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	if prev != next {
		s.logger.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("state transition")
	}
}

func (s *Synchronizer) replaceCache(d ccow.Dictionary) {
	s.mu.Lock()
	s.cached = d.Clone()
	s.mu.Unlock()
}

func (s *Synchronizer) run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.quit:
			return
		case t := <-s.tasks:
			// A caller that gave up while queued has already been answered.
			err := t.ctx.Err()
			if err == nil {
				t.run(t.ctx)
			}
			if t.done != nil {
				t.done <- err
			}
		}
	}
}

// do queues fn and waits for it to complete.
func (s *Synchronizer) do(ctx context.Context, fn func(context.Context)) error {
	t := task{ctx: ctx, run: fn, done: make(chan error, 1)}
	if err := s.enqueue(ctx, t); err != nil {
		return err
	}
	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		select {
		case err := <-t.done:
			return err
		default:
			return ErrClosed
		}
	}
}

// notify queues a notification task. It blocks while the queue is full so
// no notification is dropped or reordered.
func (s *Synchronizer) notify(kind string, fn func(context.Context)) {
	if err := s.enqueue(context.Background(), task{ctx: s.base, run: fn}); err != nil {
		s.logger.Warn().Err(err).Str("kind", kind).Msg("notification dropped")
	}
}

func (s *Synchronizer) enqueue(ctx context.Context, t task) error {
	select {
	case <-s.quit:
		return ErrClosed
	default:
	}
	select {
	case s.tasks <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.quit:
		return ErrClosed
	}
}
