package binding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"enginehost/internal/eventloop"
	"enginehost/internal/logging"
	"enginehost/internal/registry"
)

var (
	// ErrBindTimeout reports that a pending bind exceeded the connect timeout.
	ErrBindTimeout = errors.New("bind timed out")
	// ErrNotConnected is returned by WaitBound when no bind is pending.
	ErrNotConnected = errors.New("channel not connected")
)

// Conn receives host callbacks for one bind attempt.
type Conn interface {
	Connected(worker registry.Key)
	Disconnected()
}

// Binder is the host side of the protocol. BindWorker must return before the
// host invokes any callback on conn. UnbindWorker must tolerate connections
// it no longer knows.
type Binder interface {
	BindWorker(conn Conn) error
	UnbindWorker(conn Conn)
}

// Change describes one applied transition.
type Change struct {
	From     State
	To       State
	Cause    EventKind
	Snapshot Snapshot
	Err      error
}

// Options configures a Channel.
type Options struct {
	// Poster is the dispatch thread host callbacks are delivered on.
	// Defaults to eventloop.Inline.
	Poster eventloop.Poster
	// ConnectTimeout bounds how long a bind may stay pending. Zero waits
	// indefinitely.
	ConnectTimeout time.Duration
	Logger         *slog.Logger
	// OnChange runs on the dispatching goroutine after every transition.
	OnChange func(Change)
}

// Channel is one controller's binding to the worker.
type Channel struct {
	binder   Binder
	poster   eventloop.Poster
	timeout  time.Duration
	logger   *slog.Logger
	onChange func(Change)

	mu      sync.Mutex
	snap    Snapshot
	conn    *connection
	timer   *time.Timer
	lastErr error
	changed chan struct{}
}

// NewChannel returns an unbound channel.
func NewChannel(binder Binder, opts Options) *Channel {
	poster := opts.Poster
	if poster == nil {
		poster = eventloop.Inline{}
	}
	return &Channel{
		binder:   binder,
		poster:   poster,
		timeout:  opts.ConnectTimeout,
		logger:   logging.NewComponentLogger(opts.Logger, "binding"),
		onChange: opts.OnChange,
		changed:  make(chan struct{}),
	}
}

type connection struct {
	ch  *Channel
	gen uint64
}

func (c *connection) Connected(worker registry.Key) {
	c.ch.deliver(Event{Kind: EventConnected, Generation: c.gen, Worker: worker})
}

func (c *connection) Disconnected() {
	c.ch.deliver(Event{Kind: EventDisconnected, Generation: c.gen})
}

type step struct {
	change  Change
	effects []Effect
	conn    *connection
}

// Connect issues an asynchronous bind. It returns before the worker is
// resolved. Connecting an already connecting or bound channel is a no-op.
// A bind the host refuses immediately returns the channel to Unbound and
// the refusal is returned.
func (ch *Channel) Connect() error {
	return ch.run(Event{Kind: EventConnect})
}

// Disconnect tears the channel down. From Connecting it abandons the pending
// bind; from Unbound it does nothing.
func (ch *Channel) Disconnect() {
	_ = ch.run(Event{Kind: EventDisconnect})
}

func (ch *Channel) deliver(e Event) {
	if !ch.poster.Post(func() { _ = ch.run(e) }) {
		ch.logger.Debug("binding callback dropped; dispatcher closed",
			logging.String("event", e.Kind.String()),
			logging.Generation(e.Generation),
			logging.String(logging.FieldEventType, "binding_callback_dropped"))
	}
}

func (ch *Channel) run(e Event) error {
	var cause error
	if e.Kind == EventTimeout {
		cause = ErrBindTimeout
	}
	s, ok := ch.advance(e, cause)
	if !ok {
		return nil
	}
	if ch.onChange != nil {
		ch.onChange(s.change)
	}
	return ch.apply(s)
}

func (ch *Channel) advance(e Event, cause error) (step, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	prev := ch.snap
	next, effects := Transition(prev, e)
	if next == prev && len(effects) == 0 {
		ch.logger.Debug("binding event discarded",
			logging.String("event", e.Kind.String()),
			logging.String(logging.FieldBindingState, prev.State.String()),
			logging.Generation(e.Generation),
			logging.Uint64("current_generation", prev.Generation),
			logging.String(logging.FieldEventType, "binding_event_discarded"))
		return step{}, false
	}

	ch.snap = next
	if e.Kind == EventConnect {
		ch.lastErr = nil
		ch.conn = &connection{ch: ch, gen: next.Generation}
	}
	conn := ch.conn
	if next.State == Unbound {
		ch.conn = nil
	}
	if cause != nil {
		ch.lastErr = cause
	}
	ch.updateTimerLocked(prev, next)
	close(ch.changed)
	ch.changed = make(chan struct{})

	ch.logger.Debug("binding transition",
		logging.String("event", e.Kind.String()),
		logging.String("from", prev.State.String()),
		logging.String(logging.FieldBindingState, next.State.String()),
		logging.Generation(next.Generation),
		logging.String(logging.FieldEventType, "binding_transition"))

	change := Change{From: prev.State, To: next.State, Cause: e.Kind, Snapshot: next, Err: cause}
	return step{change: change, effects: effects, conn: conn}, true
}

func (ch *Channel) updateTimerLocked(prev, next Snapshot) {
	if next.State != Connecting {
		if ch.timer != nil {
			ch.timer.Stop()
			ch.timer = nil
		}
		return
	}
	if prev.State == Connecting || ch.timeout <= 0 {
		return
	}
	gen := next.Generation
	ch.timer = time.AfterFunc(ch.timeout, func() {
		ch.deliver(Event{Kind: EventTimeout, Generation: gen})
	})
}

func (ch *Channel) apply(s step) error {
	for _, effect := range s.effects {
		switch effect.Kind {
		case EffectIssueBind:
			if err := ch.binder.BindWorker(s.conn); err != nil {
				ch.reject(effect.Generation, err)
				return fmt.Errorf("bind worker: %w", err)
			}
		case EffectIssueUnbind:
			ch.binder.UnbindWorker(s.conn)
		case EffectStoreRef:
			ch.logger.Info("worker bound",
				logging.WorkerKey(effect.Worker),
				logging.Generation(effect.Generation),
				logging.String(logging.FieldEventType, "worker_bound"))
		case EffectClearRef:
			ch.logger.Info("worker reference cleared",
				logging.WorkerKey(effect.Worker),
				logging.Generation(effect.Generation),
				logging.String(logging.FieldEventType, "worker_unbound"))
		case EffectReportTimeout:
			logging.WarnWithContext(ch.logger, "bind timed out", "bind_timeout",
				logging.Duration("timeout", ch.timeout),
				logging.Generation(effect.Generation),
				logging.String(logging.FieldImpact, "worker unreachable; grant requests are dropped"),
				logging.String(logging.FieldErrorHint, "check that the worker daemon is running"))
		}
	}
	return nil
}

func (ch *Channel) reject(gen uint64, err error) {
	s, ok := ch.advance(Event{Kind: EventRejected, Generation: gen}, err)
	if !ok {
		return
	}
	if ch.onChange != nil {
		ch.onChange(s.change)
	}
}

// State returns the current binding state.
func (ch *Channel) State() State {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.snap.State
}

// Snapshot returns the full channel state.
func (ch *Channel) Snapshot() Snapshot {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.snap
}

// Worker returns the bound worker's key. It reports false unless Bound.
func (ch *Channel) Worker() (registry.Key, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.snap.State != Bound {
		return "", false
	}
	return ch.snap.Worker, true
}

// WaitBound blocks until the channel is Bound and returns the worker key. It
// fails with ErrBindTimeout when the pending bind timed out, and with
// ErrNotConnected when the channel is Unbound for any other reason.
func (ch *Channel) WaitBound(ctx context.Context) (registry.Key, error) {
	for {
		ch.mu.Lock()
		snap, lastErr, changed := ch.snap, ch.lastErr, ch.changed
		ch.mu.Unlock()

		switch snap.State {
		case Bound:
			return snap.Worker, nil
		case Unbound:
			if lastErr != nil {
				return "", lastErr
			}
			return "", ErrNotConnected
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-changed:
		}
	}
}
