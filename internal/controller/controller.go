package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"enginehost/internal/binding"
	"enginehost/internal/engine"
	"enginehost/internal/eventloop"
	"enginehost/internal/grant"
	"enginehost/internal/logging"
	"enginehost/internal/registry"
	"enginehost/internal/worker"
)

// ErrWorkerGone is returned by a WorkerRef whose worker has been reclaimed.
// Controllers treat it as a dropped request.
var ErrWorkerGone = grant.ErrWorkerGone

// Host is the host side the controller talks to.
type Host interface {
	binding.Binder
	StartWorker(ctx context.Context, intent engine.Intent) (registry.Key, error)
}

// WorkerRef is a resolved, non-owning reference to the worker.
type WorkerRef interface {
	MakeForegroundActive(ctx context.Context, active bool) (grant.Descriptor, error)
}

// Resolver turns the worker key recorded by the binding channel into a
// reference. Resolution fails once the worker has been reclaimed.
type Resolver interface {
	Resolve(key registry.Key) (WorkerRef, bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(key registry.Key) (WorkerRef, bool)

func (f ResolverFunc) Resolve(key registry.Key) (WorkerRef, bool) { return f(key) }

// LocalResolver resolves keys against an in-process worker lookup.
func LocalResolver(lookup func(registry.Key) (*worker.Worker, bool)) Resolver {
	return ResolverFunc(func(key registry.Key) (WorkerRef, bool) {
		w, ok := lookup(key)
		if !ok {
			return nil, false
		}
		return w, true
	})
}

// Result describes the outcome of a grant request.
type Result struct {
	Delivered  bool             `json:"delivered"`
	Descriptor grant.Descriptor `json:"descriptor"`
}

// Observer receives controller events. Nil hooks are skipped.
type Observer struct {
	BindingChanged func(binding.Change)
	RequestDropped func(reason string)
}

// Options configures a Controller.
type Options struct {
	// Poster is the controller's dispatch thread. Binding callbacks and
	// reconnect attempts run on it. Defaults to eventloop.Inline.
	Poster         eventloop.Poster
	ConnectTimeout time.Duration
	// Reconnect schedules a new connect after the worker drops the binding.
	// Nil disables reconnecting.
	Reconnect backoff.BackOff
	Logger    *slog.Logger
	Observer  Observer
}

// NewReconnectBackOff returns the default exponential reconnect schedule.
func NewReconnectBackOff(maxInterval time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	if maxInterval > 0 {
		b.MaxInterval = maxInterval
	}
	b.MaxElapsedTime = 0
	return b
}

// Controller is one front-end session.
type Controller struct {
	id       string
	handle   *engine.Handle
	host     Host
	resolver Resolver
	channel  *binding.Channel
	poster   eventloop.Poster
	logger   *slog.Logger
	observer Observer

	mu             sync.Mutex
	reconnect      backoff.BackOff
	reconnectTimer *time.Timer
	created        bool
	destroyed      bool
	wantForeground bool
	reconnects     int
}

// New returns a controller that has not run OnCreate yet.
func New(native engine.Native, host Host, resolver Resolver, opts Options) *Controller {
	id := uuid.NewString()
	base := opts.Logger
	if base == nil {
		base = logging.NewNop()
	}
	base = base.With(logging.String(logging.FieldControllerID, id))
	logger := logging.NewComponentLogger(base, "controller")
	poster := opts.Poster
	if poster == nil {
		poster = eventloop.Inline{}
	}
	c := &Controller{
		id:        id,
		handle:    engine.NewHandle(native, base),
		host:      host,
		resolver:  resolver,
		poster:    poster,
		logger:    logger,
		observer:  opts.Observer,
		reconnect: opts.Reconnect,
	}
	c.channel = binding.NewChannel(host, binding.Options{
		Poster:         poster,
		ConnectTimeout: opts.ConnectTimeout,
		Logger:         logger,
		OnChange:       c.onBindingChange,
	})
	return c
}

// ID returns the controller's session id.
func (c *Controller) ID() string { return c.id }

// OnCreate constructs the engine, starts the worker and issues the bind.
// The bind completes asynchronously. OnDestroy must follow even when
// OnCreate fails after constructing the engine.
func (c *Controller) OnCreate(ctx context.Context, intent engine.Intent) error {
	if err := c.handle.Construct(); err != nil {
		return err
	}
	c.mu.Lock()
	c.created = true
	c.mu.Unlock()

	key, err := c.host.StartWorker(ctx, intent)
	if err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	c.logger.Info("controller created",
		logging.WorkerKey(key),
		logging.String(logging.FieldEventType, "controller_created"))
	if err := c.channel.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// OnDestroy destroys the engine and tears the binding down. A bound or
// pending channel is disconnected; an unbound one is left alone. The worker
// keeps running.
func (c *Controller) OnDestroy() error {
	c.mu.Lock()
	c.destroyed = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.mu.Unlock()

	err := c.handle.Destroy()
	if c.channel.State() != binding.Unbound {
		c.channel.Disconnect()
	}
	c.logger.Info("controller destroyed",
		logging.String(logging.FieldEventType, "controller_destroyed"))
	return err
}

// OnNewIntent forwards intent to the engine regardless of binding state. It
// reports false when the engine is not constructed.
func (c *Controller) OnNewIntent(intent engine.Intent) (bool, error) {
	return c.handle.NewIntent(intent)
}

// SetForegroundServiceActive asks the bound worker to acquire or release the
// execution grant. Requests while unbound or against a reclaimed worker are
// dropped and reported with Delivered false. Host refusal is returned as an
// error wrapping grant.ErrDenied.
func (c *Controller) SetForegroundServiceActive(ctx context.Context, active bool) (Result, error) {
	c.mu.Lock()
	c.wantForeground = active
	c.mu.Unlock()
	return c.deliverForeground(ctx, active)
}

func (c *Controller) deliverForeground(ctx context.Context, active bool) (Result, error) {
	key, bound := c.channel.Worker()
	if !bound {
		c.drop("unbound", active)
		return Result{}, nil
	}
	ref, ok := c.resolver.Resolve(key)
	if !ok {
		c.drop("worker_unresolved", active)
		return Result{}, nil
	}
	descriptor, err := ref.MakeForegroundActive(ctx, active)
	if err != nil {
		if errors.Is(err, ErrWorkerGone) || errors.Is(err, worker.ErrDestroyed) {
			c.drop("worker_gone", active)
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("set foreground %t: %w", active, err)
	}
	return Result{Delivered: true, Descriptor: descriptor}, nil
}

func (c *Controller) drop(reason string, active bool) {
	c.logger.Debug("grant request dropped",
		logging.String("reason", reason),
		logging.Bool("active", active),
		logging.String(logging.FieldBindingState, c.channel.State().String()),
		logging.String(logging.FieldEventType, "grant_request_dropped"))
	if c.observer.RequestDropped != nil {
		c.observer.RequestDropped(reason)
	}
}

// State returns the binding state.
func (c *Controller) State() binding.State { return c.channel.State() }

// Worker returns the bound worker's key.
func (c *Controller) Worker() (registry.Key, bool) { return c.channel.Worker() }

// WaitBound blocks until the binding completes or fails.
func (c *Controller) WaitBound(ctx context.Context) (registry.Key, error) {
	return c.channel.WaitBound(ctx)
}

// Reconnects reports how many reconnect attempts have been issued.
func (c *Controller) Reconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnects
}

// Constructed reports whether the engine handle is live.
func (c *Controller) Constructed() bool { return c.handle.Constructed() }

func (c *Controller) onBindingChange(change binding.Change) {
	if c.observer.BindingChanged != nil {
		c.observer.BindingChanged(change)
	}
	switch {
	case change.To == binding.Bound:
		c.onBound()
	case change.To == binding.Unbound && (change.Cause == binding.EventDisconnected || change.Cause == binding.EventTimeout):
		c.scheduleReconnect(change.Cause)
	}
}

func (c *Controller) onBound() {
	c.mu.Lock()
	if c.reconnect != nil {
		c.reconnect.Reset()
	}
	restore := c.wantForeground && c.reconnects > 0
	c.mu.Unlock()
	if !restore {
		return
	}
	// Posted so the restore runs after the transition that triggered it.
	c.poster.Post(func() {
		if _, err := c.deliverForeground(context.Background(), true); err != nil {
			logging.WarnWithContext(c.logger, "foreground restore after reconnect failed", "grant_restore_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "engine runs without protected execution"),
				logging.String(logging.FieldErrorHint, "request foreground again"))
		}
	})
}

func (c *Controller) scheduleReconnect(cause binding.EventKind) {
	c.mu.Lock()
	if c.destroyed || !c.created || c.reconnect == nil {
		c.mu.Unlock()
		return
	}
	delay := c.reconnect.NextBackOff()
	if delay > 0 {
		c.reconnectTimer = time.AfterFunc(delay, func() { c.poster.Post(c.reconnectNow) })
	}
	c.mu.Unlock()

	if delay == backoff.Stop {
		logging.WarnWithContext(c.logger, "reconnect attempts exhausted", "reconnect_exhausted",
			logging.String("cause", cause.String()),
			logging.String(logging.FieldImpact, "controller stays unbound"),
			logging.String(logging.FieldErrorHint, "restart the controller"))
		return
	}
	c.logger.Info("worker connection lost; reconnecting",
		logging.String("cause", cause.String()),
		logging.Duration("delay", delay),
		logging.String(logging.FieldEventType, "reconnect_scheduled"))
	if delay == 0 {
		c.poster.Post(c.reconnectNow)
	}
}

func (c *Controller) reconnectNow() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.reconnects++
	c.mu.Unlock()

	if err := c.channel.Connect(); err != nil {
		logging.WarnWithContext(c.logger, "reconnect failed", "reconnect_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "controller stays unbound"),
			logging.String(logging.FieldErrorHint, "check that the worker host is running"))
		c.scheduleReconnect(binding.EventRejected)
	}
}
