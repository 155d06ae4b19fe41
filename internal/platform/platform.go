package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"enginehost/internal/binding"
	"enginehost/internal/config"
	"enginehost/internal/engine"
	"enginehost/internal/eventloop"
	"enginehost/internal/grant"
	"enginehost/internal/logging"
	"enginehost/internal/notifications"
	"enginehost/internal/registry"
	"enginehost/internal/worker"
)

var (
	// ErrWorkerGone reports a request addressed to a reclaimed worker.
	ErrWorkerGone = grant.ErrWorkerGone
	// ErrNoWorker reports that no worker is running.
	ErrNoWorker = errors.New("no worker running")
	// ErrClosed reports a request after Close.
	ErrClosed = errors.New("platform closed")
	// ErrNoBoundController is the refusal reason used by RequireBinding.
	ErrNoBoundController = errors.New("no bound controller")
)

// DenyPolicy decides whether a promotion request is refused. A non-nil
// error denies it.
type DenyPolicy func(key registry.Key, descriptor grant.Descriptor) error

// Observer receives host lifecycle events. Nil hooks are skipped.
type Observer struct {
	WorkerCreated     func(key registry.Key)
	WorkerDestroyed   func(key registry.Key)
	WorkerRestarted   func(key registry.Key)
	BindingTransition func(from, to binding.State)
	Grant             grant.Observer
}

// Options configures a Platform.
type Options struct {
	Grant config.Grant
	// Poster delivers Connected callbacks. Defaults to a dedicated looper.
	Poster eventloop.Poster
	// Registry holds the worker singleton. Defaults to the process registry.
	Registry *registry.Registry[*worker.Worker]
	Notifier notifications.Service
	Logger   *slog.Logger
	Observer Observer
	Deny     DenyPolicy
	// RequireBinding refuses promotion while no connection is bound.
	RequireBinding bool
}

type connRecord struct {
	state binding.State
	since time.Time
}

// Platform is the host model.
type Platform struct {
	cfg            config.Grant
	poster         eventloop.Poster
	ownLooper      *eventloop.Looper
	registry       *registry.Registry[*worker.Worker]
	release        func()
	notifications  *NotificationManager
	notifier       notifications.Service
	logger         *slog.Logger
	observer       Observer
	deny           DenyPolicy
	requireBinding bool
	publishes      sync.WaitGroup

	mu         sync.Mutex
	conns      map[binding.Conn]*connRecord
	foreground map[registry.Key]grant.Descriptor
	started    bool
	policy     worker.StartPolicy
	restarts   int
	closed     bool
}

// New builds a platform with no worker running.
func New(opts Options) *Platform {
	p := &Platform{
		cfg:            opts.Grant,
		poster:         opts.Poster,
		registry:       opts.Registry,
		notifications:  NewNotificationManager(),
		notifier:       opts.Notifier,
		logger:         logging.NewComponentLogger(opts.Logger, "platform"),
		observer:       opts.Observer,
		deny:           opts.Deny,
		requireBinding: opts.RequireBinding,
		conns:          make(map[binding.Conn]*connRecord),
		foreground:     make(map[registry.Key]grant.Descriptor),
	}
	if p.poster == nil {
		p.ownLooper = eventloop.NewLooper()
		p.poster = p.ownLooper
	}
	if p.registry == nil {
		p.registry, p.release = worker.AcquireRegistry()
	}
	if p.notifier == nil {
		p.notifier = notifications.Noop()
	}
	return p
}

// NotificationManager implements worker.Services.
func (p *Platform) NotificationManager() (grant.NotificationManager, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return p.notifications, nil
}

// Promoter implements worker.Services.
func (p *Platform) Promoter(key registry.Key) grant.Promoter {
	return &promoter{p: p, key: key}
}

// Notifications exposes the host's channel table.
func (p *Platform) Notifications() *NotificationManager {
	return p.notifications
}

func (p *Platform) ensureWorker() (*worker.Worker, error) {
	key, w, created, err := p.registry.Ensure(worker.RegistryName, func(k registry.Key) (*worker.Worker, error) {
		w := worker.New(k, p.cfg, p, p.logger, p.observer.Grant)
		if err := w.OnCreate(); err != nil {
			return nil, err
		}
		return w, nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		p.logger.Info("worker instantiated",
			logging.WorkerKey(key),
			logging.String(logging.FieldEventType, "worker_instantiated"))
		if p.observer.WorkerCreated != nil {
			p.observer.WorkerCreated(key)
		}
	}
	return w, nil
}

// StartWorker creates the worker on first use and delivers a start command.
// Repeated calls reuse the live worker.
func (p *Platform) StartWorker(ctx context.Context, intent engine.Intent) (registry.Key, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.isClosed() {
		return "", ErrClosed
	}
	w, err := p.ensureWorker()
	if err != nil {
		return "", fmt.Errorf("start worker: %w", err)
	}
	policy := w.OnStartCommand(intent)

	p.mu.Lock()
	p.started = true
	p.policy = policy
	p.mu.Unlock()
	return w.Key(), nil
}

// BindWorker records conn and delivers Connected asynchronously. The worker
// is created if needed. Binding an already known connection is a no-op.
func (p *Platform) BindWorker(conn binding.Conn) error {
	if conn == nil {
		return errors.New("bind worker: nil connection")
	}
	if p.isClosed() {
		return ErrClosed
	}
	if _, err := p.ensureWorker(); err != nil {
		return fmt.Errorf("bind worker: %w", err)
	}

	p.mu.Lock()
	if _, exists := p.conns[conn]; exists {
		p.mu.Unlock()
		return nil
	}
	p.conns[conn] = &connRecord{state: binding.Connecting, since: time.Now()}
	p.mu.Unlock()
	p.transition(binding.Unbound, binding.Connecting)

	if !p.poster.Post(func() { p.deliver(conn) }) {
		p.mu.Lock()
		delete(p.conns, conn)
		p.mu.Unlock()
		p.transition(binding.Connecting, binding.Unbound)
		return ErrClosed
	}
	return nil
}

func (p *Platform) deliver(conn binding.Conn) {
	key, _, live := p.registry.Current(worker.RegistryName)

	p.mu.Lock()
	rec, pending := p.conns[conn]
	if !pending || rec.state != binding.Connecting || !live {
		p.mu.Unlock()
		p.logger.Debug("connection abandoned before delivery",
			logging.Bool("worker_live", live),
			logging.String(logging.FieldEventType, "bind_delivery_skipped"))
		return
	}
	rec.state = binding.Bound
	wait := time.Since(rec.since)
	p.mu.Unlock()

	p.transition(binding.Connecting, binding.Bound)
	p.logger.Debug("connection delivered",
		logging.WorkerKey(key),
		logging.Duration("wait", wait),
		logging.String(logging.FieldEventType, "bind_delivered"))
	conn.Connected(key)
}

// UnbindWorker forgets conn. Unknown connections are ignored.
func (p *Platform) UnbindWorker(conn binding.Conn) {
	p.mu.Lock()
	rec, ok := p.conns[conn]
	if ok {
		delete(p.conns, conn)
	}
	p.mu.Unlock()
	if !ok {
		p.logger.Debug("unbind for unknown connection ignored",
			logging.String(logging.FieldEventType, "unbind_unknown"))
		return
	}
	p.transition(rec.state, binding.Unbound)
}

// ReclaimResult reports what a reclamation did.
type ReclaimResult struct {
	Reclaimed registry.Key `json:"reclaimed"`
	Restarted registry.Key `json:"restarted,omitempty"`
	Severed   int          `json:"severed"`
}

// Reclaim kills the worker the way the host does under memory pressure:
// every connection sees Disconnected, the worker is destroyed and removed
// from the registry, and protected execution is revoked with it. A worker
// whose last start policy was sticky is recreated and receives a start
// command with an empty intent. The channel table survives.
func (p *Platform) Reclaim(ctx context.Context) (ReclaimResult, error) {
	if err := ctx.Err(); err != nil {
		return ReclaimResult{}, err
	}
	key, w, ok := p.registry.Current(worker.RegistryName)
	if !ok {
		return ReclaimResult{}, ErrNoWorker
	}

	p.mu.Lock()
	severed := p.conns
	p.conns = make(map[binding.Conn]*connRecord)
	descriptor, wasForeground := p.foreground[key]
	delete(p.foreground, key)
	sticky := p.started && p.policy == worker.StartSticky
	p.mu.Unlock()

	for conn, rec := range severed {
		p.transition(rec.state, binding.Unbound)
		conn.Disconnected()
	}
	if wasForeground {
		p.notifications.cancel(descriptor.ID)
	}
	w.OnDestroy()
	p.registry.Remove(key)
	if p.observer.WorkerDestroyed != nil {
		p.observer.WorkerDestroyed(key)
	}
	logging.WarnWithContext(p.logger, "worker reclaimed", "worker_reclaimed",
		logging.WorkerKey(key),
		logging.Int("severed", len(severed)),
		logging.Bool("was_foreground", wasForeground),
		logging.Bool("sticky", sticky),
		logging.String(logging.FieldImpact, "bound controllers lose their worker reference"),
		logging.String(logging.FieldErrorHint, "controllers reconnect when reconnect is enabled"))

	result := ReclaimResult{Reclaimed: key, Severed: len(severed)}
	if !sticky {
		p.mu.Lock()
		p.started = false
		p.mu.Unlock()
		return result, nil
	}

	restarted, err := p.ensureWorker()
	if err != nil {
		return result, fmt.Errorf("restart worker: %w", err)
	}
	policy := restarted.OnStartCommand(engine.Intent{})
	p.mu.Lock()
	p.policy = policy
	p.restarts++
	p.mu.Unlock()

	result.Restarted = restarted.Key()
	if p.observer.WorkerRestarted != nil {
		p.observer.WorkerRestarted(result.Restarted)
	}
	p.publish(notifications.EventWorkerRestarted, notifications.Payload{"worker_key": result.Restarted.String()})
	return result, nil
}

// Resolve looks up a worker by incarnation key.
func (p *Platform) Resolve(key registry.Key) (*worker.Worker, bool) {
	return p.registry.Lookup(key)
}

// SetForeground forwards a grant request to the worker identified by key.
func (p *Platform) SetForeground(ctx context.Context, key registry.Key, active bool) (grant.Descriptor, error) {
	w, ok := p.Resolve(key)
	if !ok {
		return grant.Descriptor{}, ErrWorkerGone
	}
	return w.MakeForegroundActive(ctx, active)
}

// Foreground reports the descriptor the worker identified by key was
// promoted with.
func (p *Platform) Foreground(key registry.Key) (grant.Descriptor, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.foreground[key]
	return d, ok
}

// Status is a point-in-time view of the host.
type Status struct {
	Worker     *worker.Status    `json:"worker,omitempty"`
	Started    bool              `json:"started"`
	Policy     string            `json:"policy"`
	Restarts   int               `json:"restarts"`
	Bound      int               `json:"bound"`
	Pending    int               `json:"pending"`
	Foreground bool              `json:"foreground"`
	Descriptor *grant.Descriptor `json:"descriptor,omitempty"`
	Channels   []grant.Channel   `json:"channels"`
}

// Status summarizes the worker, its connections and its promotion.
func (p *Platform) Status() Status {
	key, w, live := p.registry.Current(worker.RegistryName)
	var ws *worker.Status
	if live {
		s := w.Status()
		ws = &s
	}

	p.mu.Lock()
	status := Status{
		Worker:   ws,
		Started:  p.started,
		Policy:   p.policy.String(),
		Restarts: p.restarts,
	}
	for _, rec := range p.conns {
		switch rec.state {
		case binding.Bound:
			status.Bound++
		case binding.Connecting:
			status.Pending++
		}
	}
	if live {
		if d, ok := p.foreground[key]; ok {
			status.Foreground = true
			status.Descriptor = &d
		}
	}
	p.mu.Unlock()

	status.Channels = p.notifications.Channels()
	return status
}

// Close stops accepting requests and waits for pending notification mirrors.
// The worker itself is left registered.
func (p *Platform) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	if p.ownLooper != nil {
		p.ownLooper.Close()
	}
	p.publishes.Wait()
	if p.release != nil {
		p.release()
	}
}

func (p *Platform) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Platform) boundCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, rec := range p.conns {
		if rec.state == binding.Bound {
			n++
		}
	}
	return n
}

func (p *Platform) transition(from, to binding.State) {
	if from == to || p.observer.BindingTransition == nil {
		return
	}
	p.observer.BindingTransition(from, to)
}

// publish mirrors event in the background. Events after Close are dropped.
func (p *Platform) publish(event notifications.Event, payload notifications.Payload) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.Debug("notification mirror skipped; platform closed",
			logging.String("event", string(event)),
			logging.String(logging.FieldEventType, "notification_skipped"))
		return
	}
	p.publishes.Add(1)
	p.mu.Unlock()
	go func() {
		defer p.publishes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := p.notifier.Publish(ctx, event, payload); err != nil {
			logging.WarnWithContext(p.logger, "notification mirror failed", "notification_failed",
				logging.String("event", string(event)),
				logging.Error(err),
				logging.String(logging.FieldImpact, "remote mirror out of date"),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"))
		}
	}()
}
