package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/rpc"
	"sync"
	"time"

	"github.com/google/uuid"

	"enginehost/internal/binding"
	"enginehost/internal/controller"
	"enginehost/internal/engine"
	"enginehost/internal/grant"
	"enginehost/internal/logging"
	"enginehost/internal/registry"
)

var (
	// ErrWorkerGone reports a grant request addressed to a reclaimed worker.
	ErrWorkerGone = controller.ErrWorkerGone
	// ErrHostClosed reports a request after RemoteHost.Close.
	ErrHostClosed = errors.New("remote host closed")
)

// RemoteOptions configures a RemoteHost.
type RemoteOptions struct {
	SocketPath string
	// ClientID tags bind requests in the daemon's logs.
	ClientID string
	// BindWait bounds how long the daemon holds a bind request open.
	BindWait time.Duration
	// Heartbeat is the interval between binding probes. Zero uses one second.
	Heartbeat time.Duration
	Logger    *slog.Logger
}

// RemoteHost implements controller.Host and controller.Resolver against a
// daemon. Binds complete asynchronously; a heartbeat reports Disconnected
// when the daemon or the worker goes away.
type RemoteHost struct {
	path      string
	clientID  string
	bindWait  time.Duration
	heartbeat time.Duration
	logger    *slog.Logger
	wg        sync.WaitGroup

	mu     sync.Mutex
	client *Client
	links  map[binding.Conn]*link
	closed bool
}

// link is one bind attempt. bindingID is chosen before the Bind request is
// sent so that UnbindWorker can abandon the attempt while it is pending.
type link struct {
	stop      chan struct{}
	stopped   bool
	requested bool
	bindingID string
}

// NewRemoteHost returns a host that dials opts.SocketPath on first use.
func NewRemoteHost(opts RemoteOptions) *RemoteHost {
	heartbeat := opts.Heartbeat
	if heartbeat <= 0 {
		heartbeat = time.Second
	}
	return &RemoteHost{
		path:      opts.SocketPath,
		clientID:  opts.ClientID,
		bindWait:  opts.BindWait,
		heartbeat: heartbeat,
		logger:    logging.NewComponentLogger(opts.Logger, "remote-host"),
		links:     make(map[binding.Conn]*link),
	}
}

func (h *RemoteHost) dial() (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHostClosed
	}
	if h.client != nil {
		return h.client, nil
	}
	c, err := Dial(h.path)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	h.client = c
	return c, nil
}

// forget drops c after a transport failure so the next call redials.
// Application errors returned by the daemon keep the connection.
func (h *RemoteHost) forget(c *Client, err error) {
	var serverErr rpc.ServerError
	if err == nil || errors.As(err, &serverErr) {
		return
	}
	h.mu.Lock()
	if h.client == c {
		h.client = nil
	}
	h.mu.Unlock()
	_ = c.Close()
}

func (h *RemoteHost) call(ctx context.Context, method string, req, resp any) error {
	c, err := h.dial()
	if err != nil {
		return err
	}
	call := c.client.Go(ServiceName+"."+method, req, resp, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case done := <-call.Done:
		h.forget(c, done.Error)
		return done.Error
	}
}

// StartWorker implements controller.Host.
func (h *RemoteHost) StartWorker(ctx context.Context, intent engine.Intent) (registry.Key, error) {
	var resp StartResponse
	req := StartRequest{Action: intent.Action, URI: intent.URI, Extras: intent.Extras}
	if err := h.call(ctx, "Start", req, &resp); err != nil {
		return "", fmt.Errorf("start worker: %w", err)
	}
	return registry.Key(resp.WorkerKey), nil
}

// BindWorker implements binding.Binder. The bind request runs in the
// background and its outcome is reported to conn.
func (h *RemoteHost) BindWorker(conn binding.Conn) error {
	if conn == nil {
		return errors.New("bind worker: nil connection")
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHostClosed
	}
	if _, exists := h.links[conn]; exists {
		h.mu.Unlock()
		return nil
	}
	l := &link{stop: make(chan struct{}), bindingID: uuid.NewString()}
	h.links[conn] = l
	h.wg.Add(1)
	h.mu.Unlock()

	go h.run(conn, l)
	return nil
}

func (h *RemoteHost) run(conn binding.Conn, l *link) {
	defer h.wg.Done()

	h.mu.Lock()
	if l.stopped {
		h.mu.Unlock()
		return
	}
	l.requested = true
	h.mu.Unlock()

	var resp BindResponse
	req := BindRequest{ControllerID: h.clientID, BindingID: l.bindingID, WaitMillis: h.bindWait.Milliseconds()}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-l.stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	err := h.call(ctx, "Bind", req, &resp)
	cancel()
	if err != nil {
		h.logger.Debug("remote bind failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "remote_bind_failed"))
		h.sever(conn, l)
		return
	}

	h.mu.Lock()
	if l.stopped {
		// UnbindWorker already released the binding by id.
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	conn.Connected(registry.Key(resp.WorkerKey))

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}
		var ping PingResponse
		pingCtx, pingCancel := context.WithTimeout(context.Background(), h.heartbeat+2*time.Second)
		err := h.call(pingCtx, "Ping", PingRequest{BindingID: l.bindingID}, &ping)
		pingCancel()
		if err != nil || !ping.Alive {
			h.logger.Debug("remote binding lost",
				logging.String(logging.FieldWorkerKey, resp.WorkerKey),
				logging.Bool("daemon_reachable", err == nil),
				logging.String(logging.FieldEventType, "remote_binding_lost"))
			h.sever(conn, l)
			return
		}
	}
}

// sever reports Disconnected unless the controller already unbound.
func (h *RemoteHost) sever(conn binding.Conn, l *link) {
	h.mu.Lock()
	if l.stopped {
		h.mu.Unlock()
		return
	}
	l.stopped = true
	close(l.stop)
	if h.links[conn] == l {
		delete(h.links, conn)
	}
	h.mu.Unlock()
	conn.Disconnected()
}

// UnbindWorker implements binding.Binder. A pending bind is abandoned on the
// daemon side as well, even when its Bind request is still in flight.
func (h *RemoteHost) UnbindWorker(conn binding.Conn) {
	h.mu.Lock()
	l, ok := h.links[conn]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.links, conn)
	if !l.stopped {
		l.stopped = true
		close(l.stop)
	}
	requested, id := l.requested, l.bindingID
	h.mu.Unlock()
	if requested {
		h.unbindRemote(id)
	}
}

func (h *RemoteHost) unbindRemote(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var resp UnbindResponse
	if err := h.call(ctx, "Unbind", UnbindRequest{BindingID: id}, &resp); err != nil {
		h.logger.Debug("remote unbind failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "remote_unbind_failed"))
	}
}

// Resolve implements controller.Resolver. Whether the key is still live is
// only known to the daemon, so a stale key surfaces as ErrWorkerGone from
// the reference.
func (h *RemoteHost) Resolve(key registry.Key) (controller.WorkerRef, bool) {
	if key == "" {
		return nil, false
	}
	return remoteWorker{host: h, key: key}, true
}

// Close stops every heartbeat and closes the daemon connection, which
// releases the daemon side of every binding.
func (h *RemoteHost) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	for conn, l := range h.links {
		if !l.stopped {
			l.stopped = true
			close(l.stop)
		}
		delete(h.links, conn)
	}
	c := h.client
	h.client = nil
	h.mu.Unlock()

	var err error
	if c != nil {
		err = c.Close()
	}
	h.wg.Wait()
	return err
}

type remoteWorker struct {
	host *RemoteHost
	key  registry.Key
}

func (w remoteWorker) MakeForegroundActive(ctx context.Context, active bool) (grant.Descriptor, error) {
	var resp SetForegroundResponse
	req := SetForegroundRequest{WorkerKey: w.key.String(), Active: active}
	if err := w.host.call(ctx, "SetForeground", req, &resp); err != nil {
		return grant.Descriptor{}, err
	}
	switch {
	case resp.Gone:
		return grant.Descriptor{}, ErrWorkerGone
	case resp.Denied:
		return grant.Descriptor{}, fmt.Errorf("%w: %s", grant.ErrDenied, resp.Error)
	}
	return resp.Descriptor, nil
}
