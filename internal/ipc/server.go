package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"enginehost/internal/daemon"
	"enginehost/internal/engine"
	"enginehost/internal/grant"
	"enginehost/internal/logging"
	"enginehost/internal/platform"
	"enginehost/internal/registry"
	"enginehost/internal/worker"
)

// ServiceName is the RPC service controllers and the CLI call.
const ServiceName = "EngineHost"

const defaultBindWait = 10 * time.Second

var errBindAbandoned = errors.New("worker not delivered")

// Server exposes the daemon's host over JSON-RPC on a Unix domain socket.
type Server struct {
	path     string
	daemon   *daemon.Daemon
	logger   *slog.Logger
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:     path,
		daemon:   d,
		logger:   logging.NewComponentLogger(logger, "ipc"),
		listener: listener,
		ctx:      serverCtx,
		cancel:   cancel,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			if !s.track(conn) {
				_ = conn.Close()
				return
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.serveConn(c)
			}(conn)
		}
	}()
}

func (s *Server) serveConn(conn net.Conn) {
	sess := &session{
		server:    s,
		bindings:  make(map[string]*remoteConn),
		abandoned: make(map[string]struct{}),
	}
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(ServiceName, sess); err != nil {
		s.logger.Error("register rpc service", logging.Error(err))
		s.untrack(conn)
		_ = conn.Close()
		return
	}
	rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	s.untrack(conn)
	if n := sess.release(); n > 0 {
		s.logger.Debug("session closed with open bindings",
			logging.Int("released", n),
			logging.String(logging.FieldEventType, "ipc_session_released"))
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// Close stops the server, drops every session, and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for conn := range conns {
		_ = conn.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually or rerun enginehost stop"))
	}
}

// remoteConn is the host-side end of a controller binding.
type remoteConn struct {
	id        string
	delivered chan struct{}
	severed   chan struct{}

	mu      sync.Mutex
	key     registry.Key
	bound   bool
	dropped bool
}

func newRemoteConn(id string) *remoteConn {
	if id == "" {
		id = uuid.NewString()
	}
	return &remoteConn{
		id:        id,
		delivered: make(chan struct{}),
		severed:   make(chan struct{}),
	}
}

func (c *remoteConn) Connected(key registry.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bound || c.dropped {
		return
	}
	c.key = key
	c.bound = true
	close(c.delivered)
}

func (c *remoteConn) Disconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dropped {
		return
	}
	c.dropped = true
	close(c.severed)
}

// abandon wakes a pending Bind and suppresses a later Connected.
func (c *remoteConn) abandon() { c.Disconnected() }

func (c *remoteConn) snapshot() (registry.Key, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key, c.bound && !c.dropped
}

// session is the RPC receiver for one client connection. Bindings opened
// through it are released when the connection closes. abandoned holds ids
// unbound before their Bind request was served.
type session struct {
	server *Server

	mu        sync.Mutex
	bindings  map[string]*remoteConn
	abandoned map[string]struct{}
}

func (s *session) log() *slog.Logger {
	return s.server.logger
}

func (s *session) host() *platform.Platform {
	return s.server.daemon.Platform()
}

// add records conn. It reports false when the id was already abandoned or
// is in use.
func (s *session) add(conn *remoteConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, gone := s.abandoned[conn.id]; gone {
		delete(s.abandoned, conn.id)
		return false
	}
	if _, exists := s.bindings[conn.id]; exists {
		return false
	}
	s.bindings[conn.id] = conn
	return true
}

func (s *session) abandon(id string) {
	s.mu.Lock()
	s.abandoned[id] = struct{}{}
	s.mu.Unlock()
}

func (s *session) take(id string) (*remoteConn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.bindings[id]
	if ok {
		delete(s.bindings, id)
	}
	return conn, ok
}

func (s *session) get(id string) (*remoteConn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.bindings[id]
	return conn, ok
}

func (s *session) release() int {
	s.mu.Lock()
	bindings := s.bindings
	s.bindings = make(map[string]*remoteConn)
	s.abandoned = make(map[string]struct{})
	s.mu.Unlock()
	for _, conn := range bindings {
		s.host().UnbindWorker(conn)
	}
	return len(bindings)
}

func (s *session) Start(req StartRequest, resp *StartResponse) error {
	key, err := s.host().StartWorker(s.server.ctx, engine.Intent{Action: req.Action, URI: req.URI, Extras: req.Extras})
	if err != nil {
		return err
	}
	resp.WorkerKey = key.String()
	return nil
}

func (s *session) Bind(req BindRequest, resp *BindResponse) error {
	conn := newRemoteConn(req.BindingID)
	if !s.add(conn) {
		s.log().Debug("remote bind refused; binding id abandoned or in use",
			logging.String(logging.FieldControllerID, req.ControllerID),
			logging.String("binding_id", conn.id),
			logging.String(logging.FieldEventType, "ipc_bind_abandoned"))
		return errBindAbandoned
	}
	if err := s.host().BindWorker(conn); err != nil {
		s.take(conn.id)
		return err
	}

	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 {
		wait = defaultBindWait
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-conn.delivered:
	case <-conn.severed:
	case <-timer.C:
	case <-s.server.ctx.Done():
	}
	key, live := conn.snapshot()
	if !live {
		// An Unbind may have raced BindWorker; unbinding again is a no-op.
		s.take(conn.id)
		s.host().UnbindWorker(conn)
		s.log().Debug("remote bind abandoned",
			logging.String(logging.FieldControllerID, req.ControllerID),
			logging.String(logging.FieldEventType, "ipc_bind_abandoned"))
		return errBindAbandoned
	}
	resp.BindingID = conn.id
	resp.WorkerKey = key.String()
	s.log().Debug("remote binding established",
		logging.String(logging.FieldControllerID, req.ControllerID),
		logging.WorkerKey(key),
		logging.String(logging.FieldEventType, "ipc_bound"))
	return nil
}

// Unbind closes a bound or pending binding. An id not seen yet is remembered
// so that its Bind request, when served, is refused.
func (s *session) Unbind(req UnbindRequest, resp *UnbindResponse) error {
	conn, ok := s.take(req.BindingID)
	if !ok {
		if req.BindingID != "" {
			s.abandon(req.BindingID)
		}
		return nil
	}
	conn.abandon()
	s.host().UnbindWorker(conn)
	resp.Unbound = true
	return nil
}

func (s *session) Ping(req PingRequest, resp *PingResponse) error {
	conn, ok := s.get(req.BindingID)
	if !ok {
		return nil
	}
	key, live := conn.snapshot()
	if !live {
		s.take(req.BindingID)
		return nil
	}
	resp.Alive = true
	resp.WorkerKey = key.String()
	return nil
}

func (s *session) SetForeground(req SetForegroundRequest, resp *SetForegroundResponse) error {
	descriptor, err := s.server.daemon.SetForeground(s.server.ctx, req.WorkerKey, req.Active)
	switch {
	case err == nil:
		resp.Descriptor = descriptor
	case errors.Is(err, platform.ErrWorkerGone), errors.Is(err, worker.ErrDestroyed):
		resp.Gone = true
	case errors.Is(err, grant.ErrDenied):
		resp.Denied = true
		resp.Error = err.Error()
	default:
		return err
	}
	return nil
}

func (s *session) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.server.daemon.Status(s.server.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.RunID = status.RunID
	resp.StartedAt = status.StartedAt
	resp.LockPath = status.LockFilePath
	resp.JournalPath = status.JournalPath
	resp.APIAddress = status.APIAddress
	resp.Host = status.Host
	return nil
}

func (s *session) Reclaim(_ ReclaimRequest, resp *ReclaimResponse) error {
	s.log().Debug("reclaim requested")
	result, err := s.server.daemon.Reclaim(s.server.ctx)
	if err != nil {
		return err
	}
	resp.Result = result
	s.log().Info("worker reclaimed via IPC",
		logging.WorkerKey(result.Reclaimed),
		logging.String(logging.FieldEventType, "ipc_reclaim"))
	return nil
}

func (s *session) History(req HistoryRequest, resp *HistoryResponse) error {
	entries, err := s.server.daemon.History(s.server.ctx, req.Limit)
	if err != nil {
		return err
	}
	resp.Entries = entries
	return nil
}

func (s *session) Shutdown(_ ShutdownRequest, resp *ShutdownResponse) error {
	resp.Accepted = s.server.daemon.RequestShutdown()
	return nil
}

func (s *session) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.server.daemon.TestNotification(s.server.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
