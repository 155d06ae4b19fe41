package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"enginehost/internal/config"
	"enginehost/internal/eventloop"
	"enginehost/internal/grant"
	"enginehost/internal/journal"
	"enginehost/internal/logging"
	"enginehost/internal/metrics"
	"enginehost/internal/notifications"
	"enginehost/internal/platform"
	"enginehost/internal/registry"
	"enginehost/internal/worker"
)

// Daemon hosts the worker and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	journal  *journal.Journal
	metrics  *metrics.Collector
	notifier notifications.Service
	platform *platform.Platform
	api      *apiServer
	runID    string

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	mu        sync.Mutex
	startedAt time.Time
	shutdown  func()
}

// Option customizes daemon wiring.
type Option func(*options)

type options struct {
	notifier notifications.Service
	poster   eventloop.Poster
}

// WithNotifier replaces the notifier built from configuration.
func WithNotifier(n notifications.Service) Option {
	return func(o *options) { o.notifier = n }
}

// WithPoster sets the dispatch thread Connected callbacks are delivered on.
func WithPoster(p eventloop.Poster) Option {
	return func(o *options) { o.poster = p }
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool            `json:"running"`
	PID          int             `json:"pid"`
	RunID        string          `json:"run_id"`
	StartedAt    time.Time       `json:"started_at,omitzero"`
	LockFilePath string          `json:"lock_path"`
	JournalPath  string          `json:"journal_path"`
	APIAddress   string          `json:"api_address,omitempty"`
	Host         platform.Status `json:"host"`
}

// New constructs a daemon with initialized dependencies. The journal is
// owned by the daemon and closed by Close.
func New(cfg *config.Config, j *journal.Journal, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || j == nil {
		return nil, errors.New("daemon requires config and journal")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.notifier == nil {
		o.notifier = notifications.NewService(cfg)
	}

	collector := metrics.NewCollector()
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		journal:  j,
		metrics:  collector,
		notifier: o.notifier,
		runID:    uuid.NewString(),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.platform = platform.New(platform.Options{
		Grant:          cfg.Grant,
		Poster:         o.poster,
		Notifier:       o.notifier,
		Logger:         logger,
		Observer:       platform.Observers(collector.PlatformObserver(), j.Observer(logger)),
		RequireBinding: true,
	})
	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		d.platform.Close()
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock and begins serving the worker.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another enginehost daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.api.start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start api server: %w", err)
	}

	d.mu.Lock()
	d.startedAt = time.Now().UTC()
	d.mu.Unlock()
	d.running.Store(true)
	d.record(journal.KindDaemonStarted, d.runID)
	d.logger.Info("enginehost daemon started",
		logging.String("lock", d.lockPath),
		logging.String("run_id", d.runID),
		logging.String(logging.FieldEventType, "daemon_started"))
	return nil
}

// Stop releases the daemon lock. The worker stays registered so a later
// Start resumes serving it.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "next daemon start may report another instance"),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"))
	}
	d.ctx = nil
	d.running.Store(false)
	d.record(journal.KindDaemonStopped, d.runID)
	d.logger.Info("enginehost daemon stopped",
		logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	d.platform.Close()
	if d.journal != nil {
		return d.journal.Close()
	}
	return nil
}

// Running reports whether Start succeeded and Stop has not run.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Platform exposes the host model served by this daemon.
func (d *Daemon) Platform() *platform.Platform {
	return d.platform
}

// Metrics exposes the daemon's collectors.
func (d *Daemon) Metrics() *metrics.Collector {
	return d.metrics
}

// Status returns the current daemon status.
func (d *Daemon) Status(context.Context) Status {
	d.mu.Lock()
	started := d.startedAt
	d.mu.Unlock()
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		RunID:        d.runID,
		StartedAt:    started,
		LockFilePath: d.lockPath,
		JournalPath:  d.journal.Path(),
		APIAddress:   d.api.addr(),
		Host:         d.platform.Status(),
	}
}

// SetForeground forwards a grant request to the worker incarnation key
// names. Requests the host drops are counted by reason.
func (d *Daemon) SetForeground(ctx context.Context, key string, active bool) (grant.Descriptor, error) {
	descriptor, err := d.platform.SetForeground(ctx, registry.Key(key), active)
	if err != nil {
		switch {
		case errors.Is(err, platform.ErrWorkerGone), errors.Is(err, worker.ErrDestroyed):
			d.metrics.DroppedRequest("worker_gone")
		case errors.Is(err, grant.ErrDenied):
		default:
			d.metrics.DroppedRequest("error")
		}
	}
	return descriptor, err
}

// Reclaim kills the worker as the host would under memory pressure.
func (d *Daemon) Reclaim(ctx context.Context) (platform.ReclaimResult, error) {
	return d.platform.Reclaim(ctx)
}

// History returns the newest journal entries.
func (d *Daemon) History(ctx context.Context, limit int) ([]journal.Entry, error) {
	return d.journal.List(ctx, limit)
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, notifications.Payload{"run_id": d.runID}); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// SetShutdownHandler registers the function RequestShutdown invokes.
func (d *Daemon) SetShutdownHandler(fn func()) {
	d.mu.Lock()
	d.shutdown = fn
	d.mu.Unlock()
}

// RequestShutdown asks the owning process to exit. It reports false when no
// handler is registered.
func (d *Daemon) RequestShutdown() bool {
	d.mu.Lock()
	fn := d.shutdown
	d.mu.Unlock()
	if fn == nil {
		return false
	}
	d.logger.Info("shutdown requested",
		logging.String(logging.FieldEventType, "daemon_shutdown_requested"))
	fn()
	return true
}

func (d *Daemon) record(kind journal.Kind, detail string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.journal.Record(ctx, journal.Entry{Kind: kind, Detail: detail}); err != nil {
		logging.WarnWithContext(d.logger, "journal write failed", "journal_write_failed",
			logging.Error(err),
			logging.String("kind", string(kind)),
			logging.String(logging.FieldImpact, "lifecycle history incomplete"),
			logging.String(logging.FieldErrorHint, "check state_db permissions and disk space"))
	}
}
