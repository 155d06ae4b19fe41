// Package worker hosts the long-lived background component that owns the
// execution grant. A Worker survives controller teardown; only the host's
// reclamation policy destroys it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"enginehost/internal/config"
	"enginehost/internal/engine"
	"enginehost/internal/grant"
	"enginehost/internal/logging"
	"enginehost/internal/registry"
)

var (
	// ErrNotCreated is returned for requests reaching a worker before OnCreate.
	ErrNotCreated = errors.New("worker not created")
	// ErrDestroyed is returned for requests reaching a worker after OnDestroy.
	ErrDestroyed = errors.New("worker destroyed")
)

// StartPolicy tells the host what to do if it reclaims the worker while it
// is still started.
type StartPolicy int

const (
	// StartNotSticky leaves a reclaimed worker dead.
	StartNotSticky StartPolicy = iota
	// StartSticky asks the host to recreate a reclaimed worker.
	StartSticky
)

func (p StartPolicy) String() string {
	if p == StartSticky {
		return "sticky"
	}
	return "not_sticky"
}

// Services are the host resources a worker resolves during OnCreate.
type Services interface {
	NotificationManager() (grant.NotificationManager, error)
	Promoter(key registry.Key) grant.Promoter
}

// Status is a point-in-time view of a worker.
type Status struct {
	Key               registry.Key `json:"key"`
	Created           bool         `json:"created"`
	Destroyed         bool         `json:"destroyed"`
	StartCount        int          `json:"start_count"`
	GrantActive       bool         `json:"grant_active"`
	ChannelRegistered bool         `json:"channel_registered"`
}

// Worker is the background component hosting the execution grant.
type Worker struct {
	key       registry.Key
	cfg       config.Grant
	services  Services
	observers []grant.Observer
	logger    *slog.Logger

	mu         sync.Mutex
	grant      *grant.Grant
	created    bool
	destroyed  bool
	startCount int
	lastIntent engine.Intent
}

// New returns a worker that has not run OnCreate yet.
func New(key registry.Key, cfg config.Grant, services Services, logger *slog.Logger, observers ...grant.Observer) *Worker {
	return &Worker{
		key:       key,
		cfg:       cfg,
		services:  services,
		observers: observers,
		logger:    logging.NewComponentLogger(logger, "worker").With(logging.WorkerKey(key)),
	}
}

// Key returns the worker's incarnation key.
func (w *Worker) Key() registry.Key { return w.key }

// OnCreate resolves the notification manager and prepares the grant. It does
// not request protected execution. Repeated calls are no-ops.
func (w *Worker) OnCreate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.created {
		return nil
	}
	manager, err := w.services.NotificationManager()
	if err != nil {
		return fmt.Errorf("resolve notification manager: %w", err)
	}
	w.grant = grant.New(w.cfg, manager, w.services.Promoter(w.key), w.logger, w.observers...)
	w.created = true
	w.logger.Info("worker created", logging.String(logging.FieldEventType, "worker_created"))
	return nil
}

// OnStartCommand records a start request and always asks to be kept alive.
func (w *Worker) OnStartCommand(intent engine.Intent) StartPolicy {
	w.mu.Lock()
	w.startCount++
	w.lastIntent = intent
	count := w.startCount
	w.mu.Unlock()
	w.logger.Debug("start command received",
		logging.Int("start_count", count),
		logging.String("action", intent.Action),
		logging.String(logging.FieldEventType, "worker_start_command"))
	return StartSticky
}

// MakeForegroundActive acquires or releases the execution grant.
func (w *Worker) MakeForegroundActive(ctx context.Context, active bool) (grant.Descriptor, error) {
	w.mu.Lock()
	g, created, destroyed := w.grant, w.created, w.destroyed
	w.mu.Unlock()
	switch {
	case destroyed:
		return grant.Descriptor{}, ErrDestroyed
	case !created:
		return grant.Descriptor{}, ErrNotCreated
	}
	return g.SetActive(ctx, active)
}

// OnDestroy marks the worker dead. The grant is left untouched; the host
// revokes protected execution together with the process.
func (w *Worker) OnDestroy() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.destroyed {
		return
	}
	w.destroyed = true
	active := w.grant != nil && w.grant.Active()
	w.logger.Info("worker destroyed",
		logging.Bool("grant_active", active),
		logging.String(logging.FieldEventType, "worker_destroyed"))
}

// Status reports the worker's current state.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	status := Status{
		Key:        w.key,
		Created:    w.created,
		Destroyed:  w.destroyed,
		StartCount: w.startCount,
	}
	if w.grant != nil {
		status.GrantActive = w.grant.Active()
		status.ChannelRegistered = w.grant.ChannelRegistered()
	}
	return status
}

// LastIntent returns the intent carried by the most recent start command.
func (w *Worker) LastIntent() engine.Intent {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastIntent
}
