package grant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"enginehost/internal/config"
	"enginehost/internal/logging"
)

var (
	// ErrDenied reports that the host refused promotion to protected execution.
	ErrDenied = errors.New("execution grant denied")
	// ErrWorkerGone reports that the worker the grant belongs to was
	// reclaimed. It is not a denial: the request is dropped.
	ErrWorkerGone = errors.New("worker gone")
)

// NotificationManager is the host's process-wide notification channel table.
type NotificationManager interface {
	NotificationChannel(id string) (Channel, bool)
	CreateNotificationChannel(Channel) error
}

// Promoter requests promotion to and demotion from protected execution.
type Promoter interface {
	StartForeground(ctx context.Context, descriptor Descriptor) error
	StopForeground(ctx context.Context, removeNotification bool) error
}

// Observer receives grant side effects. Nil hooks are skipped.
type Observer struct {
	ChannelRegistered func(Channel)
	Promoted          func(Descriptor)
	Demoted           func()
	Denied            func(error)
}

// Grant is the execution grant owned by one worker.
type Grant struct {
	mu                sync.Mutex
	cfg               config.Grant
	manager           NotificationManager
	promoter          Promoter
	observers         []Observer
	logger            *slog.Logger
	active            bool
	channelRegistered bool
	descriptor        Descriptor
}

// New builds an inactive grant.
func New(cfg config.Grant, manager NotificationManager, promoter Promoter, logger *slog.Logger, observers ...Observer) *Grant {
	return &Grant{
		cfg:       cfg,
		manager:   manager,
		promoter:  promoter,
		observers: observers,
		logger:    logging.NewComponentLogger(logger, "grant"),
	}
}

// EnsureChannelRegistered creates the notification channel unless this grant
// already registered it or the host table already carries it.
func (g *Grant) EnsureChannelRegistered() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ensureChannelLocked()
}

func (g *Grant) ensureChannelLocked() error {
	if g.channelRegistered {
		return nil
	}
	if g.manager == nil {
		return errors.New("notification manager unavailable")
	}
	channel := channelFor(g.cfg)
	if _, exists := g.manager.NotificationChannel(channel.ID); !exists {
		if err := g.manager.CreateNotificationChannel(channel); err != nil {
			return fmt.Errorf("create notification channel %q: %w", channel.ID, err)
		}
		g.logger.Debug("notification channel created",
			logging.String("channel_id", channel.ID),
			logging.String(logging.FieldEventType, "channel_created"))
		for _, o := range g.observers {
			if o.ChannelRegistered != nil {
				o.ChannelRegistered(channel)
			}
		}
	}
	g.channelRegistered = true
	return nil
}

// Acquire promotes the worker to protected execution and returns the ongoing
// notification descriptor. While active it returns the same descriptor
// without contacting the host again. Host refusal yields an error wrapping
// ErrDenied and leaves the grant inactive.
func (g *Grant) Acquire(ctx context.Context) (Descriptor, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active {
		return g.descriptor, nil
	}
	if err := g.ensureChannelLocked(); err != nil {
		return Descriptor{}, err
	}

	descriptor := descriptorFor(g.cfg)
	if err := g.promoter.StartForeground(ctx, descriptor); err != nil {
		if errors.Is(err, ErrWorkerGone) {
			g.logger.Debug("promotion target reclaimed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "grant_worker_gone"))
			return Descriptor{}, err
		}
		if !errors.Is(err, ErrDenied) {
			err = fmt.Errorf("%w: %w", ErrDenied, err)
		}
		logging.WarnWithContext(g.logger, "foreground promotion refused", "grant_denied",
			logging.Error(err),
			logging.String(logging.FieldImpact, "engine keeps running without protected execution"),
			logging.String(logging.FieldErrorHint, "check host foreground policy and retry"))
		for _, o := range g.observers {
			if o.Denied != nil {
				o.Denied(err)
			}
		}
		return Descriptor{}, err
	}

	g.active = true
	g.descriptor = descriptor
	g.logger.Info("execution grant acquired",
		logging.Int("notification_id", descriptor.ID),
		logging.String(logging.FieldEventType, "grant_acquired"))
	for _, o := range g.observers {
		if o.Promoted != nil {
			o.Promoted(descriptor)
		}
	}
	return descriptor, nil
}

// Release demotes the worker. It is a no-op while inactive. A failed demotion
// leaves the grant active so a later Release can retry.
func (g *Grant) Release(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.active {
		return nil
	}
	if err := g.promoter.StopForeground(ctx, true); err != nil {
		logging.WarnWithContext(g.logger, "foreground demotion failed", "grant_release_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "worker stays in protected execution"),
			logging.String(logging.FieldErrorHint, "retry release"))
		return fmt.Errorf("stop foreground: %w", err)
	}
	g.active = false
	g.logger.Info("execution grant released",
		logging.String(logging.FieldEventType, "grant_released"))
	for _, o := range g.observers {
		if o.Demoted != nil {
			o.Demoted()
		}
	}
	return nil
}

// SetActive dispatches to Acquire or Release. The returned descriptor is
// zero after a release.
func (g *Grant) SetActive(ctx context.Context, active bool) (Descriptor, error) {
	if active {
		return g.Acquire(ctx)
	}
	return Descriptor{}, g.Release(ctx)
}

// Active reports whether the worker currently holds protected execution.
func (g *Grant) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// ChannelRegistered reports whether this grant has registered its channel.
func (g *Grant) ChannelRegistered() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.channelRegistered
}
