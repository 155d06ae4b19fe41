package platform

import (
	"context"
	"fmt"

	"enginehost/internal/grant"
	"enginehost/internal/logging"
	"enginehost/internal/notifications"
	"enginehost/internal/registry"
)

// promoter moves one worker incarnation in and out of protected execution.
type promoter struct {
	p   *Platform
	key registry.Key
}

func (pr *promoter) StartForeground(_ context.Context, d grant.Descriptor) error {
	p := pr.p
	if _, ok := p.registry.Lookup(pr.key); !ok {
		return ErrWorkerGone
	}
	if err := p.refuse(pr.key, d); err != nil {
		p.publish(notifications.EventGrantDenied, notifications.Payload{"error": err.Error()})
		return fmt.Errorf("%w: %w", grant.ErrDenied, err)
	}
	if err := p.notifications.post(d); err != nil {
		return fmt.Errorf("post ongoing notification: %w", err)
	}

	p.mu.Lock()
	p.foreground[pr.key] = d
	p.mu.Unlock()

	p.logger.Info("worker promoted to foreground",
		logging.WorkerKey(pr.key),
		logging.Int("notification_id", d.ID),
		logging.String(logging.FieldEventType, "foreground_started"))
	p.publish(notifications.EventGrantPromoted, notifications.Payload{"title": d.Title, "body": d.Body})
	return nil
}

func (pr *promoter) StopForeground(_ context.Context, removeNotification bool) error {
	p := pr.p
	p.mu.Lock()
	d, ok := p.foreground[pr.key]
	delete(p.foreground, pr.key)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	if removeNotification {
		p.notifications.cancel(d.ID)
	}
	p.logger.Info("worker demoted to background",
		logging.WorkerKey(pr.key),
		logging.Bool("notification_removed", removeNotification),
		logging.String(logging.FieldEventType, "foreground_stopped"))
	p.publish(notifications.EventGrantDemoted, nil)
	return nil
}

func (p *Platform) refuse(key registry.Key, d grant.Descriptor) error {
	if p.requireBinding && p.boundCount() == 0 {
		return ErrNoBoundController
	}
	if p.deny != nil {
		return p.deny(key, d)
	}
	return nil
}
