package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"enginehost/internal/config"
)

const userAgent = "EngineHost-Go/0.1.0"

// Event identifies a lifecycle milestone.
type Event string

const (
	EventGrantPromoted   Event = "grant_promoted"
	EventGrantDemoted    Event = "grant_demoted"
	EventGrantDenied     Event = "grant_denied"
	EventWorkerRestarted Event = "worker_restarted"
	EventTest            Event = "test"
)

// Payload carries event fields. Unknown keys are ignored.
type Payload map[string]any

// Service publishes lifecycle events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service, or a no-op one when no topic is
// configured.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

// Noop returns a service that drops every event.
func Noop() Service { return noopService{} }

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventGrantPromoted:
		title := payload.text("title")
		if title == "" {
			title = "Engine"
		}
		return message{
			title:    title,
			body:     payload.text("body"),
			tags:     []string{"enginehost", "foreground", "active"},
			priority: "low",
		}, true
	case EventGrantDemoted:
		return message{
			title:    "Engine - Background",
			body:     "Protected execution released",
			tags:     []string{"enginehost", "foreground", "released"},
			priority: "low",
		}, true
	case EventGrantDenied:
		reason := payload.text("error")
		if reason == "" {
			reason = "unknown"
		}
		return message{
			title:    "Engine - Foreground Denied",
			body:     fmt.Sprintf("Host refused protected execution: %s", reason),
			tags:     []string{"enginehost", "foreground", "denied"},
			priority: "high",
		}, true
	case EventWorkerRestarted:
		return message{
			title: "Engine - Worker Restarted",
			body:  fmt.Sprintf("Worker recreated after reclamation (%s)", payload.text("worker_key")),
			tags:  []string{"enginehost", "worker", "restarted"},
		}, true
	case EventTest:
		return message{
			title:    "Engine - Test",
			body:     "Notification system test",
			tags:     []string{"enginehost", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (p Payload) text(key string) string {
	if p == nil {
		return ""
	}
	value, ok := p[key]
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
