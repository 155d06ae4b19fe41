package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateGrant(); err != nil {
		return err
	}
	if err := c.validateBinding(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateMetrics(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateGrant() error {
	if strings.ContainsAny(c.Grant.ChannelID, " \t\n") {
		return fmt.Errorf("grant.channel_id %q must not contain whitespace", c.Grant.ChannelID)
	}
	if c.Grant.NotificationID <= 0 {
		return errors.New("grant.notification_id must be positive")
	}
	return nil
}

func (c *Config) validateBinding() error {
	if c.Binding.ConnectTimeoutSeconds < 0 {
		return errors.New("binding.connect_timeout_seconds must be >= 0 (0 waits indefinitely)")
	}
	if c.Binding.HeartbeatSeconds <= 0 {
		return errors.New("binding.heartbeat_seconds must be positive")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic == "" {
		return nil
	}
	if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return fmt.Errorf("notifications.ntfy_topic must be a full URL, got %q", topic)
	}
	return nil
}

func (c *Config) validateMetrics() error {
	bind := strings.TrimSpace(c.Metrics.Bind)
	if bind == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(bind); err != nil {
		return fmt.Errorf("metrics.bind %q: %w", bind, err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
