package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeEngine(); err != nil {
		return err
	}
	c.normalizeGrant()
	c.normalizeBinding()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.RuntimeDir) == "" {
		c.Paths.RuntimeDir = defaultRuntimeDir
	}
	if c.Paths.RuntimeDir, err = expandPath(strings.TrimSpace(c.Paths.RuntimeDir)); err != nil {
		return fmt.Errorf("paths.runtime_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.RuntimeDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SocketPath) == "" {
		c.Paths.SocketPath = filepath.Join(c.Paths.RuntimeDir, defaultSocketName)
	}
	if c.Paths.SocketPath, err = expandPath(strings.TrimSpace(c.Paths.SocketPath)); err != nil {
		return fmt.Errorf("paths.socket_path: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDB) == "" {
		c.Paths.StateDB = filepath.Join(c.Paths.RuntimeDir, defaultStateDBName)
	}
	if c.Paths.StateDB, err = expandPath(strings.TrimSpace(c.Paths.StateDB)); err != nil {
		return fmt.Errorf("paths.state_db: %w", err)
	}
	return nil
}

func (c *Config) normalizeEngine() error {
	c.Engine.Command = strings.TrimSpace(c.Engine.Command)
	if strings.HasPrefix(c.Engine.Command, "~") {
		expanded, err := expandPath(c.Engine.Command)
		if err != nil {
			return fmt.Errorf("engine.command: %w", err)
		}
		c.Engine.Command = expanded
	}
	if c.Engine.StopTimeoutSeconds <= 0 {
		c.Engine.StopTimeoutSeconds = defaultEngineStopTimeout
	}
	return nil
}

func (c *Config) normalizeGrant() {
	c.Grant.ChannelID = strings.TrimSpace(c.Grant.ChannelID)
	if c.Grant.ChannelID == "" {
		c.Grant.ChannelID = defaultGrantChannelID
	}
	c.Grant.ChannelName = strings.TrimSpace(c.Grant.ChannelName)
	if c.Grant.ChannelName == "" {
		c.Grant.ChannelName = defaultGrantChannelName
	}
	c.Grant.Title = strings.TrimSpace(c.Grant.Title)
	if c.Grant.Title == "" {
		c.Grant.Title = defaultGrantTitle
	}
	c.Grant.Body = strings.TrimSpace(c.Grant.Body)
	if c.Grant.Body == "" {
		c.Grant.Body = defaultGrantBody
	}
	if c.Grant.NotificationID == 0 {
		c.Grant.NotificationID = defaultGrantNotificationID
	}
}

func (c *Config) normalizeBinding() {
	if c.Binding.HeartbeatSeconds <= 0 {
		c.Binding.HeartbeatSeconds = defaultHeartbeatSeconds
	}
	if c.Binding.ReconnectMaxSeconds <= 0 {
		c.Binding.ReconnectMaxSeconds = defaultReconnectMaxSeconds
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
