package config

const (
	defaultConfigPath           = "~/.config/enginehost/config.toml"
	defaultRuntimeDir           = "~/.local/state/enginehost"
	defaultLogDir               = "~/.local/state/enginehost/logs"
	defaultSocketName           = "enginehost.sock"
	defaultStateDBName          = "journal.db"
	defaultEngineStopTimeout    = 5
	defaultGrantChannelID       = "foreground_audio_engine"
	defaultGrantChannelName     = "Engine Audio"
	defaultGrantTitle           = "Engine"
	defaultGrantBody            = "App is active"
	defaultGrantNotificationID  = 1555
	defaultConnectTimeout       = 10
	defaultHeartbeatSeconds     = 2
	defaultReconnectMaxSeconds  = 30
	defaultNotifyRequestTimeout = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			RuntimeDir: defaultRuntimeDir,
			LogDir:     defaultLogDir,
		},
		Engine: Engine{
			StopTimeoutSeconds: defaultEngineStopTimeout,
		},
		Grant: Grant{
			ChannelID:      defaultGrantChannelID,
			ChannelName:    defaultGrantChannelName,
			Title:          defaultGrantTitle,
			Body:           defaultGrantBody,
			NotificationID: defaultGrantNotificationID,
		},
		Binding: Binding{
			ConnectTimeoutSeconds: defaultConnectTimeout,
			HeartbeatSeconds:      defaultHeartbeatSeconds,
			Reconnect:             true,
			ReconnectMaxSeconds:   defaultReconnectMaxSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
