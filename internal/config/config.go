package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix          = "HARBOR"
	defaultHTTPAddress = "0.0.0.0:8080"

	defaultDatabasePath = "harbor.db"
	defaultLogLevel     = "info"

	// Presence defaults mirror the thresholds the product shipped with.
	defaultOfflineThreshold = 3 * time.Minute
	defaultCleanupInterval  = 30 * time.Second
	defaultCacheMaxAge      = 10 * time.Second

	defaultBackoffBase         = time.Second
	defaultBackoffCap          = 30 * time.Second
	defaultMaxReconnects       = 10
	defaultChatWatchdog        = 10 * time.Second
	defaultNotifyWatchdog      = 15 * time.Second
	defaultNotifyDedupWindow   = 30 * time.Second
	defaultRealtimeChannelName = "messages"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	SigningSecret string
	DatabasePath  string
	RedisURL      string
	NATSURL       string
	LogLevel      string

	TokenTTL time.Duration

	PresenceOfflineThreshold time.Duration
	PresenceCleanupInterval  time.Duration
	PresenceCacheMaxAge      time.Duration

	RealtimeChannel         string
	BackoffBase             time.Duration
	BackoffCap              time.Duration
	MaxReconnectAttempts    int
	ChatWatchdogWindow      time.Duration
	NotifyWatchdogWindow    time.Duration
	NotificationDedupWindow time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("redis.url", "")
	configViper.SetDefault("nats.url", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", 30)

	configViper.SetDefault("presence.offline_threshold", defaultOfflineThreshold)
	configViper.SetDefault("presence.cleanup_interval", defaultCleanupInterval)
	configViper.SetDefault("presence.cache_max_age", defaultCacheMaxAge)

	configViper.SetDefault("realtime.channel", defaultRealtimeChannelName)
	configViper.SetDefault("realtime.backoff_base", defaultBackoffBase)
	configViper.SetDefault("realtime.backoff_cap", defaultBackoffCap)
	configViper.SetDefault("realtime.max_reconnect_attempts", defaultMaxReconnects)
	configViper.SetDefault("realtime.chat_watchdog", defaultChatWatchdog)
	configViper.SetDefault("realtime.notify_watchdog", defaultNotifyWatchdog)
	configViper.SetDefault("notifications.dedup_window", defaultNotifyDedupWindow)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		DatabasePath:  configViper.GetString("database.path"),
		RedisURL:      configViper.GetString("redis.url"),
		NATSURL:       configViper.GetString("nats.url"),
		LogLevel:      configViper.GetString("log.level"),

		TokenTTL: time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,

		PresenceOfflineThreshold: configViper.GetDuration("presence.offline_threshold"),
		PresenceCleanupInterval:  configViper.GetDuration("presence.cleanup_interval"),
		PresenceCacheMaxAge:      configViper.GetDuration("presence.cache_max_age"),

		RealtimeChannel:         configViper.GetString("realtime.channel"),
		BackoffBase:             configViper.GetDuration("realtime.backoff_base"),
		BackoffCap:              configViper.GetDuration("realtime.backoff_cap"),
		MaxReconnectAttempts:    configViper.GetInt("realtime.max_reconnect_attempts"),
		ChatWatchdogWindow:      configViper.GetDuration("realtime.chat_watchdog"),
		NotifyWatchdogWindow:    configViper.GetDuration("realtime.notify_watchdog"),
		NotificationDedupWindow: configViper.GetDuration("notifications.dedup_window"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.PresenceOfflineThreshold <= 0 {
		return fmt.Errorf("presence.offline_threshold must be positive")
	}
	if c.PresenceCleanupInterval <= 0 {
		return fmt.Errorf("presence.cleanup_interval must be positive")
	}
	if c.BackoffBase <= 0 || c.BackoffCap < c.BackoffBase {
		return fmt.Errorf("realtime backoff configuration is invalid")
	}
	if c.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("realtime.max_reconnect_attempts must be positive")
	}
	if c.NotificationDedupWindow < 0 {
		return fmt.Errorf("notifications.dedup_window must not be negative")
	}
	return nil
}
