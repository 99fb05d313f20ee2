package backend

import (
	"fmt"

	"salesinsight/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}

	return Config{
		Type:         backendType,
		SQLiteDBPath: appConfig.SQLiteDBPath,

		AMQPURL:         appConfig.AMQPURL,
		AMQPExchange:    appConfig.AMQPExchange,
		AMQPEventsQueue: appConfig.AMQPEventsQueue,
		AMQPReloadQueue: appConfig.AMQPReloadQueue,

		FeedURL:     appConfig.FeedURL,
		FeedTimeout: appConfig.FeedTimeout,

		CacheMaxEntries: appConfig.CacheMaxEntries,
		CacheTTL:        appConfig.CacheTTL,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	if c.Type == SQLiteBackend && c.SQLiteDBPath == "" {
		return fmt.Errorf("SQLite database path is required for sqlite backend")
	}
	if c.CacheMaxEntries < 0 {
		return fmt.Errorf("cache max entries must not be negative: %d", c.CacheMaxEntries)
	}
	// AMQP is optional, so we don't validate it
	return nil
}
