package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port string

	// Backend selection
	DataBackend string

	// Database
	SQLiteDBPath string

	// Seed feed
	FeedURL     string
	FeedTimeout time.Duration

	// AMQP, disabled when AMQPURL is empty
	AMQPURL         string
	AMQPExchange    string
	AMQPEventsQueue string
	AMQPReloadQueue string

	// Report cache, disabled when CacheMaxEntries is 0
	CacheTTL        time.Duration
	CacheMaxEntries int

	// Requests per minute per client on /initialize-database, 0 disables
	IngestRateLimit int

	LogLevel string
}

var (
	validBackends  = []string{"memory", "sqlite"}
	validLogLevels = []string{"debug", "info", "warn", "error"}
)

func Load() *Config {
	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		DataBackend:  getEnv("DATA_BACKEND", "sqlite"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/salesinsight.db"),

		FeedURL:     getEnv("FEED_URL", "https://s3.amazonaws.com/roxiler.com/product_transaction.json"),
		FeedTimeout: getEnvDuration("FEED_TIMEOUT", 15*time.Second),

		AMQPURL:         getEnv("AMQP_URL", ""),
		AMQPExchange:    getEnv("AMQP_EXCHANGE", "salesinsight"),
		AMQPEventsQueue: getEnv("AMQP_EVENTS_QUEUE", "dataset_reloaded"),
		AMQPReloadQueue: getEnv("AMQP_RELOAD_QUEUE", "reload_requests"),

		CacheTTL:        getEnvDuration("CACHE_TTL", 5*time.Minute),
		CacheMaxEntries: getEnvInt("CACHE_MAX_ENTRIES", 1000),

		IngestRateLimit: getEnvInt("INGEST_RATE_LIMIT", 6),

		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}

	return cfg
}

// AMQPEnabled reports whether an AMQP broker is configured.
func (c *Config) AMQPEnabled() bool {
	return c.AMQPURL != ""
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	// Validate SQLite configuration if backend is sqlite
	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			// Check if directory exists or can be created
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if c.FeedURL != "" {
		if parsedURL, err := url.Parse(c.FeedURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid feed URL '%s': %v", c.FeedURL, err))
		} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			errors = append(errors, fmt.Sprintf("invalid feed URL scheme '%s': must be 'http' or 'https'", parsedURL.Scheme))
		}
	}
	if c.FeedTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid feed timeout %v: must be at least 1 second", c.FeedTimeout))
	} else if c.FeedTimeout > 5*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid feed timeout %v: must be at most 5 minutes", c.FeedTimeout))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}

		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPEventsQueue == "" {
			errors = append(errors, "AMQP events queue name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPReloadQueue == "" {
			errors = append(errors, "AMQP reload queue name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPEventsQueue != "" && c.AMQPEventsQueue == c.AMQPReloadQueue {
			errors = append(errors, fmt.Sprintf("AMQP events and reload queues must differ, both are '%s'", c.AMQPEventsQueue))
		}
	}

	if c.CacheMaxEntries < 0 {
		errors = append(errors, fmt.Sprintf("invalid cache max entries %d: must not be negative", c.CacheMaxEntries))
	}
	if c.CacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid cache TTL %v: must not be negative", c.CacheTTL))
	}

	if c.IngestRateLimit < 0 {
		errors = append(errors, fmt.Sprintf("invalid ingest rate limit %d: must not be negative", c.IngestRateLimit))
	}

	if !slices.Contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of %v", c.LogLevel, validLogLevels))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
