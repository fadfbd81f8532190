package config

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Provider is the read-only view of configuration consumed by the database
// layer.
type Provider interface {
	GetDBURL() string
	GetDBNs() string
	GetDBDb() string
	GetDBUser() string
	GetDBPass() string
	GetDBQueryTimeout() time.Duration
	GetDBExecuteTimeout() time.Duration
}

// Config holds all configuration for the application.
type Config struct {
	DBUrl            string        `validate:"required,url"`
	DBNs             string        `validate:"required"`
	DBDb             string        `validate:"required"`
	DBUser           string        `validate:"required_with=DBPass"`
	DBPass           string
	DBQueryTimeout   time.Duration `validate:"gt=0"`
	DBExecuteTimeout time.Duration `validate:"gt=0"`

	Relay      string `validate:"oneof=memory redis"`
	RedisURL   string `validate:"required_if=Relay redis"`
	RelayTopic string `validate:"required"`

	ReconcileWindow time.Duration `validate:"gt=0"`
	StyleFreshness  time.Duration `validate:"gt=0"`
	HistoryLimit    int           `validate:"gt=0,lte=1000"`
	PollInterval    time.Duration `validate:"gt=0"`

	HTTPAddr string `validate:"required"`

	TracingEnabled     bool
	TracingServiceName string
	TracingZipkinURL   string `validate:"required_if=TracingEnabled true"`

	LogFormat string `validate:"oneof=text json"`
	LogLevel  string `validate:"oneof=debug info warn error"`
}

// Load reads configuration from the environment, after loading .env if
// present, and validates it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}
	return FromEnv()
}

// FromEnv reads configuration from the environment only.
func FromEnv() (*Config, error) {
	var errs []error
	cfg := &Config{
		DBUrl:            os.Getenv("SURREAL_URL"),
		DBUser:           os.Getenv("SURREAL_USER"),
		DBPass:           os.Getenv("SURREAL_PASS"),
		DBNs:             os.Getenv("SURREAL_NS"),
		DBDb:             os.Getenv("SURREAL_DB"),
		DBQueryTimeout:   duration("DB_QUERY_TIMEOUT", 5*time.Second, &errs),
		DBExecuteTimeout: duration("DB_EXECUTE_TIMEOUT", 10*time.Second, &errs),

		Relay:      stringOr("CHATSYNC_RELAY", "memory"),
		RedisURL:   os.Getenv("REDIS_URL"),
		RelayTopic: stringOr("CHATSYNC_RELAY_TOPIC", "chatsync.relay"),

		ReconcileWindow: duration("CHATSYNC_RECONCILE_WINDOW", 8*time.Second, &errs),
		StyleFreshness:  duration("CHATSYNC_STYLE_FRESHNESS", 30*time.Second, &errs),
		HistoryLimit:    integer("CHATSYNC_HISTORY_LIMIT", 50, &errs),
		PollInterval:    duration("CHATSYNC_POLL_INTERVAL", 2*time.Second, &errs),

		HTTPAddr: stringOr("HTTP_ADDR", ":8080"),

		TracingEnabled:     boolean("PUBSUB_TRACING_ENABLED", false, &errs),
		TracingServiceName: stringOr("PUBSUB_TRACING_SERVICE_NAME", "chatsync"),
		TracingZipkinURL:   stringOr("PUBSUB_TRACING_ZIPKIN_URL", "http://localhost:9411/api/v2/spans"),

		LogFormat: stringOr("LOG_FORMAT", "text"),
		LogLevel:  stringOr("LOG_LEVEL", "info"),
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// New loads configuration and exits the process if it is invalid.
func New() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}

func (c *Config) GetDBURL() string                  { return c.DBUrl }
func (c *Config) GetDBNs() string                   { return c.DBNs }
func (c *Config) GetDBDb() string                   { return c.DBDb }
func (c *Config) GetDBUser() string                 { return c.DBUser }
func (c *Config) GetDBPass() string                 { return c.DBPass }
func (c *Config) GetDBQueryTimeout() time.Duration   { return c.DBQueryTimeout }
func (c *Config) GetDBExecuteTimeout() time.Duration { return c.DBExecuteTimeout }

func stringOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func duration(key string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func integer(key string, def int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func boolean(key string, def bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}
