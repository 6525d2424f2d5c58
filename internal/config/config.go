package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.opentelemetry.io/otel/attribute"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Outbox publishers.
const (
	PublisherLog   = "log"
	PublisherRedis = "redis"
	PublisherSNS   = "sns"
)

// Config holds all configuration for the service.
type Config struct {
	// Server
	Port     int    `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Accounts and tenant policies
	AccountsFile string `envconfig:"ACCOUNTS_FILE" default:"accounts.yaml"`

	// Delhivery
	DelhiveryBaseURL   string        `envconfig:"DELHIVERY_BASE_URL" default:"https://track.delhivery.com"`
	DelhiveryTimeout   time.Duration `envconfig:"DELHIVERY_TIMEOUT" default:"30s"`
	DelhiveryRateLimit float64       `envconfig:"DELHIVERY_RATE_LIMIT" default:"5"`
	DelhiveryEnabled   bool          `envconfig:"DELHIVERY_ENABLED" default:"true"`
	DelhiveryUseMock   bool          `envconfig:"DELHIVERY_USE_MOCK" default:"false"`

	// Blue Dart
	BlueDartBaseURL     string        `envconfig:"BLUEDART_BASE_URL" default:"https://netconnect.bluedart.com/Ver1.10"`
	BlueDartTrackingURL string        `envconfig:"BLUEDART_TRACKING_URL" default:"https://api.bluedart.com/servlet/RoutingServlet"`
	BlueDartTimeout     time.Duration `envconfig:"BLUEDART_TIMEOUT" default:"30s"`
	BlueDartRateLimit   float64       `envconfig:"BLUEDART_RATE_LIMIT" default:"2"`
	BlueDartEnabled     bool          `envconfig:"BLUEDART_ENABLED" default:"true"`
	BlueDartUseMock     bool          `envconfig:"BLUEDART_USE_MOCK" default:"false"`

	// Demo courier
	MockCourierEnabled bool `envconfig:"MOCK_COURIER_ENABLED" default:"false"`

	// Webhooks, keyed by provider: "delhivery:secret,bluedart:secret"
	WebhookSecrets map[string]string `envconfig:"WEBHOOK_SECRETS"`

	// Store
	StoreBackend string `envconfig:"STORE_BACKEND" default:"memory"`
	DatabaseURL  string `envconfig:"DATABASE_URL"`

	// Outbox
	OutboxPublisher    string        `envconfig:"OUTBOX_PUBLISHER" default:"log"`
	OutboxPollInterval time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"1s"`
	OutboxBatchSize    int           `envconfig:"OUTBOX_BATCH_SIZE" default:"50"`
	OutboxMaxAttempts  int           `envconfig:"OUTBOX_MAX_ATTEMPTS" default:"10"`
	OutboxMaxBackoff   time.Duration `envconfig:"OUTBOX_MAX_BACKOFF" default:"1h"`
	RedisURL           string        `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	RedisChannelPrefix string        `envconfig:"REDIS_CHANNEL_PREFIX" default:"courier."`
	SNSTopicARN        string        `envconfig:"SNS_TOPIC_ARN"`
	SNSEndpoint        string        `envconfig:"SNS_ENDPOINT"`

	// Telemetry
	OTELEnabled  bool   `envconfig:"OTEL_ENABLED" default:"true"`
	OTELEndpoint string `envconfig:"OTEL_ENDPOINT" default:"http://localhost:4318"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"courier"`
	Version      string `envconfig:"SERVICE_VERSION" default:"0.0.1"`
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present; variables already set in
// the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks combinations envconfig cannot express.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.OutboxPublisher {
	case PublisherLog, PublisherRedis:
	case PublisherSNS:
		if c.SNSTopicARN == "" {
			return errors.New("config: SNS_TOPIC_ARN is required for the sns publisher")
		}
	default:
		return fmt.Errorf("config: unknown OUTBOX_PUBLISHER %q", c.OutboxPublisher)
	}
	return nil
}

// Attributes returns OpenTelemetry attributes for this configuration.
func (c *Config) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("service.name", c.ServiceName),
		attribute.String("service.version", c.Version),
		attribute.Bool("delhivery.enabled", c.DelhiveryEnabled),
		attribute.Bool("bluedart.enabled", c.BlueDartEnabled),
		attribute.String("store.backend", c.StoreBackend),
		attribute.String("outbox.publisher", c.OutboxPublisher),
	}
}
