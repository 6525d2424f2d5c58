package main

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/tournevent/courier/internal/config"
	"github.com/tournevent/courier/internal/outbox"
	"github.com/tournevent/courier/internal/store"
	"github.com/tournevent/courier/internal/telemetry"
	"github.com/tournevent/courier/pkg/courier"
	"github.com/tournevent/courier/pkg/courier/bluedart"
	"github.com/tournevent/courier/pkg/courier/delhivery"
	"github.com/tournevent/courier/pkg/courier/mock"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func loadConfig() (*config.Config, error) {
	return config.Load()
}

func initLogger(cfg *config.Config) (*otelzap.Logger, error) {
	return telemetry.NewLogger(cfg.LogLevel,
		zap.String("service", cfg.ServiceName),
		zap.String("version", cfg.Version),
	)
}

func initTracer(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	if !cfg.OTELEnabled {
		return func(context.Context) error { return nil }, nil
	}

	_, shutdown, err := telemetry.InitTracer(ctx, cfg.OTELEndpoint, cfg.ServiceName, cfg.Version)
	return shutdown, err
}

// tracer returns a tracer from the global provider, which is a no-op until
// initTracer installs one.
func tracer(cfg *config.Config) trace.Tracer {
	return otel.GetTracerProvider().Tracer(cfg.ServiceName)
}

func loadAccounts(cfg *config.Config) (*config.Directory, error) {
	return config.LoadAccounts(cfg.AccountsFile)
}

func initCourierRegistry(cfg *config.Config, logger *otelzap.Logger) *courier.Registry {
	registry := courier.NewRegistry()
	t := tracer(cfg)

	// Register enabled couriers
	if cfg.DelhiveryEnabled {
		registry.RegisterFactory(delhivery.ProviderName, func() courier.Adapter {
			return delhivery.New(delhivery.Config{
				BaseURL:   cfg.DelhiveryBaseURL,
				Timeout:   cfg.DelhiveryTimeout,
				RateLimit: cfg.DelhiveryRateLimit,
				UseMock:   cfg.DelhiveryUseMock,
			}, logger, t)
		})
	}

	if cfg.BlueDartEnabled {
		registry.RegisterFactory(bluedart.ProviderName, func() courier.Adapter {
			return bluedart.New(bluedart.Config{
				BaseURL:     cfg.BlueDartBaseURL,
				TrackingURL: cfg.BlueDartTrackingURL,
				Timeout:     cfg.BlueDartTimeout,
				RateLimit:   cfg.BlueDartRateLimit,
				UseMock:     cfg.BlueDartUseMock,
			}, logger, t)
		})
	}

	if cfg.MockCourierEnabled {
		registry.Register(mock.New("mock"))
	}

	return registry
}

func initStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		pg, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrating: %w", err)
		}
		return pg, nil
	default:
		return store.NewMemory(), nil
	}
}

func initPublisher(ctx context.Context, cfg *config.Config, logger *otelzap.Logger) (outbox.Publisher, error) {
	switch cfg.OutboxPublisher {
	case config.PublisherRedis:
		return outbox.NewRedisPublisher(cfg.RedisURL, cfg.RedisChannelPrefix)
	case config.PublisherSNS:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading aws config: %w", err)
		}
		return outbox.NewSNSPublisher(awsCfg, cfg.SNSTopicARN, cfg.SNSEndpoint), nil
	default:
		return outbox.NewLogPublisher(logger), nil
	}
}

func initRelay(ctx context.Context, cfg *config.Config, st store.Store, logger *otelzap.Logger, metrics *telemetry.Metrics) (*outbox.Relay, error) {
	pub, err := initPublisher(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return outbox.NewRelay(st, pub, outbox.RelayConfig{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		MaxAttempts:  cfg.OutboxMaxAttempts,
		MaxBackoff:   cfg.OutboxMaxBackoff,
	}, logger, metrics), nil
}
