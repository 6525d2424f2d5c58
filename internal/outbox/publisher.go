package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Publisher delivers an event to downstream consumers.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, e Event) error
}

// ============================================================================
// Log
// ============================================================================

// LogPublisher writes events to the structured log. It is the default when no
// broker is configured.
type LogPublisher struct {
	logger *otelzap.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger *otelzap.Logger) *LogPublisher {
	if logger == nil {
		logger = otelzap.New(zap.NewNop())
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Name() string { return "log" }

func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	p.logger.Ctx(ctx).Info("outbox event",
		zap.String("event_id", e.ID),
		zap.String("type", e.Type),
		zap.String("tenant_id", e.TenantID),
		zap.String("aggregate_id", e.AggregateID),
		zap.ByteString("payload", e.Payload),
	)
	return nil
}

// ============================================================================
// Redis
// ============================================================================

// RedisClient is the subset of *redis.Client used for publishing.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher publishes events on Redis pub/sub channels named
// <prefix><event type>.
type RedisPublisher struct {
	client RedisClient
	prefix string
}

// NewRedisPublisher creates a RedisPublisher from a redis:// URL.
func NewRedisPublisher(url, prefix string) (*RedisPublisher, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisPublisherWithClient(redis.NewClient(opt), prefix), nil
}

// NewRedisPublisherWithClient creates a RedisPublisher over an existing client.
func NewRedisPublisherWithClient(client RedisClient, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

func (p *RedisPublisher) Name() string { return "redis" }

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", e.ID, err)
	}
	if err := p.client.Publish(ctx, p.prefix+e.Type, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", e.Type, err)
	}
	return nil
}

// ============================================================================
// SNS
// ============================================================================

// SNSAPI is the subset of *sns.Client used for publishing.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher publishes events to a single SNS topic, with the event type as
// a message attribute for subscription filtering.
type SNSPublisher struct {
	client   SNSAPI
	topicARN string
}

// NewSNSPublisher creates an SNSPublisher. An empty endpoint uses the AWS
// default resolution; a non-empty one targets e.g. LocalStack.
func NewSNSPublisher(cfg aws.Config, topicARN, endpoint string) *SNSPublisher {
	client := sns.NewFromConfig(cfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return NewSNSPublisherWithClient(client, topicARN)
}

// NewSNSPublisherWithClient creates an SNSPublisher over an existing client.
func NewSNSPublisherWithClient(client SNSAPI, topicARN string) *SNSPublisher {
	return &SNSPublisher{client: client, topicARN: topicARN}
}

func (p *SNSPublisher) Name() string { return "sns" }

func (p *SNSPublisher) Publish(ctx context.Context, e Event) error {
	if p.topicARN == "" {
		return errors.New("sns topic arn is empty")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", e.ID, err)
	}
	attrs := map[string]snstypes.MessageAttributeValue{
		"event_type": {DataType: aws.String("String"), StringValue: aws.String(e.Type)},
	}
	if e.TenantID != "" {
		attrs["tenant_id"] = snstypes.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(e.TenantID)}
	}
	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(p.topicARN),
		Message:           aws.String(string(data)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("sns publish failed for topic %s: %w", p.topicARN, err)
	}
	return nil
}

var (
	_ Publisher = (*LogPublisher)(nil)
	_ Publisher = (*RedisPublisher)(nil)
	_ Publisher = (*SNSPublisher)(nil)
)
