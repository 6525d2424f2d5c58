package outbox

import (
	"context"
	"time"

	"github.com/tournevent/courier/internal/telemetry"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// RelayConfig tunes the relay loop.
type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

func (c RelayConfig) withDefaults() RelayConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Hour
	}
	return c
}

// Relay moves pending events from a Source to a Publisher, retrying with
// exponential backoff and dead-lettering after MaxAttempts.
type Relay struct {
	source    Source
	publisher Publisher
	cfg       RelayConfig
	logger    *otelzap.Logger
	metrics   *telemetry.Metrics
	now       func() time.Time
}

// NewRelay creates a Relay. metrics may be nil.
func NewRelay(source Source, publisher Publisher, cfg RelayConfig, logger *otelzap.Logger, metrics *telemetry.Metrics) *Relay {
	if logger == nil {
		logger = otelzap.New(zap.NewNop())
	}
	return &Relay{
		source:    source,
		publisher: publisher,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// WithClock replaces the relay's time source.
func (r *Relay) WithClock(now func() time.Time) *Relay {
	r.now = now
	return r
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("outbox relay started",
		zap.String("publisher", r.publisher.Name()),
		zap.Duration("poll_interval", r.cfg.PollInterval),
	)
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Ctx(ctx).Error("outbox relay pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce publishes one batch of due events and returns how many were
// published.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	events, err := r.source.PendingEvents(ctx, r.now(), r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, e := range events {
		if err := r.publisher.Publish(ctx, e); err != nil {
			if ferr := r.fail(ctx, e, err); ferr != nil {
				return published, ferr
			}
			continue
		}
		if err := r.source.MarkPublished(ctx, e.ID, r.now()); err != nil {
			return published, err
		}
		r.metrics.RecordPublish(e.Type, "ok")
		published++
	}
	return published, nil
}

func (r *Relay) fail(ctx context.Context, e Event, cause error) error {
	attempts := e.Attempts + 1
	dead := attempts >= r.cfg.MaxAttempts
	next := r.now().Add(r.backoff(attempts))

	r.metrics.RecordPublish(e.Type, "error")
	if dead {
		r.metrics.RecordDeadLetter(e.Type)
		r.logger.Ctx(ctx).Error("outbox event dead-lettered",
			zap.String("event_id", e.ID),
			zap.String("type", e.Type),
			zap.Int("attempts", attempts),
			zap.Error(cause),
		)
	} else {
		r.logger.Ctx(ctx).Warn("outbox publish failed",
			zap.String("event_id", e.ID),
			zap.String("type", e.Type),
			zap.Int("attempts", attempts),
			zap.Time("next_attempt_at", next),
			zap.Error(cause),
		)
	}
	return r.source.MarkFailed(ctx, e.ID, attempts, next, cause.Error(), dead)
}

// backoff doubles from BaseBackoff per attempt, capped at MaxBackoff.
func (r *Relay) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 20 {
		return r.cfg.MaxBackoff
	}
	d := r.cfg.BaseBackoff * time.Duration(1<<(attempts-1))
	if d > r.cfg.MaxBackoff {
		d = r.cfg.MaxBackoff
	}
	return d
}
