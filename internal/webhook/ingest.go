// Package webhook receives courier status pushes. It verifies the sender,
// parses the provider payload and hands each event to the lifecycle.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tournevent/courier/internal/shipment"
	"github.com/tournevent/courier/internal/store"
	"github.com/tournevent/courier/internal/telemetry"
	"github.com/tournevent/courier/pkg/courier"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// ErrInvalidSignature is returned when a signed provider's request does not
// carry a valid signature.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Parsers resolves the webhook parser for a provider.
type Parsers interface {
	WebhookParser(provider string) (courier.WebhookParser, error)
}

// Applier applies a parsed event to its shipment.
type Applier interface {
	ApplyWebhook(ctx context.Context, ev *courier.WebhookEvent) (shipment.Outcome, error)
}

// Result reports what an ingestion did. A failed Result carries the reason;
// Retryable failures should be answered so the provider redelivers.
type Result struct {
	courier.Result
	Events   int
	Applied  int
	Ignored  int
	Unmapped int
}

// Ingestor verifies, parses and applies webhook deliveries.
type Ingestor struct {
	parsers Parsers
	applier Applier
	secrets map[string]string
	logger  *otelzap.Logger
	tracer  trace.Tracer
	metrics *telemetry.Metrics
}

// NewIngestor creates an Ingestor. Providers with an entry in secrets must
// sign their requests.
func NewIngestor(parsers Parsers, applier Applier, secrets map[string]string, logger *otelzap.Logger, metrics *telemetry.Metrics) *Ingestor {
	if logger == nil {
		logger = otelzap.New(zap.NewNop())
	}
	return &Ingestor{
		parsers: parsers,
		applier: applier,
		secrets: secrets,
		logger:  logger,
		tracer:  noop.NewTracerProvider().Tracer("webhook"),
		metrics: metrics,
	}
}

// WithTracer sets the tracer used for ingestion spans.
func (i *Ingestor) WithTracer(t trace.Tracer) *Ingestor {
	i.tracer = t
	return i
}

// Ingest handles one delivery from provider. Events that are stale, out of
// order or unmapped are accepted and ignored so the provider does not retry
// them.
func (i *Ingestor) Ingest(ctx context.Context, provider string, headers http.Header, body []byte) Result {
	ctx, span := i.tracer.Start(ctx, "webhook.Ingest")
	defer span.End()
	span.SetAttributes(attribute.String("provider", provider))

	res := i.ingest(ctx, provider, headers, body)
	outcome := "accepted"
	if !res.Success {
		outcome = string(res.Kind)
		i.logger.Ctx(ctx).Warn("webhook rejected",
			zap.String("provider", provider),
			zap.String("kind", string(res.Kind)),
			zap.String("message", res.Message),
			zap.Error(res.Err),
		)
	}
	i.metrics.RecordWebhook(provider, outcome)
	return res
}

func (i *Ingestor) ingest(ctx context.Context, provider string, headers http.Header, body []byte) Result {
	parser, err := i.parsers.WebhookParser(provider)
	if err != nil {
		return failed(courier.FailureValidation, fmt.Sprintf("no webhook parser for %q", provider), err)
	}
	if secret, ok := i.secrets[provider]; ok && secret != "" {
		if !Verify(secret, body, headers.Get(SignatureHeader)) {
			return failed(courier.FailureValidation, "signature mismatch", ErrInvalidSignature)
		}
	}

	events, parsed := parse(parser, body)
	if !parsed.Success {
		return Result{Result: parsed}
	}

	res := Result{Result: courier.OK(), Events: len(events)}
	for _, ev := range events {
		if ev.Status == nil {
			res.Unmapped++
			i.logger.Ctx(ctx).Debug("unmapped webhook status",
				zap.String("provider", provider),
				zap.String("awb", ev.AWB),
				zap.String("code", ev.ProviderCode),
			)
			continue
		}

		out, err := i.applier.ApplyWebhook(ctx, ev)
		var terr *shipment.TransitionError
		switch {
		case errors.As(err, &terr):
			res.Ignored++
			i.logger.Ctx(ctx).Info("webhook event ignored",
				zap.String("provider", provider),
				zap.String("awb", ev.AWB),
				zap.Error(err),
			)
		case errors.Is(err, store.ErrNotFound):
			res.Ignored++
			i.logger.Ctx(ctx).Warn("webhook for unknown shipment",
				zap.String("provider", provider),
				zap.String("awb", ev.AWB),
			)
		case err != nil:
			return failed(courier.FailureTransport, fmt.Sprintf("applying %s event for %s", provider, ev.AWB), err)
		case out.Changed:
			res.Applied++
		default:
			res.Ignored++
		}
	}
	return res
}

// parse prefers a provider's batch format.
func parse(parser courier.WebhookParser, body []byte) ([]*courier.WebhookEvent, courier.Result) {
	if batch, ok := parser.(courier.BatchWebhookParser); ok {
		res := batch.ParseWebhookBatch(body)
		return res.Value, res.Result
	}
	res := parser.ParseWebhook(body)
	if !res.Success {
		return nil, res.Result
	}
	return []*courier.WebhookEvent{res.Value}, res.Result
}

func failed(kind courier.FailureKind, msg string, err error) Result {
	return Result{Result: courier.Failf(kind, msg, err)}
}
