// Package lifecycle is the command surface for shipments and NDR cases. It
// calls courier adapters, applies the state machines and writes each change
// together with its outbox events in one store mutation.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tournevent/courier/internal/outbox"
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

// ErrUnknownAccount is returned when an account ID is not configured.
var ErrUnknownAccount = errors.New("unknown courier account")

// ProviderFailure wraps a failed courier result.
type ProviderFailure struct {
	Provider string
	Op       string
	Result   courier.Result
}

func (e *ProviderFailure) Error() string {
	return fmt.Sprintf("%s %s failed (%s): %s", e.Provider, e.Op, e.Result.Kind, e.Result.Message)
}

func (e *ProviderFailure) Unwrap() error {
	return e.Result.Err
}

// Directory resolves configured courier accounts and tenant policies.
type Directory interface {
	Account(id string) (courier.Account, bool)
	AccountsFor(tenantID string) []courier.Account
	Policy(tenantID string) shipment.Policy
}

// Service handles lifecycle commands.
type Service struct {
	store    store.Store
	registry *courier.Registry
	dir      Directory
	logger   *otelzap.Logger
	tracer   trace.Tracer
	metrics  *telemetry.Metrics
	now      func() time.Time
	newID    func() string

	orders keyedMutex
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDs replaces the ID generator.
func WithIDs(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// WithMetrics records courier calls and transitions.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer sets the tracer used for command spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// New creates a Service.
func New(st store.Store, registry *courier.Registry, dir Directory, logger *otelzap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = otelzap.New(zap.NewNop())
	}
	s := &Service{
		store:    st,
		registry: registry,
		dir:      dir,
		logger:   logger,
		tracer:   noop.NewTracerProvider().Tracer("lifecycle"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ============================================================================
// Shipment commands
// ============================================================================

// CreateShipment books a shipment with the account's courier and records it
// as Created. Repeating an order reference for the same tenant returns the
// existing shipment without calling the courier; created reports which
// happened. Creates for one order reference run one at a time.
func (s *Service) CreateShipment(ctx context.Context, accountID string, req *courier.ShipmentRequest) (sh *shipment.Shipment, created bool, err error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.CreateShipment")
	defer span.End()

	acct, adapter, err := s.account(accountID)
	if err != nil {
		return nil, false, err
	}
	if req == nil || req.OrderReference == "" {
		return nil, false, fmt.Errorf("%w: order reference is required", courier.ErrInvalidRequest)
	}
	span.SetAttributes(attribute.String("order_reference", req.OrderReference))

	unlock := s.orders.lock(acct.TenantID + "/" + req.OrderReference)
	defer unlock()

	existing, err := s.store.FindShipmentByOrder(ctx, acct.TenantID, req.OrderReference)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	start := s.now()
	res := adapter.CreateShipment(ctx, acct.Credentials, req)
	s.observe("create_shipment", acct.Provider, res.Result, start)
	if !res.Success {
		return nil, false, &ProviderFailure{Provider: acct.Provider, Op: "create_shipment", Result: res.Result}
	}

	now := s.now()
	sh = shipment.New(s.newID(), acct.TenantID, acct.ID, acct.Provider, req, now)
	sh.AWB = res.Value.AWB
	sh.ProviderShipmentID = res.Value.ProviderShipmentID
	sh.TrackingURL = res.Value.TrackingURL

	ev, err := outbox.NewEvent(outbox.TypeShipmentStatusChanged, sh.TenantID, sh.ID, statusPayload(sh, "", shipment.Event{Status: sh.Status, OccurredAt: now}), now)
	if err != nil {
		return nil, false, err
	}
	sh, created, err = s.store.CreateShipment(ctx, sh, ev)
	if err != nil {
		return nil, false, err
	}
	s.logger.Ctx(ctx).Info("shipment created",
		zap.String("shipment_id", sh.ID),
		zap.String("provider", sh.Provider),
		zap.String("awb", sh.AWB),
		zap.Bool("created", created),
	)
	return sh, created, nil
}

// GetShipment returns a shipment by ID.
func (s *Service) GetShipment(ctx context.Context, id string) (*shipment.Shipment, error) {
	return s.store.GetShipment(ctx, id)
}

// Quote returns rates from a single account. A failure returns no rates.
func (s *Service) Quote(ctx context.Context, accountID string, req *courier.RateRequest) ([]courier.Rate, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.Quote")
	defer span.End()

	acct, adapter, err := s.account(accountID)
	if err != nil {
		return nil, err
	}
	start := s.now()
	res := adapter.GetRates(ctx, acct.Credentials, req)
	s.observe("get_rates", acct.Provider, res.Result, start)
	if !res.Success {
		return nil, &ProviderFailure{Provider: acct.Provider, Op: "get_rates", Result: res.Result}
	}
	for i := range res.Value {
		res.Value[i].AccountID = acct.ID
	}
	return res.Value, nil
}

// QuoteAll compares rates across every account of a tenant, cheapest first.
// Accounts that fail are reported in errs.
func (s *Service) QuoteAll(ctx context.Context, tenantID string, req *courier.RateRequest) ([]courier.Rate, []error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.QuoteAll")
	defer span.End()
	return s.registry.QuoteAll(ctx, s.dir.AccountsFor(tenantID), req)
}

// Track fetches the provider's tracking trail without changing the shipment.
func (s *Service) Track(ctx context.Context, shipmentID string) (*courier.TrackingResponse, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.Track")
	defer span.End()

	sh, acct, adapter, err := s.shipmentAccount(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	start := s.now()
	res := adapter.GetTracking(ctx, acct.Credentials, sh.AWB)
	s.observe("get_tracking", acct.Provider, res.Result, start)
	if !res.Success {
		return nil, &ProviderFailure{Provider: acct.Provider, Op: "get_tracking", Result: res.Result}
	}
	return res.Value, nil
}

// Cancel cancels the shipment with the courier and then moves it to
// Cancelled. A shipment that can no longer be cancelled is rejected before
// the courier is called.
func (s *Service) Cancel(ctx context.Context, shipmentID, actor string) (*shipment.Shipment, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.Cancel")
	defer span.End()

	sh, acct, adapter, err := s.shipmentAccount(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	if err := shipment.CanTransition(sh.Status, courier.StatusCancelled); err != nil {
		return nil, &shipment.TransitionError{ShipmentID: sh.ID, From: sh.Status, To: courier.StatusCancelled, Reason: err}
	}

	start := s.now()
	res := adapter.CancelShipment(ctx, acct.Credentials, sh.AWB)
	s.observe("cancel_shipment", acct.Provider, res, start)
	if !res.Success {
		return nil, &ProviderFailure{Provider: acct.Provider, Op: "cancel_shipment", Result: res}
	}

	ev := shipment.Event{Status: courier.StatusCancelled, Remarks: "cancelled by " + actor, Source: shipment.SourceManual}
	if _, err := s.ApplyStatus(ctx, shipmentID, ev); err != nil {
		return nil, err
	}
	return s.store.GetShipment(ctx, shipmentID)
}

// Label returns the shipment's printable label.
func (s *Service) Label(ctx context.Context, shipmentID string) ([]byte, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.Label")
	defer span.End()

	sh, acct, adapter, err := s.shipmentAccount(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	start := s.now()
	res := adapter.GetLabel(ctx, acct.Credentials, sh.AWB)
	s.observe("get_label", acct.Provider, res.Result, start)
	if !res.Success {
		return nil, &ProviderFailure{Provider: acct.Provider, Op: "get_label", Result: res.Result}
	}
	return res.Value, nil
}

// SchedulePickup books a pickup with the account's courier.
func (s *Service) SchedulePickup(ctx context.Context, accountID string, req *courier.PickupRequest) (*courier.PickupResponse, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.SchedulePickup")
	defer span.End()

	acct, adapter, err := s.account(accountID)
	if err != nil {
		return nil, err
	}
	if req == nil || len(req.AWBs) == 0 {
		return nil, fmt.Errorf("%w: at least one awb is required", courier.ErrInvalidRequest)
	}
	start := s.now()
	res := adapter.SchedulePickup(ctx, acct.Credentials, req)
	s.observe("schedule_pickup", acct.Provider, res.Result, start)
	if !res.Success {
		return nil, &ProviderFailure{Provider: acct.Provider, Op: "schedule_pickup", Result: res.Result}
	}
	return res.Value, nil
}

// ============================================================================
// Status events
// ============================================================================

// ApplyStatus applies ev to the shipment. The transition, any NDR case
// changes and the outbox events are committed together.
func (s *Service) ApplyStatus(ctx context.Context, shipmentID string, ev shipment.Event) (shipment.Outcome, error) {
	var out shipment.Outcome
	err := s.store.MutateShipment(ctx, shipmentID, func(u *store.Unit) error {
		var err error
		out, err = s.apply(ctx, u, ev)
		return err
	})
	s.recordTransition(ev.Status, out, err)
	return out, err
}

// ApplyWebhook applies a parsed webhook event to the shipment with that AWB.
// Events whose provider code has no canonical mapping change nothing.
func (s *Service) ApplyWebhook(ctx context.Context, ev *courier.WebhookEvent) (shipment.Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.ApplyWebhook")
	defer span.End()

	if ev.Status == nil {
		s.logger.Ctx(ctx).Debug("unmapped provider status ignored",
			zap.String("provider", ev.Provider),
			zap.String("awb", ev.AWB),
			zap.String("code", ev.ProviderCode),
			zap.String("status_type", ev.StatusType),
		)
		return shipment.Outcome{}, nil
	}

	sh, err := s.store.FindShipmentByAWB(ctx, ev.Provider, ev.AWB)
	if err != nil {
		return shipment.Outcome{}, err
	}
	return s.ApplyStatus(ctx, sh.ID, shipment.Event{
		Status:       *ev.Status,
		ProviderCode: ev.ProviderCode,
		StatusType:   ev.StatusType,
		Location:     ev.Location,
		Remarks:      ev.Remarks,
		NDRReason:    ev.NDRReason,
		OccurredAt:   ev.OccurredAt,
		Source:       shipment.SourceWebhook,
	})
}

// SyncResult summarises a tracking sync. Undated counts events whose
// provider time could not be parsed; they are still applied.
type SyncResult struct {
	Applied  int
	Skipped  int
	Unmapped int
	Undated  int
	Status   courier.Status
}

// SyncTracking polls the provider and applies every mapped event newer than
// the last one already recorded, oldest first. Events without a time follow
// in provider order, stamped with the sync time, and rely on the state
// machine to drop what is stale. Stale and out-of-order events are skipped.
func (s *Service) SyncTracking(ctx context.Context, shipmentID string) (SyncResult, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.SyncTracking")
	defer span.End()

	var result SyncResult
	sh, acct, adapter, err := s.shipmentAccount(ctx, shipmentID)
	if err != nil {
		return result, err
	}
	mapper, ok := adapter.(courier.StatusMapper)
	if !ok {
		return result, fmt.Errorf("%s: tracking statuses cannot be mapped", acct.Provider)
	}

	start := s.now()
	res := adapter.GetTracking(ctx, acct.Credentials, sh.AWB)
	s.observe("get_tracking", acct.Provider, res.Result, start)
	if !res.Success {
		return result, &ProviderFailure{Provider: acct.Provider, Op: "get_tracking", Result: res.Result}
	}

	var dated, undated []courier.TrackingEvent
	for _, te := range res.Value.Chronological() {
		if te.Time.IsZero() {
			undated = append(undated, te)
			continue
		}
		dated = append(dated, te)
	}
	if len(undated) > 0 {
		// Chronological is stable, so undated events keep provider order.
		s.logger.Ctx(ctx).Debug("tracking events without a parseable time",
			zap.String("awb", sh.AWB),
			zap.String("provider", acct.Provider),
			zap.Int("count", len(undated)),
		)
	}

	err = s.store.MutateShipment(ctx, shipmentID, func(u *store.Unit) error {
		result = SyncResult{Undated: len(undated)}
		since := u.Shipment.LastEventAt()
		now := s.now()

		apply := func(te courier.TrackingEvent, at time.Time) error {
			st := mapper.MapStatus(te.Status, te.StatusType)
			if st == nil {
				result.Unmapped++
				s.logger.Ctx(ctx).Debug("unmapped tracking status ignored",
					zap.String("awb", sh.AWB),
					zap.String("code", te.Status),
					zap.String("status_type", te.StatusType),
				)
				return nil
			}
			ev := shipment.Event{
				Status:       *st,
				ProviderCode: te.Status,
				StatusType:   te.StatusType,
				Location:     te.Location,
				Remarks:      te.Remarks,
				OccurredAt:   at,
				Source:       shipment.SourcePoll,
			}
			if *st == courier.StatusDeliveryFailed {
				ev.NDRReason = courier.ReasonFromRemarks(te.Remarks)
			}
			out, err := s.apply(ctx, u, ev)
			s.recordTransition(ev.Status, out, err)
			var terr *shipment.TransitionError
			if errors.As(err, &terr) {
				result.Skipped++
				return nil
			}
			if err != nil {
				return err
			}
			if out.Changed {
				result.Applied++
			}
			return nil
		}

		for _, te := range dated {
			if !te.Time.After(since) {
				result.Skipped++
				continue
			}
			if err := apply(te, te.Time); err != nil {
				return err
			}
		}
		for _, te := range undated {
			// Without a time a repeat poll cannot tell old from new, so an
			// event matching the current status is taken as already seen.
			if st := mapper.MapStatus(te.Status, te.StatusType); st != nil && *st == u.Shipment.Status {
				result.Skipped++
				continue
			}
			if err := apply(te, now); err != nil {
				return err
			}
		}
		result.Status = u.Shipment.Status
		return nil
	})
	return result, err
}

// ============================================================================
// Helpers
// ============================================================================

func (s *Service) account(id string) (courier.Account, courier.Adapter, error) {
	acct, ok := s.dir.Account(id)
	if !ok {
		return courier.Account{}, nil, fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	adapter, err := s.registry.ResolveAccount(acct)
	if err != nil {
		return courier.Account{}, nil, err
	}
	return acct, adapter, nil
}

func (s *Service) shipmentAccount(ctx context.Context, shipmentID string) (*shipment.Shipment, courier.Account, courier.Adapter, error) {
	sh, err := s.store.GetShipment(ctx, shipmentID)
	if err != nil {
		return nil, courier.Account{}, nil, err
	}
	acct, adapter, err := s.account(sh.AccountID)
	if err != nil {
		return nil, courier.Account{}, nil, err
	}
	return sh, acct, adapter, nil
}

func (s *Service) observe(op, provider string, res courier.Result, start time.Time) {
	status := "ok"
	if !res.Success {
		status = "error"
		s.metrics.RecordError(provider, string(res.Kind))
	}
	s.metrics.RecordRequest(op, provider, status, s.now().Sub(start).Seconds())
}

func (s *Service) recordTransition(to courier.Status, out shipment.Outcome, err error) {
	result := "applied"
	switch {
	case err != nil:
		result = "rejected"
	case out.Duplicate:
		result = "duplicate"
	}
	s.metrics.RecordTransition(string(to), result)
}
