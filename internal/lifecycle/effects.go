package lifecycle

import (
	"context"
	"time"

	"github.com/tournevent/courier/internal/ndr"
	"github.com/tournevent/courier/internal/outbox"
	"github.com/tournevent/courier/internal/shipment"
	"github.com/tournevent/courier/internal/store"
	"github.com/tournevent/courier/pkg/courier"
	"go.uber.org/zap"
)

// apply runs one status event through the shipment state machine and carries
// out the requested effects on the same unit.
func (s *Service) apply(ctx context.Context, u *store.Unit, ev shipment.Event) (shipment.Outcome, error) {
	sh := u.Shipment
	policy := s.dir.Policy(sh.TenantID)
	now := s.now()
	if ev.Status == courier.StatusDeliveryFailed && ev.NDRReason == "" {
		ev.NDRReason = courier.ReasonFromRemarks(ev.Remarks)
	}

	open := u.OpenCase()
	out, err := sh.Apply(ev, policy, open != nil, now)
	if err != nil {
		s.logger.Ctx(ctx).Info("status event rejected",
			zap.String("shipment_id", sh.ID),
			zap.String("from", string(sh.Status)),
			zap.String("to", string(ev.Status)),
			zap.Error(err),
		)
		return out, err
	}

	var (
		touched   *ndr.Case
		caseEvent string
	)
	for _, eff := range out.Effects {
		switch eff.Kind {
		case shipment.EffectStatusChanged:
			if err := s.emit(u, outbox.TypeShipmentStatusChanged, sh.ID, statusPayload(sh, out.Previous, ev), now); err != nil {
				return out, err
			}

		case shipment.EffectRestock:
			payload := outbox.RestockRequested{ShipmentID: sh.ID, OrderReference: sh.OrderReference, AWB: sh.AWB, Trigger: eff.Status}
			if err := s.emit(u, outbox.TypeRestockRequested, sh.ID, payload, now); err != nil {
				return out, err
			}

		case shipment.EffectOpenCase:
			c := ndr.Open(s.newID(), sh.ID, sh.TenantID, sh.AWB, eff.Reason, ev.Remarks, policy.MaxAttempts(), now)
			u.AddCase(c)
			touched, caseEvent = c, outbox.TypeCaseOpened
			s.logger.Ctx(ctx).Info("ndr case opened",
				zap.String("case_id", c.ID),
				zap.String("shipment_id", sh.ID),
				zap.String("reason", string(c.Reason)),
			)

		case shipment.EffectAppendCase:
			open.AppendEvent(ev.Status, ev.NDRReason, ev.Remarks, now)
			touched, caseEvent = open, pick(caseEvent, outbox.TypeCaseUpdated)

		case shipment.EffectFailedAttempt:
			escalated, err := open.RecordFailedAttempt("system", ev.Remarks, now)
			if err != nil {
				return out, err
			}
			touched, caseEvent = open, pick(caseEvent, outbox.TypeCaseUpdated)
			if escalated {
				caseEvent = outbox.TypeCaseEscalated
			}

		case shipment.EffectCloseCase:
			open.AppendEvent(ev.Status, "", ev.Remarks, now)
			if err := closeCase(open, ev.Status, now); err != nil {
				return out, err
			}
			touched, caseEvent = open, pick(caseEvent, outbox.TypeCaseUpdated)
			if open.Status == ndr.StatusEscalated {
				caseEvent = outbox.TypeCaseEscalated
			}
		}
	}

	if touched != nil {
		if err := s.emit(u, caseEvent, touched.ID, casePayload(touched), now); err != nil {
			return out, err
		}
	}
	return out, nil
}

// closeCase settles an open case once the shipment reaches an outcome. A
// shipment that is cancelled or lost leaves the case for an agent, escalated.
func closeCase(c *ndr.Case, status courier.Status, now time.Time) error {
	switch status {
	case courier.StatusDelivered:
		return c.Resolve(ndr.StatusDelivered, "system", "shipment delivered", now)
	case courier.StatusRTOInitiated, courier.StatusRTOInTransit, courier.StatusRTODelivered:
		return c.Resolve(ndr.StatusClosedRTO, "system", "return to origin", now)
	default:
		return c.Escalate("system", "shipment "+string(status), now)
	}
}

// pick keeps an event type already chosen over the fallback.
func pick(current, fallback string) string {
	if current != "" {
		return current
	}
	return fallback
}

func (s *Service) emit(u *store.Unit, typ, aggregateID string, payload any, now time.Time) error {
	e, err := outbox.NewEvent(typ, u.Shipment.TenantID, aggregateID, payload, now)
	if err != nil {
		return err
	}
	u.Emit(e)
	return nil
}

func statusPayload(sh *shipment.Shipment, from courier.Status, ev shipment.Event) outbox.StatusChanged {
	return outbox.StatusChanged{
		ShipmentID:     sh.ID,
		OrderReference: sh.OrderReference,
		Provider:       sh.Provider,
		AWB:            sh.AWB,
		From:           from,
		To:             ev.Status,
		ProviderCode:   ev.ProviderCode,
		Location:       ev.Location,
		OccurredAt:     ev.OccurredAt,
	}
}

func casePayload(c *ndr.Case) outbox.CaseChanged {
	return outbox.CaseChanged{
		CaseID:         c.ID,
		ShipmentID:     c.ShipmentID,
		AWB:            c.AWB,
		Reason:         c.Reason,
		Status:         string(c.Status),
		FailedAttempts: c.FailedAttempts,
		Agent:          c.AssignedAgent,
	}
}
