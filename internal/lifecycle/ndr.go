package lifecycle

import (
	"context"
	"time"

	"github.com/tournevent/courier/internal/ndr"
	"github.com/tournevent/courier/internal/outbox"
	"github.com/tournevent/courier/internal/store"
	"go.uber.org/zap"
)

// GetCase returns an NDR case by ID.
func (s *Service) GetCase(ctx context.Context, id string) (*ndr.Case, error) {
	return s.store.GetCase(ctx, id)
}

// ListCases lists NDR cases matching f.
func (s *Service) ListCases(ctx context.Context, f store.CaseFilter) ([]*ndr.Case, error) {
	return s.store.ListCases(ctx, f)
}

// AssignAgent assigns or reassigns the case to an agent.
func (s *Service) AssignAgent(ctx context.Context, caseID, agent, actor string) (*ndr.Case, error) {
	return s.mutateCase(ctx, caseID, "assign", func(c *ndr.Case, now time.Time) error {
		return c.Assign(agent, actor, now)
	})
}

// LogContact records a contact attempt with the customer.
func (s *Service) LogContact(ctx context.Context, caseID string, a ndr.Action) (*ndr.Case, error) {
	return s.mutateCase(ctx, caseID, "log_contact", func(c *ndr.Case, now time.Time) error {
		return c.LogAction(a, now)
	})
}

// ScheduleReattempt sets the next delivery attempt.
func (s *Service) ScheduleReattempt(ctx context.Context, caseID string, at time.Time, actor, note string) (*ndr.Case, error) {
	return s.mutateCase(ctx, caseID, "schedule_reattempt", func(c *ndr.Case, now time.Time) error {
		return c.ScheduleReattempt(at, actor, note, now)
	})
}

// StartReattempt marks a scheduled reattempt as in progress.
func (s *Service) StartReattempt(ctx context.Context, caseID, actor string) (*ndr.Case, error) {
	return s.mutateCase(ctx, caseID, "start_reattempt", func(c *ndr.Case, now time.Time) error {
		return c.StartReattempt(actor, now)
	})
}

// RecordFailedAttempt counts an unsuccessful reattempt, escalating the case
// at the tenant's threshold.
func (s *Service) RecordFailedAttempt(ctx context.Context, caseID, actor, note string) (*ndr.Case, error) {
	return s.mutateCase(ctx, caseID, "failed_attempt", func(c *ndr.Case, now time.Time) error {
		_, err := c.RecordFailedAttempt(actor, note, now)
		return err
	})
}

// EscalateCase escalates the case.
func (s *Service) EscalateCase(ctx context.Context, caseID, actor, note string) (*ndr.Case, error) {
	return s.mutateCase(ctx, caseID, "escalate", func(c *ndr.Case, now time.Time) error {
		return c.Escalate(actor, note, now)
	})
}

// ResolveCase closes the case with a closing status.
func (s *Service) ResolveCase(ctx context.Context, caseID string, status ndr.Status, actor, note string) (*ndr.Case, error) {
	return s.mutateCase(ctx, caseID, "resolve", func(c *ndr.Case, now time.Time) error {
		return c.Resolve(status, actor, note, now)
	})
}

// SetCaseStatus moves the case to an operator-chosen status.
func (s *Service) SetCaseStatus(ctx context.Context, caseID string, status ndr.Status, actor, note string) (*ndr.Case, error) {
	return s.mutateCase(ctx, caseID, "set_status", func(c *ndr.Case, now time.Time) error {
		return c.SetStatus(status, actor, note, now)
	})
}

func (s *Service) mutateCase(ctx context.Context, caseID, op string, fn func(c *ndr.Case, now time.Time) error) (*ndr.Case, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.ndr."+op)
	defer span.End()

	var result *ndr.Case
	err := s.store.MutateCase(ctx, caseID, func(u *store.Unit, c *ndr.Case) error {
		now := s.now()
		before := c.Status
		if err := fn(c, now); err != nil {
			return err
		}
		typ := outbox.TypeCaseUpdated
		if c.Status == ndr.StatusEscalated && before != ndr.StatusEscalated {
			typ = outbox.TypeCaseEscalated
		}
		if err := s.emit(u, typ, c.ID, casePayload(c), now); err != nil {
			return err
		}
		result = c.Clone()
		return nil
	})
	if err != nil {
		s.logger.Ctx(ctx).Info("ndr command rejected",
			zap.String("case_id", caseID),
			zap.String("op", op),
			zap.Error(err),
		)
		return nil, err
	}
	return result, nil
}
