// Package outbox carries side effects of lifecycle transitions. Events are
// written in the same unit of work as the state change and published later
// by the Relay.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tournevent/courier/pkg/courier"
)

// Event types.
const (
	TypeShipmentStatusChanged = "shipment.status_changed"
	TypeRestockRequested      = "inventory.restock_requested"
	TypeCaseOpened            = "ndr.case_opened"
	TypeCaseUpdated           = "ndr.case_updated"
	TypeCaseEscalated         = "ndr.case_escalated"
)

// Event is a pending side effect.
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	TenantID      string          `json:"tenant_id"`
	AggregateID   string          `json:"aggregate_id"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	CreatedAt     time.Time       `json:"created_at"`
	PublishedAt   *time.Time      `json:"published_at,omitempty"`
	DeadLettered  bool            `json:"dead_lettered"`
	LastError     string          `json:"last_error,omitempty"`
}

// NewEvent builds an event due immediately.
func NewEvent(typ, tenantID, aggregateID string, payload any, now time.Time) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Event{
		ID:            uuid.NewString(),
		Type:          typ,
		TenantID:      tenantID,
		AggregateID:   aggregateID,
		Payload:       body,
		NextAttemptAt: now,
		CreatedAt:     now,
	}, nil
}

// StatusChanged is the payload of shipment.status_changed.
type StatusChanged struct {
	ShipmentID     string         `json:"shipment_id"`
	OrderReference string         `json:"order_reference"`
	Provider       string         `json:"provider"`
	AWB            string         `json:"awb"`
	From           courier.Status `json:"from"`
	To             courier.Status `json:"to"`
	ProviderCode   string         `json:"provider_code,omitempty"`
	Location       string         `json:"location,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// RestockRequested is the payload of inventory.restock_requested.
type RestockRequested struct {
	ShipmentID     string         `json:"shipment_id"`
	OrderReference string         `json:"order_reference"`
	AWB            string         `json:"awb"`
	Trigger        courier.Status `json:"trigger"`
}

// CaseChanged is the payload of the ndr.* events.
type CaseChanged struct {
	CaseID         string            `json:"case_id"`
	ShipmentID     string            `json:"shipment_id"`
	AWB            string            `json:"awb"`
	Reason         courier.NDRReason `json:"reason"`
	Status         string            `json:"status"`
	FailedAttempts int               `json:"failed_attempts"`
	Agent          string            `json:"agent,omitempty"`
}

// Source is where the relay reads pending events from.
type Source interface {
	PendingEvents(ctx context.Context, now time.Time, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, attempts int, next time.Time, lastErr string, dead bool) error
}
