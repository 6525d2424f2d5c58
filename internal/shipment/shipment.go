// Package shipment holds the shipment aggregate and its lifecycle state
// machine. A shipment's status changes only through Apply.
package shipment

import (
	"time"

	"github.com/tournevent/courier/pkg/courier"
)

// Source records where a status event came from.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePoll    Source = "poll"
	SourceManual  Source = "manual"
	SourceSystem  Source = "system"
)

// HistoryEntry is one append-only record of a status event applied to a
// shipment. Entries are written for duplicates too, with Applied false.
type HistoryEntry struct {
	At           time.Time      `json:"at"`
	OccurredAt   time.Time      `json:"occurred_at"`
	Status       courier.Status `json:"status"`
	Previous     courier.Status `json:"previous"`
	ProviderCode string         `json:"provider_code,omitempty"`
	StatusType   string         `json:"status_type,omitempty"`
	Location     string         `json:"location,omitempty"`
	Remarks      string         `json:"remarks,omitempty"`
	Source       Source         `json:"source"`
	Applied      bool           `json:"applied"`
	Note         string         `json:"note,omitempty"`
}

// Shipment is the persisted shipment record.
type Shipment struct {
	ID                 string
	TenantID           string
	AccountID          string
	Provider           string
	OrderReference     string
	AWB                string
	ProviderShipmentID string
	TrackingURL        string
	COD                bool
	CODAmount          float64
	Status             courier.Status
	History            []HistoryEntry
	Restocked          bool
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// New returns a shipment in the Created state with its first history entry.
func New(id, tenantID, accountID, provider string, req *courier.ShipmentRequest, now time.Time) *Shipment {
	return &Shipment{
		ID:             id,
		TenantID:       tenantID,
		AccountID:      accountID,
		Provider:       provider,
		OrderReference: req.OrderReference,
		COD:            req.COD,
		CODAmount:      req.CODAmount,
		Status:         courier.StatusCreated,
		History: []HistoryEntry{{
			At:         now,
			OccurredAt: now,
			Status:     courier.StatusCreated,
			Source:     SourceSystem,
			Applied:    true,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy.
func (s *Shipment) Clone() *Shipment {
	if s == nil {
		return nil
	}
	c := *s
	c.History = append([]HistoryEntry(nil), s.History...)
	return &c
}

// LastEventAt returns the provider time of the newest entry that came from
// the provider, by webhook or poll.
func (s *Shipment) LastEventAt() time.Time {
	var last time.Time
	for _, h := range s.History {
		if h.Source != SourceWebhook && h.Source != SourcePoll {
			continue
		}
		if h.OccurredAt.After(last) {
			last = h.OccurredAt
		}
	}
	return last
}

// Policy is the tenant configuration consulted by transitions.
type Policy struct {
	RestockOnRTO           bool `yaml:"restock_on_rto"`
	NDRMaxAttempts         int  `yaml:"ndr_max_attempts"`
	AllowMultipleOpenCases bool `yaml:"allow_multiple_open_cases"`
}

// DefaultNDRMaxAttempts is the failed reattempt count that escalates a case.
const DefaultNDRMaxAttempts = 3

// DefaultPolicy returns the policy used when a tenant configures none.
func DefaultPolicy() Policy {
	return Policy{NDRMaxAttempts: DefaultNDRMaxAttempts}
}

// MaxAttempts returns the escalation threshold, defaulting when unset.
func (p Policy) MaxAttempts() int {
	if p.NDRMaxAttempts <= 0 {
		return DefaultNDRMaxAttempts
	}
	return p.NDRMaxAttempts
}
