// Package ndr holds the non-delivery report case workflow opened when a
// delivery attempt fails.
//
// Every mutation validates first and appends a LogEntry only once it has
// succeeded, so a failed operation leaves the case as it was.
package ndr

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tournevent/courier/pkg/courier"
)

// Status is the state of an NDR case.
type Status string

const (
	StatusOpen                 Status = "open"
	StatusAssigned             Status = "assigned"
	StatusCustomerContacted    Status = "customer_contacted"
	StatusReattemptScheduled   Status = "reattempt_scheduled"
	StatusReattemptInProgress  Status = "reattempt_in_progress"
	StatusEscalated            Status = "escalated"
	StatusClosedDelivered      Status = "closed_delivered"
	StatusClosedRTO            Status = "closed_rto"
	StatusClosedAddressUpdated Status = "closed_address_updated"
	StatusDelivered            Status = "delivered"
)

var statuses = map[Status]bool{
	StatusOpen:                 false,
	StatusAssigned:             false,
	StatusCustomerContacted:    false,
	StatusReattemptScheduled:   false,
	StatusReattemptInProgress:  false,
	StatusEscalated:            false,
	StatusClosedDelivered:      true,
	StatusClosedRTO:            true,
	StatusClosedAddressUpdated: true,
	StatusDelivered:            true,
}

// Valid reports whether s is a known case status.
func (s Status) Valid() bool {
	_, ok := statuses[s]
	return ok
}

// IsResolved reports whether s is a closing status.
func (s Status) IsResolved() bool {
	return statuses[s]
}

// ParseStatus parses a case status name.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

// Channel is how an agent reached the customer.
type Channel string

const (
	ChannelCall     Channel = "call"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
)

// Valid reports whether c is a supported channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelCall, ChannelWhatsApp, ChannelSMS, ChannelEmail:
		return true
	}
	return false
}

// Action is a contact attempt logged by an agent.
type Action struct {
	At         time.Time `json:"at"`
	Actor      string    `json:"actor"`
	Channel    Channel   `json:"channel"`
	Outcome    string    `json:"outcome"`
	Successful bool      `json:"successful"`
	Note       string    `json:"note,omitempty"`
}

// Log entry kinds.
const (
	KindOpened             = "opened"
	KindAssigned           = "assigned"
	KindAction             = "action"
	KindReattemptScheduled = "reattempt_scheduled"
	KindReattemptStarted   = "reattempt_started"
	KindAttemptFailed      = "attempt_failed"
	KindEscalated          = "escalated"
	KindResolved           = "resolved"
	KindStatusSet          = "status_set"
	KindShipmentEvent      = "shipment_event"
)

// LogEntry is an immutable record of one change to a case.
type LogEntry struct {
	At      time.Time `json:"at"`
	Actor   string    `json:"actor"`
	Kind    string    `json:"kind"`
	From    Status    `json:"from,omitempty"`
	To      Status    `json:"to,omitempty"`
	Outcome string    `json:"outcome,omitempty"`
	Note    string    `json:"note,omitempty"`
}

// Errors returned by case operations.
var (
	ErrCaseResolved          = errors.New("ndr case is resolved")
	ErrCannotReopen          = errors.New("resolved ndr case cannot be reopened")
	ErrCannotDeescalate      = errors.New("escalated ndr case cannot return to an earlier status")
	ErrInvalidTransition     = errors.New("invalid ndr case transition")
	ErrUnknownStatus         = errors.New("unknown ndr case status")
	ErrInvalidChannel        = errors.New("unknown contact channel")
	ErrInvalidReattemptTime  = errors.New("reattempt time must be in the future")
	ErrReattemptWindowClosed = errors.New("reattempt window has not opened")
	ErrMissingAgent          = errors.New("agent is required")
	ErrNoReattemptScheduled  = errors.New("no reattempt is scheduled")
)

// Case is an NDR case.
type Case struct {
	ID              string
	ShipmentID      string
	TenantID        string
	AWB             string
	Reason          courier.NDRReason
	Status          Status
	AssignedAgent   string
	Actions         []Action
	Log             []LogEntry
	Remarks         string
	NextReattemptAt *time.Time
	FailedAttempts  int
	MaxAttempts     int
	OpenedAt        time.Time
	ResolvedAt      *time.Time
	UpdatedAt       time.Time
	Version         int64
}

// Open creates a case in the Open state. An unknown reason becomes Other.
func Open(id, shipmentID, tenantID, awb string, reason courier.NDRReason, remarks string, maxAttempts int, now time.Time) *Case {
	c := &Case{
		ID:          id,
		ShipmentID:  shipmentID,
		TenantID:    tenantID,
		AWB:         awb,
		Reason:      reason.OrOther(),
		Status:      StatusOpen,
		Remarks:     remarks,
		MaxAttempts: maxAttempts,
		OpenedAt:    now,
		UpdatedAt:   now,
	}
	c.record(LogEntry{At: now, Actor: "system", Kind: KindOpened, To: StatusOpen, Note: remarks})
	return c
}

// IsOpen reports whether the case is not yet resolved.
func (c *Case) IsOpen() bool {
	return !c.Status.IsResolved()
}

// Clone returns a deep copy.
func (c *Case) Clone() *Case {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Actions = append([]Action(nil), c.Actions...)
	cp.Log = append([]LogEntry(nil), c.Log...)
	if c.NextReattemptAt != nil {
		t := *c.NextReattemptAt
		cp.NextReattemptAt = &t
	}
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

// Assign sets or replaces the agent. An Open case moves to Assigned.
func (c *Case) Assign(agent, actor string, now time.Time) error {
	if err := c.mutable(); err != nil {
		return err
	}
	if strings.TrimSpace(agent) == "" {
		return ErrMissingAgent
	}
	from := c.Status
	c.AssignedAgent = agent
	if c.Status == StatusOpen {
		c.Status = StatusAssigned
	}
	c.record(LogEntry{At: now, Actor: actor, Kind: KindAssigned, From: from, To: c.Status, Note: agent})
	return nil
}

// LogAction records a contact attempt. A successful contact moves an Open or
// Assigned case to CustomerContacted.
func (c *Case) LogAction(a Action, now time.Time) error {
	if err := c.mutable(); err != nil {
		return err
	}
	if !a.Channel.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidChannel, a.Channel)
	}
	if a.At.IsZero() {
		a.At = now
	}
	from := c.Status
	c.Actions = append(c.Actions, a)
	if a.Successful && (c.Status == StatusOpen || c.Status == StatusAssigned) {
		c.Status = StatusCustomerContacted
	}
	c.record(LogEntry{At: now, Actor: a.Actor, Kind: KindAction, From: from, To: c.Status, Outcome: a.Outcome, Note: a.Note})
	return nil
}

// ScheduleReattempt sets the next delivery attempt time.
func (c *Case) ScheduleReattempt(at time.Time, actor, note string, now time.Time) error {
	if err := c.mutable(); err != nil {
		return err
	}
	if c.Status != StatusCustomerContacted && c.Status != StatusReattemptScheduled {
		return c.invalid(StatusReattemptScheduled)
	}
	if !at.After(now) {
		return ErrInvalidReattemptTime
	}
	from := c.Status
	c.NextReattemptAt = &at
	c.Status = StatusReattemptScheduled
	c.record(LogEntry{At: now, Actor: actor, Kind: KindReattemptScheduled, From: from, To: c.Status, Note: note})
	return nil
}

// StartReattempt marks the scheduled reattempt as in progress once its
// window has opened.
func (c *Case) StartReattempt(actor string, now time.Time) error {
	if err := c.mutable(); err != nil {
		return err
	}
	if c.Status != StatusReattemptScheduled {
		return c.invalid(StatusReattemptInProgress)
	}
	if c.NextReattemptAt != nil && now.Before(*c.NextReattemptAt) {
		return ErrReattemptWindowClosed
	}
	from := c.Status
	c.Status = StatusReattemptInProgress
	c.record(LogEntry{At: now, Actor: actor, Kind: KindReattemptStarted, From: from, To: c.Status})
	return nil
}

// RecordFailedAttempt counts an unsuccessful reattempt. Reaching MaxAttempts
// escalates the case; otherwise it returns to Assigned, or Open when no agent
// holds it. It reports whether this call escalated the case.
func (c *Case) RecordFailedAttempt(actor, note string, now time.Time) (bool, error) {
	if err := c.mutable(); err != nil {
		return false, err
	}
	from := c.Status
	c.FailedAttempts++
	c.NextReattemptAt = nil
	c.record(LogEntry{
		At:      now,
		Actor:   actor,
		Kind:    KindAttemptFailed,
		From:    from,
		To:      from,
		Outcome: fmt.Sprintf("attempt %d of %d", c.FailedAttempts, c.MaxAttempts),
		Note:    note,
	})

	if c.Status == StatusEscalated {
		return false, nil
	}
	if c.MaxAttempts > 0 && c.FailedAttempts >= c.MaxAttempts {
		c.Status = StatusEscalated
		c.record(LogEntry{At: now, Actor: "system", Kind: KindEscalated, From: from, To: c.Status, Note: "failed attempt threshold reached"})
		return true, nil
	}
	if c.AssignedAgent != "" {
		c.Status = StatusAssigned
	} else {
		c.Status = StatusOpen
	}
	c.Log[len(c.Log)-1].To = c.Status
	return false, nil
}

// Escalate moves the case to Escalated. Escalating an escalated case does
// nothing.
func (c *Case) Escalate(actor, note string, now time.Time) error {
	if err := c.mutable(); err != nil {
		return err
	}
	if c.Status == StatusEscalated {
		return nil
	}
	from := c.Status
	c.Status = StatusEscalated
	c.record(LogEntry{At: now, Actor: actor, Kind: KindEscalated, From: from, To: c.Status, Note: note})
	return nil
}

// Resolve closes the case with one of the closing statuses.
func (c *Case) Resolve(status Status, actor, note string, now time.Time) error {
	if err := c.mutable(); err != nil {
		return err
	}
	if !status.IsResolved() {
		return c.invalid(status)
	}
	from := c.Status
	c.Status = status
	c.NextReattemptAt = nil
	c.ResolvedAt = &now
	c.record(LogEntry{At: now, Actor: actor, Kind: KindResolved, From: from, To: status, Note: note})
	return nil
}

// SetStatus moves the case to any status an operator picks, subject to the
// reopen and de-escalation guards. Assigned needs an agent on the case.
// The reattempt statuses need a scheduled time whose window matches the
// target. Escalated goes through Escalate.
func (c *Case) SetStatus(status Status, actor, note string, now time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}
	if c.Status.IsResolved() {
		if !status.IsResolved() {
			return ErrCannotReopen
		}
		return ErrCaseResolved
	}
	if status.IsResolved() {
		return c.Resolve(status, actor, note, now)
	}
	if c.Status == StatusEscalated && status != StatusEscalated {
		return ErrCannotDeescalate
	}
	if status == c.Status {
		return nil
	}
	switch status {
	case StatusEscalated:
		return c.Escalate(actor, note, now)
	case StatusAssigned:
		if strings.TrimSpace(c.AssignedAgent) == "" {
			return ErrMissingAgent
		}
	case StatusReattemptScheduled:
		if c.NextReattemptAt == nil {
			return ErrNoReattemptScheduled
		}
		if !c.NextReattemptAt.After(now) {
			return ErrInvalidReattemptTime
		}
	case StatusReattemptInProgress:
		if c.NextReattemptAt == nil {
			return ErrNoReattemptScheduled
		}
		if now.Before(*c.NextReattemptAt) {
			return ErrReattemptWindowClosed
		}
	}
	from := c.Status
	c.Status = status
	c.record(LogEntry{At: now, Actor: actor, Kind: KindStatusSet, From: from, To: status, Note: note})
	return nil
}

// AppendEvent records a shipment event against the case without changing its
// status. Resolved cases accept events too.
func (c *Case) AppendEvent(status courier.Status, reason courier.NDRReason, remarks string, now time.Time) {
	note := remarks
	if reason != "" {
		note = strings.TrimSpace(string(reason) + " " + remarks)
	}
	c.record(LogEntry{At: now, Actor: "system", Kind: KindShipmentEvent, From: c.Status, To: c.Status, Outcome: string(status), Note: note})
}

func (c *Case) mutable() error {
	if c.Status.IsResolved() {
		return fmt.Errorf("%w: %s is %s", ErrCaseResolved, c.ID, c.Status)
	}
	return nil
}

func (c *Case) invalid(to Status) error {
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, c.Status, to)
}

func (c *Case) record(e LogEntry) {
	c.Log = append(c.Log, e)
	c.UpdatedAt = e.At
}
