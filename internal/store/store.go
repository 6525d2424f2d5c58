// Package store persists shipments, NDR cases and outbox events.
//
// All writes to a shipment and its cases go through MutateShipment, which
// runs the callback with exclusive access to the aggregate and commits the
// shipment, its cases and any emitted events atomically.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tournevent/courier/internal/ndr"
	"github.com/tournevent/courier/internal/outbox"
	"github.com/tournevent/courier/internal/shipment"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a concurrent writer changed the aggregate.
	ErrConflict = errors.New("concurrent modification")
)

// CaseFilter narrows ListCases. Zero fields match everything.
type CaseFilter struct {
	TenantID   string
	ShipmentID string
	Status     ndr.Status
	OpenOnly   bool
	Limit      int
}

func (f CaseFilter) match(c *ndr.Case) bool {
	switch {
	case f.TenantID != "" && c.TenantID != f.TenantID:
		return false
	case f.ShipmentID != "" && c.ShipmentID != f.ShipmentID:
		return false
	case f.Status != "" && c.Status != f.Status:
		return false
	case f.OpenOnly && !c.IsOpen():
		return false
	}
	return true
}

// Store is the persistence contract.
type Store interface {
	// CreateShipment inserts s unless a shipment with the same tenant and
	// order reference exists, in which case that one is returned with
	// created false. events are written only when the shipment is created.
	CreateShipment(ctx context.Context, s *shipment.Shipment, events ...outbox.Event) (*shipment.Shipment, bool, error)
	GetShipment(ctx context.Context, id string) (*shipment.Shipment, error)
	FindShipmentByOrder(ctx context.Context, tenantID, orderReference string) (*shipment.Shipment, error)
	FindShipmentByAWB(ctx context.Context, provider, awb string) (*shipment.Shipment, error)
	MutateShipment(ctx context.Context, id string, fn func(u *Unit) error) error

	GetCase(ctx context.Context, id string) (*ndr.Case, error)
	ListCases(ctx context.Context, f CaseFilter) ([]*ndr.Case, error)
	// MutateCase runs fn inside MutateShipment of the case's shipment.
	MutateCase(ctx context.Context, id string, fn func(u *Unit, c *ndr.Case) error) error

	outbox.Source
}

// Unit is the working copy of one shipment aggregate inside MutateShipment.
// Changes are discarded if the callback returns an error.
type Unit struct {
	Shipment *shipment.Shipment
	Cases    []*ndr.Case

	added  []*ndr.Case
	events []outbox.Event
	logLen map[string]int
}

func newUnit(s *shipment.Shipment, cases []*ndr.Case) *Unit {
	u := &Unit{Shipment: s, Cases: cases, logLen: make(map[string]int, len(cases))}
	for _, c := range cases {
		u.logLen[c.ID] = len(c.Log)
	}
	return u
}

// OpenCase returns the most recently opened unresolved case, or nil.
func (u *Unit) OpenCase() *ndr.Case {
	var open *ndr.Case
	for _, c := range u.Cases {
		if c.IsOpen() && (open == nil || !c.OpenedAt.Before(open.OpenedAt)) {
			open = c
		}
	}
	return open
}

// Case returns the case with the given ID, or nil.
func (u *Unit) Case(id string) *ndr.Case {
	for _, c := range u.Cases {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// AddCase attaches a new case to the aggregate.
func (u *Unit) AddCase(c *ndr.Case) {
	u.Cases = append(u.Cases, c)
	u.added = append(u.added, c)
}

// Emit queues an outbox event to be written with the aggregate.
func (u *Unit) Emit(e outbox.Event) {
	u.events = append(u.events, e)
}

// Events returns the events emitted so far.
func (u *Unit) Events() []outbox.Event {
	return u.events
}

func (u *Unit) isNew(c *ndr.Case) bool {
	for _, a := range u.added {
		if a == c {
			return true
		}
	}
	return false
}

// dirtyCases returns loaded cases that were mutated. Every case mutation
// appends a log entry.
func (u *Unit) dirtyCases() []*ndr.Case {
	var out []*ndr.Case
	for _, c := range u.Cases {
		if u.isNew(c) {
			continue
		}
		if n, ok := u.logLen[c.ID]; ok && n != len(c.Log) {
			out = append(out, c)
		}
	}
	return out
}

func mutateCase(ctx context.Context, s Store, id string, fn func(u *Unit, c *ndr.Case) error) error {
	c, err := s.GetCase(ctx, id)
	if err != nil {
		return err
	}
	return s.MutateShipment(ctx, c.ShipmentID, func(u *Unit) error {
		cur := u.Case(id)
		if cur == nil {
			return ErrNotFound
		}
		return fn(u, cur)
	})
}

func isDue(e *outbox.Event, now time.Time) bool {
	return e.PublishedAt == nil && !e.DeadLettered && !e.NextAttemptAt.After(now)
}
