package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tournevent/courier/internal/ndr"
	"github.com/tournevent/courier/internal/outbox"
	"github.com/tournevent/courier/internal/shipment"
)

// Memory is an in-process Store. Each shipment aggregate has its own lock;
// reads and writes hand out deep copies.
type Memory struct {
	mu        sync.RWMutex
	shipments map[string]*shipment.Shipment
	byOrder   map[string]string
	byAWB     map[string]string
	cases     map[string]*ndr.Case
	byShip    map[string][]string
	events    map[string]*outbox.Event
	order     []string

	locks sync.Map
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		shipments: make(map[string]*shipment.Shipment),
		byOrder:   make(map[string]string),
		byAWB:     make(map[string]string),
		cases:     make(map[string]*ndr.Case),
		byShip:    make(map[string][]string),
		events:    make(map[string]*outbox.Event),
	}
}

func orderKey(tenantID, ref string) string { return tenantID + "\x00" + ref }
func awbKey(provider, awb string) string   { return provider + "\x00" + awb }

func (m *Memory) lock(id string) func() {
	v, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (m *Memory) CreateShipment(_ context.Context, s *shipment.Shipment, events ...outbox.Event) (*shipment.Shipment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byOrder[orderKey(s.TenantID, s.OrderReference)]; ok {
		return m.shipments[id].Clone(), false, nil
	}
	if _, ok := m.shipments[s.ID]; ok {
		return nil, false, fmt.Errorf("shipment %s already exists", s.ID)
	}

	c := s.Clone()
	c.Version = 1
	m.shipments[c.ID] = c
	m.byOrder[orderKey(c.TenantID, c.OrderReference)] = c.ID
	if c.AWB != "" {
		m.byAWB[awbKey(c.Provider, c.AWB)] = c.ID
	}
	m.appendEvents(events)
	return c.Clone(), true, nil
}

func (m *Memory) GetShipment(_ context.Context, id string) (*shipment.Shipment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.shipments[id]
	if !ok {
		return nil, fmt.Errorf("shipment %s: %w", id, ErrNotFound)
	}
	return s.Clone(), nil
}

func (m *Memory) FindShipmentByOrder(ctx context.Context, tenantID, orderReference string) (*shipment.Shipment, error) {
	m.mu.RLock()
	id, ok := m.byOrder[orderKey(tenantID, orderReference)]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderReference, ErrNotFound)
	}
	return m.GetShipment(ctx, id)
}

func (m *Memory) FindShipmentByAWB(ctx context.Context, provider, awb string) (*shipment.Shipment, error) {
	m.mu.RLock()
	id, ok := m.byAWB[awbKey(provider, awb)]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s awb %s: %w", provider, awb, ErrNotFound)
	}
	return m.GetShipment(ctx, id)
}

func (m *Memory) MutateShipment(_ context.Context, id string, fn func(u *Unit) error) error {
	unlock := m.lock(id)
	defer unlock()

	m.mu.RLock()
	cur, ok := m.shipments[id]
	if !ok {
		m.mu.RUnlock()
		return fmt.Errorf("shipment %s: %w", id, ErrNotFound)
	}
	version := cur.Version
	cases := make([]*ndr.Case, 0, len(m.byShip[id]))
	for _, cid := range m.byShip[id] {
		cases = append(cases, m.cases[cid].Clone())
	}
	u := newUnit(cur.Clone(), cases)
	m.mu.RUnlock()

	if err := fn(u); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shipments[id].Version != version {
		return fmt.Errorf("shipment %s: %w", id, ErrConflict)
	}

	next := u.Shipment.Clone()
	next.Version = version + 1
	if old := m.shipments[id]; old.AWB != next.AWB {
		delete(m.byAWB, awbKey(old.Provider, old.AWB))
	}
	m.shipments[id] = next
	if next.AWB != "" {
		m.byAWB[awbKey(next.Provider, next.AWB)] = id
	}

	for _, c := range u.dirtyCases() {
		cp := c.Clone()
		cp.Version++
		m.cases[cp.ID] = cp
	}
	for _, c := range u.added {
		cp := c.Clone()
		cp.Version = 1
		m.cases[cp.ID] = cp
		m.byShip[id] = append(m.byShip[id], cp.ID)
	}
	m.appendEvents(u.events)
	return nil
}

func (m *Memory) GetCase(_ context.Context, id string) (*ndr.Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cases[id]
	if !ok {
		return nil, fmt.Errorf("ndr case %s: %w", id, ErrNotFound)
	}
	return c.Clone(), nil
}

func (m *Memory) ListCases(_ context.Context, f CaseFilter) ([]*ndr.Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ndr.Case
	for _, c := range m.cases {
		if f.match(c) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) MutateCase(ctx context.Context, id string, fn func(u *Unit, c *ndr.Case) error) error {
	return mutateCase(ctx, m, id, fn)
}

// appendEvents must be called with mu held.
func (m *Memory) appendEvents(events []outbox.Event) {
	for i := range events {
		e := events[i]
		m.events[e.ID] = &e
		m.order = append(m.order, e.ID)
	}
}

func (m *Memory) PendingEvents(_ context.Context, now time.Time, limit int) ([]outbox.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []outbox.Event
	for _, id := range m.order {
		e := m.events[id]
		if !isDue(e, now) {
			continue
		}
		out = append(out, *e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) MarkPublished(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	e.PublishedAt = &at
	return nil
}

func (m *Memory) MarkFailed(_ context.Context, id string, attempts int, next time.Time, lastErr string, dead bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	e.Attempts = attempts
	e.NextAttemptAt = next
	e.LastError = lastErr
	e.DeadLettered = dead
	return nil
}

// Events returns every event written, in order. Used by tests and the demo
// server.
func (m *Memory) Events() []outbox.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]outbox.Event, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.events[id])
	}
	return out
}

var _ Store = (*Memory)(nil)
