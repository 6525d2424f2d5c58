package courier

import (
	"fmt"
	"strings"
)

// Status is the canonical, provider-agnostic shipment lifecycle state.
type Status string

const (
	StatusCreated        Status = "created"
	StatusManifested     Status = "manifested"
	StatusPickedUp       Status = "picked_up"
	StatusInTransit      Status = "in_transit"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusDeliveryFailed Status = "delivery_failed"
	StatusRTOInitiated   Status = "rto_initiated"
	StatusRTOInTransit   Status = "rto_in_transit"
	StatusRTODelivered   Status = "rto_delivered"
	StatusCancelled      Status = "cancelled"
	StatusLost           Status = "lost"
)

// AllStatuses lists every canonical status in lifecycle order.
var AllStatuses = []Status{
	StatusCreated,
	StatusManifested,
	StatusPickedUp,
	StatusInTransit,
	StatusOutForDelivery,
	StatusDelivered,
	StatusDeliveryFailed,
	StatusRTOInitiated,
	StatusRTOInTransit,
	StatusRTODelivered,
	StatusCancelled,
	StatusLost,
}

// rank orders the forward lifecycle. Delivered and DeliveryFailed share a
// rank since both are outcomes of an out-for-delivery attempt.
var rank = map[Status]int{
	StatusCreated:        0,
	StatusManifested:     1,
	StatusPickedUp:       2,
	StatusInTransit:      3,
	StatusOutForDelivery: 4,
	StatusDelivered:      5,
	StatusDeliveryFailed: 5,
	StatusRTOInitiated:   6,
	StatusRTOInTransit:   7,
	StatusRTODelivered:   8,
	StatusCancelled:      9,
	StatusLost:           9,
}

// Rank returns the lifecycle position of the status, or -1 if unknown.
func (s Status) Rank() int {
	if r, ok := rank[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether s is a known canonical status.
func (s Status) Valid() bool {
	_, ok := rank[s]
	return ok
}

// IsTerminal reports whether no further transition is allowed out of s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusRTODelivered, StatusCancelled, StatusLost:
		return true
	}
	return false
}

// IsRTO reports whether s belongs to the return-to-origin leg.
func (s Status) IsRTO() bool {
	return s == StatusRTOInitiated || s == StatusRTOInTransit || s == StatusRTODelivered
}

func (s Status) String() string {
	return string(s)
}

// Ptr returns a pointer to a copy of s.
func (s Status) Ptr() *Status {
	return &s
}

// ParseStatus parses a canonical status name, accepting either the
// snake_case wire form or the CamelCase form (e.g., "OutForDelivery").
func ParseStatus(v string) (Status, error) {
	norm := strings.ToLower(strings.TrimSpace(v))
	for _, s := range AllStatuses {
		if string(s) == norm || strings.ReplaceAll(string(s), "_", "") == norm {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown shipment status %q", v)
}
