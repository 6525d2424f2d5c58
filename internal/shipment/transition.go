package shipment

import (
	"errors"
	"fmt"
	"time"

	"github.com/tournevent/courier/pkg/courier"
)

// Event is a canonical status event to apply to a shipment. Unmapped provider
// codes never become Events.
type Event struct {
	Status       courier.Status
	ProviderCode string
	StatusType   string
	Location     string
	Remarks      string
	NDRReason    courier.NDRReason
	OccurredAt   time.Time
	Source       Source
}

// EffectKind names a side effect requested by a transition.
type EffectKind string

const (
	EffectStatusChanged EffectKind = "status_changed"
	EffectRestock       EffectKind = "restock"
	EffectOpenCase      EffectKind = "open_case"
	EffectAppendCase    EffectKind = "append_case"
	EffectFailedAttempt EffectKind = "failed_attempt"
	EffectCloseCase     EffectKind = "close_case"
)

// Effect is a side effect the caller must carry out in the same unit of work
// as the transition.
type Effect struct {
	Kind   EffectKind
	Status courier.Status
	Reason courier.NDRReason
}

// Outcome describes what Apply did.
type Outcome struct {
	Previous  courier.Status
	Current   courier.Status
	Changed   bool
	Duplicate bool
	Effects   []Effect
}

// Has reports whether the outcome requests an effect of kind k.
func (o Outcome) Has(k EffectKind) bool {
	for _, e := range o.Effects {
		if e.Kind == k {
			return true
		}
	}
	return false
}

// Sentinel reasons carried by TransitionError.
var (
	ErrInvalidStatus = errors.New("invalid status")
	ErrTerminalState = errors.New("shipment is in a terminal state")
	ErrRegression    = errors.New("transition regresses the lifecycle")
)

// TransitionError is returned when a transition is rejected. The shipment is
// left untouched.
type TransitionError struct {
	ShipmentID string
	From       courier.Status
	To         courier.Status
	Reason     error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("shipment %s: cannot move from %s to %s: %v", e.ShipmentID, e.From, e.To, e.Reason)
}

func (e *TransitionError) Unwrap() error {
	return e.Reason
}

// backwardEdges lists the only transitions allowed to lower the lifecycle
// rank.
var backwardEdges = map[courier.Status]map[courier.Status]bool{
	courier.StatusDeliveryFailed: {courier.StatusInTransit: true},
}

// CanTransition reports whether from may move to to, and why not.
func CanTransition(from, to courier.Status) error {
	switch {
	case !to.Valid():
		return ErrInvalidStatus
	case from.IsTerminal():
		return ErrTerminalState
	case to == courier.StatusCancelled || to == courier.StatusLost:
		return nil
	case backwardEdges[from][to]:
		return nil
	case to.Rank() < from.Rank():
		return ErrRegression
	}
	return nil
}

// Apply moves the shipment to ev.Status. Repeating the current status is a
// no-op that is still recorded in history. hasOpenCase tells Apply whether the
// shipment already has an open NDR case.
//
// On error the shipment is unchanged.
func (s *Shipment) Apply(ev Event, p Policy, hasOpenCase bool, now time.Time) (Outcome, error) {
	from := s.Status
	out := Outcome{Previous: from, Current: from}
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = now
	}

	entry := HistoryEntry{
		At:           now,
		OccurredAt:   occurred,
		Status:       ev.Status,
		Previous:     from,
		ProviderCode: ev.ProviderCode,
		StatusType:   ev.StatusType,
		Location:     ev.Location,
		Remarks:      ev.Remarks,
		Source:       ev.Source,
	}

	if ev.Status == from {
		out.Duplicate = true
		entry.Note = "duplicate"
		if from == courier.StatusDeliveryFailed && hasOpenCase {
			out.Effects = append(out.Effects, Effect{Kind: EffectAppendCase, Status: from, Reason: ev.NDRReason})
		}
		s.History = append(s.History, entry)
		s.UpdatedAt = now
		return out, nil
	}

	if err := CanTransition(from, ev.Status); err != nil {
		return out, &TransitionError{ShipmentID: s.ID, From: from, To: ev.Status, Reason: err}
	}

	entry.Applied = true
	s.Status = ev.Status
	s.History = append(s.History, entry)
	s.UpdatedAt = now

	out.Current = ev.Status
	out.Changed = true
	out.Effects = append(out.Effects, Effect{Kind: EffectStatusChanged, Status: ev.Status})

	switch ev.Status {
	case courier.StatusDeliveryFailed:
		if hasOpenCase && !p.AllowMultipleOpenCases {
			out.Effects = append(out.Effects,
				Effect{Kind: EffectAppendCase, Status: ev.Status, Reason: ev.NDRReason},
				Effect{Kind: EffectFailedAttempt, Status: ev.Status, Reason: ev.NDRReason})
		} else {
			out.Effects = append(out.Effects, Effect{Kind: EffectOpenCase, Status: ev.Status, Reason: ev.NDRReason.OrOther()})
		}
	case courier.StatusDelivered, courier.StatusRTOInitiated, courier.StatusRTODelivered, courier.StatusCancelled, courier.StatusLost:
		if hasOpenCase {
			out.Effects = append(out.Effects, Effect{Kind: EffectCloseCase, Status: ev.Status})
		}
	}

	if ev.Status.IsRTO() && ev.Status != courier.StatusRTOInTransit && p.RestockOnRTO && !s.Restocked {
		s.Restocked = true
		out.Effects = append(out.Effects, Effect{Kind: EffectRestock, Status: ev.Status})
	}
	return out, nil
}
