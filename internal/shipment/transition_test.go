package shipment_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/courier/internal/shipment"
	"github.com/tournevent/courier/pkg/courier"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newShipment(status courier.Status) *shipment.Shipment {
	s := shipment.New("shp-1", "tenant-a", "acct-1", "delhivery",
		&courier.ShipmentRequest{OrderReference: "ORD-1"}, t0)
	s.Status = status
	return s
}

func ev(status courier.Status) shipment.Event {
	return shipment.Event{Status: status, Source: shipment.SourceWebhook, OccurredAt: t0.Add(time.Hour)}
}

func TestNew(t *testing.T) {
	s := newShipment(courier.StatusCreated)

	assert.Equal(t, courier.StatusCreated, s.Status)
	require.Len(t, s.History, 1)
	assert.True(t, s.History[0].Applied)
	assert.Equal(t, shipment.SourceSystem, s.History[0].Source)
	assert.Equal(t, "ORD-1", s.OrderReference)
}

func TestApply_ForwardPath(t *testing.T) {
	s := newShipment(courier.StatusCreated)
	path := []courier.Status{
		courier.StatusManifested,
		courier.StatusPickedUp,
		courier.StatusInTransit,
		courier.StatusOutForDelivery,
		courier.StatusDelivered,
	}

	for _, st := range path {
		out, err := s.Apply(ev(st), shipment.DefaultPolicy(), false, t0)
		require.NoError(t, err, st)
		assert.True(t, out.Changed)
		assert.True(t, out.Has(shipment.EffectStatusChanged))
	}

	assert.Equal(t, courier.StatusDelivered, s.Status)
	assert.Len(t, s.History, len(path)+1)
}

func TestApply_DuplicateIsRecordedNoOp(t *testing.T) {
	s := newShipment(courier.StatusInTransit)

	out, err := s.Apply(ev(courier.StatusInTransit), shipment.DefaultPolicy(), false, t0)
	require.NoError(t, err)

	assert.True(t, out.Duplicate)
	assert.False(t, out.Changed)
	assert.Empty(t, out.Effects)
	assert.Equal(t, courier.StatusInTransit, s.Status)
	last := s.History[len(s.History)-1]
	assert.False(t, last.Applied)
	assert.Equal(t, "duplicate", last.Note)
}

func TestApply_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		from   courier.Status
		to     courier.Status
		reason error
	}{
		{"delivered is frozen", courier.StatusDelivered, courier.StatusInTransit, shipment.ErrTerminalState},
		{"cancelled is frozen", courier.StatusCancelled, courier.StatusLost, shipment.ErrTerminalState},
		{"rto delivered is frozen", courier.StatusRTODelivered, courier.StatusRTOInTransit, shipment.ErrTerminalState},
		{"out for delivery back to manifested", courier.StatusOutForDelivery, courier.StatusManifested, shipment.ErrRegression},
		{"rto back to in transit", courier.StatusRTOInitiated, courier.StatusInTransit, shipment.ErrRegression},
		{"delivery failed back to picked up", courier.StatusDeliveryFailed, courier.StatusPickedUp, shipment.ErrRegression},
		{"unknown status", courier.StatusInTransit, courier.Status("teleported"), shipment.ErrInvalidStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newShipment(tt.from)
			before := s.Clone()

			_, err := s.Apply(ev(tt.to), shipment.DefaultPolicy(), false, t0)

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.reason)
			var te *shipment.TransitionError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tt.from, te.From)
			assert.Equal(t, tt.to, te.To)
			assert.Equal(t, before, s, "rejected transition must leave the shipment untouched")
		})
	}
}

func TestApply_AllowedEdges(t *testing.T) {
	tests := []struct {
		from courier.Status
		to   courier.Status
	}{
		{courier.StatusDeliveryFailed, courier.StatusInTransit},
		{courier.StatusDeliveryFailed, courier.StatusRTOInitiated},
		{courier.StatusCreated, courier.StatusCancelled},
		{courier.StatusRTOInTransit, courier.StatusLost},
		{courier.StatusCreated, courier.StatusInTransit},
		{courier.StatusRTOInitiated, courier.StatusRTOInTransit},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.NoError(t, shipment.CanTransition(tt.from, tt.to))
		})
	}
}

func TestApply_DeliveryFailedOpensCase(t *testing.T) {
	s := newShipment(courier.StatusOutForDelivery)
	e := ev(courier.StatusDeliveryFailed)

	out, err := s.Apply(e, shipment.DefaultPolicy(), false, t0)
	require.NoError(t, err)

	require.True(t, out.Has(shipment.EffectOpenCase))
	assert.False(t, out.Has(shipment.EffectAppendCase))
	for _, eff := range out.Effects {
		if eff.Kind == shipment.EffectOpenCase {
			assert.Equal(t, courier.ReasonOther, eff.Reason, "missing reason defaults to other")
		}
	}
}

func TestApply_DuplicateDeliveryFailedAppendsOnly(t *testing.T) {
	s := newShipment(courier.StatusDeliveryFailed)

	out, err := s.Apply(ev(courier.StatusDeliveryFailed), shipment.DefaultPolicy(), true, t0)
	require.NoError(t, err)

	assert.True(t, out.Duplicate)
	assert.True(t, out.Has(shipment.EffectAppendCase))
	assert.False(t, out.Has(shipment.EffectOpenCase))
	assert.False(t, out.Has(shipment.EffectFailedAttempt))
}

func TestApply_FailedReattemptCountsAgainstOpenCase(t *testing.T) {
	s := newShipment(courier.StatusOutForDelivery)

	out, err := s.Apply(ev(courier.StatusDeliveryFailed), shipment.DefaultPolicy(), true, t0)
	require.NoError(t, err)

	assert.True(t, out.Has(shipment.EffectAppendCase))
	assert.True(t, out.Has(shipment.EffectFailedAttempt))
	assert.False(t, out.Has(shipment.EffectOpenCase))

	p := shipment.DefaultPolicy()
	p.AllowMultipleOpenCases = true
	s = newShipment(courier.StatusOutForDelivery)
	out, err = s.Apply(ev(courier.StatusDeliveryFailed), p, true, t0)
	require.NoError(t, err)
	assert.True(t, out.Has(shipment.EffectOpenCase))
}

func TestApply_ClosesOpenCase(t *testing.T) {
	for _, to := range []courier.Status{courier.StatusDelivered, courier.StatusRTOInitiated} {
		s := newShipment(courier.StatusDeliveryFailed)
		if to == courier.StatusDelivered {
			s = newShipment(courier.StatusOutForDelivery)
		}

		out, err := s.Apply(ev(to), shipment.DefaultPolicy(), true, t0)
		require.NoError(t, err)
		assert.True(t, out.Has(shipment.EffectCloseCase), to)
	}

	s := newShipment(courier.StatusOutForDelivery)
	out, err := s.Apply(ev(courier.StatusDelivered), shipment.DefaultPolicy(), false, t0)
	require.NoError(t, err)
	assert.False(t, out.Has(shipment.EffectCloseCase))
}

func TestApply_RestockOnceWhenEnabled(t *testing.T) {
	p := shipment.DefaultPolicy()
	p.RestockOnRTO = true
	s := newShipment(courier.StatusDeliveryFailed)

	out, err := s.Apply(ev(courier.StatusRTOInitiated), p, false, t0)
	require.NoError(t, err)
	assert.True(t, out.Has(shipment.EffectRestock))
	assert.True(t, s.Restocked)

	out, err = s.Apply(ev(courier.StatusRTOInTransit), p, false, t0)
	require.NoError(t, err)
	assert.False(t, out.Has(shipment.EffectRestock))

	out, err = s.Apply(ev(courier.StatusRTODelivered), p, false, t0)
	require.NoError(t, err)
	assert.False(t, out.Has(shipment.EffectRestock), "restock fires at most once")
}

func TestApply_NoRestockWhenDisabled(t *testing.T) {
	s := newShipment(courier.StatusRTOInTransit)

	out, err := s.Apply(ev(courier.StatusRTODelivered), shipment.DefaultPolicy(), false, t0)
	require.NoError(t, err)

	assert.False(t, out.Has(shipment.EffectRestock))
	assert.False(t, s.Restocked)
}

func TestShipment_LastEventAtAndClone(t *testing.T) {
	s := newShipment(courier.StatusCreated)
	_, err := s.Apply(ev(courier.StatusManifested), shipment.DefaultPolicy(), false, t0)
	require.NoError(t, err)

	assert.Equal(t, t0.Add(time.Hour), s.LastEventAt())

	c := s.Clone()
	c.History[0].Note = "changed"
	assert.Empty(t, s.History[0].Note)
}

func TestPolicy_MaxAttempts(t *testing.T) {
	assert.Equal(t, shipment.DefaultNDRMaxAttempts, shipment.Policy{}.MaxAttempts())
	assert.Equal(t, 5, shipment.Policy{NDRMaxAttempts: 5}.MaxAttempts())
}
