package ndr_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/courier/internal/ndr"
	"github.com/tournevent/courier/pkg/courier"
)

var now = time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)

func openCase() *ndr.Case {
	return ndr.Open("ndr-1", "shp-1", "tenant-a", "1490001", "", "consignee not home", 3, now)
}

func TestOpen(t *testing.T) {
	c := openCase()

	assert.Equal(t, ndr.StatusOpen, c.Status)
	assert.Equal(t, courier.ReasonOther, c.Reason)
	assert.True(t, c.IsOpen())
	require.Len(t, c.Log, 1)
	assert.Equal(t, ndr.KindOpened, c.Log[0].Kind)
}

func TestCase_ContactToReattempt(t *testing.T) {
	c := openCase()

	require.NoError(t, c.Assign("agent-7", "lead", now))
	assert.Equal(t, ndr.StatusAssigned, c.Status)

	require.NoError(t, c.LogAction(ndr.Action{Actor: "agent-7", Channel: ndr.ChannelCall, Outcome: "no answer"}, now))
	assert.Equal(t, ndr.StatusAssigned, c.Status, "unsuccessful contact keeps status")

	require.NoError(t, c.LogAction(ndr.Action{Actor: "agent-7", Channel: ndr.ChannelWhatsApp, Outcome: "confirmed", Successful: true}, now))
	assert.Equal(t, ndr.StatusCustomerContacted, c.Status)
	assert.Len(t, c.Actions, 2)

	at := now.Add(24 * time.Hour)
	require.NoError(t, c.ScheduleReattempt(at, "agent-7", "tomorrow 10am", now))
	assert.Equal(t, ndr.StatusReattemptScheduled, c.Status)
	require.NotNil(t, c.NextReattemptAt)

	assert.ErrorIs(t, c.StartReattempt("system", now), ndr.ErrReattemptWindowClosed)
	assert.Equal(t, ndr.StatusReattemptScheduled, c.Status)

	require.NoError(t, c.StartReattempt("system", at))
	assert.Equal(t, ndr.StatusReattemptInProgress, c.Status)

	require.NoError(t, c.Resolve(ndr.StatusDelivered, "system", "", at.Add(time.Hour)))
	assert.False(t, c.IsOpen())
	require.NotNil(t, c.ResolvedAt)
}

func TestCase_ScheduleValidation(t *testing.T) {
	c := openCase()
	logLen := len(c.Log)

	assert.ErrorIs(t, c.ScheduleReattempt(now.Add(time.Hour), "a", "", now), ndr.ErrInvalidTransition)

	require.NoError(t, c.LogAction(ndr.Action{Channel: ndr.ChannelSMS, Successful: true}, now))
	logLen++
	assert.ErrorIs(t, c.ScheduleReattempt(now.Add(-time.Hour), "a", "", now), ndr.ErrInvalidReattemptTime)
	assert.Len(t, c.Log, logLen)
	assert.Nil(t, c.NextReattemptAt)
}

func TestCase_LogActionRejectsUnknownChannel(t *testing.T) {
	c := openCase()
	before := c.Clone()

	err := c.LogAction(ndr.Action{Channel: "pigeon"}, now)

	assert.ErrorIs(t, err, ndr.ErrInvalidChannel)
	assert.Equal(t, before, c)
}

func TestCase_AssignRequiresAgent(t *testing.T) {
	c := openCase()
	assert.ErrorIs(t, c.Assign(" ", "lead", now), ndr.ErrMissingAgent)

	require.NoError(t, c.Assign("agent-1", "lead", now))
	require.NoError(t, c.Assign("agent-2", "lead", now))
	assert.Equal(t, "agent-2", c.AssignedAgent)
	assert.Equal(t, ndr.StatusAssigned, c.Status)
}

func TestCase_FailedAttemptsEscalateAtThreshold(t *testing.T) {
	c := openCase()
	require.NoError(t, c.Assign("agent-7", "lead", now))

	for i := 1; i <= 2; i++ {
		escalated, err := c.RecordFailedAttempt("system", "", now)
		require.NoError(t, err)
		assert.False(t, escalated)
		assert.Equal(t, ndr.StatusAssigned, c.Status)
	}

	escalated, err := c.RecordFailedAttempt("system", "", now)
	require.NoError(t, err)
	assert.True(t, escalated)
	assert.Equal(t, ndr.StatusEscalated, c.Status)
	assert.Equal(t, 3, c.FailedAttempts)

	err = c.SetStatus(ndr.StatusOpen, "agent-7", "", now)
	assert.ErrorIs(t, err, ndr.ErrCannotDeescalate)
	assert.Equal(t, ndr.StatusEscalated, c.Status)

	escalated, err = c.RecordFailedAttempt("system", "", now)
	require.NoError(t, err)
	assert.False(t, escalated, "already escalated")
	assert.Equal(t, ndr.StatusEscalated, c.Status)
}

func TestCase_FailedAttemptWithoutAgentReturnsToOpen(t *testing.T) {
	c := openCase()
	require.NoError(t, c.LogAction(ndr.Action{Channel: ndr.ChannelCall, Successful: true}, now))
	require.NoError(t, c.ScheduleReattempt(now.Add(time.Hour), "a", "", now))

	_, err := c.RecordFailedAttempt("system", "", now)
	require.NoError(t, err)

	assert.Equal(t, ndr.StatusOpen, c.Status)
	assert.Nil(t, c.NextReattemptAt)
	assert.Equal(t, ndr.StatusOpen, c.Log[len(c.Log)-1].To)
}

func TestCase_ResolvedIsFinal(t *testing.T) {
	c := openCase()
	require.NoError(t, c.Resolve(ndr.StatusClosedRTO, "system", "returned", now))
	before := c.Clone()

	assert.ErrorIs(t, c.SetStatus(ndr.StatusOpen, "agent", "", now), ndr.ErrCannotReopen)
	assert.ErrorIs(t, c.SetStatus(ndr.StatusDelivered, "agent", "", now), ndr.ErrCaseResolved)
	assert.ErrorIs(t, c.Assign("agent", "lead", now), ndr.ErrCaseResolved)
	assert.ErrorIs(t, c.Escalate("agent", "", now), ndr.ErrCaseResolved)
	_, err := c.RecordFailedAttempt("system", "", now)
	assert.ErrorIs(t, err, ndr.ErrCaseResolved)
	assert.Equal(t, before, c)

	c.AppendEvent(courier.StatusRTODelivered, "", "back at warehouse", now)
	assert.Len(t, c.Log, len(before.Log)+1)
	assert.Equal(t, ndr.StatusClosedRTO, c.Status)
}

func TestCase_ResolveRequiresClosingStatus(t *testing.T) {
	c := openCase()

	assert.ErrorIs(t, c.Resolve(ndr.StatusAssigned, "a", "", now), ndr.ErrInvalidTransition)
	assert.Equal(t, ndr.StatusOpen, c.Status)
}

func TestCase_SetStatus(t *testing.T) {
	c := openCase()

	require.NoError(t, c.SetStatus(ndr.StatusCustomerContacted, "agent", "", now))
	assert.Equal(t, ndr.StatusCustomerContacted, c.Status)

	require.NoError(t, c.SetStatus(ndr.StatusClosedAddressUpdated, "agent", "new address", now))
	assert.False(t, c.IsOpen())

	assert.ErrorIs(t, openCase().SetStatus("limbo", "agent", "", now), ndr.ErrUnknownStatus)
}

func TestCase_SetStatusRequiresTargetState(t *testing.T) {
	tests := []struct {
		name   string
		status ndr.Status
		want   error
	}{
		{"assigned without agent", ndr.StatusAssigned, ndr.ErrMissingAgent},
		{"scheduled without time", ndr.StatusReattemptScheduled, ndr.ErrNoReattemptScheduled},
		{"in progress without time", ndr.StatusReattemptInProgress, ndr.ErrNoReattemptScheduled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := openCase()
			before := c.Clone()

			assert.ErrorIs(t, c.SetStatus(tt.status, "agent", "", now), tt.want)
			assert.Equal(t, before, c)
		})
	}
}

func TestCase_SetStatusAfterPreparation(t *testing.T) {
	c := openCase()
	require.NoError(t, c.Assign("agent-7", "lead", now))
	require.NoError(t, c.SetStatus(ndr.StatusCustomerContacted, "agent-7", "", now))
	require.NoError(t, c.SetStatus(ndr.StatusAssigned, "agent-7", "back to queue", now))
	assert.Equal(t, ndr.StatusAssigned, c.Status)

	require.NoError(t, c.SetStatus(ndr.StatusCustomerContacted, "agent-7", "", now))
	at := now.Add(2 * time.Hour)
	require.NoError(t, c.ScheduleReattempt(at, "agent-7", "", now))
	assert.ErrorIs(t, c.SetStatus(ndr.StatusReattemptInProgress, "agent-7", "", now), ndr.ErrReattemptWindowClosed)
	assert.Equal(t, ndr.StatusReattemptScheduled, c.Status)

	require.NoError(t, c.SetStatus(ndr.StatusReattemptInProgress, "agent-7", "", at))
	assert.Equal(t, ndr.StatusReattemptInProgress, c.Status)

	assert.ErrorIs(t, c.SetStatus(ndr.StatusReattemptScheduled, "agent-7", "", at.Add(time.Minute)), ndr.ErrInvalidReattemptTime)

	require.NoError(t, c.SetStatus(ndr.StatusEscalated, "lead", "vip", at))
	assert.Equal(t, ndr.StatusEscalated, c.Status)
	assert.Equal(t, ndr.KindEscalated, c.Log[len(c.Log)-1].Kind)
}

func TestCase_EscalateIsIdempotent(t *testing.T) {
	c := openCase()

	require.NoError(t, c.Escalate("lead", "vip", now))
	n := len(c.Log)
	require.NoError(t, c.Escalate("lead", "vip", now))

	assert.Len(t, c.Log, n)
	assert.Equal(t, ndr.StatusEscalated, c.Status)
}

func TestParseStatus(t *testing.T) {
	st, err := ndr.ParseStatus(" Closed_RTO ")
	require.NoError(t, err)
	assert.Equal(t, ndr.StatusClosedRTO, st)

	_, err = ndr.ParseStatus("gone")
	assert.ErrorIs(t, err, ndr.ErrUnknownStatus)
}
