package courier_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/courier/pkg/courier"
)

func TestStatus_Rank(t *testing.T) {
	assert.Less(t, courier.StatusCreated.Rank(), courier.StatusManifested.Rank())
	assert.Less(t, courier.StatusInTransit.Rank(), courier.StatusOutForDelivery.Rank())
	assert.Equal(t, courier.StatusDelivered.Rank(), courier.StatusDeliveryFailed.Rank())
	assert.Less(t, courier.StatusRTOInitiated.Rank(), courier.StatusRTODelivered.Rank())
	assert.Equal(t, -1, courier.Status("bogus").Rank())
}

func TestStatus_IsTerminal(t *testing.T) {
	terminal := map[courier.Status]bool{
		courier.StatusDelivered:    true,
		courier.StatusRTODelivered: true,
		courier.StatusCancelled:    true,
		courier.StatusLost:         true,
	}
	for _, s := range courier.AllStatuses {
		assert.Equal(t, terminal[s], s.IsTerminal(), s)
	}
}

func TestParseStatus(t *testing.T) {
	tests := map[string]courier.Status{
		"in_transit":     courier.StatusInTransit,
		"OutForDelivery": courier.StatusOutForDelivery,
		" RTO_DELIVERED": courier.StatusRTODelivered,
		"deliveryfailed": courier.StatusDeliveryFailed,
	}
	for in, want := range tests {
		got, err := courier.ParseStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := courier.ParseStatus("shipped")
	assert.Error(t, err)
}

func TestCredentials_RedactsSecrets(t *testing.T) {
	c := courier.Credentials{APIKey: "abcdef123456", Token: "xy", Settings: map[string]string{"login_id": "L1"}}

	s := c.String()
	assert.NotContains(t, s, "abcdef")
	assert.Contains(t, s, "****3456")
	assert.Contains(t, s, "Token:****")
	assert.Equal(t, s, c.GoString())
	assert.Equal(t, "L1", c.Setting("login_id"))
	assert.Empty(t, courier.Credentials{}.Setting("login_id"))
	assert.True(t, courier.Credentials{}.IsZero())
}

func TestTrackingResponse_LatestIgnoresProviderOrder(t *testing.T) {
	tr := trail()

	latest, ok := tr.Latest()
	require.True(t, ok)
	assert.Equal(t, "Out For Delivery", latest.Status)

	chron := tr.Chronological()
	require.Len(t, chron, 3)
	assert.Equal(t, "Manifested", chron[0].Status)
	assert.Equal(t, "Out For Delivery", chron[2].Status)
	assert.Equal(t, "In Transit", tr.Events[0].Status, "Chronological must not reorder the original")

	_, ok = (&courier.TrackingResponse{}).Latest()
	assert.False(t, ok)
}

func trail() *courier.TrackingResponse {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &courier.TrackingResponse{
		AWB: "149",
		Events: []courier.TrackingEvent{
			{Time: base.Add(20 * time.Hour), Status: "In Transit"},
			{Time: base.Add(30 * time.Hour), Status: "Out For Delivery"},
			{Time: base, Status: "Manifested"},
		},
	}
}
