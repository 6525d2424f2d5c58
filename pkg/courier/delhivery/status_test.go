package delhivery_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/courier/pkg/courier"
	"github.com/tournevent/courier/pkg/courier/delhivery"
)

func TestMapStatus_DocumentedPairs(t *testing.T) {
	tests := []struct {
		status     string
		statusType string
		want       courier.Status
	}{
		{"Order Placed", "UD", courier.StatusManifested},
		{"Manifested", "UD", courier.StatusManifested},
		{"Pending Pickup", "PP", courier.StatusManifested},
		{"Dispatched", "UD", courier.StatusManifested},
		{"First Mile", "UD", courier.StatusManifested},
		{"Not Picked", "PP", courier.StatusManifested},
		{"Open", "UD", courier.StatusManifested},
		{"Scheduled", "PP", courier.StatusManifested},
		{"Picked Up", "PU", courier.StatusPickedUp},
		{"In Transit", "UD", courier.StatusInTransit},
		{"Pending", "UD", courier.StatusInTransit},
		{"Reached At Destination", "UD", courier.StatusInTransit},
		{"Out For Delivery", "UD", courier.StatusOutForDelivery},
		{"Undelivered", "UD", courier.StatusDeliveryFailed},
		{"Delivery Failed", "UD", courier.StatusDeliveryFailed},
		{"Not Delivered", "UD", courier.StatusDeliveryFailed},
		{"Delivered", "DL", courier.StatusDelivered},
		{"RTO Delivered", "DL", courier.StatusRTODelivered},
		{"RTO", "DL", courier.StatusRTODelivered},
		{"Returned", "DL", courier.StatusRTODelivered},
		{"RTO Initiated", "RT", courier.StatusRTOInitiated},
		{"RTO", "RT", courier.StatusRTOInitiated},
		{"Returned", "RT", courier.StatusRTOInitiated},
		{"In Transit", "RT", courier.StatusRTOInTransit},
		{"Pending", "RT", courier.StatusRTOInTransit},
		{"Dispatched", "RT", courier.StatusRTOInTransit},
		{"RTO Delivered", "RT", courier.StatusRTODelivered},
		{"Delivered", "RT", courier.StatusRTODelivered},
		{"Cancelled", "CN", courier.StatusCancelled},
		{"Canceled", "CN", courier.StatusCancelled},
		{"Closed", "CN", courier.StatusCancelled},
		{"Lost", "LT", courier.StatusLost},
		{"Cancelled", "UD", courier.StatusCancelled},
		{"Lost", "UD", courier.StatusLost},
		{"In Transit", "", courier.StatusInTransit},
	}

	for _, tt := range tests {
		t.Run(tt.statusType+"/"+tt.status, func(t *testing.T) {
			got := delhivery.MapStatus(tt.status, tt.statusType)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestMapStatus_NormalizesCaseAndSpacing(t *testing.T) {
	got := delhivery.MapStatus("  out   FOR delivery ", "ud")
	require.NotNil(t, got)
	assert.Equal(t, courier.StatusOutForDelivery, *got)
}

func TestMapStatus_UnknownReturnsNil(t *testing.T) {
	tests := []struct {
		status     string
		statusType string
	}{
		{"Teleported", "UD"},
		{"In Transit", "XX"},
		{"Picked Up", "RT"},
		{"Out For Delivery", "DL"},
		{"", "UD"},
		{"Delivered", "LT"},
	}

	for _, tt := range tests {
		assert.Nil(t, delhivery.MapStatus(tt.status, tt.statusType), "%s/%s", tt.statusType, tt.status)
	}
}

func TestMapNDRReason(t *testing.T) {
	assert.Equal(t, courier.ReasonCustomerUnavailable, delhivery.MapNDRReason("EOD-11", ""))
	assert.Equal(t, courier.ReasonRefused, delhivery.MapNDRReason("eod-6", ""))
	assert.Equal(t, courier.ReasonBadAddress, delhivery.MapNDRReason("", "Incomplete address, landmark missing"))
	assert.Equal(t, courier.ReasonOther, delhivery.MapNDRReason("EOD-999", "no remark"))
}
