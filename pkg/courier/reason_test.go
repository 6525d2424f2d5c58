package courier_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tournevent/courier/pkg/courier"
)

func TestReasonFromRemarks(t *testing.T) {
	tests := []struct {
		remarks string
		want    courier.NDRReason
	}{
		{"Customer not available at address", courier.ReasonCustomerUnavailable},
		{"Consignee REFUSED to accept", courier.ReasonRefused},
		{"Incomplete address, landmark missing", courier.ReasonBadAddress},
		{"Customer asked for change of address", courier.ReasonAddressChange},
		{"Customer phone not reachable", courier.ReasonUnreachable},
		{"Office closed on Saturday", courier.ReasonPremisesClosed},
		{"Cash not ready with customer", courier.ReasonCODNotReady},
		{"Heavy rain in area", courier.ReasonWeather},
		{"", courier.ReasonOther},
		{"something unexpected", courier.ReasonOther},
	}

	for _, tt := range tests {
		t.Run(tt.remarks, func(t *testing.T) {
			assert.Equal(t, tt.want, courier.ReasonFromRemarks(tt.remarks))
		})
	}
}

func TestNDRReason_OrOther(t *testing.T) {
	assert.Equal(t, courier.ReasonRefused, courier.ReasonRefused.OrOther())
	assert.Equal(t, courier.ReasonOther, courier.NDRReason("").OrOther())
	assert.Equal(t, courier.ReasonOther, courier.NDRReason("gone fishing").OrOther())
	for _, r := range courier.AllNDRReasons {
		assert.True(t, r.Valid(), r)
	}
}
