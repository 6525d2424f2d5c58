package delhivery_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/courier/pkg/courier"
	"github.com/tournevent/courier/pkg/courier/delhivery"
)

func TestParseWebhook_Delivered(t *testing.T) {
	body := []byte(`{
		"Shipment": {
			"AWB": "1490000000012",
			"ReferenceNo": "ORD-1001",
			"Status": {
				"Status": "Delivered",
				"StatusType": "DL",
				"StatusLocation": "Andheri_DC (Maharashtra)",
				"StatusDateTime": "2026-03-04T15:20:11",
				"Instructions": "Delivered to consignee"
			}
		}
	}`)

	res := delhivery.ParseWebhook(body)

	require.True(t, res.Success, res.Message)
	ev := res.Value
	assert.Equal(t, "delhivery", ev.Provider)
	assert.Equal(t, "1490000000012", ev.AWB)
	assert.Equal(t, "ORD-1001", ev.Reference)
	assert.Equal(t, "Delivered", ev.ProviderCode)
	require.NotNil(t, ev.Status)
	assert.Equal(t, courier.StatusDelivered, *ev.Status)
	assert.Empty(t, ev.NDRReason)
	assert.Equal(t, 2026, ev.OccurredAt.Year())
}

func TestParseWebhook_DeliveryFailedCarriesReason(t *testing.T) {
	body := []byte(`{"Shipment":{"AWB":"149","ReferenceNo":"ORD-7","NSLCode":"EOD-6",
		"Status":{"Status":"Undelivered","StatusType":"UD","StatusDateTime":"2026-03-04T10:00:00"}}}`)

	res := delhivery.ParseWebhook(body)

	require.True(t, res.Success)
	require.NotNil(t, res.Value.Status)
	assert.Equal(t, courier.StatusDeliveryFailed, *res.Value.Status)
	assert.Equal(t, courier.ReasonRefused, res.Value.NDRReason)
}

func TestParseWebhook_UnknownStatusParsesWithNilStatus(t *testing.T) {
	body := []byte(`{"Shipment":{"AWB":"149","Status":{"Status":"Held At Customs","StatusType":"UD"}}}`)

	res := delhivery.ParseWebhook(body)

	require.True(t, res.Success)
	assert.Nil(t, res.Value.Status)
	assert.Equal(t, "Held At Customs", res.Value.ProviderCode)
}

func TestParseWebhook_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"not json", "<xml/>"},
		{"no shipment", `{"foo":1}`},
		{"no awb", `{"Shipment":{"Status":{"Status":"Delivered","StatusType":"DL"}}}`},
		{"no status", `{"Shipment":{"AWB":"149"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := delhivery.ParseWebhook([]byte(tt.body))
			assert.False(t, res.Success)
			assert.Equal(t, courier.FailureValidation, res.Kind)
			assert.NotEmpty(t, res.Message)
			assert.Nil(t, res.Value)
		})
	}
}
