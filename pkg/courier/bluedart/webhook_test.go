package bluedart_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/courier/pkg/courier"
	"github.com/tournevent/courier/pkg/courier/bluedart"
)

func TestParseWebhook_PicksNewestScan(t *testing.T) {
	body := []byte(`{"statustracking":[{"Shipment":{
		"WaybillNo":"69700000011","RefNo":"ORD-2001",
		"Scans":{"ScanDetail":[
			{"ScanCode":"OD","ScanType":"UD","Scan":"Out for delivery","ScannedLocation":"ANDHERI","ScanDate":"04-Mar-2026","ScanTime":"09:10"},
			{"ScanCode":"DL","ScanType":"DL","Scan":"Shipment delivered","ScannedLocation":"ANDHERI","ScanDate":"04-Mar-2026","ScanTime":"14:45"},
			{"ScanCode":"IT","ScanType":"UD","Scan":"In transit","ScannedLocation":"MUMBAI HUB","ScanDate":"03-Mar-2026","ScanTime":"22:00"}
		]}}}]}`)

	res := bluedart.ParseWebhook(body)

	require.True(t, res.Success, res.Message)
	ev := res.Value
	assert.Equal(t, "bluedart", ev.Provider)
	assert.Equal(t, "69700000011", ev.AWB)
	assert.Equal(t, "ORD-2001", ev.Reference)
	assert.Equal(t, "DL", ev.ProviderCode)
	require.NotNil(t, ev.Status)
	assert.Equal(t, courier.StatusDelivered, *ev.Status)
	assert.Equal(t, 14, ev.OccurredAt.Hour())
	assert.Equal(t, time.March, ev.OccurredAt.Month())
}

func TestParseWebhook_DeliveryFailedCarriesReason(t *testing.T) {
	body := []byte(`{"statustracking":[{"Shipment":{"WaybillNo":"697","Scans":{"ScanDetail":[
		{"ScanCode":"ND","ScanType":"UD","Scan":"Consignee refused","StatusReasonCode":"REF","ScanDate":"04-Mar-2026","ScanTime":"11:00"}
	]}}}]}`)

	res := bluedart.ParseWebhook(body)

	require.True(t, res.Success)
	require.NotNil(t, res.Value.Status)
	assert.Equal(t, courier.StatusDeliveryFailed, *res.Value.Status)
	assert.Equal(t, courier.ReasonRefused, res.Value.NDRReason)
}

func TestParseWebhookBatch_MultipleShipments(t *testing.T) {
	body := []byte(`{"statustracking":[
		{"Shipment":{"WaybillNo":"A1","Scans":{"ScanDetail":[{"ScanCode":"PU","ScanType":"UD","ScanDate":"01-Mar-2026","ScanTime":"10:00"}]}}},
		{"Shipment":{"WaybillNo":"A2","Scans":{"ScanDetail":[{"ScanCode":"QQ","ScanType":"UD","ScanDate":"01-Mar-2026","ScanTime":"11:00"}]}}}
	]}`)

	res := bluedart.ParseWebhookBatch(body)

	require.True(t, res.Success, res.Message)
	require.Len(t, res.Value, 2)
	assert.Equal(t, "A1", res.Value[0].AWB)
	require.NotNil(t, res.Value[0].Status)
	assert.Equal(t, courier.StatusPickedUp, *res.Value[0].Status)
	assert.Equal(t, "A2", res.Value[1].AWB)
	assert.Nil(t, res.Value[1].Status)
}

func TestParseWebhook_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"not json", "<xml/>"},
		{"no entries", `{"statustracking":[]}`},
		{"no waybill", `{"statustracking":[{"Shipment":{"Scans":{"ScanDetail":[{"ScanCode":"DL"}]}}}]}`},
		{"no scans", `{"statustracking":[{"Shipment":{"WaybillNo":"697"}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := bluedart.ParseWebhook([]byte(tt.body))
			assert.False(t, res.Success)
			assert.Equal(t, courier.FailureValidation, res.Kind)
			assert.ErrorIs(t, res.AsError(), courier.ErrInvalidRequest)
		})
	}
}

func TestParseWebhookBatch_EveryScanOldestFirst(t *testing.T) {
	body := []byte(`{"statustracking":[{"Shipment":{"WaybillNo":"69700000012","Scans":{"ScanDetail":[
		{"ScanCode":"ND","ScanType":"UD","Scan":"Consignee not available","StatusReasonCode":"CNA","ScanDate":"05-Mar-2026","ScanTime":"13:20"},
		{"ScanCode":"OD","ScanType":"UD","Scan":"Out for delivery","ScanDate":"05-Mar-2026","ScanTime":"08:30"},
		{"ScanCode":"IT","ScanType":"UD","Scan":"In transit","ScanDate":"04-Mar-2026","ScanTime":"21:00"},
		{"ScanCode":"PU","ScanType":"UD","Scan":"Picked up","ScanDate":"04-Mar-2026","ScanTime":"11:00"}
	]}}}]}`)

	res := bluedart.ParseWebhookBatch(body)

	require.True(t, res.Success, res.Message)
	require.Len(t, res.Value, 4)
	var codes []string
	for i, ev := range res.Value {
		codes = append(codes, ev.ProviderCode)
		assert.Equal(t, "69700000012", ev.AWB)
		if i > 0 {
			assert.True(t, ev.OccurredAt.After(res.Value[i-1].OccurredAt))
		}
	}
	assert.Equal(t, []string{"PU", "IT", "OD", "ND"}, codes)
	assert.Equal(t, courier.ReasonCustomerUnavailable, res.Value[3].NDRReason)

	single := bluedart.ParseWebhook(body)
	require.True(t, single.Success)
	assert.Equal(t, "ND", single.Value.ProviderCode)
}

func TestParseWebhookBatch_UnparsedTimesKeepPayloadOrder(t *testing.T) {
	body := []byte(`{"statustracking":[{"Shipment":{"WaybillNo":"697","Scans":{"ScanDetail":[
		{"ScanCode":"IT","ScanType":"UD","ScanDate":"05-Mar-2026","ScanTime":"10:00"},
		{"ScanCode":"OD","ScanType":"UD","ScanDate":"someday"},
		{"ScanCode":"PU","ScanType":"UD","ScanDate":"04-Mar-2026","ScanTime":"10:00"}
	]}}}]}`)

	res := bluedart.ParseWebhookBatch(body)

	require.True(t, res.Success, res.Message)
	require.Len(t, res.Value, 3)
	assert.Equal(t, "IT", res.Value[0].ProviderCode)
	assert.Equal(t, "OD", res.Value[1].ProviderCode)
	assert.Equal(t, "PU", res.Value[2].ProviderCode)
	assert.False(t, res.Value[1].OccurredAt.IsZero())
}
