package webhook_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/courier/internal/shipment"
	"github.com/tournevent/courier/internal/store"
	"github.com/tournevent/courier/internal/telemetry"
	"github.com/tournevent/courier/internal/webhook"
	"github.com/tournevent/courier/pkg/courier"
	"github.com/tournevent/courier/pkg/courier/bluedart"
	"github.com/tournevent/courier/pkg/courier/mock"
)

type recorder struct {
	events []*courier.WebhookEvent
	errFor map[string]error
}

func (r *recorder) ApplyWebhook(_ context.Context, ev *courier.WebhookEvent) (shipment.Outcome, error) {
	r.events = append(r.events, ev)
	if err := r.errFor[ev.AWB]; err != nil {
		return shipment.Outcome{}, err
	}
	return shipment.Outcome{Current: *ev.Status, Changed: true}, nil
}

func setup(t *testing.T, secrets map[string]string) (*webhook.Ingestor, *recorder, *telemetry.Metrics) {
	t.Helper()
	registry := courier.NewRegistry()
	registry.Register(mock.New("mockship"))
	registry.Register(bluedart.NewWithAPIClient(bluedart.Config{}, bluedart.NewMockAPIClient(), nil, nil))

	rec := &recorder{errFor: map[string]error{}}
	metrics := telemetry.NewMetricsWith(prometheus.NewRegistry())
	return webhook.NewIngestor(registry, rec, secrets, nil, metrics), rec, metrics
}

func TestIngest_AppliesEvent(t *testing.T) {
	in, rec, metrics := setup(t, nil)

	res := in.Ingest(context.Background(), "mockship", http.Header{}, []byte(`{"awb":"MOCK00000001","status":"in_transit"}`))

	require.True(t, res.Success, res.Message)
	assert.Equal(t, 1, res.Events)
	assert.Equal(t, 1, res.Applied)
	require.Len(t, rec.events, 1)
	assert.Equal(t, courier.StatusInTransit, *rec.events[0].Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WebhooksTotal.WithLabelValues("mockship", "accepted")))
}

func TestIngest_UnmappedStatusIsAccepted(t *testing.T) {
	in, rec, _ := setup(t, nil)

	res := in.Ingest(context.Background(), "mockship", http.Header{}, []byte(`{"awb":"MOCK00000001","status":"teleported"}`))

	require.True(t, res.Success)
	assert.Equal(t, 1, res.Unmapped)
	assert.Empty(t, rec.events)
}

func TestIngest_MalformedPayload(t *testing.T) {
	in, rec, metrics := setup(t, nil)

	res := in.Ingest(context.Background(), "mockship", http.Header{}, []byte(`{not json`))

	assert.False(t, res.Success)
	assert.Equal(t, courier.FailureValidation, res.Kind)
	assert.False(t, res.Retryable())
	assert.Empty(t, rec.events)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WebhooksTotal.WithLabelValues("mockship", "validation")))
}

func TestIngest_UnknownProvider(t *testing.T) {
	in, _, _ := setup(t, nil)

	res := in.Ingest(context.Background(), "ghost", http.Header{}, []byte(`{}`))

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.AsError(), courier.ErrProviderNotFound)
}

func TestIngest_Signature(t *testing.T) {
	body := []byte(`{"awb":"MOCK00000001","status":"delivered"}`)
	in, rec, _ := setup(t, map[string]string{"mockship": "s3cret"})

	res := in.Ingest(context.Background(), "mockship", http.Header{}, body)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.AsError(), webhook.ErrInvalidSignature)

	h := http.Header{}
	h.Set(webhook.SignatureHeader, webhook.Sign("wrong", body))
	res = in.Ingest(context.Background(), "mockship", h, body)
	assert.ErrorIs(t, res.AsError(), webhook.ErrInvalidSignature)
	assert.Empty(t, rec.events)

	h.Set(webhook.SignatureHeader, "sha256="+webhook.Sign("s3cret", body))
	res = in.Ingest(context.Background(), "mockship", h, body)
	require.True(t, res.Success, res.Message)
	assert.Len(t, rec.events, 1)
}

func TestIngest_StaleAndUnknownEventsAreIgnored(t *testing.T) {
	in, rec, _ := setup(t, nil)
	rec.errFor["AWB-OLD"] = &shipment.TransitionError{ShipmentID: "shp-1", From: courier.StatusDelivered, To: courier.StatusInTransit, Reason: shipment.ErrTerminalState}
	rec.errFor["AWB-NEW"] = store.ErrNotFound

	for _, awb := range []string{"AWB-OLD", "AWB-NEW"} {
		res := in.Ingest(context.Background(), "mockship", http.Header{}, []byte(`{"awb":"`+awb+`","status":"in_transit"}`))
		require.True(t, res.Success, res.Message)
		assert.Equal(t, 1, res.Ignored)
		assert.Zero(t, res.Applied)
	}
}

func TestIngest_StoreFailureIsRetryable(t *testing.T) {
	in, rec, _ := setup(t, nil)
	rec.errFor["AWB-1"] = errors.New("connection reset")

	res := in.Ingest(context.Background(), "mockship", http.Header{}, []byte(`{"awb":"AWB-1","status":"in_transit"}`))

	assert.False(t, res.Success)
	assert.True(t, res.Retryable())
	assert.Contains(t, res.Message, "AWB-1")
}

func TestIngest_BatchPayload(t *testing.T) {
	in, rec, _ := setup(t, nil)
	body := []byte(`{"statustracking":[
		{"Shipment":{"WaybillNo":"A1","Scans":{"ScanDetail":[{"ScanCode":"PU","ScanType":"UD","ScanDate":"01-Mar-2026","ScanTime":"10:00"}]}}},
		{"Shipment":{"WaybillNo":"A2","Scans":{"ScanDetail":[{"ScanCode":"QQ","ScanType":"UD","ScanDate":"01-Mar-2026","ScanTime":"11:00"}]}}}
	]}`)

	res := in.Ingest(context.Background(), bluedart.ProviderName, http.Header{}, body)

	require.True(t, res.Success, res.Message)
	assert.Equal(t, 2, res.Events)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 1, res.Unmapped)
	require.Len(t, rec.events, 1)
	assert.Equal(t, "A1", rec.events[0].AWB)
}

func TestVerify(t *testing.T) {
	body := []byte("payload")
	sig := webhook.Sign("k", body)

	assert.True(t, webhook.Verify("k", body, sig))
	assert.False(t, webhook.Verify("k", []byte("other"), sig))
	assert.False(t, webhook.Verify("k", body, "not-hex"))
	assert.False(t, webhook.Verify("k", body, ""))
}
