package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/courier/internal/config"
	"github.com/tournevent/courier/internal/lifecycle"
	"github.com/tournevent/courier/internal/server"
	"github.com/tournevent/courier/internal/store"
	"github.com/tournevent/courier/internal/telemetry"
	"github.com/tournevent/courier/internal/webhook"
	"github.com/tournevent/courier/pkg/courier"
	"github.com/tournevent/courier/pkg/courier/mock"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const accounts = `
tenants:
  tenant-a:
    policy:
      ndr_max_attempts: 2
accounts:
  - id: acct-mock
    tenant: tenant-a
    provider: mockship
    token: tok
`

const secret = "hook-secret"

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := otelzap.New(zap.NewNop())
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetricsWith(reg)

	registry := courier.NewRegistry()
	registry.Register(mock.New("mockship"))
	dir, err := config.ParseAccounts([]byte(accounts))
	require.NoError(t, err)

	svc := lifecycle.New(store.NewMemory(), registry, dir, logger, lifecycle.WithMetrics(metrics))
	ingestor := webhook.NewIngestor(registry, svc, map[string]string{"mockship": secret}, logger, metrics)
	srv := server.New(server.Config{Port: 8080, MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}, svc, ingestor, logger)
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func webhookCall(t *testing.T, h http.Handler, awb, status, sig string) *httptest.ResponseRecorder {
	t.Helper()
	body := []byte(`{"awb":"` + awb + `","status":"` + status + `","occurred_at":"` + time.Now().UTC().Format(time.RFC3339Nano) + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/mockship", bytes.NewReader(body))
	if sig == "" {
		sig = webhook.Sign(secret, body)
	}
	req.Header.Set(webhook.SignatureHeader, sig)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var createBody = map[string]any{
	"account_id":      "acct-mock",
	"order_reference": "ORD-1",
	"pickup":          map[string]any{"name": "Seller", "phone": "9820000000", "line1": "12 Saki Vihar Road", "postal_code": "400072"},
	"delivery":        map[string]any{"name": "Buyer", "phone": "9810000000", "line1": "44 MG Road", "postal_code": "110001"},
	"weight_kg":       2.5,
	"cod":             true,
	"cod_amount":      1500,
}

func createShipment(t *testing.T, h http.Handler) (id, awb string) {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/v1/shipments", createBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sh := decode(t, rec)["shipment"].(map[string]any)
	return sh["id"].(string), sh["awb"].(string)
}

func TestServer_Health(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestServer_Metrics(t *testing.T) {
	h := newTestServer(t)
	createShipment(t, h)

	rec := do(t, h, http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "courier_requests_total")
}

func TestServer_CreateShipment(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/v1/shipments", createBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode(t, rec)
	sh := first["shipment"].(map[string]any)
	assert.Equal(t, "created", sh["status"])
	assert.NotEmpty(t, sh["awb"])

	rec = do(t, h, http.MethodPost, "/v1/shipments", createBody)
	assert.Equal(t, http.StatusOK, rec.Code)
	again := decode(t, rec)
	assert.Equal(t, false, again["created"])
	assert.Equal(t, sh["id"], again["shipment"].(map[string]any)["id"])
}

func TestServer_CreateShipmentValidation(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/v1/shipments", map[string]any{"account_id": "acct-mock"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := map[string]any{}
	for k, v := range createBody {
		body[k] = v
	}
	body["account_id"] = "nope"
	rec = do(t, h, http.MethodPost, "/v1/shipments", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetShipmentNotFound(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/v1/shipments/missing", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Rates(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/v1/rates", map[string]any{
		"account_id":           "acct-mock",
		"weight_kg":            1,
		"pickup_postal_code":   "400072",
		"delivery_postal_code": "110001",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode(t, rec)["rates"], 2)

	rec = do(t, h, http.MethodPost, "/v1/rates", map[string]any{
		"tenant_id":            "tenant-a",
		"weight_kg":            1,
		"pickup_postal_code":   "400072",
		"delivery_postal_code": "110001",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["rates"], 2)

	rec = do(t, h, http.MethodPost, "/v1/rates", map[string]any{
		"account_id":           "acct-mock",
		"weight_kg":            1,
		"pickup_postal_code":   "4000",
		"delivery_postal_code": "110001",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", decode(t, rec)["kind"])
}

func TestServer_WebhookDrivesLifecycle(t *testing.T) {
	h := newTestServer(t)
	id, awb := createShipment(t, h)

	for _, st := range []string{"picked_up", "in_transit", "out_for_delivery", "delivery_failed"} {
		rec := webhookCall(t, h, awb, st, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := do(t, h, http.MethodGet, "/v1/shipments/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "delivery_failed", decode(t, rec)["shipment"].(map[string]any)["status"])

	rec = do(t, h, http.MethodGet, "/v1/ndr?open=true&shipment_id="+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cases := decode(t, rec)["cases"].([]any)
	require.Len(t, cases, 1)
	caseID := cases[0].(map[string]any)["id"].(string)

	rec = do(t, h, http.MethodPost, "/v1/ndr/"+caseID+"/assign", map[string]any{"agent": "agent-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "assigned", decode(t, rec)["case"].(map[string]any)["status"])

	for i := 0; i < 2; i++ {
		rec = do(t, h, http.MethodPost, "/v1/ndr/"+caseID+"/failed-attempt", map[string]any{"actor": "agent-1"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	assert.Equal(t, "escalated", decode(t, rec)["case"].(map[string]any)["status"])

	rec = do(t, h, http.MethodPost, "/v1/ndr/"+caseID+"/status", map[string]any{"status": "open"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/ndr/"+caseID+"/resolve", map[string]any{"status": "closed_rto", "actor": "lead"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "closed_rto", decode(t, rec)["case"].(map[string]any)["status"])
}

func TestServer_WebhookRejections(t *testing.T) {
	h := newTestServer(t)
	_, awb := createShipment(t, h)

	rec := webhookCall(t, h, awb, "in_transit", strings.Repeat("0", 64))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/ghost", strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body := []byte(`{broken`)
	req = httptest.NewRequest(http.MethodPost, "/webhooks/mockship", bytes.NewReader(body))
	req.Header.Set(webhook.SignatureHeader, webhook.Sign(secret, body))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_StaleWebhookIsAccepted(t *testing.T) {
	h := newTestServer(t)
	id, awb := createShipment(t, h)
	require.Equal(t, http.StatusOK, webhookCall(t, h, awb, "out_for_delivery", "").Code)
	require.Equal(t, http.StatusOK, webhookCall(t, h, awb, "delivered", "").Code)

	rec := webhookCall(t, h, awb, "in_transit", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["ignored"])
	rec = do(t, h, http.MethodGet, "/v1/shipments/"+id, nil)
	assert.Equal(t, "delivered", decode(t, rec)["shipment"].(map[string]any)["status"])
}

func TestServer_ManualStatusRegression(t *testing.T) {
	h := newTestServer(t)
	id, _ := createShipment(t, h)

	rec := do(t, h, http.MethodPost, "/v1/shipments/"+id+"/status", map[string]any{"status": "in_transit"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["changed"])

	rec = do(t, h, http.MethodPost, "/v1/shipments/"+id+"/status", map[string]any{"status": "picked_up"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/shipments/"+id+"/status", map[string]any{"status": "teleported"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_CancelAndLabel(t *testing.T) {
	h := newTestServer(t)
	id, awb := createShipment(t, h)

	rec := do(t, h, http.MethodGet, "/v1/shipments/"+id+"/label", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), awb)

	rec = do(t, h, http.MethodPost, "/v1/shipments/"+id+"/cancel", map[string]any{"actor": "ops"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", decode(t, rec)["shipment"].(map[string]any)["status"])

	rec = do(t, h, http.MethodPost, "/v1/shipments/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_SyncAndTracking(t *testing.T) {
	h := newTestServer(t)
	id, _ := createShipment(t, h)

	rec := do(t, h, http.MethodGet, "/v1/shipments/"+id+"/tracking", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "manifested", decode(t, rec)["tracking"].(map[string]any)["current_status"])

	rec = do(t, h, http.MethodPost, "/v1/shipments/"+id+"/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Equal(t, float64(1), out["applied"])
	assert.Equal(t, "manifested", out["status"])
}

func TestServer_Pickup(t *testing.T) {
	h := newTestServer(t)
	_, awb := createShipment(t, h)

	rec := do(t, h, http.MethodPost, "/v1/pickups", map[string]any{
		"account_id": "acct-mock",
		"awbs":       []string{awb},
		"date":       time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1), decode(t, rec)["count"])
}
