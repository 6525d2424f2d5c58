package delhivery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxErrorBody caps how much of a failed response is kept for logging.
const maxErrorBody = 4096

// HTTPAPIClient is the production implementation of APIClient using HTTP.
type HTTPAPIClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *otelzap.Logger
}

// HTTPAPIClientConfig holds configuration for the HTTP client.
type HTTPAPIClientConfig struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 disables limiting
	Burst     int
	Logger    *otelzap.Logger
}

// NewHTTPAPIClient creates a new HTTP-based API client for production use.
func NewHTTPAPIClient(cfg HTTPAPIClientConfig) *HTTPAPIClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = otelzap.New(zap.NewNop())
	}

	return &HTTPAPIClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: limiter,
		logger:  logger,
	}
}

// CheckPincode fetches serviceability for a postal code.
// GET /c/api/pin-codes/json/?filter_codes={pin}
func (c *HTTPAPIClient) CheckPincode(ctx context.Context, token, pin string) (*PincodeResponse, error) {
	q := url.Values{"filter_codes": {pin}}

	var result PincodeResponse
	if err := c.getJSON(ctx, token, "/c/api/pin-codes/json/", q, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetCharges fetches the invoice charge estimate.
// GET /api/kinko/v1/invoice/charges/.json
func (c *HTTPAPIClient) GetCharges(ctx context.Context, token string, req *ChargesRequest) ([]ChargeResponse, error) {
	q := url.Values{
		"md":    {req.Mode},
		"ss":    {"Delivered"},
		"o_pin": {req.OriginPin},
		"d_pin": {req.DestPin},
		"cgm":   {strconv.Itoa(req.WeightGrams)},
		"pt":    {req.PaymentType},
		"cod":   {strconv.FormatFloat(req.CODAmount, 'f', 2, 64)},
	}

	var result []ChargeResponse
	if err := c.getJSON(ctx, token, "/api/kinko/v1/invoice/charges/.json", q, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateShipment manifests shipments.
// POST /api/cmu/create.json with form body format=json&data=<json>
func (c *HTTPAPIClient) CreateShipment(ctx context.Context, token string, req *CreateRequest) (*CreateResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal create request: %w", err)
	}
	form := url.Values{
		"format": {"json"},
		"data":   {string(data)},
	}

	resp, err := c.doRequest(ctx, token, http.MethodPost, "/api/cmu/create.json", nil,
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, c.parseError(ctx, "/api/cmu/create.json", resp)
	}

	var result CreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode create response: %w", err)
	}
	return &result, nil
}

// Track retrieves tracking for a waybill.
// GET /api/v1/packages/json/?waybill={waybill}
func (c *HTTPAPIClient) Track(ctx context.Context, token, waybill string) (*TrackResponse, error) {
	q := url.Values{"waybill": {waybill}}

	var result TrackResponse
	if err := c.getJSON(ctx, token, "/api/v1/packages/json/", q, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Cancel cancels a waybill.
// POST /api/p/edit with {"waybill": "...", "cancellation": "true"}
func (c *HTTPAPIClient) Cancel(ctx context.Context, token, waybill string) (*CancelResponse, error) {
	body, err := json.Marshal(map[string]string{
		"waybill":      waybill,
		"cancellation": "true",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cancel request: %w", err)
	}

	resp, err := c.doRequest(ctx, token, http.MethodPost, "/api/p/edit", nil,
		strings.NewReader(string(body)), "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(ctx, "/api/p/edit", resp)
	}

	var result CancelResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode cancel response: %w", err)
	}
	if result.Waybill == "" {
		result.Waybill = waybill
	}
	return &result, nil
}

// PackingSlip retrieves a label.
// GET /api/p/packing_slip?wbns={waybill}&pdf=true
func (c *HTTPAPIClient) PackingSlip(ctx context.Context, token, waybill string) (*PackingSlipResponse, error) {
	q := url.Values{
		"wbns": {waybill},
		"pdf":  {"true"},
	}

	var result PackingSlipResponse
	if err := c.getJSON(ctx, token, "/api/p/packing_slip", q, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreatePickup registers a pickup request.
// POST /fm/request/new/
func (c *HTTPAPIClient) CreatePickup(ctx context.Context, token string, req *PickupRequest) (*PickupResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal pickup request: %w", err)
	}

	resp, err := c.doRequest(ctx, token, http.MethodPost, "/fm/request/new/", nil,
		strings.NewReader(string(body)), "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, c.parseError(ctx, "/fm/request/new/", resp)
	}

	var result PickupResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode pickup response: %w", err)
	}
	return &result, nil
}

func (c *HTTPAPIClient) getJSON(ctx context.Context, token, path string, q url.Values, out interface{}) error {
	resp, err := c.doRequest(ctx, token, http.MethodGet, path, q, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseError(ctx, path, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// doRequest performs an HTTP request with proper headers and authentication.
func (c *HTTPAPIClient) doRequest(ctx context.Context, token, method, path string, q url.Values, body io.Reader, contentType string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Token "+token) // Delhivery uses a static token header
	req.Header.Set("User-Agent", "tournevent-courier/1.0")

	return c.httpClient.Do(req)
}

// parseError logs the raw body of a failed response and wraps it.
func (c *HTTPAPIClient) parseError(ctx context.Context, path string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	c.logger.Ctx(ctx).Warn("Delhivery API returned non-success status",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.ByteString("body", body),
	)

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}

	var simpleErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
		RMK     string `json:"rmk"`
	}
	if err := json.Unmarshal(body, &simpleErr); err == nil {
		for _, msg := range []string{simpleErr.Error, simpleErr.Message, simpleErr.Detail, simpleErr.RMK} {
			if msg != "" {
				apiErr.Message = msg
				break
			}
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = fmt.Sprintf("delhivery returned HTTP %d", resp.StatusCode)
	}
	return apiErr
}

// Ensure HTTPAPIClient implements APIClient interface
var _ APIClient = (*HTTPAPIClient)(nil)
