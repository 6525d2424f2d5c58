// Package mock provides a deterministic courier adapter for testing and local
// development.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tournevent/courier/pkg/courier"
	"github.com/tournevent/courier/pkg/courier/estimate"
)

// Client is a mock courier. AWBs are sequential, and tracking returns
// whatever status was last set with SetStatus.
type Client struct {
	name string

	mu       sync.Mutex
	seq      int
	byOrder  map[string]string
	statuses map[string]courier.Status
	failures map[string]courier.Result
	calls    map[string]int
}

// New creates a new mock courier registered under name.
func New(name string) *Client {
	return &Client{
		name:     name,
		byOrder:  make(map[string]string),
		statuses: make(map[string]courier.Status),
		failures: make(map[string]courier.Result),
		calls:    make(map[string]int),
	}
}

// Provider returns the provider name.
func (c *Client) Provider() string {
	return c.name
}

// FailNext makes the next call to op return res. Op names match the Adapter
// method names.
func (c *Client) FailNext(op string, res courier.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[op] = res
}

// SetStatus sets the status GetTracking reports for awb.
func (c *Client) SetStatus(awb string, s courier.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[awb] = s
}

// Calls returns how many times op has been invoked.
func (c *Client) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *Client) injected(op string) (courier.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[op]++
	res, ok := c.failures[op]
	if ok {
		delete(c.failures, op)
	}
	return res, ok
}

// ValidateCredentials accepts any credentials carrying a secret.
func (c *Client) ValidateCredentials(ctx context.Context, creds courier.Credentials) courier.Result {
	if res, ok := c.injected("ValidateCredentials"); ok {
		return res
	}
	if creds.IsZero() {
		return courier.Failf(courier.FailureValidation, "mock credentials are empty", courier.ErrMissingCredentials)
	}
	return courier.OK()
}

// GetRates returns a surface and an express rate.
func (c *Client) GetRates(ctx context.Context, creds courier.Credentials, req *courier.RateRequest) courier.ResultOf[[]courier.Rate] {
	if res, ok := c.injected("GetRates"); ok {
		return courier.ResultOf[[]courier.Rate]{Result: res}
	}
	if !estimate.ValidPostalCode(req.PickupPostalCode) || !estimate.ValidPostalCode(req.DeliveryPostalCode) {
		return courier.FailOfKind[[]courier.Rate](courier.FailureValidation,
			"pickup and delivery postal codes must be 6 digits", courier.ErrInvalidRequest)
	}

	slabs := estimate.ChargeableWeight(req.WeightKg, req.Dimensions) / estimate.SlabKg
	zone := estimate.ZoneFor(req.PickupPostalCode, req.DeliveryPostalCode)
	cod := 0.0
	if req.COD {
		cod = estimate.CODCharge(req.CODAmount, 30, 1.5)
	}
	now := time.Now()

	rate := func(code, name string, perSlab float64, express bool) courier.Rate {
		days := estimate.TransitDays(zone, express)
		eta := estimate.ExpectedDelivery(now, days)
		freight := estimate.Round2(perSlab * slabs)
		return courier.Rate{
			Provider:         c.name,
			ServiceCode:      code,
			ServiceName:      fmt.Sprintf("%s %s", c.name, name),
			FreightCharge:    freight,
			CODCharge:        cod,
			TotalCharge:      estimate.Round2(freight + cod),
			TransitDays:      days,
			ExpectedDelivery: &eta,
			Express:          express,
		}
	}

	rates := []courier.Rate{rate("EXP", "Express", 60, true)}
	if !req.Express {
		rates = append([]courier.Rate{rate("STD", "Standard", 40, false)}, rates...)
	}
	return courier.OKOf(rates)
}

// CreateShipment returns a sequential AWB. Repeating an order reference
// returns the AWB already issued for it.
func (c *Client) CreateShipment(ctx context.Context, creds courier.Credentials, req *courier.ShipmentRequest) courier.ResultOf[*courier.ShipmentResponse] {
	if res, ok := c.injected("CreateShipment"); ok {
		return courier.ResultOf[*courier.ShipmentResponse]{Result: res}
	}
	if req.OrderReference == "" {
		return courier.FailOfKind[*courier.ShipmentResponse](courier.FailureValidation, "order reference is required", courier.ErrInvalidRequest)
	}

	c.mu.Lock()
	awb, ok := c.byOrder[req.OrderReference]
	if !ok {
		c.seq++
		awb = fmt.Sprintf("MOCK%08d", c.seq)
		c.byOrder[req.OrderReference] = awb
		c.statuses[awb] = courier.StatusManifested
	}
	c.mu.Unlock()

	return courier.OKOf(&courier.ShipmentResponse{
		AWB:                awb,
		ProviderShipmentID: req.OrderReference,
		TrackingURL:        fmt.Sprintf("https://track.%s.mock/%s", c.name, awb),
		Status:             courier.StatusCreated,
	})
}

// GetTracking returns a single event carrying the current mock status.
func (c *Client) GetTracking(ctx context.Context, creds courier.Credentials, awb string) courier.ResultOf[*courier.TrackingResponse] {
	if res, ok := c.injected("GetTracking"); ok {
		return courier.ResultOf[*courier.TrackingResponse]{Result: res}
	}
	c.mu.Lock()
	s, ok := c.statuses[awb]
	c.mu.Unlock()
	if !ok {
		return courier.FailOfKind[*courier.TrackingResponse](courier.FailureBusiness,
			fmt.Sprintf("no tracking entries for %s", awb), courier.ErrNoTracking)
	}

	return courier.OKOf(&courier.TrackingResponse{
		AWB:           awb,
		Events:        []courier.TrackingEvent{{Time: time.Now(), Status: string(s), Location: "Mock Hub"}},
		CurrentStatus: string(s),
		Canonical:     s.Ptr(),
	})
}

// CancelShipment cancels shipments that have not been picked up.
func (c *Client) CancelShipment(ctx context.Context, creds courier.Credentials, awb string) courier.Result {
	if res, ok := c.injected("CancelShipment"); ok {
		return res
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.statuses[awb]
	if !ok {
		return courier.Fail(fmt.Sprintf("unknown awb %s", awb))
	}
	if s.Rank() > courier.StatusManifested.Rank() {
		return courier.Failf(courier.FailureBusiness, fmt.Sprintf("%s is already %s", awb, s), courier.ErrCancellationNotAllowed)
	}
	c.statuses[awb] = courier.StatusCancelled
	return courier.OK()
}

// GetLabel returns a tiny PDF-like document.
func (c *Client) GetLabel(ctx context.Context, creds courier.Credentials, awb string) courier.ResultOf[[]byte] {
	if res, ok := c.injected("GetLabel"); ok {
		return courier.ResultOf[[]byte]{Result: res}
	}
	return courier.OKOf([]byte("%PDF-1.4 mock label " + awb))
}

// SchedulePickup confirms every pickup.
func (c *Client) SchedulePickup(ctx context.Context, creds courier.Credentials, req *courier.PickupRequest) courier.ResultOf[*courier.PickupResponse] {
	if res, ok := c.injected("SchedulePickup"); ok {
		return courier.ResultOf[*courier.PickupResponse]{Result: res}
	}
	return courier.OKOf(&courier.PickupResponse{
		ConfirmationID: fmt.Sprintf("PICKUP-%d", req.Date.Unix()),
		Count:          len(req.AWBs),
		ScheduledFor:   req.Date,
	})
}

// WebhookPayload is the mock courier's push format. Status carries a
// canonical status name.
type WebhookPayload struct {
	AWB        string    `json:"awb"`
	Reference  string    `json:"reference,omitempty"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Location   string    `json:"location,omitempty"`
	Remarks    string    `json:"remarks,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ParseWebhook decodes a WebhookPayload.
func (c *Client) ParseWebhook(body []byte) courier.ResultOf[*courier.WebhookEvent] {
	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil || p.AWB == "" || p.Status == "" {
		return courier.FailOfKind[*courier.WebhookEvent](courier.FailureValidation, "malformed mock webhook", courier.ErrInvalidRequest)
	}
	if p.OccurredAt.IsZero() {
		p.OccurredAt = time.Now()
	}
	ev := &courier.WebhookEvent{
		Provider:     c.name,
		AWB:          p.AWB,
		Reference:    p.Reference,
		ProviderCode: p.Status,
		Status:       c.MapStatus(p.Status, ""),
		Location:     p.Location,
		Remarks:      p.Remarks,
		OccurredAt:   p.OccurredAt,
	}
	if p.Reason != "" {
		ev.NDRReason = courier.NDRReason(p.Reason).OrOther()
	}
	return courier.OKOf(ev)
}

// MapStatus accepts canonical status names.
func (c *Client) MapStatus(code, statusType string) *courier.Status {
	s, err := courier.ParseStatus(code)
	if err != nil {
		return nil
	}
	return s.Ptr()
}

// Ensure Client implements the courier interfaces
var (
	_ courier.Adapter       = (*Client)(nil)
	_ courier.WebhookParser = (*Client)(nil)
	_ courier.StatusMapper  = (*Client)(nil)
)
