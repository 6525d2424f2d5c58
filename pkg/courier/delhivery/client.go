// Package delhivery provides integration with the Delhivery B2C REST API.
package delhivery

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/tournevent/courier/pkg/courier"
	"github.com/tournevent/courier/pkg/courier/estimate"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// ProviderName identifies Delhivery accounts and webhooks.
const ProviderName = "delhivery"

// Credential settings read by the adapter.
const (
	SettingPickupLocation = "pickup_location" // registered warehouse name
	SettingProbePin       = "probe_pin"       // postal code used by ValidateCredentials
	SettingReturnPin      = "return_pin"
)

const defaultProbePin = "110001"

const trackingURLFormat = "https://www.delhivery.com/track/package/%s"

// Config holds Delhivery configuration.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64
	UseMock   bool // When true, uses mock API client
}

// Client is the Delhivery courier adapter.
// It implements courier.Adapter and courier.WebhookParser and delegates
// wire calls to the underlying APIClient (mock or HTTP).
type Client struct {
	config    Config
	apiClient APIClient
	logger    *otelzap.Logger
	tracer    trace.Tracer
}

// New creates a new Delhivery client.
// If cfg.UseMock is true, it uses a mock API client.
func New(cfg Config, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	var apiClient APIClient

	if cfg.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://track.delhivery.com"
		}
		apiClient = NewHTTPAPIClient(HTTPAPIClientConfig{
			BaseURL:   baseURL,
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
			Logger:    logger,
		})
	}

	return NewWithAPIClient(cfg, apiClient, logger, tracer)
}

// NewWithAPIClient creates a new Delhivery client with a custom API client.
// This is useful for injecting mock clients in tests.
func NewWithAPIClient(cfg Config, apiClient APIClient, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	if logger == nil {
		logger = otelzap.New(zap.NewNop())
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer(ProviderName)
	}
	return &Client{
		config:    cfg,
		apiClient: apiClient,
		logger:    logger,
		tracer:    tracer,
	}
}

// Provider returns the provider name.
func (c *Client) Provider() string {
	return ProviderName
}

// MapStatus implements courier.StatusMapper.
func (c *Client) MapStatus(code, statusType string) *courier.Status {
	return MapStatus(code, statusType)
}

// ValidateCredentials checks the token with a serviceability lookup.
func (c *Client) ValidateCredentials(ctx context.Context, creds courier.Credentials) courier.Result {
	ctx, span := c.tracer.Start(ctx, "delhivery.ValidateCredentials")
	defer span.End()

	token, res := tokenFrom(creds)
	if !res.Success {
		return res
	}

	pin := creds.Setting(SettingProbePin)
	if pin == "" {
		pin = defaultProbePin
	}
	if _, err := c.apiClient.CheckPincode(ctx, token, pin); err != nil {
		return c.failure(ctx, span, "validate credentials", err)
	}
	return courier.OK()
}

// GetRates returns surface and express estimates for a route.
func (c *Client) GetRates(ctx context.Context, creds courier.Credentials, req *courier.RateRequest) courier.ResultOf[[]courier.Rate] {
	ctx, span := c.tracer.Start(ctx, "delhivery.GetRates", trace.WithAttributes(
		attribute.String("pickup_pin", req.PickupPostalCode),
		attribute.String("delivery_pin", req.DeliveryPostalCode),
	))
	defer span.End()

	c.logger.Ctx(ctx).Info("Getting Delhivery rates",
		zap.String("pickup_pin", req.PickupPostalCode),
		zap.String("delivery_pin", req.DeliveryPostalCode),
		zap.Float64("weight_kg", req.WeightKg),
		zap.Bool("cod", req.COD),
	)

	token, res := tokenFrom(creds)
	if !res.Success {
		return courier.ResultOf[[]courier.Rate]{Result: res}
	}
	if !estimate.ValidPostalCode(req.PickupPostalCode) || !estimate.ValidPostalCode(req.DeliveryPostalCode) {
		return courier.FailOfKind[[]courier.Rate](courier.FailureValidation,
			"pickup and delivery postal codes must be 6 digits", courier.ErrInvalidRequest)
	}

	origin, r := c.serviceability(ctx, span, token, req.PickupPostalCode)
	if !r.Success {
		return courier.ResultOf[[]courier.Rate]{Result: r}
	}
	if origin == nil || !yes(origin.Pickup) {
		return courier.FailOfKind[[]courier.Rate](courier.FailureBusiness,
			fmt.Sprintf("pickup postal code %s is not serviceable", req.PickupPostalCode), courier.ErrUnserviceable)
	}

	dest, r := c.serviceability(ctx, span, token, req.DeliveryPostalCode)
	if !r.Success {
		return courier.ResultOf[[]courier.Rate]{Result: r}
	}
	if dest == nil || !(yes(dest.PrePaid) || yes(dest.COD)) {
		return courier.FailOfKind[[]courier.Rate](courier.FailureBusiness,
			fmt.Sprintf("delivery postal code %s is not serviceable", req.DeliveryPostalCode), courier.ErrUnserviceable)
	}
	if req.COD && !yes(dest.COD) {
		return courier.FailOfKind[[]courier.Rate](courier.FailureBusiness,
			fmt.Sprintf("cash on delivery is not available for postal code %s", req.DeliveryPostalCode), courier.ErrCODUnsupported)
	}

	chargeable := estimate.ChargeableWeight(req.WeightKg, req.Dimensions)
	zone := estimate.ZoneFor(req.PickupPostalCode, req.DeliveryPostalCode)
	paymentType := "Pre-paid"
	if req.COD {
		paymentType = "COD"
	}

	modes := []serviceMode{surface, express}
	if req.Express {
		modes = []serviceMode{express}
	}

	now := time.Now()
	rates := make([]courier.Rate, 0, len(modes))
	for _, m := range modes {
		charges, err := c.apiClient.GetCharges(ctx, token, &ChargesRequest{
			Mode:        m.code,
			OriginPin:   req.PickupPostalCode,
			DestPin:     req.DeliveryPostalCode,
			WeightGrams: int(math.Round(chargeable * 1000)),
			PaymentType: paymentType,
			CODAmount:   req.CODAmount,
		})
		if err != nil {
			return courier.FromErrorOf[[]courier.Rate](c.wrapError(ctx, span, "get charges", err))
		}
		if len(charges) == 0 {
			continue
		}
		rates = append(rates, chargeToRate(charges[0], m, zone, now))
	}

	if len(rates) == 0 {
		return courier.FailOfKind[[]courier.Rate](courier.FailureBusiness,
			fmt.Sprintf("no delhivery service between %s and %s", req.PickupPostalCode, req.DeliveryPostalCode), courier.ErrUnserviceable)
	}
	return courier.OKOf(rates)
}

// CreateShipment manifests a shipment and returns its waybill.
func (c *Client) CreateShipment(ctx context.Context, creds courier.Credentials, req *courier.ShipmentRequest) courier.ResultOf[*courier.ShipmentResponse] {
	ctx, span := c.tracer.Start(ctx, "delhivery.CreateShipment", trace.WithAttributes(
		attribute.String("order_reference", req.OrderReference),
	))
	defer span.End()

	c.logger.Ctx(ctx).Info("Creating Delhivery shipment",
		zap.String("order_reference", req.OrderReference),
		zap.String("delivery_pin", req.Delivery.PostalCode),
		zap.String("payment_mode", string(req.PaymentMode())),
	)

	token, res := tokenFrom(creds)
	if !res.Success {
		return courier.ResultOf[*courier.ShipmentResponse]{Result: res}
	}
	if req.OrderReference == "" {
		return courier.FailOfKind[*courier.ShipmentResponse](courier.FailureValidation, "order reference is required", courier.ErrInvalidRequest)
	}

	pickupLocation := req.PickupLocation
	if pickupLocation == "" {
		pickupLocation = creds.Setting(SettingPickupLocation)
	}
	if pickupLocation == "" {
		return courier.FailOfKind[*courier.ShipmentResponse](courier.FailureValidation,
			"delhivery pickup location is not configured", courier.ErrMissingCredentials)
	}

	apiResp, err := c.apiClient.CreateShipment(ctx, token, &CreateRequest{
		Shipments:      []Shipment{shipmentToAPI(req, creds)},
		PickupLocation: PickupLocation{Name: pickupLocation},
	})
	if err != nil {
		return courier.FromErrorOf[*courier.ShipmentResponse](c.wrapError(ctx, span, "create shipment", err))
	}

	for _, p := range apiResp.Packages {
		if p.Waybill != "" && !strings.EqualFold(p.Status, "Fail") {
			return courier.OKOf(&courier.ShipmentResponse{
				AWB:                p.Waybill,
				ProviderShipmentID: apiResp.UploadWBN,
				TrackingURL:        fmt.Sprintf(trackingURLFormat, p.Waybill),
				Status:             courier.StatusCreated,
			})
		}
	}

	msg := providerMessage(apiResp)
	c.logger.Ctx(ctx).Warn("Delhivery returned no waybill",
		zap.String("order_reference", req.OrderReference),
		zap.String("remark", msg),
	)
	span.SetStatus(codes.Error, "no waybill")
	if msg == "" {
		msg = "delhivery accepted the request but returned no waybill"
	}
	return courier.FailOfKind[*courier.ShipmentResponse](courier.FailureBusiness, msg, courier.ErrNoAWB)
}

// GetTracking returns the scan trail for a waybill.
func (c *Client) GetTracking(ctx context.Context, creds courier.Credentials, awb string) courier.ResultOf[*courier.TrackingResponse] {
	ctx, span := c.tracer.Start(ctx, "delhivery.GetTracking", trace.WithAttributes(attribute.String("awb", awb)))
	defer span.End()

	token, res := tokenFrom(creds)
	if !res.Success {
		return courier.ResultOf[*courier.TrackingResponse]{Result: res}
	}

	apiResp, err := c.apiClient.Track(ctx, token, awb)
	if err != nil {
		return courier.FromErrorOf[*courier.TrackingResponse](c.wrapError(ctx, span, "track", err))
	}
	if len(apiResp.ShipmentData) == 0 {
		msg := apiResp.Error
		if msg == "" {
			msg = fmt.Sprintf("no tracking entries for %s", awb)
		}
		return courier.FailOfKind[*courier.TrackingResponse](courier.FailureBusiness, msg, courier.ErrNoTracking)
	}

	tr := trackingToCanonical(apiResp.ShipmentData[0].Shipment, awb)
	if len(tr.Events) == 0 {
		return courier.FailOfKind[*courier.TrackingResponse](courier.FailureBusiness,
			fmt.Sprintf("no tracking entries for %s", awb), courier.ErrNoTracking)
	}
	return courier.OKOf(tr)
}

// CancelShipment cancels a manifested waybill.
func (c *Client) CancelShipment(ctx context.Context, creds courier.Credentials, awb string) courier.Result {
	ctx, span := c.tracer.Start(ctx, "delhivery.CancelShipment", trace.WithAttributes(attribute.String("awb", awb)))
	defer span.End()

	c.logger.Ctx(ctx).Info("Cancelling Delhivery shipment", zap.String("awb", awb))

	token, res := tokenFrom(creds)
	if !res.Success {
		return res
	}

	apiResp, err := c.apiClient.Cancel(ctx, token, awb)
	if err != nil {
		return courier.FromError(c.wrapError(ctx, span, "cancel", err))
	}
	if !apiResp.Status {
		msg := apiResp.Error
		if msg == "" {
			msg = apiResp.Remark
		}
		if msg == "" {
			msg = fmt.Sprintf("delhivery refused to cancel %s", awb)
		}
		return courier.Failf(courier.FailureBusiness, msg, courier.ErrCancellationNotAllowed)
	}
	return courier.OK()
}

// GetLabel returns the PDF packing slip.
func (c *Client) GetLabel(ctx context.Context, creds courier.Credentials, awb string) courier.ResultOf[[]byte] {
	ctx, span := c.tracer.Start(ctx, "delhivery.GetLabel", trace.WithAttributes(attribute.String("awb", awb)))
	defer span.End()

	token, res := tokenFrom(creds)
	if !res.Success {
		return courier.ResultOf[[]byte]{Result: res}
	}

	apiResp, err := c.apiClient.PackingSlip(ctx, token, awb)
	if err != nil {
		return courier.FromErrorOf[[]byte](c.wrapError(ctx, span, "packing slip", err))
	}
	for _, p := range apiResp.Packages {
		if p.PDFEncoding == "" {
			continue
		}
		pdf, err := base64.StdEncoding.DecodeString(p.PDFEncoding)
		if err != nil {
			return courier.FromErrorOf[[]byte](c.wrapError(ctx, span, "decode label", err))
		}
		return courier.OKOf(pdf)
	}
	return courier.FailOf[[]byte](fmt.Sprintf("no label available for %s", awb))
}

// SchedulePickup registers a pickup at the account's warehouse.
func (c *Client) SchedulePickup(ctx context.Context, creds courier.Credentials, req *courier.PickupRequest) courier.ResultOf[*courier.PickupResponse] {
	ctx, span := c.tracer.Start(ctx, "delhivery.SchedulePickup", trace.WithAttributes(attribute.Int("awb_count", len(req.AWBs))))
	defer span.End()

	token, res := tokenFrom(creds)
	if !res.Success {
		return courier.ResultOf[*courier.PickupResponse]{Result: res}
	}
	if len(req.AWBs) == 0 {
		return courier.FailOfKind[*courier.PickupResponse](courier.FailureValidation, "pickup requires at least one AWB", courier.ErrInvalidRequest)
	}

	location := req.PickupLocation
	if location == "" {
		location = creds.Setting(SettingPickupLocation)
	}
	slot := req.SlotStart
	if slot == "" {
		slot = "10:00"
	}

	apiResp, err := c.apiClient.CreatePickup(ctx, token, &PickupRequest{
		PickupTime:           slot + ":00",
		PickupDate:           req.Date.Format("2006-01-02"),
		PickupLocation:       location,
		ExpectedPackageCount: len(req.AWBs),
	})
	if err != nil {
		return courier.FromErrorOf[*courier.PickupResponse](c.wrapError(ctx, span, "create pickup", err))
	}
	if apiResp.PickupID == 0 {
		msg := apiResp.Error
		if msg == "" {
			msg = "delhivery returned no pickup id"
		}
		return courier.FailOf[*courier.PickupResponse](msg)
	}

	scheduled := req.Date
	if t, ok := parseTime(apiResp.PickupDate + "T" + apiResp.PickupTime); ok {
		scheduled = t
	}
	return courier.OKOf(&courier.PickupResponse{
		ConfirmationID: fmt.Sprintf("%d", apiResp.PickupID),
		Count:          apiResp.ExpectedPackageCount,
		ScheduledFor:   scheduled,
	})
}

// serviceability returns the postal code record, or nil when Delhivery does
// not list the code.
func (c *Client) serviceability(ctx context.Context, span trace.Span, token, pin string) (*PostalCode, courier.Result) {
	resp, err := c.apiClient.CheckPincode(ctx, token, pin)
	if err != nil {
		return nil, courier.FromError(c.wrapError(ctx, span, "check pincode", err))
	}
	for _, dc := range resp.DeliveryCodes {
		if fmt.Sprintf("%d", dc.PostalCode.Pin) == pin {
			pc := dc.PostalCode
			return &pc, courier.OK()
		}
	}
	return nil, courier.OK()
}

// failure logs err and converts it into a failed result.
func (c *Client) failure(ctx context.Context, span trace.Span, op string, err error) courier.Result {
	return courier.FromError(c.wrapError(ctx, span, op, err))
}

// wrapError classifies a wire error into a CourierError, leaving
// cancellation and network errors for courier.Classify.
func (c *Client) wrapError(ctx context.Context, span trace.Span, op string, err error) error {
	c.logger.Ctx(ctx).Error("Delhivery API error", zap.String("op", op), zap.Error(err))
	span.RecordError(err)
	span.SetStatus(codes.Error, op)

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		ce := courier.NewCourierError(ProviderName, fmt.Sprintf("HTTP_%d", apiErr.StatusCode), apiErr.Error()).
			WithStatusCode(apiErr.StatusCode)
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return ce.WithKind(courier.FailureValidation).WithCause(courier.ErrMissingCredentials)
		case apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500:
			return ce.WithKind(courier.FailureTransport).WithCause(courier.ErrServiceUnavailable)
		default:
			return ce
		}
	}

	if courier.Classify(err) == courier.FailureTransport {
		return err
	}
	return courier.NewCourierError(ProviderName, "MALFORMED_RESPONSE", err.Error()).
		WithKind(courier.FailureTransport).
		WithCause(courier.ErrMalformedResponse)
}

// ============================================================================
// Conversion helpers
// ============================================================================

type serviceMode struct {
	code    string
	name    string
	express bool
}

var (
	surface = serviceMode{code: "S", name: "Surface", express: false}
	express = serviceMode{code: "E", name: "Express", express: true}
)

func tokenFrom(creds courier.Credentials) (string, courier.Result) {
	token := creds.Token
	if token == "" {
		token = creds.APIKey
	}
	if token == "" {
		return "", courier.Failf(courier.FailureValidation, "delhivery API token is missing", courier.ErrMissingCredentials)
	}
	return token, courier.OK()
}

func yes(flag string) bool {
	return strings.EqualFold(strings.TrimSpace(flag), "Y")
}

func chargeToRate(ch ChargeResponse, m serviceMode, zone estimate.Zone, now time.Time) courier.Rate {
	total := ch.TotalAmount
	if total == 0 {
		total = ch.ChargeDL + ch.ChargeFSC + ch.ChargeCOD
	}
	days := estimate.TransitDays(zone, m.express)
	eta := estimate.ExpectedDelivery(now, days)
	return courier.Rate{
		Provider:         ProviderName,
		ServiceCode:      m.code,
		ServiceName:      "Delhivery " + m.name,
		FreightCharge:    estimate.Round2(ch.ChargeDL + ch.ChargeFSC),
		CODCharge:        estimate.Round2(ch.ChargeCOD),
		TotalCharge:      estimate.Round2(total),
		TransitDays:      days,
		ExpectedDelivery: &eta,
		Express:          m.express,
	}
}

func shipmentToAPI(req *courier.ShipmentRequest, creds courier.Credentials) Shipment {
	qty := 0
	names := make([]string, 0, len(req.Items))
	hsn := ""
	for _, it := range req.Items {
		qty += it.Quantity
		names = append(names, it.Name)
		if hsn == "" {
			hsn = it.HSNCode
		}
	}
	if qty == 0 {
		qty = 1
	}

	mode := "Surface"
	if req.Express {
		mode = "Express"
	}
	payment := "Prepaid"
	codAmount := 0.0
	if req.COD {
		payment = "COD"
		codAmount = req.CODAmount
	}

	d := req.Delivery
	p := req.Pickup
	returnPin := creds.Setting(SettingReturnPin)
	if returnPin == "" {
		returnPin = p.PostalCode
	}

	return Shipment{
		Name:          d.Name,
		Add:           joinAddress(d.Line1, d.Line2),
		Pin:           d.PostalCode,
		City:          d.City,
		State:         d.State,
		Country:       countryOrIndia(d.Country),
		Phone:         d.Phone,
		OrderID:       req.OrderReference,
		PaymentMode:   payment,
		CODAmount:     codAmount,
		TotalAmount:   req.DeclaredValue,
		ProductsDesc:  strings.Join(names, ", "),
		Quantity:      qty,
		WeightGrams:   math.Round(req.WeightKg * 1000),
		LengthCm:      req.Dimensions.LengthCm,
		WidthCm:       req.Dimensions.WidthCm,
		HeightCm:      req.Dimensions.HeightCm,
		ShippingMode:  mode,
		ReturnName:    p.Name,
		ReturnAdd:     joinAddress(p.Line1, p.Line2),
		ReturnPin:     returnPin,
		ReturnCity:    p.City,
		ReturnState:   p.State,
		ReturnPhone:   p.Phone,
		SellerName:    p.Company,
		HSNCode:       hsn,
		SellerAddress: joinAddress(p.Line1, p.Line2),
	}
}

func trackingToCanonical(s TrackedShipment, awb string) *courier.TrackingResponse {
	tr := &courier.TrackingResponse{
		AWB:           s.AWB,
		CurrentStatus: s.Status.Status,
		Canonical:     MapStatus(s.Status.Status, s.Status.StatusType),
	}
	if tr.AWB == "" {
		tr.AWB = awb
	}

	for _, sc := range s.Scans {
		d := sc.ScanDetail
		at, _ := parseTime(d.ScanDateTime)
		tr.Events = append(tr.Events, courier.TrackingEvent{
			Time:       at,
			Status:     d.Scan,
			StatusType: d.ScanType,
			Location:   d.ScannedLocation,
			Remarks:    d.Instructions,
		})
	}

	if latest, ok := tr.Latest(); ok {
		tr.CurrentLocation = latest.Location
		if tr.CurrentStatus == "" {
			tr.CurrentStatus = latest.Status
			tr.Canonical = MapStatus(latest.Status, latest.StatusType)
		}
	}
	if s.Status.StatusLocation != "" {
		tr.CurrentLocation = s.Status.StatusLocation
	}
	if t, ok := parseTime(s.ExpectedDeliveryDate); ok {
		tr.ExpectedDelivery = &t
	}
	if tr.Canonical != nil && *tr.Canonical == courier.StatusDelivered {
		if t, ok := parseTime(s.DeliveryDate); ok {
			tr.DeliveredAt = &t
		} else if t, ok := parseTime(s.Status.StatusDateTime); ok {
			tr.DeliveredAt = &t
		}
		tr.RecipientName = s.ReceivedBy
	}
	return tr
}

func providerMessage(resp *CreateResponse) string {
	for _, p := range resp.Packages {
		if len(p.Remarks) > 0 {
			return strings.Join(p.Remarks, "; ")
		}
	}
	return resp.RMK
}

func joinAddress(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}

func countryOrIndia(c string) string {
	if c == "" {
		return "India"
	}
	return c
}

// Ensure Client implements the courier interfaces
var (
	_ courier.Adapter       = (*Client)(nil)
	_ courier.WebhookParser = (*Client)(nil)
	_ courier.StatusMapper  = (*Client)(nil)
)
