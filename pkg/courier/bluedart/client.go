// Package bluedart provides integration with the Blue Dart SOAP shipping API.
package bluedart

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
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

// ProviderName identifies Blue Dart accounts and webhooks.
const ProviderName = "bluedart"

// Credential settings read by the adapter. The licence key travels in
// Credentials.APIKey.
const (
	SettingLoginID       = "login_id"
	SettingCustomerCode  = "customer_code"
	SettingOriginArea    = "origin_area"
	SettingProbePin      = "probe_pin"
	SettingSurfaceRate   = "surface_rate_per_slab"
	SettingExpressRate   = "express_rate_per_slab"
	SettingCODFlat       = "cod_flat"
	SettingCODPercent    = "cod_percent"
	SettingOfficeCloseAt = "office_close_time" // HHMM
)

const (
	defaultProbePin    = "400001"
	defaultSurfaceRate = 55.0
	defaultExpressRate = 85.0
	defaultCODFlat     = 50.0
	defaultCODPercent  = 2.0
	apiVersion         = "1.3"
	apiTypeStandard    = "S"
)

const trackingURLFormat = "https://www.bluedart.com/web/guest/trackdartresult?trackFor=0&trackNo=%s"

// Config holds Blue Dart configuration.
type Config struct {
	BaseURL     string
	TrackingURL string
	Timeout     time.Duration
	RateLimit   float64
	UseMock     bool // When true, uses mock API client
}

// Client is the Blue Dart courier adapter.
// Blue Dart has no rate API, so GetRates returns estimates built from the
// Finder serviceability flags and per-account slab rates.
type Client struct {
	config    Config
	apiClient APIClient
	logger    *otelzap.Logger
	tracer    trace.Tracer
}

// New creates a new Blue Dart client.
// If cfg.UseMock is true, it uses a mock API client.
func New(cfg Config, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	var apiClient APIClient

	if cfg.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://netconnect.bluedart.com"
		}
		trackingURL := cfg.TrackingURL
		if trackingURL == "" {
			trackingURL = "https://api.bluedart.com"
		}
		apiClient = NewSOAPAPIClient(SOAPAPIClientConfig{
			BaseURL:     baseURL,
			TrackingURL: trackingURL,
			Timeout:     cfg.Timeout,
			RateLimit:   cfg.RateLimit,
			Logger:      logger,
		})
	}

	return NewWithAPIClient(cfg, apiClient, logger, tracer)
}

// NewWithAPIClient creates a new Blue Dart client with a custom API client.
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

// ValidateCredentials probes the Finder service with the account profile.
func (c *Client) ValidateCredentials(ctx context.Context, creds courier.Credentials) courier.Result {
	ctx, span := c.tracer.Start(ctx, "bluedart.ValidateCredentials")
	defer span.End()

	profile, res := profileFrom(creds)
	if !res.Success {
		return res
	}

	pin := creds.Setting(SettingProbePin)
	if pin == "" {
		pin = defaultProbePin
	}
	if _, err := c.apiClient.GetServicesForPincode(ctx, profile, pin); err != nil {
		return courier.FromError(c.wrapError(ctx, span, "validate credentials", err))
	}
	return courier.OK()
}

// GetRates returns estimated Ground and Apex rates for a serviceable route.
func (c *Client) GetRates(ctx context.Context, creds courier.Credentials, req *courier.RateRequest) courier.ResultOf[[]courier.Rate] {
	ctx, span := c.tracer.Start(ctx, "bluedart.GetRates", trace.WithAttributes(
		attribute.String("pickup_pin", req.PickupPostalCode),
		attribute.String("delivery_pin", req.DeliveryPostalCode),
	))
	defer span.End()

	c.logger.Ctx(ctx).Info("Getting Blue Dart rates",
		zap.String("pickup_pin", req.PickupPostalCode),
		zap.String("delivery_pin", req.DeliveryPostalCode),
		zap.Float64("weight_kg", req.WeightKg),
		zap.Bool("cod", req.COD),
	)

	profile, res := profileFrom(creds)
	if !res.Success {
		return courier.ResultOf[[]courier.Rate]{Result: res}
	}
	if !estimate.ValidPostalCode(req.PickupPostalCode) || !estimate.ValidPostalCode(req.DeliveryPostalCode) {
		return courier.FailOfKind[[]courier.Rate](courier.FailureValidation,
			"pickup and delivery postal codes must be 6 digits", courier.ErrInvalidRequest)
	}

	origin, err := c.apiClient.GetServicesForPincode(ctx, profile, req.PickupPostalCode)
	if err != nil {
		return courier.FromErrorOf[[]courier.Rate](c.wrapError(ctx, span, "finder origin", err))
	}
	if !origin.Pickable() {
		return courier.FailOfKind[[]courier.Rate](courier.FailureBusiness,
			fmt.Sprintf("pickup postal code %s is not serviceable", req.PickupPostalCode), courier.ErrUnserviceable)
	}

	dest, err := c.apiClient.GetServicesForPincode(ctx, profile, req.DeliveryPostalCode)
	if err != nil {
		return courier.FromErrorOf[[]courier.Rate](c.wrapError(ctx, span, "finder destination", err))
	}
	if !dest.Served() {
		return courier.FailOfKind[[]courier.Rate](courier.FailureBusiness,
			fmt.Sprintf("delivery postal code %s is not serviceable", req.DeliveryPostalCode), courier.ErrUnserviceable)
	}

	products := availableProducts(origin, dest, req.Express, req.COD)
	if req.COD && len(products) == 0 && len(availableProducts(origin, dest, req.Express, false)) > 0 {
		return courier.FailOfKind[[]courier.Rate](courier.FailureBusiness,
			fmt.Sprintf("cash on delivery is not available for postal code %s", req.DeliveryPostalCode), courier.ErrCODUnsupported)
	}
	if len(products) == 0 {
		return courier.FailOfKind[[]courier.Rate](courier.FailureBusiness,
			fmt.Sprintf("no bluedart service between %s and %s", req.PickupPostalCode, req.DeliveryPostalCode), courier.ErrUnserviceable)
	}

	chargeable := estimate.ChargeableWeight(req.WeightKg, req.Dimensions)
	slabs := chargeable / estimate.SlabKg
	zone := estimate.ZoneFor(req.PickupPostalCode, req.DeliveryPostalCode)
	codCharge := 0.0
	if req.COD {
		codCharge = estimate.CODCharge(req.CODAmount,
			settingFloat(creds, SettingCODFlat, defaultCODFlat),
			settingFloat(creds, SettingCODPercent, defaultCODPercent))
	}

	now := time.Now()
	rates := make([]courier.Rate, 0, len(products))
	for _, p := range products {
		perSlab := settingFloat(creds, p.rateSetting, p.defaultRate)
		freight := estimate.Round2(perSlab * slabs * zoneMultiplier[zone])
		days := estimate.TransitDays(zone, p.express)
		eta := estimate.ExpectedDelivery(now, days)
		rates = append(rates, courier.Rate{
			Provider:         ProviderName,
			ServiceCode:      p.code,
			ServiceName:      "Blue Dart " + p.name,
			FreightCharge:    freight,
			CODCharge:        codCharge,
			TotalCharge:      estimate.Round2(freight + codCharge),
			TransitDays:      days,
			ExpectedDelivery: &eta,
			Express:          p.express,
		})
	}
	return courier.OKOf(rates)
}

// CreateShipment generates a waybill.
func (c *Client) CreateShipment(ctx context.Context, creds courier.Credentials, req *courier.ShipmentRequest) courier.ResultOf[*courier.ShipmentResponse] {
	ctx, span := c.tracer.Start(ctx, "bluedart.CreateShipment", trace.WithAttributes(
		attribute.String("order_reference", req.OrderReference),
	))
	defer span.End()

	c.logger.Ctx(ctx).Info("Creating Blue Dart shipment",
		zap.String("order_reference", req.OrderReference),
		zap.String("delivery_pin", req.Delivery.PostalCode),
		zap.String("payment_mode", string(req.PaymentMode())),
	)

	profile, res := profileFrom(creds)
	if !res.Success {
		return courier.ResultOf[*courier.ShipmentResponse]{Result: res}
	}
	if req.OrderReference == "" {
		return courier.FailOfKind[*courier.ShipmentResponse](courier.FailureValidation, "order reference is required", courier.ErrInvalidRequest)
	}
	customerCode := creds.Setting(SettingCustomerCode)
	if customerCode == "" {
		return courier.FailOfKind[*courier.ShipmentResponse](courier.FailureValidation,
			"bluedart customer code is not configured", courier.ErrMissingCredentials)
	}

	apiResp, err := c.apiClient.GenerateWayBill(ctx, profile, wayBillRequest(req, creds))
	if err != nil {
		return courier.FromErrorOf[*courier.ShipmentResponse](c.wrapError(ctx, span, "generate waybill", err))
	}

	if !apiResp.IsError && apiResp.AWBNo != "" {
		return courier.OKOf(&courier.ShipmentResponse{
			AWB:                apiResp.AWBNo,
			ProviderShipmentID: apiResp.TokenNumber,
			TrackingURL:        fmt.Sprintf(trackingURLFormat, apiResp.AWBNo),
			Status:             courier.StatusCreated,
		})
	}

	msg := firstStatus(apiResp.Status)
	c.logger.Ctx(ctx).Warn("Blue Dart returned no waybill",
		zap.String("order_reference", req.OrderReference),
		zap.String("status", msg),
	)
	span.SetStatus(codes.Error, "no waybill")
	if msg == "" {
		msg = "bluedart accepted the request but returned no waybill"
	}
	return courier.FailOfKind[*courier.ShipmentResponse](courier.FailureBusiness, msg, courier.ErrNoAWB)
}

// GetTracking returns the scan trail for a waybill.
func (c *Client) GetTracking(ctx context.Context, creds courier.Credentials, awb string) courier.ResultOf[*courier.TrackingResponse] {
	ctx, span := c.tracer.Start(ctx, "bluedart.GetTracking", trace.WithAttributes(attribute.String("awb", awb)))
	defer span.End()

	profile, res := profileFrom(creds)
	if !res.Success {
		return courier.ResultOf[*courier.TrackingResponse]{Result: res}
	}

	apiResp, err := c.apiClient.Track(ctx, profile, awb)
	if err != nil {
		return courier.FromErrorOf[*courier.TrackingResponse](c.wrapError(ctx, span, "track", err))
	}
	if len(apiResp.Shipments) == 0 {
		return courier.FailOfKind[*courier.TrackingResponse](courier.FailureBusiness,
			fmt.Sprintf("no tracking entries for %s", awb), courier.ErrNoTracking)
	}

	tr := trackingToCanonical(apiResp.Shipments[0], awb)
	if len(tr.Events) == 0 {
		return courier.FailOfKind[*courier.TrackingResponse](courier.FailureBusiness,
			fmt.Sprintf("no tracking entries for %s", awb), courier.ErrNoTracking)
	}
	return courier.OKOf(tr)
}

// CancelShipment cancels a waybill.
func (c *Client) CancelShipment(ctx context.Context, creds courier.Credentials, awb string) courier.Result {
	ctx, span := c.tracer.Start(ctx, "bluedart.CancelShipment", trace.WithAttributes(attribute.String("awb", awb)))
	defer span.End()

	c.logger.Ctx(ctx).Info("Cancelling Blue Dart shipment", zap.String("awb", awb))

	profile, res := profileFrom(creds)
	if !res.Success {
		return res
	}

	apiResp, err := c.apiClient.CancelWayBill(ctx, profile, awb)
	if err != nil {
		return courier.FromError(c.wrapError(ctx, span, "cancel waybill", err))
	}
	if apiResp.IsError {
		msg := firstStatus(apiResp.Status)
		if msg == "" {
			msg = fmt.Sprintf("bluedart refused to cancel %s", awb)
		}
		return courier.Failf(courier.FailureBusiness, msg, courier.ErrCancellationNotAllowed)
	}
	return courier.OK()
}

// GetLabel returns the waybill PDF.
func (c *Client) GetLabel(ctx context.Context, creds courier.Credentials, awb string) courier.ResultOf[[]byte] {
	ctx, span := c.tracer.Start(ctx, "bluedart.GetLabel", trace.WithAttributes(attribute.String("awb", awb)))
	defer span.End()

	profile, res := profileFrom(creds)
	if !res.Success {
		return courier.ResultOf[[]byte]{Result: res}
	}

	apiResp, err := c.apiClient.PrintWayBill(ctx, profile, awb)
	if err != nil {
		return courier.FromErrorOf[[]byte](c.wrapError(ctx, span, "print waybill", err))
	}
	if apiResp.Content == "" {
		return courier.FailOf[[]byte](fmt.Sprintf("no label available for %s", awb))
	}
	pdf, err := base64.StdEncoding.DecodeString(apiResp.Content)
	if err != nil {
		return courier.FromErrorOf[[]byte](c.wrapError(ctx, span, "decode label", err))
	}
	return courier.OKOf(pdf)
}

// SchedulePickup registers a pickup for the account's origin area.
func (c *Client) SchedulePickup(ctx context.Context, creds courier.Credentials, req *courier.PickupRequest) courier.ResultOf[*courier.PickupResponse] {
	ctx, span := c.tracer.Start(ctx, "bluedart.SchedulePickup", trace.WithAttributes(attribute.Int("awb_count", len(req.AWBs))))
	defer span.End()

	profile, res := profileFrom(creds)
	if !res.Success {
		return courier.ResultOf[*courier.PickupResponse]{Result: res}
	}
	if len(req.AWBs) == 0 {
		return courier.FailOfKind[*courier.PickupResponse](courier.FailureValidation, "pickup requires at least one AWB", courier.ErrInvalidRequest)
	}

	slot := req.SlotStart
	if slot == "" {
		slot = "10:00"
	}
	closeAt := creds.Setting(SettingOfficeCloseAt)
	if closeAt == "" {
		closeAt = "1800"
	}

	apiResp, err := c.apiClient.RegisterPickup(ctx, profile, &PickupRequest{
		CustomerCode:       creds.Setting(SettingCustomerCode),
		AreaCode:           creds.Setting(SettingOriginArea),
		CustomerName:       req.PickupLocation,
		ShipmentPickupDate: req.Date.Format("2006-01-02"),
		ShipmentPickupTime: strings.ReplaceAll(slot, ":", ""),
		OfficeCloseTime:    strings.ReplaceAll(closeAt, ":", ""),
		NumberOfPieces:     len(req.AWBs),
		ProductCode:        "A",
		AWBNo:              req.AWBs,
	})
	if err != nil {
		return courier.FromErrorOf[*courier.PickupResponse](c.wrapError(ctx, span, "register pickup", err))
	}
	if apiResp.IsError || apiResp.TokenNumber == "" {
		msg := firstStatus(apiResp.Status)
		if msg == "" {
			msg = "bluedart returned no pickup token"
		}
		return courier.FailOf[*courier.PickupResponse](msg)
	}

	scheduled := req.Date
	if t, err := time.ParseInLocation("2006-01-02 15:04", req.Date.Format("2006-01-02")+" "+slot, ist); err == nil {
		scheduled = t
	}
	return courier.OKOf(&courier.PickupResponse{
		ConfirmationID: apiResp.TokenNumber,
		Count:          len(req.AWBs),
		ScheduledFor:   scheduled,
	})
}

// wrapError classifies a wire error into a CourierError, leaving
// cancellation and network errors for courier.Classify.
func (c *Client) wrapError(ctx context.Context, span trace.Span, op string, err error) error {
	c.logger.Ctx(ctx).Error("Blue Dart API error", zap.String("op", op), zap.Error(err))
	span.RecordError(err)
	span.SetStatus(codes.Error, op)

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		ce := courier.NewCourierError(ProviderName, apiErr.Code, apiErr.Description).
			WithStatusCode(apiErr.StatusCode)
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden || authFault(apiErr):
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

// authFault reports whether a SOAP fault rejects the profile. Blue Dart
// answers these with HTTP 500.
func authFault(e *APIError) bool {
	d := strings.ToLower(e.Description)
	return strings.Contains(d, "licen") || strings.Contains(d, "loginid") || strings.Contains(d, "login id") ||
		strings.Contains(d, "authenticat")
}

// ============================================================================
// Conversion helpers
// ============================================================================

type product struct {
	code        string
	name        string
	express     bool
	rateSetting string
	defaultRate float64
}

var (
	ground = product{code: "E", name: "Ground", express: false, rateSetting: SettingSurfaceRate, defaultRate: defaultSurfaceRate}
	apex   = product{code: "A", name: "Apex", express: true, rateSetting: SettingExpressRate, defaultRate: defaultExpressRate}
)

// zoneMultiplier scales the per-slab rate with distance.
var zoneMultiplier = map[estimate.Zone]float64{
	estimate.ZoneLocal:    1.0,
	estimate.ZoneRegional: 1.2,
	estimate.ZoneNational: 1.5,
	estimate.ZoneRemote:   1.8,
}

// availableProducts lists the products both ends support for the request.
func availableProducts(origin, dest *PincodeServices, expressOnly, cod bool) []product {
	var out []product
	if !expressOnly && origin.GroundOutbound && dest.GroundInbound && (!cod || dest.GroundCODInbound) {
		out = append(out, ground)
	}
	if origin.ApexOutbound && dest.ApexInbound && (!cod || dest.ApexCODInbound) {
		out = append(out, apex)
	}
	return out
}

func profileFrom(creds courier.Credentials) (Profile, courier.Result) {
	login := creds.Setting(SettingLoginID)
	if creds.APIKey == "" || login == "" {
		return Profile{}, courier.Failf(courier.FailureValidation,
			"bluedart licence key and login id are required", courier.ErrMissingCredentials)
	}
	return Profile{
		LoginID:    login,
		LicenceKey: creds.APIKey,
		APIType:    apiTypeStandard,
		Version:    apiVersion,
	}, courier.OK()
}

func settingFloat(creds courier.Credentials, key string, def float64) float64 {
	v := creds.Setting(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return def
	}
	return f
}

func wayBillRequest(req *courier.ShipmentRequest, creds courier.Credentials) *WayBillRequest {
	pieces := 0
	names := make([]string, 0, len(req.Items))
	for _, it := range req.Items {
		pieces += it.Quantity
		names = append(names, it.Name)
	}
	if pieces == 0 {
		pieces = 1
	}

	productCode := ground.code
	if req.Express {
		productCode = apex.code
	}
	subProduct := "P"
	collectable := 0.0
	if req.COD {
		subProduct = "C"
		collectable = req.CODAmount
	}

	d := req.Delivery
	p := req.Pickup
	line1, line2, line3 := splitAddress(d.Line1, d.Line2, d.City)
	shipLine1, shipLine2, shipLine3 := splitAddress(p.Line1, p.Line2, p.City)

	var dims []Dimension
	if req.Dimensions.LengthCm > 0 {
		dims = []Dimension{{
			Length:  req.Dimensions.LengthCm,
			Breadth: req.Dimensions.WidthCm,
			Height:  req.Dimensions.HeightCm,
			Count:   1,
		}}
	}

	return &WayBillRequest{
		Consignee: Consignee{
			Name:     d.Name,
			Address1: line1,
			Address2: line2,
			Address3: line3,
			Pincode:  d.PostalCode,
			Mobile:   d.Phone,
		},
		Shipper: ShipperInfo{
			CustomerCode: creds.Setting(SettingCustomerCode),
			CustomerName: firstNonEmpty(p.Company, p.Name),
			Address1:     shipLine1,
			Address2:     shipLine2,
			Address3:     shipLine3,
			Pincode:      p.PostalCode,
			Mobile:       p.Phone,
			OriginArea:   creds.Setting(SettingOriginArea),
			Sender:       p.Name,
		},
		Services: Services{
			ProductCode:       productCode,
			SubProductCode:    subProduct,
			PieceCount:        pieces,
			ActualWeight:      req.WeightKg,
			DeclaredValue:     req.DeclaredValue,
			CollectableAmount: collectable,
			CreditReferenceNo: req.OrderReference,
			PickupDate:        time.Now().In(ist).Format("2006-01-02"),
			PickupTime:        "1600",
			Commodity:         strings.Join(names, ", "),
			Dimensions:        dims,
		},
	}
}

// splitAddress fits an address into Blue Dart's three 30-character lines.
func splitAddress(parts ...string) (string, string, string) {
	var lines [3]string
	i := 0
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		for p != "" && i < len(lines) {
			n := min(len(p), 30)
			lines[i] = p[:n]
			p = strings.TrimSpace(p[n:])
			i++
		}
	}
	return lines[0], lines[1], lines[2]
}

func trackingToCanonical(s TrackedShipment, awb string) *courier.TrackingResponse {
	tr := &courier.TrackingResponse{AWB: s.WaybillNo}
	if tr.AWB == "" {
		tr.AWB = awb
	}

	for _, sc := range s.Scans {
		at, _ := parseScanTime(sc.ScanDate, sc.ScanTime)
		tr.Events = append(tr.Events, courier.TrackingEvent{
			Time:       at,
			Status:     sc.ScanCode,
			StatusType: sc.ScanType,
			Location:   sc.ScannedLocation,
			Remarks:    firstNonEmpty(sc.Comments, sc.Scan),
		})
	}

	if latest, ok := tr.Latest(); ok {
		tr.CurrentStatus = latest.Status
		tr.CurrentLocation = latest.Location
		tr.Canonical = MapStatus(latest.Status, latest.StatusType)
		if tr.Canonical != nil && *tr.Canonical == courier.StatusDelivered {
			at := latest.Time
			tr.DeliveredAt = &at
			tr.RecipientName = s.ReceivedBy
		}
	}
	if t, ok := parseScanTime(s.ExpectedDeliveryDate, ""); ok {
		tr.ExpectedDelivery = &t
	}
	return tr
}

// Ensure Client implements the courier interfaces
var (
	_ courier.Adapter            = (*Client)(nil)
	_ courier.WebhookParser      = (*Client)(nil)
	_ courier.BatchWebhookParser = (*Client)(nil)
	_ courier.StatusMapper       = (*Client)(nil)
)
