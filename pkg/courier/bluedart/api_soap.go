package bluedart

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/template"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxErrorBody caps how much of a failed response is kept for logging.
const maxErrorBody = 4096

// SOAPAPIClient is the production implementation of APIClient using SOAP.
type SOAPAPIClient struct {
	baseURL     string
	trackingURL string
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *otelzap.Logger
}

// SOAPAPIClientConfig holds configuration for the SOAP client.
type SOAPAPIClientConfig struct {
	BaseURL     string // SOAP services root, e.g. https://netconnect.bluedart.com
	TrackingURL string // tracking servlet root, defaults to BaseURL
	Timeout     time.Duration
	RateLimit   float64 // requests per second, 0 disables limiting
	Burst       int
	Logger      *otelzap.Logger
}

// NewSOAPAPIClient creates a new SOAP-based API client for production use.
func NewSOAPAPIClient(cfg SOAPAPIClientConfig) *SOAPAPIClient {
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

	trackingURL := cfg.TrackingURL
	if trackingURL == "" {
		trackingURL = cfg.BaseURL
	}

	return &SOAPAPIClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		trackingURL: strings.TrimRight(trackingURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: limiter,
		logger:  logger,
	}
}

// GetServicesForPincode queries the Finder service.
func (c *SOAPAPIClient) GetServicesForPincode(ctx context.Context, profile Profile, pin string) (*PincodeServices, error) {
	body, err := c.buildEnvelope(finderTemplate, profile, struct{ Pin string }{pin})
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	env, err := c.call(ctx, finderEndpoint, "IServiceFinderQuery/GetServicesforPincode", body)
	if err != nil {
		return nil, err
	}
	r := env.Body.FinderResponse
	if r == nil {
		return nil, fmt.Errorf("failed to parse response: no GetServicesforPincodeResult")
	}
	return &PincodeServices{
		PinCode:           r.Result.PinCode,
		AreaCode:          r.Result.AreaCode,
		ServiceCenterCode: r.Result.ServiceCenterCode,
		ApexInbound:       r.Result.ApexInbound == "Yes",
		ApexOutbound:      r.Result.ApexOutbound == "Yes",
		GroundInbound:     r.Result.GroundInbound == "Yes",
		GroundOutbound:    r.Result.GroundOutbound == "Yes",
		ApexCODInbound:    r.Result.ApexCODInbound == "Yes",
		GroundCODInbound:  r.Result.GroundCODInbound == "Yes",
		IsError:           r.Result.IsError,
		ErrorMessage:      r.Result.ErrorMessage,
	}, nil
}

// GenerateWayBill manifests a shipment.
func (c *SOAPAPIClient) GenerateWayBill(ctx context.Context, profile Profile, req *WayBillRequest) (*WayBillResponse, error) {
	body, err := c.buildEnvelope(wayBillTemplate, profile, req)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	env, err := c.call(ctx, wayBillEndpoint, "IWayBillGeneration/GenerateWayBill", body)
	if err != nil {
		return nil, err
	}
	r := env.Body.GenerateResponse
	if r == nil {
		return nil, fmt.Errorf("failed to parse response: no GenerateWayBillResult")
	}
	return &WayBillResponse{
		AWBNo:               strings.TrimSpace(r.Result.AWBNo),
		DestinationArea:     r.Result.DestinationArea,
		DestinationLocation: r.Result.DestinationLocation,
		TokenNumber:         r.Result.TokenNumber,
		IsError:             r.Result.IsError,
		Status:              r.Result.statusLines(),
		AWBPrintContent:     r.Result.AWBPrintContent,
	}, nil
}

// CancelWayBill cancels a manifested waybill.
func (c *SOAPAPIClient) CancelWayBill(ctx context.Context, profile Profile, awb string) (*CancelResponse, error) {
	body, err := c.buildEnvelope(cancelTemplate, profile, struct{ AWBNo string }{awb})
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	env, err := c.call(ctx, wayBillEndpoint, "IWayBillGeneration/CancelWaybill", body)
	if err != nil {
		return nil, err
	}
	r := env.Body.CancelResponse
	if r == nil {
		return nil, fmt.Errorf("failed to parse response: no CancelWaybillResult")
	}
	return &CancelResponse{
		AWBNo:   strings.TrimSpace(r.Result.AWBNo),
		IsError: r.Result.IsError,
		Status:  r.Result.statusLines(),
	}, nil
}

// PrintWayBill fetches the label PDF for a waybill.
func (c *SOAPAPIClient) PrintWayBill(ctx context.Context, profile Profile, awb string) (*PrintResponse, error) {
	body, err := c.buildEnvelope(printTemplate, profile, struct{ AWBNo string }{awb})
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	env, err := c.call(ctx, wayBillEndpoint, "IWayBillGeneration/GetWaybillPDF", body)
	if err != nil {
		return nil, err
	}
	r := env.Body.PrintResponse
	if r == nil {
		return nil, fmt.Errorf("failed to parse response: no GetWaybillPDFResult")
	}
	if r.Result.IsError {
		return nil, &APIError{Code: "PRINT_ERROR", Description: firstStatus(r.Result.statusLines())}
	}
	return &PrintResponse{AWBNo: awb, Content: r.Result.Content}, nil
}

// RegisterPickup books a pickup.
func (c *SOAPAPIClient) RegisterPickup(ctx context.Context, profile Profile, req *PickupRequest) (*PickupResponse, error) {
	body, err := c.buildEnvelope(pickupTemplate, profile, req)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	env, err := c.call(ctx, pickupEndpoint, "IPickupRegistration/RegisterPickup", body)
	if err != nil {
		return nil, err
	}
	r := env.Body.PickupResponse
	if r == nil {
		return nil, fmt.Errorf("failed to parse response: no RegisterPickupResult")
	}
	return &PickupResponse{
		TokenNumber: r.Result.TokenNumber,
		IsError:     r.Result.IsError,
		Status:      r.Result.statusLines(),
	}, nil
}

// Track queries the tracking servlet. Unlike the SOAP services it carries
// the credentials as query parameters and answers with plain XML.
func (c *SOAPAPIClient) Track(ctx context.Context, profile Profile, awb string) (*TrackResponse, error) {
	q := url.Values{
		"handler": {"tnt"},
		"action":  {"custawbquery"},
		"loginid": {profile.LoginID},
		"awb":     {"awb"},
		"numbers": {awb},
		"format":  {"xml"},
		"lickey":  {profile.LicenceKey},
		"verno":   {"1.3"},
		"scan":    {"1"},
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.trackingURL+"/servlet/RoutingServlet?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(ctx, "tracking", resp)
	}

	var data trackShipmentData
	if err := xml.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to parse tracking response: %w", err)
	}

	out := &TrackResponse{}
	for _, s := range data.Shipments {
		if s.Status == "" && len(s.Scans) == 0 {
			continue
		}
		ts := TrackedShipment{
			WaybillNo:            s.WaybillNo,
			RefNo:                s.RefNo,
			Status:               s.Status,
			StatusType:           s.StatusType,
			StatusDate:           s.StatusDate,
			StatusTime:           s.StatusTime,
			ExpectedDeliveryDate: s.ExpectedDeliveryDate,
			ReceivedBy:           s.ReceivedBy,
		}
		for _, sc := range s.Scans {
			ts.Scans = append(ts.Scans, ScanDetail(sc))
		}
		out.Shipments = append(out.Shipments, ts)
	}
	return out, nil
}

// ============================================================================
// SOAP Request Helpers
// ============================================================================

const (
	finderEndpoint  = "/Ver1.10/ShippingAPI/Finder/ServiceFinderQuery.svc"
	wayBillEndpoint = "/Ver1.10/ShippingAPI/WayBill/WayBillGeneration.svc"
	pickupEndpoint  = "/Ver1.10/ShippingAPI/Pickup/PickupRegistrationService.svc"
)

// call posts a SOAP envelope and decodes the response envelope. SOAP faults
// and non-success statuses come back as *APIError.
func (c *SOAPAPIClient) call(ctx context.Context, endpoint, action string, body []byte) (*soapEnvelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "http://tempuri.org/"+action)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(ctx, action, resp)
	}

	var env soapEnvelope
	if err := xml.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if env.Body.Fault != nil {
		return nil, &APIError{
			StatusCode:  resp.StatusCode,
			Code:        env.Body.Fault.Code,
			Description: env.Body.Fault.String,
		}
	}
	return &env, nil
}

// parseError logs the raw body of a failed response and wraps it.
func (c *SOAPAPIClient) parseError(ctx context.Context, action string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	c.logger.Ctx(ctx).Warn("Blue Dart API returned non-success status",
		zap.String("action", action),
		zap.Int("status", resp.StatusCode),
		zap.ByteString("body", body),
	)

	var env soapEnvelope
	if err := xml.Unmarshal(body, &env); err == nil && env.Body.Fault != nil {
		return &APIError{
			StatusCode:  resp.StatusCode,
			Code:        env.Body.Fault.Code,
			Description: env.Body.Fault.String,
			Body:        string(body),
		}
	}

	return &APIError{
		StatusCode:  resp.StatusCode,
		Code:        fmt.Sprintf("HTTP_%d", resp.StatusCode),
		Description: http.StatusText(resp.StatusCode),
		Body:        string(body),
	}
}

// ============================================================================
// SOAP Request Builders
// ============================================================================

const soapEnvelopeTemplate = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/" xmlns:tem="http://tempuri.org/" xmlns:sapi="http://schemas.datacontract.org/2004/07/SAPI.Entities.Admin">
  <soap:Header/>
  <soap:Body>
    {{.Body}}
  </soap:Body>
</soap:Envelope>`

const profileTemplate = `<tem:profile>
        <sapi:Api_type>{{x .APIType}}</sapi:Api_type>
        <sapi:LicenceKey>{{x .LicenceKey}}</sapi:LicenceKey>
        <sapi:LoginID>{{x .LoginID}}</sapi:LoginID>
        <sapi:Version>{{x .Version}}</sapi:Version>
      </tem:profile>`

const finderTemplate = `<tem:GetServicesforPincode>
      <tem:pinCode>{{x .Pin}}</tem:pinCode>
      {{profile}}
    </tem:GetServicesforPincode>`

const wayBillTemplate = `<tem:GenerateWayBill>
      <tem:Request>
        <Consignee>
          <ConsigneeName>{{x .Consignee.Name}}</ConsigneeName>
          <ConsigneeAddress1>{{x .Consignee.Address1}}</ConsigneeAddress1>
          <ConsigneeAddress2>{{x .Consignee.Address2}}</ConsigneeAddress2>
          <ConsigneeAddress3>{{x .Consignee.Address3}}</ConsigneeAddress3>
          <ConsigneePincode>{{x .Consignee.Pincode}}</ConsigneePincode>
          <ConsigneeMobile>{{x .Consignee.Mobile}}</ConsigneeMobile>
          <ConsigneeTelephone>{{x .Consignee.Telephone}}</ConsigneeTelephone>
          <ConsigneeAttention>{{x .Consignee.Attention}}</ConsigneeAttention>
        </Consignee>
        <Services>
          <ProductCode>{{x .Services.ProductCode}}</ProductCode>
          <SubProductCode>{{x .Services.SubProductCode}}</SubProductCode>
          <PieceCount>{{.Services.PieceCount}}</PieceCount>
          <ActualWeight>{{printf "%.2f" .Services.ActualWeight}}</ActualWeight>
          <DeclaredValue>{{printf "%.2f" .Services.DeclaredValue}}</DeclaredValue>
          <CollectableAmount>{{printf "%.2f" .Services.CollectableAmount}}</CollectableAmount>
          <CreditReferenceNo>{{x .Services.CreditReferenceNo}}</CreditReferenceNo>
          <PickupDate>{{x .Services.PickupDate}}</PickupDate>
          <PickupTime>{{x .Services.PickupTime}}</PickupTime>
          <Commodity><CommodityDetail1>{{x .Services.Commodity}}</CommodityDetail1></Commodity>
          <Dimensions>{{range .Services.Dimensions}}
            <Dimension>
              <Length>{{printf "%.1f" .Length}}</Length>
              <Breadth>{{printf "%.1f" .Breadth}}</Breadth>
              <Height>{{printf "%.1f" .Height}}</Height>
              <Count>{{.Count}}</Count>
            </Dimension>{{end}}
          </Dimensions>
          <PDFOutputNotRequired>false</PDFOutputNotRequired>
        </Services>
        <Shipper>
          <CustomerCode>{{x .Shipper.CustomerCode}}</CustomerCode>
          <CustomerName>{{x .Shipper.CustomerName}}</CustomerName>
          <CustomerAddress1>{{x .Shipper.Address1}}</CustomerAddress1>
          <CustomerAddress2>{{x .Shipper.Address2}}</CustomerAddress2>
          <CustomerAddress3>{{x .Shipper.Address3}}</CustomerAddress3>
          <CustomerPincode>{{x .Shipper.Pincode}}</CustomerPincode>
          <CustomerMobile>{{x .Shipper.Mobile}}</CustomerMobile>
          <OriginArea>{{x .Shipper.OriginArea}}</OriginArea>
          <Sender>{{x .Shipper.Sender}}</Sender>
          <IsToPayCustomer>{{.Shipper.IsToPayCustomer}}</IsToPayCustomer>
          <VendorCode>{{x .Shipper.VendorCode}}</VendorCode>
        </Shipper>
      </tem:Request>
      {{profile}}
    </tem:GenerateWayBill>`

const cancelTemplate = `<tem:CancelWaybill>
      <tem:Request>
        <AWBNo>{{x .AWBNo}}</AWBNo>
      </tem:Request>
      {{profile}}
    </tem:CancelWaybill>`

const printTemplate = `<tem:GetWaybillPDF>
      <tem:Request>
        <AWBNo>{{x .AWBNo}}</AWBNo>
      </tem:Request>
      {{profile}}
    </tem:GetWaybillPDF>`

const pickupTemplate = `<tem:RegisterPickup>
      <tem:request>
        <AreaCode>{{x .AreaCode}}</AreaCode>
        <ContactPersonName>{{x .ContactPerson}}</ContactPersonName>
        <CustomerAddress1>{{x .Address1}}</CustomerAddress1>
        <CustomerAddress2>{{x .Address2}}</CustomerAddress2>
        <CustomerCode>{{x .CustomerCode}}</CustomerCode>
        <CustomerName>{{x .CustomerName}}</CustomerName>
        <CustomerPincode>{{x .Pincode}}</CustomerPincode>
        <MobileTelNo>{{x .Mobile}}</MobileTelNo>
        <NumberofPieces>{{.NumberOfPieces}}</NumberofPieces>
        <OfficeCloseTime>{{x .OfficeCloseTime}}</OfficeCloseTime>
        <ProductCode>{{x .ProductCode}}</ProductCode>
        <ShipmentPickupDate>{{x .ShipmentPickupDate}}</ShipmentPickupDate>
        <ShipmentPickupTime>{{x .ShipmentPickupTime}}</ShipmentPickupTime>
        <WeightofShipment>{{printf "%.2f" .WeightKg}}</WeightofShipment>
        <AWBNo>{{range .AWBNo}}<string>{{x .}}</string>{{end}}</AWBNo>
      </tem:request>
      {{profile}}
    </tem:RegisterPickup>`

var templateFuncs = template.FuncMap{
	"x": xmlEscape,
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

var (
	envelopeTmpl = template.Must(template.New("envelope").Parse(soapEnvelopeTemplate))
	profileTmpl  = template.Must(template.New("profile").Funcs(templateFuncs).Parse(profileTemplate))
)

// buildEnvelope renders bodyTemplate against data. Body templates place the
// rendered Profile block with {{profile}}.
func (c *SOAPAPIClient) buildEnvelope(bodyTemplate string, profile Profile, data interface{}) ([]byte, error) {
	var profileBuf bytes.Buffer
	if err := profileTmpl.Execute(&profileBuf, profile); err != nil {
		return nil, err
	}

	funcs := template.FuncMap{
		"x": xmlEscape,
		"profile": func() string {
			return profileBuf.String()
		},
	}
	bodyTmpl, err := template.New("body").Funcs(funcs).Parse(bodyTemplate)
	if err != nil {
		return nil, err
	}

	var bodyBuf bytes.Buffer
	if err := bodyTmpl.Execute(&bodyBuf, data); err != nil {
		return nil, err
	}

	var envBuf bytes.Buffer
	if err := envelopeTmpl.Execute(&envBuf, struct{ Body string }{bodyBuf.String()}); err != nil {
		return nil, err
	}
	return envBuf.Bytes(), nil
}

// ============================================================================
// SOAP Response Parsers - XML Types
// ============================================================================

type soapEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    soapBody `xml:"Body"`
}

type soapBody struct {
	Fault            *soapFault        `xml:"Fault,omitempty"`
	FinderResponse   *finderResponse   `xml:"GetServicesforPincodeResponse,omitempty"`
	GenerateResponse *generateResponse `xml:"GenerateWayBillResponse,omitempty"`
	CancelResponse   *cancelResponse   `xml:"CancelWaybillResponse,omitempty"`
	PrintResponse    *printResponse    `xml:"GetWaybillPDFResponse,omitempty"`
	PickupResponse   *pickupResponse   `xml:"RegisterPickupResponse,omitempty"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

type finderResponse struct {
	Result struct {
		PinCode           string `xml:"PinCode"`
		AreaCode          string `xml:"AreaCode"`
		ServiceCenterCode string `xml:"ServiceCenterCode"`
		ApexInbound       string `xml:"ApexInbound"`
		ApexOutbound      string `xml:"ApexOutbound"`
		GroundInbound     string `xml:"GroundInbound"`
		GroundOutbound    string `xml:"GroundOutbound"`
		ApexCODInbound    string `xml:"eTailCODAirInbound"`
		GroundCODInbound  string `xml:"eTailCODGroundInbound"`
		IsError           bool   `xml:"IsError"`
		ErrorMessage      string `xml:"ErrorMessage"`
	} `xml:"GetServicesforPincodeResult"`
}

type statusList struct {
	IsError bool            `xml:"IsError"`
	Status  []xmlStatusLine `xml:"Status>WayBillGenerationStatus"`
}

func (s statusList) statusLines() []StatusInfo {
	out := make([]StatusInfo, len(s.Status))
	for i, l := range s.Status {
		out[i] = StatusInfo(l)
	}
	return out
}

type xmlStatusLine struct {
	StatusCode        string `xml:"StatusCode"`
	StatusInformation string `xml:"StatusInformation"`
}

type generateResponse struct {
	Result struct {
		statusList
		AWBNo               string `xml:"AWBNo"`
		DestinationArea     string `xml:"DestinationArea"`
		DestinationLocation string `xml:"DestinationLocation"`
		TokenNumber         string `xml:"TokenNumber"`
		AWBPrintContent     string `xml:"AWBPrintContent"`
	} `xml:"GenerateWayBillResult"`
}

type cancelResponse struct {
	Result struct {
		statusList
		AWBNo string `xml:"AWBNo"`
	} `xml:"CancelWaybillResult"`
}

type printResponse struct {
	Result struct {
		statusList
		Content string `xml:"AWBPrintContent"`
	} `xml:"GetWaybillPDFResult"`
}

type pickupResponse struct {
	Result struct {
		statusList
		TokenNumber string `xml:"TokenNumber"`
	} `xml:"RegisterPickupResult"`
}

type trackShipmentData struct {
	XMLName   xml.Name      `xml:"ShipmentData"`
	Shipments []xmlShipment `xml:"Shipment"`
}

type xmlShipment struct {
	WaybillNo            string    `xml:"WaybillNo,attr"`
	RefNo                string    `xml:"RefNo,attr"`
	Status               string    `xml:"Status"`
	StatusType           string    `xml:"StatusType"`
	StatusDate           string    `xml:"StatusDate"`
	StatusTime           string    `xml:"StatusTime"`
	ExpectedDeliveryDate string    `xml:"ExpectedDeliveryDate"`
	ReceivedBy           string    `xml:"ReceivedBy"`
	Scans                []xmlScan `xml:"Scans>ScanDetail"`
}

type xmlScan struct {
	Scan            string `xml:"Scan"`
	ScanCode        string `xml:"ScanCode"`
	ScanType        string `xml:"ScanType"`
	ScanDate        string `xml:"ScanDate"`
	ScanTime        string `xml:"ScanTime"`
	ScannedLocation string `xml:"ScannedLocation"`
	ReasonCode      string `xml:"ReasonCode"`
	Comments        string `xml:"Comments"`
}

// Ensure SOAPAPIClient implements APIClient interface
var _ APIClient = (*SOAPAPIClient)(nil)
