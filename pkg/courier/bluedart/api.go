package bluedart

import (
	"context"
)

// APIClient defines the wire-level Blue Dart operations.
// Every call carries the Profile block Blue Dart expects in the payload.
type APIClient interface {
	// GetServicesForPincode returns serviceability for a postal code (Finder service)
	GetServicesForPincode(ctx context.Context, profile Profile, pin string) (*PincodeServices, error)

	// GenerateWayBill manifests a shipment (WayBillGeneration service)
	GenerateWayBill(ctx context.Context, profile Profile, req *WayBillRequest) (*WayBillResponse, error)

	// CancelWayBill cancels a manifested waybill (WayBillGeneration service)
	CancelWayBill(ctx context.Context, profile Profile, awb string) (*CancelResponse, error)

	// Track returns the scan trail for a waybill (tracking servlet)
	Track(ctx context.Context, profile Profile, awb string) (*TrackResponse, error)

	// PrintWayBill returns the label PDF for a waybill
	PrintWayBill(ctx context.Context, profile Profile, awb string) (*PrintResponse, error)

	// RegisterPickup books a pickup (Pickup service)
	RegisterPickup(ctx context.Context, profile Profile, req *PickupRequest) (*PickupResponse, error)
}

// ============================================================================
// API Request/Response Types (match Blue Dart SOAP structure)
// ============================================================================

// Profile authenticates every Blue Dart request.
type Profile struct {
	LoginID    string
	LicenceKey string
	APIType    string // "S" for standard integrations
	Version    string
}

// PincodeServices is the Finder response for one postal code.
type PincodeServices struct {
	PinCode           string
	AreaCode          string
	ServiceCenterCode string
	ApexInbound       bool // express delivery served
	ApexOutbound      bool // express pickup served
	GroundInbound     bool // surface delivery served
	GroundOutbound    bool // surface pickup served
	ApexCODInbound    bool
	GroundCODInbound  bool
	IsError           bool
	ErrorMessage      string
}

// Served reports whether any product delivers to the postal code.
func (p *PincodeServices) Served() bool {
	return !p.IsError && (p.ApexInbound || p.GroundInbound)
}

// Pickable reports whether any product picks up from the postal code.
func (p *PincodeServices) Pickable() bool {
	return !p.IsError && (p.ApexOutbound || p.GroundOutbound)
}

// WayBillRequest is the GenerateWayBill request payload.
type WayBillRequest struct {
	Consignee Consignee
	Shipper   ShipperInfo
	Services  Services
}

// Consignee is the delivery party.
type Consignee struct {
	Name      string
	Address1  string
	Address2  string
	Address3  string
	Pincode   string
	Mobile    string
	Telephone string
	Attention string
}

// ShipperInfo is the pickup party and billing account.
type ShipperInfo struct {
	CustomerCode    string
	CustomerName    string
	Address1        string
	Address2        string
	Address3        string
	Pincode         string
	Mobile          string
	OriginArea      string
	Sender          string
	IsToPayCustomer bool
	VendorCode      string
}

// Services describes the product and package.
type Services struct {
	ProductCode       string // "A" Apex (air), "E" Ground (surface)
	SubProductCode    string // "C" COD, "P" prepaid
	PieceCount        int
	ActualWeight      float64 // kg
	DeclaredValue     float64
	CollectableAmount float64
	CreditReferenceNo string
	PickupDate        string // yyyy-mm-dd
	PickupTime        string // HHMM
	Commodity         string
	Dimensions        []Dimension
}

// Dimension is one piece's size in cm.
type Dimension struct {
	Length  float64
	Breadth float64
	Height  float64
	Count   int
}

// WayBillResponse is the GenerateWayBill result.
type WayBillResponse struct {
	AWBNo               string
	DestinationArea     string
	DestinationLocation string
	TokenNumber         string
	IsError             bool
	Status              []StatusInfo
	AWBPrintContent     string // base64 PDF, present when label printing is enabled
}

// StatusInfo is a Blue Dart status or error line.
type StatusInfo struct {
	StatusCode        string
	StatusInformation string
}

// CancelResponse is the CancelWaybill result.
type CancelResponse struct {
	AWBNo   string
	IsError bool
	Status  []StatusInfo
}

// TrackResponse is the tracking servlet response.
type TrackResponse struct {
	Shipments []TrackedShipment
}

// TrackedShipment is the tracking record for one waybill.
type TrackedShipment struct {
	WaybillNo            string
	RefNo                string
	Status               string
	StatusType           string
	StatusDate           string
	StatusTime           string
	ExpectedDeliveryDate string
	ReceivedBy           string
	Scans                []ScanDetail
}

// ScanDetail is one historical scan.
type ScanDetail struct {
	Scan            string
	ScanCode        string
	ScanType        string // leg: "UD" forward, "RT" return, "DL" delivered
	ScanDate        string // dd-Mon-yyyy
	ScanTime        string // HH:MM
	ScannedLocation string
	ReasonCode      string
	Comments        string
}

// PrintResponse carries the label.
type PrintResponse struct {
	AWBNo   string
	Content string // base64 PDF
}

// PickupRequest is the RegisterPickup request payload.
type PickupRequest struct {
	CustomerCode       string
	AreaCode           string
	ContactPerson      string
	CustomerName       string
	Address1           string
	Address2           string
	Pincode            string
	Mobile             string
	ShipmentPickupDate string // yyyy-mm-dd
	ShipmentPickupTime string // HHMM
	OfficeCloseTime    string // HHMM
	NumberOfPieces     int
	WeightKg           float64
	ProductCode        string
	AWBNo              []string
}

// PickupResponse is the RegisterPickup result.
type PickupResponse struct {
	TokenNumber string
	IsError     bool
	Status      []StatusInfo
}

// APIError represents a SOAP fault or non-success HTTP response.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
	Body        string
}

func (e *APIError) Error() string {
	return "Blue Dart API error " + e.Code + ": " + e.Description
}

// firstStatus returns the first non-empty status line.
func firstStatus(lines []StatusInfo) string {
	for _, l := range lines {
		if l.StatusInformation != "" {
			return l.StatusInformation
		}
	}
	return ""
}
