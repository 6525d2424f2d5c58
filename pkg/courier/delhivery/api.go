package delhivery

import (
	"context"
)

// APIClient defines the wire-level Delhivery operations.
// This abstraction allows for mock implementations during testing
// and real implementations in production.
type APIClient interface {
	// CheckPincode fetches serviceability for a postal code
	CheckPincode(ctx context.Context, token, pin string) (*PincodeResponse, error)

	// GetCharges fetches the invoice charge estimate for a route
	GetCharges(ctx context.Context, token string, req *ChargesRequest) ([]ChargeResponse, error)

	// CreateShipment manifests one or more shipments
	CreateShipment(ctx context.Context, token string, req *CreateRequest) (*CreateResponse, error)

	// Track retrieves tracking information for a waybill
	Track(ctx context.Context, token, waybill string) (*TrackResponse, error)

	// Cancel cancels a manifested waybill
	Cancel(ctx context.Context, token, waybill string) (*CancelResponse, error)

	// PackingSlip retrieves the label for a waybill
	PackingSlip(ctx context.Context, token, waybill string) (*PackingSlipResponse, error)

	// CreatePickup registers a pickup request
	CreatePickup(ctx context.Context, token string, req *PickupRequest) (*PickupResponse, error)
}

// ============================================================================
// API Request/Response Types (match Delhivery B2C REST API structure)
// ============================================================================

// PincodeResponse is returned by GET /c/api/pin-codes/json/.
type PincodeResponse struct {
	DeliveryCodes []DeliveryCode `json:"delivery_codes"`
}

// DeliveryCode wraps one postal code record.
type DeliveryCode struct {
	PostalCode PostalCode `json:"postal_code"`
}

// PostalCode carries serviceability flags ("Y"/"N").
type PostalCode struct {
	Pin       int    `json:"pin"`
	District  string `json:"district"`
	StateCode string `json:"state_code"`
	PrePaid   string `json:"pre_paid"`
	COD       string `json:"cod"`
	Pickup    string `json:"pickup"`
	IsODA     string `json:"is_oda"`
}

// ChargesRequest is sent as query parameters to GET /api/kinko/v1/invoice/charges/.json.
type ChargesRequest struct {
	Mode        string  // "S" surface, "E" express
	OriginPin   string  // o_pin
	DestPin     string  // d_pin
	WeightGrams int     // cgm
	PaymentType string  // "Pre-paid" or "COD"
	CODAmount   float64 // cod
}

// ChargeResponse is one charge breakdown.
type ChargeResponse struct {
	Zone        string  `json:"zone"`
	ChargeDL    float64 `json:"charge_DL"`
	ChargeCOD   float64 `json:"charge_COD"`
	ChargeFSC   float64 `json:"charge_FSC"`
	GrossAmount float64 `json:"gross_amount"`
	TotalAmount float64 `json:"total_amount"`
	Status      string  `json:"status"`
}

// CreateRequest is form-encoded as format=json&data=<json> to POST /api/cmu/create.json.
type CreateRequest struct {
	Shipments      []Shipment     `json:"shipments"`
	PickupLocation PickupLocation `json:"pickup_location"`
}

// Shipment is a single consignment in a create request.
type Shipment struct {
	Name          string  `json:"name"`
	Add           string  `json:"add"`
	Pin           string  `json:"pin"`
	City          string  `json:"city"`
	State         string  `json:"state"`
	Country       string  `json:"country"`
	Phone         string  `json:"phone"`
	OrderID       string  `json:"order"`
	PaymentMode   string  `json:"payment_mode"` // "Prepaid", "COD"
	CODAmount     float64 `json:"cod_amount"`
	TotalAmount   float64 `json:"total_amount"`
	ProductsDesc  string  `json:"products_desc"`
	Quantity      int     `json:"quantity"`
	WeightGrams   float64 `json:"weight"`
	LengthCm      float64 `json:"shipment_length,omitempty"`
	WidthCm       float64 `json:"shipment_width,omitempty"`
	HeightCm      float64 `json:"shipment_height,omitempty"`
	ShippingMode  string  `json:"shipping_mode"` // "Surface", "Express"
	ReturnName    string  `json:"return_name,omitempty"`
	ReturnAdd     string  `json:"return_add,omitempty"`
	ReturnPin     string  `json:"return_pin,omitempty"`
	ReturnCity    string  `json:"return_city,omitempty"`
	ReturnState   string  `json:"return_state,omitempty"`
	ReturnPhone   string  `json:"return_phone,omitempty"`
	SellerName    string  `json:"seller_name,omitempty"`
	HSNCode       string  `json:"hsn_code,omitempty"`
	Waybill       string  `json:"waybill,omitempty"`
	SellerAddress string  `json:"seller_add,omitempty"`
}

// PickupLocation names the registered warehouse.
type PickupLocation struct {
	Name string `json:"name"`
}

// CreateResponse is the manifest response.
type CreateResponse struct {
	Success    bool             `json:"success"`
	RMK        string           `json:"rmk,omitempty"`
	UploadWBN  string           `json:"upload_wbn,omitempty"`
	Packages   []CreatedPackage `json:"packages"`
	Error      bool             `json:"error,omitempty"`
	PackageCnt int              `json:"package_count"`
}

// CreatedPackage is the per-consignment manifest result.
type CreatedPackage struct {
	Waybill  string   `json:"waybill"`
	RefNum   string   `json:"refnum"`
	Status   string   `json:"status"`
	Remarks  []string `json:"remarks"`
	Serviced bool     `json:"serviceable"`
}

// TrackResponse is returned by GET /api/v1/packages/json/.
type TrackResponse struct {
	ShipmentData []ShipmentData `json:"ShipmentData"`
	Error        string         `json:"Error,omitempty"`
}

// ShipmentData wraps a tracked shipment.
type ShipmentData struct {
	Shipment TrackedShipment `json:"Shipment"`
}

// TrackedShipment is the tracking record for one waybill.
type TrackedShipment struct {
	AWB                  string        `json:"AWB"`
	ReferenceNo          string        `json:"ReferenceNo"`
	Status               ShipmentState `json:"Status"`
	Scans                []ScanWrapper `json:"Scans"`
	ExpectedDeliveryDate string        `json:"ExpectedDeliveryDate,omitempty"`
	DeliveryDate         string        `json:"DeliveryDate,omitempty"`
	ReceivedBy           string        `json:"ReceivedBy,omitempty"`
}

// ShipmentState is the current status block.
type ShipmentState struct {
	Status         string `json:"Status"`
	StatusType     string `json:"StatusType"`
	StatusLocation string `json:"StatusLocation"`
	StatusDateTime string `json:"StatusDateTime"`
	Instructions   string `json:"Instructions"`
}

// ScanWrapper wraps a scan record.
type ScanWrapper struct {
	ScanDetail ScanDetail `json:"ScanDetail"`
}

// ScanDetail is one historical scan.
type ScanDetail struct {
	Scan            string `json:"Scan"`
	ScanType        string `json:"ScanType"`
	ScannedLocation string `json:"ScannedLocation"`
	ScanDateTime    string `json:"ScanDateTime"`
	Instructions    string `json:"Instructions"`
	NSLCode         string `json:"StatusCode,omitempty"`
}

// CancelResponse is returned by POST /api/p/edit.
type CancelResponse struct {
	Status  bool   `json:"status"`
	Waybill string `json:"waybill"`
	Remark  string `json:"remark"`
	Error   string `json:"error,omitempty"`
}

// PackingSlipResponse is returned by GET /api/p/packing_slip.
type PackingSlipResponse struct {
	Packages     []PackingSlip `json:"packages"`
	PackageCount int           `json:"packages_found"`
}

// PackingSlip carries a base64-encoded PDF label.
type PackingSlip struct {
	Waybill     string `json:"wbn"`
	PDFEncoding string `json:"pdf_encoding"`
	PDFLink     string `json:"pdf_download_link,omitempty"`
}

// PickupRequest is sent to POST /fm/request/new/.
type PickupRequest struct {
	PickupTime           string `json:"pickup_time"` // HH:MM:SS
	PickupDate           string `json:"pickup_date"` // YYYY-MM-DD
	PickupLocation       string `json:"pickup_location"`
	ExpectedPackageCount int    `json:"expected_package_count"`
}

// PickupResponse confirms a pickup request.
type PickupResponse struct {
	PickupID             int64  `json:"pickup_id"`
	IncomingCenterName   string `json:"incoming_center_name"`
	PickupDate           string `json:"pickup_date"`
	PickupTime           string `json:"pickup_time"`
	ExpectedPackageCount int    `json:"expected_package_count"`
	Error                string `json:"error,omitempty"`
}

// APIError represents an error response from the Delhivery API.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Body
}
