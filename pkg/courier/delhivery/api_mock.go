package delhivery

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"
)

// MockAPIClient is a mock implementation of APIClient for testing.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	// UnserviceablePins lists postal codes CheckPincode reports as not served.
	UnserviceablePins map[string]bool
	// PrepaidOnlyPins lists postal codes that do not accept COD.
	PrepaidOnlyPins map[string]bool

	OnCheckPincode   func(ctx context.Context, token, pin string) (*PincodeResponse, error)
	OnGetCharges     func(ctx context.Context, token string, req *ChargesRequest) ([]ChargeResponse, error)
	OnCreateShipment func(ctx context.Context, token string, req *CreateRequest) (*CreateResponse, error)
	OnTrack          func(ctx context.Context, token, waybill string) (*TrackResponse, error)
	OnCancel         func(ctx context.Context, token, waybill string) (*CancelResponse, error)
	OnPackingSlip    func(ctx context.Context, token, waybill string) (*PackingSlipResponse, error)
	OnCreatePickup   func(ctx context.Context, token string, req *PickupRequest) (*PickupResponse, error)

	seq atomic.Int64
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{}
}

func (m *MockAPIClient) simulate(ctx context.Context) error {
	if m.SimulateLatency > 0 {
		select {
		case <-time.After(m.SimulateLatency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.SimulateErrors {
		return &APIError{StatusCode: 500, Message: "Simulated API error"}
	}
	return nil
}

// CheckPincode returns mock serviceability.
func (m *MockAPIClient) CheckPincode(ctx context.Context, token, pin string) (*PincodeResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnCheckPincode != nil {
		return m.OnCheckPincode(ctx, token, pin)
	}

	if m.UnserviceablePins[pin] {
		return &PincodeResponse{}, nil
	}
	n, _ := strconv.Atoi(pin)
	cod := "Y"
	if m.PrepaidOnlyPins[pin] {
		cod = "N"
	}
	return &PincodeResponse{
		DeliveryCodes: []DeliveryCode{
			{PostalCode: PostalCode{Pin: n, District: "Mock", StateCode: "MH", PrePaid: "Y", COD: cod, Pickup: "Y", IsODA: "N"}},
		},
	}, nil
}

// GetCharges returns a mock charge breakdown.
func (m *MockAPIClient) GetCharges(ctx context.Context, token string, req *ChargesRequest) ([]ChargeResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnGetCharges != nil {
		return m.OnGetCharges(ctx, token, req)
	}

	slabs := float64((req.WeightGrams + 499) / 500)
	freight := 45.0 * slabs
	if req.Mode == "E" {
		freight = 70.0 * slabs
	}
	cod := 0.0
	if req.PaymentType == "COD" {
		cod = 40.0
	}
	fsc := freight * 0.1
	return []ChargeResponse{
		{
			Zone:        "D",
			ChargeDL:    freight,
			ChargeCOD:   cod,
			ChargeFSC:   fsc,
			GrossAmount: freight + cod + fsc,
			TotalAmount: freight + cod + fsc,
			Status:      "Delivered",
		},
	}, nil
}

// CreateShipment manifests a mock shipment.
func (m *MockAPIClient) CreateShipment(ctx context.Context, token string, req *CreateRequest) (*CreateResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnCreateShipment != nil {
		return m.OnCreateShipment(ctx, token, req)
	}

	pkgs := make([]CreatedPackage, len(req.Shipments))
	for i, s := range req.Shipments {
		pkgs[i] = CreatedPackage{
			Waybill:  fmt.Sprintf("1490%010d", m.seq.Add(1)),
			RefNum:   s.OrderID,
			Status:   "Success",
			Serviced: true,
		}
	}
	return &CreateResponse{
		Success:    true,
		UploadWBN:  fmt.Sprintf("UPL%d", time.Now().UnixNano()%1000000),
		Packages:   pkgs,
		PackageCnt: len(pkgs),
	}, nil
}

// Track returns a mock tracking trail.
func (m *MockAPIClient) Track(ctx context.Context, token, waybill string) (*TrackResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnTrack != nil {
		return m.OnTrack(ctx, token, waybill)
	}

	now := time.Now().In(ist)
	ts := func(d time.Duration) string { return now.Add(-d).Format(timeLayout) }
	return &TrackResponse{
		ShipmentData: []ShipmentData{
			{Shipment: TrackedShipment{
				AWB: waybill,
				Status: ShipmentState{
					Status:         "In Transit",
					StatusType:     "UD",
					StatusLocation: "Bhiwandi_DC (Maharashtra)",
					StatusDateTime: ts(time.Hour),
				},
				Scans: []ScanWrapper{
					{ScanDetail: ScanDetail{Scan: "Manifested", ScanType: "UD", ScannedLocation: "Mumbai_Hub", ScanDateTime: ts(26 * time.Hour)}},
					{ScanDetail: ScanDetail{Scan: "In Transit", ScanType: "UD", ScannedLocation: "Bhiwandi_DC (Maharashtra)", ScanDateTime: ts(time.Hour)}},
					{ScanDetail: ScanDetail{Scan: "Picked Up", ScanType: "UD", ScannedLocation: "Mumbai_Hub", ScanDateTime: ts(20 * time.Hour)}},
				},
				ExpectedDeliveryDate: now.AddDate(0, 0, 2).Format(timeLayout),
			}},
		},
	}, nil
}

// Cancel cancels a mock waybill.
func (m *MockAPIClient) Cancel(ctx context.Context, token, waybill string) (*CancelResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnCancel != nil {
		return m.OnCancel(ctx, token, waybill)
	}
	return &CancelResponse{Status: true, Waybill: waybill, Remark: "Shipment has been cancelled."}, nil
}

// PackingSlip returns a mock label.
func (m *MockAPIClient) PackingSlip(ctx context.Context, token, waybill string) (*PackingSlipResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnPackingSlip != nil {
		return m.OnPackingSlip(ctx, token, waybill)
	}
	pdf := base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 mock label " + waybill))
	return &PackingSlipResponse{
		Packages:     []PackingSlip{{Waybill: waybill, PDFEncoding: pdf}},
		PackageCount: 1,
	}, nil
}

// CreatePickup registers a mock pickup.
func (m *MockAPIClient) CreatePickup(ctx context.Context, token string, req *PickupRequest) (*PickupResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnCreatePickup != nil {
		return m.OnCreatePickup(ctx, token, req)
	}
	return &PickupResponse{
		PickupID:             100000 + m.seq.Add(1),
		IncomingCenterName:   "Mock_Center",
		PickupDate:           req.PickupDate,
		PickupTime:           req.PickupTime,
		ExpectedPackageCount: req.ExpectedPackageCount,
	}, nil
}

// Ensure MockAPIClient implements APIClient interface
var _ APIClient = (*MockAPIClient)(nil)
