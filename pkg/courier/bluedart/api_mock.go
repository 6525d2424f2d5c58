package bluedart

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync/atomic"
	"time"
)

// MockAPIClient is a mock implementation of APIClient for testing.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	// UnserviceablePins lists postal codes the Finder reports as not served.
	UnserviceablePins map[string]bool
	// NoCODPins lists postal codes without COD inbound service.
	NoCODPins map[string]bool

	OnGetServicesForPincode func(ctx context.Context, profile Profile, pin string) (*PincodeServices, error)
	OnGenerateWayBill       func(ctx context.Context, profile Profile, req *WayBillRequest) (*WayBillResponse, error)
	OnCancelWayBill         func(ctx context.Context, profile Profile, awb string) (*CancelResponse, error)
	OnTrack                 func(ctx context.Context, profile Profile, awb string) (*TrackResponse, error)
	OnPrintWayBill          func(ctx context.Context, profile Profile, awb string) (*PrintResponse, error)
	OnRegisterPickup        func(ctx context.Context, profile Profile, req *PickupRequest) (*PickupResponse, error)

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
		return &APIError{StatusCode: 500, Code: "a:InternalServiceFault", Description: "Simulated API error"}
	}
	return nil
}

// GetServicesForPincode returns mock serviceability.
func (m *MockAPIClient) GetServicesForPincode(ctx context.Context, profile Profile, pin string) (*PincodeServices, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnGetServicesForPincode != nil {
		return m.OnGetServicesForPincode(ctx, profile, pin)
	}

	if m.UnserviceablePins[pin] {
		return &PincodeServices{PinCode: pin, IsError: true, ErrorMessage: "Invalid PinCode"}, nil
	}
	cod := !m.NoCODPins[pin]
	return &PincodeServices{
		PinCode:           pin,
		AreaCode:          "BOM",
		ServiceCenterCode: "BOM01",
		ApexInbound:       true,
		ApexOutbound:      true,
		GroundInbound:     true,
		GroundOutbound:    true,
		ApexCODInbound:    cod,
		GroundCODInbound:  cod,
	}, nil
}

// GenerateWayBill manifests a mock shipment.
func (m *MockAPIClient) GenerateWayBill(ctx context.Context, profile Profile, req *WayBillRequest) (*WayBillResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnGenerateWayBill != nil {
		return m.OnGenerateWayBill(ctx, profile, req)
	}
	return &WayBillResponse{
		AWBNo:               fmt.Sprintf("6970%07d", m.seq.Add(1)),
		DestinationArea:     "DEL",
		DestinationLocation: "NEW DELHI",
		Status:              []StatusInfo{{StatusCode: "Valid", StatusInformation: "Waybill Generation Sucessful"}},
	}, nil
}

// CancelWayBill cancels a mock waybill.
func (m *MockAPIClient) CancelWayBill(ctx context.Context, profile Profile, awb string) (*CancelResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnCancelWayBill != nil {
		return m.OnCancelWayBill(ctx, profile, awb)
	}
	return &CancelResponse{
		AWBNo:  awb,
		Status: []StatusInfo{{StatusCode: "Valid", StatusInformation: "Waybill Cancelled"}},
	}, nil
}

// Track returns a mock scan trail.
func (m *MockAPIClient) Track(ctx context.Context, profile Profile, awb string) (*TrackResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnTrack != nil {
		return m.OnTrack(ctx, profile, awb)
	}

	now := time.Now().In(ist)
	scan := func(code, text, loc string, ago time.Duration) ScanDetail {
		t := now.Add(-ago)
		return ScanDetail{
			Scan:            text,
			ScanCode:        code,
			ScanType:        legForward,
			ScanDate:        t.Format("02-Jan-2006"),
			ScanTime:        t.Format("15:04"),
			ScannedLocation: loc,
		}
	}
	return &TrackResponse{
		Shipments: []TrackedShipment{{
			WaybillNo:            awb,
			Status:               "In Transit",
			StatusType:           legForward,
			ExpectedDeliveryDate: now.AddDate(0, 0, 2).Format("02-Jan-2006"),
			Scans: []ScanDetail{
				scan("IT", "In Transit", "DELHI HUB", time.Hour),
				scan("PU", "Shipment Picked Up", "MUMBAI", 20*time.Hour),
				scan("MF", "Online shipment booked", "MUMBAI", 26*time.Hour),
			},
		}},
	}, nil
}

// PrintWayBill returns a mock label.
func (m *MockAPIClient) PrintWayBill(ctx context.Context, profile Profile, awb string) (*PrintResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnPrintWayBill != nil {
		return m.OnPrintWayBill(ctx, profile, awb)
	}
	return &PrintResponse{
		AWBNo:   awb,
		Content: base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 mock waybill " + awb)),
	}, nil
}

// RegisterPickup books a mock pickup.
func (m *MockAPIClient) RegisterPickup(ctx context.Context, profile Profile, req *PickupRequest) (*PickupResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnRegisterPickup != nil {
		return m.OnRegisterPickup(ctx, profile, req)
	}
	return &PickupResponse{
		TokenNumber: fmt.Sprintf("%d", 500000+m.seq.Add(1)),
		Status:      []StatusInfo{{StatusCode: "Valid", StatusInformation: "Pickup registered"}},
	}, nil
}

// Ensure MockAPIClient implements APIClient interface
var _ APIClient = (*MockAPIClient)(nil)
