package server

import (
	"time"

	"github.com/tournevent/courier/internal/ndr"
	"github.com/tournevent/courier/internal/shipment"
	"github.com/tournevent/courier/pkg/courier"
)

// Request bodies

type partyInput struct {
	Name       string `json:"name" binding:"required"`
	Company    string `json:"company"`
	Phone      string `json:"phone" binding:"required"`
	Email      string `json:"email"`
	Line1      string `json:"line1" binding:"required"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code" binding:"required"`
	Country    string `json:"country"`
}

func (p partyInput) toCourier() courier.Party {
	return courier.Party{
		Name:       p.Name,
		Company:    p.Company,
		Phone:      p.Phone,
		Email:      p.Email,
		Line1:      p.Line1,
		Line2:      p.Line2,
		City:       p.City,
		State:      p.State,
		PostalCode: p.PostalCode,
		Country:    p.Country,
	}
}

type dimensionsInput struct {
	LengthCm float64 `json:"length_cm"`
	WidthCm  float64 `json:"width_cm"`
	HeightCm float64 `json:"height_cm"`
}

func (d dimensionsInput) toCourier() courier.Dimensions {
	return courier.Dimensions{LengthCm: d.LengthCm, WidthCm: d.WidthCm, HeightCm: d.HeightCm}
}

type itemInput struct {
	SKU       string  `json:"sku"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	HSNCode   string  `json:"hsn_code"`
}

type rateInput struct {
	AccountID          string          `json:"account_id"`
	TenantID           string          `json:"tenant_id"`
	WeightKg           float64         `json:"weight_kg" binding:"required,gt=0"`
	Dimensions         dimensionsInput `json:"dimensions"`
	COD                bool            `json:"cod"`
	CODAmount          float64         `json:"cod_amount"`
	PickupPostalCode   string          `json:"pickup_postal_code" binding:"required"`
	DeliveryPostalCode string          `json:"delivery_postal_code" binding:"required"`
	Express            bool            `json:"express"`
}

func (in rateInput) toCourier() *courier.RateRequest {
	return &courier.RateRequest{
		WeightKg:           in.WeightKg,
		Dimensions:         in.Dimensions.toCourier(),
		COD:                in.COD,
		CODAmount:          in.CODAmount,
		PickupPostalCode:   in.PickupPostalCode,
		DeliveryPostalCode: in.DeliveryPostalCode,
		Express:            in.Express,
	}
}

type shipmentInput struct {
	AccountID      string          `json:"account_id" binding:"required"`
	OrderReference string          `json:"order_reference" binding:"required"`
	Pickup         partyInput      `json:"pickup"`
	Delivery       partyInput      `json:"delivery"`
	Items          []itemInput     `json:"items"`
	DeclaredValue  float64         `json:"declared_value"`
	COD            bool            `json:"cod"`
	CODAmount      float64         `json:"cod_amount"`
	WeightKg       float64         `json:"weight_kg" binding:"required,gt=0"`
	Dimensions     dimensionsInput `json:"dimensions"`
	Express        bool            `json:"express"`
	PickupLocation string          `json:"pickup_location"`
}

func (in shipmentInput) toCourier() *courier.ShipmentRequest {
	items := make([]courier.Item, len(in.Items))
	for i, it := range in.Items {
		items[i] = courier.Item{SKU: it.SKU, Name: it.Name, Quantity: it.Quantity, UnitPrice: it.UnitPrice, HSNCode: it.HSNCode}
	}
	return &courier.ShipmentRequest{
		OrderReference: in.OrderReference,
		Pickup:         in.Pickup.toCourier(),
		Delivery:       in.Delivery.toCourier(),
		Items:          items,
		DeclaredValue:  in.DeclaredValue,
		COD:            in.COD,
		CODAmount:      in.CODAmount,
		WeightKg:       in.WeightKg,
		Dimensions:     in.Dimensions.toCourier(),
		Express:        in.Express,
		PickupLocation: in.PickupLocation,
	}
}

type statusInput struct {
	Status       string     `json:"status" binding:"required"`
	ProviderCode string     `json:"provider_code"`
	Location     string     `json:"location"`
	Remarks      string     `json:"remarks"`
	Reason       string     `json:"reason"`
	OccurredAt   *time.Time `json:"occurred_at"`
}

type pickupInput struct {
	AccountID      string    `json:"account_id" binding:"required"`
	AWBs           []string  `json:"awbs" binding:"required"`
	Date           time.Time `json:"date" binding:"required"`
	SlotStart      string    `json:"slot_start"`
	SlotEnd        string    `json:"slot_end"`
	PickupLocation string    `json:"pickup_location"`
}

type caseInput struct {
	Actor string `json:"actor"`
	Note  string `json:"note"`
}

type assignInput struct {
	Agent string `json:"agent" binding:"required"`
	Actor string `json:"actor"`
}

type reattemptInput struct {
	At    time.Time `json:"at" binding:"required"`
	Actor string    `json:"actor"`
	Note  string    `json:"note"`
}

type caseStatusInput struct {
	Status string `json:"status" binding:"required"`
	Actor  string `json:"actor"`
	Note   string `json:"note"`
}

// Responses

type rateView struct {
	Provider         string     `json:"provider"`
	AccountID        string     `json:"account_id"`
	ServiceCode      string     `json:"service_code"`
	ServiceName      string     `json:"service_name"`
	FreightCharge    float64    `json:"freight_charge"`
	CODCharge        float64    `json:"cod_charge"`
	TotalCharge      float64    `json:"total_charge"`
	TransitDays      int        `json:"transit_days"`
	ExpectedDelivery *time.Time `json:"expected_delivery,omitempty"`
	Express          bool       `json:"express"`
}

func rateViews(rates []courier.Rate) []rateView {
	out := make([]rateView, len(rates))
	for i, r := range rates {
		out[i] = rateView{
			Provider:         r.Provider,
			AccountID:        r.AccountID,
			ServiceCode:      r.ServiceCode,
			ServiceName:      r.ServiceName,
			FreightCharge:    r.FreightCharge,
			CODCharge:        r.CODCharge,
			TotalCharge:      r.TotalCharge,
			TransitDays:      r.TransitDays,
			ExpectedDelivery: r.ExpectedDelivery,
			Express:          r.Express,
		}
	}
	return out
}

type shipmentView struct {
	ID             string                  `json:"id"`
	TenantID       string                  `json:"tenant_id"`
	AccountID      string                  `json:"account_id"`
	Provider       string                  `json:"provider"`
	OrderReference string                  `json:"order_reference"`
	AWB            string                  `json:"awb"`
	TrackingURL    string                  `json:"tracking_url,omitempty"`
	COD            bool                    `json:"cod"`
	CODAmount      float64                 `json:"cod_amount,omitempty"`
	Status         courier.Status          `json:"status"`
	History        []shipment.HistoryEntry `json:"history"`
	Restocked      bool                    `json:"restocked"`
	Version        int64                   `json:"version"`
	CreatedAt      time.Time               `json:"created_at"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

func newShipmentView(s *shipment.Shipment) shipmentView {
	return shipmentView{
		ID:             s.ID,
		TenantID:       s.TenantID,
		AccountID:      s.AccountID,
		Provider:       s.Provider,
		OrderReference: s.OrderReference,
		AWB:            s.AWB,
		TrackingURL:    s.TrackingURL,
		COD:            s.COD,
		CODAmount:      s.CODAmount,
		Status:         s.Status,
		History:        s.History,
		Restocked:      s.Restocked,
		Version:        s.Version,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

type trackingEventView struct {
	Time       time.Time `json:"time"`
	Status     string    `json:"status"`
	StatusType string    `json:"status_type,omitempty"`
	Location   string    `json:"location,omitempty"`
	Remarks    string    `json:"remarks,omitempty"`
}

type trackingView struct {
	AWB           string              `json:"awb"`
	CurrentStatus string              `json:"current_status"`
	Canonical     *courier.Status     `json:"canonical,omitempty"`
	Events        []trackingEventView `json:"events"`
}

func newTrackingView(t *courier.TrackingResponse) trackingView {
	v := trackingView{AWB: t.AWB, CurrentStatus: t.CurrentStatus, Canonical: t.Canonical}
	for _, e := range t.Chronological() {
		v.Events = append(v.Events, trackingEventView(e))
	}
	return v
}

type caseView struct {
	ID              string            `json:"id"`
	ShipmentID      string            `json:"shipment_id"`
	TenantID        string            `json:"tenant_id"`
	AWB             string            `json:"awb"`
	Reason          courier.NDRReason `json:"reason"`
	Status          ndr.Status        `json:"status"`
	AssignedAgent   string            `json:"assigned_agent,omitempty"`
	Actions         []ndr.Action      `json:"actions"`
	Log             []ndr.LogEntry    `json:"log"`
	Remarks         string            `json:"remarks,omitempty"`
	NextReattemptAt *time.Time        `json:"next_reattempt_at,omitempty"`
	FailedAttempts  int               `json:"failed_attempts"`
	MaxAttempts     int               `json:"max_attempts"`
	OpenedAt        time.Time         `json:"opened_at"`
	ResolvedAt      *time.Time        `json:"resolved_at,omitempty"`
	Version         int64             `json:"version"`
}

func newCaseView(c *ndr.Case) caseView {
	return caseView{
		ID:              c.ID,
		ShipmentID:      c.ShipmentID,
		TenantID:        c.TenantID,
		AWB:             c.AWB,
		Reason:          c.Reason,
		Status:          c.Status,
		AssignedAgent:   c.AssignedAgent,
		Actions:         c.Actions,
		Log:             c.Log,
		Remarks:         c.Remarks,
		NextReattemptAt: c.NextReattemptAt,
		FailedAttempts:  c.FailedAttempts,
		MaxAttempts:     c.MaxAttempts,
		OpenedAt:        c.OpenedAt,
		ResolvedAt:      c.ResolvedAt,
		Version:         c.Version,
	}
}
