package courier

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap/zapcore"
)

// PaymentMode distinguishes prepaid from cash-on-delivery shipments.
type PaymentMode string

const (
	PaymentPrepaid PaymentMode = "prepaid"
	PaymentCOD     PaymentMode = "cod"
)

// Credentials holds a courier account's authentication material. Secrets are
// opaque to the adapter layer and are never logged in plaintext.
type Credentials struct {
	APIKey   string
	Secret   string
	Token    string
	Settings map[string]string // pickup location codes, customer codes, area codes
}

// Setting returns a provider setting or an empty string.
func (c Credentials) Setting(key string) string {
	if c.Settings == nil {
		return ""
	}
	return c.Settings[key]
}

// IsZero reports whether no secret material is present.
func (c Credentials) IsZero() bool {
	return c.APIKey == "" && c.Secret == "" && c.Token == ""
}

// String implements fmt.Stringer with secrets redacted.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{APIKey:%s Secret:%s Token:%s Settings:%d}",
		redact(c.APIKey), redact(c.Secret), redact(c.Token), len(c.Settings))
}

// GoString keeps %#v from printing secrets.
func (c Credentials) GoString() string {
	return c.String()
}

// MarshalLogObject implements zapcore.ObjectMarshaler with secrets redacted.
func (c Credentials) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("api_key", redact(c.APIKey))
	enc.AddString("secret", redact(c.Secret))
	enc.AddString("token", redact(c.Token))
	keys := make([]string, 0, len(c.Settings))
	for k := range c.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return enc.AddArray("settings", zapcore.ArrayMarshalerFunc(func(arr zapcore.ArrayEncoder) error {
		for _, k := range keys {
			arr.AppendString(k)
		}
		return nil
	}))
}

func redact(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 4:
		return "****"
	default:
		return "****" + s[len(s)-4:]
	}
}

// Dimensions are package dimensions in centimetres.
type Dimensions struct {
	LengthCm float64
	WidthCm  float64
	HeightCm float64
}

// Party is a pickup or delivery contact with address.
type Party struct {
	Name       string
	Company    string
	Phone      string
	Email      string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// Item is a line item carried in a shipment.
type Item struct {
	SKU       string
	Name      string
	Quantity  int
	UnitPrice float64
	HSNCode   string
}

// RateRequest asks for advisory rate estimates.
type RateRequest struct {
	WeightKg           float64
	Dimensions         Dimensions
	COD                bool
	CODAmount          float64
	PickupPostalCode   string
	DeliveryPostalCode string
	Express            bool // restrict to express services when true
}

// Rate is one quoted service. Rates are advisory estimates, not binding quotes.
type Rate struct {
	Provider         string
	AccountID        string
	ServiceCode      string
	ServiceName      string
	FreightCharge    float64
	CODCharge        float64
	TotalCharge      float64
	TransitDays      int
	ExpectedDelivery *time.Time
	Express          bool
}

// ShipmentRequest is immutable once submitted. Retries are idempotent on
// OrderReference.
type ShipmentRequest struct {
	OrderReference string
	Pickup         Party
	Delivery       Party
	Items          []Item
	DeclaredValue  float64
	COD            bool
	CODAmount      float64
	WeightKg       float64
	Dimensions     Dimensions
	Express        bool
	PickupLocation string // provider pickup location code; falls back to credentials setting
}

// PaymentMode returns the payment mode implied by the COD flag.
func (r *ShipmentRequest) PaymentMode() PaymentMode {
	if r.COD {
		return PaymentCOD
	}
	return PaymentPrepaid
}

// ShipmentResponse is the provider's acknowledgement of a created shipment.
type ShipmentResponse struct {
	AWB                string
	ProviderShipmentID string
	TrackingURL        string
	Status             Status
}

// TrackingEvent is one provider scan. Status is provider vocabulary.
type TrackingEvent struct {
	Time       time.Time
	Status     string
	StatusType string
	Location   string
	Remarks    string
}

// TrackingResponse is the tracking trail for one AWB.
type TrackingResponse struct {
	AWB              string
	Events           []TrackingEvent // provider order, not sorted
	CurrentStatus    string          // provider vocabulary of the latest event
	Canonical        *Status         // nil when the latest status is unmapped
	CurrentLocation  string
	ExpectedDelivery *time.Time
	DeliveredAt      *time.Time
	RecipientName    string
}

// Latest returns the newest event by timestamp. Provider ordering is not
// trusted.
func (t *TrackingResponse) Latest() (TrackingEvent, bool) {
	if len(t.Events) == 0 {
		return TrackingEvent{}, false
	}
	latest := t.Events[0]
	for _, e := range t.Events[1:] {
		if e.Time.After(latest.Time) {
			latest = e
		}
	}
	return latest, true
}

// Chronological returns a copy of the events sorted oldest-first. Events with
// equal timestamps keep their provider order.
func (t *TrackingResponse) Chronological() []TrackingEvent {
	out := make([]TrackingEvent, len(t.Events))
	copy(out, t.Events)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})
	return out
}

// PickupRequest registers a pickup for a batch of AWBs.
type PickupRequest struct {
	AWBs           []string
	Date           time.Time
	SlotStart      string // HH:MM
	SlotEnd        string // HH:MM
	PickupLocation string
}

// PickupResponse confirms a scheduled pickup.
type PickupResponse struct {
	ConfirmationID string
	Count          int
	ScheduledFor   time.Time
}

// WebhookEvent is the canonical form of an inbound provider delivery event.
type WebhookEvent struct {
	Provider     string
	AWB          string
	Reference    string
	ProviderCode string
	StatusType   string
	Status       *Status   // nil when ProviderCode is unmapped
	NDRReason    NDRReason // provider-mapped, empty when not applicable
	Location     string
	Remarks      string
	OccurredAt   time.Time
}
