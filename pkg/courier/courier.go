// Package courier provides the provider-agnostic contract for shipping couriers.
package courier

import (
	"context"
)

// Adapter defines the canonical contract every courier integration implements.
// Expected business conditions are reported through the returned results;
// no method returns provider-native types.
type Adapter interface {
	// Provider returns the provider identifier (e.g., "delhivery", "bluedart").
	Provider() string

	// ValidateCredentials performs a cheap read-only provider call to confirm
	// the credentials are live.
	ValidateCredentials(ctx context.Context, creds Credentials) Result

	// GetRates returns advisory rate estimates for a route.
	GetRates(ctx context.Context, creds Credentials, req *RateRequest) ResultOf[[]Rate]

	// CreateShipment manifests a shipment and returns the provider-assigned AWB.
	CreateShipment(ctx context.Context, creds Credentials, req *ShipmentRequest) ResultOf[*ShipmentResponse]

	// GetTracking returns the tracking trail for an AWB.
	GetTracking(ctx context.Context, creds Credentials, awb string) ResultOf[*TrackingResponse]

	// CancelShipment cancels a manifested shipment.
	CancelShipment(ctx context.Context, creds Credentials, awb string) Result

	// GetLabel returns the printable label document.
	GetLabel(ctx context.Context, creds Credentials, awb string) ResultOf[[]byte]

	// SchedulePickup registers a pickup for a batch of AWBs.
	SchedulePickup(ctx context.Context, creds Credentials, req *PickupRequest) ResultOf[*PickupResponse]
}

// WebhookParser turns a provider's inbound delivery-event payload into a
// canonical webhook event.
type WebhookParser interface {
	ParseWebhook(body []byte) ResultOf[*WebhookEvent]
}

// BatchWebhookParser is implemented by parsers whose providers deliver
// several events in one payload. Events are returned in payload order.
type BatchWebhookParser interface {
	ParseWebhookBatch(body []byte) ResultOf[[]*WebhookEvent]
}

// StatusMapper maps a provider status code to a canonical status. A nil
// result means the code is unknown and must not drive a transition.
type StatusMapper interface {
	MapStatus(code, statusType string) *Status
}
