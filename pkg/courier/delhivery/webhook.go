package delhivery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tournevent/courier/pkg/courier"
)

// WebhookPayload is the scan-push body Delhivery posts per status change.
type WebhookPayload struct {
	Shipment *WebhookShipment `json:"Shipment"`
}

// WebhookShipment carries the pushed scan.
type WebhookShipment struct {
	AWB         string        `json:"AWB"`
	ReferenceNo string        `json:"ReferenceNo"`
	Status      ShipmentState `json:"Status"`
	NSLCode     string        `json:"NSLCode"`
	PickUpDate  string        `json:"PickUpDate,omitempty"`
	Sortcode    string        `json:"Sortcode,omitempty"`
}

// ParseWebhook decodes a Delhivery scan push into a canonical webhook event.
// A payload whose status is unmapped still parses; its Status is nil.
func (c *Client) ParseWebhook(body []byte) courier.ResultOf[*courier.WebhookEvent] {
	return ParseWebhook(body)
}

// ParseWebhook is the stateless form of Client.ParseWebhook.
func ParseWebhook(body []byte) courier.ResultOf[*courier.WebhookEvent] {
	if len(bytes.TrimSpace(body)) == 0 {
		return courier.FailOfKind[*courier.WebhookEvent](courier.FailureValidation, "empty webhook payload", courier.ErrInvalidRequest)
	}

	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return courier.FailOfKind[*courier.WebhookEvent](courier.FailureValidation,
			fmt.Sprintf("malformed delhivery webhook: %v", err),
			fmt.Errorf("%w: %v", courier.ErrInvalidRequest, err))
	}
	if p.Shipment == nil {
		return courier.FailOfKind[*courier.WebhookEvent](courier.FailureValidation, "delhivery webhook missing Shipment", courier.ErrInvalidRequest)
	}

	s := p.Shipment
	awb := strings.TrimSpace(s.AWB)
	if awb == "" {
		return courier.FailOfKind[*courier.WebhookEvent](courier.FailureValidation, "delhivery webhook missing AWB", courier.ErrInvalidRequest)
	}
	if strings.TrimSpace(s.Status.Status) == "" {
		return courier.FailOfKind[*courier.WebhookEvent](courier.FailureValidation, "delhivery webhook missing status", courier.ErrInvalidRequest)
	}

	occurred, ok := parseTime(s.Status.StatusDateTime)
	if !ok {
		occurred = time.Now()
	}

	ev := &courier.WebhookEvent{
		Provider:     ProviderName,
		AWB:          awb,
		Reference:    s.ReferenceNo,
		ProviderCode: s.Status.Status,
		StatusType:   s.Status.StatusType,
		Status:       MapStatus(s.Status.Status, s.Status.StatusType),
		Location:     s.Status.StatusLocation,
		Remarks:      s.Status.Instructions,
		OccurredAt:   occurred,
	}
	if ev.Status != nil && *ev.Status == courier.StatusDeliveryFailed {
		ev.NDRReason = MapNDRReason(s.NSLCode, s.Status.Instructions)
	}
	return courier.OKOf(ev)
}
