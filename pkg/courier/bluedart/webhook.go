package bluedart

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tournevent/courier/pkg/courier"
)

// WebhookPayload is the status push Blue Dart posts. One payload may carry
// updates for several waybills.
type WebhookPayload struct {
	StatusTracking []WebhookEntry `json:"statustracking"`
}

// WebhookEntry wraps one shipment update.
type WebhookEntry struct {
	Shipment *WebhookShipment `json:"Shipment"`
}

// WebhookShipment is the pushed shipment with its new scans.
type WebhookShipment struct {
	SenderID  string `json:"SenderID,omitempty"`
	WaybillNo string `json:"WaybillNo"`
	RefNo     string `json:"RefNo"`
	Prodcode  string `json:"Prodcode,omitempty"`
	Scans     struct {
		ScanDetail []WebhookScan `json:"ScanDetail"`
	} `json:"Scans"`
}

// WebhookScan is one pushed scan.
type WebhookScan struct {
	ScanCode        string `json:"ScanCode"`
	ScanType        string `json:"ScanType"`
	Scan            string `json:"Scan"`
	ScannedLocation string `json:"ScannedLocation"`
	ScanDate        string `json:"ScanDate"`
	ScanTime        string `json:"ScanTime"`
	ReasonCode      string `json:"StatusReasonCode,omitempty"`
	Comments        string `json:"Comments,omitempty"`
}

// ParseWebhook decodes a Blue Dart status push and returns the newest event
// of its first shipment. Use ParseWebhookBatch to keep every scan.
func (c *Client) ParseWebhook(body []byte) courier.ResultOf[*courier.WebhookEvent] {
	return ParseWebhook(body)
}

// ParseWebhookBatch decodes every scan of every shipment in a Blue Dart
// status push.
func (c *Client) ParseWebhookBatch(body []byte) courier.ResultOf[[]*courier.WebhookEvent] {
	return ParseWebhookBatch(body)
}

// ParseWebhook is the stateless form of Client.ParseWebhook.
func ParseWebhook(body []byte) courier.ResultOf[*courier.WebhookEvent] {
	res := ParseWebhookBatch(body)
	if !res.Success {
		return courier.ResultOf[*courier.WebhookEvent]{Result: res.Result}
	}
	newest := res.Value[0]
	for _, ev := range res.Value[1:] {
		if ev.AWB != newest.AWB {
			break
		}
		newest = ev
	}
	return courier.OKOf(newest)
}

// ParseWebhookBatch is the stateless form of Client.ParseWebhookBatch. Each
// scan yields one event; a shipment's events are ordered oldest first and
// shipments keep payload order. Any invalid entry fails the whole payload.
func ParseWebhookBatch(body []byte) courier.ResultOf[[]*courier.WebhookEvent] {
	if len(bytes.TrimSpace(body)) == 0 {
		return invalidBatch("empty webhook payload", nil)
	}

	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return invalidBatch(fmt.Sprintf("malformed bluedart webhook: %v", err), err)
	}
	if len(p.StatusTracking) == 0 {
		return invalidBatch("bluedart webhook has no statustracking entries", nil)
	}

	var events []*courier.WebhookEvent
	for i, entry := range p.StatusTracking {
		s := entry.Shipment
		if s == nil || strings.TrimSpace(s.WaybillNo) == "" {
			return invalidBatch(fmt.Sprintf("bluedart webhook entry %d missing WaybillNo", i), nil)
		}
		scans := orderedScans(s.Scans.ScanDetail, time.Now())
		if len(scans) == 0 {
			return invalidBatch(fmt.Sprintf("bluedart webhook entry %d for %s has no scans", i, s.WaybillNo), nil)
		}

		for _, sc := range scans {
			ev := &courier.WebhookEvent{
				Provider:     ProviderName,
				AWB:          strings.TrimSpace(s.WaybillNo),
				Reference:    s.RefNo,
				ProviderCode: sc.ScanCode,
				StatusType:   sc.ScanType,
				Status:       MapStatus(sc.ScanCode, sc.ScanType),
				Location:     sc.ScannedLocation,
				Remarks:      firstNonEmpty(sc.Comments, sc.Scan),
				OccurredAt:   sc.at,
			}
			if ev.Status != nil && *ev.Status == courier.StatusDeliveryFailed {
				ev.NDRReason = MapNDRReason(sc.ReasonCode, firstNonEmpty(sc.Comments, sc.Scan))
			}
			events = append(events, ev)
		}
	}
	return courier.OKOf(events)
}

type timedScan struct {
	WebhookScan
	at time.Time
}

// orderedScans drops scans without a code and sorts the rest oldest first.
// When any scan time fails to parse, payload order is kept and unparsed
// times are stamped with now.
func orderedScans(scans []WebhookScan, now time.Time) []timedScan {
	out := make([]timedScan, 0, len(scans))
	sortable := true
	for _, sc := range scans {
		if strings.TrimSpace(sc.ScanCode) == "" {
			continue
		}
		at, ok := parseScanTime(sc.ScanDate, sc.ScanTime)
		if !ok {
			sortable = false
			at = now
		}
		out = append(out, timedScan{WebhookScan: sc, at: at})
	}
	if sortable {
		sort.SliceStable(out, func(i, j int) bool { return out[i].at.Before(out[j].at) })
	}
	return out
}

func invalidBatch(msg string, err error) courier.ResultOf[[]*courier.WebhookEvent] {
	cause := courier.ErrInvalidRequest
	if err != nil {
		cause = fmt.Errorf("%w: %v", courier.ErrInvalidRequest, err)
	}
	return courier.FailOfKind[[]*courier.WebhookEvent](courier.FailureValidation, msg, cause)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
