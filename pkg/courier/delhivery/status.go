package delhivery

import (
	"strings"
	"time"

	"github.com/tournevent/courier/pkg/courier"
)

// Delhivery reports a free-text Status alongside a StatusType:
// UD (forward leg), PP (pickup pending), PU (picked up), DL (delivered),
// RT (return leg), CN (cancelled), LT (lost).
const (
	typeForward       = "UD"
	typePickupPending = "PP"
	typePickedUp      = "PU"
	typeDelivered     = "DL"
	typeReturn        = "RT"
	typeCancelled     = "CN"
	typeLost          = "LT"
)

// forwardStatuses applies to UD, PP, PU and an empty StatusType.
var forwardStatuses = map[string]courier.Status{
	"order placed":           courier.StatusManifested,
	"manifested":             courier.StatusManifested,
	"pending pickup":         courier.StatusManifested,
	"dispatched":             courier.StatusManifested,
	"first mile":             courier.StatusManifested,
	"not picked":             courier.StatusManifested,
	"open":                   courier.StatusManifested,
	"scheduled":              courier.StatusManifested,
	"picked up":              courier.StatusPickedUp,
	"in transit":             courier.StatusInTransit,
	"pending":                courier.StatusInTransit,
	"reached at destination": courier.StatusInTransit,
	"out for delivery":       courier.StatusOutForDelivery,
	"undelivered":            courier.StatusDeliveryFailed,
	"delivery failed":        courier.StatusDeliveryFailed,
	"not delivered":          courier.StatusDeliveryFailed,
	"delivered":              courier.StatusDelivered,
	"cancelled":              courier.StatusCancelled,
	"canceled":               courier.StatusCancelled,
	"lost":                   courier.StatusLost,
}

var deliveredStatuses = map[string]courier.Status{
	"delivered":     courier.StatusDelivered,
	"rto delivered": courier.StatusRTODelivered,
	"rto":           courier.StatusRTODelivered,
	"returned":      courier.StatusRTODelivered,
}

var returnStatuses = map[string]courier.Status{
	"rto initiated": courier.StatusRTOInitiated,
	"rto":           courier.StatusRTOInitiated,
	"returned":      courier.StatusRTOInitiated,
	"in transit":    courier.StatusRTOInTransit,
	"pending":       courier.StatusRTOInTransit,
	"dispatched":    courier.StatusRTOInTransit,
	"rto delivered": courier.StatusRTODelivered,
	"delivered":     courier.StatusRTODelivered,
}

var cancelledStatuses = map[string]courier.Status{
	"cancelled": courier.StatusCancelled,
	"canceled":  courier.StatusCancelled,
	"closed":    courier.StatusCancelled,
}

var lostStatuses = map[string]courier.Status{
	"lost": courier.StatusLost,
}

// MapStatus maps a Delhivery (Status, StatusType) pair to a canonical
// status. It returns nil for any pair it does not recognize.
func MapStatus(status, statusType string) *courier.Status {
	var table map[string]courier.Status
	switch strings.ToUpper(strings.TrimSpace(statusType)) {
	case "", typeForward, typePickupPending, typePickedUp:
		table = forwardStatuses
	case typeDelivered:
		table = deliveredStatuses
	case typeReturn:
		table = returnStatuses
	case typeCancelled:
		table = cancelledStatuses
	case typeLost:
		table = lostStatuses
	default:
		return nil
	}

	s, ok := table[normalize(status)]
	if !ok {
		return nil
	}
	return s.Ptr()
}

// nslReasons maps Delhivery NSL codes on undelivered scans to NDR reasons.
var nslReasons = map[string]courier.NDRReason{
	"EOD-11":  courier.ReasonCustomerUnavailable,
	"EOD-6":   courier.ReasonRefused,
	"EOD-3":   courier.ReasonFutureDelivery,
	"EOD-74":  courier.ReasonBadAddress,
	"EOD-104": courier.ReasonUnreachable,
	"EOD-43":  courier.ReasonPremisesClosed,
	"EOD-69":  courier.ReasonCODNotReady,
	"EOD-86":  courier.ReasonAddressChange,
	"EOD-40":  courier.ReasonDamaged,
	"EOD-111": courier.ReasonOpenDelivery,
	"EOD-15":  courier.ReasonSecurityRestriction,
	"EOD-146": courier.ReasonWeather,
}

// MapNDRReason maps an NSL code to an NDR reason, falling back to the
// free-text instructions.
func MapNDRReason(nslCode, instructions string) courier.NDRReason {
	if r, ok := nslReasons[strings.ToUpper(strings.TrimSpace(nslCode))]; ok {
		return r
	}
	return courier.ReasonFromRemarks(instructions)
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

const timeLayout = "2006-01-02T15:04:05"

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	timeLayout,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ist is the zone Delhivery timestamps without an offset are reported in.
var ist = time.FixedZone("IST", 5*60*60+30*60)

func parseTime(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, v, ist); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
