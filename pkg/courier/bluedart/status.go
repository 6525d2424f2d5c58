package bluedart

import (
	"strings"
	"time"

	"github.com/tournevent/courier/pkg/courier"
)

// Blue Dart scans carry a two-letter ScanCode and a ScanType naming the leg
// the scan belongs to.
const (
	legForward   = "UD"
	legReturn    = "RT"
	legDelivered = "DL"
)

var forwardCodes = map[string]courier.Status{
	"MF":  courier.StatusManifested,
	"BK":  courier.StatusManifested,
	"PU":  courier.StatusPickedUp,
	"IT":  courier.StatusInTransit,
	"RC":  courier.StatusInTransit,
	"OD":  courier.StatusOutForDelivery,
	"DL":  courier.StatusDelivered,
	"ND":  courier.StatusDeliveryFailed,
	"UD":  courier.StatusDeliveryFailed,
	"RT":  courier.StatusRTOInitiated,
	"RTO": courier.StatusRTOInitiated,
	"RD":  courier.StatusRTODelivered,
	"CN":  courier.StatusCancelled,
	"LO":  courier.StatusLost,
}

// returnCodes applies to scans on the return leg, where movement codes
// describe the parcel travelling back to origin.
var returnCodes = map[string]courier.Status{
	"RT":  courier.StatusRTOInitiated,
	"RTO": courier.StatusRTOInitiated,
	"IT":  courier.StatusRTOInTransit,
	"RC":  courier.StatusRTOInTransit,
	"OD":  courier.StatusRTOInTransit,
	"DL":  courier.StatusRTODelivered,
	"RD":  courier.StatusRTODelivered,
	"CN":  courier.StatusCancelled,
	"LO":  courier.StatusLost,
}

// MapStatus maps a Blue Dart scan code on a given leg to a canonical status.
// It returns nil for any code it does not recognize.
func MapStatus(code, leg string) *courier.Status {
	table := forwardCodes
	switch strings.ToUpper(strings.TrimSpace(leg)) {
	case "", legForward, legDelivered:
	case legReturn:
		table = returnCodes
	default:
		return nil
	}

	s, ok := table[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil
	}
	return s.Ptr()
}

var reasonCodes = map[string]courier.NDRReason{
	"CNA":   courier.ReasonCustomerUnavailable,
	"REF":   courier.ReasonRefused,
	"IAD":   courier.ReasonBadAddress,
	"FDR":   courier.ReasonFutureDelivery,
	"CNR":   courier.ReasonUnreachable,
	"OFC":   courier.ReasonPremisesClosed,
	"CODNR": courier.ReasonCODNotReady,
	"ADC":   courier.ReasonAddressChange,
	"DMG":   courier.ReasonDamaged,
	"ODR":   courier.ReasonOpenDelivery,
	"SEC":   courier.ReasonSecurityRestriction,
	"WTH":   courier.ReasonWeather,
}

// MapNDRReason maps a Blue Dart reason code to an NDR reason, falling back to
// the scan comments.
func MapNDRReason(reasonCode, comments string) courier.NDRReason {
	if r, ok := reasonCodes[strings.ToUpper(strings.TrimSpace(reasonCode))]; ok {
		return r
	}
	return courier.ReasonFromRemarks(comments)
}

// ist is the zone Blue Dart reports scan times in.
var ist = time.FixedZone("IST", 5*60*60+30*60)

var dateLayouts = []string{
	"02-Jan-2006",
	"02 Jan 2006",
	"2006-01-02",
	"02/01/2006",
}

// parseScanTime combines a scan date and an HH:MM (or HHMM) time.
func parseScanTime(date, clock string) (time.Time, bool) {
	date = strings.TrimSpace(date)
	if date == "" {
		return time.Time{}, false
	}
	var day time.Time
	ok := false
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, date, ist); err == nil {
			day, ok = t, true
			break
		}
	}
	if !ok {
		return time.Time{}, false
	}

	clock = strings.ReplaceAll(strings.TrimSpace(clock), ":", "")
	if len(clock) == 4 {
		if t, err := time.ParseInLocation("1504", clock, ist); err == nil {
			day = day.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute)
		}
	}
	return day, true
}
