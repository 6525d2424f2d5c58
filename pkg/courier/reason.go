package courier

import "strings"

// NDRReason is the enumerated reason a delivery attempt failed.
type NDRReason string

const (
	ReasonCustomerUnavailable NDRReason = "customer_unavailable"
	ReasonRefused             NDRReason = "refused"
	ReasonBadAddress          NDRReason = "bad_address"
	ReasonFutureDelivery      NDRReason = "future_delivery_requested"
	ReasonUnreachable         NDRReason = "unreachable"
	ReasonPremisesClosed      NDRReason = "premises_closed"
	ReasonCODNotReady         NDRReason = "cod_not_ready"
	ReasonAddressChange       NDRReason = "address_change_requested"
	ReasonDamaged             NDRReason = "damaged"
	ReasonOpenDelivery        NDRReason = "open_delivery_requested"
	ReasonSecurityRestriction NDRReason = "security_restriction"
	ReasonWeather             NDRReason = "weather"
	ReasonOther               NDRReason = "other"
)

// AllNDRReasons lists every reason code.
var AllNDRReasons = []NDRReason{
	ReasonCustomerUnavailable,
	ReasonRefused,
	ReasonBadAddress,
	ReasonFutureDelivery,
	ReasonUnreachable,
	ReasonPremisesClosed,
	ReasonCODNotReady,
	ReasonAddressChange,
	ReasonDamaged,
	ReasonOpenDelivery,
	ReasonSecurityRestriction,
	ReasonWeather,
	ReasonOther,
}

// Valid reports whether r is a known reason code.
func (r NDRReason) Valid() bool {
	for _, v := range AllNDRReasons {
		if v == r {
			return true
		}
	}
	return false
}

// OrOther returns r, or ReasonOther when r is empty or unknown.
func (r NDRReason) OrOther() NDRReason {
	if r.Valid() {
		return r
	}
	return ReasonOther
}

// remarkReasons is checked in order; more specific phrases come first.
var remarkReasons = []struct {
	keyword string
	reason  NDRReason
}{
	{"change of address", ReasonAddressChange},
	{"address change", ReasonAddressChange},
	{"change address", ReasonAddressChange},
	{"open delivery", ReasonOpenDelivery},
	{"open box", ReasonOpenDelivery},
	{"future delivery", ReasonFutureDelivery},
	{"reschedule", ReasonFutureDelivery},
	{"delivery later", ReasonFutureDelivery},
	{"cod not ready", ReasonCODNotReady},
	{"cash not ready", ReasonCODNotReady},
	{"payment not ready", ReasonCODNotReady},
	{"not reachable", ReasonUnreachable},
	{"unreachable", ReasonUnreachable},
	{"phone switched off", ReasonUnreachable},
	{"not available", ReasonCustomerUnavailable},
	{"unavailable", ReasonCustomerUnavailable},
	{"refused", ReasonRefused},
	{"rejected", ReasonRefused},
	{"incomplete address", ReasonBadAddress},
	{"wrong address", ReasonBadAddress},
	{"address not found", ReasonBadAddress},
	{"bad address", ReasonBadAddress},
	{"closed", ReasonPremisesClosed},
	{"damaged", ReasonDamaged},
	{"security", ReasonSecurityRestriction},
	{"entry restricted", ReasonSecurityRestriction},
	{"weather", ReasonWeather},
	{"heavy rain", ReasonWeather},
	{"flood", ReasonWeather},
}

// ReasonFromRemarks infers an NDR reason from free-text courier remarks.
func ReasonFromRemarks(remarks string) NDRReason {
	r := strings.ToLower(remarks)
	for _, rr := range remarkReasons {
		if strings.Contains(r, rr.keyword) {
			return rr.reason
		}
	}
	return ReasonOther
}
