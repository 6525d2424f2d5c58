// Package estimate holds the rate-estimation helpers shared by courier
// adapters. Results are advisory; none of this reproduces a provider rate card.
package estimate

import (
	"math"
	"strings"
	"time"

	"github.com/tournevent/courier/pkg/courier"
)

// VolumetricDivisor is the cm³ per kg divisor used by Indian surface and air
// couriers.
const VolumetricDivisor = 5000.0

// SlabKg is the weight slab charges are rounded up to.
const SlabKg = 0.5

// Zone is a coarse distance band between two postal codes.
type Zone string

const (
	ZoneLocal    Zone = "local"    // same city (first three digits match)
	ZoneRegional Zone = "regional" // same postal region (first two digits match)
	ZoneNational Zone = "national" // same postal zone (first digit matches)
	ZoneRemote   Zone = "remote"   // anything else
)

// VolumetricWeight returns the dimensional weight in kg.
func VolumetricWeight(d courier.Dimensions) float64 {
	if d.LengthCm <= 0 || d.WidthCm <= 0 || d.HeightCm <= 0 {
		return 0
	}
	return d.LengthCm * d.WidthCm * d.HeightCm / VolumetricDivisor
}

// ChargeableWeight returns max(actual, volumetric) rounded up to the slab.
func ChargeableWeight(actualKg float64, d courier.Dimensions) float64 {
	w := math.Max(actualKg, VolumetricWeight(d))
	if w <= 0 {
		return SlabKg
	}
	return math.Ceil(w/SlabKg) * SlabKg
}

// CODCharge returns the greater of the flat fee and pct of the COD amount.
func CODCharge(amount, flat, pct float64) float64 {
	if amount <= 0 {
		return 0
	}
	return Round2(math.Max(flat, amount*pct/100))
}

// ZoneFor classifies a pair of 6-digit postal codes.
func ZoneFor(origin, destination string) Zone {
	o := strings.TrimSpace(origin)
	d := strings.TrimSpace(destination)
	switch {
	case len(o) < 3 || len(d) < 3:
		return ZoneRemote
	case o[:3] == d[:3]:
		return ZoneLocal
	case o[:2] == d[:2]:
		return ZoneRegional
	case o[:1] == d[:1]:
		return ZoneNational
	default:
		return ZoneRemote
	}
}

// TransitDays estimates transit time for a zone.
func TransitDays(z Zone, express bool) int {
	days := map[Zone]int{
		ZoneLocal:    1,
		ZoneRegional: 2,
		ZoneNational: 4,
		ZoneRemote:   6,
	}[z]
	if express && days > 1 {
		days = (days + 1) / 2
	}
	return days
}

// ExpectedDelivery adds transit days to from, skipping Sundays.
func ExpectedDelivery(from time.Time, transitDays int) time.Time {
	d := from
	for added := 0; added < transitDays; {
		d = d.AddDate(0, 0, 1)
		if d.Weekday() != time.Sunday {
			added++
		}
	}
	return d
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ValidPostalCode reports whether s is a 6-digit postal code.
func ValidPostalCode(s string) bool {
	if len(s) != 6 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s[0] != '0'
}
